package command

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Command
	}{
		{
			name:  "log",
			input: "LOG|S1|2024-01-01T00:00:00|21.5",
			want:  Log{SensorID: "S1", TimestampText: "2024-01-01T00:00:00", ValueText: "21.5"},
		},
		{
			name:  "get",
			input: "GET|S1|2",
			want:  Get{SensorID: "S1", CountText: "2"},
		},
		{
			name:  "empty fields dropped",
			input: "LOG||S1||2024-01-01T00:00:00|21.5|",
			want:  Log{SensorID: "S1", TimestampText: "2024-01-01T00:00:00", ValueText: "21.5"},
		},
		{
			name:  "extra fields ignored",
			input: "GET|S1|2|extra|more",
			want:  Get{SensorID: "S1", CountText: "2"},
		},
		{
			name:  "fields are not trimmed",
			input: "GET| S1 |2",
			want:  Get{SensorID: " S1 ", CountText: "2"},
		},
		{name: "empty", input: "", want: Malformed{Reason: "empty request"}},
		{name: "only delimiters", input: "|||", want: Malformed{Reason: "empty request"}},
		{name: "unknown verb", input: "PUT|S1|1", want: Malformed{Reason: "unknown verb"}},
		{name: "lowercase verb", input: "log|S1|2024-01-01T00:00:00|1", want: Malformed{Reason: "unknown verb"}},
		{name: "log too short", input: "LOG|S1|2024-01-01T00:00:00", want: Malformed{Reason: "LOG needs sensor, timestamp and value"}},
		{name: "get too short", input: "GET|S1", want: Malformed{Reason: "GET needs sensor and count"}},
		{name: "garbage", input: "hello world", want: Malformed{Reason: "unknown verb"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%q) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSplit(t *testing.T) {
	got := Split("|a||b|")
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Split = %q", got)
	}
	if got := Split(""); len(got) != 0 {
		t.Errorf("Split(\"\") = %q", got)
	}
}

func TestName(t *testing.T) {
	if Name(Log{}) != "log" || Name(Get{}) != "get" || Name(Malformed{}) != "malformed" {
		t.Error("unexpected command names")
	}
}

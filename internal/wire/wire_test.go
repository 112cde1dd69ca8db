package wire

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/record"
)

func TestReadFrame(t *testing.T) {
	r := NewReader(strings.NewReader("GET|S1|1\r\nLOG|a\nb\r\n\r\n"), 0)

	want := []string{"GET|S1|1", "LOG|a\nb", ""}
	for i, w := range want {
		got, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if got != w {
			t.Errorf("frame %d = %q, want %q", i, got, w)
		}
	}

	if _, err := r.ReadFrame(); err != io.EOF {
		t.Errorf("expected io.EOF at end, got %v", err)
	}
}

func TestReadFrame_PartialAtEOF(t *testing.T) {
	r := NewReader(strings.NewReader("GET|S1|1\r\nGET|S1"), 0)

	if _, err := r.ReadFrame(); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if _, err := r.ReadFrame(); err != io.ErrUnexpectedEOF {
		t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestReadFrame_TooLarge(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"terminated", strings.Repeat("x", 17) + "\r\n"},
		{"unterminated", strings.Repeat("x", 64)},
		{"larger than bufio buffer", strings.Repeat("x", 10000) + "\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit := 16
			if len(tt.input) > 1000 {
				limit = 8192
			}
			r := NewReader(strings.NewReader(tt.input), limit)
			if _, err := r.ReadFrame(); !errors.Is(err, errors.ErrFrameTooLarge) {
				t.Errorf("expected ErrFrameTooLarge, got %v", err)
			}
		})
	}
}

func TestReadFrame_AtLimit(t *testing.T) {
	body := strings.Repeat("x", 16)
	r := NewReader(strings.NewReader(body+"\r\n"), 16)

	got, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != body {
		t.Errorf("got %d bytes, want %d", len(got), len(body))
	}
}

func TestReadFrame_LargeWithinLimit(t *testing.T) {
	body := strings.Repeat("y", 6000)
	r := NewReader(strings.NewReader(body+"\r\n"), 8192)

	got, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != body {
		t.Errorf("got %d bytes, want %d", len(got), len(body))
	}
}

type countingWriter struct {
	bytes.Buffer
	writes int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes++
	return w.Buffer.Write(p)
}

func TestWriteFrame(t *testing.T) {
	var w countingWriter
	fw := NewWriter(&w)

	if err := fw.WriteFrame("ERROR|MALFORMED_REQUEST"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := fw.WriteFrame(""); err != nil {
		t.Fatalf("write: %v", err)
	}

	if got := w.String(); got != "ERROR|MALFORMED_REQUEST\r\n\r\n" {
		t.Errorf("written = %q", got)
	}
	if w.writes != 2 {
		t.Errorf("writes = %d, want one per frame", w.writes)
	}
}

func TestFormatGet(t *testing.T) {
	f := Format{Location: time.UTC, Precision: 6}
	id := record.MustSensorID("S1")

	records := []record.Record{
		{SensorID: id, Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix(), Value: 21.5},
		{SensorID: id, Timestamp: time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC).Unix(), Value: -3},
	}

	want := "2;2024-01-01T00:00:00|21.500000;2024-01-01T00:01:00|-3.000000"
	if got := f.FormatGet(records); got != want {
		t.Errorf("FormatGet = %q, want %q", got, want)
	}

	if got := f.FormatGet(nil); got != "0" {
		t.Errorf("FormatGet(nil) = %q, want 0", got)
	}

	f.Precision = -1
	if got := f.FormatValue(21.5); got != "21.5" {
		t.Errorf("shortest FormatValue = %q", got)
	}
}

func TestFormatGet_Location(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	f := Format{Location: loc, Precision: 6}

	ts, err := f.ParseTimestamp("2024-06-01T12:00:00")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if want := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC).Unix(); ts != want {
		t.Errorf("ParseTimestamp = %d, want %d", ts, want)
	}
	if got := f.FormatTimestamp(ts); got != "2024-06-01T12:00:00" {
		t.Errorf("FormatTimestamp = %q", got)
	}
}

func TestParseGet(t *testing.T) {
	f := Format{Location: time.UTC, Precision: 6}

	readings, err := f.ParseGet("2;2024-01-01T00:00:00|21.500000;2024-01-01T00:01:00|-3.000000")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(readings) != 2 || readings[0].Value != 21.5 || readings[1].Value != -3 {
		t.Errorf("readings = %+v", readings)
	}

	if readings, err := f.ParseGet("0"); err != nil || len(readings) != 0 {
		t.Errorf("ParseGet(0) = %v, %v", readings, err)
	}

	for _, bad := range []string{"", "x", "2;2024-01-01T00:00:00|1", "1;nope", "1;2024-01-01T00:00:00|abc"} {
		if _, err := f.ParseGet(bad); err == nil {
			t.Errorf("ParseGet(%q) should fail", bad)
		}
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		input   string
		want    float64
		wantErr bool
	}{
		{"21.5", 21.5, false},
		{"-3", -3, false},
		{"1e-7", 1e-7, false},
		{"0", 0, false},
		{"abc", 0, true},
		{"", 0, true},
		{"NaN", 0, true},
		{"inf", 0, true},
		{"-Inf", 0, true},
		{"1.5x", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseValue(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseValue(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, errors.ErrInvalidValue) {
			t.Errorf("ParseValue(%q) error not ErrInvalidValue: %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("ParseValue(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		input   string
		max     int
		want    int
		wantErr error
	}{
		{"0", 10, 0, nil},
		{"10", 10, 10, nil},
		{"11", 10, 0, errors.ErrCountOverLimit},
		{"99999999999999999999", 10, 0, errors.ErrCountOverLimit},
		{"-1", 10, 0, errors.ErrInvalidCount},
		{"-99999999999999999999", 10, 0, errors.ErrInvalidCount},
		{"abc", 10, 0, errors.ErrInvalidCount},
		{"", 10, 0, errors.ErrInvalidCount},
		{"1000000", 0, 1000000, nil},
	}

	for _, tt := range tests {
		got, err := ParseCount(tt.input, tt.max)
		if tt.wantErr == nil && err != nil {
			t.Errorf("ParseCount(%q, %d) error = %v", tt.input, tt.max, err)
		}
		if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
			t.Errorf("ParseCount(%q, %d) error = %v, want %v", tt.input, tt.max, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseCount(%q, %d) = %d, want %d", tt.input, tt.max, got, tt.want)
		}
	}
}

func TestParseTimestamp_Invalid(t *testing.T) {
	f := Format{Location: time.UTC}
	for _, bad := range []string{"", "2024-01-01", "2024-01-01 00:00:00", "2024-13-01T00:00:00", "yesterday"} {
		if _, err := f.ParseTimestamp(bad); !errors.Is(err, errors.ErrInvalidTimestamp) {
			t.Errorf("ParseTimestamp(%q) = %v, want ErrInvalidTimestamp", bad, err)
		}
	}
}

func TestErrorFor(t *testing.T) {
	if !IsError(errors.ReplyInvalidSensorID) || IsError("1;x|y") || IsError("") {
		t.Error("IsError misclassifies replies")
	}
	if !errors.Is(ErrorFor(errors.ReplyStorageUnavailable), errors.ErrStorageUnavailable) {
		t.Error("storage marker should map to ErrStorageUnavailable")
	}
	if !errors.Is(ErrorFor("ERROR|WHAT"), errors.ErrInternal) {
		t.Error("unknown marker should map to ErrInternal")
	}
}

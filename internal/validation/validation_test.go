package validation

import (
	"strings"
	"testing"
)

func TestValidateSensorID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "S1", false},
		{"with hyphen", "temp-01", false},
		{"with underscore", "boiler_room", false},
		{"with dot", "site.a.temp", false},
		{"with colon", "rack:3", false},
		{"max length", strings.Repeat("a", 31), false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 32), true},
		{"dot", ".", true},
		{"dotdot", "..", true},
		{"hidden", ".hidden", true},
		{"slash", "a/b", true},
		{"backslash", "a\\b", true},
		{"delimiter", "a|b", true},
		{"nul", "a\x00b", true},
		{"control char", "a\tb", true},
		{"space", "a b", true},
		{"invalid utf8", "a\xffb", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSensorID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSensorID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateName_LengthIsBytes(t *testing.T) {
	// 16 two-byte runes: 16 characters but 32 bytes.
	id := strings.Repeat("é", 16)
	if err := ValidateSensorID(id); err == nil {
		t.Errorf("ValidateSensorID(%q) should fail on byte length", id)
	}
}

func TestEscapeLikePattern(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"abc", "abc"},
		{"a_b", "a\\_b"},
		{"100%", "100\\%"},
		{"[x]", "\\[x\\]"},
		{"a\\b", "a\\\\b"},
	}

	for _, tt := range tests {
		if got := EscapeLikePattern(tt.input); got != tt.want {
			t.Errorf("EscapeLikePattern(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}

	if got := SafeLikePrefix("temp_"); got != "temp\\_%" {
		t.Errorf("SafeLikePrefix = %q", got)
	}
}

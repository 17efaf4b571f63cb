package chat

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateContent(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"simple", "hello", "hello", false},
		{"trims whitespace", "  hello  ", "hello", false},
		{"empty", "", "", true},
		{"whitespace only", "   \t\n ", "", true},
		{"exactly max", strings.Repeat("a", MaxContentChars), strings.Repeat("a", MaxContentChars), false},
		{"over max", strings.Repeat("a", MaxContentChars+1), "", true},
		{"multibyte counted as runes", strings.Repeat("é", MaxContentChars), strings.Repeat("é", MaxContentChars), false},
		{"multibyte over max", strings.Repeat("é", MaxContentChars+1), "", true},
		{"invalid utf8", "hello\xff", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateContent(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidContent) {
					t.Fatalf("ValidateContent(%q) error = %v, want ErrInvalidContent", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateContent(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ValidateContent(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateContent_MaxMeasuredAfterTrim(t *testing.T) {
	// Padding pushes the raw length over the bound but the trimmed content
	// is exactly at it.
	input := "  " + strings.Repeat("a", MaxContentChars) + "  "
	got, err := ValidateContent(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != MaxContentChars {
		t.Errorf("trimmed length = %d, want %d", len(got), MaxContentChars)
	}
}

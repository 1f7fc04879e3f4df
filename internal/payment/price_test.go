package payment

import (
	"errors"
	"testing"
)

func TestPriceValidator(t *testing.T) {
	tests := []struct {
		name      string
		whitelist []string
		candidate string
		wantErr   error
	}{
		{"open accepts well-formed", nil, "price_1AbC", nil},
		{"open rejects malformed", nil, "prod_1AbC", ErrMalformedPrice},
		{"open rejects punctuation", nil, "price_1-2", ErrMalformedPrice},
		{"open rejects empty suffix", nil, "price_", ErrMalformedPrice},
		{"whitelisted", []string{"price_a", " price_b "}, "price_b", nil},
		{"not whitelisted", []string{"price_a"}, "price_c", ErrPriceNotAllowed},
		{"blank entries ignored", []string{"", "  "}, "price_x", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewPriceValidator(tt.whitelist).Validate(tt.candidate)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate(%q) = %v, want %v", tt.candidate, err, tt.wantErr)
			}
			if got := PriceAllowed(tt.candidate, tt.whitelist); got != (tt.wantErr == nil) {
				t.Errorf("PriceAllowed(%q) = %v", tt.candidate, got)
			}
		})
	}
}

func TestPriceValidator_Open(t *testing.T) {
	if !NewPriceValidator(nil).Open() {
		t.Error("Open() = false for empty whitelist")
	}
	if NewPriceValidator([]string{"price_a"}).Open() {
		t.Error("Open() = true for non-empty whitelist")
	}
}

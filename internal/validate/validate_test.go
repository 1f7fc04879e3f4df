package validate

import (
	"errors"
	"strings"
	"testing"
)

func TestURL(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		constraints URLConstraints
		wantErr     error
	}{
		{
			name:        "valid HTTPS URL",
			input:       "https://example.com/path",
			constraints: URLConstraints{AllowedSchemes: []string{"https"}},
		},
		{
			name:        "empty URL",
			input:       "   ",
			constraints: URLConstraints{AllowedSchemes: []string{"https"}},
			wantErr:     ErrEmpty,
		},
		{
			name:        "scheme not allowed",
			input:       "http://example.com",
			constraints: URLConstraints{AllowedSchemes: []string{"https"}},
			wantErr:     ErrDisallowedScheme,
		},
		{
			name:        "missing hostname",
			input:       "https:///path",
			constraints: URLConstraints{AllowedSchemes: []string{"https"}},
			wantErr:     ErrInvalidURL,
		},
		{
			name:        "too long",
			input:       "https://example.com/" + strings.Repeat("a", 100),
			constraints: URLConstraints{MaxLength: 50},
			wantErr:     ErrStringTooLong,
		},
		{
			name:        "subdomain in allowlist",
			input:       "https://shop.vattentrygg.se/tack",
			constraints: URLConstraints{AllowedDomains: []string{"vattentrygg.se"}},
		},
		{
			name:        "domain not in allowlist",
			input:       "https://evil.example/tack",
			constraints: URLConstraints{AllowedDomains: []string{"vattentrygg.se"}},
			wantErr:     ErrDisallowedDomain,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := URL(tt.input, tt.constraints)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRedirectURL(t *testing.T) {
	if _, err := RedirectURL("https://vattentrygg.se/tack"); err != nil {
		t.Errorf("expected https redirect to pass, got %v", err)
	}
	if _, err := RedirectURL("http://vattentrygg.se/tack"); !errors.Is(err, ErrDisallowedScheme) {
		t.Errorf("expected ErrDisallowedScheme for http redirect, got %v", err)
	}
	if _, err := RedirectURL("/tack"); err == nil {
		t.Error("expected relative redirect to fail")
	}
}

func TestOrigin(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "https://vattentrygg.se", want: "https://vattentrygg.se"},
		{input: "https://vattentrygg.se/", want: "https://vattentrygg.se"},
		{input: "http://localhost:5500", want: "http://localhost:5500"},
		{input: "https://vattentrygg.se/path", wantErr: true},
		{input: "ftp://vattentrygg.se", wantErr: true},
		{input: "*", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Origin(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestString(t *testing.T) {
	if got, err := String("  hej  ", StringConstraints{TrimSpace: true, MaxLength: 5}); err != nil || got != "hej" {
		t.Errorf("got %q, %v", got, err)
	}
	if _, err := String("", StringConstraints{}); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
	if _, err := String("", StringConstraints{AllowEmpty: true}); err != nil {
		t.Errorf("expected empty to be allowed, got %v", err)
	}
	if _, err := String("ab", StringConstraints{MinLength: 3}); !errors.Is(err, ErrStringTooShort) {
		t.Errorf("expected ErrStringTooShort, got %v", err)
	}
	// Length counts runes, not bytes.
	if _, err := String("åäö", StringConstraints{MaxLength: 3}); err != nil {
		t.Errorf("expected 3 runes to fit, got %v", err)
	}
}

func TestEmail(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "valid", input: "kund@example.se", want: "kund@example.se"},
		{name: "plus tag", input: "kund+order@example.se", want: "kund+order@example.se"},
		{name: "normalized", input: "  Kund@Example.SE ", want: "kund@example.se"},
		{name: "empty", input: "", wantErr: true},
		{name: "missing at", input: "kundexample.se", wantErr: true},
		{name: "missing tld", input: "kund@example", wantErr: true},
		{name: "local part too long", input: strings.Repeat("a", 65) + "@example.se", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Email(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Email(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Email(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCurrency(t *testing.T) {
	if got, err := Currency("SEK"); err != nil || got != "sek" {
		t.Errorf("Currency(SEK) = %q, %v", got, err)
	}
	for _, bad := range []string{"", "kr", "sekk", "s3k"} {
		if _, err := Currency(bad); !errors.Is(err, ErrInvalidCurrency) {
			t.Errorf("Currency(%q): expected ErrInvalidCurrency, got %v", bad, err)
		}
	}
}

func TestMetadata(t *testing.T) {
	if _, err := MetadataKey("order_ref"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := MetadataKey(strings.Repeat("k", MaxMetadataKeyLength+1)); !errors.Is(err, ErrStringTooLong) {
		t.Errorf("expected ErrStringTooLong, got %v", err)
	}
	if _, err := MetadataKey("items[0]"); !errors.Is(err, ErrInvalidCharacters) {
		t.Errorf("expected ErrInvalidCharacters, got %v", err)
	}
	if _, err := MetadataValue(""); err != nil {
		t.Errorf("expected empty value to pass, got %v", err)
	}
	if _, err := MetadataValue(strings.Repeat("v", MaxMetadataValueLength+1)); !errors.Is(err, ErrStringTooLong) {
		t.Errorf("expected ErrStringTooLong, got %v", err)
	}
}

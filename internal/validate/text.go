// Package validate provides input validation for the payments API: URLs,
// email addresses, currency codes and checkout metadata.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// String validation errors
var (
	ErrStringTooShort    = errors.New("string is too short")
	ErrStringTooLong     = errors.New("string is too long")
	ErrInvalidCharacters = errors.New("string contains invalid characters")
	ErrEmpty             = errors.New("string is empty")
	ErrInvalidEmail      = errors.New("invalid email format")
	ErrInvalidCurrency   = errors.New("invalid currency code")
)

// Metadata limits enforced by Stripe.
const (
	MaxMetadataKeys        = 50
	MaxMetadataKeyLength   = 40
	MaxMetadataValueLength = 500
)

var (
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	currencyPattern = regexp.MustCompile(`^[a-z]{3}$`)
	// Stripe rejects square brackets in metadata keys.
	metadataKeyPattern = regexp.MustCompile(`^[^\[\]]+$`)
)

// StringConstraints defines validation constraints for a string.
type StringConstraints struct {
	MinLength      int            // Minimum length in runes (0 = no minimum)
	MaxLength      int            // Maximum length in runes (0 = no maximum)
	AllowedPattern *regexp.Regexp // Optional regex the whole string must match
	AllowEmpty     bool
	TrimSpace      bool
}

// String validates a string against the given constraints.
// Returns the validated (and optionally trimmed) string and an error if validation fails.
func String(s string, constraints StringConstraints) (string, error) {
	if constraints.TrimSpace {
		s = strings.TrimSpace(s)
	}

	if s == "" {
		if !constraints.AllowEmpty {
			return "", ErrEmpty
		}
		return s, nil
	}

	length := utf8.RuneCountInString(s)
	if constraints.MinLength > 0 && length < constraints.MinLength {
		return "", fmt.Errorf("%w: got %d chars, need at least %d", ErrStringTooShort, length, constraints.MinLength)
	}
	if constraints.MaxLength > 0 && length > constraints.MaxLength {
		return "", fmt.Errorf("%w: got %d chars, maximum is %d", ErrStringTooLong, length, constraints.MaxLength)
	}
	if constraints.AllowedPattern != nil && !constraints.AllowedPattern.MatchString(s) {
		return "", fmt.Errorf("%w: does not match required pattern", ErrInvalidCharacters)
	}
	return s, nil
}

// Email validates an email address format.
// Returns the normalized (lowercased, trimmed) email and an error if invalid.
func Email(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrEmpty
	}
	// RFC 5321 limits
	if len(email) > 254 {
		return "", ErrStringTooLong
	}
	if !emailPattern.MatchString(email) {
		return "", ErrInvalidEmail
	}
	local, domain, _ := strings.Cut(email, "@")
	if len(local) > 64 || len(domain) > 255 {
		return "", ErrStringTooLong
	}
	return email, nil
}

// Currency validates an ISO 4217 code and returns it lowercased, the form
// Stripe expects.
func Currency(code string) (string, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if !currencyPattern.MatchString(code) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return code, nil
}

// MetadataKey validates a metadata key.
func MetadataKey(key string) (string, error) {
	return String(key, StringConstraints{
		MinLength:      1,
		MaxLength:      MaxMetadataKeyLength,
		AllowedPattern: metadataKeyPattern,
	})
}

// MetadataValue validates a metadata value. Empty values are allowed.
func MetadataValue(value string) (string, error) {
	return String(value, StringConstraints{
		MaxLength:  MaxMetadataValueLength,
		AllowEmpty: true,
	})
}

// ProductName validates the product name of an inline price.
func ProductName(name string) (string, error) {
	return String(name, StringConstraints{
		MinLength: 1,
		MaxLength: 250,
		TrimSpace: true,
	})
}

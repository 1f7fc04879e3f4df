package payment

import (
	"errors"
	"regexp"
	"strings"
)

// priceIDPattern is the Stripe price identifier grammar.
var priceIDPattern = regexp.MustCompile(`^price_[A-Za-z0-9]+$`)

var (
	// ErrMalformedPrice is returned for a price reference that is not a price ID.
	ErrMalformedPrice = errors.New("malformed price id")
	// ErrPriceNotAllowed is returned for a well-formed price outside the whitelist.
	ErrPriceNotAllowed = errors.New("price id not allowed")
)

// IsPriceID reports whether s matches the price identifier grammar.
func IsPriceID(s string) bool {
	return priceIDPattern.MatchString(s)
}

// PriceAllowed reports whether candidate is a well-formed price ID and is
// either on the whitelist or the whitelist is empty.
func PriceAllowed(candidate string, whitelist []string) bool {
	return NewPriceValidator(whitelist).Validate(candidate) == nil
}

// PriceValidator checks price references against a fixed whitelist. An empty
// whitelist accepts any well-formed price ID.
type PriceValidator struct {
	allowed map[string]struct{}
}

// NewPriceValidator builds a validator. Blank entries are ignored.
func NewPriceValidator(whitelist []string) *PriceValidator {
	v := &PriceValidator{allowed: make(map[string]struct{}, len(whitelist))}
	for _, id := range whitelist {
		if id = strings.TrimSpace(id); id != "" {
			v.allowed[id] = struct{}{}
		}
	}
	return v
}

// Validate returns ErrMalformedPrice or ErrPriceNotAllowed, or nil.
func (v *PriceValidator) Validate(candidate string) error {
	if !IsPriceID(candidate) {
		return ErrMalformedPrice
	}
	if len(v.allowed) == 0 {
		return nil
	}
	if _, ok := v.allowed[candidate]; !ok {
		return ErrPriceNotAllowed
	}
	return nil
}

// Open reports whether the validator runs without a whitelist.
func (v *PriceValidator) Open() bool {
	return len(v.allowed) == 0
}

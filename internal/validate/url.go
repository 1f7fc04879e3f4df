package validate

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// URL validation errors
var (
	ErrInvalidURL       = errors.New("invalid URL format")
	ErrDisallowedScheme = errors.New("URL scheme not allowed")
	ErrDisallowedDomain = errors.New("URL domain not allowed")
)

// URLConstraints defines validation constraints for URLs.
type URLConstraints struct {
	AllowedSchemes []string // e.g., []string{"https", "http"}
	AllowedDomains []string // If non-empty, only these domains are allowed
	MaxLength      int      // Maximum URL length (0 = no limit)
}

// RedirectURLConstraints accepts absolute HTTPS URLs only. Checkout redirect
// targets are opened by the customer's browser, never fetched by us.
var RedirectURLConstraints = URLConstraints{
	AllowedSchemes: []string{"https"},
	MaxLength:      2048,
}

// OriginConstraints accepts browser origins for the CORS allowlist.
var OriginConstraints = URLConstraints{
	AllowedSchemes: []string{"https", "http"},
	MaxLength:      255,
}

// URL validates a URL against the given constraints.
// Returns the validated URL string and an error if validation fails.
func URL(urlStr string, constraints URLConstraints) (string, error) {
	urlStr = strings.TrimSpace(urlStr)
	if urlStr == "" {
		return "", ErrEmpty
	}

	if constraints.MaxLength > 0 && len(urlStr) > constraints.MaxLength {
		return "", fmt.Errorf("%w: URL exceeds %d characters", ErrStringTooLong, constraints.MaxLength)
	}

	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if len(constraints.AllowedSchemes) > 0 {
		schemeAllowed := false
		for _, scheme := range constraints.AllowedSchemes {
			if parsedURL.Scheme == scheme {
				schemeAllowed = true
				break
			}
		}
		if !schemeAllowed {
			return "", fmt.Errorf("%w: got %q, allowed: %v", ErrDisallowedScheme, parsedURL.Scheme, constraints.AllowedSchemes)
		}
	}

	hostname := parsedURL.Hostname()
	if hostname == "" {
		return "", fmt.Errorf("%w: missing hostname", ErrInvalidURL)
	}

	if len(constraints.AllowedDomains) > 0 {
		domainAllowed := false
		for _, domain := range constraints.AllowedDomains {
			// Exact match or subdomain
			if hostname == domain || strings.HasSuffix(hostname, "."+domain) {
				domainAllowed = true
				break
			}
		}
		if !domainAllowed {
			return "", fmt.Errorf("%w: %q not in allowlist", ErrDisallowedDomain, hostname)
		}
	}

	return urlStr, nil
}

// RedirectURL validates a checkout success or cancel URL.
func RedirectURL(urlStr string) (string, error) {
	return URL(urlStr, RedirectURLConstraints)
}

// Origin validates a CORS origin: scheme and host, no path.
func Origin(origin string) (string, error) {
	v, err := URL(origin, OriginConstraints)
	if err != nil {
		return "", err
	}
	u, _ := url.Parse(v)
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("%w: origin must not carry a path or query", ErrInvalidURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

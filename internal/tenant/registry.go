// Package tenant maps tenant identifiers to gateway credentials.
package tenant

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/stripe/stripe-go/v81/client"
)

// ErrUnknownTenant is returned for a tenant with no configured credential.
var ErrUnknownTenant = errors.New("unknown tenant")

// CredentialProvider yields the gateway secret key for one tenant.
type CredentialProvider interface {
	SecretKey() string
}

// StaticKey is a CredentialProvider holding a fixed key.
type StaticKey string

// SecretKey returns the key.
func (k StaticKey) SecretKey() string { return string(k) }

// Registry resolves tenants to credential providers and caches one gateway
// client per tenant. It is populated once at startup.
type Registry struct {
	defaultTenant string
	providers     map[string]CredentialProvider

	mu      sync.Mutex
	clients map[string]*client.API
}

// NewRegistry creates a registry. An empty tenant resolves to defaultTenant.
func NewRegistry(defaultTenant string, providers map[string]CredentialProvider) *Registry {
	p := make(map[string]CredentialProvider, len(providers))
	for id, cp := range providers {
		if cp != nil && cp.SecretKey() != "" {
			p[Normalize(id)] = cp
		}
	}
	return &Registry{
		defaultTenant: Normalize(defaultTenant),
		providers:     p,
		clients:       make(map[string]*client.API),
	}
}

// FromKeys builds a registry from a tenant → secret key map.
func FromKeys(defaultTenant string, keys map[string]string) *Registry {
	providers := make(map[string]CredentialProvider, len(keys))
	for id, key := range keys {
		providers[id] = StaticKey(key)
	}
	return NewRegistry(defaultTenant, providers)
}

// Resolve returns the canonical tenant ID and its credential provider.
func (r *Registry) Resolve(tenant string) (string, CredentialProvider, error) {
	id := Normalize(tenant)
	if id == "" {
		id = r.defaultTenant
	}
	cp, ok := r.providers[id]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownTenant, tenant)
	}
	return id, cp, nil
}

// Client returns the cached gateway client for a tenant.
func (r *Registry) Client(tenant string) (string, *client.API, error) {
	id, cp, err := r.Resolve(tenant)
	if err != nil {
		return "", nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if api, ok := r.clients[id]; ok {
		return id, api, nil
	}
	api := client.New(cp.SecretKey(), nil)
	r.clients[id] = api
	return id, api, nil
}

// DefaultTenant returns the tenant used when none is given.
func (r *Registry) DefaultTenant() string { return r.defaultTenant }

// Tenants returns the configured tenant IDs in sorted order.
func (r *Registry) Tenants() []string {
	out := make([]string, 0, len(r.providers))
	for id := range r.providers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ParseKeys parses "tenant=key,other=key" into a map. Blank entries are
// skipped; malformed entries are an error.
func ParseKeys(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, key, ok := strings.Cut(part, "=")
		id, key = Normalize(id), strings.TrimSpace(key)
		if !ok || id == "" || key == "" {
			return nil, fmt.Errorf("malformed tenant key entry %q", part)
		}
		out[id] = key
	}
	return out, nil
}

// Normalize returns the canonical form of a tenant ID.
func Normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Package keys fetches and memoizes the identity provider's public signing
// keys. The cache is filled once per process lifetime and never refreshed;
// provider key rotation requires a restart.
package keys

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	authmetrics "fabricobo/internal/auth/metrics"
	dErrors "fabricobo/pkg/domain-errors"
)

// SigningKeySet is the provider's current public key material, keyed by key
// identifier. Read-only after construction.
type SigningKeySet struct {
	keys map[string]*rsa.PublicKey
}

// Key looks up a public key by its key identifier.
func (s *SigningKeySet) Key(kid string) (*rsa.PublicKey, bool) {
	k, ok := s.keys[kid]
	return k, ok
}

// Len returns the number of keys in the set.
func (s *SigningKeySet) Len() int {
	return len(s.keys)
}

// Cache resolves the provider's signing keys through OpenID discovery and
// serves the cached result on every subsequent call. Concurrent cold calls
// collapse into a single upstream fetch via singleflight; failures are
// propagated and never cached.
type Cache struct {
	discoveryURL string
	httpClient   *http.Client
	logger       *slog.Logger
	metrics      *authmetrics.Metrics

	mu    sync.RWMutex
	cache *SigningKeySet
	group singleflight.Group
}

// Option configures the Cache.
type Option func(*Cache)

// WithHTTPClient overrides the HTTP client used for discovery and key fetch.
func WithHTTPClient(c *http.Client) Option {
	return func(k *Cache) {
		k.httpClient = c
	}
}

// WithMetrics attaches auth metrics collectors.
func WithMetrics(m *authmetrics.Metrics) Option {
	return func(k *Cache) {
		k.metrics = m
	}
}

// New creates a signing-key cache for the given tenant authority.
func New(instance, tenantID string, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		discoveryURL: fmt.Sprintf("%s%s/v2.0/.well-known/openid-configuration", instance, tenantID),
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		logger:       logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewWithDiscoveryURL creates a cache against an explicit discovery document
// URL. Used by tests and non-standard authority layouts.
func NewWithDiscoveryURL(discoveryURL string, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		discoveryURL: discoveryURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		logger:       logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the signing key set, fetching it from the identity provider on
// first use. Fails with upstream_unavailable if discovery or the key fetch
// fails; the failure is not retried here and the next call fetches again.
func (c *Cache) Get(ctx context.Context) (*SigningKeySet, error) {
	c.mu.RLock()
	cached := c.cache
	c.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	v, err, _ := c.group.Do("signing-keys", func() (any, error) {
		// Re-check under the flight: a prior flight may have filled the cache.
		c.mu.RLock()
		filled := c.cache
		c.mu.RUnlock()
		if filled != nil {
			return filled, nil
		}

		set, err := c.fetch(ctx)
		if err != nil {
			if c.metrics != nil {
				c.metrics.IncrementKeyFetchFailures()
			}
			return nil, err
		}

		c.mu.Lock()
		c.cache = set
		c.mu.Unlock()

		if c.metrics != nil {
			c.metrics.IncrementKeyFetches()
		}
		c.logger.Info("signing key set cached", "keys", set.Len())
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*SigningKeySet), nil
}

type discoveryDocument struct {
	JWKSURI string `json:"jwks_uri"`
}

type jwksDocument struct {
	Keys []jsonWebKey `json:"keys"`
}

type jsonWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (c *Cache) fetch(ctx context.Context) (*SigningKeySet, error) {
	var discovery discoveryDocument
	if err := c.getJSON(ctx, c.discoveryURL, &discovery); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUpstreamUnavailable, "openid discovery failed")
	}
	if discovery.JWKSURI == "" {
		return nil, dErrors.New(dErrors.CodeUpstreamUnavailable, "discovery document has no jwks_uri")
	}

	var jwks jwksDocument
	if err := c.getJSON(ctx, discovery.JWKSURI, &jwks); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUpstreamUnavailable, "signing key fetch failed")
	}

	set := &SigningKeySet{keys: make(map[string]*rsa.PublicKey, len(jwks.Keys))}
	for _, jwk := range jwks.Keys {
		if !strings.EqualFold(jwk.Kty, "RSA") || jwk.Kid == "" {
			continue
		}
		pub, err := rsaPublicKey(jwk)
		if err != nil {
			c.logger.Warn("skipping unparsable signing key", "kid", jwk.Kid, "error", err)
			continue
		}
		set.keys[jwk.Kid] = pub
	}
	if set.Len() == 0 {
		return nil, dErrors.New(dErrors.CodeUpstreamUnavailable, "signing key set is empty")
	}
	return set, nil
}

func (c *Cache) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// rsaPublicKey materializes an RSA public key from RFC 7517 modulus and
// exponent fields.
func rsaPublicKey(jwk jsonWebKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e == 0 {
		return nil, fmt.Errorf("zero exponent")
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}

// Package obo exchanges a caller's bearer credential for a downstream-scoped
// access token using the OAuth 2.0 On-Behalf-Of flow.
package obo

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	authmetrics "fabricobo/internal/auth/metrics"
	dErrors "fabricobo/pkg/domain-errors"
)

const (
	grantTypeJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	tokenUsePath       = "/oauth2/v2.0/token"

	// DefaultScope targets the downstream AI agent API.
	DefaultScope = "https://ai.azure.com/.default"
)

// Exchanger performs On-Behalf-Of exchanges for one confidential client
// application against one authority. Safe for concurrent use.
type Exchanger struct {
	tokenURL     string
	clientID     string
	clientSecret string
	scope        string
	httpClient   *http.Client
	logger       *slog.Logger
	metrics      *authmetrics.Metrics
}

// Option configures the Exchanger.
type Option func(*Exchanger)

// WithHTTPClient overrides the HTTP client used for the token endpoint.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Exchanger) {
		e.httpClient = c
	}
}

// WithMetrics attaches auth metrics collectors.
func WithMetrics(m *authmetrics.Metrics) Option {
	return func(e *Exchanger) {
		e.metrics = m
	}
}

// WithTokenURL overrides the token endpoint URL. Used by tests.
func WithTokenURL(tokenURL string) Option {
	return func(e *Exchanger) {
		e.tokenURL = tokenURL
	}
}

// New creates an Exchanger for the given authority and confidential client.
func New(authority, clientID, clientSecret, scope string, logger *slog.Logger, opts ...Option) *Exchanger {
	if scope == "" {
		scope = DefaultScope
	}
	e := &Exchanger{
		tokenURL:     strings.TrimRight(authority, "/") + tokenUsePath,
		clientID:     clientID,
		clientSecret: clientSecret,
		scope:        scope,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		logger:       logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var (
	appsMu sync.Mutex
	apps   = map[string]*Exchanger{}
)

// ForApp returns the process-wide Exchanger for the given client application,
// constructing it on first use. Reusing one Exchanger per application keeps a
// single warm HTTP connection pool across both request channels.
func ForApp(authority, clientID, clientSecret, scope string, logger *slog.Logger, opts ...Option) *Exchanger {
	key := authority + "|" + clientID + "|" + scope
	appsMu.Lock()
	defer appsMu.Unlock()
	if e, ok := apps[key]; ok {
		return e
	}
	e := New(authority, clientID, clientSecret, scope, logger, opts...)
	apps[key] = e
	return e
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Exchange trades the caller's assertion for a downstream access token.
//
// Provider outcomes map onto the domain taxonomy: an interaction_required
// response means the user has not consented to the downstream scope and
// becomes consent_required; every other provider rejection is
// exchange_failed. Transport failures are upstream_unavailable. No retries.
func (e *Exchanger) Exchange(ctx context.Context, userAssertion string) (string, error) {
	if userAssertion == "" {
		return "", dErrors.New(dErrors.CodeExchangeFailed, "empty user assertion")
	}

	form := url.Values{
		"grant_type":          {grantTypeJWTBearer},
		"client_id":           {e.clientID},
		"client_secret":       {e.clientSecret},
		"assertion":           {userAssertion},
		"scope":               {e.scope},
		"requested_token_use": {"on_behalf_of"},
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.observe("unavailable", start)
		return "", dErrors.Wrap(err, dErrors.CodeUpstreamUnavailable, "token endpoint unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		e.observe("unavailable", start)
		return "", dErrors.Wrap(err, dErrors.CodeUpstreamUnavailable, "token endpoint read failed")
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		e.observe("failure", start)
		return "", dErrors.New(dErrors.CodeExchangeFailed, "unparsable token endpoint response")
	}

	if tr.AccessToken != "" {
		e.observe("success", start)
		return tr.AccessToken, nil
	}

	if tr.Error == "interaction_required" {
		e.observe("consent_required", start)
		e.logger.Info("downstream consent required", "description", tr.ErrorDescription)
		return "", dErrors.New(dErrors.CodeConsentRequired, tr.ErrorDescription)
	}

	e.observe("failure", start)
	e.logger.Warn("on-behalf-of exchange rejected", "provider_error", tr.Error, "status", resp.StatusCode)
	return "", dErrors.New(dErrors.CodeExchangeFailed, tr.Error+": "+tr.ErrorDescription)
}

func (e *Exchanger) observe(outcome string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.IncrementOBOExchanges(outcome)
	e.metrics.ObserveOBODuration(float64(time.Since(start).Milliseconds()))
}

// Package tokenstore retrieves user OAuth tokens from the channel token
// vault. The vault runs the SSO and consent flow on the channel's side; the
// gateway only reads the cached result, optionally completing a sign-in with
// a magic code.
package tokenstore

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	botmetrics "fabricobo/internal/bot/metrics"
	dErrors "fabricobo/pkg/domain-errors"
)

// DefaultBaseURL is the fixed token service endpoint. It is distinct from
// the per-activity serviceUrl used for reply delivery.
const DefaultBaseURL = "https://token.botframework.com"

// Client reads user tokens from the vault, authenticating as the bot
// application.
type Client struct {
	baseURL    string
	tokens     oauth2.TokenSource
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *botmetrics.Metrics
}

// Option configures the Client.
type Option func(*Client)

// WithBaseURL overrides the token service endpoint. Used by tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpClient = h
	}
}

// WithMetrics attaches bot metrics collectors.
func WithMetrics(m *botmetrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New creates a token vault client using the given bot app token source.
func New(tokens oauth2.TokenSource, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type userTokenResponse struct {
	Token string `json:"token"`
}

type signInResourceResponse struct {
	SignInLink string `json:"signInLink"`
}

// GetUserToken returns the user's cached vault token, or empty when no token
// is cached. magicCode may be empty; when present it completes a pending
// sign-in. An absent token is a normal outcome, not an error — unexpected
// vault statuses are logged and also reported as absent. Only transport
// failures surface as errors.
func (c *Client) GetUserToken(ctx context.Context, userID, channelID, connectionName, magicCode string) (string, error) {
	params := url.Values{
		"userId":         {userID},
		"connectionName": {connectionName},
		"channelId":      {channelID},
	}
	if magicCode != "" {
		params.Set("code", magicCode)
	}

	status, body, err := c.get(ctx, "/api/usertoken/GetToken", params)
	if err != nil {
		c.observe("error")
		return "", err
	}

	switch {
	case status == http.StatusOK:
		var tr userTokenResponse
		if err := json.Unmarshal(body, &tr); err != nil || tr.Token == "" {
			c.observe("miss")
			return "", nil
		}
		c.observe("hit")
		return tr.Token, nil
	case status == http.StatusNotFound:
		c.observe("miss")
		return "", nil
	default:
		c.logger.Warn("user token lookup failed", "status", status, "body", string(body))
		c.observe("miss")
		return "", nil
	}
}

// GetSignInLink returns the sign-in URL for the OAuth connection, or empty
// when the vault cannot provide one.
func (c *Client) GetSignInLink(ctx context.Context, connectionName string) (string, error) {
	params := url.Values{"connectionName": {connectionName}}

	status, body, err := c.get(ctx, "/api/botsignin/GetSignInResource", params)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		c.logger.Warn("sign-in resource lookup failed", "status", status, "body", string(body))
		return "", nil
	}
	var sr signInResourceResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", nil
	}
	return sr.SignInLink, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (int, []byte, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return 0, nil, dErrors.Wrap(err, dErrors.CodeUpstreamUnavailable, "bot app token acquisition failed")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, dErrors.Wrap(err, dErrors.CodeUpstreamUnavailable, "token vault unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return 0, nil, dErrors.Wrap(err, dErrors.CodeUpstreamUnavailable, "token vault read failed")
	}
	return resp.StatusCode, body, nil
}

func (c *Client) observe(outcome string) {
	if c.metrics != nil {
		c.metrics.IncrementTokenLookups(outcome)
	}
}

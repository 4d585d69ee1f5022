// Package connector sends reply activities back through the channel
// connector REST API. Replies to an inbound activity are POSTed to the
// serviceUrl the activity arrived with; they are never the HTTP response
// body of the inbound request.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	botmetrics "fabricobo/internal/bot/metrics"
	"fabricobo/internal/bot/models"
	"fabricobo/internal/platform/tracer"
	dErrors "fabricobo/pkg/domain-errors"
)

// ConnectorScope is the app-token scope for the channel connector API.
const ConnectorScope = "https://api.botframework.com/.default"

// Client authenticates as the bot application and delivers activities to
// channel connector endpoints. Safe for concurrent use; the token source
// caches the app token and refreshes it when it expires.
type Client struct {
	tokens     oauth2.TokenSource
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *botmetrics.Metrics
	tracer     tracer.Tracer
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for delivery.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithTokenSource overrides the app token source. Used by tests.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(cl *Client) {
		cl.tokens = ts
	}
}

// WithMetrics attaches bot metrics collectors.
func WithMetrics(m *botmetrics.Metrics) Option {
	return func(cl *Client) {
		cl.metrics = m
	}
}

// WithTracer attaches a tracer for delivery spans.
func WithTracer(t tracer.Tracer) Option {
	return func(cl *Client) {
		cl.tracer = t
	}
}

// New creates a connector client for the given bot application. The client
// credentials grant runs against the bot's home tenant; the resulting token
// source serves cached tokens silently and only hits the authority when the
// cached token has expired.
func New(appID, appPassword, tenantID string, logger *slog.Logger, opts ...Option) *Client {
	creds := &clientcredentials.Config{
		ClientID:     appID,
		ClientSecret: appPassword,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID),
		Scopes:       []string{ConnectorScope},
	}
	c := &Client{
		tokens:     creds.TokenSource(context.Background()),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		tracer:     tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TokenSource exposes the bot app token source for sibling clients that
// authenticate against the same application (the channel token vault).
func (c *Client) TokenSource() oauth2.TokenSource {
	return c.tokens
}

// SendActivity delivers an activity to the connector. With a replyToId the
// activity is posted onto that specific activity; otherwise it lands on the
// conversation's activity collection.
func (c *Client) SendActivity(ctx context.Context, serviceURL string, activity *models.Activity) error {
	ctx, span := c.tracer.Start(ctx, tracer.SpanReplyDeliver,
		tracer.String(tracer.AttrConversationID, activity.ConversationID()))
	var err error
	defer func() { span.End(err) }()

	base := strings.TrimRight(serviceURL, "/")
	url := fmt.Sprintf("%s/v3/conversations/%s/activities", base, activity.ConversationID())
	if activity.ReplyToID != "" {
		url += "/" + activity.ReplyToID
	}

	token, err := c.tokens.Token()
	if err != nil {
		c.observe("token_error")
		err = dErrors.Wrap(err, dErrors.CodeUpstreamUnavailable, "connector app token acquisition failed")
		return err
	}

	payload, err := json.Marshal(activity)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe("failure")
		err = dErrors.Wrap(err, dErrors.CodeUpstreamUnavailable, "connector unreachable")
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		c.logger.Error("connector reply failed",
			"status", resp.StatusCode, "conversation_id", activity.ConversationID(), "body", string(body))
		c.observe("failure")
		err = dErrors.New(dErrors.CodeUpstreamUnavailable,
			fmt.Sprintf("connector rejected activity with status %d", resp.StatusCode))
		return err
	}

	c.observe("success")
	c.logger.Debug("reply delivered", "status", resp.StatusCode, "conversation_id", activity.ConversationID())
	return nil
}

// SendTyping sends a typing indicator into the inbound conversation.
func (c *Client) SendTyping(ctx context.Context, inbound *models.Activity) error {
	if inbound.ServiceURL == "" {
		return nil
	}
	typing := inbound.CreateReply("")
	typing.Type = models.TypeTyping
	typing.Text = ""
	return c.SendActivity(ctx, inbound.ServiceURL, typing)
}

// SendTextReply sends a plain text reply into the inbound conversation.
func (c *Client) SendTextReply(ctx context.Context, inbound *models.Activity, text string) error {
	if inbound.ServiceURL == "" {
		return nil
	}
	return c.SendActivity(ctx, inbound.ServiceURL, inbound.CreateReply(text))
}

func (c *Client) observe(outcome string) {
	if c.metrics != nil {
		c.metrics.IncrementReplies(outcome)
	}
}

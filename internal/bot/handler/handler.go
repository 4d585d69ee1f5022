// Package handler orchestrates inbound channel activities: sign-in via the
// channel token vault, On-Behalf-Of exchange, agent invocation, and
// out-of-band reply delivery through the connector.
//
// The channel protocol requires that the HTTP response to an accepted
// activity is always an empty 200; answers travel back through the
// connector, never in the response body. Delivery failures are logged and
// swallowed so they can never alter the acknowledgment.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"fabricobo/internal/agent"
	"fabricobo/internal/auth/validator"
	botmetrics "fabricobo/internal/bot/metrics"
	"fabricobo/internal/bot/models"
	"fabricobo/internal/entitlement"
	"fabricobo/internal/platform/tracer"
	dErrors "fabricobo/pkg/domain-errors"
)

// User-facing reply texts.
const (
	promptText        = "Please send me a question about your data."
	signedInText      = "You're signed in! Please type your question now."
	notConfiguredText = "Authentication is not configured. Please contact your administrator."
	consentText       = "I need additional permissions to access your data. " +
		"Please sign out and sign back in using the command 'signout'."
	apologyText = "Sorry, I encountered an error processing your request. Please try again."
	greetingText = "Hello! I'm the Fabric Data Assistant. Ask me questions about your data " +
		"and I'll query it using your identity so you only see what you're authorized for.\n\n" +
		"Try: *\"Show me all my accounts and their balances.\"*"
	evidenceFooter = "\n\n---\n*Data retrieved via Fabric using your identity.*"
)

// Connector delivers activities back into the conversation.
type Connector interface {
	SendActivity(ctx context.Context, serviceURL string, activity *models.Activity) error
	SendTyping(ctx context.Context, inbound *models.Activity) error
	SendTextReply(ctx context.Context, inbound *models.Activity, text string) error
}

// TokenStore reads user tokens and sign-in links from the channel vault.
type TokenStore interface {
	GetUserToken(ctx context.Context, userID, channelID, connectionName, magicCode string) (string, error)
	GetSignInLink(ctx context.Context, connectionName string) (string, error)
}

// Exchanger trades a vault-issued user token for a downstream token.
type Exchanger interface {
	Exchange(ctx context.Context, userAssertion string) (string, error)
}

// Handler processes channel activities.
type Handler struct {
	connector      Connector
	tokens         TokenStore
	exchanger      Exchanger
	invoker        agent.Invoker
	entitlements   entitlement.Service
	connectionName string
	logger         *slog.Logger
	metrics        *botmetrics.Metrics
	tracer         tracer.Tracer
}

// Option configures the Handler.
type Option func(*Handler)

// WithMetrics attaches bot metrics collectors.
func WithMetrics(m *botmetrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithTracer attaches a tracer for activity spans.
func WithTracer(t tracer.Tracer) Option {
	return func(h *Handler) {
		h.tracer = t
	}
}

// New creates a Handler.
func New(connector Connector, tokens TokenStore, exchanger Exchanger, invoker agent.Invoker,
	entitlements entitlement.Service, connectionName string, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		connector:      connector,
		tokens:         tokens,
		exchanger:      exchanger,
		invoker:        invoker,
		entitlements:   entitlements,
		connectionName: connectionName,
		logger:         logger,
		tracer:         tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleActivity is the POST /api/messages endpoint. A body that is not
// valid JSON is the only 400; every accepted activity is acknowledged with
// an empty 200 regardless of what processing does.
func (h *Handler) HandleActivity(w http.ResponseWriter, r *http.Request) {
	var activity models.Activity
	if err := json.NewDecoder(r.Body).Decode(&activity); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	correlationID := newCorrelationID()
	ctx, span := h.tracer.Start(r.Context(), tracer.SpanBotActivity,
		tracer.String(tracer.AttrCorrelationID, correlationID),
		tracer.String(tracer.AttrActivityType, activity.Type),
		tracer.String(tracer.AttrChannelID, activity.ChannelID))
	defer span.End(nil)

	if h.metrics != nil {
		h.metrics.IncrementActivities(activity.Type)
	}
	h.logger.Info("bot activity received",
		"correlation_id", correlationID, "type", activity.Type, "channel_id", activity.ChannelID)

	switch activity.Type {
	case models.TypeMessage:
		h.handleMessage(ctx, &activity, correlationID)
	case models.TypeConversationUpdate:
		h.handleConversationUpdate(ctx, &activity)
	}

	// The connector only needs the transport acknowledged.
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleMessage(ctx context.Context, activity *models.Activity, correlationID string) {
	question := strings.TrimSpace(activity.Text)
	if question == "" {
		h.reply(ctx, activity, promptText, correlationID)
		return
	}

	magicCode := ""
	if models.IsMagicCode(question) {
		magicCode = question
		h.logger.Info("magic code detected, completing sign-in", "correlation_id", correlationID)
	}

	userToken, err := h.tokens.GetUserToken(ctx, activity.FromID(), activity.ChannelID, h.connectionName, magicCode)
	if err != nil {
		h.logger.Warn("token vault lookup failed", "correlation_id", correlationID, "error", err)
	}

	if userToken == "" {
		h.sendSignInPrompt(ctx, activity, correlationID)
		return
	}

	if magicCode != "" {
		h.logger.Info("sign-in completed via magic code", "correlation_id", correlationID)
		h.reply(ctx, activity, signedInText, correlationID)
		return
	}

	h.answerQuestion(ctx, activity, question, userToken, correlationID)
}

// sendSignInPrompt sends the hero card with the vault's sign-in link, or a
// plain explanation when no link can be obtained.
func (h *Handler) sendSignInPrompt(ctx context.Context, activity *models.Activity, correlationID string) {
	h.logger.Info("no token cached, prompting sign-in", "correlation_id", correlationID)

	link, err := h.tokens.GetSignInLink(ctx, h.connectionName)
	if err != nil {
		h.logger.Warn("sign-in link lookup failed", "correlation_id", correlationID, "error", err)
	}
	if link == "" {
		h.reply(ctx, activity, notConfiguredText, correlationID)
		return
	}

	card := activity.CreateReply("")
	card.Attachments = []models.Attachment{models.NewSignInCard(link)}
	if activity.ServiceURL != "" {
		if err := h.connector.SendActivity(ctx, activity.ServiceURL, card); err != nil {
			h.logger.Error("sign-in card delivery failed", "correlation_id", correlationID, "error", err)
		}
	}
	if h.metrics != nil {
		h.metrics.IncrementSignInPrompts()
	}
}

func (h *Handler) answerQuestion(ctx context.Context, activity *models.Activity, question, userToken, correlationID string) {
	if err := h.connector.SendTyping(ctx, activity); err != nil {
		h.logger.Debug("typing indicator delivery failed", "correlation_id", correlationID, "error", err)
	}

	downstreamToken, err := h.exchanger.Exchange(ctx, userToken)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeConsentRequired) {
			h.logger.Warn("downstream consent required on bot path", "correlation_id", correlationID, "error", err)
			h.reply(ctx, activity, consentText, correlationID)
			return
		}
		h.logger.Error("token exchange failed on bot path", "correlation_id", correlationID, "error", err)
		h.reply(ctx, activity, apologyText, correlationID)
		return
	}

	// Best-effort identity peek for the advisory entitlement hint. The vault
	// issued this token, so it is not re-verified here, and a peek failure
	// only costs the hint.
	upn, oid := "", ""
	if identity, err := validator.UnverifiedIdentity(userToken); err == nil {
		upn, oid = identity.UPN, identity.OID
	}
	if ent, err := h.entitlements.GetEntitlement(ctx, upn, oid); err == nil && ent.RepCode != "" {
		h.logger.Info("entitlement resolved",
			"correlation_id", correlationID, "rep_code", ent.RepCode, "role", ent.Role)
	}

	start := time.Now()
	result, err := h.invoker.RunAgent(ctx, question, "", downstreamToken, correlationID)
	if h.metrics != nil {
		h.metrics.ObserveAgentDuration(float64(time.Since(start).Milliseconds()))
	}
	if err != nil {
		h.logger.Error("agent invocation failed on bot path", "correlation_id", correlationID, "error", err)
		h.reply(ctx, activity, apologyText, correlationID)
		return
	}

	h.logger.Info("bot answer ready", "correlation_id", correlationID, "status", result.Status)
	h.reply(ctx, activity, formatReply(result), correlationID)
}

func (h *Handler) handleConversationUpdate(ctx context.Context, activity *models.Activity) {
	recipientID := ""
	if activity.Recipient != nil {
		recipientID = activity.Recipient.ID
	}
	for _, member := range activity.MembersAdded {
		if member.ID != recipientID {
			h.reply(ctx, activity, greetingText, "")
			return
		}
	}
}

// reply delivers a text reply; delivery failures never propagate.
func (h *Handler) reply(ctx context.Context, activity *models.Activity, text, correlationID string) {
	if err := h.connector.SendTextReply(ctx, activity, text); err != nil {
		h.logger.Error("reply delivery failed", "correlation_id", correlationID, "error", err)
	}
}

// formatReply renders an agent result for the channel. Completed answers
// backed by tool evidence carry a provenance footer. Failure detail never
// reaches the channel; the user only ever sees the generic apology.
func formatReply(result *agent.Result) string {
	if !result.Completed() || result.AssistantAnswer == "" {
		return apologyText
	}
	text := result.AssistantAnswer
	if len(result.ToolEvidence) > 0 {
		text += evidenceFooter
	}
	return text
}

func newCorrelationID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Package service orchestrates the synchronous assistant path: advisory
// entitlement lookup, On-Behalf-Of exchange of the caller's validated
// credential, and agent invocation.
package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"fabricobo/internal/agent"
	"fabricobo/internal/assistant/metrics"
	"fabricobo/internal/assistant/models"
	authmodels "fabricobo/internal/auth/models"
	"fabricobo/internal/entitlement"
	"fabricobo/internal/platform/tracer"
)

// Exchanger trades the caller's credential for a downstream token.
type Exchanger interface {
	Exchange(ctx context.Context, userAssertion string) (string, error)
}

// Service answers questions on behalf of a validated caller.
type Service struct {
	entitlements entitlement.Service
	exchanger    Exchanger
	invoker      agent.Invoker
	logger       *slog.Logger
	metrics      *metrics.Metrics
	tracer       tracer.Tracer
}

// Option configures the Service.
type Option func(*Service)

// WithMetrics attaches assistant metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTracer attaches a tracer for orchestration spans.
func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// New creates a Service.
func New(entitlements entitlement.Service, exchanger Exchanger, invoker agent.Invoker,
	logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		entitlements: entitlements,
		exchanger:    exchanger,
		invoker:      invoker,
		logger:       logger,
		tracer:       tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ask runs one question for the caller. The entitlement lookup and the
// token exchange are independent and run concurrently; an entitlement
// failure degrades to an authorized-no-hint result, while an exchange
// failure is fatal and propagates with its domain code so the transport
// layer can distinguish a consent challenge from a hard failure.
func (s *Service) Ask(ctx context.Context, identity *authmodels.Identity, req *models.AskRequest, correlationID string) (*models.AskResponse, error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanAsk,
		tracer.String(tracer.AttrCorrelationID, correlationID))
	var askErr error
	defer func() { span.End(askErr) }()

	s.logger.Info("assistant request",
		"correlation_id", correlationID, "upn", identity.UPN, "oid", identity.OID)

	var (
		ent             *entitlement.Result
		downstreamToken string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ent = s.lookupEntitlement(gctx, identity, correlationID)
		return nil
	})
	g.Go(func() error {
		token, err := s.exchanger.Exchange(gctx, identity.RawToken)
		if err != nil {
			return err
		}
		downstreamToken = token
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.Error("token exchange failed", "correlation_id", correlationID, "error", err)
		if s.metrics != nil {
			s.metrics.IncrementRequests("exchange_failed")
		}
		askErr = err
		return nil, askErr
	}

	start := time.Now()
	result, err := s.invoker.RunAgent(ctx, req.Question, req.ConversationID, downstreamToken, correlationID)
	if s.metrics != nil {
		s.metrics.ObserveAgentDuration(float64(time.Since(start).Milliseconds()))
	}
	if err != nil {
		askErr = err
		return nil, askErr
	}

	if s.metrics != nil {
		s.metrics.IncrementRequests(result.Status)
	}
	span.SetAttributes(
		tracer.String(tracer.AttrStatus, result.Status),
		tracer.Int64(tracer.AttrToolSteps, int64(len(result.ToolEvidence))),
		tracer.String(tracer.AttrConversationID, result.ConversationID),
	)
	s.logger.Info("assistant response",
		"correlation_id", correlationID,
		"status", result.Status,
		"conversation_id", result.ConversationID,
		"response_id", result.ResponseID)

	return models.NewAskResponse(correlationID, result, ent), nil
}

// lookupEntitlement never fails the request: the data is advisory and the
// downstream row-level security layer is the real gate.
func (s *Service) lookupEntitlement(ctx context.Context, identity *authmodels.Identity, correlationID string) *entitlement.Result {
	ctx, span := s.tracer.Start(ctx, tracer.SpanEntitlement)
	defer span.End(nil)

	ent, err := s.entitlements.GetEntitlement(ctx, identity.UPN, identity.OID)
	if err != nil {
		s.logger.Error("entitlement lookup failed, continuing without hint",
			"correlation_id", correlationID, "error", err)
		return &entitlement.Result{UPN: identity.UPN, OID: identity.OID, IsAuthorized: true}
	}
	s.logger.Info("entitlement resolved",
		"correlation_id", correlationID,
		"rep_code", ent.RepCode, "role", ent.Role, "authorized", ent.IsAuthorized)
	return ent
}

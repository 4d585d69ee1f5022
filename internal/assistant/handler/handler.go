// Package handler exposes the synchronous assistant endpoint and the public
// browser-client configuration endpoint.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"log/slog"

	"github.com/google/uuid"

	"fabricobo/internal/assistant/models"
	authmodels "fabricobo/internal/auth/models"
	dErrors "fabricobo/pkg/domain-errors"
	"fabricobo/pkg/httputil"
)

// CredentialValidator verifies the inbound bearer credential.
type CredentialValidator interface {
	Validate(ctx context.Context, credential string) (*authmodels.Identity, error)
}

// AskService answers a question for a validated caller.
type AskService interface {
	Ask(ctx context.Context, identity *authmodels.Identity, req *models.AskRequest, correlationID string) (*models.AskResponse, error)
}

// SPAConfig is the non-secret configuration served to the browser client.
type SPAConfig struct {
	TenantID      string
	SPAClientID   string
	APIClientID   string
	TestUsersJSON string
}

// Handler serves the assistant endpoints.
type Handler struct {
	validator CredentialValidator
	service   AskService
	spa       SPAConfig
	logger    *slog.Logger
}

// New creates a Handler.
func New(validator CredentialValidator, service AskService, spa SPAConfig, logger *slog.Logger) *Handler {
	return &Handler{
		validator: validator,
		service:   service,
		spa:       spa,
		logger:    logger,
	}
}

// HandleAsk is the POST /api/agent endpoint.
func (h *Handler) HandleAsk(w http.ResponseWriter, r *http.Request) {
	credential, ok := bearerCredential(r)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidCredential, "missing or invalid authorization header"))
		return
	}

	identity, err := h.validator.Validate(r.Context(), credential)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	correlationID := newCorrelationID()
	req, ok := httputil.DecodeAndValidate[models.AskRequest](w, r, h.logger, correlationID)
	if !ok {
		return
	}

	response, err := h.service.Ask(r.Context(), identity, req, correlationID)
	if err != nil {
		h.writeExchangeFailure(w, err, correlationID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, response)
}

// writeExchangeFailure renders On-Behalf-Of failures. A consent challenge is
// a 401 with status obo_challenge so the browser client can run an
// interactive consent flow; everything else is a 500 with status obo_error.
func (h *Handler) writeExchangeFailure(w http.ResponseWriter, err error, correlationID string) {
	var domainErr *dErrors.Error
	message := err.Error()
	if errors.As(err, &domainErr) && domainErr.Message != "" {
		message = domainErr.Message
	}

	if dErrors.HasCode(err, dErrors.CodeConsentRequired) {
		httputil.WriteJSON(w, http.StatusUnauthorized, map[string]string{
			"status":        "obo_challenge",
			"correlationId": correlationID,
			"error":         "Token acquisition requires user interaction (consent or re-auth). " + message,
		})
		return
	}
	httputil.WriteJSON(w, http.StatusInternalServerError, map[string]string{
		"status":        "obo_error",
		"correlationId": correlationID,
		"error":         "Failed to acquire downstream token: " + message,
	})
}

// HandleConfig is the public GET /api/config endpoint. It serves only
// non-secret values the browser client needs to configure its auth library.
func (h *Handler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	testUsers := []json.RawMessage{}
	if h.spa.TestUsersJSON != "" {
		if err := json.Unmarshal([]byte(h.spa.TestUsersJSON), &testUsers); err != nil {
			testUsers = []json.RawMessage{}
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"tenantId":    h.spa.TenantID,
		"spaClientId": h.spa.SPAClientID,
		"apiClientId": h.spa.APIClientID,
		"testUsers":   testUsers,
	})
}

func bearerCredential(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	credential := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return credential, credential != ""
}

func newCorrelationID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

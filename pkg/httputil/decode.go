package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"

	dErrors "fabricobo/pkg/domain-errors"
)

// DecodeJSON decodes a JSON request body into the target type.
// Returns the decoded value and true on success.
// On failure, writes an error response and returns nil, false.
//
// Usage:
//
//	req, ok := httputil.DecodeJSON[models.AskRequest](w, r, h.logger, correlationID)
//	if !ok {
//	    return
//	}
func DecodeJSON[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, correlationID string) (*T, bool) {
	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(r.Context(), "failed to decode request body",
			"error", err,
			"correlation_id", correlationID,
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return nil, false
	}
	return &req, true
}

// Validatable is implemented by request types that support validation.
type Validatable interface {
	Validate() error
}

// DecodeAndValidate combines JSON decoding with request validation when the
// target type implements Validatable.
func DecodeAndValidate[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, correlationID string) (*T, bool) {
	req, ok := DecodeJSON[T](w, r, logger, correlationID)
	if !ok {
		return nil, false
	}
	if v, isValidatable := any(req).(Validatable); isValidatable {
		if err := v.Validate(); err != nil {
			logger.WarnContext(r.Context(), "invalid request",
				"error", err,
				"correlation_id", correlationID,
			)
			WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, err.Error()))
			return nil, false
		}
	}
	return req, true
}

package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "fabricobo/pkg/domain-errors"
)

func WriteJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Errors after WriteHeader cannot change the status code, so we ignore encoding errors.
	_ = json.NewEncoder(w).Encode(response)
}

// WriteError centralizes domain error translation to HTTP responses.
// It translates transport-agnostic domain errors into HTTP status codes and error responses.
func WriteError(w http.ResponseWriter, err error) {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		response := map[string]string{
			"error": string(domainErr.Code),
		}
		if domainErr.Message != "" {
			response["error_description"] = domainErr.Message
		}
		WriteJSON(w, DomainCodeToHTTPStatus(domainErr.Code), response)
		return
	}

	// Fallback for unexpected errors
	WriteJSON(w, http.StatusInternalServerError, map[string]string{
		"error": string(dErrors.CodeInternal),
	})
}

// DomainCodeToHTTPStatus translates domain error codes to HTTP status codes.
//
// Credential validation failures and key-discovery outages both surface as
// 401 to the caller: a credential this process cannot verify is treated as
// unverified. Consent-required is also a 401 so browser clients trigger a
// re-auth flow rather than a generic error screen.
func DomainCodeToHTTPStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest:
		return http.StatusBadRequest
	case dErrors.CodeInvalidCredential, dErrors.CodeUpstreamUnavailable, dErrors.CodeConsentRequired:
		return http.StatusUnauthorized
	case dErrors.CodeAgentTimeout:
		return http.StatusGatewayTimeout
	case dErrors.CodeExchangeFailed, dErrors.CodeAgentError, dErrors.CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

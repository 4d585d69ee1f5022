// Package validator verifies inbound bearer credentials against the identity
// provider's published signing keys and the configured issuer and audience
// allow-lists.
package validator

import (
	"context"
	"log/slog"
	"slices"

	"github.com/golang-jwt/jwt/v5"

	"fabricobo/internal/auth/keys"
	authmetrics "fabricobo/internal/auth/metrics"
	"fabricobo/internal/auth/models"
	dErrors "fabricobo/pkg/domain-errors"
)

// Only asymmetric RSA signatures are accepted. "none" and symmetric
// algorithms would let a caller mint their own credentials.
var validMethods = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512"}

// Validator verifies credentials and extracts identity claims.
type Validator struct {
	keys      *keys.Cache
	issuers   []string
	audiences []string
	logger    *slog.Logger
	metrics   *authmetrics.Metrics
}

// Option configures the Validator.
type Option func(*Validator)

// WithMetrics attaches auth metrics collectors.
func WithMetrics(m *authmetrics.Metrics) Option {
	return func(v *Validator) {
		v.metrics = m
	}
}

// New creates a Validator. The issuer and audience lists are allow-lists:
// a credential is accepted when its issuer matches any configured issuer AND
// its audience matches any configured audience. Multi-variant acceptance is
// deliberate — browser clients and conversational channels mint tokens
// against different conventions for the same tenant and application.
func New(keyCache *keys.Cache, issuers, audiences []string, logger *slog.Logger, opts ...Option) *Validator {
	v := &Validator{
		keys:      keyCache,
		issuers:   issuers,
		audiences: audiences,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate verifies the credential's signature, algorithm, expiry, issuer,
// and audience, and returns the extracted identity with the raw credential
// retained for On-Behalf-Of exchange.
//
// Fails with invalid_credential for anything wrong with the token itself and
// upstream_unavailable when the signing keys could not be fetched.
func (v *Validator) Validate(ctx context.Context, credential string) (*models.Identity, error) {
	if credential == "" {
		return nil, v.failure("empty", dErrors.New(dErrors.CodeInvalidCredential, "empty credential"))
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods(validMethods))

	token, err := parser.ParseWithClaims(credential, claims, func(t *jwt.Token) (any, error) {
		set, err := v.keys.Get(ctx)
		if err != nil {
			return nil, err
		}
		kid, _ := t.Header["kid"].(string)
		key, ok := set.Key(kid)
		if !ok {
			return nil, dErrors.New(dErrors.CodeInvalidCredential, "token signing key not found")
		}
		return key, nil
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeUpstreamUnavailable) {
			return nil, v.failure("upstream_unavailable", dErrors.Wrap(err, dErrors.CodeUpstreamUnavailable, "signing keys unavailable"))
		}
		return nil, v.failure("parse", dErrors.Wrap(err, dErrors.CodeInvalidCredential, "invalid credential: "+err.Error()))
	}
	if !token.Valid {
		return nil, v.failure("invalid", dErrors.New(dErrors.CodeInvalidCredential, "invalid credential"))
	}

	issuer, _ := claims.GetIssuer()
	if !slices.Contains(v.issuers, issuer) {
		return nil, v.failure("issuer", dErrors.New(dErrors.CodeInvalidCredential, "credential issuer not accepted"))
	}

	audiences, _ := claims.GetAudience()
	if !v.audienceAccepted(audiences) {
		return nil, v.failure("audience", dErrors.New(dErrors.CodeInvalidCredential, "credential audience not accepted"))
	}

	if v.metrics != nil {
		v.metrics.IncrementValidations()
	}
	return models.NewIdentity(claims, credential), nil
}

func (v *Validator) audienceAccepted(audiences []string) bool {
	for _, aud := range audiences {
		if slices.Contains(v.audiences, aud) {
			return true
		}
	}
	return false
}

func (v *Validator) failure(reason string, err error) error {
	if v.metrics != nil {
		v.metrics.IncrementValidationFailures(reason)
	}
	v.logger.Warn("credential validation failed", "reason", reason, "error", err)
	return err
}

// UnverifiedIdentity extracts identity claims WITHOUT verifying the
// signature. Used only for the advisory entitlement hint on the bot path,
// where the token was issued by the channel's token vault and is never the
// basis of an authorization decision here.
func UnverifiedIdentity(credential string) (*models.Identity, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(credential, claims); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidCredential, "unparsable credential")
	}
	return models.NewIdentity(claims, credential), nil
}

// Package entitlement maps a user identity to internal authorization
// metadata such as rep code and role. The result is advisory: it feeds
// logging and UX hints only, while real data access enforcement happens at
// the data platform's row-level security layer.
package entitlement

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	dErrors "fabricobo/pkg/domain-errors"
)

// Result is the advisory entitlement for one user.
type Result struct {
	UPN          string `json:"upn"`
	OID          string `json:"oid"`
	RepCode      string `json:"repCode,omitempty"`
	Role         string `json:"role,omitempty"`
	IsAuthorized bool   `json:"isAuthorized"`
}

// Service looks up advisory entitlement for a user.
type Service interface {
	GetEntitlement(ctx context.Context, upn, oid string) (*Result, error)
}

type mapping struct {
	repCode string
	role    string
}

// StaticService resolves entitlements from a configured user list. Unknown
// users stay authorized with no hint, since the real gate lives downstream.
type StaticService struct {
	users  map[string]mapping
	logger *slog.Logger
}

type configuredUser struct {
	UPN     string `json:"upn"`
	RepCode string `json:"rep_code"`
	Role    string `json:"role"`
}

// NewStaticService builds a StaticService from a JSON user list of the form
// [{"upn": ..., "rep_code": ..., "role": ...}]. Entries without a upn or
// rep code are skipped; a missing role defaults to Advisor.
func NewStaticService(usersJSON string, logger *slog.Logger) (*StaticService, error) {
	s := &StaticService{users: map[string]mapping{}, logger: logger}
	if strings.TrimSpace(usersJSON) == "" {
		return s, nil
	}

	var configured []configuredUser
	if err := json.Unmarshal([]byte(usersJSON), &configured); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "unparsable entitlement user list")
	}
	for _, u := range configured {
		if u.UPN == "" || u.RepCode == "" {
			continue
		}
		role := u.Role
		if role == "" {
			role = "Advisor"
		}
		s.users[strings.ToLower(u.UPN)] = mapping{repCode: u.RepCode, role: role}
	}
	logger.Info("entitlement mappings loaded", "users", len(s.users))
	return s, nil
}

// GetEntitlement resolves the advisory entitlement for a user. The lookup is
// case-insensitive on upn and never denies: an unmapped user is authorized
// without a rep-code hint.
func (s *StaticService) GetEntitlement(_ context.Context, upn, oid string) (*Result, error) {
	if m, ok := s.users[strings.ToLower(upn)]; ok {
		return &Result{
			UPN:          upn,
			OID:          oid,
			RepCode:      m.repCode,
			Role:         m.role,
			IsAuthorized: true,
		}, nil
	}
	return &Result{UPN: upn, OID: oid, IsAuthorized: true}, nil
}

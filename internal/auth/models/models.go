package models

// Claim names carried by provider-issued credentials. Different token shapes
// (v1 vs v2) spell the same fact differently, so extraction falls back
// through the known variants.
const (
	ClaimPreferredUsername = "preferred_username"
	ClaimUPN               = "upn"
	ClaimOID               = "oid"
	ClaimObjectIdentifier  = "http://schemas.microsoft.com/identity/claims/objectidentifier"
	ClaimName              = "name"
	ClaimIssuer            = "iss"
)

// Identity is the result of successful credential validation.
// Immutable once constructed; lifetime is one inbound request.
type Identity struct {
	// UPN is the user principal name (preferred_username, else upn, else "unknown").
	UPN string

	// OID is the user's object identifier in the directory.
	OID string

	// DisplayName is the human-readable name, falling back to UPN.
	DisplayName string

	// RawClaims is the full validated claim set.
	RawClaims map[string]any

	// RawToken retains the original credential for On-Behalf-Of exchange.
	// Never logged.
	RawToken string
}

// NewIdentity builds an Identity from a validated claim set, applying the
// claim fallback chain for principal name and object identifier.
func NewIdentity(claims map[string]any, rawToken string) *Identity {
	upn := stringClaim(claims, ClaimPreferredUsername)
	if upn == "" {
		upn = stringClaim(claims, ClaimUPN)
	}
	if upn == "" {
		upn = "unknown"
	}

	oid := stringClaim(claims, ClaimObjectIdentifier)
	if oid == "" {
		oid = stringClaim(claims, ClaimOID)
	}
	if oid == "" {
		oid = "unknown"
	}

	display := stringClaim(claims, ClaimName)
	if display == "" {
		display = upn
	}

	return &Identity{
		UPN:         upn,
		OID:         oid,
		DisplayName: display,
		RawClaims:   claims,
		RawToken:    rawToken,
	}
}

func stringClaim(claims map[string]any, name string) string {
	if v, ok := claims[name].(string); ok {
		return v
	}
	return ""
}

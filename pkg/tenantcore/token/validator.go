// Package token implements the bearer token validator (C6): it verifies an
// HMAC-SHA-256 signed token and extracts the mandatory tenant_id claim (and
// enforces the optional exp claim). It never issues tokens — issuance is an
// identity-provider concern outside this module's scope.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// ErrInvalidToken wraps every validation failure with a human-readable
// reason, matching spec §4.6's InvalidToken(reason).
var ErrInvalidToken = errors.New("token: invalid token")

// Claims is the set of claims this validator understands. TenantID is the
// raw claim value; the validator does not look up or parse the tenant, it
// only produces the identifier. Parsing it into a tenantcore.TenantId is the
// caller's (middleware's) responsibility.
type Claims struct {
	TenantID string
}

// Validator verifies HMAC-SHA-256 signed bearer tokens.
type Validator struct {
	signingKey []byte
	leeway     time.Duration
}

// New builds a Validator from a shared secret.
func New(secret string) *Validator {
	return &Validator{signingKey: []byte(secret), leeway: 5 * time.Second}
}

type customClaims struct {
	TenantID string `json:"tenant_id"`
}

// Validate parses and verifies raw as a signed JWT, enforcing the optional
// exp claim, and returns the extracted tenant id.
func (v *Validator) Validate(raw string) (Claims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var registered jwt.Claims
	var custom customClaims
	if err := tok.Claims(v.signingKey, &registered, &custom); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if err := registered.ValidateWithLeeway(jwt.Expected{Time: time.Now()}, v.leeway); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if custom.TenantID == "" {
		return Claims{}, fmt.Errorf("%w: missing tenant_id claim", ErrInvalidToken)
	}

	return Claims{TenantID: custom.TenantID}, nil
}

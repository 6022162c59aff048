package token

import (
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/tenantfabric/core/pkg/tenantcore"
)

const testSecret = "a-secret-at-least-32-bytes-long!"

type testClaims struct {
	TenantID string `json:"tenant_id"`
}

func signToken(t *testing.T, secret string, registered jwt.Claims, custom testClaims) string {
	t.Helper()
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: []byte(secret)}, nil)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	raw, err := jwt.Signed(signer).Claims(registered).Claims(custom).Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	return raw
}

func TestValidateValidToken(t *testing.T) {
	tenantID := tenantcore.NewTenantId()
	raw := signToken(t, testSecret, jwt.Claims{}, testClaims{TenantID: tenantID.String()})

	v := New(testSecret)
	claims, err := v.Validate(raw)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.TenantID != tenantID.String() {
		t.Errorf("TenantID = %s, want %s", claims.TenantID, tenantID)
	}
}

func TestValidateExpiredToken(t *testing.T) {
	tenantID := tenantcore.NewTenantId()
	past := jwt.NewNumericDate(time.Now().Add(-1 * time.Hour))
	raw := signToken(t, testSecret, jwt.Claims{Expiry: past}, testClaims{TenantID: tenantID.String()})

	v := New(testSecret)
	if _, err := v.Validate(raw); err == nil {
		t.Error("expected expired token to fail validation")
	}
}

func TestValidateMissingTenantID(t *testing.T) {
	raw := signToken(t, testSecret, jwt.Claims{}, testClaims{})

	v := New(testSecret)
	if _, err := v.Validate(raw); err == nil {
		t.Error("expected missing tenant_id to fail validation")
	}
}

func TestValidateWrongSigningKey(t *testing.T) {
	tenantID := tenantcore.NewTenantId()
	raw := signToken(t, "a-different-secret-32-bytes-long!", jwt.Claims{}, testClaims{TenantID: tenantID.String()})

	v := New(testSecret)
	if _, err := v.Validate(raw); err == nil {
		t.Error("expected validation with the wrong key to fail")
	}
}

func TestValidateMalformedToken(t *testing.T) {
	v := New(testSecret)
	if _, err := v.Validate("not-a-jwt"); err == nil {
		t.Error("expected malformed token to fail validation")
	}
}

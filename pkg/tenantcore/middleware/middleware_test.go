package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tenantfabric/core/pkg/tenantcore"
	"github.com/tenantfabric/core/pkg/tenantcore/token"
)

const testSecret = "a-secret-at-least-32-bytes-long!"

type jwtClaims struct {
	TenantID string `json:"tenant_id"`
}

func signToken(t *testing.T, tenantID string) string {
	t.Helper()
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: []byte(testSecret)}, nil)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	raw, err := jwt.Signed(signer).Claims(jwt.Claims{}).Claims(jwtClaims{TenantID: tenantID}).Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	return raw
}

type fakeResolver struct {
	config *tenantcore.TenantConfig
	err    error
}

func (f *fakeResolver) Resolve(ctx context.Context, tenantID tenantcore.TenantId, databaseName string) (*tenantcore.TenantConfig, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.config, nil
}

type fakePools struct {
	err error
}

func (f *fakePools) GetPool(ctx context.Context, config *tenantcore.TenantConfig) (*pgxpool.Pool, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &pgxpool.Pool{}, nil
}

type fakeNames struct {
	name string
	err  error
}

func (f *fakeNames) FetchTenantName(ctx context.Context, tenantID tenantcore.TenantId) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.name, nil
}

func newTestMiddleware(resolver Resolver, pools PoolManager, names NameFetcher) *Middleware {
	return &Middleware{
		Validator: token.New(testSecret),
		Resolver:  resolver,
		Pools:     pools,
		Names:     names,
		Databases: []tenantcore.DatabaseConfig{{Name: "products"}, {Name: "orders"}},
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return resp
}

func TestMiddlewareMissingAuthorizationHeader(t *testing.T) {
	mw := newTestMiddleware(&fakeResolver{}, &fakePools{}, nil)
	handler := mw.Handler()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if resp := decodeError(t, w); resp["error"] != "Missing Authorization header" {
		t.Errorf("error = %q", resp["error"])
	}
}

func TestMiddlewareWrongScheme(t *testing.T) {
	mw := newTestMiddleware(&fakeResolver{}, &fakePools{}, nil)
	handler := mw.Handler()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Token abc")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if resp := decodeError(t, w); resp["error"] != "InvalidTokenFormat" {
		t.Errorf("error = %q", resp["error"])
	}
}

func TestMiddlewareInvalidToken(t *testing.T) {
	mw := newTestMiddleware(&fakeResolver{}, &fakePools{}, nil)
	handler := mw.Handler()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer not-a-jwt")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if resp := decodeError(t, w); resp["error"] != "InvalidToken" {
		t.Errorf("error = %q", resp["error"])
	}
}

func TestMiddlewareInvalidTenantId(t *testing.T) {
	mw := newTestMiddleware(&fakeResolver{}, &fakePools{}, nil)
	handler := mw.Handler()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, "not-a-uuid"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if resp := decodeError(t, w); resp["error"] != "InvalidTenantId" {
		t.Errorf("error = %q", resp["error"])
	}
}

func TestMiddlewareResolutionFailed(t *testing.T) {
	mw := newTestMiddleware(&fakeResolver{err: errors.New("tenant not active")}, &fakePools{}, nil)
	handler := mw.Handler()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tenantID := tenantcore.NewTenantId()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, tenantID.String()))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if resp := decodeError(t, w); resp["error"] != "ResolutionFailed" {
		t.Errorf("error = %q", resp["error"])
	}
}

func TestMiddlewarePoolFailed(t *testing.T) {
	tenantID := tenantcore.NewTenantId()
	resolver := &fakeResolver{config: &tenantcore.TenantConfig{TenantID: tenantID, DatabaseName: "products"}}
	mw := newTestMiddleware(resolver, &fakePools{err: errors.New("connection refused")}, nil)
	handler := mw.Handler()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, tenantID.String()))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if resp := decodeError(t, w); resp["error"] != "PoolFailed" {
		t.Errorf("error = %q", resp["error"])
	}
}

func TestMiddlewareSuccessInstallsTenantData(t *testing.T) {
	tenantID := tenantcore.NewTenantId()
	resolver := &fakeResolver{config: &tenantcore.TenantConfig{TenantID: tenantID, DatabaseName: "products"}}
	mw := newTestMiddleware(resolver, &fakePools{}, &fakeNames{name: "Acme Corp"})

	var got *TenantData
	handler := mw.Handler()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, tenantID.String()))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got == nil {
		t.Fatal("expected TenantData in context")
	}
	if got.TenantID != tenantID {
		t.Errorf("TenantID = %s, want %s", got.TenantID, tenantID)
	}
	if got.TenantName != "Acme Corp" {
		t.Errorf("TenantName = %q, want %q", got.TenantName, "Acme Corp")
	}
	if _, err := got.Pool("products"); err != nil {
		t.Errorf("Pool(products): %v", err)
	}
	if _, err := got.Pool("orders"); err != nil {
		t.Errorf("Pool(orders): %v", err)
	}
	if _, err := got.PrimaryPool(); err != nil {
		t.Errorf("PrimaryPool: %v", err)
	}
	if _, err := got.Pool("nonexistent"); !errors.Is(err, ErrDatabaseNotConfigured) {
		t.Errorf("Pool(nonexistent) err = %v, want ErrDatabaseNotConfigured", err)
	}
}

func TestMiddlewareNameFetchFallsBackToTenantId(t *testing.T) {
	tenantID := tenantcore.NewTenantId()
	resolver := &fakeResolver{config: &tenantcore.TenantConfig{TenantID: tenantID, DatabaseName: "products"}}
	mw := newTestMiddleware(resolver, &fakePools{}, &fakeNames{err: errors.New("catalog unreachable")})

	var got *TenantData
	handler := mw.Handler()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, tenantID.String()))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, name-fetch failure must not fail the request", w.Code, http.StatusOK)
	}
	if got.TenantName != tenantID.String() {
		t.Errorf("TenantName = %q, want fallback %q", got.TenantName, tenantID.String())
	}
}

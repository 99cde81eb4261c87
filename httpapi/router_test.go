package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/educ8africa/authcore"
	"github.com/educ8africa/authcore/credential"
	"github.com/educ8africa/authcore/internal/logging"
	"github.com/educ8africa/authcore/password"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPassword = "correct-password-123"
	adminKey     = "admin-key-for-tests"
	cookieName   = "refresh_token"
)

type fixture struct {
	router *gin.Engine
	engine *authcore.Engine
	creds  *credential.MemoryStore
}

func newFixture(t *testing.T, mutate ...func(*authcore.Config)) *fixture {
	t.Helper()
	params := password.Params{MemoryKiB: 8 * 1024, Passes: 1, Lanes: 1, SaltLength: 16, KeyLength: 32, MinPassword: 10}
	hasher, err := password.NewHasher(params)
	require.NoError(t, err)
	creds, err := credential.NewMemoryStore(hasher)
	require.NoError(t, err)
	require.NoError(t, creds.Add("alice", "0", testPassword))
	require.NoError(t, creds.Add("bob", "0", testPassword))

	cfg := authcore.DefaultConfig()
	cfg.Token.Secret = []byte(strings.Repeat("k", 32))
	cfg.Password.Params = params
	cfg.Audit.Enabled = false
	cfg.Session.StrictAccess = true
	for _, m := range mutate {
		m(&cfg)
	}

	reg := prometheus.NewRegistry()
	engine, err := authcore.New().
		WithConfig(cfg).
		WithCredentialStore(creds).
		WithLogger(logging.Discard()).
		WithMetricsRegisterer(reg).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	sum := sha256.Sum256([]byte(adminKey))
	router, err := NewRouter(Options{
		Engine:       engine,
		Logger:       logging.Discard(),
		CookieName:   cookieName,
		HashedAPIKey: hex.EncodeToString(sum[:]),
		Metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	require.NoError(t, err)
	return &fixture{router: router, engine: engine, creds: creds}
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) login(t *testing.T, identityID string) authcore.TokenPair {
	t.Helper()
	w := f.do(t, http.MethodPost, "/login", gin.H{"identity_id": identityID, "password": testPassword}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var pair authcore.TokenPair
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pair))
	return pair
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

func TestNewRouter_Validation(t *testing.T) {
	_, err := NewRouter(Options{})
	assert.Error(t, err)

	f := newFixture(t)
	_, err = NewRouter(Options{Engine: f.engine, HashedAPIKey: "not-hex"})
	assert.Error(t, err)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/login", gin.H{"identity_id": "alice", "password": testPassword}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var pair authcore.TokenPair
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pair))
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "Bearer", pair.TokenType)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, cookieName, cookies[0].Name)
	assert.Equal(t, pair.RefreshToken, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookies[0].SameSite)
}

func TestLogin_Failures(t *testing.T) {
	f := newFixture(t)

	wrong := f.do(t, http.MethodPost, "/login", gin.H{"identity_id": "alice", "password": "wrong-password-000"}, nil)
	unknown := f.do(t, http.MethodPost, "/login", gin.H{"identity_id": "nobody", "password": "wrong-password-000"}, nil)
	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())

	missing := f.do(t, http.MethodPost, "/login", gin.H{"identity_id": "alice"}, nil)
	assert.Equal(t, http.StatusBadRequest, missing.Code)
	assert.Equal(t, "invalid_request", errorCode(t, missing))

	require.NoError(t, f.creds.SetLocked("bob", true))
	locked := f.do(t, http.MethodPost, "/login", gin.H{"identity_id": "bob", "password": testPassword}, nil)
	assert.Equal(t, http.StatusForbidden, locked.Code)
	assert.Equal(t, "account_locked", errorCode(t, locked))
}

func TestLogin_RateLimited(t *testing.T) {
	f := newFixture(t)
	bad := gin.H{"identity_id": "alice", "password": "wrong-password-000"}
	for i := 0; i < 5; i++ {
		w := f.do(t, http.MethodPost, "/login", bad, nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w := f.do(t, http.MethodPost, "/login", bad, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limited", errorCode(t, w))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestRefresh_ReuseRevokesLineage(t *testing.T) {
	f := newFixture(t)
	first := f.login(t, "alice")

	w := f.do(t, http.MethodPost, "/refresh", gin.H{"refresh_token": first.RefreshToken}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var second authcore.TokenPair
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	replay := f.do(t, http.MethodPost, "/refresh", gin.H{"refresh_token": first.RefreshToken}, nil)
	assert.Equal(t, http.StatusUnauthorized, replay.Code)
	assert.Equal(t, "token_reuse_detected", errorCode(t, replay))

	after := f.do(t, http.MethodPost, "/refresh", gin.H{"refresh_token": second.RefreshToken}, nil)
	assert.Equal(t, http.StatusUnauthorized, after.Code)
	assert.Equal(t, "session_revoked", errorCode(t, after))
}

func TestRefresh_FromCookie(t *testing.T) {
	f := newFixture(t)
	pair := f.login(t, "alice")

	req := httptest.NewRequest(http.MethodPost, "/refresh", nil)
	req.AddCookie(&http.Cookie{Name: cookieName, Value: pair.RefreshToken})
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestRefresh_BadInput(t *testing.T) {
	f := newFixture(t)

	missing := f.do(t, http.MethodPost, "/refresh", nil, nil)
	assert.Equal(t, http.StatusBadRequest, missing.Code)
	assert.Equal(t, "missing_refresh_token", errorCode(t, missing))

	garbage := f.do(t, http.MethodPost, "/refresh", gin.H{"refresh_token": "not-a-token"}, nil)
	assert.Equal(t, http.StatusBadRequest, garbage.Code)
	assert.Equal(t, "malformed_token", errorCode(t, garbage))
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	pair := f.login(t, "alice")

	for i := 0; i < 2; i++ {
		w := f.do(t, http.MethodPost, "/logout", gin.H{"refresh_token": pair.RefreshToken}, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
	}

	w := f.do(t, http.MethodPost, "/refresh", gin.H{"refresh_token": pair.RefreshToken}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	me := f.do(t, http.MethodGet, "/me", nil, map[string]string{"Authorization": "Bearer " + pair.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, me.Code)
	assert.Equal(t, "session_revoked", errorCode(t, me))
}

func TestMe(t *testing.T) {
	f := newFixture(t)
	pair := f.login(t, "alice")

	w := f.do(t, http.MethodGet, "/me", nil, map[string]string{"Authorization": "Bearer " + pair.AccessToken})
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		IdentityID string    `json:"identity_id"`
		SessionID  string    `json:"session_id"`
		ExpiresAt  time.Time `json:"expires_at"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "alice", body.IdentityID)
	assert.Equal(t, pair.SessionID, body.SessionID)

	none := f.do(t, http.MethodGet, "/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, none.Code)

	refreshAsAccess := f.do(t, http.MethodGet, "/me", nil, map[string]string{"Authorization": "Bearer " + pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, refreshAsAccess.Code)
}

func TestRevokeAll_SelfService(t *testing.T) {
	f := newFixture(t)
	a1 := f.login(t, "alice")
	a2 := f.login(t, "alice")
	b := f.login(t, "bob")

	w := f.do(t, http.MethodPost, "/revoke-all", nil, map[string]string{"Authorization": "Bearer " + a1.AccessToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"revoked":2}`, w.Body.String())

	gone := f.do(t, http.MethodPost, "/refresh", gin.H{"refresh_token": a2.RefreshToken}, nil)
	assert.Equal(t, http.StatusUnauthorized, gone.Code)

	still := f.do(t, http.MethodPost, "/refresh", gin.H{"refresh_token": b.RefreshToken}, nil)
	assert.Equal(t, http.StatusOK, still.Code)
}

func TestRevokeAll_AdminKey(t *testing.T) {
	f := newFixture(t)
	f.login(t, "bob")

	denied := f.do(t, http.MethodPost, "/revoke-all", gin.H{"identity_id": "bob"}, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, denied.Code)

	noIdentity := f.do(t, http.MethodPost, "/revoke-all", gin.H{}, map[string]string{"X-API-Key": adminKey})
	assert.Equal(t, http.StatusBadRequest, noIdentity.Code)

	w := f.do(t, http.MethodPost, "/revoke-all", gin.H{"identity_id": "bob"}, map[string]string{"X-API-Key": adminKey})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"revoked":1}`, w.Body.String())
}

func TestTenantHeaderDoesNotResetRateLimit(t *testing.T) {
	f := newFixture(t)
	bad := gin.H{"identity_id": "alice", "password": "wrong-password-000"}
	for i := 0; i < 5; i++ {
		w := f.do(t, http.MethodPost, "/login", bad, map[string]string{"X-Tenant-ID": fmt.Sprintf("t%d", i)})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}

	other := f.do(t, http.MethodPost, "/login", bad, map[string]string{"X-Tenant-ID": "t9"})
	assert.Equal(t, http.StatusTooManyRequests, other.Code)
	assert.NotEmpty(t, other.Header().Get("Retry-After"))
}

func TestHealthzAndMetrics(t *testing.T) {
	f := newFixture(t)
	f.login(t, "alice")

	w := f.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	m := f.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, m.Code)
	assert.Contains(t, m.Body.String(), `authcore_operations_total{operation="login",outcome="success"} 1`)
}

type downEngine struct {
	Authenticator
}

func (downEngine) Ping(context.Context) error { return authcore.ErrUnavailable }

func TestHealthz_Unavailable(t *testing.T) {
	router, err := NewRouter(Options{Engine: downEngine{}, Logger: logging.Discard()})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unavailable", errorCode(t, w))
}

func TestStatus(t *testing.T) {
	cases := []struct {
		err  error
		code int
		name string
	}{
		{&authcore.RateLimitError{RetryAfter: time.Second}, http.StatusTooManyRequests, "rate_limited"},
		{authcore.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
		{authcore.ErrTokenReuseDetected, http.StatusUnauthorized, "token_reuse_detected"},
		{authcore.ErrMalformedToken, http.StatusBadRequest, "malformed_token"},
		{authcore.ErrAccountDisabled, http.StatusForbidden, "account_disabled"},
		{authcore.ErrUnavailable, http.StatusServiceUnavailable, "unavailable"},
		{context.Canceled, http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		code, name := status(tc.err)
		assert.Equal(t, tc.code, code, tc.name)
		assert.Equal(t, tc.name, name)
	}
}

func TestAPIKeyValid(t *testing.T) {
	sum := sha256.Sum256([]byte(adminKey))
	hashed := hex.EncodeToString(sum[:])
	assert.True(t, apiKeyValid(adminKey, hashed))
	assert.False(t, apiKeyValid("other", hashed))
	assert.False(t, apiKeyValid(adminKey, ""))
	assert.False(t, apiKeyValid("", hashed))
}

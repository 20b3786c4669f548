package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/tuition-ledger/ledger"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

// echoActor responds with the resolved actor, or 204 when there is none.
var echoActor = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, actor)
})

func TestAuthenticate_JWT(t *testing.T) {
	valid := jwt.MapClaims{"sub": "clerk-7", "role": "accountant", "exp": time.Now().Add(time.Hour).Unix()}

	tests := []struct {
		name   string
		header string
		status int
		actor  ledger.ActorContext
	}{
		{
			name:   "valid token",
			header: "Bearer " + signToken(t, testSecret, valid),
			status: http.StatusOK,
			actor:  ledger.ActorContext{UserID: "clerk-7", Role: "accountant"},
		},
		{
			name:   "user_id claim",
			header: "Bearer " + signToken(t, testSecret, jwt.MapClaims{"user_id": "u-1"}),
			status: http.StatusOK,
			actor:  ledger.ActorContext{UserID: "u-1"},
		},
		{
			name:   "wrong secret",
			header: "Bearer " + signToken(t, "other", valid),
			status: http.StatusUnauthorized,
		},
		{
			name:   "expired",
			header: "Bearer " + signToken(t, testSecret, jwt.MapClaims{"sub": "x", "exp": time.Now().Add(-time.Hour).Unix()}),
			status: http.StatusUnauthorized,
		},
		{
			name:   "no subject",
			header: "Bearer " + signToken(t, testSecret, jwt.MapClaims{"role": "admin"}),
			status: http.StatusUnauthorized,
		},
		{
			name:   "not bearer",
			header: "Basic dXNlcjpwYXNz",
			status: http.StatusUnauthorized,
		},
		{
			name:   "no header",
			status: http.StatusNoContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			// Headers are ignored once a secret is configured.
			req.Header.Set(HeaderActorID, "spoofed")
			rec := httptest.NewRecorder()

			Authenticate(testSecret)(echoActor).ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status == http.StatusOK {
				assert.Equal(t, tt.actor, decodeBody[ledger.ActorContext](t, rec))
			}
		})
	}
}

func TestAuthenticate_TrustedHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderActorID, "clerk-1")
	req.Header.Set(HeaderActorRole, "cashier")
	rec := httptest.NewRecorder()

	Authenticate("")(echoActor).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ledger.ActorContext{UserID: "clerk-1", Role: "cashier"}, decodeBody[ledger.ActorContext](t, rec))
}

func TestRequireActor(t *testing.T) {
	rec := httptest.NewRecorder()
	RequireActor(echoActor).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_SecretRequiresTokenOnEveryRoute(t *testing.T) {
	ts := newTestServer(t)
	ts.attend("S", "jan", "2025-01-10")
	router := NewRouter(ts.handler, zap.NewNop(), RouterOptions{JWTSecret: testSecret})
	token := signToken(t, testSecret, jwt.MapClaims{"sub": "clerk-7", "exp": time.Now().Add(time.Hour).Unix()})

	paths := []string{
		"/api/students/S/statement",
		"/api/students/S/balance",
		"/api/payments/1/receipt",
		"/api/audit",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			// GIVEN: No Authorization header, but trusted actor headers
			req := httptest.NewRequest(http.MethodGet, path, nil)
			req.Header.Set(HeaderActorID, "intruder")
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			// THEN: Headers are ignored once a secret is configured
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	// WHEN: The same read carries a signed token
	req := httptest.NewRequest(http.MethodGet, "/api/students/S/statement", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// AND: Health checks stay public
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/students/S1/balance", nil))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "/api/students/S1/balance", fields["path"])
	assert.EqualValues(t, http.StatusTeapot, fields["status"])
}

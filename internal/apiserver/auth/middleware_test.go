package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoClient() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(ClientID(r.Context())))
	})
}

func TestIsPublicRoute(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{"health", "/health", true},
		{"metrics", "/metrics", true},
		{"jobs", "/api/v1/jobs", false},
		{"stream", "/api/v1/jobs/j1/stream", false},
		{"ws", "/ws/jobs/j1/events", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isPublicRoute(tt.path))
		})
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	rec := httptest.NewRecorder()
	Middleware(Config{})(echoClient()).ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/jobs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, AnonymousClient, rec.Body.String())
}

func TestMiddlewareBearerToken(t *testing.T) {
	cfg := Config{JWTSecret: "s3cret", Issuer: "resume-optimizer", TokenTTL: time.Hour}
	token, err := GenerateToken(cfg, "client-42")
	require.NoError(t, err)
	h := Middleware(cfg)(echoClient())

	tests := []struct {
		name   string
		header string
		query  string
		code   int
		body   string
	}{
		{"header", "Bearer " + token, "", http.StatusOK, "client-42"},
		{"lowercase scheme", "bearer " + token, "", http.StatusOK, "client-42"},
		{"query token", "", "?token=" + token, http.StatusOK, "client-42"},
		{"missing", "", "", http.StatusUnauthorized, ""},
		{"basic scheme", "Basic abc", "", http.StatusUnauthorized, ""},
		{"garbage", "Bearer not-a-jwt", "", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/v1/jobs/j1/stream"+tt.query, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			assert.Equal(t, tt.code, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestParseTokenRejects(t *testing.T) {
	cfg := Config{JWTSecret: "s3cret", Issuer: "resume-optimizer"}

	other, err := GenerateToken(Config{JWTSecret: "other", Issuer: "resume-optimizer"}, "c")
	require.NoError(t, err)
	_, err = ParseToken(cfg, other)
	assert.Error(t, err)

	wrongIssuer, err := GenerateToken(Config{JWTSecret: "s3cret", Issuer: "someone-else"}, "c")
	require.NoError(t, err)
	_, err = ParseToken(cfg, wrongIssuer)
	assert.Error(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "c",
		Issuer:    "resume-optimizer",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}})
	signed, err := expired.SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = ParseToken(cfg, signed)
	assert.Error(t, err)

	noSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: "resume-optimizer"}})
	signed, err = noSubject.SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = ParseToken(cfg, signed)
	assert.Error(t, err)

	_, err = GenerateToken(Config{}, "c")
	assert.Error(t, err)
}

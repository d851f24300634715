package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestAuthenticate(t *testing.T) {
	auth := NewAuthenticator(testSecret, false, nil)

	valid := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"sub": "user-123",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	userID, err := auth.Authenticate("Bearer " + valid)
	require.NoError(t, err)
	assert.Equal(t, "user-123", userID)

	userID, err = auth.Authenticate(valid)
	require.NoError(t, err)
	assert.Equal(t, "user-123", userID)

	_, err = auth.Authenticate("")
	assert.ErrorIs(t, err, ErrMissingToken)

	wrongKey := signToken(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "user-123"})
	_, err = auth.Authenticate(wrongKey)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"sub": "user-123",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	_, err = auth.Authenticate(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noSub := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"name": "x"})
	_, err = auth.Authenticate(noSub)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = auth.Authenticate("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticate_Bypass(t *testing.T) {
	auth := NewAuthenticator("", true, nil)

	userID, err := auth.Authenticate("Bearer alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)

	generated, err := auth.Authenticate("")
	require.NoError(t, err)
	_, err = uuid.Parse(generated)
	assert.NoError(t, err)
}

func TestMiddleware(t *testing.T) {
	auth := NewAuthenticator(testSecret, false, nil)
	var seen string
	h := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetUserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Token abc", http.StatusUnauthorized},
		{"bad token", "Bearer abc", http.StatusUnauthorized},
		{"valid", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "user-9"}), http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/protected/sessions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.Equal(t, "user-9", seen)
}

func TestMiddleware_MissingSecret(t *testing.T) {
	auth := NewAuthenticator("", false, nil)
	h := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCORSHandler(t *testing.T) {
	h := CORSHandler([]string{"http://localhost:3000"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodOptions, "/api/protected/sessions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

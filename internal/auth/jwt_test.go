package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestVerify_RoundTrip(t *testing.T) {
	token, err := IssueToken(testSecret, "genstudio", "user_123", time.Hour)
	require.NoError(t, err)

	userID, err := NewVerifier(testSecret, "genstudio").Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user_123", userID)
}

func TestVerify_Rejects(t *testing.T) {
	valid, err := IssueToken(testSecret, "genstudio", "user_123", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(testSecret, "genstudio", "user_123", -time.Minute)
	require.NoError(t, err)
	noSubject, err := IssueToken(testSecret, "genstudio", "", time.Hour)
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u"}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	wrongAlg, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject:   "u",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name     string
		verifier *Verifier
		token    string
	}{
		{"wrong secret", NewVerifier("other", ""), valid},
		{"wrong issuer", NewVerifier(testSecret, "someone-else"), valid},
		{"expired", NewVerifier(testSecret, ""), expired},
		{"empty subject", NewVerifier(testSecret, ""), noSubject},
		{"no expiry", NewVerifier(testSecret, ""), noExpiry},
		{"wrong algorithm", NewVerifier(testSecret, ""), wrongAlg},
		{"garbage", NewVerifier(testSecret, ""), "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.verifier.Verify(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestMiddleware(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	var seen string
	handler := Middleware(NewVerifier(testSecret, ""), log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r.Context())
	}))

	token, err := IssueToken(testSecret, "", "user_9", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid", "Bearer " + token, "user_9"},
		{"lowercase scheme", "bearer " + token, "user_9"},
		{"missing", "", ""},
		{"basic auth", "Basic dXNlcjpwYXNz", ""},
		{"invalid", "Bearer nope", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = "unset"
			req := httptest.NewRequest(http.MethodGet, "/api/credits", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, seen)
		})
	}
}

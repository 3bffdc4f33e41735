package testutil

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// MintToken signs an HS256 bearer token the way the identity provider does,
// for exercising authenticated endpoints in tests.
func MintToken(t *testing.T, signingKey, subject, name string, groups ...string) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub":    subject,
		"name":   name,
		"groups": groups,
		"iat":    time.Now().Unix(),
		"exp":    time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingKey))
	require.NoError(t, err, "failed to sign test token")
	return token
}

// WithBearer sets the Authorization header and returns the request.
func WithBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

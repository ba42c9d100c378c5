package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "operator-signing-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func authRequest(handler http.Handler, token string) int {
	req := httptest.NewRequest(http.MethodPost, "/v1/actions/borrow", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res.Code
}

func TestAuthenticatorDisabledPassesThrough(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{}, nil)
	require.Equal(t, http.StatusOK, authRequest(auth.Middleware(ScopeWrite)(okHandler()), ""))
}

func TestAuthenticatorRequiresValidToken(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{
		Enabled:    true,
		HMACSecret: testSecret,
		Issuer:     "omnipool-ops",
		Audience:   "omnipoold",
	}, nil)
	handler := auth.Middleware(ScopeWrite)(okHandler())
	exp := time.Now().Add(time.Hour).Unix()

	valid := signToken(t, testSecret, jwt.MapClaims{
		"iss": "omnipool-ops", "aud": "omnipoold", "exp": exp, "scope": "omnipool:read omnipool:write",
	})
	require.Equal(t, http.StatusOK, authRequest(handler, valid))

	require.Equal(t, http.StatusUnauthorized, authRequest(handler, ""))

	wrongSecret := signToken(t, "another-secret", jwt.MapClaims{
		"iss": "omnipool-ops", "aud": "omnipoold", "exp": exp, "scope": ScopeWrite,
	})
	require.Equal(t, http.StatusUnauthorized, authRequest(handler, wrongSecret))

	expired := signToken(t, testSecret, jwt.MapClaims{
		"iss": "omnipool-ops", "aud": "omnipoold", "exp": time.Now().Add(-time.Hour).Unix(), "scope": ScopeWrite,
	})
	require.Equal(t, http.StatusUnauthorized, authRequest(handler, expired))

	wrongAudience := signToken(t, testSecret, jwt.MapClaims{
		"iss": "omnipool-ops", "aud": "someone-else", "exp": exp, "scope": ScopeWrite,
	})
	require.Equal(t, http.StatusUnauthorized, authRequest(handler, wrongAudience))

	readOnly := signToken(t, testSecret, jwt.MapClaims{
		"iss": "omnipool-ops", "aud": "omnipoold", "exp": exp, "scope": []string{"omnipool:read"},
	})
	require.Equal(t, http.StatusForbidden, authRequest(handler, readOnly))
}

func TestExtractBearer(t *testing.T) {
	require.Equal(t, "abc", extractBearer("Bearer abc"))
	require.Equal(t, "abc", extractBearer("bearer  abc "))
	require.Empty(t, extractBearer("Basic abc"))
	require.Empty(t, extractBearer(""))
}

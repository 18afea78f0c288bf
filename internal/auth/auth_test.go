package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/playpen/internal/errors"
)

var secret = []byte(strings.Repeat("k", MinSecretLen))

func TestGenerateAndValidate(t *testing.T) {
	tok, err := GenerateToken(secret, "alice", "Alice", time.Hour)
	require.NoError(t, err)

	claims, err := ValidateToken(secret, tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID())
	assert.Equal(t, "Alice", claims.Name)
	assert.Equal(t, Issuer, claims.Issuer)
}

func TestGenerateRejectsShortSecret(t *testing.T) {
	_, err := GenerateToken([]byte("short"), "alice", "", time.Hour)
	assert.Equal(t, errors.ErrorTypeConfig, errors.TypeOf(err))

	_, err = GenerateToken(secret, "", "", time.Hour)
	assert.True(t, errors.IsValidation(err))
}

func TestValidateRejects(t *testing.T) {
	expired, err := GenerateToken(secret, "alice", "", -time.Minute)
	require.NoError(t, err)

	other, err := GenerateToken([]byte(strings.Repeat("z", MinSecretLen)), "alice", "", time.Hour)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"expired":   expired,
		"signature": other,
		"alg none":  unsigned,
		"garbage":   "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ValidateToken(secret, tok)
			assert.True(t, errors.IsUnauthorized(err))
		})
	}
}

func TestRequestToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?token=q", nil)
	assert.Equal(t, "q", RequestToken(r))

	r.AddCookie(&http.Cookie{Name: CookieName, Value: "c"})
	assert.Equal(t, "c", RequestToken(r))

	r.Header.Set("Authorization", "bearer h")
	assert.Equal(t, "h", RequestToken(r))

	assert.Empty(t, RequestToken(httptest.NewRequest(http.MethodGet, "/", nil)))
}

func TestMiddleware(t *testing.T) {
	var seen *Claims
	h := Middleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetClaims(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/projects", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, seen)

	tok, err := GenerateToken(secret, "bob", "", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "bob", seen.UserID())

	req = httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("Authorization", "Bearer "+tok+"x")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
)

const (
	testAudience = "https://api.drbackfit.example/internal/payments:sweep"
	testIssuer   = "https://accounts.google.com"
)

type oidcFixture struct {
	key       *rsa.PrivateKey
	fetches   *atomic.Int32
	validator *OIDCValidator
	now       time.Time
}

func newOIDCFixture(t *testing.T) oidcFixture {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	var fetches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &key.PublicKey,
			KeyID:     "kid-1",
			Algorithm: jwt.SigningMethodRS256.Alg(),
			Use:       "sig",
		}}})
	}))
	t.Cleanup(server.Close)

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	validator := NewOIDCValidator(NewJWKSCache(server.URL, WithJWKSClock(clock)), WithOIDCClock(clock))
	return oidcFixture{key: key, fetches: &fetches, validator: validator, now: now}
}

func (f oidcFixture) sign(t *testing.T, mutate func(jwt.MapClaims)) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":   testIssuer,
		"aud":   testAudience,
		"sub":   "1234567890",
		"email": "scheduler@drbackfit.iam.gserviceaccount.com",
		"iat":   f.now.Add(-time.Minute).Unix(),
		"exp":   f.now.Add(time.Hour).Unix(),
	}
	if mutate != nil {
		mutate(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "kid-1"
	signed, err := token.SignedString(f.key)
	require.NoError(t, err)
	return signed
}

func (f oidcFixture) call(token string) (*httptest.ResponseRecorder, *ServiceIdentity) {
	var seen *ServiceIdentity
	handler := f.validator.RequireOIDC(testAudience, []string{testIssuer})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ServiceIdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/payments:sweep", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, seen
}

func TestRequireOIDCAcceptsValidToken(t *testing.T) {
	fx := newOIDCFixture(t)

	rec, identity := fx.call(fx.sign(t, nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, identity)
	require.Equal(t, "scheduler@drbackfit.iam.gserviceaccount.com", identity.Email)

	rec, _ = fx.call(fx.sign(t, nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.EqualValues(t, 1, fx.fetches.Load())
}

func TestRequireOIDCRejectsBadTokens(t *testing.T) {
	fx := newOIDCFixture(t)

	cases := map[string]string{
		"missing":        "",
		"wrong audience": fx.sign(t, func(c jwt.MapClaims) { c["aud"] = "https://elsewhere" }),
		"wrong issuer":   fx.sign(t, func(c jwt.MapClaims) { c["iss"] = "https://evil.example" }),
		"expired":        fx.sign(t, func(c jwt.MapClaims) { c["exp"] = fx.now.Add(-time.Minute).Unix() }),
		"not a jwt":      "garbage",
	}
	for name, token := range cases {
		rec, identity := fx.call(token)
		require.Equal(t, http.StatusUnauthorized, rec.Code, name)
		require.Nil(t, identity, name)
	}
}

func TestRequireOIDCWithoutAudienceIsUnavailable(t *testing.T) {
	fx := newOIDCFixture(t)
	handler := fx.validator.RequireOIDC("", nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestJWKSCacheUnknownKid(t *testing.T) {
	fx := newOIDCFixture(t)
	_, err := fx.validator.keys.Key(context.Background(), "other")
	require.ErrorIs(t, err, ErrJWKSKeyNotFound)
}

func TestMaxAge(t *testing.T) {
	require.Equal(t, 3600*time.Second, maxAge("public, max-age=3600, must-revalidate"))
	require.Zero(t, maxAge("no-cache"))
}

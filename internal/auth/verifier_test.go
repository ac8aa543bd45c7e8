package auth

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetroute/internal/config"
)

func segment(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(b)
}

func hs256(t *testing.T, secret string, claims map[string]any) string {
	t.Helper()
	input := segment(t, map[string]string{"alg": "HS256", "typ": "JWT"}) + "." + segment(t, claims)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(input))
	return input + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func TestDevMode(t *testing.T) {
	v := NewVerifier(config.AuthConfig{Mode: "dev"})
	p, err := v.Verify("acme:Admin")
	require.NoError(t, err)
	assert.Equal(t, Principal{Tenant: "acme", Role: "admin"}, p)
	assert.True(t, p.IsAdmin())

	_, err = v.Verify("acme")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = v.Verify(":user")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestHMACMode(t *testing.T) {
	v := NewVerifier(config.AuthConfig{Mode: "hmac", HMACSecret: "s3cret"})
	v.now = func() time.Time { return time.Unix(1000, 0) }

	p, err := v.Verify(hs256(t, "s3cret", map[string]any{"tenant": "acme", "role": "user", "exp": 2000}))
	require.NoError(t, err)
	assert.Equal(t, "acme", p.Tenant)
	assert.False(t, p.IsAdmin())

	p, err = v.Verify(hs256(t, "s3cret", map[string]any{"tenant": "acme"}))
	require.NoError(t, err)
	assert.Equal(t, RoleUser, p.Role)

	cases := map[string]string{
		"wrong secret":   hs256(t, "other", map[string]any{"tenant": "acme"}),
		"expired":        hs256(t, "s3cret", map[string]any{"tenant": "acme", "exp": 999}),
		"missing tenant": hs256(t, "s3cret", map[string]any{"role": "admin"}),
		"malformed":      "a.b",
		"dev token":      "acme:admin",
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(tok)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestCustomClaims(t *testing.T) {
	v := NewVerifier(config.AuthConfig{Mode: "hmac", HMACSecret: "k", TenantClaim: "org", RoleClaim: "scope"})
	p, err := v.Verify(hs256(t, "k", map[string]any{"org": "o1", "scope": "ADMIN"}))
	require.NoError(t, err)
	assert.Equal(t, Principal{Tenant: "o1", Role: "admin"}, p)
}

func TestJWKSMode(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jwks{Keys: []jwk{{
			Kty: "RSA",
			Kid: "k1",
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	defer srv.Close()

	sign := func(kid string) string {
		input := segment(t, map[string]string{"alg": "RS256", "kid": kid}) + "." + segment(t, map[string]any{"tenant": "acme", "role": "admin"})
		h := sha256.Sum256([]byte(input))
		sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, h[:])
		require.NoError(t, err)
		return input + "." + base64.RawURLEncoding.EncodeToString(sig)
	}

	v := NewVerifier(config.AuthConfig{Mode: "jwks", JWKSURL: srv.URL})
	p, err := v.Verify(sign("k1"))
	require.NoError(t, err)
	assert.True(t, p.IsAdmin())

	_, err = v.Verify(sign("k2"))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

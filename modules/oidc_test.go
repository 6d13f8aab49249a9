package modules

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/declarest/declarest/core"
)

// fakeProvider is an OIDC issuer backed by httptest: discovery, JWKS and an
// introspection endpoint. Every instance has a unique URL so the process-wide
// discovery and JWKS caches never collide between tests.
type fakeProvider struct {
	srv        *httptest.Server
	key        *rsa.PrivateKey
	kid        string
	introspect http.HandlerFunc
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	p := &fakeProvider{key: key, kid: "test-key-1"}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 p.srv.URL,
			"jwks_uri":               p.srv.URL + "/jwks",
			"introspection_endpoint": p.srv.URL + "/introspect",
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kid": p.kid,
				"kty": "RSA",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	})
	mux.HandleFunc("/introspect", func(w http.ResponseWriter, r *http.Request) {
		if p.introspect != nil {
			p.introspect(w, r)
			return
		}
		http.NotFound(w, r)
	})

	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakeProvider) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = p.kid
	signed, err := tok.SignedString(p.key)
	require.NoError(t, err)
	return signed
}

func oidcApp(a core.Authenticator) *core.App {
	return &core.App{Authenticators: []core.Authenticator{a}}
}

func TestOAuthLocalVerification(t *testing.T) {
	p := newFakeProvider(t)
	app := oidcApp(core.Authenticator{
		Name: "sso", Type: "oidc", Enabled: true, Issuer: p.srv.URL,
	})

	token := p.sign(t, jwt.MapClaims{
		"iss": p.srv.URL,
		"sub": "svc-account-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	rc := newRC("GET", "/notes", http.Header{"Authorization": {"Bearer " + token}})

	out := NewOAuth(p.srv.Client()).Run(core.PhaseAccess, rc, app)
	require.True(t, out.IsContinue())

	ident, ok := core.GetExt[core.ConsumerIdentity](rc)
	require.True(t, ok)
	assert.Equal(t, "svc-account-1", ident.Name)
}

func TestOAuthRejectsBadTokens(t *testing.T) {
	p := newFakeProvider(t)
	app := oidcApp(core.Authenticator{
		Name: "sso", Type: "oidc", Enabled: true, Issuer: p.srv.URL,
	})
	m := NewOAuth(p.srv.Client())

	expired := p.sign(t, jwt.MapClaims{
		"iss": p.srv.URL,
		"sub": "svc-account-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	wrongIssuer := p.sign(t, jwt.MapClaims{
		"iss": "https://elsewhere.example",
		"sub": "svc-account-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong issuer": wrongIssuer,
		"garbage":      "not.a.jwt",
	} {
		rc := newRC("GET", "/notes", http.Header{"Authorization": {"Bearer " + token}})
		out := m.Run(core.PhaseAccess, rc, app)
		require.False(t, out.IsContinue(), name)
		resp := out.Response()
		assert.Equal(t, http.StatusUnauthorized, resp.Status, name)
		assert.JSONEq(t, `{"error":"token verification failed","status":401}`,
			string(resp.Body), name)
	}
}

func TestOAuthAudienceCheck(t *testing.T) {
	p := newFakeProvider(t)
	app := oidcApp(core.Authenticator{
		Name: "sso", Type: "oidc", Enabled: true,
		Issuer: p.srv.URL, Audience: "gateway",
	})
	m := NewOAuth(p.srv.Client())

	good := p.sign(t, jwt.MapClaims{
		"iss": p.srv.URL, "sub": "s", "aud": "gateway",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	rc := newRC("GET", "/notes", http.Header{"Authorization": {"Bearer " + good}})
	assert.True(t, m.Run(core.PhaseAccess, rc, app).IsContinue())

	bad := p.sign(t, jwt.MapClaims{
		"iss": p.srv.URL, "sub": "s", "aud": "other",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	rc = newRC("GET", "/notes", http.Header{"Authorization": {"Bearer " + bad}})
	assert.False(t, m.Run(core.PhaseAccess, rc, app).IsContinue())
}

func TestOAuthHeaderErrors(t *testing.T) {
	p := newFakeProvider(t)
	app := oidcApp(core.Authenticator{
		Name: "sso", Type: "oidc", Enabled: true, Issuer: p.srv.URL,
	})
	m := NewOAuth(p.srv.Client())

	rc := newRC("GET", "/notes", nil)
	out := m.Run(core.PhaseAccess, rc, app)
	require.False(t, out.IsContinue())
	assert.JSONEq(t, `{"error":"missing Authorization header","status":401}`,
		string(out.Response().Body))

	rc = newRC("GET", "/notes", http.Header{"Authorization": {"Basic dXNlcjpwYXNz"}})
	out = m.Run(core.PhaseAccess, rc, app)
	require.False(t, out.IsContinue())
	assert.JSONEq(t, `{"error":"invalid auth scheme","status":401}`,
		string(out.Response().Body))
}

func TestOAuthIntrospection(t *testing.T) {
	p := newFakeProvider(t)
	p.introspect = func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-1" || pass != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		active := r.FormValue("token") == "live-token"
		json.NewEncoder(w).Encode(map[string]any{
			"active":   active,
			"username": "introspected-user",
		})
	}

	app := oidcApp(core.Authenticator{
		Name: "sso", Type: "oidc", Enabled: true,
		Issuer:           p.srv.URL,
		UseIntrospection: true,
		ClientID:         "client-1",
		ClientSecret:     "hunter2",
	})
	m := NewOAuth(p.srv.Client())

	rc := newRC("GET", "/notes", http.Header{"Authorization": {"Bearer live-token"}})
	out := m.Run(core.PhaseAccess, rc, app)
	require.True(t, out.IsContinue())
	ident, _ := core.GetExt[core.ConsumerIdentity](rc)
	assert.Equal(t, "introspected-user", ident.Name)

	rc = newRC("GET", "/notes", http.Header{"Authorization": {"Bearer revoked-token"}})
	out = m.Run(core.PhaseAccess, rc, app)
	require.False(t, out.IsContinue())
	assert.Equal(t, http.StatusUnauthorized, out.Response().Status)
}

func TestOAuthWithoutAuthenticatorFails(t *testing.T) {
	app := &core.App{}
	rc := newRC("GET", "/notes", http.Header{"Authorization": {"Bearer x"}})

	out := NewOAuth(nil).Run(core.PhaseAccess, rc, app)
	require.False(t, out.IsContinue())
	assert.Error(t, out.Err())
}

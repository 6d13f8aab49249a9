package modules

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/declarest/declarest/core"
)

const oidcTimeout = 3 * time.Second

// discoveryDocument is the subset of the provider metadata the module needs.
type discoveryDocument struct {
	Issuer                string `json:"issuer"`
	JWKSURI               string `json:"jwks_uri"`
	IntrospectionEndpoint string `json:"introspection_endpoint"`
}

type jwkKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksDocument struct {
	Keys []jwkKey `json:"keys"`
}

// Process-wide caches, initialized once per issuer and kept for the life of
// the process. First writer wins; later refreshes are not attempted.
var (
	discoveryCache sync.Map // issuer -> *discoveryDocument
	jwksCache      sync.Map // jwks_uri -> map[kid]*rsa.PublicKey
)

// OAuth authenticates bearer tokens during the Access phase, either through
// the provider's introspection endpoint or by local RS256 verification
// against the provider JWKS.
type OAuth struct {
	client *http.Client
}

func NewOAuth(client *http.Client) *OAuth {
	if client == nil {
		client = &http.Client{Timeout: oidcTimeout}
	}
	return &OAuth{client: client}
}

func (m *OAuth) Name() string { return "oauth" }

func (m *OAuth) Phases() []core.Phase { return []core.Phase{core.PhaseAccess} }

func (m *OAuth) Run(_ core.Phase, rc *core.RequestContext, app *core.App) core.Outcome {
	cfg := oidcAuthenticator(app)
	if cfg == nil {
		return core.Fail(errors.New("oauth module attached but no oidc authenticator configured"))
	}

	authz := rc.Headers.Get("Authorization")
	if authz == "" {
		return unauthorized("missing Authorization header")
	}
	scheme, token, found := strings.Cut(authz, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return unauthorized("invalid auth scheme")
	}

	ctx, cancel := context.WithTimeout(context.Background(), oidcTimeout)
	defer cancel()

	doc, err := m.discover(ctx, cfg.Issuer)
	if err != nil {
		return unauthorized("token verification failed")
	}

	var name string
	if cfg.UseIntrospection && doc.IntrospectionEndpoint != "" && cfg.ClientID != "" {
		name, err = m.introspect(ctx, doc, cfg, token)
	} else {
		name, err = m.verifyLocal(ctx, doc, cfg, token)
	}
	if err != nil {
		return unauthorized("token verification failed")
	}

	core.SetExt(rc, core.ConsumerIdentity{Name: name})
	return core.Continue()
}

func oidcAuthenticator(app *core.App) *core.Authenticator {
	for i := range app.Authenticators {
		a := &app.Authenticators[i]
		if a.Enabled && a.Type == "oidc" {
			return a
		}
	}
	return nil
}

func unauthorized(msg string) core.Outcome {
	return core.Respond(core.ErrorResponse(http.StatusUnauthorized, msg))
}

// discover fetches the provider metadata once per issuer.
func (m *OAuth) discover(ctx context.Context, issuer string) (*discoveryDocument, error) {
	if cached, ok := discoveryCache.Load(issuer); ok {
		return cached.(*discoveryDocument), nil
	}

	endpoint := strings.TrimRight(issuer, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oidc discovery returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var doc discoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse discovery document: %w", err)
	}

	actual, _ := discoveryCache.LoadOrStore(issuer, &doc)
	return actual.(*discoveryDocument), nil
}

// introspect posts the token with client basic auth and accepts it only when
// the provider reports it active. The consumer name is sub, falling back to
// username.
func (m *OAuth) introspect(ctx context.Context, doc *discoveryDocument, cfg *core.Authenticator, token string) (string, error) {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		doc.IntrospectionEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(cfg.ClientID, cfg.ClientSecret)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token introspection: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("introspection returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	var result struct {
		Active   bool   `json:"active"`
		Sub      string `json:"sub"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("parse introspection response: %w", err)
	}
	if !result.Active {
		return "", errors.New("token is not active")
	}
	if result.Sub != "" {
		return result.Sub, nil
	}
	return result.Username, nil
}

// verifyLocal checks the token signature against the cached JWKS and
// validates issuer and, when configured, audience.
func (m *OAuth) verifyLocal(ctx context.Context, doc *discoveryDocument, cfg *core.Authenticator, token string) (string, error) {
	keys, err := m.jwks(ctx, doc.JWKSURI)
	if err != nil {
		return "", err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(cfg.Issuer),
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := keys[kid]
		if !ok {
			return nil, fmt.Errorf("no jwks key for kid %q", kid)
		}
		return key, nil
	}, opts...)
	if err != nil {
		return "", err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("unexpected claims type")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.New("token has no sub claim")
	}
	return sub, nil
}

// jwks fetches and caches the provider key set, keyed by kid.
func (m *OAuth) jwks(ctx context.Context, uri string) (map[string]*rsa.PublicKey, error) {
	if cached, ok := jwksCache.Load(uri); ok {
		return cached.(map[string]*rsa.PublicKey), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jwks fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var doc jwksDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse jwks: %w", err)
	}

	keys := map[string]*rsa.PublicKey{}
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := rsaKeyFromJWK(k)
		if err != nil {
			return nil, err
		}
		keys[k.Kid] = pub
	}

	actual, _ := jwksCache.LoadOrStore(uri, keys)
	return actual.(map[string]*rsa.PublicKey), nil
}

// rsaKeyFromJWK builds the public key from the base64url modulus and
// exponent.
func rsaKeyFromJWK(k jwkKey) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("jwks modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("jwks exponent: %w", err)
	}
	e := 0
	for _, b := range eb {
		e = e<<8 | int(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}

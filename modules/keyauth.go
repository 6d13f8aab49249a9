package modules

import (
	"net/http"

	"github.com/declarest/declarest/core"
)

const defaultKeyHeader = "X-Api-Key"

// KeyAuth authenticates requests by api key during the Access phase. Each
// enabled key authenticator names a header (default X-Api-Key) or a query
// parameter; the first key resolving to a configured consumer wins.
type KeyAuth struct{}

func (m *KeyAuth) Name() string { return "key_auth" }

func (m *KeyAuth) Phases() []core.Phase { return []core.Phase{core.PhaseAccess} }

func (m *KeyAuth) Run(_ core.Phase, rc *core.RequestContext, app *core.App) core.Outcome {
	for _, a := range app.Authenticators {
		if !a.Enabled || a.Type != "key" {
			continue
		}

		key := ""
		header := a.HeaderName
		if header == "" {
			header = defaultKeyHeader
		}
		key = rc.Headers.Get(header)
		if key == "" && a.QueryName != "" {
			key = rc.Query[a.QueryName]
		}
		if key == "" {
			continue
		}

		if consumer, ok := app.ConsumerForKey(key); ok {
			core.SetExt(rc, core.ConsumerIdentity{Name: consumer.Name})
			return core.Continue()
		}
	}
	return core.Respond(core.ErrorResponse(
		http.StatusUnauthorized, "missing or invalid api key"))
}

package modules

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/declarest/declarest/core"
)

// Validate enforces request body limits and shape during the BodyParse phase:
// size cap (413), JSON content type (415), and presence of the matched
// table's required columns on creates (400).
type Validate struct {
	// MaxBodySize caps the accepted body in bytes; zero disables the check.
	MaxBodySize int64
}

func (m *Validate) Name() string { return "validate" }

func (m *Validate) Phases() []core.Phase { return []core.Phase{core.PhaseBodyParse} }

func (m *Validate) Run(_ core.Phase, rc *core.RequestContext, app *core.App) core.Outcome {
	if len(rc.RawBody) == 0 {
		return core.Continue()
	}

	if m.MaxBodySize > 0 && int64(len(rc.RawBody)) > m.MaxBodySize {
		return core.Respond(core.ErrorResponse(
			http.StatusRequestEntityTooLarge, "request body too large"))
	}

	ct := rc.Headers.Get("Content-Type")
	if ct != "" && !strings.Contains(strings.ToLower(ct), "application/json") {
		return core.Respond(core.ErrorResponse(
			http.StatusUnsupportedMediaType, "unsupported media type"))
	}

	if rc.Method == http.MethodPost {
		if resp := m.checkRequired(rc, app); resp != nil {
			return core.Respond(resp)
		}
	}
	return core.Continue()
}

// checkRequired verifies every non-nullable, non-generated column of the
// target table appears in the body. The route is not installed yet during
// BodyParse, so the table is resolved through a provisional match.
func (m *Validate) checkRequired(rc *core.RequestContext, app *core.App) *core.Response {
	rp := app.Gateway.Generator().Match(rc.Method, rc.Path)
	if rp == nil {
		return nil
	}
	table := app.Gateway.Generator().Table(rp.Table)
	if table == nil {
		return nil
	}
	obj, ok := rc.JSONBody.(map[string]any)
	if !ok {
		return nil
	}

	for _, c := range table.Columns {
		if c.Nullable || c.AutoIncrement || c.AutoField || c.DefaultValue != "" {
			continue
		}
		if v, present := obj[c.Name]; !present || v == nil {
			return core.ErrorResponse(http.StatusBadRequest,
				fmt.Sprintf("missing required field: %s", c.Name))
		}
	}
	return nil
}

package modules

import (
	"net/http"

	"github.com/rs/cors"

	"github.com/declarest/declarest/core"
)

// CORS attaches cross-origin headers during the Response phase.
type CORS struct {
	c *cors.Cors
}

func NewCORS(allowedOrigins []string) *CORS {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &CORS{c: cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete,
		},
		AllowedHeaders: []string{"*"},
	})}
}

func (m *CORS) Name() string { return "cors" }

func (m *CORS) Phases() []core.Phase { return []core.Phase{core.PhaseResponse} }

func (m *CORS) Run(_ core.Phase, rc *core.RequestContext, _ *core.App) core.Outcome {
	// rs/cors works on ResponseWriter+Request pairs; adapt the pipeline's
	// header map through a shim writer.
	req := &http.Request{Method: rc.Method, Header: rc.Headers}
	m.c.HandlerFunc(&headerWriter{h: rc.RespHeader}, req)
	return core.Continue()
}

type headerWriter struct {
	h http.Header
}

func (w *headerWriter) Header() http.Header { return w.h }

func (w *headerWriter) WriteHeader(int) {}

func (w *headerWriter) Write(b []byte) (int, error) { return len(b), nil }

package serv

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/declarest/declarest/core"
)

const (
	healthRoute = "/healthz"
	metaPrefix  = "/_meta/"
)

// routesHandler wires the built-in endpoints and hands everything else to
// the pipeline.
func routesHandler(ls *ListenerService, s *Service) http.Handler {
	r := chi.NewRouter()

	// Health bypasses all modules.
	r.Get(healthRoute, healthCheckHandler(ls))

	if s.metaDB != nil {
		r.Handle(metaPrefix+"*", metaDispatchHandler(s))
	}

	pipeline := pipelineHandler(ls)
	r.NotFound(pipeline)
	r.MethodNotAllowed(pipeline)

	return setServerHeader(r)
}

// pipelineHandler pins the listener's snapshot once per request and runs the
// phase pipeline against it. A concurrent configuration swap never affects a
// request already in flight; the replaced backend closes only after the last
// pinned request releases it.
func pipelineHandler(ls *ListenerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		app, release := ls.Acquire()
		defer release()
		if app == nil {
			writeResponse(w, core.ErrorResponse(
				http.StatusServiceUnavailable, "service unavailable"))
			return
		}

		rc := core.NewRequestContext(r)
		if r.Body != nil {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeResponse(w, core.ErrorResponse(
					http.StatusBadRequest, "failed to read request body"))
				return
			}
			rc.RawBody = body
		}

		writeResponse(w, app.Execute(r.Context(), rc))
	}
}

func writeResponse(w http.ResponseWriter, resp *core.Response) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

// healthCheckHandler reports ok plus the backend ping status.
func healthCheckHandler(ls *ListenerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		dbStatus := "ok"
		app, release := ls.Acquire()
		defer release()
		if app == nil || app.Gateway == nil {
			dbStatus = "unavailable"
		} else if err := app.Gateway.Backend().Ping(ctx); err != nil {
			dbStatus = "unavailable"
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		json.NewEncoder(w).Encode(map[string]string{
			"status":   "ok",
			"database": dbStatus,
		})
	}
}

// metaDispatchHandler forwards /_meta/ requests to the installed admin
// handler; without one the surface stays closed.
func metaDispatchHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.admin == nil || !strings.HasPrefix(r.URL.Path, metaPrefix) {
			writeResponse(w, core.ErrorResponse(http.StatusNotFound, "not found"))
			return
		}
		s.admin.ServeHTTP(w, r)
	}
}

// setServerHeader stamps the Server header on every response.
func setServerHeader(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", serverName)
		h.ServeHTTP(w, r)
	})
}

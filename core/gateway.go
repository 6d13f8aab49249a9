package core

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
)

// Gateway ties one backend to the routes and schemas generated from one
// OpenAPI document.
type Gateway struct {
	be   Backend
	gen  *APIGenerator
	crud *CRUDEngine
}

// NewGateway parses the OpenAPI document and prepares routes, table schemas
// and the CRUD engine over the backend.
func NewGateway(be Backend, specJSON []byte) (*Gateway, error) {
	gen, err := NewAPIGenerator(specJSON)
	if err != nil {
		return nil, err
	}
	return &Gateway{be: be, gen: gen, crud: NewCRUDEngine(be, gen)}, nil
}

// Backend returns the gateway's database backend.
func (g *Gateway) Backend() Backend { return g.be }

// Generator returns the compiled routes and table schemas.
func (g *Gateway) Generator() *APIGenerator { return g.gen }

// InitializeSchema materializes the derived tables on the backend.
func (g *Gateway) InitializeSchema(ctx context.Context) error {
	return g.be.InitializeSchema(ctx, g.gen.Tables())
}

var bodyMethods = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

// Execute runs the full phase sequence for one request and returns the final
// response. The Log phase always runs, across all three registry scopes,
// whatever happened earlier.
func (app *App) Execute(ctx context.Context, rc *RequestContext) *Response {
	// Provisional match so BodyParse and Access resolve their registry
	// before the Route phase formally installs the pattern.
	rp := app.Gateway.gen.Match(rc.Method, rc.Path)
	active := app.activeRegistry(rp, rc.Method)

	resp := app.run(ctx, rc, rp, active)
	rc.Status = resp.Status
	app.runLog(rc)
	return resp
}

func (app *App) run(ctx context.Context, rc *RequestContext, rp *RoutePattern, active *Registry) *Response {
	// Init + HeaderParse: the context is already built; modules get their say.
	for _, phase := range []Phase{PhaseInit, PhaseHeaderParse} {
		if resp, done := app.runModules(active, phase, rc); done {
			return resp
		}
	}

	// BodyParse: decode JSON for body-carrying methods, then module checks.
	if bodyMethods[rc.Method] && len(rc.RawBody) > 0 {
		dec := json.NewDecoder(bytes.NewReader(rc.RawBody))
		dec.UseNumber()
		var body any
		if err := dec.Decode(&body); err != nil {
			return ErrorResponse(http.StatusBadRequest, "Invalid JSON body")
		}
		rc.JSONBody = body
	}
	if resp, done := app.runModules(active, PhaseBodyParse, rc); done {
		return resp
	}

	// Route: install the matched pattern and its path params.
	if rp == nil {
		return ErrorResponse(http.StatusNotFound, "not found")
	}
	rc.Route = rp
	if params := ExtractPathParams(rp, rc.Path); params != nil {
		rc.PathParams = params
	}
	if resp, done := app.runModules(active, PhaseRoute, rc); done {
		return resp
	}

	// Access.
	if resp, done := app.runModules(active, PhaseAccess, rc); done {
		return resp
	}

	// Data.
	if err := app.Gateway.crud.Execute(ctx, rc); err != nil {
		app.logError(rc, err)
		return ResponseForError(err)
	}

	// Response: serialize the result, then let modules attach headers.
	body, err := json.Marshal(rc.Result)
	if err != nil {
		app.logError(rc, err)
		return ErrorResponse(http.StatusInternalServerError, "internal server error")
	}
	if rc.Status == 0 {
		rc.Status = http.StatusOK
	}
	if resp, done := app.runModules(active, PhaseResponse, rc); done {
		return resp
	}

	header := http.Header{"Content-Type": []string{"application/json; charset=utf-8"}}
	for k, vs := range rc.RespHeader {
		header[k] = vs
	}
	return &Response{Status: rc.Status, Header: header, Body: body}
}

// runModules executes one phase on one registry. The bool reports whether the
// pipeline is finished: a Respond outcome carries its response, a Fail is
// logged and becomes a 500.
func (app *App) runModules(reg *Registry, phase Phase, rc *RequestContext) (*Response, bool) {
	out := reg.RunPhase(phase, rc, app)
	if out.IsContinue() {
		return nil, false
	}
	if resp := out.Response(); resp != nil {
		return resp, true
	}
	app.logError(rc, out.Err())
	return ErrorResponse(http.StatusInternalServerError, "internal server error"), true
}

// runLog runs the Log phase over listener, route and operation registries in
// that order. Outcomes are ignored: the response has already been decided.
func (app *App) runLog(rc *RequestContext) {
	app.ListenerMods.RunPhase(PhaseLog, rc, app)
	if rc.Route != nil {
		if reg := app.RouteMods[rc.Route.PathPattern]; reg != nil {
			reg.RunPhase(PhaseLog, rc, app)
		}
		if reg := app.OperationMods[rc.Route.Key(rc.Method)]; reg != nil {
			reg.RunPhase(PhaseLog, rc, app)
		}
	}
}

func (app *App) logError(rc *RequestContext, err error) {
	if app.Log == nil || err == nil {
		return
	}
	app.Log.Errorw("request failed",
		"method", rc.Method,
		"path", rc.Path,
		"error", err)
}

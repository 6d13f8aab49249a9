package modules

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/declarest/declarest/core"
)

const validateSpec = `{
	"openapi": "3.0.0",
	"paths": {
		"/notes": {"get": {}, "post": {}}
	},
	"components": {
		"schemas": {
			"Note": {
				"type": "object",
				"required": ["title"],
				"properties": {
					"id": {"type": "integer"},
					"title": {"type": "string"},
					"createdAt": {"type": "string", "format": "date-time"}
				}
			}
		}
	}
}`

func validateApp(t *testing.T) *core.App {
	t.Helper()
	gw, err := core.NewGateway(nil, []byte(validateSpec))
	require.NoError(t, err)
	return &core.App{Gateway: gw}
}

func TestValidatePassesEmptyBody(t *testing.T) {
	rc := newRC("GET", "/notes", nil)
	out := (&Validate{MaxBodySize: 10}).Run(core.PhaseBodyParse, rc, validateApp(t))
	assert.True(t, out.IsContinue())
}

func TestValidateBodyTooLarge(t *testing.T) {
	rc := newRC("POST", "/notes", nil)
	rc.RawBody = []byte(`{"title":"way past the limit"}`)

	out := (&Validate{MaxBodySize: 10}).Run(core.PhaseBodyParse, rc, validateApp(t))
	require.False(t, out.IsContinue())
	resp := out.Response()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.Status)
	assert.JSONEq(t, `{"error":"request body too large","status":413}`, string(resp.Body))
}

func TestValidateContentType(t *testing.T) {
	rc := newRC("POST", "/notes", http.Header{"Content-Type": {"text/plain"}})
	rc.RawBody = []byte(`hello`)

	out := (&Validate{}).Run(core.PhaseBodyParse, rc, validateApp(t))
	require.False(t, out.IsContinue())
	assert.Equal(t, http.StatusUnsupportedMediaType, out.Response().Status)

	// charset parameters are fine
	rc = newRC("POST", "/notes", http.Header{"Content-Type": {"application/json; charset=utf-8"}})
	rc.RawBody = []byte(`{"title":"x"}`)
	rc.JSONBody = map[string]any{"title": "x"}
	out = (&Validate{}).Run(core.PhaseBodyParse, rc, validateApp(t))
	assert.True(t, out.IsContinue())
}

func TestValidateRequiredFields(t *testing.T) {
	app := validateApp(t)

	rc := newRC("POST", "/notes", nil)
	rc.RawBody = []byte(`{"id":1}`)
	rc.JSONBody = map[string]any{"id": float64(1)}

	out := (&Validate{}).Run(core.PhaseBodyParse, rc, app)
	require.False(t, out.IsContinue())
	resp := out.Response()
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.JSONEq(t, `{"error":"missing required field: title","status":400}`, string(resp.Body))

	// explicit null does not satisfy the requirement
	rc = newRC("POST", "/notes", nil)
	rc.RawBody = []byte(`{"title":null}`)
	rc.JSONBody = map[string]any{"title": nil}
	out = (&Validate{}).Run(core.PhaseBodyParse, rc, app)
	assert.False(t, out.IsContinue())

	rc = newRC("POST", "/notes", nil)
	rc.RawBody = []byte(`{"title":"ok"}`)
	rc.JSONBody = map[string]any{"title": "ok"}
	out = (&Validate{}).Run(core.PhaseBodyParse, rc, app)
	assert.True(t, out.IsContinue())
}

func TestValidateRequiredOnlyOnCreate(t *testing.T) {
	// PUT may send partial bodies; required columns are a create concern.
	rc := newRC("PUT", "/notes", nil)
	rc.RawBody = []byte(`{"id":1}`)
	rc.JSONBody = map[string]any{"id": float64(1)}

	out := (&Validate{}).Run(core.PhaseBodyParse, rc, validateApp(t))
	assert.True(t, out.IsContinue())
}

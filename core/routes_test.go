package core

import (
	"testing"
)

const routesSpec = `{
	"openapi": "3.0.0",
	"paths": {
		"/users": {"get": {}, "post": {}},
		"/users/{id}": {"get": {}, "put": {}, "delete": {}},
		"/orders/{orderId}/items/{itemId}": {"get": {"x-table-name": "order_items"}}
	},
	"components": {
		"schemas": {
			"User": {"type": "object", "properties": {"id": {"type": "integer"}}}
		}
	}
}`

func mustGenerator(t *testing.T, spec string) *APIGenerator {
	t.Helper()
	g, err := NewAPIGenerator([]byte(spec))
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestCompileRoutePattern(t *testing.T) {
	re, params, err := CompileRoutePattern("/notes/{id}")
	if err != nil {
		t.Fatal(err)
	}
	if len(params) != 1 || params[0] != "id" {
		t.Errorf("params = %v, want [id]", params)
	}
	if !re.MatchString("/notes/7") {
		t.Error("/notes/7 should match")
	}
	if re.MatchString("/notes/7/8") {
		t.Error("extra segment should not match")
	}

	// literal metacharacters stay literal
	re, _, err = CompileRoutePattern("/v1.0/files/{name}")
	if err != nil {
		t.Fatal(err)
	}
	if !re.MatchString("/v1.0/files/a.txt") {
		t.Error("/v1.0/files/a.txt should match")
	}
	if re.MatchString("/v1x0/files/a.txt") {
		t.Error("dot must not match arbitrary characters")
	}
}

func TestOperationTypeInference(t *testing.T) {
	g := mustGenerator(t, routesSpec)

	cases := []struct {
		method, path string
		want         OpType
	}{
		{"GET", "/users", OpList},
		{"POST", "/users", OpCreate},
		{"GET", "/users/42", OpGet},
		{"PUT", "/users/42", OpUpdate},
		{"DELETE", "/users/42", OpDelete},
	}
	for _, tc := range cases {
		rp := g.Match(tc.method, tc.path)
		if rp == nil {
			t.Fatalf("%s %s: no match", tc.method, tc.path)
		}
		if rp.Op != tc.want {
			t.Errorf("%s %s: op = %s, want %s", tc.method, tc.path, rp.Op, tc.want)
		}
	}
}

func TestMatchRejectsUnknown(t *testing.T) {
	g := mustGenerator(t, routesSpec)

	if rp := g.Match("PATCH", "/users"); rp != nil {
		t.Errorf("PATCH /users should not match, got %+v", rp)
	}
	if rp := g.Match("GET", "/users/1/extra"); rp != nil {
		t.Errorf("extra segment should not match, got %+v", rp)
	}
	if rp := g.Match("GET", "/unknown"); rp != nil {
		t.Errorf("unknown path should not match, got %+v", rp)
	}
}

func TestExtractPathParams(t *testing.T) {
	g := mustGenerator(t, routesSpec)

	rp := g.Match("GET", "/orders/7/items/ab-cd")
	if rp == nil {
		t.Fatal("no match")
	}
	params := ExtractPathParams(rp, "/orders/7/items/ab-cd")
	if params["orderId"] != "7" || params["itemId"] != "ab-cd" {
		t.Errorf("params = %v", params)
	}
	if rp.Table != "order_items" {
		t.Errorf("table = %q, want order_items (x-table-name)", rp.Table)
	}

	if params := ExtractPathParams(rp, "/orders/7/items"); params != nil {
		t.Errorf("unmatched path should yield nil, got %v", params)
	}
}

func TestTableDefaultsToFirstSegment(t *testing.T) {
	g := mustGenerator(t, routesSpec)
	rp := g.Match("GET", "/users/1")
	if rp.Table != "users" {
		t.Errorf("table = %q, want users", rp.Table)
	}
}

func TestSecurityTranslation(t *testing.T) {
	spec := `{
		"openapi": "3.0.0",
		"security": [{"ApiKeyAuth": []}],
		"paths": {
			"/notes": {
				"get": {},
				"post": {"security": [{"BearerAuth": []}]}
			},
			"/public": {
				"get": {"security": []}
			}
		},
		"components": {
			"schemas": {"Note": {"type": "object", "properties": {"id": {"type": "integer"}}}}
		}
	}`
	g := mustGenerator(t, spec)

	get := g.Match("GET", "/notes")
	if len(get.AccessModules) != 1 || get.AccessModules[0] != "key_auth" {
		t.Errorf("document security should add key_auth, got %v", get.AccessModules)
	}

	post := g.Match("POST", "/notes")
	if len(post.AccessModules) != 1 || post.AccessModules[0] != "oauth" {
		t.Errorf("operation security should override with oauth, got %v", post.AccessModules)
	}

	public := g.Match("GET", "/public")
	if len(public.AccessModules) != 0 {
		t.Errorf("security: [] should disable auth, got %v", public.AccessModules)
	}
}

func TestXModules(t *testing.T) {
	spec := `{
		"openapi": "3.0.0",
		"paths": {
			"/notes": {
				"get": {"x-modules": {"access": ["key_auth"], "rewrite": ["cors"]}}
			}
		},
		"components": {
			"schemas": {"Note": {"type": "object", "properties": {"id": {"type": "integer"}}}}
		}
	}`
	g := mustGenerator(t, spec)
	rp := g.Match("GET", "/notes")
	if len(rp.AccessModules) != 1 || rp.AccessModules[0] != "key_auth" {
		t.Errorf("access modules = %v", rp.AccessModules)
	}
	if len(rp.RewriteModules) != 1 || rp.RewriteModules[0] != "cors" {
		t.Errorf("rewrite modules = %v", rp.RewriteModules)
	}
}

func TestRouteKey(t *testing.T) {
	rp := &RoutePattern{PathPattern: "/users/{id}"}
	if got := rp.Key("get"); got != "GET /users/{id}" {
		t.Errorf("key = %q", got)
	}
}

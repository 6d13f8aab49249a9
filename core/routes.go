package core

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/declarest/declarest/core/internal/oas"
	"github.com/declarest/declarest/core/internal/sdata"
)

// OpType identifies the CRUD shape of a generated endpoint.
type OpType int

const (
	OpList OpType = iota
	OpGet
	OpCreate
	OpUpdate
	OpDelete
)

func (o OpType) String() string {
	switch o {
	case OpList:
		return "list"
	case OpGet:
		return "get"
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// RoutePattern is one OpenAPI operation compiled for matching. Braced path
// parameters match a single segment.
type RoutePattern struct {
	PathPattern string
	Regex       *regexp.Regexp
	ParamNames  []string
	Methods     []string
	Op          OpType
	Table       string

	// Module names attached to this operation via x-modules or translated
	// from security requirements.
	AccessModules  []string
	RewriteModules []string
}

// Key returns the operation registry key: "METHOD path_pattern".
func (p *RoutePattern) Key(method string) string {
	return strings.ToUpper(method) + " " + p.PathPattern
}

// HasMethod reports whether the pattern accepts the method.
func (p *RoutePattern) HasMethod(method string) bool {
	method = strings.ToUpper(method)
	for _, m := range p.Methods {
		if m == method {
			return true
		}
	}
	return false
}

var braceRe = regexp.MustCompile(`\{([^/{}]+)\}`)

// CompileRoutePattern turns an OpenAPI path into a regex and its ordered
// parameter names. Literal segments are quoted; each {param} becomes one
// capture group.
func CompileRoutePattern(path string) (*regexp.Regexp, []string, error) {
	var params []string
	var expr strings.Builder
	last := 0
	for _, loc := range braceRe.FindAllStringSubmatchIndex(path, -1) {
		expr.WriteString(regexp.QuoteMeta(path[last:loc[0]]))
		expr.WriteString(`([^/]+)`)
		params = append(params, path[loc[2]:loc[3]])
		last = loc[1]
	}
	expr.WriteString(regexp.QuoteMeta(path[last:]))

	re, err := regexp.Compile("^" + expr.String() + "$")
	if err != nil {
		return nil, nil, fmt.Errorf("compile route pattern %q: %w", path, err)
	}
	return re, params, nil
}

// ExtractPathParams maps each parameter name of the pattern to the matched
// URL segment. Returns nil when the path does not match.
func ExtractPathParams(p *RoutePattern, path string) map[string]string {
	m := p.Regex.FindStringSubmatch(path)
	if m == nil {
		return nil
	}
	params := make(map[string]string, len(p.ParamNames))
	for i, name := range p.ParamNames {
		params[name] = m[i+1]
	}
	return params
}

// APIGenerator holds the route patterns and table schemas derived from one
// OpenAPI document. It is built once per configuration snapshot.
type APIGenerator struct {
	routes []*RoutePattern
	tables map[string]*sdata.Table
}

// NewAPIGenerator parses the document, derives table schemas and compiles
// one route pattern per operation, in document order.
func NewAPIGenerator(specJSON []byte) (*APIGenerator, error) {
	doc, err := oas.Parse(specJSON)
	if err != nil {
		return nil, err
	}
	tables, err := sdata.Extract(doc)
	if err != nil {
		return nil, err
	}

	g := &APIGenerator{tables: map[string]*sdata.Table{}}
	for i := range tables {
		g.tables[tables[i].Name] = &tables[i]
	}

	for _, p := range doc.Paths {
		re, params, err := CompileRoutePattern(p.Pattern)
		if err != nil {
			return nil, err
		}
		hasParam := len(params) > 0

		for _, op := range p.Item.Operations {
			table := op.TableName
			if table == "" {
				table = firstSegment(p.Pattern)
			}

			rp := &RoutePattern{
				PathPattern: p.Pattern,
				Regex:       re,
				ParamNames:  params,
				Methods:     []string{op.Method},
				Op:          operationType(op.Method, hasParam),
				Table:       table,
			}
			rp.AccessModules, rp.RewriteModules = moduleNames(doc, op)
			g.routes = append(g.routes, rp)
		}
	}
	return g, nil
}

// operationType infers the CRUD kind from the method and the presence of a
// braced path segment.
func operationType(method string, hasParam bool) OpType {
	switch method {
	case "POST":
		return OpCreate
	case "PUT", "PATCH":
		return OpUpdate
	case "DELETE":
		return OpDelete
	default:
		if hasParam {
			return OpGet
		}
		return OpList
	}
}

// moduleNames resolves the access/rewrite module lists for an operation from
// x-modules plus translated security requirements. Operation-level security
// overrides document-level; an explicit empty array disables auth.
func moduleNames(doc *oas.Document, op oas.Operation) (access, rewrite []string) {
	if op.Modules != nil {
		access = append(access, op.Modules.Access...)
		rewrite = append(rewrite, op.Modules.Rewrite...)
	}

	security := doc.Security
	if op.HasSecurity {
		security = op.Security
	}
	for _, req := range security {
		for name := range req {
			if mod := securityModule(doc, name); mod != "" && !contains(access, mod) {
				access = append(access, mod)
			}
		}
	}
	return access, rewrite
}

// securityModule maps a security scheme name to a built-in module name.
func securityModule(doc *oas.Document, name string) string {
	switch name {
	case "ApiKeyAuth":
		return "key_auth"
	case "BearerAuth", "OpenID":
		return "oauth"
	}
	if sch, ok := doc.Components.SecuritySchemes[name]; ok {
		switch {
		case sch.Type == "apiKey":
			return "key_auth"
		case sch.Type == "openIdConnect",
			sch.Type == "http" && strings.EqualFold(sch.Scheme, "bearer"):
			return "oauth"
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Match returns the first pattern whose regex matches the path and whose
// methods include the method, or nil.
func (g *APIGenerator) Match(method, path string) *RoutePattern {
	method = strings.ToUpper(method)
	for _, rp := range g.routes {
		if rp.HasMethod(method) && rp.Regex.MatchString(path) {
			return rp
		}
	}
	return nil
}

// Routes returns all compiled patterns in document order.
func (g *APIGenerator) Routes() []*RoutePattern { return g.routes }

// Table returns the desired schema for a table name, or nil.
func (g *APIGenerator) Table(name string) *sdata.Table { return g.tables[name] }

// Tables returns the full set of desired table schemas, sorted by name so
// migration order is stable.
func (g *APIGenerator) Tables() []sdata.Table {
	names := make([]string, 0, len(g.tables))
	for name := range g.tables {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]sdata.Table, 0, len(names))
	for _, name := range names {
		out = append(out, *g.tables[name])
	}
	return out
}

func firstSegment(pattern string) string {
	pattern = strings.TrimPrefix(pattern, "/")
	if i := strings.IndexByte(pattern, '/'); i >= 0 {
		pattern = pattern[:i]
	}
	return pattern
}

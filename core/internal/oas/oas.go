// Package oas holds a minimal OpenAPI 3.x document model. Documents are
// decoded from raw JSON so that vendor extensions (x-table-schemas,
// x-relation and friends) survive parsing, and so that the original ordering
// of paths and schema properties is preserved. Ordering matters: route
// patterns are matched first-wins and column order in generated DDL follows
// property order.
package oas

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SecurityRequirement maps a security scheme name to its scopes.
type SecurityRequirement map[string][]string

// SecurityScheme describes an entry under components.securitySchemes.
type SecurityScheme struct {
	Type         string `json:"type"`
	Scheme       string `json:"scheme"`
	Name         string `json:"name"`
	In           string `json:"in"`
	OpenIDURL    string `json:"openIdConnectUrl"`
	BearerFormat string `json:"bearerFormat"`
}

// Relation is the shape of the x-relation property extension.
type Relation struct {
	Type       string `json:"type"`
	Target     string `json:"target"`
	ForeignKey string `json:"foreignKey"`
	LocalKey   string `json:"localKey"`
}

// Modules is the shape of the x-modules operation extension.
type Modules struct {
	Access  []string `json:"access"`
	Rewrite []string `json:"rewrite"`
}

// Property is one named property of an object schema, in declaration order.
type Property struct {
	Name   string
	Schema *Schema
}

// Schema is an OpenAPI schema object restricted to what the gateway consumes.
type Schema struct {
	Type       string
	Format     string
	Required   []string
	Properties []Property
	Items      *Schema
	Ref        string
	ReadOnly   bool
	Unique     bool // x-unique
	Index      bool // x-index
	AutoField  bool // x-auto-field
	Relation   *Relation
}

// UnmarshalJSON decodes a schema object keeping property order.
func (s *Schema) UnmarshalJSON(data []byte) error {
	var aux struct {
		Type       string          `json:"type"`
		Format     string          `json:"format"`
		Required   []string        `json:"required"`
		Properties json.RawMessage `json:"properties"`
		Items      *Schema         `json:"items"`
		Ref        string          `json:"$ref"`
		ReadOnly   bool            `json:"readOnly"`
		Unique     bool            `json:"x-unique"`
		Index      bool            `json:"x-index"`
		AutoField  bool            `json:"x-auto-field"`
		Relation   *Relation       `json:"x-relation"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.Type = aux.Type
	s.Format = aux.Format
	s.Required = aux.Required
	s.Items = aux.Items
	s.Ref = aux.Ref
	s.ReadOnly = aux.ReadOnly
	s.Unique = aux.Unique
	s.Index = aux.Index
	s.AutoField = aux.AutoField
	s.Relation = aux.Relation

	if len(aux.Properties) == 0 {
		return nil
	}
	keys, err := objectKeys(aux.Properties)
	if err != nil {
		return fmt.Errorf("schema properties: %w", err)
	}
	var vals map[string]json.RawMessage
	if err := json.Unmarshal(aux.Properties, &vals); err != nil {
		return err
	}
	for _, k := range keys {
		ps := new(Schema)
		if err := json.Unmarshal(vals[k], ps); err != nil {
			return fmt.Errorf("property %q: %w", k, err)
		}
		s.Properties = append(s.Properties, Property{Name: k, Schema: ps})
	}
	return nil
}

// IsRequired reports whether name appears in the schema's required list.
func (s *Schema) IsRequired(name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

// Operation is one method on a path.
type Operation struct {
	Method      string
	TableName   string // x-table-name
	Modules     *Modules
	Security    []SecurityRequirement
	HasSecurity bool // distinguishes "security: []" (override to none) from absent
	BodySchema  *Schema
	RespSchemas []*Schema
}

// PathItem is the set of operations declared on one path.
type PathItem struct {
	Operations  []Operation
	TableSchema json.RawMessage // x-table-schema
}

// Path pairs a path pattern with its item, in document order.
type Path struct {
	Pattern string
	Item    *PathItem
}

// NamedSchema pairs a components.schemas entry with its name.
type NamedSchema struct {
	Name   string
	Schema *Schema
}

// Components is the subset of the components section the gateway reads.
type Components struct {
	Schemas         []NamedSchema
	SecuritySchemes map[string]SecurityScheme
}

// Document is a parsed OpenAPI document.
type Document struct {
	OpenAPI      string
	Paths        []Path
	Components   Components
	Security     []SecurityRequirement
	TableSchemas []json.RawMessage // x-table-schemas
}

var opMethods = []string{"get", "post", "put", "patch", "delete"}

// Parse decodes an OpenAPI 3.x document from JSON.
func Parse(data []byte) (*Document, error) {
	var root struct {
		OpenAPI      string                `json:"openapi"`
		Paths        json.RawMessage       `json:"paths"`
		Components   json.RawMessage       `json:"components"`
		Security     []SecurityRequirement `json:"security"`
		TableSchemas []json.RawMessage     `json:"x-table-schemas"`
	}
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse openapi document: %w", err)
	}

	doc := &Document{
		OpenAPI:      root.OpenAPI,
		Security:     root.Security,
		TableSchemas: root.TableSchemas,
	}

	if len(root.Paths) > 0 {
		paths, err := parsePaths(root.Paths)
		if err != nil {
			return nil, err
		}
		doc.Paths = paths
	}

	if len(root.Components) > 0 {
		comps, err := parseComponents(root.Components)
		if err != nil {
			return nil, err
		}
		doc.Components = comps
	}
	return doc, nil
}

func parsePaths(raw json.RawMessage) ([]Path, error) {
	keys, err := objectKeys(raw)
	if err != nil {
		return nil, fmt.Errorf("paths: %w", err)
	}
	var vals map[string]json.RawMessage
	if err := json.Unmarshal(raw, &vals); err != nil {
		return nil, err
	}

	paths := make([]Path, 0, len(keys))
	for _, pattern := range keys {
		item, err := parsePathItem(vals[pattern])
		if err != nil {
			return nil, fmt.Errorf("path %q: %w", pattern, err)
		}
		paths = append(paths, Path{Pattern: pattern, Item: item})
	}
	return paths, nil
}

func parsePathItem(raw json.RawMessage) (*PathItem, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}

	item := &PathItem{}
	if ts, ok := fields["x-table-schema"]; ok {
		item.TableSchema = ts
	}

	for _, m := range opMethods {
		opRaw, ok := fields[m]
		if !ok {
			continue
		}
		op, err := parseOperation(strings.ToUpper(m), opRaw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m, err)
		}
		item.Operations = append(item.Operations, op)
	}
	return item, nil
}

func parseOperation(method string, raw json.RawMessage) (Operation, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Operation{}, err
	}

	op := Operation{Method: method}

	if v, ok := fields["x-table-name"]; ok {
		if err := json.Unmarshal(v, &op.TableName); err != nil {
			return op, err
		}
	}
	if v, ok := fields["x-modules"]; ok {
		op.Modules = new(Modules)
		if err := json.Unmarshal(v, op.Modules); err != nil {
			return op, err
		}
	}
	if v, ok := fields["security"]; ok {
		op.HasSecurity = true
		if err := json.Unmarshal(v, &op.Security); err != nil {
			return op, err
		}
	}
	if v, ok := fields["requestBody"]; ok {
		s, err := jsonContentSchema(v, "content")
		if err != nil {
			return op, err
		}
		op.BodySchema = s
	}
	if v, ok := fields["responses"]; ok {
		var resps map[string]json.RawMessage
		if err := json.Unmarshal(v, &resps); err != nil {
			return op, err
		}
		for _, r := range resps {
			s, err := jsonContentSchema(r, "content")
			if err != nil {
				return op, err
			}
			if s != nil {
				op.RespSchemas = append(op.RespSchemas, s)
			}
		}
	}
	return op, nil
}

// jsonContentSchema digs content["application/json"].schema out of a request
// body or response object. A missing media type is not an error.
func jsonContentSchema(raw json.RawMessage, contentKey string) (*Schema, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	content, ok := obj[contentKey]
	if !ok {
		return nil, nil
	}
	var media map[string]struct {
		Schema *Schema `json:"schema"`
	}
	if err := json.Unmarshal(content, &media); err != nil {
		return nil, err
	}
	for mt, m := range media {
		if strings.HasPrefix(mt, "application/json") {
			return m.Schema, nil
		}
	}
	return nil, nil
}

func parseComponents(raw json.RawMessage) (Components, error) {
	var aux struct {
		Schemas         json.RawMessage           `json:"schemas"`
		SecuritySchemes map[string]SecurityScheme `json:"securitySchemes"`
	}
	if err := json.Unmarshal(raw, &aux); err != nil {
		return Components{}, err
	}

	comps := Components{SecuritySchemes: aux.SecuritySchemes}
	if len(aux.Schemas) == 0 {
		return comps, nil
	}

	keys, err := objectKeys(aux.Schemas)
	if err != nil {
		return comps, fmt.Errorf("components.schemas: %w", err)
	}
	var vals map[string]json.RawMessage
	if err := json.Unmarshal(aux.Schemas, &vals); err != nil {
		return comps, err
	}
	for _, name := range keys {
		s := new(Schema)
		if err := json.Unmarshal(vals[name], s); err != nil {
			return comps, fmt.Errorf("schema %q: %w", name, err)
		}
		comps.Schemas = append(comps.Schemas, NamedSchema{Name: name, Schema: s})
	}
	return comps, nil
}

// ResolveRef resolves a local "#/components/schemas/Name" reference.
func (d *Document) ResolveRef(ref string) *Schema {
	const prefix = "#/components/schemas/"
	if !strings.HasPrefix(ref, prefix) {
		return nil
	}
	name := strings.TrimPrefix(ref, prefix)
	for _, ns := range d.Components.Schemas {
		if ns.Name == name {
			return ns.Schema
		}
	}
	return nil
}

// Deref follows one level of $ref indirection if present.
func (d *Document) Deref(s *Schema) *Schema {
	if s == nil {
		return nil
	}
	if s.Ref != "" {
		if r := d.ResolveRef(s.Ref); r != nil {
			return r
		}
	}
	return s
}

// objectKeys returns the member names of a JSON object in document order.
func objectKeys(raw []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("not a JSON object")
	}
	var keys []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		keys = append(keys, keyTok.(string))
		if err := skipValue(dec); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	d, ok := tok.(json.Delim)
	if !ok || (d != '{' && d != '[') {
		return nil
	}
	for dec.More() {
		if d == '{' {
			if _, err := dec.Token(); err != nil {
				return err
			}
		}
		if err := skipValue(dec); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}

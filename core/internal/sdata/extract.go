package sdata

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/declarest/declarest/core/internal/oas"
)

// Extract derives the set of desired table schemas from an OpenAPI document.
//
// Precedence: a top-level x-table-schemas array wins; per-path x-table-schema
// entries are added next for tables not already present; only when neither
// yields anything are tables derived from components.schemas.
func Extract(doc *oas.Document) ([]Table, error) {
	var tables []Table
	seen := map[string]bool{}

	for i, raw := range doc.TableSchemas {
		var t Table
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("x-table-schemas[%d]: %w", i, err)
		}
		if seen[t.Name] {
			continue
		}
		tables = append(tables, t)
		seen[t.Name] = true
	}

	for _, p := range doc.Paths {
		if len(p.Item.TableSchema) == 0 {
			continue
		}
		var t Table
		if err := json.Unmarshal(p.Item.TableSchema, &t); err != nil {
			return nil, fmt.Errorf("x-table-schema at %s: %w", p.Pattern, err)
		}
		if seen[t.Name] {
			continue
		}
		tables = append(tables, t)
		seen[t.Name] = true
	}

	derived := len(tables) == 0
	if derived {
		for _, ns := range doc.Components.Schemas {
			if ns.Schema == nil || ns.Schema.Type != "object" {
				continue
			}
			t := deriveTable(ns.Name, ns.Schema)
			if seen[t.Name] {
				continue
			}
			tables = append(tables, t)
			seen[t.Name] = true
		}
	}

	for i := range tables {
		tables[i].EnsurePrimaryKey()
		if err := tables[i].Validate(); err != nil {
			return nil, err
		}
	}

	extractRelations(doc, tables, derived)
	return tables, nil
}

// deriveTable builds a table schema from one object schema under
// components.schemas. The table name is the snake_cased, pluralized schema
// name.
func deriveTable(name string, s *oas.Schema) Table {
	t := Table{Name: Pluralize(SnakeCase(name))}

	for _, p := range s.Properties {
		col := deriveColumn(p.Name, p.Schema)
		col.Nullable = col.Nullable && !s.IsRequired(p.Name)
		if p.Schema.Unique {
			col.Unique = true
		}
		if p.Schema.ReadOnly || p.Schema.AutoField {
			col.AutoField = true
		}
		t.Columns = append(t.Columns, col)

		if p.Schema.Index {
			t.Indexes = append(t.Indexes, Index{
				Name:    fmt.Sprintf("idx_%s_%s", t.Name, col.Name),
				Columns: []string{col.Name},
			})
		}
	}
	return t
}

// deriveColumn applies the well-known name rules first (id, audit
// timestamps, audit identities) and falls back to the OpenAPI type+format
// mapping. Returned columns start out nullable; the caller applies the
// required list.
func deriveColumn(name string, s *oas.Schema) Column {
	switch name {
	case "id":
		return Column{Name: name, Type: TypeInteger, PrimaryKey: true, AutoIncrement: true}
	case "createdAt", "created_at":
		return Column{
			Name: name, Type: TypeTimestamp,
			DefaultValue: "CURRENT_TIMESTAMP", AutoField: true,
		}
	case "updatedAt", "updated_at":
		return Column{Name: name, Type: TypeTimestamp, Nullable: true, AutoField: true}
	case "createdBy", "updatedBy", "created_by", "updated_by":
		return Column{Name: name, Type: TypeText, Nullable: true, AutoField: true}
	}
	return Column{Name: name, Type: mapOpenAPIType(s), Nullable: true}
}

func mapOpenAPIType(s *oas.Schema) string {
	switch s.Type {
	case "string":
		switch s.Format {
		case "date-time":
			return TypeTimestamp
		case "date":
			return TypeDate
		}
		return TypeText
	case "integer":
		return TypeInteger
	case "number":
		return TypeReal
	case "boolean":
		return TypeBoolean
	case "array", "object":
		// stored JSON-encoded
		return TypeText
	}
	return TypeText
}

// extractRelations walks every operation's request and response schemas for
// x-relation property extensions and attaches them to the operation's table.
// When fallback derivation is in effect the same scan runs over
// components.schemas.
func extractRelations(doc *oas.Document, tables []Table, derived bool) {
	byName := map[string]*Table{}
	for i := range tables {
		byName[tables[i].Name] = &tables[i]
	}

	for _, p := range doc.Paths {
		for _, op := range p.Item.Operations {
			table := op.TableName
			if table == "" {
				table = firstPathSegment(p.Pattern)
			}
			t, ok := byName[table]
			if !ok {
				continue
			}
			for _, s := range op.RespSchemas {
				scanRelations(doc, s, t)
			}
			scanRelations(doc, op.BodySchema, t)
		}
	}

	if derived {
		for _, ns := range doc.Components.Schemas {
			if t, ok := byName[Pluralize(SnakeCase(ns.Name))]; ok {
				scanRelations(doc, ns.Schema, t)
			}
		}
	}
}

func scanRelations(doc *oas.Document, s *oas.Schema, t *Table) {
	s = doc.Deref(s)
	if s == nil {
		return
	}
	if s.Type == "array" {
		scanRelations(doc, s.Items, t)
		return
	}
	for _, p := range s.Properties {
		r := p.Schema.Relation
		if r == nil {
			continue
		}
		if hasRelation(t, p.Name) {
			continue
		}
		localKey := r.LocalKey
		if localKey == "" {
			localKey = "id"
		}
		t.Relations = append(t.Relations, Relation{
			FieldName:  p.Name,
			Type:       r.Type,
			Target:     r.Target,
			ForeignKey: r.ForeignKey,
			LocalKey:   localKey,
		})
	}
}

func hasRelation(t *Table, field string) bool {
	for _, r := range t.Relations {
		if r.FieldName == field {
			return true
		}
	}
	return false
}

func firstPathSegment(pattern string) string {
	pattern = strings.TrimPrefix(pattern, "/")
	if i := strings.IndexByte(pattern, '/'); i >= 0 {
		pattern = pattern[:i]
	}
	return pattern
}

package sdata

import (
	"testing"

	"github.com/declarest/declarest/core/internal/oas"
)

const derivedSpec = `{
	"openapi": "3.0.0",
	"paths": {
		"/users": {"get": {}},
		"/users/{id}": {"get": {}}
	},
	"components": {
		"schemas": {
			"User": {
				"type": "object",
				"required": ["name"],
				"properties": {
					"id": {"type": "integer"},
					"name": {"type": "string"},
					"email": {"type": "string", "x-unique": true}
				}
			}
		}
	}
}`

func TestExtractDerivedFromComponents(t *testing.T) {
	doc, err := oas.Parse([]byte(derivedSpec))
	if err != nil {
		t.Fatal(err)
	}
	tables, err := Extract(doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(tables) != 1 {
		t.Fatalf("expected 1 table, got %d", len(tables))
	}

	u := tables[0]
	if u.Name != "users" {
		t.Errorf("table name = %q, want users", u.Name)
	}
	if len(u.Indexes) != 0 {
		t.Errorf("expected no indexes, got %d", len(u.Indexes))
	}

	id := u.Column("id")
	if id == nil || !id.PrimaryKey || !id.AutoIncrement || id.Type != TypeInteger {
		t.Errorf("id column = %+v, want integer pk auto_increment", id)
	}
	name := u.Column("name")
	if name == nil || name.Nullable {
		t.Errorf("name column = %+v, want NOT NULL", name)
	}
	email := u.Column("email")
	if email == nil || !email.Unique || !email.Nullable || email.Type != TypeText {
		t.Errorf("email column = %+v, want nullable unique text", email)
	}
}

func TestExtractPrecedence(t *testing.T) {
	spec := `{
		"openapi": "3.0.0",
		"x-table-schemas": [
			{"table_name": "notes", "columns": [
				{"name": "id", "column_type": "integer", "primary_key": true, "auto_increment": true},
				{"name": "text", "column_type": "text", "nullable": true}
			]}
		],
		"components": {
			"schemas": {
				"User": {"type": "object", "properties": {"name": {"type": "string"}}}
			}
		}
	}`
	doc, err := oas.Parse([]byte(spec))
	if err != nil {
		t.Fatal(err)
	}
	tables, err := Extract(doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(tables) != 1 || tables[0].Name != "notes" {
		t.Fatalf("x-table-schemas should win over components, got %+v", tables)
	}
}

func TestExtractPerPathTableSchema(t *testing.T) {
	spec := `{
		"openapi": "3.0.0",
		"paths": {
			"/notes": {
				"x-table-schema": {"table_name": "notes", "columns": [
					{"name": "text", "column_type": "text", "nullable": true}
				]},
				"get": {}
			}
		}
	}`
	doc, err := oas.Parse([]byte(spec))
	if err != nil {
		t.Fatal(err)
	}
	tables, err := Extract(doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(tables) != 1 || tables[0].Name != "notes" {
		t.Fatalf("expected notes table, got %+v", tables)
	}
	// PK was absent and must be prepended.
	if pk := tables[0].PrimaryKey(); pk == nil || pk.Name != "id" || !pk.AutoIncrement {
		t.Errorf("expected injected id pk, got %+v", pk)
	}
	if tables[0].Columns[0].Name != "id" {
		t.Errorf("injected id must come first, got %v", tables[0].ColumnNames())
	}
}

func TestDeriveAutoFieldColumns(t *testing.T) {
	spec := `{
		"openapi": "3.0.0",
		"components": {
			"schemas": {
				"Note": {
					"type": "object",
					"properties": {
						"id": {"type": "integer"},
						"createdAt": {"type": "string", "format": "date-time"},
						"updatedAt": {"type": "string", "format": "date-time"},
						"createdBy": {"type": "string"},
						"tagged": {"type": "string", "x-index": true}
					}
				}
			}
		}
	}`
	doc, err := oas.Parse([]byte(spec))
	if err != nil {
		t.Fatal(err)
	}
	tables, err := Extract(doc)
	if err != nil {
		t.Fatal(err)
	}
	n := tables[0]

	created := n.Column("createdAt")
	if created == nil || !created.AutoField || created.Nullable ||
		created.DefaultValue != "CURRENT_TIMESTAMP" || created.Type != TypeTimestamp {
		t.Errorf("createdAt = %+v", created)
	}
	updated := n.Column("updatedAt")
	if updated == nil || !updated.AutoField || !updated.Nullable {
		t.Errorf("updatedAt = %+v", updated)
	}
	by := n.Column("createdBy")
	if by == nil || !by.AutoField || !by.Nullable || by.Type != TypeText {
		t.Errorf("createdBy = %+v", by)
	}

	if len(n.Indexes) != 1 || n.Indexes[0].Name != "idx_notes_tagged" {
		t.Errorf("indexes = %+v, want idx_notes_tagged", n.Indexes)
	}
}

func TestExtractRelations(t *testing.T) {
	spec := `{
		"openapi": "3.0.0",
		"paths": {
			"/users": {
				"get": {
					"responses": {"200": {"content": {"application/json": {"schema": {
						"$ref": "#/components/schemas/User"
					}}}}}
				}
			}
		},
		"components": {
			"schemas": {
				"User": {
					"type": "object",
					"properties": {
						"id": {"type": "integer"},
						"posts": {"type": "array",
							"x-relation": {"type": "hasMany", "target": "posts", "foreignKey": "user_id"}}
					}
				}
			}
		}
	}`
	doc, err := oas.Parse([]byte(spec))
	if err != nil {
		t.Fatal(err)
	}
	tables, err := Extract(doc)
	if err != nil {
		t.Fatal(err)
	}
	u := tables[0]
	if len(u.Relations) != 1 {
		t.Fatalf("relations = %+v, want one", u.Relations)
	}
	r := u.Relations[0]
	if r.FieldName != "posts" || r.Type != RelHasMany || r.Target != "posts" ||
		r.ForeignKey != "user_id" || r.LocalKey != "id" {
		t.Errorf("relation = %+v", r)
	}
}

func TestSnakeCase(t *testing.T) {
	cases := map[string]string{
		"User":     "user",
		"BlogPost": "blog_post",
		"apiKey":   "api_key",
		"name":     "name",
	}
	for in, want := range cases {
		if got := SnakeCase(in); got != want {
			t.Errorf("SnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPluralize(t *testing.T) {
	if got := Pluralize("user"); got != "users" {
		t.Errorf("Pluralize(user) = %q", got)
	}
	if got := Pluralize("notes"); got != "notes" {
		t.Errorf("Pluralize(notes) = %q", got)
	}
}

func TestTableValidate(t *testing.T) {
	bad := Table{Name: "t", Columns: []Column{
		{Name: "a", Type: TypeInteger, PrimaryKey: true},
		{Name: "b", Type: TypeInteger, PrimaryKey: true},
	}}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for two primary keys")
	}

	bad2 := Table{Name: "t", Columns: []Column{
		{Name: "a", Type: TypeText, PrimaryKey: true, AutoIncrement: true},
	}}
	if err := bad2.Validate(); err == nil {
		t.Error("expected error for non-integer auto_increment")
	}
}

// Package sdata models the desired shape of user tables and derives that
// shape from OpenAPI documents. It is the input to DDL generation and to the
// migration planner.
package sdata

import (
	"fmt"
	"strings"
	"unicode"
)

// Generic column types. Backends map these onto dialect-native types.
const (
	TypeInteger   = "integer"
	TypeBigint    = "bigint"
	TypeSmallint  = "smallint"
	TypeText      = "text"
	TypeString    = "string"
	TypeVarchar   = "varchar"
	TypeChar      = "char"
	TypeReal      = "real"
	TypeFloat     = "float"
	TypeDouble    = "double"
	TypeDecimal   = "decimal"
	TypeNumeric   = "numeric"
	TypeBoolean   = "boolean"
	TypeBlob      = "blob"
	TypeDatetime  = "datetime"
	TypeTimestamp = "timestamp"
	TypeDate      = "date"
	TypeTime      = "time"
)

var genericTypes = map[string]bool{
	TypeInteger: true, TypeBigint: true, TypeSmallint: true,
	TypeText: true, TypeString: true, TypeVarchar: true, TypeChar: true,
	TypeReal: true, TypeFloat: true, TypeDouble: true,
	TypeDecimal: true, TypeNumeric: true, TypeBoolean: true, TypeBlob: true,
	TypeDatetime: true, TypeTimestamp: true, TypeDate: true, TypeTime: true,
}

// NormalizeType folds an arbitrary type name into the generic type domain.
// Unknown types become text.
func NormalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if genericTypes[t] {
		return t
	}
	return TypeText
}

// IsIntegerType reports whether the generic type is integer-family.
func IsIntegerType(t string) bool {
	switch NormalizeType(t) {
	case TypeInteger, TypeBigint, TypeSmallint:
		return true
	}
	return false
}

// Column is the desired definition of one table column.
type Column struct {
	Name          string `json:"name"`
	Type          string `json:"column_type"`
	Nullable      bool   `json:"nullable"`
	PrimaryKey    bool   `json:"primary_key"`
	Unique        bool   `json:"unique"`
	AutoIncrement bool   `json:"auto_increment"`
	DefaultValue  string `json:"default_value,omitempty"`

	// AutoField marks columns whose value the engine supplies, never the
	// client: createdBy/updatedBy identity columns and timestamps.
	AutoField bool `json:"auto_field,omitempty"`
}

// Index is a secondary index on one or more columns.
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// Relation types.
const (
	RelHasMany       = "hasMany"
	RelBelongsTo     = "belongsTo"
	RelHasOne        = "hasOne"
	RelBelongsToMany = "belongsToMany"
)

// Relation declares a one-step link between two tables.
type Relation struct {
	FieldName  string `json:"field_name"`
	Type       string `json:"relation_type"`
	Target     string `json:"target_table"`
	ForeignKey string `json:"foreign_key"`
	LocalKey   string `json:"local_key"`
}

// Table is the desired shape of one user table.
type Table struct {
	Name      string     `json:"table_name"`
	Columns   []Column   `json:"columns"`
	Indexes   []Index    `json:"indexes,omitempty"`
	Relations []Relation `json:"relations,omitempty"`
}

// PrimaryKey returns the table's primary key column, or nil.
func (t *Table) PrimaryKey() *Column {
	for i := range t.Columns {
		if t.Columns[i].PrimaryKey {
			return &t.Columns[i]
		}
	}
	return nil
}

// Column returns the named column, or nil.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// ColumnNames returns the column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Validate checks the table invariants: exactly one primary key, and an
// auto-increment column must be the integer-typed primary key.
func (t *Table) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("table has no name")
	}
	var pks, autoInc int
	for _, c := range t.Columns {
		if c.PrimaryKey {
			pks++
		}
		if c.AutoIncrement {
			autoInc++
			if !c.PrimaryKey {
				return fmt.Errorf("table %s: auto_increment column %s is not the primary key", t.Name, c.Name)
			}
			if !IsIntegerType(c.Type) {
				return fmt.Errorf("table %s: auto_increment column %s is not integer-typed", t.Name, c.Name)
			}
		}
	}
	if pks != 1 {
		return fmt.Errorf("table %s: expected exactly one primary key column, found %d", t.Name, pks)
	}
	if autoInc > 1 {
		return fmt.Errorf("table %s: more than one auto_increment column", t.Name)
	}
	return nil
}

// EnsurePrimaryKey prepends an auto-increment integer id column when the
// table declares no primary key.
func (t *Table) EnsurePrimaryKey() {
	if t.PrimaryKey() != nil {
		return
	}
	id := Column{
		Name:          "id",
		Type:          TypeInteger,
		PrimaryKey:    true,
		AutoIncrement: true,
	}
	t.Columns = append([]Column{id}, t.Columns...)
}

// SnakeCase converts CamelCase or mixedCase names to snake_case.
func SnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Pluralize appends an "s" suffix unless the name already ends in one.
func Pluralize(s string) string {
	if strings.HasSuffix(s, "s") {
		return s
	}
	return s + "s"
}

// IntrospectedColumn is one column as reported by the live database.
type IntrospectedColumn struct {
	Name       string
	Type       string // dialect-native type name
	Nullable   bool
	PrimaryKey bool
	Default    string
}

// IntrospectedTable is the current shape of a table in the live database.
type IntrospectedTable struct {
	Name    string
	Columns []IntrospectedColumn
}

// Column returns the named introspected column, or nil.
func (t *IntrospectedTable) Column(name string) *IntrospectedColumn {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// Package dialect generates dialect-specific DDL and SQL fragments for the
// supported database backends. The set of dialects is closed: sqlite and
// postgres. Identifiers are quoted on emission; values never appear inline in
// generated DDL except for raw default literals taken from the trusted table
// schema.
package dialect

import (
	"github.com/declarest/declarest/core/internal/sdata"
)

// Dialect defines how DDL and query fragments are produced for one database.
type Dialect interface {
	Name() string
	QuoteIdent(s string) string

	// Placeholder returns the bind marker for the n-th parameter (1-based).
	Placeholder(n int) string

	// ColumnDDL renders one column definition for CREATE TABLE.
	ColumnDDL(c sdata.Column) string

	// AddColumnDDL renders the column definition used with ALTER TABLE ADD
	// COLUMN, which can be more restricted than the CREATE TABLE form.
	AddColumnDDL(c sdata.Column) string

	CreateTable(t sdata.Table) string
	AddColumn(table string, c sdata.Column) string
	CreateIndex(table string, idx sdata.Index) string
	RenameTable(oldName, newName string) string
	DropTable(name string) string

	// ListTablesSQL returns a query producing one user table name per row.
	ListTablesSQL() string
}

// ForName returns the dialect for a database type name.
func ForName(dbType string) Dialect {
	switch dbType {
	case "postgres", "postgresql":
		return &Postgres{}
	default:
		return &Sqlite{}
	}
}

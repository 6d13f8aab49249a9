package core

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/declarest/declarest/core/internal/dialect"
	"github.com/declarest/declarest/core/internal/sdata"
)

// Backend is the capability set shared by the database variants. The set is
// closed: sqlite and postgres. Table and column identifiers reaching a
// backend originate from the trusted OpenAPI spec or the admin plane; values
// always flow through parameter binding.
type Backend interface {
	Type() string
	Dialect() dialect.Dialect

	// InitializeSchema creates missing tables and migrates existing ones
	// toward the desired shape. Idempotent under the backend's migration
	// lock.
	InitializeSchema(ctx context.Context, tables []sdata.Table) error

	Select(ctx context.Context, q SelectQuery) ([]map[string]any, error)
	Insert(ctx context.Context, table string, cols []string, vals []any) (*InsertResult, error)
	Update(ctx context.Context, table string, cols []string, vals []any, pkCol string, pkVal any) (int64, error)
	Delete(ctx context.Context, table, pkCol string, pkVal any) (int64, error)

	GetTableSchema(ctx context.Context, table string) (*sdata.IntrospectedTable, error)
	ListTables(ctx context.Context) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}

// Cond is one equality condition of a WHERE clause.
type Cond struct {
	Column string
	Value  any
}

// SelectQuery describes a parameterised SELECT.
type SelectQuery struct {
	Table   string
	Columns []string // nil means *
	Where   []Cond
	Limit   *int64
	Offset  *int64
}

// InsertResult reports the outcome of an INSERT.
type InsertResult struct {
	Affected     int64
	LastInsertID int64
	HasInsertID  bool
	Returned     map[string]any // populated by RETURNING on postgres
}

// sqlBackend carries the query-building and row-scanning logic shared by
// both variants over database/sql.
type sqlBackend struct {
	db *sql.DB
	d  dialect.Dialect
}

func (b *sqlBackend) Dialect() dialect.Dialect { return b.d }

func (b *sqlBackend) Ping(ctx context.Context) error { return b.db.PingContext(ctx) }

func (b *sqlBackend) Close() error { return b.db.Close() }

// buildSelect renders the SELECT for a query with bind placeholders.
func (b *sqlBackend) buildSelect(q SelectQuery) (string, []any) {
	var sb strings.Builder
	var args []any

	sb.WriteString("SELECT ")
	if len(q.Columns) == 0 {
		sb.WriteString("*")
	} else {
		for i, c := range q.Columns {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(b.d.QuoteIdent(c))
		}
	}
	sb.WriteString(" FROM ")
	sb.WriteString(b.d.QuoteIdent(q.Table))

	for i, cond := range q.Where {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		args = append(args, cond.Value)
		sb.WriteString(b.d.QuoteIdent(cond.Column))
		sb.WriteString(" = ")
		sb.WriteString(b.d.Placeholder(len(args)))
	}

	if q.Limit != nil {
		args = append(args, *q.Limit)
		sb.WriteString(" LIMIT ")
		sb.WriteString(b.d.Placeholder(len(args)))
	}
	if q.Offset != nil {
		args = append(args, *q.Offset)
		sb.WriteString(" OFFSET ")
		sb.WriteString(b.d.Placeholder(len(args)))
	}
	return sb.String(), args
}

// Select runs the query and converts each row to a JSON-shaped map.
func (b *sqlBackend) Select(ctx context.Context, q SelectQuery) ([]map[string]any, error) {
	stmt, args := b.buildSelect(q)
	rows, err := b.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, WrapError(ErrDatabase, "select failed", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func (b *sqlBackend) buildUpdate(table string, cols []string, pkCol string) (string, int) {
	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(b.d.QuoteIdent(table))
	sb.WriteString(" SET ")
	for i, c := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(b.d.QuoteIdent(c))
		sb.WriteString(" = ")
		sb.WriteString(b.d.Placeholder(i + 1))
	}
	sb.WriteString(" WHERE ")
	sb.WriteString(b.d.QuoteIdent(pkCol))
	sb.WriteString(" = ")
	sb.WriteString(b.d.Placeholder(len(cols) + 1))
	return sb.String(), len(cols) + 1
}

func (b *sqlBackend) Update(ctx context.Context, table string, cols []string, vals []any, pkCol string, pkVal any) (int64, error) {
	if len(cols) == 0 {
		return 0, NewError(ErrValidation, "no columns to update")
	}
	stmt, _ := b.buildUpdate(table, cols, pkCol)
	args := append(append([]any{}, vals...), pkVal)

	res, err := b.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, WrapError(ErrDatabase, "update failed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, WrapError(ErrDatabase, "rows affected", err)
	}
	return n, nil
}

func (b *sqlBackend) Delete(ctx context.Context, table, pkCol string, pkVal any) (int64, error) {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		b.d.QuoteIdent(table), b.d.QuoteIdent(pkCol), b.d.Placeholder(1))

	res, err := b.db.ExecContext(ctx, stmt, pkVal)
	if err != nil {
		return 0, WrapError(ErrDatabase, "delete failed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, WrapError(ErrDatabase, "rows affected", err)
	}
	return n, nil
}

func (b *sqlBackend) buildInsert(table string, cols []string) string {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(b.d.QuoteIdent(table))
	sb.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(b.d.QuoteIdent(c))
	}
	sb.WriteString(") VALUES (")
	for i := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(b.d.Placeholder(i + 1))
	}
	sb.WriteString(")")
	return sb.String()
}

func (b *sqlBackend) ListTables(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, b.d.ListTablesSQL())
	if err != nil {
		return nil, WrapError(ErrDatabase, "list tables", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, WrapError(ErrDatabase, "scan table name", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// scanRows converts a result set into JSON-shaped maps using the decode
// ladder in bind.go.
func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, WrapError(ErrDatabase, "columns", err)
	}

	out := []map[string]any{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, WrapError(ErrDatabase, "scan row", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = decodeSQLValue(vals[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError(ErrDatabase, "rows", err)
	}
	return out, nil
}

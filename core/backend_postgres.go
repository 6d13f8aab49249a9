package core

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/declarest/declarest/core/internal/dialect"
	"github.com/declarest/declarest/core/internal/sdata"
)

// pgMigrationLockID is the advisory lock key serialising schema migration
// across all gateway instances sharing a database.
const pgMigrationLockID = 123456789

type postgresBackend struct {
	sqlBackend
}

// NewPostgresBackend wraps an open postgres handle (pgx through database/sql).
func NewPostgresBackend(db *sql.DB) Backend {
	return &postgresBackend{
		sqlBackend: sqlBackend{db: db, d: &dialect.Postgres{}},
	}
}

func (b *postgresBackend) Type() string { return "postgres" }

// Insert uses RETURNING * so the created row, defaults and serial id
// included, comes back in one round trip.
func (b *postgresBackend) Insert(ctx context.Context, table string, cols []string, vals []any) (*InsertResult, error) {
	stmt := b.buildInsert(table, cols) + " RETURNING *"

	rows, err := b.db.QueryContext(ctx, stmt, vals...)
	if err != nil {
		return nil, WrapError(ErrDatabase, "insert failed", err)
	}
	defer rows.Close()

	recs, err := scanRows(rows)
	if err != nil {
		return nil, err
	}

	out := &InsertResult{Affected: int64(len(recs))}
	if len(recs) > 0 {
		out.Returned = recs[0]
		if id, ok := recs[0]["id"]; ok {
			switch v := id.(type) {
			case int64:
				out.LastInsertID = v
				out.HasInsertID = true
			case float64:
				out.LastInsertID = int64(v)
				out.HasInsertID = true
			}
		}
	}
	return out, nil
}

func (b *postgresBackend) GetTableSchema(ctx context.Context, table string) (*sdata.IntrospectedTable, error) {
	const colQuery = `SELECT column_name, data_type, is_nullable, COALESCE(column_default, '')
FROM information_schema.columns
WHERE table_schema = 'public' AND table_name = $1
ORDER BY ordinal_position`

	rows, err := b.db.QueryContext(ctx, colQuery, table)
	if err != nil {
		return nil, WrapError(ErrDatabase, "introspect columns", err)
	}
	defer rows.Close()

	t := &sdata.IntrospectedTable{Name: table}
	for rows.Next() {
		var name, dtype, nullable, dflt string
		if err := rows.Scan(&name, &dtype, &nullable, &dflt); err != nil {
			return nil, WrapError(ErrDatabase, "scan column", err)
		}
		t.Columns = append(t.Columns, sdata.IntrospectedColumn{
			Name:     name,
			Type:     strings.ToUpper(dtype),
			Nullable: strings.EqualFold(nullable, "YES"),
			Default:  dflt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError(ErrDatabase, "introspect columns", err)
	}
	if len(t.Columns) == 0 {
		return nil, NewError(ErrNotFound, fmt.Sprintf("table %s not found", table))
	}

	const pkQuery = `SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
WHERE tc.table_schema = 'public' AND tc.table_name = $1 AND tc.constraint_type = 'PRIMARY KEY'`

	pkRows, err := b.db.QueryContext(ctx, pkQuery, table)
	if err != nil {
		return nil, WrapError(ErrDatabase, "introspect primary key", err)
	}
	defer pkRows.Close()

	for pkRows.Next() {
		var name string
		if err := pkRows.Scan(&name); err != nil {
			return nil, WrapError(ErrDatabase, "scan primary key", err)
		}
		if c := t.Column(name); c != nil {
			c.PrimaryKey = true
		}
	}
	return t, pkRows.Err()
}

func (b *postgresBackend) tableExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := b.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables
WHERE table_schema = 'public' AND table_name = $1`, name).Scan(&n)
	if err != nil {
		return false, WrapError(ErrDatabase, "table exists", err)
	}
	return n > 0, nil
}

// InitializeSchema reconciles the live schema under a session advisory lock,
// so parallel instances booting against the same database migrate one at a
// time. Postgres changes happen in place: ADD COLUMN IF NOT EXISTS plus
// SET/DROP NOT NULL; columns absent from the desired schema are left alone.
func (b *postgresBackend) InitializeSchema(ctx context.Context, tables []sdata.Table) error {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return WrapError(ErrDatabase, "acquire connection", err)
	}
	defer conn.Close()

	if err := acquireAdvisoryLock(ctx, conn); err != nil {
		return err
	}
	defer releaseAdvisoryLock(conn)

	for _, t := range tables {
		if err := b.migrateTable(ctx, conn, t); err != nil {
			return err
		}
	}
	return nil
}

// acquireAdvisoryLock tries the non-blocking form first so the common case
// returns immediately, then falls back to the blocking wait.
func acquireAdvisoryLock(ctx context.Context, conn *sql.Conn) error {
	var got bool
	err := conn.QueryRowContext(ctx,
		`SELECT pg_try_advisory_lock($1)`, pgMigrationLockID).Scan(&got)
	if err != nil {
		return WrapError(ErrDatabase, "advisory lock", err)
	}
	if got {
		return nil
	}
	if _, err := conn.ExecContext(ctx,
		`SELECT pg_advisory_lock($1)`, pgMigrationLockID); err != nil {
		return WrapError(ErrDatabase, "advisory lock wait", err)
	}
	return nil
}

// releaseAdvisoryLock unlocks on a fresh context: the migration context may
// already be cancelled and the lock must still be released.
func releaseAdvisoryLock(conn *sql.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, pgMigrationLockID)
}

func (b *postgresBackend) migrateTable(ctx context.Context, conn *sql.Conn, t sdata.Table) error {
	exists, err := b.tableExists(ctx, t.Name)
	if err != nil {
		return err
	}

	if !exists {
		if _, err := conn.ExecContext(ctx, b.d.CreateTable(t)); err != nil {
			return WrapError(ErrDatabase, fmt.Sprintf("create table %s", t.Name), err)
		}
		return b.createIndexes(ctx, conn, t)
	}

	cur, err := b.GetTableSchema(ctx, t.Name)
	if err != nil {
		return err
	}

	for _, c := range t.Columns {
		cc := cur.Column(c.Name)
		if cc == nil {
			if _, err := conn.ExecContext(ctx, b.d.AddColumn(t.Name, c)); err != nil {
				return WrapError(ErrDatabase,
					fmt.Sprintf("add column %s.%s", t.Name, c.Name), err)
			}
			continue
		}
		if c.PrimaryKey {
			continue
		}
		if cc.Nullable == c.Nullable {
			continue
		}
		pg := b.d.(*dialect.Postgres)
		if _, err := conn.ExecContext(ctx, pg.SetNotNull(t.Name, c.Name, !c.Nullable)); err != nil {
			return WrapError(ErrDatabase,
				fmt.Sprintf("alter column %s.%s", t.Name, c.Name), err)
		}
	}
	return b.createIndexes(ctx, conn, t)
}

func (b *postgresBackend) createIndexes(ctx context.Context, conn *sql.Conn, t sdata.Table) error {
	for _, idx := range t.Indexes {
		if _, err := conn.ExecContext(ctx, b.d.CreateIndex(t.Name, idx)); err != nil {
			return WrapError(ErrDatabase,
				fmt.Sprintf("create index %s", idx.Name), err)
		}
	}
	return nil
}

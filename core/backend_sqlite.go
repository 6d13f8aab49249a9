package core

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/declarest/declarest/core/internal/dialect"
	"github.com/declarest/declarest/core/internal/sdata"
)

// sqliteMigrationLocks serialises schema changes per database file. SQLite
// table recreation is multi-statement, so concurrent listeners sharing a file
// must not interleave.
var sqliteMigrationLocks sync.Map // file path -> *sync.Mutex

func sqliteLockFor(path string) *sync.Mutex {
	mu, _ := sqliteMigrationLocks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

type sqliteBackend struct {
	sqlBackend
	path string
}

// NewSqliteBackend wraps an open SQLite handle. The path identifies the
// database file for migration locking; in-memory databases use the DSN.
func NewSqliteBackend(db *sql.DB, path string) Backend {
	return &sqliteBackend{
		sqlBackend: sqlBackend{db: db, d: &dialect.Sqlite{}},
		path:       path,
	}
}

func (b *sqliteBackend) Type() string { return "sqlite" }

func (b *sqliteBackend) Insert(ctx context.Context, table string, cols []string, vals []any) (*InsertResult, error) {
	stmt := b.buildInsert(table, cols)
	res, err := b.db.ExecContext(ctx, stmt, vals...)
	if err != nil {
		return nil, WrapError(ErrDatabase, "insert failed", err)
	}

	out := &InsertResult{}
	if n, err := res.RowsAffected(); err == nil {
		out.Affected = n
	}
	if id, err := res.LastInsertId(); err == nil {
		out.LastInsertID = id
		out.HasInsertID = true
	}
	return out, nil
}

func (b *sqliteBackend) GetTableSchema(ctx context.Context, table string) (*sdata.IntrospectedTable, error) {
	rows, err := b.db.QueryContext(ctx,
		fmt.Sprintf("PRAGMA table_info(%s)", b.d.QuoteIdent(table)))
	if err != nil {
		return nil, WrapError(ErrDatabase, "table info", err)
	}
	defer rows.Close()

	t := &sdata.IntrospectedTable{Name: table}
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, WrapError(ErrDatabase, "scan table info", err)
		}
		t.Columns = append(t.Columns, sdata.IntrospectedColumn{
			Name:       name,
			Type:       strings.ToUpper(ctype),
			Nullable:   notNull == 0,
			PrimaryKey: pk > 0,
			Default:    dflt.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError(ErrDatabase, "table info", err)
	}
	if len(t.Columns) == 0 {
		return nil, NewError(ErrNotFound, fmt.Sprintf("table %s not found", table))
	}
	return t, nil
}

func (b *sqliteBackend) tableExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := b.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, WrapError(ErrDatabase, "table exists", err)
	}
	return n > 0, nil
}

// InitializeSchema creates missing tables and reconciles existing ones.
// Column additions that SQLite's ALTER TABLE can express happen in place;
// anything else (dropped columns, type or constraint changes) recreates the
// table and copies the shared columns over.
func (b *sqliteBackend) InitializeSchema(ctx context.Context, tables []sdata.Table) error {
	mu := sqliteLockFor(b.path)
	mu.Lock()
	defer mu.Unlock()

	for _, t := range tables {
		if err := b.migrateTable(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (b *sqliteBackend) migrateTable(ctx context.Context, t sdata.Table) error {
	exists, err := b.tableExists(ctx, t.Name)
	if err != nil {
		return err
	}

	if !exists {
		if _, err := b.db.ExecContext(ctx, b.d.CreateTable(t)); err != nil {
			return WrapError(ErrDatabase, fmt.Sprintf("create table %s", t.Name), err)
		}
		return b.createIndexes(ctx, t)
	}

	cur, err := b.GetTableSchema(ctx, t.Name)
	if err != nil {
		return err
	}

	if b.needsRecreate(cur, t) {
		if err := b.recreateTable(ctx, cur, t); err != nil {
			return err
		}
	} else {
		for _, c := range t.Columns {
			if cur.Column(c.Name) != nil {
				continue
			}
			if _, err := b.db.ExecContext(ctx, b.d.AddColumn(t.Name, c)); err != nil {
				return WrapError(ErrDatabase,
					fmt.Sprintf("add column %s.%s", t.Name, c.Name), err)
			}
		}
	}
	return b.createIndexes(ctx, t)
}

func (b *sqliteBackend) createIndexes(ctx context.Context, t sdata.Table) error {
	for _, idx := range t.Indexes {
		if _, err := b.db.ExecContext(ctx, b.d.CreateIndex(t.Name, idx)); err != nil {
			return WrapError(ErrDatabase,
				fmt.Sprintf("create index %s", idx.Name), err)
		}
	}
	return nil
}

// needsRecreate reports whether reconciling cur toward want requires the
// rename-create-copy-drop path. ADD COLUMN covers only new columns; every
// other difference needs a rebuild.
func (b *sqliteBackend) needsRecreate(cur *sdata.IntrospectedTable, want sdata.Table) bool {
	sq := b.d.(*dialect.Sqlite)

	for _, cc := range cur.Columns {
		wc := want.Column(cc.Name)
		if wc == nil {
			return true // column dropped from the desired schema
		}
		if !strings.EqualFold(cc.Type, sq.TypeName(wc.Type)) {
			return true
		}
		if cc.PrimaryKey != wc.PrimaryKey {
			return true
		}
		// INTEGER PRIMARY KEY implies its own null handling; compare
		// nullability only on ordinary columns.
		if !wc.PrimaryKey && cc.Nullable != wc.Nullable {
			return true
		}
		// PRAGMA table_info reports the default literal as written in the DDL.
		if !strings.EqualFold(cc.Default, wc.DefaultValue) {
			return true
		}
	}
	return false
}

// recreateTable applies the SQLite rebuild: rename aside, create the desired
// shape, copy the intersection of columns, drop the renamed original.
func (b *sqliteBackend) recreateTable(ctx context.Context, cur *sdata.IntrospectedTable, want sdata.Table) error {
	tmp := fmt.Sprintf("%s_old_%s", want.Name,
		strings.ReplaceAll(uuid.NewString(), "-", ""))

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return WrapError(ErrDatabase, "begin migration", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, b.d.RenameTable(want.Name, tmp)); err != nil {
		return WrapError(ErrDatabase, fmt.Sprintf("rename table %s", want.Name), err)
	}
	if _, err := tx.ExecContext(ctx, b.d.CreateTable(want)); err != nil {
		return WrapError(ErrDatabase, fmt.Sprintf("recreate table %s", want.Name), err)
	}

	var shared []string
	for _, c := range want.Columns {
		if cur.Column(c.Name) != nil {
			shared = append(shared, b.d.QuoteIdent(c.Name))
		}
	}
	if len(shared) > 0 {
		cols := strings.Join(shared, ", ")
		copyStmt := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
			b.d.QuoteIdent(want.Name), cols, cols, b.d.QuoteIdent(tmp))
		if _, err := tx.ExecContext(ctx, copyStmt); err != nil {
			return WrapError(ErrDatabase, fmt.Sprintf("copy rows into %s", want.Name), err)
		}
	}

	if _, err := tx.ExecContext(ctx, b.d.DropTable(tmp)); err != nil {
		return WrapError(ErrDatabase, fmt.Sprintf("drop table %s", tmp), err)
	}
	if err := tx.Commit(); err != nil {
		return WrapError(ErrDatabase, "commit migration", err)
	}
	return nil
}

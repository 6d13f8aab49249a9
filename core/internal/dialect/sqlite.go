package dialect

import (
	"fmt"
	"strings"

	"github.com/declarest/declarest/core/internal/sdata"
)

// Sqlite renders DDL for SQLite. Tables are created with IF NOT EXISTS so
// schema initialization is idempotent; schema changes beyond ADD COLUMN use
// the rename-create-copy-drop strategy driven by the backend.
type Sqlite struct{}

func (d *Sqlite) Name() string { return "sqlite" }

func (d *Sqlite) QuoteIdent(s string) string {
	return `"` + s + `"`
}

func (d *Sqlite) Placeholder(int) string { return "?" }

// TypeName returns the SQLite storage type for a generic column type. Exposed
// so the backend can compare introspected columns against the desired schema.
func (d *Sqlite) TypeName(t string) string { return d.mapType(t) }

func (d *Sqlite) mapType(t string) string {
	switch sdata.NormalizeType(t) {
	case sdata.TypeInteger, sdata.TypeBigint, sdata.TypeSmallint:
		return "INTEGER"
	case sdata.TypeText, sdata.TypeString, sdata.TypeVarchar, sdata.TypeChar:
		return "TEXT"
	case sdata.TypeReal, sdata.TypeFloat, sdata.TypeDouble, sdata.TypeDecimal, sdata.TypeNumeric:
		return "REAL"
	case sdata.TypeBoolean:
		return "INTEGER"
	case sdata.TypeBlob:
		return "BLOB"
	case sdata.TypeDatetime, sdata.TypeTimestamp:
		return "DATETIME"
	case sdata.TypeDate:
		return "DATE"
	case sdata.TypeTime:
		return "TIME"
	default:
		return "TEXT"
	}
}

func (d *Sqlite) ColumnDDL(c sdata.Column) string {
	if c.PrimaryKey && c.AutoIncrement {
		return fmt.Sprintf("%s INTEGER PRIMARY KEY AUTOINCREMENT", d.QuoteIdent(c.Name))
	}

	def := fmt.Sprintf("%s %s", d.QuoteIdent(c.Name), d.mapType(c.Type))
	if c.PrimaryKey {
		return def + " PRIMARY KEY"
	}
	if !c.Nullable {
		def += " NOT NULL"
	}
	if c.Unique {
		def += " UNIQUE"
	}
	if c.DefaultValue != "" {
		def += " DEFAULT " + c.DefaultValue
	}
	return def
}

// AddColumnDDL is the restricted ALTER TABLE form: SQLite rejects adding a
// NOT NULL column without a default to a populated table.
func (d *Sqlite) AddColumnDDL(c sdata.Column) string {
	def := fmt.Sprintf("%s %s", d.QuoteIdent(c.Name), d.mapType(c.Type))
	if c.DefaultValue != "" {
		if !c.Nullable {
			def += " NOT NULL"
		}
		def += " DEFAULT " + c.DefaultValue
	}
	return def
}

func (d *Sqlite) CreateTable(t sdata.Table) string {
	cols := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		cols = append(cols, "  "+d.ColumnDDL(c))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)",
		d.QuoteIdent(t.Name), strings.Join(cols, ",\n"))
}

func (d *Sqlite) AddColumn(table string, c sdata.Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s",
		d.QuoteIdent(table), d.AddColumnDDL(c))
}

func (d *Sqlite) CreateIndex(table string, idx sdata.Index) string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = d.QuoteIdent(c)
	}
	return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		unique, d.QuoteIdent(idx.Name), d.QuoteIdent(table), strings.Join(cols, ", "))
}

func (d *Sqlite) RenameTable(oldName, newName string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s",
		d.QuoteIdent(oldName), d.QuoteIdent(newName))
}

func (d *Sqlite) DropTable(name string) string {
	return fmt.Sprintf("DROP TABLE %s", d.QuoteIdent(name))
}

func (d *Sqlite) ListTablesSQL() string {
	return `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`
}

package dialect

import (
	"fmt"
	"strings"

	"github.com/declarest/declarest/core/internal/sdata"
)

// Postgres renders DDL for PostgreSQL. Integer primary keys with
// auto-increment become SERIAL PRIMARY KEY; SERIAL already implies NOT NULL
// so it is omitted there.
type Postgres struct{}

func (d *Postgres) Name() string { return "postgres" }

func (d *Postgres) QuoteIdent(s string) string {
	return `"` + s + `"`
}

func (d *Postgres) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// TypeName returns the postgres type for a generic column type.
func (d *Postgres) TypeName(t string) string { return d.mapType(t) }

func (d *Postgres) mapType(t string) string {
	switch sdata.NormalizeType(t) {
	case sdata.TypeInteger:
		return "INTEGER"
	case sdata.TypeBigint:
		return "BIGINT"
	case sdata.TypeSmallint:
		return "SMALLINT"
	case sdata.TypeText, sdata.TypeString:
		return "TEXT"
	case sdata.TypeVarchar:
		return "VARCHAR(255)"
	case sdata.TypeChar:
		return "CHAR(1)"
	case sdata.TypeReal, sdata.TypeFloat:
		return "REAL"
	case sdata.TypeDouble:
		return "DOUBLE PRECISION"
	case sdata.TypeDecimal, sdata.TypeNumeric:
		return "NUMERIC"
	case sdata.TypeBoolean:
		return "BOOLEAN"
	case sdata.TypeBlob:
		return "BYTEA"
	case sdata.TypeDatetime, sdata.TypeTimestamp:
		return "TIMESTAMPTZ"
	case sdata.TypeDate:
		return "DATE"
	case sdata.TypeTime:
		return "TIME"
	default:
		return "TEXT"
	}
}

func (d *Postgres) ColumnDDL(c sdata.Column) string {
	if c.PrimaryKey && c.AutoIncrement && sdata.IsIntegerType(c.Type) {
		return fmt.Sprintf("%s SERIAL PRIMARY KEY", d.QuoteIdent(c.Name))
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

func (d *Postgres) AddColumnDDL(c sdata.Column) string {
	return d.ColumnDDL(c)
}

func (d *Postgres) CreateTable(t sdata.Table) string {
	cols := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		cols = append(cols, "  "+d.ColumnDDL(c))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)",
		d.QuoteIdent(t.Name), strings.Join(cols, ",\n"))
}

func (d *Postgres) AddColumn(table string, c sdata.Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s",
		d.QuoteIdent(table), d.AddColumnDDL(c))
}

// SetNotNull renders the in-place nullability change used by the postgres
// migration policy.
func (d *Postgres) SetNotNull(table, column string, notNull bool) string {
	verb := "DROP"
	if notNull {
		verb = "SET"
	}
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s %s NOT NULL",
		d.QuoteIdent(table), d.QuoteIdent(column), verb)
}

func (d *Postgres) CreateIndex(table string, idx sdata.Index) string {
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

func (d *Postgres) RenameTable(oldName, newName string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s",
		d.QuoteIdent(oldName), d.QuoteIdent(newName))
}

func (d *Postgres) DropTable(name string) string {
	return fmt.Sprintf("DROP TABLE %s", d.QuoteIdent(name))
}

func (d *Postgres) ListTablesSQL() string {
	return `SELECT table_name FROM information_schema.tables
WHERE table_schema = 'public' AND table_type = 'BASE TABLE'`
}

package dialect

import (
	"testing"

	"github.com/declarest/declarest/core/internal/sdata"
)

var usersTable = sdata.Table{
	Name: "users",
	Columns: []sdata.Column{
		{Name: "id", Type: sdata.TypeInteger, PrimaryKey: true, AutoIncrement: true},
		{Name: "name", Type: sdata.TypeText},
		{Name: "email", Type: sdata.TypeText, Nullable: true, Unique: true},
		{Name: "createdAt", Type: sdata.TypeTimestamp, DefaultValue: "CURRENT_TIMESTAMP"},
	},
}

func TestSqliteCreateTable(t *testing.T) {
	d := &Sqlite{}
	want := `CREATE TABLE IF NOT EXISTS "users" (
  "id" INTEGER PRIMARY KEY AUTOINCREMENT,
  "name" TEXT NOT NULL,
  "email" TEXT UNIQUE,
  "createdAt" DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`
	if got := d.CreateTable(usersTable); got != want {
		t.Errorf("sqlite create table:\n%s\nwant:\n%s", got, want)
	}
}

func TestPostgresCreateTable(t *testing.T) {
	d := &Postgres{}
	want := `CREATE TABLE IF NOT EXISTS "users" (
  "id" SERIAL PRIMARY KEY,
  "name" TEXT NOT NULL,
  "email" TEXT UNIQUE,
  "createdAt" TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
)`
	if got := d.CreateTable(usersTable); got != want {
		t.Errorf("postgres create table:\n%s\nwant:\n%s", got, want)
	}
}

func TestSqliteAddColumnRestrictions(t *testing.T) {
	d := &Sqlite{}

	// NOT NULL without a default cannot be added to a populated table.
	got := d.AddColumn("users", sdata.Column{Name: "age", Type: sdata.TypeInteger})
	want := `ALTER TABLE "users" ADD COLUMN "age" INTEGER`
	if got != want {
		t.Errorf("add column = %q, want %q", got, want)
	}

	got = d.AddColumn("users", sdata.Column{
		Name: "status", Type: sdata.TypeText, DefaultValue: "'new'",
	})
	want = `ALTER TABLE "users" ADD COLUMN "status" TEXT NOT NULL DEFAULT 'new'`
	if got != want {
		t.Errorf("add column = %q, want %q", got, want)
	}
}

func TestCreateIndex(t *testing.T) {
	idx := sdata.Index{Name: "idx_users_email", Columns: []string{"email"}, Unique: true}

	sq := (&Sqlite{}).CreateIndex("users", idx)
	want := `CREATE UNIQUE INDEX IF NOT EXISTS "idx_users_email" ON "users" ("email")`
	if sq != want {
		t.Errorf("sqlite index = %q, want %q", sq, want)
	}
	pg := (&Postgres{}).CreateIndex("users", idx)
	if pg != want {
		t.Errorf("postgres index = %q, want %q", pg, want)
	}
}

func TestPlaceholders(t *testing.T) {
	if got := (&Sqlite{}).Placeholder(3); got != "?" {
		t.Errorf("sqlite placeholder = %q", got)
	}
	if got := (&Postgres{}).Placeholder(3); got != "$3" {
		t.Errorf("postgres placeholder = %q", got)
	}
}

func TestPostgresSetNotNull(t *testing.T) {
	d := &Postgres{}
	if got := d.SetNotNull("users", "name", true); got != `ALTER TABLE "users" ALTER COLUMN "name" SET NOT NULL` {
		t.Errorf("set not null = %q", got)
	}
	if got := d.SetNotNull("users", "name", false); got != `ALTER TABLE "users" ALTER COLUMN "name" DROP NOT NULL` {
		t.Errorf("drop not null = %q", got)
	}
}

func TestTypeMappingFallback(t *testing.T) {
	// Unknown types land on text in both dialects.
	if got := (&Sqlite{}).TypeName("geometry"); got != "TEXT" {
		t.Errorf("sqlite unknown type = %q", got)
	}
	if got := (&Postgres{}).TypeName("geometry"); got != "TEXT" {
		t.Errorf("postgres unknown type = %q", got)
	}
	if got := (&Sqlite{}).TypeName("boolean"); got != "INTEGER" {
		t.Errorf("sqlite boolean = %q", got)
	}
	if got := (&Postgres{}).TypeName("boolean"); got != "BOOLEAN" {
		t.Errorf("postgres boolean = %q", got)
	}
}

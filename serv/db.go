package serv

import (
	"fmt"
	"strings"
	"time"

	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

type dbConf struct {
	dbType     string
	driverName string
	connString string

	// path identifies the database file for the sqlite migration mutex.
	path string

	// cleanup releases driver-level registrations after the pool closes.
	cleanup func()
}

// parseDBConf resolves the driver and connection string from a datasource
// config. Recognized forms: sqlite:<path>, sqlite::memory:, postgres://...
func parseDBConf(d Database) (*dbConf, error) {
	cs := strings.TrimSpace(d.ConnString)

	switch {
	case strings.HasPrefix(cs, "postgres://"), strings.HasPrefix(cs, "postgresql://"),
		d.Type == "postgres":
		if cs == "" {
			return nil, fmt.Errorf("postgres requires a connection string")
		}
		config, err := pgx.ParseConfig(cs)
		if err != nil {
			return nil, fmt.Errorf("parse postgres url: %w", err)
		}
		// RegisterConnConfig grows a process-wide map; reloads must unregister
		// once the pool using the registration is gone.
		reg := stdlib.RegisterConnConfig(config)
		return &dbConf{
			dbType:     "postgres",
			driverName: "pgx",
			connString: reg,
			cleanup:    func() { stdlib.UnregisterConnConfig(reg) },
		}, nil

	case strings.HasPrefix(cs, "sqlite:"), d.Type == "sqlite", d.Type == "":
		path := strings.TrimPrefix(cs, "sqlite:")
		if path == "" {
			return nil, fmt.Errorf("sqlite requires a path or :memory:")
		}
		// WAL plus a 5s busy timeout so concurrent listeners sharing the
		// file do not trip over short lock contention.
		conn := "file:" + path +
			"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		if path == ":memory:" {
			conn = ":memory:"
		}
		return &dbConf{
			dbType:     "sqlite",
			driverName: "sqlite",
			connString: conn,
			path:       path,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported database %q: supported types are sqlite, postgres", cs)
	}
}

// newDB opens the datasource with a bounded retry ping loop.
func newDB(d Database, log *zap.SugaredLogger) (*sql.DB, *dbConf, error) {
	dc, err := parseDBConf(d)
	if err != nil {
		return nil, nil, err
	}

	pool := d.PoolSize
	if dc.dbType == "sqlite" && dc.path == ":memory:" {
		// every pooled connection to :memory: opens its own database
		pool = 1
	}

	var db *sql.DB
	for i := 0; ; i++ {
		db, err = sql.Open(dc.driverName, dc.connString)
		if err == nil {
			db.SetMaxOpenConns(pool)
			db.SetMaxIdleConns(pool)

			if err = db.Ping(); err == nil {
				return db, dc, nil
			}
			db.Close()
			log.Warnf("database ping: %s", err)
		} else {
			log.Warnf("database open: %s", err)
		}

		if i > 50 {
			return nil, nil, err
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}
}

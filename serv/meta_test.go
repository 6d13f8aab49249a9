package serv

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func newMetaDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	for _, ddl := range []string{
		`CREATE TABLE _meta_api_configs (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			spec TEXT NOT NULL,
			datasource_name TEXT,
			modules_config TEXT,
			listeners TEXT
		)`,
		`CREATE TABLE _meta_listeners (
			id INTEGER PRIMARY KEY,
			port INTEGER NOT NULL,
			config TEXT NOT NULL
		)`,
		`CREATE TABLE _meta_datasources (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			config TEXT NOT NULL
		)`,
		`CREATE TABLE _meta_auth_configs (
			id INTEGER PRIMARY KEY,
			config TEXT NOT NULL
		)`,
	} {
		_, err := db.Exec(ddl)
		require.NoError(t, err)
	}
	return db
}

func TestLoadAPIConfigs(t *testing.T) {
	db := newMetaDB(t)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO _meta_api_configs
		(id, name, version, spec, datasource_name, modules_config, listeners)
		VALUES
		(1, 'orders-api', 2, '{"openapi":"3.0.0"}', 'main', '{"listener":["cors"]}', '["public"]'),
		(2, 'everywhere-api', 1, '{"openapi":"3.0.0"}', NULL, NULL, NULL)`)
	require.NoError(t, err)

	apis, err := loadAPIConfigs(ctx, db)
	require.NoError(t, err)
	require.Len(t, apis, 2)

	orders := apis[0]
	assert.Equal(t, "orders-api", orders.Name)
	assert.Equal(t, int64(2), orders.Version)
	assert.Equal(t, "main", orders.DatasourceName)
	assert.Equal(t, []string{"public"}, orders.Listeners)
	assert.True(t, orders.ServesListener("public"))
	assert.False(t, orders.ServesListener("internal"))

	// no listener list means served on every listener
	everywhere := apis[1]
	assert.Empty(t, everywhere.DatasourceName)
	assert.True(t, everywhere.ServesListener("public"))
	assert.True(t, everywhere.ServesListener("internal"))

	mc, err := decodeModulesConfig(orders.ModulesConfig)
	require.NoError(t, err)
	assert.Equal(t, []string{"cors"}, mc.Listener)
}

func TestLoadListeners(t *testing.T) {
	db := newMetaDB(t)

	_, err := db.Exec(`INSERT INTO _meta_listeners (id, port, config) VALUES
		(1, 8081, '{"name":"public","host_port":"0.0.0.0:8081","apis":["orders-api"]}')`)
	require.NoError(t, err)

	rows, err := loadListeners(context.Background(), db)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(8081), rows[0].Port)
	assert.Equal(t, "public", rows[0].Config.Name)
	assert.Equal(t, "0.0.0.0:8081", rows[0].Config.HostPort)
	assert.Equal(t, []string{"orders-api"}, rows[0].Config.APIs)
}

func TestLoadDatasources(t *testing.T) {
	db := newMetaDB(t)

	_, err := db.Exec(`INSERT INTO _meta_datasources (id, name, type, config) VALUES
		(1, 'main', 'sqlite', '{"connection_string":"sqlite:/data/main.db","max_pool_size":4}'),
		(2, 'analytics', 'postgres', '{"connection_string":"postgres://gw@db/app"}')`)
	require.NoError(t, err)

	ds, err := loadDatasources(context.Background(), db)
	require.NoError(t, err)
	require.Len(t, ds, 2)

	main := ds["main"]
	assert.Equal(t, "sqlite", main.Type)
	assert.Equal(t, "sqlite:/data/main.db", main.ConnString)
	assert.Equal(t, 4, main.PoolSize)

	// the type column backfills a config document without one
	assert.Equal(t, "postgres", ds["analytics"].Type)
}

func TestLoadAuthConfigs(t *testing.T) {
	db := newMetaDB(t)

	_, err := db.Exec(`INSERT INTO _meta_auth_configs (id, config) VALUES
		(1, '{"name":"sso","type":"oidc","enabled":true,"issuer":"https://id.example"}')`)
	require.NoError(t, err)

	auths, err := loadAuthConfigs(context.Background(), db)
	require.NoError(t, err)
	require.Len(t, auths, 1)
	assert.Equal(t, "sso", auths[0].Name)
	assert.Equal(t, "oidc", auths[0].Type)
	assert.True(t, auths[0].Enabled)
	assert.Equal(t, "https://id.example", auths[0].Issuer)
}

func TestDecodeModulesConfigEmpty(t *testing.T) {
	mc, err := decodeModulesConfig("")
	require.NoError(t, err)
	assert.Empty(t, mc.Listener)

	_, err = decodeModulesConfig("{bad json")
	require.Error(t, err)
}

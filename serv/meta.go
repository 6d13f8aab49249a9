package serv

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/declarest/declarest/core"
)

// Metadata tables are control-plane owned; the data plane only ever reads
// them.
const (
	metaAPIConfigs  = "_meta_api_configs"
	metaListeners   = "_meta_listeners"
	metaDatasources = "_meta_datasources"
	metaAuthConfigs = "_meta_auth_configs"
)

// apiConfigRow is one row of _meta_api_configs.
type apiConfigRow struct {
	ID             int64
	Name           string
	Version        int64
	Spec           string
	DatasourceName string
	ModulesConfig  string
	Listeners      []string
}

// ServesListener reports whether this api is assigned to the named listener.
// An api with no listener list is served everywhere.
func (r *apiConfigRow) ServesListener(name string) bool {
	if len(r.Listeners) == 0 {
		return true
	}
	for _, l := range r.Listeners {
		if l == name {
			return true
		}
	}
	return false
}

func loadAPIConfigs(ctx context.Context, db *sql.DB) ([]apiConfigRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, version, spec, datasource_name, modules_config, listeners
FROM `+metaAPIConfigs+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load api configs: %w", err)
	}
	defer rows.Close()

	var out []apiConfigRow
	for rows.Next() {
		var r apiConfigRow
		var ds, mc, ls sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &r.Version, &r.Spec, &ds, &mc, &ls); err != nil {
			return nil, fmt.Errorf("scan api config: %w", err)
		}
		r.DatasourceName = ds.String
		r.ModulesConfig = mc.String
		if ls.String != "" {
			if err := json.Unmarshal([]byte(ls.String), &r.Listeners); err != nil {
				return nil, fmt.Errorf("api config %s: parse listeners: %w", r.Name, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// listenerRow is one row of _meta_listeners; the config column holds a
// Listener JSON document.
type listenerRow struct {
	ID     int64
	Port   int64
	Config Listener
}

func loadListeners(ctx context.Context, db *sql.DB) ([]listenerRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, port, config FROM `+metaListeners+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load listeners: %w", err)
	}
	defer rows.Close()

	var out []listenerRow
	for rows.Next() {
		var r listenerRow
		var raw string
		if err := rows.Scan(&r.ID, &r.Port, &raw); err != nil {
			return nil, fmt.Errorf("scan listener: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &r.Config); err != nil {
			return nil, fmt.Errorf("listener %d: parse config: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func loadDatasources(ctx context.Context, db *sql.DB) (map[string]Database, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name, type, config FROM `+metaDatasources+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load datasources: %w", err)
	}
	defer rows.Close()

	out := map[string]Database{}
	for rows.Next() {
		var name, dbType, raw string
		if err := rows.Scan(&name, &dbType, &raw); err != nil {
			return nil, fmt.Errorf("scan datasource: %w", err)
		}
		var d Database
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("datasource %s: parse config: %w", name, err)
		}
		if d.Type == "" {
			d.Type = dbType
		}
		out[name] = d
	}
	return out, rows.Err()
}

func loadAuthConfigs(ctx context.Context, db *sql.DB) ([]core.Authenticator, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, config FROM `+metaAuthConfigs+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load auth configs: %w", err)
	}
	defer rows.Close()

	var out []core.Authenticator
	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan auth config: %w", err)
		}
		var a core.Authenticator
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("auth config %d: parse: %w", id, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

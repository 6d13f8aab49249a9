package core

import (
	"database/sql"

	"go.uber.org/zap"
)

// Consumer is one configured API consumer.
type Consumer struct {
	Name   string `mapstructure:"name" json:"name"`
	APIKey string `mapstructure:"api_key" json:"api_key"`
}

// Authenticator is one configured authentication method. Type selects the
// module family: "key" for api-key lookup, "oidc" for bearer tokens.
type Authenticator struct {
	Name    string `mapstructure:"name" json:"name"`
	Type    string `mapstructure:"type" json:"type"`
	Enabled bool   `mapstructure:"enabled" json:"enabled"`

	// key auth
	HeaderName string `mapstructure:"header_name" json:"header_name"`
	QueryName  string `mapstructure:"query_name" json:"query_name"`

	// oidc
	Issuer           string `mapstructure:"issuer" json:"issuer"`
	Audience         string `mapstructure:"audience" json:"audience"`
	UseIntrospection bool   `mapstructure:"use_introspection" json:"use_introspection"`
	ClientID         string `mapstructure:"client_id" json:"client_id"`
	ClientSecret     string `mapstructure:"client_secret" json:"client_secret"`
}

// App is one immutable configuration snapshot seen by the pipeline. The
// service layer rebuilds it wholesale on configuration changes and installs
// it atomically; nothing here is mutated after construction.
type App struct {
	Gateway *Gateway

	// Module registries by scope. Operation keys are "METHOD path_pattern",
	// route keys are the bare path pattern.
	ListenerMods  *Registry
	RouteMods     map[string]*Registry
	OperationMods map[string]*Registry

	Consumers      map[string]Consumer
	KeyIndex       map[string]string // api key -> consumer name
	Authenticators []Authenticator

	// MetaDB is the control-plane metadata handle, nil when no CP database
	// is attached.
	MetaDB *sql.DB

	Log *zap.SugaredLogger
}

// ConsumerForKey resolves an api key to its consumer.
func (app *App) ConsumerForKey(key string) (Consumer, bool) {
	name, ok := app.KeyIndex[key]
	if !ok {
		return Consumer{}, false
	}
	c, ok := app.Consumers[name]
	return c, ok
}

// activeRegistry resolves the single registry governing Access and BodyParse:
// operation level wins over route level, which wins over listener level.
func (app *App) activeRegistry(rp *RoutePattern, method string) *Registry {
	if rp != nil {
		if reg := app.OperationMods[rp.Key(method)]; reg != nil {
			return reg
		}
		if reg := app.RouteMods[rp.PathPattern]; reg != nil {
			return reg
		}
	}
	return app.ListenerMods
}

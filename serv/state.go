package serv

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/declarest/declarest/core"
	"github.com/declarest/declarest/modules"
)

// appSnapshot pairs one configuration snapshot with the count of requests
// currently pinned to it. A retired snapshot closes its backend once the last
// request releases it, so a reload never yanks the pool out from under an
// in-flight query.
type appSnapshot struct {
	app     *core.App
	cleanup func() // driver-level teardown after the pool closes

	refs    atomic.Int64
	retired atomic.Bool
	once    sync.Once
}

func (s *appSnapshot) closeNow() {
	s.once.Do(func() {
		if s.app != nil && s.app.Gateway != nil {
			s.app.Gateway.Backend().Close()
		}
		if s.cleanup != nil {
			s.cleanup()
		}
	})
}

func (s *appSnapshot) release() {
	if s.refs.Add(-1) == 0 && s.retired.Load() {
		s.closeNow()
	}
}

// retire marks the snapshot replaced. The close happens here when no request
// holds it, otherwise in the last release.
func (s *appSnapshot) retire() {
	s.retired.Store(true)
	if s.refs.Load() == 0 {
		s.closeNow()
	}
}

// ListenerService is the live handle of one listener: the current
// configuration snapshot behind an atomic.Value. Requests pin the snapshot
// once at entry; the poller replaces it wholesale and never mutates it.
type ListenerService struct {
	atomic.Value // holds *appSnapshot

	name     string
	hostPort string
	log      *zap.SugaredLogger
}

// App returns the current snapshot's app, nil before the first Store.
func (ls *ListenerService) App() *core.App {
	snap, _ := ls.Load().(*appSnapshot)
	if snap == nil {
		return nil
	}
	return snap.app
}

// Acquire pins the current snapshot for one request. The returned release
// must be called when the request finishes; it frees the backend of a
// replaced snapshot once the last holder lets go.
func (ls *ListenerService) Acquire() (*core.App, func()) {
	for {
		snap, _ := ls.Load().(*appSnapshot)
		if snap == nil {
			return nil, func() {}
		}
		snap.refs.Add(1)
		if !snap.retired.Load() {
			return snap.app, snap.release
		}
		// Retired between load and pin. When a replacement is installed,
		// drop the ref and retry against it; during shutdown there is none
		// and the retired snapshot keeps serving until released.
		if next, _ := ls.Load().(*appSnapshot); next == snap {
			return snap.app, snap.release
		}
		snap.release()
	}
}

// Store installs a new snapshot and retires the previous one, if any.
func (ls *ListenerService) Store(app *core.App, cleanup func()) {
	next := &appSnapshot{app: app, cleanup: cleanup}
	if prev, ok := ls.Value.Swap(next).(*appSnapshot); ok && prev != nil {
		prev.retire()
	}
}

// Close retires the current snapshot without a replacement. With the HTTP
// servers drained this closes the backend immediately.
func (ls *ListenerService) Close() {
	if snap, ok := ls.Load().(*appSnapshot); ok && snap != nil {
		snap.retire()
	}
}

// modulesConfig is the optional per-api module wiring stored with an api
// config row.
type modulesConfig struct {
	Listener   []string            `json:"listener"`
	Routes     map[string][]string `json:"routes"`
	Operations map[string][]string `json:"operations"`
}

// stateInput gathers everything BuildState needs, whether it came from the
// static config or the metadata database.
type stateInput struct {
	SpecJSON       []byte
	Datasource     Database
	ModulesConfig  modulesConfig
	Authenticators []core.Authenticator
	Consumers      []core.Consumer
	MetaDB         *sql.DB
}

// BuildState constructs a complete App snapshot: backend, gateway, schema
// initialization and module registries. It either fully succeeds or returns
// an error leaving no partial state behind. The returned cleanup releases
// driver-level registrations and must run after the app's backend closes.
func BuildState(ctx context.Context, conf *Config, in stateInput, log *zap.SugaredLogger, zlog *zap.Logger) (*core.App, func(), error) {
	db, dc, err := newDB(in.Datasource, log)
	if err != nil {
		return nil, nil, fmt.Errorf("open datasource: %w", err)
	}
	fail := func(err error) (*core.App, func(), error) {
		db.Close()
		if dc.cleanup != nil {
			dc.cleanup()
		}
		return nil, nil, err
	}

	var be core.Backend
	if dc.dbType == "postgres" {
		be = core.NewPostgresBackend(db)
	} else {
		be = core.NewSqliteBackend(db, dc.path)
	}

	gw, err := core.NewGateway(be, in.SpecJSON)
	if err != nil {
		return fail(fmt.Errorf("build gateway: %w", err))
	}
	if err := gw.InitializeSchema(ctx); err != nil {
		return fail(fmt.Errorf("initialize schema: %w", err))
	}

	app := &core.App{
		Gateway:        gw,
		Consumers:      map[string]core.Consumer{},
		KeyIndex:       map[string]string{},
		Authenticators: in.Authenticators,
		MetaDB:         in.MetaDB,
		Log:            log,
	}
	for _, c := range in.Consumers {
		app.Consumers[c.Name] = c
		if c.APIKey != "" {
			app.KeyIndex[c.APIKey] = c.Name
		}
	}

	if err := buildRegistries(app, conf, in, zlog); err != nil {
		return fail(err)
	}
	return app, dc.cleanup, nil
}

// buildRegistries wires the listener baseline plus the per-route and
// per-operation module lists coming from x-modules, security requirements and
// the api's modules_config.
func buildRegistries(app *core.App, conf *Config, in stateInput, zlog *zap.Logger) error {
	mcfg := modules.Config{
		MaxBodySize:    conf.MaxBodySize,
		AllowedOrigins: conf.AllowedOrigins,
		Logger:         zlog,
	}

	baseline := []string{"validate", "access_log"}
	if len(conf.AllowedOrigins) > 0 {
		baseline = append(baseline, "cors")
	}
	baseline = append(baseline, in.ModulesConfig.Listener...)

	listenerReg, err := buildRegistry(baseline, mcfg)
	if err != nil {
		return err
	}
	app.ListenerMods = listenerReg
	app.RouteMods = map[string]*core.Registry{}
	app.OperationMods = map[string]*core.Registry{}

	for pattern, names := range in.ModulesConfig.Routes {
		reg, err := buildRegistry(names, mcfg)
		if err != nil {
			return err
		}
		app.RouteMods[pattern] = reg
	}

	for _, rp := range app.Gateway.Generator().Routes() {
		names := append([]string{}, rp.AccessModules...)
		names = append(names, rp.RewriteModules...)
		if extra, ok := in.ModulesConfig.Operations[rp.Key(rp.Methods[0])]; ok {
			names = append(names, extra...)
		}
		if len(names) == 0 {
			continue
		}
		// Operation registries replace the listener baseline for Access and
		// BodyParse, so validation is re-attached in front.
		reg, err := buildRegistry(append([]string{"validate"}, names...), mcfg)
		if err != nil {
			return err
		}
		app.OperationMods[rp.Key(rp.Methods[0])] = reg
	}
	return nil
}

func buildRegistry(names []string, cfg modules.Config) (*core.Registry, error) {
	reg := core.NewRegistry()
	seen := map[string]bool{}
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		m, err := modules.New(name, cfg)
		if err != nil {
			return nil, err
		}
		reg.Add(m)
	}
	return reg, nil
}

// staticStateInput derives a stateInput from the file-based configuration,
// used when no metadata database is attached.
func staticStateInput(conf *Config) (stateInput, error) {
	if conf.SpecFile == "" {
		return stateInput{}, fmt.Errorf("no spec_file configured and no metadata database attached")
	}
	spec, err := os.ReadFile(conf.SpecFile)
	if err != nil {
		return stateInput{}, fmt.Errorf("read spec file: %w", err)
	}
	return stateInput{
		SpecJSON:       spec,
		Datasource:     conf.Database,
		Authenticators: conf.Authenticators,
		Consumers:      conf.Consumers,
	}, nil
}

// decodeModulesConfig parses the modules_config JSON column; empty input
// yields the zero value.
func decodeModulesConfig(raw string) (modulesConfig, error) {
	var mc modulesConfig
	if raw == "" {
		return mc, nil
	}
	if err := json.Unmarshal([]byte(raw), &mc); err != nil {
		return mc, fmt.Errorf("parse modules_config: %w", err)
	}
	return mc, nil
}

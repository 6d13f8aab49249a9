package serv

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"

	"go.uber.org/zap"

	"github.com/declarest/declarest/core"
	"github.com/declarest/declarest/serv/internal/util"
)

var version string

const serverName = "declarest"

// Service is the process-level supervisor: it owns the metadata database
// handle, spawns listener goroutines and keeps their snapshots fresh.
type Service struct {
	conf        *Config
	log         *zap.SugaredLogger
	zlog        *zap.Logger
	metaDB      *sql.DB
	metaCleanup func()

	// admin handles /_meta/ requests when a control plane is attached.
	admin http.Handler

	mu        sync.Mutex
	listeners map[string]*ListenerService // by host_port
	servers   []*http.Server

	done chan struct{}
}

// NewService builds the supervisor from a validated config and attaches the
// metadata database when one is configured.
func NewService(conf *Config) (*Service, error) {
	zlog := util.NewLogger(conf.Production)
	s := &Service{
		conf:      conf,
		log:       zlog.Sugar(),
		zlog:      zlog,
		listeners: map[string]*ListenerService{},
		done:      make(chan struct{}),
	}

	if conf.MetaDB.ConnString != "" {
		db, dc, err := newDB(conf.MetaDB, s.log)
		if err != nil {
			return nil, fmt.Errorf("open metadata database: %w", err)
		}
		s.metaDB = db
		s.metaCleanup = dc.cleanup
	}
	return s, nil
}

// SetAdminHandler installs the handler for /_meta/ requests.
func (s *Service) SetAdminHandler(h http.Handler) { s.admin = h }

// Start brings up all configured listeners, the metadata poller and the dev
// spec watcher, then blocks until interrupt.
func (s *Service) Start(ctx context.Context) error {
	listeners := s.conf.Listeners
	if s.metaDB != nil {
		rows, err := loadListeners(ctx, s.metaDB)
		if err != nil {
			return err
		}
		for _, r := range rows {
			listeners = append(listeners, r.Config)
		}
	}

	started := 0
	for _, l := range listeners {
		if err := s.spawnListener(ctx, l); err != nil {
			if started == 0 {
				return err
			}
			s.log.Errorf("listener %s: %s", l.Name, err)
			continue
		}
		started++
	}
	if started == 0 {
		return fmt.Errorf("no listeners configured")
	}

	if s.metaDB != nil {
		go s.startPoller(ctx)
	}
	if s.conf.SpecFile != "" && !s.conf.Production {
		go func() {
			if err := s.startSpecWatcher(ctx); err != nil {
				s.log.Errorf("spec watcher: %s", err)
			}
		}()
	}

	ver := version
	if ver == "" {
		ver = "not-set"
	}
	s.zlog.Info("declarest started",
		zap.String("version", ver),
		zap.String("app-name", s.conf.AppName),
		zap.String("host-port", s.conf.HostPort),
		zap.Bool("production", s.conf.Production),
		zap.Int("listeners", started),
	)

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt)
	select {
	case <-sigint:
	case <-ctx.Done():
	}
	s.shutdown()
	return nil
}

// spawnListener builds the first snapshot for a listener and starts its
// worker servers. Already-running host:port pairs are skipped so the poller
// can call this for every metadata row.
func (s *Service) spawnListener(ctx context.Context, l Listener) error {
	if l.HostPort == "" {
		return fmt.Errorf("listener %q has no host_port", l.Name)
	}

	s.mu.Lock()
	_, running := s.listeners[l.HostPort]
	s.mu.Unlock()
	if running {
		return nil
	}

	in, err := s.stateInputFor(ctx, l.Name)
	if err != nil {
		return err
	}
	app, cleanup, err := BuildState(ctx, s.conf, in, s.log, s.zlog)
	if err != nil {
		return err
	}

	ls := &ListenerService{name: l.Name, hostPort: l.HostPort, log: s.log}
	ls.Store(app, cleanup)

	servers, err := s.serveListener(ctx, ls)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listeners[l.HostPort] = ls
	s.servers = append(s.servers, servers...)
	s.mu.Unlock()

	s.log.Infof("listener %s serving on %s (%d workers)", l.Name, l.HostPort, s.conf.Workers)
	return nil
}

// stateInputFor resolves the spec, datasource and auth config for one
// listener, from metadata when attached, else from the static config.
func (s *Service) stateInputFor(ctx context.Context, listenerName string) (stateInput, error) {
	if s.metaDB == nil {
		return staticStateInput(s.conf)
	}

	apis, err := loadAPIConfigs(ctx, s.metaDB)
	if err != nil {
		return stateInput{}, err
	}
	var api *apiConfigRow
	for i := range apis {
		if apis[i].ServesListener(listenerName) {
			api = &apis[i]
			break
		}
	}
	if api == nil {
		return stateInput{}, fmt.Errorf("no api config matches listener %q", listenerName)
	}

	ds := s.conf.Database
	if api.DatasourceName != "" {
		sources, err := loadDatasources(ctx, s.metaDB)
		if err != nil {
			return stateInput{}, err
		}
		found, ok := sources[api.DatasourceName]
		if !ok {
			return stateInput{}, fmt.Errorf("api %s references unknown datasource %q",
				api.Name, api.DatasourceName)
		}
		ds = found
	}
	if ds.PoolSize == 0 {
		ds.PoolSize = defaultPoolSize
	}

	auths, err := loadAuthConfigs(ctx, s.metaDB)
	if err != nil {
		return stateInput{}, err
	}

	mc, err := decodeModulesConfig(api.ModulesConfig)
	if err != nil {
		return stateInput{}, fmt.Errorf("api %s: %w", api.Name, err)
	}

	return stateInput{
		SpecJSON:       []byte(api.Spec),
		Datasource:     ds,
		ModulesConfig:  mc,
		Authenticators: append(append([]core.Authenticator{}, s.conf.Authenticators...), auths...),
		Consumers:      s.conf.Consumers,
		MetaDB:         s.metaDB,
	}, nil
}

// reloadListener rebuilds a listener's snapshot and installs it atomically.
// Failures log and leave the previous snapshot serving.
func (s *Service) reloadListener(ctx context.Context, ls *ListenerService) {
	in, err := s.stateInputFor(ctx, ls.name)
	if err != nil {
		s.log.Errorf("reload %s: %s", ls.name, err)
		return
	}
	app, cleanup, err := BuildState(ctx, s.conf, in, s.log, s.zlog)
	if err != nil {
		s.log.Errorf("reload %s: %s", ls.name, err)
		return
	}

	// Store retires the old snapshot; its pool closes only after the last
	// in-flight request holding it releases.
	ls.Store(app, cleanup)
	s.log.Infof("listener %s: configuration reloaded", ls.name)
}

func (s *Service) shutdown() {
	close(s.done)

	s.mu.Lock()
	servers := s.servers
	s.mu.Unlock()

	// Shutdown waits for in-flight handlers, so the snapshots are quiescent
	// by the time they retire below.
	for _, srv := range servers {
		srv.Shutdown(context.Background())
	}
	s.mu.Lock()
	for _, ls := range s.listeners {
		ls.Close()
	}
	s.mu.Unlock()
	if s.metaDB != nil {
		s.metaDB.Close()
		if s.metaCleanup != nil {
			s.metaCleanup()
		}
	}
	s.log.Info("shutdown complete")
}

// Package daemon runs the asyncsql daemon: the worker pool, its database connections and the control API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"reflect"
	"sync"

	"github.com/canonical/lxd/shared/logger"
	"github.com/canonical/lxd/shared/revert"
	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/mux"

	"github.com/canonical/asyncsql/database"
	"github.com/canonical/asyncsql/internal/config"
	"github.com/canonical/asyncsql/internal/endpoints"
	"github.com/canonical/asyncsql/internal/rest"
	"github.com/canonical/asyncsql/internal/rest/resources"
	"github.com/canonical/asyncsql/internal/sessions"
	"github.com/canonical/asyncsql/internal/state"
	"github.com/canonical/asyncsql/internal/sys"
	"github.com/canonical/asyncsql/pool"
	"github.com/canonical/asyncsql/query"
	apiREST "github.com/canonical/asyncsql/rest"
	"github.com/canonical/asyncsql/rest/response"
)

// Daemon holds information for the asyncsql daemon.
type Daemon struct {
	os      *sys.OS
	version string

	config   *config.DaemonConfig
	registry *database.Registry
	pool     *pool.Pool
	engine   *query.Engine
	loop     *pool.Loop
	sessions *sessions.Store

	endpoints *endpoints.Endpoints
	fsWatcher *sys.Watcher

	hooks *state.Hooks
	state *state.State

	stopOnce sync.Once
	stopErr  error

	ReadyChan      chan struct{}      // Closed when the daemon is fully ready.
	ShutdownCtx    context.Context    // Cancelled when shutdown starts.
	ShutdownCancel context.CancelFunc // Cancels the shutdownCtx to indicate shutdown starting.
}

// NewDaemon initializes the Daemon context and channels.
func NewDaemon(version string) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		version:        version,
		ShutdownCtx:    ctx,
		ShutdownCancel: cancel,
		ReadyChan:      make(chan struct{}),
	}
}

// Run initializes the daemon and serves the control API until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context, stateDir string, socketGroup string, hooks *state.Hooks) error {
	err := d.Init(stateDir, socketGroup, hooks)
	if err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("Received shutdown signal, stopping daemon")

	return d.Stop()
}

// Init initializes the Daemon with the given state directory and starts serving the control API.
func (d *Daemon) Init(stateDir string, socketGroup string, hooks *state.Hooks) error {
	if stateDir == "" {
		stateDir = os.Getenv(sys.StateDir)
	}

	if socketGroup == "" {
		socketGroup = os.Getenv(sys.SocketGroup)
	}

	if hooks == nil {
		hooks = &state.Hooks{}
	}

	d.hooks = hooks

	var err error
	d.os, err = sys.DefaultOS(stateDir, socketGroup, true)
	if err != nil {
		return fmt.Errorf("Failed to initialize directory structure: %w", err)
	}

	err = d.init()
	if err != nil {
		return fmt.Errorf("Daemon failed to start: %w", err)
	}

	close(d.ReadyChan)
	logger.Info("Daemon started", logger.Ctx{"version": d.version, "socket": d.os.ControlSocketPath()})

	return nil
}

func (d *Daemon) init() error {
	reverter := revert.New()
	defer reverter.Fail()

	err := d.initConfig()
	if err != nil {
		return err
	}

	d.registry = database.NewRegistry()
	d.registry.Configure(d.config.GetDatabase())
	d.registry.OnCountChanged(func(count int) {
		logger.Debug("Database connection count changed", logger.Ctx{"count": count})
	})

	d.pool = pool.New()
	d.loop = pool.NewLoop()
	d.engine = query.NewEngine(d.registry, d.pool)
	reverter.Add(func() {
		d.pool.Close()
		d.loop.Close()
		_ = d.registry.Close()
	})

	d.sessions = sessions.NewStore(d.engine, d.loop, d.onResult)
	d.state = d.newState()

	d.fsWatcher, err = sys.NewWatcher(d.ShutdownCtx, d.os.StateDir)
	if err != nil {
		return fmt.Errorf("Failed to watch state directory: %w", err)
	}

	err = d.fsWatcher.Watch(d.os.ConfigPath(), d.reloadConfig)
	if err != nil {
		return err
	}

	err = resources.ValidateEndpoints(resources.UnixEndpoints)
	if err != nil {
		return fmt.Errorf("Invalid API endpoints: %w", err)
	}

	server := d.initServer(resources.UnixEndpoints)
	ctl := endpoints.NewSocket(d.ShutdownCtx, server, d.os.ControlSocket(), d.os.SocketGroup)
	d.endpoints = endpoints.NewEndpoints(d.ShutdownCtx, map[string]endpoints.Endpoint{
		endpoints.EndpointsUnix: ctl,
	})

	d.state.Endpoints = d.endpoints

	err = d.endpoints.Up()
	if err != nil {
		return err
	}

	reverter.Add(func() { _ = d.endpoints.Down() })

	if d.hooks.OnStart != nil {
		err = d.hooks.OnStart(d.state)
		if err != nil {
			return fmt.Errorf("Failed to run post-start hook: %w", err)
		}
	}

	reverter.Success()

	return nil
}

// initConfig loads daemon.yaml, writing the defaults if it does not exist yet.
func (d *Daemon) initConfig() error {
	d.config = config.NewDaemonConfig(d.os.ConfigPath(), config.Default(d.os.DatabasePath()))

	_, err := os.Stat(d.os.ConfigPath())
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("Writing default daemon configuration", logger.Ctx{"path": d.os.ConfigPath()})

		return d.config.Write()
	}

	return d.config.Load()
}

// reloadConfig applies daemon.yaml after it changed on disk. A removed file keeps the current configuration.
func (d *Daemon) reloadConfig(path string, event fsnotify.Op) error {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		logger.Warn("Daemon configuration file was removed, keeping current configuration", logger.Ctx{"path": path})
		return nil
	}

	before := d.config.Get()
	err := d.config.Load()
	if err != nil {
		return err
	}

	if reflect.DeepEqual(before, d.config.Get()) {
		return nil
	}

	logger.Info("Reloaded daemon configuration", logger.Ctx{"path": path})

	return d.state.ApplyConfig()
}

func (d *Daemon) onResult(name string, result query.Result) {
	if d.hooks.OnResult != nil {
		d.hooks.OnResult(d.state, name, result)
	}
}

func (d *Daemon) initServer(resources ...*apiREST.Resources) *http.Server {
	/* Setup the web server */
	mux := mux.NewRouter()
	mux.StrictSlash(false)
	mux.SkipClean(true)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		err := response.SyncResponse(true, []string{"/1.0"}).Render(w)
		if err != nil {
			logger.Error("Failed to write HTTP response", logger.Ctx{"url": r.URL, "err": err})
		}
	})

	mux.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info("Sending top level 404", logger.Ctx{"url": r.URL})
		err := response.NotFound(nil).Render(w)
		if err != nil {
			logger.Error("Failed to write HTTP response", logger.Ctx{"url": r.URL, "err": err})
		}
	})

	for _, endpoints := range resources {
		for _, e := range endpoints.Endpoints {
			rest.HandleEndpoint(d.state, mux, endpoints.Path, e)
		}
	}

	return &http.Server{Handler: mux}
}

func (d *Daemon) newState() *state.State {
	return &state.State{
		Context:  d.ShutdownCtx,
		ReadyCh:  d.ReadyChan,
		OS:       d.os,
		Config:   d.config,
		Engine:   d.engine,
		Loop:     d.loop,
		Sessions: d.sessions,
		Hooks:    d.hooks,
		Version:  d.version,
	}
}

// State returns the daemon's stateful components.
func (d *Daemon) State() *state.State {
	return d.state
}

// Stop stops serving the API, waits for running statements and closes every connection.
// Only the first call has any effect.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() { d.stopErr = d.stop() })

	return d.stopErr
}

func (d *Daemon) stop() error {
	d.ShutdownCancel()

	errs := []error{}
	if d.endpoints != nil {
		err := d.endpoints.Down()
		if err != nil {
			errs = append(errs, fmt.Errorf("Failed to stop endpoints: %w", err))
		}
	}

	if d.pool != nil {
		d.pool.Close()
		d.loop.Close()

		err := d.registry.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("Failed to close database connections: %w", err))
		}
	}

	return errors.Join(errs...)
}

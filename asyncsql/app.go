// Package asyncsql starts the asyncsql daemon and connects to it.
package asyncsql

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/canonical/lxd/shared/logger"
	"golang.org/x/sys/unix"

	"github.com/canonical/asyncsql/client"
	"github.com/canonical/asyncsql/internal/daemon"
	"github.com/canonical/asyncsql/internal/sys"
	"github.com/canonical/asyncsql/rest/types"
	"github.com/canonical/asyncsql/state"
)

// App contains some basic filesystem information for interacting with the asyncsql daemon.
type App struct {
	FileSystem *sys.OS

	args Args
}

// Args contains options for configuring the app.
type Args struct {
	Verbose     bool
	Debug       bool
	StateDir    string
	SocketGroup string
	Version     string

	Client *client.Client
}

// New returns an App with a newly initialized filesystem if one does not exist.
func New(args Args) (*App, error) {
	if args.StateDir == "" {
		args.StateDir = os.Getenv(sys.StateDir)
	}

	if args.StateDir == "" {
		return nil, fmt.Errorf("Missing state directory")
	}

	stateDir, err := filepath.Abs(args.StateDir)
	if err != nil {
		return nil, fmt.Errorf("Missing absolute state directory: %w", err)
	}

	os, err := sys.DefaultOS(stateDir, args.SocketGroup, true)
	if err != nil {
		return nil, err
	}

	return &App{
		FileSystem: os,
		args:       args,
	}, nil
}

// Start runs the daemon until ctx is cancelled or a termination signal is received.
func (a *App) Start(ctx context.Context, hooks *state.Hooks) error {
	err := logger.InitLogger(a.FileSystem.LogFile, "", a.args.Verbose, a.args.Debug, nil)
	if err != nil {
		return err
	}

	defer logger.Info("Daemon stopped")
	d := daemon.NewDaemon(a.args.Version)

	chIgnore := make(chan os.Signal, 1)
	signal.Notify(chIgnore, unix.SIGHUP)

	ctx, cancel := signal.NotifyContext(ctx, unix.SIGPWR, unix.SIGTERM, unix.SIGINT, unix.SIGQUIT)
	defer cancel()

	err = d.Run(ctx, a.FileSystem.StateDir, a.FileSystem.SocketGroup, hooks)
	if err != nil {
		return fmt.Errorf("Daemon stopped with error: %w", err)
	}

	return nil
}

// Status returns basic status information about the daemon.
func (a *App) Status(ctx context.Context) (*types.Server, error) {
	c, err := a.LocalClient()
	if err != nil {
		return nil, err
	}

	server, err := c.GetServer(ctx)
	if err != nil {
		return nil, fmt.Errorf("Failed to get daemon status: %w", err)
	}

	return server, nil
}

// Ready waits for the daemon to report it has finished initial setup.
func (a *App) Ready(ctx context.Context) error {
	var errLast error
	for i := 0; ; i++ {
		// Start logging only after the 10'th attempt (about 5 seconds), then only once every
		// 10 attempts after the 30'th, to avoid being too verbose.
		doLog := false
		if i > 10 {
			doLog = i < 30 || ((i % 10) == 0)
		}

		server, err := a.Status(ctx)
		if err == nil && server.Ready {
			return nil
		}

		errLast = err
		if err == nil {
			errLast = fmt.Errorf("Daemon is not ready yet")
		}

		if doLog {
			logger.Debug("Daemon not ready", logger.Ctx{"attempt": i, "err": errLast})
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("Daemon still not running after context deadline exceeded: %w", errLast)
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// LocalClient returns a client connected to the local control socket.
func (a *App) LocalClient() (*client.Client, error) {
	if a.args.Client != nil {
		return a.args.Client, nil
	}

	return client.New(a.FileSystem.ControlSocketPath())
}

// SQL performs either a GET or POST on /1.0/sql. A query is run with the given parameters,
// otherwise the database is dumped.
func (a *App) SQL(ctx context.Context, query types.SQLQuery, schemaOnly bool) (string, *types.SQLBatch, error) {
	c, err := a.LocalClient()
	if err != nil {
		return "", nil, err
	}

	if query.Query == "" {
		dump, err := c.GetSQL(ctx, schemaOnly)
		if err != nil {
			return "", nil, err
		}

		return dump.Text, nil, nil
	}

	batch, err := c.PostSQL(ctx, query)

	return "", batch, err
}

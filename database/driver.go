package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	dqlite "github.com/canonical/go-dqlite/app"
	"github.com/canonical/lxd/shared/logger"
	_ "github.com/duckdb/duckdb-go/v2" // Registers the "duckdb" database/sql driver.
	_ "github.com/lib/pq"              // Registers the "postgres" database/sql driver.
	_ "github.com/mattn/go-sqlite3"    // Registers the "sqlite3" database/sql driver.
)

// Driver opens a new *sql.DB for the given config.
type Driver interface {
	Open(ctx context.Context, config Config) (*sql.DB, error)
}

// DriverFunc adapts a function to the Driver interface.
type DriverFunc func(ctx context.Context, config Config) (*sql.DB, error)

// Open implements Driver.
func (f DriverFunc) Open(ctx context.Context, config Config) (*sql.DB, error) {
	return f(ctx, config)
}

// defaultDrivers returns the drivers every registry starts with.
func defaultDrivers() map[string]Driver {
	return map[string]Driver{
		"sqlite3":  sqlDriver("sqlite3", sqliteDSN),
		"duckdb":   sqlDriver("duckdb", sqliteDSN),
		"postgres": sqlDriver("postgres", postgresDSN),
		"dqlite":   &dqliteDriver{},
	}
}

// sqlDriver returns a Driver opening the registered database/sql driver with the given DSN builder.
func sqlDriver(name string, dsn func(Config) string) Driver {
	return DriverFunc(func(ctx context.Context, config Config) (*sql.DB, error) {
		return sql.Open(name, dsn(config))
	})
}

// sortedOptions returns the option keys in a stable order.
func sortedOptions(options map[string]string) []string {
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// sqliteDSN builds a "path?key=value" DSN, as used by file based drivers.
func sqliteDSN(config Config) string {
	if len(config.Options) == 0 {
		return config.Name
	}

	values := url.Values{}
	for _, k := range sortedOptions(config.Options) {
		values.Set(k, config.Options[k])
	}

	return config.Name + "?" + values.Encode()
}

// postgresDSN builds a libpq keyword/value connection string.
func postgresDSN(config Config) string {
	quote := func(s string) string {
		s = strings.ReplaceAll(s, `\`, `\\`)
		s = strings.ReplaceAll(s, `'`, `\'`)

		return "'" + s + "'"
	}

	parts := []string{}
	add := func(k string, v string) {
		if v != "" {
			parts = append(parts, k+"="+quote(v))
		}
	}

	add("host", config.Host)
	if config.Port != 0 {
		add("port", fmt.Sprintf("%d", config.Port))
	}

	add("dbname", config.Name)
	add("user", config.User)
	add("password", config.Password)
	for _, k := range sortedOptions(config.Options) {
		add(k, config.Options[k])
	}

	return strings.Join(parts, " ")
}

// dqliteDriver starts one dqlite node per registry and opens a *sql.DB on it per connection.
type dqliteDriver struct {
	mu  sync.Mutex
	app *dqlite.App
}

// Open implements Driver.
//
// The "dir" option is the node's data directory, Host and Port its listen address, and the
// optional comma separated "cluster" option the addresses of existing nodes to join.
func (d *dqliteDriver) Open(ctx context.Context, config Config) (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.app == nil {
		dir := config.Options["dir"]
		if dir == "" {
			return nil, fmt.Errorf("Missing dqlite data directory option %q", "dir")
		}

		options := []dqlite.Option{}
		if config.Host != "" {
			options = append(options, dqlite.WithAddress(config.Address()))
		}

		if config.Options["cluster"] != "" {
			options = append(options, dqlite.WithCluster(strings.Split(config.Options["cluster"], ",")))
		}

		app, err := dqlite.New(dir, options...)
		if err != nil {
			return nil, fmt.Errorf("Failed to start dqlite: %w", err)
		}

		err = app.Ready(ctx)
		if err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("Failed to wait for dqlite to be ready: %w", err)
		}

		logger.Info("Started dqlite node", logger.Ctx{"dir": dir, "address": app.Address()})
		d.app = app
	}

	return d.app.Open(ctx, config.Name)
}

// Close stops the dqlite node, if one was started.
func (d *dqliteDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.app == nil {
		return nil
	}

	err := d.app.Close()
	d.app = nil
	if err != nil {
		return fmt.Errorf("Failed to stop dqlite: %w", err)
	}

	return nil
}

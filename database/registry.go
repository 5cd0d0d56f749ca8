// Package database keeps one database connection per pool worker.
//
// A Registry is configured once with the connection settings, and every worker opens its own
// connection through it the first time it runs a statement. Connections live until they are
// closed explicitly; reconfiguring the registry only affects connections opened afterwards.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/canonical/lxd/shared/logger"
	"github.com/canonical/lxd/shared/revert"

	"github.com/canonical/asyncsql/pool"
)

// Conn is a connection registered to a single worker.
type Conn struct {
	id     pool.ID
	db     *sql.DB
	conn   *sql.Conn
	config Config
	opened time.Time
}

// IsValid returns true if c refers to an open connection. It is safe to call on a nil *Conn.
func (c *Conn) IsValid() bool {
	return c != nil && c.conn != nil
}

// ID returns the worker the connection belongs to.
func (c *Conn) ID() pool.ID {
	return c.id
}

// Config returns the settings the connection was opened with.
func (c *Conn) Config() Config {
	return c.config.clone()
}

// Precision returns the numeric precision policy the connection was opened with.
func (c *Conn) Precision() PrecisionPolicy {
	return c.config.Precision
}

// Opened returns when the connection was opened.
func (c *Conn) Opened() time.Time {
	return c.opened
}

// SQL returns the underlying connection.
func (c *Conn) SQL() *sql.Conn {
	return c.conn
}

func (c *Conn) close() error {
	errs := []error{}

	err := c.conn.Close()
	if err != nil {
		errs = append(errs, err)
	}

	err = c.db.Close()
	if err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Registry maps worker identities to their open connection.
type Registry struct {
	mu      sync.Mutex
	config  Config
	drivers map[string]Driver
	conns   map[pool.ID]*Conn

	countHooks []func(count int)
}

// NewRegistry returns an unconfigured registry with the default drivers registered.
func NewRegistry() *Registry {
	return &Registry{
		drivers: defaultDrivers(),
		conns:   map[pool.ID]*Conn{},
	}
}

// RegisterDriver adds or replaces the driver used for the given driver name.
func (r *Registry) RegisterDriver(name string, driver Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.drivers[name] = driver
}

// Configure sets the settings used for connections opened from now on.
// Already open connections keep the settings they were opened with.
func (r *Registry) Configure(config Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.config = config.clone()
}

// Config returns the current settings.
func (r *Registry) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.config.clone()
}

// OnCountChanged registers f to be called with the new number of connections whenever a
// connection is registered or closed.
func (r *Registry) OnCountChanged(f func(count int)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.countHooks = append(r.countHooks, f)
}

func (r *Registry) notifyCount(hooks []func(int), count int) {
	for _, f := range hooks {
		f(count)
	}
}

// Count returns the number of open connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.conns)
}

// Exists returns true if the worker has a registered connection.
func (r *Registry) Exists(id pool.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.conns[id]

	return ok
}

// Get returns the worker's connection, or nil if it has none. It never opens a connection.
func (r *Registry) Get(id pool.ID) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.conns[id]
}

// Open opens a connection with the current settings and registers it for the worker.
// Nothing is registered on failure.
func (r *Registry) Open(ctx context.Context, id pool.ID) error {
	r.mu.Lock()
	_, ok := r.conns[id]
	if ok {
		r.mu.Unlock()
		return fmt.Errorf("Worker %d already has a connection", id)
	}

	_, err := r.open(ctx, id)
	hooks, count := r.countHooks, len(r.conns)
	r.mu.Unlock()

	if err != nil {
		return err
	}

	r.notifyCount(hooks, count)

	return nil
}

// Acquire returns the worker's connection, opening it first if the worker has none.
// The check and the open happen under the registry lock, so a worker never ends up with two.
func (r *Registry) Acquire(ctx context.Context, id pool.ID) (*Conn, error) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		r.mu.Unlock()
		return c, nil
	}

	c, err := r.open(ctx, id)
	hooks, count := r.countHooks, len(r.conns)
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}

	r.notifyCount(hooks, count)

	return c, nil
}

// open must be called with the registry lock held.
func (r *Registry) open(ctx context.Context, id pool.ID) (*Conn, error) {
	config := r.config.clone()
	driver, ok := r.drivers[config.Driver]
	if !ok {
		return nil, fmt.Errorf("Unknown database driver %q", config.Driver)
	}

	reverter := revert.New()
	defer reverter.Fail()

	db, err := driver.Open(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("Failed to open %s database %q: %w", config.Driver, config.Name, err)
	}

	reverter.Add(func() {
		err := db.Close()
		if err != nil {
			logger.Warn("Failed to close database after failed open", logger.Ctx{"worker": id, "err": err})
		}
	})

	// The worker is the only user of the connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("Failed to connect to %s database %q: %w", config.Driver, config.Name, err)
	}

	reverter.Success()

	c := &Conn{
		id:     id,
		db:     db,
		conn:   conn,
		config: config,
		opened: time.Now(),
	}

	r.conns[id] = c
	logger.Debug("Opened database connection", logger.Ctx{"worker": id, "driver": config.Driver, "name": config.Name, "count": len(r.conns)})

	return c, nil
}

// CloseOne closes and unregisters the worker's connection. It does nothing if there is none.
func (r *Registry) CloseOne(id pool.ID) error {
	r.mu.Lock()
	c, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}

	delete(r.conns, id)
	hooks, count := r.countHooks, len(r.conns)
	r.mu.Unlock()

	r.notifyCount(hooks, count)

	err := c.close()
	if err != nil {
		return fmt.Errorf("Failed to close connection of worker %d: %w", id, err)
	}

	logger.Debug("Closed database connection", logger.Ctx{"worker": id})

	return nil
}

// CloseAll closes and unregisters every connection.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	conns := r.conns
	r.conns = map[pool.ID]*Conn{}
	hooks := r.countHooks
	r.mu.Unlock()

	if len(conns) == 0 {
		return nil
	}

	r.notifyCount(hooks, 0)

	errs := []error{}
	for id, c := range conns {
		err := c.close()
		if err != nil {
			errs = append(errs, fmt.Errorf("Failed to close connection of worker %d: %w", id, err))
		}
	}

	logger.Debug("Closed all database connections", logger.Ctx{"count": len(conns)})

	return errors.Join(errs...)
}

// List returns the registered connections ordered by worker.
func (r *Registry) List() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}

	sort.Slice(conns, func(i, j int) bool { return conns[i].id < conns[j].id })

	return conns
}

// Dump logs every registered connection at debug level.
func (r *Registry) Dump() {
	conns := r.List()
	logger.Debug("Database connections", logger.Ctx{"count": len(conns)})
	for _, c := range conns {
		logger.Debug(" - connection", logger.Ctx{"worker": c.id, "driver": c.config.Driver, "name": c.config.Name, "address": c.config.Address(), "opened": c.opened})
	}
}

// Close closes every connection and stops any driver resources, such as a dqlite node.
// The registry must not be used afterwards.
func (r *Registry) Close() error {
	errs := []error{}

	err := r.CloseAll()
	if err != nil {
		errs = append(errs, err)
	}

	r.mu.Lock()
	drivers := r.drivers
	r.mu.Unlock()

	for name, driver := range drivers {
		closer, ok := driver.(io.Closer)
		if !ok {
			continue
		}

		err := closer.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("Failed to close %s driver: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/google/renameio"
	"gopkg.in/yaml.v3"

	"github.com/canonical/asyncsql/database"
	"github.com/canonical/asyncsql/query"
	"github.com/canonical/asyncsql/rest/types"
)

// DaemonConfig wraps the daemon's config with get, set and lock capabilities.
type DaemonConfig struct {
	// Path of the daemon.yaml file.
	path string

	// Lock the daemon config for read and write operations.
	lock *sync.RWMutex

	// The actual configuration.
	config *types.DaemonConfig
}

// Default returns the configuration used when daemon.yaml does not exist: a sqlite database
// at the given path.
func Default(databasePath string) types.DaemonConfig {
	return types.DaemonConfig{
		Database: database.Config{
			Driver:  "sqlite3",
			Name:    databasePath,
			Options: map[string]string{"_busy_timeout": "5000", "_journal_mode": "WAL"},
		},
		SessionMode: query.ModeParallel,
	}
}

// NewDaemonConfig returns an initialised version of the daemon's config.
// The implementation is thread safe so the same in memory representation of the config
// can be consumed both internally in the daemon and it's API endpoints.
// The config has to be written to file proactively so when setting a config setting
// it doesn't automatically get propagated to the underlying file.
func NewDaemonConfig(path string, defaults types.DaemonConfig) *DaemonConfig {
	return &DaemonConfig{
		path:   path,
		lock:   &sync.RWMutex{},
		config: &defaults,
	}
}

// Path returns the path of the daemon.yaml file.
func (d *DaemonConfig) Path() string {
	return d.path
}

// Load loads the daemon's config from its path. A missing file keeps the current values, and
// a file without a database section keeps the current database settings.
func (d *DaemonConfig) Load() error {
	d.lock.Lock()
	defer d.lock.Unlock()

	data, err := os.ReadFile(d.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("Failed to load daemon config: %w", err)
	}

	config := types.DaemonConfig{}
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return fmt.Errorf("Failed to parse daemon config from yaml: %w", err)
	}

	if config.Database.Driver == "" {
		config.Database = d.GetDatabaseLocked()
	}

	err = Validate(config)
	if err != nil {
		return err
	}

	d.config = &config

	return nil
}

// Write writes the daemon's config to its path.
func (d *DaemonConfig) Write() error {
	d.lock.Lock()
	defer d.lock.Unlock()

	bytes, err := yaml.Marshal(d.config)
	if err != nil {
		return fmt.Errorf("Failed to parse daemon config to yaml: %w", err)
	}

	err = renameio.WriteFile(d.path, bytes, 0600)
	if err != nil {
		return fmt.Errorf("Failed to write daemon configuration yaml: %w", err)
	}

	return nil
}

// Validate checks a configuration before it is applied.
func Validate(config types.DaemonConfig) error {
	if config.Database.Driver == "" {
		return fmt.Errorf("Database driver cannot be empty")
	}

	if config.Database.Name == "" && config.Database.Host == "" {
		return fmt.Errorf("Database name or host must be set")
	}

	if config.Database.Port < 0 || config.Database.Port > 65535 {
		return fmt.Errorf("Invalid database port %d", config.Database.Port)
	}

	if config.SessionDelay < 0 {
		return fmt.Errorf("Session delay cannot be negative")
	}

	return nil
}

// Get returns a copy of the whole configuration.
func (d *DaemonConfig) Get() types.DaemonConfig {
	d.lock.RLock()
	defer d.lock.RUnlock()

	config := *d.config
	config.Database = d.GetDatabaseLocked()

	return config
}

// Set replaces the whole configuration after validating it.
func (d *DaemonConfig) Set(config types.DaemonConfig) error {
	err := Validate(config)
	if err != nil {
		return err
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	d.config = &config

	return nil
}

// GetDatabaseLocked returns a copy of the database settings. The caller must hold the lock.
func (d *DaemonConfig) GetDatabaseLocked() database.Config {
	db := d.config.Database
	if db.Options != nil {
		db.Options = make(map[string]string, len(d.config.Database.Options))
		for k, v := range d.config.Database.Options {
			db.Options[k] = v
		}
	}

	return db
}

// GetDatabase returns the database settings.
func (d *DaemonConfig) GetDatabase() database.Config {
	d.lock.RLock()
	defer d.lock.RUnlock()

	return d.GetDatabaseLocked()
}

// GetSessionMode returns the mode of sessions created without one.
func (d *DaemonConfig) GetSessionMode() query.Mode {
	d.lock.RLock()
	defer d.lock.RUnlock()

	return d.config.SessionMode
}

// GetSessionDelay returns the delay of sessions created without one.
func (d *DaemonConfig) GetSessionDelay() time.Duration {
	d.lock.RLock()
	defer d.lock.RUnlock()

	return d.config.SessionDelay
}

// SetDatabase sets the database settings.
func (d *DaemonConfig) SetDatabase(db database.Config) {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.config.Database = db
}

// SetSessionMode sets the mode of sessions created without one.
func (d *DaemonConfig) SetSessionMode(mode query.Mode) {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.config.SessionMode = mode
}

// SetSessionDelay sets the delay of sessions created without one.
func (d *DaemonConfig) SetSessionDelay(delay time.Duration) {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.config.SessionDelay = delay
}

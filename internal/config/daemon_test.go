package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/canonical/asyncsql/database"
	"github.com/canonical/asyncsql/query"
)

type daemonConfigSuite struct {
	suite.Suite

	path string
}

func TestDaemonConfigSuite(t *testing.T) {
	suite.Run(t, new(daemonConfigSuite))
}

func (s *daemonConfigSuite) SetupTest() {
	s.path = filepath.Join(s.T().TempDir(), "daemon.yaml")
}

// Ensures a written config loads back identically.
func (s *daemonConfigSuite) Test_roundTrip() {
	c := NewDaemonConfig(s.path, Default("/var/lib/asyncsql/db.sqlite"))
	c.SetDatabase(database.Config{
		Driver:    "postgres",
		Host:      "db.example.com",
		Port:      5432,
		Name:      "app",
		Precision: database.PrecisionLowDouble,
		Options:   map[string]string{"sslmode": "disable"},
	})

	c.SetSessionMode(query.ModeFifo)
	c.SetSessionDelay(250 * time.Millisecond)
	s.NoError(c.Write())

	data, err := os.ReadFile(s.path)
	s.NoError(err)
	s.Contains(string(data), "precision: low-double")
	s.Contains(string(data), "session_mode: fifo")

	loaded := NewDaemonConfig(s.path, Default("/other"))
	s.NoError(loaded.Load())
	s.Equal(c.Get(), loaded.Get())
	s.Equal(query.ModeFifo, loaded.GetSessionMode())
	s.Equal(250*time.Millisecond, loaded.GetSessionDelay())
	s.Equal("db.example.com", loaded.GetDatabase().Host)
}

// Ensures loading falls back to the current settings where the file is silent.
func (s *daemonConfigSuite) Test_load() {
	c := NewDaemonConfig(s.path, Default("/var/lib/asyncsql/db.sqlite"))

	// Missing file.
	s.NoError(c.Load())
	s.Equal("sqlite3", c.GetDatabase().Driver)

	// No database section.
	s.NoError(os.WriteFile(s.path, []byte("session_mode: latest-only\n"), 0600))
	s.NoError(c.Load())
	s.Equal("/var/lib/asyncsql/db.sqlite", c.GetDatabase().Name)
	s.Equal(query.ModeLatestOnly, c.GetSessionMode())

	// Invalid content leaves the config untouched.
	tests := []struct {
		name    string
		content string
	}{
		{name: "Bad yaml", content: "database: [\n"},
		{name: "Unknown mode", content: "session_mode: sometimes\n"},
		{name: "Unknown precision", content: "database:\n  driver: sqlite3\n  name: x\n  precision: medium\n"},
		{name: "Negative delay", content: "session_delay: -1s\n"},
	}

	for i, t := range tests {
		s.T().Logf("%s (case %d)", t.name, i)

		s.NoError(os.WriteFile(s.path, []byte(t.content), 0600))
		s.Error(c.Load())
		s.Equal(query.ModeLatestOnly, c.GetSessionMode())
	}
}

// Ensures copies handed out do not alias the stored config.
func (s *daemonConfigSuite) Test_copies() {
	c := NewDaemonConfig(s.path, Default("/db"))

	db := c.GetDatabase()
	db.Options["_busy_timeout"] = "1"
	s.Equal("5000", c.GetDatabase().Options["_busy_timeout"])

	cfg := c.Get()
	cfg.Database.Options["_journal_mode"] = "DELETE"
	s.Equal("WAL", c.Get().Database.Options["_journal_mode"])
}

// Ensures invalid configurations are refused.
func (s *daemonConfigSuite) Test_set() {
	c := NewDaemonConfig(s.path, Default("/db"))

	cfg := c.Get()
	cfg.Database.Driver = ""
	s.Error(c.Set(cfg))

	cfg = c.Get()
	cfg.Database.Port = 70000
	s.Error(c.Set(cfg))

	cfg = c.Get()
	cfg.SessionMode = query.ModeFifo
	s.NoError(c.Set(cfg))
	s.Equal(query.ModeFifo, c.GetSessionMode())
}

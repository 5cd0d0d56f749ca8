package database

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/canonical/asyncsql/pool"
)

type registrySuite struct {
	suite.Suite

	dir string
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(registrySuite))
}

func (s *registrySuite) SetupTest() {
	s.dir = s.T().TempDir()
}

func (s *registrySuite) sqliteConfig(name string) Config {
	return Config{
		Driver:  "sqlite3",
		Name:    filepath.Join(s.dir, name),
		Options: map[string]string{"_busy_timeout": "5000"},
	}
}

// Ensures connections are opened lazily and looked up without side effects.
func (s *registrySuite) Test_openGetExists() {
	r := NewRegistry()
	defer func() { s.NoError(r.Close()) }()

	r.Configure(s.sqliteConfig("test.db"))

	id := pool.ID(1)
	s.False(r.Exists(id))
	s.Nil(r.Get(id))
	s.False(r.Get(id).IsValid())
	s.Equal(0, r.Count())

	s.NoError(r.Open(context.Background(), id))
	s.True(r.Exists(id))
	s.True(r.Get(id).IsValid())
	s.Equal(id, r.Get(id).ID())
	s.Equal(1, r.Count())

	// Opening twice for the same worker is refused.
	s.Error(r.Open(context.Background(), id))
	s.Equal(1, r.Count())

	// Acquire hands back the registered connection.
	c, err := r.Acquire(context.Background(), id)
	s.NoError(err)
	s.Same(r.Get(id), c)

	var one int
	s.NoError(c.SQL().QueryRowContext(context.Background(), "SELECT 1").Scan(&one))
	s.Equal(1, one)
}

// Ensures a failed open leaves nothing behind.
func (s *registrySuite) Test_openFailure() {
	tests := []struct {
		name   string
		config Config
	}{
		{
			name:   "Unknown driver",
			config: Config{Driver: "nosuchdriver", Name: "db"},
		},
		{
			name:   "Missing directory",
			config: Config{Driver: "sqlite3", Name: filepath.Join(s.dir, "missing", "dir", "test.db")},
		},
		{
			name:   "Failing driver",
			config: Config{Driver: "broken", Name: "db"},
		},
	}

	for i, t := range tests {
		s.T().Logf("%s (case %d)", t.name, i)

		r := NewRegistry()
		r.RegisterDriver("broken", DriverFunc(func(ctx context.Context, config Config) (*sql.DB, error) {
			return nil, fmt.Errorf("Refusing to open")
		}))

		notified := 0
		r.OnCountChanged(func(int) { notified++ })
		r.Configure(t.config)

		err := r.Open(context.Background(), pool.ID(1))
		s.Error(err)

		c, err := r.Acquire(context.Background(), pool.ID(2))
		s.Error(err)
		s.Nil(c)

		s.Equal(0, r.Count())
		s.False(r.Exists(pool.ID(1)))
		s.False(r.Exists(pool.ID(2)))
		s.Equal(0, notified)
		s.NoError(r.Close())
	}
}

// Ensures closing connections unregisters them and is a no-op when absent.
func (s *registrySuite) Test_close() {
	r := NewRegistry()
	r.Configure(s.sqliteConfig("test.db"))

	counts := []int{}
	r.OnCountChanged(func(count int) { counts = append(counts, count) })

	for i := 1; i <= 3; i++ {
		s.NoError(r.Open(context.Background(), pool.ID(i)))
	}

	s.Len(r.List(), 3)
	s.Equal(pool.ID(1), r.List()[0].ID())
	r.Dump()

	s.NoError(r.CloseOne(pool.ID(2)))
	s.False(r.Exists(pool.ID(2)))
	s.NoError(r.CloseOne(pool.ID(2)))
	s.NoError(r.CloseOne(pool.ID(42)))
	s.Equal(2, r.Count())

	s.NoError(r.CloseAll())
	s.Equal(0, r.Count())
	s.NoError(r.CloseAll())

	s.Equal([]int{1, 2, 3, 2, 0}, counts)
	s.NoError(r.Close())
}

// Ensures reconfiguring only affects connections opened afterwards.
func (s *registrySuite) Test_configureAfterOpen() {
	r := NewRegistry()
	defer func() { s.NoError(r.Close()) }()

	first := s.sqliteConfig("first.db")
	r.Configure(first)
	s.NoError(r.Open(context.Background(), pool.ID(1)))

	second := s.sqliteConfig("second.db")
	second.Precision = PrecisionLowDouble
	r.Configure(second)
	s.NoError(r.Open(context.Background(), pool.ID(2)))

	s.Equal(first.Name, r.Get(pool.ID(1)).Config().Name)
	s.Equal(PrecisionHigh, r.Get(pool.ID(1)).Precision())
	s.Equal(second.Name, r.Get(pool.ID(2)).Config().Name)
	s.Equal(PrecisionLowDouble, r.Get(pool.ID(2)).Precision())

	// The returned config is a copy.
	cfg := r.Config()
	cfg.Options["_busy_timeout"] = "1"
	s.Equal("5000", r.Config().Options["_busy_timeout"])
}

// Ensures racing first uses end up with exactly one connection per worker.
func (s *registrySuite) Test_concurrentAcquire() {
	r := NewRegistry()
	defer func() { s.NoError(r.Close()) }()

	r.Configure(s.sqliteConfig("test.db"))

	const workers = 8
	const perWorker = 4

	var mu sync.Mutex
	got := map[pool.ID]map[*Conn]bool{}

	wg := sync.WaitGroup{}
	for i := 1; i <= workers; i++ {
		for j := 0; j < perWorker; j++ {
			wg.Add(1)
			go func(id pool.ID) {
				defer wg.Done()

				c, err := r.Acquire(context.Background(), id)
				s.NoError(err)

				mu.Lock()
				if got[id] == nil {
					got[id] = map[*Conn]bool{}
				}

				got[id][c] = true
				mu.Unlock()
			}(pool.ID(i))
		}
	}

	wg.Wait()

	s.Equal(workers, r.Count())
	for id, conns := range got {
		s.Len(conns, 1, "worker %d", id)
	}
}

// Ensures the DSN builders produce what the drivers expect.
func (s *registrySuite) Test_dsn() {
	s.Equal("/tmp/x.db", sqliteDSN(Config{Name: "/tmp/x.db"}))
	s.Equal("/tmp/x.db?_busy_timeout=5000&_fk=1", sqliteDSN(Config{Name: "/tmp/x.db", Options: map[string]string{"_fk": "1", "_busy_timeout": "5000"}}))

	dsn := postgresDSN(Config{Host: "db", Port: 5432, Name: "app", User: "u", Password: "it's", Options: map[string]string{"sslmode": "disable"}})
	s.Equal(`host='db' port='5432' dbname='app' user='u' password='it\'s' sslmode='disable'`, dsn)
}

// Ensures dumps work on sqlite connections.
func (s *registrySuite) Test_dump() {
	r := NewRegistry()
	defer func() { s.NoError(r.Close()) }()

	r.Configure(s.sqliteConfig("test.db"))
	c, err := r.Acquire(context.Background(), pool.ID(1))
	s.NoError(err)

	_, err = c.SQL().ExecContext(context.Background(), "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)")
	s.NoError(err)
	_, err = c.SQL().ExecContext(context.Background(), "INSERT INTO items (name) VALUES ('a')")
	s.NoError(err)

	dump, err := Dump(context.Background(), c, false)
	s.NoError(err)
	s.Contains(dump, "CREATE TABLE items")
	s.Contains(dump, "INSERT INTO")

	dump, err = Dump(context.Background(), c, true)
	s.NoError(err)
	s.Contains(dump, "CREATE TABLE items")
	s.NotContains(dump, "INSERT INTO")

	_, err = Dump(context.Background(), nil, false)
	s.Error(err)
}

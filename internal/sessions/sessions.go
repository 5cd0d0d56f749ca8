// Package sessions keeps the named sessions created through the API.
package sessions

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/canonical/lxd/shared/api"
	"github.com/canonical/lxd/shared/logger"

	"github.com/canonical/asyncsql/pool"
	"github.com/canonical/asyncsql/query"
)

// Entry is a named session.
type Entry struct {
	Name    string
	Session *query.Session
	Created time.Time

	// execMu serializes staging and submission of statements from concurrent requests.
	execMu    sync.Mutex
	completed atomic.Int64
}

// Exec submits text to the session. Without bindings the text runs unprepared, otherwise it is
// prepared and bound first. Batch bindings turn the statement into a batch.
func (e *Entry) Exec(text string, params map[string]query.Value, batch map[string][]query.Value) error {
	if strings.TrimSpace(text) == "" {
		return api.StatusErrorf(http.StatusBadRequest, "No query provided")
	}

	e.execMu.Lock()
	defer e.execMu.Unlock()

	if len(params) == 0 && len(batch) == 0 {
		e.Session.StartExecText(text)
		return nil
	}

	e.Session.Prepare(text)

	for _, name := range sortedKeys(params) {
		if !e.Session.BindValue(name, params[name]) {
			return api.StatusErrorf(http.StatusBadRequest, "Failed to bind %q", name)
		}
	}

	for _, name := range sortedKeys(batch) {
		err := query.CheckBatch(batch[name])
		if err != nil {
			return api.StatusErrorf(http.StatusBadRequest, "Failed to bind batch %q: %v", name, err)
		}

		if !e.Session.BindBatchValue(name, batch[name]) {
			return api.StatusErrorf(http.StatusBadRequest, "Failed to bind batch %q", name)
		}
	}

	e.Session.StartExec()

	return nil
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// Completed returns the number of results the session has delivered.
func (e *Entry) Completed() int64 {
	return e.completed.Load()
}

// Store holds named sessions, all delivering to the same owner.
type Store struct {
	mu      sync.RWMutex
	engine  *query.Engine
	owner   pool.Executor
	entries map[string]*Entry

	onResult func(name string, result query.Result)
}

// NewStore returns an empty store. onResult, if not nil, receives every result of every session
// in the owner's context.
func NewStore(engine *query.Engine, owner pool.Executor, onResult func(name string, result query.Result)) *Store {
	return &Store{
		engine:   engine,
		owner:    owner,
		entries:  map[string]*Entry{},
		onResult: onResult,
	}
}

// ValidName returns an error if name cannot be used as a session name.
func ValidName(name string) error {
	if name == "" {
		return fmt.Errorf("Session name cannot be empty")
	}

	if strings.ContainsAny(name, "/?#% ") {
		return fmt.Errorf("Session name %q contains invalid characters", name)
	}

	return nil
}

// Create adds a new session.
func (s *Store) Create(name string, mode query.Mode, delay time.Duration) (*Entry, error) {
	err := ValidName(name)
	if err != nil {
		return nil, api.StatusErrorf(http.StatusBadRequest, "%v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[name]
	if ok {
		return nil, api.StatusErrorf(http.StatusConflict, "Session %q already exists", name)
	}

	e := &Entry{
		Name:    name,
		Session: s.engine.NewSession(s.owner),
		Created: time.Now(),
	}

	e.Session.SetMode(mode)
	e.Session.SetDelay(delay)
	e.Session.OnDone(func(result query.Result) {
		e.completed.Add(1)
		if !result.IsValid() {
			logger.Debug("Session statement failed", logger.Ctx{"session": name, "statement": result.Statement(), "err": result.Err()})
		}

		if s.onResult != nil {
			s.onResult(name, result)
		}
	})

	s.entries[name] = e
	logger.Debug("Created session", logger.Ctx{"session": name, "mode": mode, "delay": delay})

	return e, nil
}

// Get returns the named session.
func (s *Store) Get(name string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[name]
	if !ok {
		return nil, api.StatusErrorf(http.StatusNotFound, "Session %q not found", name)
	}

	return e, nil
}

// List returns every session ordered by name.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	return entries
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// Delete removes the named session. Statements already dispatched still run to completion.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[name]
	if !ok {
		return api.StatusErrorf(http.StatusNotFound, "Session %q not found", name)
	}

	delete(s.entries, name)
	logger.Debug("Deleted session", logger.Ctx{"session": name})

	return nil
}

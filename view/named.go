package view

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/canonical/asyncsql/pool"
	"github.com/canonical/asyncsql/query"
)

// FirstRole is the role id of the first column. Column i has role FirstRole+i.
const FirstRole = 257

// PrefixMode controls when column names are qualified with their table name.
type PrefixMode int

const (
	// PrefixNever uses the bare column names.
	PrefixNever PrefixMode = iota

	// PrefixAlways qualifies every column with a known table.
	PrefixAlways

	// PrefixOnDuplicate only qualifies columns whose name appears more than once.
	PrefixOnDuplicate
)

// NamedModel exposes the latest result of a prepared query by column name.
type NamedModel struct {
	session *query.Session

	mu          sync.RWMutex
	text        string
	prefix      PrefixMode
	result      query.Result
	columnNames []string
	roles       map[string]int

	succeededHooks []func(query.Result)
	failedHooks    []func(error)
	columnHooks    []func(names []string)
}

// NewNamedModel returns an empty model whose results are delivered to owner.
func NewNamedModel(engine *query.Engine, owner pool.Executor) *NamedModel {
	m := &NamedModel{
		session: engine.NewSession(owner),
		roles:   map[string]int{},
	}

	m.session.OnDone(m.onDone)

	return m
}

func (m *NamedModel) onDone(result query.Result) {
	m.mu.Lock()
	m.result = result
	changed := m.updateRoles()
	names := append([]string{}, m.columnNames...)
	columnHooks := m.columnHooks
	succeededHooks := m.succeededHooks
	failedHooks := m.failedHooks
	m.mu.Unlock()

	if changed {
		for _, f := range columnHooks {
			f(names)
		}
	}

	if result.IsValid() {
		for _, f := range succeededHooks {
			f(result)
		}

		return
	}

	for _, f := range failedHooks {
		f(result.Err())
	}
}

// updateRoles must be called with the lock held. It returns whether the column names changed.
func (m *NamedModel) updateRoles() bool {
	names := columnNames(m.result.Columns(), m.prefix)

	m.roles = make(map[string]int, len(names))
	for i, name := range names {
		_, ok := m.roles[name]
		if !ok {
			m.roles[name] = FirstRole + i
		}
	}

	if slices.Equal(names, m.columnNames) {
		return false
	}

	m.columnNames = names

	return true
}

// columnNames returns the role name of each column under the given prefix mode. Duplicate
// names without a known table are made unique with their column position.
func columnNames(columns []query.Column, prefix PrefixMode) []string {
	seen := map[string]int{}
	for _, c := range columns {
		seen[c.Name]++
	}

	names := make([]string, 0, len(columns))
	for i, c := range columns {
		name := c.Name
		duplicate := seen[c.Name] > 1

		qualify := prefix == PrefixAlways || (prefix == PrefixOnDuplicate && duplicate)
		qualified := c.Table != "" && strings.HasPrefix(c.Name, c.Table+".")
		if qualify && c.Table != "" && !qualified {
			name = c.Table + "." + c.Name
		} else if prefix == PrefixOnDuplicate && duplicate && !qualified {
			name = fmt.Sprintf("%s_%d", c.Name, i+1)
		}

		names = append(names, name)
	}

	return names
}

// Session returns the session feeding the model.
func (m *NamedModel) Session() *query.Session {
	return m.session
}

// OnSucceeded registers f to be called with every successful result.
func (m *NamedModel) OnSucceeded(f func(query.Result)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.succeededHooks = append(m.succeededHooks, f)
}

// OnFailed registers f to be called with the error of every failed result.
func (m *NamedModel) OnFailed(f func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failedHooks = append(m.failedHooks, f)
}

// OnColumnNamesChanged registers f to be called when the column names change.
func (m *NamedModel) OnColumnNamesChanged(f func(names []string)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.columnHooks = append(m.columnHooks, f)
}

// Query returns the prepared query text.
func (m *NamedModel) Query() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.text
}

// SetQuery clears the model and prepares text. Setting the current text does nothing.
func (m *NamedModel) SetQuery(text string) {
	m.mu.RLock()
	same := text == m.text
	m.mu.RUnlock()

	if same {
		return
	}

	m.Clear()

	m.mu.Lock()
	m.text = text
	m.mu.Unlock()

	m.session.Prepare(text)
}

// BindValue binds a value to a placeholder of the prepared query.
func (m *NamedModel) BindValue(name string, v query.Value) bool {
	return m.session.BindValue(name, v)
}

// Exec runs the prepared query with its current bindings.
func (m *NamedModel) Exec() {
	m.session.StartExec()
}

// StartExec runs text without changing the prepared query.
func (m *NamedModel) StartExec(text string) {
	m.session.StartExecText(text)
}

// Clear empties the model and its column names.
func (m *NamedModel) Clear() {
	m.mu.Lock()
	m.result = query.Result{}
	changed := m.updateRoles()
	hooks := m.columnHooks
	m.mu.Unlock()

	if changed {
		for _, f := range hooks {
			f([]string{})
		}
	}
}

// PrefixMode returns the current prefix mode.
func (m *NamedModel) PrefixMode() PrefixMode {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.prefix
}

// SetPrefixMode changes how column names are qualified and recomputes the roles.
func (m *NamedModel) SetPrefixMode(prefix PrefixMode) {
	m.mu.Lock()
	m.prefix = prefix
	changed := m.updateRoles()
	names := append([]string{}, m.columnNames...)
	hooks := m.columnHooks
	m.mu.Unlock()

	if changed {
		for _, f := range hooks {
			f(names)
		}
	}
}

// Result returns the result currently shown.
func (m *NamedModel) Result() query.Result {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.result
}

// Err returns the error of the result currently shown, if any.
func (m *NamedModel) Err() error {
	return m.Result().Err()
}

// ColumnNames returns the role name of each column.
func (m *NamedModel) ColumnNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]string{}, m.columnNames...)
}

// RoleNames maps each role id to its column name.
func (m *NamedModel) RoleNames() map[int]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	roles := make(map[int]string, len(m.columnNames))
	for i, name := range m.columnNames {
		roles[FirstRole+i] = name
	}

	return roles
}

// RowCount returns the number of rows.
func (m *NamedModel) RowCount() int {
	return m.Result().Count()
}

// ColumnCount returns the number of columns.
func (m *NamedModel) ColumnCount() int {
	return len(m.ColumnNames())
}

// Data returns the cell of the given row in the named column, or the invalid Value if there is none.
func (m *NamedModel) Data(row int, name string) query.Value {
	m.mu.RLock()
	defer m.mu.RUnlock()

	role, ok := m.roles[name]
	if !ok {
		return query.Value{}
	}

	return m.result.Value(row, role-FirstRole)
}

// DataRole returns the cell of the given row in the column with the given role id.
func (m *NamedModel) DataRole(row int, role int) query.Value {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if role < FirstRole || role >= FirstRole+len(m.columnNames) {
		return query.Value{}
	}

	return m.result.Value(row, role-FirstRole)
}

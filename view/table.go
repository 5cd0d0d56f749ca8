// Package view adapts session results to row and column oriented models.
package view

import (
	"io"
	"sync"

	"github.com/canonical/lxd/shared/logger"
	"github.com/olekukonko/tablewriter"

	"github.com/canonical/asyncsql/pool"
	"github.com/canonical/asyncsql/query"
)

// TableModel exposes the latest result of its session by row and column.
type TableModel struct {
	session *query.Session

	mu     sync.RWMutex
	result query.Result

	resetHooks []func()
}

// NewTableModel returns an empty model whose results are delivered to owner.
func NewTableModel(engine *query.Engine, owner pool.Executor) *TableModel {
	m := &TableModel{session: engine.NewSession(owner)}
	m.session.OnDone(m.onDone)

	return m
}

func (m *TableModel) onDone(result query.Result) {
	if !result.IsValid() {
		logger.Debug("Table model query failed", logger.Ctx{"statement": result.Statement(), "err": result.Err()})
	}

	m.mu.Lock()
	m.result = result
	hooks := m.resetHooks
	m.mu.Unlock()

	for _, f := range hooks {
		f()
	}
}

// Session returns the session feeding the model.
func (m *TableModel) Session() *query.Session {
	return m.session
}

// OnReset registers f to be called whenever the model's content is replaced.
func (m *TableModel) OnReset(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetHooks = append(m.resetHooks, f)
}

// StartExec runs text and replaces the model's content with its result.
func (m *TableModel) StartExec(text string) {
	m.session.StartExecText(text)
}

// Clear empties the model.
func (m *TableModel) Clear() {
	m.onDone(query.Result{})
}

// Result returns the result currently shown.
func (m *TableModel) Result() query.Result {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.result
}

// Err returns the error of the result currently shown, if any.
func (m *TableModel) Err() error {
	return m.Result().Err()
}

// RowCount returns the number of rows.
func (m *TableModel) RowCount() int {
	return m.Result().Count()
}

// ColumnCount returns the number of columns.
func (m *TableModel) ColumnCount() int {
	return len(m.Result().Columns())
}

// Data returns a cell, or the invalid Value when out of range.
func (m *TableModel) Data(row int, column int) query.Value {
	return m.Result().Value(row, column)
}

// Header returns a column name, or the empty string when out of range.
func (m *TableModel) Header(column int) string {
	names := m.Result().ColumnNames()
	if column < 0 || column >= len(names) {
		return ""
	}

	return names[column]
}

// Render writes the model as a text table.
func (m *TableModel) Render(w io.Writer) {
	Render(w, m.Result())
}

// Render writes a result as a text table. NULL cells are shown as "NULL".
func Render(w io.Writer, result query.Result) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(result.ColumnNames())
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)

	for _, row := range result.Rows() {
		cells := make([]string, 0, len(row))
		for _, v := range row {
			if v.IsNull() {
				cells = append(cells, "NULL")
				continue
			}

			cells = append(cells, v.String())
		}

		table.Append(cells)
	}

	table.Render()
}

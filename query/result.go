package query

import (
	"regexp"
	"strings"
)

// Column describes a result column.
type Column struct {
	// Name is the column name as reported by the driver.
	Name string

	// Type is the database type name, if the driver reports one.
	Type string

	// Table is the table the column belongs to, or empty if unknown.
	Table string
}

// Result is the immutable outcome of one statement execution.
//
// The zero Result is valid and empty. All accessors are safe for concurrent use.
type Result struct {
	err          error
	statement    string
	columns      []Column
	rows         [][]Value
	rowsAffected int64
	lastInsertID Value
}

func newResult(statement string) Result {
	return Result{
		statement:    statement,
		rowsAffected: -1,
		lastInsertID: Null(),
	}
}

// failedResult returns a result carrying only the given error.
func failedResult(statement string, err error) Result {
	r := newResult(statement)
	r.err = err

	return r
}

// IsValid returns true if the statement succeeded.
func (r Result) IsValid() bool {
	return r.err == nil
}

// Err returns the failure, if any. It wraps ErrConnection, ErrPrepare or ErrExecution.
func (r Result) Err() error {
	return r.err
}

// Statement returns the SQL text the result was produced by.
func (r Result) Statement() string {
	return r.statement
}

// Columns returns the column descriptions.
func (r Result) Columns() []Column {
	return append([]Column{}, r.columns...)
}

// ColumnNames returns the column names in order.
func (r Result) ColumnNames() []string {
	names := make([]string, 0, len(r.columns))
	for _, c := range r.columns {
		names = append(names, c.Name)
	}

	return names
}

// ColumnIndex returns the position of the first column with the given name, or -1.
func (r Result) ColumnIndex(name string) int {
	for i, c := range r.columns {
		if c.Name == name {
			return i
		}
	}

	return -1
}

// Count returns the number of rows.
func (r Result) Count() int {
	return len(r.rows)
}

// Value returns the cell at the given row and column, or the invalid Value when out of range.
func (r Result) Value(row int, column int) Value {
	if row < 0 || row >= len(r.rows) {
		return Value{}
	}

	if column < 0 || column >= len(r.rows[row]) {
		return Value{}
	}

	return r.rows[row][column]
}

// ValueByName returns the cell at the given row in the first column with the given name, or
// the invalid Value when there is no such cell.
func (r Result) ValueByName(row int, name string) Value {
	return r.Value(row, r.ColumnIndex(name))
}

// Row returns the named cells of a row, or nil when out of range. With duplicate column names
// the first column wins.
func (r Result) Row(row int) map[string]Value {
	if row < 0 || row >= len(r.rows) {
		return nil
	}

	record := make(map[string]Value, len(r.columns))
	for i, c := range r.columns {
		_, ok := record[c.Name]
		if ok {
			continue
		}

		record[c.Name] = r.rows[row][i]
	}

	return record
}

// Rows returns a copy of every row's cells.
func (r Result) Rows() [][]Value {
	rows := make([][]Value, 0, len(r.rows))
	for _, row := range r.rows {
		rows = append(rows, append([]Value{}, row...))
	}

	return rows
}

// RowsAffected returns the number of rows changed by the statement, or -1 if unknown.
func (r Result) RowsAffected() int64 {
	return r.rowsAffected
}

// LastInsertID returns the id of the last inserted row, or Null if the driver did not report one.
func (r Result) LastInsertID() Value {
	if !r.lastInsertID.IsValid() {
		return Null()
	}

	return r.lastInsertID
}

var singleTableSelect = regexp.MustCompile(`(?is)^\s*select\s.+?\sfrom\s+["\x60]?([A-Za-z_][A-Za-z0-9_]*)["\x60]?(?:\s+(?:as\s+)?[A-Za-z_][A-Za-z0-9_]*)?\s*(?:where\s.*|group\s.*|order\s.*|limit\s.*|;)?\s*$`)

// columnTables resolves the source table of each column. Qualified "table.column" names are
// split; otherwise the table of a plain single table SELECT applies to every column.
func columnTables(statement string, names []string) []Column {
	table := ""
	m := singleTableSelect.FindStringSubmatch(statement)
	if m != nil && !strings.Contains(strings.ToUpper(m[0]), " JOIN ") {
		table = m[1]
	}

	columns := make([]Column, 0, len(names))
	for _, name := range names {
		c := Column{Name: name, Table: table}
		before, after, ok := strings.Cut(name, ".")
		if ok && before != "" && after != "" {
			c.Table = before
		}

		columns = append(columns, c)
	}

	return columns
}

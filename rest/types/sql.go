package types

import (
	"github.com/canonical/asyncsql/query"
)

// SQLDump represents the text of a SQL dump.
type SQLDump struct {
	Text string `json:"text" yaml:"text"`
}

// SQLQuery represents a SQL statement and its optional bindings.
//
// Params with numeric names ("1", "2") bind positional placeholders, other names bind named
// placeholders. Batch binds one value per execution; a query with Batch bindings runs as a batch.
type SQLQuery struct {
	Query  string                   `json:"query" yaml:"query"`
	Params map[string]query.Value   `json:"params,omitempty" yaml:"params,omitempty"`
	Batch  map[string][]query.Value `json:"batch,omitempty" yaml:"batch,omitempty"`
}

// SQLBatch represents the results of every statement of a request.
type SQLBatch struct {
	Results []SQLResult `json:"results" yaml:"results"`
}

// SQLColumn describes a result column.
type SQLColumn struct {
	Name  string `json:"name" yaml:"name"`
	Type  string `json:"type,omitempty" yaml:"type,omitempty"`
	Table string `json:"table,omitempty" yaml:"table,omitempty"`
}

// SQLResult represents the result of executing a SQL statement.
type SQLResult struct {
	Statement    string          `json:"statement" yaml:"statement"`
	Type         string          `json:"type" yaml:"type"`
	Columns      []SQLColumn     `json:"columns" yaml:"columns"`
	Rows         [][]query.Value `json:"rows" yaml:"rows"`
	RowsAffected int64           `json:"rows_affected" yaml:"rows_affected"`
	LastInsertID *int64          `json:"last_insert_id,omitempty" yaml:"last_insert_id,omitempty"`
	Error        string          `json:"error,omitempty" yaml:"error,omitempty"`
}

// ColumnNames returns the names of the result columns.
func (r SQLResult) ColumnNames() []string {
	names := make([]string, 0, len(r.Columns))
	for _, c := range r.Columns {
		names = append(names, c.Name)
	}

	return names
}

// NewSQLResult converts a query result for the API.
func NewSQLResult(res query.Result) SQLResult {
	result := SQLResult{
		Statement:    res.Statement(),
		Type:         "exec",
		Columns:      []SQLColumn{},
		Rows:         res.Rows(),
		RowsAffected: res.RowsAffected(),
	}

	for _, c := range res.Columns() {
		result.Columns = append(result.Columns, SQLColumn{Name: c.Name, Type: c.Type, Table: c.Table})
	}

	if len(result.Columns) > 0 {
		result.Type = "select"
	}

	id := res.LastInsertID()
	if !id.IsNull() {
		n := id.Int()
		result.LastInsertID = &n
	}

	if !res.IsValid() {
		result.Type = "error"
		result.Error = res.Err().Error()
	}

	return result
}

package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/canonical/lxd/shared/logger"

	"github.com/canonical/asyncsql/database"
	"github.com/canonical/asyncsql/pool"
)

// run executes a statement on the worker's own connection, opening it on first use.
func (e *Engine) run(ctx context.Context, w *pool.Worker, stmt Statement) Result {
	conn, err := e.registry.Acquire(ctx, w.ID())
	if err != nil {
		logger.Warn("Failed to acquire worker connection", logger.Ctx{"worker": w.ID(), "err": err})
		return failedResult(stmt.Text, fmt.Errorf("%w: %w", ErrConnection, err))
	}

	if stmt.Delay > 0 {
		time.Sleep(stmt.Delay)
	}

	res := execute(ctx, conn, stmt)
	if res.err != nil {
		logger.Debug("Statement failed", logger.Ctx{"worker": w.ID(), "statement": stmt.Text, "err": res.err})
	}

	return res
}

// execute runs a statement on an open connection and captures its outcome.
func execute(ctx context.Context, conn *database.Conn, stmt Statement) Result {
	res := newResult(stmt.Text)
	db := conn.SQL()
	precision := conn.Precision()

	if !stmt.Prepared {
		if returnsRows(stmt.Text) {
			rows, err := db.QueryContext(ctx, stmt.Text)
			res.readRows(rows, err, precision)
		} else {
			result, err := db.ExecContext(ctx, stmt.Text)
			res.readExec(result, err)
		}

		return res
	}

	prepared, err := db.PrepareContext(ctx, stmt.Text)
	if err != nil {
		res.err = fmt.Errorf("%w: %w", ErrPrepare, err)
		return res
	}

	defer func() { _ = prepared.Close() }()

	if stmt.Batch {
		res.execBatch(ctx, prepared, stmt)
		return res
	}

	if returnsRows(stmt.Text) {
		rows, err := prepared.QueryContext(ctx, stmt.args(-1)...)
		res.readRows(rows, err, precision)
	} else {
		result, err := prepared.ExecContext(ctx, stmt.args(-1)...)
		res.readExec(result, err)
	}

	return res
}

// execBatch executes the prepared statement once per batch element, stopping at the first failure.
// Rows affected is the sum over the successful executions.
func (r *Result) execBatch(ctx context.Context, prepared *sql.Stmt, stmt Statement) {
	size, err := stmt.batchSize()
	if err != nil {
		r.err = fmt.Errorf("%w: %w", ErrExecution, err)
		return
	}

	var total int64
	known := true
	for i := 0; i < size; i++ {
		result, err := prepared.ExecContext(ctx, stmt.args(i)...)
		if err != nil {
			r.err = fmt.Errorf("%w: Batch element %d: %w", ErrExecution, i, err)
			break
		}

		n, err := result.RowsAffected()
		if err != nil {
			known = false
		} else {
			total += n
		}

		id, err := result.LastInsertId()
		if err == nil {
			r.lastInsertID = Int(id)
		}
	}

	if known {
		r.rowsAffected = total
	}
}

func (r *Result) readExec(result sql.Result, err error) {
	if err != nil {
		r.err = fmt.Errorf("%w: %w", ErrExecution, err)
		return
	}

	n, err := result.RowsAffected()
	if err == nil {
		r.rowsAffected = n
	}

	id, err := result.LastInsertId()
	if err == nil {
		r.lastInsertID = Int(id)
	}
}

// readRows captures every row. Rows read before a failure are kept alongside the error.
func (r *Result) readRows(rows *sql.Rows, err error, precision database.PrecisionPolicy) {
	if err != nil {
		r.err = fmt.Errorf("%w: %w", ErrExecution, err)
		return
	}

	defer func() { _ = rows.Close() }()

	types, err := rows.ColumnTypes()
	if err != nil {
		r.err = fmt.Errorf("%w: Failed to get column types: %w", ErrExecution, err)
		return
	}

	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, t.Name())
	}

	r.columns = columnTables(r.statement, names)
	for i, t := range types {
		r.columns[i].Type = t.DatabaseTypeName()
	}

	for rows.Next() {
		cells := make([]any, len(types))
		pointers := make([]any, len(types))
		for i := range cells {
			pointers[i] = &cells[i]
		}

		err := rows.Scan(pointers...)
		if err != nil {
			r.err = fmt.Errorf("%w: Failed to scan row: %w", ErrExecution, err)
			return
		}

		row := make([]Value, 0, len(cells))
		for i, cell := range cells {
			v, err := fromDriver(cell, r.columns[i].Type, precision)
			if err != nil {
				r.err = fmt.Errorf("%w: Column %q: %w", ErrExecution, r.columns[i].Name, err)
				return
			}

			row = append(row, v)
		}

		r.rows = append(r.rows, row)
	}

	err = rows.Err()
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		r.err = fmt.Errorf("%w: %w", ErrExecution, err)
	}
}

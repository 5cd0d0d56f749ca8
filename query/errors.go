package query

import (
	"errors"
)

// ErrConnection is wrapped by result errors caused by the worker failing to open its connection.
var ErrConnection = errors.New("Connection error")

// ErrPrepare is wrapped by result errors caused by the statement failing to prepare.
var ErrPrepare = errors.New("Statement error")

// ErrExecution is wrapped by result errors caused by the statement failing to execute.
var ErrExecution = errors.New("Execution error")

// ErrInvalidBatch is returned for batch bindings that cannot be bound.
var ErrInvalidBatch = errors.New("Invalid batch values")

package query

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Param is a named placeholder binding. Values is set for batch bindings, Value otherwise.
type Param struct {
	Name   string
	Value  Value
	Values []Value
}

// IsBatch returns true if the binding holds one value per batch execution.
func (p Param) IsBatch() bool {
	return p.Values != nil
}

// Statement describes a single unit of work for a worker.
type Statement struct {
	// Text is the SQL text.
	Text string

	// Prepared means the text is prepared and Params bound before execution.
	Prepared bool

	// Batch means the statement is executed once per element of its batch bindings.
	Batch bool

	Params []Param

	// Delay is slept on the worker before executing.
	Delay time.Duration
}

// clone returns a deep copy, so the dispatched statement is isolated from later binds.
func (s Statement) clone() Statement {
	c := s
	c.Params = make([]Param, 0, len(s.Params))
	for _, p := range s.Params {
		if p.Values != nil {
			p.Values = append([]Value{}, p.Values...)
		}

		c.Params = append(c.Params, p)
	}

	return c
}

// bind replaces the binding with the same name or appends a new one.
func (s *Statement) bind(p Param) {
	for i := range s.Params {
		if s.Params[i].Name == p.Name {
			s.Params[i] = p
			return
		}
	}

	s.Params = append(s.Params, p)
}

// CheckBatch returns an error unless values can be bound as a batch: the list must be non-empty,
// hold no invalid Value, and its non-null elements must share one kind. Null fits any kind.
func CheckBatch(values []Value) error {
	if len(values) == 0 {
		return fmt.Errorf("%w: no values", ErrInvalidBatch)
	}

	kind := KindNull
	for i, v := range values {
		if !v.IsValid() {
			return fmt.Errorf("%w: value %d is invalid", ErrInvalidBatch, i)
		}

		if v.IsNull() {
			continue
		}

		if kind != KindNull && v.Kind() != kind {
			return fmt.Errorf("%w: value %d is %s, expected %s", ErrInvalidBatch, i, v.Kind(), kind)
		}

		kind = v.Kind()
	}

	return nil
}

// batchSize returns the number of executions of a batch statement. Every batch binding must
// hold the same number of values.
func (s Statement) batchSize() (int, error) {
	size := -1
	for _, p := range s.Params {
		if !p.IsBatch() {
			continue
		}

		if size >= 0 && len(p.Values) != size {
			return 0, fmt.Errorf("Batch binding %q has %d values, expected %d", p.Name, len(p.Values), size)
		}

		size = len(p.Values)
	}

	if size < 0 {
		return 0, fmt.Errorf("Statement has no batch bindings")
	}

	return size, nil
}

// positional returns the position of a numeric placeholder name such as "0", "1", "?1" or ":1".
// Positions only order the arguments, so both 0-based and 1-based numbering work.
func positional(name string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimLeft(name, "?:@$"))
	if err != nil || n < 0 {
		return 0, false
	}

	return n, true
}

// args returns the driver arguments for the i-th batch execution, or for a single execution
// when i is negative. Numeric names bind by position, other names as sql.Named with any
// leading ':', '@' or '$' removed.
func (s Statement) args(i int) []any {
	type indexed struct {
		pos int
		v   Value
	}

	value := func(p Param) Value {
		if p.IsBatch() && i >= 0 && i < len(p.Values) {
			return p.Values[i]
		}

		return p.Value
	}

	ordered := []indexed{}
	named := []any{}
	for _, p := range s.Params {
		pos, ok := positional(p.Name)
		if ok {
			ordered = append(ordered, indexed{pos: pos, v: value(p)})
			continue
		}

		named = append(named, sql.Named(strings.TrimLeft(p.Name, ":@$"), value(p).Any()))
	}

	sort.SliceStable(ordered, func(a, b int) bool { return ordered[a].pos < ordered[b].pos })

	args := make([]any, 0, len(ordered)+len(named))
	for _, o := range ordered {
		args = append(args, o.v.Any())
	}

	return append(args, named...)
}

// returnsRows guesses whether the statement produces a result set.
func returnsRows(text string) bool {
	keyword := strings.ToUpper(firstKeyword(text))
	switch keyword {
	case "SELECT", "WITH", "PRAGMA", "EXPLAIN", "VALUES", "SHOW", "DESCRIBE", "TABLE":
		return true
	}

	return hasKeyword(text, "RETURNING")
}

// hasKeyword returns whether keyword appears as a bare word of text, outside string literals,
// quoted identifiers and comments.
func hasKeyword(text string, keyword string) bool {
	isWord := func(b byte) bool {
		return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
	}

	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			end := strings.IndexByte(text[i+1:], c)
			if end < 0 {
				return false
			}

			i += end + 2
		case c == '[':
			end := strings.IndexByte(text[i+1:], ']')
			if end < 0 {
				return false
			}

			i += end + 2
		case strings.HasPrefix(text[i:], "--"):
			end := strings.IndexByte(text[i:], '\n')
			if end < 0 {
				return false
			}

			i += end + 1
		case strings.HasPrefix(text[i:], "/*"):
			end := strings.Index(text[i+2:], "*/")
			if end < 0 {
				return false
			}

			i += end + 4
		case isWord(c):
			start := i
			for i < len(text) && isWord(text[i]) {
				i++
			}

			if strings.EqualFold(text[start:i], keyword) {
				return true
			}
		default:
			i++
		}
	}

	return false
}

// firstKeyword returns the first word of the statement, skipping whitespace, comments and
// opening parentheses.
func firstKeyword(text string) string {
	for {
		text = strings.TrimLeft(text, " \t\r\n(")
		switch {
		case strings.HasPrefix(text, "--"):
			end := strings.IndexByte(text, '\n')
			if end < 0 {
				return ""
			}

			text = text[end+1:]
		case strings.HasPrefix(text, "/*"):
			end := strings.Index(text, "*/")
			if end < 0 {
				return ""
			}

			text = text[end+2:]
		default:
			end := strings.IndexFunc(text, func(r rune) bool {
				return !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
			})

			if end < 0 {
				return text
			}

			return text[:end]
		}
	}
}

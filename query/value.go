package query

import (
	"bytes"
	"database/sql/driver"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/canonical/asyncsql/database"
)

// Kind is the type tag of a Value.
type Kind int

const (
	// KindInvalid is the zero Value. It stands for "no such value", e.g. an out of range cell.
	KindInvalid Kind = iota

	// KindNull is an SQL NULL.
	KindNull

	// KindInt is a 64 bit signed integer.
	KindInt

	// KindFloat is a 64 bit floating point number.
	KindFloat

	// KindText is a string.
	KindText

	// KindBool is a boolean.
	KindBool

	// KindBytes is binary data.
	KindBytes

	// KindTime is a timestamp.
	KindTime
)

var kindNames = map[Kind]string{
	KindInvalid: "invalid",
	KindNull:    "null",
	KindInt:     "int",
	KindFloat:   "float",
	KindText:    "text",
	KindBool:    "bool",
	KindBytes:   "bytes",
	KindTime:    "time",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	name, ok := kindNames[k]
	if !ok {
		return fmt.Sprintf("kind(%d)", int(k))
	}

	return name
}

// Value is a bound parameter or a result cell.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    []byte
	t    time.Time
}

// Null returns an SQL NULL.
func Null() Value {
	return Value{kind: KindNull}
}

// Int returns an integer value.
func Int(i int64) Value {
	return Value{kind: KindInt, i: i}
}

// Float returns a floating point value.
func Float(f float64) Value {
	return Value{kind: KindFloat, f: f}
}

// Text returns a string value.
func Text(s string) Value {
	return Value{kind: KindText, s: s}
}

// Bool returns a boolean value.
func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.i = 1
	}

	return v
}

// Bytes returns a binary value holding a copy of b.
func Bytes(b []byte) Value {
	return Value{kind: KindBytes, b: bytes.Clone(b)}
}

// Time returns a timestamp value.
func Time(t time.Time) Value {
	return Value{kind: KindTime, t: t}
}

// FromAny converts a Go or driver value into a Value. nil becomes Null.
func FromAny(x any) (Value, error) {
	switch x := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return fromUint(uint64(x))
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint64:
		return fromUint(x)
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case string:
		return Text(x), nil
	case []byte:
		return Bytes(x), nil
	case bool:
		return Bool(x), nil
	case time.Time:
		return Time(x), nil
	case driver.Valuer:
		v, err := x.Value()
		if err != nil {
			return Value{}, fmt.Errorf("Failed to get driver value: %w", err)
		}

		return FromAny(v)
	default:
		return Value{}, fmt.Errorf("Unsupported value type %T", x)
	}
}

// Values converts each element with FromAny.
func Values(xs ...any) ([]Value, error) {
	values := make([]Value, 0, len(xs))
	for i, x := range xs {
		v, err := FromAny(x)
		if err != nil {
			return nil, fmt.Errorf("Invalid value at index %d: %w", i, err)
		}

		values = append(values, v)
	}

	return values, nil
}

func fromUint(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return Value{}, fmt.Errorf("Unsigned value %d overflows int64", u)
	}

	return Int(int64(u)), nil
}

// Kind returns the type tag.
func (v Value) Kind() Kind {
	return v.kind
}

// IsValid returns false only for the zero Value.
func (v Value) IsValid() bool {
	return v.kind != KindInvalid
}

// IsNull returns true for an SQL NULL.
func (v Value) IsNull() bool {
	return v.kind == KindNull
}

// Int returns the value as an integer, converting floats, booleans and numeric text.
func (v Value) Int() int64 {
	switch v.kind {
	case KindInt, KindBool:
		return v.i
	case KindFloat:
		return int64(v.f)
	case KindText:
		i, err := strconv.ParseInt(strings.TrimSpace(v.s), 10, 64)
		if err == nil {
			return i
		}

		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err == nil {
			return int64(f)
		}
	case KindTime:
		return v.t.Unix()
	}

	return 0
}

// Float returns the value as a floating point number, converting integers, booleans and numeric text.
func (v Value) Float() float64 {
	switch v.kind {
	case KindFloat:
		return v.f
	case KindInt, KindBool:
		return float64(v.i)
	case KindText:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err == nil {
			return f
		}
	}

	return 0
}

// Bool returns the value as a boolean. Non-zero numbers and "true"-like text are true.
func (v Value) Bool() bool {
	switch v.kind {
	case KindBool, KindInt:
		return v.i != 0
	case KindFloat:
		return v.f != 0
	case KindText:
		b, err := strconv.ParseBool(strings.TrimSpace(v.s))
		return err == nil && b
	}

	return false
}

// Bytes returns the value as binary data. Text is returned as its UTF-8 bytes.
func (v Value) Bytes() []byte {
	switch v.kind {
	case KindBytes:
		return bytes.Clone(v.b)
	case KindText:
		return []byte(v.s)
	}

	return nil
}

// Time returns the timestamp of a KindTime value, or the zero time.
func (v Value) Time() time.Time {
	if v.kind == KindTime {
		return v.t
	}

	return time.Time{}
}

// String returns a human readable form of the value. Null and invalid values render as the empty string.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindText:
		return v.s
	case KindBool:
		return strconv.FormatBool(v.i != 0)
	case KindBytes:
		return string(v.b)
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	}

	return ""
}

// Any returns the value as a database/sql argument. Null and invalid values are nil.
func (v Value) Any() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindText:
		return v.s
	case KindBool:
		return v.i != 0
	case KindBytes:
		return bytes.Clone(v.b)
	case KindTime:
		return v.t
	}

	return nil
}

// Equal reports whether both values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}

	switch v.kind {
	case KindInt, KindBool:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindText:
		return v.s == o.s
	case KindBytes:
		return bytes.Equal(v.b, o.b)
	case KindTime:
		return v.t.Equal(o.t)
	}

	return true
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return json.Marshal(v.String())
		}

		return json.Marshal(v.f)
	case KindText:
		return json.Marshal(v.s)
	case KindBool:
		return json.Marshal(v.i != 0)
	case KindBytes:
		return json.Marshal(base64.StdEncoding.EncodeToString(v.b))
	case KindTime:
		return json.Marshal(v.t)
	}

	return []byte("null"), nil
}

// UnmarshalJSON implements json.Unmarshaler. Integral numbers become KindInt, other numbers
// KindFloat, strings KindText, booleans KindBool and null KindNull.
func (v *Value) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var x any
	err := decoder.Decode(&x)
	if err != nil {
		return err
	}

	switch x := x.(type) {
	case nil:
		*v = Null()
	case bool:
		*v = Bool(x)
	case string:
		*v = Text(x)
	case json.Number:
		i, err := x.Int64()
		if err == nil {
			*v = Int(i)
			return nil
		}

		f, err := x.Float64()
		if err != nil {
			return fmt.Errorf("Invalid number %q: %w", x.String(), err)
		}

		*v = Float(f)
	default:
		return fmt.Errorf("Unsupported JSON value type %T", x)
	}

	return nil
}

// withPrecision applies a connection's numeric precision policy to a result cell.
func (v Value) withPrecision(policy database.PrecisionPolicy) Value {
	switch policy {
	case database.PrecisionLowInt32:
		switch v.kind {
		case KindInt:
			return Int(int64(int32(v.i)))
		case KindFloat:
			return Int(int64(int32(v.f)))
		}
	case database.PrecisionLowInt64:
		if v.kind == KindFloat {
			return Int(int64(v.f))
		}
	case database.PrecisionLowDouble:
		if v.kind == KindInt {
			return Float(float64(v.i))
		}
	}

	return v
}

// isBinaryType returns true for database column types holding binary data.
func isBinaryType(databaseType string) bool {
	t := strings.ToUpper(databaseType)
	for _, binary := range []string{"BLOB", "BINARY", "BYTEA", "VARBINARY"} {
		if strings.Contains(t, binary) {
			return true
		}
	}

	return false
}

// fromDriver converts a scanned cell. Byte slices are text unless the column type is binary,
// and driver specific types (decimals, intervals, lists) fall back to their text form.
func fromDriver(x any, databaseType string, policy database.PrecisionPolicy) (Value, error) {
	b, ok := x.([]byte)
	if ok && !isBinaryType(databaseType) {
		return Text(string(b)), nil
	}

	v, err := FromAny(x)
	if err != nil {
		_, unsupported := x.(driver.Valuer)
		if unsupported {
			return Value{}, err
		}

		return Text(fmt.Sprint(x)), nil
	}

	return v.withPrecision(policy), nil
}

package value

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Kind identifies the dynamic type carried by a Value
type Kind int

const (
	// KindUnset marks the explicit retraction of a property
	KindUnset Kind = iota
	KindDouble
	KindInteger
	KindBoolean
	KindLongInteger
	KindString
	KindBinaryBlob
	KindDateTime
	KindDoubleArray
	KindIntegerArray
	KindBooleanArray
	KindLongIntegerArray
	KindStringArray
	KindBinaryBlobArray
	KindDateTimeArray
)

// kindNames uses the mapping type names of the interface descriptors
var kindNames = map[Kind]string{
	KindUnset:            "unset",
	KindDouble:           "double",
	KindInteger:          "integer",
	KindBoolean:          "boolean",
	KindLongInteger:      "longinteger",
	KindString:           "string",
	KindBinaryBlob:       "binaryblob",
	KindDateTime:         "datetime",
	KindDoubleArray:      "doublearray",
	KindIntegerArray:     "integerarray",
	KindBooleanArray:     "booleanarray",
	KindLongIntegerArray: "longintegerarray",
	KindStringArray:      "stringarray",
	KindBinaryBlobArray:  "binaryblobarray",
	KindDateTimeArray:    "datetimearray",
}

// String returns the descriptor type name of the kind
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsArray reports whether the kind is one of the array variants
func (k Kind) IsArray() bool {
	return k >= KindDoubleArray && k <= KindDateTimeArray
}

// ParseKind parses a descriptor mapping type. "unset" is not a mapping type
// and is rejected.
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range kindNames {
		if k != KindUnset && n == name {
			return k, nil
		}
	}
	return KindUnset, fmt.Errorf("unknown mapping type: %q", name)
}

// Value is a tagged dynamically-typed value. The zero Value is the unset
// marker.
type Value struct {
	kind Kind
	v    any
}

func Unset() Value { return Value{} }

func Double(f float64) Value { return Value{kind: KindDouble, v: f} }

func Integer(i int32) Value { return Value{kind: KindInteger, v: i} }

func Boolean(b bool) Value { return Value{kind: KindBoolean, v: b} }

func LongInteger(i int64) Value { return Value{kind: KindLongInteger, v: i} }

func String(s string) Value { return Value{kind: KindString, v: s} }

func BinaryBlob(b []byte) Value { return Value{kind: KindBinaryBlob, v: bytes.Clone(b)} }

func DateTime(t time.Time) Value { return Value{kind: KindDateTime, v: t} }

func DoubleArray(a []float64) Value { return Value{kind: KindDoubleArray, v: slices.Clone(a)} }

func IntegerArray(a []int32) Value { return Value{kind: KindIntegerArray, v: slices.Clone(a)} }

func BooleanArray(a []bool) Value { return Value{kind: KindBooleanArray, v: slices.Clone(a)} }

func LongIntegerArray(a []int64) Value { return Value{kind: KindLongIntegerArray, v: slices.Clone(a)} }

func StringArray(a []string) Value { return Value{kind: KindStringArray, v: slices.Clone(a)} }

func BinaryBlobArray(a [][]byte) Value {
	out := make([][]byte, len(a))
	for i, b := range a {
		out[i] = bytes.Clone(b)
	}
	return Value{kind: KindBinaryBlobArray, v: out}
}

func DateTimeArray(a []time.Time) Value { return Value{kind: KindDateTimeArray, v: slices.Clone(a)} }

// Kind returns the dynamic type of the value
func (v Value) Kind() Kind { return v.kind }

// IsUnset reports whether v is the unset marker
func (v Value) IsUnset() bool { return v.kind == KindUnset }

// Interface returns the underlying Go value, nil for unset
func (v Value) Interface() any { return v.v }

func (v Value) AsDouble() (float64, bool) {
	f, ok := v.v.(float64)
	return f, ok && v.kind == KindDouble
}

func (v Value) AsInteger() (int32, bool) {
	i, ok := v.v.(int32)
	return i, ok && v.kind == KindInteger
}

func (v Value) AsBoolean() (bool, bool) {
	b, ok := v.v.(bool)
	return b, ok && v.kind == KindBoolean
}

func (v Value) AsLongInteger() (int64, bool) {
	i, ok := v.v.(int64)
	return i, ok && v.kind == KindLongInteger
}

func (v Value) AsString() (string, bool) {
	s, ok := v.v.(string)
	return s, ok && v.kind == KindString
}

func (v Value) AsBinaryBlob() ([]byte, bool) {
	b, ok := v.v.([]byte)
	return b, ok && v.kind == KindBinaryBlob
}

func (v Value) AsDateTime() (time.Time, bool) {
	t, ok := v.v.(time.Time)
	return t, ok && v.kind == KindDateTime
}

func (v Value) AsDoubleArray() ([]float64, bool) {
	a, ok := v.v.([]float64)
	return a, ok && v.kind == KindDoubleArray
}

func (v Value) AsIntegerArray() ([]int32, bool) {
	a, ok := v.v.([]int32)
	return a, ok && v.kind == KindIntegerArray
}

func (v Value) AsBooleanArray() ([]bool, bool) {
	a, ok := v.v.([]bool)
	return a, ok && v.kind == KindBooleanArray
}

func (v Value) AsLongIntegerArray() ([]int64, bool) {
	a, ok := v.v.([]int64)
	return a, ok && v.kind == KindLongIntegerArray
}

func (v Value) AsStringArray() ([]string, bool) {
	a, ok := v.v.([]string)
	return a, ok && v.kind == KindStringArray
}

func (v Value) AsBinaryBlobArray() ([][]byte, bool) {
	a, ok := v.v.([][]byte)
	return a, ok && v.kind == KindBinaryBlobArray
}

func (v Value) AsDateTimeArray() ([]time.Time, bool) {
	a, ok := v.v.([]time.Time)
	return a, ok && v.kind == KindDateTimeArray
}

// Equal compares kind and content. Timestamps compare by instant, so the
// same moment in two locations is equal.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}

	switch v.kind {
	case KindUnset:
		return true
	case KindDouble, KindInteger, KindBoolean, KindLongInteger, KindString:
		return v.v == o.v
	case KindBinaryBlob:
		return bytes.Equal(v.v.([]byte), o.v.([]byte))
	case KindDateTime:
		return v.v.(time.Time).Equal(o.v.(time.Time))
	case KindDoubleArray:
		return slices.Equal(v.v.([]float64), o.v.([]float64))
	case KindIntegerArray:
		return slices.Equal(v.v.([]int32), o.v.([]int32))
	case KindBooleanArray:
		return slices.Equal(v.v.([]bool), o.v.([]bool))
	case KindLongIntegerArray:
		return slices.Equal(v.v.([]int64), o.v.([]int64))
	case KindStringArray:
		return slices.Equal(v.v.([]string), o.v.([]string))
	case KindBinaryBlobArray:
		return slices.EqualFunc(v.v.([][]byte), o.v.([][]byte), bytes.Equal)
	case KindDateTimeArray:
		return slices.EqualFunc(v.v.([]time.Time), o.v.([]time.Time), time.Time.Equal)
	}
	return false
}

// String formats the value for diagnostics, e.g. "integer(1)"
func (v Value) String() string {
	switch v.kind {
	case KindUnset:
		return "unset"
	case KindBinaryBlob:
		return fmt.Sprintf("%s(%s)", v.kind, EncodeBlob(v.v.([]byte)))
	case KindDateTime:
		return fmt.Sprintf("%s(%s)", v.kind, FormatDateTime(v.v.(time.Time)))
	case KindBinaryBlobArray:
		blobs := v.v.([][]byte)
		parts := make([]string, len(blobs))
		for i, b := range blobs {
			parts[i] = EncodeBlob(b)
		}
		return fmt.Sprintf("%s([%s])", v.kind, strings.Join(parts, " "))
	case KindDateTimeArray:
		times := v.v.([]time.Time)
		parts := make([]string, len(times))
		for i, t := range times {
			parts[i] = FormatDateTime(t)
		}
		return fmt.Sprintf("%s([%s])", v.kind, strings.Join(parts, " "))
	}
	return fmt.Sprintf("%s(%v)", v.kind, v.v)
}

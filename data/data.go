// Package data holds the typed record exchanged on every test interface and
// its lossless conversion to and from the generic aggregate.
package data

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	errs "github.com/eddielth/msghub-e2e/errors"
	"github.com/eddielth/msghub-e2e/value"
)

// Data holds one value per endpoint of the catalog
type Data struct {
	Double           float64
	Integer          int32
	Boolean          bool
	LongInteger      int64
	Str              string
	BinaryBlob       []byte
	DateTime         time.Time
	DoubleArray      []float64
	IntegerArray     []int32
	BooleanArray     []bool
	LongIntegerArray []int64
	StringArray      []string
	BinaryBlobArray  [][]byte
	DateTimeArray    []time.Time
}

// Default returns the fixture every assertion compares against
func Default() Data {
	return Data{
		Double:           4.34,
		Integer:          1,
		Boolean:          true,
		LongInteger:      45543543534,
		Str:              "Hello",
		BinaryBlob:       mustBlob("aGVsbG8="),
		DateTime:         mustDateTime("2021-09-29T17:46:48.000Z"),
		DoubleArray:      []float64{43.5, 10.5, 11.9},
		IntegerArray:     []int32{-4, 123, -2222, 30},
		BooleanArray:     []bool{true, false},
		LongIntegerArray: []int64{53267895478, 53267895428, 53267895118},
		StringArray:      []string{"Test ", "String"},
		BinaryBlobArray:  [][]byte{mustBlob("aGVsbG8="), mustBlob("aGVsbG8=")},
		DateTimeArray: []time.Time{
			mustDateTime("2021-10-23T17:46:48.000Z"),
			mustDateTime("2021-11-11T17:46:48.000Z"),
		},
	}
}

func mustBlob(s string) []byte {
	b, err := value.DecodeBlob(s)
	if err != nil {
		panic(err)
	}
	return b
}

func mustDateTime(s string) time.Time {
	t, err := value.ParseDateTime(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (d Data) valueOf(name string) value.Value {
	switch name {
	case DoubleEndpoint:
		return value.Double(d.Double)
	case IntegerEndpoint:
		return value.Integer(d.Integer)
	case BooleanEndpoint:
		return value.Boolean(d.Boolean)
	case LongIntegerEndpoint:
		return value.LongInteger(d.LongInteger)
	case StringEndpoint:
		return value.String(d.Str)
	case BinaryBlobEndpoint:
		return value.BinaryBlob(d.BinaryBlob)
	case DateTimeEndpoint:
		return value.DateTime(d.DateTime)
	case DoubleArrayEndpoint:
		return value.DoubleArray(d.DoubleArray)
	case IntegerArrayEndpoint:
		return value.IntegerArray(d.IntegerArray)
	case BooleanArrayEndpoint:
		return value.BooleanArray(d.BooleanArray)
	case LongIntegerArrayEndpoint:
		return value.LongIntegerArray(d.LongIntegerArray)
	case StringArrayEndpoint:
		return value.StringArray(d.StringArray)
	case BinaryBlobArrayEndpoint:
		return value.BinaryBlobArray(d.BinaryBlobArray)
	case DateTimeArrayEndpoint:
		return value.DateTimeArray(d.DateTimeArray)
	}
	return value.Unset()
}

// set stores v, whose kind the caller has already checked
func (d *Data) set(name string, v value.Value) {
	switch name {
	case DoubleEndpoint:
		d.Double, _ = v.AsDouble()
	case IntegerEndpoint:
		d.Integer, _ = v.AsInteger()
	case BooleanEndpoint:
		d.Boolean, _ = v.AsBoolean()
	case LongIntegerEndpoint:
		d.LongInteger, _ = v.AsLongInteger()
	case StringEndpoint:
		d.Str, _ = v.AsString()
	case BinaryBlobEndpoint:
		d.BinaryBlob, _ = v.AsBinaryBlob()
	case DateTimeEndpoint:
		d.DateTime, _ = v.AsDateTime()
	case DoubleArrayEndpoint:
		d.DoubleArray, _ = v.AsDoubleArray()
	case IntegerArrayEndpoint:
		d.IntegerArray, _ = v.AsIntegerArray()
	case BooleanArrayEndpoint:
		d.BooleanArray, _ = v.AsBooleanArray()
	case LongIntegerArrayEndpoint:
		d.LongIntegerArray, _ = v.AsLongIntegerArray()
	case StringArrayEndpoint:
		d.StringArray, _ = v.AsStringArray()
	case BinaryBlobArrayEndpoint:
		d.BinaryBlobArray, _ = v.AsBinaryBlobArray()
	case DateTimeArrayEndpoint:
		d.DateTimeArray, _ = v.AsDateTimeArray()
	}
}

// ToObject converts the record to the generic aggregate in catalog order
func (d Data) ToObject() (*value.Object, error) {
	obj := value.NewObject()
	for _, e := range Endpoints {
		v := d.valueOf(e.Name)
		if v.Kind() != e.Kind {
			return nil, errs.New(errs.KindEncoding, "endpoint %s produced %s, want %s", e.Name, v.Kind(), e.Kind)
		}
		obj.Insert(e.Name, v)
	}
	return obj, nil
}

// FromObject converts the generic aggregate back to a record. Every endpoint
// must be present with its catalog kind and no other field may appear.
func FromObject(obj *value.Object) (Data, error) {
	for _, name := range obj.Names() {
		if _, ok := EndpointKind(name); !ok {
			return Data{}, errs.New(errs.KindUnknownField, "unknown field %q", name)
		}
	}

	var d Data
	for _, e := range Endpoints {
		v, ok := obj.Get(e.Name)
		if !ok {
			return Data{}, errs.New(errs.KindSchema, "missing field %q", e.Name)
		}
		if v.Kind() != e.Kind {
			return Data{}, errs.New(errs.KindSchema, "field %q is %s, want %s", e.Name, v.Kind(), e.Kind)
		}
		d.set(e.Name, v)
	}
	return d, nil
}

// Equal compares two records field by field
func (d Data) Equal(o Data) bool {
	for _, e := range Endpoints {
		if !d.valueOf(e.Name).Equal(o.valueOf(e.Name)) {
			return false
		}
	}
	return true
}

// String formats the record through its aggregate form
func (d Data) String() string {
	obj, err := d.ToObject()
	if err != nil {
		return fmt.Sprintf("invalid record: %v", err)
	}
	return obj.String()
}

// MarshalJSON encodes the record as a JSON object in catalog order
func (d Data) MarshalJSON() ([]byte, error) {
	obj, err := d.ToObject()
	if err != nil {
		return nil, err
	}
	return MarshalObject(obj)
}

// UnmarshalJSON decodes a JSON object strictly: unknown and missing fields
// are errors.
func (d *Data) UnmarshalJSON(b []byte) error {
	obj, err := UnmarshalObject(b)
	if err != nil {
		return err
	}
	decoded, err := FromObject(obj)
	if err != nil {
		return err
	}
	*d = decoded
	return nil
}

// MarshalObject encodes an aggregate as a JSON object keeping field order
func MarshalObject(obj *value.Object) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range obj.Names() {
		v, _ := obj.Get(name)
		raw, err := value.MarshalJSONValue(v)
		if err != nil {
			return nil, errs.Wrap(errs.KindEncoding, err, "field %q", name)
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, errs.Wrap(errs.KindEncoding, err, "field %q", name)
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(raw)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalObject decodes a JSON object whose fields belong to the catalog.
// A field given twice is rejected rather than keeping the last copy.
func UnmarshalObject(b []byte) (*value.Object, error) {
	fields, err := decodeFields(b)
	if err != nil {
		return nil, err
	}

	obj := value.NewObject()
	for _, e := range Endpoints {
		raw, ok := fields[e.Name]
		if !ok {
			continue
		}
		v, err := value.UnmarshalJSONValue(e.Kind, raw)
		if err != nil {
			return nil, errs.Wrap(errs.KindSchema, err, "field %q", e.Name)
		}
		obj.Insert(e.Name, v)
		delete(fields, e.Name)
	}
	for name := range fields {
		return nil, errs.New(errs.KindUnknownField, "unknown field %q", name)
	}
	return obj, nil
}

func decodeFields(b []byte) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return nil, errs.Wrap(errs.KindSchema, err, "decode record")
	}
	if tok == nil {
		return nil, errs.New(errs.KindSchema, "record is null")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errs.New(errs.KindSchema, "record is not an object")
	}

	fields := make(map[string]json.RawMessage)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, errs.Wrap(errs.KindSchema, err, "decode record")
		}
		name, _ := tok.(string)
		if _, dup := fields[name]; dup {
			return nil, errs.New(errs.KindSchema, "duplicate field %q", name)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, errs.Wrap(errs.KindSchema, err, "field %q", name)
		}
		fields[name] = raw
	}
	if _, err := dec.Token(); err != nil {
		return nil, errs.Wrap(errs.KindSchema, err, "decode record")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errs.New(errs.KindSchema, "trailing data after record")
	}
	return fields, nil
}

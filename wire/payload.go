package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	errs "github.com/eddielth/msghub-e2e/errors"
	"github.com/eddielth/msghub-e2e/value"
)

// Shape tells which variant a Payload holds
type Shape int

const (
	// ShapeUnset is an explicit property retraction
	ShapeUnset Shape = iota
	// ShapeIndividual is a single scalar or array value
	ShapeIndividual
	// ShapeObject is a whole aggregate
	ShapeObject
)

func (s Shape) String() string {
	switch s {
	case ShapeIndividual:
		return "individual"
	case ShapeObject:
		return "object"
	default:
		return "unset"
	}
}

// Payload is the content of one published message
type Payload struct {
	shape      Shape
	individual value.Value
	object     *value.Object
}

// Individual wraps a single value. An unset value yields an unset payload.
func Individual(v value.Value) Payload {
	if v.IsUnset() {
		return Payload{}
	}
	return Payload{shape: ShapeIndividual, individual: v}
}

// Object wraps an aggregate
func Object(obj *value.Object) Payload {
	return Payload{shape: ShapeObject, object: obj.Clone()}
}

// Unset returns the retraction marker
func Unset() Payload {
	return Payload{}
}

// Shape returns the payload variant
func (p Payload) Shape() Shape { return p.shape }

// IsUnset reports whether p is a retraction
func (p Payload) IsUnset() bool { return p.shape == ShapeUnset }

// AsIndividual returns the individual value, if p holds one
func (p Payload) AsIndividual() (value.Value, bool) {
	return p.individual, p.shape == ShapeIndividual
}

// AsObject returns the aggregate, if p holds one
func (p Payload) AsObject() (*value.Object, bool) {
	if p.shape != ShapeObject {
		return nil, false
	}
	return p.object, true
}

// Equal compares shape and content
func (p Payload) Equal(o Payload) bool {
	if p.shape != o.shape {
		return false
	}
	switch p.shape {
	case ShapeIndividual:
		return p.individual.Equal(o.individual)
	case ShapeObject:
		return p.object.Equal(o.object)
	}
	return true
}

func (p Payload) String() string {
	switch p.shape {
	case ShapeIndividual:
		return p.individual.String()
	case ShapeObject:
		return p.object.String()
	}
	return "<unset>"
}

type item struct {
	Kind value.Kind      `cbor:"k"`
	Data cbor.RawMessage `cbor:"d"`
}

type field struct {
	Name string          `cbor:"n"`
	Kind value.Kind      `cbor:"k"`
	Data cbor.RawMessage `cbor:"d"`
}

type envelope struct {
	Value  *item   `cbor:"v,omitempty"`
	Object []field `cbor:"o,omitempty"`
}

// Encode serializes p. An unset payload is the empty byte slice.
func Encode(p Payload) ([]byte, error) {
	switch p.shape {
	case ShapeUnset:
		return nil, nil
	case ShapeIndividual:
		it, err := encodeItem(p.individual)
		if err != nil {
			return nil, err
		}
		return marshalEnvelope(envelope{Value: &it})
	case ShapeObject:
		if p.object.Len() == 0 {
			return nil, errs.New(errs.KindEncoding, "empty object")
		}
		fields := make([]field, 0, p.object.Len())
		for _, name := range p.object.Names() {
			v, _ := p.object.Get(name)
			it, err := encodeItem(v)
			if err != nil {
				return nil, errs.WithEndpoint(err, name)
			}
			fields = append(fields, field{Name: name, Kind: it.Kind, Data: it.Data})
		}
		return marshalEnvelope(envelope{Object: fields})
	}
	return nil, errs.New(errs.KindEncoding, "unknown payload shape %d", p.shape)
}

// EncodeIndividual serializes a single value
func EncodeIndividual(v value.Value) ([]byte, error) {
	return Encode(Individual(v))
}

// EncodeObject serializes an aggregate
func EncodeObject(obj *value.Object) ([]byte, error) {
	return Encode(Object(obj))
}

func marshalEnvelope(env envelope) ([]byte, error) {
	b, err := encMode.Marshal(env)
	if err != nil {
		return nil, errs.Wrap(errs.KindEncoding, err, "encode payload")
	}
	return b, nil
}

func encodeItem(v value.Value) (item, error) {
	if v.IsUnset() {
		return item{}, errs.New(errs.KindEncoding, "unset value inside a payload")
	}
	d, err := encMode.Marshal(v.Interface())
	if err != nil {
		return item{}, errs.Wrap(errs.KindEncoding, err, "encode %s", v.Kind())
	}
	return item{Kind: v.Kind(), Data: d}, nil
}

// Decode parses a payload produced by Encode. Empty input is an unset.
func Decode(b []byte) (Payload, error) {
	if len(b) == 0 {
		return Unset(), nil
	}

	var env envelope
	if err := decMode.Unmarshal(b, &env); err != nil {
		return Payload{}, errs.Wrap(errs.KindEncoding, err, "decode payload")
	}

	switch {
	case env.Value != nil && env.Object == nil:
		v, err := decodeItem(env.Value.Kind, env.Value.Data)
		if err != nil {
			return Payload{}, err
		}
		return Individual(v), nil
	case env.Value == nil && len(env.Object) > 0:
		obj := value.NewObject()
		for _, f := range env.Object {
			if _, dup := obj.Get(f.Name); dup {
				return Payload{}, errs.New(errs.KindEncoding, "duplicate field %q", f.Name)
			}
			v, err := decodeItem(f.Kind, f.Data)
			if err != nil {
				return Payload{}, errs.WithEndpoint(err, f.Name)
			}
			obj.Insert(f.Name, v)
		}
		return Payload{shape: ShapeObject, object: obj}, nil
	}
	return Payload{}, errs.New(errs.KindEncoding, "payload holds neither a value nor an object")
}

func decodeItem(k value.Kind, d cbor.RawMessage) (value.Value, error) {
	switch k {
	case value.KindDouble:
		return decodeAs(k, d, value.Double)
	case value.KindInteger:
		return decodeAs(k, d, value.Integer)
	case value.KindBoolean:
		return decodeAs(k, d, value.Boolean)
	case value.KindLongInteger:
		return decodeAs(k, d, value.LongInteger)
	case value.KindString:
		return decodeAs(k, d, value.String)
	case value.KindBinaryBlob:
		return decodeAs(k, d, value.BinaryBlob)
	case value.KindDateTime:
		return decodeAs(k, d, value.DateTime)
	case value.KindDoubleArray:
		return decodeAs(k, d, value.DoubleArray)
	case value.KindIntegerArray:
		return decodeAs(k, d, value.IntegerArray)
	case value.KindBooleanArray:
		return decodeAs(k, d, value.BooleanArray)
	case value.KindLongIntegerArray:
		return decodeAs(k, d, value.LongIntegerArray)
	case value.KindStringArray:
		return decodeAs(k, d, value.StringArray)
	case value.KindBinaryBlobArray:
		return decodeAs(k, d, value.BinaryBlobArray)
	case value.KindDateTimeArray:
		return decodeAs(k, d, value.DateTimeArray)
	}
	return value.Value{}, errs.New(errs.KindEncoding, "unknown value kind %d", k)
}

func decodeAs[T any](k value.Kind, d cbor.RawMessage, wrap func(T) value.Value) (value.Value, error) {
	var v T
	if err := decMode.Unmarshal(d, &v); err != nil {
		return value.Value{}, errs.Wrap(errs.KindEncoding, err, "decode %s", k)
	}
	return wrap(v), nil
}

// Diagnostic renders an encoded payload in CBOR diagnostic notation. It is
// only formatted when a log line actually prints it.
type Diagnostic []byte

func (d Diagnostic) String() string {
	if len(d) == 0 {
		return "<unset>"
	}
	diag, err := cbor.Diagnose(d)
	if err != nil {
		return fmt.Sprintf("<%d undecodable bytes>", len(d))
	}
	return diag
}

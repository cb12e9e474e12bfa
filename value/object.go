package value

import (
	"slices"
	"strings"
)

// Object is the generic aggregate: an ordered mapping from field name to
// Value. Insertion order is kept for deterministic iteration only; it does
// not take part in equality.
type Object struct {
	names  []string
	fields map[string]Value
}

func NewObject() *Object {
	return &Object{fields: make(map[string]Value)}
}

// Insert sets name to v. Replacing an existing field keeps its position.
func (o *Object) Insert(name string, v Value) {
	if _, ok := o.fields[name]; !ok {
		o.names = append(o.names, name)
	}
	o.fields[name] = v
}

func (o *Object) Get(name string) (Value, bool) {
	if o == nil {
		return Value{}, false
	}
	v, ok := o.fields[name]
	return v, ok
}

// Remove deletes name and returns its previous value
func (o *Object) Remove(name string) (Value, bool) {
	v, ok := o.fields[name]
	if !ok {
		return Value{}, false
	}
	delete(o.fields, name)
	o.names = slices.DeleteFunc(o.names, func(n string) bool { return n == name })
	return v, true
}

func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.names)
}

// Names returns the field names in insertion order
func (o *Object) Names() []string {
	if o == nil {
		return nil
	}
	return slices.Clone(o.names)
}

func (o *Object) Clone() *Object {
	c := NewObject()
	for _, name := range o.Names() {
		c.Insert(name, o.fields[name])
	}
	return c
}

// Equal reports whether both objects hold the same fields with equal values
func (o *Object) Equal(other *Object) bool {
	if o.Len() != other.Len() {
		return false
	}
	for _, name := range o.Names() {
		ov, ok := other.Get(name)
		if !ok || !o.fields[name].Equal(ov) {
			return false
		}
	}
	return true
}

func (o *Object) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, name := range o.Names() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(o.fields[name].String())
	}
	b.WriteByte('}')
	return b.String()
}

package data

import "github.com/eddielth/msghub-e2e/value"

// Endpoint names of the catalog
const (
	DoubleEndpoint           = "double_endpoint"
	IntegerEndpoint          = "integer_endpoint"
	BooleanEndpoint          = "boolean_endpoint"
	LongIntegerEndpoint      = "longinteger_endpoint"
	StringEndpoint           = "string_endpoint"
	BinaryBlobEndpoint       = "binaryblob_endpoint"
	DateTimeEndpoint         = "datetime_endpoint"
	DoubleArrayEndpoint      = "doublearray_endpoint"
	IntegerArrayEndpoint     = "integerarray_endpoint"
	BooleanArrayEndpoint     = "booleanarray_endpoint"
	LongIntegerArrayEndpoint = "longintegerarray_endpoint"
	StringArrayEndpoint      = "stringarray_endpoint"
	BinaryBlobArrayEndpoint  = "binaryblobarray_endpoint"
	DateTimeArrayEndpoint    = "datetimearray_endpoint"
)

// Endpoint is one named, typed slot of the record
type Endpoint struct {
	Name string
	Kind value.Kind
}

// Path returns the individual path of the endpoint, e.g. /integer_endpoint
func (e Endpoint) Path() string {
	return "/" + e.Name
}

// Endpoints is the fixed catalog, in iteration order
var Endpoints = []Endpoint{
	{DoubleEndpoint, value.KindDouble},
	{IntegerEndpoint, value.KindInteger},
	{BooleanEndpoint, value.KindBoolean},
	{LongIntegerEndpoint, value.KindLongInteger},
	{StringEndpoint, value.KindString},
	{BinaryBlobEndpoint, value.KindBinaryBlob},
	{DateTimeEndpoint, value.KindDateTime},
	{DoubleArrayEndpoint, value.KindDoubleArray},
	{IntegerArrayEndpoint, value.KindIntegerArray},
	{BooleanArrayEndpoint, value.KindBooleanArray},
	{LongIntegerArrayEndpoint, value.KindLongIntegerArray},
	{StringArrayEndpoint, value.KindStringArray},
	{BinaryBlobArrayEndpoint, value.KindBinaryBlobArray},
	{DateTimeArrayEndpoint, value.KindDateTimeArray},
}

// EndpointKind returns the kind of the named endpoint
func EndpointKind(name string) (value.Kind, bool) {
	for _, e := range Endpoints {
		if e.Name == name {
			return e.Kind, true
		}
	}
	return value.KindUnset, false
}

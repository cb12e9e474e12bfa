package value

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// EncodeLongInteger renders a 64-bit integer as a decimal string, the form
// used on text boundaries where JSON numbers would lose precision.
func EncodeLongInteger(i int64) string {
	return strconv.FormatInt(i, 10)
}

func DecodeLongInteger(s string) (int64, error) {
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid longinteger %q: %w", s, err)
	}
	return i, nil
}

// EncodeBlob renders binary data as standard padded base64
func EncodeBlob(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func DecodeBlob(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid binaryblob: %w", err)
	}
	return b, nil
}

// FormatDateTime renders t as RFC 3339 in UTC with millisecond precision
// or better.
func FormatDateTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseDateTime parses an RFC 3339 timestamp with an explicit offset
func ParseDateTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid datetime %q: %w", s, err)
	}
	return t, nil
}

// MarshalJSONValue encodes v for a JSON boundary. Long integers become
// decimal strings, blobs base64 strings and timestamps RFC 3339 strings.
func MarshalJSONValue(v Value) ([]byte, error) {
	switch v.kind {
	case KindUnset:
		return nil, fmt.Errorf("unset has no JSON representation")
	case KindDouble, KindInteger, KindBoolean, KindString:
		return json.Marshal(v.v)
	case KindDoubleArray:
		return marshalJSONArray(v.v.([]float64))
	case KindIntegerArray:
		return marshalJSONArray(v.v.([]int32))
	case KindBooleanArray:
		return marshalJSONArray(v.v.([]bool))
	case KindStringArray:
		return marshalJSONArray(v.v.([]string))
	case KindLongInteger:
		return json.Marshal(EncodeLongInteger(v.v.(int64)))
	case KindBinaryBlob:
		return json.Marshal(EncodeBlob(v.v.([]byte)))
	case KindDateTime:
		return json.Marshal(FormatDateTime(v.v.(time.Time)))
	case KindLongIntegerArray:
		ints := v.v.([]int64)
		out := make([]string, len(ints))
		for i, n := range ints {
			out[i] = EncodeLongInteger(n)
		}
		return json.Marshal(out)
	case KindBinaryBlobArray:
		blobs := v.v.([][]byte)
		out := make([]string, len(blobs))
		for i, b := range blobs {
			out[i] = EncodeBlob(b)
		}
		return json.Marshal(out)
	case KindDateTimeArray:
		times := v.v.([]time.Time)
		out := make([]string, len(times))
		for i, t := range times {
			out[i] = FormatDateTime(t)
		}
		return json.Marshal(out)
	}
	return nil, fmt.Errorf("cannot encode %s", v.kind)
}

// UnmarshalJSONValue decodes raw as a value of kind k. JSON null and
// values of the wrong JSON type are rejected.
func UnmarshalJSONValue(k Kind, raw json.RawMessage) (Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Value{}, fmt.Errorf("%s: missing value", k)
	}

	switch k {
	case KindDouble:
		return decodeJSON(raw, Double)
	case KindInteger:
		return decodeJSON(raw, Integer)
	case KindBoolean:
		return decodeJSON(raw, Boolean)
	case KindString:
		return decodeJSON(raw, String)
	case KindLongInteger:
		i, err := decodeJSONLongInteger(raw)
		if err != nil {
			return Value{}, err
		}
		return LongInteger(i), nil
	case KindBinaryBlob:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, fmt.Errorf("%s: %w", k, err)
		}
		b, err := DecodeBlob(s)
		if err != nil {
			return Value{}, err
		}
		return BinaryBlob(b), nil
	case KindDateTime:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, fmt.Errorf("%s: %w", k, err)
		}
		t, err := ParseDateTime(s)
		if err != nil {
			return Value{}, err
		}
		return DateTime(t), nil
	case KindDoubleArray:
		return decodeJSON(raw, DoubleArray)
	case KindIntegerArray:
		return decodeJSON(raw, IntegerArray)
	case KindBooleanArray:
		return decodeJSON(raw, BooleanArray)
	case KindStringArray:
		return decodeJSON(raw, StringArray)
	case KindLongIntegerArray:
		items, err := decodeJSONArray(k, raw)
		if err != nil {
			return Value{}, err
		}
		out := make([]int64, len(items))
		for i, item := range items {
			if out[i], err = decodeJSONLongInteger(item); err != nil {
				return Value{}, fmt.Errorf("%s[%d]: %w", k, i, err)
			}
		}
		return LongIntegerArray(out), nil
	case KindBinaryBlobArray:
		var strs []string
		if err := json.Unmarshal(raw, &strs); err != nil {
			return Value{}, fmt.Errorf("%s: %w", k, err)
		}
		out := make([][]byte, len(strs))
		for i, s := range strs {
			b, err := DecodeBlob(s)
			if err != nil {
				return Value{}, fmt.Errorf("%s[%d]: %w", k, i, err)
			}
			out[i] = b
		}
		return BinaryBlobArray(out), nil
	case KindDateTimeArray:
		var strs []string
		if err := json.Unmarshal(raw, &strs); err != nil {
			return Value{}, fmt.Errorf("%s: %w", k, err)
		}
		out := make([]time.Time, len(strs))
		for i, s := range strs {
			t, err := ParseDateTime(s)
			if err != nil {
				return Value{}, fmt.Errorf("%s[%d]: %w", k, i, err)
			}
			out[i] = t
		}
		return DateTimeArray(out), nil
	}
	return Value{}, fmt.Errorf("cannot decode %s", k)
}

// marshalJSONArray writes a nil slice as [] so it decodes back as an array
func marshalJSONArray[T any](a []T) ([]byte, error) {
	if a == nil {
		a = []T{}
	}
	return json.Marshal(a)
}

func decodeJSON[T any](raw json.RawMessage, wrap func(T) Value) (Value, error) {
	var t T
	if err := json.Unmarshal(raw, &t); err != nil {
		return Value{}, err
	}
	return wrap(t), nil
}

func decodeJSONArray(k Kind, raw json.RawMessage) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%s: %w", k, err)
	}
	if items == nil {
		return nil, fmt.Errorf("%s: expected an array", k)
	}
	return items, nil
}

// decodeJSONLongInteger accepts both a JSON number and a decimal string
func decodeJSONLongInteger(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		return DecodeLongInteger(s)
	}
	return DecodeLongInteger(string(raw))
}

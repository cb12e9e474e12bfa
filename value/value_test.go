package value

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindNames(t *testing.T) {
	for k := KindDouble; k <= KindDateTimeArray; k++ {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	_, err := ParseKind("unset")
	assert.Error(t, err)
	_, err = ParseKind("float")
	assert.Error(t, err)

	assert.True(t, KindStringArray.IsArray())
	assert.False(t, KindDateTime.IsArray())
}

func TestZeroValueIsUnset(t *testing.T) {
	var v Value
	assert.True(t, v.IsUnset())
	assert.True(t, v.Equal(Unset()))
	assert.Nil(t, v.Interface())
}

func TestUnsetDistinctFromZeroValues(t *testing.T) {
	zeros := []Value{
		Double(0), Integer(0), Boolean(false), LongInteger(0), String(""),
		BinaryBlob(nil), DateTime(time.Time{}), DoubleArray(nil), IntegerArray(nil),
		BooleanArray(nil), LongIntegerArray(nil), StringArray(nil), BinaryBlobArray(nil),
		DateTimeArray(nil),
	}
	for _, z := range zeros {
		assert.False(t, z.IsUnset(), z.Kind().String())
		assert.False(t, z.Equal(Unset()), z.Kind().String())
	}
}

func TestEqualDistinguishesKinds(t *testing.T) {
	assert.False(t, Integer(1).Equal(LongInteger(1)))
	assert.False(t, String("aGVsbG8=").Equal(BinaryBlob([]byte("hello"))))
	assert.True(t, LongInteger(45543543534).Equal(LongInteger(45543543534)))
	assert.False(t, IntegerArray([]int32{1, 2}).Equal(IntegerArray([]int32{2, 1})))
}

func TestEqualTimestampsByInstant(t *testing.T) {
	utc := time.Date(2021, 9, 29, 17, 46, 48, 0, time.UTC)
	local := utc.In(time.FixedZone("CEST", 2*60*60))

	assert.True(t, DateTime(utc).Equal(DateTime(local)))
	assert.True(t, DateTimeArray([]time.Time{utc}).Equal(DateTimeArray([]time.Time{local})))
}

func TestConstructorsCopySlices(t *testing.T) {
	raw := []byte("hello")
	v := BinaryBlob(raw)
	raw[0] = 'j'

	b, ok := v.AsBinaryBlob()
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), b)
}

func TestAccessorsCheckKind(t *testing.T) {
	_, ok := Integer(3).AsLongInteger()
	assert.False(t, ok)

	i, ok := Integer(3).AsInteger()
	assert.True(t, ok)
	assert.Equal(t, int32(3), i)
}

func TestObjectOrderAndEquality(t *testing.T) {
	a := NewObject()
	a.Insert("b", Integer(2))
	a.Insert("a", Integer(1))
	a.Insert("b", Integer(3))

	assert.Equal(t, []string{"b", "a"}, a.Names())
	v, ok := a.Get("b")
	require.True(t, ok)
	assert.True(t, v.Equal(Integer(3)))

	b := NewObject()
	b.Insert("a", Integer(1))
	b.Insert("b", Integer(3))
	assert.True(t, a.Equal(b))

	removed, ok := b.Remove("a")
	require.True(t, ok)
	assert.True(t, removed.Equal(Integer(1)))
	assert.Equal(t, []string{"b"}, b.Names())
	assert.False(t, a.Equal(b))

	c := a.Clone()
	c.Insert("c", Boolean(true))
	assert.Equal(t, 2, a.Len())
	assert.Equal(t, 3, c.Len())
}

func TestLongIntegerCodecSymmetric(t *testing.T) {
	for _, i := range []int64{0, 1, -1, 45543543534, -53267895478, math.MaxInt32 + 1, math.MinInt32 - 1, math.MaxInt64, math.MinInt64} {
		got, err := DecodeLongInteger(EncodeLongInteger(i))
		require.NoError(t, err)
		assert.Equal(t, i, got)
	}

	_, err := DecodeLongInteger("12.5")
	assert.Error(t, err)
}

func TestBlobCodecSymmetric(t *testing.T) {
	for _, b := range [][]byte{{}, []byte("hello"), {0x00, 0xff, 0x10, 0x80}} {
		got, err := DecodeBlob(EncodeBlob(b))
		require.NoError(t, err)
		assert.Equal(t, len(b), len(got))
		assert.Equal(t, string(b), string(got))
	}

	assert.Equal(t, "aGVsbG8=", EncodeBlob([]byte("hello")))
	_, err := DecodeBlob("not base64!")
	assert.Error(t, err)
}

func TestDateTimeCodec(t *testing.T) {
	parsed, err := ParseDateTime("2021-09-29T17:46:48.000Z")
	require.NoError(t, err)
	assert.True(t, parsed.Equal(time.Date(2021, 9, 29, 17, 46, 48, 0, time.UTC)))

	offset, err := ParseDateTime("2021-09-29T19:46:48+02:00")
	require.NoError(t, err)
	assert.True(t, parsed.Equal(offset))
	assert.Equal(t, "2021-09-29T17:46:48Z", FormatDateTime(offset))

	_, err = ParseDateTime("2021-09-29 17:46:48")
	assert.Error(t, err)
}

func TestJSONValueRoundTrip(t *testing.T) {
	ts := time.Date(2021, 10, 23, 17, 46, 48, 0, time.UTC)
	values := []Value{
		Double(4.34),
		Integer(-2222),
		Boolean(true),
		LongInteger(math.MaxInt64),
		String("Hello"),
		BinaryBlob([]byte("hello")),
		DateTime(ts),
		DoubleArray([]float64{43.5, 10.5, 11.9}),
		IntegerArray([]int32{-4, 123}),
		BooleanArray([]bool{true, false}),
		LongIntegerArray([]int64{53267895478, -1}),
		StringArray([]string{"Test ", "String"}),
		BinaryBlobArray([][]byte{[]byte("hello"), {}}),
		DateTimeArray([]time.Time{ts, ts.Add(time.Hour)}),
		DoubleArray(nil),
		IntegerArray(nil),
		BooleanArray(nil),
		LongIntegerArray(nil),
		StringArray(nil),
		BinaryBlobArray(nil),
		DateTimeArray(nil),
	}

	for _, v := range values {
		t.Run(v.String(), func(t *testing.T) {
			raw, err := MarshalJSONValue(v)
			require.NoError(t, err)

			got, err := UnmarshalJSONValue(v.Kind(), raw)
			require.NoError(t, err)
			assert.True(t, v.Equal(got), "want %s, got %s", v, got)
		})
	}
}

func TestJSONLongIntegerAcceptsNumbers(t *testing.T) {
	v, err := UnmarshalJSONValue(KindLongInteger, json.RawMessage(`45543543534`))
	require.NoError(t, err)
	assert.True(t, v.Equal(LongInteger(45543543534)))

	v, err = UnmarshalJSONValue(KindLongIntegerArray, json.RawMessage(`[53267895478, "53267895428"]`))
	require.NoError(t, err)
	assert.True(t, v.Equal(LongIntegerArray([]int64{53267895478, 53267895428})))
}

func TestJSONValueRejectsMismatches(t *testing.T) {
	cases := []struct {
		kind Kind
		raw  string
	}{
		{KindInteger, `4.5`},
		{KindInteger, `4294967296`},
		{KindBoolean, `"true"`},
		{KindString, `1`},
		{KindDouble, `null`},
		{KindBinaryBlob, `"%%%"`},
		{KindDateTime, `"yesterday"`},
		{KindLongIntegerArray, `{"a":1}`},
		{KindStringArray, `"a"`},
	}
	for _, tc := range cases {
		_, err := UnmarshalJSONValue(tc.kind, json.RawMessage(tc.raw))
		assert.Error(t, err, "%s %s", tc.kind, tc.raw)
	}

	_, err := MarshalJSONValue(Unset())
	assert.Error(t, err)
}

func TestJSONEmptyArrayIsNotNull(t *testing.T) {
	for _, v := range []Value{DoubleArray(nil), IntegerArray(nil), BooleanArray(nil), StringArray(nil)} {
		raw, err := MarshalJSONValue(v)
		require.NoError(t, err)
		assert.JSONEq(t, `[]`, string(raw), "%s", v.Kind())
	}
}

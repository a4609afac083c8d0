package smax

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatParseType(t *testing.T) {
	for _, tt := range []struct {
		typ     Type
		charLen int
		want    string
	}{
		{TypeInt64, 0, "int64"},
		{TypeFloat32, 0, "float32"},
		{TypeChar, 0, "char"},
		{TypeChar, 64, "char64"},
	} {
		assert.Equal(t, tt.want, FormatType(tt.typ, tt.charLen))
	}

	tp, charLen, err := ParseType("char32")
	require.NoError(t, err)
	assert.Equal(t, TypeChar, tp)
	assert.Equal(t, 32, charLen)

	tp, charLen, err = ParseType("float64")
	require.NoError(t, err)
	assert.Equal(t, TypeFloat64, tp)
	assert.Equal(t, 0, charLen)

	_, _, err = ParseType("bogus")
	assert.Error(t, err)
	assert.Equal(t, KindParse, KindOf(err))
}

func TestShapeRoundTrip(t *testing.T) {
	s, err := ParseShape("3 4 5")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 5}, s.Dims)
	assert.Equal(t, 60, s.Count())
	assert.Equal(t, "3 4 5", s.String())

	_, err = ParseShape("")
	assert.ErrorIs(t, err, ErrSizeInvalid)

	_, err = ParseShape("0 3")
	assert.ErrorIs(t, err, ErrSizeInvalid)

	big := ""
	for i := 0; i < MaxDims+1; i++ {
		big += "2 "
	}
	_, err = ParseShape(big)
	assert.ErrorIs(t, err, ErrSizeInvalid)
}

func TestTimestampRoundTrip(t *testing.T) {
	ts, err := ParseTimestamp("1700000000.123")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), ts.Sec)
	assert.Equal(t, int32(123000000), ts.Nsec)
	assert.Equal(t, "1700000000.123000000", ts.String())

	ts2, err := ParseTimestamp("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), ts2.Sec)
	assert.Equal(t, int32(0), ts2.Nsec)

	_, err = ParseTimestamp("")
	assert.Error(t, err)
}

func TestEncodeDecodeValueInts(t *testing.T) {
	v := Value{Type: TypeInt32, Shape: Shape{Dims: []int{3}}, Data: []int64{1, -2, 3}}
	s, err := EncodeValue(v)
	require.NoError(t, err)
	assert.Equal(t, "1 -2 3", s)

	decoded, err := DecodeValue(TypeInt32, Shape{Dims: []int{3}}, 0, s)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, -2, 3}, decoded.Data)
}

func TestDecodeValueHexInt(t *testing.T) {
	decoded, err := DecodeValue(TypeInt64, ScalarShape(), 0, "0xff")
	require.NoError(t, err)
	assert.Equal(t, []int64{255}, decoded.Data)
}

func TestEncodeDecodeValueFloat(t *testing.T) {
	v := Value{Type: TypeFloat64, Shape: ScalarShape(), Data: []float64{3.5}}
	s, err := EncodeValue(v)
	require.NoError(t, err)
	decoded, err := DecodeValue(TypeFloat64, ScalarShape(), 0, s)
	require.NoError(t, err)
	assert.Equal(t, []float64{3.5}, decoded.Data)
}

func TestEncodeDecodeValueBool(t *testing.T) {
	v := Value{Type: TypeBool, Shape: Shape{Dims: []int{2}}, Data: []bool{true, false}}
	s, err := EncodeValue(v)
	require.NoError(t, err)
	assert.Equal(t, "1 0", s)
	decoded, err := DecodeValue(TypeBool, Shape{Dims: []int{2}}, 0, s)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, decoded.Data)
}

func TestEncodeDecodeValueString(t *testing.T) {
	v := Value{Type: TypeString, Shape: Shape{Dims: []int{2}}, Data: []string{"hello", "world"}}
	s, err := EncodeValue(v)
	require.NoError(t, err)
	assert.Equal(t, "hello\rworld", s)
	decoded, err := DecodeValue(TypeString, Shape{Dims: []int{2}}, 0, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "world"}, decoded.Data)
}

func TestDecodeValueCharPadding(t *testing.T) {
	decoded, err := DecodeValue(TypeChar, ScalarShape(), 4, "ab")
	require.NoError(t, err)
	xs := decoded.Data.([]string)
	require.Len(t, xs, 1)
	assert.Equal(t, 4, len(xs[0]))
}

func TestDecodeValueCountMismatch(t *testing.T) {
	_, err := DecodeValue(TypeInt64, Shape{Dims: []int{3}}, 0, "1 2")
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestEncodeValueRaw(t *testing.T) {
	v := Value{Type: TypeRaw, Data: []byte{0x01, 0x02}}
	s, err := EncodeValue(v)
	require.NoError(t, err)
	decoded, err := DecodeValue(TypeRaw, ScalarShape(), 0, s)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, decoded.Data)
}

func TestFormatIntHex(t *testing.T) {
	assert.Equal(t, "0xff", FormatIntHex(255))
	assert.Equal(t, "-0xff", FormatIntHex(-255))
}

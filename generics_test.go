package smax

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAsScalarAndSlice(t *testing.T) {
	i, err := decodeAs[int64](Value{Data: []int64{9}})
	require.NoError(t, err)
	assert.Equal(t, int64(9), i)

	xs, err := decodeAs[[]float64](Value{Data: []float64{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, xs)

	s, err := decodeAs[string](Value{Data: []string{"hi"}})
	require.NoError(t, err)
	assert.Equal(t, "hi", s)

	_, err = decodeAs[int64](Value{Data: []int64{}})
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestValueForBuildsCorrectValue(t *testing.T) {
	v, charLen, err := valueFor(int64(5))
	require.NoError(t, err)
	assert.Equal(t, TypeInt64, v.Type)
	assert.Equal(t, []int64{5}, v.Data)
	assert.Equal(t, 0, charLen)

	v, _, err = valueFor([]string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, TypeString, v.Type)
	assert.Equal(t, 2, v.Shape.Count())
}

func TestTypeForZero(t *testing.T) {
	assert.Equal(t, TypeInt64, typeForZero(int64(0)))
	assert.Equal(t, TypeFloat64, typeForZero([]float64(nil)))
	assert.Equal(t, TypeBool, typeForZero(false))
	assert.Equal(t, TypeRaw, typeForZero([]byte(nil)))
	assert.Equal(t, TypeUnknown, typeForZero(struct{}{}))
}

package smax

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fieldsTuple(values, types, dims, times, origins, serials []string) []interface{} {
	toIface := func(xs []string) []interface{} {
		out := make([]interface{}, len(xs))
		for i, x := range xs {
			out[i] = x
		}
		return out
	}
	return []interface{}{
		toIface(values), toIface(types), toIface(dims), toIface(times), toIface(origins), toIface(serials),
	}
}

func TestParseGetStructReplyFlat(t *testing.T) {
	names := []interface{}{"a", "b"}
	tuple := fieldsTuple(
		[]string{"1", "2.5"},
		[]string{"int64", "float64"},
		[]string{"1", "1"},
		[]string{"100.0", "100.0"},
		[]string{"host:prog", "host:prog"},
		[]string{"1", "1"},
	)
	levels, err := parseGetStructReply([]interface{}{names, tuple})
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, []string{"a", "b"}, levels[0].names)
}

func TestParseGetStructReplyOddLength(t *testing.T) {
	_, err := parseGetStructReply([]interface{}{"just one"})
	assert.ErrorIs(t, err, ErrParse)
}

func TestAssembleStructNested(t *testing.T) {
	topNames := []interface{}{"x", "child"}
	topTuple := fieldsTuple(
		[]string{"5", "root:child"},
		[]string{"int64", "struct"},
		[]string{"1", "1"},
		[]string{"100.0", "90.0"},
		[]string{"h:p", "h:p"},
		[]string{"1", "1"},
	)
	childNames := []interface{}{"y"}
	childTuple := fieldsTuple(
		[]string{"7"},
		[]string{"int64"},
		[]string{"1"},
		[]string{"200.0"},
		[]string{"h:p"},
		[]string{"2"},
	)
	reply := []interface{}{topNames, topTuple, childNames, childTuple}

	levels, err := parseGetStructReply(reply)
	require.NoError(t, err)
	require.Len(t, levels, 2)

	top, err := assembleStruct("root", levels)
	require.NoError(t, err)
	assert.Equal(t, "root", top.Name)
	require.Len(t, top.Fields, 2)

	xField := top.Field("x")
	require.NotNil(t, xField)
	assert.Equal(t, []int64{5}, xField.Data)

	childField := top.Field("child")
	require.NotNil(t, childField)
	child, ok := childField.Data.(*Structure)
	require.True(t, ok)
	assert.Same(t, top, child.Parent())

	yField := child.Field("y")
	require.NotNil(t, yField)
	assert.Equal(t, []int64{7}, yField.Data)

	max := maxTimestamp(top)
	assert.Equal(t, int64(200), max.Sec)
}

func TestAssembleStructEmpty(t *testing.T) {
	_, err := assembleStruct("root", nil)
	assert.ErrorIs(t, err, ErrNameInvalid)
}

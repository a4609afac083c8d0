package smax

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferPushAndInterpolate(t *testing.T) {
	rb := newRingBuffer("t", "k", 4)
	rb.Push(Timestamp{Sec: 0}, 0)
	rb.Push(Timestamp{Sec: 10}, 10)

	v, ok := rb.At(Timestamp{Sec: 5})
	require.True(t, ok)
	assert.InDelta(t, 5, v, 1e-9)

	_, ok = rb.At(Timestamp{Sec: 20})
	assert.False(t, ok)
}

func TestRingBufferOverwritesOldest(t *testing.T) {
	rb := newRingBuffer("t", "k", 2)
	rb.Push(Timestamp{Sec: 0}, 1)
	rb.Push(Timestamp{Sec: 1}, 2)
	rb.Push(Timestamp{Sec: 2}, 3)

	s := rb.snapshot()
	require.Len(t, s, 2)
	assert.Equal(t, int64(1), s[0].at.Sec)
	assert.Equal(t, int64(2), s[1].at.Sec)
}

func TestRingBufferWindowStats(t *testing.T) {
	rb := newRingBuffer("t", "k", 8)
	for i := int64(0); i < 5; i++ {
		rb.Push(Timestamp{Sec: i}, float64(i))
	}
	st := rb.Window(Timestamp{Sec: 0}, Timestamp{Sec: 4})
	assert.Equal(t, 5, st.Count)
	assert.InDelta(t, 2, st.Mean, 1e-9)
	assert.InDelta(t, 0, st.Min, 1e-9)
	assert.InDelta(t, 4, st.Max, 1e-9)
}

func TestScalarFloat(t *testing.T) {
	f, ok := scalarFloat(Value{Data: []int64{7}})
	assert.True(t, ok)
	assert.Equal(t, 7.0, f)

	f, ok = scalarFloat(Value{Data: []bool{true}})
	assert.True(t, ok)
	assert.Equal(t, 1.0, f)

	_, ok = scalarFloat(Value{Data: []string{"x"}})
	assert.False(t, ok)
}

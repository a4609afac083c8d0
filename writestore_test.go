package smax

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteStorePutLastWriterWins(t *testing.T) {
	ws := newWriteStore()
	ws.Put("weather", "temperature", Field{Name: "temperature", Type: TypeFloat64, Data: []float64{1}})
	ws.Put("weather", "temperature", Field{Name: "temperature", Type: TypeFloat64, Data: []float64{2}})
	assert.Equal(t, 1, ws.Len())

	entries := ws.Drain()
	require.Len(t, entries, 1)
	assert.Equal(t, []float64{2}, entries[0].field.Data)
	assert.Equal(t, 0, ws.Len())
}

func TestWriteStoreDrainEmptiesStore(t *testing.T) {
	ws := newWriteStore()
	ws.Put("t", "a", Field{Name: "a"})
	ws.Put("t", "b", Field{Name: "b"})
	entries := ws.Drain()
	assert.Len(t, entries, 2)
	assert.Equal(t, 0, ws.Len())
	assert.Empty(t, ws.Drain())
}

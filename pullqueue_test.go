package smax

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePullReplyPlain(t *testing.T) {
	reply := []interface{}{"42", "int64", "1", "1000.0", "host:prog", "3"}
	v, m, err := decodePullReply(ReadRequest{Table: "t", Key: "k"}, reply)
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, v.Data)
	assert.Equal(t, int64(3), m.Serial)
}

func TestDecodePullReplyMissing(t *testing.T) {
	reply := []interface{}{nil, nil, nil, nil, nil, nil}
	v, _, err := decodePullReply(ReadRequest{Table: "t", Key: "k", Type: TypeInt64, Count: 1}, reply)
	require.NoError(t, err)
	assert.Equal(t, []int64{0}, v.Data)
}

func TestDecodePullReplyStructEmpty(t *testing.T) {
	v, _, err := decodePullReply(ReadRequest{Table: "t", Key: "s", Type: TypeStruct}, []interface{}{})
	require.NoError(t, err)
	s, ok := v.Data.(*Structure)
	require.True(t, ok)
	assert.Equal(t, "s", s.Name)
}

func TestDecodePullReplyTypeMismatch(t *testing.T) {
	reply := []interface{}{"42", "int64", "1", "1000.0", "host:prog", "3"}
	_, _, err := decodePullReply(ReadRequest{Table: "t", Key: "k", Type: TypeFloat64}, reply)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

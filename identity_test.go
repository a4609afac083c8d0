package smax

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregateIDRoundTrip(t *testing.T) {
	id := AggregateID("weather", "temperature")
	assert.Equal(t, "weather:temperature", id)
	table, key := SplitAggregateID(id)
	assert.Equal(t, "weather", table)
	assert.Equal(t, "temperature", key)
}

func TestAggregateIDNoKey(t *testing.T) {
	assert.Equal(t, "weather", AggregateID("weather", ""))
}

func TestSplitAggregateIDNoSeparator(t *testing.T) {
	table, key := SplitAggregateID("justatable")
	assert.Equal(t, "justatable", table)
	assert.Equal(t, "", key)
}

func TestIdentityOriginTruncation(t *testing.T) {
	id := identity{hostname: strings.Repeat("h", OriginLen), program: "prog"}
	o := id.Origin()
	assert.LessOrEqual(t, len(o), OriginLen)
}

func TestNewIdentityPopulatesInstanceID(t *testing.T) {
	id := newIdentity()
	assert.NotEqual(t, [16]byte{}, [16]byte(id.instanceID))
	assert.NotEqual(t, "", id.Origin())
}

package smax

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBucketHashDeterministicAndInRange(t *testing.T) {
	h1 := bucketHash("weather:temperature")
	h2 := bucketHash("weather:temperature")
	assert.Equal(t, h1, h2)
	assert.GreaterOrEqual(t, h1, 0)
	assert.Less(t, h1, lookupSize)
}

func TestBucketHashSpreadsAcrossBuckets(t *testing.T) {
	seen := make(map[int]bool)
	for i := 0; i < 1000; i++ {
		id := AggregateID("table", string(rune('a'+i%26)) + "key")
		seen[bucketHash(id)] = true
	}
	assert.Greater(t, len(seen), 1, "expected ids to spread across more than one bucket")
}

func TestMonitorPointStructGCExemption(t *testing.T) {
	mp := &MonitorPoint{id: "t:s", isStruct: true}
	for i := 0; i < maxUnpulledLazyUpdates+5; i++ {
		mp.unpulled++
	}
	shouldGC := !mp.isStruct && mp.unpulled > maxUnpulledLazyUpdates
	assert.False(t, shouldGC, "struct monitors must be exempt from unpulled-count GC")
}

func TestMonitorPointScalarGCThreshold(t *testing.T) {
	mp := &MonitorPoint{id: "t:k", isStruct: false}
	for i := 0; i < maxUnpulledLazyUpdates; i++ {
		mp.unpulled++
	}
	assert.False(t, mp.unpulled > maxUnpulledLazyUpdates)
	mp.unpulled++
	assert.True(t, mp.unpulled > maxUnpulledLazyUpdates)
}

package smax

// Meta is the metadata attached to every stored variable: stored type tag,
// stored shape, total stored byte count, last-writer origin, last-write
// timestamp, and the monotonic write serial.
type Meta struct {
	StoreType  Type
	StoreShape Shape
	StoreBytes int
	Origin     string
	Timestamp  Timestamp
	Serial     int64
}

// Reset zeroes m in place, the equivalent of re-initializing a freshly
// allocated Meta before a pull that turns out to hit a missing key.
func (m *Meta) Reset() {
	*m = Meta{}
}

// Count returns the stored element count implied by StoreShape.
func (m Meta) Count() int { return m.StoreShape.Count() }

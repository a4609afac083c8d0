package smax

import (
	"context"
	"math"
	"sort"
	"sync"
)

// sample is one timestamped scalar reading captured into a RingBuffer.
type sample struct {
	at    Timestamp
	value float64
}

// RingBuffer is a fixed-capacity time series for one (table, key), fed by
// push notifications and queryable by timestamp or time window (spec.md
// §8). Once full, each new sample overwrites the oldest.
type RingBuffer struct {
	mu sync.Mutex

	table, key string
	capacity   int
	entries    []sample
	firstIndex int
	n          int
}

func newRingBuffer(table, key string, capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{table: table, key: key, capacity: capacity, entries: make([]sample, capacity)}
}

// Push appends a sample, evicting the oldest entry once the buffer is full.
func (rb *RingBuffer) Push(at Timestamp, value float64) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	idx := (rb.firstIndex + rb.n) % rb.capacity
	rb.entries[idx] = sample{at: at, value: value}
	if rb.n < rb.capacity {
		rb.n++
	} else {
		rb.firstIndex = (rb.firstIndex + 1) % rb.capacity
	}
}

// snapshot returns the buffered samples in chronological order.
func (rb *RingBuffer) snapshot() []sample {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	out := make([]sample, rb.n)
	for i := 0; i < rb.n; i++ {
		out[i] = rb.entries[(rb.firstIndex+i)%rb.capacity]
	}
	return out
}

// At returns the linearly interpolated value at ts, or ok=false if ts falls
// outside the buffered range or the buffer is empty (spec.md §8
// interpolation rule).
func (rb *RingBuffer) At(ts Timestamp) (value float64, ok bool) {
	s := rb.snapshot()
	if len(s) == 0 {
		return 0, false
	}
	target := tsToFloat(ts)
	if target < tsToFloat(s[0].at) || target > tsToFloat(s[len(s)-1].at) {
		return 0, false
	}
	i := sort.Search(len(s), func(i int) bool { return tsToFloat(s[i].at) >= target })
	if i < len(s) && tsToFloat(s[i].at) == target {
		return s[i].value, true
	}
	if i == 0 || i == len(s) {
		return 0, false
	}
	lo, hi := s[i-1], s[i]
	span := tsToFloat(hi.at) - tsToFloat(lo.at)
	if span <= 0 {
		return lo.value, true
	}
	frac := (target - tsToFloat(lo.at)) / span
	return lo.value + frac*(hi.value-lo.value), true
}

func tsToFloat(ts Timestamp) float64 {
	return float64(ts.Sec) + float64(ts.Nsec)/1e9
}

// WindowStats summarizes the samples falling within [from, to].
type WindowStats struct {
	Count int
	Sum   float64
	Mean  float64
	RMS   float64
	Min   float64
	Max   float64
}

// Window computes WindowStats over [from, to], inclusive.
func (rb *RingBuffer) Window(from, to Timestamp) WindowStats {
	s := rb.snapshot()
	var st WindowStats
	lo, hi := tsToFloat(from), tsToFloat(to)
	first := true
	var sumSq float64
	for _, e := range s {
		t := tsToFloat(e.at)
		if t < lo || t > hi {
			continue
		}
		st.Count++
		st.Sum += e.value
		sumSq += e.value * e.value
		if first || e.value < st.Min {
			st.Min = e.value
		}
		if first || e.value > st.Max {
			st.Max = e.value
		}
		first = false
	}
	if st.Count > 0 {
		st.Mean = st.Sum / float64(st.Count)
		st.RMS = math.Sqrt(sumSq / float64(st.Count))
	}
	return st
}

// TimeBuffer is the registry of RingBuffers this process maintains,
// subscribing each to the notification channel for its (table, key) so
// pushed updates are captured without polling (spec.md §8).
type TimeBuffer struct {
	client     *Client
	subscriber *Subscriber

	mu      sync.Mutex
	buffers map[string]*RingBuffer
}

// NewTimeBuffer builds a TimeBuffer that decodes pushed scalar values
// through client and is fed by subscriber's notifications.
func NewTimeBuffer(client *Client, subscriber *Subscriber) *TimeBuffer {
	tb := &TimeBuffer{client: client, subscriber: subscriber, buffers: make(map[string]*RingBuffer)}
	subscriber.AddNotificationHandler(tb.onNotification)
	return tb
}

// Track begins recording table/key into a ring buffer of the given
// capacity, returning the buffer for direct querying.
func (tb *TimeBuffer) Track(table, key string, capacity int) *RingBuffer {
	id := AggregateID(table, key)
	tb.mu.Lock()
	defer tb.mu.Unlock()
	rb, ok := tb.buffers[id]
	if !ok {
		rb = newRingBuffer(table, key, capacity)
		tb.buffers[id] = rb
		tb.subscriber.Subscribe(id)
	}
	return rb
}

// Untrack stops recording table/key and discards its buffer.
func (tb *TimeBuffer) Untrack(table, key string) {
	id := AggregateID(table, key)
	tb.mu.Lock()
	_, ok := tb.buffers[id]
	delete(tb.buffers, id)
	tb.mu.Unlock()
	if ok {
		tb.subscriber.Unsubscribe(id)
	}
}

func (tb *TimeBuffer) onNotification(id, _ string) {
	tb.mu.Lock()
	rb, ok := tb.buffers[id]
	tb.mu.Unlock()
	if !ok {
		return
	}
	v, m, err := tb.client.Read(context.Background(), ReadRequest{Table: rb.table, Key: rb.key, WithMeta: true})
	if err != nil {
		return
	}
	f, ok := scalarFloat(v)
	if !ok {
		return
	}
	rb.Push(m.Timestamp, f)
}

func scalarFloat(v Value) (float64, bool) {
	switch d := v.Data.(type) {
	case []int64:
		if len(d) > 0 {
			return float64(d[0]), true
		}
	case []float64:
		if len(d) > 0 {
			return d[0], true
		}
	case []bool:
		if len(d) > 0 {
			if d[0] {
				return 1, true
			}
			return 0, true
		}
	}
	return 0, false
}

package smax

import "sync"

// WriteStore buffers the last-writer-wins value of every (table, field)
// written while the connection is down, so a resilient Library can replay
// them once the connection is restored (spec.md §7 resilient-mode rule).
type WriteStore struct {
	mu      sync.Mutex
	pending map[string]Field
	table   map[string]string // id -> table, so Drain can report each entry's table
}

func newWriteStore() *WriteStore {
	return &WriteStore{
		pending: make(map[string]Field),
		table:   make(map[string]string),
	}
}

// Put records the most recent value written to table/field, replacing any
// prior buffered value for the same field.
func (w *WriteStore) Put(table, field string, f Field) {
	id := AggregateID(table, field)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[id] = f
	w.table[id] = table
}

// Len reports the number of distinct fields currently buffered.
func (w *WriteStore) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// drainEntry is one buffered field paired with its destination table, used
// by Drain to hand the buffer to a Client without holding w's lock during
// the replay writes.
type drainEntry struct {
	table string
	field Field
}

// Drain empties the store and returns its contents for replay. The caller
// (the Supervisor's reconnect routine) is responsible for writing each entry
// back out and re-buffering any that fail again.
func (w *WriteStore) Drain() []drainEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	entries := make([]drainEntry, 0, len(w.pending))
	for id, f := range w.pending {
		entries = append(entries, drainEntry{table: w.table[id], field: f})
	}
	w.pending = make(map[string]Field)
	w.table = make(map[string]string)
	return entries
}

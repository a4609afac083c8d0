package smax

import (
	"fmt"
	"os"
	"strings"

	uuid "github.com/satori/go.uuid"
)

// Separator joins table and key into an aggregated id, and joins host and
// program into a default origin tag.
const Separator = ":"

// AggregateID joins table and key into the aggregated "table:key" id used
// as the key into the parallel metadata hashes and as the pub/sub channel
// suffix. An empty key yields just table (used for whole-structure ids).
func AggregateID(table, key string) string {
	if key == "" {
		return table
	}
	return table + Separator + key
}

// SplitAggregateID splits an aggregated id on the last separator, so a
// nested id yields its parent id and its last key segment.
func SplitAggregateID(id string) (table, key string) {
	i := strings.LastIndex(id, Separator)
	if i < 0 {
		return id, ""
	}
	return id[:i], id[i+1:]
}

// identity bundles the process-level naming the library defaults its
// metadata origin and message-sender id from.
type identity struct {
	instanceID uuid.UUID // unique per Library instance; not attached to logs, metrics or ids
	hostname   string    // leading label of os.Hostname()
	program    string    // os.Args[0] base name ("smax" if os.Args is empty); not overridable
}

func newIdentity() identity {
	host, _ := os.Hostname()
	if i := strings.IndexByte(host, '.'); i >= 0 {
		host = host[:i]
	}
	prog := "smax"
	if len(os.Args) > 0 {
		prog = baseName(os.Args[0])
	}
	return identity{
		instanceID: uuid.NewV4(),
		hostname:   host,
		program:    prog,
	}
}

func baseName(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return path
	}
	return path[i+1:]
}

// Origin renders the default "<host>:<prog>" origin tag, truncated to
// OriginLen bytes.
func (id identity) Origin() string {
	o := id.hostname + Separator + id.program
	if len(o) > OriginLen {
		o = o[:OriginLen]
	}
	return o
}

// SenderID renders the message-sender id "<host>:<prog>". The instance id
// is not part of it, so processes of the same program on one host share a
// sender id.
func (id identity) SenderID() string {
	return fmt.Sprintf("%s:%s", id.hostname, id.program)
}

// Package smax is a client library for the SMA-X shared structured-variable
// store: a Redis-backed database that lets many distributed processes publish
// and subscribe to typed, possibly multi-dimensional values kept under
// table:key identifiers, with attached metadata (type, shape, timestamp,
// origin, update serial).
//
// The package wraps github.com/redis/go-redis/v9 and builds four tightly
// coupled subsystems on top of it: a codec + script-driven read/write path
// (Client), a pipelined pull engine (PullQueue), a push-invalidated local
// mirror cache (LazyCache), and numeric time-series ring buffers
// (TimeBuffer). A Library value owns the lifecycle of all of them.
package smax

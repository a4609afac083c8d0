package smax

import (
	"context"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// releaseToken is the reserved notification payload ReleaseWaits publishes
// to itself to unblock every local waiter without touching Redis.
const releaseToken = "<release>"

// waiter is one outstanding WaitOn* call.
type waiter struct {
	match func(id string) bool
	ch    chan string
}

// Subscriber owns a single driver-level pub/sub connection scoped to prefix,
// fans out notifications to per-pattern reference-counted subscriptions, and
// implements the WaitOn family of blocking helpers (spec.md §5). It issues a
// real driver PSUBSCRIBE only when a pattern's reference count transitions
// from 0 to 1, and PUNSUBSCRIBE only when it drops back to 0 (spec.md §4.4),
// the way the teacher's `galaxyed-centrifugo` sibling pattern subscribes
// once per topic and fans out to local listeners rather than re-issuing a
// driver subscribe per caller.
type Subscriber struct {
	rdb    redis.UniversalClient
	ps     *redis.PubSub
	prefix string // e.g. "smax:" or "messages:"
	ctx    context.Context

	mu          sync.Mutex
	refs        map[string]int // pattern (relative to prefix) -> subscriber count
	waiters     map[int]*waiter
	nextID      int
	handlers    map[int]func(id, payload string)
	nextHandler int

	cancel context.CancelFunc
}

// notifyPrefix is the channel family update notifications publish on:
// "smax:<table>:<key>" (spec.md §5).
const notifyPrefix = "smax:"

// NewSubscriber starts the background fan-out loop over rdb's pub/sub
// connection, scoped to channels/patterns under prefix. Call Close to stop
// it. No patterns are subscribed at the driver until Subscribe is called.
func NewSubscriber(ctx context.Context, rdb redis.UniversalClient, prefix string) *Subscriber {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscriber{
		rdb:      rdb,
		ps:       rdb.PSubscribe(ctx),
		prefix:   prefix,
		ctx:      ctx,
		refs:     make(map[string]int),
		waiters:  make(map[int]*waiter),
		handlers: make(map[int]func(id, payload string)),
		cancel:   cancel,
	}
	go s.loop(ctx)
	return s
}

func (s *Subscriber) loop(ctx context.Context) {
	ch := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			id := strings.TrimPrefix(msg.Channel, s.prefix)
			s.dispatch(id, msg.Payload)
		}
	}
}

func (s *Subscriber) dispatch(id, payload string) {
	s.mu.Lock()
	handlers := make([]func(id, payload string), 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	var matched []chan string
	for _, w := range s.waiters {
		if w.match(id) {
			matched = append(matched, w.ch)
		}
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(id, payload)
	}
	for _, ch := range matched {
		select {
		case ch <- id:
		default:
		}
	}
}

// AddNotificationHandler registers fn to run on every notification received,
// used by LazyCache and TimeBuffer to push invalidations/samples, and by
// MessageBus to fan out program messages. Returns a handle for
// RemoveNotificationHandler.
func (s *Subscriber) AddNotificationHandler(fn func(id, payload string)) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextHandler
	s.nextHandler++
	s.handlers[id] = fn
	return id
}

// RemoveNotificationHandler unregisters a handler added via
// AddNotificationHandler.
func (s *Subscriber) RemoveNotificationHandler(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, id)
}

// Subscribe increments the reference count for pattern (relative to prefix),
// issuing a real driver PSUBSCRIBE only when the reference count transitions
// from 0 to 1 (spec.md §4.4). In tests built against a Subscriber with no
// live `ps` connection, the driver call is skipped and only the refcount is
// exercised.
func (s *Subscriber) Subscribe(pattern string) {
	s.mu.Lock()
	s.refs[pattern]++
	first := s.refs[pattern] == 1
	s.mu.Unlock()

	if first && s.ps != nil {
		if err := s.ps.PSubscribe(s.subCtx(), s.prefix+pattern); err != nil {
			log.Warn().Err(err).Str("pattern", pattern).Msg("smax: driver psubscribe failed")
		}
	}
}

// Unsubscribe decrements pattern's reference count, issuing a real driver
// PUNSUBSCRIBE only when the reference count drops back to 0 (spec.md §4.4).
func (s *Subscriber) Unsubscribe(pattern string) {
	s.mu.Lock()
	last := false
	if s.refs[pattern] > 0 {
		s.refs[pattern]--
		last = s.refs[pattern] == 0
	}
	if last {
		delete(s.refs, pattern)
	}
	s.mu.Unlock()

	if last && s.ps != nil {
		if err := s.ps.PUnsubscribe(s.subCtx(), s.prefix+pattern); err != nil {
			log.Warn().Err(err).Str("pattern", pattern).Msg("smax: driver punsubscribe failed")
		}
	}
}

func (s *Subscriber) subCtx() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

// WaitOnAnyNotification blocks until any notification arrives, ctx is
// canceled, or ReleaseWaits is called, returning the id that fired (or "" on
// release/cancel).
func (s *Subscriber) WaitOnAnyNotification(ctx context.Context) (string, error) {
	return s.wait(ctx, func(string) bool { return true })
}

// WaitOnSubscribedVar blocks until the exact table:key id updates.
func (s *Subscriber) WaitOnSubscribedVar(ctx context.Context, table, key string) error {
	id := AggregateID(table, key)
	_, err := s.wait(ctx, func(got string) bool { return got == id })
	return err
}

// WaitOnSubscribedGroup blocks until any key within table updates.
func (s *Subscriber) WaitOnSubscribedGroup(ctx context.Context, table string) (string, error) {
	prefix := table + Separator
	return s.wait(ctx, func(got string) bool { return got == table || strings.HasPrefix(got, prefix) })
}

// WaitOnSubscribed blocks until a notification matching any of the given
// ids (exact table:key or bare table) arrives.
func (s *Subscriber) WaitOnSubscribed(ctx context.Context, ids ...string) (string, error) {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return s.wait(ctx, func(got string) bool { return set[got] })
}

// WaitOnAnySubscribed blocks until a notification for any id this process
// has ever called Subscribe on (and not yet fully Unsubscribed from)
// arrives.
func (s *Subscriber) WaitOnAnySubscribed(ctx context.Context) (string, error) {
	return s.wait(ctx, func(got string) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		table, _ := SplitAggregateID(got)
		return s.refs[got] > 0 || s.refs[table] > 0
	})
}

func (s *Subscriber) wait(ctx context.Context, match func(string) bool) (string, error) {
	w := &waiter{match: match, ch: make(chan string, 1)}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.waiters[id] = w
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.waiters, id)
		s.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return "", newError("Subscriber.wait", KindTimeout, ctx.Err())
	case payload := <-w.ch:
		if payload == releaseToken {
			return "", nil
		}
		return payload, nil
	}
}

// ReleaseWaits wakes every blocked WaitOn* call in this process without
// involving Redis, for orderly shutdown (spec.md §5 "<release>" rule).
func (s *Subscriber) ReleaseWaits() {
	s.mu.Lock()
	chans := make([]chan string, 0, len(s.waiters))
	for _, w := range s.waiters {
		chans = append(chans, w.ch)
	}
	s.mu.Unlock()
	for _, ch := range chans {
		select {
		case ch <- releaseToken:
		default:
		}
	}
}

// Close tears down the pub/sub connection and releases any blocked waiters.
func (s *Subscriber) Close() error {
	s.ReleaseWaits()
	s.cancel()
	if err := s.ps.Close(); err != nil {
		log.Warn().Err(err).Msg("smax: closing subscriber pubsub connection")
		return err
	}
	return nil
}

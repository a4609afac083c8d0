package smax

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// lookupSize is the number of buckets the monitor registry hashes ids into,
// matching the original library's fixed-size lookup table sizing
// (SPEC_FULL.md §F.4 resolves the hash function to FNV-1a, mod lookupSize).
const lookupSize = 256

// maxUnpulledLazyUpdates is the number of consecutive push notifications a
// MonitorPoint may receive without anyone pulling the refreshed value before
// it is garbage collected (spec.md §6 lazy-cache GC rule; struct monitors
// are exempt, per SPEC_FULL.md §F.1).
const maxUnpulledLazyUpdates = 10

// MonitorPoint is the local mirror of one remote (table, key), kept fresh by
// push notifications and lazily re-pulled on read after invalidation, or
// eagerly refreshed in the background when alwaysCache is set (spec.md §4.3).
type MonitorPoint struct {
	mu          sync.Mutex
	id          string
	req         ReadRequest
	isStruct    bool
	alwaysCache bool

	value    Value
	meta     Meta
	valid    bool // false after an invalidating notification, until re-pulled
	unpulled int  // consecutive notifications received since the last pull

	userCount int  // callers currently inside Get for this monitor
	unlinked  bool // true once End/GC has asked to drop this monitor
}

func bucketHash(id string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % lookupSize)
}

// LazyCache is the push-invalidated local mirror described in spec.md §6: a
// fixed-bucket-count hash table of MonitorPoints, kept current by
// Subscriber notifications and refreshed on demand through a Client, with
// concurrent cache-miss pulls for the same id deduplicated via singleflight
// (the teacher's dcache uses a similar single-flight-style in-flight-request
// map for concurrent identical fetches).
type LazyCache struct {
	client     *Client
	subscriber *Subscriber
	pull       *PullQueue // non-nil: background refresh target for alwaysCache monitors
	metrics    *MetricSet

	mu      sync.Mutex
	buckets [lookupSize]map[string]*MonitorPoint

	group singleflight.Group
}

// NewLazyCache builds a LazyCache that pulls through client and subscribes
// to invalidations through subscriber. pull, if non-nil, is used to service
// background refreshes for monitors registered with ReadRequest.AlwaysCache.
func NewLazyCache(client *Client, subscriber *Subscriber, pull *PullQueue, metrics *MetricSet) *LazyCache {
	lc := &LazyCache{client: client, subscriber: subscriber, pull: pull, metrics: metrics}
	for i := range lc.buckets {
		lc.buckets[i] = make(map[string]*MonitorPoint)
	}
	subscriber.AddNotificationHandler(lc.onNotification)
	return lc
}

func (lc *LazyCache) bucket(id string) map[string]*MonitorPoint {
	return lc.buckets[bucketHash(id)]
}

// getOrCreate returns the MonitorPoint for req, registering it (and
// subscribing for its notifications) on first use.
func (lc *LazyCache) getOrCreate(req ReadRequest) *MonitorPoint {
	id := AggregateID(req.Table, req.Key)
	lc.mu.Lock()
	defer lc.mu.Unlock()
	b := lc.bucket(id)
	mp, ok := b[id]
	if !ok {
		mp = &MonitorPoint{id: id, req: req, isStruct: req.isStruct(), alwaysCache: req.AlwaysCache}
		b[id] = mp
		lc.subscriber.Subscribe(id)
	}
	return mp
}

// Get returns the cached value for req if still valid, otherwise performs a
// synchronous pull through the Client (deduplicating concurrent misses for
// the same id) and refreshes the cache entry. userCount tracks callers
// currently inside Get so a concurrent GC/End can defer destruction until
// they are done (spec.md §3's "destroyed only when unlinked and
// userCount==0" invariant).
func (lc *LazyCache) Get(ctx context.Context, req ReadRequest) (Value, Meta, error) {
	mp := lc.getOrCreate(req)

	mp.mu.Lock()
	mp.userCount++
	mp.mu.Unlock()
	defer lc.release(mp)

	mp.mu.Lock()
	if mp.valid {
		v, m := mp.value, mp.meta
		mp.mu.Unlock()
		lc.hit(lazyHitCache)
		return v, m, nil
	}
	mp.mu.Unlock()

	lc.hit(lazyHitPull)
	res, err, _ := lc.group.Do(mp.id, func() (interface{}, error) {
		v, m, err := lc.client.Read(ctx, req)
		if err != nil {
			return nil, err
		}
		mp.mu.Lock()
		mp.value, mp.meta, mp.valid, mp.unpulled = v, m, true, 0
		mp.mu.Unlock()
		return [2]interface{}{v, m}, nil
	})
	if err != nil {
		return Value{}, Meta{}, err
	}
	pair := res.([2]interface{})
	return pair[0].(Value), pair[1].(Meta), nil
}

// release drops one Get caller's hold on mp, finalizing it if a GC/End call
// had already marked it unlinked while this caller was in flight.
func (lc *LazyCache) release(mp *MonitorPoint) {
	mp.mu.Lock()
	mp.userCount--
	finalize := mp.unlinked && mp.userCount <= 0
	mp.mu.Unlock()
	if finalize {
		lc.finalize(mp.id)
	}
}

func (lc *LazyCache) hit(kind string) {
	if lc.metrics != nil {
		lc.metrics.LazyHit.WithLabelValues(kind).Inc()
	}
}

// onNotification marks the monitor for a directly-updated id stale; only
// the monitor whose id equals the notified id is touched, and the parent
// ids of a nested id are not walked. In
// alwaysCache mode it queues a background refresh through the PullQueue
// instead of waiting for the next Get (spec.md §4.3's "always-cache" mode).
// Otherwise it GCs any monitor that has gone too many consecutive
// notifications without a pull. Structure monitors are exempt from GC: a
// substructure field update notifies the parent id without necessarily
// meaning the whole structure should be dropped from the cache
// (SPEC_FULL.md §F.1).
func (lc *LazyCache) onNotification(id, _ string) {
	b := lc.bucket(id)
	lc.mu.Lock()
	mp, ok := b[id]
	lc.mu.Unlock()
	if !ok {
		return
	}

	mp.mu.Lock()
	mp.valid = false
	mp.unpulled++
	alwaysCache := mp.alwaysCache
	shouldGC := !mp.isStruct && !alwaysCache && mp.unpulled > maxUnpulledLazyUpdates
	mp.mu.Unlock()

	if alwaysCache {
		lc.refreshInBackground(mp)
		return
	}

	if shouldGC {
		lc.end(id)
		if lc.metrics != nil {
			lc.metrics.LazyGC.Inc()
		}
	}
}

// refreshInBackground submits a pipelined pull for mp's id and swaps the
// refreshed value in once it lands, keeping an alwaysCache monitor current
// without making the notifying caller wait on a synchronous re-pull.
func (lc *LazyCache) refreshInBackground(mp *MonitorPoint) {
	if lc.pull == nil {
		return
	}
	lc.pull.Submit(context.Background(), PullRequest{
		Req: mp.req,
		Callback: func(v Value, m Meta, err error) {
			if err != nil {
				log.Debug().Err(err).Str("id", mp.id).Msg("smax: always-cache background refresh failed")
				return
			}
			mp.mu.Lock()
			mp.value, mp.meta, mp.valid, mp.unpulled = v, m, true, 0
			mp.mu.Unlock()
		},
	})
}

// end marks a monitor unlinked, finalizing it immediately unless a Get call
// is still in flight against it (mp.userCount > 0), in which case release
// finalizes it once that caller returns (spec.md §3).
func (lc *LazyCache) end(id string) {
	b := lc.bucket(id)
	lc.mu.Lock()
	mp, ok := b[id]
	lc.mu.Unlock()
	if !ok {
		return
	}

	mp.mu.Lock()
	mp.unlinked = true
	canFinalize := mp.userCount <= 0
	mp.mu.Unlock()

	if canFinalize {
		lc.finalize(id)
	}
}

// finalize removes a monitor from its bucket and unsubscribes from its
// notifications. Only called once a monitor is both unlinked and has no
// in-flight Get callers.
func (lc *LazyCache) finalize(id string) {
	b := lc.bucket(id)
	lc.mu.Lock()
	if _, ok := b[id]; ok {
		delete(b, id)
		lc.mu.Unlock()
		lc.subscriber.Unsubscribe(id)
		return
	}
	lc.mu.Unlock()
}

// FlushAll discards every cached monitor, unsubscribing from all of them.
// Used on disconnect, where every cached value must be considered stale
// (spec.md §7). Monitors with callers still in flight are marked unlinked
// and finalized when those callers return, same as End.
func (lc *LazyCache) FlushAll() {
	lc.mu.Lock()
	var ids []string
	for i := range lc.buckets {
		for id := range lc.buckets[i] {
			ids = append(ids, id)
		}
	}
	lc.mu.Unlock()
	for _, id := range ids {
		lc.end(id)
	}
}

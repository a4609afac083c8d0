package smax

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// PullRequest is one pipelined read, dispatched to Callback in the order it
// was submitted once the batch it landed in comes back (spec.md §4.2).
type PullRequest struct {
	Req      ReadRequest
	Callback func(Value, Meta, error)
}

// SyncPoint lets a caller block until every PullRequest submitted before it
// has been dispatched, the barrier spec.md §4.2 calls "sync".
type SyncPoint struct {
	done chan struct{}
}

// Wait blocks until the sync point's position in the queue has drained, or
// ctx is done.
func (s *SyncPoint) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return newError("SyncPoint.Wait", KindTimeout, ctx.Err())
	}
}

type queueEntry struct {
	pull     *PullRequest
	sync     *SyncPoint
	callback func()
}

// PullQueue batches concurrent Read calls into Redis pipelines instead of
// issuing one EVALSHA round-trip per request, generalizing the teacher's
// batched-dispatch worker loop to ordered FIFO delivery of typed pull
// results (spec.md §4.2). Submissions beyond half of MaxPendingPulls block
// the submitter until the queue drains, the same backpressure threshold the
// teacher applies to its own bounded work channel.
type PullQueue struct {
	rdb     redis.UniversalClient
	scripts *ScriptRegistry
	metrics *MetricSet

	maxPending int
	readTimeout time.Duration

	mu      sync.Mutex
	notFull *sync.Cond
	entries []queueEntry

	flushSignal chan struct{}
	closed      bool
}

// NewPullQueue starts the background flush loop. Call Close to stop it.
func NewPullQueue(ctx context.Context, rdb redis.UniversalClient, scripts *ScriptRegistry, cfg *Config, metrics *MetricSet) *PullQueue {
	q := &PullQueue{
		rdb:         rdb,
		scripts:     scripts,
		metrics:     metrics,
		maxPending:  cfg.MaxPendingPulls,
		readTimeout: cfg.PipeReadTimeout,
		flushSignal: make(chan struct{}, 1),
	}
	q.notFull = sync.NewCond(&q.mu)
	go q.loop(ctx)
	return q
}

// Submit enqueues req for pipelined dispatch, blocking if the queue is
// already more than half full (spec.md §4.2 backpressure rule).
func (q *PullQueue) Submit(ctx context.Context, req PullRequest) {
	q.mu.Lock()
	for len(q.entries) > q.maxPending/2 && !q.closed {
		q.notFull.Wait()
	}
	q.entries = append(q.entries, queueEntry{pull: &req})
	q.mu.Unlock()
	q.signalFlush()
}

// CreateSyncPoint enqueues a barrier marker and returns a SyncPoint whose
// Wait unblocks once every entry submitted before it has been dispatched.
func (q *PullQueue) CreateSyncPoint() *SyncPoint {
	sp := &SyncPoint{done: make(chan struct{})}
	q.mu.Lock()
	q.entries = append(q.entries, queueEntry{sync: sp})
	q.mu.Unlock()
	q.signalFlush()
	return sp
}

// QueueCallback enqueues fn to run once every pull submitted before it has
// been dispatched, the plain-callback queue record spec.md §4.2 describes
// (the Go equivalent of the original's `queueCallback(cb, arg)`, with the
// argument carried by closure instead of an untyped pointer). If the queue
// is currently empty, fn runs inline immediately instead of waiting for the
// next flush.
func (q *PullQueue) QueueCallback(fn func()) {
	q.mu.Lock()
	if len(q.entries) == 0 {
		q.mu.Unlock()
		fn()
		return
	}
	q.entries = append(q.entries, queueEntry{callback: fn})
	q.mu.Unlock()
	q.signalFlush()
}

func (q *PullQueue) signalFlush() {
	select {
	case q.flushSignal <- struct{}{}:
	default:
	}
}

func (q *PullQueue) loop(ctx context.Context) {
	ticker := time.NewTicker(q.readTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.flushSignal:
			q.flush(ctx)
		case <-ticker.C:
			q.flush(ctx)
		}
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return
		}
	}
}

// flush drains the current queue contents and dispatches them as a single
// pipeline, preserving submission order on the way out.
func (q *PullQueue) flush(ctx context.Context) {
	q.mu.Lock()
	if len(q.entries) == 0 {
		q.mu.Unlock()
		return
	}
	batch := q.entries
	q.entries = nil
	q.notFull.Broadcast()
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(len(batch)))
	}

	pipe := q.rdb.Pipeline()
	cmds := make([]*redis.Cmd, len(batch))
	for i, e := range batch {
		if e.pull == nil {
			continue
		}
		cmds[i] = q.pipelineGet(pipe, e.pull.Req)
	}
	readCtx, cancel := context.WithTimeout(ctx, q.readTimeout)
	defer cancel()
	_, err := pipe.Exec(readCtx)
	if err != nil && err != redis.Nil {
		log.Warn().Err(err).Msg("smax: pipeline exec error")
	}

	for i, e := range batch {
		switch {
		case e.sync != nil:
			close(e.sync.done)
		case e.callback != nil:
			e.callback()
		default:
			q.dispatch(e.pull, cmds[i])
		}
	}
}

func (q *PullQueue) pipelineGet(pipe redis.Pipeliner, req ReadRequest) *redis.Cmd {
	if req.isStruct() {
		return pipe.EvalSha(context.Background(), q.scripts.SHA1(ScriptGetStruct), []string{AggregateID(req.Table, req.Key)})
	}
	return pipe.EvalSha(context.Background(), q.scripts.SHA1(ScriptHGet), []string{req.Table}, req.Key)
}

func (q *PullQueue) dispatch(pr *PullRequest, cmd *redis.Cmd) {
	if pr.Callback == nil {
		return
	}
	if cmd == nil {
		pr.Callback(Value{}, Meta{}, newError("PullQueue.dispatch", KindNoService, nil))
		return
	}
	res, err := cmd.Result()
	if err != nil {
		if isNoScript(err) {
			pr.Callback(Value{}, Meta{}, newError("PullQueue.dispatch", KindScriptMissing, err))
			return
		}
		pr.Callback(Value{}, Meta{}, newError("PullQueue.dispatch", KindNoService, err))
		return
	}
	v, m, err := decodePullReply(pr.Req, res)
	pr.Callback(v, m, err)
}

// decodePullReply interprets a pipelined command's raw reply the same way
// Client.Read would for a synchronous call of the same request shape.
func decodePullReply(req ReadRequest, res interface{}) (Value, Meta, error) {
	if req.isStruct() {
		arr, ok := res.([]interface{})
		if !ok {
			return Value{}, Meta{}, newError("decodePullReply", KindParse, nil)
		}
		name := req.Key
		if name == "" {
			name = req.Table
		}
		if len(arr) == 0 {
			return Value{Type: TypeStruct, Data: &Structure{Name: name}}, Meta{}, nil
		}
		levels, err := parseGetStructReply(arr)
		if err != nil {
			return Value{}, Meta{}, err
		}
		top, err := assembleStruct(name, levels)
		if err != nil {
			return Value{}, Meta{}, err
		}
		return Value{Type: TypeStruct, Data: top}, Meta{StoreType: TypeStruct, Timestamp: maxTimestamp(top)}, nil
	}

	tuple, ok := res.([]interface{})
	if !ok || len(tuple) != 6 {
		return Value{}, Meta{}, newError("decodePullReply", KindParse, nil)
	}
	if tuple[0] == nil {
		return zeroValue(req), Meta{}, nil
	}
	valueStr, _ := tuple[0].(string)
	typeStr, _ := tuple[1].(string)
	dimsStr, _ := tuple[2].(string)
	tsStr, _ := tuple[3].(string)
	origin, _ := tuple[4].(string)
	serial := parseSerial(tuple[5])

	storeType, charLen, err := ParseType(typeStr)
	if err != nil {
		return Value{}, Meta{}, err
	}
	shape, err := ParseShape(dimsStr)
	if err != nil {
		return Value{}, Meta{}, err
	}
	if err := validateRequested(req, storeType, shape); err != nil {
		return Value{}, Meta{}, err
	}
	ts, err := ParseTimestamp(tsStr)
	if err != nil {
		return Value{}, Meta{}, err
	}
	val, err := DecodeValue(storeType, shape, charLen, valueStr)
	if err != nil {
		return Value{}, Meta{}, err
	}
	return val, Meta{StoreType: storeType, StoreShape: shape, StoreBytes: len(valueStr), Origin: origin, Timestamp: ts, Serial: serial}, nil
}

// Close stops the flush loop (it returns at its next wake-up, at the latest
// after one PipeReadTimeout tick) and wakes any submitters blocked on
// backpressure, discarding undispatched entries (the reconnect loop is
// responsible for deciding whether to resubmit, per spec.md §7).
func (q *PullQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.entries = nil
	q.notFull.Broadcast()
	q.mu.Unlock()
}

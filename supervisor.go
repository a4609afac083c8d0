package smax

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// connectExitCode is the process exit code retryConnect uses when, with
// ResilientExitOnDrain set, a reconnect attempt fails while the write buffer
// holds more than MaxPendingPulls fields, distinguishable from a plain panic
// or os.Exit(1) a caller's own code might use.
const connectExitCode = 17

// Hook runs at a connect or disconnect lifecycle point. Hooks registered
// with AddConnectHook/AddDisconnectHook run in registration order.
type Hook func(ctx context.Context)

// Library is the top-level SMA-X client: it owns the Redis connection, the
// script registry, and every subsystem (PullQueue, LazyCache, Subscriber,
// TimeBuffer, WriteStore) built on top of it, and drives the
// connect/reconnect lifecycle spec.md §4.5 and §7 describe. It generalizes
// the teacher's Client/Supervisor pairing (dial, reconnect-on-error loop,
// ordered lifecycle hooks) to SMA-X's script-verification and resilient
// write-buffering requirements.
type Library struct {
	cfg     *Config
	rdb     redis.UniversalClient
	scripts *ScriptRegistry
	ident   identity
	metrics *MetricSet

	Client     *Client
	Pull       *PullQueue
	Subscriber *Subscriber
	Cache      *LazyCache
	TimeSeries *TimeBuffer
	Messages   *MessageBus
	Meta       *StaticMeta

	writeStore *WriteStore

	mu              sync.Mutex
	connectHooks    []Hook
	disconnectHooks []Hook
	connected       bool
	reconnecting    bool

	cancel context.CancelFunc
}

// NewLibrary builds a Library from cfg without connecting. Call Connect to
// dial and start the background subsystems.
func NewLibrary(appName string, cfg *Config, reg prometheus.Registerer) *Library {
	return &Library{
		cfg:     cfg,
		ident:   newIdentity(),
		metrics: NewMetricSet(appName, reg),
	}
}

// AddConnectHook registers fn to run, in order, after every successful
// (re)connect, after script verification but before the write-store drain
// (spec.md §4.5 lifecycle order).
func (l *Library) AddConnectHook(fn Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connectHooks = append(l.connectHooks, fn)
}

// AddDisconnectHook registers fn to run, in order, before the connection is
// torn down.
func (l *Library) AddDisconnectHook(fn Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnectHooks = append(l.disconnectHooks, fn)
}

// Connect dials Redis, verifies the required scripts, and starts the
// pull queue, subscriber, lazy cache, and time-series subsystems. If
// ResilientMode is set, a connection failure here and later is retried
// in the background instead of being returned to the caller (spec.md §7).
func (l *Library) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	if l.cfg.ResilientMode {
		l.writeStore = newWriteStore()
	}

	if err := l.connectOnce(ctx); err != nil {
		if !l.cfg.ResilientMode {
			cancel()
			return err
		}
		log.Warn().Err(err).Msg("smax: initial connect failed, entering resilient retry loop")
		go l.reconnectLoop(ctx)
		return nil
	}

	go l.reconnectLoop(ctx)
	return nil
}

func (l *Library) connectOnce(ctx context.Context) error {
	rdb := redis.NewUniversalClient(l.cfg.redisOptions())
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return newError("Library.Connect", KindNoService, err)
	}

	scripts := NewScriptRegistry(rdb)
	if err := scripts.Verify(ctx); err != nil {
		_ = rdb.Close()
		return err
	}
	if l.metrics != nil {
		l.metrics.ScriptLoads.Inc()
	}

	client := NewClient(rdb, scripts, l.ident, l.metrics)
	client.onScriptMissing = func() {
		l.triggerReconnect()
	}
	if l.writeStore != nil {
		client.enableResilience(l.writeStore, l.cfg)
	}

	subscriber := NewSubscriber(ctx, rdb, notifyPrefix)
	pull := NewPullQueue(ctx, rdb, scripts, l.cfg, l.metrics)

	l.mu.Lock()
	l.rdb, l.scripts, l.Client, l.Subscriber, l.Pull = rdb, scripts, client, subscriber, pull
	l.Cache = NewLazyCache(client, subscriber, pull, l.metrics)
	l.TimeSeries = NewTimeBuffer(client, subscriber)
	l.Messages = NewMessageBus(ctx, rdb, l.ident)
	l.Meta = NewStaticMeta(rdb, scripts)
	l.connected = true
	hooks := append([]Hook{}, l.connectHooks...)
	l.mu.Unlock()

	l.cfg.setDisabled(false)

	for _, h := range hooks {
		h(ctx)
	}

	if l.writeStore != nil {
		l.drainWrites(ctx)
	}
	return nil
}

func (l *Library) drainWrites(ctx context.Context) {
	entries := l.writeStore.Drain()
	for _, e := range entries {
		if err := l.Client.Write(ctx, e.table, e.field.Name, Value{Type: e.field.Type, Shape: e.field.Shape, Data: e.field.Data}, e.field.CharLen); err != nil {
			log.Warn().Err(err).Str("table", e.table).Str("field", e.field.Name).Msg("smax: replaying buffered write failed")
		}
	}
}

// reconnectLoop owns the background retry cycle: on any connection loss it
// sleeps ReconnectRetry and tries again, running the disconnect hooks first
// and the connect hooks (plus write-store drain) again on success.
func (l *Library) reconnectLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.mu.Lock()
		rdb := l.rdb
		l.mu.Unlock()

		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err == nil {
				select {
				case <-ctx.Done():
					return
				case <-time.After(l.cfg.ReconnectRetry):
				}
				continue
			}
			l.handleDisconnect(ctx)
			if l.metrics != nil {
				l.metrics.Reconnects.Inc()
			}
		}

		l.retryConnect(ctx)
	}
}

// triggerReconnect forces an immediate disconnect+reconnect cycle, the
// escalation path any NOSCRIPT result invokes instead of re-verifying
// scripts in isolation (spec.md §4.5, §7). It is a no-op if a reconnect is
// already in flight or the Library was never connected.
func (l *Library) triggerReconnect() {
	l.mu.Lock()
	rdb := l.rdb
	already := !l.connected || l.reconnecting
	l.mu.Unlock()
	if already || rdb == nil {
		return
	}

	ctx := context.Background()
	log.Warn().Msg("smax: NOSCRIPT escalation, forcing reconnect")
	l.handleDisconnect(ctx)
	if l.metrics != nil {
		l.metrics.Reconnects.Inc()
	}
	go l.retryConnect(ctx)
}

// retryConnect retries connectOnce until it succeeds or ctx is done,
// sleeping ReconnectRetry between attempts. Guarded by l.reconnecting so
// reconnectLoop and triggerReconnect never race each other.
func (l *Library) retryConnect(ctx context.Context) {
	l.mu.Lock()
	if l.reconnecting {
		l.mu.Unlock()
		return
	}
	l.reconnecting = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.reconnecting = false
		l.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := l.connectOnce(ctx); err == nil {
			return
		}
		attempt++
		if l.cfg.ResilientMode && l.cfg.ResilientExitOnDrain && l.writeStore != nil && l.writeStore.Len() > l.cfg.MaxPendingPulls {
			log.Error().Int("attempt", attempt).Msg("smax: write buffer overflowed during extended outage, exiting")
			os.Exit(connectExitCode)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.cfg.ReconnectRetry):
		}
	}
}

func (l *Library) handleDisconnect(ctx context.Context) {
	l.cfg.setDisabled(true)

	l.mu.Lock()
	hooks := append([]Hook{}, l.disconnectHooks...)
	l.connected = false
	rdb := l.rdb
	sub := l.Subscriber
	cache := l.Cache
	pull := l.Pull
	msgs := l.Messages
	l.rdb = nil
	l.mu.Unlock()

	for _, h := range hooks {
		h(ctx)
	}
	if cache != nil {
		cache.FlushAll()
	}
	if pull != nil {
		pull.Close()
	}
	if msgs != nil {
		_ = msgs.Close()
	}
	if sub != nil {
		_ = sub.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
}

// Connected reports whether the Library currently holds a live connection.
func (l *Library) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// Disconnect tears the Library down: runs disconnect hooks, stops every
// subsystem, and closes the Redis connection.
func (l *Library) Disconnect(ctx context.Context) error {
	if l.cancel != nil {
		l.cancel()
	}
	l.handleDisconnect(ctx)
	return nil
}

package smax

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ReadRequest describes a synchronous or pipelined pull.
type ReadRequest struct {
	Table    string
	Key      string // empty selects the whole structure stored under Table
	Type     Type
	Count    int // expected element count; 0 means "whatever is stored"
	CharLen  int // fixed element length, TypeChar only
	WithMeta bool

	// AlwaysCache opts a LazyCache monitor on this id into background
	// refresh-on-notification instead of lazy refresh-on-next-Get
	// (spec.md §4.3).
	AlwaysCache bool
}

func (r ReadRequest) isStruct() bool { return r.Type == TypeStruct }

// Client wraps the interactive and pipeline channels of a Redis connection
// and exposes the script-driven read/write/sendStruct operations spec.md
// §4.1 describes, generalizing the teacher's Client (conn, stats, id) from a
// msgpack blob cache to the typed SMA-X value/metadata protocol.
type Client struct {
	rdb      redis.UniversalClient
	scripts  *ScriptRegistry
	identity identity
	metrics  *MetricSet
	cfg      *Config // non-nil once NewClient's caller wires it; used for the isDisabled fast path

	resilient  bool
	writeStore *WriteStore // non-nil only in resilient mode

	onScriptMissing func() // wired to Library.triggerReconnect

	// mu serializes multi-command sequences that must appear atomic on the
	// wire from this process's point of view, notably SendStruct's
	// recursive per-level HMSetWithMeta calls (spec.md §4.1, §5).
	mu sync.Mutex
}

// NewClient builds a Client over an already-connected redis.UniversalClient.
func NewClient(rdb redis.UniversalClient, scripts *ScriptRegistry, id identity, metrics *MetricSet) *Client {
	return &Client{rdb: rdb, scripts: scripts, identity: id, metrics: metrics}
}

func (c *Client) enableResilience(store *WriteStore, cfg *Config) {
	c.resilient = true
	c.writeStore = store
	c.cfg = cfg
}

// Read performs a synchronous read: struct assembly via GetStruct, a
// metadata-carrying HGetWithMeta, or a plain HGET, per spec.md §4.1.
func (c *Client) Read(ctx context.Context, req ReadRequest) (Value, Meta, error) {
	ctx, end := startSpan(ctx, "smax.Client.Read", req.Table, req.Key)
	defer end()

	if req.Table == "" {
		return Value{}, Meta{}, newError("Client.Read", KindInvalidArgument, fmt.Errorf("empty table"))
	}

	if req.isStruct() {
		return c.readStruct(ctx, req)
	}
	if req.Key == "" {
		return Value{}, Meta{}, newError("Client.Read", KindInvalidArgument, fmt.Errorf("empty key"))
	}
	if req.WithMeta || req.Type == TypeString || req.Type == TypeRaw {
		return c.readWithMeta(ctx, req)
	}
	return c.readPlain(ctx, req)
}

func (c *Client) readStruct(ctx context.Context, req ReadRequest) (Value, Meta, error) {
	id := AggregateID(req.Table, req.Key)
	res, err := c.rdb.EvalSha(ctx, c.scripts.SHA1(ScriptGetStruct), []string{id}).Result()
	if err != nil {
		return Value{}, Meta{}, c.classifyError(ctx, "Client.Read", err)
	}
	arr, ok := res.([]interface{})
	if !ok {
		return Value{}, Meta{}, newError("Client.Read", KindParse, fmt.Errorf("unexpected GetStruct reply type %T", res))
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
	meta := Meta{StoreType: TypeStruct, Timestamp: maxTimestamp(top)}
	return Value{Type: TypeStruct, Data: top}, meta, nil
}

func (c *Client) readWithMeta(ctx context.Context, req ReadRequest) (Value, Meta, error) {
	res, err := c.rdb.EvalSha(ctx, c.scripts.SHA1(ScriptHGet), []string{req.Table}, req.Key).Result()
	if err != nil {
		return Value{}, Meta{}, c.classifyError(ctx, "Client.Read", err)
	}
	tuple, ok := res.([]interface{})
	if !ok || len(tuple) != 6 {
		return Value{}, Meta{}, newError("Client.Read", KindParse, fmt.Errorf("unexpected HGetWithMeta reply"))
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
	meta := Meta{
		StoreType:  storeType,
		StoreShape: shape,
		StoreBytes: len(valueStr),
		Origin:     origin,
		Timestamp:  ts,
		Serial:     serial,
	}
	return val, meta, nil
}

func (c *Client) readPlain(ctx context.Context, req ReadRequest) (Value, Meta, error) {
	s, err := c.rdb.HGet(ctx, req.Table, req.Key).Result()
	if err == redis.Nil {
		return zeroValue(req), Meta{}, nil
	}
	if err != nil {
		return Value{}, Meta{}, c.classifyError(ctx, "Client.Read", err)
	}
	shape := Shape{Dims: []int{1}}
	if req.Count > 0 {
		shape = Shape{Dims: []int{req.Count}}
	}
	val, err := DecodeValue(req.Type, shape, req.CharLen, s)
	if err != nil {
		return Value{}, Meta{}, err
	}
	return val, Meta{}, nil
}

func zeroValue(req ReadRequest) Value {
	count := req.Count
	if count <= 0 {
		count = 1
	}
	shape := Shape{Dims: []int{count}}
	switch req.Type {
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		return Value{Type: req.Type, Shape: shape, Data: make([]int64, count)}
	case TypeFloat32, TypeFloat64:
		return Value{Type: req.Type, Shape: shape, Data: make([]float64, count)}
	case TypeBool:
		return Value{Type: req.Type, Shape: shape, Data: make([]bool, count)}
	case TypeString, TypeChar:
		return Value{Type: req.Type, Shape: shape, Data: make([]string, count)}
	case TypeRaw:
		return Value{Type: req.Type, Shape: shape, Data: []byte{}}
	default:
		return Value{Type: req.Type, Shape: shape}
	}
}

func validateRequested(req ReadRequest, storeType Type, shape Shape) error {
	if req.Type != TypeUnknown && req.Type != storeType {
		return newError("Client.Read", KindTypeMismatch, fmt.Errorf("requested %s, stored %s", req.Type, storeType))
	}
	if req.Count > 0 && shape.Count() != req.Count {
		return newError("Client.Read", KindIncomplete, fmt.Errorf("requested %d elements, stored %d", req.Count, shape.Count()))
	}
	return nil
}

func parseSerial(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		var n int64
		fmt.Sscanf(t, "%d", &n)
		return n
	default:
		return 0
	}
}

// Write writes a single field via HSetWithMeta and waits for the script's
// reply, so that a failed write is returned to the caller (and, in resilient
// mode, buffered). It is not fire-and-forget: each call costs one round trip.
func (c *Client) Write(ctx context.Context, table, field string, v Value, charLen int) error {
	ctx, end := startSpan(ctx, "smax.Client.Write", table, field)
	defer end()

	// isDisabled short-circuits straight to the write buffer once a
	// reconnect is already underway, sparing a doomed round trip to a
	// connection the Library has already given up on (spec.md §4.5).
	if c.resilient && c.cfg != nil && c.cfg.disabled() {
		c.writeStore.Put(table, field, Field{Name: field, Type: v.Type, Shape: v.Shape, CharLen: charLen, Data: v.Data})
		log.Warn().Str("table", table).Str("field", field).Msg("smax: deferred write, connection disabled")
		return newError("Client.Write", KindNoService, fmt.Errorf("connection disabled, pending reconnect"))
	}

	valueStr, err := EncodeValue(v)
	if err != nil {
		return err
	}
	typeStr := FormatType(v.Type, charLen)
	dimsStr := v.Shape.String()
	origin := c.identity.Origin()

	_, err = c.rdb.EvalSha(ctx, c.scripts.SHA1(ScriptHSet), []string{table},
		origin, field, valueStr, typeStr, dimsStr).Result()
	if err == nil {
		return nil
	}

	kerr := c.classifyError(ctx, "Client.Write", err)
	if c.resilient && KindOf(kerr) == KindNoService {
		c.writeStore.Put(table, field, Field{Name: field, Type: v.Type, Shape: v.Shape, CharLen: charLen, Data: v.Data})
		log.Warn().Str("table", table).Str("field", field).Msg("smax: deferred write while disconnected")
	}
	return kerr
}

// SendStruct recursively writes s under id via HMSetWithMeta, top level
// first, then each nested substructure (spec.md §4.1's "top-down" rule).
// Only the outermost level requests parent notification.
func (c *Client) SendStruct(ctx context.Context, id string, s *Structure) error {
	ctx, end := startSpan(ctx, "smax.Client.SendStruct", id, "")
	defer end()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendStructLevel(ctx, id, s, true)
}

func (c *Client) sendStructLevel(ctx context.Context, id string, s *Structure, notifyParents bool) error {
	if len(s.Fields) == 0 {
		return nil
	}
	origin := c.identity.Origin()
	argv := make([]interface{}, 0, 2+4*len(s.Fields)+1)
	argv = append(argv, origin)
	type pendingChild struct {
		id string
		s  *Structure
	}
	var children []pendingChild
	for _, f := range s.Fields {
		var valueStr, typeStr string
		if child, ok := f.Data.(*Structure); ok {
			childID := id + Separator + f.Name
			valueStr = childID
			typeStr = FormatType(TypeStruct, 0)
			children = append(children, pendingChild{id: childID, s: child})
		} else {
			var err error
			valueStr, err = EncodeValue(Value{Type: f.Type, Shape: f.Shape, Data: f.Data})
			if err != nil {
				return err
			}
			typeStr = FormatType(f.Type, f.CharLen)
		}
		argv = append(argv, f.Name, valueStr, typeStr, f.Shape.String())
	}
	if notifyParents {
		argv = append(argv, "T")
	} else {
		argv = append(argv, "F")
	}

	_, err := c.rdb.EvalSha(ctx, c.scripts.SHA1(ScriptHMSet), []string{id}, argv...).Result()
	if err != nil {
		return c.classifyError(ctx, "Client.SendStruct", err)
	}

	for _, ch := range children {
		if err := c.sendStructLevel(ctx, ch.id, ch.s, false); err != nil {
			// Each level is independent: a failure here leaves already-sent
			// levels (this one included) in place (spec.md §9 open question).
			return err
		}
	}
	return nil
}

// classifyError maps a raw driver error to a smax *Error, triggering
// script-reload on NOSCRIPT.
func (c *Client) classifyError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if isNoScript(err) {
		if c.onScriptMissing != nil {
			c.onScriptMissing()
		}
		if c.metrics != nil {
			c.metrics.Errors.WithLabelValues(errWhenScriptLoad).Inc()
		}
		return newError(op, KindScriptMissing, err)
	}
	if c.metrics != nil {
		c.metrics.Errors.WithLabelValues(errLabelFor(op)).Inc()
	}
	kerr := newError(op, KindNoService, err)
	recordSpanError(ctx, kerr)
	return kerr
}

// errLabelFor buckets a Client operation name into the "when" label values
// MetricSet.Errors is registered with.
func errLabelFor(op string) string {
	switch op {
	case "Client.Write", "Client.SendStruct":
		return errWhenWrite
	default:
		return errWhenRead
	}
}

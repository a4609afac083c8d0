package smax

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// Static metadata hash keys, parallel to the <types>/<dims>/<timestamps>
// hashes the value-write scripts maintain (spec.md §11).
const (
	descriptionsHashKey    = "<descriptions>"
	unitsHashKey           = "<units>"
	coordinateSystemHashKey = "<coords>"
)

// CoordinateAxis is one axis of a CoordinateSystem: its name, unit, and the
// native-to-axis-unit scale and offset (spec.md §11).
type CoordinateAxis struct {
	Name   string  `msgpack:"name"`
	Unit   string  `msgpack:"unit"`
	Scale  float64 `msgpack:"scale"`
	Offset float64 `msgpack:"offset"`
}

// CoordinateSystem describes the physical axes a multi-dimensional stored
// value's indices correspond to, msgpack-encoded into the <coords> hash
// field for the aggregated id (SPEC_FULL.md §F.5 resolves the encoding).
type CoordinateSystem struct {
	Axes []CoordinateAxis `msgpack:"axes"`
}

// StaticMeta exposes the descriptive, rarely-changing metadata operations
// layered over the value store: descriptions, units, coordinate systems, key
// introspection, and script SHA1 lookup (spec.md §11).
type StaticMeta struct {
	rdb     redis.UniversalClient
	scripts *ScriptRegistry
}

// NewStaticMeta builds a StaticMeta over rdb, resolving script SHA1s
// through scripts.
func NewStaticMeta(rdb redis.UniversalClient, scripts *ScriptRegistry) *StaticMeta {
	return &StaticMeta{rdb: rdb, scripts: scripts}
}

// SetDescription records a human-readable description for table:key.
func (m *StaticMeta) SetDescription(ctx context.Context, table, key, description string) error {
	id := AggregateID(table, key)
	if err := m.rdb.HSet(ctx, descriptionsHashKey, id, description).Err(); err != nil {
		return newError("StaticMeta.SetDescription", KindNoService, err)
	}
	return nil
}

// GetDescription returns the description previously set for table:key, or
// "" if none was set.
func (m *StaticMeta) GetDescription(ctx context.Context, table, key string) (string, error) {
	id := AggregateID(table, key)
	s, err := m.rdb.HGet(ctx, descriptionsHashKey, id).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", newError("StaticMeta.GetDescription", KindNoService, err)
	}
	return s, nil
}

// SetUnits records the physical unit string for table:key.
func (m *StaticMeta) SetUnits(ctx context.Context, table, key, units string) error {
	id := AggregateID(table, key)
	if err := m.rdb.HSet(ctx, unitsHashKey, id, units).Err(); err != nil {
		return newError("StaticMeta.SetUnits", KindNoService, err)
	}
	return nil
}

// GetUnits returns the unit string previously set for table:key, or "" if
// none was set.
func (m *StaticMeta) GetUnits(ctx context.Context, table, key string) (string, error) {
	id := AggregateID(table, key)
	s, err := m.rdb.HGet(ctx, unitsHashKey, id).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", newError("StaticMeta.GetUnits", KindNoService, err)
	}
	return s, nil
}

// SetCoordinateSystem msgpack-encodes cs and attaches it to table:key.
func (m *StaticMeta) SetCoordinateSystem(ctx context.Context, table, key string, cs CoordinateSystem) error {
	id := AggregateID(table, key)
	b, err := msgpack.Marshal(cs)
	if err != nil {
		return newError("StaticMeta.SetCoordinateSystem", KindParse, err)
	}
	if err := m.rdb.HSet(ctx, coordinateSystemHashKey, id, b).Err(); err != nil {
		return newError("StaticMeta.SetCoordinateSystem", KindNoService, err)
	}
	return nil
}

// GetCoordinateSystem decodes the CoordinateSystem attached to table:key, or
// a zero-axis CoordinateSystem if none was set.
func (m *StaticMeta) GetCoordinateSystem(ctx context.Context, table, key string) (CoordinateSystem, error) {
	id := AggregateID(table, key)
	b, err := m.rdb.HGet(ctx, coordinateSystemHashKey, id).Bytes()
	if err == redis.Nil {
		return CoordinateSystem{}, nil
	}
	if err != nil {
		return CoordinateSystem{}, newError("StaticMeta.GetCoordinateSystem", KindNoService, err)
	}
	var cs CoordinateSystem
	if err := msgpack.Unmarshal(b, &cs); err != nil {
		return CoordinateSystem{}, newError("StaticMeta.GetCoordinateSystem", KindParse, err)
	}
	return cs, nil
}

// KeyCount returns the number of fields stored under table.
func (m *StaticMeta) KeyCount(ctx context.Context, table string) (int64, error) {
	n, err := m.rdb.HLen(ctx, table).Result()
	if err != nil {
		return 0, newError("StaticMeta.KeyCount", KindNoService, err)
	}
	return n, nil
}

// GetKeys lists the field names stored under table.
func (m *StaticMeta) GetKeys(ctx context.Context, table string) ([]string, error) {
	keys, err := m.rdb.HKeys(ctx, table).Result()
	if err != nil {
		return nil, newError("StaticMeta.GetKeys", KindNoService, err)
	}
	return keys, nil
}

// PullTypeDimension returns the stored type and shape for table:key without
// pulling its value, a cheaper introspection path than a full Read when only
// the shape is needed (spec.md §11).
func (m *StaticMeta) PullTypeDimension(ctx context.Context, table, key string) (Type, Shape, error) {
	id := AggregateID(table, key)
	typeStr, err := m.rdb.HGet(ctx, "<types>", id).Result()
	if err == redis.Nil {
		return TypeUnknown, Shape{}, newError("StaticMeta.PullTypeDimension", KindNameInvalid, nil)
	}
	if err != nil {
		return TypeUnknown, Shape{}, newError("StaticMeta.PullTypeDimension", KindNoService, err)
	}
	t, _, err := ParseType(typeStr)
	if err != nil {
		return TypeUnknown, Shape{}, err
	}
	dimsStr, err := m.rdb.HGet(ctx, "<dims>", id).Result()
	if err != nil && err != redis.Nil {
		return TypeUnknown, Shape{}, newError("StaticMeta.PullTypeDimension", KindNoService, err)
	}
	shape, err := ParseShape(dimsStr)
	if err != nil {
		return t, Shape{}, err
	}
	return t, shape, nil
}

// GetScriptSHA1 returns the cached SHA1 of the named server-side script.
func (m *StaticMeta) GetScriptSHA1(name string) string {
	return m.scripts.SHA1(name)
}

// ServerTime queries the Redis server's own clock, used to compute clock
// skew against the local process clock (spec.md §11).
func (m *StaticMeta) ServerTime(ctx context.Context) (time.Time, error) {
	d, err := m.rdb.Time(ctx).Result()
	if err != nil {
		return time.Time{}, newError("StaticMeta.ServerTime", KindNoService, err)
	}
	return d, nil
}

package smax

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Script names, matching the `scripts` hash field names (spec.md §4.1/§6).
const (
	ScriptHSet    = "HSetWithMeta"
	ScriptHGet    = "HGetWithMeta"
	ScriptHMSet   = "HMSetWithMeta"
	ScriptGetStruct = "GetStruct"
)

// ScriptsHashKey is the Redis hash in which script name -> SHA1 is kept.
const ScriptsHashKey = "scripts"

var scriptSources = map[string]string{
	ScriptHSet: hSetWithMetaSource,
	ScriptHGet: hGetWithMetaSource,
	ScriptHMSet: hMSetWithMetaSource,
	ScriptGetStruct: getStructSource,
}

// ScriptRegistry looks up and caches the SHA1s of the four required
// server-side scripts, verifying their presence and re-verifying on
// reconnect (spec.md §4.1, §4.5).
type ScriptRegistry struct {
	rdb  redis.UniversalClient
	sha1 map[string]string
}

func NewScriptRegistry(rdb redis.UniversalClient) *ScriptRegistry {
	return &ScriptRegistry{rdb: rdb, sha1: make(map[string]string, len(scriptSources))}
}

// SHA1 returns the cached SHA1 for name, or "" if Verify has not (yet)
// succeeded for it.
func (r *ScriptRegistry) SHA1(name string) string { return r.sha1[name] }

// Verify resolves and confirms the SHA1 of every required script. For each
// script it first consults the `scripts` hash (the deployment-provisioned
// SHA1); if the hash has no entry, it self-installs the script via
// SCRIPT LOAD (using the Lua source embedded in this package) and records
// the resulting SHA1 back into the hash, so a fresh deployment works without
// an external provisioning step. It then confirms the SHA1 is loaded on the
// server with SCRIPT EXISTS (guarding against a stale hash entry from a
// server that has since been SCRIPT FLUSHed).
func (r *ScriptRegistry) Verify(ctx context.Context) error {
	for name, source := range scriptSources {
		sha, err := r.resolve(ctx, name, source)
		if err != nil {
			return newError("ScriptRegistry.Verify", KindScriptMissing, err)
		}
		r.sha1[name] = sha
	}
	return nil
}

func (r *ScriptRegistry) resolve(ctx context.Context, name, source string) (string, error) {
	sha, err := r.rdb.HGet(ctx, ScriptsHashKey, name).Result()
	if err != nil && err != redis.Nil {
		return "", err
	}
	if sha != "" {
		exists, err := r.rdb.ScriptExists(ctx, sha).Result()
		if err == nil && len(exists) == 1 && exists[0] {
			return sha, nil
		}
	}
	sha, err = r.rdb.ScriptLoad(ctx, source).Result()
	if err != nil {
		return "", fmt.Errorf("loading script %s: %w", name, err)
	}
	if err := r.rdb.HSet(ctx, ScriptsHashKey, name, sha).Err(); err != nil {
		return "", fmt.Errorf("recording sha1 for script %s: %w", name, err)
	}
	return sha, nil
}

// isNoScript reports whether err is the server's NOSCRIPT reply, the
// trigger for script-reload per spec.md §4.1/§7.
func isNoScript(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return len(s) >= 8 && s[:8] == "NOSCRIPT"
}

// Lua sources. Each performs its Redis operations inside a single EVALSHA
// call so that value, per-field metadata, and the update notification are
// atomic across the connection (spec.md §4.1).

const hSetWithMetaSource = `
local tbl = KEYS[1]
local origin = ARGV[1]
local field = ARGV[2]
local value = ARGV[3]
local vtype = ARGV[4]
local dims = ARGV[5]

redis.call('HSET', tbl, field, value)

local id = tbl .. ':' .. field
redis.call('HSET', '<types>', id, vtype)
redis.call('HSET', '<dims>', id, dims)

local t = redis.call('TIME')
local ts = t[1] .. '.' .. string.format('%06d000', tonumber(t[2]))
redis.call('HSET', '<timestamps>', id, ts)
redis.call('HSET', '<origins>', id, origin)
local serial = redis.call('HINCRBY', '<writes>', id, 1)

redis.call('PUBLISH', 'smax:' .. id, value)
redis.call('PUBLISH', 'smax:' .. tbl, id)

return serial
`

const hGetWithMetaSource = `
local tbl = KEYS[1]
local field = ARGV[1]
local value = redis.call('HGET', tbl, field)
if value == false then
  return {false, false, false, false, false, false}
end
local id = tbl .. ':' .. field
local vtype = redis.call('HGET', '<types>', id)
local dims = redis.call('HGET', '<dims>', id)
local ts = redis.call('HGET', '<timestamps>', id)
local origin = redis.call('HGET', '<origins>', id)
local serial = redis.call('HGET', '<writes>', id)
return {value, vtype, dims, ts, origin, serial}
`

const hMSetWithMetaSource = `
local tbl = KEYS[1]
local origin = ARGV[1]
local notifyParents = ARGV[#ARGV]
local n = (#ARGV - 2) / 4
local t = redis.call('TIME')
local ts = t[1] .. '.' .. string.format('%06d000', tonumber(t[2]))
local ids = {}
for i = 0, n - 1 do
  local base = 2 + i * 4
  local field = ARGV[base]
  local value = ARGV[base + 1]
  local vtype = ARGV[base + 2]
  local dims = ARGV[base + 3]
  redis.call('HSET', tbl, field, value)
  local id = tbl .. ':' .. field
  redis.call('HSET', '<types>', id, vtype)
  redis.call('HSET', '<dims>', id, dims)
  redis.call('HSET', '<timestamps>', id, ts)
  redis.call('HSET', '<origins>', id, origin)
  redis.call('HINCRBY', '<writes>', id, 1)
  ids[#ids + 1] = id
  redis.call('PUBLISH', 'smax:' .. id, value)
end
local tag = '<hmset>' .. table.concat(ids, ',')
redis.call('PUBLISH', 'smax:' .. tbl, tag)
if notifyParents == 'T' then
  redis.call('PUBLISH', 'smax:' .. tbl, '<hmset>')
end
return n
`

const getStructSource = `
local function getLevel(id)
  local data = redis.call('HGETALL', id)
  local names = {}
  local values = {}
  local i = 1
  while data[i] do
    names[#names + 1] = data[i]
    values[#values + 1] = data[i + 1]
    i = i + 2
  end
  local types, dims, tss, origins, serials = {}, {}, {}, {}, {}
  for idx, name in ipairs(names) do
    local fid = id .. ':' .. name
    types[idx] = redis.call('HGET', '<types>', fid) or ''
    dims[idx] = redis.call('HGET', '<dims>', fid) or ''
    tss[idx] = redis.call('HGET', '<timestamps>', fid) or ''
    origins[idx] = redis.call('HGET', '<origins>', fid) or ''
    serials[idx] = redis.call('HGET', '<writes>', fid) or '0'
  end
  return names, {values, types, dims, tss, origins, serials}
end

local result = {}
local queue = {KEYS[1]}
while #queue > 0 do
  local cur = table.remove(queue, 1)
  local names, fields = getLevel(cur)
  result[#result + 1] = names
  result[#result + 1] = fields
  for idx, t in ipairs(fields[2]) do
    if t == 'struct' then
      queue[#queue + 1] = fields[1][idx]
    end
  end
end
return result
`

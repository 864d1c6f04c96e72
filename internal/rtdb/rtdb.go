// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package rtdb implements the RTDB capability surface from spec.md §4.1: a
// Redis-shaped key/hash/list/set store plus the domain-specialized
// write_point_init/write_point_runtime operations that fuse a value write
// with routing-triggered actuation. Two Store backends are provided: an
// in-memory one for tests and single-process deployments, and a
// redis/go-redis one for a real shared RTDB.
package rtdb

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/EvanL1/VoltageEMS-sub001/pkg/log"
)

// Store is the transport-level capability set a backend must provide.
// RTDB builds the domain-specific write_point_* operations, ListBLPop and
// ScanMatch's glob translation on top of it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte) error
	Del(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	IncrByFloat(ctx context.Context, key string, delta float64) (float64, error)

	HashSet(ctx context.Context, key, field string, val []byte) error
	HashGet(ctx context.Context, key, field string) ([]byte, bool, error)
	HashMGet(ctx context.Context, key string, fields []string) ([][]byte, error)
	HashMSet(ctx context.Context, key string, fields map[string][]byte) error
	HashGetAll(ctx context.Context, key string) (map[string][]byte, error)
	HashDel(ctx context.Context, key, field string) (bool, error)
	HashDelMany(ctx context.Context, key string, fields []string) (int, error)
	HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error)

	ListLPush(ctx context.Context, key string, val []byte) (int64, error)
	ListRPush(ctx context.Context, key string, val []byte) (int64, error)
	ListLPop(ctx context.Context, key string) ([]byte, bool, error)
	ListRPop(ctx context.Context, key string) ([]byte, bool, error)
	ListRange(ctx context.Context, key string, start, stop int) ([][]byte, error)
	ListTrim(ctx context.Context, key string, start, stop int) error
	ListLen(ctx context.Context, key string) (int64, error)

	SAdd(ctx context.Context, key string, member []byte) (bool, error)
	SRem(ctx context.Context, key string, member []byte) (bool, error)
	SMembers(ctx context.Context, key string) ([][]byte, error)

	Publish(ctx context.Context, channel string, msg []byte) (int64, error)
	FCall(ctx context.Context, function string, keys []string, args []string) (string, error)

	// ScanKeys returns every key currently stored, across every namespace
	// (kv, hash, list, set). ScanMatch filters and dedupes the result.
	ScanKeys(ctx context.Context) ([]string, error)
}

// HashMSetOp is one entry of a pipeline_hash_mset batch: a key and the
// field/value pairs to write into its hash.
type HashMSetOp struct {
	Key    string
	Fields []HashField
}

// HashField is one field/value pair within a HashMSetOp.
type HashField struct {
	Field string
	Value []byte
}

// RoutingLookup is the subset of the routing cache (C2) the RTDB needs to
// resolve a TODO-queue target from an M-point write. routing.Cache
// implements this.
type RoutingLookup interface {
	LookupM2C(key string) (string, bool)
}

// RTDB wraps a Store with the domain-specialized point-write operations
// and an optional attached routing cache.
type RTDB struct {
	store   Store
	routing RoutingLookup
}

// New constructs an RTDB over the given Store. The routing cache may be
// attached later via AttachRoutingCache, or never (S2's empty-cache case).
func New(store Store) *RTDB {
	return &RTDB{store: store}
}

// AttachRoutingCache wires a routing cache so write_point_runtime can
// resolve M->C triggers. Safe to call multiple times (e.g. after a reload
// replaces the cache instance).
func (r *RTDB) AttachRoutingCache(cache RoutingLookup) {
	r.routing = cache
}

// Store returns the underlying transport-level Store, for callers (e.g. the
// scan-based admin endpoints) that need primitive access.
func (r *RTDB) Store() Store { return r.store }

func (r *RTDB) TimeMillis() int64 { return time.Now().UnixMilli() }

// FormatValue renders a float the way the RTDB stores it: shortest exact
// decimal form, with NaN/+Inf/-Inf preserved verbatim (spec.md §3, §8).
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParseValue is the inverse of FormatValue.
func ParseValue(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

// WritePointInit sets a point's value with a zero timestamp and never
// enqueues a trigger (spec.md §4.1).
func (r *RTDB) WritePointInit(ctx context.Context, scopeKey string, pointID uint32, value float64) error {
	field := strconv.FormatUint(uint64(pointID), 10)
	if err := r.store.HashSet(ctx, scopeKey, field, []byte(FormatValue(value))); err != nil {
		return fmt.Errorf("rtdb: write_point_init value: %w", err)
	}
	if err := r.store.HashSet(ctx, scopeKey, "ts:"+field, []byte("0")); err != nil {
		return fmt.Errorf("rtdb: write_point_init timestamp: %w", err)
	}
	return nil
}

// WritePointRuntime writes value+timestamp and, if an eligible routing
// target is found, enqueues a TODO-queue trigger message (spec.md §4.1,
// invariants 1-2 of spec.md §8).
func (r *RTDB) WritePointRuntime(ctx context.Context, scopeKey string, pointID uint32, value float64) error {
	field := strconv.FormatUint(uint64(pointID), 10)
	ts := r.TimeMillis()

	if err := r.store.HashSet(ctx, scopeKey, field, []byte(FormatValue(value))); err != nil {
		return fmt.Errorf("rtdb: write_point_runtime value: %w", err)
	}
	if err := r.store.HashSet(ctx, scopeKey, "ts:"+field, []byte(strconv.FormatInt(ts, 10))); err != nil {
		return fmt.Errorf("rtdb: write_point_runtime timestamp: %w", err)
	}

	todoKey, ok := ResolveTodoQueue(scopeKey, pointID, r.routing)
	if !ok {
		return nil
	}

	msg := fmt.Sprintf(`{"point_id":%d,"value":%s,"timestamp":%d}`, pointID, FormatValue(value), ts)
	if _, err := r.store.ListRPush(ctx, todoKey, []byte(msg)); err != nil {
		return fmt.Errorf("rtdb: write_point_runtime trigger enqueue: %w", err)
	}
	return nil
}

// ResolveTodoQueue is the pure function from spec.md §4.1: given a scope
// key, a point id and a routing cache, decide which (if any) TODO-queue
// key should receive the actuation trigger.
func ResolveTodoQueue(scopeKey string, pointID uint32, cache RoutingLookup) (string, bool) {
	parts := strings.Split(scopeKey, ":")

	if len(parts) >= 3 && parts[0] == "inst" && parts[2] == "A" {
		if cache == nil {
			return "", false
		}
		routingKey := fmt.Sprintf("%s:A:%d", parts[1], pointID)
		target, ok := cache.LookupM2C(routingKey)
		if !ok {
			return "", false
		}
		targetParts := strings.Split(target, ":")
		if len(targetParts) < 2 {
			return "", false
		}
		return fmt.Sprintf("comsrv:%s:%s:TODO", targetParts[0], targetParts[1]), true
	}

	if len(parts) >= 3 && parts[0] == "comsrv" && (parts[2] == "A" || parts[2] == "C") {
		return fmt.Sprintf("comsrv:%s:%s:TODO", parts[1], parts[2]), true
	}

	return "", false
}

// ListBLPop polls each key in order at ~10ms granularity until one has a
// front element or timeout elapses (spec.md §4.1).
func (r *RTDB) ListBLPop(ctx context.Context, keys []string, timeout time.Duration) (string, []byte, bool, error) {
	deadline := time.Now().Add(timeout)
	const pollInterval = 10 * time.Millisecond

	for {
		for _, key := range keys {
			val, ok, err := r.store.ListLPop(ctx, key)
			if err != nil {
				return "", nil, false, err
			}
			if ok {
				return key, val, true, nil
			}
		}

		if timeout > 0 && time.Now().After(deadline) {
			return "", nil, false, nil
		}

		select {
		case <-ctx.Done():
			return "", nil, false, ctx.Err()
		case <-time.After(pollInterval):
		}

		if timeout <= 0 && ctx.Err() != nil {
			return "", nil, false, ctx.Err()
		}
	}
}

// ScanMatch implements the glob->regex key scan from spec.md §4.1:
// '*' -> ".*", '?' -> ".", deduplicated and sorted across every namespace.
func (r *RTDB) ScanMatch(ctx context.Context, pattern string) ([]string, error) {
	keys, err := r.store.ScanKeys(ctx)
	if err != nil {
		return nil, err
	}
	re, err := globToRegexp(pattern)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(keys))
	var out []string
	for _, k := range keys {
		if !re.MatchString(k) {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sortStrings(out)
	return out, nil
}

// PipelineHashMSet batches hash inserts (spec.md §4.1). The in-memory and
// redis backends both just issue the underlying HashMSet calls in
// sequence; batching only matters for round-trip count, which this
// preserves by grouping multiple fields per HSET call.
func (r *RTDB) PipelineHashMSet(ctx context.Context, ops []HashMSetOp) error {
	for _, op := range ops {
		if len(op.Fields) == 0 {
			continue
		}
		fields := make(map[string][]byte, len(op.Fields))
		for _, f := range op.Fields {
			fields[f.Field] = f.Value
		}
		if err := r.store.HashMSet(ctx, op.Key, fields); err != nil {
			return fmt.Errorf("rtdb: pipeline_hash_mset %s: %w", op.Key, err)
		}
	}
	return nil
}

// Convenience pass-throughs so callers can use an *RTDB wherever a Store
// is expected for the non-domain-specific operations.

func (r *RTDB) Get(ctx context.Context, key string) ([]byte, bool, error) { return r.store.Get(ctx, key) }
func (r *RTDB) Set(ctx context.Context, key string, val []byte) error     { return r.store.Set(ctx, key, val) }
func (r *RTDB) Del(ctx context.Context, key string) (bool, error)         { return r.store.Del(ctx, key) }
func (r *RTDB) Exists(ctx context.Context, key string) (bool, error)      { return r.store.Exists(ctx, key) }

func (r *RTDB) IncrByFloat(ctx context.Context, key string, delta float64) (float64, error) {
	return r.store.IncrByFloat(ctx, key, delta)
}

func (r *RTDB) HashSet(ctx context.Context, key, field string, val []byte) error {
	return r.store.HashSet(ctx, key, field, val)
}
func (r *RTDB) HashGet(ctx context.Context, key, field string) ([]byte, bool, error) {
	return r.store.HashGet(ctx, key, field)
}
func (r *RTDB) HashMGet(ctx context.Context, key string, fields []string) ([][]byte, error) {
	return r.store.HashMGet(ctx, key, fields)
}
func (r *RTDB) HashGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	return r.store.HashGetAll(ctx, key)
}
func (r *RTDB) HashDel(ctx context.Context, key, field string) (bool, error) {
	return r.store.HashDel(ctx, key, field)
}
func (r *RTDB) HashDelMany(ctx context.Context, key string, fields []string) (int, error) {
	return r.store.HashDelMany(ctx, key, fields)
}
func (r *RTDB) HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	return r.store.HIncrBy(ctx, key, field, incr)
}

func (r *RTDB) ListLPush(ctx context.Context, key string, val []byte) (int64, error) {
	return r.store.ListLPush(ctx, key, val)
}
func (r *RTDB) ListRPush(ctx context.Context, key string, val []byte) (int64, error) {
	return r.store.ListRPush(ctx, key, val)
}
func (r *RTDB) ListLPop(ctx context.Context, key string) ([]byte, bool, error) {
	return r.store.ListLPop(ctx, key)
}
func (r *RTDB) ListRPop(ctx context.Context, key string) ([]byte, bool, error) {
	return r.store.ListRPop(ctx, key)
}
func (r *RTDB) ListRange(ctx context.Context, key string, start, stop int) ([][]byte, error) {
	return r.store.ListRange(ctx, key, start, stop)
}
func (r *RTDB) ListTrim(ctx context.Context, key string, start, stop int) error {
	return r.store.ListTrim(ctx, key, start, stop)
}
func (r *RTDB) ListLen(ctx context.Context, key string) (int64, error) {
	return r.store.ListLen(ctx, key)
}

func (r *RTDB) SAdd(ctx context.Context, key string, member []byte) (bool, error) {
	return r.store.SAdd(ctx, key, member)
}
func (r *RTDB) SRem(ctx context.Context, key string, member []byte) (bool, error) {
	return r.store.SRem(ctx, key, member)
}
func (r *RTDB) SMembers(ctx context.Context, key string) ([][]byte, error) {
	return r.store.SMembers(ctx, key)
}

func (r *RTDB) Publish(ctx context.Context, channel string, msg []byte) (int64, error) {
	n, err := r.store.Publish(ctx, channel, msg)
	if err != nil {
		log.Warnf("rtdb: publish to %s failed: %v", channel, err)
	}
	return n, err
}

func (r *RTDB) FCall(ctx context.Context, function string, keys []string, args []string) (string, error) {
	return r.store.FCall(ctx, function, keys, args)
}

// RangeIndices implements the negative-index semantics of spec.md §4.1 for
// both ListRange and ListTrim: start_idx = max(0, len+start) if start<0
// else min(len, start); stop_idx = max(0, len+stop+1) if stop<0 else
// min(len, stop+1) (stop is inclusive). Returns start==stop==0, ok=false
// when the result would be empty.
func RangeIndices(length, start, stop int) (startIdx, stopIdx int, ok bool) {
	if start < 0 {
		startIdx = length + start
		if startIdx < 0 {
			startIdx = 0
		}
	} else if start < length {
		startIdx = start
	} else {
		startIdx = length
	}

	if stop < 0 {
		stopIdx = length + stop + 1
		if stopIdx < 0 {
			stopIdx = 0
		}
	} else if stop < length {
		stopIdx = stop + 1
	} else {
		stopIdx = length
	}

	if startIdx >= stopIdx {
		return 0, 0, false
	}
	return startIdx, stopIdx, true
}

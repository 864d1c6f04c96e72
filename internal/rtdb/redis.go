// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rtdb

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the RTDB with a real Redis-compatible server via
// redis/go-redis/v9. Hashes, lists and sets map directly onto Redis's own
// HSET/LPUSH/SADD families, so unlike MemoryStore there is a single
// keyspace and ScanKeys is a plain SCAN.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing go-redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, val []byte) error {
	return r.client.Set(ctx, key, val, 0).Err()
}

func (r *RedisStore) Del(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Del(ctx, key).Result()
	return n > 0, err
}

func (r *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (r *RedisStore) IncrByFloat(ctx context.Context, key string, delta float64) (float64, error) {
	return r.client.IncrByFloat(ctx, key, delta).Result()
}

func (r *RedisStore) HashSet(ctx context.Context, key, field string, val []byte) error {
	return r.client.HSet(ctx, key, field, val).Err()
}

func (r *RedisStore) HashGet(ctx context.Context, key, field string) ([]byte, bool, error) {
	v, err := r.client.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *RedisStore) HashMGet(ctx context.Context, key string, fields []string) ([][]byte, error) {
	vals, err := r.client.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = []byte(s)
		}
	}
	return out, nil
}

func (r *RedisStore) HashMSet(ctx context.Context, key string, fields map[string][]byte) error {
	args := make(map[string]interface{}, len(fields))
	for f, v := range fields {
		args[f] = v
	}
	return r.client.HSet(ctx, key, args).Err()
}

func (r *RedisStore) HashGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	m, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(m))
	for f, v := range m {
		out[f] = []byte(v)
	}
	return out, nil
}

func (r *RedisStore) HashDel(ctx context.Context, key, field string) (bool, error) {
	n, err := r.client.HDel(ctx, key, field).Result()
	return n > 0, err
}

func (r *RedisStore) HashDelMany(ctx context.Context, key string, fields []string) (int, error) {
	n, err := r.client.HDel(ctx, key, fields...).Result()
	return int(n), err
}

func (r *RedisStore) HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	return r.client.HIncrBy(ctx, key, field, incr).Result()
}

func (r *RedisStore) ListLPush(ctx context.Context, key string, val []byte) (int64, error) {
	return r.client.LPush(ctx, key, val).Result()
}

func (r *RedisStore) ListRPush(ctx context.Context, key string, val []byte) (int64, error) {
	return r.client.RPush(ctx, key, val).Result()
}

func (r *RedisStore) ListLPop(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.LPop(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *RedisStore) ListRPop(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.RPop(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// ListRange passes spec.md's negative/inclusive semantics straight
// through to Redis's native LRANGE, which already implements the same
// convention (stop inclusive, negative indices from the end).
func (r *RedisStore) ListRange(ctx context.Context, key string, start, stop int) ([][]byte, error) {
	vals, err := r.client.LRange(ctx, key, int64(start), int64(stop)).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (r *RedisStore) ListTrim(ctx context.Context, key string, start, stop int) error {
	return r.client.LTrim(ctx, key, int64(start), int64(stop)).Err()
}

func (r *RedisStore) ListLen(ctx context.Context, key string) (int64, error) {
	return r.client.LLen(ctx, key).Result()
}

func (r *RedisStore) SAdd(ctx context.Context, key string, member []byte) (bool, error) {
	n, err := r.client.SAdd(ctx, key, member).Result()
	return n > 0, err
}

func (r *RedisStore) SRem(ctx context.Context, key string, member []byte) (bool, error) {
	n, err := r.client.SRem(ctx, key, member).Result()
	return n > 0, err
}

func (r *RedisStore) SMembers(ctx context.Context, key string) ([][]byte, error) {
	vals, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (r *RedisStore) Publish(ctx context.Context, channel string, msg []byte) (int64, error) {
	return r.client.Publish(ctx, channel, msg).Result()
}

func (r *RedisStore) FCall(ctx context.Context, function string, keys []string, args []string) (string, error) {
	redisArgs := make([]interface{}, len(args))
	for i, a := range args {
		redisArgs[i] = a
	}
	res, err := r.client.FCall(ctx, function, keys, redisArgs...).Result()
	if err != nil {
		return "", err
	}
	if s, ok := res.(string); ok {
		return s, nil
	}
	return "", nil
}

// ScanKeys enumerates the full keyspace via SCAN. Unlike MemoryStore there
// is one namespace, so no cross-namespace merge is needed here; ScanMatch
// in rtdb.go still applies the glob filter and dedupe/sort uniformly.
func (r *RedisStore) ScanKeys(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, "*", 1000).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

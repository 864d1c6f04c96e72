// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rtdb

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client)
}

func TestRedisStore_WritePointRuntimeRoutesThroughRedis(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)
	db := New(store)
	db.AttachRoutingCache(fakeRouting{"1:A:10": "1001:A:5"})

	require.NoError(t, db.WritePointRuntime(ctx, "inst:1:A", 10, 42.0))

	val, ok, err := db.HashGet(ctx, "inst:1:A", "10")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "42", string(val))

	entries, err := db.ListRange(ctx, "comsrv:1001:A:TODO", 0, -1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestRedisStore_ScanKeysMatchesGlob(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)
	db := New(store)

	_, err := db.ListRPush(ctx, "comsrv:9:A:TODO", []byte("x"))
	require.NoError(t, err)
	require.NoError(t, db.Set(ctx, "unrelated", []byte("y")))

	keys, err := db.ScanMatch(ctx, "*:TODO")
	require.NoError(t, err)
	require.Equal(t, []string{"comsrv:9:A:TODO"}, keys)
}

// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rtdb

import (
	"context"
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRouting map[string]string

func (f fakeRouting) LookupM2C(key string) (string, bool) {
	v, ok := f[key]
	return v, ok
}

// S1 — M->C routing triggers TODO.
func TestWritePointRuntime_M2CRoutingTriggersTodo(t *testing.T) {
	ctx := context.Background()
	db := New(NewMemoryStore())
	db.AttachRoutingCache(fakeRouting{"1:A:10": "1001:A:5"})

	require.NoError(t, db.WritePointRuntime(ctx, "inst:1:A", 10, 100.0))

	val, ok, err := db.HashGet(ctx, "inst:1:A", "10")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "100", string(val))

	ts, ok, err := db.HashGet(ctx, "inst:1:A", "ts:10")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, "0", string(ts))

	entries, err := db.ListRange(ctx, "comsrv:1001:A:TODO", 0, -1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	msg := string(entries[0])
	assert.Contains(t, msg, `"point_id":10`)
	assert.Contains(t, msg, `"value":100`)
	assert.Contains(t, msg, `"timestamp":`)
}

// S2 — direct channel actuation with empty routing cache.
func TestWritePointRuntime_DirectChannelActuation(t *testing.T) {
	ctx := context.Background()
	db := New(NewMemoryStore())
	db.AttachRoutingCache(fakeRouting{})

	require.NoError(t, db.WritePointRuntime(ctx, "comsrv:1001:A", 5, 12.3))

	val, ok, err := db.HashGet(ctx, "comsrv:1001:A", "5")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "12.3", string(val))

	entries, err := db.ListRange(ctx, "comsrv:1001:A:TODO", 0, -1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// S3 — no-trigger point classes.
func TestWritePointRuntime_NoTriggerClasses(t *testing.T) {
	ctx := context.Background()
	db := New(NewMemoryStore())

	require.NoError(t, db.WritePointRuntime(ctx, "inst:1:M", 10, 230.5))
	require.NoError(t, db.WritePointRuntime(ctx, "comsrv:1001:T", 5, 50.0))

	keys, err := db.ScanMatch(ctx, "*:TODO")
	require.NoError(t, err)
	assert.Empty(t, keys)

	val, _, err := db.HashGet(ctx, "inst:1:M", "10")
	require.NoError(t, err)
	assert.Equal(t, "230.5", string(val))
}

func TestWritePointInit_ZeroTimestampNoTrigger(t *testing.T) {
	ctx := context.Background()
	db := New(NewMemoryStore())
	db.AttachRoutingCache(fakeRouting{"1:A:10": "1001:A:5"})

	require.NoError(t, db.WritePointInit(ctx, "inst:1:A", 10, 5.0))

	ts, _, err := db.HashGet(ctx, "inst:1:A", "ts:10")
	require.NoError(t, err)
	assert.Equal(t, "0", string(ts))

	n, err := db.ListLen(ctx, "comsrv:1001:A:TODO")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestResolveTodoQueue_TargetMalformed(t *testing.T) {
	key, ok := ResolveTodoQueue("inst:1:A", 10, fakeRouting{"1:A:10": "onlyonepart"})
	assert.False(t, ok)
	assert.Empty(t, key)
}

func TestListRange_BoundaryBehaviors(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for i := 0; i < 5; i++ {
		_, err := store.ListRPush(ctx, "k", []byte{byte('a' + i)})
		require.NoError(t, err)
	}

	vals, err := store.ListRange(ctx, "k", -2, -1)
	require.NoError(t, err)
	require.Len(t, vals, 2)
	assert.Equal(t, "d", string(vals[0]))
	assert.Equal(t, "e", string(vals[1]))

	vals, err = store.ListRange(ctx, "k", 10, 20)
	require.NoError(t, err)
	assert.Empty(t, vals)

	vals, err = store.ListRange(ctx, "k", 3, 1)
	require.NoError(t, err)
	assert.Empty(t, vals)
}

func TestListTrim_KeepsLastTwo(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for i := 0; i < 5; i++ {
		_, err := store.ListRPush(ctx, "k", []byte{byte('a' + i)})
		require.NoError(t, err)
	}
	require.NoError(t, store.ListTrim(ctx, "k", -2, -1))
	vals, err := store.ListRange(ctx, "k", 0, -1)
	require.NoError(t, err)
	require.Len(t, vals, 2)
	assert.Equal(t, "d", string(vals[0]))
	assert.Equal(t, "e", string(vals[1]))
}

func TestScanMatch_DedupedSortedAcrossNamespaces(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.ListRPush(ctx, "comsrv:2:A:TODO", []byte("x"))
	require.NoError(t, err)
	_, err = store.ListRPush(ctx, "comsrv:1:A:TODO", []byte("x"))
	require.NoError(t, err)
	require.NoError(t, store.HashSet(ctx, "comsrv:1:A:TODO", "noise", []byte("y")))

	db := New(store)
	keys, err := db.ScanMatch(ctx, "*:TODO")
	require.NoError(t, err)
	assert.Equal(t, []string{"comsrv:1:A:TODO", "comsrv:2:A:TODO"}, keys)
}

func TestFloatRoundTrip_SpecialValues(t *testing.T) {
	ctx := context.Background()
	db := New(NewMemoryStore())

	cases := []float64{math.NaN(), math.Inf(1), math.Inf(-1), math.Copysign(0, -1), 100.0, 0.1}
	for i, v := range cases {
		require.NoError(t, db.WritePointInit(ctx, "comsrv:1:T", uint32(i), v))
		raw, ok, err := db.HashGet(ctx, "comsrv:1:T", strconv.Itoa(i))
		require.NoError(t, err)
		require.True(t, ok)
		got, err := ParseValue(string(raw))
		require.NoError(t, err)
		if math.IsNaN(v) {
			assert.True(t, math.IsNaN(got))
			continue
		}
		assert.Equal(t, math.Float64bits(v), math.Float64bits(got), "round-trip mismatch for %v", v)
	}
}

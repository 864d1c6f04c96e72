// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConn struct {
	id    uint32
	valid *atomic.Bool
}

func newMockConn(id uint32) *mockConn {
	v := &atomic.Bool{}
	v.Store(true)
	return &mockConn{id: id, valid: v}
}

func (m *mockConn) IsValid() bool { return m.valid.Load() }
func (m *mockConn) Close(ctx context.Context) error {
	m.valid.Store(false)
	return nil
}
func (m *mockConn) Info() string { return "mock" }

func countingFactory() (Factory[*mockConn], *atomic.Uint32) {
	var counter atomic.Uint32
	return func(ctx context.Context, key Key) (*mockConn, error) {
		id := counter.Add(1) - 1
		return newMockConn(id), nil
	}, &counter
}

func fastCleanupConfig() Config {
	cfg := DefaultConfig()
	cfg.CleanupInterval = time.Hour // tests drive cleanup explicitly via runCleanup
	return cfg
}

func TestPool_AcquireCreatesThenReuses(t *testing.T) {
	factory, _ := countingFactory()
	p, err := New(fastCleanupConfig(), factory, nil)
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	key := NewKey("test", "localhost", 8080)

	g1, err := p.Acquire(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), g1.Conn().id)
	g1.Release(context.Background())

	g2, err := p.Acquire(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), g2.Conn().id, "should reuse the released connection")
	g2.Release(context.Background())
}

func TestPool_PerKeyCapacityLimit(t *testing.T) {
	factory, _ := countingFactory()
	cfg := fastCleanupConfig()
	cfg.MaxConnectionsPerKey = 2
	p, err := New(cfg, factory, nil)
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	key := NewKey("test", "127.0.0.1", 8080)

	g1, err := p.Acquire(context.Background(), key)
	require.NoError(t, err)
	g2, err := p.Acquire(context.Background(), key)
	require.NoError(t, err)

	_, err = p.Acquire(context.Background(), key)
	assert.Error(t, err, "third acquire should fail due to per-key limit")

	g1.Release(context.Background())
	g2.Release(context.Background())
}

func TestPool_InvalidConnectionIsNotReused(t *testing.T) {
	factory, _ := countingFactory()
	p, err := New(fastCleanupConfig(), factory, nil)
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	key := NewKey("test", "127.0.0.1", 8080)

	g1, err := p.Acquire(context.Background(), key)
	require.NoError(t, err)
	g1.Conn().valid.Store(false)
	g1.Release(context.Background())

	g2, err := p.Acquire(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), g2.Conn().id, "invalid connection must not be reused")
	g2.Release(context.Background())
}

func TestPool_MetricsHookSeesCreateAndReuse(t *testing.T) {
	factory, _ := countingFactory()
	var mu sync.Mutex
	var events []Event
	hook := func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}

	p, err := New(fastCleanupConfig(), factory, hook)
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	key := NewKey("test", "127.0.0.1", 8080)
	g1, err := p.Acquire(context.Background(), key)
	require.NoError(t, err)
	g1.Release(context.Background())

	g2, err := p.Acquire(context.Background(), key)
	require.NoError(t, err)
	g2.Release(context.Background())

	mu.Lock()
	defer mu.Unlock()
	var hasCreate, hasReuse bool
	for _, e := range events {
		if e.Kind == EventConnectionCreated {
			hasCreate = true
		}
		if e.Kind == EventConnectionReused {
			hasReuse = true
		}
	}
	assert.True(t, hasCreate)
	assert.True(t, hasReuse)
}

func TestPool_TotalConnectionsSemaphoreBoundsBorrows(t *testing.T) {
	factory, _ := countingFactory()
	cfg := fastCleanupConfig()
	cfg.MaxTotalConnections = 1
	p, err := New(cfg, factory, nil)
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	keyA := NewKey("test", "a", 1)
	keyB := NewKey("test", "b", 1)

	g1, err := p.Acquire(context.Background(), keyA)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx, keyB)
	assert.Error(t, err, "second borrow should block until the first is released")

	g1.Release(context.Background())

	g2, err := p.Acquire(context.Background(), keyB)
	require.NoError(t, err)
	g2.Release(context.Background())
}

func TestPool_ReleasedIdleConnectionDoesNotHoldPermit(t *testing.T) {
	factory, _ := countingFactory()
	cfg := fastCleanupConfig()
	cfg.MaxTotalConnections = 1
	p, err := New(cfg, factory, nil)
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	key := NewKey("test", "127.0.0.1", 8080)
	g1, err := p.Acquire(context.Background(), key)
	require.NoError(t, err)
	g1.Release(context.Background())

	stats := p.Stats()
	assert.Equal(t, 1, stats.AvailablePermits, "idle pooled connection must not occupy a permit")
	assert.Equal(t, 1, stats.IdleConnections)
}

func TestPool_TakeRemovesFromBookkeepingPermanently(t *testing.T) {
	factory, _ := countingFactory()
	p, err := New(fastCleanupConfig(), factory, nil)
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	key := NewKey("test", "127.0.0.1", 8080)
	g1, err := p.Acquire(context.Background(), key)
	require.NoError(t, err)
	conn := g1.Take()
	assert.Equal(t, uint32(0), conn.id)

	stats := p.Stats()
	assert.Equal(t, 0, stats.IdleConnections)
}

func TestPool_FactoryErrorReleasesPermitAndLive(t *testing.T) {
	wantErr := errors.New("dial refused")
	var shouldFail atomic.Bool
	shouldFail.Store(true)
	factory := func(ctx context.Context, key Key) (*mockConn, error) {
		if shouldFail.Load() {
			return nil, wantErr
		}
		return newMockConn(0), nil
	}
	cfg := fastCleanupConfig()
	cfg.MaxTotalConnections = 1
	p, err := New(cfg, factory, nil)
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	key := NewKey("test", "127.0.0.1", 8080)
	_, err = p.Acquire(context.Background(), key)
	require.Error(t, err)
	assert.Equal(t, 1, p.Stats().AvailablePermits, "failed dial must release its permit")

	// The per-key slot from the failed attempt must have been released
	// too, so a subsequent acquire can succeed rather than hitting the
	// per-key limit.
	shouldFail.Store(false)
	g, err := p.Acquire(context.Background(), key)
	require.NoError(t, err)
	g.Release(context.Background())
}

func TestPool_CleanupRemovesExpiredAndIdleConnections(t *testing.T) {
	factory, _ := countingFactory()
	cfg := fastCleanupConfig()
	cfg.MaxIdleTime = time.Nanosecond
	p, err := New(cfg, factory, nil)
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	key := NewKey("test", "127.0.0.1", 8080)
	g1, err := p.Acquire(context.Background(), key)
	require.NoError(t, err)
	g1.Release(context.Background())

	time.Sleep(time.Millisecond)
	p.runCleanup()

	stats := p.Stats()
	assert.Equal(t, 0, stats.IdleConnections, "idle-expired connection should be reaped")

	// Per-key counter freed up: a fresh acquire should create id 1, not reuse.
	g2, err := p.Acquire(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), g2.Conn().id)
	g2.Release(context.Background())
}

func TestPool_ShutdownClosesIdleConnectionsAndStopsAcceptingReturns(t *testing.T) {
	factory, _ := countingFactory()
	var mu sync.Mutex
	var events []Event
	hook := func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}
	p, err := New(fastCleanupConfig(), factory, hook)
	require.NoError(t, err)

	key := NewKey("test", "127.0.0.1", 8080)
	g1, err := p.Acquire(context.Background(), key)
	require.NoError(t, err)
	g2, err := p.Acquire(context.Background(), key)
	require.NoError(t, err)

	g1.Release(context.Background())

	closed, err := p.Shutdown(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, closed, "the one idle connection should have been closed")

	stats := p.Stats()
	assert.Equal(t, 0, stats.IdleConnections)

	// Releasing a guard borrowed before shutdown must close it, not
	// silently requeue it.
	assert.True(t, g2.Conn().IsValid())
	g2.Release(context.Background())
	assert.False(t, g2.Conn().IsValid())
}

func TestKey_StringIsOrderIndependentOverParams(t *testing.T) {
	k1 := NewKey("modbus", "127.0.0.1", 502).WithParam("slave_id", "1").WithParam("timeout", "5000")
	k2 := NewKey("modbus", "127.0.0.1", 502).WithParam("timeout", "5000").WithParam("slave_id", "1")
	assert.Equal(t, k1.String(), k2.String())
}

func TestKey_DifferentProtocolsDiffer(t *testing.T) {
	k1 := NewKey("modbus", "127.0.0.1", 502)
	k2 := NewKey("can", "127.0.0.1", 502)
	assert.NotEqual(t, k1.String(), k2.String())
}

// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package poll

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type mockReader struct {
	mu          sync.Mutex
	connected   atomic.Bool
	batchCalls  []string
	failBatch   map[string]bool
	failPoint   map[string]bool
	cycleSignal chan struct{}
}

func newMockReader() *mockReader {
	r := &mockReader{
		failBatch:   map[string]bool{},
		failPoint:   map[string]bool{},
		cycleSignal: make(chan struct{}, 64),
	}
	r.connected.Store(true)
	return r
}

func (r *mockReader) ReadPoint(ctx context.Context, p PollingPoint) (PointData, error) {
	r.mu.Lock()
	fail := r.failPoint[p.ID]
	r.mu.Unlock()
	if fail {
		return PointData{}, errors.New("simulated read failure")
	}
	return PointData{ID: p.ID, Name: p.Name, Value: "1", Quality: 100, Timestamp: time.Now(), Unit: p.Unit}, nil
}

func (r *mockReader) ReadPointsBatch(ctx context.Context, points []PollingPoint) ([]PointData, error) {
	r.mu.Lock()
	group := points[0].Group
	r.batchCalls = append(r.batchCalls, group)
	fail := r.failBatch[group]
	r.mu.Unlock()
	if fail {
		return nil, errors.New("simulated batch failure")
	}
	out := make([]PointData, len(points))
	for i, p := range points {
		out[i] = PointData{ID: p.ID, Name: p.Name, Value: "1", Quality: 100, Timestamp: time.Now()}
	}
	return out, nil
}

func (r *mockReader) IsConnected(ctx context.Context) bool { return r.connected.Load() }
func (r *mockReader) ProtocolName() string                 { return "mock" }

func fastConfig() Config {
	return Config{
		Enabled:            true,
		Interval:           5 * time.Millisecond,
		MaxPointsPerCycle:  100,
		Timeout:            time.Second,
		EnableBatchReading: true,
	}
}

func TestEngine_BatchesPointsByGroup(t *testing.T) {
	reader := newMockReader()
	var received [][]PointData
	var mu sync.Mutex
	done := make(chan struct{}, 1)

	e := New(fastConfig(), reader, func(data []PointData) {
		mu.Lock()
		received = append(received, data)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})
	e.SetPoints([]PollingPoint{
		{ID: "a", Group: "analog"},
		{ID: "b", Group: "analog"},
		{ID: "c", Group: "digital"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a polling cycle")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, received)
	require.Len(t, received[0], 3)

	reader.mu.Lock()
	defer reader.mu.Unlock()
	require.Contains(t, reader.batchCalls, "analog")
	require.Contains(t, reader.batchCalls, "digital")
}

func TestEngine_FailedBatchFallsBackToIndividualReadsWithPlaceholder(t *testing.T) {
	reader := newMockReader()
	reader.failBatch["analog"] = true
	reader.failPoint["a"] = true

	done := make(chan []PointData, 1)
	e := New(fastConfig(), reader, func(data []PointData) {
		select {
		case done <- data:
		default:
		}
	})
	e.SetPoints([]PollingPoint{
		{ID: "a", Group: "analog", Unit: "V"},
		{ID: "b", Group: "analog", Unit: "V"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	var data []PointData
	select {
	case data = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a polling cycle")
	}

	require.Len(t, data, 2)
	byID := map[string]PointData{}
	for _, d := range data {
		byID[d.ID] = d
	}
	require.Equal(t, 0, byID["a"].Quality)
	require.Equal(t, "null", byID["a"].Value)
	require.Equal(t, 100, byID["b"].Quality)
}

func TestEngine_SkipsCycleWhenDisconnected(t *testing.T) {
	reader := newMockReader()
	reader.connected.Store(false)

	called := atomic.Bool{}
	e := New(fastConfig(), reader, func(data []PointData) { called.Store(true) })
	e.SetPoints([]PollingPoint{{ID: "a"}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	e.Stop()

	require.False(t, called.Load())
	require.Equal(t, uint64(0), e.Stats().TotalCycles)
}

func TestEngine_DisabledConfigNeverCycles(t *testing.T) {
	reader := newMockReader()
	cfg := fastConfig()
	cfg.Enabled = false
	e := New(cfg, reader, nil)
	e.SetPoints([]PollingPoint{{ID: "a"}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	e.Stop()

	require.Equal(t, uint64(0), e.Stats().TotalCycles)
}

func TestEngine_StatsAccumulateAcrossCycles(t *testing.T) {
	reader := newMockReader()
	var cycles atomic.Int64
	e := New(fastConfig(), reader, func(data []PointData) { cycles.Add(1) })
	e.SetPoints([]PollingPoint{{ID: "a", Group: "g"}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	require.Eventually(t, func() bool { return cycles.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	e.Stop()

	stats := e.Stats()
	require.GreaterOrEqual(t, stats.TotalCycles, uint64(3))
	require.Equal(t, stats.TotalCycles, stats.SuccessfulCycles)
	require.Equal(t, 100.0, stats.CommunicationQuality)
}

func TestEngine_StopIsIdempotentAndHalts(t *testing.T) {
	reader := newMockReader()
	e := New(fastConfig(), reader, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	e.Stop()
	e.Stop() // second call must not block or panic

	before := e.Stats().TotalCycles
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, before, e.Stats().TotalCycles)
}

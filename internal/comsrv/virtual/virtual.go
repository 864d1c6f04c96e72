// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package virtual implements the `protocol=virtual` channel: a trivial
// in-memory PointReader with no transport at all, useful for running the
// rule engine and integration tests without real hardware (SPEC_FULL.md
// §3, grounded in config_manager.rs's uniform handling of protocol enums).
package virtual

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/EvanL1/VoltageEMS-sub001/internal/comsrv/poll"
	"github.com/EvanL1/VoltageEMS-sub001/pkg/schema"
)

// Reader holds an in-memory value per point id, set directly through Set
// by whoever holds the Reader (tests, for instance).
type Reader struct {
	mu        sync.RWMutex
	connected bool
	values    map[string]string
}

// NewReader builds a Reader that is connected by default — a virtual
// channel has no transport to fail, so it stays up unless explicitly
// disconnected by a test.
func NewReader() *Reader {
	return &Reader{connected: true, values: make(map[string]string)}
}

// Set stores the current value for a point id, read back on the next poll.
func (r *Reader) Set(pointID, value string) {
	r.mu.Lock()
	r.values[pointID] = value
	r.mu.Unlock()
}

// Get returns the currently stored value for a point id, if any.
func (r *Reader) Get(pointID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[pointID]
	return v, ok
}

// SetConnected lets tests simulate the virtual channel being disabled.
func (r *Reader) SetConnected(connected bool) {
	r.mu.Lock()
	r.connected = connected
	r.mu.Unlock()
}

func (r *Reader) IsConnected(ctx context.Context) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

func (r *Reader) ProtocolName() string { return string(schema.ProtocolVirtual) }

func (r *Reader) ReadPoint(ctx context.Context, p poll.PollingPoint) (poll.PointData, error) {
	r.mu.RLock()
	v, ok := r.values[p.ID]
	r.mu.RUnlock()
	if !ok {
		return poll.PointData{}, fmt.Errorf("virtual: no value set for point %s", p.ID)
	}
	return poll.PointData{
		ID: p.ID, Name: p.Name, Value: v, Quality: 100, Timestamp: time.Now(), Unit: p.Unit,
	}, nil
}

func (r *Reader) ReadPointsBatch(ctx context.Context, points []poll.PollingPoint) ([]poll.PointData, error) {
	out := make([]poll.PointData, 0, len(points))
	for _, p := range points {
		data, err := r.ReadPoint(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

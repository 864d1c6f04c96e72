// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package didio implements the `protocol=di_do` channel: discrete digital
// input/output lines held in memory, keyed by point id (SPEC_FULL.md §3,
// grounded in the same uniform protocol-enum handling as
// internal/comsrv/virtual — no GPIO/sysfs library appears anywhere in the
// pack, so line state is a plain map rather than real hardware access).
package didio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/EvanL1/VoltageEMS-sub001/internal/comsrv/poll"
	"github.com/EvanL1/VoltageEMS-sub001/pkg/schema"
)

// Reader holds the current boolean state of every digital line this
// channel exposes. A line has no state until Set establishes one;
// ReadPoint on such a line returns an error.
type Reader struct {
	mu        sync.RWMutex
	connected bool
	lines     map[string]bool
}

// NewReader builds a Reader that starts connected — a di_do channel talks
// to a local IO board with no network handshake to fail.
func NewReader() *Reader {
	return &Reader{connected: true, lines: make(map[string]bool)}
}

// Set drives a digital output line (or records an input line's current
// reading, for channels where an external poller feeds this Reader).
func (r *Reader) Set(pointID string, on bool) {
	r.mu.Lock()
	r.lines[pointID] = on
	r.mu.Unlock()
}

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

func (r *Reader) ProtocolName() string { return string(schema.ProtocolDIDO) }

func (r *Reader) ReadPoint(ctx context.Context, p poll.PollingPoint) (poll.PointData, error) {
	r.mu.RLock()
	v, ok := r.lines[p.ID]
	r.mu.RUnlock()
	if !ok {
		return poll.PointData{}, fmt.Errorf("didio: no state for line %s", p.ID)
	}
	value := "0"
	if v {
		value = "1"
	}
	return poll.PointData{ID: p.ID, Name: p.Name, Value: value, Quality: 100, Timestamp: time.Now(), Unit: p.Unit}, nil
}

func (r *Reader) ReadPointsBatch(ctx context.Context, points []poll.PollingPoint) ([]poll.PointData, error) {
	out := make([]poll.PointData, 0, len(points))
	for _, p := range points {
		data, err := r.ReadPoint(ctx, p)
		if err != nil {
			out = append(out, poll.PointData{ID: p.ID, Name: p.Name, Value: "null", Quality: 0, Timestamp: time.Now()})
			continue
		}
		out = append(out, data)
	}
	return out, nil
}

// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package channelmgr implements the Channel Manager & Control Plane (C4,
// spec.md §4.4): a registry of live protocol channels keyed by channel id,
// CRUD with hot reload against the SQLite source of truth, and routing
// reload. SQLite is the source of truth; the in-memory runtime map is
// best-effort eventual consistency (spec.md §4.4.2).
package channelmgr

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/EvanL1/VoltageEMS-sub001/internal/comsrv/poll"
	"github.com/EvanL1/VoltageEMS-sub001/internal/repository"
	"github.com/EvanL1/VoltageEMS-sub001/internal/routing"
	"github.com/EvanL1/VoltageEMS-sub001/internal/rtdb"
	"github.com/EvanL1/VoltageEMS-sub001/pkg/log"
	"github.com/EvanL1/VoltageEMS-sub001/pkg/schema"
)

// pointKey is the PollingPoint.ID convention this package uses internally:
// "<class>:<point_id>", so one poll.Engine can multiplex all four point
// tables for a channel without their point ids colliding, and writeBack
// can recover which RTDB scope key a cycle's read belongs to.
func pointKey(class schema.PointClass, pointID uint32) string {
	return string(class) + ":" + strconv.FormatUint(uint64(pointID), 10)
}

func splitPointKey(key string) (schema.PointClass, uint32, bool) {
	class, idStr, ok := strings.Cut(key, ":")
	if !ok {
		return "", 0, false
	}
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		return "", 0, false
	}
	return schema.PointClass(class), uint32(id), true
}

// runtimeChannel is the in-memory counterpart of a channels row: the live
// poll.Engine plus enough bookkeeping to tear it down cleanly.
type runtimeChannel struct {
	channel *schema.Channel
	engine  *poll.Engine
	cancel  context.CancelFunc
	status  atomic.Value // string, one of the runtime_status values
}

func (rc *runtimeChannel) setStatus(s string) { rc.status.Store(s) }
func (rc *runtimeChannel) getStatus() string {
	if v, ok := rc.status.Load().(string); ok {
		return v
	}
	return ""
}

// Manager owns the channel_id -> runtime map and the shared routing
// cache (spec.md §4.4.1).
type Manager struct {
	channels    *repository.ChannelRepository
	points      *repository.PointRepository
	routingRepo *repository.RoutingRepository
	cache       *routing.Cache
	rtdb        *rtdb.RTDB

	mu      sync.RWMutex
	runtime map[uint16]*runtimeChannel
}

// New builds a Manager. cache and rtdbHandle may be nil in tests that only
// exercise the SQLite-facing CRUD paths.
func New(channels *repository.ChannelRepository, points *repository.PointRepository, routingRepo *repository.RoutingRepository, cache *routing.Cache, rtdbHandle *rtdb.RTDB) *Manager {
	return &Manager{
		channels:    channels,
		points:      points,
		routingRepo: routingRepo,
		cache:       cache,
		rtdb:        rtdbHandle,
		runtime:     make(map[uint16]*runtimeChannel),
	}
}

// GetChannel returns the live channel row for id, or (nil, false) if it has
// no runtime representation (spec.md §4.4.1's get_channel).
func (m *Manager) GetChannel(id uint16) (*schema.Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rc, ok := m.runtime[id]
	if !ok {
		return nil, false
	}
	return rc.channel, true
}

// GetChannelIDs returns every channel id with a runtime entry, in no
// particular order (spec.md §4.4.1's get_channel_ids).
func (m *Manager) GetChannelIDs() []uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uint16, 0, len(m.runtime))
	for id := range m.runtime {
		out = append(out, id)
	}
	return out
}

// Status returns the runtime_status of a channel, or "" if it has no
// runtime entry (e.g. it exists in SQLite but is disabled).
func (m *Manager) Status(id uint16) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rc, ok := m.runtime[id]
	if !ok {
		return ""
	}
	return rc.getStatus()
}

// removeRuntime stops and discards a channel's runtime entry, if any. A
// missing entry is not an error — callers use this as a best-effort
// teardown (spec.md §4.4.2's delete/disable paths).
func (m *Manager) removeRuntime(id uint16) {
	m.mu.Lock()
	rc, ok := m.runtime[id]
	if ok {
		delete(m.runtime, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	rc.engine.Stop()
	rc.cancel()
	log.Infof("channelmgr: removed runtime channel %d", id)
}

// createRuntime instantiates the protocol reader and poll engine for ch
// and registers it, without blocking on the initial connection attempt
// (spec.md §4.4.1): connectivity is checked on a background goroutine so
// the caller (create/update/enable) returns promptly.
func (m *Manager) createRuntime(parentCtx context.Context, ch *schema.Channel) error {
	built, err := assembleRuntime(parentCtx, m.points, ch)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parentCtx)
	var callback func([]poll.PointData)
	if m.rtdb != nil {
		callback = m.writeBack(ch.ChannelID)
	}
	engine := poll.New(poll.DefaultConfig(), built.reader, callback)
	engine.SetPoints(built.points)

	rc := &runtimeChannel{channel: ch, engine: engine, cancel: cancel}
	rc.setStatus("connecting")

	m.mu.Lock()
	m.runtime[ch.ChannelID] = rc
	m.mu.Unlock()

	engine.Start(ctx)

	go func() {
		if built.reader.IsConnected(ctx) {
			rc.setStatus("running")
		} else {
			rc.setStatus("not_started")
		}
	}()

	return nil
}

// writeBack returns a poll.Engine callback that persists every cycle's
// reads into the RTDB, resolving each point's class (T/S/C/A) from its
// pointKey-encoded id so a single engine can multiplex all four point
// tables for one channel (spec.md §6's "comsrv:<chan>:<T|S|C|A>" scope).
func (m *Manager) writeBack(channelID uint16) func([]poll.PointData) {
	return func(data []poll.PointData) {
		ctx := context.Background()
		for _, d := range data {
			if d.Quality == 0 {
				continue
			}
			class, pointID, ok := splitPointKey(d.ID)
			if !ok {
				continue
			}
			v, err := rtdb.ParseValue(d.Value)
			if err != nil {
				continue
			}
			scopeKey := fmt.Sprintf("comsrv:%d:%s", channelID, class)
			if err := m.rtdb.WritePointRuntime(ctx, scopeKey, pointID, v); err != nil {
				log.Warnf("channelmgr: write_point_runtime failed for channel %d point %s: %s", channelID, d.ID, err)
			}
		}
	}
}

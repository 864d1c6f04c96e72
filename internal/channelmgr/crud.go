// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package channelmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/EvanL1/VoltageEMS-sub001/internal/metrics"
	"github.com/EvanL1/VoltageEMS-sub001/internal/repository"
	"github.com/EvanL1/VoltageEMS-sub001/internal/routing"
	"github.com/EvanL1/VoltageEMS-sub001/pkg/log"
	"github.com/EvanL1/VoltageEMS-sub001/pkg/schema"
)

// CreateRequest mirrors ChannelCreateRequest (spec.md §6).
type CreateRequest struct {
	ChannelID   *uint16
	Name        string
	Description string
	Protocol    schema.Protocol
	Enabled     bool
	Parameters  map[string]interface{}
}

// CrudResult mirrors ChannelCrudResult (spec.md §6).
type CrudResult struct {
	ID             uint16
	Name           string
	Description    string
	Protocol       schema.Protocol
	Enabled        bool
	RuntimeStatus  string
	Message        string
}

// ErrConflict signals a name/id collision (409 at the HTTP layer).
var ErrConflict = errors.New("channelmgr: conflict")

// ErrNotFound re-exports repository.ErrNotFound for callers that only
// import this package.
var ErrNotFound = repository.ErrNotFound

// marshalParams converts the decoded request body's parameter map into the
// map[string]json.RawMessage shape schema.Channel stores and ClassifyChange
// compares field-by-field.
func marshalParams(in map[string]interface{}) (map[string]json.RawMessage, error) {
	if in == nil {
		return nil, nil
	}
	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("channelmgr: marshaling parameter %q: %w", k, err)
		}
		out[k] = raw
	}
	return out, nil
}

// Create implements spec.md §4.4.2's Create algorithm.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (CrudResult, error) {
	taken, err := m.channels.NameTaken(ctx, req.Name, 0)
	if err != nil {
		return CrudResult{}, err
	}
	if taken {
		return CrudResult{}, fmt.Errorf("%w: channel name %q already exists", ErrConflict, req.Name)
	}

	var id uint16
	if req.ChannelID != nil {
		id = *req.ChannelID
		if _, ok := m.GetChannel(id); ok {
			return CrudResult{}, fmt.Errorf("%w: channel id %d already running", ErrConflict, id)
		}
		exists, err := m.channels.Exists(ctx, id)
		if err != nil {
			return CrudResult{}, err
		}
		if exists {
			return CrudResult{}, fmt.Errorf("%w: channel id %d already exists", ErrConflict, id)
		}
	} else {
		id, err = m.channels.NextChannelID(ctx)
		if err != nil {
			return CrudResult{}, err
		}
	}

	params, err := marshalParams(req.Parameters)
	if err != nil {
		return CrudResult{}, err
	}
	ch := &schema.Channel{
		ChannelID: id, Name: req.Name, Protocol: req.Protocol, Enabled: req.Enabled,
		Description: req.Description, Parameters: params,
	}

	status := "stopped"
	if req.Enabled {
		if err := m.createRuntime(ctx, ch); err != nil {
			log.Warnf("channelmgr: background connect failed for new channel %d: %s", id, err)
			status = "not_started"
		} else {
			status = "connecting"
		}
	}

	if err := m.channels.Insert(ctx, ch); err != nil {
		m.removeRuntime(id)
		return CrudResult{}, fmt.Errorf("channelmgr: inserting channel %d: %w", id, err)
	}

	return CrudResult{ID: id, Name: ch.Name, Description: ch.Description, Protocol: ch.Protocol, Enabled: ch.Enabled, RuntimeStatus: status}, nil
}

// UpdateRequest mirrors ChannelConfigUpdateRequest (spec.md §6); nil fields
// mean "leave unchanged".
type UpdateRequest struct {
	Name        *string
	Description *string
	Protocol    *schema.Protocol
	Parameters  map[string]interface{}
}

// Update implements spec.md §4.4.2's Update algorithm: classify the change,
// commit unconditionally, and hot-reload only if the classification and
// running state call for it.
func (m *Manager) Update(ctx context.Context, id uint16, req UpdateRequest) (CrudResult, error) {
	old, err := m.channels.Get(ctx, id)
	if err != nil {
		return CrudResult{}, err
	}

	updated := *old
	if req.Name != nil {
		updated.Name = *req.Name
	}
	if req.Description != nil {
		updated.Description = *req.Description
	}
	if req.Protocol != nil {
		updated.Protocol = *req.Protocol
	}
	if req.Parameters != nil {
		params, err := marshalParams(req.Parameters)
		if err != nil {
			return CrudResult{}, err
		}
		updated.Parameters = params
	}

	if updated.Name != old.Name {
		taken, err := m.channels.NameTaken(ctx, updated.Name, id)
		if err != nil {
			return CrudResult{}, err
		}
		if taken {
			return CrudResult{}, fmt.Errorf("%w: channel name %q already exists", ErrConflict, updated.Name)
		}
	}

	class := repository.ClassifyChange(old, &updated)

	tx, err := m.channels.BeginTxx(ctx)
	if err != nil {
		return CrudResult{}, err
	}
	if err := m.channels.UpdateTx(ctx, tx, &updated); err != nil {
		_ = tx.Rollback()
		return CrudResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return CrudResult{}, err
	}

	_, wasRunning := m.GetChannel(id)
	status := "updated"
	switch {
	case wasRunning && class == repository.ChangeMetadataOnly:
		m.mu.Lock()
		if rc, ok := m.runtime[id]; ok {
			rc.channel = &updated
		}
		m.mu.Unlock()
		status = "running"
	case wasRunning:
		go m.hotReload(context.Background(), &updated)
		status = "updated"
	default:
		status = "stopped"
	}

	return CrudResult{ID: id, Name: updated.Name, Description: updated.Description, Protocol: updated.Protocol, Enabled: updated.Enabled, RuntimeStatus: status}, nil
}

// hotReload tears down and rebuilds a channel's runtime in place (spec.md
// §4.4.2's Critical/NonCritical update path); failures are logged, never
// propagated, since this always runs on a background goroutine.
func (m *Manager) hotReload(ctx context.Context, ch *schema.Channel) {
	m.removeRuntime(ch.ChannelID)
	if !ch.Enabled {
		return
	}
	if err := m.createRuntime(ctx, ch); err != nil {
		log.Warnf("channelmgr: hot reload failed for channel %d: %s", ch.ChannelID, err)
	}
}

// SetEnabled implements spec.md §4.4.2's Enable/disable algorithm.
func (m *Manager) SetEnabled(ctx context.Context, id uint16, enabled bool) (CrudResult, error) {
	ch, err := m.channels.Get(ctx, id)
	if err != nil {
		return CrudResult{}, err
	}
	if ch.Enabled == enabled {
		return CrudResult{ID: id, Name: ch.Name, Description: ch.Description, Protocol: ch.Protocol, Enabled: ch.Enabled, RuntimeStatus: "unchanged", Message: "no-op"}, nil
	}

	ch.Enabled = enabled
	status := "disabled"
	if enabled {
		if err := m.createRuntime(ctx, ch); err != nil {
			log.Warnf("channelmgr: background connect failed enabling channel %d: %s", id, err)
		}
		if err := m.channels.SetEnabled(ctx, id, true); err != nil {
			m.removeRuntime(id)
			return CrudResult{}, err
		}
		status = "enabled"
	} else {
		m.removeRuntime(id)
		if err := m.channels.SetEnabled(ctx, id, false); err != nil {
			return CrudResult{}, fmt.Errorf("channelmgr: disabling channel %d: %w (runtime cannot be restored automatically)", id, err)
		}
	}

	return CrudResult{ID: id, Name: ch.Name, Description: ch.Description, Protocol: ch.Protocol, Enabled: enabled, RuntimeStatus: status}, nil
}

// Delete implements spec.md §4.4.2's Delete algorithm.
func (m *Manager) Delete(ctx context.Context, id uint16) error {
	tx, err := m.channels.BeginTxx(ctx)
	if err != nil {
		return err
	}
	if err := m.channels.DeleteTx(ctx, tx, id); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	m.removeRuntime(id)
	return nil
}

// ReloadResult mirrors ReloadConfigResult (spec.md §6).
type ReloadResult struct {
	Total   int
	Added   int
	Updated int
	Removed int
	Errors  []string
}

// ReloadAll implements spec.md §4.4.2's "Reload all": diff the DB channel
// set against the runtime set and reconcile (remove, then add, then
// update-in-place), accumulating per-item errors without aborting.
func (m *Manager) ReloadAll(ctx context.Context) (ReloadResult, error) {
	rows, err := m.channels.List(ctx)
	if err != nil {
		return ReloadResult{}, err
	}
	dbByID := make(map[uint16]*schema.Channel, len(rows))
	for _, c := range rows {
		dbByID[c.ChannelID] = c
	}

	runtimeIDs := m.GetChannelIDs()
	runtimeSet := make(map[uint16]bool, len(runtimeIDs))
	for _, id := range runtimeIDs {
		runtimeSet[id] = true
	}

	var result ReloadResult
	result.Total = len(rows)

	for id := range runtimeSet {
		if _, ok := dbByID[id]; !ok {
			m.removeRuntime(id)
			result.Removed++
		}
	}

	for id, ch := range dbByID {
		if runtimeSet[id] {
			continue
		}
		if !ch.Enabled {
			continue
		}
		if err := m.createRuntime(ctx, ch); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("channel %d: %s", id, err))
			continue
		}
		result.Added++
	}

	for id, ch := range dbByID {
		if !runtimeSet[id] {
			continue
		}
		m.removeRuntime(id)
		if !ch.Enabled {
			continue
		}
		if err := m.createRuntime(ctx, ch); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("channel %d: %s", id, err))
			continue
		}
		result.Updated++
	}

	metrics.ChannelReloads.Inc()
	metrics.ActiveChannels.Set(float64(len(m.GetChannelIDs())))

	return result, nil
}

// RoutingReloadResult mirrors RoutingReloadResult (spec.md §6).
type RoutingReloadResult struct {
	C2MCount   int
	M2CCount   int
	C2CCount   int
	Errors     []string
	DurationMs int64
}

// ReloadRouting implements spec.md §4.4.2's "Reload routing".
func (m *Manager) ReloadRouting(ctx context.Context) (RoutingReloadResult, error) {
	loader := repositoryLoader{repo: m.routingRepo}
	result, err := routing.Reload(ctx, m.cache, loader)
	if err != nil {
		return RoutingReloadResult{}, err
	}
	metrics.RoutingReloads.Inc()
	return RoutingReloadResult{
		C2MCount: result.C2MCount, M2CCount: result.M2CCount, C2CCount: result.C2CCount,
		DurationMs: result.Elapsed.Milliseconds(),
	}, nil
}

// repositoryLoader adapts repository.RoutingRepository to routing.Loader:
// routing.Route is string-typed throughout (it is keyed into the cache as
// plain strings), so the numeric repository rows are stringified here.
type repositoryLoader struct {
	repo *repository.RoutingRepository
}

func (l repositoryLoader) LoadMeasurementRouting(ctx context.Context) ([]routing.Route, error) {
	rows, err := l.repo.ListMeasurementRouting(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]routing.Route, 0, len(rows))
	for _, r := range rows {
		if !r.Enabled {
			continue
		}
		out = append(out, routing.Route{
			ChannelID:        fmt.Sprintf("%d", r.ChannelID),
			ChannelPointType: r.ChannelType,
			ChannelPointID:   fmt.Sprintf("%d", r.ChannelPointID),
			InstanceID:       fmt.Sprintf("%d", r.InstanceID),
			PointID:          fmt.Sprintf("%d", r.MeasurementID),
		})
	}
	return out, nil
}

func (l repositoryLoader) LoadActionRouting(ctx context.Context) ([]routing.Route, error) {
	rows, err := l.repo.ListActionRouting(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]routing.Route, 0, len(rows))
	for _, r := range rows {
		if !r.Enabled {
			continue
		}
		out = append(out, routing.Route{
			ChannelID:        fmt.Sprintf("%d", r.ChannelID),
			ChannelPointType: r.ChannelType,
			ChannelPointID:   fmt.Sprintf("%d", r.ChannelPointID),
			InstanceID:       fmt.Sprintf("%d", r.InstanceID),
			PointID:          fmt.Sprintf("%d", r.ActionID),
		})
	}
	return out, nil
}

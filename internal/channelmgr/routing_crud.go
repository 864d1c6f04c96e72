// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package channelmgr

import (
	"context"
	"fmt"

	"github.com/EvanL1/VoltageEMS-sub001/pkg/log"
	"github.com/EvanL1/VoltageEMS-sub001/pkg/schema"
)

// RoutingRequest mirrors RoutingRequest (spec.md §6): one routing edge
// between a channel point and a model-instance point. FourRemote selects
// which of the four channel point classes (T/S/C/A) this edge targets,
// which in turn selects whether PointID is a measurement_id (T/S) or an
// action_id (C/A).
type RoutingRequest struct {
	ChannelID      uint16
	FourRemote     string // T|S|C|A
	ChannelPointID uint32
	PointID        uint32
}

func isMeasurementClass(fourRemote string) bool { return fourRemote == "T" || fourRemote == "S" }
func isActionClass(fourRemote string) bool      { return fourRemote == "C" || fourRemote == "A" }

// refreshCacheBestEffort implements spec.md §4.4.2's "after any routing
// mutation... trigger a cache refresh; failure to refresh is logged but
// does not fail the request": a reload failure here is never propagated
// to the caller, only logged.
func (m *Manager) refreshCacheBestEffort(ctx context.Context) {
	if m.cache == nil {
		return
	}
	if _, err := m.ReloadRouting(ctx); err != nil {
		log.Warnf("channelmgr: routing cache refresh after mutation failed: %s", err.Error())
	}
}

// addRouting is the SQLite-only half of AddRouting, used directly by
// ReplaceRouting so a bulk replace triggers one cache refresh instead of
// one per edge.
func (m *Manager) addRouting(ctx context.Context, instanceID uint32, req RoutingRequest) error {
	switch {
	case isMeasurementClass(req.FourRemote):
		return m.routingRepo.UpsertMeasurementRouting(ctx, schema.MeasurementRouting{
			InstanceID: instanceID, ChannelID: req.ChannelID, ChannelType: req.FourRemote,
			ChannelPointID: req.ChannelPointID, MeasurementID: req.PointID, Enabled: true,
		})
	case isActionClass(req.FourRemote):
		return m.routingRepo.UpsertActionRouting(ctx, schema.ActionRouting{
			InstanceID: instanceID, ActionID: req.PointID, ChannelID: req.ChannelID,
			ChannelType: req.FourRemote, ChannelPointID: req.ChannelPointID, Enabled: true,
		})
	default:
		return fmt.Errorf("channelmgr: invalid four_remote %q, must be one of T/S/C/A", req.FourRemote)
	}
}

// AddRouting implements spec.md §6's `POST /api/instances/{id}/routing`:
// a single routing edge, upserted into measurement_routing or
// action_routing depending on FourRemote.
func (m *Manager) AddRouting(ctx context.Context, instanceID uint32, req RoutingRequest) error {
	if err := m.addRouting(ctx, instanceID, req); err != nil {
		return err
	}
	m.refreshCacheBestEffort(ctx)
	return nil
}

// ReplaceRouting implements `PUT /api/instances/{id}/routing`: clear every
// existing edge for instanceID, then insert the given array. Not
// transactional across the two repository calls — a failure partway
// through leaves a partial set in SQLite, and the cache is not refreshed
// on that path; the next Reload rebuilds the cache from the partial set.
func (m *Manager) ReplaceRouting(ctx context.Context, instanceID uint32, reqs []RoutingRequest) error {
	if err := m.routingRepo.DeleteAllForInstance(ctx, instanceID); err != nil {
		return err
	}
	for _, req := range reqs {
		if err := m.addRouting(ctx, instanceID, req); err != nil {
			return err
		}
	}
	m.refreshCacheBestEffort(ctx)
	return nil
}

// ClearRouting implements `DELETE /api/instances/{id}/routing`.
func (m *Manager) ClearRouting(ctx context.Context, instanceID uint32) error {
	if err := m.routingRepo.DeleteAllForInstance(ctx, instanceID); err != nil {
		return err
	}
	m.refreshCacheBestEffort(ctx)
	return nil
}

// RoutingValidation is one entry of ValidateRouting's response (spec.md
// §6's `{instance_id, validations: [{channel, valid, errors}]}`).
type RoutingValidation struct {
	Channel uint16
	Valid   bool
	Errors  []string
}

// ValidateRouting implements `POST /api/instances/{id}/routing/validate`:
// checks each requested edge's channel exists and its four_remote class
// is well-formed, without writing anything.
func (m *Manager) ValidateRouting(ctx context.Context, reqs []RoutingRequest) ([]RoutingValidation, error) {
	out := make([]RoutingValidation, 0, len(reqs))
	for _, req := range reqs {
		v := RoutingValidation{Channel: req.ChannelID, Valid: true}
		exists, err := m.channels.Exists(ctx, req.ChannelID)
		if err != nil {
			return nil, err
		}
		if !exists {
			v.Valid = false
			v.Errors = append(v.Errors, fmt.Sprintf("channel %d does not exist", req.ChannelID))
		}
		if !isMeasurementClass(req.FourRemote) && !isActionClass(req.FourRemote) {
			v.Valid = false
			v.Errors = append(v.Errors, fmt.Sprintf("invalid four_remote %q", req.FourRemote))
		}
		out = append(out, v)
	}
	return out, nil
}

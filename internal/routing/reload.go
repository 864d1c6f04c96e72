// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package routing

import (
	"context"
	"fmt"
	"time"
)

// Route is one row of either measurement_routing or action_routing, as
// returned by a Loader (internal/repository backs this in production;
// tests supply a fake).
type Route struct {
	ChannelID        string
	ChannelPointType string // "T", "S", "C" or "A"
	ChannelPointID   string
	InstanceID       string
	PointID          string // measurement_id for C2M rows, action_id for M2C rows
}

// Loader reads the routing tables from the config store (spec.md §4.4.2:
// "Re-query measurement_routing and action_routing").
type Loader interface {
	LoadMeasurementRouting(ctx context.Context) ([]Route, error)
	LoadActionRouting(ctx context.Context) ([]Route, error)
}

// ReloadResult reports what a reload did, matching the counts+elapsed
// response the POST /routing/reload handler returns.
type ReloadResult struct {
	C2MCount int
	M2CCount int
	C2CCount int
	Elapsed  time.Duration
}

// Reload re-queries the routing tables via loader and atomically swaps the
// rebuilt maps into cache (spec.md §4.2, §4.4.2).
func Reload(ctx context.Context, cache *Cache, loader Loader) (ReloadResult, error) {
	start := time.Now()

	measurements, err := loader.LoadMeasurementRouting(ctx)
	if err != nil {
		return ReloadResult{}, fmt.Errorf("routing: load measurement_routing: %w", err)
	}
	actions, err := loader.LoadActionRouting(ctx)
	if err != nil {
		return ReloadResult{}, fmt.Errorf("routing: load action_routing: %w", err)
	}

	c2m := make(map[string]string, len(measurements))
	for _, r := range measurements {
		key := fmt.Sprintf("%s:%s:%s", r.ChannelID, r.ChannelPointType, r.ChannelPointID)
		c2m[key] = fmt.Sprintf("%s:M:%s", r.InstanceID, r.PointID)
	}

	m2c := make(map[string]string, len(actions))
	for _, r := range actions {
		key := fmt.Sprintf("%s:A:%s", r.InstanceID, r.PointID)
		m2c[key] = fmt.Sprintf("%s:%s:%s", r.ChannelID, r.ChannelPointType, r.ChannelPointID)
	}

	cache.Refresh(c2m, m2c, nil)

	return ReloadResult{
		C2MCount: len(c2m),
		M2CCount: len(m2c),
		C2CCount: 0,
		Elapsed:  time.Since(start),
	}, nil
}

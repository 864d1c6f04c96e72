// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package repository

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/EvanL1/VoltageEMS-sub001/pkg/schema"
	"github.com/jmoiron/sqlx"
)

// RoutingRepository persists measurement_routing (C2M) and action_routing
// (M2C) rows (spec.md §3, §4.4.2 "Reload routing"). The routing cache in
// internal/routing is rebuilt from full table scans here, never from
// incremental deltas, so every method here favors simple full-table reads.
type RoutingRepository struct {
	DB *sqlx.DB
}

func NewRoutingRepository(db *sqlx.DB) *RoutingRepository {
	return &RoutingRepository{DB: db}
}

// ListMeasurementRouting returns every measurement_routing row, the source
// of the C2M map materialized into the shared routing cache.
func (r *RoutingRepository) ListMeasurementRouting(ctx context.Context) ([]schema.MeasurementRouting, error) {
	var rows []schema.MeasurementRouting
	query, args, err := sq.Select(
		"instance_id", "channel_id", "channel_type", "channel_point_id", "measurement_id", "enabled",
	).From("measurement_routing").OrderBy("instance_id").ToSql()
	if err != nil {
		return nil, err
	}
	if err := r.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListActionRouting returns every action_routing row, the source of the M2C map.
func (r *RoutingRepository) ListActionRouting(ctx context.Context) ([]schema.ActionRouting, error) {
	var rows []schema.ActionRouting
	query, args, err := sq.Select(
		"instance_id", "action_id", "channel_id", "channel_type", "channel_point_id", "enabled",
	).From("action_routing").OrderBy("instance_id").ToSql()
	if err != nil {
		return nil, err
	}
	if err := r.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *RoutingRepository) UpsertMeasurementRouting(ctx context.Context, row schema.MeasurementRouting) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO measurement_routing (instance_id, channel_id, channel_type, channel_point_id, measurement_id, enabled)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (instance_id, channel_id, channel_type, channel_point_id) DO UPDATE SET
			measurement_id = excluded.measurement_id, enabled = excluded.enabled`,
		row.InstanceID, row.ChannelID, row.ChannelType, row.ChannelPointID, row.MeasurementID, row.Enabled)
	return err
}

func (r *RoutingRepository) DeleteMeasurementRouting(ctx context.Context, instanceID uint32, channelID uint16, channelType string, pointID uint32) error {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM measurement_routing
		WHERE instance_id = ? AND channel_id = ? AND channel_type = ? AND channel_point_id = ?`,
		instanceID, channelID, channelType, pointID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RoutingRepository) UpsertActionRouting(ctx context.Context, row schema.ActionRouting) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO action_routing (instance_id, action_id, channel_id, channel_type, channel_point_id, enabled)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (instance_id, action_id) DO UPDATE SET
			channel_id = excluded.channel_id, channel_type = excluded.channel_type,
			channel_point_id = excluded.channel_point_id, enabled = excluded.enabled`,
		row.InstanceID, row.ActionID, row.ChannelID, row.ChannelType, row.ChannelPointID, row.Enabled)
	return err
}

// DeleteAllForInstance removes every measurement_routing and
// action_routing row belonging to instanceID (the control plane's
// `DELETE /api/instances/{id}/routing`, spec.md §6).
func (r *RoutingRepository) DeleteAllForInstance(ctx context.Context, instanceID uint32) error {
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM measurement_routing WHERE instance_id = ?`, instanceID); err != nil {
		return err
	}
	_, err := r.DB.ExecContext(ctx, `DELETE FROM action_routing WHERE instance_id = ?`, instanceID)
	return err
}

func (r *RoutingRepository) DeleteActionRouting(ctx context.Context, instanceID, actionID uint32) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM action_routing WHERE instance_id = ? AND action_id = ?`, instanceID, actionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Calculation is a row of the `calculations` table (spec.md §3).
type Calculation struct {
	CalculationName string `db:"calculation_name"`
	Description     string `db:"description"`
	CalculationType []byte `db:"calculation_type"`
	OutputInst      uint32 `db:"output_inst"`
	OutputType      string `db:"output_type"` // M|A
	OutputID        uint32 `db:"output_id"`
	Enabled         bool   `db:"enabled"`
}

// CalculationRepository persists the `calculations` table.
type CalculationRepository struct {
	DB *sqlx.DB
}

func NewCalculationRepository(db *sqlx.DB) *CalculationRepository {
	return &CalculationRepository{DB: db}
}

func (r *CalculationRepository) List(ctx context.Context) ([]Calculation, error) {
	var rows []Calculation
	query, args, err := sq.Select(
		"calculation_name", "description", "calculation_type", "output_inst", "output_type", "output_id", "enabled",
	).From("calculations").Where(sq.Eq{"enabled": true}).OrderBy("calculation_name").ToSql()
	if err != nil {
		return nil, err
	}
	if err := r.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *CalculationRepository) Upsert(ctx context.Context, c Calculation) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO calculations (calculation_name, description, calculation_type, output_inst, output_type, output_id, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (calculation_name) DO UPDATE SET
			description = excluded.description, calculation_type = excluded.calculation_type,
			output_inst = excluded.output_inst, output_type = excluded.output_type,
			output_id = excluded.output_id, enabled = excluded.enabled`,
		c.CalculationName, c.Description, c.CalculationType, c.OutputInst, c.OutputType, c.OutputID, c.Enabled)
	return err
}

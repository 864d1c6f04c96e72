// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/EvanL1/VoltageEMS-sub001/pkg/schema"
	"github.com/jmoiron/sqlx"
)

// PointRepository covers the four identically-shaped point tables
// (telemetry_points/signal_points/control_points/adjustment_points,
// spec.md §3) keyed by channel class; the table name is the only thing
// that differs between them, so a single struct parameterized on it
// avoids repeating four near-identical CRUD implementations.
type PointRepository struct {
	DB *sqlx.DB
}

func NewPointRepository(db *sqlx.DB) *PointRepository {
	return &PointRepository{DB: db}
}

func tableForClass(class schema.PointClass) (string, error) {
	switch class {
	case schema.PointTelemetry:
		return "telemetry_points", nil
	case schema.PointSignal:
		return "signal_points", nil
	case schema.PointControl:
		return "control_points", nil
	case schema.PointAdjust:
		return "adjustment_points", nil
	default:
		return "", fmt.Errorf("repository: unknown point class %q", class)
	}
}

// ListByChannel returns every point definition row for a channel's class table.
func (r *PointRepository) ListByChannel(ctx context.Context, class schema.PointClass, channelID uint16) ([]schema.PointDefinition, error) {
	table, err := tableForClass(class)
	if err != nil {
		return nil, err
	}
	var rows []schema.PointDefinition
	query, args, err := sq.Select(
		"channel_id", "point_id", "signal_name", "scale", "offset",
		"unit", "reverse", "data_type", "description", "protocol_mappings",
	).From(table).Where(sq.Eq{"channel_id": channelID}).OrderBy("point_id").ToSql()
	if err != nil {
		return nil, err
	}
	if err := r.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// Get returns a single point definition row.
func (r *PointRepository) Get(ctx context.Context, class schema.PointClass, channelID uint16, pointID uint32) (*schema.PointDefinition, error) {
	table, err := tableForClass(class)
	if err != nil {
		return nil, err
	}
	var row schema.PointDefinition
	query, args, err := sq.Select(
		"channel_id", "point_id", "signal_name", "scale", "offset",
		"unit", "reverse", "data_type", "description", "protocol_mappings",
	).From(table).Where(sq.Eq{"channel_id": channelID, "point_id": pointID}).ToSql()
	if err != nil {
		return nil, err
	}
	if err := r.DB.GetContext(ctx, &row, query, args...); err != nil {
		return nil, err
	}
	return &row, nil
}

// Upsert inserts or replaces a point definition row, keyed on (channel_id, point_id).
func (r *PointRepository) Upsert(ctx context.Context, class schema.PointClass, p schema.PointDefinition) error {
	table, err := tableForClass(class)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (channel_id, point_id, signal_name, scale, offset, unit, reverse, data_type, description, protocol_mappings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (channel_id, point_id) DO UPDATE SET
			signal_name = excluded.signal_name, scale = excluded.scale, offset = excluded.offset,
			unit = excluded.unit, reverse = excluded.reverse, data_type = excluded.data_type,
			description = excluded.description, protocol_mappings = excluded.protocol_mappings`, table),
		p.ChannelID, p.PointID, p.SignalName, p.Scale, p.Offset, p.Unit, p.Reverse,
		p.DataType, p.Description, []byte(p.ProtocolMappings))
	return err
}

// DeleteByChannel removes every point row belonging to a channel; used when
// a channel is deleted or its protocol changes under hot reload.
func (r *PointRepository) DeleteByChannel(ctx context.Context, class schema.PointClass, channelID uint16) error {
	table, err := tableForClass(class)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE channel_id = ?`, table), channelID)
	return err
}

// Delete removes a single point row.
func (r *PointRepository) Delete(ctx context.Context, class schema.PointClass, channelID uint16, pointID uint32) error {
	table, err := tableForClass(class)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE channel_id = ? AND point_id = ?`, table), channelID, pointID)
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

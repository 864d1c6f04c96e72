// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/EvanL1/VoltageEMS-sub001/pkg/schema"
	"github.com/jmoiron/sqlx"
)

// ProductRepository persists products and their point-template children
// (measurement_points/action_points/property_templates, spec.md §3).
type ProductRepository struct {
	DB *sqlx.DB
}

func NewProductRepository(db *sqlx.DB) *ProductRepository {
	return &ProductRepository{DB: db}
}

func (r *ProductRepository) Get(ctx context.Context, name string) (*schema.Product, error) {
	var p schema.Product
	query, args, err := sq.Select("product_name", "parent_name").From("products").
		Where(sq.Eq{"product_name": name}).ToSql()
	if err != nil {
		return nil, err
	}
	if err := r.DB.GetContext(ctx, &p, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *ProductRepository) List(ctx context.Context) ([]schema.Product, error) {
	var rows []schema.Product
	query, args, err := sq.Select("product_name", "parent_name").From("products").OrderBy("product_name").ToSql()
	if err != nil {
		return nil, err
	}
	if err := r.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ProductRepository) Upsert(ctx context.Context, p schema.Product) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO products (product_name, parent_name) VALUES (?, ?)
		ON CONFLICT (product_name) DO UPDATE SET parent_name = excluded.parent_name`,
		p.ProductName, p.ParentName)
	return err
}

// MeasurementPoint is a product's measurement_points row.
type MeasurementPoint struct {
	ProductName   string `db:"product_name"`
	MeasurementID uint32 `db:"measurement_id"`
	Name          string `db:"name"`
	Unit          string `db:"unit"`
	DataType      string `db:"data_type"`
	Description   string `db:"description"`
}

func (r *ProductRepository) ListMeasurementPoints(ctx context.Context, productName string) ([]MeasurementPoint, error) {
	var rows []MeasurementPoint
	query, args, err := sq.Select("product_name", "measurement_id", "name", "unit", "data_type", "description").
		From("measurement_points").Where(sq.Eq{"product_name": productName}).OrderBy("measurement_id").ToSql()
	if err != nil {
		return nil, err
	}
	if err := r.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ProductRepository) UpsertMeasurementPoint(ctx context.Context, p MeasurementPoint) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO measurement_points (product_name, measurement_id, name, unit, data_type, description)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (product_name, measurement_id) DO UPDATE SET
			name = excluded.name, unit = excluded.unit, data_type = excluded.data_type, description = excluded.description`,
		p.ProductName, p.MeasurementID, p.Name, p.Unit, p.DataType, p.Description)
	return err
}

// ActionPoint is a product's action_points row.
type ActionPoint struct {
	ProductName string `db:"product_name"`
	ActionID    uint32 `db:"action_id"`
	Name        string `db:"name"`
	Unit        string `db:"unit"`
	DataType    string `db:"data_type"`
	Description string `db:"description"`
}

func (r *ProductRepository) ListActionPoints(ctx context.Context, productName string) ([]ActionPoint, error) {
	var rows []ActionPoint
	query, args, err := sq.Select("product_name", "action_id", "name", "unit", "data_type", "description").
		From("action_points").Where(sq.Eq{"product_name": productName}).OrderBy("action_id").ToSql()
	if err != nil {
		return nil, err
	}
	if err := r.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ProductRepository) UpsertActionPoint(ctx context.Context, p ActionPoint) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO action_points (product_name, action_id, name, unit, data_type, description)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (product_name, action_id) DO UPDATE SET
			name = excluded.name, unit = excluded.unit, data_type = excluded.data_type, description = excluded.description`,
		p.ProductName, p.ActionID, p.Name, p.Unit, p.DataType, p.Description)
	return err
}

// InstanceRepository persists model instances (spec.md §3).
type InstanceRepository struct {
	DB *sqlx.DB
}

func NewInstanceRepository(db *sqlx.DB) *InstanceRepository {
	return &InstanceRepository{DB: db}
}

type instanceRow struct {
	InstanceID   uint32 `db:"instance_id"`
	InstanceName string `db:"instance_name"`
	ProductName  string `db:"product_name"`
	Properties   []byte `db:"properties"`
}

func (row instanceRow) toInstance() (*schema.Instance, error) {
	inst := &schema.Instance{
		InstanceID:   row.InstanceID,
		InstanceName: row.InstanceName,
		ProductName:  row.ProductName,
	}
	if len(row.Properties) > 0 {
		if err := json.Unmarshal(row.Properties, &inst.Properties); err != nil {
			return nil, fmt.Errorf("repository: decoding instance %d properties: %w", row.InstanceID, err)
		}
	}
	return inst, nil
}

func (r *InstanceRepository) Get(ctx context.Context, id uint32) (*schema.Instance, error) {
	var row instanceRow
	query, args, err := sq.Select("instance_id", "instance_name", "product_name", "properties").
		From("instances").Where(sq.Eq{"instance_id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	if err := r.DB.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toInstance()
}

func (r *InstanceRepository) List(ctx context.Context) ([]*schema.Instance, error) {
	var rows []instanceRow
	query, args, err := sq.Select("instance_id", "instance_name", "product_name", "properties").
		From("instances").OrderBy("instance_id").ToSql()
	if err != nil {
		return nil, err
	}
	if err := r.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]*schema.Instance, 0, len(rows))
	for _, row := range rows {
		inst, err := row.toInstance()
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

func (r *InstanceRepository) Upsert(ctx context.Context, inst *schema.Instance) error {
	props, err := json.Marshal(inst.Properties)
	if err != nil {
		return fmt.Errorf("repository: marshaling instance properties: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO instances (instance_id, instance_name, product_name, properties) VALUES (?, ?, ?, ?)
		ON CONFLICT (instance_id) DO UPDATE SET
			instance_name = excluded.instance_name, product_name = excluded.product_name, properties = excluded.properties`,
		inst.InstanceID, inst.InstanceName, inst.ProductName, props)
	return err
}

func (r *InstanceRepository) Delete(ctx context.Context, id uint32) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM instances WHERE instance_id = ?`, id)
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

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

// RuleRepository persists the `rules` table: rule DAG definitions consumed
// by the rule executor (spec.md §3, §4.5).
type RuleRepository struct {
	DB *sqlx.DB
}

func NewRuleRepository(db *sqlx.DB) *RuleRepository {
	return &RuleRepository{DB: db}
}

type ruleRow struct {
	ID          int64          `db:"id"`
	Name        string         `db:"name"`
	Description sql.NullString `db:"description"`
	FlowJSON    []byte         `db:"flow_json"`
	NodesJSON   []byte         `db:"nodes_json"`
	Enabled     bool           `db:"enabled"`
	Priority    int            `db:"priority"`
}

func (row ruleRow) toRule() (*schema.DagRule, error) {
	rule := &schema.DagRule{
		ID:       row.ID,
		Name:     row.Name,
		Enabled:  row.Enabled,
		Priority: row.Priority,
	}
	if row.Description.Valid {
		rule.Description = &row.Description.String
	}
	if err := json.Unmarshal(row.NodesJSON, &rule.Nodes); err != nil {
		return nil, fmt.Errorf("repository: decoding rule %d nodes: %w", row.ID, err)
	}
	if err := json.Unmarshal(row.FlowJSON, &rule.Edges); err != nil {
		return nil, fmt.Errorf("repository: decoding rule %d edges: %w", row.ID, err)
	}
	return rule, nil
}

// ListEnabled returns every enabled rule ordered by descending priority,
// the order the rule executor evaluates them in.
func (r *RuleRepository) ListEnabled(ctx context.Context) ([]*schema.DagRule, error) {
	var rows []ruleRow
	query, args, err := sq.Select("id", "name", "description", "flow_json", "nodes_json", "enabled", "priority").
		From("rules").Where(sq.Eq{"enabled": true}).OrderBy("priority DESC", "id").ToSql()
	if err != nil {
		return nil, err
	}
	if err := r.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]*schema.DagRule, 0, len(rows))
	for _, row := range rows {
		rule, err := row.toRule()
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}

func (r *RuleRepository) Get(ctx context.Context, id int64) (*schema.DagRule, error) {
	var row ruleRow
	query, args, err := sq.Select("id", "name", "description", "flow_json", "nodes_json", "enabled", "priority").
		From("rules").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	if err := r.DB.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toRule()
}

func (r *RuleRepository) List(ctx context.Context) ([]*schema.DagRule, error) {
	var rows []ruleRow
	query, args, err := sq.Select("id", "name", "description", "flow_json", "nodes_json", "enabled", "priority").
		From("rules").OrderBy("id").ToSql()
	if err != nil {
		return nil, err
	}
	if err := r.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]*schema.DagRule, 0, len(rows))
	for _, row := range rows {
		rule, err := row.toRule()
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}

// Insert creates a rule row, returning the assigned id.
func (r *RuleRepository) Insert(ctx context.Context, rule *schema.DagRule) (int64, error) {
	nodes, err := json.Marshal(rule.Nodes)
	if err != nil {
		return 0, fmt.Errorf("repository: marshaling rule nodes: %w", err)
	}
	edges, err := json.Marshal(rule.Edges)
	if err != nil {
		return 0, fmt.Errorf("repository: marshaling rule edges: %w", err)
	}
	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO rules (name, description, flow_json, nodes_json, enabled, priority)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rule.Name, rule.Description, edges, nodes, rule.Enabled, rule.Priority)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Update replaces a rule row in full.
func (r *RuleRepository) Update(ctx context.Context, rule *schema.DagRule) error {
	nodes, err := json.Marshal(rule.Nodes)
	if err != nil {
		return fmt.Errorf("repository: marshaling rule nodes: %w", err)
	}
	edges, err := json.Marshal(rule.Edges)
	if err != nil {
		return fmt.Errorf("repository: marshaling rule edges: %w", err)
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE rules SET name = ?, description = ?, flow_json = ?, nodes_json = ?, enabled = ?, priority = ?
		WHERE id = ?`,
		rule.Name, rule.Description, edges, nodes, rule.Enabled, rule.Priority, rule.ID)
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

func (r *RuleRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
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

// SyncMetadataRepository persists per-service last-sync timestamps,
// updated by the config syncer (spec.md §4.4.3) after a successful import.
type SyncMetadataRepository struct {
	DB *sqlx.DB
}

func NewSyncMetadataRepository(db *sqlx.DB) *SyncMetadataRepository {
	return &SyncMetadataRepository{DB: db}
}

func (r *SyncMetadataRepository) Touch(ctx context.Context, service string, unixSeconds int64) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO sync_metadata (service, last_sync) VALUES (?, ?)
		ON CONFLICT (service) DO UPDATE SET last_sync = excluded.last_sync`,
		service, unixSeconds)
	return err
}

func (r *SyncMetadataRepository) LastSync(ctx context.Context, service string) (int64, error) {
	var ts int64
	err := r.DB.GetContext(ctx, &ts, `SELECT last_sync FROM sync_metadata WHERE service = ?`, service)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return ts, err
}

// ServiceConfigRepository persists the flattened global.yaml rows
// (spec.md §4.4.3, §6): one row per (service_name, key).
type ServiceConfigRepository struct {
	DB *sqlx.DB
}

func NewServiceConfigRepository(db *sqlx.DB) *ServiceConfigRepository {
	return &ServiceConfigRepository{DB: db}
}

// ServiceConfigEntry is a single service_config row.
type ServiceConfigEntry struct {
	ServiceName string `db:"service_name"`
	Key         string `db:"key"`
	Value       string `db:"value"`
	Type        string `db:"type"`
}

func (r *ServiceConfigRepository) ListByService(ctx context.Context, service string) ([]ServiceConfigEntry, error) {
	var rows []ServiceConfigEntry
	query, args, err := sq.Select("service_name", "key", "value", "type").
		From("service_config").Where(sq.Eq{"service_name": service}).OrderBy("key").ToSql()
	if err != nil {
		return nil, err
	}
	if err := r.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ServiceConfigRepository) Upsert(ctx context.Context, e ServiceConfigEntry) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO service_config (service_name, key, value, type) VALUES (?, ?, ?, ?)
		ON CONFLICT (service_name, key) DO UPDATE SET value = excluded.value, type = excluded.type`,
		e.ServiceName, e.Key, e.Value, e.Type)
	return err
}

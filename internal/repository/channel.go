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

// ErrNotFound is returned by single-row lookups that find no matching row.
var ErrNotFound = errors.New("repository: not found")

// ErrDuplicateName is returned when a channel name collides with an
// existing row (channels.name is UNIQUE).
var ErrDuplicateName = errors.New("repository: duplicate channel name")

// ChannelRepository persists the `channels` table (spec.md §3, §6).
type ChannelRepository struct {
	DB *sqlx.DB
}

func NewChannelRepository(db *sqlx.DB) *ChannelRepository {
	return &ChannelRepository{DB: db}
}

type channelRow struct {
	ChannelID uint16 `db:"channel_id"`
	Name      string `db:"name"`
	Protocol  string `db:"protocol"`
	Enabled   bool   `db:"enabled"`
	Config    []byte `db:"config"`
}

func (r channelRow) toChannel() (*schema.Channel, error) {
	c := &schema.Channel{
		ChannelID: r.ChannelID,
		Name:      r.Name,
		Protocol:  schema.Protocol(r.Protocol),
		Enabled:   r.Enabled,
	}
	if err := c.UnmarshalConfig(r.Config); err != nil {
		return nil, fmt.Errorf("repository: decoding channel %d config: %w", r.ChannelID, err)
	}
	return c, nil
}

// Get returns a single channel by id.
func (r *ChannelRepository) Get(ctx context.Context, id uint16) (*schema.Channel, error) {
	var row channelRow
	query, args, err := sq.Select("channel_id", "name", "protocol", "enabled", "config").
		From("channels").Where(sq.Eq{"channel_id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	if err := r.DB.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toChannel()
}

// GetByName returns a single channel by its unique name.
func (r *ChannelRepository) GetByName(ctx context.Context, name string) (*schema.Channel, error) {
	var row channelRow
	query, args, err := sq.Select("channel_id", "name", "protocol", "enabled", "config").
		From("channels").Where(sq.Eq{"name": name}).ToSql()
	if err != nil {
		return nil, err
	}
	if err := r.DB.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toChannel()
}

// List returns every channel row, ordered by id.
func (r *ChannelRepository) List(ctx context.Context) ([]*schema.Channel, error) {
	var rows []channelRow
	query, args, err := sq.Select("channel_id", "name", "protocol", "enabled", "config").
		From("channels").OrderBy("channel_id").ToSql()
	if err != nil {
		return nil, err
	}
	if err := r.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]*schema.Channel, 0, len(rows))
	for _, row := range rows {
		c, err := row.toChannel()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// nameTaken reports whether another channel already owns name, excluding excludeID.
func (r *ChannelRepository) nameTaken(ctx context.Context, name string, excludeID *uint16) (bool, error) {
	q := sq.Select("count(*)").From("channels").Where(sq.Eq{"name": name})
	if excludeID != nil {
		q = q.Where(sq.NotEq{"channel_id": *excludeID})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return false, err
	}
	var count int
	if err := r.DB.GetContext(ctx, &count, query, args...); err != nil {
		return false, err
	}
	return count > 0, nil
}

// NextChannelID returns MAX(channel_id)+1, or 1 if the table is empty — used
// to auto-assign an id when the caller doesn't supply one (spec.md §4.4.2).
func (r *ChannelRepository) NextChannelID(ctx context.Context) (uint16, error) {
	var max sql.NullInt64
	if err := r.DB.GetContext(ctx, &max, "SELECT MAX(channel_id) FROM channels"); err != nil {
		return 0, err
	}
	if !max.Valid {
		return 1, nil
	}
	return uint16(max.Int64) + 1, nil
}

// Exists reports whether a channel row with this id is already present.
func (r *ChannelRepository) Exists(ctx context.Context, id uint16) (bool, error) {
	var count int
	query, args, err := sq.Select("count(*)").From("channels").Where(sq.Eq{"channel_id": id}).ToSql()
	if err != nil {
		return false, err
	}
	if err := r.DB.GetContext(ctx, &count, query, args...); err != nil {
		return false, err
	}
	return count > 0, nil
}

// Insert creates a new channel row. Callers must have already resolved
// ChannelID and checked for name collisions (spec.md §4.4.2 Create step).
func (r *ChannelRepository) Insert(ctx context.Context, c *schema.Channel) error {
	cfg, err := c.MarshalConfig()
	if err != nil {
		return fmt.Errorf("repository: marshaling channel config: %w", err)
	}
	taken, err := r.nameTaken(ctx, c.Name, nil)
	if err != nil {
		return err
	}
	if taken {
		return ErrDuplicateName
	}
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO channels (channel_id, name, protocol, enabled, config) VALUES (?, ?, ?, ?, ?)`,
		c.ChannelID, c.Name, string(c.Protocol), c.Enabled, cfg)
	return err
}

// UpdateTx applies name/protocol/config/enabled changes inside tx. Callers run
// this within a transaction started via r.DB.BeginTxx so the classify-then-
// commit sequence in spec.md §4.4.2 step "Update" is atomic.
func (r *ChannelRepository) UpdateTx(ctx context.Context, tx *sqlx.Tx, c *schema.Channel) error {
	cfg, err := c.MarshalConfig()
	if err != nil {
		return fmt.Errorf("repository: marshaling channel config: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE channels SET name = ?, protocol = ?, enabled = ?, config = ? WHERE channel_id = ?`,
		c.Name, string(c.Protocol), c.Enabled, cfg, c.ChannelID)
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

// SetEnabled flips the enabled flag alone (PUT /enabled path).
func (r *ChannelRepository) SetEnabled(ctx context.Context, id uint16, enabled bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE channels SET enabled = ? WHERE channel_id = ?`, enabled, id)
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

// DeleteTx removes a channel row inside tx, returning ErrNotFound (and
// leaving the rollback decision to the caller) if nothing matched.
func (r *ChannelRepository) DeleteTx(ctx context.Context, tx *sqlx.Tx, id uint16) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM channels WHERE channel_id = ?`, id)
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

// BeginTxx exposes the underlying DB's transaction starter so callers (the
// channel manager) can compose the classify-then-commit sequence themselves.
func (r *ChannelRepository) BeginTxx(ctx context.Context) (*sqlx.Tx, error) {
	return r.DB.BeginTxx(ctx, nil)
}

// NameTaken exposes nameTaken to callers applying the update-path uniqueness
// check (name uniqueness excluding self, spec.md §4.4.2 step (b)).
func (r *ChannelRepository) NameTaken(ctx context.Context, name string, excludeID uint16) (bool, error) {
	return r.nameTaken(ctx, name, &excludeID)
}

// ChangeClass is the hot-reload severity of a channel config mutation
// (spec.md §4.4.2 table).
type ChangeClass int

const (
	ChangeMetadataOnly ChangeClass = iota
	ChangeNonCritical
	ChangeCritical
)

func (c ChangeClass) String() string {
	switch c {
	case ChangeMetadataOnly:
		return "MetadataOnly"
	case ChangeCritical:
		return "Critical"
	default:
		return "NonCritical"
	}
}

// criticalParamKeys is the exact field list from spec.md §4.4.2: any of
// these differing between old and new parameter maps forces a Critical
// classification, because the protocol connection itself must be rebuilt.
var criticalParamKeys = []string{
	"protocol", "host", "ip", "address", "server", "port",
	"slave_id", "device_id", "unit_id", "node_id",
	"baud_rate", "data_bits", "stop_bits", "parity",
	"serial_port", "device", "tty",
}

// ClassifyChange compares the old and new channel rows per spec.md §4.4.2:
// walk the critical key list first (short-circuiting to Critical on the
// first mismatch), then treat any other differing key as NonCritical, and
// only report MetadataOnly if name/description/protocol/params are all
// equal (i.e. description or name is the sole change).
func ClassifyChange(oldC, newC *schema.Channel) ChangeClass {
	if string(oldC.Protocol) != string(newC.Protocol) {
		return ChangeCritical
	}
	oldParams := oldC.Parameters
	newParams := newC.Parameters
	for _, key := range criticalParamKeys {
		if key == "protocol" {
			continue
		}
		if !paramEqual(oldParams, newParams, key) {
			return ChangeCritical
		}
	}
	if paramsEqual(oldParams, newParams) {
		return ChangeMetadataOnly
	}
	return ChangeNonCritical
}

func paramEqual(a, b map[string]json.RawMessage, key string) bool {
	av, aok := a[key]
	bv, bok := b[key]
	if aok != bok {
		return false
	}
	if !aok {
		return true
	}
	return jsonEqual(av, bv)
}

func paramsEqual(a, b map[string]json.RawMessage) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !jsonEqual(av, bv) {
			return false
		}
	}
	return true
}

func jsonEqual(a, b json.RawMessage) bool {
	var av, bv interface{}
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return string(a) == string(b)
	}
	aj, _ := json.Marshal(av)
	bj, _ := json.Marshal(bv)
	return string(aj) == string(bj)
}

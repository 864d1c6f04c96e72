// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package syncer implements the configuration syncer (C4, spec.md §4.4.3):
// a one-shot transactional importer from a YAML + CSV directory tree into
// the SQLite config store, grounded on original_source's
// tools/monarch/src/core/syncer.rs.
package syncer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// txExecer is the subset of *sqlx.Tx the per-service importers need;
// narrowing the parameter type keeps comsrv.go/modsrv.go/global.go
// testable against anything that can run SQL inside a transaction.
type txExecer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func execRowsAffected(ctx context.Context, tx txExecer, query string, args ...interface{}) (int, error) {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func nowUnix() int64 {
	return time.Now().Unix()
}

// SyncError records one recoverable row-level failure; the transaction
// that produced it still commits (spec.md §4.4.3).
type SyncError struct {
	Item  string
	Error string
}

// Result is the outcome of syncing one service.
type Result struct {
	ItemsSynced  int
	ItemsDeleted int
	Errors       []SyncError
}

func (r *Result) addError(item string, err error) {
	r.Errors = append(r.Errors, SyncError{Item: item, Error: err.Error()})
}

// Syncer owns the database connection and the root of the config tree.
type Syncer struct {
	db         *sqlx.DB
	configRoot string
}

// New builds a Syncer rooted at configRoot (spec.md §4.4.3's directory
// layout: global.yaml, comsrv/, modsrv/).
func New(db *sqlx.DB, configRoot string) *Syncer {
	return &Syncer{db: db, configRoot: configRoot}
}

// SyncService dispatches to the per-service importer, mirroring
// ConfigSyncer::sync_service.
func (s *Syncer) SyncService(ctx context.Context, service string) (Result, error) {
	switch service {
	case "global":
		return s.syncGlobal(ctx)
	case "comsrv":
		return s.syncComsrv(ctx)
	case "modsrv":
		return s.syncModsrv(ctx)
	default:
		return Result{}, fmt.Errorf("syncer: unknown service %q", service)
	}
}

// SyncAll runs global, then comsrv, then modsrv, in that order (modsrv's
// routing rows reference comsrv's channels). Each stage's fatal (schema
// or connection level) error aborts the whole call; per-row errors from
// an already-completed stage are preserved in the combined result.
func (s *Syncer) SyncAll(ctx context.Context) (Result, error) {
	var total Result
	for _, service := range []string{"global", "comsrv", "modsrv"} {
		r, err := s.SyncService(ctx, service)
		total.ItemsSynced += r.ItemsSynced
		total.ItemsDeleted += r.ItemsDeleted
		total.Errors = append(total.Errors, r.Errors...)
		if err != nil {
			return total, fmt.Errorf("syncer: syncing %s: %w", service, err)
		}
	}
	return total, nil
}

func touchSyncMetadata(ctx context.Context, tx *sqlx.Tx, service string, unixSeconds int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sync_metadata (service, last_sync) VALUES (?, ?)
		ON CONFLICT (service) DO UPDATE SET last_sync = excluded.last_sync`,
		service, unixSeconds)
	return err
}

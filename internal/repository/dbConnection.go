// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package repository

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/EvanL1/VoltageEMS-sub001/pkg/log"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"
)

var (
	dbConnOnce     sync.Once
	dbConnInstance *DBConnection
)

// DBConnection wraps the process-wide sqlx handle. The control plane's
// SQLite database is the source of truth for channels, point tables,
// products, instances, routing, calculations, and rules (spec.md §6).
type DBConnection struct {
	DB *sqlx.DB
}

// Connect opens the SQLite database (hooked for query tracing via
// pkg/log) and runs pending migrations. Only sqlite3 is supported: the
// control plane is a single-process service, never a clustered one.
func Connect(dbPath string) error {
	var err error
	dbConnOnce.Do(func() {
		sql.Register("sqlite3WithHooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &Hooks{}))

		var dbHandle *sqlx.DB
		dbHandle, err = sqlx.Open("sqlite3WithHooks", fmt.Sprintf("%s?_foreign_keys=on", dbPath))
		if err != nil {
			err = fmt.Errorf("repository: opening sqlite database %q: %w", dbPath, err)
			return
		}

		// SQLite does not multithread; a single connection avoids lock
		// contention between concurrent writers.
		dbHandle.SetMaxOpenConns(1)

		dbConnInstance = &DBConnection{DB: dbHandle}
		err = runMigrations(dbHandle.DB)
	})
	return err
}

// GetConnection returns the process-wide connection. If Connect has not
// succeeded it logs the error and exits the process via log.Fatal.
func GetConnection() *DBConnection {
	if dbConnInstance == nil {
		log.Fatal("repository: database connection not initialized")
	}
	return dbConnInstance
}

// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package syncer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// syncGlobal imports the shared global.yaml into service_config rows
// under the "global" service name. Absent global.yaml is not an error:
// it is optional shared configuration (syncer.rs's sync_global).
func (s *Syncer) syncGlobal(ctx context.Context) (Result, error) {
	var result Result
	path := filepath.Join(s.configRoot, "global.yaml")
	if !fileExists(path) {
		return result, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return result, fmt.Errorf("syncer: reading global.yaml: %w", err)
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return result, fmt.Errorf("syncer: parsing global.yaml: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("syncer: starting global transaction: %w", err)
	}
	defer tx.Rollback()

	n, err := execRowsAffected(ctx, tx, `DELETE FROM service_config WHERE service_name = ?`, "global")
	if err != nil {
		return result, fmt.Errorf("syncer: clearing global service_config: %w", err)
	}
	result.ItemsDeleted = n

	flat := make(map[string]flatEntry)
	flattenJSON(doc, "", flat)
	for key, entry := range flat {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO service_config (service_name, key, value, type) VALUES (?, ?, ?, ?)`,
			"global", key, entry.value, entry.valType); err != nil {
			return result, fmt.Errorf("syncer: inserting global config %q: %w", key, err)
		}
		result.ItemsSynced++
	}

	if err := touchSyncMetadata(ctx, tx, "global", nowUnix()); err != nil {
		return result, fmt.Errorf("syncer: stamping global sync_metadata: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("syncer: committing global transaction: %w", err)
	}
	return result, nil
}

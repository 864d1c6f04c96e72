// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var pointTables = map[string]string{
	"telemetry":  "telemetry_points",
	"signal":     "signal_points",
	"control":    "control_points",
	"adjustment": "adjustment_points",
}

// syncComsrv imports comsrv/comsrv.yaml + one numeric subdirectory per
// channel into the four point tables, grounded on syncer.rs's
// sync_comsrv/insert_channels/insert_channel_specific_points.
func (s *Syncer) syncComsrv(ctx context.Context) (Result, error) {
	var result Result
	configDir := filepath.Join(s.configRoot, "comsrv")

	raw, err := os.ReadFile(filepath.Join(configDir, "comsrv.yaml"))
	if err != nil {
		return result, fmt.Errorf("syncer: reading comsrv.yaml: %w", err)
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return result, fmt.Errorf("syncer: parsing comsrv.yaml: %w", err)
	}

	channelsRaw, _ := doc["channels"].([]interface{})
	delete(doc, "channels")

	// Channel-name uniqueness is a schema-level failure: enforced before
	// the transaction opens (spec.md §4.4.3).
	seen := make(map[string]int, len(channelsRaw))
	for idx, c := range channelsRaw {
		obj, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := obj["name"].(string)
		if name == "" {
			continue
		}
		if prev, dup := seen[name]; dup {
			return result, fmt.Errorf("syncer: duplicate channel name %q at indices %d and %d", name, prev, idx)
		}
		seen[name] = idx
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("syncer: starting comsrv transaction: %w", err)
	}
	defer tx.Rollback()

	deleted := 0
	for _, table := range []string{"telemetry_points", "signal_points", "control_points", "adjustment_points", "channels"} {
		n, err := execRowsAffected(ctx, tx, "DELETE FROM "+table)
		if err != nil {
			return result, fmt.Errorf("syncer: clearing %s: %w", table, err)
		}
		deleted += n
	}
	n, err := execRowsAffected(ctx, tx, `DELETE FROM service_config WHERE service_name = ?`, "comsrv")
	if err != nil {
		return result, fmt.Errorf("syncer: clearing comsrv service_config: %w", err)
	}
	deleted += n
	result.ItemsDeleted = deleted

	flat := make(map[string]flatEntry)
	flattenJSON(doc, "", flat)
	for key, entry := range flat {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO service_config (service_name, key, value, type) VALUES (?, ?, ?, ?)`,
			"comsrv", key, entry.value, entry.valType); err != nil {
			return result, fmt.Errorf("syncer: inserting comsrv config %q: %w", key, err)
		}
		result.ItemsSynced++
	}

	for idx, c := range channelsRaw {
		obj, ok := c.(map[string]interface{})
		if !ok {
			result.addError(fmt.Sprintf("channel[%d]", idx), fmt.Errorf("not a mapping"))
			continue
		}
		if err := s.insertChannel(ctx, tx, obj); err != nil {
			result.addError(fmt.Sprintf("channel[%d]", idx), err)
			continue
		}
		result.ItemsSynced++
	}

	n, err = s.insertChannelSpecificPoints(ctx, tx, configDir, &result)
	if err != nil {
		return result, err
	}
	result.ItemsSynced += n

	if err := touchSyncMetadata(ctx, tx, "comsrv", nowUnix()); err != nil {
		return result, fmt.Errorf("syncer: stamping comsrv sync_metadata: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("syncer: committing comsrv transaction: %w", err)
	}
	return result, nil
}

func (s *Syncer) insertChannel(ctx context.Context, tx txExecer, obj map[string]interface{}) error {
	idNum, ok := obj["id"].(int)
	if !ok {
		if f, isFloat := obj["id"].(float64); isFloat {
			idNum, ok = int(f), true
		}
	}
	if !ok || idNum <= 0 || idNum > 65535 {
		return fmt.Errorf("missing or out-of-range channel id (1-65535): %v", obj["id"])
	}

	name, _ := obj["name"].(string)
	protocol, _ := obj["protocol"].(string)
	enabled := true
	if e, ok := obj["enabled"].(bool); ok {
		enabled = e
	}

	configObj := map[string]interface{}{}
	if v, ok := obj["parameters"]; ok {
		configObj["parameters"] = v
	}
	if v, ok := obj["logging"]; ok {
		configObj["logging"] = v
	}
	if v, ok := obj["description"]; ok {
		configObj["description"] = v
	}
	configJSON, err := json.Marshal(configObj)
	if err != nil {
		return fmt.Errorf("marshaling channel config: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO channels (channel_id, name, protocol, enabled, config)
		VALUES (?, ?, ?, ?, ?)`,
		idNum, name, protocol, enabled, string(configJSON))
	return err
}

// insertChannelSpecificPoints walks every numeric-named subdirectory of
// comsrv/, loading the four point CSVs plus their mapping/ counterparts.
func (s *Syncer) insertChannelSpecificPoints(ctx context.Context, tx txExecer, configDir string, result *Result) (int, error) {
	entries, err := os.ReadDir(configDir)
	if err != nil {
		return 0, fmt.Errorf("syncer: reading %s: %w", configDir, err)
	}

	total := 0
	for _, entry := range entries {
		if !entry.IsDir() || !isAllDigits(entry.Name()) {
			continue
		}
		channelID, err := strconv.ParseUint(entry.Name(), 10, 16)
		if err != nil {
			continue
		}
		channelDir := filepath.Join(configDir, entry.Name())

		var protocol string
		if err := tx.QueryRowContext(ctx, `SELECT protocol FROM channels WHERE channel_id = ?`, channelID).Scan(&protocol); err != nil {
			protocol = "modbus_tcp"
		}

		for kind, table := range pointTables {
			n, err := s.insertPointsOfKind(ctx, tx, channelDir, kind, table, uint16(channelID), protocol, result)
			if err != nil {
				return total, err
			}
			total += n
		}
	}
	return total, nil
}

func (s *Syncer) insertPointsOfKind(ctx context.Context, tx txExecer, channelDir, kind, table string, channelID uint16, protocol string, result *Result) (int, error) {
	pointsFile := filepath.Join(channelDir, kind+".csv")
	if !fileExists(pointsFile) {
		return 0, nil
	}
	points, err := loadCSVRows(pointsFile)
	if err != nil {
		result.addError(fmt.Sprintf("channel-%d/%s.csv", channelID, kind), err)
		return 0, nil
	}

	mappingFile := filepath.Join(channelDir, "mapping", kind+"_mapping.csv")
	mappings := map[string]map[string]interface{}{}
	if fileExists(mappingFile) {
		rows, err := loadCSVRows(mappingFile)
		if err != nil {
			result.addError(fmt.Sprintf("channel-%d/mapping/%s_mapping.csv", channelID, kind), err)
		}
		for _, row := range rows {
			pointID, ok := row["point_id"]
			if !ok {
				continue
			}
			mappings[pointID] = normalizeProtocolMapping(protocol, row)
		}
	}

	count := 0
	for _, row := range points {
		pointID, err := parseUint32(row, "point_id")
		if err != nil {
			result.addError(fmt.Sprintf("channel-%d/%s/row", channelID, kind), err)
			continue
		}
		signalName := row["signal_name"]
		description := row["description"]
		unit := row["unit"]

		scale := parseFloat64Default(row, "scale", 1.0)
		offset := parseFloat64Default(row, "offset", 0.0)
		reverse := parseBoolDefault(row, "reverse", false)
		dataType := row["data_type"]

		switch kind {
		case "signal":
			scale, offset, dataType = 1.0, 0.0, "int"
		case "control":
			scale, offset, reverse, dataType = 1.0, 0.0, false, "bool"
		case "adjustment":
			reverse = false
		}

		mappingJSON := "null"
		if m, ok := mappings[strconv.FormatUint(uint64(pointID), 10)]; ok {
			b, err := json.Marshal(m)
			if err == nil {
				mappingJSON = string(b)
			}
		}

		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (channel_id, point_id, signal_name, scale, offset, unit, reverse, data_type, description, protocol_mappings)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, table),
			channelID, pointID, signalName, scale, offset, unit, reverse, dataType, description, mappingJSON); err != nil {
			result.addError(fmt.Sprintf("channel-%d/%s/point-%d", channelID, kind, pointID), err)
			continue
		}
		count++
	}
	return count, nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) == -1
}

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

var modsrvClearTables = []string{
	"measurement_routing", "action_routing", "instances",
	"measurement_points", "action_points", "property_templates",
	"products", "calculations",
}

// syncModsrv imports modsrv.yaml, the product hierarchy, instances,
// calculations and rules, grounded on syncer.rs's sync_modsrv.
func (s *Syncer) syncModsrv(ctx context.Context) (Result, error) {
	var result Result
	configDir := filepath.Join(s.configRoot, "modsrv")

	raw, err := os.ReadFile(filepath.Join(configDir, "modsrv.yaml"))
	if err != nil {
		return result, fmt.Errorf("syncer: reading modsrv.yaml: %w", err)
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return result, fmt.Errorf("syncer: parsing modsrv.yaml: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("syncer: starting modsrv transaction: %w", err)
	}
	defer tx.Rollback()

	n, err := execRowsAffected(ctx, tx, `DELETE FROM service_config WHERE service_name = ?`, "modsrv")
	if err != nil {
		return result, fmt.Errorf("syncer: clearing modsrv service_config: %w", err)
	}
	deleted := n
	for _, table := range modsrvClearTables {
		n, err := execRowsAffected(ctx, tx, "DELETE FROM "+table)
		if err != nil {
			return result, fmt.Errorf("syncer: clearing %s: %w", table, err)
		}
		deleted += n
	}
	result.ItemsDeleted = deleted

	flat := make(map[string]flatEntry)
	flattenJSON(doc, "", flat)
	for key, entry := range flat {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO service_config (service_name, key, value, type) VALUES (?, ?, ?, ?)`,
			"modsrv", key, entry.value, entry.valType); err != nil {
			return result, fmt.Errorf("syncer: inserting modsrv config %q: %w", key, err)
		}
		result.ItemsSynced++
	}

	n, err = s.syncModsrvProducts(ctx, tx, configDir, &result)
	if err != nil {
		return result, err
	}
	result.ItemsSynced += n

	instancesPath := filepath.Join(configDir, "instances.yaml")
	if fileExists(instancesPath) {
		n, err := s.syncInstances(ctx, tx, instancesPath, configDir, &result)
		if err != nil {
			return result, err
		}
		result.ItemsSynced += n
	}

	calculationsPath := filepath.Join(configDir, "calculations.yaml")
	if fileExists(calculationsPath) {
		n, err := s.syncCalculations(ctx, tx, calculationsPath)
		if err != nil {
			return result, err
		}
		result.ItemsSynced += n
	}

	rulesDir := filepath.Join(configDir, "rules")
	if fileExists(rulesDir) {
		if _, err := execRowsAffected(ctx, tx, `DELETE FROM rules`); err != nil {
			return result, fmt.Errorf("syncer: clearing rules: %w", err)
		}
		n, err := s.syncRules(ctx, tx, rulesDir, &result)
		if err != nil {
			return result, err
		}
		result.ItemsSynced += n
	}

	if err := touchSyncMetadata(ctx, tx, "modsrv", nowUnix()); err != nil {
		return result, fmt.Errorf("syncer: stamping modsrv sync_metadata: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("syncer: committing modsrv transaction: %w", err)
	}
	return result, nil
}

// syncModsrvProducts loads products/products.yaml (the hierarchy) and then
// each <product>/{measurements,actions,properties}.csv.
func (s *Syncer) syncModsrvProducts(ctx context.Context, tx txExecer, configDir string, result *Result) (int, error) {
	productsDir := filepath.Join(configDir, "products")
	if !fileExists(productsDir) {
		return 0, nil
	}

	count := 0
	productsYAML := filepath.Join(productsDir, "products.yaml")
	if fileExists(productsYAML) {
		raw, err := os.ReadFile(productsYAML)
		if err != nil {
			return count, fmt.Errorf("syncer: reading products.yaml: %w", err)
		}
		var doc struct {
			Products map[string]interface{} `yaml:"products"`
		}
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return count, fmt.Errorf("syncer: parsing products.yaml: %w", err)
		}
		for name, parent := range doc.Products {
			var parentName interface{}
			if p, ok := parent.(string); ok && p != "" {
				parentName = p
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO products (product_name, parent_name) VALUES (?, ?)`, name, parentName); err != nil {
				result.addError(fmt.Sprintf("product:%s", name), err)
				continue
			}
			count++
		}
	}

	entries, err := os.ReadDir(productsDir)
	if err != nil {
		return count, fmt.Errorf("syncer: reading %s: %w", productsDir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		productName := entry.Name()
		productDir := filepath.Join(productsDir, productName)

		n, err := s.syncProductPoints(ctx, tx, productDir, productName, "measurements.csv", "measurement_points",
			"measurement_id", result)
		if err != nil {
			return count, err
		}
		count += n

		n, err = s.syncProductPoints(ctx, tx, productDir, productName, "actions.csv", "action_points",
			"action_id", result)
		if err != nil {
			return count, err
		}
		count += n

		n, err = s.syncPropertyTemplates(ctx, tx, productDir, productName, result)
		if err != nil {
			return count, err
		}
		count += n
	}
	return count, nil
}

func (s *Syncer) syncProductPoints(ctx context.Context, tx txExecer, productDir, productName, file, table, idCol string, result *Result) (int, error) {
	path := filepath.Join(productDir, file)
	if !fileExists(path) {
		return 0, nil
	}
	rows, err := loadCSVRows(path)
	if err != nil {
		result.addError(fmt.Sprintf("%s/%s", productName, file), err)
		return 0, nil
	}
	count := 0
	for _, row := range rows {
		id, err := parseUint32(row, idCol)
		if err != nil {
			result.addError(fmt.Sprintf("%s/%s row", productName, file), err)
			continue
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (product_name, %s, name, unit, data_type, description)
			VALUES (?, ?, ?, ?, ?, ?)`, table, idCol),
			productName, id, row["name"], row["unit"], defaultString(row["data_type"], "Float64"), row["description"]); err != nil {
			result.addError(fmt.Sprintf("%s/%s/%s-%d", productName, file, idCol, id), err)
			continue
		}
		count++
	}
	return count, nil
}

func (s *Syncer) syncPropertyTemplates(ctx context.Context, tx txExecer, productDir, productName string, result *Result) (int, error) {
	path := filepath.Join(productDir, "properties.csv")
	if !fileExists(path) {
		return 0, nil
	}
	rows, err := loadCSVRows(path)
	if err != nil {
		result.addError(fmt.Sprintf("%s/properties.csv", productName), err)
		return 0, nil
	}
	count := 0
	for _, row := range rows {
		pointIndex, err := parseUint32(row, "point_index")
		if err != nil {
			result.addError(fmt.Sprintf("%s/properties.csv row", productName), err)
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO property_templates (product_name, point_index, name, default_value, description)
			VALUES (?, ?, ?, ?, ?)`,
			productName, pointIndex, row["name"], row["default_value"], row["description"]); err != nil {
			result.addError(fmt.Sprintf("%s/properties/point-%d", productName, pointIndex), err)
			continue
		}
		count++
	}
	return count, nil
}

// syncInstances supports both the array form (instance_id assigned
// explicitly) and the legacy map form (instance_id = MAX+1).
func (s *Syncer) syncInstances(ctx context.Context, tx txExecer, instancesPath, configDir string, result *Result) (int, error) {
	raw, err := os.ReadFile(instancesPath)
	if err != nil {
		return 0, fmt.Errorf("syncer: reading instances.yaml: %w", err)
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return 0, fmt.Errorf("syncer: parsing instances.yaml: %w", err)
	}

	count := 0
	switch instances := doc["instances"].(type) {
	case []interface{}:
		for _, item := range instances {
			obj, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			instanceID := uint32(toFloat(obj["instance_id"]))
			instanceName, _ := obj["instance_name"].(string)
			productName, _ := obj["product_name"].(string)
			n, err := s.insertInstance(ctx, tx, instanceID, instanceName, productName, configDir, result)
			if err != nil {
				return count, err
			}
			count += n
		}
	case map[string]interface{}:
		for instanceName, item := range instances {
			obj, _ := item.(map[string]interface{})
			productName, _ := obj["product_name"].(string)
			instanceID, err := s.nextInstanceID(ctx, tx)
			if err != nil {
				return count, err
			}
			n, err := s.insertInstance(ctx, tx, instanceID, instanceName, productName, configDir, result)
			if err != nil {
				return count, err
			}
			count += n
		}
	}
	return count, nil
}

func (s *Syncer) nextInstanceID(ctx context.Context, tx txExecer) (uint32, error) {
	var maxID *int64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(instance_id) FROM instances`).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("syncer: reading max instance_id: %w", err)
	}
	if maxID == nil {
		return 1, nil
	}
	return uint32(*maxID) + 1, nil
}

func (s *Syncer) insertInstance(ctx context.Context, tx txExecer, instanceID uint32, instanceName, productName, configDir string, result *Result) (int, error) {
	if instanceName == "" {
		result.addError(fmt.Sprintf("instance-id-%d", instanceID), fmt.Errorf("missing instance_name"))
		return 0, nil
	}
	if productName == "" {
		result.addError(fmt.Sprintf("instance:%s", instanceName), fmt.Errorf("missing product_name"))
		return 0, nil
	}

	instanceDir := filepath.Join(configDir, "instances", instanceName)
	properties := "{}"
	if fileExists(instanceDir) {
		properties = loadInstanceProperties(instanceDir)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO instances (instance_id, instance_name, product_name, properties)
		VALUES (?, ?, ?, ?)`,
		instanceID, instanceName, productName, properties); err != nil {
		result.addError(fmt.Sprintf("instance:%s", instanceName), err)
		return 0, nil
	}
	count := 1

	if fileExists(instanceDir) {
		routingCSV := filepath.Join(instanceDir, "channel_routing.csv")
		if fileExists(routingCSV) {
			n, err := s.insertInstanceMappings(ctx, tx, instanceID, instanceName, routingCSV, result)
			if err != nil {
				return count, err
			}
			count += n
		}
	}
	return count, nil
}

func loadInstanceProperties(instanceDir string) string {
	path := filepath.Join(instanceDir, "properties.csv")
	if !fileExists(path) {
		return "{}"
	}
	rows, err := loadCSVRows(path)
	if err != nil {
		return "{}"
	}
	props := make(map[string]string, len(rows))
	for _, row := range rows {
		idx, ok := row["point_index"]
		if !ok {
			continue
		}
		props[idx] = row["value"]
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// insertInstanceMappings splits channel_routing.csv rows by instance_type:
// "M" measurement points route from T/S channels into measurement_routing,
// "A" action points route into action_routing from C/A channels; any other
// value is a recoverable per-row error (spec.md §4.4.3).
func (s *Syncer) insertInstanceMappings(ctx context.Context, tx txExecer, instanceID uint32, instanceName, path string, result *Result) (int, error) {
	rows, err := loadCSVRows(path)
	if err != nil {
		result.addError(fmt.Sprintf("instance:%s/channel_routing.csv", instanceName), err)
		return 0, nil
	}

	count := 0
	for _, row := range rows {
		channelID, _ := strconv.ParseUint(row["channel_id"], 10, 16)
		channelType := row["channel_type"]
		channelPointID, _ := strconv.ParseUint(row["channel_point_id"], 10, 32)
		instanceType := row["instance_type"]
		instancePointID, _ := strconv.ParseUint(row["instance_point_id"], 10, 32)

		var execErr error
		switch instanceType {
		case "M":
			_, execErr = tx.ExecContext(ctx, `
				INSERT INTO measurement_routing (instance_id, channel_id, channel_type, channel_point_id, measurement_id, enabled)
				VALUES (?, ?, ?, ?, ?, 1)`,
				instanceID, channelID, channelType, channelPointID, instancePointID)
		case "A":
			_, execErr = tx.ExecContext(ctx, `
				INSERT INTO action_routing (instance_id, action_id, channel_id, channel_type, channel_point_id, enabled)
				VALUES (?, ?, ?, ?, ?, 1)`,
				instanceID, instancePointID, channelID, channelType, channelPointID)
		default:
			execErr = fmt.Errorf("invalid instance_type %q: must be M or A", instanceType)
		}
		if execErr != nil {
			result.addError(fmt.Sprintf("routing %d:%s:%d for %s", channelID, channelType, channelPointID, instanceName), execErr)
			continue
		}
		count++
	}
	return count, nil
}

func (s *Syncer) syncCalculations(ctx context.Context, tx txExecer, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("syncer: reading calculations.yaml: %w", err)
	}
	var doc struct {
		Calculations []struct {
			Name            string                 `yaml:"name"`
			Description     string                 `yaml:"description"`
			CalculationType map[string]interface{} `yaml:"calculation_type"`
			Output          struct {
				Inst uint32 `yaml:"inst"`
				Type string `yaml:"type"`
				ID   uint32 `yaml:"id"`
			} `yaml:"output"`
			Enabled bool `yaml:"enabled"`
		} `yaml:"calculations"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return 0, fmt.Errorf("syncer: parsing calculations.yaml: %w", err)
	}

	count := 0
	for _, calc := range doc.Calculations {
		calcTypeJSON, err := json.Marshal(calc.CalculationType)
		if err != nil {
			return count, fmt.Errorf("syncer: marshaling calculation_type for %q: %w", calc.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO calculations (calculation_name, description, calculation_type, output_inst, output_type, output_id, enabled)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (calculation_name) DO UPDATE SET
				description = excluded.description, calculation_type = excluded.calculation_type,
				output_inst = excluded.output_inst, output_type = excluded.output_type,
				output_id = excluded.output_id, enabled = excluded.enabled`,
			calc.Name, calc.Description, string(calcTypeJSON), calc.Output.Inst, calc.Output.Type, calc.Output.ID, calc.Enabled); err != nil {
			return count, fmt.Errorf("syncer: upserting calculation %q: %w", calc.Name, err)
		}
		count++
	}
	return count, nil
}

// syncRules loads every *.json/*.yaml/*.yml file under rules/ (vue-flow /
// node-red compatible documents) into the rules table.
func (s *Syncer) syncRules(ctx context.Context, tx txExecer, rulesDir string, result *Result) (int, error) {
	entries, err := os.ReadDir(rulesDir)
	if err != nil {
		return 0, fmt.Errorf("syncer: reading %s: %w", rulesDir, err)
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(rulesDir, entry.Name())
		ext := strings.ToLower(filepath.Ext(entry.Name()))

		var doc map[string]interface{}
		raw, err := os.ReadFile(path)
		if err != nil {
			result.addError(entry.Name(), err)
			continue
		}
		switch ext {
		case ".json":
			err = json.Unmarshal(raw, &doc)
		case ".yaml", ".yml":
			err = yaml.Unmarshal(raw, &doc)
		default:
			continue
		}
		if err != nil {
			result.addError(entry.Name(), err)
			continue
		}

		name, _ := doc["name"].(string)
		var description interface{}
		if d, ok := doc["description"].(string); ok {
			description = d
		}
		enabled := true
		if e, ok := doc["enabled"].(bool); ok {
			enabled = e
		}
		priority := int64(toFloat(doc["priority"]))

		flowSource := doc
		if fj, ok := doc["flow_json"]; ok {
			if m, ok := fj.(map[string]interface{}); ok {
				flowSource = m
			}
		}
		flowJSON, err := json.Marshal(flowSource)
		if err != nil {
			result.addError(entry.Name(), err)
			continue
		}
		nodesJSON := []byte("[]")
		if nodes, ok := doc["nodes"]; ok {
			if b, err := json.Marshal(nodes); err == nil {
				nodesJSON = b
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rules (name, description, flow_json, nodes_json, enabled, priority)
			VALUES (?, ?, ?, ?, ?, ?)`,
			name, description, string(flowJSON), string(nodesJSON), enabled, priority); err != nil {
			result.addError(entry.Name(), err)
			continue
		}
		count++
	}
	return count, nil
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

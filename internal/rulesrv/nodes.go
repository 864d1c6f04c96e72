// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rulesrv

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/EvanL1/VoltageEMS-sub001/pkg/schema"
	"github.com/google/uuid"
)

// executeNode dispatches to the node-kind-specific semantics of spec.md
// §4.5.3 and returns the node's JSON-serializable result.
func executeNode(ctx context.Context, ectx *ExecutionContext, node schema.NodeDefinition, variables map[string]interface{}) (interface{}, error) {
	switch node.NodeType {
	case schema.NodeInput:
		return execInput(ctx, ectx, node.Config)
	case schema.NodeCondition:
		return execConditionNode(node.Config, variables)
	case schema.NodeTransform:
		return execTransform(node.Config, variables)
	case schema.NodeAction:
		return execAction(ctx, ectx, node.Config)
	case schema.NodeAggregate:
		return execAggregate(node.Config, variables)
	default:
		return nil, fmt.Errorf("rulesrv: unknown node type %q", node.NodeType)
	}
}

// execInput implements the Input node: config.source is an RTDB key, read
// as a string, try JSON parse, else "value:timestamp", else raw string;
// a missing key returns nil (spec.md §4.5.3).
func execInput(ctx context.Context, ectx *ExecutionContext, config json.RawMessage) (interface{}, error) {
	var cfg struct {
		Source string `json:"source"`
	}
	if err := json.Unmarshal(config, &cfg); err != nil {
		return nil, fmt.Errorf("rulesrv: Input node config: %w", err)
	}
	raw, ok, err := ectx.RTDB.Get(ctx, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("rulesrv: Input node reading %q: %w", cfg.Source, err)
	}
	if !ok {
		return nil, nil
	}
	s := string(raw)

	var parsed interface{}
	if err := json.Unmarshal(raw, &parsed); err == nil {
		return parsed, nil
	}
	if idx := strings.LastIndex(s, ":"); idx > 0 {
		if v, err := strconv.ParseFloat(s[:idx], 64); err == nil {
			return v, nil
		}
	}
	return s, nil
}

// execConditionNode implements the Condition node: config.expression
// evaluated by the shared ad-hoc mini-language (expr.go).
func execConditionNode(config json.RawMessage, variables map[string]interface{}) (interface{}, error) {
	var cfg struct {
		Expression string `json:"expression"`
	}
	if err := json.Unmarshal(config, &cfg); err != nil {
		return nil, fmt.Errorf("rulesrv: Condition node config: %w", err)
	}
	result, err := evalCondition(cfg.Expression, variables)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// execTransform implements the Transform node's "scale" and "threshold"
// kinds (spec.md §4.5.3).
func execTransform(config json.RawMessage, variables map[string]interface{}) (interface{}, error) {
	var cfg struct {
		TransformType string `json:"transform_type"`
		Input         struct {
			ValueExpr string  `json:"value_expr"`
			Factor    float64 `json:"factor"`
			Threshold float64 `json:"threshold"`
		} `json:"input"`
	}
	if err := json.Unmarshal(config, &cfg); err != nil {
		return nil, fmt.Errorf("rulesrv: Transform node config: %w", err)
	}
	v, ok := toNumber(resolveOperand(cfg.Input.ValueExpr, variables))
	if !ok {
		return nil, fmt.Errorf("rulesrv: Transform node: %q did not resolve to a number", cfg.Input.ValueExpr)
	}
	switch cfg.TransformType {
	case "scale":
		return v * cfg.Input.Factor, nil
	case "threshold":
		return v >= cfg.Input.Threshold, nil
	default:
		return nil, fmt.Errorf("rulesrv: Transform node: unknown transform_type %q", cfg.TransformType)
	}
}

// execAggregate implements the Aggregate node's and/or/sum/avg kinds over
// a set of variable names (spec.md §4.5.3).
func execAggregate(config json.RawMessage, variables map[string]interface{}) (interface{}, error) {
	var cfg struct {
		AggregationType string   `json:"aggregation_type"`
		Inputs          []string `json:"inputs"`
	}
	if err := json.Unmarshal(config, &cfg); err != nil {
		return nil, fmt.Errorf("rulesrv: Aggregate node config: %w", err)
	}

	switch cfg.AggregationType {
	case "and":
		result := true
		for _, name := range cfg.Inputs {
			if !truthy(variables[name]) {
				result = false
				break
			}
		}
		if len(cfg.Inputs) == 0 {
			result = false
		}
		return result, nil
	case "or":
		result := false
		for _, name := range cfg.Inputs {
			if truthy(variables[name]) {
				result = true
				break
			}
		}
		return result, nil
	case "sum", "avg":
		var sum float64
		var count int
		for _, name := range cfg.Inputs {
			if n, ok := toNumber(variables[name]); ok {
				sum += n
				count++
			}
		}
		if cfg.AggregationType == "sum" {
			return sum, nil
		}
		if count == 0 {
			return 0.0, nil
		}
		return sum / float64(count), nil
	default:
		return nil, fmt.Errorf("rulesrv: Aggregate node: unknown aggregation_type %q", cfg.AggregationType)
	}
}

// execAction implements the Action node's three config shapes (spec.md
// §4.5.3).
func execAction(ctx context.Context, ectx *ExecutionContext, config json.RawMessage) (interface{}, error) {
	var generic map[string]interface{}
	if err := json.Unmarshal(config, &generic); err != nil {
		return nil, fmt.Errorf("rulesrv: Action node config: %w", err)
	}

	if actionType, ok := generic["action_type"].(string); ok && actionType != "" {
		return ectx.Handlers.dispatch(ctx, actionType, generic)
	}

	if controlID, ok := generic["control_id"]; ok {
		params := map[string]interface{}{"control_id": controlID, "action_type": "control"}
		return ectx.Handlers.dispatch(ctx, "control", params)
	}

	// Legacy shape: {device_id, operation, parameters?}.
	deviceID, hasDevice := generic["device_id"]
	operation, hasOp := generic["operation"]
	if hasDevice && hasOp {
		if ectx.Handlers.Len() > 0 {
			params := map[string]interface{}{
				"device_id":   deviceID,
				"point":       operation,
				"value":       generic["parameters"],
				"channel":     "default_channel",
				"action_type": "device_control",
			}
			result, err := ectx.Handlers.dispatch(ctx, "device_control", params)
			if err == nil {
				return result, nil
			}
		}
		return queueLegacyCommand(ctx, ectx, generic)
	}

	return nil, fmt.Errorf("rulesrv: Action node config matches none of the known shapes: %s", string(config))
}

// queueLegacyCommand writes a fallback command record into the RTDB under
// ems:control:cmd:<uuid> when no handler could service a legacy Action
// node, returning {command_id, status: "queued"} (spec.md §4.5.3).
func queueLegacyCommand(ctx context.Context, ectx *ExecutionContext, params map[string]interface{}) (interface{}, error) {
	commandID := uuid.NewString()
	record, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("rulesrv: marshaling legacy command: %w", err)
	}
	key := "ems:control:cmd:" + commandID
	if err := ectx.RTDB.Set(ctx, key, record); err != nil {
		return nil, fmt.Errorf("rulesrv: queuing legacy command %s: %w", key, err)
	}
	return map[string]interface{}{"command_id": commandID, "status": "queued"}, nil
}

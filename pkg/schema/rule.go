// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package schema

import "encoding/json"

// NodeType is one of the five DAG node kinds (spec.md §3, §4.5).
type NodeType string

const (
	NodeInput     NodeType = "Input"
	NodeCondition NodeType = "Condition"
	NodeTransform NodeType = "Transform"
	NodeAction    NodeType = "Action"
	NodeAggregate NodeType = "Aggregate"
)

// NodeState is the runtime execution state of a DAG node.
type NodeState string

const (
	StatePending   NodeState = "Pending"
	StateRunning   NodeState = "Running"
	StateCompleted NodeState = "Completed"
	StateFailed    NodeState = "Failed"
)

// NodeDefinition is one node of a persisted DagRule.
type NodeDefinition struct {
	ID       string          `json:"id"`
	NodeType NodeType        `json:"node_type"`
	Config   json.RawMessage `json:"config"`
}

// Edge connects two nodes with an optional guard-condition expression,
// evaluated against the same mini-language as a Condition node.
type Edge struct {
	From      string  `json:"from"`
	To        string  `json:"to"`
	Condition *string `json:"condition,omitempty"`
}

// DagRule is the persisted shape of the `rules` table's flow_json/nodes_json.
type DagRule struct {
	ID          int64            `db:"id" json:"id"`
	Name        string           `db:"name" json:"name"`
	Description *string          `db:"description" json:"description,omitempty"`
	Enabled     bool             `db:"enabled" json:"enabled"`
	Priority    int              `db:"priority" json:"priority"`
	Nodes       []NodeDefinition `json:"nodes"`
	Edges       []Edge           `json:"edges"`
}

// RuleExecutionResult is the record persisted under ems:rule:execution:<id>
// and returned to the HTTP caller after an invocation.
type RuleExecutionResult struct {
	RuleID      int64           `json:"rule_id"`
	ExecutionID string          `json:"execution_id"`
	Timestamp   int64           `json:"timestamp"`
	DurationMs  int64           `json:"duration_ms"`
	Status      string          `json:"status"` // "completed" | "failed"
	Output      json.RawMessage `json:"output,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	Error       string          `json:"error,omitempty"`
}

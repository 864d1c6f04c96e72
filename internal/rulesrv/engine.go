// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rulesrv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/EvanL1/VoltageEMS-sub001/internal/metrics"
	"github.com/EvanL1/VoltageEMS-sub001/internal/repository"
	"github.com/EvanL1/VoltageEMS-sub001/internal/rtdb"
	"github.com/EvanL1/VoltageEMS-sub001/pkg/schema"
	"github.com/google/uuid"
)

// Rule-loading failures, all fatal to the invocation (spec.md §4.5.5).
var (
	ErrRuleNotFound = errors.New("rulesrv: rule not found")
	ErrRuleDisabled = errors.New("rulesrv: rule is disabled")
)

// ExecutionContext bundles the resources a running DAG needs: the RTDB
// handle, the action-handler registry and the post-processor registry
// (spec.md §4.5.2's "runtime rule, ExecutionContext").
type ExecutionContext struct {
	RTDB           *rtdb.RTDB
	Handlers       *HandlerRegistry
	PostProcessors *PostProcessorRegistry
}

// Engine loads rules from the SQLite rules table and executes them
// against an ExecutionContext.
type Engine struct {
	rules *repository.RuleRepository
	ectx  *ExecutionContext
}

// NewEngine builds an Engine. handlers/postProcessors may be nil, in
// which case empty registries are created — an Action node with no
// registered handlers always falls through to the legacy RTDB queue, and
// a run with no post-processors simply persists the execution record.
func NewEngine(rules *repository.RuleRepository, rtdbHandle *rtdb.RTDB, handlers *HandlerRegistry, postProcessors *PostProcessorRegistry) *Engine {
	if handlers == nil {
		handlers = NewHandlerRegistry()
	}
	if postProcessors == nil {
		postProcessors = NewPostProcessorRegistry()
	}
	return &Engine{
		rules: rules,
		ectx: &ExecutionContext{
			RTDB:           rtdbHandle,
			Handlers:       handlers,
			PostProcessors: postProcessors,
		},
	}
}

// ExecuteByID loads rule id, builds its graph and runs it with the given
// seed input (spec.md §4.5.2-§4.5.4). Rule-loading errors (missing,
// disabled) and graph-build errors (such as a cycle) are returned directly
// and never produce an execution record. A failing node only stops its own
// downstream nodes; the run still yields a "completed" record, which is
// persisted and returned. If persisting fails, the record is returned
// together with the error.
func (e *Engine) ExecuteByID(ctx context.Context, ruleID int64, input map[string]interface{}) (*schema.RuleExecutionResult, error) {
	rule, err := e.rules.Get(ctx, ruleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("rulesrv: loading rule %d: %w", ruleID, err)
	}
	return e.Execute(ctx, rule, input)
}

// Execute runs a loaded rule's graph to completion and persists the
// resulting RuleExecutionResult.
func (e *Engine) Execute(ctx context.Context, rule *schema.DagRule, input map[string]interface{}) (*schema.RuleExecutionResult, error) {
	if !rule.Enabled {
		return nil, fmt.Errorf("rulesrv: rule %d (%s): %w", rule.ID, rule.Name, ErrRuleDisabled)
	}

	g, err := NewGraph(rule)
	if err != nil {
		return nil, fmt.Errorf("rulesrv: building graph for rule %d (%s): %w", rule.ID, rule.Name, err)
	}

	start := time.Now()
	executionID := uuid.NewString()

	variables := make(map[string]interface{}, len(input))
	for k, v := range input {
		variables[k] = v
	}

	lastAction, runErr := e.run(ctx, g, variables)

	result := &schema.RuleExecutionResult{
		RuleID:      rule.ID,
		ExecutionID: executionID,
		Timestamp:   time.Now().Unix(),
		DurationMs:  time.Since(start).Milliseconds(),
	}
	if inputJSON, err := json.Marshal(input); err == nil {
		result.Input = inputJSON
	}

	if runErr != nil {
		result.Status = "failed"
		result.Error = runErr.Error()
	} else {
		result.Status = "completed"
		output := lastAction
		if output == nil {
			output = map[string]interface{}{"status": "completed"}
		}
		if outputJSON, err := json.Marshal(output); err == nil {
			result.Output = outputJSON
		}
	}

	metrics.RuleExecutions.WithLabelValues(result.Status).Inc()

	e.ectx.PostProcessors.runAll(ctx, result)
	if err := e.persist(ctx, result); err != nil {
		return result, fmt.Errorf("rulesrv: persisting execution %s: %w", executionID, err)
	}

	return result, nil
}

// run implements spec.md §4.5.2's reset / ready-set sweep loop, returning
// the result of the last Completed Action node in graph iteration order
// (nil if none completed).
func (e *Engine) run(ctx context.Context, g *Graph, variables map[string]interface{}) (interface{}, error) {
	g.reset()

	for {
		ready := g.readyNodes(variables)
		if len(ready) == 0 {
			break
		}
		for _, id := range ready {
			node := g.nodes[id]
			node.state = schema.StateRunning
			result, err := executeNode(ctx, e.ectx, node.def, variables)
			if err != nil {
				node.state = schema.StateFailed
				node.err = err
				continue
			}
			node.state = schema.StateCompleted
			variables[node.def.ID] = result
		}
	}

	var lastAction interface{}
	var sawAction bool
	for _, id := range g.order {
		node := g.nodes[id]
		if node.def.NodeType == schema.NodeAction && node.state == schema.StateCompleted {
			lastAction = variables[id]
			sawAction = true
		}
	}
	if !sawAction {
		return nil, nil
	}
	return lastAction, nil
}

func (e *Engine) persist(ctx context.Context, result *schema.RuleExecutionResult) error {
	data, err := marshalResult(result)
	if err != nil {
		return err
	}
	key := "ems:rule:execution:" + result.ExecutionID
	return e.ectx.RTDB.Set(ctx, key, data)
}

func marshalResult(result *schema.RuleExecutionResult) ([]byte, error) {
	return json.Marshal(result)
}

// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rulesrv

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/EvanL1/VoltageEMS-sub001/internal/rtdb"
	"github.com/EvanL1/VoltageEMS-sub001/pkg/schema"
	"github.com/stretchr/testify/require"
)

func newTestContext() (*ExecutionContext, *rtdb.RTDB) {
	r := rtdb.New(rtdb.NewMemoryStore())
	return &ExecutionContext{
		RTDB:           r,
		Handlers:       NewHandlerRegistry(),
		PostProcessors: NewPostProcessorRegistry(),
	}, r
}

func node(id string, typ schema.NodeType, config string) schema.NodeDefinition {
	return schema.NodeDefinition{ID: id, NodeType: typ, Config: json.RawMessage(config)}
}

func TestNewGraph_RejectsCycle(t *testing.T) {
	rule := &schema.DagRule{
		Nodes: []schema.NodeDefinition{
			node("a", schema.NodeInput, `{}`),
			node("b", schema.NodeInput, `{}`),
		},
		Edges: []schema.Edge{
			{From: "a", To: "b"},
			{From: "b", To: "a"},
		},
	}
	_, err := NewGraph(rule)
	require.ErrorIs(t, err, ErrCycle)
}

func TestEvalCondition(t *testing.T) {
	vars := map[string]interface{}{"x": 5.0, "name": "ok", "flag": true}

	ok, err := evalCondition("$x > 3", vars)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = evalCondition("$x < 3", vars)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = evalCondition(`$name == "ok"`, vars)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = evalCondition(`$name != "ok"`, vars)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = evalCondition("$x", vars)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = evalCondition(`$name > 3`, vars)
	require.Error(t, err)

	// JSON-equality is type-aware: a bool never equals a string, regardless
	// of how it would render.
	ok, err = evalCondition(`$flag == "true"`, vars)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEngine_InputConditionActionPipeline(t *testing.T) {
	ectx, r := newTestContext()
	require.NoError(t, r.Set(context.Background(), "ems:point:temp", []byte("42.5:1000")))

	rule := &schema.DagRule{
		ID:      1,
		Name:    "high-temp-alarm",
		Enabled: true,
		Nodes: []schema.NodeDefinition{
			node("read", schema.NodeInput, `{"source":"ems:point:temp"}`),
			node("hot", schema.NodeCondition, `{"expression":"$read > 40"}`),
			node("alarm", schema.NodeAction, `{"device_id":"plc-1","operation":"raise_alarm","parameters":7}`),
		},
		Edges: []schema.Edge{
			{From: "read", To: "hot"},
			{From: "hot", To: "alarm"},
		},
	}

	e := &Engine{ectx: ectx}
	result, err := e.Execute(context.Background(), rule, nil)
	require.NoError(t, err)
	require.Equal(t, "completed", result.Status)
	require.Contains(t, string(result.Output), "queued")

	var cmdKeys []string
	cmdKeys, err = r.Store().ScanKeys(context.Background())
	require.NoError(t, err)
	found := false
	for _, k := range cmdKeys {
		if k == "ems:rule:execution:"+result.ExecutionID {
			found = true
		}
	}
	require.True(t, found, "execution record should be persisted under ems:rule:execution:<id>")
}

func TestEngine_DisabledRuleIsFatal(t *testing.T) {
	ectx, _ := newTestContext()
	e := &Engine{ectx: ectx}
	rule := &schema.DagRule{ID: 1, Name: "off", Enabled: false}
	_, err := e.Execute(context.Background(), rule, nil)
	require.ErrorIs(t, err, ErrRuleDisabled)
}

func TestEngine_DownstreamOfFailedNodeNeverRuns(t *testing.T) {
	ectx, _ := newTestContext()
	rule := &schema.DagRule{
		ID:      2,
		Name:    "broken-input",
		Enabled: true,
		Nodes: []schema.NodeDefinition{
			node("bad", schema.NodeTransform, `{"transform_type":"scale","input":{"value_expr":"$missing","factor":2}}`),
			node("act", schema.NodeAction, `{"control_id":1}`),
		},
		Edges: []schema.Edge{{From: "bad", To: "act"}},
	}
	e := &Engine{ectx: ectx}
	result, err := e.Execute(context.Background(), rule, nil)
	require.NoError(t, err)
	// "bad" fails, so "act" never becomes ready: no action completed.
	require.Equal(t, "completed", result.Status)
	require.JSONEq(t, `{"status":"completed"}`, string(result.Output))
}

func TestExecAggregate(t *testing.T) {
	vars := map[string]interface{}{"a": 1.0, "b": 2.0, "c": true, "d": false}

	out, err := execAggregate(json.RawMessage(`{"aggregation_type":"sum","inputs":["a","b"]}`), vars)
	require.NoError(t, err)
	require.Equal(t, 3.0, out)

	out, err = execAggregate(json.RawMessage(`{"aggregation_type":"avg","inputs":["a","b"]}`), vars)
	require.NoError(t, err)
	require.Equal(t, 1.5, out)

	out, err = execAggregate(json.RawMessage(`{"aggregation_type":"avg","inputs":[]}`), vars)
	require.NoError(t, err)
	require.Equal(t, 0.0, out)

	out, err = execAggregate(json.RawMessage(`{"aggregation_type":"and","inputs":["c"]}`), vars)
	require.NoError(t, err)
	require.Equal(t, true, out)

	out, err = execAggregate(json.RawMessage(`{"aggregation_type":"or","inputs":["c","d"]}`), vars)
	require.NoError(t, err)
	require.Equal(t, true, out)
}

type fakeHandler struct {
	actionType string
	result     interface{}
}

func (f fakeHandler) CanHandle(actionType string) bool { return actionType == f.actionType }
func (f fakeHandler) Handle(ctx context.Context, actionType string, params map[string]interface{}) (interface{}, error) {
	return f.result, nil
}

func TestExecAction_RegisteredHandlerWins(t *testing.T) {
	ectx, _ := newTestContext()
	ectx.Handlers.Register(fakeHandler{actionType: "device_control", result: map[string]interface{}{"ok": true}})

	out, err := execAction(context.Background(), ectx, json.RawMessage(`{"device_id":"d1","operation":"set","parameters":5}`))
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"ok": true}, out)
}

func TestExecAction_LegacyFallsBackToRTDBQueueWithoutHandlers(t *testing.T) {
	ectx, _ := newTestContext()
	out, err := execAction(context.Background(), ectx, json.RawMessage(`{"device_id":"d1","operation":"set","parameters":5}`))
	require.NoError(t, err)
	m, ok := out.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "queued", m["status"])
}

// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package rulesrv implements the rule DAG executor (C5, spec.md §4.5):
// graph construction with cycle rejection, topological execution with
// per-edge guard conditions, the five node kinds, an action-handler
// registry and a post-processor registry.
package rulesrv

import (
	"fmt"

	"github.com/EvanL1/VoltageEMS-sub001/pkg/schema"
)

// ErrCycle is returned by NewGraph when the rule's edges describe a cycle.
var ErrCycle = fmt.Errorf("rulesrv: rule graph contains a cycle")

// graphNode tracks one DAG node's static shape and mutable run state.
type graphNode struct {
	def   schema.NodeDefinition
	state schema.NodeState
	err   error
}

// graphEdge is one directed edge with its optional guard condition.
type graphEdge struct {
	from, to string
	guard    *string
}

// Graph is a constructed, cycle-free DAG ready to execute.
type Graph struct {
	order []string // insertion order, used as the Action-node tie-break (spec.md §4.5.2 step 4)
	nodes map[string]*graphNode
	out   map[string][]graphEdge // from -> edges leaving it
	in    map[string][]graphEdge // to -> edges entering it
}

// NewGraph builds a directed graph from a DagRule's nodes and edges,
// preserving node definition order, and rejects the rule if it cycles
// (spec.md §4.5.1).
func NewGraph(rule *schema.DagRule) (*Graph, error) {
	g := &Graph{
		nodes: make(map[string]*graphNode, len(rule.Nodes)),
		out:   make(map[string][]graphEdge),
		in:    make(map[string][]graphEdge),
	}
	for _, def := range rule.Nodes {
		g.order = append(g.order, def.ID)
		g.nodes[def.ID] = &graphNode{def: def, state: schema.StatePending}
	}
	for _, e := range rule.Edges {
		edge := graphEdge{from: e.From, to: e.To, guard: e.Condition}
		g.out[e.From] = append(g.out[e.From], edge)
		g.in[e.To] = append(g.in[e.To], edge)
	}
	if g.hasCycle() {
		return nil, ErrCycle
	}
	return g, nil
}

// hasCycle runs a white/gray/black DFS over every node.
func (g *Graph) hasCycle() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))
	var visit func(id string) bool
	visit = func(id string) bool {
		switch color[id] {
		case gray:
			return true
		case black:
			return false
		}
		color[id] = gray
		for _, e := range g.out[id] {
			if visit(e.to) {
				return true
			}
		}
		color[id] = black
		return false
	}
	for _, id := range g.order {
		if color[id] == white && visit(id) {
			return true
		}
	}
	return false
}

func (g *Graph) reset() {
	for _, n := range g.nodes {
		n.state = schema.StatePending
		n.err = nil
	}
}

// readyNodes returns every Pending node whose predecessors are all
// Completed and whose incoming guard conditions all hold (spec.md
// §4.5.2 step 3). A node with no predecessors is ready immediately.
func (g *Graph) readyNodes(variables map[string]interface{}) []string {
	var ready []string
	for _, id := range g.order {
		n := g.nodes[id]
		if n.state != schema.StatePending {
			continue
		}
		edges := g.in[id]
		allMet := true
		for _, e := range edges {
			pred := g.nodes[e.from]
			if pred == nil || pred.state != schema.StateCompleted {
				allMet = false
				break
			}
			if e.guard != nil {
				ok, err := evalGuard(*e.guard, variables)
				if err != nil || !ok {
					allMet = false
					break
				}
			}
		}
		if allMet {
			ready = append(ready, id)
		}
	}
	return ready
}

func evalGuard(expr string, variables map[string]interface{}) (bool, error) {
	return evalCondition(expr, variables)
}

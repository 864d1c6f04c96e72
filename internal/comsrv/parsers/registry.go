// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package parsers implements the optional protocol packet parser registry
// from spec.md §4.3.5: a diagnostic layer producing human-readable debug
// descriptions of raw protocol frames.
package parsers

import (
	"encoding/hex"
	"fmt"
	"sync"
)

// Direction is which way a frame travelled.
type Direction string

const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)

// PacketParseResult is what every parser (and the hex-dump fallback)
// produces.
type PacketParseResult struct {
	Protocol    string         `json:"protocol"`
	Direction   Direction      `json:"direction"`
	HexData     string         `json:"hex_data"`
	Description string         `json:"description"`
	Fields      map[string]any `json:"fields,omitempty"`
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
}

// Parser inspects a raw frame and produces a diagnostic description.
type Parser func(data []byte, direction Direction) PacketParseResult

// Registry maps protocol names to parsers. The zero value is usable.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// Register installs a parser under a protocol name, replacing any
// previous registration.
func (r *Registry) Register(protocol string, parser Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.parsers == nil {
		r.parsers = make(map[string]Parser)
	}
	r.parsers[protocol] = parser
}

// Parse runs the registered parser for protocol, or falls back to a hex
// dump if none is registered (spec.md §4.3.5).
func (r *Registry) Parse(protocol string, data []byte, direction Direction) PacketParseResult {
	r.mu.RLock()
	parser, ok := r.parsers[protocol]
	r.mu.RUnlock()
	if !ok {
		return hexDump(protocol, data, direction)
	}
	return parser(data, direction)
}

func hexDump(protocol string, data []byte, direction Direction) PacketParseResult {
	return PacketParseResult{
		Protocol:    protocol,
		Direction:   direction,
		HexData:     hex.EncodeToString(data),
		Description: fmt.Sprintf("%d bytes (no parser registered for %q)", len(data), protocol),
		Success:     true,
	}
}

// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pool implements the generic connection pool from spec.md §4.3.4:
// protocol connections are borrowed and returned under a key, bounded by
// per-key and total capacity, and reaped on age/idle timeout.
package pool

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Key identifies a unique connection target. Two Keys are equal (and thus
// share a sub-pool) iff protocol, address, port, and every param match.
type Key struct {
	Protocol string
	Address  string
	Port     int // 0 means "no port"
	Params   map[string]string

	once   sync.Once
	cached string
}

// NewKey builds a bare key; chain WithParam to add parameters before the
// key is ever used to index a pool (params must be fixed before the first
// String()/hash use since the rendering is cached).
func NewKey(protocol, address string, port int) Key {
	return Key{Protocol: protocol, Address: address, Port: port}
}

// WithParam returns a copy of k with an additional parameter set.
func (k Key) WithParam(key, value string) Key {
	params := make(map[string]string, len(k.Params)+1)
	for kk, vv := range k.Params {
		params[kk] = vv
	}
	params[key] = value
	return Key{Protocol: k.Protocol, Address: k.Address, Port: k.Port, Params: params}
}

// String renders a canonical, order-independent representation used both
// as the map key and as the human-readable form in log lines and events.
// The rendering is computed once and cached (mirrors the Rust reference's
// OnceCell-backed hash cache).
func (k *Key) String() string {
	k.once.Do(func() {
		var b strings.Builder
		fmt.Fprintf(&b, "%s://%s", k.Protocol, k.Address)
		if k.Port != 0 {
			fmt.Fprintf(&b, ":%d", k.Port)
		}
		if len(k.Params) > 0 {
			names := make([]string, 0, len(k.Params))
			for name := range k.Params {
				names = append(names, name)
			}
			sort.Strings(names)
			b.WriteByte('?')
			for i, name := range names {
				if i > 0 {
					b.WriteByte('&')
				}
				fmt.Fprintf(&b, "%s=%s", name, k.Params[name])
			}
		}
		k.cached = b.String()
	})
	return k.cached
}

// mapKey is what actually indexes the pool's maps: Key carries a
// sync.Once/cache pair that makes it unsuitable as a map key directly, so
// every pool-internal map is keyed by the rendered string instead.
type mapKey = string

func keyOf(k Key) mapKey { return k.String() }

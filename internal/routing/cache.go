// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package routing implements the routing cache (C2): a process-wide,
// read-mostly snapshot of the C2M/M2C/C2C lookup tables that the RTDB
// consults to decide whether a point write should enqueue an actuation
// trigger on a channel's TODO queue (spec.md §4.2).
package routing

import "sync/atomic"

// snapshot is one fully-materialized set of routing maps. Cache never
// mutates a snapshot in place; Refresh builds a new one and swaps it in,
// so a reader either sees the whole old snapshot or the whole new one,
// never a torn mix (spec.md §4.2).
type snapshot struct {
	c2m map[string]string
	m2c map[string]string
	c2c map[string]string
}

// Cache is the shared routing cache. The zero value is not usable; use
// New or FromMaps.
type Cache struct {
	current atomic.Pointer[snapshot]
}

// New returns an empty cache (no routes resolve until Refresh/FromMaps
// populates it).
func New() *Cache {
	c := &Cache{}
	c.current.Store(&snapshot{
		c2m: map[string]string{},
		m2c: map[string]string{},
		c2c: map[string]string{},
	})
	return c
}

// FromMaps constructs a cache from fully-materialized maps (spec.md
// §4.2's `from_maps`). Nil maps are treated as empty.
func FromMaps(c2m, m2c, c2c map[string]string) *Cache {
	c := &Cache{}
	c.current.Store(toSnapshot(c2m, m2c, c2c))
	return c
}

func toSnapshot(c2m, m2c, c2c map[string]string) *snapshot {
	s := &snapshot{
		c2m: make(map[string]string, len(c2m)),
		m2c: make(map[string]string, len(m2c)),
		c2c: make(map[string]string, len(c2c)),
	}
	for k, v := range c2m {
		s.c2m[k] = v
	}
	for k, v := range m2c {
		s.m2c[k] = v
	}
	for k, v := range c2c {
		s.c2c[k] = v
	}
	return s
}

// LookupC2M resolves a channel-point key ("<channel_id>:<T|S>:<channel_point_id>")
// to its model-instance measurement target.
func (c *Cache) LookupC2M(key string) (string, bool) {
	v, ok := c.current.Load().c2m[key]
	return v, ok
}

// LookupM2C resolves a model-instance action key ("<instance_id>:A:<action_id>")
// to its target channel-point. This is the lookup write_point_runtime uses
// to decide whether to enqueue a TODO-queue trigger (spec.md §4.1).
func (c *Cache) LookupM2C(key string) (string, bool) {
	v, ok := c.current.Load().m2c[key]
	return v, ok
}

// LookupC2C resolves a channel-to-channel forwarding route. Reserved by
// spec.md §4.1 for future use; currently only ever populated by Refresh if
// the caller passes a non-empty c2c map.
func (c *Cache) LookupC2C(key string) (string, bool) {
	v, ok := c.current.Load().c2c[key]
	return v, ok
}

// Refresh atomically replaces the cache's contents with the given maps.
// In-flight lookups that started before Refresh returns continue reading
// whichever snapshot they loaded; no lookup ever observes a mix of the two.
func (c *Cache) Refresh(c2m, m2c, c2c map[string]string) {
	c.current.Store(toSnapshot(c2m, m2c, c2c))
}

// Counts returns the number of entries in each map, for reporting from the
// routing-reload endpoint (spec.md §4.4.2's `POST /routing/reload`).
func (c *Cache) Counts() (c2m, m2c, c2c int) {
	s := c.current.Load()
	return len(s.c2m), len(s.m2c), len(s.c2c)
}

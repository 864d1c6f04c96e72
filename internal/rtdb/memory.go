// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rtdb

import (
	"container/list"
	"context"
	"fmt"
	"strconv"
	"sync"
)

// MemoryStore is an in-process Store implementation: four maps (kv, hash,
// lists, sets) guarded by one RWMutex, with subscribers under a separate
// mutex.
// It is the reference backend for tests and for single-process
// deployments that don't need a shared RTDB across processes.
type MemoryStore struct {
	mu    sync.RWMutex
	kv    map[string][]byte
	hash  map[string]map[string][]byte
	lists map[string]*list.List
	sets  map[string]map[string]struct{}

	subMu sync.Mutex
	subs  map[string][]chan []byte
}

// NewMemoryStore constructs an empty in-memory RTDB store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kv:    make(map[string][]byte),
		hash:  make(map[string]map[string][]byte),
		lists: make(map[string]*list.List),
		sets:  make(map[string]map[string]struct{}),
		subs:  make(map[string][]chan []byte),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.kv[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, val []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]byte(nil), val...)
	m.kv[key] = cp
	return nil
}

func (m *MemoryStore) Del(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.kv[key]
	delete(m.kv, key)
	return ok, nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.kv[key]
	if ok {
		return true, nil
	}
	_, ok = m.hash[key]
	if ok {
		return true, nil
	}
	_, ok = m.lists[key]
	if ok {
		return true, nil
	}
	_, ok = m.sets[key]
	return ok, nil
}

func (m *MemoryStore) IncrByFloat(_ context.Context, key string, delta float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := 0.0
	if raw, ok := m.kv[key]; ok {
		if v, err := strconv.ParseFloat(string(raw), 64); err == nil {
			cur = v
		}
	}
	next := cur + delta
	m.kv[key] = []byte(FormatValue(next))
	return next, nil
}

func (m *MemoryStore) hashOf(key string) map[string][]byte {
	h, ok := m.hash[key]
	if !ok {
		h = make(map[string][]byte)
		m.hash[key] = h
	}
	return h
}

func (m *MemoryStore) HashSet(_ context.Context, key, field string, val []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashOf(key)[field] = append([]byte(nil), val...)
	return nil
}

func (m *MemoryStore) HashGet(_ context.Context, key, field string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hash[key]
	if !ok {
		return nil, false, nil
	}
	v, ok := h[field]
	return v, ok, nil
}

func (m *MemoryStore) HashMGet(_ context.Context, key string, fields []string) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.hash[key]
	out := make([][]byte, len(fields))
	for i, f := range fields {
		if h != nil {
			if v, ok := h[f]; ok {
				out[i] = v
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) HashMSet(_ context.Context, key string, fields map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.hashOf(key)
	for f, v := range fields {
		h[f] = append([]byte(nil), v...)
	}
	return nil
}

func (m *MemoryStore) HashGetAll(_ context.Context, key string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.hash[key]
	out := make(map[string][]byte, len(h))
	for f, v := range h {
		out[f] = append([]byte(nil), v...)
	}
	return out, nil
}

func (m *MemoryStore) HashDel(_ context.Context, key, field string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hash[key]
	if !ok {
		return false, nil
	}
	_, existed := h[field]
	delete(h, field)
	return existed, nil
}

func (m *MemoryStore) HashDelMany(_ context.Context, key string, fields []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hash[key]
	if !ok {
		return 0, nil
	}
	n := 0
	for _, f := range fields {
		if _, existed := h[f]; existed {
			delete(h, f)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) HIncrBy(_ context.Context, key, field string, incr int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.hashOf(key)
	cur := int64(0)
	if raw, ok := h[field]; ok {
		if v, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
			cur = v
		}
	}
	next := cur + incr
	h[field] = []byte(strconv.FormatInt(next, 10))
	return next, nil
}

func (m *MemoryStore) listOf(key string) *list.List {
	l, ok := m.lists[key]
	if !ok {
		l = list.New()
		m.lists[key] = l
	}
	return l
}

func (m *MemoryStore) ListLPush(_ context.Context, key string, val []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.listOf(key)
	l.PushFront(append([]byte(nil), val...))
	return int64(l.Len()), nil
}

func (m *MemoryStore) ListRPush(_ context.Context, key string, val []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.listOf(key)
	l.PushBack(append([]byte(nil), val...))
	return int64(l.Len()), nil
}

func (m *MemoryStore) ListLPop(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lists[key]
	if !ok || l.Len() == 0 {
		return nil, false, nil
	}
	e := l.Front()
	l.Remove(e)
	return e.Value.([]byte), true, nil
}

func (m *MemoryStore) ListRPop(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lists[key]
	if !ok || l.Len() == 0 {
		return nil, false, nil
	}
	e := l.Back()
	l.Remove(e)
	return e.Value.([]byte), true, nil
}

func (m *MemoryStore) snapshot(key string) [][]byte {
	l, ok := m.lists[key]
	if !ok {
		return nil
	}
	out := make([][]byte, 0, l.Len())
	for e := l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.([]byte))
	}
	return out
}

func (m *MemoryStore) ListRange(_ context.Context, key string, start, stop int) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.snapshot(key)
	startIdx, stopIdx, ok := RangeIndices(len(all), start, stop)
	if !ok {
		return [][]byte{}, nil
	}
	return append([][]byte(nil), all[startIdx:stopIdx]...), nil
}

func (m *MemoryStore) ListTrim(_ context.Context, key string, start, stop int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.snapshot(key)
	startIdx, stopIdx, ok := RangeIndices(len(all), start, stop)
	l := list.New()
	if ok {
		for _, v := range all[startIdx:stopIdx] {
			l.PushBack(v)
		}
	}
	m.lists[key] = l
	return nil
}

func (m *MemoryStore) ListLen(_ context.Context, key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lists[key]
	if !ok {
		return 0, nil
	}
	return int64(l.Len()), nil
}

func (m *MemoryStore) setOf(key string) map[string]struct{} {
	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]struct{})
		m.sets[key] = s
	}
	return s
}

func (m *MemoryStore) SAdd(_ context.Context, key string, member []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.setOf(key)
	k := string(member)
	if _, ok := s[k]; ok {
		return false, nil
	}
	s[k] = struct{}{}
	return true, nil
}

func (m *MemoryStore) SRem(_ context.Context, key string, member []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok {
		return false, nil
	}
	k := string(member)
	if _, ok := s[k]; !ok {
		return false, nil
	}
	delete(s, k)
	return true, nil
}

func (m *MemoryStore) SMembers(_ context.Context, key string) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.sets[key]
	out := make([][]byte, 0, len(s))
	for k := range s {
		out = append(out, []byte(k))
	}
	return out, nil
}

func (m *MemoryStore) Publish(_ context.Context, channel string, msg []byte) (int64, error) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	subs := m.subs[channel]
	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
		}
	}
	return int64(len(subs)), nil
}

// Subscribe registers a local channel for test/diagnostic use; it is not
// part of the Store interface (real Redis subscribers use their own
// client connection) but lets in-memory deployments observe publishes.
func (m *MemoryStore) Subscribe(channel string) <-chan []byte {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	ch := make(chan []byte, 16)
	m.subs[channel] = append(m.subs[channel], ch)
	return ch
}

func (m *MemoryStore) FCall(_ context.Context, function string, keys []string, args []string) (string, error) {
	return "", fmt.Errorf("rtdb: fcall %q not supported by in-memory store", function)
}

func (m *MemoryStore) ScanKeys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.kv)+len(m.hash)+len(m.lists)+len(m.sets))
	for k := range m.kv {
		out = append(out, k)
	}
	for k := range m.hash {
		out = append(out, k)
	}
	for k := range m.lists {
		out = append(out, k)
	}
	for k := range m.sets {
		out = append(out, k)
	}
	return out, nil
}

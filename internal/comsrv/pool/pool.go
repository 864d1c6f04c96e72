// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/EvanL1/VoltageEMS-sub001/pkg/log"
	"github.com/go-co-op/gocron/v2"
)

// Connection is the capability a protocol transport must offer to be
// pool-managed (spec.md §4.3.4's PooledConnection trait).
type Connection interface {
	IsValid() bool
	Close(ctx context.Context) error
	Info() string
}

// Factory dials a fresh connection for a key.
type Factory[T Connection] func(ctx context.Context, key Key) (T, error)

// EventKind identifies a pool lifecycle event (spec.md §4.3.4's PoolEvent).
type EventKind string

const (
	EventConnectionCreated EventKind = "connection_created"
	EventConnectionReused  EventKind = "connection_reused"
	EventConnectionClosed  EventKind = "connection_closed"
	EventConnectionExpired EventKind = "connection_expired"
	EventPoolFull          EventKind = "pool_full"
	EventCleanupCompleted  EventKind = "cleanup_completed"
)

// Event is emitted to an optional hook whenever the pool changes state.
type Event struct {
	Kind    EventKind
	Key     string
	Reason  string
	Current int
	Max     int
	Removed int
}

// Config bounds pool size and connection lifetime.
type Config struct {
	MaxConnectionsPerKey int
	MaxTotalConnections  int
	MaxConnectionAge     time.Duration
	MaxIdleTime          time.Duration
	ConnectionTimeout    time.Duration
	CleanupInterval      time.Duration
	EnableMetrics        bool
}

// DefaultConfig mirrors the reference implementation's defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnectionsPerKey: 10,
		MaxTotalConnections:  100,
		MaxConnectionAge:     time.Hour,
		MaxIdleTime:          5 * time.Minute,
		ConnectionTimeout:    30 * time.Second,
		CleanupInterval:      time.Minute,
		EnableMetrics:        true,
	}
}

type entry[T Connection] struct {
	conn      T
	createdAt time.Time
	lastUsed  time.Time
	useCount  uint64
}

func (e *entry[T]) touch() {
	e.lastUsed = time.Now()
	e.useCount++
}

func (e *entry[T]) expired(maxAge time.Duration) bool {
	return time.Since(e.createdAt) > maxAge
}

func (e *entry[T]) idle(maxIdle time.Duration) bool {
	return time.Since(e.lastUsed) > maxIdle
}

// subPool is the set of idle connections and the live counter for one key.
// The live counter includes both idle (in entries) and borrowed
// connections, so it is the quantity checked against MaxConnectionsPerKey
// (spec.md §4.3.4's "pool + live guards = per-key counter" invariant).
type subPool[T Connection] struct {
	mu      sync.Mutex
	entries []*entry[T]
	live    int
}

// Pool is a generic, key-partitioned connection pool.
type Pool[T Connection] struct {
	cfg     Config
	factory Factory[T]
	hook    func(Event)

	mu      sync.Mutex
	subs    map[mapKey]*subPool[T]
	keys    map[mapKey]Key
	permits chan struct{}

	scheduler gocron.Scheduler
	closed    bool
}

// New builds a pool and starts its background cleanup task. Call Shutdown
// to stop the task and close every pooled connection.
func New[T Connection](cfg Config, factory Factory[T], hook func(Event)) (*Pool[T], error) {
	p := &Pool[T]{
		cfg:     cfg,
		factory: factory,
		hook:    hook,
		subs:    make(map[mapKey]*subPool[T]),
		keys:    make(map[mapKey]Key),
		permits: make(chan struct{}, cfg.MaxTotalConnections),
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("pool: creating cleanup scheduler: %w", err)
	}
	if _, err := s.NewJob(
		gocron.DurationJob(cfg.CleanupInterval),
		gocron.NewTask(p.runCleanup),
	); err != nil {
		return nil, fmt.Errorf("pool: scheduling cleanup job: %w", err)
	}
	p.scheduler = s
	s.Start()

	return p, nil
}

func (p *Pool[T]) emit(ev Event) {
	if p.cfg.EnableMetrics && p.hook != nil {
		p.hook(ev)
	}
}

func (p *Pool[T]) subPoolFor(key Key) (*subPool[T], mapKey) {
	mk := keyOf(key)
	p.mu.Lock()
	defer p.mu.Unlock()
	sp, ok := p.subs[mk]
	if !ok {
		sp = &subPool[T]{}
		p.subs[mk] = sp
		p.keys[mk] = key
	}
	return sp, mk
}

// Guard is a borrowed connection; call Release to return it to the pool
// (or let the caller discard it by calling Take instead).
type Guard[T Connection] struct {
	pool   *Pool[T]
	sub    *subPool[T]
	keyStr string
	ent    *entry[T]
	done   bool
}

// Conn returns the underlying connection.
func (g *Guard[T]) Conn() T { return g.ent.conn }

// Take removes the connection from pool bookkeeping permanently; the
// caller now owns closing it. Use this when the connection must not be
// reused (e.g. it is about to be handed off elsewhere).
func (g *Guard[T]) Take() T {
	if !g.done {
		g.done = true
		g.pool.decrementLive(g.sub)
		g.pool.releasePermit()
	}
	return g.ent.conn
}

// Release returns the connection to its sub-pool if still valid,
// otherwise closes it. Safe to call more than once; subsequent calls are
// no-ops.
//
// The total-connections semaphore permit bounds concurrently *borrowed*
// connections, not total live connections: it is acquired in Acquire and
// released here unconditionally, whether or not the connection itself
// survives to be reused. The per-key live counter is the one that tracks
// total connections (idle + borrowed) and is only decremented when a
// connection is permanently discarded.
func (g *Guard[T]) Release(ctx context.Context) {
	if g.done {
		return
	}
	g.done = true
	defer g.pool.releasePermit()

	if !g.ent.conn.IsValid() {
		_ = g.ent.conn.Close(ctx)
		g.pool.emit(Event{Kind: EventConnectionClosed, Key: g.keyStr, Reason: "invalid"})
		g.pool.decrementLive(g.sub)
		return
	}

	g.pool.mu.Lock()
	shutdown := g.pool.closed
	g.pool.mu.Unlock()

	if !shutdown {
		g.sub.mu.Lock()
		if len(g.sub.entries) < g.pool.cfg.MaxConnectionsPerKey {
			g.sub.entries = append(g.sub.entries, g.ent)
			g.sub.mu.Unlock()
			return
		}
		g.sub.mu.Unlock()
	}

	// Pool is shut down, or its sub-pool is already full of idle
	// connections: close this one instead of returning it.
	_ = g.ent.conn.Close(ctx)
	reason := "pool_full"
	if shutdown {
		reason = "pool_shutdown"
	}
	g.pool.emit(Event{Kind: EventConnectionClosed, Key: g.keyStr, Reason: reason})
	g.pool.decrementLive(g.sub)
}

func (p *Pool[T]) decrementLive(sub *subPool[T]) {
	sub.mu.Lock()
	sub.live--
	sub.mu.Unlock()
}

func (p *Pool[T]) releasePermit() {
	<-p.permits
}

// Acquire returns a pooled connection for key, reusing an idle one if a
// valid, non-expired, non-idle candidate exists, otherwise dialing a new
// one via the factory. It blocks for at most cfg.ConnectionTimeout waiting
// for a free slot under MaxTotalConnections.
func (p *Pool[T]) Acquire(ctx context.Context, key Key) (*Guard[T], error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectionTimeout)
	defer cancel()

	select {
	case p.permits <- struct{}{}:
	case <-acquireCtx.Done():
		return nil, fmt.Errorf("pool: timed out waiting for a connection slot: %w", acquireCtx.Err())
	}

	sub, _ := p.subPoolFor(key)
	keyStr := key.String()

	sub.mu.Lock()
	for len(sub.entries) > 0 {
		// LIFO: most recently used connection first.
		last := len(sub.entries) - 1
		cand := sub.entries[last]
		sub.entries = sub.entries[:last]
		if cand.conn.IsValid() && !cand.expired(p.cfg.MaxConnectionAge) && !cand.idle(p.cfg.MaxIdleTime) {
			cand.touch()
			sub.mu.Unlock()
			p.emit(Event{Kind: EventConnectionReused, Key: keyStr})
			return &Guard[T]{pool: p, sub: sub, keyStr: keyStr, ent: cand}, nil
		}
		// Stale: this connection is permanently discarded, so it no
		// longer counts toward the per-key live total.
		sub.live--
		go func(c T) { _ = c.Close(context.Background()) }(cand.conn)
	}
	sub.mu.Unlock()

	sub.mu.Lock()
	if sub.live >= p.cfg.MaxConnectionsPerKey {
		current := sub.live
		sub.mu.Unlock()
		<-p.permits
		p.emit(Event{Kind: EventPoolFull, Key: keyStr, Current: current, Max: p.cfg.MaxConnectionsPerKey})
		return nil, fmt.Errorf("pool: connection limit reached for key %s (current=%d, max=%d)", keyStr, current, p.cfg.MaxConnectionsPerKey)
	}
	sub.live++
	sub.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(ctx, p.cfg.ConnectionTimeout)
	defer dialCancel()
	conn, err := p.factory(dialCtx, key)
	if err != nil {
		sub.mu.Lock()
		sub.live--
		sub.mu.Unlock()
		<-p.permits
		return nil, fmt.Errorf("pool: dialing connection for key %s: %w", keyStr, err)
	}

	now := time.Now()
	ent := &entry[T]{conn: conn, createdAt: now, lastUsed: now}
	p.emit(Event{Kind: EventConnectionCreated, Key: keyStr})
	return &Guard[T]{pool: p, sub: sub, keyStr: keyStr, ent: ent}, nil
}

func (p *Pool[T]) runCleanup() {
	p.mu.Lock()
	subs := make(map[mapKey]*subPool[T], len(p.subs))
	keys := make(map[mapKey]Key, len(p.keys))
	for k, v := range p.subs {
		subs[k] = v
		keys[k] = p.keys[k]
	}
	p.mu.Unlock()

	removed := 0
	for mk, sub := range subs {
		keyStr := keys[mk].String()

		sub.mu.Lock()
		keep := sub.entries[:0]
		var stale []*entry[T]
		for _, e := range sub.entries {
			if e.expired(p.cfg.MaxConnectionAge) || e.idle(p.cfg.MaxIdleTime) || !e.conn.IsValid() {
				stale = append(stale, e)
			} else {
				keep = append(keep, e)
			}
		}
		sub.entries = keep
		sub.live -= len(stale)
		sub.mu.Unlock()

		for _, e := range stale {
			if err := e.conn.Close(context.Background()); err != nil {
				log.Warnf("pool: error closing expired connection for %s: %v", keyStr, err)
			}
			reason := "idle"
			if e.expired(p.cfg.MaxConnectionAge) {
				reason = "expired"
			}
			p.emit(Event{Kind: EventConnectionExpired, Key: keyStr, Reason: reason})
			removed++
		}
	}

	if removed > 0 {
		log.Infof("pool: cleanup removed %d connections", removed)
		p.emit(Event{Kind: EventCleanupCompleted, Removed: removed})
	}
}

// Stats summarizes pool occupancy for diagnostics endpoints.
type Stats struct {
	IdleConnections     int
	PoolCount           int
	AvailablePermits    int
	MaxTotalConnections int
}

// Stats returns a best-effort snapshot (matches the Rust reference's
// "best-effort read" stats method).
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	idle := 0
	for _, sub := range p.subs {
		sub.mu.Lock()
		idle += len(sub.entries)
		sub.mu.Unlock()
	}
	return Stats{
		IdleConnections:     idle,
		PoolCount:           len(p.subs),
		AvailablePermits:    cap(p.permits) - len(p.permits),
		MaxTotalConnections: p.cfg.MaxTotalConnections,
	}
}

// Shutdown stops the cleanup task and closes every idle pooled connection.
// It returns the number of connections closed. Borrowed connections not
// yet released are not touched directly; their eventual Release observes
// closed and closes them instead of returning them to the pool.
func (p *Pool[T]) Shutdown(ctx context.Context) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, nil
	}
	p.closed = true
	subs := make([]*subPool[T], 0, len(p.subs))
	for _, sub := range p.subs {
		subs = append(subs, sub)
	}
	p.mu.Unlock()

	if err := p.scheduler.Shutdown(); err != nil {
		log.Warnf("pool: cleanup scheduler shutdown: %v", err)
	}

	closed := 0
	for _, sub := range subs {
		sub.mu.Lock()
		entries := sub.entries
		sub.entries = nil
		sub.mu.Unlock()

		for _, e := range entries {
			if err := e.conn.Close(ctx); err != nil {
				log.Warnf("pool: error closing connection during shutdown: %v", err)
			}
			closed++
		}
	}

	if closed > 0 {
		p.emit(Event{Kind: EventCleanupCompleted, Removed: closed})
	}
	return closed, nil
}

// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package poll implements the protocol-agnostic polling engine (spec.md
// §4.3.2): any reader capable of ReadPoint/ReadPointsBatch/IsConnected can
// be driven by one Engine, on a fixed interval, with batch-by-group
// reading, per-point failure placeholders, and rolling statistics.
package poll

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EvanL1/VoltageEMS-sub001/pkg/log"
	"golang.org/x/time/rate"
)

// PollingPoint is a protocol-agnostic point description the engine reads
// on each cycle (spec.md §4.3.2).
type PollingPoint struct {
	ID             string
	Name           string
	Address        uint32
	DataType       string
	Scale          float64
	Offset         float64
	Unit           string
	Description    string
	AccessMode     string
	Group          string
	ProtocolParams map[string]interface{}
}

// PointData is the value read for a point in a single cycle. Quality
// follows the 0/100 convention used across the fleet (0 = bad/placeholder).
type PointData struct {
	ID          string
	Name        string
	Value       string
	Quality     int
	Timestamp   time.Time
	Unit        string
	Description string
}

// PointReader is implemented by each protocol's channel runtime (Modbus,
// CAN, DI/DO, virtual) to supply the engine with point reads.
type PointReader interface {
	ReadPoint(ctx context.Context, p PollingPoint) (PointData, error)
	ReadPointsBatch(ctx context.Context, points []PollingPoint) ([]PointData, error)
	IsConnected(ctx context.Context) bool
	ProtocolName() string
}

// Config is the per-channel polling configuration (spec.md §4.3.2).
type Config struct {
	Enabled            bool
	Interval           time.Duration
	MaxPointsPerCycle  int
	Timeout            time.Duration
	MaxRetries         int
	RetryDelay         time.Duration
	EnableBatchReading bool
	PointReadDelay     time.Duration
}

// DefaultConfig mirrors the original_source defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		Interval:           time.Second,
		MaxPointsPerCycle:  1000,
		Timeout:            5 * time.Second,
		MaxRetries:         3,
		RetryDelay:         time.Second,
		EnableBatchReading: true,
		PointReadDelay:     10 * time.Millisecond,
	}
}

// Stats is a snapshot of rolling polling statistics for one channel.
type Stats struct {
	TotalCycles          uint64
	SuccessfulCycles     uint64
	FailedCycles         uint64
	TotalPointsRead      uint64
	TotalPointsFailed    uint64
	AvgCycleTimeMs       float64
	CurrentPollingRate   float64
	LastSuccessfulPoll   time.Time
	LastPollingError     string
	CommunicationQuality float64
}

// Engine drives one channel's point reader on a fixed interval. Config and
// the point list are swapped atomically (internal/routing's whole-struct
// snapshot pattern) so a hot-reload can update either without the poll
// loop ever observing a partially-updated value; Stats is simple enough
// that a mutex is clearer than another atomic snapshot.
type Engine struct {
	protocolName string
	reader       PointReader
	callback     func([]PointData)

	cfg    atomic.Pointer[Config]
	points atomic.Pointer[[]PollingPoint]

	statsMu sync.Mutex
	stats   Stats

	limiter *rate.Limiter

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New builds an Engine for reader, starting with cfg (a zero Config is
// replaced with DefaultConfig). callback, if non-nil, receives every
// cycle's read data.
func New(cfg Config, reader PointReader, callback func([]PointData)) *Engine {
	if cfg.Interval == 0 {
		cfg = DefaultConfig()
	}
	e := &Engine{
		protocolName: reader.ProtocolName(),
		reader:       reader,
		callback:     callback,
	}
	e.cfg.Store(&cfg)
	empty := []PollingPoint{}
	e.points.Store(&empty)
	e.limiter = rate.NewLimiter(rate.Every(cfg.PointReadDelay), 1)
	if cfg.PointReadDelay <= 0 {
		e.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return e
}

// SetConfig atomically replaces the engine's configuration; picked up at
// the start of the next cycle.
func (e *Engine) SetConfig(cfg Config) {
	e.cfg.Store(&cfg)
	if cfg.PointReadDelay > 0 {
		e.limiter.SetLimit(rate.Every(cfg.PointReadDelay))
	} else {
		e.limiter.SetLimit(rate.Inf)
	}
}

// Config returns the currently active configuration.
func (e *Engine) Config() Config {
	return *e.cfg.Load()
}

// SetPoints atomically replaces the point list polled each cycle.
func (e *Engine) SetPoints(points []PollingPoint) {
	cp := append([]PollingPoint(nil), points...)
	e.points.Store(&cp)
}

// Stats returns a snapshot of the current rolling statistics.
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// Start launches the polling loop in a background goroutine. It returns
// immediately; call Stop to halt it. Calling Start twice without an
// intervening Stop is a no-op.
func (e *Engine) Start(ctx context.Context) {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	go e.run(ctx)
}

// Stop halts the polling loop and waits for it to exit.
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	close(e.stopCh)
	<-e.doneCh
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.doneCh)
	var cycle uint64

	for {
		select {
		case <-ctx.Done():
			log.Infof("poll: %s engine stopping: %s", e.protocolName, ctx.Err())
			return
		case <-e.stopCh:
			log.Infof("poll: %s engine stopped", e.protocolName)
			return
		default:
		}

		cfg := e.Config()
		if !cfg.Enabled {
			if !e.sleep(ctx, time.Second) {
				return
			}
			continue
		}

		if !e.sleep(ctx, cfg.Interval) {
			return
		}
		cycle++

		if !e.reader.IsConnected(ctx) {
			log.Debugf("poll: skipping cycle %d for %s - not connected", cycle, e.protocolName)
			continue
		}

		start := time.Now()
		cycleCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		data, err := e.executeCycle(cycleCtx, cfg)
		cancel()
		elapsedMs := float64(time.Since(start)) / float64(time.Millisecond)

		if err != nil {
			e.updateStats(false, 0, elapsedMs, err)
			log.Errorf("poll: cycle %d failed for %s: %s", cycle, e.protocolName, err)
		} else {
			e.updateStats(true, len(data), elapsedMs, nil)
			if e.callback != nil {
				e.callback(data)
			}
			log.Debugf("poll: cycle %d completed for %s in %.2fms", cycle, e.protocolName, elapsedMs)
		}

		if cycle%50 == 0 {
			s := e.Stats()
			log.Infof("poll: stats for %s: %d/%d successful, avg %.2fms, quality %.1f%%",
				e.protocolName, s.SuccessfulCycles, s.TotalCycles, s.AvgCycleTimeMs, s.CommunicationQuality)
		}
	}
}

// sleep blocks for d or until the engine is stopped/ctx is canceled,
// reporting false in the latter cases so run can exit immediately.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-e.stopCh:
		return false
	}
}

// executeCycle reads every configured point, batching by group when
// enabled, and never returns an error for individual point failures —
// only placeholder PointData with Quality 0 (spec.md §4.3.2 step 3).
func (e *Engine) executeCycle(ctx context.Context, cfg Config) ([]PointData, error) {
	points := *e.points.Load()
	if len(points) == 0 {
		log.Debugf("poll: no points configured for %s", e.protocolName)
		return nil, nil
	}
	if len(points) > cfg.MaxPointsPerCycle {
		points = points[:cfg.MaxPointsPerCycle]
	}

	all := make([]PointData, 0, len(points))

	if cfg.EnableBatchReading {
		for group, groupPoints := range groupByField(points) {
			batch, err := e.reader.ReadPointsBatch(ctx, groupPoints)
			if err != nil {
				log.Warnf("poll: batch read failed for group %q: %s", group, err)
				all = append(all, e.readIndividually(ctx, groupPoints, cfg)...)
				continue
			}
			all = append(all, batch...)
		}
		return all, nil
	}

	return e.readIndividually(ctx, points, cfg), nil
}

func (e *Engine) readIndividually(ctx context.Context, points []PollingPoint, cfg Config) []PointData {
	out := make([]PointData, 0, len(points))
	for _, p := range points {
		data, err := e.reader.ReadPoint(ctx, p)
		if err != nil {
			log.Warnf("poll: failed to read point %s: %s", p.ID, err)
			data = PointData{
				ID:          p.ID,
				Name:        p.Name,
				Value:       "null",
				Quality:     0,
				Timestamp:   time.Now(),
				Unit:        p.Unit,
				Description: "failed to read point " + p.ID + ": " + err.Error(),
			}
		}
		out = append(out, data)
		if cfg.PointReadDelay > 0 {
			_ = e.limiter.Wait(ctx)
		}
	}
	return out
}

// groupByField partitions points by Group, defaulting ungrouped points to
// "default" (spec.md §4.3.2 step 2).
func groupByField(points []PollingPoint) map[string][]PollingPoint {
	grouped := make(map[string][]PollingPoint)
	for _, p := range points {
		group := p.Group
		if group == "" {
			group = "default"
		}
		grouped[group] = append(grouped[group], p)
	}
	return grouped
}

func (e *Engine) updateStats(success bool, pointsRead int, cycleTimeMs float64, pollErr error) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	e.stats.TotalCycles++
	if success {
		e.stats.SuccessfulCycles++
		e.stats.TotalPointsRead += uint64(pointsRead)
		e.stats.LastSuccessfulPoll = time.Now()
		e.stats.LastPollingError = ""
	} else {
		e.stats.FailedCycles++
		if pollErr != nil {
			e.stats.LastPollingError = pollErr.Error()
		}
	}

	total := e.stats.AvgCycleTimeMs*float64(e.stats.TotalCycles-1) + cycleTimeMs
	e.stats.AvgCycleTimeMs = total / float64(e.stats.TotalCycles)

	e.stats.CommunicationQuality = (float64(e.stats.SuccessfulCycles) / float64(e.stats.TotalCycles)) * 100.0

	if e.stats.TotalCycles > 1 && e.stats.AvgCycleTimeMs > 0 {
		e.stats.CurrentPollingRate = 1000.0 / e.stats.AvgCycleTimeMs
	}
}

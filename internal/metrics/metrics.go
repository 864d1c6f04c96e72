// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics exposes the fleet's self-instrumentation as Prometheus
// collectors. The teacher repo uses prometheus/client_golang as a PromQL
// *client* against an external Prometheus server (internal/metricdata);
// this fleet has no external time-series backend to query (the RTDB is
// last-value-only, spec.md §4.1), so the same dependency is put to its
// other common use instead: a self-served /metrics endpoint the control
// plane's own operators scrape.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

var (
	// RuleExecutions counts rulesrv.Engine.Execute invocations by final status.
	RuleExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comsrv_rule_executions_total",
		Help: "Total rule DAG executions, labeled by final status.",
	}, []string{"status"})

	// ChannelReloads counts channelmgr.Manager.ReloadAll invocations.
	ChannelReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "comsrv_channel_reloads_total",
		Help: "Total full channel-configuration reloads.",
	})

	// RoutingReloads counts channelmgr.Manager.ReloadRouting invocations.
	RoutingReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "comsrv_routing_reloads_total",
		Help: "Total routing-cache reloads.",
	})

	// ActiveChannels tracks the current number of enabled protocol channels.
	ActiveChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "comsrv_active_channels",
		Help: "Number of currently enabled protocol channels.",
	})
)

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package schema

// RTDBConfig selects and configures the RTDB backend (spec.md §4.1): an
// in-memory store for single-process deployments and tests, or a
// Redis-compatible one for a shared RTDB across gateway instances.
type RTDBConfig struct {
	// Backend is "memory" or "redis".
	Backend string `json:"backend"`
	// Address is the redis/go-redis connection string, used when Backend
	// is "redis".
	Address string `json:"address"`
}

// ProgramConfig is the top-level comsrv-gateway configuration, loaded
// from a JSON file and schema-validated (spec.md §1 Configuration).
type ProgramConfig struct {
	// Addr is the control-plane HTTP listen address (for example ":8080").
	Addr string `json:"addr"`

	// DB is the SQLite database file path (internal/repository's schema).
	DB string `json:"db"`

	// ConfigRoot is the filesystem root the config syncer reads
	// global.yaml/comsrv/modsrv from (spec.md §4.4.3).
	ConfigRoot string `json:"config-root"`

	// SyncOnStart runs the config syncer against ConfigRoot once at
	// startup, before the channel manager loads channels from SQLite.
	SyncOnStart bool `json:"sync-on-start"`

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `json:"log-level"`

	RTDB RTDBConfig `json:"rtdb"`

	// Nats is passed through verbatim to pkg/nats.Init; nil/empty
	// disables the NATS fan-out post-processor and channel-status
	// broadcast.
	Nats *NatsConfig `json:"nats,omitempty"`
}

// NatsConfig mirrors pkg/nats.NatsConfig so pkg/schema (which pkg/nats
// does not import, to avoid a cycle) can describe it in the program
// config's JSON Schema and struct tags; internal/config copies it
// verbatim into pkg/nats.Init's raw JSON.
type NatsConfig struct {
	Address       string `json:"address"`
	Username      string `json:"username,omitempty"`
	Password      string `json:"password,omitempty"`
	CredsFilePath string `json:"creds-file-path,omitempty"`
}

// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/EvanL1/VoltageEMS-sub001/pkg/schema"
	"github.com/stretchr/testify/require"
)

func resetKeys() {
	Keys = schema.ProgramConfig{
		Addr:       ":8080",
		DB:         "./var/comsrv-gateway.db",
		ConfigRoot: "./config",
		LogLevel:   "info",
		RTDB:       schema.RTDBConfig{Backend: "memory"},
	}
}

func TestInit_MissingFileKeepsDefaults(t *testing.T) {
	resetKeys()
	require.NoError(t, Init(filepath.Join(t.TempDir(), "missing.json")))
	require.Equal(t, ":8080", Keys.Addr)
}

func TestInit_LoadsAndValidates(t *testing.T) {
	resetKeys()
	path := filepath.Join(t.TempDir(), "gateway.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"addr": ":9090",
		"db": "./var/test.db",
		"config-root": "./testdata",
		"sync-on-start": true,
		"log-level": "debug",
		"rtdb": {"backend": "memory"}
	}`), 0o644))

	require.NoError(t, Init(path))
	require.Equal(t, ":9090", Keys.Addr)
	require.True(t, Keys.SyncOnStart)
	require.Equal(t, "debug", Keys.LogLevel)
}

func TestInit_RejectsInvalidLogLevel(t *testing.T) {
	resetKeys()
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"addr": ":9090",
		"db": "./var/test.db",
		"config-root": "./testdata",
		"log-level": "very-loud",
		"rtdb": {"backend": "memory"}
	}`), 0o644))

	require.Error(t, Init(path))
}

func TestInit_RedisBackendRequiresAddress(t *testing.T) {
	resetKeys()
	path := filepath.Join(t.TempDir(), "redis.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"addr": ":9090",
		"db": "./var/test.db",
		"config-root": "./testdata",
		"rtdb": {"backend": "redis"}
	}`), 0o644))

	require.Error(t, Init(path))
}

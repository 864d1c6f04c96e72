// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package virtual

import (
	"context"
	"testing"

	"github.com/EvanL1/VoltageEMS-sub001/internal/comsrv/poll"
	"github.com/stretchr/testify/require"
)

func TestReader_SetThenReadPoint(t *testing.T) {
	r := NewReader()
	r.Set("setpoint_1", "42")

	data, err := r.ReadPoint(context.Background(), poll.PollingPoint{ID: "setpoint_1", Name: "Setpoint 1"})
	require.NoError(t, err)
	require.Equal(t, "42", data.Value)
	require.Equal(t, 100, data.Quality)
}

func TestReader_ReadUnsetPointErrors(t *testing.T) {
	r := NewReader()
	_, err := r.ReadPoint(context.Background(), poll.PollingPoint{ID: "missing"})
	require.Error(t, err)
}

func TestReader_DefaultsToConnected(t *testing.T) {
	r := NewReader()
	require.True(t, r.IsConnected(context.Background()))
	r.SetConnected(false)
	require.False(t, r.IsConnected(context.Background()))
}

func TestReader_ReadPointsBatch(t *testing.T) {
	r := NewReader()
	r.Set("a", "1")
	r.Set("b", "2")

	out, err := r.ReadPointsBatch(context.Background(), []poll.PollingPoint{{ID: "a"}, {ID: "b"}})
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func TestReader_GetReturnsStoredValue(t *testing.T) {
	r := NewReader()
	r.Set("x", "on")
	v, ok := r.Get("x")
	require.True(t, ok)
	require.Equal(t, "on", v)

	_, ok = r.Get("y")
	require.False(t, ok)
}

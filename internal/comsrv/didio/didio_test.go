// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package didio

import (
	"context"
	"testing"

	"github.com/EvanL1/VoltageEMS-sub001/internal/comsrv/poll"
	"github.com/stretchr/testify/require"
)

func TestReader_SetThenReadPoint(t *testing.T) {
	r := NewReader()
	r.Set("relay_1", true)

	data, err := r.ReadPoint(context.Background(), poll.PollingPoint{ID: "relay_1"})
	require.NoError(t, err)
	require.Equal(t, "1", data.Value)
}

func TestReader_UnsetLineErrors(t *testing.T) {
	r := NewReader()
	_, err := r.ReadPoint(context.Background(), poll.PollingPoint{ID: "missing"})
	require.Error(t, err)
}

func TestReader_BatchUnsetLineIsPlaceholder(t *testing.T) {
	r := NewReader()
	r.Set("a", false)

	out, err := r.ReadPointsBatch(context.Background(), []poll.PollingPoint{{ID: "a"}, {ID: "b"}})
	require.NoError(t, err)
	require.Equal(t, "0", out[0].Value)
	require.Equal(t, 0, out[1].Quality)
}

func TestReader_DefaultsConnected(t *testing.T) {
	r := NewReader()
	require.True(t, r.IsConnected(context.Background()))
	r.SetConnected(false)
	require.False(t, r.IsConnected(context.Background()))
}

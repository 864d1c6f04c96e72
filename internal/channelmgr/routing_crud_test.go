// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package channelmgr

import (
	"context"
	"testing"

	"github.com/EvanL1/VoltageEMS-sub001/pkg/schema"
	"github.com/stretchr/testify/require"
)

func TestAddRouting_RefreshesCacheWithoutExplicitReload(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.channels.Insert(ctx, &schema.Channel{ChannelID: 1, Name: "plc-add", Protocol: schema.ProtocolVirtual}))

	require.NoError(t, m.AddRouting(ctx, 100, RoutingRequest{ChannelID: 1, FourRemote: "T", ChannelPointID: 5, PointID: 9}))

	target, ok := m.cache.LookupC2M("1:T:5")
	require.True(t, ok, "cache should reflect the new edge without an explicit /routing/reload")
	require.Equal(t, "100:M:9", target)
}

func TestReplaceRouting_ClearsOldEdgesAndRefreshesCacheOnce(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.channels.Insert(ctx, &schema.Channel{ChannelID: 1, Name: "plc-replace", Protocol: schema.ProtocolVirtual}))
	require.NoError(t, m.AddRouting(ctx, 100, RoutingRequest{ChannelID: 1, FourRemote: "T", ChannelPointID: 1, PointID: 10}))
	_, ok := m.cache.LookupC2M("1:T:1")
	require.True(t, ok)

	require.NoError(t, m.ReplaceRouting(ctx, 100, []RoutingRequest{
		{ChannelID: 1, FourRemote: "T", ChannelPointID: 2, PointID: 20},
	}))

	_, ok = m.cache.LookupC2M("1:T:1")
	require.False(t, ok, "replaced-away edge must not survive in the cache")

	target, ok := m.cache.LookupC2M("1:T:2")
	require.True(t, ok, "cache should reflect the replacement set without an explicit /routing/reload")
	require.Equal(t, "100:M:20", target)
}

func TestClearRouting_RemovesFromCacheWithoutExplicitReload(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.channels.Insert(ctx, &schema.Channel{ChannelID: 1, Name: "plc-clear", Protocol: schema.ProtocolVirtual}))
	require.NoError(t, m.AddRouting(ctx, 100, RoutingRequest{ChannelID: 1, FourRemote: "T", ChannelPointID: 5, PointID: 9}))
	_, ok := m.cache.LookupC2M("1:T:5")
	require.True(t, ok)

	require.NoError(t, m.ClearRouting(ctx, 100))

	_, ok = m.cache.LookupC2M("1:T:5")
	require.False(t, ok, "cache should no longer resolve a cleared edge")
}

func TestValidateRouting_ChecksChannelExistenceAndFourRemote(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.channels.Insert(ctx, &schema.Channel{ChannelID: 1, Name: "plc-validate", Protocol: schema.ProtocolVirtual}))

	results, err := m.ValidateRouting(ctx, []RoutingRequest{
		{ChannelID: 1, FourRemote: "T", ChannelPointID: 5, PointID: 9},
		{ChannelID: 99, FourRemote: "A", ChannelPointID: 1, PointID: 1},
		{ChannelID: 1, FourRemote: "X", ChannelPointID: 1, PointID: 1},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.True(t, results[0].Valid)
	require.Empty(t, results[0].Errors)

	require.False(t, results[1].Valid)
	require.Contains(t, results[1].Errors[0], "does not exist")

	require.False(t, results[2].Valid)
	require.Contains(t, results[2].Errors[0], "invalid four_remote")
}

// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package channelmgr

import (
	"context"
	"testing"
	"time"

	"github.com/EvanL1/VoltageEMS-sub001/internal/repository"
	"github.com/EvanL1/VoltageEMS-sub001/internal/routing"
	"github.com/EvanL1/VoltageEMS-sub001/internal/rtdb"
	"github.com/EvanL1/VoltageEMS-sub001/pkg/schema"
	"github.com/stretchr/testify/require"
)

// newTestManager wires a Manager against a fresh in-memory SQLite database
// and an in-memory RTDB, using the virtual protocol so tests never touch a
// real network (mirrors internal/repository's repository_db_test.go setup).
func newTestManager(t *testing.T) *Manager {
	t.Helper()
	require.NoError(t, repository.Connect(":memory:"))
	db := repository.GetConnection().DB

	channels := repository.NewChannelRepository(db)
	points := repository.NewPointRepository(db)
	routingRepo := repository.NewRoutingRepository(db)
	cache := routing.New()
	store := rtdb.NewMemoryStore()
	r := rtdb.New(store)

	return New(channels, points, routingRepo, cache, r)
}

func TestCreate_VirtualChannelRunsImmediately(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	res, err := m.Create(ctx, CreateRequest{Name: "virt-1", Protocol: schema.ProtocolVirtual, Enabled: true})
	require.NoError(t, err)
	require.Equal(t, uint16(1), res.ID)
	require.Contains(t, []string{"connecting", "not_started"}, res.RuntimeStatus)

	_, ok := m.GetChannel(res.ID)
	require.True(t, ok)
}

func TestCreate_DuplicateNameConflicts(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, CreateRequest{Name: "dup", Protocol: schema.ProtocolVirtual})
	require.NoError(t, err)

	_, err = m.Create(ctx, CreateRequest{Name: "dup", Protocol: schema.ProtocolVirtual})
	require.ErrorIs(t, err, ErrConflict)
}

func TestCreate_ExplicitIDConflictsWithExisting(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id := uint16(5)
	_, err := m.Create(ctx, CreateRequest{ChannelID: &id, Name: "a", Protocol: schema.ProtocolVirtual})
	require.NoError(t, err)

	_, err = m.Create(ctx, CreateRequest{ChannelID: &id, Name: "b", Protocol: schema.ProtocolVirtual})
	require.ErrorIs(t, err, ErrConflict)
}

func TestUpdate_MetadataOnlyKeepsRuntimeRunning(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	res, err := m.Create(ctx, CreateRequest{Name: "virt-2", Protocol: schema.ProtocolVirtual, Enabled: true})
	require.NoError(t, err)

	desc := "renamed description"
	updated, err := m.Update(ctx, res.ID, UpdateRequest{Description: &desc})
	require.NoError(t, err)
	require.Equal(t, "running", updated.RuntimeStatus)
	require.Equal(t, desc, updated.Description)

	ch, ok := m.GetChannel(res.ID)
	require.True(t, ok)
	require.Equal(t, desc, ch.Description)
}

func TestUpdate_ProtocolChangeHotReloads(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	res, err := m.Create(ctx, CreateRequest{Name: "virt-3", Protocol: schema.ProtocolVirtual, Enabled: true})
	require.NoError(t, err)

	didoProto := schema.ProtocolDIDO
	updated, err := m.Update(ctx, res.ID, UpdateRequest{Protocol: &didoProto})
	require.NoError(t, err)
	require.Equal(t, "updated", updated.RuntimeStatus)

	// hotReload runs on a background goroutine; give it a moment to land.
	require.Eventually(t, func() bool {
		ch, ok := m.GetChannel(res.ID)
		return ok && ch.Protocol == schema.ProtocolDIDO
	}, time.Second, 10*time.Millisecond)
}

func TestSetEnabled_DisableRemovesRuntimeThenEnableRecreates(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	res, err := m.Create(ctx, CreateRequest{Name: "virt-4", Protocol: schema.ProtocolVirtual, Enabled: true})
	require.NoError(t, err)

	off, err := m.SetEnabled(ctx, res.ID, false)
	require.NoError(t, err)
	require.Equal(t, "disabled", off.RuntimeStatus)
	_, ok := m.GetChannel(res.ID)
	require.False(t, ok)

	on, err := m.SetEnabled(ctx, res.ID, true)
	require.NoError(t, err)
	require.Equal(t, "enabled", on.RuntimeStatus)
	_, ok = m.GetChannel(res.ID)
	require.True(t, ok)
}

func TestSetEnabled_NoOpWhenUnchanged(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	res, err := m.Create(ctx, CreateRequest{Name: "virt-5", Protocol: schema.ProtocolVirtual, Enabled: false})
	require.NoError(t, err)

	out, err := m.SetEnabled(ctx, res.ID, false)
	require.NoError(t, err)
	require.Equal(t, "unchanged", out.RuntimeStatus)
}

func TestDelete_RemovesRowAndRuntime(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	res, err := m.Create(ctx, CreateRequest{Name: "virt-6", Protocol: schema.ProtocolVirtual, Enabled: true})
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, res.ID))
	_, ok := m.GetChannel(res.ID)
	require.False(t, ok)

	_, err = m.channels.Get(ctx, res.ID)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestReloadAll_AddsAndRemoves(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	// Created disabled: present in the DB but absent from runtime until reload.
	id := uint16(10)
	_, err := m.Create(ctx, CreateRequest{ChannelID: &id, Name: "virt-7", Protocol: schema.ProtocolVirtual, Enabled: false})
	require.NoError(t, err)
	require.NoError(t, m.channels.SetEnabled(ctx, id, true))

	result, err := m.ReloadAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Added)
	_, ok := m.GetChannel(id)
	require.True(t, ok)

	// Delete the row directly (bypassing channelmgr) to simulate external drift,
	// then reload again and confirm the stale runtime entry is reaped.
	tx, err := m.channels.BeginTxx(ctx)
	require.NoError(t, err)
	require.NoError(t, m.channels.DeleteTx(ctx, tx, id))
	require.NoError(t, tx.Commit())

	result, err = m.ReloadAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Removed)
	_, ok = m.GetChannel(id)
	require.False(t, ok)
}

func TestReloadRouting_RebuildsCacheFromRepository(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.channels.Insert(ctx, &schema.Channel{ChannelID: 1, Name: "plc-routing", Protocol: schema.ProtocolVirtual}))
	require.NoError(t, m.routingRepo.UpsertMeasurementRouting(ctx, schema.MeasurementRouting{
		InstanceID: 100, ChannelID: 1, ChannelType: "T", ChannelPointID: 5, MeasurementID: 9, Enabled: true,
	}))

	result, err := m.ReloadRouting(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.C2MCount)
}

// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package syncer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/EvanL1/VoltageEMS-sub001/internal/repository"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestSyncGlobal_ImportsFlattenedConfig(t *testing.T) {
	require.NoError(t, repository.Connect(":memory:"))
	db := repository.GetConnection().DB
	ctx := context.Background()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "global.yaml"), "log_level: info\nnested:\n  retries: 3\n")

	s := New(db, root)
	result, err := s.SyncService(ctx, "global")
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.Equal(t, 2, result.ItemsSynced)

	var value string
	require.NoError(t, db.GetContext(ctx, &value, `SELECT value FROM service_config WHERE service_name = 'global' AND key = 'nested.retries'`))
	require.Equal(t, "3", value)
}

func TestSyncGlobal_MissingFileIsNotAnError(t *testing.T) {
	require.NoError(t, repository.Connect(":memory:"))
	db := repository.GetConnection().DB
	s := New(db, t.TempDir())

	result, err := s.SyncService(context.Background(), "global")
	require.NoError(t, err)
	require.Zero(t, result.ItemsSynced)
}

func TestSyncComsrv_ImportsChannelsAndPoints(t *testing.T) {
	require.NoError(t, repository.Connect(":memory:"))
	db := repository.GetConnection().DB
	ctx := context.Background()
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "comsrv", "comsrv.yaml"), `
service_name: comsrv
channels:
  - id: 1
    name: plc-1
    protocol: modbus_tcp
    enabled: true
    description: a test channel
    parameters:
      host: 127.0.0.1
      port: 502
`)
	writeFile(t, filepath.Join(root, "comsrv", "1", "telemetry.csv"), "point_id,signal_name,scale,offset,unit,reverse,data_type,description\n1,temp,1.0,0.0,C,false,Float32,Temperature\n")
	writeFile(t, filepath.Join(root, "comsrv", "1", "mapping", "telemetry_mapping.csv"), "point_id,slave_id,function_code,register_address,bit_position\n1,1,3,100,\n")

	s := New(db, root)
	result, err := s.SyncService(ctx, "comsrv")
	require.NoError(t, err)
	require.Empty(t, result.Errors)

	var protocol string
	require.NoError(t, db.GetContext(ctx, &protocol, `SELECT protocol FROM channels WHERE channel_id = 1`))
	require.Equal(t, "modbus_tcp", protocol)

	var mappings string
	require.NoError(t, db.GetContext(ctx, &mappings, `SELECT protocol_mappings FROM telemetry_points WHERE channel_id = 1 AND point_id = 1`))
	require.Contains(t, mappings, `"slave_id":1`)
	require.Contains(t, mappings, `"bit_position":0`)

	var config string
	require.NoError(t, db.GetContext(ctx, &config, `SELECT config FROM channels WHERE channel_id = 1`))
	require.Contains(t, config, "a test channel")
}

func TestSyncComsrv_DuplicateChannelNameIsFatal(t *testing.T) {
	require.NoError(t, repository.Connect(":memory:"))
	db := repository.GetConnection().DB
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "comsrv", "comsrv.yaml"), `
channels:
  - id: 1
    name: dup
    protocol: virtual
  - id: 2
    name: dup
    protocol: virtual
`)

	s := New(db, root)
	_, err := s.SyncService(context.Background(), "comsrv")
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate channel name")
}

func TestSyncModsrv_ImportsProductsInstancesRoutingCalculationsRules(t *testing.T) {
	require.NoError(t, repository.Connect(":memory:"))
	db := repository.GetConnection().DB
	ctx := context.Background()
	root := t.TempDir()

	// syncModsrv's routing rows reference comsrv's channel table, so seed
	// a channel first.
	writeFile(t, filepath.Join(root, "comsrv", "comsrv.yaml"), "channels:\n  - id: 1\n    name: plc-1\n    protocol: modbus_tcp\n")
	_, err := New(db, root).SyncService(ctx, "comsrv")
	require.NoError(t, err)

	writeFile(t, filepath.Join(root, "modsrv", "modsrv.yaml"), "service_name: modsrv\n")
	writeFile(t, filepath.Join(root, "modsrv", "products", "products.yaml"), "products:\n  base:\n  plc: base\n")
	writeFile(t, filepath.Join(root, "modsrv", "products", "plc", "measurements.csv"), "measurement_id,name,unit,data_type,description\n1,temp,C,Float64,Temperature\n")
	writeFile(t, filepath.Join(root, "modsrv", "products", "plc", "actions.csv"), "action_id,name,unit,data_type,description\n1,start,,Bool,Start command\n")
	writeFile(t, filepath.Join(root, "modsrv", "products", "plc", "properties.csv"), "point_index,name,default_value,description\n1,setpoint,0,Setpoint\n")

	writeFile(t, filepath.Join(root, "modsrv", "instances.yaml"), `
instances:
  - instance_id: 100
    instance_name: plc-inst-1
    product_name: plc
`)
	writeFile(t, filepath.Join(root, "modsrv", "instances", "plc-inst-1", "properties.csv"), "point_index,value\n1,380.0\n")
	writeFile(t, filepath.Join(root, "modsrv", "instances", "plc-inst-1", "channel_routing.csv"), "channel_id,channel_type,channel_point_id,instance_type,instance_point_id\n1,T,1,M,1\n")

	writeFile(t, filepath.Join(root, "modsrv", "calculations.yaml"), `
calculations:
  - name: calc1
    description: test calc
    calculation_type:
      kind: sum
    output:
      inst: 100
      type: M
      id: 2
    enabled: true
`)
	writeFile(t, filepath.Join(root, "modsrv", "rules", "rule1.json"), `{"name":"rule1","enabled":true,"priority":1,"nodes":[{"id":"n1"}]}`)

	s := New(db, root)
	result, err := s.SyncService(ctx, "modsrv")
	require.NoError(t, err)
	require.Empty(t, result.Errors)

	var productCount int
	require.NoError(t, db.GetContext(ctx, &productCount, `SELECT COUNT(*) FROM products`))
	require.Equal(t, 2, productCount)

	var properties string
	require.NoError(t, db.GetContext(ctx, &properties, `SELECT properties FROM instances WHERE instance_name = 'plc-inst-1'`))
	require.Contains(t, properties, `"1":"380.0"`)

	var routingCount int
	require.NoError(t, db.GetContext(ctx, &routingCount, `SELECT COUNT(*) FROM measurement_routing WHERE instance_id = 100 AND measurement_id = 1`))
	require.Equal(t, 1, routingCount)

	var calcOutputID int
	require.NoError(t, db.GetContext(ctx, &calcOutputID, `SELECT output_id FROM calculations WHERE calculation_name = 'calc1'`))
	require.Equal(t, 2, calcOutputID)

	var ruleName string
	require.NoError(t, db.GetContext(ctx, &ruleName, `SELECT name FROM rules WHERE name = 'rule1'`))
	require.Equal(t, "rule1", ruleName)
}

// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package channelmgr

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/EvanL1/VoltageEMS-sub001/internal/comsrv/can"
	"github.com/EvanL1/VoltageEMS-sub001/internal/comsrv/didio"
	"github.com/EvanL1/VoltageEMS-sub001/internal/comsrv/modbus"
	"github.com/EvanL1/VoltageEMS-sub001/internal/comsrv/pool"
	"github.com/EvanL1/VoltageEMS-sub001/internal/comsrv/poll"
	"github.com/EvanL1/VoltageEMS-sub001/internal/comsrv/virtual"
	"github.com/EvanL1/VoltageEMS-sub001/internal/repository"
	"github.com/EvanL1/VoltageEMS-sub001/pkg/schema"
)

// modbusPool is shared by every Modbus channel runtime; the pool itself is
// already keyed by host:port (internal/comsrv/pool.Key), so a single
// process-wide pool correctly isolates connections per target.
var modbusPool = mustModbusPool()

func mustModbusPool() *pool.Pool[*modbus.Connection] {
	p, err := pool.New[*modbus.Connection](pool.DefaultConfig(), modbus.DialTCP, nil)
	if err != nil {
		panic(fmt.Sprintf("channelmgr: building Modbus connection pool: %s", err))
	}
	return p
}

// paramString reads a string-valued channel parameter, trying every key in
// order (spec.md §4.4.2 lists several synonyms: host/ip/address/server).
func paramString(params map[string]json.RawMessage, keys ...string) (string, bool) {
	for _, key := range keys {
		raw, ok := params[key]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			return s, true
		}
	}
	return "", false
}

func paramInt(params map[string]json.RawMessage, def int, keys ...string) int {
	for _, key := range keys {
		raw, ok := params[key]
		if !ok {
			continue
		}
		var n int
		if json.Unmarshal(raw, &n) == nil {
			return n
		}
	}
	return def
}

// assembled is the output of reading a channel's point-definition tables
// and building the concrete reader that will serve them.
type assembled struct {
	points []poll.PollingPoint
	reader poll.PointReader
}

// assembleRuntime reads ch's four point-definition tables, decodes each
// row's protocol_mappings according to ch.Protocol, and builds the matching
// poll.PointReader (spec.md §4.4.1's "instantiates the protocol, wires the
// point reader").
func assembleRuntime(ctx context.Context, pointsRepo *repository.PointRepository, ch *schema.Channel) (*assembled, error) {
	var points []poll.PollingPoint
	registerMap := map[string]schema.RegisterMapping{}
	var canMappings []can.PointMapping

	for _, class := range []schema.PointClass{schema.PointTelemetry, schema.PointSignal, schema.PointControl, schema.PointAdjust} {
		rows, err := pointsRepo.ListByChannel(ctx, class, ch.ChannelID)
		if err != nil {
			return nil, fmt.Errorf("channelmgr: listing %s points for channel %d: %w", class, ch.ChannelID, err)
		}
		for _, pd := range rows {
			id := pointKey(class, pd.PointID)
			pp := poll.PollingPoint{
				ID: id, Name: pd.SignalName, Unit: pd.Unit, Description: pd.Description,
				DataType: pd.DataType, Scale: pd.Scale, Offset: pd.Offset,
			}

			switch ch.Protocol {
			case schema.ProtocolModbusTCP, schema.ProtocolModbusRTU:
				var mm schema.ModbusMapping
				if len(pd.ProtocolMappings) > 0 {
					if err := json.Unmarshal(pd.ProtocolMappings, &mm); err != nil {
						return nil, fmt.Errorf("channelmgr: decoding modbus mapping for point %s: %w", id, err)
					}
				}
				registerMap[id] = schema.RegisterMapping{
					Name: pd.SignalName, DisplayName: pd.SignalName,
					RegisterType: registerTypeForFunctionCode(mm.FunctionCode),
					Address:      mm.RegisterAddress,
					DataType:     schema.DataType(pd.DataType),
					Scale:        pd.Scale, Offset: pd.Offset, Unit: pd.Unit, Description: pd.Description,
					ByteOrder: schema.BigEndian, SlaveID: mm.SlaveID,
				}

			case schema.ProtocolCAN:
				var cm schema.CANMapping
				if len(pd.ProtocolMappings) > 0 {
					if err := json.Unmarshal(pd.ProtocolMappings, &cm); err != nil {
						return nil, fmt.Errorf("channelmgr: decoding CAN mapping for point %s: %w", id, err)
					}
				}
				canMappings = append(canMappings, can.PointMapping{Point: pp, Mapping: cm})
			}

			points = append(points, pp)
		}
	}

	reader, err := buildReader(ch, registerMap, canMappings)
	if err != nil {
		return nil, err
	}
	return &assembled{points: points, reader: reader}, nil
}

func registerTypeForFunctionCode(fc int) schema.RegisterType {
	switch fc {
	case int(modbus.FCReadCoils), int(modbus.FCWriteSingleCoil), int(modbus.FCWriteMultipleCoils):
		return schema.RegisterCoil
	case int(modbus.FCReadDiscreteInputs):
		return schema.RegisterDiscreteInput
	case int(modbus.FCReadInputRegisters):
		return schema.RegisterInputRegister
	default:
		return schema.RegisterHoldingRegister
	}
}

// buildReader dispatches on ch.Protocol to construct the concrete
// poll.PointReader for a channel.
func buildReader(ch *schema.Channel, registerMap map[string]schema.RegisterMapping, canMappings []can.PointMapping) (poll.PointReader, error) {
	switch ch.Protocol {
	case schema.ProtocolModbusTCP:
		host, ok := paramString(ch.Parameters, "host", "ip", "address", "server")
		if !ok {
			return nil, fmt.Errorf("channelmgr: modbus_tcp channel %d missing host/address parameter", ch.ChannelID)
		}
		port := paramInt(ch.Parameters, 502, "port")
		unitID := paramInt(ch.Parameters, 1, "slave_id", "unit_id")
		return modbus.NewReader(modbusPool, host, port, byte(unitID), registerMap), nil

	case schema.ProtocolModbusRTU:
		return nil, fmt.Errorf("channelmgr: modbus_rtu transport not implemented (serial ports are not available in this environment); use modbus_tcp")

	case schema.ProtocolCAN:
		return can.NewReader(canMappings), nil

	case schema.ProtocolDIDO:
		return didio.NewReader(), nil

	case schema.ProtocolVirtual:
		return virtual.NewReader(), nil

	default:
		return nil, fmt.Errorf("channelmgr: unknown protocol %q for channel %d", ch.Protocol, ch.ChannelID)
	}
}

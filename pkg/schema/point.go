// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package schema holds the domain types shared across comsrv, the channel
// manager, the config syncer and the rule engine: channels, point
// definitions, routing rows, products/instances and DAG rules. These are
// the Go equivalents of the SQLite row shapes from spec.md §6.
package schema

import "encoding/json"

// Protocol identifies the transport a channel speaks.
type Protocol string

const (
	ProtocolModbusTCP Protocol = "modbus_tcp"
	ProtocolModbusRTU Protocol = "modbus_rtu"
	ProtocolDIDO      Protocol = "di_do"
	ProtocolCAN       Protocol = "can"
	ProtocolVirtual   Protocol = "virtual"
)

// PointClass is one of the four channel point tables (T/S/C/A).
type PointClass string

const (
	PointTelemetry PointClass = "T"
	PointSignal    PointClass = "S"
	PointControl   PointClass = "C"
	PointAdjust    PointClass = "A"
)

// LoggingConfig is the per-channel logging knob stored in the channel's
// JSON config blob.
type LoggingConfig struct {
	Level       string `json:"level,omitempty"`
	LogPackets  bool   `json:"log_packets,omitempty"`
	LogInterval int    `json:"log_interval_s,omitempty"`
}

// ChannelConfig is the "config" JSON column of the channels table: every
// channel attribute that isn't broken out into its own SQL column.
type ChannelConfig struct {
	Parameters  map[string]json.RawMessage `json:"parameters"`
	Description string                     `json:"description,omitempty"`
	Logging     LoggingConfig              `json:"logging,omitempty"`
}

// Channel is the persisted row shape of the `channels` table (spec.md §3).
type Channel struct {
	ChannelID   uint16        `db:"channel_id" json:"channel_id"`
	Name        string        `db:"name" json:"name"`
	Protocol    Protocol      `db:"protocol" json:"protocol"`
	Enabled     bool          `db:"enabled" json:"enabled"`
	Description string        `json:"description,omitempty"`
	Parameters  map[string]json.RawMessage `json:"parameters"`
	Logging     LoggingConfig `json:"logging,omitempty"`
}

// MarshalConfig produces the JSON blob stored in the channels.config column.
func (c *Channel) MarshalConfig() ([]byte, error) {
	return json.Marshal(ChannelConfig{
		Parameters:  c.Parameters,
		Description: c.Description,
		Logging:     c.Logging,
	})
}

// UnmarshalConfig populates Description/Parameters/Logging from a stored blob.
func (c *Channel) UnmarshalConfig(raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	var cfg ChannelConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return err
	}
	c.Parameters = cfg.Parameters
	c.Description = cfg.Description
	c.Logging = cfg.Logging
	return nil
}

// RegisterType is the Modbus addressable object class.
type RegisterType string

const (
	RegisterCoil            RegisterType = "coil"
	RegisterDiscreteInput    RegisterType = "discrete_input"
	RegisterInputRegister    RegisterType = "input_register"
	RegisterHoldingRegister  RegisterType = "holding_register"
)

// DataType enumerates the register-mapped value encodings from spec.md §3.
type DataType string

const (
	DataBool    DataType = "Bool"
	DataInt16   DataType = "Int16"
	DataUInt16  DataType = "UInt16"
	DataInt32   DataType = "Int32"
	DataUInt32  DataType = "UInt32"
	DataInt64   DataType = "Int64"
	DataUInt64  DataType = "UInt64"
	DataFloat32 DataType = "Float32"
	DataFloat64 DataType = "Float64"
	DataString  DataType = "String"
)

// ByteOrder is the multi-register word ordering from spec.md §4.3.3.
type ByteOrder string

const (
	BigEndian             ByteOrder = "BigEndian"
	LittleEndian          ByteOrder = "LittleEndian"
	BigEndianWordSwapped  ByteOrder = "BigEndianWordSwapped"
	LittleEndianWordSwapped ByteOrder = "LittleEndianWordSwapped"
)

// AccessMode restricts whether a register is polled, written, or both.
type AccessMode string

const (
	AccessRead      AccessMode = "read"
	AccessWrite     AccessMode = "write"
	AccessReadWrite AccessMode = "read_write"
)

// RegisterMapping is the runtime (decoded) form of protocol_mappings for a
// Modbus point: what the polling engine and write path actually use.
type RegisterMapping struct {
	Name        string       `json:"name"`
	DisplayName string       `json:"display_name"`
	RegisterType RegisterType `json:"register_type"`
	Address     uint16       `json:"address"`
	DataType    DataType     `json:"data_type"`
	StringLen   int          `json:"string_len,omitempty"`
	Scale       float64      `json:"scale"`
	Offset      float64      `json:"offset"`
	Unit        string       `json:"unit"`
	Description string       `json:"description"`
	AccessMode  AccessMode   `json:"access_mode"`
	Group       string       `json:"group"`
	ByteOrder   ByteOrder    `json:"byte_order"`
	SlaveID     uint8        `json:"slave_id"`
}

// RegisterCount returns the number of 16-bit registers the data type spans.
func (r RegisterMapping) RegisterCount() int {
	return DataTypeRegisterCount(r.DataType, r.StringLen)
}

// DataTypeRegisterCount derives register width from a data type per spec.md §3:
// Bool/16-bit -> 1, 32-bit -> 2, 64-bit -> 4, String(n) -> ceil(n/2).
func DataTypeRegisterCount(dt DataType, stringLen int) int {
	switch dt {
	case DataBool, DataInt16, DataUInt16:
		return 1
	case DataInt32, DataUInt32, DataFloat32:
		return 2
	case DataInt64, DataUInt64, DataFloat64:
		return 4
	case DataString:
		return (stringLen + 1) / 2
	default:
		return 1
	}
}

// ModbusMapping is the JSON shape of protocol_mappings for Modbus points,
// as stored in telemetry_points/signal_points/control_points/adjustment_points.
type ModbusMapping struct {
	SlaveID         uint8  `json:"slave_id"`
	FunctionCode    int    `json:"function_code"`
	RegisterAddress uint16 `json:"register_address"`
	BitPosition     int    `json:"bit_position"`
}

// CANMapping is the JSON shape of protocol_mappings for CAN points.
type CANMapping struct {
	CANID     uint32  `json:"can_id"`
	StartBit  int     `json:"start_bit"`
	BitLength int     `json:"bit_length"`
	Signed    bool    `json:"signed"`
	Scale     float64 `json:"scale"`
	Offset    float64 `json:"offset"`
}

// PointDefinition is the common row shape of the four point tables
// (telemetry_points/signal_points/control_points/adjustment_points).
type PointDefinition struct {
	ChannelID        uint16          `db:"channel_id" json:"channel_id"`
	PointID          uint32          `db:"point_id" json:"point_id"`
	SignalName       string          `db:"signal_name" json:"signal_name"`
	Scale            float64         `db:"scale" json:"scale"`
	Offset           float64         `db:"offset" json:"offset"`
	Unit             string          `db:"unit" json:"unit"`
	Reverse          bool            `db:"reverse" json:"reverse"`
	DataType         string          `db:"data_type" json:"data_type"`
	Description      string          `db:"description" json:"description"`
	ProtocolMappings json.RawMessage `db:"protocol_mappings" json:"protocol_mappings"`
}

// Product is a node in the single-parent product hierarchy.
type Product struct {
	ProductName string  `db:"product_name" json:"product_name"`
	ParentName  *string `db:"parent_name" json:"parent_name,omitempty"`
}

// Instance is a model-instance row; Properties maps "<point_index>" -> stringified value.
type Instance struct {
	InstanceID   uint32            `db:"instance_id" json:"instance_id"`
	InstanceName string            `db:"instance_name" json:"instance_name"`
	ProductName  string            `db:"product_name" json:"product_name"`
	Properties   map[string]string `json:"properties"`
}

// MeasurementRouting is a row of measurement_routing (C2M source).
type MeasurementRouting struct {
	InstanceID      uint32 `db:"instance_id" json:"instance_id"`
	ChannelID       uint16 `db:"channel_id" json:"channel_id"`
	ChannelType     string `db:"channel_type" json:"channel_type"` // T|S
	ChannelPointID  uint32 `db:"channel_point_id" json:"channel_point_id"`
	MeasurementID   uint32 `db:"measurement_id" json:"measurement_id"`
	Enabled         bool   `db:"enabled" json:"enabled"`
}

// ActionRouting is a row of action_routing (M2C source).
type ActionRouting struct {
	InstanceID     uint32 `db:"instance_id" json:"instance_id"`
	ActionID       uint32 `db:"action_id" json:"action_id"`
	ChannelID      uint16 `db:"channel_id" json:"channel_id"`
	ChannelType    string `db:"channel_type" json:"channel_type"` // C|A
	ChannelPointID uint32 `db:"channel_point_id" json:"channel_point_id"`
	Enabled        bool   `db:"enabled" json:"enabled"`
}

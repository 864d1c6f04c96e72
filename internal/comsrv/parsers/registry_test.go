// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package parsers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_UnregisteredProtocolFallsBackToHexDump(t *testing.T) {
	r := NewRegistry()
	result := r.Parse("can", []byte{0x01, 0x02}, DirectionSend)
	assert.Equal(t, "0102", result.HexData)
	assert.True(t, result.Success)
	assert.Contains(t, result.Description, "no parser registered")
}

func TestRegistry_RegisteredParserIsUsed(t *testing.T) {
	r := NewRegistry()
	r.Register("modbus", ModbusParser)

	result := r.Parse("modbus", []byte{0x06, 0x01, 0x00, 0x12, 0x34}, DirectionReceive)
	require.True(t, result.Success)
	assert.Equal(t, "modbus", result.Protocol)
	assert.Contains(t, result.Description, "WriteSingleRegister")
}

func TestModbusParser_ExceptionResponse(t *testing.T) {
	result := ModbusParser([]byte{0x86, 0x02}, DirectionReceive)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "0x02")
}

func TestModbusParser_EmptyPDU(t *testing.T) {
	result := ModbusParser(nil, DirectionSend)
	assert.False(t, result.Success)
	assert.Equal(t, "empty PDU", result.Error)
}

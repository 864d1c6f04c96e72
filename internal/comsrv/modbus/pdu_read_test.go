// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package modbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildReadRequest(t *testing.T) {
	pdu := BuildReadRequest(FCReadHoldingRegisters, 0x0010, 2)
	require.Equal(t, []byte{FCReadHoldingRegisters, 0x00, 0x10, 0x00, 0x02}, pdu)
}

func TestParseReadRegistersResponse_RoundTrip(t *testing.T) {
	resp := []byte{FCReadHoldingRegisters, 4, 0x00, 0x7B, 0x01, 0x02}
	regs, err := ParseReadRegistersResponse(resp, FCReadHoldingRegisters)
	require.NoError(t, err)
	require.Equal(t, []uint16{123, 258}, regs)
}

func TestParseReadRegistersResponse_ExceptionResponse(t *testing.T) {
	resp := []byte{FCReadHoldingRegisters | exceptionBit, 0x02}
	_, err := ParseReadRegistersResponse(resp, FCReadHoldingRegisters)
	require.Error(t, err)
}

func TestParseReadRegistersResponse_FunctionCodeMismatch(t *testing.T) {
	resp := []byte{FCReadInputRegisters, 2, 0x00, 0x01}
	_, err := ParseReadRegistersResponse(resp, FCReadHoldingRegisters)
	require.Error(t, err)
}

func TestParseReadRegistersResponse_MalformedByteCount(t *testing.T) {
	resp := []byte{FCReadHoldingRegisters, 3, 0x00, 0x01, 0x02}
	_, err := ParseReadRegistersResponse(resp, FCReadHoldingRegisters)
	require.Error(t, err)
}

func TestParseReadBitsResponse_UnpacksLSBFirst(t *testing.T) {
	// 10 coils: byte0=0b00000101 (coils 0,2 set), byte1=0b00000001 (coil 8 set).
	resp := []byte{FCReadCoils, 2, 0b00000101, 0b00000001}
	bits, err := ParseReadBitsResponse(resp, FCReadCoils, 10)
	require.NoError(t, err)
	require.Equal(t, []bool{true, false, true, false, false, false, false, false, true, false}, bits)
}

func TestParseReadBitsResponse_ExceptionResponse(t *testing.T) {
	resp := []byte{FCReadCoils | exceptionBit, 0x01}
	_, err := ParseReadBitsResponse(resp, FCReadCoils, 1)
	require.Error(t, err)
}

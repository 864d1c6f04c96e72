// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package modbus

import (
	"testing"

	"github.com/EvanL1/VoltageEMS-sub001/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildWriteSingleCoil(t *testing.T) {
	assert.Equal(t, []byte{0x05, 0x01, 0x00, 0xFF, 0x00}, BuildWriteSingleCoil(0x0100, true))
	assert.Equal(t, []byte{0x05, 0x02, 0x00, 0x00, 0x00}, BuildWriteSingleCoil(0x0200, false))
}

func TestBuildWriteSingleRegister(t *testing.T) {
	assert.Equal(t, []byte{0x06, 0x03, 0x00, 0x12, 0x34}, BuildWriteSingleRegister(0x0300, 0x1234))
}

func TestBuildWriteMultipleCoils(t *testing.T) {
	pdu, err := BuildWriteMultipleCoils(0x0200, []bool{true, false, true, true, false})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0F, 0x02, 0x00, 0x00, 0x05, 0x01, 0x0D}, pdu)

	_, err = BuildWriteMultipleCoils(0x0100, nil)
	assert.Error(t, err)

	_, err = BuildWriteMultipleCoils(0x0100, make([]bool, 2001))
	assert.Error(t, err)
}

func TestBuildWriteMultipleCoils_CrossByte(t *testing.T) {
	coils := []bool{true, false, true, true, false, false, false, true, true, true}
	pdu, err := BuildWriteMultipleCoils(0x0300, coils)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0F, 0x03, 0x00, 0x00, 0x0A, 0x02, 0x8D, 0x03}, pdu)
}

func TestBuildWriteMultipleRegisters(t *testing.T) {
	pdu, err := BuildWriteMultipleRegisters(0x0200, []uint16{0xABCD, 0x1234, 0x5678})
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x10, 0x02, 0x00, 0x00, 0x03, 0x06,
		0xAB, 0xCD, 0x12, 0x34, 0x56, 0x78,
	}, pdu)

	_, err = BuildWriteMultipleRegisters(0x0100, nil)
	assert.Error(t, err)

	_, err = BuildWriteMultipleRegisters(0x0100, make([]uint16, 124))
	assert.Error(t, err)
}

func TestParseWriteResponse(t *testing.T) {
	assert.NoError(t, ParseWriteResponse([]byte{0x06, 0x01, 0x00, 0x12, 0x34}, 0x06))

	err := ParseWriteResponse([]byte{0x86, 0x02}, 0x06)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exception")
	assert.Contains(t, err.Error(), "02")

	err = ParseWriteResponse([]byte{0x10, 0x01, 0x00}, 0x06)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatch")

	err = ParseWriteResponse(nil, 0x06)
	assert.Error(t, err)
}

func TestEncodeRegisters_ByteOrders(t *testing.T) {
	bytes4 := []byte{0x12, 0x34, 0x56, 0x78}

	regs, err := EncodeRegisters(bytes4, schema.BigEndian)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x1234, 0x5678}, regs)

	regs, err = EncodeRegisters(bytes4, schema.LittleEndian)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x7856, 0x3412}, regs)

	regs, err = EncodeRegisters(bytes4, schema.BigEndianWordSwapped)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x3412, 0x7856}, regs)

	regs, err = EncodeRegisters(bytes4, schema.LittleEndianWordSwapped)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x5678, 0x1234}, regs)
}

func TestEncodeRegisters_64Bit(t *testing.T) {
	bytes8 := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

	regs, err := EncodeRegisters(bytes8, schema.BigEndian)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x0102, 0x0304, 0x0506, 0x0708}, regs)

	regs, err = EncodeRegisters(bytes8, schema.LittleEndian)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x0807, 0x0605, 0x0403, 0x0201}, regs)
}

func TestEncodeDecodeRegisters_RoundTrip(t *testing.T) {
	orders := []schema.ByteOrder{
		schema.BigEndian, schema.LittleEndian,
		schema.BigEndianWordSwapped, schema.LittleEndianWordSwapped,
	}
	original := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	for _, order := range orders {
		regs, err := EncodeRegisters(original, order)
		require.NoError(t, err)
		back, err := DecodeRegisters(regs, order)
		require.NoError(t, err)
		assert.Equal(t, original, back, "order %s not symmetric", order)
	}
}

func TestEncodeValue_Uint32ByteOrders(t *testing.T) {
	regs, err := EncodeValue(IntValue(0x12345678), schema.DataUInt32, schema.BigEndian)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x1234, 0x5678}, regs)

	regs, err = EncodeValue(IntValue(0x12345678), schema.DataUInt32, schema.LittleEndian)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x7856, 0x3412}, regs)
}

func TestEncodeValue_IntegerRounding(t *testing.T) {
	regs, err := EncodeValue(FloatValue(123.7), schema.DataUInt16, schema.BigEndian)
	require.NoError(t, err)
	assert.Equal(t, []uint16{124}, regs)
}

func TestEncodeValue_StringParseFailureYieldsZero(t *testing.T) {
	regs, err := EncodeValue(StringValue("not-a-number"), schema.DataUInt16, schema.BigEndian)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0}, regs)
}

func TestEncodeValue_BoolFromString(t *testing.T) {
	cases := map[string]bool{
		"true": true, "TRUE": true, "on": true, "ON": true, "1": true,
		"false": false, "0": false, "off": false,
	}
	for s, want := range cases {
		regs, err := EncodeValue(StringValue(s), schema.DataBool, schema.BigEndian)
		require.NoError(t, err)
		if want {
			assert.Equal(t, []uint16{1}, regs, "string %q", s)
		} else {
			assert.Equal(t, []uint16{0}, regs, "string %q", s)
		}
	}
}

func TestEncodeDecodeValue_Float64RoundTrip(t *testing.T) {
	regs, err := EncodeValue(FloatValue(123.456789), schema.DataFloat64, schema.BigEndian)
	require.NoError(t, err)
	require.Len(t, regs, 4)

	decoded, err := DecodeValue(regs, schema.DataFloat64, schema.BigEndian)
	require.NoError(t, err)
	assert.InDelta(t, 123.456789, decoded, 1e-9)
}

func TestCRC16_KnownVector(t *testing.T) {
	// FC03 read holding registers request: slave 0x01, FC 0x03, addr 0x0000, qty 0x0001
	frame := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01}
	crc := CRC16(frame)
	// Well-known Modbus CRC for this exact frame is 0x0A84 (low byte first on wire).
	assert.Equal(t, uint16(0x0A84), crc)
}

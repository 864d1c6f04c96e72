// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package modbus implements the reference protocol codec from spec.md
// §4.3.3: function codes, write PDU construction, write-response parsing,
// byte-order-correct multi-register encode/decode and RTU CRC-16.
package modbus

import "fmt"

// Function codes (spec.md §4.3.3).
const (
	FCReadCoils             byte = 0x01
	FCReadDiscreteInputs    byte = 0x02
	FCReadHoldingRegisters  byte = 0x03
	FCReadInputRegisters    byte = 0x04
	FCWriteSingleCoil       byte = 0x05
	FCWriteSingleRegister   byte = 0x06
	FCWriteMultipleCoils    byte = 0x0F
	FCWriteMultipleRegs     byte = 0x10
	exceptionBit            byte = 0x80
	maxWriteCoils                = 2000
	maxWriteRegisters            = 123
)

// BuildWriteSingleCoil builds the FC05 PDU: value 0xFF00 for true, 0x0000
// for false.
func BuildWriteSingleCoil(address uint16, value bool) []byte {
	pdu := []byte{FCWriteSingleCoil, byte(address >> 8), byte(address)}
	if value {
		return append(pdu, 0xFF, 0x00)
	}
	return append(pdu, 0x00, 0x00)
}

// BuildWriteSingleRegister builds the FC06 PDU.
func BuildWriteSingleRegister(address, value uint16) []byte {
	return []byte{
		FCWriteSingleRegister,
		byte(address >> 8), byte(address),
		byte(value >> 8), byte(value),
	}
}

// BuildWriteMultipleCoils builds the FC0F PDU. Coils pack LSB-first within
// each byte: coil i -> bit (i mod 8) of byte (i/8).
func BuildWriteMultipleCoils(startAddress uint16, values []bool) ([]byte, error) {
	if len(values) == 0 || len(values) > maxWriteCoils {
		return nil, fmt.Errorf("modbus: invalid coil count for FC15: %d", len(values))
	}

	byteCount := (len(values) + 7) / 8
	pdu := make([]byte, 0, 6+byteCount)
	pdu = append(pdu, FCWriteMultipleCoils, byte(startAddress>>8), byte(startAddress))
	quantity := uint16(len(values))
	pdu = append(pdu, byte(quantity>>8), byte(quantity), byte(byteCount))

	var cur byte
	bit := 0
	for _, v := range values {
		if v {
			cur |= 1 << uint(bit)
		}
		bit++
		if bit == 8 {
			pdu = append(pdu, cur)
			cur = 0
			bit = 0
		}
	}
	if bit > 0 {
		pdu = append(pdu, cur)
	}
	return pdu, nil
}

// BuildWriteMultipleRegisters builds the FC10 PDU.
func BuildWriteMultipleRegisters(startAddress uint16, values []uint16) ([]byte, error) {
	if len(values) == 0 || len(values) > maxWriteRegisters {
		return nil, fmt.Errorf("modbus: invalid register count for FC16: %d", len(values))
	}

	byteCount := len(values) * 2
	pdu := make([]byte, 0, 6+byteCount)
	pdu = append(pdu, FCWriteMultipleRegs, byte(startAddress>>8), byte(startAddress))
	quantity := uint16(len(values))
	pdu = append(pdu, byte(quantity>>8), byte(quantity), byte(byteCount))
	for _, v := range values {
		pdu = append(pdu, byte(v>>8), byte(v))
	}
	return pdu, nil
}

// BuildReadRequest builds an FC01/02/03/04 read-request PDU.
func BuildReadRequest(fc byte, startAddress, quantity uint16) []byte {
	return []byte{
		fc,
		byte(startAddress >> 8), byte(startAddress),
		byte(quantity >> 8), byte(quantity),
	}
}

// ParseReadRegistersResponse extracts the register values from an FC03/04
// response PDU: [fc, byteCount, data...].
func ParseReadRegistersResponse(pdu []byte, expectedFC byte) ([]uint16, error) {
	if len(pdu) == 0 {
		return nil, fmt.Errorf("modbus: empty response PDU")
	}
	if pdu[0]&exceptionBit != 0 {
		code := byte(0)
		if len(pdu) > 1 {
			code = pdu[1]
		}
		return nil, fmt.Errorf("modbus: exception response: code %02X", code)
	}
	if pdu[0] != expectedFC {
		return nil, fmt.Errorf("modbus: function code mismatch: expected %02X, got %02X", expectedFC, pdu[0])
	}
	if len(pdu) < 2 {
		return nil, fmt.Errorf("modbus: truncated read response")
	}
	byteCount := int(pdu[1])
	if len(pdu) < 2+byteCount || byteCount%2 != 0 {
		return nil, fmt.Errorf("modbus: malformed read response: byte count %d, got %d data bytes", byteCount, len(pdu)-2)
	}
	regs := make([]uint16, byteCount/2)
	for i := range regs {
		regs[i] = uint16(pdu[2+i*2])<<8 | uint16(pdu[3+i*2])
	}
	return regs, nil
}

// ParseReadBitsResponse extracts bit values from an FC01/02 response PDU,
// unpacking LSB-first within each byte, same convention as BuildWriteMultipleCoils.
func ParseReadBitsResponse(pdu []byte, expectedFC byte, quantity int) ([]bool, error) {
	if len(pdu) == 0 {
		return nil, fmt.Errorf("modbus: empty response PDU")
	}
	if pdu[0]&exceptionBit != 0 {
		code := byte(0)
		if len(pdu) > 1 {
			code = pdu[1]
		}
		return nil, fmt.Errorf("modbus: exception response: code %02X", code)
	}
	if pdu[0] != expectedFC {
		return nil, fmt.Errorf("modbus: function code mismatch: expected %02X, got %02X", expectedFC, pdu[0])
	}
	if len(pdu) < 2 {
		return nil, fmt.Errorf("modbus: truncated read response")
	}
	byteCount := int(pdu[1])
	if len(pdu) < 2+byteCount {
		return nil, fmt.Errorf("modbus: malformed read response: byte count %d, got %d data bytes", byteCount, len(pdu)-2)
	}
	bits := make([]bool, 0, quantity)
	for i := 0; i < quantity; i++ {
		b := pdu[2+i/8]
		bits = append(bits, (b>>uint(i%8))&1 != 0)
	}
	return bits, nil
}

// ParseWriteResponse validates a write-response PDU against the expected
// function code (spec.md §4.3.3). Success is signaled solely by FC match;
// the echoed address/value is not validated.
func ParseWriteResponse(pdu []byte, expectedFC byte) error {
	if len(pdu) == 0 {
		return fmt.Errorf("modbus: empty response PDU")
	}
	if pdu[0]&exceptionBit != 0 {
		code := byte(0)
		if len(pdu) > 1 {
			code = pdu[1]
		}
		return fmt.Errorf("modbus: exception response: code %02X", code)
	}
	if pdu[0] != expectedFC {
		return fmt.Errorf("modbus: function code mismatch: expected %02X, got %02X", expectedFC, pdu[0])
	}
	return nil
}

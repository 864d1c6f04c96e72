// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package parsers

import (
	"encoding/hex"
	"fmt"
)

var functionCodeNames = map[byte]string{
	0x01: "ReadCoils",
	0x02: "ReadDiscreteInputs",
	0x03: "ReadHoldingRegisters",
	0x04: "ReadInputRegisters",
	0x05: "WriteSingleCoil",
	0x06: "WriteSingleRegister",
	0x0F: "WriteMultipleCoils",
	0x10: "WriteMultipleRegisters",
}

// ModbusParser decodes the function code (and exception flag) of a Modbus
// PDU for debug logs; it does not attempt full register interpretation.
func ModbusParser(data []byte, direction Direction) PacketParseResult {
	hexData := hex.EncodeToString(data)
	if len(data) == 0 {
		return PacketParseResult{
			Protocol: "modbus", Direction: direction, HexData: hexData,
			Success: false, Error: "empty PDU",
		}
	}

	fc := data[0]
	if fc&0x80 != 0 {
		code := byte(0)
		if len(data) > 1 {
			code = data[1]
		}
		return PacketParseResult{
			Protocol:    "modbus",
			Direction:   direction,
			HexData:     hexData,
			Description: fmt.Sprintf("exception response, code 0x%02X", code),
			Fields:      map[string]any{"function_code": fc, "exception_code": code},
			Success:     false,
			Error:       fmt.Sprintf("exception code 0x%02X", code),
		}
	}

	name, known := functionCodeNames[fc]
	if !known {
		name = fmt.Sprintf("unknown(0x%02X)", fc)
	}
	return PacketParseResult{
		Protocol:    "modbus",
		Direction:   direction,
		HexData:     hexData,
		Description: fmt.Sprintf("%s, %d byte PDU", name, len(data)),
		Fields:      map[string]any{"function_code": fc},
		Success:     true,
	}
}

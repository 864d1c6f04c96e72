// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package modbus

import (
	"encoding/binary"
	"fmt"

	"github.com/EvanL1/VoltageEMS-sub001/pkg/schema"
)

// EncodeRegisters packs a big-endian byte slice (2, 4 or 8 bytes) into
// registers ordered per byte_order (spec.md §4.3.3). 64-bit values only
// support BigEndian/LittleEndian; word-swapped orders have no defined
// 64-bit form and fall back to BigEndian, matching the teacher's Rust
// reference.
func EncodeRegisters(beBytes []byte, order schema.ByteOrder) ([]uint16, error) {
	switch len(beBytes) {
	case 2:
		return []uint16{binary.BigEndian.Uint16(beBytes)}, nil
	case 4:
		a := binary.BigEndian.Uint16(beBytes[0:2])
		b := binary.BigEndian.Uint16(beBytes[2:4])
		switch order {
		case schema.LittleEndian:
			// DCBA: [swap(b), swap(a)]
			return []uint16{swapBytes(b), swapBytes(a)}, nil
		case schema.BigEndianWordSwapped:
			// BADC: [swap(a), swap(b)]
			return []uint16{swapBytes(a), swapBytes(b)}, nil
		case schema.LittleEndianWordSwapped:
			// CDAB: [b, a] (words swapped, bytes within each word untouched)
			return []uint16{b, a}, nil
		default:
			return []uint16{a, b}, nil
		}
	case 8:
		regs := make([]uint16, 4)
		for i := 0; i < 4; i++ {
			regs[i] = binary.BigEndian.Uint16(beBytes[i*2 : i*2+2])
		}
		if order == schema.LittleEndian {
			return []uint16{swapBytes(regs[3]), swapBytes(regs[2]), swapBytes(regs[1]), swapBytes(regs[0])}, nil
		}
		return regs, nil
	default:
		return nil, fmt.Errorf("modbus: unsupported byte length for register conversion: %d (must be 2, 4, or 8)", len(beBytes))
	}
}

// DecodeRegisters is the inverse of EncodeRegisters: reconstructs the
// original big-endian byte slice from registers ordered per byte_order.
func DecodeRegisters(regs []uint16, order schema.ByteOrder) ([]byte, error) {
	switch len(regs) {
	case 1:
		out := make([]byte, 2)
		binary.BigEndian.PutUint16(out, regs[0])
		return out, nil
	case 2:
		var a, b uint16
		switch order {
		case schema.LittleEndian:
			a, b = swapBytes(regs[1]), swapBytes(regs[0])
		case schema.BigEndianWordSwapped:
			a, b = swapBytes(regs[0]), swapBytes(regs[1])
		case schema.LittleEndianWordSwapped:
			a, b = regs[1], regs[0]
		default:
			a, b = regs[0], regs[1]
		}
		out := make([]byte, 4)
		binary.BigEndian.PutUint16(out[0:2], a)
		binary.BigEndian.PutUint16(out[2:4], b)
		return out, nil
	case 4:
		out := make([]byte, 8)
		if order == schema.LittleEndian {
			for i := 0; i < 4; i++ {
				binary.BigEndian.PutUint16(out[i*2:i*2+2], swapBytes(regs[3-i]))
			}
			return out, nil
		}
		for i := 0; i < 4; i++ {
			binary.BigEndian.PutUint16(out[i*2:i*2+2], regs[i])
		}
		return out, nil
	default:
		out := make([]byte, 0, len(regs)*2)
		for _, r := range regs {
			b := make([]byte, 2)
			binary.BigEndian.PutUint16(b, r)
			out = append(out, b...)
		}
		return out, nil
	}
}

func swapBytes(v uint16) uint16 {
	return (v << 8) | (v >> 8)
}

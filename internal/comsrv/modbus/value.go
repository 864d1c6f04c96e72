// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package modbus

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/EvanL1/VoltageEMS-sub001/pkg/schema"
)

// TaggedValue is the input shape for write coercion: an operator command or
// a rule Action node result carries exactly one of these (spec.md §4.3.3's
// "tagged value (integer / float / string / bool / null)").
type TaggedValue struct {
	Int    *int64
	Float  *float64
	String *string
	Bool   *bool
	IsNull bool
}

// IntValue wraps an integer TaggedValue.
func IntValue(v int64) TaggedValue { return TaggedValue{Int: &v} }

// FloatValue wraps a float TaggedValue.
func FloatValue(v float64) TaggedValue { return TaggedValue{Float: &v} }

// StringValue wraps a string TaggedValue.
func StringValue(v string) TaggedValue { return TaggedValue{String: &v} }

// BoolValue wraps a bool TaggedValue.
func BoolValue(v bool) TaggedValue { return TaggedValue{Bool: &v} }

func (t TaggedValue) asFloat() float64 {
	switch {
	case t.Int != nil:
		return float64(*t.Int)
	case t.Float != nil:
		return *t.Float
	case t.String != nil:
		v, err := strconv.ParseFloat(*t.String, 64)
		if err != nil {
			return 0
		}
		return v
	default:
		return 0
	}
}

func (t TaggedValue) asBool() bool {
	switch {
	case t.Int != nil:
		return *t.Int != 0
	case t.Float != nil:
		return *t.Float != 0.0
	case t.String != nil:
		s := strings.ToLower(*t.String)
		return s == "true" || s == "on" || s == "1"
	default:
		return false
	}
}

// EncodeValue converts a tagged value into the registers that write a
// point of the given data type (spec.md §4.3.3's "Value coercion for
// writes"): integer->float conversion rounds to nearest; string parse
// failure yields 0, not an error.
func EncodeValue(value TaggedValue, dataType schema.DataType, order schema.ByteOrder) ([]uint16, error) {
	switch dataType {
	case schema.DataBool:
		if value.asBool() {
			return []uint16{1}, nil
		}
		return []uint16{0}, nil

	case schema.DataUInt16:
		return []uint16{uint16(roundToInt(value.asFloat()))}, nil

	case schema.DataInt16:
		return []uint16{uint16(int16(roundToInt(value.asFloat())))}, nil

	case schema.DataUInt32:
		v := uint32(roundToInt(value.asFloat()))
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, v)
		return EncodeRegisters(b, order)

	case schema.DataInt32:
		v := int32(roundToInt(value.asFloat()))
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(v))
		return EncodeRegisters(b, order)

	case schema.DataFloat32:
		v := float32(value.asFloat())
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, math.Float32bits(v))
		return EncodeRegisters(b, order)

	case schema.DataFloat64:
		v := value.asFloat()
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, math.Float64bits(v))
		return EncodeRegisters(b, order)

	case schema.DataUInt64:
		v := uint64(roundToInt(value.asFloat()))
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, v)
		return EncodeRegisters(b, order)

	case schema.DataInt64:
		v := int64(roundToInt(value.asFloat()))
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(v))
		return EncodeRegisters(b, order)

	default:
		return nil, fmt.Errorf("modbus: unsupported data type for encoding: %s", dataType)
	}
}

// roundToInt rounds to nearest, matching Rust's f64::round() used by the
// reference encoder for integer data-type coercion.
func roundToInt(v float64) float64 {
	return math.Round(v)
}

// DecodeValue reconstructs a raw (unscaled) float64 from registers read
// off the wire; callers apply the point's scale/offset afterward.
func DecodeValue(regs []uint16, dataType schema.DataType, order schema.ByteOrder) (float64, error) {
	switch dataType {
	case schema.DataBool:
		if len(regs) == 0 {
			return 0, fmt.Errorf("modbus: empty registers for bool decode")
		}
		if regs[0] != 0 {
			return 1, nil
		}
		return 0, nil

	case schema.DataUInt16:
		return float64(regs[0]), nil

	case schema.DataInt16:
		return float64(int16(regs[0])), nil

	case schema.DataUInt32:
		b, err := DecodeRegisters(regs, order)
		if err != nil {
			return 0, err
		}
		return float64(binary.BigEndian.Uint32(b)), nil

	case schema.DataInt32:
		b, err := DecodeRegisters(regs, order)
		if err != nil {
			return 0, err
		}
		return float64(int32(binary.BigEndian.Uint32(b))), nil

	case schema.DataFloat32:
		b, err := DecodeRegisters(regs, order)
		if err != nil {
			return 0, err
		}
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b))), nil

	case schema.DataFloat64:
		b, err := DecodeRegisters(regs, order)
		if err != nil {
			return 0, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil

	case schema.DataUInt64:
		b, err := DecodeRegisters(regs, order)
		if err != nil {
			return 0, err
		}
		return float64(binary.BigEndian.Uint64(b)), nil

	case schema.DataInt64:
		b, err := DecodeRegisters(regs, order)
		if err != nil {
			return 0, err
		}
		return float64(int64(binary.BigEndian.Uint64(b))), nil

	default:
		return 0, fmt.Errorf("modbus: unsupported data type for decoding: %s", dataType)
	}
}

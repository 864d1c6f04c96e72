// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package can

import (
	"context"
	"testing"

	"github.com/EvanL1/VoltageEMS-sub001/internal/comsrv/poll"
	"github.com/EvanL1/VoltageEMS-sub001/pkg/schema"
	"github.com/stretchr/testify/require"
)

func TestExtractSignal_UnsignedLittleEndianBits(t *testing.T) {
	var data [8]byte
	data[0] = 0b11001010
	// bits [0:8) of byte 0 == 0xCA == 202
	v, err := ExtractSignal(data, 0, 8, false)
	require.NoError(t, err)
	require.Equal(t, int64(202), v)
}

func TestExtractSignal_SignedNegative(t *testing.T) {
	var data [8]byte
	// 4-bit field at bit 0 = 0b1111 = -1 when interpreted as signed 4-bit.
	data[0] = 0b00001111
	v, err := ExtractSignal(data, 0, 4, true)
	require.NoError(t, err)
	require.Equal(t, int64(-1), v)
}

func TestExtractSignal_SpansByteBoundary(t *testing.T) {
	var data [8]byte
	data[0] = 0xFF
	data[1] = 0x01
	// bits [4:12) straddles byte 0's top nibble and byte 1's bottom nibble.
	v, err := ExtractSignal(data, 4, 8, false)
	require.NoError(t, err)
	require.Equal(t, int64(0x1F), v)
}

func TestExtractSignal_OutOfRangeErrors(t *testing.T) {
	var data [8]byte
	_, err := ExtractSignal(data, 60, 16, false)
	require.Error(t, err)
}

func TestDecodeMapping_AppliesScaleAndOffset(t *testing.T) {
	var data [8]byte
	data[0] = 100
	frame := Frame{ID: 0x100, Data: data}
	mapping := schema.CANMapping{CANID: 0x100, StartBit: 0, BitLength: 8, Scale: 0.5, Offset: -10}

	v, err := DecodeMapping(frame, mapping)
	require.NoError(t, err)
	require.InDelta(t, 40.0, v, 1e-9) // 100*0.5 - 10
}

func TestDecodeMapping_WrongFrameIDErrors(t *testing.T) {
	frame := Frame{ID: 0x200}
	mapping := schema.CANMapping{CANID: 0x100}
	_, err := DecodeMapping(frame, mapping)
	require.Error(t, err)
}

func TestEncodeMapping_RoundTripsThroughDecode(t *testing.T) {
	var data [8]byte
	mapping := schema.CANMapping{CANID: 0x300, StartBit: 8, BitLength: 16, Scale: 0.1, Offset: 0}

	require.NoError(t, EncodeMapping(&data, mapping, 250.0))

	frame := Frame{ID: 0x300, Data: data}
	v, err := DecodeMapping(frame, mapping)
	require.NoError(t, err)
	require.InDelta(t, 250.0, v, 0.1)
}

func TestReader_ReadPointDecodesLatestFrame(t *testing.T) {
	mapping := PointMapping{
		Point:   poll.PollingPoint{ID: "batt_voltage", Unit: "V"},
		Mapping: schema.CANMapping{CANID: 0x400, StartBit: 0, BitLength: 16, Scale: 0.01},
	}
	r := NewReader([]PointMapping{mapping})
	r.SetConnected(true)

	var data [8]byte
	require.NoError(t, EncodeMapping(&data, mapping.Mapping, 48.5))
	r.Ingest(Frame{ID: 0x400, Data: data})

	require.True(t, r.IsConnected(context.Background()))
	out, err := r.ReadPoint(context.Background(), mapping.Point)
	require.NoError(t, err)
	require.Equal(t, "batt_voltage", out.ID)
	require.Equal(t, 100, out.Quality)
}

func TestReader_ReadPointErrorsWithoutFrame(t *testing.T) {
	mapping := PointMapping{
		Point:   poll.PollingPoint{ID: "missing"},
		Mapping: schema.CANMapping{CANID: 0x500},
	}
	r := NewReader([]PointMapping{mapping})
	_, err := r.ReadPoint(context.Background(), mapping.Point)
	require.Error(t, err)
}

func TestReader_ReadPointsBatchDecodesEvery(t *testing.T) {
	m1 := PointMapping{Point: poll.PollingPoint{ID: "a"}, Mapping: schema.CANMapping{CANID: 0x10, StartBit: 0, BitLength: 8, Scale: 1}}
	m2 := PointMapping{Point: poll.PollingPoint{ID: "b"}, Mapping: schema.CANMapping{CANID: 0x11, StartBit: 0, BitLength: 8, Scale: 1}}
	r := NewReader([]PointMapping{m1, m2})

	var d1, d2 [8]byte
	d1[0] = 5
	d2[0] = 9
	r.Ingest(Frame{ID: 0x10, Data: d1})
	r.Ingest(Frame{ID: 0x11, Data: d2})

	out, err := r.ReadPointsBatch(context.Background(), []poll.PollingPoint{m1.Point, m2.Point})
	require.NoError(t, err)
	require.Len(t, out, 2)
}

// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package can decodes CAN bus signals per the protocol_mappings CAN shape
// from spec.md §3 (schema.CANMapping) and implements a poll.PointReader
// over the latest frame received per CAN ID, the "other protocols plug
// into ComBase the same way Modbus does" claim from spec.md §1
// (SPEC_FULL.md §3 supplement).
package can

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/EvanL1/VoltageEMS-sub001/internal/comsrv/poll"
	"github.com/EvanL1/VoltageEMS-sub001/pkg/schema"
)

// Frame is a single CAN data frame: an identifier and up to 8 payload
// bytes, matching the classic (non-FD) CAN 2.0B wire format.
type Frame struct {
	ID        uint32
	Data      [8]byte
	DLC       int
	Timestamp time.Time
}

// ExtractSignal pulls a bit-packed signal out of a CAN frame's data bytes.
// Bits are numbered from the start of the payload (startBit 0 = the least
// significant bit of Data[0]), matching the little-endian/Intel signal
// packing convention used by schema.CANMapping.
func ExtractSignal(data [8]byte, startBit, bitLength int, signed bool) (int64, error) {
	if bitLength <= 0 || bitLength > 64 {
		return 0, fmt.Errorf("can: invalid bit length %d", bitLength)
	}
	if startBit < 0 || startBit+bitLength > len(data)*8 {
		return 0, fmt.Errorf("can: signal [%d:%d) out of range for %d-byte frame", startBit, startBit+bitLength, len(data))
	}

	var raw uint64
	for i := 0; i < bitLength; i++ {
		bitIndex := startBit + i
		byteIndex := bitIndex / 8
		bitInByte := bitIndex % 8
		bit := (data[byteIndex] >> uint(bitInByte)) & 1
		raw |= uint64(bit) << uint(i)
	}

	if !signed || bitLength == 64 {
		return int64(raw), nil
	}

	signBit := uint64(1) << uint(bitLength-1)
	if raw&signBit != 0 {
		raw |= ^uint64(0) << uint(bitLength)
	}
	return int64(raw), nil
}

// DecodeMapping applies a CANMapping to a frame, returning the scaled
// engineering value. It returns an error if the frame's ID doesn't match
// the mapping's CANID.
func DecodeMapping(frame Frame, m schema.CANMapping) (float64, error) {
	if frame.ID != m.CANID {
		return 0, fmt.Errorf("can: frame id 0x%X does not match mapping id 0x%X", frame.ID, m.CANID)
	}
	raw, err := ExtractSignal(frame.Data, m.StartBit, m.BitLength, m.Signed)
	if err != nil {
		return 0, err
	}
	return float64(raw)*m.Scale + m.Offset, nil
}

// EncodeMapping packs an engineering value back into a frame's data bytes
// in place, inverting DecodeMapping's scale/offset and bit placement — used
// by the control/adjustment write path.
func EncodeMapping(data *[8]byte, m schema.CANMapping, value float64) error {
	if m.BitLength <= 0 || m.BitLength > 64 {
		return fmt.Errorf("can: invalid bit length %d", m.BitLength)
	}
	raw := int64((value - m.Offset) / m.Scale)
	mask := uint64(1)<<uint(m.BitLength) - 1
	if m.BitLength == 64 {
		mask = ^uint64(0)
	}
	bits := uint64(raw) & mask

	for i := 0; i < m.BitLength; i++ {
		bitIndex := m.StartBit + i
		byteIndex := bitIndex / 8
		bitInByte := bitIndex % 8
		if byteIndex >= len(data) {
			return fmt.Errorf("can: signal bit %d out of range for 8-byte frame", bitIndex)
		}
		bit := byte((bits >> uint(i)) & 1)
		if bit != 0 {
			data[byteIndex] |= 1 << uint(bitInByte)
		} else {
			data[byteIndex] &^= 1 << uint(bitInByte)
		}
	}
	return nil
}

// PointMapping binds a polling point to its CAN decode mapping.
type PointMapping struct {
	Point   poll.PollingPoint
	Mapping schema.CANMapping
}

// Reader implements poll.PointReader over the latest frame received per
// CAN ID. It holds no socket itself: a transport (SocketCAN, a USB-CAN
// adapter, a test harness) feeds frames in via Ingest, decoupling wire
// I/O from the decode/poll-engine wiring exercised here.
type Reader struct {
	mu        sync.RWMutex
	connected bool
	frames    map[uint32]Frame
	mappings  map[string]PointMapping // point id -> mapping
}

// NewReader builds a Reader for the given point mappings.
func NewReader(mappings []PointMapping) *Reader {
	r := &Reader{
		frames:   make(map[uint32]Frame),
		mappings: make(map[string]PointMapping, len(mappings)),
	}
	for _, m := range mappings {
		r.mappings[m.Point.ID] = m
	}
	return r
}

// Ingest records the latest frame for its CAN ID, overwriting any prior
// frame with that ID (CAN carries no history; only the latest value per
// ID is meaningful to a polling read).
func (r *Reader) Ingest(frame Frame) {
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}
	r.mu.Lock()
	r.frames[frame.ID] = frame
	r.mu.Unlock()
}

// SetConnected marks the transport as up or down; IsConnected reflects it.
func (r *Reader) SetConnected(connected bool) {
	r.mu.Lock()
	r.connected = connected
	r.mu.Unlock()
}

func (r *Reader) IsConnected(ctx context.Context) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

func (r *Reader) ProtocolName() string { return string(schema.ProtocolCAN) }

func (r *Reader) ReadPoint(ctx context.Context, p poll.PollingPoint) (poll.PointData, error) {
	r.mu.RLock()
	mapping, ok := r.mappings[p.ID]
	if !ok {
		r.mu.RUnlock()
		return poll.PointData{}, fmt.Errorf("can: no mapping registered for point %s", p.ID)
	}
	frame, ok := r.frames[mapping.Mapping.CANID]
	r.mu.RUnlock()
	if !ok {
		return poll.PointData{}, fmt.Errorf("can: no frame received yet for id 0x%X", mapping.Mapping.CANID)
	}

	value, err := DecodeMapping(frame, mapping.Mapping)
	if err != nil {
		return poll.PointData{}, err
	}
	return poll.PointData{
		ID:        p.ID,
		Name:      p.Name,
		Value:     fmt.Sprintf("%g", value),
		Quality:   100,
		Timestamp: frame.Timestamp,
		Unit:      p.Unit,
	}, nil
}

func (r *Reader) ReadPointsBatch(ctx context.Context, points []poll.PollingPoint) ([]poll.PointData, error) {
	out := make([]poll.PointData, 0, len(points))
	for _, p := range points {
		data, err := r.ReadPoint(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

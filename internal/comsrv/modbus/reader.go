// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package modbus

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/EvanL1/VoltageEMS-sub001/internal/comsrv/pool"
	"github.com/EvanL1/VoltageEMS-sub001/internal/comsrv/poll"
	"github.com/EvanL1/VoltageEMS-sub001/pkg/schema"
)

// Reader is a transport-level poll.PointReader over Modbus/TCP, borrowing
// connections from the pool.Pool[*Connection] passed to NewReader
// (spec.md §4.3.2). Each PollingPoint's RegisterMapping is looked up by
// its ID in the mapping the Reader was built with.
type Reader struct {
	pool    *pool.Pool[*Connection]
	key     pool.Key
	unitID  byte
	mapping map[string]schema.RegisterMapping
}

// NewReader builds a Reader bound to one host:port/unit-id target. mapping
// maps a PollingPoint.ID to the RegisterMapping describing how to read it.
func NewReader(p *pool.Pool[*Connection], host string, port int, unitID byte, mapping map[string]schema.RegisterMapping) *Reader {
	return &Reader{
		pool:    p,
		key:     pool.NewKey("modbus_tcp", host, port),
		unitID:  unitID,
		mapping: mapping,
	}
}

func (r *Reader) ProtocolName() string { return string(schema.ProtocolModbusTCP) }

func (r *Reader) IsConnected(ctx context.Context) bool {
	guard, err := r.pool.Acquire(ctx, r.key)
	if err != nil {
		return false
	}
	ok := guard.Conn().IsValid()
	guard.Release(ctx)
	return ok
}

func (r *Reader) ReadPoint(ctx context.Context, p poll.PollingPoint) (poll.PointData, error) {
	rm, ok := r.mapping[p.ID]
	if !ok {
		return poll.PointData{}, fmt.Errorf("modbus: no register mapping for point %s", p.ID)
	}

	guard, err := r.pool.Acquire(ctx, r.key)
	if err != nil {
		return poll.PointData{}, fmt.Errorf("modbus: acquiring connection: %w", err)
	}
	defer guard.Release(ctx)

	value, err := r.readOne(ctx, guard.Conn(), rm)
	if err != nil {
		return poll.PointData{}, err
	}

	return poll.PointData{
		ID:          p.ID,
		Name:        rm.Name,
		Value:       value,
		Quality:     100,
		Timestamp:   time.Now(),
		Unit:        rm.Unit,
		Description: rm.Description,
	}, nil
}

func (r *Reader) ReadPointsBatch(ctx context.Context, points []poll.PollingPoint) ([]poll.PointData, error) {
	guard, err := r.pool.Acquire(ctx, r.key)
	if err != nil {
		return nil, fmt.Errorf("modbus: acquiring connection: %w", err)
	}
	defer guard.Release(ctx)

	out := make([]poll.PointData, 0, len(points))
	for _, p := range points {
		rm, ok := r.mapping[p.ID]
		if !ok {
			out = append(out, poll.PointData{ID: p.ID, Name: p.Name, Value: "null", Quality: 0, Timestamp: time.Now()})
			continue
		}
		value, err := r.readOne(ctx, guard.Conn(), rm)
		if err != nil {
			out = append(out, poll.PointData{ID: p.ID, Name: rm.Name, Value: "null", Quality: 0, Timestamp: time.Now()})
			continue
		}
		out = append(out, poll.PointData{
			ID: p.ID, Name: rm.Name, Value: value, Quality: 100, Timestamp: time.Now(),
			Unit: rm.Unit, Description: rm.Description,
		})
	}
	return out, nil
}

func (r *Reader) readOne(ctx context.Context, conn *Connection, rm schema.RegisterMapping) (string, error) {
	switch rm.RegisterType {
	case schema.RegisterCoil, schema.RegisterDiscreteInput:
		return r.readBit(ctx, conn, rm)
	default:
		return r.readRegisters(ctx, conn, rm)
	}
}

func (r *Reader) readBit(ctx context.Context, conn *Connection, rm schema.RegisterMapping) (string, error) {
	fc := FCReadCoils
	if rm.RegisterType == schema.RegisterDiscreteInput {
		fc = FCReadDiscreteInputs
	}
	req := BuildReadRequest(fc, rm.Address, 1)
	resp, err := conn.Transact(ctx, r.unitID, req)
	if err != nil {
		return "", fmt.Errorf("modbus: reading %s: %w", rm.Name, err)
	}
	bits, err := ParseReadBitsResponse(resp, fc, 1)
	if err != nil {
		return "", fmt.Errorf("modbus: parsing %s response: %w", rm.Name, err)
	}
	if bits[0] {
		return "1", nil
	}
	return "0", nil
}

func (r *Reader) readRegisters(ctx context.Context, conn *Connection, rm schema.RegisterMapping) (string, error) {
	fc := FCReadHoldingRegisters
	if rm.RegisterType == schema.RegisterInputRegister {
		fc = FCReadInputRegisters
	}
	count := rm.RegisterCount()
	req := BuildReadRequest(fc, rm.Address, uint16(count))
	resp, err := conn.Transact(ctx, r.unitID, req)
	if err != nil {
		return "", fmt.Errorf("modbus: reading %s: %w", rm.Name, err)
	}
	regs, err := ParseReadRegistersResponse(resp, fc)
	if err != nil {
		return "", fmt.Errorf("modbus: parsing %s response: %w", rm.Name, err)
	}
	raw, err := DecodeValue(regs, rm.DataType, rm.ByteOrder)
	if err != nil {
		return "", fmt.Errorf("modbus: decoding %s: %w", rm.Name, err)
	}
	scaled := raw*rm.Scale + rm.Offset
	return strconv.FormatFloat(scaled, 'g', -1, 64), nil
}

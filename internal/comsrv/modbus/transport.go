// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package modbus

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/EvanL1/VoltageEMS-sub001/internal/comsrv/pool"
)

// Connection wraps a single Modbus TCP socket for use under pool.Pool. It
// satisfies pool.Connection: IsValid reports whether the socket is still
// believed usable, Close tears it down, Info renders it for pool events.
type Connection struct {
	conn    net.Conn
	rw      *bufio.ReadWriter
	mu      sync.Mutex
	txID    uint16
	valid   atomic.Bool
	address string
}

// DialTCP opens a Modbus/TCP connection for use as a pool.Factory.
func DialTCP(ctx context.Context, key pool.Key) (*Connection, error) {
	d := net.Dialer{}
	addr := fmt.Sprintf("%s:%d", key.Address, key.Port)
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("modbus: dialing %s: %w", addr, err)
	}
	c := &Connection{
		conn:    conn,
		rw:      bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		address: addr,
	}
	c.valid.Store(true)
	return c, nil
}

func (c *Connection) IsValid() bool { return c.valid.Load() }

func (c *Connection) Close(ctx context.Context) error {
	c.valid.Store(false)
	return c.conn.Close()
}

func (c *Connection) Info() string { return "modbus_tcp://" + c.address }

// Transact sends one MBAP-framed request PDU and returns the response PDU,
// applying deadline from ctx. The MBAP header is transaction id (rolling
// per-connection counter), protocol id 0, length, unit id.
func (c *Connection) Transact(ctx context.Context, unitID byte, pdu []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
	}

	c.txID++
	txID := c.txID

	header := make([]byte, 7)
	binary.BigEndian.PutUint16(header[0:2], txID)
	binary.BigEndian.PutUint16(header[2:4], 0)
	binary.BigEndian.PutUint16(header[4:6], uint16(len(pdu)+1))
	header[6] = unitID

	if _, err := c.rw.Write(header); err != nil {
		c.valid.Store(false)
		return nil, fmt.Errorf("modbus: writing MBAP header: %w", err)
	}
	if _, err := c.rw.Write(pdu); err != nil {
		c.valid.Store(false)
		return nil, fmt.Errorf("modbus: writing request PDU: %w", err)
	}
	if err := c.rw.Flush(); err != nil {
		c.valid.Store(false)
		return nil, fmt.Errorf("modbus: flushing request: %w", err)
	}

	respHeader := make([]byte, 7)
	if _, err := readFull(c.rw, respHeader); err != nil {
		c.valid.Store(false)
		return nil, fmt.Errorf("modbus: reading MBAP header: %w", err)
	}
	respTxID := binary.BigEndian.Uint16(respHeader[0:2])
	if respTxID != txID {
		c.valid.Store(false)
		return nil, fmt.Errorf("modbus: transaction id mismatch: sent %d, got %d", txID, respTxID)
	}
	length := binary.BigEndian.Uint16(respHeader[4:6])
	if length == 0 {
		c.valid.Store(false)
		return nil, fmt.Errorf("modbus: zero-length MBAP response")
	}
	body := make([]byte, length-1) // length includes the unit id byte already read
	if _, err := readFull(c.rw, body); err != nil {
		c.valid.Store(false)
		return nil, fmt.Errorf("modbus: reading response PDU: %w", err)
	}
	return body, nil
}

func readFull(r *bufio.ReadWriter, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package repository

import (
	"encoding/json"
	"testing"

	"github.com/EvanL1/VoltageEMS-sub001/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawParam(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

// TestClassifyChange_HostPortTimeout matches spec.md §4.5 scenario S6
// exactly: host change is Critical, timeout-only change is NonCritical,
// and a pure description edit is MetadataOnly.
func TestClassifyChange_HostPortTimeout(t *testing.T) {
	base := func(host string, timeout int, desc string) *schema.Channel {
		return &schema.Channel{
			ChannelID: 1,
			Name:      "plc-1",
			Protocol:  schema.ProtocolModbusTCP,
			Parameters: map[string]json.RawMessage{
				"host":    rawParam(t, host),
				"port":    rawParam(t, 502),
				"timeout": rawParam(t, timeout),
			},
			Description: desc,
		}
	}

	oldC := base("10.0.0.1", 5000, "")
	hostChanged := base("10.0.0.2", 5000, "")
	assert.Equal(t, ChangeCritical, ClassifyChange(oldC, hostChanged))

	timeoutChanged := base("10.0.0.1", 3000, "")
	assert.Equal(t, ChangeNonCritical, ClassifyChange(oldC, timeoutChanged))

	descChanged := base("10.0.0.1", 5000, "renamed description")
	assert.Equal(t, ChangeMetadataOnly, ClassifyChange(oldC, descChanged))
}

func TestClassifyChange_ProtocolChangeIsAlwaysCritical(t *testing.T) {
	oldC := &schema.Channel{Protocol: schema.ProtocolModbusTCP, Parameters: map[string]json.RawMessage{}}
	newC := &schema.Channel{Protocol: schema.ProtocolCAN, Parameters: map[string]json.RawMessage{}}
	assert.Equal(t, ChangeCritical, ClassifyChange(oldC, newC))
}

func TestClassifyChange_UnlistedParamIsNonCritical(t *testing.T) {
	oldC := &schema.Channel{
		Protocol:   schema.ProtocolModbusTCP,
		Parameters: map[string]json.RawMessage{"custom_flag": rawParam(t, false)},
	}
	newC := &schema.Channel{
		Protocol:   schema.ProtocolModbusTCP,
		Parameters: map[string]json.RawMessage{"custom_flag": rawParam(t, true)},
	}
	assert.Equal(t, ChangeNonCritical, ClassifyChange(oldC, newC))
}

func TestClassifyChange_IdenticalParamsIsMetadataOnly(t *testing.T) {
	params := map[string]json.RawMessage{"host": rawParam(t, "10.0.0.1")}
	oldC := &schema.Channel{Protocol: schema.ProtocolModbusTCP, Parameters: params, Name: "a"}
	newC := &schema.Channel{Protocol: schema.ProtocolModbusTCP, Parameters: params, Name: "b"}
	assert.Equal(t, ChangeMetadataOnly, ClassifyChange(oldC, newC))
}

func TestClassifyChange_CriticalShortCircuitsOverNonCriticalDiffs(t *testing.T) {
	oldC := &schema.Channel{
		Protocol: schema.ProtocolModbusTCP,
		Parameters: map[string]json.RawMessage{
			"host":    rawParam(t, "10.0.0.1"),
			"timeout": rawParam(t, 1000),
		},
	}
	newC := &schema.Channel{
		Protocol: schema.ProtocolModbusTCP,
		Parameters: map[string]json.RawMessage{
			"host":    rawParam(t, "10.0.0.9"),
			"timeout": rawParam(t, 9000),
		},
	}
	assert.Equal(t, ChangeCritical, ClassifyChange(oldC, newC))
}

// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package syncer

import (
	"encoding/json"
	"fmt"
	"math"
)

// flatEntry is one flattened service_config row's value, keeping the
// JSON type tag the original stored alongside it so downstream readers
// know how to interpret the string.
type flatEntry struct {
	value   string
	valType string
}

// flattenJSON walks v (the decoded body of a config YAML file) into
// dot-separated "key" -> value rows, the same shape
// tools/monarch/src/core/file_utils.rs's flatten_json produces, so
// service_config mirrors the original's flattened layout. Null values are
// dropped (a service-specific absent field must never overwrite a
// previously-synced value with an empty string).
func flattenJSON(v interface{}, prefix string, out map[string]flatEntry) {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, child := range val {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flattenJSON(child, key, out)
		}
	case nil:
		// dropped
	case bool:
		out[prefix] = flatEntry{value: fmt.Sprintf("%t", val), valType: "boolean"}
	case float64:
		out[prefix] = flatEntry{value: formatJSONNumber(val), valType: "number"}
	case int:
		out[prefix] = flatEntry{value: fmt.Sprintf("%d", val), valType: "number"}
	case int64:
		out[prefix] = flatEntry{value: fmt.Sprintf("%d", val), valType: "number"}
	case uint64:
		out[prefix] = flatEntry{value: fmt.Sprintf("%d", val), valType: "number"}
	case string:
		out[prefix] = flatEntry{value: val, valType: "string"}
	default:
		// arrays and any other composite: store the raw JSON encoding.
		raw, err := json.Marshal(val)
		if err != nil {
			return
		}
		valType := "array"
		if _, ok := val.([]interface{}); !ok {
			valType = "object"
		}
		out[prefix] = flatEntry{value: string(raw), valType: valType}
	}
}

func formatJSONNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

// normalizeProtocolMapping converts a mapping CSV row's raw string columns
// into JSON-typed values per protocol, matching
// normalize_protocol_mapping: Modbus's slave_id/function_code/
// register_address/bit_position and CAN's can_id/start_bit/bit_length/
// scale/offset become JSON numbers (empty string -> 0), bit_position is
// rounded to an integer, and protocol-specific defaults are filled in
// (Modbus bit_position=0; CAN signed=false, scale=1.0, offset=0.0).
// point_id is dropped — it is stored in its own column, not the mapping
// blob.
func normalizeProtocolMapping(protocol string, row csvRow) map[string]interface{} {
	normalized := make(map[string]interface{}, len(row))

	numericFields := map[string]bool{}
	switch protocol {
	case "modbus_tcp", "modbus_rtu":
		numericFields = map[string]bool{"slave_id": true, "function_code": true, "register_address": true, "bit_position": true}
	case "can":
		numericFields = map[string]bool{"can_id": true, "start_bit": true, "bit_length": true, "scale": true, "offset": true}
	}

	for k, v := range row {
		if k == "point_id" {
			continue
		}
		if numericFields[k] {
			normalized[k] = toJSONNumber(v)
		} else {
			normalized[k] = v
		}
	}

	switch protocol {
	case "modbus_tcp", "modbus_rtu":
		if _, ok := normalized["bit_position"]; !ok {
			normalized["bit_position"] = int64(0)
		}
		if n, ok := normalized["bit_position"].(float64); ok {
			normalized["bit_position"] = int64(math.Round(n))
		}
	case "can":
		if _, ok := normalized["signed"]; !ok {
			normalized["signed"] = false
		}
		if _, ok := normalized["scale"]; !ok {
			normalized["scale"] = 1.0
		}
		if _, ok := normalized["offset"]; !ok {
			normalized["offset"] = 0.0
		}
	}

	return normalized
}

// toJSONNumber parses a CSV cell into an int64 or float64; empty strings
// default to 0, matching normalize_protocol_mapping's to_number.
func toJSONNumber(s string) interface{} {
	if s == "" {
		return int64(0)
	}
	var i int64
	if _, err := fmt.Sscanf(s, "%d", &i); err == nil && fmt.Sprintf("%d", i) == s {
		return i
	}
	var f float64
	if _, err := fmt.Sscanf(s, "%g", &f); err == nil {
		return f
	}
	return s
}

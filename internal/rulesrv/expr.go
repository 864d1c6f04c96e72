// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rulesrv

import (
	"fmt"
	"strconv"
	"strings"
)

// evalCondition evaluates the intentionally small Condition-node/guard
// expression language from spec.md §4.5.3 and §9's Design Notes: a bare
// operand, or "lhs OP rhs" with OP the first of ==, !=, >, < found in the
// string (in that order, no precedence, no parentheses). This is a
// deliberate ad-hoc scan, not a general expression grammar — extending it
// would silently broaden accepted syntax beyond what the source does.
func evalCondition(expr string, variables map[string]interface{}) (bool, error) {
	expr = strings.TrimSpace(expr)
	for _, op := range []string{"==", "!=", ">", "<"} {
		if idx := strings.Index(expr, op); idx >= 0 {
			lhs := resolveOperand(strings.TrimSpace(expr[:idx]), variables)
			rhs := resolveOperand(strings.TrimSpace(expr[idx+len(op):]), variables)
			return compare(op, lhs, rhs)
		}
	}
	return truthy(resolveOperand(expr, variables)), nil
}

// resolveOperand interprets a token as a variable reference ($name), a
// JSON-ish literal (bool/number), or a bare string literal.
func resolveOperand(token string, variables map[string]interface{}) interface{} {
	if strings.HasPrefix(token, "$") {
		return variables[token[1:]]
	}
	if token == "true" {
		return true
	}
	if token == "false" {
		return false
	}
	if n, err := strconv.ParseFloat(token, 64); err == nil {
		return n
	}
	return strings.Trim(token, `"'`)
}

func compare(op string, lhs, rhs interface{}) (bool, error) {
	switch op {
	case "==":
		return jsonEqual(lhs, rhs), nil
	case "!=":
		return !jsonEqual(lhs, rhs), nil
	case ">", "<":
		l, lok := toNumber(lhs)
		r, rok := toNumber(rhs)
		if !lok || !rok {
			return false, fmt.Errorf("rulesrv: %q comparison requires numeric operands, got %v %s %v", op, lhs, op, rhs)
		}
		if op == ">" {
			return l > r, nil
		}
		return l < r, nil
	}
	return false, fmt.Errorf("rulesrv: unsupported operator %q", op)
}

// jsonEqual implements spec.md §4.5.3's "comparisons are JSON-equality for
// ==/!=": equality never crosses JSON types, mirroring the original
// executor's `serde_json::Value` comparison (services/rulesrv/src/engine/
// executor.rs) where Bool(true) != String("true") and Null != String("<nil>").
func jsonEqual(a, b interface{}) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case float64, int, int64:
		if _, bIsString := b.(string); bIsString {
			return false
		}
		af, _ := toNumber(av)
		bf, bok := toNumber(b)
		return bok && af == bf
	default:
		return false
	}
}

func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// truthy coerces a bare operand to bool per spec.md §4.5.3: true,
// non-zero number, non-empty string are truthy.
func truthy(v interface{}) bool {
	switch n := v.(type) {
	case nil:
		return false
	case bool:
		return n
	case float64:
		return n != 0
	case int:
		return n != 0
	case int64:
		return n != 0
	case string:
		return n != ""
	default:
		return true
	}
}

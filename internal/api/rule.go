// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// ruleExecuteResponse is the body of POST /rules/{id}/execute, always sent
// with HTTP 200. When ExecuteByID returns an error (rule not found or
// disabled, graph build failure such as a cycle, failure to persist the
// record) the body is {status:"error", error} and carries no result, so no
// execution record is available to the caller on that path. Otherwise it
// is {status:"ok", result} with the execution record. This endpoint is the
// control plane's only way to invoke the rule engine.
type ruleExecuteResponse struct {
	Status string      `json:"status"`
	Error  string      `json:"error,omitempty"`
	Result interface{} `json:"result,omitempty"`
}

func (api *RestAPI) executeRule(rw http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	ruleID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		handleError(fmt.Errorf("invalid rule id %q", idStr), http.StatusBadRequest, rw)
		return
	}

	var input map[string]interface{}
	if r.ContentLength != 0 {
		if err := decode(r.Body, &input); err != nil {
			handleError(fmt.Errorf("parsing request body failed: %w", err), http.StatusBadRequest, rw)
			return
		}
	}

	result, err := api.Rules.ExecuteByID(r.Context(), ruleID, input)

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	if err != nil {
		// Rule-loading errors (not found, disabled, parse failure, cycle):
		// no execution record was ever produced, so Result stays nil.
		_ = json.NewEncoder(rw).Encode(ruleExecuteResponse{Status: "error", Error: err.Error()})
		return
	}
	_ = json.NewEncoder(rw).Encode(ruleExecuteResponse{Status: "ok", Result: result})
}

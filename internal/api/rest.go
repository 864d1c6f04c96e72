// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api implements the control-plane HTTP surface (spec.md §6):
// channel CRUD and hot-reload, routing reload/CRUD, and rule invocation,
// wired against internal/channelmgr and internal/rulesrv.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/EvanL1/VoltageEMS-sub001/internal/channelmgr"
	"github.com/EvanL1/VoltageEMS-sub001/internal/repository"
	"github.com/EvanL1/VoltageEMS-sub001/internal/rulesrv"
	"github.com/EvanL1/VoltageEMS-sub001/pkg/log"
	"github.com/gorilla/mux"
)

// RestAPI holds the dependencies every handler needs.
type RestAPI struct {
	Channels *channelmgr.Manager
	Rules    *rulesrv.Engine
}

// MountRoutes registers every spec.md §6 endpoint under r.
func (api *RestAPI) MountRoutes(r *mux.Router) {
	r = r.PathPrefix("/api").Subrouter()
	r.StrictSlash(true)

	r.HandleFunc("/channels", api.createChannel).Methods(http.MethodPost)
	r.HandleFunc("/channels/{id}", api.updateChannel).Methods(http.MethodPut)
	r.HandleFunc("/channels/{id}/enabled", api.setChannelEnabled).Methods(http.MethodPut)
	r.HandleFunc("/channels/{id}", api.deleteChannel).Methods(http.MethodDelete)
	r.HandleFunc("/channels/reload", api.reloadChannels).Methods(http.MethodPost)

	r.HandleFunc("/routing/reload", api.reloadRouting).Methods(http.MethodPost)
	r.HandleFunc("/instances/{id}/routing", api.addRouting).Methods(http.MethodPost)
	r.HandleFunc("/instances/{id}/routing", api.replaceRouting).Methods(http.MethodPut)
	r.HandleFunc("/instances/{id}/routing", api.clearRouting).Methods(http.MethodDelete)
	r.HandleFunc("/instances/{id}/routing/validate", api.validateRouting).Methods(http.MethodPost)

	r.HandleFunc("/rules/{id}/execute", api.executeRule).Methods(http.MethodPost)
}

// SuccessResponse mirrors spec.md §6's `SuccessResponse { data }`.
type SuccessResponse struct {
	Data interface{} `json:"data"`
}

// ErrorResponse mirrors the teacher's api.ErrorResponse shape.
type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func writeSuccess(rw http.ResponseWriter, statusCode int, data interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(statusCode)
	_ = json.NewEncoder(rw).Encode(SuccessResponse{Data: data})
}

func handleError(err error, statusCode int, rw http.ResponseWriter) {
	log.Warnf("api: %s", err.Error())
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(statusCode)
	_ = json.NewEncoder(rw).Encode(ErrorResponse{
		Status: http.StatusText(statusCode),
		Error:  err.Error(),
	})
}

func decode(r io.Reader, val interface{}) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(val)
}

// statusForChannelErr maps a channelmgr error to the HTTP status codes
// spec.md §6's table lists per endpoint (404, 409, 500).
func statusForChannelErr(err error) int {
	switch {
	case errors.Is(err, channelmgr.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, channelmgr.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

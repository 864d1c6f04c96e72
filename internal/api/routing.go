// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/EvanL1/VoltageEMS-sub001/internal/channelmgr"
	"github.com/gorilla/mux"
)

// routingRequest mirrors RoutingRequest (spec.md §6).
type routingRequest struct {
	ChannelID      uint16 `json:"channel_id"`
	FourRemote     string `json:"four_remote"`
	ChannelPointID uint32 `json:"channel_point_id"`
	PointID        uint32 `json:"point_id"`
}

func toRoutingRequest(r routingRequest) channelmgr.RoutingRequest {
	return channelmgr.RoutingRequest{
		ChannelID: r.ChannelID, FourRemote: r.FourRemote,
		ChannelPointID: r.ChannelPointID, PointID: r.PointID,
	}
}

func parseInstanceID(r *http.Request) (uint32, error) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid instance id %q", idStr)
	}
	return uint32(id), nil
}

// routingReloadResponse mirrors RoutingReloadResult (spec.md §6).
type routingReloadResponse struct {
	C2MCount   int      `json:"c2m_count"`
	M2CCount   int      `json:"m2c_count"`
	C2CCount   int      `json:"c2c_count"`
	Errors     []string `json:"errors"`
	DurationMs int64    `json:"duration_ms"`
}

func (api *RestAPI) reloadRouting(rw http.ResponseWriter, r *http.Request) {
	result, err := api.Channels.ReloadRouting(r.Context())
	if err != nil {
		handleError(err, http.StatusInternalServerError, rw)
		return
	}
	writeSuccess(rw, http.StatusOK, routingReloadResponse{
		C2MCount: result.C2MCount, M2CCount: result.M2CCount, C2CCount: result.C2CCount,
		Errors: result.Errors, DurationMs: result.DurationMs,
	})
}

func (api *RestAPI) addRouting(rw http.ResponseWriter, r *http.Request) {
	instanceID, err := parseInstanceID(r)
	if err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}
	var req routingRequest
	if err := decode(r.Body, &req); err != nil {
		handleError(fmt.Errorf("parsing request body failed: %w", err), http.StatusBadRequest, rw)
		return
	}
	if err := api.Channels.AddRouting(r.Context(), instanceID, toRoutingRequest(req)); err != nil {
		handleError(err, statusForChannelErr(err), rw)
		return
	}
	writeSuccess(rw, http.StatusOK, map[string]string{"message": "routing added"})
}

func (api *RestAPI) replaceRouting(rw http.ResponseWriter, r *http.Request) {
	instanceID, err := parseInstanceID(r)
	if err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}
	var reqs []routingRequest
	if err := decode(r.Body, &reqs); err != nil {
		handleError(fmt.Errorf("parsing request body failed: %w", err), http.StatusBadRequest, rw)
		return
	}
	converted := make([]channelmgr.RoutingRequest, len(reqs))
	for i, req := range reqs {
		converted[i] = toRoutingRequest(req)
	}
	if err := api.Channels.ReplaceRouting(r.Context(), instanceID, converted); err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}
	writeSuccess(rw, http.StatusOK, map[string]string{"message": "routing replaced"})
}

func (api *RestAPI) clearRouting(rw http.ResponseWriter, r *http.Request) {
	instanceID, err := parseInstanceID(r)
	if err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}
	if err := api.Channels.ClearRouting(r.Context(), instanceID); err != nil {
		handleError(err, http.StatusInternalServerError, rw)
		return
	}
	writeSuccess(rw, http.StatusOK, map[string]string{"message": "routing cleared"})
}

// validateRoutingResponse mirrors spec.md §6's
// `{instance_id, validations: [{channel, valid, errors}]}`.
type validateRoutingResponse struct {
	InstanceID  uint32                     `json:"instance_id"`
	Validations []channelmgr.RoutingValidation `json:"validations"`
}

func (api *RestAPI) validateRouting(rw http.ResponseWriter, r *http.Request) {
	instanceID, err := parseInstanceID(r)
	if err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}
	var reqs []routingRequest
	if err := decode(r.Body, &reqs); err != nil {
		handleError(fmt.Errorf("parsing request body failed: %w", err), http.StatusBadRequest, rw)
		return
	}
	converted := make([]channelmgr.RoutingRequest, len(reqs))
	for i, req := range reqs {
		converted[i] = toRoutingRequest(req)
	}
	validations, err := api.Channels.ValidateRouting(r.Context(), converted)
	if err != nil {
		handleError(err, http.StatusInternalServerError, rw)
		return
	}
	writeSuccess(rw, http.StatusOK, validateRoutingResponse{InstanceID: instanceID, Validations: validations})
}

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
	"github.com/EvanL1/VoltageEMS-sub001/pkg/schema"
	"github.com/gorilla/mux"
)

// channelCrudResponse mirrors ChannelCrudResult (spec.md §6).
type channelCrudResponse struct {
	Core struct {
		ID          uint16          `json:"id"`
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Protocol    schema.Protocol `json:"protocol"`
		Enabled     bool            `json:"enabled"`
	} `json:"core"`
	RuntimeStatus string `json:"runtime_status"`
	Message       string `json:"message,omitempty"`
}

func toCrudResponse(r channelmgr.CrudResult) channelCrudResponse {
	var out channelCrudResponse
	out.Core.ID = r.ID
	out.Core.Name = r.Name
	out.Core.Description = r.Description
	out.Core.Protocol = r.Protocol
	out.Core.Enabled = r.Enabled
	out.RuntimeStatus = r.RuntimeStatus
	out.Message = r.Message
	return out
}

func parseChannelID(r *http.Request) (uint16, error) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(idStr, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid channel id %q", idStr)
	}
	return uint16(id), nil
}

// channelCreateRequest mirrors ChannelCreateRequest (spec.md §6).
type channelCreateRequest struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Protocol    schema.Protocol        `json:"protocol"`
	Enabled     bool                   `json:"enabled"`
	Parameters  map[string]interface{} `json:"parameters"`
	ChannelID   *uint16                `json:"channel_id,omitempty"`
}

func (api *RestAPI) createChannel(rw http.ResponseWriter, r *http.Request) {
	var req channelCreateRequest
	if err := decode(r.Body, &req); err != nil {
		handleError(fmt.Errorf("parsing request body failed: %w", err), http.StatusBadRequest, rw)
		return
	}
	result, err := api.Channels.Create(r.Context(), channelmgr.CreateRequest{
		ChannelID: req.ChannelID, Name: req.Name, Description: req.Description,
		Protocol: req.Protocol, Enabled: req.Enabled, Parameters: req.Parameters,
	})
	if err != nil {
		handleError(err, statusForChannelErr(err), rw)
		return
	}
	writeSuccess(rw, http.StatusOK, toCrudResponse(result))
}

// channelUpdateRequest mirrors ChannelConfigUpdateRequest (spec.md §6).
type channelUpdateRequest struct {
	Name        *string                `json:"name,omitempty"`
	Description *string                `json:"description,omitempty"`
	Protocol    *schema.Protocol       `json:"protocol,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

func (api *RestAPI) updateChannel(rw http.ResponseWriter, r *http.Request) {
	id, err := parseChannelID(r)
	if err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}
	var req channelUpdateRequest
	if err := decode(r.Body, &req); err != nil {
		handleError(fmt.Errorf("parsing request body failed: %w", err), http.StatusBadRequest, rw)
		return
	}
	result, err := api.Channels.Update(r.Context(), id, channelmgr.UpdateRequest{
		Name: req.Name, Description: req.Description, Protocol: req.Protocol, Parameters: req.Parameters,
	})
	if err != nil {
		handleError(err, statusForChannelErr(err), rw)
		return
	}
	writeSuccess(rw, http.StatusOK, toCrudResponse(result))
}

func (api *RestAPI) setChannelEnabled(rw http.ResponseWriter, r *http.Request) {
	id, err := parseChannelID(r)
	if err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decode(r.Body, &req); err != nil {
		handleError(fmt.Errorf("parsing request body failed: %w", err), http.StatusBadRequest, rw)
		return
	}
	result, err := api.Channels.SetEnabled(r.Context(), id, req.Enabled)
	if err != nil {
		handleError(err, statusForChannelErr(err), rw)
		return
	}
	writeSuccess(rw, http.StatusOK, toCrudResponse(result))
}

func (api *RestAPI) deleteChannel(rw http.ResponseWriter, r *http.Request) {
	id, err := parseChannelID(r)
	if err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}
	if err := api.Channels.Delete(r.Context(), id); err != nil {
		handleError(err, statusForChannelErr(err), rw)
		return
	}
	writeSuccess(rw, http.StatusOK, map[string]string{"message": "deleted"})
}

// reloadConfigResponse mirrors ReloadConfigResult (spec.md §6).
type reloadConfigResponse struct {
	Total   int      `json:"total"`
	Added   int      `json:"added"`
	Updated int      `json:"updated"`
	Removed int      `json:"removed"`
	Errors  []string `json:"errors"`
}

func (api *RestAPI) reloadChannels(rw http.ResponseWriter, r *http.Request) {
	result, err := api.Channels.ReloadAll(r.Context())
	if err != nil {
		handleError(err, http.StatusInternalServerError, rw)
		return
	}
	writeSuccess(rw, http.StatusOK, reloadConfigResponse{
		Total: result.Total, Added: result.Added, Updated: result.Updated,
		Removed: result.Removed, Errors: result.Errors,
	})
}

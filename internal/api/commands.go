package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nerrad567/growcube-bridge/internal/bridges/growcube"
)

// waterRequest is the body of POST /devices/{id}/water.
type waterRequest struct {
	Channel  string `json:"channel"`
	Duration *int   `json:"duration,omitempty"`
}

// smartWateringRequest is the body of POST /devices/{id}/watering/smart.
type smartWateringRequest struct {
	Channel  string `json:"channel"`
	MinValue *int   `json:"min_value,omitempty"`
	MaxValue *int   `json:"max_value,omitempty"`
}

// manualWateringRequest is the body of POST /devices/{id}/watering/manual.
type manualWateringRequest struct {
	Channel string `json:"channel"`
}

// handleWaterPlant waters one channel for a duration (default 5 seconds).
func (s *Server) handleWaterPlant(w http.ResponseWriter, r *http.Request) {
	var req waterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	params := map[string]any{"channel": req.Channel}
	if req.Duration != nil {
		params["duration"] = *req.Duration
	}
	s.executeCommand(w, r, growcube.CommandWaterPlant, params)
}

// handleSetSmartWatering switches a channel to moisture-driven watering
// (defaults: min 15, max 40).
func (s *Server) handleSetSmartWatering(w http.ResponseWriter, r *http.Request) {
	var req smartWateringRequest
	if !decodeBody(w, r, &req) {
		return
	}
	params := map[string]any{"channel": req.Channel}
	if req.MinValue != nil {
		params["min_value"] = *req.MinValue
	}
	if req.MaxValue != nil {
		params["max_value"] = *req.MaxValue
	}
	s.executeCommand(w, r, growcube.CommandSetSmartWatering, params)
}

// handleSetManualWatering switches a channel to manual watering.
func (s *Server) handleSetManualWatering(w http.ResponseWriter, r *http.Request) {
	var req manualWateringRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.executeCommand(w, r, growcube.CommandSetManualWatering, map[string]any{"channel": req.Channel})
}

// handleDeleteWatering deletes the watering schedule of the {channel} path parameter.
func (s *Server) handleDeleteWatering(w http.ResponseWriter, r *http.Request) {
	s.executeCommand(w, r, growcube.CommandDeleteWatering, map[string]any{"channel": chi.URLParam(r, "channel")})
}

// executeCommand runs an action through the shared command executor and
// answers 202 with the acknowledgement.
func (s *Server) executeCommand(w http.ResponseWriter, r *http.Request, command string, params map[string]any) {
	id := deviceIDParam(r)
	if id == "" {
		writeBadRequest(w, "invalid device ID")
		return
	}
	if s.commands == nil {
		writeServiceUnavailable(w, "device commands unavailable")
		return
	}

	cmd := &growcube.CommandMessage{
		DeviceID:   id,
		Command:    command,
		Parameters: params,
		Source:     growcube.SourceAPI,
	}
	cmd.ID = middleware.GetReqID(r.Context())

	if err := s.commands.Execute(r.Context(), cmd); err != nil {
		s.logger.Warn("device command failed",
			"device_id", id,
			"command", command,
			"code", growcube.ErrorCode(err),
			"error", err,
		)
		writeCommandError(w, err)
		return
	}

	s.logger.Info("device command accepted", "device_id", id, "command", command, "command_id", cmd.ID)
	writeJSON(w, http.StatusAccepted, growcube.NewAckMessage(*cmd, growcube.AckAccepted))
}

// decodeBody decodes a JSON request body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			writeBadRequest(w, "request body is required")
		} else {
			writeBadRequest(w, "invalid JSON body")
		}
		return false
	}
	return true
}

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/growcube-bridge/internal/bridges/growcube"
	"github.com/nerrad567/growcube-bridge/internal/device"
)

// maxDeviceIDLen bounds the {id} path parameter.
const maxDeviceIDLen = 64

// deviceIDParam returns the normalised {id} path parameter, or "" if invalid.
func deviceIDParam(r *http.Request) string {
	id := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "id")))
	if id == "" || len(id) > maxDeviceIDLen {
		return ""
	}
	return id
}

// handleListDevices returns every device in the registry.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.registry.ListDevices(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleDeviceStats returns registry statistics.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.GetStats())
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := deviceIDParam(r)
	if id == "" {
		writeBadRequest(w, "invalid device ID")
		return
	}

	dev, err := s.registry.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// handleDeleteDevice removes a device from the registry. Devices the bridge
// still manages are refused; they would be registered again on reconnect.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := deviceIDParam(r)
	if id == "" {
		writeBadRequest(w, "invalid device ID")
		return
	}

	if s.devices != nil {
		if _, err := s.devices.Snapshot(id); err == nil {
			writeError(w, http.StatusConflict, ErrCodeConflict, "device is still configured; remove it from the configuration first")
			return
		}
	}

	if err := s.registry.DeleteDevice(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to delete device")
		return
	}

	if s.remover != nil {
		s.remover.RemoveDevice(id)
	}

	s.logger.Info("device removed from registry", "device_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleGetDeviceState returns the live state of a connected device.
// Readings are null until the device reports them; every value is null
// while the device is unavailable.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	id := deviceIDParam(r)
	if id == "" {
		writeBadRequest(w, "invalid device ID")
		return
	}

	if s.devices == nil {
		writeServiceUnavailable(w, "live devices unavailable")
		return
	}

	snap, err := s.devices.Snapshot(id)
	if err != nil {
		if errors.Is(err, growcube.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device state")
		return
	}

	writeJSON(w, http.StatusOK, growcube.NewStateMessage(snap))
}

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/growcube-bridge/internal/device"
)

// handleGetDeviceHistory returns state history entries for a device,
// newest first. Filters apply before the limit.
//
// Query parameters:
//   - limit: maximum entries (1-200, default 50)
//   - since: only entries after this RFC3339 timestamp
//   - field: only entries for this field ("moisture", "pump_open", ...)
//   - channel: only entries for this channel letter
func (s *Server) handleGetDeviceHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deviceID := deviceIDParam(r)
	if deviceID == "" {
		writeBadRequest(w, "invalid device ID")
		return
	}

	query := r.URL.Query()
	limit, err := parseHistoryLimit(query.Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	since, err := parseSinceParam(query.Get("since"))
	if err != nil {
		writeBadRequest(w, "invalid since timestamp")
		return
	}
	hq := device.HistoryQuery{
		Field:   strings.TrimSpace(query.Get("field")),
		Channel: strings.ToLower(strings.TrimSpace(query.Get("channel"))),
		Since:   since,
		Limit:   limit,
	}

	if _, err := s.registry.GetDevice(ctx, deviceID); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	if s.history == nil {
		writeServiceUnavailable(w, "state history unavailable")
		return
	}

	entries, err := s.history.GetHistory(ctx, deviceID, hq)
	if err != nil {
		s.logger.Error("loading device history failed", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to load device history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": deviceID,
		"history":   entries,
		"count":     len(entries),
	})
}

// parseHistoryLimit parses the limit query parameter with bounds enforcement.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return device.DefaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > device.MaxHistoryLimit {
		return 0, fmt.Errorf("limit exceeds maximum")
	}

	return limit, nil
}

// parseSinceParam parses the since parameter as RFC3339/RFC3339Nano.
func parseSinceParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing since: %w", err)
	}
	return t.UTC(), nil
}

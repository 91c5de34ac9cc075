package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nerrad567/growcube-bridge/internal/auth"
	"github.com/nerrad567/growcube-bridge/internal/bridges/growcube"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(withRequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(s.recoverPanics)
	r.Use(s.cors)
	r.Use(limitBody)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermDeviceRead))

				r.Post("/auth/ws-ticket", s.handleWSTicket)
				r.Get("/metrics", s.handleMetrics)

				r.Get("/devices", s.handleListDevices)
				r.Get("/devices/stats", s.handleDeviceStats)
				r.Get("/devices/{id}", s.handleGetDevice)
				r.Get("/devices/{id}/state", s.handleGetDeviceState)
				r.Get("/devices/{id}/history", s.handleGetDeviceHistory)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermDeviceOperate))

				r.Post("/devices/{id}/water", s.handleWaterPlant)
				r.Post("/devices/{id}/watering/smart", s.handleSetSmartWatering)
				r.Post("/devices/{id}/watering/manual", s.handleSetManualWatering)
				r.Delete("/devices/{id}/watering/{channel}", s.handleDeleteWatering)
			})

			r.With(s.requirePermission(auth.PermDeviceConfigure)).
				Delete("/devices/{id}", s.handleDeleteDevice)
		})
	})

	return r
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status        growcube.HealthStatus   `json:"status"`
	Reason        string                  `json:"reason,omitempty"`
	Version       string                  `json:"version"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Devices       []growcube.DeviceStatus `json:"devices"`
}

// handleHealth returns the bridge health status. It answers 503 when no
// device is connected so load balancers and container probes can react.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:        growcube.HealthHealthy,
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Devices:       []growcube.DeviceStatus{},
	}
	if s.health != nil {
		resp.Status, resp.Reason = s.health.Status()
	}
	if s.devices != nil {
		resp.Devices = s.devices.DeviceStatuses()
	}

	status := http.StatusOK
	if resp.Status == growcube.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/growcube-bridge/internal/bridges/growcube"
	"github.com/nerrad567/growcube-bridge/internal/device"
	"github.com/nerrad567/growcube-bridge/internal/infrastructure/influxdb"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string                  `json:"timestamp"`
	Version       string                  `json:"version"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Runtime       RuntimeMetrics          `json:"runtime"`
	WebSocket     WSMetrics               `json:"websocket"`
	MQTT          MQTTMetrics             `json:"mqtt"`
	Devices       []growcube.DeviceStatus `json:"devices"`
	Registry      device.Stats            `json:"registry"`
	Recorder      *growcube.RecorderStats `json:"recorder,omitempty"`
	Telemetry     *influxdb.Stats         `json:"telemetry,omitempty"`
	Database      *DatabaseMetrics        `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	PendingTickets   int    `json:"pending_tickets"`
	DroppedEvents    uint64 `json:"dropped_events"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Enabled       bool     `json:"enabled"`
	Connected     bool     `json:"connected"`
	Subscriptions []string `json:"subscriptions,omitempty"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// bytesPerMB converts byte counters to megabytes.
const bytesPerMB = 1024 * 1024

// handleMetrics returns runtime, transport and per-device statistics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / bytesPerMB,
			MemoryTotalMB: float64(memStats.TotalAlloc) / bytesPerMB,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			PendingTickets:   s.tickets.count(),
			DroppedEvents:    s.hub.Dropped(),
		},
		Devices:  []growcube.DeviceStatus{},
		Registry: s.registry.GetStats(),
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{Enabled: true, Connected: s.mqtt.IsConnected()}
		if lister, ok := s.mqtt.(SubscriptionLister); ok {
			metrics.MQTT.Subscriptions = lister.Subscriptions()
		}
	}

	if s.devices != nil {
		metrics.Devices = s.devices.DeviceStatuses()
	}

	if s.recorder != nil {
		stats := s.recorder.Stats()
		metrics.Recorder = &stats
	}

	if s.influx != nil {
		stats := s.influx.Stats()
		metrics.Telemetry = &stats
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}

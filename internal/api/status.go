package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemStatus is the response of GET /api/v1/status.
type SystemStatus struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	Devices       DeviceMetrics   `json:"devices"`
	Firmware      FirmwareMetrics `json:"firmware"`
	Database      DatabaseMetrics `json:"database"`
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
	ConnectedClients int `json:"connected_clients"`
}

// DeviceMetrics contains catalogue statistics.
type DeviceMetrics struct {
	Total     int `json:"total"`
	Updatable int `json:"updatable"`
}

// FirmwareMetrics summarises firmware state across managed devices.
type FirmwareMetrics struct {
	Managed         int `json:"managed"`
	UpdateAvailable int `json:"update_available"`
	InProgress      int `json:"in_progress"`
	CheckErrors     int `json:"check_errors"`
	SlotsInUse      int `json:"slots_in_use"`
	SlotsCapacity   int `json:"slots_capacity"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleStatus returns a JSON summary for admin dashboards. Prometheus
// scrapes /metrics instead.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status := SystemStatus{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Devices: DeviceMetrics{
			Total:     s.devices.GetDeviceCount(),
			Updatable: len(s.devices.ListUpdatable(r.Context())),
		},
	}

	if s.hub != nil {
		status.WebSocket.ConnectedClients = s.hub.ClientCount()
	}

	for _, snap := range s.firmware.List() {
		status.Firmware.Managed++
		if snap.UpdateAvailable {
			status.Firmware.UpdateAvailable++
		}
		if snap.InProgress {
			status.Firmware.InProgress++
		}
		if snap.LastCheckError != "" {
			status.Firmware.CheckErrors++
		}
	}
	limiter := s.firmware.Limiter()
	status.Firmware.SlotsInUse = limiter.InUse()
	status.Firmware.SlotsCapacity = limiter.Capacity()

	if s.db != nil {
		dbStats := s.db.Stats()
		status.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, status)
}

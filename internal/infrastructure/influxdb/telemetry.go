package influxdb

import (
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-ota/internal/firmware"
)

// Measurement names written by Telemetry.
const (
	MeasurementProgress = "firmware_progress"
	MeasurementCheck    = "firmware_check"
	MeasurementInstall  = "firmware_install"
)

// PointWriter accepts points for asynchronous delivery. *Client satisfies it.
type PointWriter interface {
	WritePoint(p *write.Point)
}

// Telemetry records firmware activity as InfluxDB points. It implements
// firmware.Observer.
//
// Progress points are written while an install runs and whenever the
// install phase changes, so idle devices do not generate a point per
// snapshot.
type Telemetry struct {
	writer PointWriter
	site   string
	now    func() time.Time

	mu        sync.Mutex
	lastPhase map[string]firmware.Phase
}

// NewTelemetry creates a Telemetry writing to w. site tags every point.
func NewTelemetry(w PointWriter, site string) *Telemetry {
	return &Telemetry{
		writer:    w,
		site:      site,
		now:       time.Now,
		lastPhase: make(map[string]firmware.Phase),
	}
}

// StateChanged implements firmware.Observer.
func (t *Telemetry) StateChanged(snap firmware.Snapshot) {
	t.mu.Lock()
	prev, seen := t.lastPhase[snap.DeviceID]
	t.lastPhase[snap.DeviceID] = snap.State.Phase
	t.mu.Unlock()

	if !snap.InProgress && seen && prev == snap.State.Phase {
		return
	}
	t.writer.WritePoint(progressPoint(t.site, snap, t.now()))
}

// CheckCompleted implements firmware.Observer.
func (t *Telemetry) CheckCompleted(result firmware.CheckResult) {
	t.writer.WritePoint(checkPoint(t.site, result))
}

// InstallCompleted implements firmware.Observer.
func (t *Telemetry) InstallCompleted(report firmware.InstallReport) {
	t.writer.WritePoint(installPoint(t.site, report))
}

func progressPoint(site string, snap firmware.Snapshot, at time.Time) *write.Point {
	return write.NewPoint(MeasurementProgress,
		map[string]string{
			"site":      site,
			"device_id": snap.DeviceID,
			"phase":     string(snap.State.Phase),
		},
		map[string]any{
			"percent":     snap.Progress,
			"file":        snap.State.File,
			"total_files": snap.State.TotalFiles,
			"in_progress": snap.InProgress,
		},
		at,
	)
}

func checkPoint(site string, result firmware.CheckResult) *write.Point {
	fields := map[string]any{
		"duration_ms": result.Duration.Milliseconds(),
		"advertised":  result.Advertised,
	}
	if result.Candidate != nil {
		fields["candidate_version"] = result.Candidate.Version
	}
	if result.Err != nil {
		fields["error"] = result.Err.Error()
	}
	return write.NewPoint(MeasurementCheck,
		map[string]string{
			"site":      site,
			"device_id": result.DeviceID,
			"outcome":   result.Outcome(),
		},
		fields,
		result.CheckedAt,
	)
}

func installPoint(site string, report firmware.InstallReport) *write.Point {
	status := firmware.InstallStatusCompleted
	fields := map[string]any{
		"from_version": report.FromVersion,
		"to_version":   report.ToVersion,
		"files":        report.Files,
		"duration_s":   report.CompletedAt.Sub(report.StartedAt).Seconds(),
	}
	if !report.Succeeded() {
		status = firmware.InstallStatusFailed
		fields["error"] = report.Err.Error()
	}
	return write.NewPoint(MeasurementInstall,
		map[string]string{
			"site":      site,
			"device_id": report.DeviceID,
			"status":    status,
		},
		fields,
		report.CompletedAt,
	)
}

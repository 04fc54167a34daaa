package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-ota/internal/audit"
	"github.com/nerrad567/gray-logic-ota/internal/firmware"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// handleListFirmware returns the firmware snapshot of every managed device
// together with transfer slot usage.
func (s *Server) handleListFirmware(w http.ResponseWriter, _ *http.Request) {
	snaps := s.firmware.List()
	limiter := s.firmware.Limiter()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": snaps,
		"count":   len(snaps),
		"slots": map[string]int{
			"in_use":   limiter.InUse(),
			"capacity": limiter.Capacity(),
		},
	})
}

// handleGetFirmware returns one device's firmware snapshot.
func (s *Server) handleGetFirmware(w http.ResponseWriter, r *http.Request) {
	u, err := s.firmware.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "failed to get firmware state")
		return
	}
	writeJSON(w, http.StatusOK, u.Snapshot())
}

// handleCheck schedules an immediate registry check. The result arrives
// asynchronously as a state change.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	u, err := s.firmware.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "failed to get firmware state")
		return
	}
	u.CheckNow()
	s.logger.Info("firmware check requested", "device_id", u.DeviceID(), "subject", subjectFrom(r.Context()))
	s.recordAudit(r, audit.ActionCheck, audit.EntityFirmware, u.DeviceID(), nil)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "check_scheduled"})
}

// handleRefresh serves clients that refresh every entity generically.
// Firmware state cannot be polled, so the answer is always an error
// pointing at /check.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	u, err := s.firmware.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "failed to get firmware state")
		return
	}
	writeDomainError(w, u.PollValue(), "failed to refresh firmware state")
}

// installRequest is the optional body of POST .../install.
type installRequest struct {
	// Version must match the offered release when set.
	Version string `json:"version"`
	Backup  bool   `json:"backup"`
}

// handleInstall starts installing the offered release in the background.
// It answers 202 with the snapshot at the moment the install was accepted.
func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	u, err := s.firmware.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "failed to get firmware state")
		return
	}

	var req installRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	// The offered release is claimed before answering, so what the client
	// is told matches what runs.
	run, err := u.BeginInstall(s.ctx, req.Version, req.Backup)
	switch {
	case errors.Is(err, firmware.ErrNoCandidate), errors.Is(err, firmware.ErrStopped):
		writeError(w, http.StatusConflict, ErrCodeNoUpdate, "no firmware update is available for this device")
		return
	case errors.Is(err, firmware.ErrVersionUnavailable):
		writeError(w, http.StatusConflict, ErrCodeVersionUnavailable,
			"version "+req.Version+" is not offered; latest is "+strconv.Quote(u.LatestVersion()))
		return
	case err != nil:
		writeDomainError(w, err, "failed to start install")
		return
	}

	snap := u.Snapshot()
	subject := subjectFrom(r.Context())
	s.installs.Add(1)
	go s.runInstall(u.DeviceID(), run, subject)
	s.recordAudit(r, audit.ActionInstall, audit.EntityFirmware, u.DeviceID(), map[string]any{
		"from_version": snap.InstalledVersion,
		"to_version":   snap.LatestVersion,
		"backup":       req.Backup,
	})

	writeJSON(w, http.StatusAccepted, snap)
}

// runInstall drives one claimed install to completion. Outcomes reach
// clients and history through observers; here they are only logged.
func (s *Server) runInstall(deviceID string, run func() error, subject string) {
	defer s.installs.Done()

	s.logger.Info("firmware install started", "device_id", deviceID, "subject", subject)
	if err := run(); err != nil {
		s.logger.Warn("firmware install failed", "device_id", deviceID, "error", err)
		return
	}
	s.logger.Info("firmware install completed", "device_id", deviceID)
}

// handleReleaseNotes returns the changelog of the offered release.
func (s *Server) handleReleaseNotes(w http.ResponseWriter, r *http.Request) {
	u, err := s.firmware.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "failed to get firmware state")
		return
	}
	notes, ok := u.ReleaseNotes()
	if !ok {
		writeNotFound(w, "no release is currently offered")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"device_id":     u.DeviceID(),
		"version":       u.LatestVersion(),
		"release_notes": notes,
	})
}

// handleInstallHistory returns past installs, newest first.
//
// Query parameters:
//   - limit: maximum entries (default 20, max 200)
func (s *Server) handleInstallHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "install history is not available")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	installs, err := s.history.ListInstalls(r.Context(), id, limit)
	if err != nil {
		writeInternalError(w, "failed to list installs")
		return
	}
	if installs == nil {
		installs = []firmware.InstallRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"installs": installs, "count": len(installs)})
}

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-ota/internal/audit"
	"github.com/nerrad567/gray-logic-ota/internal/device"
)

// handleListDevices returns all devices, optionally filtered.
//
// Query parameters:
//   - tag: only devices carrying this tag
//   - updatable: "true" for devices with firmware updates enabled
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var devices []device.Device
	switch {
	case r.URL.Query().Get("tag") != "":
		devices = s.devices.ListByTag(ctx, r.URL.Query().Get("tag"))
	case r.URL.Query().Get("updatable") == "true":
		devices = s.devices.ListUpdatable(ctx)
	default:
		devices = s.devices.ListDevices(ctx)
	}
	if devices == nil {
		devices = []device.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.devices.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// createDeviceRequest is the body of POST /devices. UpdatesEnabled is a
// pointer so an omitted field defaults to true.
type createDeviceRequest struct {
	Name           string   `json:"name"`
	Slug           string   `json:"slug"`
	NodeID         int      `json:"node_id"`
	Manufacturer   *string  `json:"manufacturer"`
	Model          *string  `json:"model"`
	UpdatesEnabled *bool    `json:"updates_enabled"`
	Tags           []string `json:"tags"`
}

// handleCreateDevice adds a device to the catalogue and starts managing
// its firmware.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev := device.Device{
		Name:           req.Name,
		Slug:           req.Slug,
		NodeID:         req.NodeID,
		Manufacturer:   req.Manufacturer,
		Model:          req.Model,
		UpdatesEnabled: req.UpdatesEnabled == nil || *req.UpdatesEnabled,
		Tags:           req.Tags,
	}
	if err := s.devices.CreateDevice(r.Context(), &dev); err != nil {
		writeDomainError(w, err, "failed to create device")
		return
	}
	s.syncDevice(r, dev)
	s.recordAudit(r, audit.ActionCreate, audit.EntityDevice, dev.ID, map[string]any{
		"name":    dev.Name,
		"node_id": dev.NodeID,
	})

	writeJSON(w, http.StatusCreated, dev)
}

// handleUpdateDevice partially updates a device. The ID and the reported
// firmware version cannot be changed through the API.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := s.devices.GetDevice(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "failed to get device")
		return
	}
	version := existing.FirmwareVersion

	// Decode partial update onto existing device
	if err := json.NewDecoder(r.Body).Decode(existing); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	existing.ID = id
	existing.FirmwareVersion = version

	if err := s.devices.UpdateDevice(r.Context(), existing); err != nil {
		writeDomainError(w, err, "failed to update device")
		return
	}
	s.syncDevice(r, *existing)
	s.recordAudit(r, audit.ActionUpdate, audit.EntityDevice, id, map[string]any{
		"node_id":         existing.NodeID,
		"updates_enabled": existing.UpdatesEnabled,
	})

	writeJSON(w, http.StatusOK, existing)
}

// handleDeleteDevice removes a device and its firmware state.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.devices.DeleteDevice(r.Context(), id); err != nil {
		writeDomainError(w, err, "failed to delete device")
		return
	}
	if err := s.fleet.Remove(r.Context(), id); err != nil {
		s.logger.Warn("discarding firmware state failed", "device_id", id, "error", err)
	}
	s.recordAudit(r, audit.ActionDelete, audit.EntityDevice, id, nil)

	w.WriteHeader(http.StatusNoContent)
}

// syncDevice re-attaches a device after a catalogue write. The catalogue
// write has already succeeded, so failures are logged rather than returned.
func (s *Server) syncDevice(r *http.Request, dev device.Device) {
	if err := s.fleet.Sync(r.Context(), dev); err != nil {
		s.logger.Warn("firmware attach failed", "device_id", dev.ID, "node_id", dev.NodeID, "error", err)
	}
}

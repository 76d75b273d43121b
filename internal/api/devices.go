package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/homelink-core/internal/device"
)

type createDeviceRequest struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
}

type commandRequest struct {
	State device.State `json:"state"`
}

// handleListDevices returns the caller's devices.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.registry.ListByOwner(r.Context(), principal(r))
	if err != nil {
		s.logger.Error("listing devices", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleCreateDevice registers a device owned by the caller.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev, err := s.registry.Register(r.Context(), req.DeviceID, req.Name, principal(r))
	if err != nil {
		writeDeviceError(w, err, http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusCreated, dev)
}

// handleGetDevice returns one of the caller's devices.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.ownedDevice(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleCommand dispatches a desired state and returns the Ack.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	ack, err := s.dispatcher.Dispatch(r.Context(), chi.URLParam(r, "id"), principal(r), req.State)
	if err != nil {
		writeDeviceError(w, err, http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

// ownedDevice loads id and checks the caller owns it, writing the error
// response when it does not.
func (s *Server) ownedDevice(w http.ResponseWriter, r *http.Request, id string) (*device.Device, bool) {
	dev, err := s.registry.Get(r.Context(), id)
	if err != nil {
		writeDeviceError(w, err, http.StatusConflict)
		return nil, false
	}
	if dev.OwnerID != principal(r) {
		writeForbidden(w, "Not your device")
		return nil, false
	}
	return dev, true
}

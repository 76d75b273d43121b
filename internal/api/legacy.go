package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes in this file keep the response shapes of the first HomeLink
// release so older app builds keep working.

// legacyRegisterRequest accepts both the old "id" field and "device_id".
type legacyRegisterRequest struct {
	ID       string `json:"id"`
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
}

type legacyDevice struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
	Owner    string `json:"owner"`
	State    string `json:"state"`
}

func (s *Server) handleLegacyRegister(w http.ResponseWriter, r *http.Request) {
	var req legacyRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	id := req.DeviceID
	if id == "" {
		id = req.ID
	}

	dev, err := s.registry.Register(r.Context(), id, req.Name, principal(r))
	if err != nil {
		writeDeviceError(w, err, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":   "Device registered",
		"device_id": dev.ID,
		"topic":     s.topics.DeviceCommand(dev.ID),
	})
}

func (s *Server) handleLegacyToggle(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if _, err := s.dispatcher.Dispatch(r.Context(), chi.URLParam(r, "device_id"), principal(r), req.State); err != nil {
		writeDeviceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleLegacyListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.registry.ListByOwner(r.Context(), principal(r))
	if err != nil {
		s.logger.Error("listing devices", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}

	out := make([]legacyDevice, 0, len(devices))
	for _, d := range devices {
		out = append(out, legacyDevice{
			DeviceID: d.ID,
			Name:     d.Name,
			Owner:    d.OwnerID,
			State:    string(d.State),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

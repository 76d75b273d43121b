package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/homelink-core/internal/stream"
)

// handleStream upgrades to a WebSocket observer session for the device
// named by the param URL parameter. The device need not exist yet.
func (s *Server) handleStream(param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format, err := stream.ParseFormat(r.URL.Query().Get("format"))
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}

		deviceID := chi.URLParam(r, param)
		if err := s.stream.Serve(w, r, deviceID, format); err != nil {
			if errors.Is(err, stream.ErrServerClosed) {
				return
			}
			s.logger.Debug("stream session ended with error",
				"device_id", deviceID,
				"error", err,
			)
		}
	}
}

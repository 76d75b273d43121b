package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"
)

// qrSize is the edge length of provisioning QR codes in pixels.
const qrSize = 256

// Provisioning is what a device needs to join the bus. It is also the
// content of the QR code scanned during setup.
type Provisioning struct {
	DeviceID     string `json:"device_id"`
	CommandTopic string `json:"command_topic"`
	StatusTopic  string `json:"status_topic"`
	Broker       string `json:"broker,omitempty"`
}

type provisioningResponse struct {
	Provisioning
	QRCode string `json:"qr_code"`
}

// handleProvisioning returns the device's topics and a QR code encoding
// them. ?format=png returns the PNG alone.
func (s *Server) handleProvisioning(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.ownedDevice(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	p := Provisioning{
		DeviceID:     dev.ID,
		CommandTopic: s.topics.DeviceCommand(dev.ID),
		StatusTopic:  s.topics.DeviceStatus(dev.ID),
		Broker:       s.broker,
	}
	content, err := json.Marshal(p)
	if err != nil {
		writeInternalError(w, "failed to encode provisioning data")
		return
	}
	png, err := qrcode.Encode(string(content), qrcode.Medium, qrSize)
	if err != nil {
		s.logger.Error("generating QR code", "device_id", dev.ID, "error", err)
		writeInternalError(w, "failed to generate QR code")
		return
	}

	switch r.URL.Query().Get("format") {
	case "png":
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(len(png)))
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // Best-effort write to response; connection may be closed
		w.Write(png)
	case "", "json":
		writeJSON(w, http.StatusOK, provisioningResponse{
			Provisioning: p,
			QRCode:       base64.StdEncoding.EncodeToString(png),
		})
	default:
		writeBadRequest(w, "unsupported format")
	}
}

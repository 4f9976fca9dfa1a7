package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/relaybus-core/internal/device"
)

// handleListGateways returns every gateway with its online flag.
func (s *Server) handleListGateways(w http.ResponseWriter, _ *http.Request) {
	gateways := s.registry.Gateways()
	writeJSON(w, http.StatusOK, map[string]any{"gateways": gateways, "count": len(gateways)})
}

// handleListDevices returns all devices with their channels, online flag
// and last-seen time.
//
// Query parameters:
//   - gateway_id: filter by gateway
//   - type: filter by device type (sensor, relay_controller)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var devices []device.Device
	var err error
	if gatewayID := r.URL.Query().Get("gateway_id"); gatewayID != "" {
		devices, err = s.registry.DevicesByGateway(ctx, gatewayID)
	} else {
		devices, err = s.registry.ListDevices(ctx)
	}
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}

	if typ := r.URL.Query().Get("type"); typ != "" {
		filtered := devices[:0]
		for _, d := range devices {
			if string(d.Type) == typ {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}
	if devices == nil {
		devices = []device.Device{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := s.registry.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// handleDeviceStats returns registry counts.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Stats())
}

// handleLatestReadings returns the newest reading of every channel.
func (s *Server) handleLatestReadings(w http.ResponseWriter, r *http.Request) {
	readings, err := s.readings.LatestReadings(r.Context())
	if err != nil {
		s.logger.Error("listing latest readings", "error", err)
		writeInternalError(w, "failed to list readings")
		return
	}
	if readings == nil {
		readings = []device.LatestReading{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"readings": readings, "count": len(readings)})
}

// handleChannelReading returns the newest reading of one channel.
func (s *Server) handleChannelReading(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	ctx := r.Context()

	if _, err := s.registry.GetChannel(ctx, channelID); err != nil {
		writeNotFound(w, "channel not found")
		return
	}

	rd, err := s.readings.LatestReading(ctx, channelID)
	if err != nil {
		if errors.Is(err, device.ErrNoReading) {
			writeNotFound(w, "channel has no reading")
			return
		}
		writeInternalError(w, "failed to get reading")
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

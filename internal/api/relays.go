package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/relaybus-core/internal/device"
)

// commandWaitTimeout bounds how long a waiting command request blocks.
const commandWaitTimeout = 30 * time.Second

// RelayStatus is a relay channel with its commanded state. Source and
// LastChanged are empty for relays that were never commanded.
type RelayStatus struct {
	ChannelID   string        `json:"channel_id"`
	ChannelName string        `json:"channel_name"`
	DeviceID    string        `json:"device_id"`
	State       bool          `json:"state"`
	Source      device.Source `json:"source,omitempty"`
	LastChanged *time.Time    `json:"last_changed,omitempty"`
	Online      bool          `json:"online"`
}

// CommandRequest is the body of a relay command.
type CommandRequest struct {
	State *bool `json:"state"`
	Wait  bool  `json:"wait"`
}

// CommandResponse is the body of an accepted relay command.
type CommandResponse struct {
	Accepted  bool   `json:"accepted"`
	CommandID string `json:"command_id"`
	ChannelID string `json:"channel_id"`
	State     bool   `json:"state"`

	// Set only when the request waited for the outcome.
	Succeeded *bool  `json:"succeeded,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	Via       string `json:"via,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleListRelays returns every relay channel with its commanded state.
func (s *Server) handleListRelays(w http.ResponseWriter, r *http.Request) {
	states, err := s.relayStates.ListRelayStates(r.Context())
	if err != nil {
		s.logger.Error("listing relay states", "error", err)
		writeInternalError(w, "failed to list relay states")
		return
	}
	byChannel := make(map[string]device.RelayState, len(states))
	for _, st := range states {
		byChannel[st.ChannelID] = st
	}

	online := make(map[string]bool)
	for _, d := range s.registry.RelayDevices() {
		online[d.ID] = d.Online
	}

	relays := []RelayStatus{}
	for _, ch := range s.registry.RelayChannels() {
		rs := RelayStatus{
			ChannelID:   ch.ID,
			ChannelName: ch.Label(),
			DeviceID:    ch.DeviceID,
			Online:      online[ch.DeviceID],
		}
		if st, ok := byChannel[ch.ID]; ok {
			ts := st.Timestamp
			rs.State = st.State
			rs.Source = st.Source
			rs.LastChanged = &ts
		}
		relays = append(relays, rs)
	}

	writeJSON(w, http.StatusOK, map[string]any{"relays": relays, "count": len(relays)})
}

// handleGetRelay returns the commanded state of one relay channel.
func (s *Server) handleGetRelay(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	ctx := r.Context()

	ch, dev, err := s.registry.LookupChannel(ctx, channelID)
	if err != nil {
		writeNotFound(w, "channel not found")
		return
	}
	if !ch.IsRelay() {
		writeBadRequest(w, "channel is not a relay")
		return
	}

	rs := RelayStatus{
		ChannelID:   ch.ID,
		ChannelName: ch.Label(),
		DeviceID:    dev.ID,
		Online:      dev.Online,
	}
	st, err := s.relayStates.GetRelayState(ctx, channelID)
	switch {
	case err == nil:
		ts := st.Timestamp
		rs.State = st.State
		rs.Source = st.Source
		rs.LastChanged = &ts
	case !errors.Is(err, device.ErrNoRelayState):
		writeInternalError(w, "failed to get relay state")
		return
	}

	writeJSON(w, http.StatusOK, rs)
}

// handleRelayHistory returns recent state changes of a relay channel.
//
// Query parameters:
//   - limit: max results (default 50, max 200)
func (s *Server) handleRelayHistory(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	ctx := r.Context()

	if _, err := s.registry.GetChannel(ctx, channelID); err != nil {
		writeNotFound(w, "channel not found")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	history, err := s.relayStates.GetHistory(ctx, channelID, limit)
	if err != nil {
		s.logger.Error("listing relay history", "channel_id", channelID, "error", err)
		writeInternalError(w, "failed to list relay history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history, "count": len(history)})
}

// handleRelayCommand submits a manual relay command.
func (s *Server) handleRelayCommand(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.State == nil {
		writeBadRequest(w, "state is required")
		return
	}

	pending, err := s.commands.Submit(r.Context(), channelID, *req.State, device.SourceManual)
	if err != nil {
		s.logger.Info("relay command rejected", "channel_id", channelID, "error", err)
		writeRejection(w, err)
		return
	}

	resp := CommandResponse{
		Accepted:  true,
		CommandID: pending.ID,
		ChannelID: channelID,
		State:     *req.State,
	}
	if !req.Wait {
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandWaitTimeout)
	defer cancel()
	out, err := pending.Wait(ctx)
	if err != nil {
		// Still queued or executing; the outcome lands in the audit trail.
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	ok := out.Succeeded()
	resp.Succeeded = &ok
	resp.Attempts = out.Attempts
	resp.Via = out.Via
	status := http.StatusOK
	if !ok {
		resp.Error = out.Err.Error()
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

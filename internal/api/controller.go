package api

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"
)

// ControllerView is the aggregated read model consumed by the platform
// integration. Its JSON shape is fixed.
type ControllerView struct {
	ControllerID   string       `json:"controllerId"`
	ControllerName string       `json:"controllerName"`
	LastUpdate     string       `json:"lastUpdate"`
	Sensors        []SensorView `json:"sensors"`
	Relays         []RelayView  `json:"relays"`
}

// SensorView is one sensor device with the latest value of each channel.
type SensorView struct {
	ID       string                  `json:"id"`
	Name     string                  `json:"name"`
	Type     string                  `json:"type"`
	Label    string                  `json:"label"`
	Online   bool                    `json:"online"`
	Readings map[string]ReadingValue `json:"readings"`
}

// ReadingValue is a rounded reading with its unit.
type ReadingValue struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// RelayView is one relay channel with its commanded state.
type RelayView struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	State  bool   `json:"state"`
	Online bool   `json:"online"`
}

// handleController returns the aggregated controller read model.
func (s *Server) handleController(w http.ResponseWriter, r *http.Request) {
	view, err := s.controllerView(r.Context(), time.Now())
	if err != nil {
		s.logger.Error("building controller view", "error", err)
		writeInternalError(w, "failed to build controller view")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// controllerView joins the latest readings, relay states and device online
// flags.
//
// A sensor appears once it has at least one reading, keyed by channel name.
// A relay with no persisted state reports false.
func (s *Server) controllerView(ctx context.Context, now time.Time) (*ControllerView, error) {
	latest, err := s.readings.LatestReadings(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading latest readings: %w", err)
	}
	states, err := s.relayStates.ListRelayStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading relay states: %w", err)
	}
	devices, err := s.registry.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}

	online := make(map[string]bool, len(devices))
	for _, d := range devices {
		online[d.ID] = d.Online
	}

	view := &ControllerView{
		ControllerID:   s.site.ID,
		ControllerName: s.site.Name,
		LastUpdate:     now.UTC().Format(time.RFC3339),
		Sensors:        []SensorView{},
		Relays:         []RelayView{},
	}

	index := make(map[string]int)
	for _, lr := range latest {
		i, ok := index[lr.DeviceID]
		if !ok {
			i = len(view.Sensors)
			index[lr.DeviceID] = i
			view.Sensors = append(view.Sensors, SensorView{
				ID:       lr.DeviceID,
				Name:     lr.DeviceName,
				Type:     "sensor",
				Label:    lr.DeviceName,
				Online:   online[lr.DeviceID],
				Readings: map[string]ReadingValue{},
			})
		}

		key := lr.ChannelName
		if key == "" {
			key = lr.ChannelType
		}
		view.Sensors[i].Readings[key] = ReadingValue{Value: round2(lr.Value), Unit: lr.Unit}
	}

	stateByChannel := make(map[string]bool, len(states))
	for _, st := range states {
		stateByChannel[st.ChannelID] = st.State
	}
	for _, ch := range s.registry.RelayChannels() {
		view.Relays = append(view.Relays, RelayView{
			ID:     ch.ID,
			Label:  ch.Label(),
			State:  stateByChannel[ch.ID],
			Online: online[ch.DeviceID],
		})
	}

	return view, nil
}

// round2 rounds half away from zero to two decimals.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

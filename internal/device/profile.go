package device

import "strings"

// defaultSensorScale applies to generic sensor channels without a scale.
const defaultSensorScale = 0.1

// blockField is one register of a multi-value sensor block.
type blockField struct {
	kind   string
	scale  float64
	signed bool
}

// soilBlock is the register layout of the common 7-in-1 soil probe,
// starting at holding register 0.
var soilBlock = []blockField{
	{kind: "moisture", scale: 0.1},
	{kind: "temperature", scale: 0.1, signed: true},
	{kind: "conductivity", scale: 1},
	{kind: "ph", scale: 0.1},
	{kind: "nitrogen", scale: 1},
	{kind: "phosphorus", scale: 1},
	{kind: "potassium", scale: 1},
}

// SensorTarget maps one register of a read to a channel.
type SensorTarget struct {
	ChannelID string
	Offset    int
	Scale     float64
	Signed    bool
}

// SensorRead is one holding-register read and the channels it feeds.
type SensorRead struct {
	Address uint16
	Count   uint16
	Targets []SensorTarget
}

// ChannelValue is a decoded sensor value.
type ChannelValue struct {
	ChannelID string
	Value     float64
}

// Decode converts raw registers into channel values.
// Targets beyond the returned registers are skipped.
func (r SensorRead) Decode(regs []uint16) []ChannelValue {
	out := make([]ChannelValue, 0, len(r.Targets))
	for _, t := range r.Targets {
		if t.Offset >= len(regs) {
			continue
		}
		raw := float64(regs[t.Offset])
		if t.Signed {
			raw = float64(int16(regs[t.Offset])) //nolint:gosec // two's complement register
		}
		out = append(out, ChannelValue{ChannelID: t.ChannelID, Value: raw * t.Scale})
	}
	return out
}

// IsBlockSensor reports whether a model is read as one 7-register block.
func IsBlockSensor(model string) bool {
	m := strings.ToLower(model)
	return strings.Contains(m, "soil") || strings.Contains(m, "7in1")
}

// PlanSensorReads returns the reads needed to poll the enabled sensor
// channels of a device.
//
// Block sensors are read with one request; a channel maps onto the first
// block field whose kind its type contains. Channels of generic sensors,
// and block-sensor channels of an unknown kind, each read the holding
// register at Register (default: the channel number).
func PlanSensorReads(d *Device) []SensorRead {
	var reads []SensorRead
	var block *SensorRead

	if IsBlockSensor(d.Model) {
		block = &SensorRead{Address: 0, Count: uint16(len(soilBlock))}
	}

	for _, ch := range d.Channels {
		if !ch.Enabled || ch.IsRelay() {
			continue
		}

		if block != nil {
			if idx, field, ok := matchBlockField(ch.Type); ok {
				scale := field.scale
				if ch.Scale != nil {
					scale = *ch.Scale
				}
				block.Targets = append(block.Targets, SensorTarget{
					ChannelID: ch.ID,
					Offset:    idx,
					Scale:     scale,
					Signed:    field.signed,
				})
				continue
			}
		}

		addr := ch.Number
		if ch.Register != nil {
			addr = *ch.Register
		}
		scale := defaultSensorScale
		if ch.Scale != nil {
			scale = *ch.Scale
		}
		reads = append(reads, SensorRead{
			Address: uint16(addr), //nolint:gosec // validated to 0..65535
			Count:   1,
			Targets: []SensorTarget{{ChannelID: ch.ID, Scale: scale}},
		})
	}

	if block != nil && len(block.Targets) > 0 {
		reads = append([]SensorRead{*block}, reads...)
	}
	return reads
}

func matchBlockField(channelType string) (int, blockField, bool) {
	t := strings.ToLower(channelType)
	for i, f := range soilBlock {
		if strings.Contains(t, f.kind) {
			return i, f, true
		}
	}
	return 0, blockField{}, false
}

// Package protocol defines the JSON wire messages exchanged with the
// broker over MQTT: outbound telemetry and alerts, and the inbound
// command payload accepted by the command dispatcher.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/agsys/greenhouse-controller/internal/config"
	"github.com/agsys/greenhouse-controller/internal/state"
)

// MaxCommandPayloadBytes is the hard size ceiling enforced by the
// command dispatcher; oversized payloads are dropped whole.
const MaxCommandPayloadBytes = 10 * 1024

// AlertRollbackExecuted is the only alert kind this repository emits.
const AlertRollbackExecuted = "ROLLBACK_EXECUTED"

// Telemetry is the device->broker data payload published on
// greenhouse/{id}/data.
type Telemetry struct {
	DeviceID  string  `json:"device_id"`
	Version   string  `json:"version"`
	Timestamp int64   `json:"timestamp"`
	TempC     float64 `json:"temp"`
	HumPct    float64 `json:"hum"`
	SoilPct   int     `json:"soil"`
	ECO2PPM   int     `json:"co2"`
	TVOCPPB   int     `json:"tvoc"`
	TankLevel int     `json:"tank_level"`
	Pump      int     `json:"pump"`
	Fan       int     `json:"fan"`
	Heater    int     `json:"heater"`
	Mode      string  `json:"mode"`
}

// NewTelemetry composes a telemetry record from the current shared
// state, matching the field set in this repository's external
// interfaces design exactly.
func NewTelemetry(deviceID, version string, unixSeconds int64, sensors state.Sensors, actuators state.Actuators) Telemetry {
	return Telemetry{
		DeviceID:  deviceID,
		Version:   version,
		Timestamp: unixSeconds,
		TempC:     sensors.TempC,
		HumPct:    sensors.HumPct,
		SoilPct:   int(sensors.SoilPct),
		ECO2PPM:   sensors.ECO2PPM,
		TVOCPPB:   sensors.TVOCPPB,
		TankLevel: int(sensors.TankLevelPct),
		Pump:      boolToInt(actuators.Pump),
		Fan:       boolToInt(actuators.Fan),
		Heater:    boolToInt(actuators.Heater),
		Mode:      actuators.Mode.String(),
	}
}

func (t Telemetry) Encode() (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encode telemetry: %w", err)
	}
	return string(b), nil
}

// Alert is the device->broker payload published on
// greenhouse/{id}/alerts.
type Alert struct {
	Alert     string `json:"alert"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

func (a Alert) Encode() (string, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encode alert: %w", err)
	}
	return string(b), nil
}

// Command is the parsed, type-checked form of a broker->device
// command payload. Every field is a pointer so the dispatcher can
// tell "absent" from "zero value"; all fields are optional. This is
// the tagged-variant adapter called for by this repository's
// redesign guidance: JSON in, one validated struct out, unknown
// fields ignored.
type Command struct {
	TempMin       *float64
	TempMax       *float64
	HumMax        *float64
	SoilDry       *float64
	SoilWet       *float64
	TankEmptyDist *float64
	TankFullDist  *float64
	CalAirRaw     *int
	CalWaterRaw   *int
	Mode          *state.Mode
	Pump          *bool
	Fan           *bool
	Heater        *bool
	UpdateURL     *string
}

// rawCommand mirrors the wire shape with json.Number/string leaves so
// ParseCommand can accept the documented field synonyms and the
// "0"/"1" string form of mode.
type rawCommand struct {
	TempMin       *float64         `json:"temp_min"`
	MinTemp       *float64         `json:"min_temp"`
	TempMax       *float64         `json:"temp_max"`
	MaxTemp       *float64         `json:"max_temp"`
	HumMax        *float64         `json:"hum_max"`
	MaxHum        *float64         `json:"max_hum"`
	SoilDry       *float64         `json:"soil_dry"`
	SoilWet       *float64         `json:"soil_wet"`
	TankEmptyDist *float64         `json:"tank_empty_dist"`
	TankFullDist  *float64         `json:"tank_full_dist"`
	CalAir        *int             `json:"cal_air"`
	CalWater      *int             `json:"cal_water"`
	Mode          *json.RawMessage `json:"mode"`
	Pump          *int             `json:"pump"`
	Fan           *int             `json:"fan"`
	Heater        *int             `json:"heater"`
	UpdateURL     *string          `json:"update_url"`
}

// ParseCommand enforces the hard size ceiling, then parses the JSON
// object into a Command, dropping individually invalid fields while
// keeping the rest of the payload. An oversized or structurally
// malformed payload is dropped whole (returns an error, nil Command).
func ParseCommand(payload []byte) (*Command, error) {
	if len(payload) > MaxCommandPayloadBytes {
		return nil, fmt.Errorf("command payload of %d bytes exceeds %d byte ceiling", len(payload), MaxCommandPayloadBytes)
	}

	var raw rawCommand
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("malformed command payload: %w", err)
	}

	cmd := &Command{}
	cmd.TempMin = firstValid(raw.TempMin, raw.MinTemp)
	cmd.TempMax = firstValid(raw.TempMax, raw.MaxTemp)
	cmd.HumMax = firstValid(raw.HumMax, raw.MaxHum)
	cmd.SoilDry = raw.SoilDry
	cmd.SoilWet = raw.SoilWet
	cmd.TankEmptyDist = raw.TankEmptyDist
	cmd.TankFullDist = raw.TankFullDist
	cmd.CalAirRaw = raw.CalAir
	cmd.CalWaterRaw = raw.CalWater
	cmd.UpdateURL = raw.UpdateURL

	if raw.Mode != nil {
		if m, ok := parseMode(*raw.Mode); ok {
			cmd.Mode = &m
		}
		// invalid mode value: drop that field silently, keep the rest
	}
	if raw.Pump != nil {
		if b, ok := intToBoolField(*raw.Pump); ok {
			cmd.Pump = &b
		}
	}
	if raw.Fan != nil {
		if b, ok := intToBoolField(*raw.Fan); ok {
			cmd.Fan = &b
		}
	}
	if raw.Heater != nil {
		if b, ok := intToBoolField(*raw.Heater); ok {
			cmd.Heater = &b
		}
	}

	return cmd, nil
}

func firstValid(candidates ...*float64) *float64 {
	for _, c := range candidates {
		if c != nil {
			return c
		}
	}
	return nil
}

func intToBoolField(v int) (bool, bool) {
	switch v {
	case 0:
		return false, true
	case 1:
		return true, true
	default:
		return false, false
	}
}

func parseMode(raw json.RawMessage) (state.Mode, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return modeFromString(s)
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return modeFromString(strconv.Itoa(n))
	}
	return 0, false
}

func modeFromString(s string) (state.Mode, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AUTO", "0":
		return state.ModeAuto, true
	case "MANUAL", "1":
		return state.ModeManual, true
	default:
		return 0, false
	}
}

// ApplySettings clones cur, applies every present field, and returns
// the candidate along with whether anything actually changed. It does
// not validate; the caller is expected to call Settings.Validate and
// discard the candidate on failure, per the "reject whole write, keep
// old state" invariant.
func (c *Command) ApplySettings(cur config.Settings) (config.Settings, bool) {
	next := cur
	changed := false
	setF := func(dst *float64, src *float64) {
		if src != nil && *dst != *src {
			*dst = *src
			changed = true
		}
	}
	setF(&next.TempMin, c.TempMin)
	setF(&next.TempMax, c.TempMax)
	setF(&next.HumMax, c.HumMax)
	setF(&next.SoilDry, c.SoilDry)
	setF(&next.SoilWet, c.SoilWet)
	setF(&next.TankEmptyDist, c.TankEmptyDist)
	setF(&next.TankFullDist, c.TankFullDist)
	if c.CalAirRaw != nil && next.CalAirRaw != *c.CalAirRaw {
		next.CalAirRaw = *c.CalAirRaw
		changed = true
	}
	if c.CalWaterRaw != nil && next.CalWaterRaw != *c.CalWaterRaw {
		next.CalWaterRaw = *c.CalWaterRaw
		changed = true
	}
	return next, changed
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

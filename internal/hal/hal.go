// Package hal defines the narrow capability interfaces that separate
// the control logic in this repository from the concrete sensor and
// actuator wiring on a given board. Every interface here corresponds
// to one opaque trait the board is expected to provide; production
// code gets a real implementation, tests and the --simulate flag get
// the one in hal/sim.
package hal

import "context"

// RelayID names one of the three binary outputs this node drives.
type RelayID int

const (
	RelayPump RelayID = iota
	RelayFan
	RelayHeater
)

func (r RelayID) String() string {
	switch r {
	case RelayPump:
		return "pump"
	case RelayFan:
		return "fan"
	case RelayHeater:
		return "heater"
	default:
		return "unknown"
	}
}

// SensorBus reads the four environmental inputs. Every method may
// fail transiently; callers are expected to retain the previous
// reading on error rather than propagate NaN or zero into the control
// path.
type SensorBus interface {
	// ReadTempHumidity returns the ambient temperature in Celsius and
	// relative humidity in percent.
	ReadTempHumidity(ctx context.Context) (tempC, humPct float64, err error)

	// ReadAirQuality returns eCO2 in ppm and TVOC in ppb. ok is false
	// when the sensor has no fresh sample available; in that case the
	// previous reading should be retained.
	ReadAirQuality(ctx context.Context) (eco2PPM, tvocPPB int, ok bool, err error)

	// ReadSoilRaw returns the raw ADC count from the capacitive soil
	// probe, uncalibrated.
	ReadSoilRaw(ctx context.Context) (raw int, err error)

	// MeasureDistanceCM performs one ultrasonic ranging pulse. timedOut
	// is true if no echo returned within the sensor's timeout window,
	// in which case cm is meaningless and should not be used.
	MeasureDistanceCM(ctx context.Context) (cm float64, timedOut bool, err error)
}

// ActuatorBus drives the three relay outputs.
type ActuatorBus interface {
	SetRelay(ctx context.Context, id RelayID, on bool) error
}

// Display is the local status panel, addressed by row.
type Display interface {
	WriteRow(row int, text string) error
}

// Button is the single physical reconfiguration button. Requested
// reports whether a debounced press has occurred since the last call
// and clears the flag (edge-triggered, consume-once semantics).
type Button interface {
	Requested() bool
}

// WifiLink is the radio connection the connectivity task drives. A
// real board backs this with its WiFi stack; tests and --simulate
// back it with an in-memory fake.
type WifiLink interface {
	// Connect attempts one blocking connection with saved or supplied
	// credentials, bounded by the caller's context deadline.
	Connect(ctx context.Context, ssid, password string) error
	IsUp() bool
	Disconnect()
}

// Firmware performs the bootloader-level operations the OTA manager
// needs: writing a downloaded image to the inactive slot and asking
// the bootloader to boot from the previous slot on the next reset.
type Firmware interface {
	WriteImage(ctx context.Context, r ReadCounter) error
	Rollback(ctx context.Context) error
	HasRollbackSlot() bool
}

// ReadCounter is the minimal streaming-read capability the firmware
// writer needs from an HTTP response body.
type ReadCounter interface {
	Read(p []byte) (int, error)
}

// Package control runs the 1 s policy engine that turns sensor
// snapshots and the current mode/overrides into actuator commands,
// applying the hysteresis and safety-interlock rules from this
// repository's component design.
package control

import (
	"context"
	"time"

	"github.com/agsys/greenhouse-controller/internal/config"
	"github.com/agsys/greenhouse-controller/internal/hal"
	"github.com/agsys/greenhouse-controller/internal/state"
)

// Period is the control task's cycle length.
const Period = 1 * time.Second

type Watchdog interface {
	Pet(task string)
}

type Task struct {
	bus    hal.ActuatorBus
	shared *state.Shared
	cfg    *config.Store
	wd     Watchdog
}

func New(bus hal.ActuatorBus, shared *state.Shared, cfg *config.Store, wd Watchdog) *Task {
	return &Task{bus: bus, shared: shared, cfg: cfg, wd: wd}
}

func (t *Task) Run(ctx context.Context) error {
	ticker := time.NewTicker(Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

func (t *Task) tick(ctx context.Context) {
	sensors := t.shared.Sensors.Load()
	prevActuators := t.shared.Actuators.Load()
	settings := t.cfg.LoadSettings()

	next := Decide(settings, sensors, prevActuators)

	t.shared.Actuators.Store(next)
	_ = t.bus.SetRelay(ctx, hal.RelayPump, next.Pump)
	_ = t.bus.SetRelay(ctx, hal.RelayFan, next.Fan)
	_ = t.bus.SetRelay(ctx, hal.RelayHeater, next.Heater)

	if t.wd != nil {
		t.wd.Pet("control")
	}
}

// Decide is the pure policy function: given the current configuration,
// the latest sensor snapshot, and the previous actuator state (for
// hysteresis), it returns the next actuator state. Exported so it can
// be exercised directly by the scenario tests without standing up a
// Task.
func Decide(settings config.Settings, sensors state.Sensors, prev state.Actuators) state.Actuators {
	next := prev

	if prev.Mode == state.ModeManual {
		next.Pump = prev.OverridePump
		next.Fan = prev.OverrideFan
		next.Heater = prev.OverrideHeater
		return next
	}

	// AUTO mode. Entering AUTO clears overrides (the clearing itself
	// happens in the command dispatcher's mode-change handler; here we
	// just never consult them).
	next.OverridePump, next.OverrideFan, next.OverrideHeater = false, false, false

	// Pump hysteresis with the has_water safety interlock.
	switch {
	case !sensors.HasWater:
		next.Pump = false
	case sensors.SoilPct < settings.SoilDry:
		next.Pump = true
	case sensors.SoilPct > settings.SoilWet:
		next.Pump = false
	default:
		next.Pump = prev.Pump // retain: between thresholds
	}

	next.Fan = sensors.TempC > settings.TempMax || sensors.HumPct > settings.HumMax
	next.Heater = sensors.TempC < settings.TempMin

	return next
}

// Package display renders the 4-row local status panel every 500 ms
// from the shared sensor and actuator snapshots, switching to a
// provisioning banner while the portal is active or a reconfiguration
// request is pending.
package display

import (
	"context"
	"fmt"
	"time"

	"github.com/agsys/greenhouse-controller/internal/hal"
	"github.com/agsys/greenhouse-controller/internal/portal"
	"github.com/agsys/greenhouse-controller/internal/state"
)

// Period is the rendering task's refresh interval.
const Period = 500 * time.Millisecond

// Watchdog is fed once per cycle; satisfied by *watchdog.Watchdog.
type Watchdog interface {
	Pet(task string)
}

type Task struct {
	dev    hal.Display
	shared *state.Shared
	wd     Watchdog
}

func New(dev hal.Display, shared *state.Shared, wd Watchdog) *Task {
	return &Task{dev: dev, shared: shared, wd: wd}
}

func (t *Task) Run(ctx context.Context) error {
	ticker := time.NewTicker(Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.render()
			if t.wd != nil {
				t.wd.Pet("display")
			}
		}
	}
}

func (t *Task) render() {
	conn := t.shared.Connectivity.Load()
	if conn.PortalActive || t.shared.Intents.ReconfigurePending() {
		t.renderProvisioning(conn)
		return
	}

	sensors := t.shared.Sensors.Load()
	actuators := t.shared.Actuators.Load()

	_ = t.dev.WriteRow(0, fmt.Sprintf("T:%5.1fC H:%4.1f%%", sensors.TempC, sensors.HumPct))
	_ = t.dev.WriteRow(1, fmt.Sprintf("Soil:%3.0f%% Tank:%3.0f%%", sensors.SoilPct, sensors.TankLevelPct))
	_ = t.dev.WriteRow(2, fmt.Sprintf("P:%s F:%s H:%s", onOff(actuators.Pump), onOff(actuators.Fan), onOff(actuators.Heater)))
	_ = t.dev.WriteRow(3, fmt.Sprintf("Mode:%-6s %s", actuators.Mode, netGlyph(conn)))
}

func (t *Task) renderProvisioning(conn state.Connectivity) {
	_ = t.dev.WriteRow(0, "-- SETUP MODE --")
	if conn.PortalActive {
		_ = t.dev.WriteRow(1, "SSID: "+portal.APSSID)
		_ = t.dev.WriteRow(2, "Connect & configure")
	} else {
		_ = t.dev.WriteRow(1, "Press button to")
		_ = t.dev.WriteRow(2, "start provisioning")
	}
	_ = t.dev.WriteRow(3, "")
}

func onOff(on bool) string {
	if on {
		return "ON "
	}
	return "OFF"
}

func netGlyph(conn state.Connectivity) string {
	switch {
	case conn.MQTTUp:
		return "MQTT"
	case conn.WifiUp:
		return "WiFi"
	default:
		return "----"
	}
}

package control

import (
	"testing"

	"github.com/agsys/greenhouse-controller/internal/config"
	"github.com/agsys/greenhouse-controller/internal/state"
)

func testSettings() config.Settings {
	s := config.Defaults()
	s.SoilDry = 40
	s.SoilWet = 70
	return s
}

// TestHysteresisTrajectory is the literal end-to-end scenario from
// this repository's testable-properties list: soil 50->35->55->75->60
// with has_water true should drive the pump OFF->ON->ON->OFF->OFF.
func TestHysteresisTrajectory(t *testing.T) {
	settings := testSettings()
	trajectory := []float64{50, 35, 55, 75, 60}
	want := []bool{false, true, true, false, false}

	actuators := state.Actuators{Mode: state.ModeAuto}
	for i, soil := range trajectory {
		sensors := state.Sensors{SoilPct: soil, HasWater: true}
		actuators = Decide(settings, sensors, actuators)
		if actuators.Pump != want[i] {
			t.Fatalf("step %d: soil=%v pump=%v, want %v", i, soil, actuators.Pump, want[i])
		}
	}
}

func TestPumpSafetyInterlockOverridesLowerThreshold(t *testing.T) {
	settings := testSettings()
	prev := state.Actuators{Mode: state.ModeAuto, Pump: true}
	sensors := state.Sensors{SoilPct: 10, HasWater: false} // very dry, but tank empty

	got := Decide(settings, sensors, prev)
	if got.Pump {
		t.Fatal("pump must be OFF when has_water is false, regardless of how dry the soil is")
	}
}

func TestFanThresholding(t *testing.T) {
	settings := testSettings()
	prev := state.Actuators{Mode: state.ModeAuto}

	hot := Decide(settings, state.Sensors{TempC: settings.TempMax + 1, HasWater: true}, prev)
	if !hot.Fan {
		t.Fatal("fan should turn on above temp_max")
	}
	humid := Decide(settings, state.Sensors{HumPct: settings.HumMax + 1, HasWater: true}, prev)
	if !humid.Fan {
		t.Fatal("fan should turn on above hum_max")
	}
	calm := Decide(settings, state.Sensors{TempC: settings.TempMin + 1, HumPct: 10, HasWater: true}, prev)
	if calm.Fan {
		t.Fatal("fan should be off when neither threshold is exceeded")
	}
}

func TestHeaterThresholding(t *testing.T) {
	settings := testSettings()
	prev := state.Actuators{Mode: state.ModeAuto}

	cold := Decide(settings, state.Sensors{TempC: settings.TempMin - 1, HasWater: true}, prev)
	if !cold.Heater {
		t.Fatal("heater should turn on below temp_min")
	}
	warm := Decide(settings, state.Sensors{TempC: settings.TempMin + 5, HasWater: true}, prev)
	if warm.Heater {
		t.Fatal("heater should be off above temp_min")
	}
}

// TestManualOverrideScenario is the literal manual-override end-to-end
// scenario: {"mode":"MANUAL","pump":1} with soil=85 (above wet) should
// still result in the pump ON and staying on.
func TestManualOverrideScenario(t *testing.T) {
	settings := testSettings()
	prev := state.Actuators{
		Mode:         state.ModeManual,
		OverridePump: true,
	}
	sensors := state.Sensors{SoilPct: 85, HasWater: true}

	got := Decide(settings, sensors, prev)
	if !got.Pump {
		t.Fatal("manual override pump=1 must be honored even though AUTO logic would turn the pump off")
	}

	// And it stays on across further ticks while nothing changes.
	got2 := Decide(settings, sensors, got)
	if !got2.Pump {
		t.Fatal("manual override pump state should persist across ticks")
	}
}

func TestManualModeIgnoresAutoLogicEntirely(t *testing.T) {
	settings := testSettings()
	prev := state.Actuators{
		Mode:           state.ModeManual,
		OverridePump:   false,
		OverrideFan:    true,
		OverrideHeater: false,
	}
	// Sensor values that would, under AUTO, turn on heater and pump.
	sensors := state.Sensors{TempC: 0, SoilPct: 1, HasWater: true}

	got := Decide(settings, sensors, prev)
	if got.Pump || got.Heater || !got.Fan {
		t.Fatalf("manual mode must follow overrides literally, got %+v", got)
	}
}

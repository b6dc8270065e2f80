package sensing

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/agsys/greenhouse-controller/internal/config"
	"github.com/agsys/greenhouse-controller/internal/hal/sim"
	"github.com/agsys/greenhouse-controller/internal/state"
)

func newTestStore(t *testing.T) *config.Store {
	t.Helper()
	s, err := config.Open(filepath.Join(t.TempDir(), "cfg.db"))
	if err != nil {
		t.Fatalf("config.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSoilRawToPercentAirAndWaterEndpoints(t *testing.T) {
	if pct := soilRawToPercent(4095, 4095, 1670); pct != 0 {
		t.Fatalf("fully dry raw should map to 0%%, got %v", pct)
	}
	if pct := soilRawToPercent(1670, 4095, 1670); pct != 100 {
		t.Fatalf("fully wet raw should map to 100%%, got %v", pct)
	}
}

func TestSoilRawToPercentClampsOutOfRange(t *testing.T) {
	if pct := soilRawToPercent(9000, 4095, 1670); pct != 0 {
		t.Fatalf("out-of-range dry raw should clamp to 0%%, got %v", pct)
	}
	if pct := soilRawToPercent(0, 4095, 1670); pct != 100 {
		t.Fatalf("out-of-range wet raw should clamp to 100%%, got %v", pct)
	}
}

func TestSoilRawToPercentReversedCalibration(t *testing.T) {
	// water_raw > air_raw: mapping is still symmetric.
	pct := soilRawToPercent(1670, 1000, 2000)
	if pct != 0 {
		t.Fatalf("reversed calibration at air endpoint should be 0%%, got %v", pct)
	}
}

func TestUltrasonicTimeoutAssumesEmptyTank(t *testing.T) {
	bus := sim.New()
	bus.SetDistanceCM(0, true) // timed out
	shared := state.New()
	cfg := newTestStore(t)

	task := New(bus, shared, cfg, nil)
	task.sampleOnce(context.Background())

	got := shared.Sensors.Load()
	settings := cfg.LoadSettings()
	if got.DistanceCM != settings.TankEmptyDist {
		t.Fatalf("DistanceCM = %v on timeout, want tank_empty_dist %v", got.DistanceCM, settings.TankEmptyDist)
	}
	if got.HasWater {
		t.Fatal("HasWater should be false when the timeout fail-safe reports an empty tank")
	}
}

func TestSensorErrorRetainsPreviousValue(t *testing.T) {
	bus := sim.New()
	bus.SetTempHumidity(24, 55)
	shared := state.New()
	cfg := newTestStore(t)

	task := New(bus, shared, cfg, nil)
	task.sampleOnce(context.Background())
	first := shared.Sensors.Load()

	bus.TempErr = errBoom
	task.sampleOnce(context.Background())
	second := shared.Sensors.Load()

	if second.TempC != first.TempC || second.HumPct != first.HumPct {
		t.Fatalf("sensor read error should retain previous value, got %+v after %+v", second, first)
	}
}

var errBoom = errTest("boom")

type errTest string

func (e errTest) Error() string { return string(e) }

// Package sensing runs the periodic acquisition task described in
// this repository's component design: temperature/humidity, CO2/TVOC,
// calibrated soil moisture, and ultrasonic tank distance, all fed
// into the shared sensor snapshot once per cycle.
package sensing

import (
	"context"
	"log"
	"time"

	"github.com/agsys/greenhouse-controller/internal/config"
	"github.com/agsys/greenhouse-controller/internal/hal"
	"github.com/agsys/greenhouse-controller/internal/metrics"
	"github.com/agsys/greenhouse-controller/internal/state"
)

// Period is the sensing task's cycle length.
const Period = 2 * time.Second

// Watchdog is fed once per cycle; satisfied by *watchdog.Watchdog.
type Watchdog interface {
	Pet(task string)
}

// Task owns the sensor bus and the shared state it writes to.
type Task struct {
	bus     hal.SensorBus
	shared  *state.Shared
	cfg     *config.Store
	wd      Watchdog
}

func New(bus hal.SensorBus, shared *state.Shared, cfg *config.Store, wd Watchdog) *Task {
	return &Task{bus: bus, shared: shared, cfg: cfg, wd: wd}
}

// Run blocks, sampling every Period until ctx is canceled.
func (t *Task) Run(ctx context.Context) error {
	ticker := time.NewTicker(Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.sampleOnce(ctx)
		}
	}
}

func (t *Task) sampleOnce(ctx context.Context) {
	prev := t.shared.Sensors.Load()
	next := prev

	if tempC, humPct, err := t.bus.ReadTempHumidity(ctx); err != nil {
		log.Printf("sensing: temp/humidity read failed, retaining previous: %v", err)
		metrics.SensorErrors.WithLabelValues("temp_humidity").Inc()
	} else {
		next.TempC, next.HumPct = tempC, humPct
	}

	if eco2, tvoc, ok, err := t.bus.ReadAirQuality(ctx); err != nil {
		log.Printf("sensing: air quality read failed, retaining previous: %v", err)
		metrics.SensorErrors.WithLabelValues("air_quality").Inc()
	} else if ok {
		next.ECO2PPM, next.TVOCPPB = eco2, tvoc
	}

	settings := t.cfg.LoadSettings()

	if raw, err := t.bus.ReadSoilRaw(ctx); err != nil {
		log.Printf("sensing: soil read failed, retaining previous: %v", err)
		metrics.SensorErrors.WithLabelValues("soil").Inc()
	} else {
		next.SoilPct = soilRawToPercent(raw, settings.CalAirRaw, settings.CalWaterRaw)
	}

	if cm, timedOut, err := t.bus.MeasureDistanceCM(ctx); err != nil {
		log.Printf("sensing: ultrasonic read failed, retaining previous: %v", err)
		metrics.SensorErrors.WithLabelValues("ultrasonic").Inc()
	} else if timedOut {
		// Fail-safe: assume the tank is empty so control blocks the pump.
		next.DistanceCM = settings.TankEmptyDist
	} else {
		next.DistanceCM = cm
	}

	next.HasWater = next.DistanceCM < settings.TankEmptyDist
	next.TankLevelPct = tankLevelPercent(next.DistanceCM, settings.TankFullDist, settings.TankEmptyDist)
	next.SampledAt = time.Now()

	t.shared.Sensors.Store(next)

	if t.wd != nil {
		t.wd.Pet("sensing")
	}
}

// soilRawToPercent maps a raw ADC count to a percentage, clamped to
// the calibrated [water_raw, air_raw] range (or its reverse, if the
// calibration happens to have water_raw > air_raw) so that air_raw
// maps to 0% and water_raw maps to 100%.
func soilRawToPercent(raw, airRaw, waterRaw int) float64 {
	lo, hi := waterRaw, airRaw
	reversed := false
	if lo > hi {
		lo, hi = hi, lo
		reversed = true
	}
	if hi == lo {
		return 0
	}
	clamped := raw
	if clamped < lo {
		clamped = lo
	}
	if clamped > hi {
		clamped = hi
	}
	// Unreversed: airRaw (hi) -> 0%, waterRaw (lo) -> 100%.
	pct := 100 * float64(hi-clamped) / float64(hi-lo)
	if reversed {
		pct = 100 - pct
	}
	return pct
}

// tankLevelPercent maps distance to a fill percentage: tank_full_dist
// (closest to the sensor) is 100%, tank_empty_dist is 0%.
func tankLevelPercent(distanceCM, fullDist, emptyDist float64) float64 {
	d := distanceCM
	if d < fullDist {
		d = fullDist
	}
	if d > emptyDist {
		d = emptyDist
	}
	if emptyDist == fullDist {
		return 0
	}
	return 100 * (emptyDist - d) / (emptyDist - fullDist)
}

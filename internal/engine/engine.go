// Package engine provides the core logic for the greenhouse node,
// running the sensing, control, interface, and connectivity tasks
// under one cancellable context.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agsys/greenhouse-controller/internal/button"
	"github.com/agsys/greenhouse-controller/internal/config"
	"github.com/agsys/greenhouse-controller/internal/connectivity"
	"github.com/agsys/greenhouse-controller/internal/control"
	"github.com/agsys/greenhouse-controller/internal/display"
	"github.com/agsys/greenhouse-controller/internal/hal/sim"
	"github.com/agsys/greenhouse-controller/internal/identity"
	"github.com/agsys/greenhouse-controller/internal/metrics"
	mqttpkg "github.com/agsys/greenhouse-controller/internal/mqttclient"
	"github.com/agsys/greenhouse-controller/internal/ota"
	"github.com/agsys/greenhouse-controller/internal/portal"
	"github.com/agsys/greenhouse-controller/internal/sensing"
	"github.com/agsys/greenhouse-controller/internal/spool"
	"github.com/agsys/greenhouse-controller/internal/state"
	"github.com/agsys/greenhouse-controller/internal/watchdog"
)

// Config holds engine configuration.
type Config struct {
	ConfigPath      string
	SpoolDir        string
	Simulate        bool
	FirmwareVersion string
	MQTT            mqttpkg.Config
	NTPServers      []string
}

// DefaultConfig returns default engine configuration.
func DefaultConfig() Config {
	return Config{
		ConfigPath:      "/var/lib/greenhouse/node.db",
		SpoolDir:        "/var/lib/greenhouse/spool",
		FirmwareVersion: "1.0.0",
		MQTT:            mqttpkg.DefaultConfig(),
		NTPServers:      []string{"pool.ntp.org:123", "time.nist.gov:123"},
	}
}

// Engine owns the four cooperative tasks and the infrastructure they
// share: the bbolt-backed settings store, the offline telemetry
// spool, the watchdog, and the OTA manager.
type Engine struct {
	config Config
	store  *config.Store
	sp     *spool.Spool
	wd     *watchdog.Watchdog
	otaMgr *ota.Manager
	shared *state.Shared

	deviceID string

	sensing      *sensing.Task
	control      *control.Task
	displayTask  *display.Task
	buttonTask   *button.Task
	connectivity *connectivity.Task

	cancelRun context.CancelFunc
}

// New wires the node together. With cfg.Simulate set it backs every
// hal interface with the in-memory fakes in hal/sim; a real board
// target would supply its own hal implementations here instead, but
// none ships in this repository, so Simulate is required for now.
func New(cfg Config) (*Engine, error) {
	if !cfg.Simulate {
		return nil, fmt.Errorf("no real hardware hal implementation is wired in; run with --simulate")
	}

	store, err := config.Open(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("open config store: %w", err)
	}

	sp := spool.Open(cfg.SpoolDir)
	if sp.Disabled() {
		log.Printf("engine: offline spool at %s is disabled, telemetry will not survive a reboot while offline", cfg.SpoolDir)
	}

	deviceID := identity.Load(store)
	log.Printf("engine: device identity %s", deviceID)

	wd := watchdog.New(func(task string) {
		log.Printf("engine: watchdog miss on task %q", task)
	})

	bus := sim.New()
	dev := sim.NewDisplay()
	btn := sim.NewButton()
	wifi := sim.NewWifi("")
	fw := sim.NewFirmware(true)

	otaMgr := ota.New(ota.DefaultConfig(), fw, store, wd)

	shared := state.New()

	e := &Engine{
		config:   cfg,
		store:    store,
		sp:       sp,
		wd:       wd,
		otaMgr:   otaMgr,
		shared:   shared,
		deviceID: deviceID,

		sensing:     sensing.New(bus, shared, store, wd),
		control:     control.New(bus, shared, store, wd),
		displayTask: display.New(dev, shared, wd),
		buttonTask:  button.New(btn, shared, wd),
	}

	connCfg := connectivity.Config{
		DeviceID:        deviceID,
		FirmwareVersion: cfg.FirmwareVersion,
		MQTT:            cfg.MQTT,
		NTPServers:      cfg.NTPServers,
	}
	e.connectivity = connectivity.New(connCfg, wifi, store, sp, otaMgr, shared, wd, func() (*portal.Portal, error) {
		return portal.New()
	})

	return e, nil
}

// Run starts all four tasks under one errgroup and blocks until ctx is
// canceled or one of the tasks returns an error. It first runs the
// boot-verification check, since a rollback decision must be made
// before the connectivity task starts trying to reach the broker.
func (e *Engine) Run(ctx context.Context) error {
	action, err := e.otaMgr.CheckBootHealth(ctx)
	if err != nil {
		log.Printf("engine: boot health check failed, continuing on current image: %v", err)
	}
	switch action {
	case ota.BootActionRollback:
		log.Println("engine: rolled back to previous firmware image after repeated boot failure")
	case ota.BootActionBestEffort:
		log.Println("engine: crash threshold reached with no rollback slot, continuing best-effort")
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancelRun = cancel
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return e.sensing.Run(gctx) })
	g.Go(func() error { return e.control.Run(gctx) })
	g.Go(func() error { return e.displayTask.Run(gctx) })
	g.Go(func() error { return e.buttonTask.Run(gctx) })
	g.Go(func() error { return e.connectivity.Run(gctx) })
	g.Go(func() error { return e.watchdogLoop(gctx) })
	g.Go(func() error { return e.metricsLoop(gctx) })

	log.Println("engine: started")
	err = g.Wait()
	log.Println("engine: stopped")
	return err
}

// Stop cancels the running tasks and closes the engine's resources.
// It is safe to call after Run has already returned on its own.
func (e *Engine) Stop() error {
	if e.cancelRun != nil {
		e.cancelRun()
	}
	if err := e.store.Close(); err != nil {
		return fmt.Errorf("close config store: %w", err)
	}
	return nil
}

// watchdogLoop checks every registered task's liveness at a cadence
// well inside the watchdog timeout, so a missed pet is caught with
// margin to spare.
func (e *Engine) watchdogLoop(ctx context.Context) error {
	ticker := time.NewTicker(watchdog.Timeout / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.wd.Check()
		}
	}
}

// metricsLoop republishes the current shared state into the
// Prometheus gauges on a fixed cadence, decoupling metrics scrape
// freshness from the sensing/control task periods.
func (e *Engine) metricsLoop(ctx context.Context) error {
	ticker := time.NewTicker(sensing.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sensors := e.shared.Sensors.Load()
			actuators := e.shared.Actuators.Load()
			metrics.TempC.Set(sensors.TempC)
			metrics.HumPct.Set(sensors.HumPct)
			metrics.SoilPct.Set(sensors.SoilPct)
			metrics.TankLevelPct.Set(sensors.TankLevelPct)
			metrics.SetActuators(actuators.Pump, actuators.Fan, actuators.Heater)
		}
	}
}

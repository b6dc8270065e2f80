// Package connectivity is the dominant complexity in this repository:
// the provisioning state machine, the TLS/MQTT session with its own
// reconnect cadence, JSON command dispatch, telemetry publication,
// and the offline-spool drain, all run from one cooperative task so
// that none of it can block the sensing/control loop.
package connectivity

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/agsys/greenhouse-controller/internal/config"
	"github.com/agsys/greenhouse-controller/internal/hal"
	"github.com/agsys/greenhouse-controller/internal/metrics"
	mqttpkg "github.com/agsys/greenhouse-controller/internal/mqttclient"
	"github.com/agsys/greenhouse-controller/internal/ota"
	"github.com/agsys/greenhouse-controller/internal/portal"
	"github.com/agsys/greenhouse-controller/internal/protocol"
	"github.com/agsys/greenhouse-controller/internal/spool"
	"github.com/agsys/greenhouse-controller/internal/state"
	"github.com/agsys/greenhouse-controller/internal/timesync"
	"github.com/agsys/greenhouse-controller/internal/watchdog"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Tuning constants, named exactly as in this repository's component
// design for connectivity.
const (
	SavedCredentialTimeout = 10 * time.Second
	PortalTimeout          = portal.Timeout
	SelfHealReconnect      = 30 * time.Second
	MQTTReconnectCadence   = 5 * time.Second
	TelemetryPeriod        = 5 * time.Second
	RAMBatchCap            = 50
	Tick                   = 1 * time.Second
)

type provisioningState int

const (
	stateIdle provisioningState = iota
	stateConnectSaved
	stateOffline
	stateOnline
	statePortal
)

// Config bundles everything the task needs to build a broker session
// and locate its firmware image.
type Config struct {
	DeviceID        string
	FirmwareVersion string
	MQTT            mqttpkg.Config
	NTPServers      []string
}

// Task is the connectivity task. One instance owns the MQTT client,
// the portal lifecycle, the telemetry RAM batch, and the spool.
type Task struct {
	cfg    Config
	wifi   hal.WifiLink
	store  *config.Store
	sp     *spool.Spool
	otaMgr *ota.Manager
	shared *state.Shared
	wd     *watchdog.Watchdog

	newPortal func() (*portal.Portal, error)

	mu           sync.Mutex
	mqttClient   *mqttpkg.Client
	ramBatch     []string
	lastWifiTry  time.Time
	lastMQTTTry  time.Time
	lastTelem    time.Time
	timeSynced   bool
	state        provisioningState
	portalCancel context.CancelFunc
	portalDone   chan struct{}
}

func New(cfg Config, wifi hal.WifiLink, store *config.Store, sp *spool.Spool, otaMgr *ota.Manager, shared *state.Shared, wd *watchdog.Watchdog, newPortal func() (*portal.Portal, error)) *Task {
	return &Task{
		cfg:       cfg,
		wifi:      wifi,
		store:     store,
		sp:        sp,
		otaMgr:    otaMgr,
		shared:    shared,
		wd:        wd,
		newPortal: newPortal,
		state:     stateIdle,
	}
}

// Run is the cooperative task entry point: one tick per Tick,
// yielding at the end of every cycle, never blocking the caller
// beyond a single tick's worth of non-blocking bookkeeping. Long
// operations (wifi connect, MQTT TLS handshake, OTA download) are
// themselves bounded and watchdog-exempt, but Run never waits on a
// portal session synchronously — it only polls portalDone.
func (t *Task) Run(ctx context.Context) error {
	ticker := time.NewTicker(Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.tick(ctx)
			if t.wd != nil {
				t.wd.Pet("connectivity")
			}
		}
	}
}

func (t *Task) tick(ctx context.Context) {
	t.handlePortalIntents(ctx)

	switch t.state {
	case stateIdle:
		t.tryConnectSaved(ctx)
	case stateOffline:
		t.maybeSelfHeal(ctx)
	case stateOnline:
		t.maintainOnline(ctx)
	case statePortal:
		t.pollPortal(ctx)
	}

	t.runTelemetryCycle()
}

// --- provisioning state machine ---

func (t *Task) tryConnectSaved(ctx context.Context) {
	t.state = stateConnectSaved
	ssid, pass, ok := t.savedCredentials()
	if !ok {
		log.Println("connectivity: no saved credentials, starting offline")
		t.setWifiUp(false)
		t.state = stateOffline
		return
	}

	cctx, cancel := context.WithTimeout(ctx, SavedCredentialTimeout)
	defer cancel()
	if err := t.wifi.Connect(cctx, ssid, pass); err != nil {
		log.Printf("connectivity: saved-credential connect failed, remaining offline: %v", err)
		t.setWifiUp(false)
		t.state = stateOffline
		return
	}
	t.setWifiUp(true)
	t.state = stateOnline
	t.lastWifiTry = time.Now()
}

func (t *Task) maybeSelfHeal(ctx context.Context) {
	if time.Since(t.lastWifiTry) < SelfHealReconnect {
		return
	}
	t.lastWifiTry = time.Now()
	ssid, pass, ok := t.savedCredentials()
	if !ok {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, SavedCredentialTimeout)
	defer cancel()
	if err := t.wifi.Connect(cctx, ssid, pass); err != nil {
		log.Printf("connectivity: self-healing reconnect failed: %v", err)
		return
	}
	log.Println("connectivity: self-healing reconnect succeeded")
	t.setWifiUp(true)
	t.state = stateOnline
}

func (t *Task) handlePortalIntents(ctx context.Context) {
	if t.state != statePortal && t.shared.Intents.ConsumeReconfigure() {
		t.startPortal(ctx)
		return
	}
	if t.state == statePortal && t.shared.Intents.ConsumeStopPortal() {
		t.stopPortal()
	}
}

func (t *Task) startPortal(ctx context.Context) {
	p, err := t.newPortal()
	if err != nil {
		log.Printf("connectivity: failed to start portal: %v", err)
		return
	}
	pctx, cancel := context.WithCancel(ctx)
	t.portalCancel = cancel
	t.portalDone = make(chan struct{}, 1)
	t.state = statePortal
	t.setPortalActive(true)

	go func() {
		creds, ok := p.Run(pctx)
		if ok {
			t.onPortalSubmission(creds)
		}
		t.portalDone <- struct{}{}
	}()
}

func (t *Task) stopPortal() {
	if t.portalCancel != nil {
		t.portalCancel()
	}
}

func (t *Task) pollPortal(ctx context.Context) {
	select {
	case <-t.portalDone:
		t.setPortalActive(false)
		t.state = stateIdle
	default:
	}
}

func (t *Task) onPortalSubmission(creds portal.Credentials) {
	t.store.PutString("wifi_ssid", creds.SSID)
	t.store.PutString("wifi_password", creds.Password)
	log.Printf("connectivity: new credentials submitted for SSID %q", creds.SSID)
}

func (t *Task) savedCredentials() (ssid, password string, ok bool) {
	ssid, ok = t.store.GetString("wifi_ssid")
	if !ok || ssid == "" {
		return "", "", false
	}
	password, _ = t.store.GetString("wifi_password")
	return ssid, password, true
}

// --- time sync + MQTT session ---

func (t *Task) maintainOnline(ctx context.Context) {
	if !t.timeSynced {
		t.syncTime()
		if !t.timeSynced {
			return // defer MQTT until time is plausible, per TLS validation requirement
		}
	}

	if t.mqttClient == nil {
		t.mqttClient = t.buildMQTTClient()
		if t.mqttClient == nil {
			return // retry building the client next tick
		}
	}
	if t.mqttClient.IsConnected() {
		return
	}
	if time.Since(t.lastMQTTTry) < MQTTReconnectCadence {
		return
	}
	t.lastMQTTTry = time.Now()
	metrics.MQTTReconnects.Inc()

	if err := t.mqttClient.Connect(); err != nil {
		log.Printf("connectivity: mqtt connect failed, will retry in %s: %v", MQTTReconnectCadence, err)
		t.setMQTTUp(false)
		return
	}
	log.Println("connectivity: mqtt connected")
	t.setMQTTUp(true)
	t.otaMgr.OnMQTTConnected()
	t.maybePublishRollbackAlert()
}

func (t *Task) syncTime() {
	now := time.Now()
	if !needsTimeSync(now) {
		t.timeSynced = true
		return
	}
	synced, err := syncTimeFromServers(t.cfg.NTPServers)
	if err != nil {
		log.Printf("connectivity: ntp sync failed, will retry next cycle: %v", err)
		return
	}
	_ = synced // a real target would call settimeofday(2) or equivalent here
	t.timeSynced = true
}

func (t *Task) buildMQTTClient() *mqttpkg.Client {
	cfg := t.cfg.MQTT
	cfg.ClientID = t.cfg.DeviceID
	client, err := mqttpkg.New(cfg, t.cfg.DeviceID, t.onCommandMessage, t.onConnectionLost)
	if err != nil {
		log.Printf("connectivity: failed to build mqtt client: %v", err)
	}
	return client
}

func (t *Task) onConnectionLost(_ mqtt.Client, err error) {
	log.Printf("connectivity: mqtt connection lost: %v", err)
	t.setMQTTUp(false)
}

func (t *Task) maybePublishRollbackAlert() {
	if !t.otaMgr.RollbackAlertPending() {
		return
	}
	alert := protocol.Alert{
		Alert:     protocol.AlertRollbackExecuted,
		Message:   "firmware rolled back after repeated boot failure",
		Timestamp: time.Now().Unix(),
	}
	encoded, err := alert.Encode()
	if err != nil {
		log.Printf("connectivity: failed to encode rollback alert: %v", err)
		return
	}
	if t.mqttClient.PublishAlert(encoded) {
		t.otaMgr.ClearRollbackAlert()
	}
}

// --- command dispatch ---

func (t *Task) onCommandMessage(_ mqtt.Client, msg mqtt.Message) {
	cmd, err := protocol.ParseCommand(msg.Payload())
	if err != nil {
		log.Printf("connectivity: dropping command payload: %v", err)
		return
	}
	t.dispatch(*cmd)
}

func (t *Task) dispatch(cmd protocol.Command) {
	// Mode is applied before overrides, matching the field-iteration
	// order this repository's ordering guarantees require.
	if cmd.Mode != nil {
		actuators := t.shared.Actuators.Load()
		actuators.Mode = *cmd.Mode
		if *cmd.Mode == state.ModeAuto {
			actuators.OverridePump, actuators.OverrideFan, actuators.OverrideHeater = false, false, false
		}
		t.shared.Actuators.Store(actuators)
	}

	actuators := t.shared.Actuators.Load()
	if actuators.Mode == state.ModeManual {
		changed := false
		if cmd.Pump != nil {
			actuators.OverridePump = *cmd.Pump
			changed = true
		}
		if cmd.Fan != nil {
			actuators.OverrideFan = *cmd.Fan
			changed = true
		}
		if cmd.Heater != nil {
			actuators.OverrideHeater = *cmd.Heater
			changed = true
		}
		if changed {
			t.shared.Actuators.Store(actuators)
		}
	}

	cur := t.store.LoadSettings()
	next, changed := cmd.ApplySettings(cur)
	if changed {
		if err := t.store.SaveSettings(next); err != nil {
			log.Printf("connectivity: rejected invalid settings update: %v", err)
		}
	}

	if cmd.UpdateURL != nil && *cmd.UpdateURL != "" {
		go func(url string) {
			if err := t.otaMgr.Download(context.Background(), url); err != nil {
				log.Printf("connectivity: OTA download failed, continuing on current image: %v", err)
			}
		}(*cmd.UpdateURL)
	}
}

// --- telemetry pipeline + offline drain ---

func (t *Task) runTelemetryCycle() {
	if time.Since(t.lastTelem) < TelemetryPeriod {
		return
	}
	t.lastTelem = time.Now()

	sensors := t.shared.Sensors.Load()
	actuators := t.shared.Actuators.Load()
	tel := protocol.NewTelemetry(t.cfg.DeviceID, t.cfg.FirmwareVersion, time.Now().Unix(), sensors, actuators)
	record, err := tel.Encode()
	if err != nil {
		log.Printf("connectivity: failed to encode telemetry: %v", err)
		return
	}

	conn := t.shared.Connectivity.Load()
	if conn.MQTTUp && t.mqttClient != nil && t.mqttClient.PublishData(record) {
		t.flushRAMBatch()
		t.drainOffline()
		return
	}

	t.appendRAMBatch(record)
}

func (t *Task) appendRAMBatch(record string) {
	t.mu.Lock()
	t.ramBatch = append(t.ramBatch, record)
	depth := len(t.ramBatch)
	full := depth >= RAMBatchCap
	t.mu.Unlock()

	metrics.SpoolDepth.Set(float64(depth))

	if full {
		t.flushRAMBatch()
	}
}

func (t *Task) flushRAMBatch() {
	t.mu.Lock()
	batch := t.ramBatch
	t.ramBatch = nil
	t.mu.Unlock()

	metrics.SpoolDepth.Set(0)

	if len(batch) == 0 {
		return
	}
	if err := t.sp.AppendBatch(batch); err != nil {
		log.Printf("connectivity: failed to flush telemetry batch to spool: %v", err)
	}
}

func (t *Task) drainOffline() {
	published, err := t.sp.Drain(func(record string) bool {
		return t.mqttClient.PublishData(record)
	})
	if err != nil {
		log.Printf("connectivity: offline drain error: %v", err)
		return
	}
	if published > 0 {
		log.Printf("connectivity: drained %d offline telemetry records", published)
	}
}

// --- shared-state helpers ---

func (t *Task) setWifiUp(up bool) {
	conn := t.shared.Connectivity.Load()
	conn.WifiUp = up
	if !up {
		conn.MQTTUp = false
	}
	t.shared.Connectivity.Store(conn)
}

func (t *Task) setMQTTUp(up bool) {
	conn := t.shared.Connectivity.Load()
	conn.MQTTUp = up
	t.shared.Connectivity.Store(conn)
}

func (t *Task) setPortalActive(active bool) {
	conn := t.shared.Connectivity.Load()
	conn.PortalActive = active
	t.shared.Connectivity.Store(conn)
}

func needsTimeSync(now time.Time) bool {
	return !plausible(now)
}

// plausible and syncTimeFromServers are indirected through package
// vars so tests can stub NTP behavior without touching the network.
var plausible = timesync.Plausible

var syncTimeFromServers = timesync.SyncFromServers

// Package ota implements the firmware download and boot-verification
// protocol: a config struct, a mutex-guarded manager, a single HTTPS
// image pulled for the device it runs on, and a crash counter checked
// at boot rather than a chunk-ack count checked mid-transfer.
package ota

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/agsys/greenhouse-controller/internal/config"
	"github.com/agsys/greenhouse-controller/internal/hal"
	"github.com/agsys/greenhouse-controller/internal/longop"
	"github.com/agsys/greenhouse-controller/internal/metrics"
	"github.com/agsys/greenhouse-controller/internal/watchdog"
)

// RollbackThreshold is the number of unverified boots that triggers a
// rollback to the previous firmware slot.
const RollbackThreshold = 3

// Config holds OTA manager configuration.
type Config struct {
	DownloadTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{DownloadTimeout: 5 * time.Minute}
}

// BootAction is what CheckBootHealth decided should happen at this
// boot.
type BootAction int

const (
	BootActionContinue BootAction = iota // crash_count incremented, proceed normally
	BootActionRollback                   // rolled back to previous slot, rebooting
	BootActionBestEffort                  // crash_count >= threshold but no rollback slot; reset and continue
)

// Manager owns the firmware writer, the boot-health record, and the
// HTTP client used for downloads.
type Manager struct {
	cfg   Config
	fw    hal.Firmware
	store *config.Store
	wd    *watchdog.Watchdog
	httpc *http.Client

	// rollbackAlertPending mirrors config.BootHealth.RollbackHappened
	// in memory so the connectivity task can ask "do I owe an alert?"
	// without re-reading the store every cycle.
	rollbackAlertPending bool

	// downloading guards against two overlapping writes to the same
	// inactive firmware slot — a duplicate or redelivered update_url
	// command must not race the transfer already in flight.
	downloading atomic.Bool
}

func New(cfg Config, fw hal.Firmware, store *config.Store, wd *watchdog.Watchdog) *Manager {
	return &Manager{
		cfg:   cfg,
		fw:    fw,
		store: store,
		wd:    wd,
		httpc: &http.Client{Timeout: cfg.DownloadTimeout},
	}
}

// CheckBootHealth implements the boot-verification protocol's steps
// 1-3: read crash_count; if it has reached RollbackThreshold, either
// roll back (clearing the counter and setting rollback_happened) or,
// with no rollback slot available, reset the counter and continue
// best-effort; otherwise increment the counter for this boot attempt.
// Must be called exactly once, early in startup, before the
// connectivity task begins trying to reach the broker.
func (m *Manager) CheckBootHealth(ctx context.Context) (BootAction, error) {
	health := m.store.LoadBootHealth()

	if health.CrashCount >= RollbackThreshold {
		if m.fw.HasRollbackSlot() {
			if err := m.fw.Rollback(ctx); err != nil {
				return BootActionContinue, fmt.Errorf("rollback failed: %w", err)
			}
			health.CrashCount = 0
			health.RollbackHappened = true
			m.store.SaveBootHealth(health)
			m.rollbackAlertPending = true
			return BootActionRollback, nil
		}
		health.CrashCount = 0
		m.store.SaveBootHealth(health)
		return BootActionBestEffort, nil
	}

	health.CrashCount++
	m.store.SaveBootHealth(health)
	return BootActionContinue, nil
}

// RollbackAlertPending reports whether a ROLLBACK_EXECUTED alert
// still needs to be published for a previous rollback, reflecting
// both an in-memory flag set during this boot's CheckBootHealth and a
// prior boot's unpublished rollback recorded in the store.
func (m *Manager) RollbackAlertPending() bool {
	if m.rollbackAlertPending {
		return true
	}
	return m.store.LoadBootHealth().RollbackHappened
}

// ClearRollbackAlert clears rollback_happened in the store. The
// caller must only call this after the alert publish call itself
// reported success — the at-most-once-alert invariant.
func (m *Manager) ClearRollbackAlert() {
	health := m.store.LoadBootHealth()
	health.RollbackHappened = false
	m.store.SaveBootHealth(health)
	m.rollbackAlertPending = false
}

// OnMQTTConnected implements step 4 of the boot-verification
// protocol: a successful MQTT connection is the liveness proof that
// clears the crash counter.
func (m *Manager) OnMQTTConnected() {
	health := m.store.LoadBootHealth()
	if health.CrashCount != 0 {
		health.CrashCount = 0
		m.store.SaveBootHealth(health)
	}
}

// Download streams the image at url into the inactive firmware slot.
// It follows redirects (http.Client's default policy already does
// this) and runs the transfer as a long operation: the watchdog is
// de-registered for the connectivity task for the duration and
// re-registered unconditionally afterward, since a multi-megabyte
// HTTPS transfer can exceed the watchdog timeout many times over.
func (m *Manager) Download(ctx context.Context, url string) error {
	if !m.downloading.CompareAndSwap(false, true) {
		return fmt.Errorf("OTA download already in progress")
	}
	defer m.downloading.Store(false)

	downloadID := uuid.New().String()
	log.Printf("ota[%s]: starting download from %s", downloadID, url)

	err := longop.Run(m.wd, "connectivity", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build OTA request: %w", err)
		}
		resp, err := m.httpc.Do(req)
		if err != nil {
			return fmt.Errorf("OTA download request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("OTA server returned status %d", resp.StatusCode)
		}

		if err := m.fw.WriteImage(ctx, resp.Body); err != nil {
			return fmt.Errorf("write firmware image: %w", err)
		}
		log.Printf("ota[%s]: wrote firmware image from %s", downloadID, url)
		return nil
	})
	if err != nil {
		metrics.OTAFailures.Inc()
	}
	return err
}

package ota

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/agsys/greenhouse-controller/internal/config"
	"github.com/agsys/greenhouse-controller/internal/hal/sim"
)

func newTestManager(t *testing.T, hasRollbackSlot bool) (*Manager, *config.Store, *sim.Firmware) {
	t.Helper()
	store, err := config.Open(filepath.Join(t.TempDir(), "cfg.db"))
	if err != nil {
		t.Fatalf("config.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	fw := sim.NewFirmware(hasRollbackSlot)
	return New(DefaultConfig(), fw, store, nil), store, fw
}

// TestRollbackAfterThreeCrashesScenario is the literal end-to-end
// scenario: boots 1-3 raise crash_count to 1,2,3; boot 4 rolls back,
// sets rollback_happened, and resets crash_count.
func TestRollbackAfterThreeCrashesScenario(t *testing.T) {
	m, store, fw := newTestManager(t, true)
	ctx := context.Background()

	for boot := 1; boot <= 3; boot++ {
		action, err := m.CheckBootHealth(ctx)
		if err != nil {
			t.Fatalf("boot %d: CheckBootHealth: %v", boot, err)
		}
		if action != BootActionContinue {
			t.Fatalf("boot %d: action = %v, want Continue", boot, action)
		}
		got := store.LoadBootHealth().CrashCount
		if int(got) != boot {
			t.Fatalf("boot %d: crash_count = %d, want %d", boot, got, boot)
		}
	}

	action, err := m.CheckBootHealth(ctx)
	if err != nil {
		t.Fatalf("boot 4: CheckBootHealth: %v", err)
	}
	if action != BootActionRollback {
		t.Fatalf("boot 4: action = %v, want Rollback", action)
	}
	if !fw.RolledBack {
		t.Fatal("boot 4 should have invoked the firmware rollback")
	}
	health := store.LoadBootHealth()
	if health.CrashCount != 0 {
		t.Fatalf("crash_count after rollback = %d, want 0", health.CrashCount)
	}
	if !health.RollbackHappened {
		t.Fatal("rollback_happened should be set after a rollback")
	}
	if !m.RollbackAlertPending() {
		t.Fatal("a rollback alert should be pending immediately after rollback")
	}
}

func TestBestEffortWhenNoRollbackSlot(t *testing.T) {
	m, store, _ := newTestManager(t, false)
	ctx := context.Background()

	store.SaveBootHealth(config.BootHealth{CrashCount: 3})

	action, err := m.CheckBootHealth(ctx)
	if err != nil {
		t.Fatalf("CheckBootHealth: %v", err)
	}
	if action != BootActionBestEffort {
		t.Fatalf("action = %v, want BestEffort", action)
	}
	if store.LoadBootHealth().CrashCount != 0 {
		t.Fatal("crash_count should still be reset even without a rollback slot")
	}
}

func TestOnMQTTConnectedClearsCrashCount(t *testing.T) {
	m, store, _ := newTestManager(t, true)
	store.SaveBootHealth(config.BootHealth{CrashCount: 2})

	m.OnMQTTConnected()

	if store.LoadBootHealth().CrashCount != 0 {
		t.Fatal("a successful MQTT connection must clear crash_count")
	}
}

// TestRollbackAlertAtMostOnce verifies the invariant: rb_happened is
// cleared iff the caller reports the publish succeeded, and once
// cleared RollbackAlertPending returns false.
func TestRollbackAlertAtMostOnce(t *testing.T) {
	m, store, _ := newTestManager(t, true)
	store.SaveBootHealth(config.BootHealth{RollbackHappened: true})

	if !m.RollbackAlertPending() {
		t.Fatal("expected a pending alert from the persisted flag")
	}

	m.ClearRollbackAlert()

	if m.RollbackAlertPending() {
		t.Fatal("alert should no longer be pending after ClearRollbackAlert")
	}
	if store.LoadBootHealth().RollbackHappened {
		t.Fatal("rb_happened should be cleared in the store")
	}
}

func TestDownloadWritesResponseBodyToFirmwareSlot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("firmware-image-bytes"))
	}))
	defer srv.Close()

	m, _, fw := newTestManager(t, true)
	if err := m.Download(context.Background(), srv.URL); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if fw.ImageLen() != len("firmware-image-bytes") {
		t.Fatalf("ImageLen() = %d, want %d", fw.ImageLen(), len("firmware-image-bytes"))
	}
}

func TestDownloadFollowsRedirects(t *testing.T) {
	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("redirected-image"))
	}))
	defer final.Close()

	redirector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL, http.StatusFound)
	}))
	defer redirector.Close()

	m, _, fw := newTestManager(t, true)
	if err := m.Download(context.Background(), redirector.URL); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if fw.ImageLen() != len("redirected-image") {
		t.Fatalf("ImageLen() = %d, want %d", fw.ImageLen(), len("redirected-image"))
	}
}

func TestDownloadRejectsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m, _, _ := newTestManager(t, true)
	if err := m.Download(context.Background(), srv.URL); err == nil {
		t.Fatal("expected non-200 status to be reported as an error")
	}
}

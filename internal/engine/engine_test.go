package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestNewRequiresSimulateWithoutARealHALImplementation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Simulate = false
	if _, err := New(cfg); err == nil {
		t.Fatal("expected New to fail without --simulate and without a real hal implementation")
	}
}

func TestNewAndRunStartsAllTasksAndStopsCleanly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Simulate = true
	cfg.ConfigPath = filepath.Join(t.TempDir(), "node.db")
	cfg.SpoolDir = filepath.Join(t.TempDir(), "spool")
	cfg.MQTT.BrokerURL = "tls://127.0.0.1:1" // unreachable on purpose; connectivity should not block startup

	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned an error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after its context was canceled")
	}

	if err := e.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestDeviceIdentityIsStableAcrossRestarts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Simulate = true
	cfg.ConfigPath = filepath.Join(t.TempDir(), "node.db")
	cfg.SpoolDir = filepath.Join(t.TempDir(), "spool")

	e1, err := New(cfg)
	if err != nil {
		t.Fatalf("New (first boot): %v", err)
	}
	first := e1.deviceID
	if err := e1.store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	e2, err := New(cfg)
	if err != nil {
		t.Fatalf("New (second boot): %v", err)
	}
	t.Cleanup(func() { e2.store.Close() })

	if e2.deviceID != first {
		t.Fatalf("device id changed across restarts: %q -> %q", first, e2.deviceID)
	}
}

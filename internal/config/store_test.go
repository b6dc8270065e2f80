package config

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "greenhouse.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadSettingsDefaultsWhenEmpty(t *testing.T) {
	s := openTestStore(t)
	got := s.LoadSettings()
	want := Defaults()
	if got != want {
		t.Fatalf("LoadSettings() = %+v, want defaults %+v", got, want)
	}
}

func TestSaveAndLoadSettingsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	set := Defaults()
	set.TempMin = 18
	set.TempMax = 28
	set.SoilDry = 35
	set.SoilWet = 65

	if err := s.SaveSettings(set); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	got := s.LoadSettings()
	if got != set {
		t.Fatalf("LoadSettings() = %+v, want %+v", got, set)
	}
}

func TestSaveSettingsRejectsInvalid(t *testing.T) {
	s := openTestStore(t)
	bad := Defaults()
	bad.TempMin = 35
	bad.TempMax = 30

	if err := s.SaveSettings(bad); err == nil {
		t.Fatal("SaveSettings with temp_min >= temp_max should be rejected")
	}

	got := s.LoadSettings()
	if got != Defaults() {
		t.Fatalf("rejected write mutated state: %+v", got)
	}
}

func TestPutF64WearGuardSuppressesIdenticalWrite(t *testing.T) {
	s := openTestStore(t)
	s.putF64("temp_min", 20.0)
	raw1, _ := s.get("temp_min")

	// Within tolerance: should not rewrite.
	s.putF64("temp_min", 20.05)
	raw2, _ := s.get("temp_min")
	if string(raw1) != string(raw2) {
		t.Fatalf("wear guard failed to suppress write within tolerance: %s -> %s", raw1, raw2)
	}

	// Outside tolerance: should rewrite.
	s.putF64("temp_min", 21.0)
	raw3, _ := s.get("temp_min")
	if string(raw3) == string(raw2) {
		t.Fatalf("expected write beyond tolerance to change stored value")
	}
}

func TestBootHealthRoundTrip(t *testing.T) {
	s := openTestStore(t)
	h := s.LoadBootHealth()
	if h.CrashCount != 0 || h.RollbackHappened {
		t.Fatalf("initial boot health should be zero, got %+v", h)
	}

	h.CrashCount = 2
	h.RollbackHappened = true
	s.SaveBootHealth(h)

	got := s.LoadBootHealth()
	if got != h {
		t.Fatalf("LoadBootHealth() = %+v, want %+v", got, h)
	}
}

// Package config persists tunables and boot-health counters in a
// bbolt key/value store, the same embedded-database convention
// reef-pi uses for its subsystem buckets (controller/modules/.../
// manager.go calls c.Store().CreateBucket(bucket) once at startup and
// then does typed get/put through that bucket for the lifetime of the
// process).
package config

import (
	"fmt"
	"math"
	"sync"

	"go.etcd.io/bbolt"
)

const bucketName = "greenhouse"

// floatTolerance is the wear-guard comparison tolerance for float
// keys: a write is suppressed when the new value is within this
// distance of the stored one.
const floatTolerance = 0.1

// Settings is the persisted, validated configuration record. Zero
// value is never valid; use Defaults().
type Settings struct {
	TempMin        float64
	TempMax        float64
	HumMax         float64
	SoilDry        float64
	SoilWet        float64
	TankEmptyDist  float64
	TankFullDist   float64
	CalAirRaw      int
	CalWaterRaw    int
}

// Defaults returns the factory configuration, matching the defaults
// table in this repository's design document.
func Defaults() Settings {
	return Settings{
		TempMin:       20.0,
		TempMax:       30.0,
		HumMax:        75.0,
		SoilDry:       40,
		SoilWet:       70,
		TankEmptyDist: 25,
		TankFullDist:  5,
		CalAirRaw:     4095,
		CalWaterRaw:   1670,
	}
}

// Validate enforces the cross-field invariants. An invalid record
// must never be persisted.
func (s Settings) Validate() error {
	switch {
	case s.TempMin < 0 || s.TempMin > 100:
		return fmt.Errorf("temp_min out of range: %v", s.TempMin)
	case s.TempMax < 0 || s.TempMax > 100:
		return fmt.Errorf("temp_max out of range: %v", s.TempMax)
	case s.TempMin >= s.TempMax:
		return fmt.Errorf("temp_min (%v) must be < temp_max (%v)", s.TempMin, s.TempMax)
	case s.HumMax < 0 || s.HumMax > 100:
		return fmt.Errorf("hum_max out of range: %v", s.HumMax)
	case s.SoilDry < 0 || s.SoilDry > 100:
		return fmt.Errorf("soil_dry out of range: %v", s.SoilDry)
	case s.SoilWet < 0 || s.SoilWet > 100:
		return fmt.Errorf("soil_wet out of range: %v", s.SoilWet)
	case s.SoilDry >= s.SoilWet:
		return fmt.Errorf("soil_dry (%v) must be < soil_wet (%v)", s.SoilDry, s.SoilWet)
	case s.TankEmptyDist <= 0 || s.TankEmptyDist >= 1000:
		return fmt.Errorf("tank_empty_dist out of range: %v", s.TankEmptyDist)
	case s.TankFullDist <= 0 || s.TankFullDist >= 1000:
		return fmt.Errorf("tank_full_dist out of range: %v", s.TankFullDist)
	case s.TankFullDist >= s.TankEmptyDist:
		return fmt.Errorf("tank_full_dist (%v) must be < tank_empty_dist (%v)", s.TankFullDist, s.TankEmptyDist)
	}
	return nil
}

// BootHealth is the crash-counter boot-verification record described
// in the OTA rollback protocol.
type BootHealth struct {
	CrashCount       uint8
	RollbackHappened bool
}

// Store is the namespaced key/value layer over bbolt. One Store owns
// the database file for the process lifetime; command dispatch is the
// only writer of Settings, the OTA manager and boot sequence are the
// only writers of BootHealth.
type Store struct {
	db *bbolt.DB
	mu sync.Mutex
}

// Open opens (creating if necessary) the bbolt file at path and
// ensures the greenhouse bucket exists.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open config store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create greenhouse bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// LoadSettings reads the persisted configuration, falling back to
// Defaults() for any key that is absent (matching the filesystem
// failure policy in this repository's error handling design: when
// persistence has nothing to offer, fall back to defaults rather than
// fail the boot).
func (s *Store) LoadSettings() Settings {
	d := Defaults()
	out := d
	out.TempMin = s.getF64("temp_min", d.TempMin)
	out.TempMax = s.getF64("temp_max", d.TempMax)
	out.HumMax = s.getF64("hum_max", d.HumMax)
	out.SoilDry = s.getF64("soil_dry", d.SoilDry)
	out.SoilWet = s.getF64("soil_wet", d.SoilWet)
	out.TankEmptyDist = s.getF64("tank_empty", d.TankEmptyDist)
	out.TankFullDist = s.getF64("tank_full", d.TankFullDist)
	out.CalAirRaw = s.getInt("cal_air", d.CalAirRaw)
	out.CalWaterRaw = s.getInt("cal_water", d.CalWaterRaw)
	return out
}

// SaveSettings validates and persists every field, applying the
// flash-wear guard per field: a key is only rewritten if its new
// value differs from the stored value by more than floatTolerance.
func (s *Store) SaveSettings(set Settings) error {
	if err := set.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	s.putF64("temp_min", set.TempMin)
	s.putF64("temp_max", set.TempMax)
	s.putF64("hum_max", set.HumMax)
	s.putF64("soil_dry", set.SoilDry)
	s.putF64("soil_wet", set.SoilWet)
	s.putF64("tank_empty", set.TankEmptyDist)
	s.putF64("tank_full", set.TankFullDist)
	s.putInt("cal_air", set.CalAirRaw)
	s.putInt("cal_water", set.CalWaterRaw)
	return nil
}

// LoadBootHealth reads the crash-counter record.
func (s *Store) LoadBootHealth() BootHealth {
	return BootHealth{
		CrashCount:       uint8(s.getInt("crash_count", 0)),
		RollbackHappened: s.getBool("rb_happened", false),
	}
}

// SaveBootHealth persists the crash-counter record. Unlike Settings,
// BootHealth always writes (the wear guard would defeat the purpose
// of a monotonically increasing crash counter).
func (s *Store) SaveBootHealth(h BootHealth) {
	s.putInt("crash_count", int(h.CrashCount))
	s.putBool("rb_happened", h.RollbackHappened)
}

// --- typed get/put primitives, named to match the persistence
// contract in this repository's component design (get_f32/put_f32,
// get_i32/put_i32, get_u8/put_u8, get_bool/put_bool). ---

func (s *Store) getF64(key string, fallback float64) float64 {
	raw, ok := s.get(key)
	if !ok {
		return fallback
	}
	var v float64
	if _, err := fmt.Sscanf(string(raw), "%g", &v); err != nil {
		return fallback
	}
	return v
}

func (s *Store) putF64(key string, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.getLocked(key); ok {
		var curV float64
		if _, err := fmt.Sscanf(string(cur), "%g", &curV); err == nil && math.Abs(curV-v) <= floatTolerance {
			return // wear guard: unchanged within tolerance
		}
	}
	s.putLocked(key, []byte(fmt.Sprintf("%g", v)))
}

func (s *Store) getInt(key string, fallback int) int {
	raw, ok := s.get(key)
	if !ok {
		return fallback
	}
	var v int
	if _, err := fmt.Sscanf(string(raw), "%d", &v); err != nil {
		return fallback
	}
	return v
}

func (s *Store) putInt(key string, v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.getLocked(key); ok {
		var curV int
		if _, err := fmt.Sscanf(string(cur), "%d", &curV); err == nil && curV == v {
			return // wear guard: exact match for integral keys
		}
	}
	s.putLocked(key, []byte(fmt.Sprintf("%d", v)))
}

func (s *Store) getBool(key string, fallback bool) bool {
	raw, ok := s.get(key)
	if !ok {
		return fallback
	}
	return string(raw) == "1"
}

func (s *Store) putBool(key string, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.getLocked(key); ok {
		curV := string(cur) == "1"
		if curV == v {
			return
		}
	}
	val := "0"
	if v {
		val = "1"
	}
	s.putLocked(key, []byte(val))
}

// GetString and PutString expose the raw byte-string primitives for
// callers outside this package that need a key with no numeric
// wear-guard semantics, such as the persisted device identity.
func (s *Store) GetString(key string) (string, bool) {
	raw, ok := s.get(key)
	if !ok {
		return "", false
	}
	return string(raw), true
}

func (s *Store) PutString(key, v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(key, []byte(v))
}

func (s *Store) get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key)
}

func (s *Store) getLocked(key string) ([]byte, bool) {
	var out []byte
	_ = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if v := b.Get([]byte(key)); v != nil {
			out = append([]byte{}, v...)
		}
		return nil
	})
	if out == nil {
		return nil, false
	}
	return out, true
}

func (s *Store) putLocked(key string, v []byte) {
	_ = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		return b.Put([]byte(key), v)
	})
}

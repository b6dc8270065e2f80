// Package identity derives the device's stable ID. Real firmware
// reads this from a factory-fused MCU register; this repository has
// no such register available, so it derives an equivalent stable
// value from the host's machine ID the first time it runs and then
// persists it, so subsequent boots see the same ID without needing
// real hardware fuses.
package identity

import (
	"crypto/sha256"
	"fmt"
	"os"
	"strings"
)

const (
	storeKey      = "device_id"
	idLength      = 19 // "GH-" + 4 + 12
	machineIDPath = "/etc/machine-id"
)

// Store is the narrow persistence capability this package needs,
// satisfied by *config.Store.
type Store interface {
	GetString(key string) (string, bool)
	PutString(key, v string)
}

// Load returns the persisted device ID, deriving and persisting a new
// one on first run. The ID is computed once and never mutated for the
// life of the store.
func Load(s Store) string {
	if v, ok := s.GetString(storeKey); ok && len(v) == idLength {
		return v
	}
	id := derive()
	s.PutString(storeKey, id)
	return id
}

// derive computes a 19-character GH-XXXXYYYYYYYY identifier from the
// host machine ID, falling back to a fixed seed if no machine ID file
// is present (e.g. in a container without /etc/machine-id).
func derive() string {
	seed, err := os.ReadFile(machineIDPath)
	if err != nil || len(seed) == 0 {
		seed = []byte("greenhouse-controller-fallback-seed")
	}
	sum := sha256.Sum256(seed)
	hexStr := strings.ToUpper(fmt.Sprintf("%x", sum))
	// 4 hex chars + 12 hex chars, matching GH-XXXXYYYYYYYY's shape.
	return fmt.Sprintf("GH-%s%s", hexStr[0:4], hexStr[4:16])
}

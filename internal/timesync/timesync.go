// Package timesync provides the minimal SNTP client the connectivity
// task needs to get a plausible wall clock before attempting TLS:
// certificate validation requires a sane system time, and none of the
// repositories in this project's dependency pool ship an NTP client,
// so this is a deliberately small client built directly on net
// rather than a fabricated module. See this repository's design
// document for why that one corner stays on stdlib primitives.
package timesync

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// ntpEpochOffset is the number of seconds between the NTP epoch
// (1900-01-01) and the Unix epoch (1970-01-01).
const ntpEpochOffset = 2208988800

// SanityThreshold is the wall-clock value below which the system
// clock is considered implausible (i.e. "never been set"). On first
// reaching wifi_up with time below this, the connectivity task
// requests a sync before attempting MQTT.
var SanityThreshold = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

// Query performs one SNTP request/response exchange against addr
// (host:port, typically "pool.ntp.org:123") and returns the server's
// reported time.
func Query(addr string) (time.Time, error) {
	conn, err := net.DialTimeout("udp", addr, 5*time.Second)
	if err != nil {
		return time.Time{}, fmt.Errorf("dial ntp server %s: %w", addr, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	req := make([]byte, 48)
	req[0] = 0x1B // LI=0, VN=3, Mode=3 (client)
	if _, err := conn.Write(req); err != nil {
		return time.Time{}, fmt.Errorf("send ntp request to %s: %w", addr, err)
	}

	resp := make([]byte, 48)
	n, err := conn.Read(resp)
	if err != nil {
		return time.Time{}, fmt.Errorf("read ntp response from %s: %w", addr, err)
	}
	if n < 48 {
		return time.Time{}, fmt.Errorf("short ntp response from %s: %d bytes", addr, n)
	}

	secs := binary.BigEndian.Uint32(resp[40:44])
	frac := binary.BigEndian.Uint32(resp[44:48])
	unixSecs := int64(secs) - ntpEpochOffset
	nanos := int64(float64(frac) / (1 << 32) * 1e9)
	return time.Unix(unixSecs, nanos).UTC(), nil
}

// SyncFromServers tries each server in order, returning the first
// successful result. Matches the original firmware's two-server NTP
// configuration.
func SyncFromServers(servers []string) (time.Time, error) {
	var lastErr error
	for _, s := range servers {
		t, err := Query(s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("all ntp servers failed: %w", lastErr)
}

// Plausible reports whether t is past SanityThreshold.
func Plausible(t time.Time) bool {
	return t.After(SanityThreshold)
}

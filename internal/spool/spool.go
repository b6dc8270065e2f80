// Package spool implements the durable, append-only telemetry buffer
// used while the device is offline. It keeps the two-file rename
// protocol of the original firmware verbatim: a spool file accepts
// new records, and drain promotes it to a processing file by rename
// before publishing, so a reboot mid-drain can never lose or
// duplicate a record — it is either still in the spool, sitting in
// the processing file waiting to be retried, or already delivered.
package spool

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// Spool owns the two on-disk files. The zero value is not usable; use
// Open.
type Spool struct {
	dir         string
	spoolPath   string
	procPath    string
	disabled    bool
}

// Open prepares the spool rooted at dir, creating dir if needed. If
// dir cannot be created or is not writable, the spool is returned
// disabled: Append becomes a silent no-op and Drain reports nothing
// to drain, matching the "filesystem mount failure disables the
// spool for this boot" policy.
func Open(dir string) *Spool {
	s := &Spool{
		dir:       dir,
		spoolPath: filepath.Join(dir, "offline_log.txt"),
		procPath:  filepath.Join(dir, "processing.txt"),
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		s.disabled = true
	}
	return s
}

// Disabled reports whether the spool failed to mount.
func (s *Spool) Disabled() bool { return s.disabled }

// Append writes one record (without a trailing newline) to the active
// spool file. A no-op when the spool is disabled.
func (s *Spool) Append(record string) error {
	if s.disabled {
		return nil
	}
	f, err := os.OpenFile(s.spoolPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open spool for append: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(record + "\n"); err != nil {
		return fmt.Errorf("append to spool: %w", err)
	}
	return nil
}

// AppendBatch appends multiple records in one file open, used when
// the connectivity task flushes its RAM batch to disk.
func (s *Spool) AppendBatch(records []string) error {
	if s.disabled || len(records) == 0 {
		return nil
	}
	f, err := os.OpenFile(s.spoolPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open spool for append: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, r := range records {
		if _, err := w.WriteString(r + "\n"); err != nil {
			return fmt.Errorf("append to spool: %w", err)
		}
	}
	return w.Flush()
}

// Publisher publishes one telemetry record and reports success.
// Implemented by the MQTT client wrapper in production.
type Publisher func(record string) bool

// Drain runs the two-phase drain protocol described in this
// repository's offline-drain design, chain-promoting a spool file
// that accrued mid-pass rather than waiting for the next cycle:
//
//  1. If a processing file exists, iterate its lines, publishing each
//     via pub; stop at the first failure. On a complete pass, delete
//     the file.
//  2. Else if a fresh spool file exists, rename it to the processing
//     file and recurse.
//
// Drain returns the number of records successfully published.
func (s *Spool) Drain(pub Publisher) (int, error) {
	if s.disabled {
		return 0, nil
	}
	total := 0
	for {
		if _, err := os.Stat(s.procPath); err != nil {
			if _, err := os.Stat(s.spoolPath); err != nil {
				return total, nil // nothing left to drain
			}
			if err := os.Rename(s.spoolPath, s.procPath); err != nil {
				return total, fmt.Errorf("promote spool to processing: %w", err)
			}
		}
		published, err := s.drainProcessing(pub)
		total += published
		if err != nil {
			return total, err
		}
		if _, err := os.Stat(s.procPath); err == nil {
			return total, nil // stopped mid-file on a publish failure
		}
		if _, err := os.Stat(s.spoolPath); err != nil {
			return total, nil // nothing new accrued during this pass
		}
	}
}

func (s *Spool) drainProcessing(pub Publisher) (int, error) {
	f, err := os.Open(s.procPath)
	if err != nil {
		return 0, fmt.Errorf("open processing file: %w", err)
	}
	defer f.Close()

	published := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if !pub(line) {
			return published, nil // stop at first failure; retry next cycle
		}
		published++
	}
	if err := scanner.Err(); err != nil {
		return published, fmt.Errorf("read processing file: %w", err)
	}

	if err := os.Remove(s.procPath); err != nil && !os.IsNotExist(err) {
		return published, fmt.Errorf("remove drained processing file: %w", err)
	}
	return published, nil
}

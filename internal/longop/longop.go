// Package longop wraps blocking operations that must not be watched
// by the task watchdog: TLS handshakes, HTTPS firmware streaming, and
// the provisioning portal's lifetime. This is the explicit
// "long operation" envelope called for by this repository's
// re-architecture guidance — de-register before, re-register after,
// unconditionally.
package longop

import "github.com/agsys/greenhouse-controller/internal/watchdog"

// Run de-registers task from wd, invokes fn, and re-registers
// (by petting once) regardless of whether fn returned an error.
func Run(wd *watchdog.Watchdog, task string, fn func() error) error {
	if wd != nil {
		wd.Deregister(task)
	}
	err := fn()
	if wd != nil {
		wd.Pet(task)
	}
	return err
}

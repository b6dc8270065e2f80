// Package button turns the debounced physical button into an intent
// consumed by the connectivity task: "stop portal" while the portal
// is active, otherwise "start reconfiguration". The debouncing itself
// happens in the hal implementation (interrupt-driven, 200 ms on real
// hardware); this package only interprets the edge.
package button

import (
	"context"
	"time"

	"github.com/agsys/greenhouse-controller/internal/hal"
	"github.com/agsys/greenhouse-controller/internal/state"
)

// PollPeriod is how often the task checks for a pending press. It is
// much shorter than the other task periods because it only performs a
// non-blocking flag check, never I/O.
const PollPeriod = 50 * time.Millisecond

// Watchdog is fed once per cycle; satisfied by *watchdog.Watchdog.
type Watchdog interface {
	Pet(task string)
}

type Task struct {
	btn    hal.Button
	shared *state.Shared
	wd     Watchdog
}

func New(btn hal.Button, shared *state.Shared, wd Watchdog) *Task {
	return &Task{btn: btn, shared: shared, wd: wd}
}

func (t *Task) Run(ctx context.Context) error {
	ticker := time.NewTicker(PollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.poll()
			if t.wd != nil {
				t.wd.Pet("button")
			}
		}
	}
}

func (t *Task) poll() {
	if !t.btn.Requested() {
		return
	}
	if t.shared.Connectivity.Load().PortalActive {
		t.shared.Intents.RequestStopPortal()
	} else {
		t.shared.Intents.RequestReconfigure()
	}
}

// Package sim provides a deterministic fake hal implementation used
// by package tests and by `greenhouse-controller run --simulate`, one
// narrow interface with one real and one in-memory implementation
// apiece.
package sim

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/agsys/greenhouse-controller/internal/hal"
)

// Bus is an in-memory SensorBus + ActuatorBus with settable readings
// and inspectable relay state, guarded by a mutex since tests drive
// it from one goroutine while the control/sensing tasks read it from
// another.
type Bus struct {
	mu sync.Mutex

	tempC, humPct   float64
	eco2, tvoc      int
	aqOK            bool
	soilRaw         int
	distanceCM      float64
	distanceTimeout bool

	relays map[hal.RelayID]bool

	TempErr, AirErr, SoilErr, DistErr error
}

func New() *Bus {
	return &Bus{
		tempC:      22,
		humPct:     50,
		aqOK:       true,
		distanceCM: 15,
		relays:     make(map[hal.RelayID]bool),
	}
}

func (b *Bus) SetTempHumidity(tempC, humPct float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tempC, b.humPct = tempC, humPct
}

func (b *Bus) SetAirQuality(eco2, tvoc int, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.eco2, b.tvoc, b.aqOK = eco2, tvoc, ok
}

func (b *Bus) SetSoilRaw(raw int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.soilRaw = raw
}

func (b *Bus) SetDistanceCM(cm float64, timedOut bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.distanceCM, b.distanceTimeout = cm, timedOut
}

func (b *Bus) RelayState(id hal.RelayID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.relays[id]
}

func (b *Bus) ReadTempHumidity(ctx context.Context) (float64, float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.TempErr != nil {
		return 0, 0, b.TempErr
	}
	return b.tempC, b.humPct, nil
}

func (b *Bus) ReadAirQuality(ctx context.Context) (int, int, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.AirErr != nil {
		return 0, 0, false, b.AirErr
	}
	return b.eco2, b.tvoc, b.aqOK, nil
}

func (b *Bus) ReadSoilRaw(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SoilErr != nil {
		return 0, b.SoilErr
	}
	return b.soilRaw, nil
}

func (b *Bus) MeasureDistanceCM(ctx context.Context) (float64, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.DistErr != nil {
		return 0, false, b.DistErr
	}
	return b.distanceCM, b.distanceTimeout, nil
}

func (b *Bus) SetRelay(ctx context.Context, id hal.RelayID, on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.relays[id] = on
	return nil
}

// Display records the last text written to each row.
type Display struct {
	mu   sync.Mutex
	rows [4]string
}

func NewDisplay() *Display { return &Display{} }

func (d *Display) WriteRow(row int, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if row < 0 || row >= len(d.rows) {
		return nil
	}
	d.rows[row] = text
	return nil
}

func (d *Display) Row(row int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rows[row]
}

// Button lets tests inject a debounced press.
type Button struct {
	mu      sync.Mutex
	pending bool
}

func NewButton() *Button { return &Button{} }

func (b *Button) Press() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = true
}

func (b *Button) Requested() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := b.pending
	b.pending = false
	return v
}

// Wifi is an in-memory WifiLink: it connects successfully iff the
// requested SSID matches a configured known-good one, or always fails
// when ConnectErr is set.
type Wifi struct {
	mu         sync.Mutex
	up         bool
	knownSSID  string
	ConnectErr error
}

func NewWifi(knownSSID string) *Wifi {
	return &Wifi{knownSSID: knownSSID}
}

func (w *Wifi) Connect(ctx context.Context, ssid, password string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ConnectErr != nil {
		return w.ConnectErr
	}
	if w.knownSSID != "" && ssid != w.knownSSID {
		return fmt.Errorf("unknown ssid %q", ssid)
	}
	w.up = true
	return nil
}

func (w *Wifi) IsUp() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.up
}

func (w *Wifi) Disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.up = false
}

// Firmware is an in-memory Firmware implementation: it captures the
// downloaded image and can simulate the absence of a rollback slot.
type Firmware struct {
	mu            sync.Mutex
	image         bytes.Buffer
	rollbackSlot  bool
	RolledBack    bool
	WriteImageErr error
}

func NewFirmware(hasRollbackSlot bool) *Firmware {
	return &Firmware{rollbackSlot: hasRollbackSlot}
}

func (f *Firmware) WriteImage(ctx context.Context, r hal.ReadCounter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteImageErr != nil {
		return f.WriteImageErr
	}
	f.image.Reset()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			f.image.Write(buf[:n])
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func (f *Firmware) Rollback(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RolledBack = true
	return nil
}

func (f *Firmware) HasRollbackSlot() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rollbackSlot
}

func (f *Firmware) ImageLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.image.Len()
}

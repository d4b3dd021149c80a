// Package spibus shares one SPI connection between several chips.
//
// Every chip on the bus has its own chip-select line driven as a plain GPIO, so
// the underlying port must be opened without hardware chip-select handling. A
// chip owns the bus from Select until Deselect; at most one chip owns it at any
// time. Exclusivity is enforced procedurally and the types are not safe for
// concurrent use.
package spibus

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

var (
	// ErrBusy is returned by Select while another device holds the bus.
	ErrBusy = errors.New("spibus: bus held by another device")
	// ErrNotSelected is returned by Tx when the device does not hold the bus.
	ErrNotSelected = errors.New("spibus: device not selected")
)

// Bus is a SPI connection shared by devices with separate chip-select lines.
type Bus struct {
	c     conn.Conn
	owner *Device
	stats Stats
}

// Stats counts bus activity since the Bus was created.
type Stats struct {
	Selects int // Chip-select assertions
	Tx      int // Calls to conn.Conn.Tx
	Bytes   int // Bytes written
}

// New wraps an existing connection. The connection must not toggle any chip
// select on its own.
func New(c conn.Conn) *Bus {
	return &Bus{c: c}
}

// NewSPI connects to p in mode 0 with 8-bit words and chip-select handling
// disabled.
func NewSPI(p spi.Port, f physic.Frequency) (*Bus, error) {
	c, err := p.Connect(f, spi.Mode0|spi.NoCS, 8)
	if err != nil {
		return nil, fmt.Errorf("spibus: connect: %w", err)
	}
	return New(c), nil
}

// Attach registers a chip whose select line is cs and drives it inactive
// (High).
func (b *Bus) Attach(name string, cs gpio.PinOut) (*Device, error) {
	if cs == nil {
		return nil, fmt.Errorf("spibus: %s: chip select pin is required", name)
	}
	if err := cs.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("spibus: %s: release chip select: %w", name, err)
	}
	return &Device{b: b, cs: cs, name: name}, nil
}

// Owner returns the device currently holding the bus, or nil.
func (b *Bus) Owner() *Device {
	return b.owner
}

// Release deselects whichever device holds the bus. It is used to recover
// after a failed operation left a chip selected.
func (b *Bus) Release() error {
	if b.owner == nil {
		return nil
	}
	return b.owner.Deselect()
}

// Stats returns a snapshot of the activity counters.
func (b *Bus) Stats() Stats {
	return b.stats
}

// String implements conn.Resource.
func (b *Bus) String() string {
	return fmt.Sprintf("spibus.Bus{%s}", b.c)
}

// Device is one chip on a shared Bus.
type Device struct {
	b    *Bus
	cs   gpio.PinOut
	name string
}

// Select asserts the chip select (Low) and takes ownership of the bus.
func (d *Device) Select() error {
	switch d.b.owner {
	case nil:
	case d:
		return fmt.Errorf("spibus: %s: already selected", d.name)
	default:
		return fmt.Errorf("%w (%s wants it, %s has it)", ErrBusy, d.name, d.b.owner.name)
	}
	if err := d.cs.Out(gpio.Low); err != nil {
		return fmt.Errorf("spibus: %s: assert chip select: %w", d.name, err)
	}
	d.b.owner = d
	d.b.stats.Selects++
	return nil
}

// Deselect releases the chip select (High) and the bus. Deselecting a device
// that does not hold the bus is a no-op.
func (d *Device) Deselect() error {
	if d.b.owner != d {
		return nil
	}
	// Ownership is dropped even if the pin fails; callers must re-init anyway.
	d.b.owner = nil
	if err := d.cs.Out(gpio.High); err != nil {
		return fmt.Errorf("spibus: %s: release chip select: %w", d.name, err)
	}
	return nil
}

// Selected reports whether d holds the bus.
func (d *Device) Selected() bool {
	return d.b.owner == d
}

// Tx writes w and reads into r while the device holds the bus.
func (d *Device) Tx(w, r []byte) error {
	if d.b.owner != d {
		return fmt.Errorf("%w: %s", ErrNotSelected, d.name)
	}
	d.b.stats.Tx++
	d.b.stats.Bytes += len(w)
	if err := d.b.c.Tx(w, r); err != nil {
		return fmt.Errorf("spibus: %s: tx: %w", d.name, err)
	}
	return nil
}

// Transact runs a complete select, Tx, deselect cycle.
func (d *Device) Transact(w, r []byte) error {
	if err := d.Select(); err != nil {
		return err
	}
	err := d.Tx(w, r)
	if derr := d.Deselect(); err == nil {
		err = derr
	}
	return err
}

// String implements fmt.Stringer.
func (d *Device) String() string {
	return d.name
}

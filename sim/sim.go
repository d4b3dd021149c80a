// Package sim simulates the board: a shared SPI bus with a 23LC1024 SRAM and
// an ST7735 panel behind their own chip-select lines.
//
// The simulated parts implement the periph.io conn.Conn and gpio.PinOut
// interfaces, so the drivers run unmodified against them. Both chips decode
// the same protocol as the real parts and keep enough state to check what a
// real panel would show.
package sim

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
)

// ErrContention is returned by Bus.Tx when more than one chip is selected.
var ErrContention = errors.New("sim: more than one chip selected")

// Pin is a gpiotest.Pin that notifies its chip of level changes.
type Pin struct {
	*gpiotest.Pin
	onEdge func(gpio.Level)
	pwm    bool
}

// NewPin returns a pin resting at level l.
func NewPin(name string, num int, l gpio.Level) *Pin {
	return &Pin{Pin: &gpiotest.Pin{N: name, Num: num, L: l}}
}

// Out implements gpio.PinOut.
func (p *Pin) Out(l gpio.Level) error {
	p.Lock()
	prev := p.L
	p.L = l
	p.pwm = false
	p.Unlock()
	if prev != l && p.onEdge != nil {
		p.onEdge(l)
	}
	return nil
}

// PWM implements gpio.PinOut.
func (p *Pin) PWM(duty gpio.Duty, f physic.Frequency) error {
	if err := p.Pin.PWM(duty, f); err != nil {
		return err
	}
	p.Lock()
	p.pwm = true
	p.Unlock()
	return nil
}

// Duty returns the effective output duty: the PWM duty if PWM was the last
// call, otherwise 0 or gpio.DutyMax depending on the level.
func (p *Pin) Duty() gpio.Duty {
	p.Lock()
	defer p.Unlock()
	if p.pwm {
		return p.D
	}
	if p.L == gpio.High {
		return gpio.DutyMax
	}
	return 0
}

type chip interface {
	selected() bool
	exchange(w, r []byte)
}

// Bus is a simulated SPI bus. It implements conn.Conn.
type Bus struct {
	mu      sync.Mutex
	chips   []chip
	tx      int
	failIn  int
	failErr error
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{failIn: -1}
}

func (b *Bus) attach(c chip) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chips = append(b.chips, c)
}

// String implements conn.Conn.
func (b *Bus) String() string {
	return "sim.Bus"
}

// Duplex implements conn.Conn.
func (b *Bus) Duplex() conn.Duplex {
	return conn.Full
}

// Tx implements conn.Conn. Bytes go to the single selected chip; with no chip
// selected they are dropped and reads return 0xFF.
func (b *Bus) Tx(w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(r) != 0 && len(r) != len(w) {
		return fmt.Errorf("sim: read buffer of %d bytes for %d written", len(r), len(w))
	}
	if b.failIn == 0 {
		b.failIn = -1
		return b.failErr
	}
	if b.failIn > 0 {
		b.failIn--
	}
	var sel chip
	for _, c := range b.chips {
		if !c.selected() {
			continue
		}
		if sel != nil {
			return ErrContention
		}
		sel = c
	}
	b.tx++
	if sel == nil {
		for i := range r {
			r[i] = 0xFF
		}
		return nil
	}
	sel.exchange(w, r)
	return nil
}

// TxCount returns the number of successful Tx calls.
func (b *Bus) TxCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tx
}

// FailAfter makes the Tx call following the next n successful ones return
// err. It fires once.
func (b *Bus) FailAfter(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failIn = n
	b.failErr = err
}

// Board wires a bus, the two chips and the control pins the way the real
// board does.
type Board struct {
	Bus   *Bus
	SRAM  *SRAM
	Panel *Panel

	SRAMCS *Pin
	LCDCS  *Pin
	DC     *Pin
	RST    *Pin
	BL     *Pin
}

// NewBoard returns a powered-up board with both chips deselected.
func NewBoard() *Board {
	b := &Board{
		Bus:    NewBus(),
		SRAMCS: NewPin("SRAM_CS", 1, gpio.High),
		LCDCS:  NewPin("LCD_CS", 2, gpio.High),
		DC:     NewPin("DC", 3, gpio.High),
		RST:    NewPin("RST", 4, gpio.High),
		BL:     NewPin("BL", 5, gpio.Low),
	}
	b.SRAM = NewSRAM(b.SRAMCS)
	b.Panel = NewPanel(b.LCDCS, b.DC, b.RST)
	b.Bus.attach(b.SRAM)
	b.Bus.attach(b.Panel)
	return b
}

// Backlight returns the duty currently driven on the backlight pin.
func (b *Board) Backlight() gpio.Duty {
	return b.BL.Duty()
}

// Package st7735 speaks the register protocol of a ST7735 TFT controller
// driving a 160x128 RGB565 panel over SPI.
//
// The controller is written only: every transaction sets the Data/Command line,
// asserts chip select, shifts the bytes and releases chip select. The address
// window is cached so that identical windows are not reissued.
package st7735

import (
	"errors"
	"fmt"
	"image"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/flavioheleno/st7735fb/rgb565"
	"github.com/flavioheleno/st7735fb/spibus"
)

// Panel geometry.
const (
	Width  = 160
	Height = 128
	// The glass is wired 1 column and 2 rows into the controller RAM.
	ColOffset = 1
	RowOffset = 2
)

// Datasheet timing minimums. They must not be shortened.
const (
	ResetPulse     = 10 * time.Millisecond
	ResetSettle    = 120 * time.Millisecond
	SleepOutSettle = 120 * time.Millisecond
)

// Backlight range and PWM carrier.
const (
	MaxBacklight       = 255
	BacklightFrequency = 1 * physic.KiloHertz
)

// DefaultMADCTL selects landscape orientation (row/column exchange, mirrored
// columns) with RGB order.
const DefaultMADCTL = 0x60

// Instructions.
const (
	cmdSWRESET = 0x01
	cmdSLPIN   = 0x10
	cmdSLPOUT  = 0x11
	cmdINVOFF  = 0x20
	cmdINVON   = 0x21
	cmdDISPOFF = 0x28
	cmdDISPON  = 0x29
	cmdCASET   = 0x2A
	cmdRASET   = 0x2B
	cmdRAMWR   = 0x2C
	cmdMADCTL  = 0x36
	cmdCOLMOD  = 0x3A
	cmdFRMCTR1 = 0xB1
	cmdFRMCTR2 = 0xB2
	cmdFRMCTR3 = 0xB3
	cmdPWCTR1  = 0xC0
	cmdPWCTR2  = 0xC1
	cmdPWCTR3  = 0xC2
	cmdPWCTR4  = 0xC3
	cmdPWCTR5  = 0xC4
	cmdVMCTR1  = 0xC5
	cmdGMCTRP1 = 0xE0
	cmdGMCTRN1 = 0xE1
	cmdTEST    = 0xF0
	cmdPWRSAVE = 0xF6
)

// sleep is swapped out by tests.
var sleep = time.Sleep

// ErrPixelWrite is returned when a command is sent while a pixel write
// session is open, or a session is opened twice.
var ErrPixelWrite = errors.New("st7735: pixel write in progress")

// Opts is the configuration for the controller.
type Opts struct {
	// MADCTL is the memory access control value (default: DefaultMADCTL).
	MADCTL byte
}

// Dev is a handle to the controller.
type Dev struct {
	// Communication
	d   *spibus.Device
	dc  gpio.PinOut
	rst gpio.PinOut // optional
	bl  gpio.PinOut // optional

	madctl byte

	// Window cache. written counts pixel bytes sent since the last RAMWR, modulo
	// the window size; the controller sits at the window origin when it is 0.
	win      image.Rectangle
	winValid bool
	ramwr    bool
	written  int

	on        bool
	backlight int
	pixelOpen bool
	buf       [4]byte
}

// New returns a handle for the controller behind d. dc is required; rst and
// bl may be nil. Call Init before use.
func New(d *spibus.Device, dc, rst, bl gpio.PinOut, opts *Opts) (*Dev, error) {
	if dc == nil {
		return nil, errors.New("st7735: dc pin is required")
	}
	madctl := byte(DefaultMADCTL)
	if opts != nil && opts.MADCTL != 0 {
		madctl = opts.MADCTL
	}
	return &Dev{d: d, dc: dc, rst: rst, bl: bl, madctl: madctl}, nil
}

// Bounds returns the panel area.
func (l *Dev) Bounds() image.Rectangle {
	return image.Rect(0, 0, Width, Height)
}

// WriteCommand sends one instruction byte.
func (l *Dev) WriteCommand(c byte) error {
	if l.pixelOpen {
		return ErrPixelWrite
	}
	l.ramwr = c == cmdRAMWR
	l.written = 0
	if err := l.dc.Out(gpio.Low); err != nil {
		return fmt.Errorf("st7735: dc low: %w", err)
	}
	if err := l.d.Transact([]byte{c}, nil); err != nil {
		return fmt.Errorf("st7735: command 0x%02X: %w", c, err)
	}
	return nil
}

// WriteData sends one parameter byte.
func (l *Dev) WriteData(b byte) error {
	return l.WriteDataBulk([]byte{b})
}

// WriteDataBulk sends p as parameter or pixel data with chip select held for
// the whole slice.
func (l *Dev) WriteDataBulk(p []byte) error {
	if l.pixelOpen {
		return ErrPixelWrite
	}
	if err := l.dc.Out(gpio.High); err != nil {
		return fmt.Errorf("st7735: dc high: %w", err)
	}
	if err := l.d.Transact(p, nil); err != nil {
		return fmt.Errorf("st7735: data: %w", err)
	}
	l.count(len(p))
	return nil
}

// sendCommand sends an instruction followed by its parameters.
func (l *Dev) sendCommand(c byte, args ...byte) error {
	if err := l.WriteCommand(c); err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	return l.WriteDataBulk(args)
}

// HardwareReset pulses RST and waits for the controller to come back. Without
// a reset pin a software reset is issued instead.
func (l *Dev) HardwareReset() error {
	l.InvalidateWindow()
	l.on = false
	if l.rst == nil {
		if err := l.sendCommand(cmdSWRESET); err != nil {
			return err
		}
		sleep(ResetSettle)
		return nil
	}
	if err := l.rst.Out(gpio.Low); err != nil {
		return fmt.Errorf("st7735: failed to pull RST low: %w", err)
	}
	sleep(ResetPulse)
	if err := l.rst.Out(gpio.High); err != nil {
		return fmt.Errorf("st7735: failed to pull RST high: %w", err)
	}
	sleep(ResetSettle)
	return nil
}

// Init resets the controller and loads the register sequence. The display
// output stays off until DisplayOn so that stale RAM is never shown.
func (l *Dev) Init() error {
	l.pixelOpen = false
	if err := l.HardwareReset(); err != nil {
		return err
	}

	// Order matters: power and gamma registers must be set before sleep-out.
	seq := []struct {
		cmd  byte
		args []byte
	}{
		{cmdFRMCTR1, []byte{0x01, 0x2C, 0x2D}},                   // Frame rate, normal mode
		{cmdFRMCTR2, []byte{0x01, 0x2C, 0x2D}},                   // Frame rate, idle mode
		{cmdFRMCTR3, []byte{0x01, 0x2C, 0x2D, 0x01, 0x2C, 0x2D}}, // Frame rate, partial mode
		{cmdPWCTR1, []byte{0xA2, 0x02, 0x84}},                    // -4.6V, auto mode
		{cmdPWCTR2, []byte{0xC5}},                                // VGH25 2.4C, VGSEL -10, VGH = 3 * AVDD
		{cmdPWCTR3, []byte{0x0A, 0x00}},                          // Opamp current small, boost frequency
		{cmdPWCTR4, []byte{0x8A, 0x2A}},                          // BCLK/2, opamp small and medium low
		{cmdPWCTR5, []byte{0x8A, 0xEE}},
		{cmdVMCTR1, []byte{0x0E}}, // VCOM
		{cmdGMCTRP1, []byte{
			0x02, 0x1C, 0x07, 0x12, 0x37, 0x32, 0x29, 0x2D,
			0x29, 0x25, 0x2B, 0x39, 0x00, 0x01, 0x03, 0x10,
		}},
		{cmdGMCTRN1, []byte{
			0x03, 0x1D, 0x07, 0x06, 0x2E, 0x2C, 0x29, 0x2D,
			0x2E, 0x2E, 0x37, 0x3F, 0x00, 0x00, 0x02, 0x10,
		}},
		{cmdTEST, []byte{0x01}},    // Enable test command
		{cmdPWRSAVE, []byte{0x00}}, // Disable RAM power save
		{cmdCOLMOD, []byte{0x05}},  // 16-bit color
		{cmdMADCTL, []byte{l.madctl}},
		{cmdSLPOUT, nil},
	}
	for _, s := range seq {
		if err := l.sendCommand(s.cmd, s.args...); err != nil {
			return err
		}
	}
	sleep(SleepOutSettle)
	l.InvalidateWindow()
	return nil
}

// SetWindow positions the controller to receive pixels for r in row-major
// order. r is clipped to the panel; an empty result is a no-op. When r matches
// the cached window no address commands are sent; if pixels were streamed
// since, a bare RAMWR rewinds the controller to the window origin.
func (l *Dev) SetWindow(r image.Rectangle) error {
	r = r.Intersect(l.Bounds())
	if r.Empty() {
		return nil
	}
	if l.winValid && r == l.win {
		if l.primed() {
			return nil
		}
		return l.sendCommand(cmdRAMWR)
	}
	l.winValid = false
	if err := l.writeWindow(r); err != nil {
		return err
	}
	l.win = r
	l.winValid = true
	return nil
}

// writeWindow latches r into the address registers without touching the
// cache.
func (l *Dev) writeWindow(r image.Rectangle) error {
	x1, x2 := r.Min.X+ColOffset, r.Max.X-1+ColOffset
	y1, y2 := r.Min.Y+RowOffset, r.Max.Y-1+RowOffset
	if err := l.sendCommand(cmdCASET, byte(x1>>8), byte(x1), byte(x2>>8), byte(x2)); err != nil {
		return err
	}
	if err := l.sendCommand(cmdRASET, byte(y1>>8), byte(y1), byte(y2>>8), byte(y2)); err != nil {
		return err
	}
	return l.sendCommand(cmdRAMWR)
}

// Window returns the cached window and whether it is valid.
func (l *Dev) Window() (image.Rectangle, bool) {
	return l.win, l.winValid
}

// InvalidateWindow forces the next SetWindow to reissue the address commands.
func (l *Dev) InvalidateWindow() {
	l.winValid = false
	l.ramwr = false
	l.written = 0
}

func (l *Dev) primed() bool {
	return l.ramwr && l.written == 0
}

func (l *Dev) count(n int) {
	if !l.ramwr || !l.winValid {
		return
	}
	l.written = (l.written + n) % (l.win.Dx() * l.win.Dy() * 2)
}

// BeginPixelWrite opens a pixel data session: DC high and chip select held
// until EndPixelWrite.
func (l *Dev) BeginPixelWrite() error {
	if l.pixelOpen {
		return ErrPixelWrite
	}
	if err := l.dc.Out(gpio.High); err != nil {
		return fmt.Errorf("st7735: dc high: %w", err)
	}
	if err := l.d.Select(); err != nil {
		return fmt.Errorf("st7735: begin pixel write: %w", err)
	}
	l.pixelOpen = true
	return nil
}

// WritePixel sends one pixel in an open session.
func (l *Dev) WritePixel(c rgb565.Color) error {
	l.buf[0], l.buf[1] = c.Hi(), c.Lo()
	return l.WritePixels(l.buf[:2])
}

// WritePixels sends raw big-endian RGB565 bytes in an open session.
func (l *Dev) WritePixels(p []byte) error {
	if !l.pixelOpen {
		return errors.New("st7735: no pixel write open")
	}
	if err := l.d.Tx(p, nil); err != nil {
		return fmt.Errorf("st7735: pixel data: %w", err)
	}
	l.count(len(p))
	return nil
}

// EndPixelWrite closes the session and releases the bus.
func (l *Dev) EndPixelWrite() error {
	if !l.pixelOpen {
		return nil
	}
	l.pixelOpen = false
	if err := l.d.Deselect(); err != nil {
		return fmt.Errorf("st7735: end pixel write: %w", err)
	}
	return nil
}

// FillScreen paints the whole panel with c directly, bypassing any frame
// buffer. It leaves the window cache invalid.
func (l *Dev) FillScreen(c rgb565.Color) error {
	defer l.InvalidateWindow()
	if err := l.writeWindow(l.Bounds()); err != nil {
		return err
	}
	row := make([]byte, Width*2)
	for i := 0; i < len(row); i += 2 {
		row[i], row[i+1] = c.Hi(), c.Lo()
	}
	if err := l.BeginPixelWrite(); err != nil {
		return err
	}
	for y := 0; y < Height; y++ {
		if err := l.WritePixels(row); err != nil {
			_ = l.EndPixelWrite()
			return err
		}
	}
	return l.EndPixelWrite()
}

// DisplayOn enables the panel output.
func (l *Dev) DisplayOn() error {
	if err := l.sendCommand(cmdDISPON); err != nil {
		return err
	}
	l.on = true
	return nil
}

// DisplayOff blanks the panel output. RAM content is kept.
func (l *Dev) DisplayOff() error {
	if err := l.sendCommand(cmdDISPOFF); err != nil {
		return err
	}
	l.on = false
	return nil
}

// IsOn reports whether the output was enabled.
func (l *Dev) IsOn() bool {
	return l.on
}

// Invert inverts the display colors.
func (l *Dev) Invert(invert bool) error {
	if invert {
		return l.sendCommand(cmdINVON)
	}
	return l.sendCommand(cmdINVOFF)
}

// Sleep puts the controller in sleep mode. Init wakes it up.
func (l *Dev) Sleep() error {
	return l.sendCommand(cmdSLPIN)
}

// SetBacklight clamps level to [0, MaxBacklight] and drives the backlight
// pin. The extremes use a steady level; values in between use PWM.
func (l *Dev) SetBacklight(level int) error {
	level = max(0, min(level, MaxBacklight))
	l.backlight = level
	if l.bl == nil {
		return nil
	}
	var err error
	switch level {
	case 0:
		err = l.bl.Out(gpio.Low)
	case MaxBacklight:
		err = l.bl.Out(gpio.High)
	default:
		duty := gpio.Duty(int64(gpio.DutyMax) * int64(level) / MaxBacklight)
		err = l.bl.PWM(duty, BacklightFrequency)
	}
	if err != nil {
		return fmt.Errorf("st7735: backlight: %w", err)
	}
	return nil
}

// Backlight returns the last level set.
func (l *Dev) Backlight() int {
	return l.backlight
}

// String implements fmt.Stringer.
func (l *Dev) String() string {
	return fmt.Sprintf("st7735.Dev{%s, %dx%d}", l.d, Width, Height)
}

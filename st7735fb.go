package st7735fb

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/flavioheleno/st7735fb/dirty"
	"github.com/flavioheleno/st7735fb/rgb565"
	"github.com/flavioheleno/st7735fb/spibus"
	"github.com/flavioheleno/st7735fb/sram"
	"github.com/flavioheleno/st7735fb/st7735"
)

// Screen geometry.
const (
	Width  = st7735.Width
	Height = st7735.Height
	// FrameSize is the size of a raw frame accepted by Write.
	FrameSize = sram.FrameSize
)

// DefaultFrequency is the SPI clock used by NewSPI when Opts.Frequency is
// unset. Both chips accept it.
const DefaultFrequency = 8 * physic.MegaHertz

var (
	// ErrNeedsInit is returned after a bus fault until Init succeeds.
	ErrNeedsInit = errors.New("st7735fb: bus fault, device needs Init")
	// ErrHalted is returned after Halt until Init succeeds.
	ErrHalted = errors.New("st7735fb: halted")
)

// Pins are the GPIO lines wired to the board.
type Pins struct {
	SRAMCS gpio.PinOut // SRAM chip select (required)
	LCDCS  gpio.PinOut // LCD chip select (required)
	DC     gpio.PinOut // LCD data/command (required)
	RST    gpio.PinOut // LCD reset (optional)
	BL     gpio.PinOut // Backlight (optional, PWM capable for dimming)
}

// Opts is the configuration for the display.
type Opts struct {
	// SPI clock for NewSPI (default: DefaultFrequency)
	Frequency physic.Frequency

	// Backlight level set by Init, 0-255 (default: 255). Negative turns it off.
	Backlight int

	// Memory access control register (default: st7735.DefaultMADCTL)
	MADCTL byte

	// Debug records for init, transfers and faults (default: discarded)
	Logger *slog.Logger
}

type state int

const (
	stateReady state = iota
	stateFaulted
	stateHalted
)

// Dev is the device handle: a ST7735 panel whose frame buffer lives in a
// 23LC1024 SRAM on the same SPI bus.
//
// Drawing goes to the SRAM and marks the dirty area; Update moves the dirty
// area to the panel. Dev is not safe for concurrent use.
type Dev struct {
	bus   *spibus.Bus
	mem   *sram.Dev
	lcd   *st7735.Dev
	dirty *dirty.Tracker
	log   *slog.Logger

	backlight int
	state     state

	// Transfer scratch space; one chunk of SRAM data at a time.
	chunk [chunkSize]byte
}

var _ display.Drawer = (*Dev)(nil)

// NewSPI opens p without hardware chip select and initializes the board.
//
// The port is configured for mode 0 with 8-bit words; chip selects are driven
// through pins. opts can be nil to use defaults.
func NewSPI(p spi.Port, pins Pins, opts *Opts) (*Dev, error) {
	f := DefaultFrequency
	if opts != nil && opts.Frequency != 0 {
		f = opts.Frequency
	}
	bus, err := spibus.NewSPI(p, f)
	if err != nil {
		return nil, fmt.Errorf("st7735fb: %w", err)
	}
	return newDev(bus, pins, opts)
}

// New initializes the board behind c, which must not drive any chip select
// itself.
func New(c conn.Conn, pins Pins, opts *Opts) (*Dev, error) {
	return newDev(spibus.New(c), pins, opts)
}

func newDev(bus *spibus.Bus, pins Pins, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &Opts{}
	}
	memDev, err := bus.Attach("sram", pins.SRAMCS)
	if err != nil {
		return nil, fmt.Errorf("st7735fb: %w", err)
	}
	lcdDev, err := bus.Attach("lcd", pins.LCDCS)
	if err != nil {
		return nil, fmt.Errorf("st7735fb: %w", err)
	}
	lcd, err := st7735.New(lcdDev, pins.DC, pins.RST, pins.BL, &st7735.Opts{MADCTL: opts.MADCTL})
	if err != nil {
		return nil, fmt.Errorf("st7735fb: %w", err)
	}

	d := &Dev{
		bus:       bus,
		mem:       sram.New(memDev),
		lcd:       lcd,
		dirty:     dirty.New(image.Rect(0, 0, Width, Height)),
		log:       opts.Logger,
		backlight: st7735.MaxBacklight,
	}
	if d.log == nil {
		d.log = slog.New(slog.DiscardHandler)
	}
	if opts.Backlight != 0 {
		d.backlight = max(0, min(opts.Backlight, st7735.MaxBacklight))
	}

	if err := d.Init(); err != nil {
		return nil, err
	}
	return d, nil
}

// Init resets both chips and shows a black screen.
//
// The panel is initialized first, then the SRAM is put in Stream mode, the
// backlight is set and the frame buffer is cleared and transferred. Init also
// clears a fault or a Halt.
func (d *Dev) Init() error {
	d.release()
	d.state = stateReady
	d.log.Debug("init", "bus", d.bus)

	if err := d.lcd.Init(); err != nil {
		return d.fault("init lcd", err)
	}
	if err := d.mem.Init(); err != nil {
		return d.fault("init sram", err)
	}
	if err := d.lcd.SetBacklight(d.backlight); err != nil {
		return d.fault("backlight", err)
	}
	if err := d.mem.FillColor(rgb565.Black); err != nil {
		return d.fault("clear", err)
	}
	d.dirty.Reset()
	if err := d.dirty.RequestFullUpdate(d); err != nil {
		return err
	}
	d.log.Debug("init done", "lcd", d.lcd, "sram", d.mem)
	return nil
}

// check returns the error an operation must fail with, if any.
func (d *Dev) check() error {
	switch d.state {
	case stateFaulted:
		return ErrNeedsInit
	case stateHalted:
		return ErrHalted
	}
	return nil
}

// fault marks the device as needing Init and returns err annotated with op.
// Cached chip state is dropped since the chips may have seen a partial
// transaction.
func (d *Dev) fault(op string, err error) error {
	if err == nil {
		return nil
	}
	d.state = stateFaulted
	d.release()
	d.log.Debug("bus fault", "op", op, "err", err)
	return fmt.Errorf("st7735fb: %s: %w", op, err)
}

func (d *Dev) release() {
	_ = d.lcd.EndPixelWrite()
	_ = d.mem.EndStream()
	_ = d.bus.Release()
	d.mem.Invalidate()
	d.lcd.InvalidateWindow()
}

// ColorModel implements display.Drawer.
func (d *Dev) ColorModel() color.Model {
	return rgb565.Model
}

// Bounds implements display.Drawer.
func (d *Dev) Bounds() image.Rectangle {
	return image.Rect(0, 0, Width, Height)
}

// SetBacklight sets the backlight level, clamped to 0-255. The level is kept
// across Init.
func (d *Dev) SetBacklight(level int) error {
	if err := d.check(); err != nil {
		return err
	}
	if err := d.lcd.SetBacklight(level); err != nil {
		return d.fault("backlight", err)
	}
	d.backlight = d.lcd.Backlight()
	return nil
}

// Backlight returns the configured backlight level. Init restores it after
// Halt.
func (d *Dev) Backlight() int {
	return d.backlight
}

// Invert inverts the display colors.
func (d *Dev) Invert(invert bool) error {
	if err := d.check(); err != nil {
		return err
	}
	return d.fault("invert", d.lcd.Invert(invert))
}

// Halt blanks the display, puts the controller to sleep and turns the
// backlight off. Every later call fails with ErrHalted until Init.
func (d *Dev) Halt() error {
	if d.state == stateHalted {
		return nil
	}
	if err := d.check(); err != nil {
		return err
	}
	if err := d.lcd.DisplayOff(); err != nil {
		return d.fault("halt", err)
	}
	if err := d.lcd.Sleep(); err != nil {
		return d.fault("halt", err)
	}
	level := d.backlight
	if err := d.lcd.SetBacklight(0); err != nil {
		return d.fault("halt", err)
	}
	d.backlight = level
	d.state = stateHalted
	d.log.Debug("halted")
	return nil
}

// Stats returns the bus activity counters.
func (d *Dev) Stats() spibus.Stats {
	return d.bus.Stats()
}

// String implements conn.Resource.
func (d *Dev) String() string {
	return fmt.Sprintf("st7735fb.Dev{%dx%d, %s}", Width, Height, d.bus)
}

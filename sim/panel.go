package sim

import (
	"image"
	"sync"

	"periph.io/x/conn/v3/gpio"

	"github.com/flavioheleno/st7735fb/rgb565"
)

// Panel geometry. The controller RAM is larger than the glass; the visible
// 160x128 area starts at column 1, row 2.
const (
	GRAMWidth  = 162
	GRAMHeight = 132
	VisibleW   = 160
	VisibleH   = 128
	ColOffset  = 1
	RowOffset  = 2
)

// ST7735 instructions decoded by the panel.
const (
	opSWRESET = 0x01
	opSLPIN   = 0x10
	opSLPOUT  = 0x11
	opINVOFF  = 0x20
	opINVON   = 0x21
	opDISPOFF = 0x28
	opDISPON  = 0x29
	opCASET   = 0x2A
	opRASET   = 0x2B
	opRAMWR   = 0x2C
	opMADCTL  = 0x36
	opCOLMOD  = 0x3A
)

// Command is one instruction received by the panel with its parameters.
// Pixel data following RAMWR is not recorded.
type Command struct {
	Op   byte
	Args []byte
}

// Panel simulates an ST7735 in 4-wire SPI mode.
type Panel struct {
	mu   sync.Mutex
	cs   *Pin
	dc   *Pin
	gram *rgb565.Image

	cmd    byte
	nargs  int
	xs, xe int
	ys, ye int
	x, y   int
	hi     byte
	half   bool

	on       bool
	sleeping bool
	inverted bool
	colmod   byte
	madctl   byte

	log     []Command
	pixels  int
	resets  int
	selects int
}

// NewPanel returns a panel selected by cs, framed by dc and reset by rst.
func NewPanel(cs, dc, rst *Pin) *Panel {
	p := &Panel{
		cs:   cs,
		dc:   dc,
		gram: rgb565.NewImage(image.Rect(0, 0, GRAMWidth, GRAMHeight)),
	}
	p.reset()
	cs.onEdge = p.csEdge
	rst.onEdge = p.rstEdge
	return p
}

func (p *Panel) reset() {
	p.cmd = 0
	p.nargs = 0
	p.xs, p.xe = 0, GRAMWidth-1
	p.ys, p.ye = 0, GRAMHeight-1
	p.half = false
	p.on = false
	p.sleeping = true
	p.inverted = false
	p.colmod = 0x06
	p.madctl = 0
}

func (p *Panel) csEdge(l gpio.Level) {
	if l != gpio.Low {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selects++
}

func (p *Panel) rstEdge(l gpio.Level) {
	if l != gpio.Low {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	p.resets++
}

func (p *Panel) selected() bool {
	return p.cs.Read() == gpio.Low
}

func (p *Panel) exchange(w, r []byte) {
	data := p.dc.Read() == gpio.High
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, b := range w {
		if data {
			p.data(b)
		} else {
			p.command(b)
		}
		if len(r) != 0 {
			r[i] = 0
		}
	}
}

func (p *Panel) command(op byte) {
	p.cmd = op
	p.nargs = 0
	p.half = false
	p.log = append(p.log, Command{Op: op})
	switch op {
	case opSWRESET:
		p.reset()
	case opSLPIN:
		p.sleeping = true
	case opSLPOUT:
		p.sleeping = false
	case opINVOFF:
		p.inverted = false
	case opINVON:
		p.inverted = true
	case opDISPOFF:
		p.on = false
	case opDISPON:
		p.on = true
	case opRAMWR:
		p.x, p.y = p.xs, p.ys
	}
}

func (p *Panel) data(b byte) {
	if p.cmd == opRAMWR {
		p.pixel(b)
		return
	}
	if len(p.log) == 0 {
		return
	}
	last := &p.log[len(p.log)-1]
	last.Args = append(last.Args, b)
	p.nargs++
	a := last.Args
	switch p.cmd {
	case opCASET:
		if p.nargs == 4 {
			p.xs = int(a[0])<<8 | int(a[1])
			p.xe = int(a[2])<<8 | int(a[3])
		}
	case opRASET:
		if p.nargs == 4 {
			p.ys = int(a[0])<<8 | int(a[1])
			p.ye = int(a[2])<<8 | int(a[3])
		}
	case opCOLMOD:
		if p.nargs == 1 {
			p.colmod = b
		}
	case opMADCTL:
		if p.nargs == 1 {
			p.madctl = b
		}
	}
}

// pixel consumes one byte of RAMWR data. Pixels fill the window row-major and
// wrap back to its origin, across chip-select toggles, until the next command.
func (p *Panel) pixel(b byte) {
	if !p.half {
		p.hi = b
		p.half = true
		return
	}
	p.half = false
	p.gram.SetRGB565(p.x, p.y, rgb565.FromBytes(p.hi, b))
	p.pixels++
	p.x++
	if p.x > p.xe {
		p.x = p.xs
		p.y++
		if p.y > p.ye {
			p.y = p.ys
		}
	}
}

// Pixel returns the color shown at visible coordinates (x, y).
func (p *Panel) Pixel(x, y int) rgb565.Color {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gram.RGB565At(x+ColOffset, y+RowOffset)
}

// Snapshot returns a copy of the visible area.
func (p *Panel) Snapshot() *rgb565.Image {
	p.mu.Lock()
	defer p.mu.Unlock()
	img := rgb565.NewImage(image.Rect(0, 0, VisibleW, VisibleH))
	for y := 0; y < VisibleH; y++ {
		src := p.gram.PixOffset(ColOffset, y+RowOffset)
		copy(img.Pix[y*img.Stride:(y+1)*img.Stride], p.gram.Pix[src:])
	}
	return img
}

// Window returns the latched address window in visible coordinates, as a
// half-open rectangle.
func (p *Panel) Window() image.Rectangle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return image.Rect(p.xs-ColOffset, p.ys-RowOffset, p.xe-ColOffset+1, p.ye-RowOffset+1)
}

// Commands returns a copy of the instruction log.
func (p *Panel) Commands() []Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Command, len(p.log))
	for i, c := range p.log {
		out[i] = Command{Op: c.Op, Args: append([]byte(nil), c.Args...)}
	}
	return out
}

// Count returns how many times op was received.
func (p *Panel) Count(op byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.log {
		if c.Op == op {
			n++
		}
	}
	return n
}

// ClearLog empties the instruction log and the pixel counter.
func (p *Panel) ClearLog() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log = nil
	p.pixels = 0
}

// PixelsWritten returns the number of pixels received since the last
// ClearLog.
func (p *Panel) PixelsWritten() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pixels
}

// Resets returns the number of hardware resets seen.
func (p *Panel) Resets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resets
}

// Selects returns how many times the chip was selected.
func (p *Panel) Selects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selects
}

// On reports whether the display output is enabled.
func (p *Panel) On() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.on
}

// Sleeping reports whether the controller is in sleep mode.
func (p *Panel) Sleeping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sleeping
}

// Inverted reports whether color inversion is on.
func (p *Panel) Inverted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inverted
}

// ColorMode returns the COLMOD register.
func (p *Panel) ColorMode() byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.colmod
}

// MADCTL returns the memory access control register.
func (p *Panel) MADCTL() byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.madctl
}

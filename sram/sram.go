// Package sram drives a 23LC1024 serial SRAM used as an off-chip RGB565 frame
// buffer.
//
// The chip has three operating modes selected through its mode register. In
// Byte mode a transaction moves a single byte, in Page mode the address wraps
// inside a 32-byte page, and in Stream (sequential) mode the address pointer
// auto-increments across the whole array so an arbitrary run of bytes follows
// a single address. The driver caches the active mode and only rewrites the
// register when it changes.
//
// Callers address pixels with (x, y); raw addresses are computed by PixelAddr
// only.
package sram

import (
	"errors"
	"fmt"
	"image"

	"github.com/flavioheleno/st7735fb/rgb565"
	"github.com/flavioheleno/st7735fb/spibus"
)

// Frame buffer geometry.
const (
	Width  = 160
	Height = 128
	// FrameSize is the number of bytes of one full frame.
	FrameSize = Width * Height * 2
	// Capacity is the size of the 23LC1024 array in bytes.
	Capacity = 128 * 1024
)

// Instruction set.
const (
	cmdRead  = 0x03
	cmdWrite = 0x02
	cmdRDMR  = 0x05
	cmdWRMR  = 0x01
)

// Mode is the value of the chip's mode register.
type Mode byte

// Operating modes.
const (
	Byte   Mode = 0x00
	Page   Mode = 0x80
	Stream Mode = 0x40

	modeUnknown Mode = 0xFF
)

func (m Mode) String() string {
	switch m {
	case Byte:
		return "Byte"
	case Page:
		return "Page"
	case Stream:
		return "Stream"
	}
	return fmt.Sprintf("Mode(0x%02X)", byte(m))
}

var (
	// ErrStreamOpen is returned when an operation needs the bus while a stream
	// is still open.
	ErrStreamOpen = errors.New("sram: stream already open")
	// ErrNoStream is returned by stream transfers when no stream is open.
	ErrNoStream = errors.New("sram: no stream open")
)

type streamDir int

const (
	streamNone streamDir = iota
	streamRead
	streamWrite
)

// fillChunk bounds the scratch buffer used by fills. 640 bytes is two full rows.
const fillChunk = 2 * Width * 2

// Dev is a handle to the SRAM chip.
type Dev struct {
	d      *spibus.Device
	mode   Mode
	stream streamDir
	cmd    [4]byte
	fill   [fillChunk]byte
}

// New returns a driver for the chip behind d. Call Init before use.
func New(d *spibus.Device) *Dev {
	return &Dev{d: d, mode: modeUnknown}
}

// Init forgets all cached state and puts the chip in Stream mode.
func (s *Dev) Init() error {
	s.mode = modeUnknown
	s.stream = streamNone
	return s.SetMode(Stream)
}

// Invalidate forgets the cached mode and any open stream, so the next SetMode
// always reaches the chip. Used after a bus fault.
func (s *Dev) Invalidate() {
	s.mode = modeUnknown
	s.stream = streamNone
}

// Mode returns the cached mode.
func (s *Dev) Mode() Mode {
	return s.mode
}

// SetMode writes the mode register unless m is already active.
func (s *Dev) SetMode(m Mode) error {
	if m == s.mode {
		return nil
	}
	if s.stream != streamNone {
		return ErrStreamOpen
	}
	if err := s.d.Transact([]byte{cmdWRMR, byte(m)}, nil); err != nil {
		s.mode = modeUnknown
		return fmt.Errorf("sram: set mode %s: %w", m, err)
	}
	s.mode = m
	return nil
}

// ReadMode reads the mode register back from the chip.
func (s *Dev) ReadMode() (Mode, error) {
	if s.stream != streamNone {
		return 0, ErrStreamOpen
	}
	r := make([]byte, 2)
	if err := s.d.Transact([]byte{cmdRDMR, 0}, r); err != nil {
		return 0, fmt.Errorf("sram: read mode: %w", err)
	}
	return Mode(r[1]), nil
}

// PixelAddr returns the address of the high byte of pixel (x, y).
func PixelAddr(x, y int) uint32 {
	return uint32((y*Width + x) * 2)
}

func (s *Dev) header(op byte, addr uint32) []byte {
	s.cmd[0] = op
	s.cmd[1] = byte(addr >> 16)
	s.cmd[2] = byte(addr >> 8)
	s.cmd[3] = byte(addr)
	return s.cmd[:]
}

// WriteByteAt writes a single byte in Byte mode.
func (s *Dev) WriteByteAt(addr uint32, b byte) error {
	if err := s.SetMode(Byte); err != nil {
		return err
	}
	w := append(s.header(cmdWrite, addr), b)
	if err := s.d.Transact(w, nil); err != nil {
		return fmt.Errorf("sram: write 0x%06X: %w", addr, err)
	}
	return nil
}

// ReadByteAt reads a single byte in Byte mode.
func (s *Dev) ReadByteAt(addr uint32) (byte, error) {
	if err := s.SetMode(Byte); err != nil {
		return 0, err
	}
	w := append(s.header(cmdRead, addr), 0)
	r := make([]byte, len(w))
	if err := s.d.Transact(w, r); err != nil {
		return 0, fmt.Errorf("sram: read 0x%06X: %w", addr, err)
	}
	return r[len(r)-1], nil
}

// WriteColor stores c at addr as two Byte mode writes, high byte first.
func (s *Dev) WriteColor(addr uint32, c rgb565.Color) error {
	if err := s.WriteByteAt(addr, c.Hi()); err != nil {
		return err
	}
	return s.WriteByteAt(addr+1, c.Lo())
}

// ReadColor loads the color stored at addr.
func (s *Dev) ReadColor(addr uint32) (rgb565.Color, error) {
	hi, err := s.ReadByteAt(addr)
	if err != nil {
		return 0, err
	}
	lo, err := s.ReadByteAt(addr + 1)
	if err != nil {
		return 0, err
	}
	return rgb565.FromBytes(hi, lo), nil
}

// BeginStreamWrite switches to Stream mode, selects the chip and latches addr
// with a write instruction. The chip stays selected until EndStream.
func (s *Dev) BeginStreamWrite(addr uint32) error {
	return s.begin(streamWrite, cmdWrite, addr)
}

// BeginStreamRead is BeginStreamWrite for reads.
func (s *Dev) BeginStreamRead(addr uint32) error {
	return s.begin(streamRead, cmdRead, addr)
}

func (s *Dev) begin(dir streamDir, op byte, addr uint32) error {
	if s.stream != streamNone {
		return ErrStreamOpen
	}
	if err := s.SetMode(Stream); err != nil {
		return err
	}
	if err := s.d.Select(); err != nil {
		return fmt.Errorf("sram: begin stream: %w", err)
	}
	s.stream = dir
	if err := s.d.Tx(s.header(op, addr), nil); err != nil {
		return s.abort(fmt.Errorf("sram: begin stream at 0x%06X: %w", addr, err))
	}
	return nil
}

// StreamWrite sends p at the stream's current position.
func (s *Dev) StreamWrite(p []byte) error {
	if s.stream != streamWrite {
		return ErrNoStream
	}
	if len(p) == 0 {
		return nil
	}
	if err := s.d.Tx(p, nil); err != nil {
		return fmt.Errorf("sram: stream write: %w", err)
	}
	return nil
}

// StreamWriteByte sends one byte at the stream's current position.
func (s *Dev) StreamWriteByte(b byte) error {
	return s.StreamWrite([]byte{b})
}

// StreamWriteColor sends one pixel at the stream's current position.
func (s *Dev) StreamWriteColor(c rgb565.Color) error {
	return s.StreamWrite([]byte{c.Hi(), c.Lo()})
}

// StreamRead fills p from the stream's current position.
func (s *Dev) StreamRead(p []byte) error {
	if s.stream != streamRead {
		return ErrNoStream
	}
	if len(p) == 0 {
		return nil
	}
	// The chip ignores what is clocked out while it answers; p doubles as the
	// write buffer after being cleared.
	clear(p)
	if err := s.d.Tx(p, p); err != nil {
		return fmt.Errorf("sram: stream read: %w", err)
	}
	return nil
}

// EndStream deselects the chip and releases the bus.
func (s *Dev) EndStream() error {
	if s.stream == streamNone {
		return nil
	}
	s.stream = streamNone
	if err := s.d.Deselect(); err != nil {
		return fmt.Errorf("sram: end stream: %w", err)
	}
	return nil
}

// abort closes a stream after a failed transfer, keeping the first error.
func (s *Dev) abort(err error) error {
	if cerr := s.EndStream(); cerr != nil && err == nil {
		return cerr
	}
	return err
}

// FillColor paints the whole frame with c in a single stream.
func (s *Dev) FillColor(c rgb565.Color) error {
	s.pattern(c)
	if err := s.BeginStreamWrite(0); err != nil {
		return s.abort(err)
	}
	for n := 0; n < FrameSize; n += fillChunk {
		if err := s.StreamWrite(s.fill[:min(fillChunk, FrameSize-n)]); err != nil {
			return s.abort(err)
		}
	}
	return s.EndStream()
}

// FillRect paints the w×h rectangle at (x, y) with c, one stream per row. The
// rectangle is clipped to the frame; an empty result or a non-positive size
// is a no-op.
func (s *Dev) FillRect(x, y, w, h int, c rgb565.Color) error {
	if w <= 0 || h <= 0 {
		return nil
	}
	r := clip(image.Rect(x, y, x+w, y+h))
	if r.Empty() {
		return nil
	}
	s.pattern(c)
	n := r.Dx() * 2
	for row := r.Min.Y; row < r.Max.Y; row++ {
		if err := s.streamRow(PixelAddr(r.Min.X, row), s.fill[:n]); err != nil {
			return err
		}
	}
	return nil
}

// WriteHLine paints length pixels starting at (x, y) with c in one stream.
func (s *Dev) WriteHLine(x, y, length int, c rgb565.Color) error {
	return s.FillRect(x, y, length, 1, c)
}

// WriteRow stores raw pixel bytes starting at (x, y). The row is clipped to
// the frame width.
func (s *Dev) WriteRow(x, y int, pix []byte) error {
	r := clip(image.Rect(x, y, x+len(pix)/2, y+1))
	if r.Empty() {
		return nil
	}
	off := (r.Min.X - x) * 2
	return s.streamRow(PixelAddr(r.Min.X, y), pix[off:off+r.Dx()*2])
}

// ReadRow loads len(pix)/2 pixels starting at (x, y). The caller keeps the
// row inside the frame.
func (s *Dev) ReadRow(x, y int, pix []byte) error {
	if err := s.BeginStreamRead(PixelAddr(x, y)); err != nil {
		return s.abort(err)
	}
	if err := s.StreamRead(pix); err != nil {
		return s.abort(err)
	}
	return s.EndStream()
}

// CopyRect copies the pixels of src so that src.Min lands on dst. Both ends
// are clipped to the frame. Rows are visited in an order that is safe for
// overlapping areas.
func (s *Dev) CopyRect(src image.Rectangle, dst image.Point) error {
	off := dst.Sub(src.Min)
	d := clip(clip(src).Add(off))
	if d.Empty() {
		return nil
	}
	sp := d.Min.Sub(off)
	buf := s.fill[:d.Dx()*2]
	first, last, step := 0, d.Dy()-1, 1
	if off.Y > 0 {
		first, last, step = last, first, -1
	}
	for i := first; ; i += step {
		if err := s.ReadRow(sp.X, sp.Y+i, buf); err != nil {
			return err
		}
		if err := s.streamRow(PixelAddr(d.Min.X, d.Min.Y+i), buf); err != nil {
			return err
		}
		if i == last {
			return nil
		}
	}
}

func (s *Dev) streamRow(addr uint32, p []byte) error {
	if err := s.BeginStreamWrite(addr); err != nil {
		return s.abort(err)
	}
	if err := s.StreamWrite(p); err != nil {
		return s.abort(err)
	}
	return s.EndStream()
}

func (s *Dev) pattern(c rgb565.Color) {
	hi, lo := c.Hi(), c.Lo()
	for i := 0; i < len(s.fill); i += 2 {
		s.fill[i] = hi
		s.fill[i+1] = lo
	}
}

func clip(r image.Rectangle) image.Rectangle {
	return r.Intersect(image.Rect(0, 0, Width, Height))
}

// String implements fmt.Stringer.
func (s *Dev) String() string {
	return fmt.Sprintf("sram.Dev{%s, %s}", s.d, s.mode)
}

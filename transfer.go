package st7735fb

import (
	"image"

	"github.com/flavioheleno/st7735fb/sram"
)

const (
	// chunkSize is the largest SRAM read done in one go: two full rows.
	chunkSize = 2 * Width * 2
	// Regions at least this wide, or larger than maxRegionArea pixels, are sent
	// as a full frame.
	minFullWidth  = Width - 20
	maxRegionArea = 5000
)

// TransferFromSRAM copies the whole frame buffer to the panel and turns the
// display on if it was off.
func (d *Dev) TransferFromSRAM() error {
	if err := d.check(); err != nil {
		return err
	}
	return d.fault("transfer", d.transferFull())
}

// TransferRegion copies r, clipped to the screen, from the frame buffer to the
// panel. Wide or large regions are sent as a full frame.
func (d *Dev) TransferRegion(r image.Rectangle) error {
	if err := d.check(); err != nil {
		return err
	}
	r = r.Intersect(d.Bounds())
	if r.Empty() {
		return nil
	}
	if r.Dx() >= minFullWidth || r.Dx()*r.Dy() > maxRegionArea {
		d.log.Debug("region promoted to full transfer", "rect", r)
		return d.fault("transfer", d.transferFull())
	}
	return d.fault("transfer region", d.transferRows(r))
}

func (d *Dev) transferFull() error {
	if err := d.lcd.SetWindow(d.Bounds()); err != nil {
		return err
	}
	for addr := 0; addr < sram.FrameSize; addr += chunkSize {
		if err := d.moveChunk(uint32(addr), d.chunk[:]); err != nil {
			return err
		}
	}
	d.log.Debug("full transfer", "chunks", sram.FrameSize/chunkSize)
	if d.lcd.IsOn() {
		return nil
	}
	return d.lcd.DisplayOn()
}

// transferRows sends r one row per chunk. The window is set once; the panel
// advances through it across pixel sessions.
func (d *Dev) transferRows(r image.Rectangle) error {
	if err := d.lcd.SetWindow(r); err != nil {
		return err
	}
	buf := d.chunk[:r.Dx()*2]
	for y := r.Min.Y; y < r.Max.Y; y++ {
		if err := d.moveChunk(sram.PixelAddr(r.Min.X, y), buf); err != nil {
			return err
		}
	}
	d.log.Debug("region transfer", "rect", r)
	return nil
}

// moveChunk reads len(buf) bytes at addr from the SRAM, then writes them to
// the panel. The SRAM stream is closed before the panel is selected.
func (d *Dev) moveChunk(addr uint32, buf []byte) error {
	if err := d.mem.SetMode(sram.Stream); err != nil {
		return err
	}
	if err := d.mem.BeginStreamRead(addr); err != nil {
		return err
	}
	if err := d.mem.StreamRead(buf); err != nil {
		return err
	}
	if err := d.mem.EndStream(); err != nil {
		return err
	}
	// Pixel bytes are stored in panel order; no conversion needed.
	if err := d.lcd.BeginPixelWrite(); err != nil {
		return err
	}
	if err := d.lcd.WritePixels(buf); err != nil {
		return err
	}
	return d.lcd.EndPixelWrite()
}

// Update sends the area drawn since the last update. It does nothing when
// nothing was drawn.
func (d *Dev) Update() error {
	if err := d.check(); err != nil {
		return err
	}
	return d.dirty.RequestUpdate(d)
}

// FullUpdate sends the whole frame buffer regardless of what was drawn.
func (d *Dev) FullUpdate() error {
	if err := d.check(); err != nil {
		return err
	}
	return d.dirty.RequestFullUpdate(d)
}

// Dirty returns the area waiting for Update, if any.
func (d *Dev) Dirty() (image.Rectangle, bool) {
	return d.dirty.Rect()
}

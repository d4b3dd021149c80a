package st7735fb

import (
	"errors"
	"image"
	"image/color"
	"image/draw"

	"github.com/flavioheleno/st7735fb/rgb565"
)

// SetPixel stores c at (x, y) in the frame buffer. Points off screen are
// ignored.
func (d *Dev) SetPixel(x, y int, c rgb565.Color) error {
	if err := d.check(); err != nil {
		return err
	}
	if !image.Pt(x, y).In(d.Bounds()) {
		return nil
	}
	buf := [2]byte{c.Hi(), c.Lo()}
	if err := d.mem.WriteRow(x, y, buf[:]); err != nil {
		return d.fault("set pixel", err)
	}
	d.dirty.MarkDirty(image.Rect(x, y, x+1, y+1))
	return nil
}

// Pixel reads back the color stored at (x, y). Points off screen read as
// black.
func (d *Dev) Pixel(x, y int) (rgb565.Color, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	if !image.Pt(x, y).In(d.Bounds()) {
		return rgb565.Black, nil
	}
	// Not d.chunk: Draw may be reading from this device's Surface.
	var buf [2]byte
	if err := d.mem.ReadRow(x, y, buf[:]); err != nil {
		return 0, d.fault("read pixel", err)
	}
	return rgb565.FromBytes(buf[0], buf[1]), nil
}

// HLine draws a horizontal line of length pixels starting at (x, y).
// A non-positive length draws nothing.
func (d *Dev) HLine(x, y, length int, c rgb565.Color) error {
	if length <= 0 {
		return d.check()
	}
	return d.FillRect(image.Rect(x, y, x+length, y+1), c)
}

// FillRect paints r with c in the frame buffer.
func (d *Dev) FillRect(r image.Rectangle, c rgb565.Color) error {
	if err := d.check(); err != nil {
		return err
	}
	r = r.Canon().Intersect(d.Bounds())
	if r.Empty() {
		return nil
	}
	if err := d.mem.FillRect(r.Min.X, r.Min.Y, r.Dx(), r.Dy(), c); err != nil {
		return d.fault("fill rect", err)
	}
	d.dirty.MarkDirty(r)
	return nil
}

// Fill paints the whole frame buffer with c.
func (d *Dev) Fill(c rgb565.Color) error {
	if err := d.check(); err != nil {
		return err
	}
	if err := d.mem.FillColor(c); err != nil {
		return d.fault("fill", err)
	}
	d.dirty.MarkDirty(d.Bounds())
	return nil
}

// FillScreen paints the panel with c directly, leaving the frame buffer as it
// is. Nothing is marked dirty: the next FullUpdate shows the frame buffer
// again, an Update only the dirty area of it.
func (d *Dev) FillScreen(c rgb565.Color) error {
	if err := d.check(); err != nil {
		return err
	}
	return d.fault("fill screen", d.lcd.FillScreen(c))
}

// CopyRect moves the pixels of src so that src.Min lands on dst, for
// scrolling. Overlapping areas are handled.
func (d *Dev) CopyRect(src image.Rectangle, dst image.Point) error {
	if err := d.check(); err != nil {
		return err
	}
	src = src.Canon()
	if err := d.mem.CopyRect(src, dst); err != nil {
		return d.fault("copy rect", err)
	}
	r := src.Add(dst.Sub(src.Min)).Intersect(d.Bounds())
	if !r.Empty() {
		d.dirty.MarkDirty(r)
	}
	return nil
}

// Write stores a raw frame, FrameSize bytes of big-endian RGB565 in row-major
// order, and sends it to the panel.
func (d *Dev) Write(pixels []byte) (int, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	if len(pixels) != FrameSize {
		return 0, errors.New("st7735fb: invalid buffer size")
	}
	if err := d.writeFrame(pixels); err != nil {
		return 0, d.fault("write", err)
	}
	if err := d.dirty.RequestFullUpdate(d); err != nil {
		return 0, err
	}
	return len(pixels), nil
}

func (d *Dev) writeFrame(pixels []byte) error {
	if err := d.mem.BeginStreamWrite(0); err != nil {
		return err
	}
	for n := 0; n < len(pixels); n += chunkSize {
		if err := d.mem.StreamWrite(pixels[n:min(n+chunkSize, len(pixels))]); err != nil {
			return err
		}
	}
	return d.mem.EndStream()
}

// Draw implements display.Drawer.
//
// The src image is converted to RGB565 and stored in the frame buffer over
// dst, then the dirty area is sent to the panel. Anything drawn earlier and
// not yet updated goes out with it.
func (d *Dev) Draw(dst image.Rectangle, src image.Image, sp image.Point) error {
	if err := d.check(); err != nil {
		return err
	}
	// Clip to display bounds, shifting sp along with dst.Min.
	clipped := dst.Intersect(d.Bounds())
	if clipped.Empty() {
		return nil
	}
	sp = sp.Add(clipped.Min.Sub(dst.Min))
	dst = clipped

	// Fast path: rows of an RGB565 image are already in panel order.
	if img, ok := src.(*rgb565.Image); ok {
		if err := d.drawRGB565(dst, img, sp); err != nil {
			return d.fault("draw", err)
		}
	} else if err := d.drawImage(dst, src, sp); err != nil {
		return d.fault("draw", err)
	}
	d.dirty.MarkDirty(dst)
	return d.dirty.RequestUpdate(d)
}

func (d *Dev) drawRGB565(dst image.Rectangle, img *rgb565.Image, sp image.Point) error {
	for y := dst.Min.Y; y < dst.Max.Y; y++ {
		row := d.chunk[:dst.Dx()*2]
		sy := sp.Y + y - dst.Min.Y
		if image.Rect(sp.X, sy, sp.X+dst.Dx(), sy+1).In(img.Rect) {
			i := img.PixOffset(sp.X, sy)
			row = img.Pix[i : i+len(row)]
		} else {
			for i := range dst.Dx() {
				c := img.RGB565At(sp.X+i, sy)
				row[2*i], row[2*i+1] = c.Hi(), c.Lo()
			}
		}
		if err := d.mem.WriteRow(dst.Min.X, y, row); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dev) drawImage(dst image.Rectangle, src image.Image, sp image.Point) error {
	for y := dst.Min.Y; y < dst.Max.Y; y++ {
		row := d.chunk[:dst.Dx()*2]
		sy := sp.Y + y - dst.Min.Y
		for i := range dst.Dx() {
			c := rgb565.Model.Convert(src.At(sp.X+i, sy)).(rgb565.Color)
			row[2*i], row[2*i+1] = c.Hi(), c.Lo()
		}
		if err := d.mem.WriteRow(dst.Min.X, y, row); err != nil {
			return err
		}
	}
	return nil
}

// Surface is a draw.Image view of the frame buffer, for image/draw and font
// rendering. Each pixel access is a bus transaction.
//
// draw.Image has no room for errors: the first failure is kept, later calls
// become no-ops, and Err reports it. Drawn pixels are marked dirty; call
// Dev.Update to show them.
type Surface struct {
	d   *Dev
	err error
}

var _ draw.Image = (*Surface)(nil)

// Surface returns a drawing surface backed by the frame buffer.
func (d *Dev) Surface() *Surface {
	return &Surface{d: d}
}

// ColorModel implements image.Image.
func (s *Surface) ColorModel() color.Model {
	return rgb565.Model
}

// Bounds implements image.Image.
func (s *Surface) Bounds() image.Rectangle {
	return s.d.Bounds()
}

// At implements image.Image.
func (s *Surface) At(x, y int) color.Color {
	if s.err != nil {
		return rgb565.Black
	}
	c, err := s.d.Pixel(x, y)
	if err != nil {
		s.err = err
		return rgb565.Black
	}
	return c
}

// Set implements draw.Image.
func (s *Surface) Set(x, y int, c color.Color) {
	if s.err != nil {
		return
	}
	s.err = s.d.SetPixel(x, y, rgb565.Model.Convert(c).(rgb565.Color))
}

// Err returns the first error hit by the surface.
func (s *Surface) Err() error {
	return s.err
}

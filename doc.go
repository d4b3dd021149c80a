// Package st7735fb drives a 160×128 ST7735 TFT whose frame buffer lives in a
// 23LC1024 serial SRAM sharing the same SPI bus.
//
// Drawing never talks to the panel directly. Pixels are written to the SRAM
// and the touched area is recorded as a dirty rectangle; Update then streams
// that rectangle from the SRAM to the panel in bounded chunks. Each chunk is
// read from the SRAM and written to the panel before the next one starts, so
// the two chips never hold the bus at the same time.
//
// This driver implements the display.Drawer interface from periph.io.
//
// # Display Characteristics
//
// - 160×128 pixels, 16-bit RGB565 color
// - Landscape orientation by default (MADCTL 0x60)
// - Optional hardware reset line, software reset otherwise
// - Backlight dimming by PWM when the pin supports it
// - Display inversion
//
// # Hardware Connection
//
// Both chips share SCLK, MOSI and MISO. Chip selects are plain GPIOs driven by
// the driver, so the SPI port is opened with hardware chip select disabled:
//
//	Signal      Raspberry Pi
//	SCLK        GPIO11 (SPI0 CLK)
//	MOSI        GPIO10 (SPI0 MOSI)
//	MISO        GPIO9  (SPI0 MISO, SRAM only)
//	SRAM CS     GPIO7  (any free GPIO)
//	LCD CS      GPIO8  (any free GPIO)
//	LCD DC      GPIO25
//	LCD RST     GPIO24 (optional)
//	LCD LED     GPIO18 (optional, PWM0)
//
// # Basic Usage
//
//	package main
//
//	import (
//		"image"
//
//		"periph.io/x/conn/v3/gpio/gpioreg"
//		"periph.io/x/conn/v3/spi/spireg"
//		"periph.io/x/host/v3"
//
//		"github.com/flavioheleno/st7735fb"
//		"github.com/flavioheleno/st7735fb/rgb565"
//	)
//
//	func main() {
//		host.Init()
//
//		p, _ := spireg.Open("")
//		defer p.Close()
//
//		dev, _ := st7735fb.NewSPI(p, st7735fb.Pins{
//			SRAMCS: gpioreg.ByName("GPIO7"),
//			LCDCS:  gpioreg.ByName("GPIO8"),
//			DC:     gpioreg.ByName("GPIO25"),
//			RST:    gpioreg.ByName("GPIO24"),
//			BL:     gpioreg.ByName("GPIO18"),
//		}, nil)
//		defer dev.Halt()
//
//		// Draw into the frame buffer, then send what changed.
//		dev.FillRect(image.Rect(10, 10, 60, 40), rgb565.Red)
//		dev.HLine(0, 64, 160, rgb565.White)
//		dev.Update()
//	}
//
// # Updates
//
// Primitives (SetPixel, HLine, FillRect, Fill, CopyRect and the Surface) only
// write the SRAM. Update sends the bounding box of everything drawn since the
// last update; calling it again with nothing drawn costs no bus traffic.
// Regions close to full width or larger than 5000 pixels are sent as a full
// frame, which is cheaper than one transaction pair per row. FullUpdate always
// sends the full frame.
//
// Draw and Write are the display.Drawer entry points: they store the image
// and update the panel immediately.
//
// # Errors
//
// A failed bus transaction leaves both chips in an unknown state. The device
// then refuses every call with ErrNeedsInit until Init succeeds. Halt turns
// the panel off and makes later calls fail with ErrHalted, also until Init.
//
// # Datasheets
//
// ST7735: https://www.displayfuture.com/Display/datasheet/controller/ST7735.pdf
//
// 23LC1024: https://ww1.microchip.com/downloads/en/DeviceDoc/20005142C.pdf
package st7735fb

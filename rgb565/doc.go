// Package rgb565 provides a 16-bit color format for the ST7735 display controller.
//
// Colors use 5 bits for red, 6 for green and 5 for blue. In memory and on the
// wire a pixel takes two bytes, high byte first:
//
//	Color:  0xF800 (red)
//	Bytes:  0xF8 0x00
//
// This package provides:
//
// - Color: the packed 16-bit color
// - Model: a color model converting standard Go colors to Color
// - Image: an image.Image and draw.Image with the frame buffer byte layout
//
// Example usage:
//
//	img := rgb565.NewImage(image.Rect(0, 0, 160, 128))
//	img.SetRGB565(10, 20, rgb565.Red)
//	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
package rgb565

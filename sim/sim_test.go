package sim

import (
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"

	"github.com/flavioheleno/st7735fb/rgb565"
)

var _ conn.Conn = (*Bus)(nil)

// sramTx runs one complete SRAM instruction.
func sramTx(t *testing.T, b *Board, w []byte) []byte {
	t.Helper()
	r := make([]byte, len(w))
	require.NoError(t, b.SRAMCS.Out(gpio.Low))
	require.NoError(t, b.Bus.Tx(w, r))
	require.NoError(t, b.SRAMCS.Out(gpio.High))
	return r
}

// lcd sends one command and its parameters to the panel.
func lcd(t *testing.T, b *Board, cmd byte, args ...byte) {
	t.Helper()
	require.NoError(t, b.LCDCS.Out(gpio.Low))
	require.NoError(t, b.DC.Out(gpio.Low))
	require.NoError(t, b.Bus.Tx([]byte{cmd}, nil))
	if len(args) != 0 {
		require.NoError(t, b.DC.Out(gpio.High))
		require.NoError(t, b.Bus.Tx(args, nil))
	}
	require.NoError(t, b.LCDCS.Out(gpio.High))
}

func TestBusContention(t *testing.T) {
	b := NewBoard()
	require.NoError(t, b.SRAMCS.Out(gpio.Low))
	require.NoError(t, b.LCDCS.Out(gpio.Low))
	assert.ErrorIs(t, b.Bus.Tx([]byte{0}, nil), ErrContention)
	assert.Equal(t, 0, b.Bus.TxCount())
}

func TestBusNothingSelected(t *testing.T) {
	b := NewBoard()
	r := make([]byte, 3)
	require.NoError(t, b.Bus.Tx([]byte{1, 2, 3}, r))
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF}, r)
	assert.Error(t, b.Bus.Tx([]byte{1, 2}, make([]byte, 1)))
}

func TestBusFailAfter(t *testing.T) {
	b := NewBoard()
	errFault := errors.New("fault")
	b.Bus.FailAfter(2, errFault)

	assert.NoError(t, b.Bus.Tx([]byte{0}, nil))
	assert.NoError(t, b.Bus.Tx([]byte{0}, nil))
	assert.ErrorIs(t, b.Bus.Tx([]byte{0}, nil), errFault)
	assert.NoError(t, b.Bus.Tx([]byte{0}, nil), "fault fires once")
	assert.Equal(t, 3, b.Bus.TxCount())
}

func TestSRAMModes(t *testing.T) {
	b := NewBoard()
	assert.Equal(t, byte(modeStream), b.SRAM.Mode())

	// Stream: the address keeps counting.
	sramTx(t, b, []byte{sramWrite, 0, 0, 30, 1, 2, 3, 4})
	assert.Equal(t, []byte{1, 2, 3, 4}, b.SRAM.Peek(30, 4))

	// Page: the address wraps inside a 32-byte page.
	sramTx(t, b, []byte{sramWRMR, modePage})
	sramTx(t, b, []byte{sramWrite, 0, 0, 62, 5, 6, 7})
	assert.Equal(t, []byte{7}, b.SRAM.Peek(32, 1))
	assert.Equal(t, []byte{5, 6}, b.SRAM.Peek(62, 2))
	assert.Equal(t, []byte{0}, b.SRAM.Peek(64, 1))

	// Byte: one data byte per instruction.
	sramTx(t, b, []byte{sramWRMR, modeByte})
	sramTx(t, b, []byte{sramWrite, 0, 1, 0, 9, 9})
	assert.Equal(t, []byte{9, 0}, b.SRAM.Peek(256, 2))

	r := sramTx(t, b, []byte{sramRDMR, 0})
	assert.Equal(t, byte(modeByte), r[1])
	assert.Equal(t, 2, b.SRAM.ModeWrites())
}

func TestSRAMReadAndWrap(t *testing.T) {
	b := NewBoard()
	b.SRAM.Poke(SRAMSize-1, []byte{0xAB})
	b.SRAM.Poke(0, []byte{0xCD})

	r := sramTx(t, b, []byte{sramRead, 0x01, 0xFF, 0xFF, 0, 0})
	assert.Equal(t, []byte{0xAB, 0xCD}, r[4:])
}

func TestSRAMDeselectEndsInstruction(t *testing.T) {
	b := NewBoard()
	require.NoError(t, b.SRAMCS.Out(gpio.Low))
	require.NoError(t, b.Bus.Tx([]byte{sramWrite, 0, 0, 10, 1}, nil))
	require.NoError(t, b.SRAMCS.Out(gpio.High))

	// A new selection starts with an instruction byte, not data.
	sramTx(t, b, []byte{sramWrite, 0, 0, 20, 2})
	assert.Equal(t, []byte{1, 0}, b.SRAM.Peek(10, 2))
	assert.Equal(t, []byte{2}, b.SRAM.Peek(20, 1))
	assert.Equal(t, 2, b.SRAM.Selects())
}

func TestPanelWindow(t *testing.T) {
	b := NewBoard()
	lcd(t, b, opCASET, 0, 11, 0, 12) // x 10..11
	lcd(t, b, opRASET, 0, 22, 0, 23) // y 20..21
	assert.Equal(t, image.Rect(10, 20, 12, 22), b.Panel.Window())

	lcd(t, b, opRAMWR)
	px := []byte{
		0xF8, 0x00, 0x07, 0xE0,
		0x00, 0x1F, 0xFF, 0xFF,
		0xFF, 0xE0, // wraps to the window origin
	}
	require.NoError(t, b.DC.Out(gpio.High))
	require.NoError(t, b.LCDCS.Out(gpio.Low))
	require.NoError(t, b.Bus.Tx(px[:4], nil))
	require.NoError(t, b.LCDCS.Out(gpio.High))
	// The pixel pointer survives chip select toggles.
	require.NoError(t, b.LCDCS.Out(gpio.Low))
	require.NoError(t, b.Bus.Tx(px[4:], nil))
	require.NoError(t, b.LCDCS.Out(gpio.High))

	assert.Equal(t, rgb565.Yellow, b.Panel.Pixel(10, 20))
	assert.Equal(t, rgb565.Green, b.Panel.Pixel(11, 20))
	assert.Equal(t, rgb565.Blue, b.Panel.Pixel(10, 21))
	assert.Equal(t, rgb565.White, b.Panel.Pixel(11, 21))
	assert.Equal(t, 5, b.Panel.PixelsWritten())
	assert.Equal(t, rgb565.Yellow, b.Panel.Snapshot().RGB565At(10, 20))
}

func TestPanelCommands(t *testing.T) {
	b := NewBoard()
	assert.True(t, b.Panel.Sleeping())
	assert.False(t, b.Panel.On())

	lcd(t, b, opSLPOUT)
	lcd(t, b, opCOLMOD, 0x05)
	lcd(t, b, opMADCTL, 0x60)
	lcd(t, b, opINVON)
	lcd(t, b, opDISPON)

	assert.False(t, b.Panel.Sleeping())
	assert.True(t, b.Panel.On())
	assert.True(t, b.Panel.Inverted())
	assert.Equal(t, byte(0x05), b.Panel.ColorMode())
	assert.Equal(t, byte(0x60), b.Panel.MADCTL())
	assert.Equal(t, 1, b.Panel.Count(opCOLMOD))
	assert.Equal(t, []byte{0x60}, b.Panel.Commands()[2].Args)
	assert.Equal(t, 5, b.Panel.Selects())

	require.NoError(t, b.RST.Out(gpio.Low))
	require.NoError(t, b.RST.Out(gpio.High))
	assert.Equal(t, 1, b.Panel.Resets())
	assert.True(t, b.Panel.Sleeping())
	assert.False(t, b.Panel.On())
	assert.Equal(t, image.Rect(-1, -2, 161, 130), b.Panel.Window())

	b.Panel.ClearLog()
	assert.Empty(t, b.Panel.Commands())
}

func TestPinDuty(t *testing.T) {
	p := NewPin("BL", 1, gpio.Low)
	assert.Equal(t, gpio.Duty(0), p.Duty())
	require.NoError(t, p.PWM(gpio.DutyHalf, 1000))
	assert.Equal(t, gpio.DutyHalf, p.Duty())
	require.NoError(t, p.Out(gpio.High))
	assert.Equal(t, gpio.DutyMax, p.Duty())
}

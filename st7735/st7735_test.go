package st7735

import (
	"bytes"
	"errors"
	"image"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/flavioheleno/st7735fb/rgb565"
	"github.com/flavioheleno/st7735fb/sim"
	"github.com/flavioheleno/st7735fb/spibus"
)

func newTestDev(t *testing.T) (*Dev, *sim.Board, *[]time.Duration) {
	t.Helper()
	var slept []time.Duration
	old := sleep
	sleep = func(d time.Duration) { slept = append(slept, d) }
	t.Cleanup(func() { sleep = old })

	board := sim.NewBoard()
	bus := spibus.New(board.Bus)
	dev, err := bus.Attach("lcd", board.LCDCS)
	if err != nil {
		t.Fatal(err)
	}
	l, err := New(dev, board.DC, board.RST, board.BL, nil)
	if err != nil {
		t.Fatal(err)
	}
	return l, board, &slept
}

func ops(cmds []sim.Command) []byte {
	out := make([]byte, len(cmds))
	for i, c := range cmds {
		out[i] = c.Op
	}
	return out
}

func TestNewRequiresDC(t *testing.T) {
	if _, err := New(nil, nil, nil, nil, nil); err == nil {
		t.Error("New without dc should fail")
	}
}

func TestInitSequence(t *testing.T) {
	l, board, slept := newTestDev(t)

	if err := l.Init(); err != nil {
		t.Fatal(err)
	}

	want := []byte{
		cmdFRMCTR1, cmdFRMCTR2, cmdFRMCTR3,
		cmdPWCTR1, cmdPWCTR2, cmdPWCTR3, cmdPWCTR4, cmdPWCTR5,
		cmdVMCTR1, cmdGMCTRP1, cmdGMCTRN1,
		cmdTEST, cmdPWRSAVE, cmdCOLMOD, cmdMADCTL, cmdSLPOUT,
	}
	cmds := board.Panel.Commands()
	if got := ops(cmds); !bytes.Equal(got, want) {
		t.Errorf("init commands = % X, want % X", got, want)
	}
	for _, c := range cmds {
		if (c.Op == cmdGMCTRP1 || c.Op == cmdGMCTRN1) && len(c.Args) != 16 {
			t.Errorf("gamma table 0x%02X has %d bytes, want 16", c.Op, len(c.Args))
		}
	}

	if board.Panel.Resets() != 1 {
		t.Errorf("Resets() = %d, want 1", board.Panel.Resets())
	}
	if board.Panel.Sleeping() {
		t.Error("panel should be out of sleep after Init")
	}
	if board.Panel.On() || l.IsOn() {
		t.Error("display output should stay off after Init")
	}
	if board.Panel.ColorMode() != 0x05 {
		t.Errorf("COLMOD = 0x%02X, want 0x05", board.Panel.ColorMode())
	}
	if board.Panel.MADCTL() != DefaultMADCTL {
		t.Errorf("MADCTL = 0x%02X, want 0x%02X", board.Panel.MADCTL(), DefaultMADCTL)
	}
	if board.RST.Read() != gpio.High {
		t.Error("RST should be released after Init")
	}

	wantSleeps := []time.Duration{ResetPulse, ResetSettle, SleepOutSettle}
	if len(*slept) != len(wantSleeps) {
		t.Fatalf("slept %v, want %v", *slept, wantSleeps)
	}
	for i, d := range wantSleeps {
		if (*slept)[i] < d {
			t.Errorf("delay %d = %v, want at least %v", i, (*slept)[i], d)
		}
	}
}

func TestCustomMADCTL(t *testing.T) {
	board := sim.NewBoard()
	old := sleep
	sleep = func(time.Duration) {}
	defer func() { sleep = old }()

	dev, err := spibus.New(board.Bus).Attach("lcd", board.LCDCS)
	if err != nil {
		t.Fatal(err)
	}
	l, err := New(dev, board.DC, board.RST, nil, &Opts{MADCTL: 0xA0})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Init(); err != nil {
		t.Fatal(err)
	}
	if board.Panel.MADCTL() != 0xA0 {
		t.Errorf("MADCTL = 0x%02X, want 0xA0", board.Panel.MADCTL())
	}
}

func TestSoftwareResetWithoutPin(t *testing.T) {
	board := sim.NewBoard()
	old := sleep
	sleep = func(time.Duration) {}
	defer func() { sleep = old }()

	dev, err := spibus.New(board.Bus).Attach("lcd", board.LCDCS)
	if err != nil {
		t.Fatal(err)
	}
	l, err := New(dev, board.DC, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.HardwareReset(); err != nil {
		t.Fatal(err)
	}
	if got := ops(board.Panel.Commands()); !bytes.Equal(got, []byte{cmdSWRESET}) {
		t.Errorf("commands = % X, want 01", got)
	}
}

func TestSetWindowOffsets(t *testing.T) {
	l, board, _ := newTestDev(t)
	if err := l.Init(); err != nil {
		t.Fatal(err)
	}
	board.Panel.ClearLog()

	r := image.Rect(10, 20, 30, 25)
	if err := l.SetWindow(r); err != nil {
		t.Fatal(err)
	}

	cmds := board.Panel.Commands()
	if got := ops(cmds); !bytes.Equal(got, []byte{cmdCASET, cmdRASET, cmdRAMWR}) {
		t.Fatalf("commands = % X, want 2A 2B 2C", got)
	}
	if want := []byte{0, 11, 0, 30}; !bytes.Equal(cmds[0].Args, want) {
		t.Errorf("CASET args = % X, want % X", cmds[0].Args, want)
	}
	if want := []byte{0, 22, 0, 26}; !bytes.Equal(cmds[1].Args, want) {
		t.Errorf("RASET args = % X, want % X", cmds[1].Args, want)
	}
	if got := board.Panel.Window(); got != r {
		t.Errorf("panel window = %v, want %v", got, r)
	}
	if got, ok := l.Window(); !ok || got != r {
		t.Errorf("Window() = %v, %v, want %v, true", got, ok, r)
	}
}

func TestSetWindowCached(t *testing.T) {
	l, board, _ := newTestDev(t)
	if err := l.Init(); err != nil {
		t.Fatal(err)
	}
	board.Panel.ClearLog()

	r := image.Rect(0, 0, 40, 40)
	for i := 0; i < 2; i++ {
		if err := l.SetWindow(r); err != nil {
			t.Fatal(err)
		}
	}
	if n := board.Panel.Count(cmdCASET); n != 1 {
		t.Errorf("CASET sent %d times, want 1", n)
	}
	if n := board.Panel.Count(cmdRASET); n != 1 {
		t.Errorf("RASET sent %d times, want 1", n)
	}
	if n := board.Panel.Count(cmdRAMWR); n != 1 {
		t.Errorf("RAMWR sent %d times, want 1", n)
	}

	l.InvalidateWindow()
	if err := l.SetWindow(r); err != nil {
		t.Fatal(err)
	}
	if n := board.Panel.Count(cmdCASET); n != 2 {
		t.Errorf("after InvalidateWindow CASET sent %d times, want 2", n)
	}
}

func TestSetWindowRewindsAfterPartialWrite(t *testing.T) {
	l, board, _ := newTestDev(t)
	if err := l.Init(); err != nil {
		t.Fatal(err)
	}
	r := image.Rect(0, 0, 2, 2)
	if err := l.SetWindow(r); err != nil {
		t.Fatal(err)
	}
	if err := l.BeginPixelWrite(); err != nil {
		t.Fatal(err)
	}
	if err := l.WritePixel(rgb565.Red); err != nil {
		t.Fatal(err)
	}
	if err := l.EndPixelWrite(); err != nil {
		t.Fatal(err)
	}
	board.Panel.ClearLog()

	// The controller is one pixel into the window; only RAMWR is needed.
	if err := l.SetWindow(r); err != nil {
		t.Fatal(err)
	}
	if got := ops(board.Panel.Commands()); !bytes.Equal(got, []byte{cmdRAMWR}) {
		t.Errorf("commands = % X, want 2C", got)
	}

	// A full window of pixels brings the pointer back to the origin.
	if err := l.BeginPixelWrite(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if err := l.WritePixel(rgb565.Blue); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.EndPixelWrite(); err != nil {
		t.Fatal(err)
	}
	board.Panel.ClearLog()
	if err := l.SetWindow(r); err != nil {
		t.Fatal(err)
	}
	if n := len(board.Panel.Commands()); n != 0 {
		t.Errorf("SetWindow after a complete window sent %d commands, want 0", n)
	}
}

func TestSetWindowClipsAndIgnoresEmpty(t *testing.T) {
	l, board, _ := newTestDev(t)
	if err := l.Init(); err != nil {
		t.Fatal(err)
	}
	board.Panel.ClearLog()

	if err := l.SetWindow(image.Rect(200, 200, 300, 300)); err != nil {
		t.Fatal(err)
	}
	if n := len(board.Panel.Commands()); n != 0 {
		t.Errorf("empty window sent %d commands, want 0", n)
	}

	if err := l.SetWindow(image.Rect(150, 120, 400, 400)); err != nil {
		t.Fatal(err)
	}
	if got, want := board.Panel.Window(), image.Rect(150, 120, 160, 128); got != want {
		t.Errorf("panel window = %v, want %v", got, want)
	}
}

func TestPixelWrite(t *testing.T) {
	l, board, _ := newTestDev(t)
	if err := l.Init(); err != nil {
		t.Fatal(err)
	}
	if err := l.SetWindow(image.Rect(5, 5, 7, 6)); err != nil {
		t.Fatal(err)
	}
	if err := l.BeginPixelWrite(); err != nil {
		t.Fatal(err)
	}
	if err := l.BeginPixelWrite(); !errors.Is(err, ErrPixelWrite) {
		t.Errorf("nested BeginPixelWrite = %v, want ErrPixelWrite", err)
	}
	if err := l.WriteCommand(cmdDISPON); !errors.Is(err, ErrPixelWrite) {
		t.Errorf("WriteCommand during pixel write = %v, want ErrPixelWrite", err)
	}
	if err := l.WritePixel(rgb565.Green); err != nil {
		t.Fatal(err)
	}
	if err := l.WritePixels([]byte{rgb565.Red.Hi(), rgb565.Red.Lo()}); err != nil {
		t.Fatal(err)
	}
	if err := l.EndPixelWrite(); err != nil {
		t.Fatal(err)
	}
	if err := l.WritePixel(rgb565.Green); err == nil {
		t.Error("WritePixel outside a session should fail")
	}

	if got := board.Panel.Pixel(5, 5); got != rgb565.Green {
		t.Errorf("Pixel(5, 5) = 0x%04X, want green", got)
	}
	if got := board.Panel.Pixel(6, 5); got != rgb565.Red {
		t.Errorf("Pixel(6, 5) = 0x%04X, want red", got)
	}
	if board.LCDCS.Read() != gpio.High {
		t.Error("chip select should be released")
	}
}

func TestFillScreenInvalidatesWindow(t *testing.T) {
	l, board, _ := newTestDev(t)
	if err := l.Init(); err != nil {
		t.Fatal(err)
	}
	full := l.Bounds()
	if err := l.SetWindow(full); err != nil {
		t.Fatal(err)
	}
	if err := l.FillScreen(rgb565.Magenta); err != nil {
		t.Fatal(err)
	}
	if _, ok := l.Window(); ok {
		t.Error("FillScreen should invalidate the window cache")
	}
	for _, p := range []image.Point{{0, 0}, {159, 0}, {0, 127}, {159, 127}, {80, 64}} {
		if got := board.Panel.Pixel(p.X, p.Y); got != rgb565.Magenta {
			t.Errorf("Pixel(%v) = 0x%04X, want magenta", p, got)
		}
	}

	board.Panel.ClearLog()
	if err := l.SetWindow(full); err != nil {
		t.Fatal(err)
	}
	if n := board.Panel.Count(cmdCASET); n != 1 {
		t.Errorf("SetWindow after FillScreen sent CASET %d times, want 1", n)
	}
}

func TestDisplayPower(t *testing.T) {
	l, board, _ := newTestDev(t)
	if err := l.Init(); err != nil {
		t.Fatal(err)
	}
	if err := l.DisplayOn(); err != nil {
		t.Fatal(err)
	}
	if !board.Panel.On() || !l.IsOn() {
		t.Error("DisplayOn should enable the output")
	}
	if err := l.Invert(true); err != nil {
		t.Fatal(err)
	}
	if !board.Panel.Inverted() {
		t.Error("Invert(true) should invert the panel")
	}
	if err := l.Invert(false); err != nil {
		t.Fatal(err)
	}
	if board.Panel.Inverted() {
		t.Error("Invert(false) should restore the panel")
	}
	if err := l.DisplayOff(); err != nil {
		t.Fatal(err)
	}
	if err := l.Sleep(); err != nil {
		t.Fatal(err)
	}
	if board.Panel.On() || l.IsOn() || !board.Panel.Sleeping() {
		t.Error("DisplayOff and Sleep should blank and sleep the panel")
	}
}

func TestSetBacklight(t *testing.T) {
	tests := []struct {
		name      string
		level     int
		wantLevel int
		wantDuty  gpio.Duty
	}{
		{"off", 0, 0, 0},
		{"full", 255, 255, gpio.DutyMax},
		{"half", 128, 128, gpio.Duty(int64(gpio.DutyMax) * 128 / 255)},
		{"clamp high", 1000, 255, gpio.DutyMax},
		{"clamp low", -5, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, board, _ := newTestDev(t)
			if err := l.SetBacklight(tt.level); err != nil {
				t.Fatal(err)
			}
			if l.Backlight() != tt.wantLevel {
				t.Errorf("Backlight() = %d, want %d", l.Backlight(), tt.wantLevel)
			}
			if got := board.Backlight(); got != tt.wantDuty {
				t.Errorf("duty = %v, want %v", got, tt.wantDuty)
			}
		})
	}
}

func TestDevString(t *testing.T) {
	l, _, _ := newTestDev(t)
	want := "st7735.Dev{lcd, 160x128}"
	if got := l.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

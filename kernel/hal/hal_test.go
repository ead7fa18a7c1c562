package hal

import (
	"image/color"
	"pios/device/video/console"
	"testing"
)

// fakeConsole is a minimal console.Device stand-in so ClearConsole can be
// exercised without probing real VGA/VESA hardware.
type fakeConsole struct {
	width, height uint32
	fg, bg        uint8
	filled        []fillCall
}

type fillCall struct {
	x, y, w, h uint32
	fg, bg     uint8
}

func (c *fakeConsole) Dimensions(console.Dimension) (uint32, uint32) { return c.width, c.height }
func (c *fakeConsole) DefaultColors() (uint8, uint8)                 { return c.fg, c.bg }
func (c *fakeConsole) Fill(x, y, width, height uint32, fg, bg uint8) {
	c.filled = append(c.filled, fillCall{x, y, width, height, fg, bg})
}
func (c *fakeConsole) Scroll(console.ScrollDir, uint32)        {}
func (c *fakeConsole) Write(byte, uint8, uint8, uint32, uint32) {}
func (c *fakeConsole) Palette() color.Palette                  { return nil }
func (c *fakeConsole) SetPaletteColor(uint8, color.RGBA)       {}

func TestClearConsoleIsNoOpWithoutActiveConsole(t *testing.T) {
	devices.activeConsole = nil
	ClearConsole() // must not panic
}

func TestClearConsoleFillsEntireActiveConsole(t *testing.T) {
	cons := &fakeConsole{width: 80, height: 25, fg: 7, bg: 0}
	devices.activeConsole = cons
	t.Cleanup(func() { devices.activeConsole = nil })

	ClearConsole()

	if len(cons.filled) != 1 {
		t.Fatalf("expected exactly one Fill call, got %d", len(cons.filled))
	}
	got := cons.filled[0]
	want := fillCall{1, 1, 80, 25, 7, 0}
	if got != want {
		t.Fatalf("Fill call = %+v, want %+v", got, want)
	}
}

func TestActiveConsoleReturnsProbedConsole(t *testing.T) {
	cons := &fakeConsole{width: 80, height: 25}
	devices.activeConsole = cons
	t.Cleanup(func() { devices.activeConsole = nil })

	if ActiveConsole() != console.Device(cons) {
		t.Fatal("expected ActiveConsole to return the installed console")
	}
}

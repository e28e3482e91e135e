package preview

import (
	"image"
	"image/color"
	"sync"

	"periph.io/x/conn/v3/display"
	"periph.io/x/extra/devices/screen"

	"github.com/coreman2200/pixelwire/internal/buffer"
)

// Console draws frames of one strip on a display, the terminal by default.
// Element bytes are shown as they go on the wire: the first three as red,
// green and blue, whatever the chip's color order.
type Console struct {
	Drawer display.Drawer
	Strip  string
	Layout buffer.Layout
	// Every draws every n-th frame only.
	Every int

	mu  sync.Mutex
	img *image.NRGBA
}

// NewConsole returns a console drawing strip on the terminal.
func NewConsole(strip string, l buffer.Layout, every int) *Console {
	return &Console{Drawer: screen.New(l.PixelCount), Strip: strip, Layout: l, Every: every}
}

// Frame draws data if it belongs to the console's strip. It matches
// runner.Looper.OnFrame.
func (c *Console) Frame(strip string, frame uint64, data []byte) {
	if strip != c.Strip || (c.Every > 1 && frame%uint64(c.Every) != 0) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n, size := c.Layout.PixelCount, c.Layout.ElementSize
	if c.img == nil {
		c.img = image.NewNRGBA(image.Rect(0, 0, n, 1))
	}
	px := c.Layout.Pixels(data)
	for x := 0; x < n; x++ {
		var rgb [3]byte
		copy(rgb[:], px[x*size:x*size+size])
		c.img.SetNRGBA(x, 0, color.NRGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 255})
	}
	_ = c.Drawer.Draw(c.Drawer.Bounds(), c.img, image.Point{})
}

// Halt clears the display.
func (c *Console) Halt() error { return c.Drawer.Halt() }

// Package testsrc implements a synthetic camera that renders moving colour
// bars. It needs no hardware and is used for demos and tests.
package testsrc

import (
	"context"
	"fmt"
	"sync"

	"github.com/mengelbart/camrelay"
	"golang.org/x/time/rate"
)

type Option func(*Device) error

func Size(width, height int) Option {
	return func(d *Device) error {
		if width <= 0 || height <= 0 {
			return fmt.Errorf("invalid frame size %dx%d", width, height)
		}
		d.width = width
		d.height = height
		return nil
	}
}

func Format(f camrelay.PixelFormat) Option {
	return func(d *Device) error {
		switch f {
		case camrelay.BGR, camrelay.RGB, camrelay.GRAY8:
			d.format = f
			return nil
		}
		return fmt.Errorf("unsupported test pattern format: %v", f)
	}
}

func FrameRate(r camrelay.FrameRate) Option {
	return func(d *Device) error {
		if r.Interval() <= 0 {
			return fmt.Errorf("invalid frame rate: %v", r)
		}
		d.frameRate = r
		return nil
	}
}

// MissEvery makes every n-th acquisition a transient miss. Zero disables
// miss injection.
func MissEvery(n int) Option {
	return func(d *Device) error {
		if n < 0 {
			return fmt.Errorf("invalid miss interval: %d", n)
		}
		d.missEvery = n
		return nil
	}
}

// Device produces frames at a fixed rate. It implements camrelay.Device.
type Device struct {
	width     int
	height    int
	format    camrelay.PixelFormat
	frameRate camrelay.FrameRate
	missEvery int

	limiter *rate.Limiter

	lock     sync.Mutex
	attempts int
	rendered int
	closed   bool
}

func New(opts ...Option) (*Device, error) {
	d := &Device{
		width:     640,
		height:    480,
		format:    camrelay.BGR,
		frameRate: camrelay.DefaultFrameRate,
		missEvery: 0,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	d.limiter = rate.NewLimiter(rate.Every(d.frameRate.Interval()), 1)
	return d, nil
}

func (d *Device) Acquire(ctx context.Context) (camrelay.Frame, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return camrelay.Frame{}, err
	}

	d.lock.Lock()
	defer d.lock.Unlock()
	if d.closed {
		return camrelay.Frame{}, fmt.Errorf("test source closed")
	}
	d.attempts++
	if d.missEvery > 0 && d.attempts%d.missEvery == 0 {
		return camrelay.Frame{}, fmt.Errorf("injected miss %d: %w", d.attempts, camrelay.ErrTransientMiss)
	}
	data := d.render(d.rendered)
	d.rendered++
	return camrelay.Frame{
		Width:  d.width,
		Height: d.height,
		Format: d.format,
		Data:   data,
	}, nil
}

func (d *Device) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.closed = true
	return nil
}

var bars = [][3]byte{
	{255, 255, 255},
	{0, 255, 255},
	{255, 255, 0},
	{0, 255, 0},
	{255, 0, 255},
	{0, 0, 255},
	{255, 0, 0},
	{0, 0, 0},
}

// render draws eight vertical bars (BGR order) shifted by one column per
// frame.
func (d *Device) render(n int) []byte {
	bpp := d.format.FrameSize(1, 1)
	buf := make([]byte, d.format.FrameSize(d.width, d.height))
	barWidth := max(d.width/len(bars), 1)
	for x := range d.width {
		c := bars[((x+n)/barWidth)%len(bars)]
		var px []byte
		switch d.format {
		case camrelay.BGR:
			px = c[:]
		case camrelay.RGB:
			px = []byte{c[2], c[1], c[0]}
		case camrelay.GRAY8:
			px = []byte{byte((int(c[0])*29 + int(c[1])*150 + int(c[2])*77) >> 8)}
		}
		for y := range d.height {
			copy(buf[(y*d.width+x)*bpp:], px)
		}
	}
	return buf
}

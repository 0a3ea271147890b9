package subcmd

import (
	"fmt"

	"github.com/mengelbart/camrelay"
	"github.com/mengelbart/camrelay/flags"
	"github.com/mengelbart/camrelay/gstreamer"
	"github.com/mengelbart/camrelay/internal/config"
	"github.com/mengelbart/camrelay/ivf"
	"github.com/mengelbart/camrelay/testsrc"
)

// deviceSpec describes how to open a frame source.
type deviceSpec struct {
	kind   string
	path   string
	width  int
	height int
	format camrelay.PixelFormat
	rate   camrelay.FrameRate
	loop   bool
}

func deviceSpecFromFlags(rate camrelay.FrameRate) (deviceSpec, error) {
	format, err := camrelay.ParsePixelFormat(flags.Format)
	if err != nil {
		return deviceSpec{}, err
	}
	return deviceSpec{
		kind:   flags.Device,
		path:   flags.DevicePath,
		width:  int(flags.Width),
		height: int(flags.Height),
		format: format,
		rate:   rate,
		loop:   flags.Loop,
	}, nil
}

func deviceSpecFromMount(m config.Mount, rate camrelay.FrameRate) deviceSpec {
	return deviceSpec{
		kind:   m.Device.Kind,
		path:   m.Device.Path,
		width:  m.Device.Width,
		height: m.Device.Height,
		format: m.PixelFormat(),
		rate:   rate,
		loop:   m.Device.Loop,
	}
}

func (d deviceSpec) open() (camrelay.Device, error) {
	switch d.kind {
	case config.DeviceTestsrc:
		return testsrc.New(
			testsrc.Size(d.width, d.height),
			testsrc.Format(d.format),
			testsrc.FrameRate(d.rate),
		)
	case config.DeviceIVF:
		return ivf.Open(d.path, ivf.Loop(d.loop))
	case config.DeviceV4L2, config.DeviceVideotestsrc:
		source, err := gstreamer.ParseSource(d.kind)
		if err != nil {
			return nil, err
		}
		return gstreamer.NewCapture(
			gstreamer.CaptureSource(source),
			gstreamer.CaptureDevice(d.path),
			gstreamer.CaptureSize(d.width, d.height),
			gstreamer.CaptureFormat(d.format),
			gstreamer.CaptureFrameRate(d.rate),
		)
	}
	return nil, fmt.Errorf("unknown device kind: %q", d.kind)
}

// describe returns the format and size of the frames the device produces.
// IVF files are opened to read their header.
func (d deviceSpec) describe() (camrelay.PixelFormat, int, int, error) {
	if d.kind != config.DeviceIVF {
		return d.format, d.width, d.height, nil
	}
	src, err := ivf.Open(d.path)
	if err != nil {
		return "", 0, 0, err
	}
	defer src.Close()
	width, height := src.Size()
	return src.Format(), width, height, nil
}

package gstreamer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
	"github.com/mengelbart/camrelay"
)

type Source int

const (
	V4L2Src Source = iota
	Videotestsrc
)

func ParseSource(s string) (Source, error) {
	switch s {
	case "v4l2", "v4l2src":
		return V4L2Src, nil
	case "test", "videotestsrc":
		return Videotestsrc, nil
	}
	return 0, fmt.Errorf("unknown capture source: %q", s)
}

// pollInterval bounds how long Acquire waits on the appsink before it
// checks the context and the bus again.
const pollInterval = 100 * time.Millisecond

type CaptureOption func(*Capture) error

func CaptureSource(source Source) CaptureOption {
	return func(c *Capture) error {
		c.source = source
		return nil
	}
}

// CaptureDevice sets the V4L2 device node, e.g. /dev/video0.
func CaptureDevice(path string) CaptureOption {
	return func(c *Capture) error {
		c.device = path
		return nil
	}
}

func CaptureSize(width, height int) CaptureOption {
	return func(c *Capture) error {
		if width <= 0 || height <= 0 {
			return fmt.Errorf("invalid capture size %dx%d", width, height)
		}
		c.width = width
		c.height = height
		return nil
	}
}

func CaptureFormat(format camrelay.PixelFormat) CaptureOption {
	return func(c *Capture) error {
		if format.Encoded() || format.FrameSize(1, 1) == 0 {
			return fmt.Errorf("unsupported capture format: %v", format)
		}
		c.format = format
		return nil
	}
}

func CaptureFrameRate(r camrelay.FrameRate) CaptureOption {
	return func(c *Capture) error {
		if r.Interval() <= 0 {
			return fmt.Errorf("invalid frame rate: %v", r)
		}
		c.frameRate = r
		return nil
	}
}

// CaptureMissTimeout sets how long Acquire waits for a sample before it
// reports a transient miss.
func CaptureMissTimeout(d time.Duration) CaptureOption {
	return func(c *Capture) error {
		if d <= 0 {
			return fmt.Errorf("invalid miss timeout: %v", d)
		}
		c.missTimeout = d
		return nil
	}
}

// Capture reads raw frames from a camera through an appsink. It implements
// camrelay.Device.
type Capture struct {
	source      Source
	device      string
	width       int
	height      int
	format      camrelay.PixelFormat
	frameRate   camrelay.FrameRate
	missTimeout time.Duration

	pipeline *gst.Pipeline
	sink     *app.Sink

	closeOnce sync.Once
	closeErr  error
}

func NewCapture(opts ...CaptureOption) (*Capture, error) {
	c := &Capture{
		source:      V4L2Src,
		device:      "/dev/video0",
		width:       640,
		height:      480,
		format:      camrelay.BGR,
		frameRate:   camrelay.DefaultFrameRate,
		missTimeout: time.Second,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	Init()
	var err error
	c.pipeline, err = gst.NewPipeline("")
	if err != nil {
		return nil, err
	}

	var src *gst.Element
	switch c.source {
	case V4L2Src:
		src, err = gst.NewElementWithProperties("v4l2src", map[string]any{
			"device": c.device,
		})
	case Videotestsrc:
		src, err = gst.NewElementWithProperties("videotestsrc", map[string]any{
			"is-live": true,
		})
	default:
		err = fmt.Errorf("unknown capture source: %v", c.source)
	}
	if err != nil {
		return nil, err
	}

	elements := []*gst.Element{src}
	for _, name := range []string{"videoconvert", "videoscale", "videorate"} {
		e, err := gst.NewElement(name)
		if err != nil {
			return nil, err
		}
		elements = append(elements, e)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, err
	}
	if err = capsfilter.SetProperty("caps", gst.NewCapsFromString(rawCaps(c.format, c.width, c.height, c.frameRate))); err != nil {
		return nil, err
	}

	c.sink, err = app.NewAppSink()
	if err != nil {
		return nil, err
	}
	// The relay decides which frames to drop, the sink only keeps a small
	// backlog so a slow Acquire does not stall the camera.
	if err = SetProperties(c.sink.Element, map[string]any{
		"sync":        false,
		"max-buffers": uint(2),
		"drop":        true,
	}); err != nil {
		return nil, err
	}
	elements = append(elements, capsfilter, c.sink.Element)

	if err = c.pipeline.AddMany(elements...); err != nil {
		return nil, err
	}
	if err = gst.ElementLinkMany(elements...); err != nil {
		return nil, err
	}
	if err = c.pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("failed to start capture pipeline: %w", err)
	}
	slog.Info("capture pipeline started",
		"source", c.source,
		"device", c.device,
		"caps", rawCaps(c.format, c.width, c.height, c.frameRate),
	)
	return c, nil
}

func (s Source) String() string {
	switch s {
	case V4L2Src:
		return "v4l2src"
	case Videotestsrc:
		return "videotestsrc"
	}
	return "unknown"
}

func rawCaps(format camrelay.PixelFormat, width, height int, rate camrelay.FrameRate) string {
	return fmt.Sprintf("video/x-raw,format=%s,width=%d,height=%d,framerate=%d/%d", format, width, height, rate.Num, rate.Den)
}

// Acquire pulls the next sample. An empty pull within the miss timeout is a
// transient miss, EOS and pipeline errors are fatal.
func (c *Capture) Acquire(ctx context.Context) (camrelay.Frame, error) {
	deadline := time.Now().Add(c.missTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return camrelay.Frame{}, err
		}
		if err := c.busError(); err != nil {
			return camrelay.Frame{}, err
		}
		if c.sink.IsEOS() {
			return camrelay.Frame{}, io.EOF
		}
		wait := min(pollInterval, time.Until(deadline))
		if wait <= 0 {
			return camrelay.Frame{}, fmt.Errorf("no sample within %v: %w", c.missTimeout, camrelay.ErrTransientMiss)
		}
		sample := c.sink.TryPullSample(gst.ClockTime(wait))
		if sample == nil {
			continue
		}
		return c.frameFromSample(sample)
	}
}

func (c *Capture) frameFromSample(sample *gst.Sample) (camrelay.Frame, error) {
	buffer := sample.GetBuffer()
	if buffer == nil {
		return camrelay.Frame{}, fmt.Errorf("sample without buffer: %w", camrelay.ErrTransientMiss)
	}
	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.AsUint8Slice()
	if len(data) == 0 {
		buffer.Unmap()
		return camrelay.Frame{}, fmt.Errorf("empty buffer: %w", camrelay.ErrTransientMiss)
	}
	// the buffer is reused by GStreamer once unmapped
	frame := make([]byte, len(data))
	copy(frame, data)
	buffer.Unmap()

	if want := c.format.FrameSize(c.width, c.height); want > 0 && len(frame) < want {
		return camrelay.Frame{}, fmt.Errorf("short frame %d < %d bytes: %w", len(frame), want, camrelay.ErrTransientMiss)
	}
	return camrelay.Frame{
		Width:      c.width,
		Height:     c.height,
		Format:     c.format,
		Data:       frame,
		CapturedAt: time.Now(),
	}, nil
}

func (c *Capture) busError() error {
	bus := c.pipeline.GetPipelineBus()
	for {
		msg := bus.Pop()
		if msg == nil {
			return nil
		}
		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("capture pipeline error", "error", gerr.Error(), "debug", gerr.DebugString())
			return fmt.Errorf("capture pipeline: %s", gerr.Error())
		case gst.MessageEOS:
			return io.EOF
		}
	}
}

func (c *Capture) Close() error {
	c.closeOnce.Do(func() {
		if c.pipeline == nil {
			c.closeErr = errors.New("capture pipeline not initialized")
			return
		}
		c.closeErr = c.pipeline.BlockSetState(gst.StateNull)
	})
	return c.closeErr
}

package gstreamer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
	"github.com/mengelbart/camrelay"
)

type EncoderOption func(*Encoder) error

func EncoderCodec(codec Codec) EncoderOption {
	return func(e *Encoder) error {
		e.codec = codec
		return nil
	}
}

// EncoderDestination sets the UDP host and port RTP packets are sent to.
func EncoderDestination(host string, port int) EncoderOption {
	return func(e *Encoder) error {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("invalid port: %d", port)
		}
		e.host = host
		e.port = port
		return nil
	}
}

func EncoderPayloadType(pt uint8) EncoderOption {
	return func(e *Encoder) error {
		e.payloadType = pt
		return nil
	}
}

// EncoderBitrate sets the target bitrate in kbit/s.
func EncoderBitrate(kbps uint) EncoderOption {
	return func(e *Encoder) error {
		e.bitrate = kbps
		return nil
	}
}

func EncoderMTU(mtu uint) EncoderOption {
	return func(e *Encoder) error {
		e.mtu = mtu
		return nil
	}
}

// EncoderInput describes the raw frames the encoder is fed with.
func EncoderInput(format camrelay.PixelFormat, width, height int, rate camrelay.FrameRate) EncoderOption {
	return func(e *Encoder) error {
		if format.Encoded() || format.FrameSize(1, 1) == 0 {
			return fmt.Errorf("encoder needs raw input, got %v", format)
		}
		if width <= 0 || height <= 0 {
			return fmt.Errorf("invalid input size %dx%d", width, height)
		}
		if rate.Interval() <= 0 {
			return fmt.Errorf("invalid frame rate: %v", rate)
		}
		e.format = format
		e.width = width
		e.height = height
		e.frameRate = rate
		return nil
	}
}

func EncoderTraceRTP(trace bool) EncoderOption {
	return func(e *Encoder) error {
		e.traceRTP = trace
		return nil
	}
}

// Encoder compresses raw frames and sends them as RTP over UDP:
//
//	appsrc ! videoconvert ! x264enc/vp8enc ! rtph264pay/rtpvp8pay ! udpsink
//
// Frames are pushed with Emit. With DemandFrom the encoder pulls frames
// itself whenever appsrc runs low, otherwise the caller pushes at will.
type Encoder struct {
	codec       Codec
	host        string
	port        int
	payloadType uint8
	bitrate     uint
	mtu         uint
	format      camrelay.PixelFormat
	width       int
	height      int
	frameRate   camrelay.FrameRate
	traceRTP    bool

	pipeline *gst.Pipeline
	src      *app.Source

	demander camrelay.Demander
	stopping atomic.Bool

	lock      sync.Mutex
	err       error
	closeOnce sync.Once
}

func NewEncoder(opts ...EncoderOption) (*Encoder, error) {
	e := &Encoder{
		codec:       H264,
		host:        "127.0.0.1",
		port:        5000,
		payloadType: 96,
		bitrate:     800,
		mtu:         1200,
		format:      camrelay.BGR,
		width:       640,
		height:      480,
		frameRate:   camrelay.DefaultFrameRate,
		traceRTP:    false,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	Init()
	var err error
	e.pipeline, err = gst.NewPipeline("")
	if err != nil {
		return nil, err
	}
	e.src, err = app.NewAppSrc()
	if err != nil {
		return nil, err
	}
	e.src.SetCaps(gst.NewCapsFromString(rawCaps(e.format, e.width, e.height, e.frameRate)))
	if err = SetProperties(e.src.Element, map[string]any{
		"is-live":      true,
		"format":       gst.FormatTime,
		"do-timestamp": false,
	}); err != nil {
		return nil, err
	}

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, err
	}
	encoder, payloader, err := e.codec.elements(e.bitrate, e.payloadType, e.mtu)
	if err != nil {
		return nil, err
	}
	sink, err := newUDPSink(e.host, e.port)
	if err != nil {
		return nil, err
	}

	elements := []*gst.Element{e.src.Element, convert, encoder, payloader, sink}
	if err = e.pipeline.AddMany(elements...); err != nil {
		return nil, err
	}
	if err = gst.ElementLinkMany(elements...); err != nil {
		return nil, err
	}
	if e.traceRTP {
		payloader.GetStaticPad("src").AddProbe(gst.PadProbeTypeBuffer|gst.PadProbeTypeBufferList, rtpLogPadProbe("encoder"))
	}
	return e, nil
}

// DemandFrom makes appsrc pull frames from d. It must be called before Run.
func (e *Encoder) DemandFrom(d camrelay.Demander) {
	e.demander = d
	e.src.SetCallbacks(&app.SourceCallbacks{
		NeedDataFunc: e.needData,
	})
}

func (e *Encoder) needData(self *app.Source, length uint) {
	for !e.stopping.Load() {
		ok, err := e.demander.Demand(length)
		if err != nil {
			e.fail(err)
			self.EndStream()
			return
		}
		if ok {
			return
		}
		// take timeout, keep asking until a frame shows up
	}
}

// Emit implements camrelay.Transport.
func (e *Encoder) Emit(tf camrelay.TimedFrame) error {
	if tf.Format != e.format || tf.Width != e.width || tf.Height != e.height {
		return fmt.Errorf("frame %v %dx%d does not match encoder input %v %dx%d",
			tf.Format, tf.Width, tf.Height, e.format, e.width, e.height)
	}
	buf := gst.NewBufferFromBytes(tf.Data)
	buf.SetPresentationTimestamp(gst.ClockTime(tf.PTS))
	buf.SetDuration(gst.ClockTime(tf.Duration))
	if ret := e.src.PushBuffer(buf); ret != gst.FlowOK {
		return fmt.Errorf("push buffer: %v", ret)
	}
	return nil
}

// Run plays the pipeline until ctx is done, the stream ends or the
// pipeline fails. A stream ended by a stopped session returns nil.
func (e *Encoder) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		e.stopping.Store(true)
	})
	defer stop()

	slog.Info("encoder running", "codec", e.codec, "host", e.host, "port", e.port)
	err := runPipeline(ctx, e.pipeline, e.Err)
	if errors.Is(err, camrelay.ErrSessionStopped) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Start plays the pipeline without a main loop, for use with Emit only.
func (e *Encoder) Start() error {
	return e.pipeline.SetState(gst.StatePlaying)
}

func (e *Encoder) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.stopping.Store(true)
		e.src.EndStream()
		err = e.pipeline.BlockSetState(gst.StateNull)
	})
	return err
}

func (e *Encoder) fail(err error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.err == nil {
		e.err = err
	}
}

// Err returns the error that ended the stream.
func (e *Encoder) Err() error {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.err
}

// Package ivf replays pre-encoded VP8, VP9 or AV1 frames from an IVF file as
// if they were captured live.
package ivf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/mengelbart/camrelay"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"golang.org/x/time/rate"
)

type SourceOption func(*Source) error

// Loop restarts the file from the beginning at EOF instead of failing.
func Loop(loop bool) SourceOption {
	return func(s *Source) error {
		s.loop = loop
		return nil
	}
}

// SourceFrameRate overrides the rate derived from the file header.
func SourceFrameRate(r camrelay.FrameRate) SourceOption {
	return func(s *Source) error {
		if r.Interval() <= 0 {
			return fmt.Errorf("invalid frame rate: %v", r)
		}
		s.frameRate = r
		return nil
	}
}

// Source implements camrelay.Device on top of an IVF stream.
type Source struct {
	loop      bool
	frameRate camrelay.FrameRate

	lock    sync.Mutex
	rs      io.ReadSeeker
	closer  io.Closer
	reader  *ivfreader.IVFReader
	header  *ivfreader.IVFFileHeader
	format  camrelay.PixelFormat
	limiter *rate.Limiter
	closed  bool
}

// Open opens an IVF file.
func Open(path string, opts ...SourceOption) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s, err := NewSource(f, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// NewSource reads the IVF header from rs. If rs is also an io.Closer it is
// closed by Close.
func NewSource(rs io.ReadSeeker, opts ...SourceOption) (*Source, error) {
	reader, header, err := ivfreader.NewWith(rs)
	if err != nil {
		return nil, err
	}
	format, err := formatFromFourCC(header.FourCC)
	if err != nil {
		return nil, err
	}
	s := &Source{
		loop:   false,
		rs:     rs,
		reader: reader,
		header: header,
		format: format,
	}
	if c, ok := rs.(io.Closer); ok {
		s.closer = c
	}
	// The header stores the rate as timebase denominator over numerator.
	s.frameRate = camrelay.FrameRate{Num: int(header.TimebaseDenominator), Den: int(header.TimebaseNumerator)}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.frameRate.Interval() <= 0 {
		return nil, fmt.Errorf("invalid IVF timebase %d/%d", header.TimebaseNumerator, header.TimebaseDenominator)
	}
	s.limiter = rate.NewLimiter(rate.Every(s.frameRate.Interval()), 1)
	return s, nil
}

func formatFromFourCC(fourCC string) (camrelay.PixelFormat, error) {
	switch fourCC {
	case "VP80":
		return camrelay.VP8, nil
	case "VP90":
		return camrelay.VP9, nil
	case "AV01":
		return camrelay.AV1, nil
	}
	return "", fmt.Errorf("unsupported IVF codec: %q", fourCC)
}

func (s *Source) Format() camrelay.PixelFormat {
	return s.format
}

func (s *Source) FrameRate() camrelay.FrameRate {
	return s.frameRate
}

func (s *Source) Size() (width, height int) {
	return int(s.header.Width), int(s.header.Height)
}

func (s *Source) Acquire(ctx context.Context) (camrelay.Frame, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return camrelay.Frame{}, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return camrelay.Frame{}, errors.New("ivf source closed")
	}

	payload, _, err := s.reader.ParseNextFrame()
	if errors.Is(err, io.EOF) && s.loop {
		if err = s.rewind(); err != nil {
			return camrelay.Frame{}, err
		}
		payload, _, err = s.reader.ParseNextFrame()
	}
	if err != nil {
		return camrelay.Frame{}, err
	}
	if len(payload) == 0 {
		return camrelay.Frame{}, fmt.Errorf("empty ivf frame: %w", camrelay.ErrTransientMiss)
	}
	return camrelay.Frame{
		Width:  int(s.header.Width),
		Height: int(s.header.Height),
		Format: s.format,
		Data:   payload,
	}, nil
}

func (s *Source) rewind() error {
	if _, err := s.rs.Seek(0, io.SeekStart); err != nil {
		return err
	}
	reader, _, err := ivfreader.NewWith(s.rs)
	if err != nil {
		return err
	}
	s.reader = reader
	slog.Debug("ivf source looped")
	return nil
}

func (s *Source) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

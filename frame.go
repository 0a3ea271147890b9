package camrelay

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PixelFormat tags the layout of Frame.Data. Raw formats describe packed or
// planar pixels, encoded formats carry one compressed access unit per frame.
type PixelFormat string

const (
	BGR   PixelFormat = "BGR"
	RGB   PixelFormat = "RGB"
	GRAY8 PixelFormat = "GRAY8"
	I420  PixelFormat = "I420"
	YUY2  PixelFormat = "YUY2"

	VP8  PixelFormat = "VP8"
	VP9  PixelFormat = "VP9"
	AV1  PixelFormat = "AV1"
	H264 PixelFormat = "H264"
)

func ParsePixelFormat(s string) (PixelFormat, error) {
	f := PixelFormat(strings.ToUpper(s))
	switch f {
	case BGR, RGB, GRAY8, I420, YUY2, VP8, VP9, AV1, H264:
		return f, nil
	}
	return "", fmt.Errorf("unknown pixel format: %q", s)
}

// Encoded reports whether frames of this format carry compressed payloads.
func (f PixelFormat) Encoded() bool {
	switch f {
	case VP8, VP9, AV1, H264:
		return true
	}
	return false
}

// FrameSize returns the number of bytes of a raw frame with the given
// dimensions, or 0 if the size is not fixed.
func (f PixelFormat) FrameSize(width, height int) int {
	switch f {
	case BGR, RGB:
		return width * height * 3
	case GRAY8:
		return width * height
	case YUY2:
		return width * height * 2
	case I420:
		return width*height + 2*((width+1)/2)*((height+1)/2)
	}
	return 0
}

// Frame is one captured image. A Frame is never modified after capture,
// ownership moves with the value from the device to the relay and on to
// the transport.
type Frame struct {
	Seq        uint64
	Width      int
	Height     int
	Format     PixelFormat
	Data       []byte
	CapturedAt time.Time
}

// TimedFrame is a Frame stamped for delivery.
type TimedFrame struct {
	Frame

	// PTS is Offset times Duration.
	PTS      time.Duration
	Duration time.Duration
	Offset   uint64
}

// FrameRate is a nominal frame rate of Num/Den frames per second.
type FrameRate struct {
	Num int
	Den int
}

// ParseFrameRate accepts "30", "30/1" or "30000/1001".
func ParseFrameRate(s string) (FrameRate, error) {
	num, den, found := strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.Atoi(num)
	if err != nil {
		return FrameRate{}, fmt.Errorf("invalid frame rate %q: %w", s, err)
	}
	d := 1
	if found {
		d, err = strconv.Atoi(den)
		if err != nil {
			return FrameRate{}, fmt.Errorf("invalid frame rate %q: %w", s, err)
		}
	}
	fr := FrameRate{Num: n, Den: d}
	if err := fr.validate(); err != nil {
		return FrameRate{}, err
	}
	return fr, nil
}

func (r FrameRate) validate() error {
	if r.Num <= 0 || r.Den <= 0 {
		return fmt.Errorf("invalid frame rate %d/%d", r.Num, r.Den)
	}
	return nil
}

// Interval returns the frame interval truncated to whole nanoseconds.
func (r FrameRate) Interval() time.Duration {
	if r.Num <= 0 || r.Den <= 0 {
		return 0
	}
	return time.Duration(int64(time.Second) * int64(r.Den) / int64(r.Num))
}

func (r FrameRate) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// UnmarshalText lets frame rates appear in flags and config files.
func (r *FrameRate) UnmarshalText(text []byte) error {
	fr, err := ParseFrameRate(string(text))
	if err != nil {
		return err
	}
	*r = fr
	return nil
}

func (r FrameRate) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

package gstreamer

import (
	"fmt"
	"strings"

	"github.com/go-gst/go-gst/gst"
)

type Codec int

const (
	H264 Codec = iota
	VP8
)

func ParseCodec(s string) (Codec, error) {
	switch strings.ToUpper(s) {
	case "H264":
		return H264, nil
	case "VP8":
		return VP8, nil
	}
	return 0, fmt.Errorf("unknown codec: %q", s)
}

func (c Codec) ClockRate() uint32 {
	return 90_000
}

// String returns the RTP encoding name.
func (c Codec) String() string {
	switch c {
	case H264:
		return "H264"
	case VP8:
		return "VP8"
	}
	return "unknown"
}

func (c Codec) MediaType() string {
	return "video"
}

// elements creates the encoder and RTP payloader for c. Bitrate is in kbit/s.
func (c Codec) elements(bitrate uint, payloadType uint8, mtu uint) (encoder, payloader *gst.Element, err error) {
	switch c {
	case H264:
		encoder, err = gst.NewElementWithProperties("x264enc", map[string]any{
			"tune":         4, // zerolatency
			"speed-preset": 1, // ultrafast
			"bitrate":      bitrate,
			"key-int-max":  uint(60),
		})
		if err != nil {
			return nil, nil, err
		}
		payloader, err = gst.NewElementWithProperties("rtph264pay", map[string]any{
			"config-interval": -1,
			"pt":              uint(payloadType),
			"mtu":             mtu,
		})
	case VP8:
		encoder, err = gst.NewElementWithProperties("vp8enc", map[string]any{
			"deadline":          int64(1),
			"target-bitrate":    int(bitrate * 1000),
			"keyframe-max-dist": 60,
		})
		if err != nil {
			return nil, nil, err
		}
		payloader, err = gst.NewElementWithProperties("rtpvp8pay", map[string]any{
			"pt":  uint(payloadType),
			"mtu": mtu,
		})
	default:
		err = fmt.Errorf("unknown codec: %v", c)
	}
	return encoder, payloader, err
}

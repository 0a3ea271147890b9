// Package flags implements command-line flags for camrelay.
//
// The design idea is taken from [upspin.io/flags], but most of the code is
// modified. This package uses a slightly modified version of [RegisterInto] and
// the internal [flags]-map. See [Upspin LICENSE] for upspins copyright and
// license information.
//
// [upspin.io/flags]: https://github.com/upspin/upspin/tree/334f107fe3d98225d7adfbb35b74e066fbca9875/flags
// [Upspin LICENSE]: https://github.com/upspin/upspin/blob/334f107fe3d98225d7adfbb35b74e066fbca9875/LICENSE
package flags

import (
	"flag"
	"fmt"
	"time"

	"github.com/mengelbart/camrelay"
)

type FlagName string

// flag keys
const (
	DeviceFlag     FlagName = "device"
	DevicePathFlag FlagName = "device-path"
	WidthFlag      FlagName = "width"
	HeightFlag     FlagName = "height"
	FormatFlag     FlagName = "format"
	LoopFlag       FlagName = "loop"

	FrameRateFlag     FlagName = "fps"
	CapacityFlag      FlagName = "capacity"
	TakeTimeoutFlag   FlagName = "take-timeout"
	MissThresholdFlag FlagName = "miss-threshold"
	DropPolicyFlag    FlagName = "drop-policy"
	StopTimeoutFlag   FlagName = "stop-timeout"

	RemoteAddrFlag  FlagName = "remote"
	RTPPortFlag     FlagName = "rtp-port"
	RTCPPortFlag    FlagName = "rtcp-port"
	PayloadTypeFlag FlagName = "payload-type"
	MTUFlag         FlagName = "mtu"
	CodecFlag       FlagName = "codec"
	BitrateFlag     FlagName = "bitrate"

	HTTPAddrFlag  FlagName = "http-address"
	HTTPSAddrFlag FlagName = "https-address"
	CertFlag      FlagName = "cert"
	KeyFlag       FlagName = "key"

	ConfigFlag FlagName = "config"

	TraceRTPSendFlag FlagName = "trace-rtp-send"
)

// Flag vars
var (
	// Device is testsrc, videotestsrc, v4l2 or ivf
	Device     = "testsrc"
	DevicePath = "/dev/video0"
	Width      = uint(640)
	Height     = uint(480)
	Format     = string(camrelay.BGR)
	Loop       = false

	FrameRate     = camrelay.DefaultFrameRate.String()
	Capacity      = uint(camrelay.DefaultCapacity)
	TakeTimeout   = camrelay.DefaultTakeTimeout
	MissThreshold = uint(camrelay.DefaultMissThreshold)
	DropPolicy    = camrelay.DropOldest.String()
	StopTimeout   = camrelay.DefaultStopTimeout

	RemoteAddr  = "127.0.0.1"
	RTPPort     = uint(5000)
	RTCPPort    = uint(5001)
	PayloadType = uint(96)
	MTU         = uint(1200)
	Codec       = "h264"
	// Bitrate in kbit/s
	Bitrate = uint(800)

	HTTPAddr  = "127.0.0.1:8080"
	HTTPSAddr = ""
	Cert      = ""
	Key       = ""

	Config = "camrelay.yaml"

	TraceRTPSend = false
)

type flagVar func(*flag.FlagSet)

func stringVar(p *string, name FlagName, defaultValue *string, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.StringVar(p, string(name), *defaultValue, usage)
	}
}

func uintVar(p *uint, name FlagName, defaultValue *uint, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.UintVar(p, string(name), *defaultValue, usage)
	}
}

func boolVar(p *bool, name FlagName, defaultValue *bool, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.BoolVar(p, string(name), *defaultValue, usage)
	}
}

func durationVar(p *time.Duration, name FlagName, defaultValue *time.Duration, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.DurationVar(p, string(name), *defaultValue, usage)
	}
}

var flags = map[FlagName]flagVar{
	// Device flags
	DeviceFlag:     stringVar(&Device, DeviceFlag, &Device, "Frame source: testsrc, videotestsrc, v4l2 or ivf"),
	DevicePathFlag: stringVar(&DevicePath, DevicePathFlag, &DevicePath, "V4L2 device node or IVF file"),
	WidthFlag:      uintVar(&Width, WidthFlag, &Width, "Frame width in pixels"),
	HeightFlag:     uintVar(&Height, HeightFlag, &Height, "Frame height in pixels"),
	FormatFlag:     stringVar(&Format, FormatFlag, &Format, "Raw pixel format (BGR, RGB, GRAY8, I420, YUY2)"),
	LoopFlag:       boolVar(&Loop, LoopFlag, &Loop, "Restart IVF files at the end instead of stopping"),

	// Relay flags
	FrameRateFlag:     stringVar(&FrameRate, FrameRateFlag, &FrameRate, "Nominal frame rate used for timestamps, e.g. 30 or 30000/1001"),
	CapacityFlag:      uintVar(&Capacity, CapacityFlag, &Capacity, "Number of frames the relay buffers"),
	TakeTimeoutFlag:   durationVar(&TakeTimeout, TakeTimeoutFlag, &TakeTimeout, "How long a demand signal waits for a frame"),
	MissThresholdFlag: uintVar(&MissThreshold, MissThresholdFlag, &MissThreshold, "Consecutive capture misses tolerated before the session fails"),
	DropPolicyFlag:    stringVar(&DropPolicy, DropPolicyFlag, &DropPolicy, "Frame to discard when the relay is full: drop-oldest or drop-newest"),
	StopTimeoutFlag:   durationVar(&StopTimeout, StopTimeoutFlag, &StopTimeout, "How long stop waits for the capture loop"),

	// Transport flags
	RemoteAddrFlag:  stringVar(&RemoteAddr, RemoteAddrFlag, &RemoteAddr, "Address of the RTP receiver"),
	RTPPortFlag:     uintVar(&RTPPort, RTPPortFlag, &RTPPort, "UDP Port number for outgoing RTP stream"),
	RTCPPortFlag:    uintVar(&RTCPPort, RTCPPortFlag, &RTCPPort, "UDP port for outgoing RTCP sender reports"),
	PayloadTypeFlag: uintVar(&PayloadType, PayloadTypeFlag, &PayloadType, "RTP payload type"),
	MTUFlag:         uintVar(&MTU, MTUFlag, &MTU, "Maximum size of RTP packets"),
	CodecFlag:       stringVar(&Codec, CodecFlag, &Codec, "Codec for raw sources (H264, VP8)"),
	BitrateFlag:     uintVar(&Bitrate, BitrateFlag, &Bitrate, "Encoder target bitrate in kbit/s"),

	// HTTP flags
	HTTPAddrFlag:  stringVar(&HTTPAddr, HTTPAddrFlag, &HTTPAddr, "HTTP Server address"),
	HTTPSAddrFlag: stringVar(&HTTPSAddr, HTTPSAddrFlag, &HTTPSAddr, "HTTPS Server address, requires <cert> and <key>"),
	CertFlag:      stringVar(&Cert, CertFlag, &Cert, "TLS Certificate"),
	KeyFlag:       stringVar(&Key, KeyFlag, &Key, "TLS Certificate key"),

	ConfigFlag: stringVar(&Config, ConfigFlag, &Config, "YAML configuration file"),

	// tracing flags
	TraceRTPSendFlag: boolVar(&TraceRTPSend, TraceRTPSendFlag, &TraceRTPSend, "Log outgoing RTP packets"),
}

func RegisterInto(fs *flag.FlagSet, names ...FlagName) {
	if len(names) == 0 {
		for _, f := range flags {
			f(fs)
		}
	} else {
		for _, n := range names {
			f, ok := flags[n]
			if !ok {
				panic(fmt.Sprintf("unknown flag: %q", n))
			}
			f(fs)
		}
	}
}

// SessionConfig builds a session configuration from the relay flags.
func SessionConfig() (camrelay.Config, error) {
	rate, err := camrelay.ParseFrameRate(FrameRate)
	if err != nil {
		return camrelay.Config{}, err
	}
	policy, err := camrelay.ParseDropPolicy(DropPolicy)
	if err != nil {
		return camrelay.Config{}, err
	}
	cfg := camrelay.Config{
		FrameRate:     rate,
		Capacity:      int(Capacity),
		TakeTimeout:   TakeTimeout,
		MissThreshold: int(MissThreshold),
		DropPolicy:    policy,
		StopTimeout:   StopTimeout,
	}
	return cfg, cfg.Validate()
}

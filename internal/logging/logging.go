package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

type Format string

const (
	TextFormat Format = "text"
	JSONFormat Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case TextFormat, JSONFormat:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown logging format: %q", s)
}

// ParseLevel accepts slog level names such as "debug" or "warn+2" as well as
// plain numbers.
func ParseLevel(s string) (slog.Level, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return slog.Level(n), nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown logging level: %q", s)
	}
	return level, nil
}

// Configure installs the default slog logger. A nil writer logs to stderr.
func Configure(format Format, level slog.Level, writer io.Writer, addSource bool) {
	if writer == nil {
		writer = os.Stderr
	}
	ho := &slog.HandlerOptions{
		AddSource:   addSource,
		Level:       level,
		ReplaceAttr: nil,
	}
	switch format {
	case JSONFormat:
		slog.SetDefault(slog.New(slog.NewJSONHandler(writer, ho)))
	case TextFormat:
		slog.SetDefault(slog.New(slog.NewTextHandler(writer, ho)))
	default:
		panic(fmt.Sprintf("unexpected logging.format: %#v", format))
	}
}

// RTPLogger traces outgoing RTP and RTCP packets.
type RTPLogger struct {
	logger *slog.Logger
	seq    *Unwrapper
}

func NewRTPLogger(vantagePoint string, logger *slog.Logger) *RTPLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &RTPLogger{
		logger: logger.With("vantage-point", vantagePoint),
		seq:    &Unwrapper{},
	}
}

func (l *RTPLogger) LogRTPPacket(header *rtp.Header, payload []byte, _ interceptor.Attributes) {
	u := l.seq.Unwrap(header.SequenceNumber)
	l.logger.Info(
		"rtp packet",
		"marker", header.Marker,
		"payload-type", header.PayloadType,
		"sequence-number", header.SequenceNumber,
		"unwrapped-sequence-number", u,
		"timestamp", header.Timestamp,
		"ssrc", header.SSRC,
		"payload-length", header.MarshalSize()+len(payload),
	)
}

func (l *RTPLogger) LogRTPPacketBuf(rtpBuf []byte, ia interceptor.Attributes) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(rtpBuf); err != nil {
		return
	}
	l.LogRTPPacket(&pkt.Header, pkt.Payload, ia)
}

func (l *RTPLogger) LogRTCPPackets(pkts []rtcp.Packet, _ interceptor.Attributes) {
	for _, pkt := range pkts {
		switch p := pkt.(type) {
		case *rtcp.SenderReport:
			l.logger.Info(
				"rtcp sender report",
				"ssrc", p.SSRC,
				"ntp-time", p.NTPTime,
				"rtp-time", p.RTPTime,
				"packet-count", p.PacketCount,
				"octet-count", p.OctetCount,
			)
		default:
			l.logger.Info("rtcp packet", "type", fmt.Sprintf("%T", p))
		}
	}
}

package rtp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/mengelbart/camrelay"
	"github.com/mengelbart/camrelay/internal/logging"
	"github.com/pion/rtcp"
)

const (
	DefaultMTU         = 1200
	DefaultPayloadType = 96
	DefaultClockRate   = 90_000
)

type SenderOption func(*Sender) error

func SenderMTU(mtu uint16) SenderOption {
	return func(s *Sender) error {
		if mtu < 100 {
			return fmt.Errorf("MTU too small: %d", mtu)
		}
		s.mtu = mtu
		return nil
	}
}

func SenderPayloadType(pt uint8) SenderOption {
	return func(s *Sender) error {
		if pt > 127 {
			return fmt.Errorf("invalid payload type: %d", pt)
		}
		s.payloadType = pt
		return nil
	}
}

func SenderSSRC(ssrc uint32) SenderOption {
	return func(s *Sender) error {
		s.ssrc = ssrc
		return nil
	}
}

func SenderClockRate(rate uint32) SenderOption {
	return func(s *Sender) error {
		if rate == 0 {
			return errors.New("invalid clock rate: 0")
		}
		s.clockRate = rate
		return nil
	}
}

// SenderFrameRate sets the nominal frame rate of the stream. RTP timestamps
// are then derived from the frame offset instead of the truncated PTS.
func SenderFrameRate(r camrelay.FrameRate) SenderOption {
	return func(s *Sender) error {
		if r.Interval() <= 0 {
			return fmt.Errorf("invalid frame rate: %v", r)
		}
		s.frameRate = r
		return nil
	}
}

// RTCPWriter enables RTCP sender reports written to w.
func RTCPWriter(w io.Writer) SenderOption {
	return func(s *Sender) error {
		s.rtcpWriter = w
		return nil
	}
}

func TraceRTP(trace bool) SenderOption {
	return func(s *Sender) error {
		if trace {
			s.tracer = logging.NewRTPLogger("sender", nil)
		}
		return nil
	}
}

// Sender packetizes encoded frames and writes one RTP packet per Write to
// an io.Writer, typically a connected UDP socket. It implements
// camrelay.Transport.
type Sender struct {
	format      camrelay.PixelFormat
	mtu         uint16
	payloadType uint8
	ssrc        uint32
	clockRate   uint32
	frameRate   camrelay.FrameRate

	rtpWriter  io.Writer
	rtcpWriter io.Writer
	tracer     *logging.RTPLogger
	packetizer *Packetizer

	lock     sync.Mutex
	packets  uint32
	octets   uint32
	lastRTP  uint32
	lastSent time.Time
	closed   bool
}

func NewSender(w io.Writer, format camrelay.PixelFormat, opts ...SenderOption) (*Sender, error) {
	s := &Sender{
		format:      format,
		mtu:         DefaultMTU,
		payloadType: DefaultPayloadType,
		ssrc:        rand.Uint32(),
		clockRate:   DefaultClockRate,
		rtpWriter:   w,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	var err error
	s.packetizer, err = NewPacketizer(format, s.mtu, s.payloadType, s.ssrc, s.clockRate)
	if err != nil {
		return nil, err
	}
	s.packetizer.SetFrameRate(s.frameRate)
	return s, nil
}

func (s *Sender) SSRC() uint32 {
	return s.ssrc
}

func (s *Sender) PayloadType() uint8 {
	return s.payloadType
}

func (s *Sender) ClockRate() uint32 {
	return s.clockRate
}

// Emit implements camrelay.Transport.
func (s *Sender) Emit(tf camrelay.TimedFrame) error {
	if tf.Format != s.format {
		return fmt.Errorf("sender expects %v frames, got %v", s.format, tf.Format)
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}

	pkts := s.packetizer.Packetize(tf)
	for _, pkt := range pkts {
		buf, err := pkt.Marshal()
		if err != nil {
			return err
		}
		if _, err = s.rtpWriter.Write(buf); err != nil {
			return err
		}
		s.packets++
		s.octets += uint32(len(pkt.Payload))
		if s.tracer != nil {
			s.tracer.LogRTPPacket(&pkt.Header, pkt.Payload, nil)
		}
	}
	if len(pkts) > 0 {
		s.lastRTP = pkts[0].Timestamp
		s.lastSent = time.Now()
	}
	return nil
}

// SenderReport maps now to the RTP timeline by extrapolating from the last
// sent frame.
func (s *Sender) SenderReport(now time.Time) *rtcp.SenderReport {
	s.lock.Lock()
	defer s.lock.Unlock()
	rtpTime := s.lastRTP
	if !s.lastSent.IsZero() && now.After(s.lastSent) {
		rtpTime += mediaTime(now.Sub(s.lastSent), s.clockRate)
	}
	return &rtcp.SenderReport{
		SSRC:        s.ssrc,
		NTPTime:     ntpTime(now),
		RTPTime:     rtpTime,
		PacketCount: s.packets,
		OctetCount:  s.octets,
	}
}

// RunReports writes a sender report every interval until ctx is done.
func (s *Sender) RunReports(ctx context.Context, interval time.Duration) error {
	if s.rtcpWriter == nil {
		return errors.New("no RTCP writer configured")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			sr := s.SenderReport(now)
			buf, err := sr.Marshal()
			if err != nil {
				return err
			}
			if _, err = s.rtcpWriter.Write(buf); err != nil {
				return err
			}
			if s.tracer != nil {
				s.tracer.LogRTCPPackets([]rtcp.Packet{sr}, nil)
			}
		}
	}
}

// Run pumps frames from d until the session ends or ctx is done. It returns
// nil if the session was stopped and the fatal error otherwise.
func (s *Sender) Run(ctx context.Context, d camrelay.Demander) error {
	for ctx.Err() == nil {
		if _, err := d.Demand(0); err != nil {
			if errors.Is(err, camrelay.ErrSessionStopped) {
				return nil
			}
			var fse *camrelay.FatalSourceError
			if errors.As(err, &fse) {
				return err
			}
			slog.Warn("failed to send frame", "ssrc", s.ssrc, "error", err)
		}
	}
	return nil
}

// Close closes the underlying writers if they implement io.Closer.
func (s *Sender) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for _, w := range []io.Writer{s.rtpWriter, s.rtcpWriter} {
		if c, ok := w.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// ntpTime converts t to the 64-bit NTP timestamp format used in RTCP.
func ntpTime(t time.Time) uint64 {
	const ntpEpochOffset = 2_208_988_800
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := (uint64(t.Nanosecond()) << 32) / uint64(time.Second)
	return secs<<32 | frac
}

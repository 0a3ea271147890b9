package rtp

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/mengelbart/camrelay"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// Packetizer splits encoded frames into RTP packets. Timestamps are derived
// from the frame PTS, never from the time of packetization.
type Packetizer struct {
	packetizer rtp.Packetizer
	clockRate  uint32
	base       uint32

	// frameRate enables exact timestamps from TimedFrame.Offset.
	frameRate camrelay.FrameRate
}

func payloaderFor(format camrelay.PixelFormat) (rtp.Payloader, error) {
	switch format {
	case camrelay.VP8:
		return &codecs.VP8Payloader{}, nil
	case camrelay.VP9:
		return &codecs.VP9Payloader{}, nil
	case camrelay.H264:
		return &codecs.H264Payloader{}, nil
	case camrelay.AV1:
		return &codecs.AV1Payloader{}, nil
	}
	return nil, fmt.Errorf("no RTP payloader for %v frames", format)
}

func NewPacketizer(format camrelay.PixelFormat, mtu uint16, pt uint8, ssrc uint32, clockRate uint32) (*Packetizer, error) {
	payloader, err := payloaderFor(format)
	if err != nil {
		return nil, err
	}
	return &Packetizer{
		packetizer: rtp.NewPacketizer(mtu, pt, ssrc, payloader, rtp.NewRandomSequencer(), clockRate),
		clockRate:  clockRate,
		base:       rand.Uint32(),
	}, nil
}

// Packetize returns the packets of one frame. The last packet carries the
// marker bit.
func (p *Packetizer) Packetize(tf camrelay.TimedFrame) []*rtp.Packet {
	pkts := p.packetizer.Packetize(tf.Data, 0)
	ts := p.FrameTimestamp(tf)
	for _, pkt := range pkts {
		pkt.Timestamp = ts
	}
	return pkts
}

// SetFrameRate makes FrameTimestamp count in whole frames of rate r.
func (p *Packetizer) SetFrameRate(r camrelay.FrameRate) {
	p.frameRate = r
}

// FrameTimestamp maps a frame to the RTP timeline. With a frame rate set it
// uses Offset*clockRate*Den/Num, so 30 fps at 90 kHz advances by exactly 3000
// per frame. Otherwise it falls back to the PTS.
func (p *Packetizer) FrameTimestamp(tf camrelay.TimedFrame) uint32 {
	if p.frameRate.Num <= 0 || p.frameRate.Den <= 0 {
		return p.Timestamp(tf.PTS)
	}
	return p.base + frameTicks(tf.Offset, p.frameRate, p.clockRate)
}

// frameTicks returns offset*clockRate*Den/Num, split so that the
// intermediate products stay small.
func frameTicks(offset uint64, r camrelay.FrameRate, clockRate uint32) uint32 {
	num := uint64(r.Num)
	ticksPerNum := uint64(clockRate) * uint64(r.Den)
	return uint32((offset/num)*ticksPerNum + (offset%num)*ticksPerNum/num)
}

// Timestamp maps a PTS to the RTP timeline.
func (p *Packetizer) Timestamp(pts time.Duration) uint32 {
	return p.base + mediaTime(pts, p.clockRate)
}

// mediaTime converts d to clock ticks without overflowing for long sessions.
func mediaTime(d time.Duration, clockRate uint32) uint32 {
	sec := uint64(d / time.Second)
	rem := uint64(d % time.Second)
	return uint32(sec*uint64(clockRate) + rem*uint64(clockRate)/uint64(time.Second))
}

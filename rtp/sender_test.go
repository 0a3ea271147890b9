package rtp

import (
	"bytes"
	"context"
	"testing"
	"testing/synctest"
	"time"

	"github.com/mengelbart/camrelay"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type packetRecorder struct {
	packets [][]byte
}

func (r *packetRecorder) Write(b []byte) (int, error) {
	r.packets = append(r.packets, bytes.Clone(b))
	return len(b), nil
}

func vp8Frame(seq uint64, size int, pts time.Duration) camrelay.TimedFrame {
	return camrelay.TimedFrame{
		Frame: camrelay.Frame{
			Seq:    seq,
			Format: camrelay.VP8,
			Data:   bytes.Repeat([]byte{byte(seq)}, size),
		},
		PTS:      pts,
		Duration: 33_333_333,
	}
}

func TestSenderPacketizesFrames(t *testing.T) {
	rec := &packetRecorder{}
	s, err := NewSender(rec, camrelay.VP8, SenderSSRC(42), SenderPayloadType(100), SenderMTU(500))
	require.NoError(t, err)

	require.NoError(t, s.Emit(vp8Frame(1, 1200, 0)))
	require.NoError(t, s.Emit(vp8Frame(2, 100, time.Second)))
	require.GreaterOrEqual(t, len(rec.packets), 4)

	var pkts []*rtp.Packet
	for _, buf := range rec.packets {
		pkt := &rtp.Packet{}
		require.NoError(t, pkt.Unmarshal(buf))
		pkts = append(pkts, pkt)
		assert.Equal(t, uint32(42), pkt.SSRC)
		assert.Equal(t, uint8(100), pkt.PayloadType)
		assert.LessOrEqual(t, len(buf), 500)
	}
	for i := 1; i < len(pkts); i++ {
		assert.Equal(t, pkts[i-1].SequenceNumber+1, pkts[i].SequenceNumber)
	}

	first, last := pkts[0], pkts[len(pkts)-1]
	assert.Equal(t, uint32(90_000), last.Timestamp-first.Timestamp)
	assert.True(t, last.Marker)
	assert.True(t, pkts[len(pkts)-2].Marker)
	assert.False(t, first.Marker)
}

func TestSenderRejectsOtherFormats(t *testing.T) {
	s, err := NewSender(&packetRecorder{}, camrelay.VP8)
	require.NoError(t, err)
	err = s.Emit(camrelay.TimedFrame{Frame: camrelay.Frame{Format: camrelay.BGR, Data: []byte{1}}})
	assert.Error(t, err)

	_, err = NewSender(&packetRecorder{}, camrelay.BGR)
	assert.Error(t, err)
}

func TestMediaTime(t *testing.T) {
	assert.Equal(t, uint32(0), mediaTime(0, 90_000))
	assert.Equal(t, uint32(3000), mediaTime(33_333_334, 90_000))
	assert.Equal(t, uint32(90_000*3600), mediaTime(time.Hour, 90_000))
	interval := camrelay.FrameRate{Num: 30, Den: 1}.Interval()
	assert.Equal(t, uint32(2999), mediaTime(interval, 90_000))
}

func TestSenderFrameRateTimestamps(t *testing.T) {
	for _, tc := range []struct {
		rate camrelay.FrameRate
		step uint32
	}{
		{rate: camrelay.FrameRate{Num: 30, Den: 1}, step: 3000},
		{rate: camrelay.FrameRate{Num: 30000, Den: 1001}, step: 3003},
		{rate: camrelay.FrameRate{Num: 25, Den: 1}, step: 3600},
	} {
		t.Run(tc.rate.String(), func(t *testing.T) {
			rec := &packetRecorder{}
			s, err := NewSender(rec, camrelay.VP8, SenderFrameRate(tc.rate))
			require.NoError(t, err)

			interval := tc.rate.Interval()
			for i := range uint64(5) {
				tf := vp8Frame(i+1, 10, time.Duration(i)*interval)
				tf.Offset = i
				require.NoError(t, s.Emit(tf))
			}
			require.Len(t, rec.packets, 5)
			var prev uint32
			for i, buf := range rec.packets {
				var pkt rtp.Packet
				require.NoError(t, pkt.Unmarshal(buf))
				if i > 0 {
					assert.Equal(t, tc.step, pkt.Timestamp-prev)
				}
				prev = pkt.Timestamp
			}
		})
	}

	_, err := NewSender(&packetRecorder{}, camrelay.VP8, SenderFrameRate(camrelay.FrameRate{}))
	assert.Error(t, err)
}

func TestFrameTicks(t *testing.T) {
	ntsc := camrelay.FrameRate{Num: 30000, Den: 1001}
	assert.Equal(t, uint32(0), frameTicks(0, ntsc, 90_000))
	assert.Equal(t, uint32(3003*29_999), frameTicks(29_999, ntsc, 90_000))
	assert.Equal(t, uint32(3003*30_001), frameTicks(30_001, ntsc, 90_000))

	n := uint64(1_000_000_000)
	assert.Equal(t, uint32(n*3000), frameTicks(n, camrelay.FrameRate{Num: 30, Den: 1}, 90_000))
}

func TestSenderReports(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		rec, rtcpRec := &packetRecorder{}, &packetRecorder{}
		s, err := NewSender(rec, camrelay.VP8, SenderSSRC(7), RTCPWriter(rtcpRec))
		require.NoError(t, err)
		require.NoError(t, s.Emit(vp8Frame(1, 10, 0)))

		sr := s.SenderReport(time.Now().Add(time.Second))
		assert.Equal(t, uint32(7), sr.SSRC)
		assert.Equal(t, uint32(1), sr.PacketCount)
		var pkt rtp.Packet
		require.NoError(t, pkt.Unmarshal(rec.packets[0]))
		assert.Equal(t, uint32(len(pkt.Payload)), sr.OctetCount)
		assert.Equal(t, s.packetizer.Timestamp(time.Second), sr.RTPTime)

		ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
		defer cancel()
		assert.NoError(t, s.RunReports(ctx, time.Second))
		require.Len(t, rtcpRec.packets, 2)
		pkts, err := rtcp.Unmarshal(rtcpRec.packets[0])
		require.NoError(t, err)
		require.Len(t, pkts, 1)
		report, ok := pkts[0].(*rtcp.SenderReport)
		require.True(t, ok)
		assert.Equal(t, uint32(7), report.SSRC)
	})
}

func TestSenderRunPumpsSession(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		rec := &packetRecorder{}
		s, err := NewSender(rec, camrelay.VP8)
		require.NoError(t, err)

		device := &frameDevice{frames: make(chan camrelay.Frame)}
		session, err := camrelay.StartSession(device, s, camrelay.DefaultConfig())
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() {
			done <- s.Run(context.Background(), session)
		}()

		for i := range 3 {
			device.frames <- camrelay.Frame{Format: camrelay.VP8, Data: []byte{byte(i), 1, 2}}
			synctest.Wait()
		}
		assert.Len(t, rec.packets, 3)

		assert.NoError(t, session.Stop())
		assert.NoError(t, <-done)
		assert.NoError(t, s.Close())
		assert.Error(t, s.Emit(vp8Frame(9, 1, 0)))
	})
}

type frameDevice struct {
	frames chan camrelay.Frame
}

func (d *frameDevice) Acquire(ctx context.Context) (camrelay.Frame, error) {
	select {
	case <-ctx.Done():
		return camrelay.Frame{}, ctx.Err()
	case f := <-d.frames:
		return f, nil
	}
}

func (d *frameDevice) Close() error {
	return nil
}

func TestDescription(t *testing.T) {
	buf, err := Description{
		Host:         "127.0.0.1",
		Port:         5004,
		PayloadType:  96,
		EncodingName: "VP8",
		ClockRate:    90_000,
	}.Marshal()
	require.NoError(t, err)
	sdp := string(buf)
	assert.Contains(t, sdp, "m=video 5004 RTP/AVP 96")
	assert.Contains(t, sdp, "a=rtpmap:96 VP8/90000")
	assert.Contains(t, sdp, "c=IN IP4 127.0.0.1")

	_, err = Description{Port: 0}.Marshal()
	assert.Error(t, err)
}

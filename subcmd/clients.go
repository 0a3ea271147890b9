package subcmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/mengelbart/camrelay"
	"github.com/mengelbart/camrelay/gstreamer"
	"github.com/mengelbart/camrelay/internal/mounts"
	"github.com/mengelbart/camrelay/rtp"
)

const senderReportInterval = time.Second

// clientSpec describes the RTP stream sent to a single receiver.
type clientSpec struct {
	format      camrelay.PixelFormat
	width       int
	height      int
	rate        camrelay.FrameRate
	codec       string
	bitrate     uint
	payloadType uint8
	mtu         uint16
	trace       bool
}

// newClient packetizes encoded frames directly and runs raw frames through a
// GStreamer encoder first.
func newClient(spec clientSpec, host string, port int) (mounts.Client, rtp.Description, error) {
	if spec.format.Encoded() {
		c, err := newRTPClient(spec, host, port)
		if err != nil {
			return nil, rtp.Description{}, err
		}
		return c, c.description(host, port), nil
	}

	codec, err := gstreamer.ParseCodec(spec.codec)
	if err != nil {
		return nil, rtp.Description{}, err
	}
	enc, err := gstreamer.NewEncoder(
		gstreamer.EncoderCodec(codec),
		gstreamer.EncoderDestination(host, port),
		gstreamer.EncoderPayloadType(spec.payloadType),
		gstreamer.EncoderBitrate(spec.bitrate),
		gstreamer.EncoderMTU(uint(spec.mtu)),
		gstreamer.EncoderInput(spec.format, spec.width, spec.height, spec.rate),
		gstreamer.EncoderTraceRTP(spec.trace),
	)
	if err != nil {
		return nil, rtp.Description{}, err
	}
	if err := enc.Start(); err != nil {
		return nil, rtp.Description{}, errors.Join(err, enc.Close())
	}
	return enc, encoderDescription(codec, spec.payloadType, host, port), nil
}

func encoderDescription(codec gstreamer.Codec, pt uint8, host string, port int) rtp.Description {
	desc := rtp.Description{
		Host:         host,
		Port:         port,
		PayloadType:  pt,
		EncodingName: codec.String(),
		ClockRate:    codec.ClockRate(),
	}
	if codec == gstreamer.H264 {
		desc.Fmtp = "packetization-mode=1"
	}
	return desc
}

// udpWriter writes datagrams to a fixed address over an unconnected socket,
// so ICMP errors from a receiver that is not listening yet are ignored.
type udpWriter struct {
	conn  net.PacketConn
	addr  net.Addr
	owner bool
}

func (w *udpWriter) Write(b []byte) (int, error) {
	return w.conn.WriteTo(b, w.addr)
}

func (w *udpWriter) Close() error {
	if w.owner {
		return w.conn.Close()
	}
	return nil
}

// rtpClient sends RTP on port and RTCP sender reports on port+1.
type rtpClient struct {
	*rtp.Sender
	format camrelay.PixelFormat
	cancel context.CancelFunc
	done   chan struct{}
}

func newRTPClient(spec clientSpec, host string, port int) (*rtpClient, error) {
	rtpAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	rtcpAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port+1)))
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, err
	}
	opts := []rtp.SenderOption{
		rtp.SenderPayloadType(spec.payloadType),
		rtp.SenderMTU(spec.mtu),
		rtp.RTCPWriter(&udpWriter{conn: conn, addr: rtcpAddr}),
		rtp.TraceRTP(spec.trace),
	}
	if spec.rate.Interval() > 0 {
		opts = append(opts, rtp.SenderFrameRate(spec.rate))
	}
	sender, err := rtp.NewSender(&udpWriter{conn: conn, addr: rtpAddr, owner: true}, spec.format, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &rtpClient{
		Sender: sender,
		format: spec.format,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(c.done)
		if err := sender.RunReports(ctx, senderReportInterval); err != nil {
			slog.Warn("sender reports stopped", "ssrc", sender.SSRC(), "error", err)
		}
	}()
	return c, nil
}

func (c *rtpClient) description(host string, port int) rtp.Description {
	desc := rtp.Description{
		Host:         host,
		Port:         port,
		PayloadType:  c.PayloadType(),
		EncodingName: string(c.format),
		ClockRate:    c.ClockRate(),
	}
	if c.format == camrelay.H264 {
		desc.Fmtp = "packetization-mode=1"
	}
	return desc
}

func (c *rtpClient) Close() error {
	c.cancel()
	<-c.done
	return c.Sender.Close()
}

func checkPort(port uint) (int, error) {
	if port == 0 || port > rtp.MaxRTPPort {
		return 0, fmt.Errorf("invalid port number: %v", port)
	}
	return int(port), nil
}

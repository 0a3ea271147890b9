package subcmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mengelbart/camrelay"
	"github.com/mengelbart/camrelay/cmdmain"
	"github.com/mengelbart/camrelay/flags"
	"github.com/mengelbart/camrelay/gstreamer"
)

func init() {
	cmdmain.RegisterSubCmd("stream", func() cmdmain.SubCmd { return new(Stream) })
}

type Stream struct{}

// Help implements cmdmain.SubCmd.
func (s *Stream) Help() string {
	return "Stream a single camera to an RTP receiver"
}

// Exec implements cmdmain.SubCmd.
func (s *Stream) Exec(cmd string, args []string) error {
	fs := flag.NewFlagSet("stream", flag.ExitOnError)
	flags.RegisterInto(fs, []flags.FlagName{
		flags.DeviceFlag,
		flags.DevicePathFlag,
		flags.WidthFlag,
		flags.HeightFlag,
		flags.FormatFlag,
		flags.LoopFlag,
		flags.FrameRateFlag,
		flags.CapacityFlag,
		flags.TakeTimeoutFlag,
		flags.MissThresholdFlag,
		flags.DropPolicyFlag,
		flags.StopTimeoutFlag,
		flags.RemoteAddrFlag,
		flags.RTPPortFlag,
		flags.PayloadTypeFlag,
		flags.MTUFlag,
		flags.CodecFlag,
		flags.BitrateFlag,
		flags.TraceRTPSendFlag,
	}...)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Stream a single camera to an RTP receiver

Encoded sources (ivf) are packetized directly and send RTCP sender reports
on <rtp-port>+1. Raw sources are encoded with GStreamer first.

Usage:
	%s stream [flags]

Flags:
`, cmd)
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr)
	}
	fs.Parse(args)

	if len(fs.Args()) > 0 {
		fmt.Fprintf(os.Stderr, "error: unknown extra arguments: %v\n", fs.Args())
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := flags.SessionConfig()
	if err != nil {
		return err
	}
	port, err := checkPort(flags.RTPPort)
	if err != nil {
		return err
	}
	if flags.PayloadType > 127 || flags.MTU > 65535 {
		return fmt.Errorf("invalid payload type %v or MTU %v", flags.PayloadType, flags.MTU)
	}
	spec, err := deviceSpecFromFlags(cfg.FrameRate)
	if err != nil {
		return err
	}
	format, width, height, err := spec.describe()
	if err != nil {
		return err
	}
	device, err := spec.open()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := clientSpec{
		format:      format,
		width:       width,
		height:      height,
		rate:        cfg.FrameRate,
		codec:       flags.Codec,
		bitrate:     flags.Bitrate,
		payloadType: uint8(flags.PayloadType),
		mtu:         uint16(flags.MTU),
		trace:       flags.TraceRTPSend,
	}
	if format.Encoded() {
		err = streamEncoded(ctx, device, client, port, cfg)
	} else {
		err = streamRaw(ctx, device, client, port, cfg)
	}
	if errors.Is(err, io.EOF) {
		slog.Info("end of stream")
		return nil
	}
	return err
}

// streamEncoded drives the session from the RTP sender's own loop.
func streamEncoded(ctx context.Context, device camrelay.Device, spec clientSpec, port int, cfg camrelay.Config) error {
	sender, err := newRTPClient(spec, flags.RemoteAddr, port)
	if err != nil {
		device.Close()
		return err
	}
	defer sender.Close()

	session, err := camrelay.StartSession(device, sender, cfg)
	if err != nil {
		device.Close()
		return err
	}
	defer session.Stop()
	stopOnDone := context.AfterFunc(ctx, func() {
		session.Stop()
	})
	defer stopOnDone()

	slog.Info("streaming", "session", session.ID(), "format", spec.format, "remote", flags.RemoteAddr, "port", port)
	return sender.Run(ctx, session)
}

// streamRaw lets appsrc pull frames whenever the encoder needs data.
func streamRaw(ctx context.Context, device camrelay.Device, spec clientSpec, port int, cfg camrelay.Config) error {
	codec, err := gstreamer.ParseCodec(spec.codec)
	if err != nil {
		device.Close()
		return err
	}
	enc, err := gstreamer.NewEncoder(
		gstreamer.EncoderCodec(codec),
		gstreamer.EncoderDestination(flags.RemoteAddr, port),
		gstreamer.EncoderPayloadType(spec.payloadType),
		gstreamer.EncoderBitrate(spec.bitrate),
		gstreamer.EncoderMTU(uint(spec.mtu)),
		gstreamer.EncoderInput(spec.format, spec.width, spec.height, spec.rate),
		gstreamer.EncoderTraceRTP(spec.trace),
	)
	if err != nil {
		device.Close()
		return err
	}
	defer enc.Close()

	session, err := camrelay.NewSession(device, enc, cfg)
	if err != nil {
		device.Close()
		return err
	}
	enc.DemandFrom(session)
	if err = session.Start(); err != nil {
		device.Close()
		return err
	}
	defer session.Stop()
	stopOnDone := context.AfterFunc(ctx, func() {
		session.Stop()
	})
	defer stopOnDone()

	slog.Info("streaming", "session", session.ID(), "codec", codec, "remote", flags.RemoteAddr, "port", port)
	return enc.Run(ctx)
}

package subcmd

import (
	"flag"
	"fmt"
	"os"

	"github.com/mengelbart/camrelay"
	"github.com/mengelbart/camrelay/cmdmain"
	"github.com/mengelbart/camrelay/flags"
	"github.com/mengelbart/camrelay/gstreamer"
	"github.com/mengelbart/camrelay/rtp"
)

func init() {
	cmdmain.RegisterSubCmd("sdp", func() cmdmain.SubCmd { return new(SDP) })
}

type SDP struct{}

// Help implements cmdmain.SubCmd.
func (s *SDP) Help() string {
	return "Print an SDP file for receivers of the stream command"
}

// Exec implements cmdmain.SubCmd.
func (s *SDP) Exec(cmd string, args []string) error {
	fs := flag.NewFlagSet("sdp", flag.ExitOnError)
	flags.RegisterInto(fs, []flags.FlagName{
		flags.DeviceFlag,
		flags.DevicePathFlag,
		flags.FormatFlag,
		flags.RemoteAddrFlag,
		flags.RTPPortFlag,
		flags.PayloadTypeFlag,
		flags.CodecFlag,
	}...)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Print an SDP file describing the stream sent by the stream command with
the same flags, e.g. for ffplay or gst-launch-1.0 sdpdemux

Usage:
	%s sdp [flags]

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

	port, err := checkPort(flags.RTPPort)
	if err != nil {
		return err
	}
	if flags.PayloadType > 127 {
		return fmt.Errorf("invalid payload type: %v", flags.PayloadType)
	}
	spec, err := deviceSpecFromFlags(camrelay.DefaultFrameRate)
	if err != nil {
		return err
	}
	format, _, _, err := spec.describe()
	if err != nil {
		return err
	}

	desc := rtp.Description{
		Host:         flags.RemoteAddr,
		Port:         port,
		PayloadType:  uint8(flags.PayloadType),
		EncodingName: string(format),
		ClockRate:    rtp.DefaultClockRate,
	}
	if !format.Encoded() {
		codec, err := gstreamer.ParseCodec(flags.Codec)
		if err != nil {
			return err
		}
		desc = encoderDescription(codec, desc.PayloadType, desc.Host, port)
	} else if format == camrelay.H264 {
		desc.Fmtp = "packetization-mode=1"
	}
	buf, err := desc.Marshal()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(buf)
	return err
}

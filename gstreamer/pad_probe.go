package gstreamer

import (
	"github.com/go-gst/go-gst/gst"
	"github.com/mengelbart/camrelay/internal/logging"
	"github.com/pion/rtp"
)

// rtpLogPadProbe logs every RTP packet passing a payloader src pad.
func rtpLogPadProbe(vantagePoint string) func(p *gst.Pad, ppi *gst.PadProbeInfo) gst.PadProbeReturn {
	logger := logging.NewRTPLogger(vantagePoint, nil)
	logBuffer := func(buffer *gst.Buffer) {
		mapinfo := buffer.Map(gst.MapRead)
		defer buffer.Unmap()
		var pkt rtp.Packet
		if err := pkt.Unmarshal(mapinfo.AsUint8Slice()); err != nil {
			return
		}
		logger.LogRTPPacket(&pkt.Header, pkt.Payload, nil)
	}
	return func(p *gst.Pad, ppi *gst.PadProbeInfo) gst.PadProbeReturn {
		if (ppi.Type() & gst.PadProbeTypeBufferList) > 0 {
			if list := ppi.GetBufferList(); list != nil {
				list.ForEach(func(buffer *gst.Buffer, idx uint) bool {
					logBuffer(buffer)
					return true
				})
			}
		}
		if (ppi.Type() & gst.PadProbeTypeBuffer) > 0 {
			if buffer := ppi.GetBuffer(); buffer != nil {
				logBuffer(buffer)
			}
		}
		return gst.PadProbeOK
	}
}

package rtp

import (
	"fmt"
	"net"
	"time"

	"github.com/pion/sdp/v2"
)

// MaxRTPPort is the highest RTP port that leaves port+1 for RTCP.
const MaxRTPPort = 65534

// Description describes a single RTP video stream for a receiver.
type Description struct {
	// Host is the address the receiver listens on.
	Host         string
	Port         int
	PayloadType  uint8
	EncodingName string
	ClockRate    uint32
	Fmtp         string
}

// Marshal renders the description as an SDP document usable with e.g.
// ffplay or gst-launch sdpdemux.
func (d Description) Marshal() ([]byte, error) {
	if d.Port <= 0 || d.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", d.Port)
	}
	addrType := "IP4"
	if ip := net.ParseIP(d.Host); ip != nil && ip.To4() == nil {
		addrType = "IP6"
	}
	now := uint64(time.Now().Unix())
	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "video",
			Port:    sdp.RangedPort{Value: d.Port},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{},
		},
	}
	media = media.WithCodec(d.PayloadType, d.EncodingName, d.ClockRate, 0, d.Fmtp)

	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      now,
			SessionVersion: now,
			NetworkType:    "IN",
			AddressType:    addrType,
			UnicastAddress: d.Host,
		},
		SessionName: "camrelay",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addrType,
			Address:     &sdp.Address{Address: d.Host},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{media},
	}
	return sd.Marshal()
}

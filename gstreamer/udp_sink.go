package gstreamer

import "github.com/go-gst/go-gst/gst"

func newUDPSink(host string, port int) (*gst.Element, error) {
	return gst.NewElementWithProperties(
		"udpsink",
		map[string]any{
			"async": false,
			"sync":  false,
			"host":  host,
			"port":  port,
		},
	)
}

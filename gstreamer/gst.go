package gstreamer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-gst/go-glib/glib"
	"github.com/go-gst/go-gst/gst"
)

var initOnce sync.Once

// Init initializes GStreamer once per process.
func Init() {
	initOnce.Do(func() {
		gst.Init(nil)
	})
}

// runPipeline sets pipeline to PLAYING and runs a main loop until EOS, a
// pipeline error or cancellation of ctx. The pipeline is set to NULL before
// runPipeline returns.
func runPipeline(ctx context.Context, pipeline *gst.Pipeline, onEOS func() error) error {
	mainloop := glib.NewMainLoop(glib.MainContextDefault(), false)

	var runErr error
	pipeline.GetPipelineBus().AddWatch(func(msg *gst.Message) bool {
		switch msg.Type() {
		case gst.MessageEOS:
			if onEOS != nil {
				runErr = onEOS()
			}
			mainloop.Quit()
			return false
		case gst.MessageError:
			err := msg.ParseError()
			slog.Error("pipeline error", "error", err.Error(), "debug", err.DebugString())
			runErr = fmt.Errorf("pipeline error: %s", err.Error())
			mainloop.Quit()
			return false
		}
		return true
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, mainloop.Quit)
	defer stop()

	mainloop.Run()
	if err := pipeline.BlockSetState(gst.StateNull); err != nil {
		slog.Warn("failed to stop pipeline", "error", err)
	}
	if runErr == nil {
		runErr = context.Cause(ctx)
	}
	return runErr
}

func SetProperties(e *gst.Element, pp map[string]any) error {
	for k, v := range pp {
		if err := e.SetProperty(k, v); err != nil {
			return fmt.Errorf("set %q: %w", k, err)
		}
	}
	return nil
}

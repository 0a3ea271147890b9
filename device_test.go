package camrelay_test

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/mengelbart/camrelay"
)

type acquireResult struct {
	frame camrelay.Frame
	err   error
}

// scriptedDevice returns whatever the test feeds into results.
type scriptedDevice struct {
	results chan acquireResult
	closed  atomic.Int32
}

func newScriptedDevice() *scriptedDevice {
	return &scriptedDevice{
		results: make(chan acquireResult),
	}
}

func (d *scriptedDevice) Acquire(ctx context.Context) (camrelay.Frame, error) {
	select {
	case <-ctx.Done():
		return camrelay.Frame{}, ctx.Err()
	case r := <-d.results:
		return r.frame, r.err
	}
}

func (d *scriptedDevice) Close() error {
	d.closed.Add(1)
	return nil
}

func (d *scriptedDevice) frame(seq uint64) {
	d.results <- acquireResult{frame: frame(seq)}
}

func (d *scriptedDevice) miss() {
	d.results <- acquireResult{err: camrelay.ErrTransientMiss}
}

func (d *scriptedDevice) fail(err error) {
	d.results <- acquireResult{err: err}
}

var errUnplugged = errors.New("device unplugged")

type recordingTransport struct {
	frames []camrelay.TimedFrame
	err    error
}

func (r *recordingTransport) Emit(tf camrelay.TimedFrame) error {
	if r.err != nil {
		return r.err
	}
	r.frames = append(r.frames, tf)
	return nil
}

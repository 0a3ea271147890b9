package camrelay

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Transport receives stamped frames from a DeliveryAdapter.
type Transport interface {
	Emit(TimedFrame) error
}

// Demander is implemented by DeliveryAdapter and Session. Transports call
// Demand from their own event loop whenever they can accept a frame.
type Demander interface {
	Demand(sizeHint uint) (bool, error)
}

type TransportFunc func(TimedFrame) error

func (f TransportFunc) Emit(tf TimedFrame) error {
	return f(tf)
}

// DeliveryAdapter turns demand signals from a transport into frames. Calls
// to Demand must not overlap.
type DeliveryAdapter struct {
	relay     *Relay
	clock     *PacingClock
	transport Transport
	timeout   time.Duration

	lock sync.Mutex
	err  error

	delivered atomic.Uint64
	skipped   atomic.Uint64
	lastPTS   atomic.Int64
}

func NewDeliveryAdapter(relay *Relay, clock *PacingClock, transport Transport, timeout time.Duration) (*DeliveryAdapter, error) {
	if relay == nil || clock == nil || transport == nil {
		return nil, errors.New("delivery adapter needs a relay, a clock and a transport")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("invalid take timeout: %v", timeout)
	}
	return &DeliveryAdapter{
		relay:     relay,
		clock:     clock,
		transport: transport,
		timeout:   timeout,
	}, nil
}

// Demand services one request for data. sizeHint is the byte count the
// transport asked for and is ignored since frames are delivered whole.
//
// Demand returns false and no error if no frame arrived within the take
// timeout. In that case nothing is emitted and the clock is not advanced.
// After Fail, Demand returns the terminal error without touching the relay.
func (d *DeliveryAdapter) Demand(sizeHint uint) (bool, error) {
	if err := d.Err(); err != nil {
		return false, err
	}

	frame, err := d.relay.Take(d.timeout)
	if errors.Is(err, ErrDeliveryTimeout) {
		d.skipped.Add(1)
		return false, nil
	}
	if err != nil {
		if terr := d.Err(); terr != nil {
			return false, terr
		}
		return false, ErrSessionStopped
	}
	if terr := d.Err(); terr != nil {
		return false, terr
	}

	pts, duration := d.clock.Next()
	tf := TimedFrame{
		Frame:    frame,
		PTS:      pts,
		Duration: duration,
		Offset:   uint64(pts / duration),
	}
	d.lastPTS.Store(int64(pts))
	if err := d.transport.Emit(tf); err != nil {
		return false, fmt.Errorf("emit frame %d: %w", frame.Seq, err)
	}
	d.delivered.Add(1)
	return true, nil
}

// Fail records a terminal error. Only the first call has an effect.
func (d *DeliveryAdapter) Fail(err error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.err == nil {
		d.err = err
	}
}

func (d *DeliveryAdapter) Err() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.err
}

func (d *DeliveryAdapter) Delivered() uint64 {
	return d.delivered.Load()
}

// Skipped counts demand signals that ended in a take timeout.
func (d *DeliveryAdapter) Skipped() uint64 {
	return d.skipped.Load()
}

func (d *DeliveryAdapter) LastPTS() time.Duration {
	return time.Duration(d.lastPTS.Load())
}

package camrelay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Device is a camera handle.
type Device interface {
	// Acquire blocks until the next frame is available or ctx is done. It
	// returns an error wrapping ErrTransientMiss if no frame could be read
	// this time, any other error means the device is unusable. Devices may
	// leave Frame.Seq zero to have the Source number frames.
	Acquire(ctx context.Context) (Frame, error)

	Close() error
}

const (
	DefaultMissThreshold = 3
	DefaultStopTimeout   = 3 * time.Second
)

type SourceOption func(*Source) error

// MissThreshold sets how many consecutive transient misses are tolerated.
// One more miss stops the source.
func MissThreshold(n int) SourceOption {
	return func(s *Source) error {
		if n < 0 {
			return fmt.Errorf("invalid miss threshold: %d", n)
		}
		s.missThreshold = n
		return nil
	}
}

// StopTimeout bounds how long Stop waits for a pending Acquire to return.
func StopTimeout(d time.Duration) SourceOption {
	return func(s *Source) error {
		if d <= 0 {
			return fmt.Errorf("invalid stop timeout: %v", d)
		}
		s.stopTimeout = d
		return nil
	}
}

func SourceLogger(logger *slog.Logger) SourceOption {
	return func(s *Source) error {
		s.logger = logger
		return nil
	}
}

// Source runs the acquisition loop of one Device and puts frames into a
// Relay.
type Source struct {
	device        Device
	relay         *Relay
	onFatal       func(error)
	missThreshold int
	stopTimeout   time.Duration
	logger        *slog.Logger

	lock    sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	exited  chan struct{}

	closeOnce sync.Once
	closeErr  error

	captured atomic.Uint64
	misses   atomic.Uint64
}

// NewSource creates a stopped Source. onFatal is called at most once from
// the acquisition goroutine when the source gives up.
func NewSource(device Device, relay *Relay, onFatal func(error), opts ...SourceOption) (*Source, error) {
	if device == nil {
		return nil, errors.New("missing device")
	}
	if relay == nil {
		return nil, errors.New("missing relay")
	}
	s := &Source{
		device:        device,
		relay:         relay,
		onFatal:       onFatal,
		missThreshold: DefaultMissThreshold,
		stopTimeout:   DefaultStopTimeout,
		logger:        slog.Default(),
		exited:        make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Source) Start() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.stopped {
		return errors.New("source stopped")
	}
	if s.started {
		return errors.New("source already started")
	}
	s.started = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
	return nil
}

// Stop ends acquisition and releases the device. It may be called more than
// once and without a prior Start.
func (s *Source) Stop() error {
	s.lock.Lock()
	started := s.started
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	s.lock.Unlock()

	var err error
	if started {
		timer := time.NewTimer(s.stopTimeout)
		select {
		case <-s.exited:
		case <-timer.C:
			err = fmt.Errorf("acquisition did not return within %v", s.stopTimeout)
		}
		timer.Stop()
	}
	return errors.Join(err, s.closeDevice())
}

func (s *Source) Captured() uint64 {
	return s.captured.Load()
}

func (s *Source) Misses() uint64 {
	return s.misses.Load()
}

func (s *Source) closeDevice() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.device.Close()
		if s.closeErr != nil {
			s.logger.Warn("failed to close device", "error", s.closeErr)
		}
	})
	return s.closeErr
}

func (s *Source) fail(err error) {
	s.logger.Error("capture failed", "error", err)
	if closeErr := s.closeDevice(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	if s.onFatal != nil {
		s.onFatal(err)
	}
}

func (s *Source) run(ctx context.Context) {
	defer close(s.exited)

	var last uint64
	consecutive := 0
	for ctx.Err() == nil {
		frame, err := s.device.Acquire(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if !errors.Is(err, ErrTransientMiss) {
				s.fail(&FatalSourceError{Cause: err})
				return
			}
			consecutive++
			s.misses.Add(1)
			s.logger.Warn("capture miss", "consecutive", consecutive, "threshold", s.missThreshold, "error", err)
			if consecutive > s.missThreshold {
				s.fail(&FatalSourceError{Cause: err, ConsecutiveMisses: consecutive})
				return
			}
			continue
		}
		consecutive = 0

		switch {
		case frame.Seq == 0:
			frame.Seq = last + 1
		case frame.Seq <= last:
			s.fail(&FatalSourceError{Cause: fmt.Errorf("%w: got %d after %d", ErrSequenceReset, frame.Seq, last)})
			return
		}
		last = frame.Seq
		if frame.CapturedAt.IsZero() {
			frame.CapturedAt = time.Now()
		}
		s.captured.Add(1)

		if err := s.relay.Put(frame); err != nil {
			// relay closed by the session
			return
		}
	}
}

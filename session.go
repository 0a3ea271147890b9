package camrelay

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type State int

const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

const (
	DefaultCapacity    = 10
	DefaultTakeTimeout = time.Second
)

var DefaultFrameRate = FrameRate{Num: 30, Den: 1}

type Config struct {
	FrameRate     FrameRate
	Capacity      int
	TakeTimeout   time.Duration
	MissThreshold int
	DropPolicy    DropPolicy
	StopTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		FrameRate:     DefaultFrameRate,
		Capacity:      DefaultCapacity,
		TakeTimeout:   DefaultTakeTimeout,
		MissThreshold: DefaultMissThreshold,
		DropPolicy:    DropOldest,
		StopTimeout:   DefaultStopTimeout,
	}
}

func (c Config) Validate() error {
	if err := c.FrameRate.validate(); err != nil {
		return err
	}
	if c.Capacity < 1 || c.Capacity > MaxRelayCapacity {
		return fmt.Errorf("capacity must be within [1, %d], got %d", MaxRelayCapacity, c.Capacity)
	}
	if c.TakeTimeout <= 0 {
		return fmt.Errorf("take timeout must be > 0, got %v", c.TakeTimeout)
	}
	if c.MissThreshold < 0 {
		return fmt.Errorf("miss threshold must be >= 0, got %d", c.MissThreshold)
	}
	if c.DropPolicy != DropOldest && c.DropPolicy != DropNewest {
		return fmt.Errorf("invalid drop policy: %v", c.DropPolicy)
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("stop timeout must be > 0, got %v", c.StopTimeout)
	}
	return nil
}

// Stats is a point in time snapshot of a session.
type Stats struct {
	ID               string        `json:"id"`
	State            string        `json:"state"`
	FramesCaptured   uint64        `json:"framesCaptured"`
	CaptureMisses    uint64        `json:"captureMisses"`
	RelayDepth       int           `json:"relayDepth"`
	RelayCapacity    int           `json:"relayCapacity"`
	RelayOverflows   uint64        `json:"relayOverflows"`
	FramesDelivered  uint64        `json:"framesDelivered"`
	DeliveryTimeouts uint64        `json:"deliveryTimeouts"`
	LastPTS          time.Duration `json:"lastPts"`
	Uptime           time.Duration `json:"uptime"`
	Error            string        `json:"error,omitempty"`
}

// Session owns one Source, Relay, PacingClock and DeliveryAdapter. A
// stopped session cannot be restarted, set up a new one instead.
type Session struct {
	id     string
	config Config
	logger *slog.Logger

	relay   *Relay
	clock   *PacingClock
	source  *Source
	adapter *DeliveryAdapter

	lock      sync.Mutex
	state     State
	err       error
	startedAt time.Time
	fatal     chan error
	done      chan struct{}
}

func NewSession(device Device, transport Transport, config Config) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		id:     uuid.NewString(),
		config: config,
		state:  Idle,
		fatal:  make(chan error, 1),
		done:   make(chan struct{}),
	}
	s.logger = slog.Default().With("session", s.id)

	var err error
	s.relay, err = NewRelay(config.Capacity, config.DropPolicy)
	if err != nil {
		return nil, err
	}
	s.clock, err = NewPacingClock(config.FrameRate)
	if err != nil {
		return nil, err
	}
	s.source, err = NewSource(
		device,
		s.relay,
		s.fail,
		MissThreshold(config.MissThreshold),
		StopTimeout(config.StopTimeout),
		SourceLogger(s.logger),
	)
	if err != nil {
		return nil, err
	}
	s.adapter, err = NewDeliveryAdapter(s.relay, s.clock, transport, config.TakeTimeout)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// StartSession creates and starts a session.
func StartSession(device Device, transport Transport, config Config) (*Session, error) {
	s, err := NewSession(device, transport, config)
	if err != nil {
		return nil, err
	}
	if err := s.Start(); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins capturing. It must be called before the transport sends the
// first demand signal.
func (s *Session) Start() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	switch s.state {
	case Running:
		return errors.New("session already running")
	case Stopped:
		return ErrSessionStopped
	}
	if err := s.source.Start(); err != nil {
		return err
	}
	s.state = Running
	s.startedAt = time.Now()
	s.logger.Info("session started",
		"frame-rate", s.config.FrameRate,
		"capacity", s.config.Capacity,
		"take-timeout", s.config.TakeTimeout,
		"miss-threshold", s.config.MissThreshold,
		"drop-policy", s.config.DropPolicy,
	)
	return nil
}

// Stop releases the device and wakes a pending Demand. It is safe to call
// more than once and in any state.
func (s *Session) Stop() error {
	s.lock.Lock()
	if s.state == Stopped {
		s.lock.Unlock()
		return s.source.Stop()
	}
	s.state = Stopped
	s.lock.Unlock()

	s.adapter.Fail(ErrSessionStopped)
	s.relay.Close()
	err := s.source.Stop()
	close(s.done)
	s.logger.Info("session stopped", "delivered", s.adapter.Delivered(), "overflows", s.relay.Stats().Overflows)
	return err
}

func (s *Session) fail(err error) {
	s.lock.Lock()
	if s.state == Stopped {
		s.lock.Unlock()
		return
	}
	s.state = Stopped
	s.err = err
	s.lock.Unlock()

	s.adapter.Fail(err)
	s.relay.Close()
	s.fatal <- err
	close(s.done)
	s.logger.Error("session failed", "error", err)
}

// Demand forwards a demand signal to the delivery adapter.
func (s *Session) Demand(sizeHint uint) (bool, error) {
	if s.State() == Idle {
		return false, ErrSessionNotStarted
	}
	return s.adapter.Demand(sizeHint)
}

// Fatal delivers the error that stopped the session, if any. At most one
// value is ever sent.
func (s *Session) Fatal() <-chan error {
	return s.fatal
}

// Done is closed once the session is stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the fatal error that stopped the session or nil.
func (s *Session) Err() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.err
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Config() Config {
	return s.config
}

func (s *Session) State() State {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

func (s *Session) Stats() Stats {
	s.lock.Lock()
	state, err, startedAt := s.state, s.err, s.startedAt
	s.lock.Unlock()

	rs := s.relay.Stats()
	stats := Stats{
		ID:               s.id,
		State:            state.String(),
		FramesCaptured:   s.source.Captured(),
		CaptureMisses:    s.source.Misses(),
		RelayDepth:       s.relay.Len(),
		RelayCapacity:    s.relay.Cap(),
		RelayOverflows:   rs.Overflows,
		FramesDelivered:  s.adapter.Delivered(),
		DeliveryTimeouts: s.adapter.Skipped(),
		LastPTS:          s.adapter.LastPTS(),
	}
	if state == Running {
		stats.Uptime = time.Since(startedAt)
	}
	if err != nil {
		stats.Error = err.Error()
	}
	return stats
}

package camrelay

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MaxRelayCapacity bounds the relay size to keep latency and memory small.
const MaxRelayCapacity = 1024

type DropPolicy int

const (
	// DropOldest evicts the head of a full relay to make room.
	DropOldest DropPolicy = iota
	// DropNewest discards the incoming frame if the relay is full.
	DropNewest
)

func ParseDropPolicy(s string) (DropPolicy, error) {
	switch strings.ToLower(s) {
	case "", "drop-oldest", "oldest":
		return DropOldest, nil
	case "drop-newest", "newest":
		return DropNewest, nil
	}
	return 0, fmt.Errorf("unknown drop policy: %q", s)
}

func (p DropPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case DropNewest:
		return "drop-newest"
	}
	return "unknown"
}

func (p *DropPolicy) UnmarshalText(text []byte) error {
	dp, err := ParseDropPolicy(string(text))
	if err != nil {
		return err
	}
	*p = dp
	return nil
}

func (p DropPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

type RelayStats struct {
	Puts      uint64
	Overflows uint64
	Takes     uint64
	Timeouts  uint64
}

// Relay hands frames from a capture goroutine to a delivery loop. It holds
// at most Cap() frames. Put never blocks, Take blocks up to a timeout.
type Relay struct {
	frames chan Frame
	policy DropPolicy

	// putLock makes evict-then-insert atomic among producers.
	putLock sync.Mutex

	done      chan struct{}
	closeOnce sync.Once

	puts      atomic.Uint64
	overflows atomic.Uint64
	takes     atomic.Uint64
	timeouts  atomic.Uint64
}

func NewRelay(capacity int, policy DropPolicy) (*Relay, error) {
	if capacity < 1 || capacity > MaxRelayCapacity {
		return nil, fmt.Errorf("invalid relay capacity %d, must be within [1, %d]", capacity, MaxRelayCapacity)
	}
	if policy != DropOldest && policy != DropNewest {
		return nil, fmt.Errorf("invalid drop policy: %v", policy)
	}
	return &Relay{
		frames: make(chan Frame, capacity),
		policy: policy,
		done:   make(chan struct{}),
	}, nil
}

// Put appends f. If the relay is full, one frame is discarded according to
// the drop policy and the overflow counter is incremented.
func (r *Relay) Put(f Frame) error {
	select {
	case <-r.done:
		return ErrRelayClosed
	default:
	}

	r.putLock.Lock()
	defer r.putLock.Unlock()

	r.puts.Add(1)
	for {
		select {
		case r.frames <- f:
			return nil
		default:
		}
		if r.policy == DropNewest {
			r.overflows.Add(1)
			slog.Debug("relay full, dropping newest frame", "seq", f.Seq)
			return nil
		}
		select {
		case old := <-r.frames:
			r.overflows.Add(1)
			slog.Debug("relay full, dropping oldest frame", "seq", old.Seq)
		default:
			// drained by a concurrent Take, retry the send
		}
	}
}

// Take returns the oldest frame. It waits at most timeout and returns
// ErrDeliveryTimeout if nothing arrived, or ErrRelayClosed once Close was
// called.
func (r *Relay) Take(timeout time.Duration) (Frame, error) {
	select {
	case <-r.done:
		return Frame{}, ErrRelayClosed
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-r.frames:
		r.takes.Add(1)
		return f, nil
	case <-r.done:
		return Frame{}, ErrRelayClosed
	case <-timer.C:
		r.timeouts.Add(1)
		return Frame{}, ErrDeliveryTimeout
	}
}

// Close wakes all blocked Take calls. Frames still queued are discarded.
func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
}

func (r *Relay) Len() int {
	return len(r.frames)
}

func (r *Relay) Cap() int {
	return cap(r.frames)
}

func (r *Relay) Policy() DropPolicy {
	return r.policy
}

func (r *Relay) Stats() RelayStats {
	return RelayStats{
		Puts:      r.puts.Load(),
		Overflows: r.overflows.Load(),
		Takes:     r.takes.Load(),
		Timeouts:  r.timeouts.Load(),
	}
}

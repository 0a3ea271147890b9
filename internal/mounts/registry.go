package mounts

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/mengelbart/camrelay"
)

var (
	ErrUnknownMount  = errors.New("unknown mount")
	ErrUnknownClient = errors.New("unknown client")
	ErrClosed        = errors.New("registry closed")
)

// DeviceFactory opens a fresh device for a new session.
type DeviceFactory func() (camrelay.Device, error)

// Client receives the frames of one session.
type Client interface {
	camrelay.Transport
	io.Closer
}

type Mount struct {
	Name string
	// Shared mounts run at most one session at a time and fan its frames
	// out to every client. Otherwise each client gets its own session.
	Shared    bool
	Config    camrelay.Config
	Format    camrelay.PixelFormat
	Width     int
	Height    int
	NewDevice DeviceFactory
}

type Setup struct {
	SessionID string
	ClientID  string
	Mount     Mount
}

type SessionInfo struct {
	Mount   string `json:"mount"`
	Clients int    `json:"clients"`
	camrelay.Stats
}

type Registry struct {
	logger *slog.Logger

	lock     sync.Mutex
	mounts   map[string]Mount
	sessions map[string]*activeSession
	shared   map[string]*activeSession
	clients  map[string]*activeSession
	closed   bool

	wg sync.WaitGroup
}

func NewRegistry() *Registry {
	return &Registry{
		logger:   slog.Default().With("component", "mounts"),
		mounts:   map[string]Mount{},
		sessions: map[string]*activeSession{},
		shared:   map[string]*activeSession{},
		clients:  map[string]*activeSession{},
	}
}

func (r *Registry) Add(m Mount) error {
	if m.Name == "" {
		return errors.New("mount needs a name")
	}
	if m.NewDevice == nil {
		return fmt.Errorf("mount %q has no device", m.Name)
	}
	if err := m.Config.Validate(); err != nil {
		return fmt.Errorf("mount %q: %w", m.Name, err)
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.mounts[m.Name]; ok {
		return fmt.Errorf("duplicate mount %q", m.Name)
	}
	r.mounts[m.Name] = m
	return nil
}

// Mounts returns all mounts sorted by name.
func (r *Registry) Mounts() []Mount {
	r.lock.Lock()
	defer r.lock.Unlock()
	res := make([]Mount, 0, len(r.mounts))
	for _, m := range r.mounts {
		res = append(res, m)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Name < res[j].Name
	})
	return res
}

func (r *Registry) Mount(name string) (Mount, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	m, ok := r.mounts[name]
	return m, ok
}

// Setup attaches client to a session of the named mount. On error the
// client is left open. Devices are opened without holding the registry
// lock.
func (r *Registry) Setup(name string, client Client) (Setup, error) {
	r.lock.Lock()
	if r.closed {
		r.lock.Unlock()
		return Setup{}, ErrClosed
	}
	m, ok := r.mounts[name]
	if !ok {
		r.lock.Unlock()
		return Setup{}, fmt.Errorf("%w: %q", ErrUnknownMount, name)
	}
	if as := r.liveShared(name); as != nil {
		defer r.lock.Unlock()
		return r.attach(as, m, client), nil
	}
	r.lock.Unlock()

	fresh, err := r.newSession(m)
	if err != nil {
		return Setup{}, err
	}

	r.lock.Lock()
	if r.closed {
		r.lock.Unlock()
		return Setup{}, errors.Join(ErrClosed, fresh.session.Stop())
	}
	if as := r.liveShared(name); as != nil {
		// another Setup of this mount won the race
		setup := r.attach(as, m, client)
		r.lock.Unlock()
		if err := fresh.session.Stop(); err != nil {
			r.logger.Warn("failed to stop surplus session", "mount", name, "error", err)
		}
		return setup, nil
	}
	r.register(fresh, m)
	defer r.lock.Unlock()
	return r.attach(fresh, m, client), nil
}

// liveShared returns the running shared session of a mount. r.lock must be
// held.
func (r *Registry) liveShared(name string) *activeSession {
	as := r.shared[name]
	if as == nil || as.session.State() != camrelay.Running {
		return nil
	}
	return as
}

// attach adds client to as. r.lock must be held.
func (r *Registry) attach(as *activeSession, m Mount, client Client) Setup {
	clientID := uuid.NewString()
	as.addClient(clientID, client)
	r.clients[clientID] = as
	r.logger.Info("client attached", "mount", m.Name, "session", as.session.ID(), "client", clientID)
	return Setup{
		SessionID: as.session.ID(),
		ClientID:  clientID,
		Mount:     m,
	}
}

// newSession opens a device and starts capturing from it.
func (r *Registry) newSession(m Mount) (*activeSession, error) {
	device, err := m.NewDevice()
	if err != nil {
		return nil, fmt.Errorf("open device for mount %q: %w", m.Name, err)
	}
	as := &activeSession{
		mount:   m.Name,
		clients: map[string]Client{},
		logger:  r.logger.With("mount", m.Name),
		dropped: r.dropClients,
	}
	as.session, err = camrelay.NewSession(device, as, m.Config)
	if err != nil {
		return nil, errors.Join(err, device.Close())
	}
	if err = as.session.Start(); err != nil {
		return nil, errors.Join(err, device.Close())
	}
	return as, nil
}

// register makes as visible and starts its pump. r.lock must be held.
func (r *Registry) register(as *activeSession, m Mount) {
	r.sessions[as.session.ID()] = as
	if m.Shared {
		r.shared[m.Name] = as
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := as.pump()
		r.remove(as, err)
	}()
}

// dropClients forgets clients that as removed after a failed Emit and stops
// the session if none are left.
func (r *Registry) dropClients(as *activeSession, ids []string) {
	r.lock.Lock()
	for _, id := range ids {
		if r.clients[id] == as {
			delete(r.clients, id)
		}
	}
	empty := as.clientCount() == 0
	if empty {
		r.forget(as)
	}
	r.lock.Unlock()

	if !empty {
		return
	}
	as.logger.Info("last client dropped, stopping session", "session", as.session.ID())
	if err := as.session.Stop(); err != nil {
		as.logger.Warn("failed to stop session", "session", as.session.ID(), "error", err)
	}
}

// Teardown detaches and closes a client. The session is stopped when its
// last client leaves.
func (r *Registry) Teardown(clientID string) error {
	r.lock.Lock()
	as, ok := r.clients[clientID]
	if !ok {
		r.lock.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownClient, clientID)
	}
	delete(r.clients, clientID)
	client, remaining := as.removeClient(clientID)
	if remaining == 0 {
		r.forget(as)
	}
	r.lock.Unlock()

	r.logger.Info("client detached", "mount", as.mount, "session", as.session.ID(), "client", clientID)
	var errs []error
	if client != nil {
		errs = append(errs, client.Close())
	}
	if remaining == 0 {
		errs = append(errs, as.session.Stop())
	}
	return errors.Join(errs...)
}

// forget drops as from the lookup tables. r.lock must be held.
func (r *Registry) forget(as *activeSession) {
	delete(r.sessions, as.session.ID())
	if r.shared[as.mount] == as {
		delete(r.shared, as.mount)
	}
}

// remove cleans up after a pump has exited.
func (r *Registry) remove(as *activeSession, err error) {
	if err != nil {
		as.logger.Error("session ended", "session", as.session.ID(), "error", err)
	}
	r.lock.Lock()
	r.forget(as)
	clients := as.takeClients()
	for id := range clients {
		delete(r.clients, id)
	}
	r.lock.Unlock()

	for id, c := range clients {
		if err := c.Close(); err != nil {
			as.logger.Warn("failed to close client", "client", id, "error", err)
		}
	}
}

// Sessions returns statistics of all active sessions.
func (r *Registry) Sessions() []SessionInfo {
	r.lock.Lock()
	active := make([]*activeSession, 0, len(r.sessions))
	for _, as := range r.sessions {
		active = append(active, as)
	}
	r.lock.Unlock()

	res := make([]SessionInfo, 0, len(active))
	for _, as := range active {
		res = append(res, SessionInfo{
			Mount:   as.mount,
			Clients: as.clientCount(),
			Stats:   as.session.Stats(),
		})
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Mount != res[j].Mount {
			return res[i].Mount < res[j].Mount
		}
		return res[i].ID < res[j].ID
	})
	return res
}

// Close stops all sessions and waits for their pumps to exit.
func (r *Registry) Close() error {
	r.lock.Lock()
	r.closed = true
	active := make([]*activeSession, 0, len(r.sessions))
	for _, as := range r.sessions {
		active = append(active, as)
	}
	r.lock.Unlock()

	var errs []error
	for _, as := range active {
		errs = append(errs, as.session.Stop())
	}
	r.wg.Wait()
	return errors.Join(errs...)
}

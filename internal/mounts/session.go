package mounts

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/mengelbart/camrelay"
)

// activeSession is the transport of one camrelay.Session. It fans every
// frame out to the attached clients.
type activeSession struct {
	mount   string
	session *camrelay.Session
	logger  *slog.Logger

	// dropped is called from Emit with the IDs of clients removed after a
	// failed Emit.
	dropped func(as *activeSession, ids []string)

	lock    sync.Mutex
	clients map[string]Client
}

// Emit drops and closes clients that fail to take a frame.
func (s *activeSession) Emit(tf camrelay.TimedFrame) error {
	s.lock.Lock()
	failed := map[string]Client{}
	for id, c := range s.clients {
		if err := c.Emit(tf); err != nil {
			s.logger.Warn("dropping client", "client", id, "error", err)
			delete(s.clients, id)
			failed[id] = c
		}
	}
	s.lock.Unlock()

	if len(failed) == 0 {
		return nil
	}
	ids := make([]string, 0, len(failed))
	for id, c := range failed {
		if err := c.Close(); err != nil {
			s.logger.Warn("failed to close client", "client", id, "error", err)
		}
		ids = append(ids, id)
	}
	if s.dropped != nil {
		s.dropped(s, ids)
	}
	return nil
}

// pump drives the session from its own goroutine until the session stops.
// It returns nil if the session was stopped and the fatal error otherwise.
func (s *activeSession) pump() error {
	for {
		_, err := s.session.Demand(0)
		if err == nil {
			continue
		}
		if errors.Is(err, camrelay.ErrSessionStopped) {
			return nil
		}
		var fse *camrelay.FatalSourceError
		if errors.As(err, &fse) {
			return err
		}
		s.logger.Warn("demand failed", "session", s.session.ID(), "error", err)
	}
}

func (s *activeSession) addClient(id string, c Client) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.clients[id] = c
}

func (s *activeSession) removeClient(id string) (Client, int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	c := s.clients[id]
	delete(s.clients, id)
	return c, len(s.clients)
}

func (s *activeSession) takeClients() map[string]Client {
	s.lock.Lock()
	defer s.lock.Unlock()
	clients := s.clients
	s.clients = map[string]Client{}
	return clients
}

func (s *activeSession) clientCount() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.clients)
}

package session

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/zsprackett/filerelay/internal/protocol"
)

// Registry is the set of live sessions. Sessions are kept in registration
// order, which is the order FindByName and Broadcast walk them in.
type Registry struct {
	mu        sync.Mutex
	sessions  []*Session
	queueSize int
	logger    *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger, queueSize: DefaultQueueSize}
}

// SetQueueSize sets the outbound queue length for sessions registered
// afterwards.
func (r *Registry) SetQueueSize(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queueSize = n
}

// Register adds a live session named name that writes to conn.
func (r *Registry) Register(name string, conn Conn) *Session {
	r.mu.Lock()
	size := r.queueSize
	r.mu.Unlock()
	s := newSession(name, conn, size, r.reap)
	r.mu.Lock()
	r.sessions = append(r.sessions, s)
	n := len(r.sessions)
	r.mu.Unlock()
	r.logger.Debug("session: registered", "name", name, "id", s.ID, "addr", s.Addr, "live", n)
	return s
}

// Unregister removes s and reports whether it was still registered. The
// session is marked dead and its writer stopped before it leaves the set,
// so a broadcast working from an older snapshot cannot reach it.
func (r *Registry) Unregister(s *Session) bool {
	if s == nil {
		return false
	}
	s.kill()

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cur := range r.sessions {
		if cur == s {
			r.sessions = append(r.sessions[:i:i], r.sessions[i+1:]...)
			return true
		}
	}
	return false
}

// FindByName returns the first live session registered under name.
func (r *Registry) FindByName(name string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, ErrNotFound
}

// Snapshot returns the live sessions at the time of the call.
func (r *Registry) Snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// Names returns the display names of the live sessions in registration order.
func (r *Registry) Names() []string {
	snap := r.Snapshot()
	names := make([]string, len(snap))
	for i, s := range snap {
		names[i] = s.Name
	}
	return names
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Broadcast queues e for every live session except exclude and returns the
// number of sessions it was queued for. It never waits on a peer's socket.
// A session whose queue is full is removed and its connection closed;
// delivery to the rest continues.
func (r *Registry) Broadcast(e protocol.Event, exclude *Session) int {
	frame := e.Encode()
	delivered := 0
	for _, s := range r.Snapshot() {
		if s == exclude {
			continue
		}
		if err := s.send(frame); err != nil {
			r.reap(s, err)
			continue
		}
		delivered++
	}
	return delivered
}

// Unicast queues e for a single session. If the queue is full the session
// is removed and the error returned. Write errors surface later, from the
// session's writer, and take the same removal path.
func (r *Registry) Unicast(e protocol.Event, to *Session) error {
	if err := to.send(e.Encode()); err != nil {
		r.reap(to, err)
		return err
	}
	return nil
}

func (r *Registry) reap(s *Session, err error) {
	if errors.Is(err, ErrClosed) {
		return
	}
	// closing first releases a writer stuck on the socket, which kill waits for
	s.conn.Close()
	if r.Unregister(s) {
		r.logger.Info("session: dropped after failed send", "name", s.Name, "id", s.ID, "err", err)
	}
}

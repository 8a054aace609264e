// Package session tracks the clients currently connected to the relay.
package session

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no live session has the requested name.
	ErrNotFound = errors.New("session not found")
	// ErrClosed is returned when sending to a session that has been removed.
	ErrClosed = errors.New("session closed")
	// ErrBacklog is returned when a session's outbound queue is full.
	ErrBacklog = errors.New("session outbound queue full")
)

var adjectives = []string{
	"swift", "bright", "calm", "deep", "eager", "fair", "gentle", "happy",
	"keen", "light", "mild", "noble", "proud", "quick", "rich", "safe",
	"true", "vivid", "warm", "wise", "bold", "cool", "dark", "fast",
}

var nouns = []string{
	"fox", "owl", "wolf", "bear", "hawk", "lion", "deer", "crow",
	"dove", "seal", "swan", "hare", "lynx", "moth", "newt", "orca",
	"pike", "rook", "toad", "vole", "wren", "yak", "bass", "crab",
}

// GenerateName returns a random adjective-noun name for clients whose
// handshake carried only whitespace.
func GenerateName() string {
	adj := adjectives[rand.Intn(len(adjectives))]
	noun := nouns[rand.Intn(len(nouns))]
	return fmt.Sprintf("%s-%s", adj, noun)
}

// Conn is the write side of a client connection.
type Conn interface {
	WriteFrame(frame []byte) error
	Close() error
	RemoteAddr() string
}

// DefaultQueueSize is the number of outbound frames a session may have
// pending before it is treated as unresponsive.
const DefaultQueueSize = 256

// Session is one connected client. Frames are queued and written by the
// session's own writer goroutine, so a peer that stops reading never blocks
// the sender.
type Session struct {
	ID       string
	Name     string
	Addr     string
	JoinedAt time.Time

	conn Conn
	out  chan []byte
	stop chan struct{}
	done chan struct{}

	mu    sync.Mutex // guards alive and the send into out
	alive bool
}

func newSession(name string, conn Conn, queueSize int, onWriteErr func(*Session, error)) *Session {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	s := &Session{
		ID:       uuid.NewString(),
		Name:     name,
		Addr:     conn.RemoteAddr(),
		JoinedAt: time.Now(),
		conn:     conn,
		out:      make(chan []byte, queueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		alive:    true,
	}
	go s.writeLoop(onWriteErr)
	return s
}

// Alive reports whether the session is still registered.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

// send queues frame without waiting for the network. A full queue is
// reported as ErrBacklog.
func (s *Session) send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive {
		return ErrClosed
	}
	select {
	case s.out <- frame:
		return nil
	default:
		return ErrBacklog
	}
}

func (s *Session) writeLoop(onWriteErr func(*Session, error)) {
	var err error
loop:
	for {
		select {
		case <-s.stop:
			break loop
		case frame := <-s.out:
			if err = s.conn.WriteFrame(frame); err != nil {
				break loop
			}
		}
	}
	close(s.done)
	if err != nil && onWriteErr != nil {
		onWriteErr(s, err)
	}
}

// kill marks the session dead and waits for the writer to exit, so once it
// returns no further frame can reach the connection. A write blocked on the
// network holds kill until the connection is closed.
func (s *Session) kill() bool {
	s.mu.Lock()
	was := s.alive
	if was {
		s.alive = false
		close(s.stop)
	}
	s.mu.Unlock()
	<-s.done
	return was
}

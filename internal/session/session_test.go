package session_test

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsprackett/filerelay/internal/protocol"
	"github.com/zsprackett/filerelay/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn records frames; it fails every write once broken is set.
type fakeConn struct {
	mu     sync.Mutex
	frames []string
	broken bool
	closed bool
}

func (c *fakeConn) WriteFrame(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return errors.New("broken pipe")
	}
	c.frames = append(c.frames, string(frame))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "test" }

func (c *fakeConn) Frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func (c *fakeConn) waitFrames(t *testing.T, want ...string) {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.Frames()) >= len(want) }, waitFor, tick,
		"got %q want %q", c.Frames(), want)
	assert.Equal(t, want, c.Frames())
}

// stalledConn never completes a write until it is closed, like a peer whose
// receive window is full.
type stalledConn struct {
	closed    chan struct{}
	closeOnce sync.Once
}

func newStalledConn() *stalledConn {
	return &stalledConn{closed: make(chan struct{})}
}

func (c *stalledConn) WriteFrame([]byte) error {
	<-c.closed
	return errors.New("use of closed connection")
}

func (c *stalledConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *stalledConn) RemoteAddr() string { return "stalled" }

func TestGenerateName(t *testing.T) {
	name := session.GenerateName()
	require.NotEmpty(t, name)
	assert.GreaterOrEqual(t, len(strings.Split(name, "-")), 2, "expected adjective-noun, got %q", name)
}

func TestRegisterFindUnregister(t *testing.T) {
	r := session.NewRegistry(discardLogger())
	alice := r.Register("alice", &fakeConn{})
	require.NotEmpty(t, alice.ID)
	assert.True(t, alice.Alive())

	got, err := r.FindByName("alice")
	require.NoError(t, err)
	assert.Same(t, alice, got)

	_, err = r.FindByName("bob")
	assert.ErrorIs(t, err, session.ErrNotFound)

	assert.True(t, r.Unregister(alice))
	assert.False(t, alice.Alive())
	assert.False(t, r.Unregister(alice), "second unregister reports absence")
	assert.Equal(t, 0, r.Len())

	_, err = r.FindByName("alice")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestFindByName_DuplicateNamesFirstMatchWins(t *testing.T) {
	r := session.NewRegistry(discardLogger())
	first := r.Register("sam", &fakeConn{})
	r.Register("sam", &fakeConn{})

	got, err := r.FindByName("sam")
	require.NoError(t, err)
	assert.Same(t, first, got)
	assert.Equal(t, []string{"sam", "sam"}, r.Names())
}

func TestBroadcast_ExcludesSenderAndReachesOthersOnce(t *testing.T) {
	r := session.NewRegistry(discardLogger())
	conns := map[string]*fakeConn{"alice": {}, "bob": {}, "carol": {}}
	var alice *session.Session
	for _, name := range []string{"alice", "bob", "carol"} {
		s := r.Register(name, conns[name])
		if name == "alice" {
			alice = s
		}
	}

	n := r.Broadcast(protocol.Chat("alice", "hi"), alice)
	assert.Equal(t, 2, n)
	conns["bob"].waitFrames(t, "alice: hi")
	conns["carol"].waitFrames(t, "alice: hi")
	assert.Empty(t, conns["alice"].Frames())

	n = r.Broadcast(protocol.Left("dave"), nil)
	assert.Equal(t, 3, n)
}

func TestBroadcast_FailedSendRemovesOnlyThatSession(t *testing.T) {
	r := session.NewRegistry(discardLogger())
	good, bad := &fakeConn{}, &fakeConn{broken: true}
	r.Register("good", good)
	badSess := r.Register("bad", bad)
	late := &fakeConn{}
	r.Register("late", late)

	r.Broadcast(protocol.Notice("ping"), nil)
	require.Eventually(t, func() bool { return !badSess.Alive() }, waitFor, tick)
	assert.True(t, bad.IsClosed())
	assert.Equal(t, []string{"good", "late"}, r.Names())
	late.waitFrames(t, "ping")

	// once removed, a repaired connection still never sees another frame
	bad.mu.Lock()
	bad.broken = false
	bad.mu.Unlock()
	r.Broadcast(protocol.Notice("again"), nil)
	assert.ErrorIs(t, r.Unicast(protocol.Notice("direct"), badSess), session.ErrClosed)
	assert.Empty(t, bad.Frames())
}

func TestUnicast(t *testing.T) {
	r := session.NewRegistry(discardLogger())
	c := &fakeConn{}
	s := r.Register("alice", c)

	require.NoError(t, r.Unicast(protocol.Errorf("nope"), s))
	c.waitFrames(t, "ERROR::nope")

	c.mu.Lock()
	c.broken = true
	c.mu.Unlock()
	r.Unicast(protocol.Notice("x"), s)
	require.Eventually(t, func() bool { return r.Len() == 0 }, waitFor, tick)
	assert.True(t, c.IsClosed())
	assert.ErrorIs(t, r.Unicast(protocol.Notice("y"), s), session.ErrClosed)
}

func TestUnicast_PreservesOrder(t *testing.T) {
	r := session.NewRegistry(discardLogger())
	c := &fakeConn{}
	s := r.Register("alice", c)

	var want []string
	for i := 0; i < 50; i++ {
		frame := strings.Repeat("x", i)
		want = append(want, frame)
		require.NoError(t, r.Unicast(protocol.Notice(frame), s))
	}
	c.waitFrames(t, want...)
}

func TestBroadcast_StalledPeerDoesNotBlockOthers(t *testing.T) {
	r := session.NewRegistry(discardLogger())
	r.SetQueueSize(4)
	stalled := newStalledConn()
	peer := r.Register("mallory", stalled)
	r.SetQueueSize(session.DefaultQueueSize)
	dave := &fakeConn{}
	r.Register("dave", dave)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 64; i++ {
			r.Broadcast(protocol.Notice("flood"), nil)
		}
		r.Broadcast(protocol.Chat("carol", "hello"), nil)
	}()

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("broadcast blocked on a peer that never reads")
	}
	assert.False(t, peer.Alive(), "stalled peer is removed once its queue fills")
	assert.Equal(t, []string{"dave"}, r.Names())
	require.Eventually(t, func() bool {
		frames := dave.Frames()
		return len(frames) == 65 && frames[64] == "carol: hello"
	}, waitFor, tick)
}

func TestUnregistered_NeverReceives(t *testing.T) {
	r := session.NewRegistry(discardLogger())
	c := &fakeConn{}
	s := r.Register("alice", c)
	r.Unregister(s)

	r.Broadcast(protocol.Notice("after"), nil)
	assert.ErrorIs(t, r.Unicast(protocol.Notice("after"), s), session.ErrClosed)
	assert.Empty(t, c.Frames())
	assert.False(t, c.IsClosed(), "unregister leaves closing to the connection owner")
}

func TestRegistry_ConcurrentRegisterBroadcastUnregister(t *testing.T) {
	r := session.NewRegistry(discardLogger())
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := &fakeConn{}
			s := r.Register("client", c)
			r.Broadcast(protocol.Notice("hello"), s)
			r.Unregister(s)
			seen := len(c.Frames())
			r.Broadcast(protocol.Notice("after"), nil)
			if len(c.Frames()) != seen {
				t.Error("received a frame after unregister")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}

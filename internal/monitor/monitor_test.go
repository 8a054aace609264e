package monitor_test

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsprackett/filerelay/internal/events"
	"github.com/zsprackett/filerelay/internal/monitor"
	"github.com/zsprackett/filerelay/internal/session"
	"github.com/zsprackett/filerelay/internal/versions"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureBroadcaster struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureBroadcaster) Broadcast(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureBroadcaster) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

type nopConn struct{}

func (nopConn) WriteFrame([]byte) error { return nil }
func (nopConn) Close() error            { return nil }
func (nopConn) RemoteAddr() string      { return "test" }

func TestSample(t *testing.T) {
	registry := session.NewRegistry(discardLogger())
	store := versions.New(discardLogger())
	registry.Register("alice", nopConn{})
	store.Append("a.txt", []byte("one"))
	store.Append("a.txt", []byte("three"))
	store.Append("b.txt", []byte("xy"))

	m := monitor.New(registry, store, nil, time.Second, discardLogger())
	assert.Equal(t, events.Stats{Sessions: 1, Files: 2, Versions: 3, LatestBytes: 7}, m.Sample())
}

func TestRefreshReportsOnlyChanges(t *testing.T) {
	registry := session.NewRegistry(discardLogger())
	store := versions.New(discardLogger())
	capture := &captureBroadcaster{}
	m := monitor.New(registry, store, capture, time.Second, discardLogger())

	require.True(t, m.Refresh(), "first refresh should report")
	require.False(t, m.Refresh(), "unchanged stats should not report")
	store.Append("a.txt", []byte("abc"))
	require.True(t, m.Refresh(), "new version should report")

	require.Equal(t, 2, capture.len())
	last := capture.events[1]
	assert.Equal(t, events.TypeStats, last.Type)
	require.NotNil(t, last.Stats)
	assert.Equal(t, 1, last.Stats.Versions)
}

func TestStartStop(t *testing.T) {
	registry := session.NewRegistry(discardLogger())
	store := versions.New(discardLogger())
	capture := &captureBroadcaster{}
	m := monitor.New(registry, store, capture, 5*time.Millisecond, discardLogger())

	m.Start()
	defer m.Stop()
	assert.Eventually(t, func() bool { return capture.len() > 0 }, 2*time.Second, 5*time.Millisecond,
		"monitor never reported")
}

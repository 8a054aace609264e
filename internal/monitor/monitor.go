package monitor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/zsprackett/filerelay/internal/events"
	"github.com/zsprackett/filerelay/internal/session"
	"github.com/zsprackett/filerelay/internal/versions"
)

const DefaultInterval = 30 * time.Second

// Monitor periodically samples the registry and store and reports the
// summary whenever it changes.
type Monitor struct {
	registry    *session.Registry
	store       *versions.Store
	broadcaster events.Broadcaster
	interval    time.Duration
	stop        chan struct{}
	wg          sync.WaitGroup
	logger      *slog.Logger

	mu   sync.Mutex
	last events.Stats
	seen bool
}

func New(registry *session.Registry, store *versions.Store, broadcaster events.Broadcaster, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		registry:    registry,
		store:       store,
		broadcaster: broadcaster,
		interval:    interval,
		stop:        make(chan struct{}),
		logger:      logger,
	}
}

func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.Refresh()
			}
		}
	}()
}

func (m *Monitor) Stop() {
	close(m.stop)
	m.wg.Wait()
}

// Sample computes the current summary without reporting it.
func (m *Monitor) Sample() events.Stats {
	st := events.Stats{Sessions: m.registry.Len()}
	for _, f := range m.store.Files() {
		st.Files++
		st.Versions += f.Versions
		st.LatestBytes += f.LatestSize
	}
	return st
}

// Refresh samples and reports if the summary differs from the last one
// reported. It returns whether a report was made.
func (m *Monitor) Refresh() bool {
	st := m.Sample()

	m.mu.Lock()
	if m.seen && st == m.last {
		m.mu.Unlock()
		return false
	}
	m.last, m.seen = st, true
	m.mu.Unlock()

	m.logger.Info("relay stats",
		"sessions", st.Sessions,
		"files", st.Files,
		"versions", st.Versions,
		"latest_bytes", humanize.Bytes(uint64(st.LatestBytes)),
	)
	if m.broadcaster != nil {
		m.broadcaster.Broadcast(events.Event{Type: events.TypeStats, Stats: &st}.Stamp())
	}
	return true
}

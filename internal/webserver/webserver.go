package webserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/zsprackett/filerelay/internal/events"
	"github.com/zsprackett/filerelay/internal/protocol"
	"github.com/zsprackett/filerelay/internal/relay"
	"github.com/zsprackett/filerelay/internal/session"
	"github.com/zsprackett/filerelay/internal/versions"
)

type Config struct {
	Enabled bool
	Port    int
	Host    string
	Path    string // websocket endpoint, defaults to /ws
}

// Server exposes the relay over WebSocket and serves a read-only HTTP view
// of connected sessions and stored versions.
type Server struct {
	relay    *relay.Server
	registry *session.Registry
	store    *versions.Store
	cfg      Config
	logger   *slog.Logger
	mu       sync.Mutex
	clients  map[chan events.Event]struct{}
}

func New(relaySrv *relay.Server, registry *session.Registry, store *versions.Store, cfg Config, logger *slog.Logger) *Server {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	return &Server{
		relay:    relaySrv,
		registry: registry,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		clients:  make(map[chan events.Event]struct{}),
	}
}

// Broadcast implements events.Broadcaster.
func (s *Server) Broadcast(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.clients {
		select {
		case ch <- e:
		default:
		}
	}
}

func (s *Server) addClient(ch chan events.Event) {
	s.mu.Lock()
	s.clients[ch] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(ch chan events.Event) {
	s.mu.Lock()
	delete(s.clients, ch)
	s.mu.Unlock()
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+s.cfg.Path, s.handleRelay)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/files", s.handleFiles)
	mux.HandleFunc("GET /api/files/{name}/versions", s.handleVersions)
	mux.HandleFunc("GET /api/files/{name}/versions/{n}", s.handleContent)
	mux.HandleFunc("GET /events", s.handleSSE)
	return mux
}

// Run serves HTTP until ctx is cancelled. It returns nil when disabled.
func (s *Server) Run(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("webserver: listening", "addr", addr, "ws", s.cfg.Path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webserver: %w", err)
	}
	return nil
}

type sessionInfo struct {
	Name     string    `json:"name"`
	Addr     string    `json:"addr"`
	JoinedAt time.Time `json:"joined_at"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	snap := s.registry.Snapshot()
	out := make([]sessionInfo, len(snap))
	for i, sess := range snap {
		out[i] = sessionInfo{Name: sess.Name, Addr: sess.Addr, JoinedAt: sess.JoinedAt}
	}
	writeJSON(w, map[string]any{"sessions": out})
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"files": s.store.Files()}
	if t, ok := s.store.LastPersisted(); ok {
		resp["last_modified"] = t
	}
	writeJSON(w, resp)
}

type versionInfo struct {
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	Size      int       `json:"size"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	list := s.store.List(name)
	if len(list) == 0 {
		http.Error(w, "file not found", 404)
		return
	}
	out := make([]versionInfo, len(list))
	for i, v := range list {
		out[i] = versionInfo{
			ID:        protocol.VersionID(v.File, v.Number),
			Version:   v.Number,
			Size:      v.Size,
			Checksum:  strconv.FormatUint(v.Checksum, 16),
			CreatedAt: v.CreatedAt,
		}
	}
	writeJSON(w, map[string]any{"file": name, "versions": out})
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		http.Error(w, "invalid version number", 400)
		return
	}
	v, err := s.store.Fetch(name, n)
	if errors.Is(err, versions.ErrNotFound) {
		http.Error(w, err.Error(), 404)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Version", strconv.Itoa(v.Number))
	w.Write(v.Content)
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", 500)
		return
	}

	ch := make(chan events.Event, 16)
	s.addClient(ch)
	defer s.removeClient(ch)

	writeSSE(w, flusher, events.Event{Type: "snapshot"}.Stamp())

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-ch:
			writeSSE(w, flusher, e)
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, f http.Flusher, e events.Event) {
	data, _ := json.Marshal(e)
	if e.ID != "" {
		fmt.Fprintf(w, "id: %s\n", e.ID)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	f.Flush()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

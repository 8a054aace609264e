// Package versions keeps the append-only version history of every uploaded file.
package versions

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"

	"github.com/zsprackett/filerelay/internal/db"
)

// ErrNotFound is returned by Fetch for an unknown file or an out-of-range version.
var ErrNotFound = errors.New("version not found")

// Version is one immutable snapshot of a file.
type Version struct {
	File      string
	Number    int
	Size      int
	Checksum  uint64
	CreatedAt time.Time
	Content   []byte
}

// FileInfo summarizes the history of one file.
type FileInfo struct {
	Name       string    `json:"name"`
	Versions   int       `json:"versions"`
	LatestSize int       `json:"latest_size"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Persister durably records versions. *db.DB implements it.
type Persister interface {
	InsertVersion(v *db.FileVersion) error
	LoadVersions() ([]*db.FileVersion, error)
}

// Stamped is implemented by persisters that record when they last accepted
// a version. Both *db.DB and *db.BoltDB do.
type Stamped interface {
	LastModified() time.Time
}

// Store maps file names to their version history. All methods are safe for
// concurrent use; Append holds the write lock across numbering and storage so
// two uploads to the same name can never receive the same number.
type Store struct {
	mu      sync.RWMutex
	files   map[string][]Version
	persist Persister
	logger  *slog.Logger
	now     func() time.Time
}

// New returns an empty, memory-only store.
func New(logger *slog.Logger) *Store {
	return &Store{
		files:  make(map[string][]Version),
		logger: logger,
		now:    time.Now,
	}
}

// Open returns a store that writes every version through to p, warmed with
// the history p already holds.
func Open(p Persister, logger *slog.Logger) (*Store, error) {
	s := New(logger)
	s.persist = p

	rows, err := p.LoadVersions()
	if err != nil {
		return nil, fmt.Errorf("load versions: %w", err)
	}
	for _, r := range rows {
		history := s.files[r.Name]
		if r.Number != len(history)+1 {
			return nil, fmt.Errorf("load versions: %s: expected version %d, found %d", r.Name, len(history)+1, r.Number)
		}
		s.files[r.Name] = append(history, Version{
			File:      r.Name,
			Number:    r.Number,
			Size:      len(r.Content),
			Checksum:  r.Checksum,
			CreatedAt: r.CreatedAt,
			Content:   r.Content,
		})
	}
	logger.Info("versions: loaded history", "files", len(s.files), "versions", len(rows))
	return s, nil
}

// SetNow replaces the time source. Used in tests only.
func (s *Store) SetNow(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = fn
}

// Append stores content as the next version of name and returns it.
func (s *Store) Append(name string, content []byte) (Version, error) {
	data := make([]byte, len(content))
	copy(data, content)

	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.files[name]
	v := Version{
		File:      name,
		Number:    len(history) + 1,
		Size:      len(data),
		Checksum:  xxhash.Sum64(data),
		CreatedAt: s.now(),
		Content:   data,
	}

	if s.persist != nil {
		err := s.persist.InsertVersion(&db.FileVersion{
			Name:      v.File,
			Number:    v.Number,
			Content:   v.Content,
			Checksum:  v.Checksum,
			CreatedAt: v.CreatedAt,
		})
		if err != nil {
			return Version{}, fmt.Errorf("persist %s v%d: %w", name, v.Number, err)
		}
	}

	s.files[name] = append(history, v)
	s.logger.Debug("versions: appended",
		"file", name,
		"version", v.Number,
		"size", humanize.Bytes(uint64(v.Size)),
	)
	return v.withoutContent(), nil
}

// List returns the versions of name in upload order, without content.
// An unknown name yields an empty list.
func (s *Store) List(name string) []Version {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.files[name]
	out := make([]Version, len(history))
	for i, v := range history {
		out[i] = v.withoutContent()
	}
	return out
}

// Fetch returns version n (1-based) of name, checked against the count at
// the time of the call.
func (s *Store) Fetch(name string, n int) (Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.files[name]
	if !ok || n < 1 || n > len(history) {
		return Version{}, fmt.Errorf("%s v%d: %w", name, n, ErrNotFound)
	}
	v := history[n-1]
	v.Content = append([]byte(nil), v.Content...)
	return v, nil
}

// Count returns how many versions of name exist.
func (s *Store) Count(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files[name])
}

// Files lists every known file sorted by name.
func (s *Store) Files() []FileInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]FileInfo, 0, len(s.files))
	for name, history := range s.files {
		latest := history[len(history)-1]
		out = append(out, FileInfo{
			Name:       name,
			Versions:   len(history),
			LatestSize: latest.Size,
			UpdatedAt:  latest.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LastPersisted reports when the backing persister last accepted a version.
// ok is false for a memory-only store or one that has never written.
func (s *Store) LastPersisted() (t time.Time, ok bool) {
	st, isStamped := s.persist.(Stamped)
	if !isStamped {
		return time.Time{}, false
	}
	t = st.LastModified()
	return t, !t.IsZero()
}

func (v Version) withoutContent() Version {
	v.Content = nil
	return v
}

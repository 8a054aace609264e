// Package applog configures the relay's structured logging.
package applog

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	filePrefix = "filerelay-"
	service    = "filerelay"
)

// Rotator is an io.Writer over date-stamped log files. It starts a new file
// each calendar day and, when maxBytes is set, whenever the current file
// would grow past it. Files are named filerelay-YYYY-MM-DD-NNN.log so that
// name order is write order; only the newest maxFiles are kept.
type Rotator struct {
	mu       sync.Mutex
	dir      string
	maxBytes int64
	maxFiles int

	file *os.File
	date string
	seq  int
	size int64
	now  func() time.Time
}

func NewRotator(dir string, maxBytes int64, maxFiles int) *Rotator {
	return &Rotator{dir: dir, maxBytes: maxBytes, maxFiles: maxFiles, now: time.Now}
}

// SetNow replaces the time source. Used in tests only.
func (r *Rotator) SetNow(fn func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = fn
}

func (r *Rotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	today := r.now().Format("2006-01-02")
	switch {
	case r.file == nil || today != r.date:
		if err := r.open(today, r.lastSeq(today)); err != nil {
			return 0, err
		}
	case r.maxBytes > 0 && r.size > 0 && r.size+int64(len(p)) > r.maxBytes:
		if err := r.open(today, r.seq+1); err != nil {
			return 0, err
		}
	}
	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *Rotator) name(date string, seq int) string {
	return filepath.Join(r.dir, fmt.Sprintf("%s%s-%03d.log", filePrefix, date, seq))
}

// lastSeq finds the newest file already written for date, so a restart
// keeps appending where the previous run stopped.
func (r *Rotator) lastSeq(date string) int {
	matches, _ := filepath.Glob(filepath.Join(r.dir, filePrefix+date+"-*.log"))
	last := 0
	for _, m := range matches {
		var seq int
		if _, err := fmt.Sscanf(strings.TrimPrefix(filepath.Base(m), filePrefix+date+"-"), "%03d.log", &seq); err == nil && seq > last {
			last = seq
		}
	}
	return last
}

func (r *Rotator) open(date string, seq int) error {
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
	f, err := os.OpenFile(r.name(date, seq), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	r.file, r.date, r.seq, r.size = f, date, seq, info.Size()
	r.prune()
	return nil
}

func (r *Rotator) prune() {
	if r.maxFiles <= 0 {
		return
	}
	matches, err := filepath.Glob(filepath.Join(r.dir, filePrefix+"*.log"))
	if err != nil || len(matches) <= r.maxFiles {
		return
	}
	sort.Strings(matches)
	for _, f := range matches[:len(matches)-r.maxFiles] {
		os.Remove(f)
	}
}

func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// Options configures file logging.
type Options struct {
	Dir      string
	Level    string
	JSON     bool
	MaxSize  string // per-file limit such as "10MB"; empty means no size limit
	MaxFiles int
}

// Init sends slog.Default and the stdlib log package to a rotating file in
// opts.Dir. The returned io.Closer must be deferred by the caller.
func Init(opts Options) (*slog.Logger, io.Closer, error) {
	var maxBytes uint64
	if opts.MaxSize != "" {
		var err error
		if maxBytes, err = humanize.ParseBytes(opts.MaxSize); err != nil {
			return nil, nil, fmt.Errorf("log max size %q: %w", opts.MaxSize, err)
		}
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	rotator := NewRotator(opts.Dir, int64(maxBytes), opts.MaxFiles)
	logger := install(rotator, opts.Level, opts.JSON)
	log.SetOutput(rotator)
	log.SetFlags(0)
	return logger, rotator, nil
}

// Console installs a logger writing to w, for runs without a log directory.
func Console(w io.Writer, level string, json bool) *slog.Logger {
	return install(w, level, json)
}

func install(w io.Writer, level string, json bool) *slog.Logger {
	logger := slog.New(NewHandler(w, ParseLevel(level), json)).With(
		"service", service,
		"pid", os.Getpid(),
	)
	slog.SetDefault(logger)
	return logger
}

// NewHandler returns a JSON or text slog handler at level.
func NewHandler(w io.Writer, level slog.Level, json bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// WithSession scopes logger to one client connection.
func WithSession(logger *slog.Logger, name, id, addr string) *slog.Logger {
	return logger.With(slog.Group("session",
		slog.String("name", name),
		slog.String("id", id),
		slog.String("addr", addr),
	))
}

// ParseLevel converts a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

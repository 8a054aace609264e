package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/zsprackett/filerelay/internal/applog"
	"github.com/zsprackett/filerelay/internal/config"
	"github.com/zsprackett/filerelay/internal/db"
	"github.com/zsprackett/filerelay/internal/events"
	"github.com/zsprackett/filerelay/internal/monitor"
	"github.com/zsprackett/filerelay/internal/notify"
	"github.com/zsprackett/filerelay/internal/relay"
	"github.com/zsprackett/filerelay/internal/session"
	"github.com/zsprackett/filerelay/internal/versions"
	"github.com/zsprackett/filerelay/internal/webserver"
)

const version = "0.1.0"

const usage = `filerelay: chat relay with a versioned file store.

Usage:
    filerelay [--config=<path>] [--host=<host>] [--port=<port>]
        [--store=<backend>] [--db=<path>]
        [--ws] [--ws-port=<port>] [--log-level=<level>]
    filerelay -h | --help
    filerelay --version

Options:
    -h --help            Show this screen.
    --version            Show version.
    --config=<path>      Config file (.json, .yaml or .yml).
    --host=<host>        Relay bind host.
    --port=<port>        Relay bind port.
    --store=<backend>    Version store backend: memory, sqlite or bolt.
    --db=<path>          Database file for the sqlite and bolt backends.
    --ws                 Enable the WebSocket and HTTP server.
    --ws-port=<port>     WebSocket and HTTP server port.
    --log-level=<level>  debug, info, warn or error.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	path := config.DefaultPath()
	if p, _ := opts.String("--config"); p != "" {
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load config: %v\n", err)
		cfg = config.Defaults()
	}
	if err := applyFlags(&cfg, opts); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	var logger *slog.Logger
	if cfg.LogDir != "" {
		var logCloser interface{ Close() error }
		logger, logCloser, err = applog.Init(applog.Options{
			Dir:      cfg.LogDir,
			Level:    cfg.LogLevel,
			MaxSize:  cfg.LogMaxSize,
			MaxFiles: cfg.LogMaxFiles,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not init log file: %v\n", err)
			logger = applog.Console(os.Stderr, cfg.LogLevel, false)
		} else {
			defer logCloser.Close()
		}
	} else {
		logger = applog.Console(os.Stderr, cfg.LogLevel, !term.IsTerminal(int(os.Stderr.Fd())))
	}

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer closeStore()

	registry := session.NewRegistry(logger)
	registry.SetQueueSize(cfg.Relay.SendQueueSize)
	fan := events.Fanout{notify.New(cfg.Notifications, logger)}

	relaySrv := relay.New(registry, store, &fan, relay.Config{
		Host:                cfg.Relay.Host,
		Port:                cfg.Relay.Port,
		ReadBufferSize:      cfg.Relay.ReadBufferSize,
		HandshakeBufferSize: cfg.Relay.HandshakeBufferSize,
		WriteTimeout:        time.Duration(cfg.Relay.WriteTimeoutSeconds) * time.Second,
	}, logger)

	web := webserver.New(relaySrv, registry, store, webserver.Config{
		Enabled: cfg.Websocket.Enabled,
		Host:    cfg.Websocket.Host,
		Port:    cfg.Websocket.Port,
		Path:    cfg.Websocket.Path,
	}, logger)
	fan = append(fan, web)

	if cfg.StatsInterval > 0 {
		mon := monitor.New(registry, store, web, time.Duration(cfg.StatsInterval)*time.Second, logger)
		mon.Start()
		defer mon.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return relaySrv.ListenAndServe(ctx) })
	g.Go(func() error { return web.Run(ctx) })

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", "err", err)
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		closeStore()
		os.Exit(1)
	}
}

func applyFlags(cfg *config.Config, opts docopt.Opts) error {
	if v, _ := opts.String("--host"); v != "" {
		cfg.Relay.Host = v
	}
	if v, _ := opts.String("--port"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("--port: %w", err)
		}
		cfg.Relay.Port = port
	}
	if v, _ := opts.String("--store"); v != "" {
		cfg.Store.Backend = v
	}
	if v, _ := opts.String("--db"); v != "" {
		cfg.Store.Path = v
	}
	if ws, _ := opts.Bool("--ws"); ws {
		cfg.Websocket.Enabled = true
	}
	if v, _ := opts.String("--ws-port"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("--ws-port: %w", err)
		}
		cfg.Websocket.Port = port
	}
	if v, _ := opts.String("--log-level"); v != "" {
		cfg.LogLevel = v
	}
	return cfg.Validate()
}

// openStore builds the version store for the configured backend. The
// returned func releases the backing database, if any.
func openStore(cfg config.Config, logger *slog.Logger) (*versions.Store, func(), error) {
	if cfg.Store.Backend == config.StoreMemory {
		return versions.New(logger), func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0700); err != nil {
		return nil, nil, fmt.Errorf("could not create data directory: %w", err)
	}

	var (
		p       versions.Persister
		closeDB func() error
	)
	switch cfg.Store.Backend {
	case config.StoreBolt:
		b, err := db.OpenBolt(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		p, closeDB = b, b.Close
	default:
		conn, err := db.Open(cfg.Store.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("could not open database: %w", err)
		}
		if err := conn.Migrate(); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("database migration failed: %w", err)
		}
		p, closeDB = conn, conn.Close
	}

	store, err := versions.Open(p, logger)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	logger.Info("versions: store opened", "backend", cfg.Store.Backend, "path", cfg.Store.Path)
	return store, func() { closeDB() }, nil
}

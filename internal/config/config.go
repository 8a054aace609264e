package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zsprackett/filerelay/internal/notify"
)

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreBolt   = "bolt"
)

type RelayConfig struct {
	Host                string `json:"host" yaml:"host"`
	Port                int    `json:"port" yaml:"port"`
	ReadBufferSize      int    `json:"readBufferSize" yaml:"readBufferSize"`
	HandshakeBufferSize int    `json:"handshakeBufferSize" yaml:"handshakeBufferSize"`
	SendQueueSize       int    `json:"sendQueueSize" yaml:"sendQueueSize"`             // frames pending per client
	WriteTimeoutSeconds int    `json:"writeTimeoutSeconds" yaml:"writeTimeoutSeconds"` // per socket write
}

type WebsocketConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Host    string `json:"host" yaml:"host"`
	Port    int    `json:"port" yaml:"port"`
	Path    string `json:"path" yaml:"path"`
}

type StoreConfig struct {
	Backend string `json:"backend" yaml:"backend"` // "memory", "sqlite" or "bolt"
	Path    string `json:"path" yaml:"path"`       // database file for sqlite and bolt
}

type Config struct {
	Relay         RelayConfig     `json:"relay" yaml:"relay"`
	Websocket     WebsocketConfig `json:"websocket" yaml:"websocket"`
	Store         StoreConfig     `json:"store" yaml:"store"`
	Notifications notify.Config   `json:"notifications" yaml:"notifications"`
	StatsInterval int             `json:"statsIntervalSeconds" yaml:"statsIntervalSeconds"` // 0 disables
	LogDir        string          `json:"logDir" yaml:"logDir"`                             // empty logs to stderr
	LogLevel      string          `json:"logLevel" yaml:"logLevel"`
	LogMaxSize    string          `json:"logMaxSize" yaml:"logMaxSize"` // e.g. "10MB"; empty rolls daily only
	LogMaxFiles   int             `json:"logMaxFiles" yaml:"logMaxFiles"`
}

func Defaults() Config {
	return Config{
		Relay: RelayConfig{
			Host:                "127.0.0.1",
			Port:                2011,
			ReadBufferSize:      4096,
			HandshakeBufferSize: 1024,
			SendQueueSize:       256,
			WriteTimeoutSeconds: 10,
		},
		Websocket: WebsocketConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    2012,
			Path:    "/ws",
		},
		Store: StoreConfig{
			Backend: StoreMemory,
			Path:    DBPath(),
		},
		StatsInterval: 30,
		LogLevel:      "info",
		LogMaxSize:    "10MB",
		LogMaxFiles:   14,
	}
}

func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".filerelay", "config.json")
}

func DBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".filerelay", "versions.db")
}

// Load reads path over the defaults. A missing file is not an error.
// Files ending in .yaml or .yml are decoded as YAML, everything else as JSON.
func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Store.Backend {
	case StoreMemory:
	case StoreSQLite, StoreBolt:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the %s backend", c.Store.Backend)
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Relay.Port < 0 || c.Relay.Port > 65535 {
		return fmt.Errorf("relay.port %d out of range", c.Relay.Port)
	}
	return nil
}

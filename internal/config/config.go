// Package config loads the set of connections this instance ingests from,
// plus their secrets, from a YAML file via viper, and optionally watches
// that file for edits so connections can be added without a restart.
package config

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// WebSocketSpec configures a "websocket" family connection (§4.4's
// (type, protocol) key), currently only the Discord Gateway protocol.
type WebSocketSpec struct {
	Protocol string `mapstructure:"protocol"`
	Intents  int    `mapstructure:"intents"`
}

// ConnectionSpec is one entry of the connections file: everything the
// Ingestor Manager needs to resolve a factory and start an ingestor.
type ConnectionSpec struct {
	Alias       string            `mapstructure:"alias"`
	InstanceID  string            `mapstructure:"instanceId"`
	Type        string            `mapstructure:"type"`
	WebSocket   *WebSocketSpec    `mapstructure:"websocket"`
	SecretsRef  string            `mapstructure:"secretsRef"`
	BufferSize  int               `mapstructure:"bufferSize"`
	EventFilter []string          `mapstructure:"eventFilter"`
	Secrets     map[string]string `mapstructure:"-"`
}

// Config is the top-level document: the list of connections plus where to
// resolve secrets from.
type Config struct {
	Connections []ConnectionSpec `mapstructure:"connections"`
	Secrets     map[string]map[string]string `mapstructure:"secrets"`
}

// Loader loads Config from a file and can notify subscribers when the file
// changes on disk, mirroring the teacher's config-reload pattern.
type Loader struct {
	v      *viper.Viper
	path   string
	logger *slog.Logger

	mu        sync.RWMutex
	onChange  []func(Config)
}

// NewLoader constructs a Loader bound to path, which must be a YAML file.
func NewLoader(path string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	return &Loader{v: v, path: path, logger: logger}
}

// Load reads and parses the config file, resolving each connection's
// SecretsRef into its Secrets map.
func (l *Loader) Load() (Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", l.path, err)
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", l.path, err)
	}

	for i := range cfg.Connections {
		spec := &cfg.Connections[i]
		if spec.SecretsRef == "" {
			continue
		}
		spec.Secrets = cfg.Secrets[spec.SecretsRef]
	}

	return cfg, nil
}

// Watch starts watching the config file for writes and invokes fn with the
// freshly reloaded Config on every change. Parse errors are logged and
// skipped rather than propagated, so one bad edit doesn't take down the
// watcher goroutine.
func (l *Loader) Watch(fn func(Config)) {
	l.mu.Lock()
	l.onChange = append(l.onChange, fn)
	l.mu.Unlock()

	l.v.OnConfigChange(func(e fsnotify.Event) {
		l.logger.Info("config file changed, reloading", slog.String("path", e.Name))
		cfg, err := l.Load()
		if err != nil {
			l.logger.Error("config reload failed, keeping previous config", slog.Any("err", err))
			return
		}
		l.mu.RLock()
		defer l.mu.RUnlock()
		for _, cb := range l.onChange {
			cb(cfg)
		}
	})
	l.v.WatchConfig()
}

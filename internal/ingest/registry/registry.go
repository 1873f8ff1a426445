// Package registry is the process-wide factory registry mapping a
// "(type, protocol)" key to the constructor for a concrete protocol
// ingestor. It decouples the Ingestor Manager from the set of supported
// protocols: new protocols plug in by calling Register at module init.
package registry

import (
	"log/slog"
	"sync"

	"github.com/wolpertingerlabs/mcp-secure-proxy/internal/ingest"
)

// Factory constructs an Ingestor for one connection, or returns (nil, nil)
// to decline — e.g. because the config names a protocol this factory
// doesn't recognize.
type Factory func(alias string, cfg Config, secrets map[string]string, bufferSize int, logger *slog.Logger) (ingest.Ingestor, error)

// Config is the subset of a ConnectionSpec a factory needs to decide
// whether it can build an ingestor and how to configure it.
type Config struct {
	Type      string
	WebSocket *WebSocketConfig
}

// WebSocketConfig carries the protocol tag websocket-family factories key
// on, defaulting to "generic" the way spec §4.4 specifies, plus the
// protocol-specific knobs individual factories read out of it.
type WebSocketConfig struct {
	Protocol    string
	Intents     int
	InstanceID  string
	EventFilter []string
}

func (c Config) key() string {
	if c.Type == "websocket" {
		protocol := "generic"
		if c.WebSocket != nil && c.WebSocket.Protocol != "" {
			protocol = c.WebSocket.Protocol
		}
		return "websocket:" + protocol
	}
	return c.Type
}

// registry is the process-global, write-once-then-read-only map of
// registered factories. Registration happens at module init before any
// connection starts; after that, Create only reads.
var registry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{factories: make(map[string]Factory)}

// Register binds a factory to a key. Call this from an init() in the
// package implementing a concrete protocol ingestor.
func Register(key string, factory Factory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.factories[key] = factory
}

// Create resolves the factory for cfg's key and invokes it. If no factory
// is registered, or the factory declines by returning a nil ingestor, Create
// returns (nil, nil) — the manager must log and continue starting sibling
// connections rather than abort.
func Create(alias string, cfg Config, secrets map[string]string, bufferSize int, logger *slog.Logger) (ingest.Ingestor, error) {
	key := cfg.key()

	registry.mu.RLock()
	factory, ok := registry.factories[key]
	registry.mu.RUnlock()

	if !ok {
		return nil, nil
	}

	return factory(alias, cfg, secrets, bufferSize, logger)
}

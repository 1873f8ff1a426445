// Package manager implements the Ingestor Manager (spec §4.6): it owns
// every running protocol ingestor, starts/stops them as a group, and
// multiplexes reads and status queries across the set keyed by connection
// alias (and, for multi-instance connections, instance id).
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wolpertingerlabs/mcp-secure-proxy/internal/config"
	"github.com/wolpertingerlabs/mcp-secure-proxy/internal/ingest"
	"github.com/wolpertingerlabs/mcp-secure-proxy/internal/ingest/event"
	"github.com/wolpertingerlabs/mcp-secure-proxy/internal/ingest/registry"
)

type key struct {
	alias      string
	instanceID string
}

// Manager is the single owner of every ingestor this process runs.
type Manager struct {
	logger *slog.Logger

	mu        sync.RWMutex
	ingestors map[key]ingest.Ingestor
}

// New constructs an empty Manager. Call Start to populate and run it.
func New(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger, ingestors: make(map[key]ingest.Ingestor)}
}

// Start resolves a factory for every spec via the registry, starts each
// resulting ingestor concurrently, and subscribes observer (if non-nil) to
// every one of them. A single connection's failure to build or start is
// logged and skipped rather than aborting the whole startup, per spec §7.
// Start never replaces an already-running ingestor for the same (alias,
// instanceID) — calling it again with the same spec (e.g. on a config
// reload) skips that connection rather than leaking the prior ingestor's
// goroutine and socket; stop it explicitly first if it needs replacing.
func (m *Manager) Start(ctx context.Context, specs []config.ConnectionSpec, observer ingest.Observer) {
	var g errgroup.Group

	for _, spec := range specs {
		spec := spec
		g.Go(func() error {
			k := key{alias: spec.Alias, instanceID: spec.InstanceID}

			m.mu.RLock()
			_, alreadyRunning := m.ingestors[k]
			m.mu.RUnlock()
			if alreadyRunning {
				m.logger.Info("connection already running, skipping", slog.String("connection", spec.Alias))
				return nil
			}

			rc := registry.Config{Type: spec.Type}
			if spec.WebSocket != nil {
				rc.WebSocket = &registry.WebSocketConfig{
					Protocol:    spec.WebSocket.Protocol,
					Intents:     spec.WebSocket.Intents,
					InstanceID:  spec.InstanceID,
					EventFilter: spec.EventFilter,
				}
			}

			ing, err := registry.Create(spec.Alias, rc, spec.Secrets, spec.BufferSize, m.logger.With(slog.String("connection", spec.Alias)))
			if err != nil {
				m.logger.Error("failed to build ingestor", slog.String("connection", spec.Alias), slog.Any("err", err))
				return nil
			}
			if ing == nil {
				m.logger.Warn("no factory registered for connection, skipping",
					slog.String("connection", spec.Alias), slog.String("type", spec.Type))
				return nil
			}

			if base, ok := ing.(interface{ Subscribe(ingest.Observer) }); ok && observer != nil {
				base.Subscribe(observer)
			}

			if err := ing.Start(ctx); err != nil {
				m.logger.Error("failed to start ingestor", slog.String("connection", spec.Alias), slog.Any("err", err))
				return nil
			}

			m.mu.Lock()
			m.ingestors[k] = ing
			m.mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
}

// Stop stops every ingestor concurrently and waits for all of them.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.RLock()
	ingestors := make([]ingest.Ingestor, 0, len(m.ingestors))
	for _, ing := range m.ingestors {
		ingestors = append(ingestors, ing)
	}
	m.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, ing := range ingestors {
		ing := ing
		g.Go(func() error {
			if err := ing.Stop(ctx); err != nil {
				m.logger.Error("ingestor stop returned an error", slog.Any("err", err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// ListEvents implements spec §6.2's list_events operation: afterID < 0
// returns the whole buffer for the resolved connection. instanceID selects
// among multiple instances of the same alias; pass "" for single-instance
// connections.
func (m *Manager) ListEvents(alias string, afterID int64, instanceID string) ([]event.IngestedEvent, error) {
	ing, err := m.lookup(alias, instanceID)
	if err != nil {
		return nil, err
	}
	return ing.GetEvents(afterID), nil
}

// Status returns the status of one connection, or of every connection this
// manager owns when alias is "".
func (m *Manager) Status(alias string) []event.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if alias == "" {
		statuses := make([]event.Status, 0, len(m.ingestors))
		for _, ing := range m.ingestors {
			statuses = append(statuses, ing.GetStatus())
		}
		return statuses
	}

	var statuses []event.Status
	for k, ing := range m.ingestors {
		if k.alias == alias {
			statuses = append(statuses, ing.GetStatus())
		}
	}
	return statuses
}

func (m *Manager) lookup(alias, instanceID string) (ingest.Ingestor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ing, ok := m.ingestors[key{alias: alias, instanceID: instanceID}]
	if !ok {
		return nil, fmt.Errorf("manager: no ingestor for connection %q instance %q", alias, instanceID)
	}
	return ing, nil
}

package manager

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wolpertingerlabs/mcp-secure-proxy/internal/config"
	"github.com/wolpertingerlabs/mcp-secure-proxy/internal/ingest"
	"github.com/wolpertingerlabs/mcp-secure-proxy/internal/ingest/event"
	"github.com/wolpertingerlabs/mcp-secure-proxy/internal/ingest/registry"
)

type fakeIngestor struct {
	started bool
	stopped bool
	status  event.Status
}

func (f *fakeIngestor) Start(ctx context.Context) error { f.started = true; return nil }
func (f *fakeIngestor) Stop(ctx context.Context) error  { f.stopped = true; return nil }
func (f *fakeIngestor) GetEvents(afterID int64) []event.IngestedEvent {
	return []event.IngestedEvent{{ID: 1, EventType: "TEST"}}
}
func (f *fakeIngestor) GetStatus() event.Status { return f.status }

func TestManager_StartSkipsUnregisteredConnectionsAndStartsOthers(t *testing.T) {
	registry.Register("fake-manager-test", func(alias string, cfg registry.Config, secrets map[string]string, bufferSize int, logger *slog.Logger) (ingest.Ingestor, error) {
		return &fakeIngestor{status: event.Status{Connection: alias, State: event.StateRunning}}, nil
	})

	m := New(nil)
	specs := []config.ConnectionSpec{
		{Alias: "good", Type: "fake-manager-test"},
		{Alias: "unregistered", Type: "does-not-exist"},
	}

	m.Start(context.Background(), specs, nil)

	statuses := m.Status("")
	require.Len(t, statuses, 1)
	require.Equal(t, "good", statuses[0].Connection)

	events, err := m.ListEvents("good", -1, "")
	require.NoError(t, err)
	require.Len(t, events, 1)

	_, err = m.ListEvents("unregistered", -1, "")
	require.Error(t, err)
}

func TestManager_StopStopsEveryIngestor(t *testing.T) {
	registry.Register("fake-manager-test-2", func(alias string, cfg registry.Config, secrets map[string]string, bufferSize int, logger *slog.Logger) (ingest.Ingestor, error) {
		return &fakeIngestor{}, nil
	})

	m := New(nil)
	m.Start(context.Background(), []config.ConnectionSpec{{Alias: "a", Type: "fake-manager-test-2"}}, nil)

	m.Stop(context.Background())

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ing := range m.ingestors {
		require.True(t, ing.(*fakeIngestor).stopped)
	}
}

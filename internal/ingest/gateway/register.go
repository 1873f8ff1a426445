package gateway

import (
	"fmt"
	"log/slog"

	"github.com/wolpertingerlabs/mcp-secure-proxy/internal/ingest"
	"github.com/wolpertingerlabs/mcp-secure-proxy/internal/ingest/registry"
)

func init() {
	registry.Register("websocket:discord", factory)
}

func factory(alias string, cfg registry.Config, secrets map[string]string, bufferSize int, logger *slog.Logger) (ingest.Ingestor, error) {
	token := secrets["token"]
	if token == "" {
		return nil, fmt.Errorf("gateway: connection %q is missing required secret %q", alias, "token")
	}

	intents := AllNonPrivilegedIntents
	instanceID := ""
	var eventFilter map[string]struct{}
	if cfg.WebSocket != nil {
		if cfg.WebSocket.Intents != 0 {
			intents = cfg.WebSocket.Intents
		}
		instanceID = cfg.WebSocket.InstanceID
		if len(cfg.WebSocket.EventFilter) > 0 {
			eventFilter = make(map[string]struct{}, len(cfg.WebSocket.EventFilter))
			for _, t := range cfg.WebSocket.EventFilter {
				eventFilter[t] = struct{}{}
			}
		}
	}

	gw := New(alias, instanceID, Config{
		Token:       token,
		Intents:     intents,
		EventFilter: eventFilter,
	}, bufferSize, logger)
	return gw, nil
}

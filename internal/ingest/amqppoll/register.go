package amqppoll

import (
	"fmt"
	"log/slog"

	"github.com/wolpertingerlabs/mcp-secure-proxy/internal/ingest"
	"github.com/wolpertingerlabs/mcp-secure-proxy/internal/ingest/registry"
)

func init() {
	registry.Register("pubsub:amqp", factory)
}

func factory(alias string, cfg registry.Config, secrets map[string]string, bufferSize int, logger *slog.Logger) (ingest.Ingestor, error) {
	uri := secrets["amqp_uri"]
	if uri == "" {
		return nil, fmt.Errorf("amqppoll: connection %q is missing required secret %q", alias, "amqp_uri")
	}
	topic := secrets["topic"]
	if topic == "" {
		return nil, fmt.Errorf("amqppoll: connection %q is missing required secret %q", alias, "topic")
	}

	ing := New(alias, "", Config{AMQPURI: uri, Topic: topic}, bufferSize, logger)
	return ing, nil
}

// Package amqppoll is the message-bus-native sibling of the gateway
// ingestor: instead of an outbound WebSocket, it subscribes to an AMQP
// topic via watermill and treats each delivered message as one ingested
// event. Registered in the factory registry under "pubsub:amqp".
package amqppoll

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/wolpertingerlabs/mcp-secure-proxy/internal/ingest"
	"github.com/wolpertingerlabs/mcp-secure-proxy/internal/ingest/event"
)

// Config configures one AMQP-sourced connection.
type Config struct {
	AMQPURI  string
	Topic    string
	EventKey string // metadata key read off each message for the event type; defaults to "event_type"
}

func (c Config) withDefaults() Config {
	if c.EventKey == "" {
		c.EventKey = "event_type"
	}
	return c
}

// Ingestor is the pubsub protocol ingestor.
type Ingestor struct {
	*ingest.Base

	cfg    Config
	logger *slog.Logger

	subscriber message.Subscriber
	newSubscriber func() (message.Subscriber, error)

	cancel context.CancelFunc
	doneCh chan struct{}
}

// New constructs an Ingestor bound to cfg. A subscriber isn't dialed until
// Start is called.
func New(alias, instanceID string, cfg Config, bufferSize int, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	ing := &Ingestor{
		Base:   ingest.NewBase(alias, ingest.TypePoll, instanceID, bufferSize, logger),
		cfg:    cfg,
		logger: logger,
	}
	ing.newSubscriber = func() (message.Subscriber, error) {
		wmLogger := watermill.NewSlogLogger(logger)
		config := amqp.NewDurableQueueConfig(cfg.AMQPURI, amqp.GenerateQueueNameTopicName)
		return amqp.NewSubscriber(config, wmLogger)
	}
	return ing
}

// Start dials the AMQP broker, subscribes to cfg.Topic, and begins draining
// messages into the ring buffer.
func (a *Ingestor) Start(ctx context.Context) error {
	a.SetState(event.StateStarting)

	sub, err := a.newSubscriber()
	if err != nil {
		a.SetState(event.StateFailed)
		a.SetError(err)
		return fmt.Errorf("amqppoll: building subscriber: %w", err)
	}
	a.subscriber = sub

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	messages, err := sub.Subscribe(runCtx, a.cfg.Topic)
	if err != nil {
		a.SetState(event.StateFailed)
		a.SetError(err)
		return fmt.Errorf("amqppoll: subscribing to %s: %w", a.cfg.Topic, err)
	}

	a.doneCh = make(chan struct{})
	a.SetState(event.StateRunning)
	go a.drain(messages)

	return nil
}

func (a *Ingestor) drain(messages <-chan *message.Message) {
	defer close(a.doneCh)

	for msg := range messages {
		a.handleMessage(msg)
		msg.Ack()
	}
}

func (a *Ingestor) handleMessage(msg *message.Message) {
	eventType := msg.Metadata.Get(a.cfg.EventKey)
	if eventType == "" {
		eventType = "message"
	}

	var data any
	if err := json.Unmarshal(msg.Payload, &data); err != nil {
		data = string(msg.Payload) // not JSON, carry the raw payload through
	}

	a.PushEvent(eventType, data, msg.UUID)
}

// Stop cancels the subscription context, closes the subscriber, and waits
// for the drain goroutine to exit. Idempotent.
func (a *Ingestor) Stop(ctx context.Context) error {
	var stopErr error
	a.StopOnce(func() {
		if a.cancel != nil {
			a.cancel()
		}
		if a.subscriber != nil {
			stopErr = a.subscriber.Close()
		}
	})

	if a.doneCh != nil {
		select {
		case <-a.doneCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	a.SetState(event.StateStopped)
	return stopErr
}

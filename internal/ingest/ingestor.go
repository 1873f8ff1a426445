// Package ingest implements the shared lifecycle, push/dedup/emit pipeline,
// and status reporting common to every protocol ingestor, plus the Ring
// Buffer-backed read interface consumers pull events through.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wolpertingerlabs/mcp-secure-proxy/internal/eventid"
	"github.com/wolpertingerlabs/mcp-secure-proxy/internal/ingest/event"
	"github.com/wolpertingerlabs/mcp-secure-proxy/internal/ring"
)

// counters is the subset of *telemetry.Counters Base needs; kept as a local
// interface so this package doesn't force every caller to wire OTel just to
// construct an ingestor.
type counters interface {
	RecordEventPushed(ctx context.Context, connection string)
	RecordDedupDrop(ctx context.Context, connection string)
	RecordReconnect(ctx context.Context, connection string)
}

// Type enumerates the ingestor families the factory registry dispatches on.
type Type string

const (
	TypeWebSocket Type = "websocket"
	TypeWebhook   Type = "webhook"
	TypePoll      Type = "poll"
)

// Ingestor is the capability set every protocol client implements. The
// factory registry and manager only ever see this interface; Start/Stop must
// both be idempotent with respect to repeated calls from the same state.
type Ingestor interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	GetEvents(afterID int64) []event.IngestedEvent
	GetStatus() event.Status
}

// Observer is notified whenever an ingestor pushes a new event. The manager
// subscribes to every ingestor it owns; an ingestor never holds a reference
// back to its manager.
type Observer interface {
	OnEvent(alias, instanceID string, ev event.IngestedEvent)
}

// Base implements the lifecycle, ring buffer, id generation, and dedup
// machinery shared by every protocol ingestor (spec §4.3). Protocol clients
// embed *Base and implement Start/Stop themselves, calling PushEvent as
// events arrive off the wire.
type Base struct {
	ConnectionAlias string
	InstanceID      string
	IngestorType    Type

	logger *slog.Logger

	buffer *ring.Buffer[event.IngestedEvent]
	ids    *eventid.Generator
	seen   *seenKeys

	mu          sync.Mutex
	state       event.State
	lastEventAt time.Time
	totalEvents atomic.Uint64
	lastErr     string

	observersMu sync.RWMutex
	observers   []Observer

	stopOnce sync.Once

	metrics counters
}

// SetMetrics attaches an OTel counters sink. Optional: a Base with no
// metrics attached behaves identically, just without the side-channel
// observability.
func (b *Base) SetMetrics(m counters) {
	b.metrics = m
}

// RecordReconnect lets a protocol client (e.g. the Gateway ingestor) report
// a reconnect attempt through the same metrics sink PushEvent uses.
func (b *Base) RecordReconnect() {
	if b.metrics != nil {
		b.metrics.RecordReconnect(context.Background(), b.ConnectionAlias)
	}
}

// NewBase constructs the shared machinery for one ingestor instance.
// bufferCapacity <= 0 falls back to ring.DefaultBufferSize.
func NewBase(alias string, typ Type, instanceID string, bufferCapacity int, logger *slog.Logger) *Base {
	if logger == nil {
		logger = slog.Default()
	}
	return &Base{
		ConnectionAlias: alias,
		InstanceID:      instanceID,
		IngestorType:    typ,
		logger:          logger,
		buffer:          ring.New[event.IngestedEvent](bufferCapacity),
		ids:             eventid.NewGenerator(logger),
		seen:            newSeenKeys(),
		state:           event.StateStopped,
	}
}

// Subscribe registers an observer notified on every successful PushEvent.
func (b *Base) Subscribe(o Observer) {
	b.observersMu.Lock()
	defer b.observersMu.Unlock()
	b.observers = append(b.observers, o)
}

// SetState transitions the ingestor's lifecycle state. Protocol clients call
// this as they move through Connecting/Awaiting-Hello/Running/Reconnecting/
// etc; Base itself only sets the initial Stopped state in NewBase, and
// protocol clients drive every later transition.
func (b *Base) SetState(s event.State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// SetError records the last error surfaced to status() without touching the
// lifecycle state (callers pair this with SetState(StateFailed) for fatal
// conditions per spec §7).
func (b *Base) SetError(err error) {
	b.mu.Lock()
	if err != nil {
		b.lastErr = err.Error()
	} else {
		b.lastErr = ""
	}
	b.mu.Unlock()
}

// PushEvent implements the dedup/id-allocation/buffer/notify pipeline from
// spec §4.3. A nil-or-empty idempotencyKey is synthesized as
// "<alias>:<uuid-v4>" (this module's concrete choice for the spec's open
// question on fallback idempotency: it does not protect against
// re-delivery by services with no native event id — protocol ingestors are
// expected to pass a native id or a content hash when one is available).
func (b *Base) PushEvent(eventType string, data any, idempotencyKey string) (event.IngestedEvent, bool) {
	if idempotencyKey != "" && b.seen.contains(idempotencyKey) {
		b.logger.Debug("dedup drop",
			slog.String("connection", b.ConnectionAlias),
			slog.String("idempotency_key", idempotencyKey))
		if b.metrics != nil {
			b.metrics.RecordDedupDrop(context.Background(), b.ConnectionAlias)
		}
		return event.IngestedEvent{}, false
	}

	key := idempotencyKey
	if key == "" {
		key = b.ConnectionAlias + ":" + uuid.NewString()
	}

	id := b.ids.Next()
	ev := event.New(id, b.ConnectionAlias, b.InstanceID, eventType, data, key)

	b.buffer.Push(ev)
	b.seen.add(key)

	b.mu.Lock()
	b.lastEventAt = ev.ReceivedAtTime()
	b.mu.Unlock()
	b.totalEvents.Add(1)

	b.logger.Info("event pushed",
		slog.String("connection", b.ConnectionAlias),
		slog.Uint64("id", id),
		slog.String("event_type", eventType))
	b.logger.Debug("event payload", slog.String("connection", b.ConnectionAlias), slog.Any("data", data))
	if b.metrics != nil {
		b.metrics.RecordEventPushed(context.Background(), b.ConnectionAlias)
	}

	b.notify(ev)
	return ev, true
}

func (b *Base) notify(ev event.IngestedEvent) {
	b.observersMu.RLock()
	defer b.observersMu.RUnlock()
	for _, o := range b.observers {
		o.OnEvent(b.ConnectionAlias, b.InstanceID, ev)
	}
}

// GetEvents implements spec §4.3: a negative argument returns the whole
// buffer, otherwise only events with id > afterID.
func (b *Base) GetEvents(afterID int64) []event.IngestedEvent {
	if afterID < 0 {
		return b.buffer.ToArray()
	}
	return b.buffer.Since(uint64(afterID))
}

// GetStatus returns a point-in-time snapshot per spec §3.
func (b *Base) GetStatus() event.Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := event.Status{
		Connection:          b.ConnectionAlias,
		InstanceID:          b.InstanceID,
		Type:                string(b.IngestorType),
		State:               b.state,
		BufferedEvents:      b.buffer.Size(),
		TotalEventsReceived: b.totalEvents.Load(),
		Error:               b.lastErr,
	}
	if !b.lastEventAt.IsZero() {
		st.LastEventAt = b.lastEventAt.UTC().Format("2006-01-02T15:04:05.000Z")
	}
	return st
}

// StopOnce runs fn exactly once across repeated Stop() calls, so a protocol
// client's teardown logic (closing sockets, cancelling timers) is idempotent
// regardless of how many times Stop is invoked or from which state.
func (b *Base) StopOnce(fn func()) {
	b.stopOnce.Do(fn)
}

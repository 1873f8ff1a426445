// Package telemetry is the OTel side-channel observability surface: a
// handful of counters an ingestor increments once they are attached to its
// ingest.Base via SetMetrics. The manager does not increment them, and
// nothing in this module attaches them to an ingestor.
// status() keeps its own lightweight counters for spec §3's IngestorStatus;
// this package is purely additive metrics plumbing, not read by any
// operation the spec defines.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// Counters holds the instruments an ingestor with these Counters attached
// increments over its lifetime.
type Counters struct {
	EventsPushed metric.Int64Counter
	Reconnects   metric.Int64Counter
	DedupDrops   metric.Int64Counter
}

// New builds Counters from meter, registering each instrument under the
// names spec-adjacent dashboards would expect.
func New(meter metric.Meter) (*Counters, error) {
	eventsPushed, err := meter.Int64Counter("events_pushed_total",
		metric.WithDescription("events successfully pushed into an ingestor's ring buffer"))
	if err != nil {
		return nil, err
	}

	reconnects, err := meter.Int64Counter("reconnects_total",
		metric.WithDescription("reconnect attempts made by protocol ingestors"))
	if err != nil {
		return nil, err
	}

	dedupDrops, err := meter.Int64Counter("dedup_drops_total",
		metric.WithDescription("events dropped by the seen-keys dedup check"))
	if err != nil {
		return nil, err
	}

	return &Counters{EventsPushed: eventsPushed, Reconnects: reconnects, DedupDrops: dedupDrops}, nil
}

// RecordEventPushed increments EventsPushed for one connection.
func (c *Counters) RecordEventPushed(ctx context.Context, connection string) {
	if c == nil {
		return
	}
	c.EventsPushed.Add(ctx, 1, metric.WithAttributes(connectionAttr(connection)))
}

// RecordReconnect increments Reconnects for one connection.
func (c *Counters) RecordReconnect(ctx context.Context, connection string) {
	if c == nil {
		return
	}
	c.Reconnects.Add(ctx, 1, metric.WithAttributes(connectionAttr(connection)))
}

// RecordDedupDrop increments DedupDrops for one connection.
func (c *Counters) RecordDedupDrop(ctx context.Context, connection string) {
	if c == nil {
		return
	}
	c.DedupDrops.Add(ctx, 1, metric.WithAttributes(connectionAttr(connection)))
}

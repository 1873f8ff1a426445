// Package eventid assigns monotonically increasing event ids that survive
// process restarts, per the boot-epoch packing scheme: the high digits carry
// the second the process booted, the low digits carry a per-ingestor counter.
package eventid

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// IDMultiplier is the per-boot counter space. An id is
// bootEpochSeconds*IDMultiplier + counter.
const IDMultiplier = 1_000_000

// counterWarnThreshold is how close to IDMultiplier the counter must get
// before a Generator logs a warning; each Generator warns at most once.
const counterWarnThreshold = IDMultiplier - 1000

// bootEpoch is captured once per process, at first use, and never changes
// afterward. floor(wallClockMillis/1000) packed into the high bits of every
// id guarantees cross-restart monotonicity as long as boots are at least a
// second apart and a boot never issues more than IDMultiplier ids.
var (
	bootEpochOnce  sync.Once
	bootEpochValue uint64
)

// BootEpoch returns the process-wide boot epoch in seconds, computing it on
// first call and caching it for the remaining process lifetime.
func BootEpoch() uint64 {
	bootEpochOnce.Do(func() {
		bootEpochValue = uint64(time.Now().UnixMilli() / 1000)
	})
	return bootEpochValue
}

// Generator hands out strictly increasing ids for a single ingestor. It is
// safe for concurrent use, though the spec's concurrency model expects a
// Generator to be driven from one logical task per ingestor.
type Generator struct {
	bootEpoch uint64
	counter   atomic.Uint64
	logger    *slog.Logger
	warned    atomic.Bool
}

// NewGenerator returns a Generator anchored to the process boot epoch.
func NewGenerator(logger *slog.Logger) *Generator {
	return &Generator{
		bootEpoch: BootEpoch(),
		logger:    logger,
	}
}

// Next returns the next id for this generator and advances the counter.
func (g *Generator) Next() uint64 {
	counter := g.counter.Add(1) - 1

	if counter >= counterWarnThreshold && g.logger != nil && !g.warned.Swap(true) {
		g.logger.Warn("event id counter approaching per-boot limit",
			slog.Uint64("counter", counter),
			slog.Uint64("limit", IDMultiplier))
	}

	return g.bootEpoch*IDMultiplier + counter
}

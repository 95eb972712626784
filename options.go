package smht

import (
	"go.uber.org/zap"

	"github.com/ArtUkrainskiy/smht/internal/metrics"
)

type config struct {
	logger  *zap.Logger
	hasher  func([]byte) uint32
	metrics *metrics.Collector
}

func newConfig(opts []Option) *config {
	cfg := &config{
		logger: zap.NewNop(),
		hasher: hashBucket,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Option configures a Table at Open time.
type Option func(*config)

// WithLogger injects a zap logger used for degraded-state and
// mutex-recovery conditions. The default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHasher overrides the bucket hash function. Production code
// should never need this — it exists so tests can force deterministic
// bucket collisions the way the original test suite's findCollision
// utility does, without depending on meiyan's actual distribution.
func WithHasher(hasher func([]byte) uint32) Option {
	return func(c *config) {
		if hasher != nil {
			c.hasher = hasher
		}
	}
}

// WithMetrics attaches collector (already registered by metrics.New) to
// the table. The table refreshes its gauges from MemInfo after Open,
// Set, Unset and Clear, and counts the attach and the matching Close.
func WithMetrics(collector *metrics.Collector) Option {
	return func(c *config) {
		c.metrics = collector
	}
}

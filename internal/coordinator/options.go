package coordinator

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Option configures a Persistence engine.
type Option func(*Persistence)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Persistence) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics records per-operation counters and latencies.
func WithMetrics(m *Metrics) Option {
	return func(p *Persistence) {
		p.metrics = m
	}
}

// WithShardRegistry makes the engine reject documents naming shards the
// registry doesn't know.
func WithShardRegistry(r *ShardRegistry) Option {
	return func(p *Persistence) {
		p.registry = r
	}
}

// WithRetry sets the retry policy for catalog calls that fail with an
// infrastructure error. newBackOff is called once per catalog call. Without
// this option every call is attempted once.
func WithRetry(newBackOff func() backoff.BackOff) Option {
	return func(p *Persistence) {
		p.newBackOff = newBackOff
	}
}

// WithClock overrides time.Now for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Persistence) {
		p.now = now
	}
}

// WithEpochSource overrides how fresh epochs are generated.
func WithEpochSource(newEpoch func() primitive.ObjectID) Option {
	return func(p *Persistence) {
		p.newEpoch = newEpoch
	}
}

// WithPostconditionChecks re-reads the catalog after every successful
// operation and fails with an invariant violation if the durable state is
// not what the operation promises.
func WithPostconditionChecks(enabled bool) Option {
	return func(p *Persistence) {
		p.checkPostconditions = enabled
	}
}

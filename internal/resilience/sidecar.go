package resilience

import (
	"context"

	"github.com/verbalis/diarist/pkg/provider/diarizer"
	"github.com/verbalis/diarist/pkg/provider/embedder"
)

// BreakerDiarizer is a [diarizer.Client] decorator that routes calls through a
// circuit breaker. While the breaker is open, Turns returns [ErrCircuitOpen]
// immediately; the pipeline treats that like any other diarizer failure and
// degrades the chunk instead of waiting on a dead sidecar.
//
// Healthy bypasses the breaker so health probes always reflect the real state
// of the backend.
type BreakerDiarizer struct {
	inner   diarizer.Client
	breaker *CircuitBreaker
}

var _ diarizer.Client = (*BreakerDiarizer)(nil)

// NewBreakerDiarizer wraps inner with a circuit breaker built from cfg.
// cfg.Name defaults to "diarizer".
func NewBreakerDiarizer(inner diarizer.Client, cfg CircuitBreakerConfig) *BreakerDiarizer {
	if cfg.Name == "" {
		cfg.Name = "diarizer"
	}
	return &BreakerDiarizer{inner: inner, breaker: NewCircuitBreaker(cfg)}
}

// Turns forwards to the wrapped client if the breaker allows it.
func (d *BreakerDiarizer) Turns(ctx context.Context, wavPath string, numSpeakers int) ([]diarizer.Turn, error) {
	var turns []diarizer.Turn
	err := d.breaker.Execute(func() error {
		var err error
		turns, err = d.inner.Turns(ctx, wavPath, numSpeakers)
		return err
	})
	if err != nil {
		return nil, err
	}
	return turns, nil
}

// Healthy probes the wrapped client directly.
func (d *BreakerDiarizer) Healthy(ctx context.Context) error {
	return d.inner.Healthy(ctx)
}

// State exposes the breaker state for logging and tests.
func (d *BreakerDiarizer) State() State { return d.breaker.State() }

// BreakerEmbedder is the [embedder.Client] counterpart of [BreakerDiarizer].
type BreakerEmbedder struct {
	inner   embedder.Client
	breaker *CircuitBreaker
}

var _ embedder.Client = (*BreakerEmbedder)(nil)

// NewBreakerEmbedder wraps inner with a circuit breaker built from cfg.
// cfg.Name defaults to "embedder".
func NewBreakerEmbedder(inner embedder.Client, cfg CircuitBreakerConfig) *BreakerEmbedder {
	if cfg.Name == "" {
		cfg.Name = "embedder"
	}
	return &BreakerEmbedder{inner: inner, breaker: NewCircuitBreaker(cfg)}
}

// Embed forwards to the wrapped client if the breaker allows it.
func (e *BreakerEmbedder) Embed(ctx context.Context, wavPath string, start, end float64) ([]float64, error) {
	var vec []float64
	err := e.breaker.Execute(func() error {
		var err error
		vec, err = e.inner.Embed(ctx, wavPath, start, end)
		return err
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// Healthy probes the wrapped client directly.
func (e *BreakerEmbedder) Healthy(ctx context.Context) error {
	return e.inner.Healthy(ctx)
}

// State exposes the breaker state for logging and tests.
func (e *BreakerEmbedder) State() State { return e.breaker.State() }

package observe

import (
	"context"
	"time"

	"github.com/verbalis/diarist/pkg/provider/embedder"
)

// InstrumentedEmbedder wraps an embedder client with latency and error
// metrics. The resolver calls the embedder once per speaker label, so this is
// where embedding latency is visible.
type InstrumentedEmbedder struct {
	Inner   embedder.Client
	Metrics *Metrics
}

// Embed delegates to the wrapped client, recording duration and failures.
func (e *InstrumentedEmbedder) Embed(ctx context.Context, wavPath string, start, end float64) ([]float64, error) {
	t0 := time.Now()
	v, err := e.Inner.Embed(ctx, wavPath, start, end)
	e.Metrics.EmbedDuration.Record(ctx, time.Since(t0).Seconds())
	if err != nil {
		e.Metrics.RecordProviderError(ctx, "embedder")
	}
	return v, err
}

// Healthy delegates to the wrapped client.
func (e *InstrumentedEmbedder) Healthy(ctx context.Context) error {
	return e.Inner.Healthy(ctx)
}

var _ embedder.Client = (*InstrumentedEmbedder)(nil)

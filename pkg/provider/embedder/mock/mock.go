// Package mock provides a test double for the embedder package.
//
// Vectors lets a test script distinct embeddings per call: the i-th Embed
// call returns Vectors[i] (the last entry repeats once exhausted). Use
// VectorFor to key embeddings by interval instead.
package mock

import (
	"context"
	"sync"

	"github.com/verbalis/diarist/pkg/provider/embedder"
)

// EmbedCall records a single invocation of Client.Embed.
type EmbedCall struct {
	// WavPath is the file path passed to Embed.
	WavPath string
	// Start and End delimit the requested interval in seconds.
	Start, End float64
}

// Client is a mock implementation of embedder.Client.
type Client struct {
	mu sync.Mutex

	// Vectors are returned by successive Embed calls in order; the last
	// entry repeats once the list is exhausted.
	Vectors [][]float64

	// VectorFor, if non-nil, overrides Vectors: it is invoked with each
	// requested interval and its result returned.
	VectorFor func(start, end float64) []float64

	// Err, if non-nil, is returned by every Embed call.
	Err error

	// HealthyErr, if non-nil, is returned by Healthy.
	HealthyErr error

	// EmbedCalls records every call to Embed in order.
	EmbedCalls []EmbedCall
}

// Embed records the call and returns the scripted vector or Err.
func (c *Client) Embed(_ context.Context, wavPath string, start, end float64) ([]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := len(c.EmbedCalls)
	c.EmbedCalls = append(c.EmbedCalls, EmbedCall{WavPath: wavPath, Start: start, End: end})
	if c.Err != nil {
		return nil, c.Err
	}
	var v []float64
	switch {
	case c.VectorFor != nil:
		v = c.VectorFor(start, end)
	case len(c.Vectors) > 0:
		if idx >= len(c.Vectors) {
			idx = len(c.Vectors) - 1
		}
		v = c.Vectors[idx]
	}
	out := make([]float64, len(v))
	copy(out, v)
	return out, nil
}

// Healthy returns HealthyErr.
func (c *Client) Healthy(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.HealthyErr
}

// CallCount returns the number of Embed calls. Thread-safe.
func (c *Client) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.EmbedCalls)
}

// Ensure Client implements embedder.Client at compile time.
var _ embedder.Client = (*Client)(nil)

// Package mock provides a test double for the transcriber package.
//
// Pre-populate Segments (or Err) with the values the consumer should receive,
// then inspect TranscribeCalls to verify which files and options were
// submitted.
package mock

import (
	"context"
	"sync"

	"github.com/verbalis/diarist/pkg/provider/transcriber"
)

// TranscribeCall records a single invocation of Client.Transcribe.
type TranscribeCall struct {
	// AudioPath is the file path passed to Transcribe.
	AudioPath string
	// Opts is the Options value passed to Transcribe.
	Opts transcriber.Options
}

// Client is a mock implementation of transcriber.Client.
type Client struct {
	mu sync.Mutex

	// Segments is returned by every Transcribe call when Err is nil.
	Segments []transcriber.Segment

	// Err, if non-nil, is returned by every Transcribe call.
	Err error

	// HealthyErr, if non-nil, is returned by Healthy.
	HealthyErr error

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns Segments, Err.
func (c *Client) Transcribe(_ context.Context, audioPath string, opts transcriber.Options) ([]transcriber.Segment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TranscribeCalls = append(c.TranscribeCalls, TranscribeCall{AudioPath: audioPath, Opts: opts})
	if c.Err != nil {
		return nil, c.Err
	}
	segs := make([]transcriber.Segment, len(c.Segments))
	copy(segs, c.Segments)
	return segs, nil
}

// Healthy returns HealthyErr.
func (c *Client) Healthy(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.HealthyErr
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (c *Client) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.TranscribeCalls)
}

// Ensure Client implements transcriber.Client at compile time.
var _ transcriber.Client = (*Client)(nil)

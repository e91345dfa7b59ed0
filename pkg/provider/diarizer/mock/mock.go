// Package mock provides a test double for the diarizer package.
package mock

import (
	"context"
	"sync"

	"github.com/verbalis/diarist/pkg/provider/diarizer"
)

// TurnsCall records a single invocation of Client.Turns.
type TurnsCall struct {
	// WavPath is the file path passed to Turns.
	WavPath string
	// NumSpeakers is the speaker-count hint passed to Turns.
	NumSpeakers int
}

// Client is a mock implementation of diarizer.Client.
type Client struct {
	mu sync.Mutex

	// Turns is returned by every Turns call when Err is nil.
	TurnList []diarizer.Turn

	// Err, if non-nil, is returned by every Turns call.
	Err error

	// HealthyErr, if non-nil, is returned by Healthy.
	HealthyErr error

	// TurnsCalls records every call to Turns in order.
	TurnsCalls []TurnsCall
}

// Turns records the call and returns TurnList, Err.
func (c *Client) Turns(_ context.Context, wavPath string, numSpeakers int) ([]diarizer.Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TurnsCalls = append(c.TurnsCalls, TurnsCall{WavPath: wavPath, NumSpeakers: numSpeakers})
	if c.Err != nil {
		return nil, c.Err
	}
	turns := make([]diarizer.Turn, len(c.TurnList))
	copy(turns, c.TurnList)
	return turns, nil
}

// Healthy returns HealthyErr.
func (c *Client) Healthy(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.HealthyErr
}

// CallCount returns the number of Turns calls. Thread-safe.
func (c *Client) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.TurnsCalls)
}

// Ensure Client implements diarizer.Client at compile time.
var _ diarizer.Client = (*Client)(nil)

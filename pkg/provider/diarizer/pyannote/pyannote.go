// Package pyannote provides a diarizer client for a pyannote.audio sidecar.
//
// The sidecar is a small HTTP service hosting a pyannote speaker-diarization
// pipeline (gated models require a Hugging Face token, forwarded as a Bearer
// header). This client uploads the normalized 16 kHz mono WAV as a multipart
// form to POST /diarize and parses the returned turn list.
package pyannote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/verbalis/diarist/pkg/provider/diarizer"
)

const healthTimeout = 5 * time.Second

// Compile-time assertion that Client implements diarizer.Client.
var _ diarizer.Client = (*Client)(nil)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the pipeline identifier forwarded to the sidecar (e.g.,
// "pyannote/speaker-diarization-3.1"). When empty the sidecar uses whichever
// pipeline it was started with.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithAuthToken sets the Hugging Face token sent as a Bearer header. Gated
// pyannote models refuse to load without one.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = token
	}
}

// WithHTTPClient replaces the underlying HTTP client. Useful in tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Client implements diarizer.Client backed by a pyannote sidecar service.
type Client struct {
	baseURL    string
	model      string
	authToken  string
	httpClient *http.Client
}

// New creates a Client for the sidecar at baseURL (e.g.,
// "http://localhost:8179"). baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("pyannote: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Turns uploads wavPath to the sidecar's /diarize endpoint and returns the
// parsed speaker turns. The call is bounded only by ctx.
func (c *Client) Turns(ctx context.Context, wavPath string, numSpeakers int) ([]diarizer.Turn, error) {
	f, err := os.Open(wavPath)
	if err != nil {
		return nil, fmt.Errorf("pyannote: open wav file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", filepath.Base(wavPath))
	if err != nil {
		return nil, fmt.Errorf("pyannote: create form file: %w", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, fmt.Errorf("pyannote: read wav file: %w", err)
	}
	if numSpeakers > 0 {
		if err := mw.WriteField("num_speakers", strconv.Itoa(numSpeakers)); err != nil {
			return nil, fmt.Errorf("pyannote: write num_speakers field: %w", err)
		}
	}
	if c.model != "" {
		if err := mw.WriteField("model", c.model); err != nil {
			return nil, fmt.Errorf("pyannote: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("pyannote: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/diarize", &body)
	if err != nil {
		return nil, fmt.Errorf("pyannote: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pyannote: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pyannote: sidecar returned HTTP %d", resp.StatusCode)
	}

	var result struct {
		Turns []diarizer.Turn `json:"turns"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("pyannote: parse JSON response: %w", err)
	}
	return result.Turns, nil
}

// Healthy probes the sidecar's /health endpoint and returns nil on HTTP 200.
func (c *Client) Healthy(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("pyannote: create health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pyannote: health probe: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pyannote: health probe returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Package pyannote provides an embedder client for a pyannote.audio sidecar.
//
// The same sidecar that serves diarization also hosts the speaker-embedding
// model ("pyannote/embedding"); this client POSTs the WAV plus an interval to
// /embed and receives a single dense vector back.
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

	"github.com/verbalis/diarist/pkg/provider/embedder"
)

const healthTimeout = 5 * time.Second

// Compile-time assertion that Client implements embedder.Client.
var _ embedder.Client = (*Client)(nil)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithAuthToken sets the Hugging Face token sent as a Bearer header.
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

// Client implements embedder.Client backed by a pyannote sidecar service.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// New creates a Client for the sidecar at baseURL. baseURL must be non-empty.
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

// Embed uploads the interval [start, end] of wavPath to the sidecar's /embed
// endpoint and returns the voice embedding.
func (c *Client) Embed(ctx context.Context, wavPath string, start, end float64) ([]float64, error) {
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
	for k, v := range map[string]float64{"start": start, "end": end} {
		if err := mw.WriteField(k, strconv.FormatFloat(v, 'f', -1, 64)); err != nil {
			return nil, fmt.Errorf("pyannote: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("pyannote: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", &body)
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
		Embedding []float64 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("pyannote: parse JSON response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, errors.New("pyannote: sidecar returned empty embedding")
	}
	return result.Embedding, nil
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

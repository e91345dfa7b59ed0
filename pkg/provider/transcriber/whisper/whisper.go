// Package whisper provides a whisper.cpp-backed transcriber client.
//
// It connects to a running whisper-server binary (which exposes a REST API at
// POST /inference) and submits complete audio files as multipart uploads. The
// server response is parsed into [transcriber.Segment] values; both the
// segment-list format and the plain-text format (older server builds without
// timestamps) are handled.
//
// Usage:
//
//	c, err := whisper.New("http://localhost:8178",
//	    whisper.WithTimeout(2*time.Minute),
//	)
//	segs, err := c.Transcribe(ctx, "/tmp/chunk.wav", transcriber.Options{})
package whisper

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
	"strings"
	"time"

	"github.com/verbalis/diarist/pkg/provider/transcriber"
)

const (
	// defaultTimeout bounds a single inference request. Whisper is a batch
	// engine; long chunks on CPU can legitimately take minutes.
	defaultTimeout = 5 * time.Minute

	// healthTimeout bounds the Healthy probe.
	healthTimeout = 5 * time.Second
)

// Compile-time assertion that Client implements transcriber.Client.
var _ transcriber.Client = (*Client)(nil)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithTimeout sets the per-request deadline for Transcribe calls. Defaults to
// 5 minutes.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLanguage sets a default BCP-47 language code sent with every request
// unless overridden per call. Empty (the default) lets the server decide.
func WithLanguage(lang string) Option {
	return func(c *Client) {
		c.language = lang
	}
}

// WithHTTPClient replaces the underlying HTTP client. Useful in tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Client implements transcriber.Client backed by a whisper.cpp HTTP server.
type Client struct {
	serverURL  string
	language   string
	timeout    time.Duration
	httpClient *http.Client
}

// New creates a Client that connects to the whisper.cpp server at serverURL
// (e.g., "http://localhost:8178"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	c := &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		timeout:    defaultTimeout,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Transcribe uploads the audio file at audioPath to the /inference endpoint
// and returns the parsed segments. The request is bounded by the configured
// timeout; on overrun the returned error wraps [transcriber.ErrTimeout].
func (c *Client) Transcribe(ctx context.Context, audioPath string, opts transcriber.Options) ([]transcriber.Segment, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: open audio file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, fmt.Errorf("whisper: read audio file: %w", err)
	}

	fields := map[string]string{
		"response_format": "json",
	}
	if opts.Temperature != "" {
		fields["temperature"] = opts.Temperature
	}
	lang := opts.Language
	if lang == "" {
		lang = c.language
	}
	if lang != "" {
		fields["language"] = lang
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("whisper: write field %q: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.serverURL+"/inference", &body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("whisper: no response within %s: %w", c.timeout, transcriber.ErrTimeout)
		}
		return nil, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whisper: read response body: %w", err)
	}
	return parseResponse(data)
}

// parseResponse decodes a whisper.cpp inference response. Depending on the
// server build the body is either {"segments":[{text,start,end}...]} or a
// bare {"text": "..."} without timestamps; the latter becomes a single
// zero-duration segment.
func parseResponse(data []byte) ([]transcriber.Segment, error) {
	var result struct {
		Segments []struct {
			Text  string  `json:"text"`
			Start float64 `json:"start"`
			End   float64 `json:"end"`
		} `json:"segments"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	if len(result.Segments) > 0 {
		segs := make([]transcriber.Segment, 0, len(result.Segments))
		for _, s := range result.Segments {
			segs = append(segs, transcriber.Segment{
				Text:  strings.TrimSpace(s.Text),
				Start: s.Start,
				End:   s.End,
			})
		}
		return segs, nil
	}

	if text := strings.TrimSpace(result.Text); text != "" {
		return []transcriber.Segment{{Text: text}}, nil
	}
	return nil, nil
}

// Healthy probes the server root endpoint and returns nil on HTTP 200.
func (c *Client) Healthy(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.serverURL+"/", nil)
	if err != nil {
		return fmt.Errorf("whisper: create health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whisper: health probe: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("whisper: health probe returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Package server exposes the annotation pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/verbalis/diarist/internal/annotate"
	"github.com/verbalis/diarist/internal/health"
	"github.com/verbalis/diarist/internal/observe"
	"github.com/verbalis/diarist/internal/speaker"
	"github.com/verbalis/diarist/internal/transcode"
	"github.com/verbalis/diarist/pkg/provider/diarizer"
	"github.com/verbalis/diarist/pkg/provider/embedder"
	"github.com/verbalis/diarist/pkg/provider/transcriber"
)

// maxUploadMemory bounds the in-memory part of multipart parsing; larger
// uploads spill to disk.
const maxUploadMemory = 32 << 20

// healthProbeTimeout bounds each backend probe of GET /health.
const healthProbeTimeout = 5 * time.Second

// Options wires the server's collaborators. Transcriber and Store are
// required; nil Diarizer or Embedder disable the corresponding features and
// are reported as such by GET /health.
type Options struct {
	Processor   *annotate.Processor
	Store       *speaker.Store
	Transcriber transcriber.Client
	Diarizer    diarizer.Client
	Embedder    embedder.Client

	// UploadDir is where chunks are spooled. Empty uses os.TempDir.
	UploadDir string

	// Metrics enables the observability middleware. May be nil in tests.
	Metrics *observe.Metrics

	// Version is reported by GET / and GET /health.
	Version string

	// DiarizerModel and DefaultTemperature are echoed in the /health config
	// block so operators can confirm what a deployment runs with.
	DiarizerModel      string
	DefaultTemperature string
}

// Server is the HTTP surface of the annotation service.
type Server struct {
	opts   Options
	health *health.Handler
}

// New creates a Server. Liveness and readiness probes are derived from the
// configured providers.
func New(opts Options) *Server {
	if opts.UploadDir == "" {
		opts.UploadDir = os.TempDir()
	}

	checkers := []health.Checker{{Name: "transcriber", Check: opts.Transcriber.Healthy}}
	if opts.Diarizer != nil {
		checkers = append(checkers, health.Checker{Name: "diarizer", Check: opts.Diarizer.Healthy})
	}
	if opts.Embedder != nil {
		checkers = append(checkers, health.Checker{Name: "embedder", Check: opts.Embedder.Healthy})
	}

	return &Server{
		opts:   opts,
		health: health.New(checkers...),
	}
}

// Handler returns the routed HTTP handler, wrapped in the observability
// middleware when metrics are configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleInfo)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /inference", s.handleInference)
	mux.HandleFunc("POST /transcribe", s.handleInference)
	mux.HandleFunc("GET /session/{session_id}/speakers", s.handleSessionSpeakers)
	mux.HandleFunc("DELETE /session/{session_id}", s.handleSessionClear)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)

	if s.opts.Metrics == nil {
		return mux
	}
	return observe.Middleware(s.opts.Metrics)(mux)
}

// handleInfo describes the service and its endpoint map.
func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "diarist",
		"version": s.opts.Version,
		"endpoints": map[string]string{
			"POST /inference":                    "transcribe an audio chunk with speaker annotation",
			"POST /transcribe":                   "alias of /inference",
			"GET /health":                        "service and backend health",
			"GET /session/{session_id}/speakers": "speakers known in a session",
			"DELETE /session/{session_id}":       "forget a session's speakers",
			"GET /metrics":                       "prometheus metrics",
		},
	})
}

// handleHealth reports overall service health plus per-backend detail and the
// effective configuration. The transcriber is mandatory, so its failure makes
// the whole service "error"; missing or failing sidecars only degrade it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type probe struct {
		name   string
		client interface {
			Healthy(context.Context) error
		}
	}
	probes := []probe{{"transcriber", s.opts.Transcriber}}
	if s.opts.Diarizer != nil {
		probes = append(probes, probe{"diarizer", s.opts.Diarizer})
	}
	if s.opts.Embedder != nil {
		probes = append(probes, probe{"embedder", s.opts.Embedder})
	}

	var (
		mu       sync.Mutex
		services = map[string]string{"diarizer": "disabled", "embedder": "disabled"}
		wg       sync.WaitGroup
	)
	for _, p := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
			defer cancel()
			err := p.client.Healthy(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				services[p.name] = "error: " + err.Error()
			} else {
				services[p.name] = "ok"
			}
		}()
	}
	wg.Wait()

	status := "ok"
	switch {
	case services["transcriber"] != "ok":
		status = "error"
	case strings.HasPrefix(services["diarizer"], "error") || strings.HasPrefix(services["embedder"], "error"):
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"version":  s.opts.Version,
		"services": services,
		"config": map[string]any{
			"diarization_model":   s.opts.DiarizerModel,
			"default_temperature": s.opts.DefaultTemperature,
			"speaker_tracking":    s.opts.Embedder != nil,
		},
	})
}

// handleInference accepts one multipart audio chunk and returns its annotated
// transcript.
func (s *Server) handleInference(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "request is not valid multipart form data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	if format := r.FormValue("response_format"); format != "" && format != "json" {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported response_format %q; only json is available", format))
		return
	}

	diarize := true
	if v := r.FormValue("diarize"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("diarize value %q is not a boolean", v))
			return
		}
		diarize = b
	}

	numSpeakers := 0
	if v := r.FormValue("num_speakers"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("num_speakers value %q must be a positive integer", v))
			return
		}
		numSpeakers = n
	}

	temperature := r.FormValue("temperature")
	if temperature == "" {
		temperature = s.opts.DefaultTemperature
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file form field")
		return
	}
	defer file.Close()

	uploadPath, err := s.spoolUpload(file, header.Filename)
	if err != nil {
		slog.Error("failed to store upload", "error", err)
		writeError(w, http.StatusInternalServerError, "could not store uploaded audio")
		return
	}
	defer os.Remove(uploadPath)

	res, err := s.opts.Processor.Process(r.Context(), annotate.Request{
		AudioPath:   uploadPath,
		SessionID:   r.FormValue("session_id"),
		Diarize:     diarize,
		NumSpeakers: numSpeakers,
		Temperature: temperature,
		Language:    r.FormValue("language"),
	})
	if err != nil {
		switch {
		case errors.Is(err, transcriber.ErrTimeout):
			writeError(w, http.StatusGatewayTimeout, "transcription backend timed out")
		case errors.Is(err, transcode.ErrCorruptInput):
			writeError(w, http.StatusInternalServerError, "uploaded audio could not be decoded")
		default:
			observe.Logger(r.Context()).Error("chunk processing failed", "error", err)
			writeError(w, http.StatusInternalServerError, "audio processing failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"segments": res.Segments,
		"text":     res.Text,
	})
}

// handleSessionSpeakers lists the speakers known in a session, including
// persisted ones from earlier runs.
func (s *Server) handleSessionSpeakers(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	speakers := s.opts.Store.Speakers(sessionID)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":    sessionID,
		"speakers":      speakers,
		"speaker_count": len(speakers),
	})
}

// handleSessionClear forgets all speaker profiles of a session, in memory
// and on disk.
func (s *Server) handleSessionClear(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if err := s.opts.Store.Clear(sessionID); err != nil {
		observe.Logger(r.Context()).Error("failed to clear session", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not clear session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"message": fmt.Sprintf("session %s cleared", sessionID),
	})
}

// spoolUpload copies the uploaded file into the upload directory under a
// random name, keeping the original extension so the transcoder can sniff
// the container format.
func (s *Server) spoolUpload(file io.Reader, originalName string) (string, error) {
	ext := filepath.Ext(filepath.Base(originalName))
	path := filepath.Join(s.opts.UploadDir, uuid.NewString()+ext)

	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("server: create spool file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, file); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("server: write spool file: %w", err)
	}
	return path, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

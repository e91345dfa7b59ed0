package server_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/verbalis/diarist/internal/annotate"
	"github.com/verbalis/diarist/internal/server"
	"github.com/verbalis/diarist/internal/speaker"
	"github.com/verbalis/diarist/internal/transcode"
	"github.com/verbalis/diarist/pkg/provider/diarizer"
	diarizermock "github.com/verbalis/diarist/pkg/provider/diarizer/mock"
	embeddermock "github.com/verbalis/diarist/pkg/provider/embedder/mock"
	"github.com/verbalis/diarist/pkg/provider/transcriber"
	transcribermock "github.com/verbalis/diarist/pkg/provider/transcriber/mock"
)

type fixture struct {
	transcriber *transcribermock.Client
	diarizer    *diarizermock.Client
	embedder    *embeddermock.Client
	store       *speaker.Store
	handler     http.Handler
}

// newFixture wires a server around mocks and a stub transcoder. The
// transcriber returns one three-second segment and the diarizer one matching
// turn unless the test overrides them.
func newFixture(t *testing.T, mutate func(*server.Options)) *fixture {
	t.Helper()

	f := &fixture{
		transcriber: &transcribermock.Client{Segments: []transcriber.Segment{
			{Text: "hello there", Start: 0, End: 3},
		}},
		diarizer: &diarizermock.Client{TurnList: []diarizer.Turn{
			{Speaker: "A", Start: 0, End: 3},
		}},
		embedder: &embeddermock.Client{Vectors: [][]float64{{1, 0, 0}}},
	}

	var err error
	f.store, err = speaker.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	stub := filepath.Join(t.TempDir(), "ffmpeg-stub")
	script := "#!/bin/sh\nfor out; do :; done\n: > \"$out\"\nexit 0\n"
	if err := os.WriteFile(stub, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}

	processor := annotate.NewProcessor(f.transcriber,
		annotate.WithDiarizer(f.diarizer),
		annotate.WithTranscoder(transcode.New(transcode.WithBinary(stub))),
		annotate.WithResolver(speaker.NewResolver(f.store, f.embedder)),
	)

	opts := server.Options{
		Processor:   processor,
		Store:       f.store,
		Transcriber: f.transcriber,
		Diarizer:    f.diarizer,
		Embedder:    f.embedder,
		UploadDir:   t.TempDir(),
		Version:     "test",
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.handler = server.New(opts).Handler()
	return f
}

// postChunk issues a multipart POST to path with an audio file part plus the
// given form fields.
func (f *fixture) postChunk(t *testing.T, path string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	fw, err := w.CreateFormFile("file", "chunk.ogg")
	if err != nil {
		t.Fatalf("create file part: %v", err)
	}
	fw.Write([]byte("OggS fake audio"))
	w.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestInference_AnnotatedResponse(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	rec := f.postChunk(t, "/inference", map[string]string{"session_id": "meeting"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["text"] != "hello there" {
		t.Errorf("text = %v", body["text"])
	}
	segments := body["segments"].([]any)
	if len(segments) != 1 {
		t.Fatalf("segments = %d, want 1", len(segments))
	}
	seg := segments[0].(map[string]any)
	if seg["speaker"] != "SPEAKER_00" {
		t.Errorf("speaker = %v, want SPEAKER_00", seg["speaker"])
	}
}

func TestTranscribe_IsAliasOfInference(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	rec := f.postChunk(t, "/transcribe", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestInference_MissingFile(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	w.WriteField("session_id", "meeting")
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/inference", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestInference_InvalidParams(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	cases := []struct {
		name   string
		fields map[string]string
	}{
		{"zero num_speakers", map[string]string{"num_speakers": "0"}},
		{"negative num_speakers", map[string]string{"num_speakers": "-2"}},
		{"non-numeric num_speakers", map[string]string{"num_speakers": "two"}},
		{"unsupported response_format", map[string]string{"response_format": "srt"}},
		{"non-boolean diarize", map[string]string{"diarize": "maybe"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.postChunk(t, "/inference", tc.fields)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestInference_DiarizeDisabled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	rec := f.postChunk(t, "/inference", map[string]string{"diarize": "false"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	seg := body["segments"].([]any)[0].(map[string]any)
	if seg["speaker"] != annotate.UnknownSpeaker {
		t.Errorf("speaker = %v, want %q", seg["speaker"], annotate.UnknownSpeaker)
	}
	if f.diarizer.CallCount() != 0 {
		t.Errorf("diarizer calls = %d, want 0", f.diarizer.CallCount())
	}
}

func TestInference_TranscriberTimeout_GatewayTimeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.transcriber.Err = transcriber.ErrTimeout

	rec := f.postChunk(t, "/inference", nil)
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", rec.Code)
	}
}

func TestInference_TranscriberFailure_InternalError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.transcriber.Err = errors.New("backend exploded")

	rec := f.postChunk(t, "/inference", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestInference_CorruptAudio_InternalError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(opts *server.Options) {
		stub := filepath.Join(t.TempDir(), "ffmpeg-broken")
		script := "#!/bin/sh\nexit " + strconv.Itoa(1) + "\n"
		if err := os.WriteFile(stub, []byte(script), 0o755); err != nil {
			t.Fatalf("write stub: %v", err)
		}
		opts.Processor = annotate.NewProcessor(opts.Transcriber,
			annotate.WithDiarizer(opts.Diarizer),
			annotate.WithTranscoder(transcode.New(transcode.WithBinary(stub))),
		)
	})

	rec := f.postChunk(t, "/inference", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "uploaded audio could not be decoded" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestSessionSpeakers_ListsResolvedSpeakers(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	if rec := f.postChunk(t, "/inference", map[string]string{"session_id": "meeting"}); rec.Code != http.StatusOK {
		t.Fatalf("inference status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/session/meeting/speakers", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["session_id"] != "meeting" {
		t.Errorf("session_id = %v", body["session_id"])
	}
	speakers := body["speakers"].([]any)
	if len(speakers) != 1 {
		t.Fatalf("speakers = %d, want 1", len(speakers))
	}
	sp := speakers[0].(map[string]any)
	if sp["speaker_id"] != "SPEAKER_00" {
		t.Errorf("speaker_id = %v", sp["speaker_id"])
	}
	if got := body["speaker_count"].(float64); got != 1 {
		t.Errorf("speaker_count = %v, want 1", got)
	}
}

func TestSessionClear(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.postChunk(t, "/inference", map[string]string{"session_id": "meeting"})

	req := httptest.NewRequest(http.MethodDelete, "/session/meeting", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if decodeBody(t, rec)["status"] != "ok" {
		t.Error("expected ok status")
	}

	req = httptest.NewRequest(http.MethodGet, "/session/meeting/speakers", nil)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if got := decodeBody(t, rec)["speakers"].([]any); len(got) != 0 {
		t.Errorf("speakers after clear = %d, want 0", len(got))
	}
}

func TestInfo(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["service"] != "diarist" {
		t.Errorf("service = %v", body["service"])
	}
}

func TestHealth_AllBackendsUp(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	services := body["services"].(map[string]any)
	for _, name := range []string{"transcriber", "diarizer", "embedder"} {
		if services[name] != "ok" {
			t.Errorf("%s = %v, want ok", name, services[name])
		}
	}
}

func TestHealth_TranscriberDown_Error(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.transcriber.HealthyErr = errors.New("connection refused")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if got := decodeBody(t, rec)["status"]; got != "error" {
		t.Errorf("status = %v, want error", got)
	}
}

func TestHealth_SidecarDown_Degraded(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.diarizer.HealthyErr = errors.New("model not loaded")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if got := decodeBody(t, rec)["status"]; got != "degraded" {
		t.Errorf("status = %v, want degraded", got)
	}
}

func TestHealth_SidecarsAbsent_Disabled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(opts *server.Options) {
		opts.Diarizer = nil
		opts.Embedder = nil
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok with sidecars disabled", body["status"])
	}
	services := body["services"].(map[string]any)
	if services["diarizer"] != "disabled" || services["embedder"] != "disabled" {
		t.Errorf("services = %v", services)
	}
}

func TestProbeEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
	}
}

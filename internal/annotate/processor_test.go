package annotate_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/verbalis/diarist/internal/annotate"
	"github.com/verbalis/diarist/internal/speaker"
	"github.com/verbalis/diarist/internal/transcode"
	"github.com/verbalis/diarist/pkg/provider/diarizer"
	diarizermock "github.com/verbalis/diarist/pkg/provider/diarizer/mock"
	embeddermock "github.com/verbalis/diarist/pkg/provider/embedder/mock"
	"github.com/verbalis/diarist/pkg/provider/transcriber"
	transcribermock "github.com/verbalis/diarist/pkg/provider/transcriber/mock"
)

// stubTranscoder returns an FFmpeg whose binary is a shell script creating
// its output argument and exiting with the given code.
func stubTranscoder(t *testing.T, exitCode int) *transcode.FFmpeg {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg-stub")
	script := "#!/bin/sh\nfor out; do :; done\n: > \"$out\"\nexit " + strconv.Itoa(exitCode) + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return transcode.New(transcode.WithBinary(path))
}

func writeUpload(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunk.ogg")
	if err := os.WriteFile(path, []byte("OggS"), 0o644); err != nil {
		t.Fatalf("write upload: %v", err)
	}
	return path
}

func newResolver(t *testing.T, emb *embeddermock.Client) *speaker.Resolver {
	t.Helper()
	store, err := speaker.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return speaker.NewResolver(store, emb)
}

func TestProcess_TranscriptionOnly(t *testing.T) {
	t.Parallel()

	tr := &transcribermock.Client{Segments: []transcriber.Segment{
		{Text: " hello ", Start: 0, End: 2},
		{Text: "world", Start: 2, End: 4},
	}}
	p := annotate.NewProcessor(tr)

	res, err := p.Process(context.Background(), annotate.Request{
		AudioPath: writeUpload(t),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(res.Segments))
	}
	for _, s := range res.Segments {
		if s.Speaker != annotate.UnknownSpeaker {
			t.Errorf("speaker = %q, want %q without diarization", s.Speaker, annotate.UnknownSpeaker)
		}
	}
	if res.Text != "hello world" {
		t.Errorf("text = %q, want %q", res.Text, "hello world")
	}
}

func TestProcess_DiarizeWithoutSession_LocalLabels(t *testing.T) {
	t.Parallel()

	tr := &transcribermock.Client{Segments: []transcriber.Segment{{Text: "hi", Start: 0, End: 2}}}
	di := &diarizermock.Client{TurnList: []diarizer.Turn{{Speaker: "SPEAKER_00", Start: 0, End: 2}}}
	p := annotate.NewProcessor(tr,
		annotate.WithDiarizer(di),
		annotate.WithTranscoder(stubTranscoder(t, 0)),
	)

	res, err := p.Process(context.Background(), annotate.Request{
		AudioPath: writeUpload(t),
		Diarize:   true,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Segments[0].Speaker != "SPEAKER_00" {
		t.Errorf("speaker = %q, want diarizer label passed through", res.Segments[0].Speaker)
	}
	if di.CallCount() != 1 {
		t.Errorf("diarizer calls = %d, want 1", di.CallCount())
	}
}

func TestProcess_SessionResolvesStableIdentity(t *testing.T) {
	t.Parallel()

	tr := &transcribermock.Client{Segments: []transcriber.Segment{{Text: "hi", Start: 0, End: 3}}}
	di := &diarizermock.Client{TurnList: []diarizer.Turn{{Speaker: "A", Start: 0, End: 3}}}
	emb := &embeddermock.Client{Vectors: [][]float64{{1, 0, 0}}}
	p := annotate.NewProcessor(tr,
		annotate.WithDiarizer(di),
		annotate.WithTranscoder(stubTranscoder(t, 0)),
		annotate.WithResolver(newResolver(t, emb)),
	)

	res, err := p.Process(context.Background(), annotate.Request{
		AudioPath: writeUpload(t),
		Diarize:   true,
		SessionID: "meeting",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Segments[0].Speaker != "SPEAKER_00" {
		t.Errorf("speaker = %q, want stable SPEAKER_00", res.Segments[0].Speaker)
	}
	if res.Stats.Created != 1 {
		t.Errorf("stats = %+v, want one created", res.Stats)
	}
}

func TestProcess_SilentChunk_LeavesSessionUntouched(t *testing.T) {
	t.Parallel()

	tr := &transcribermock.Client{Segments: nil}
	di := &diarizermock.Client{TurnList: []diarizer.Turn{{Speaker: "A", Start: 0, End: 3}}}
	emb := &embeddermock.Client{Vectors: [][]float64{{1, 0, 0}}}
	store, err := speaker.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	p := annotate.NewProcessor(tr,
		annotate.WithDiarizer(di),
		annotate.WithTranscoder(stubTranscoder(t, 0)),
		annotate.WithResolver(speaker.NewResolver(store, emb)),
	)

	res, err := p.Process(context.Background(), annotate.Request{
		AudioPath: writeUpload(t),
		Diarize:   true,
		SessionID: "meeting",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Segments) != 0 || res.Text != "" {
		t.Fatalf("result = %+v, want empty for a silent chunk", res)
	}
	if got := store.Speakers("meeting"); len(got) != 0 {
		t.Errorf("session speakers = %+v, want none minted from a silent chunk", got)
	}
	if emb.CallCount() != 0 {
		t.Errorf("embedder calls = %d, want 0", emb.CallCount())
	}
}

func TestProcess_DiarizerFailure_DegradesToUnknown(t *testing.T) {
	t.Parallel()

	tr := &transcribermock.Client{Segments: []transcriber.Segment{{Text: "hi", Start: 0, End: 2}}}
	di := &diarizermock.Client{Err: errors.New("model not loaded")}
	p := annotate.NewProcessor(tr,
		annotate.WithDiarizer(di),
		annotate.WithTranscoder(stubTranscoder(t, 0)),
	)

	res, err := p.Process(context.Background(), annotate.Request{
		AudioPath: writeUpload(t),
		Diarize:   true,
	})
	if err != nil {
		t.Fatalf("Process should not fail on diarizer error: %v", err)
	}
	if res.Segments[0].Speaker != annotate.UnknownSpeaker {
		t.Errorf("speaker = %q, want %q", res.Segments[0].Speaker, annotate.UnknownSpeaker)
	}
}

func TestProcess_TranscodeFailure_FailsRequest(t *testing.T) {
	t.Parallel()

	tr := &transcribermock.Client{Segments: []transcriber.Segment{{Text: "hi", Start: 0, End: 2}}}
	di := &diarizermock.Client{TurnList: []diarizer.Turn{{Speaker: "A", Start: 0, End: 2}}}
	p := annotate.NewProcessor(tr,
		annotate.WithDiarizer(di),
		annotate.WithTranscoder(stubTranscoder(t, 1)),
	)

	_, err := p.Process(context.Background(), annotate.Request{
		AudioPath: writeUpload(t),
		Diarize:   true,
	})
	if !errors.Is(err, transcode.ErrCorruptInput) {
		t.Fatalf("error = %v, want wrapped ErrCorruptInput", err)
	}
	if di.CallCount() != 0 {
		t.Errorf("diarizer calls = %d, want 0 after transcode failure", di.CallCount())
	}
}

func TestProcess_TranscriberFailure_FailsRequest(t *testing.T) {
	t.Parallel()

	tr := &transcribermock.Client{Err: errors.New("backend down")}
	p := annotate.NewProcessor(tr)

	if _, err := p.Process(context.Background(), annotate.Request{
		AudioPath: writeUpload(t),
	}); err == nil {
		t.Fatal("expected error when transcription fails")
	}
}

func TestProcess_ForwardsOptions(t *testing.T) {
	t.Parallel()

	tr := &transcribermock.Client{Segments: []transcriber.Segment{{Text: "hi", Start: 0, End: 2}}}
	di := &diarizermock.Client{TurnList: nil}
	p := annotate.NewProcessor(tr,
		annotate.WithDiarizer(di),
		annotate.WithTranscoder(stubTranscoder(t, 0)),
	)

	_, err := p.Process(context.Background(), annotate.Request{
		AudioPath:   writeUpload(t),
		Diarize:     true,
		NumSpeakers: 3,
		Temperature: "0.2",
		Language:    "en",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	call := tr.TranscribeCalls[0]
	if call.Opts.Temperature != "0.2" || call.Opts.Language != "en" {
		t.Errorf("transcriber opts = %+v", call.Opts)
	}
	if di.TurnsCalls[0].NumSpeakers != 3 {
		t.Errorf("diarizer hint = %d, want 3", di.TurnsCalls[0].NumSpeakers)
	}
}

func TestProcess_RemovesTempWAV(t *testing.T) {
	t.Parallel()

	tr := &transcribermock.Client{Segments: []transcriber.Segment{{Text: "hi", Start: 0, End: 2}}}
	di := &diarizermock.Client{TurnList: nil}
	p := annotate.NewProcessor(tr,
		annotate.WithDiarizer(di),
		annotate.WithTranscoder(stubTranscoder(t, 0)),
	)

	upload := writeUpload(t)
	if _, err := p.Process(context.Background(), annotate.Request{
		AudioPath: upload,
		Diarize:   true,
	}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	wav := transcode.SiblingWAVPath(upload)
	if _, err := os.Stat(wav); !os.IsNotExist(err) {
		t.Errorf("temp wav %s still exists (stat err = %v)", wav, err)
	}
	// The upload itself belongs to the caller.
	if _, err := os.Stat(upload); err != nil {
		t.Errorf("upload was removed by the processor: %v", err)
	}
}

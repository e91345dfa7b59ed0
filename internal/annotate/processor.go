package annotate

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/verbalis/diarist/internal/observe"
	"github.com/verbalis/diarist/internal/speaker"
	"github.com/verbalis/diarist/internal/transcode"
	"github.com/verbalis/diarist/pkg/provider/diarizer"
	"github.com/verbalis/diarist/pkg/provider/transcriber"
)

// Request describes one uploaded audio chunk to process. AudioPath points at
// the stored upload; the caller owns that file and removes it afterwards.
type Request struct {
	AudioPath string

	// SessionID groups chunks whose speakers should share identities. Empty
	// disables identity resolution for this chunk.
	SessionID string

	// Diarize enables speaker attribution. Without it the response carries
	// plain transcription segments labeled UNKNOWN.
	Diarize bool

	// NumSpeakers caps the session's speaker count when positive, and is
	// passed to the diarizer as a hint.
	NumSpeakers int

	// Temperature and Language are forwarded to the transcription backend
	// verbatim; empty values defer to its defaults.
	Temperature string
	Language    string
}

// Result is the annotated output for one chunk.
type Result struct {
	Segments []Segment
	// Text is the plain transcript, segment texts joined with spaces.
	Text string
	// Stats reports how the chunk's speaker labels were resolved. Zero when
	// identity resolution did not run.
	Stats speaker.Stats
}

// ProcessorOption configures a [Processor].
type ProcessorOption func(*Processor)

// WithDiarizer enables speaker attribution through the given client.
func WithDiarizer(d diarizer.Client) ProcessorOption {
	return func(p *Processor) { p.diarizer = d }
}

// WithResolver enables session-stable identity resolution.
func WithResolver(r *speaker.Resolver) ProcessorOption {
	return func(p *Processor) { p.resolver = r }
}

// WithTranscoder overrides the transcoder feeding the diarizer. Defaults to
// [transcode.New] with standard settings.
func WithTranscoder(f *transcode.FFmpeg) ProcessorOption {
	return func(p *Processor) { p.transcoder = f }
}

// WithMetrics enables pipeline instrumentation.
func WithMetrics(m *observe.Metrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

// Processor runs the per-chunk pipeline: transcription and diarization in
// parallel, then identity resolution, then the merge. A Processor is safe for
// concurrent use; chunks of the same session serialize inside the resolver.
type Processor struct {
	transcriber transcriber.Client
	diarizer    diarizer.Client
	resolver    *speaker.Resolver
	transcoder  *transcode.FFmpeg
	metrics     *observe.Metrics
}

// NewProcessor creates a processor around the mandatory transcription
// backend. Without [WithDiarizer] every segment comes back as UNKNOWN;
// without [WithResolver] diarization labels stay chunk-local.
func NewProcessor(t transcriber.Client, opts ...ProcessorOption) *Processor {
	p := &Processor{
		transcriber: t,
		transcoder:  transcode.New(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Process runs the full pipeline for one chunk.
//
// Transcription failure fails the chunk, and an empty transcription ends it
// early with an empty result, leaving session state untouched. A transcode
// failure of the upload also fails the chunk, wrapping
// [transcode.ErrCorruptInput]. Diarizer
// failure degrades to an unattributed transcript, and resolver-level failures
// degrade further down to chunk-local labels; neither fails the request.
func (p *Processor) Process(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	log := observe.Logger(ctx)

	diarize := req.Diarize && p.diarizer != nil
	wavPath := ""
	if diarize {
		wavPath = transcode.SiblingWAVPath(req.AudioPath)
	}

	var (
		segments []transcriber.Segment
		turns    []diarizer.Turn
	)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		t0 := time.Now()
		segs, err := p.transcriber.Transcribe(gctx, req.AudioPath, transcriber.Options{
			Temperature: req.Temperature,
			Language:    req.Language,
		})
		p.recordDuration(gctx, stageTranscribe, time.Since(t0))
		if err != nil {
			p.recordError(gctx, "transcriber")
			return fmt.Errorf("annotate: transcription: %w", err)
		}
		segments = segs
		return nil
	})

	if diarize {
		g.Go(func() error {
			t0 := time.Now()
			if err := p.transcoder.ToWAV(gctx, req.AudioPath, wavPath); err != nil {
				p.recordError(gctx, "transcoder")
				return fmt.Errorf("annotate: prepare diarization input: %w", err)
			}
			tns, err := p.diarizer.Turns(gctx, wavPath, req.NumSpeakers)
			p.recordDuration(gctx, stageDiarize, time.Since(t0))
			if err != nil {
				// Attribution is best-effort: the transcript is still
				// worth returning without speakers.
				p.recordError(gctx, "diarizer")
				log.Warn("diarization failed, returning unattributed transcript",
					"session_id", req.SessionID, "error", err)
				return nil
			}
			turns = tns
			return nil
		})
	}

	if wavPath != "" {
		defer os.Remove(wavPath)
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{}
	if len(segments) == 0 {
		// A silent chunk carries no speech to attribute; the session store
		// must stay untouched.
		res.Segments = []Segment{}
		log.Debug("transcription produced no segments", "session_id", req.SessionID)
		return res, nil
	}

	if len(turns) > 0 && req.SessionID != "" && p.resolver != nil {
		turns, res.Stats = p.resolver.Assign(ctx, req.SessionID, wavPath, turns, req.NumSpeakers)
		p.recordStats(ctx, res.Stats)
	}

	res.Segments = Merge(segments, turns)
	res.Text = JoinText(res.Segments)

	p.recordDuration(ctx, stageChunk, time.Since(start))
	log.Debug("chunk processed",
		"session_id", req.SessionID,
		"segments", len(res.Segments),
		"turns", len(turns),
		"duration", time.Since(start),
	)
	return res, nil
}

type stage int

const (
	stageTranscribe stage = iota
	stageDiarize
	stageChunk
)

func (p *Processor) recordDuration(ctx context.Context, s stage, d time.Duration) {
	if p.metrics == nil {
		return
	}
	switch s {
	case stageTranscribe:
		p.metrics.TranscribeDuration.Record(ctx, d.Seconds())
	case stageDiarize:
		p.metrics.DiarizeDuration.Record(ctx, d.Seconds())
	case stageChunk:
		p.metrics.ChunkDuration.Record(ctx, d.Seconds())
	}
}

func (p *Processor) recordError(ctx context.Context, provider string) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordProviderError(ctx, provider)
}

func (p *Processor) recordStats(ctx context.Context, st speaker.Stats) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordResolution(ctx, "matched", st.Matched)
	p.metrics.RecordResolution(ctx, "created", st.Created)
	p.metrics.RecordResolution(ctx, "forced", st.Forced)
	p.metrics.RecordResolution(ctx, "passthrough", st.Passthrough)
}

// Package annotate turns raw transcription and diarization output into
// speaker-annotated segments. [Merge] aligns the two timelines; [Processor]
// orchestrates the full per-chunk pipeline around it.
package annotate

import (
	"strings"

	"github.com/verbalis/diarist/pkg/provider/diarizer"
	"github.com/verbalis/diarist/pkg/provider/transcriber"
)

// UnknownSpeaker labels segments that overlap no diarization turn, including
// every segment when diarization was skipped or failed.
const UnknownSpeaker = "UNKNOWN"

// Segment is one speaker-annotated piece of the transcript.
type Segment struct {
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Merge assigns each transcription segment the speaker of the turn it
// overlaps most, by duration of the temporal intersection. Segments with no
// positive overlap get [UnknownSpeaker]. The output preserves segment order
// and count; segment text is whitespace-trimmed.
//
// Ties on overlap go to the earlier turn in the slice, so the result is
// deterministic for a fixed input.
func Merge(segments []transcriber.Segment, turns []diarizer.Turn) []Segment {
	out := make([]Segment, len(segments))
	for i, seg := range segments {
		speaker := UnknownSpeaker
		bestOverlap := 0.0
		for _, turn := range turns {
			o := overlap(seg.Start, seg.End, turn.Start, turn.End)
			if o > bestOverlap {
				speaker, bestOverlap = turn.Speaker, o
			}
		}
		out[i] = Segment{
			Speaker: speaker,
			Text:    strings.TrimSpace(seg.Text),
			Start:   seg.Start,
			End:     seg.End,
		}
	}
	return out
}

// overlap returns the length of the intersection of [aStart, aEnd] and
// [bStart, bEnd], or 0 when they are disjoint.
func overlap(aStart, aEnd, bStart, bEnd float64) float64 {
	start := max(aStart, bStart)
	end := min(aEnd, bEnd)
	if end <= start {
		return 0
	}
	return end - start
}

// JoinText concatenates the non-empty segment texts with single spaces,
// producing the plain transcript of the chunk.
func JoinText(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s.Text != "" {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, " ")
}

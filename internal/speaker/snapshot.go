package speaker

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Snapshot wire format: one flat JSON object of named numeric arrays. For
// every speaker three keys are present, "<id>_centroid" with the profile
// centroid, "<id>_duration" and "<id>_count" each holding a single element.
// Only the centroid survives persistence; the full embedding history is
// session-lifetime state and a restored profile is seeded with its centroid
// as the sole history entry.
const (
	centroidSuffix = "_centroid"
	durationSuffix = "_duration"
	countSuffix    = "_count"
)

func encodeSnapshot(profiles map[string]*Profile) ([]byte, error) {
	data := make(map[string][]float64, 3*len(profiles))
	for id, p := range profiles {
		c := p.Centroid()
		if c == nil {
			continue
		}
		data[id+centroidSuffix] = c
		data[id+durationSuffix] = []float64{p.TotalDuration}
		data[id+countSuffix] = []float64{float64(p.ChunkCount)}
	}
	return json.Marshal(data)
}

func decodeSnapshot(raw []byte) (map[string]*Profile, error) {
	var data map[string][]float64
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("speaker: decode snapshot: %w", err)
	}

	profiles := make(map[string]*Profile)
	for key, values := range data {
		id, ok := strings.CutSuffix(key, centroidSuffix)
		if !ok || len(values) == 0 {
			continue
		}
		p := NewProfile(id)
		p.seed(values)
		if d := data[id+durationSuffix]; len(d) > 0 {
			p.TotalDuration = d[0]
		}
		if c := data[id+countSuffix]; len(c) > 0 {
			p.ChunkCount = int(c[0])
		} else {
			p.ChunkCount = 1
		}
		profiles[id] = p
	}
	return profiles, nil
}

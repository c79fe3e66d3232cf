package experiment

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Summary averages records sharing participant size, k and solver over
// rounds.
type Summary struct {
	ParticipantSize int     `json:"participant_size"`
	K               int     `json:"k"`
	Solver          string  `json:"solver"`
	Rounds          int     `json:"rounds"`
	MeanSpread      float64 `json:"mean_spread"`
	MeanDurationMS  float64 `json:"mean_duration_ms"`
	MeanOverlap     float64 `json:"mean_overlap"`
}

// Report is the document written to experiment.output_file.
type Report struct {
	Records []Record  `json:"records"`
	Summary []Summary `json:"summary"`
}

type summaryKey struct {
	size   int
	k      int
	solver string
}

// Summarize groups records by (participant size, k, solver), ordered by
// size, then k, then solver.
func Summarize(records []Record) []Summary {
	groups := make(map[summaryKey]*Summary)
	for _, rec := range records {
		key := summaryKey{rec.ParticipantSize, rec.K, rec.Solver}
		s, ok := groups[key]
		if !ok {
			s = &Summary{ParticipantSize: rec.ParticipantSize, K: rec.K, Solver: rec.Solver}
			groups[key] = s
		}
		s.Rounds++
		s.MeanSpread += rec.Spread
		s.MeanDurationMS += rec.DurationMS
		s.MeanOverlap += rec.Overlap
	}

	out := make([]Summary, 0, len(groups))
	for _, s := range groups {
		n := float64(s.Rounds)
		s.MeanSpread /= n
		s.MeanDurationMS /= n
		s.MeanOverlap /= n
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ParticipantSize != out[j].ParticipantSize {
			return out[i].ParticipantSize < out[j].ParticipantSize
		}
		if out[i].K != out[j].K {
			return out[i].K < out[j].K
		}
		return out[i].Solver < out[j].Solver
	})
	return out
}

// WriteJSON writes records and their summary to path.
func WriteJSON(path string, records []Record) error {
	data, err := json.MarshalIndent(Report{Records: records, Summary: Summarize(records)}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

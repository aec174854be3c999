package stats

import (
	"sort"

	"github.com/marceloligiero/tradehub/internal/model"
)

// ErrorTypeCount is how often a classification type was recorded.
type ErrorTypeCount struct {
	Type  model.ErrorType
	Count int
}

// TopErrorTypes counts recorded errors by type, most frequent first. Ties
// keep the display order of model.ErrorTypes.
func TopErrorTypes(ops []model.Operation, extra []model.SubmissionError) []ErrorTypeCount {
	counts := map[model.ErrorType]int{}
	for _, op := range ops {
		for _, e := range op.Errors {
			counts[e.Type]++
		}
	}
	for _, e := range extra {
		counts[e.Type]++
	}
	out := make([]ErrorTypeCount, 0, len(counts))
	for _, t := range model.ErrorTypes {
		if n := counts[t]; n > 0 {
			out = append(out, ErrorTypeCount{Type: t, Count: n})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	return out
}

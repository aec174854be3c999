package stats

import (
	"sort"
	"time"

	"github.com/marceloligiero/tradehub/internal/model"
	"github.com/marceloligiero/tradehub/internal/timer"
)

// SlowestOperations returns up to n finished operations ordered by duration,
// longest first. Equal durations keep operation order.
func SlowestOperations(ops []model.Operation, n int, now time.Time) []model.Operation {
	candidates := make([]model.Operation, 0, len(ops))
	for _, op := range ops {
		if !op.Open() {
			candidates = append(candidates, op)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return timer.OperationElapsed(candidates[i], now) > timer.OperationElapsed(candidates[j], now)
	})
	if n <= 0 || n > len(candidates) {
		n = len(candidates)
	}
	return candidates[:n]
}

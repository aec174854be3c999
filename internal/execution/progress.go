package execution

import "github.com/marceloligiero/tradehub/internal/model"

// Progress is derived from the operation list on every read and never cached.
type Progress struct {
	Required  int
	Started   int
	Completed int
	// Percent is completed/required*100 clamped to [0,100].
	Percent float64
	// Remaining is required-completed, never below zero.
	Remaining int
	// HasOpen reports whether an operation is still running.
	HasOpen bool
	// CanAddMore is false once the started operations reach the required
	// count, including the one that may still be open.
	CanAddMore bool
	// ReadyToSubmit means every required operation is finished and none is open.
	ReadyToSubmit bool
}

// ComputeProgress derives the execution progress for a challenge.
func ComputeProgress(required int, ops []model.Operation) Progress {
	p := Progress{Required: required, Started: len(ops)}
	for _, op := range ops {
		if op.Open() {
			p.HasOpen = true
			continue
		}
		p.Completed++
	}
	if required <= 0 {
		p.Percent = 100
	} else {
		p.Percent = float64(p.Completed) / float64(required) * 100
		if p.Percent > 100 {
			p.Percent = 100
		}
	}
	p.Remaining = required - p.Completed
	if p.Remaining < 0 {
		p.Remaining = 0
	}
	p.CanAddMore = p.Started < required
	p.ReadyToSubmit = p.Completed >= required && !p.HasOpen
	return p
}

package review

import "github.com/marceloligiero/tradehub/internal/model"

// CanFinalize reports whether the work is both done and fully classified.
// SUMMARY submissions carry no operations and always pass.
func CanFinalize(kind model.ChallengeType, required int, ops []model.Operation) bool {
	if kind == model.ChallengeSummary {
		return true
	}
	completed := 0
	for _, op := range ops {
		if op.Open() {
			continue
		}
		completed++
		if !op.Classified() {
			return false
		}
	}
	return completed >= required
}

// Actions lists what the trainer may do with a submission right now.
type Actions struct {
	Classify   bool
	Finalize   bool
	Manual     bool
	AllowRetry bool
}

// AvailableActions derives the offered controls. Manual KPI mode never offers
// the automatic approve/reject, whatever the gate says.
func AvailableActions(ch model.Challenge, sub model.Submission, ops []model.Operation) Actions {
	var a Actions
	if !sub.Status.Terminal() {
		a.Classify = sub.Kind() == model.ChallengeComplete
		if ch.Manual() {
			a.Manual = true
		} else {
			a.Finalize = CanFinalize(sub.Kind(), ch.OperationsRequired, ops)
		}
	}
	a.AllowRetry = CanAllowRetry(ch, sub)
	return a
}

// CanAllowRetry reports whether a retry may be enabled for sub.
func CanAllowRetry(ch model.Challenge, sub model.Submission) bool {
	if !ch.AllowRetry || sub.IsRetryAllowed || !sub.Rejected() {
		return false
	}
	return sub.Status == model.StatusCompleted || sub.Status == model.StatusRejected
}

package review

import (
	"strconv"
	"testing"
	"testing/quick"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/marceloligiero/tradehub/internal/model"
)

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

// opsFromStates turns generated bytes into operations: 0 open, 1 finished
// but unclassified, 2 finished and approved, 3 finished with errors.
func opsFromStates(states []uint8) []model.Operation {
	done := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ops := make([]model.Operation, 0, len(states))
	for i, s := range states {
		op := model.Operation{ID: int64(i + 1)}
		switch s % 4 {
		case 1:
			op.CompletedAt = &done
		case 2:
			op.CompletedAt = &done
			op.IsApproved = boolPtr(true)
		case 3:
			op.CompletedAt = &done
			op.IsApproved = boolPtr(false)
			op.HasError = true
		}
		ops = append(ops, op)
	}
	return ops
}

func TestFinalizeGateProperty(t *testing.T) {
	f := func(states []uint8, required uint8) bool {
		req := int(required % 12)
		ops := opsFromStates(states)
		completed := 0
		allClassified := true
		for _, op := range ops {
			if op.CompletedAt == nil {
				continue
			}
			completed++
			if op.IsApproved == nil {
				allClassified = false
			}
		}
		want := completed >= req && allClassified
		return CanFinalize(model.ChallengeComplete, req, ops) == want
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 500}); err != nil {
		t.Fatal(err)
	}
}

func TestSummaryGateIsVacuous(t *testing.T) {
	f := func(states []uint8, required uint8) bool {
		return CanFinalize(model.ChallengeSummary, int(required), opsFromStates(states))
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatal(err)
	}
}

func TestOpenOperationDoesNotBlockGate(t *testing.T) {
	ops := opsFromStates([]uint8{2, 3, 0})
	assert.True(t, CanFinalize(model.ChallengeComplete, 2, ops))
	assert.False(t, CanFinalize(model.ChallengeComplete, 3, ops))
}

func TestAvailableActions(t *testing.T) {
	ops := opsFromStates([]uint8{2, 2})
	auto := model.Challenge{OperationsRequired: 2, KPIMode: model.KPIAuto, AllowRetry: true}
	manual := auto
	manual.KPIMode = model.KPIManual
	pending := model.Submission{Status: model.StatusPendingReview}

	a := AvailableActions(auto, pending, ops)
	assert.True(t, a.Finalize)
	assert.False(t, a.Manual)
	assert.True(t, a.Classify)

	a = AvailableActions(manual, pending, ops)
	assert.False(t, a.Finalize)
	assert.True(t, a.Manual)

	rejected := model.Submission{Status: model.StatusRejected, IsApproved: boolPtr(false)}
	a = AvailableActions(auto, rejected, ops)
	assert.False(t, a.Finalize)
	assert.False(t, a.Classify)
	assert.True(t, a.AllowRetry)

	rejected.IsRetryAllowed = true
	assert.False(t, AvailableActions(auto, rejected, ops).AllowRetry)

	completedFail := model.Submission{Status: model.StatusCompleted, IsApproved: boolPtr(false)}
	assert.True(t, CanAllowRetry(auto, completedFail))
	completedPass := model.Submission{Status: model.StatusCompleted, IsApproved: boolPtr(true)}
	assert.False(t, CanAllowRetry(auto, completedPass))
}

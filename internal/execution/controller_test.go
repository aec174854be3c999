package execution

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marceloligiero/tradehub/internal/apperr"
	"github.com/marceloligiero/tradehub/internal/model"
	"github.com/marceloligiero/tradehub/internal/testkit"
)

const challengeID = 1

func setup(t *testing.T, required int) (*testkit.Backend, *Controller) {
	t.Helper()
	b := testkit.NewBackend(t)
	b.AddChallenge(model.Challenge{
		ID:                 challengeID,
		Title:              "Wire transfers",
		Type:               model.ChallengeComplete,
		OperationsRequired: required,
		KPIMode:            model.KPIAuto,
		AllowRetry:         true,
	})
	c := New(b.Client())
	require.NoError(t, c.Load(context.Background(), challengeID, 0))
	return b, c
}

func yes(string) bool { return true }
func no(string) bool  { return false }

func TestHappyPathToSubmission(t *testing.T) {
	b, c := setup(t, 3)
	ctx := context.Background()

	assert.Nil(t, c.State().Submission)
	for _, ref := range []string{"A", "B", "C"} {
		op, err := c.StartOperation(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, ref, op.Reference)
		assert.False(t, c.State().CanSubmit())
		b.Advance(90 * time.Second)
		_, err = c.FinishOperation(ctx)
		require.NoError(t, err)
	}

	st := c.State()
	require.NotNil(t, st.Submission)
	assert.Equal(t, 3, st.Progress.Completed)
	assert.Equal(t, 0, st.Progress.Remaining)
	assert.Equal(t, float64(100), st.Progress.Percent)
	assert.False(t, st.Progress.CanAddMore)
	assert.True(t, st.CanSubmit())
	for _, op := range st.Operations {
		require.NotNil(t, op.DurationSeconds)
		assert.Equal(t, int64(90), *op.DurationSeconds)
	}

	before := b.RequestCount()
	_, err := c.SubmitForReview(ctx, no)
	require.ErrorIs(t, err, ErrNotConfirmed)
	assert.Equal(t, before, b.RequestCount())

	sub, err := c.SubmitForReview(ctx, yes)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingReview, sub.Status)
	assert.Equal(t, 1, b.CountPath(http.MethodPost, "/api/challenges/submit/complete/start/1/self"))

	_, err = c.StartOperation(ctx, "D")
	assert.ErrorIs(t, err, ErrSubmitted)
}

func TestBlankReferenceSendsNothing(t *testing.T) {
	b, c := setup(t, 3)
	before := b.RequestCount()
	for _, ref := range []string{"", "   ", "\t\n"} {
		_, err := c.StartOperation(context.Background(), ref)
		require.ErrorIs(t, err, ErrBlankReference)
		assert.True(t, apperr.IsValidation(err))
	}
	assert.Equal(t, before, b.RequestCount())
	assert.Nil(t, c.State().Submission)
}

func TestStartingAtRequirementWithOpenOperation(t *testing.T) {
	b, c := setup(t, 2)
	ctx := context.Background()

	_, err := c.StartOperation(ctx, "A")
	require.NoError(t, err)
	_, err = c.FinishOperation(ctx)
	require.NoError(t, err)
	_, err = c.StartOperation(ctx, "B")
	require.NoError(t, err)

	st := c.State()
	assert.Equal(t, 1, st.Progress.Completed)
	assert.Equal(t, 2, st.Progress.Started)
	assert.False(t, st.Progress.CanAddMore)
	assert.False(t, st.CanSubmit())

	_, err = c.FinishOperation(ctx)
	require.NoError(t, err)
	before := b.RequestCount()
	_, err = c.StartOperation(ctx, "C")
	require.ErrorIs(t, err, ErrNoMoreOperations)
	assert.Equal(t, before, b.RequestCount())
}

func TestFinishWithoutOpenOperation(t *testing.T) {
	b, c := setup(t, 2)
	before := b.RequestCount()
	_, err := c.FinishOperation(context.Background())
	require.ErrorIs(t, err, ErrNoOpenOperation)
	assert.Equal(t, before, b.RequestCount())
}

func TestAtMostOneOpenOperation(t *testing.T) {
	b, c := setup(t, 40)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 120; i++ {
		if rng.Intn(2) == 0 {
			_, err := c.StartOperation(ctx, "REF")
			if err != nil && !errors.Is(err, ErrOperationOpen) && !errors.Is(err, ErrNoMoreOperations) {
				t.Fatalf("start: %v", err)
			}
		} else {
			_, err := c.FinishOperation(ctx)
			if err != nil && !errors.Is(err, ErrNoOpenOperation) {
				t.Fatalf("finish: %v", err)
			}
		}
		open := 0
		for _, op := range c.State().Operations {
			if op.Open() {
				open++
			}
		}
		require.LessOrEqual(t, open, 1)
		if sub := c.State().Submission; sub != nil {
			require.LessOrEqual(t, b.OpenOperations(sub.ID), 1)
		}
	}
}

func TestServerRejectionLeavesStateAndClearsBusy(t *testing.T) {
	b, c := setup(t, 3)
	ctx := context.Background()
	_, err := c.StartOperation(ctx, "A")
	require.NoError(t, err)
	_, err = c.FinishOperation(ctx)
	require.NoError(t, err)
	before := c.State()

	b.FailNext(http.StatusBadRequest, "Reference already used")
	_, err = c.StartOperation(ctx, "A")
	require.Error(t, err)
	assert.Equal(t, "Reference already used", apperr.UserMessage(err))
	assert.Equal(t, before.Operations, c.State().Operations)
	assert.False(t, c.Busy(TargetStart))

	_, err = c.StartOperation(ctx, "B")
	require.NoError(t, err)
}

func TestFinishReloadPicksUpTrainerClassification(t *testing.T) {
	b, c := setup(t, 3)
	ctx := context.Background()
	first, err := c.StartOperation(ctx, "A")
	require.NoError(t, err)
	_, err = c.FinishOperation(ctx)
	require.NoError(t, err)
	_, err = c.StartOperation(ctx, "B")
	require.NoError(t, err)

	b.ClassifyDirect(first.ID, false)
	_, err = c.FinishOperation(ctx)
	require.NoError(t, err)

	ops := c.State().Operations
	require.Len(t, ops, 2)
	require.NotNil(t, ops[0].IsApproved)
	assert.True(t, *ops[0].IsApproved)
	assert.Nil(t, ops[1].IsApproved)
}

func TestResumeExistingAttempt(t *testing.T) {
	b := testkit.NewBackend(t)
	b.AddChallenge(model.Challenge{ID: challengeID, Type: model.ChallengeComplete, OperationsRequired: 2})
	subID := b.SeedSubmission(challengeID, model.StatusInProgress, nil)
	b.SeedOperation(subID, "A", true, nil)
	b.SeedOperation(subID, "B", false, nil)

	c := New(b.Client())
	require.NoError(t, c.Load(context.Background(), challengeID, subID))
	st := c.State()
	require.NotNil(t, st.Submission)
	assert.Equal(t, subID, st.Submission.ID)
	open, ok := st.Open()
	require.True(t, ok)
	assert.Equal(t, "B", open.Reference)

	b.Advance(42 * time.Second)
	elapsed, ok := c.Elapsed(b.Now())
	require.True(t, ok)
	assert.Equal(t, int64(42), elapsed)
}

func TestLazyCreateAdoptsOpenWork(t *testing.T) {
	b := testkit.NewBackend(t)
	b.AddChallenge(model.Challenge{ID: challengeID, Type: model.ChallengeComplete, OperationsRequired: 3})
	subID := b.SeedSubmission(challengeID, model.StatusInProgress, nil)
	b.SeedOperation(subID, "A", false, nil)

	c := New(b.Client())
	require.NoError(t, c.Load(context.Background(), challengeID, 0))
	_, err := c.StartOperation(context.Background(), "B")
	require.ErrorIs(t, err, ErrOperationOpen)
	assert.Equal(t, subID, c.State().Submission.ID)
	assert.Equal(t, 1, b.OpenOperations(subID))
}

func TestSummaryChallengeIsRefused(t *testing.T) {
	b := testkit.NewBackend(t)
	b.AddChallenge(model.Challenge{ID: 2, Type: model.ChallengeSummary})
	c := New(b.Client())
	err := c.Load(context.Background(), 2, 0)
	require.ErrorIs(t, err, ErrNotComplete)
}

func TestRetryCreatesFreshAttempt(t *testing.T) {
	b := testkit.NewBackend(t)
	b.AddChallenge(model.Challenge{ID: challengeID, Type: model.ChallengeComplete, OperationsRequired: 1, AllowRetry: true})
	rejected := false
	subID := b.SeedSubmission(challengeID, model.StatusCompleted, &rejected)
	b.SeedOperation(subID, "A", true, &rejected)

	c := New(b.Client())
	ctx := context.Background()
	require.NoError(t, c.Load(ctx, challengeID, subID))

	before := b.RequestCount()
	_, err := c.StartRetry(ctx)
	require.ErrorIs(t, err, ErrRetryNotAllowed)
	assert.Equal(t, before, b.RequestCount())

	_, err = b.Client().AllowRetry(ctx, subID)
	require.NoError(t, err)
	require.NoError(t, c.Refresh(ctx))
	assert.True(t, c.State().Submission.IsRetryAllowed)

	sub, err := c.StartRetry(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, subID, sub.ID)
	assert.Equal(t, model.StatusInProgress, sub.Status)
	assert.Equal(t, 1, sub.RetryCount)
	assert.Empty(t, c.State().Operations)

	_, err = c.StartOperation(ctx, "A2")
	require.NoError(t, err)
}

type memoryHistory struct {
	mu      sync.Mutex
	entries []model.RecentSubmission
}

func (m *memoryHistory) TouchSubmission(_ context.Context, r model.RecentSubmission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, r)
	return nil
}

func TestHistoryIsRecorded(t *testing.T) {
	b := testkit.NewBackend(t)
	b.AddChallenge(model.Challenge{ID: challengeID, Type: model.ChallengeComplete, OperationsRequired: 1})
	h := &memoryHistory{}
	c := New(b.Client(), WithHistory(h))
	ctx := context.Background()
	require.NoError(t, c.Load(ctx, challengeID, 0))
	_, err := c.StartOperation(ctx, "A")
	require.NoError(t, err)
	_, err = c.FinishOperation(ctx)
	require.NoError(t, err)
	_, err = c.SubmitForReview(ctx, yes)
	require.NoError(t, err)

	require.Len(t, h.entries, 2)
	assert.Equal(t, model.StatusInProgress, h.entries[0].Status)
	assert.Equal(t, model.StatusPendingReview, h.entries[1].Status)
	assert.Equal(t, model.RoleStudent, h.entries[1].Role)
}

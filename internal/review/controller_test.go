package review

import (
	"context"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marceloligiero/tradehub/internal/api"
	"github.com/marceloligiero/tradehub/internal/apperr"
	"github.com/marceloligiero/tradehub/internal/execution"
	"github.com/marceloligiero/tradehub/internal/model"
	"github.com/marceloligiero/tradehub/internal/testkit"
)

func yes(string) bool { return true }

func boolPtr(v bool) *bool { return &v }

func newBackend(t *testing.T, ch model.Challenge) *testkit.Backend {
	t.Helper()
	b := testkit.NewBackend(t)
	if ch.Type == "" {
		ch.Type = model.ChallengeComplete
	}
	b.AddChallenge(ch)
	return b
}

func load(t *testing.T, b *testkit.Backend, submissionID int64) *Controller {
	t.Helper()
	c := New(b.Client())
	require.NoError(t, c.Load(context.Background(), submissionID))
	return c
}

func TestHappyPathStudentThenTrainer(t *testing.T) {
	b := newBackend(t, model.Challenge{ID: 1, Title: "Wires", OperationsRequired: 3, KPIMode: model.KPIAuto})
	ctx := context.Background()

	student := execution.New(b.Client())
	require.NoError(t, student.Load(ctx, 1, 0))
	for _, ref := range []string{"A", "B", "C"} {
		_, err := student.StartOperation(ctx, ref)
		require.NoError(t, err)
		require.Equal(t, 1, b.OpenOperations(student.State().Submission.ID))
		b.Advance(time.Minute)
		_, err = student.FinishOperation(ctx)
		require.NoError(t, err)
	}
	st := student.State()
	assert.False(t, st.Progress.CanAddMore)
	assert.Equal(t, 0, st.Progress.Remaining)
	assert.True(t, st.CanSubmit())
	sub, err := student.SubmitForReview(ctx, yes)
	require.NoError(t, err)

	trainer := load(t, b, sub.ID)
	assert.False(t, trainer.CanFinalize())
	assert.False(t, trainer.State().Actions.Finalize)
	_, err = trainer.FinalizeReview(ctx, true, yes)
	require.ErrorIs(t, err, ErrNotReady)

	for _, op := range trainer.State().Operations {
		_, err := trainer.MarkAsCorrect(ctx, op.ID)
		require.NoError(t, err)
	}
	assert.True(t, trainer.CanFinalize())
	assert.True(t, trainer.State().Actions.Finalize)

	decided, err := trainer.FinalizeReview(ctx, true, yes)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, decided.Status)
	assert.True(t, trainer.Terminal())
	assert.False(t, trainer.State().Actions.Finalize)
}

func TestFinalizeNeedsConfirmation(t *testing.T) {
	b := newBackend(t, model.Challenge{ID: 1, OperationsRequired: 1})
	subID := b.SeedSubmission(1, model.StatusPendingReview, nil)
	b.SeedOperation(subID, "A", true, boolPtr(true))
	c := load(t, b, subID)

	before := b.RequestCount()
	_, err := c.FinalizeReview(context.Background(), false, func(string) bool { return false })
	require.ErrorIs(t, err, ErrNotConfirmed)
	_, err = c.FinalizeReview(context.Background(), false, nil)
	require.ErrorIs(t, err, ErrNotConfirmed)
	assert.Equal(t, before, b.RequestCount())

	sub, err := c.FinalizeReview(context.Background(), false, yes)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, sub.Status)
	assert.True(t, sub.Rejected())
}

func TestOverlongDescriptionSendsNothing(t *testing.T) {
	b := newBackend(t, model.Challenge{ID: 1, OperationsRequired: 1})
	subID := b.SeedSubmission(1, model.StatusPendingReview, nil)
	opID := b.SeedOperation(subID, "A", true, nil)
	c := load(t, b, subID)
	before := b.RequestCount()

	_, err := c.ClassifyOperation(context.Background(), opID, true, []model.OperationError{
		{Type: model.ErrorDetail, Description: strings.Repeat("x", 161)},
	})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Contains(t, apperr.UserMessage(err), "160")
	assert.Equal(t, before, b.RequestCount())
	assert.Nil(t, c.State().Operations[0].IsApproved)
}

func TestBatchIsRejectedAsAWhole(t *testing.T) {
	b := newBackend(t, model.Challenge{ID: 1, OperationsRequired: 1})
	subID := b.SeedSubmission(1, model.StatusPendingReview, nil)
	opID := b.SeedOperation(subID, "A", true, nil)
	c := load(t, b, subID)
	before := b.RequestCount()

	_, err := c.ClassifyOperation(context.Background(), opID, true, []model.OperationError{
		{Type: model.ErrorDetail, Description: "wrong amount"},
		{Type: model.ErrorProcedure, Description: "   "},
	})
	require.Error(t, err)
	assert.Equal(t, "Error 2: description is required.", apperr.UserMessage(err))

	_, err = c.ClassifyOperation(context.Background(), opID, true, nil)
	require.ErrorIs(t, err, ErrNoErrors)

	_, err = c.ClassifyOperation(context.Background(), opID, true, []model.OperationError{
		{Type: "TYPO", Description: "x"},
	})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Equal(t, before, b.RequestCount())
}

func TestDescriptionLimitCountsCharacters(t *testing.T) {
	b := newBackend(t, model.Challenge{ID: 1, OperationsRequired: 1})
	subID := b.SeedSubmission(1, model.StatusPendingReview, nil)
	opID := b.SeedOperation(subID, "A", true, nil)
	c := load(t, b, subID)

	op, err := c.ClassifyOperation(context.Background(), opID, true, []model.OperationError{
		{Type: model.ErrorKnowledge, Description: strings.Repeat("é", 160)},
	})
	require.NoError(t, err)
	require.NotNil(t, op.IsApproved)
	assert.False(t, *op.IsApproved)
	assert.True(t, op.HasError)
}

func TestClassificationNeverReturnsToNull(t *testing.T) {
	b := newBackend(t, model.Challenge{ID: 1, OperationsRequired: 3})
	subID := b.SeedSubmission(1, model.StatusPendingReview, nil)
	for _, ref := range []string{"A", "B", "C"} {
		b.SeedOperation(subID, ref, true, nil)
	}
	c := load(t, b, subID)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(11))
	seen := map[int64]bool{}

	for i := 0; i < 30; i++ {
		ops := c.State().Operations
		op := ops[rng.Intn(len(ops))]
		action := rng.Intn(3)
		switch action {
		case 0:
			_, err := c.MarkAsCorrect(ctx, op.ID)
			require.NoError(t, err)
		case 1:
			_, err := c.ClassifyOperation(ctx, op.ID, true, []model.OperationError{{Type: model.ErrorMethodology, Description: "skipped check"}})
			require.NoError(t, err)
		default:
			require.NoError(t, c.Refresh(ctx))
		}
		if action != 2 {
			seen[op.ID] = true
		}
		for _, cur := range c.State().Operations {
			if seen[cur.ID] {
				require.NotNil(t, cur.IsApproved, "operation %d lost its classification", cur.ID)
			}
		}
	}
}

func TestClassifyReloadsSubmission(t *testing.T) {
	b := newBackend(t, model.Challenge{ID: 1, OperationsRequired: 1})
	subID := b.SeedSubmission(1, model.StatusPendingReview, nil)
	opID := b.SeedOperation(subID, "A", true, nil)
	c := load(t, b, subID)
	ctx := context.Background()
	path := "/api/challenges/submissions/" + itoa(subID)
	before := b.CountPath(http.MethodGet, path)

	_, err := c.ClassifyOperation(ctx, opID, true, []model.OperationError{{Type: model.ErrorDetail, Description: "x"}})
	require.NoError(t, err)
	assert.Equal(t, before+1, b.CountPath(http.MethodGet, path))
	assert.Equal(t, 1, c.State().Submission.ErrorsCount)
}

type failingReload struct {
	*api.Client
	fail bool
}

func (f *failingReload) GetSubmission(ctx context.Context, id int64) (model.Submission, error) {
	if f.fail {
		return model.Submission{}, apperr.Transport("connection reset", nil)
	}
	return f.Client.GetSubmission(ctx, id)
}

func TestClassifyKeepsResultWhenReloadFails(t *testing.T) {
	b := newBackend(t, model.Challenge{ID: 1, OperationsRequired: 1})
	subID := b.SeedSubmission(1, model.StatusPendingReview, nil)
	opID := b.SeedOperation(subID, "A", true, nil)
	client := &failingReload{Client: b.Client()}
	c := New(client)
	ctx := context.Background()
	require.NoError(t, c.Load(ctx, subID))

	client.fail = true
	op, err := c.MarkAsCorrect(ctx, opID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reload failed")
	require.NotNil(t, op.IsApproved)
	assert.True(t, *op.IsApproved)
	require.NotNil(t, c.State().Operations[0].IsApproved)
}

func TestUnfinishedOperationCannotBeClassified(t *testing.T) {
	b := newBackend(t, model.Challenge{ID: 1, OperationsRequired: 2})
	subID := b.SeedSubmission(1, model.StatusInProgress, nil)
	opID := b.SeedOperation(subID, "A", false, nil)
	c := load(t, b, subID)
	before := b.RequestCount()

	_, err := c.MarkAsCorrect(context.Background(), opID)
	require.ErrorIs(t, err, ErrOperationOpen)
	_, err = c.MarkAsCorrect(context.Background(), 9999)
	require.ErrorIs(t, err, ErrUnknownOperation)
	assert.Equal(t, before, b.RequestCount())
}

func TestManualModeBypassesGate(t *testing.T) {
	b := newBackend(t, model.Challenge{ID: 1, OperationsRequired: 2, KPIMode: model.KPIManual})
	subID := b.SeedSubmission(1, model.StatusPendingReview, nil)
	b.SeedOperation(subID, "A", true, boolPtr(true))
	b.SeedOperation(subID, "B", true, boolPtr(true))
	c := load(t, b, subID)

	st := c.State()
	assert.True(t, st.CanFinal)
	assert.False(t, st.Actions.Finalize)
	assert.True(t, st.Actions.Manual)

	before := b.RequestCount()
	_, err := c.FinalizeReview(context.Background(), true, yes)
	require.ErrorIs(t, err, ErrManualMode)
	assert.Equal(t, before, b.RequestCount())

	sub, err := c.ManualFinalize(context.Background(), true, "Good judgement on B")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, sub.Status)
	assert.Equal(t, "Good judgement on B", sub.TrainerNotes)
}

func TestManualFinalizeIgnoresUnclassifiedWork(t *testing.T) {
	b := newBackend(t, model.Challenge{ID: 1, OperationsRequired: 5, KPIMode: model.KPIManual})
	subID := b.SeedSubmission(1, model.StatusPendingReview, nil)
	b.SeedOperation(subID, "A", true, nil)
	c := load(t, b, subID)
	require.False(t, c.CanFinalize())

	sub, err := c.ManualFinalize(context.Background(), false, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, sub.Status)

	_, err = c.ManualFinalize(context.Background(), true, "")
	require.ErrorIs(t, err, ErrDecided)
}

func TestManualFinalizeRefusedInAutoMode(t *testing.T) {
	b := newBackend(t, model.Challenge{ID: 1, OperationsRequired: 1})
	subID := b.SeedSubmission(1, model.StatusPendingReview, nil)
	c := load(t, b, subID)
	_, err := c.ManualFinalize(context.Background(), true, "")
	require.ErrorIs(t, err, ErrAutomaticMode)
}

func TestAllowRetryThenStudentRetries(t *testing.T) {
	b := newBackend(t, model.Challenge{ID: 1, OperationsRequired: 1, AllowRetry: true})
	subID := b.SeedSubmission(1, model.StatusCompleted, boolPtr(false))
	b.SeedOperation(subID, "A", true, boolPtr(false))
	c := load(t, b, subID)
	ctx := context.Background()

	require.True(t, c.CanAllowRetry())
	sub, err := c.AllowRetry(ctx)
	require.NoError(t, err)
	assert.True(t, sub.IsRetryAllowed)
	assert.False(t, c.CanAllowRetry())

	before := b.RequestCount()
	_, err = c.AllowRetry(ctx)
	require.ErrorIs(t, err, ErrRetryNotAvailable)
	assert.Equal(t, before, b.RequestCount())

	retry, err := b.Client().StartRetry(ctx, subID)
	require.NoError(t, err)
	assert.NotEqual(t, subID, retry.ID)
	assert.Equal(t, model.StatusInProgress, retry.Status)
}

func TestAllowRetryNeedsChallengePermission(t *testing.T) {
	b := newBackend(t, model.Challenge{ID: 1, OperationsRequired: 1, AllowRetry: false})
	subID := b.SeedSubmission(1, model.StatusRejected, boolPtr(false))
	c := load(t, b, subID)
	assert.False(t, c.CanAllowRetry())
	_, err := c.AllowRetry(context.Background())
	require.ErrorIs(t, err, ErrRetryNotAvailable)
}

func TestPollingPicksUpNewWorkAndStopsWhenDecided(t *testing.T) {
	b := newBackend(t, model.Challenge{ID: 1, OperationsRequired: 2})
	subID := b.SeedSubmission(1, model.StatusInProgress, nil)
	b.SeedOperation(subID, "A", true, nil)
	c := load(t, b, subID)
	require.Len(t, c.State().Operations, 1)

	task := c.StartPolling(context.Background(), 10*time.Millisecond)
	t.Cleanup(task.Stop)

	b.SeedOperation(subID, "B", true, nil)
	require.Eventually(t, func() bool { return len(c.State().Operations) == 2 }, 2*time.Second, 5*time.Millisecond)

	_, err := b.Client().ManualFinalize(context.Background(), subID, false, "")
	require.NoError(t, err)

	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("polling did not stop after a terminal status")
	}
	assert.True(t, c.Terminal())
	settled := b.RequestCount()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, settled, b.RequestCount())
}

func TestPollingSurvivesFailures(t *testing.T) {
	b := newBackend(t, model.Challenge{ID: 1, OperationsRequired: 2})
	subID := b.SeedSubmission(1, model.StatusInProgress, nil)
	c := load(t, b, subID)

	b.FailNext(http.StatusInternalServerError, "boom")
	b.FailNext(http.StatusBadGateway, "")
	task := c.StartPolling(context.Background(), 10*time.Millisecond)
	t.Cleanup(task.Stop)

	b.SeedOperation(subID, "A", true, nil)
	require.Eventually(t, func() bool { return len(c.State().Operations) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestStopEndsPolling(t *testing.T) {
	b := newBackend(t, model.Challenge{ID: 1, OperationsRequired: 2})
	subID := b.SeedSubmission(1, model.StatusInProgress, nil)
	c := load(t, b, subID)

	task := c.StartPolling(context.Background(), 10*time.Millisecond)
	time.Sleep(35 * time.Millisecond)
	task.Stop()
	time.Sleep(20 * time.Millisecond)
	stopped := b.RequestCount()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, stopped, b.RequestCount())
}

// slowLister holds the first armed ListOperations call after it fetched.
type slowLister struct {
	*api.Client
	mu      sync.Mutex
	hold    chan struct{}
	fetched chan struct{}
}

func (s *slowLister) arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hold = make(chan struct{})
	s.fetched = make(chan struct{})
}

func (s *slowLister) ListOperations(ctx context.Context, submissionID int64) ([]model.Operation, error) {
	ops, err := s.Client.ListOperations(ctx, submissionID)
	s.mu.Lock()
	hold, fetched := s.hold, s.fetched
	s.hold, s.fetched = nil, nil
	s.mu.Unlock()
	if hold != nil {
		close(fetched)
		<-hold
	}
	return ops, err
}

func TestStaleRefreshDoesNotOverwriteClassification(t *testing.T) {
	b := newBackend(t, model.Challenge{ID: 1, OperationsRequired: 1})
	subID := b.SeedSubmission(1, model.StatusPendingReview, nil)
	opID := b.SeedOperation(subID, "A", true, nil)
	slow := &slowLister{Client: b.Client()}
	c := New(slow)
	ctx := context.Background()
	require.NoError(t, c.Load(ctx, subID))

	slow.arm()
	hold, fetched := slow.hold, slow.fetched
	done := make(chan error, 1)
	go func() { done <- c.Refresh(ctx) }()
	<-fetched

	_, err := c.MarkAsCorrect(ctx, opID)
	require.NoError(t, err)
	close(hold)
	require.NoError(t, <-done)

	op := c.State().Operations[0]
	require.NotNil(t, op.IsApproved)
	assert.True(t, *op.IsApproved)
}

func TestSummarySubmissionFlow(t *testing.T) {
	b := newBackend(t, model.Challenge{ID: 2, Type: model.ChallengeSummary, OperationsRequired: 20})
	ctx := context.Background()
	client := b.Client()

	before := b.RequestCount()
	_, err := SubmitSummary(ctx, client, 2, api.SummaryReport{
		StudentID:       5,
		TotalOperations: 20,
		Errors:          []api.SummaryReportError{{Type: model.ErrorDetail, Description: strings.Repeat("y", 161)}},
	})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	_, err = SubmitSummary(ctx, client, 2, api.SummaryReport{TotalOperations: 20})
	require.Error(t, err)
	assert.Equal(t, before, b.RequestCount())

	sub, err := SubmitSummary(ctx, client, 2, api.SummaryReport{
		StudentID:        5,
		TotalOperations:  20,
		TotalTimeMinutes: 45,
		Errors: []api.SummaryReportError{
			{Type: model.ErrorDetail, Description: "wrong IBAN", OperationReference: "OP-3"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, model.ChallengeSummary, sub.Kind())
	assert.Equal(t, 1, sub.ErrorsCount)

	c := load(t, b, sub.ID)
	st := c.State()
	assert.True(t, st.CanFinal)
	assert.False(t, st.Actions.Classify)
	assert.True(t, st.Actions.Finalize)
	assert.Zero(t, b.CountPath(http.MethodGet, "/api/challenges/submissions/"+itoa(sub.ID)+"/operations"))

	_, err = c.MarkAsCorrect(ctx, 1)
	require.ErrorIs(t, err, ErrNotClassifiable)

	decided, err := c.FinalizeReview(ctx, true, yes)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, decided.Status)
}

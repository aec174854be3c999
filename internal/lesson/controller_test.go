package lesson

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marceloligiero/tradehub/internal/api"
	"github.com/marceloligiero/tradehub/internal/apperr"
	"github.com/marceloligiero/tradehub/internal/model"
	"github.com/marceloligiero/tradehub/internal/testkit"
)

var (
	trainer = model.User{ID: 50, Name: "Trainer", Role: model.RoleTrainer}
	student = model.User{ID: 7, Name: "Student", Role: model.RoleStudent}
	other   = model.User{ID: 8, Name: "Other", Role: model.RoleStudent}
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)}
}

func TestStudentDrivenLessonLifecycle(t *testing.T) {
	b := testkit.NewBackend(t)
	id := b.SeedLesson(3, student.ID, "Payments basics", model.RoleStudent, 1, model.LessonReleased)
	clock := newClock()
	ctx := context.Background()

	s := New(b.Client(), student, WithClock(clock.Now))
	require.NoError(t, s.Load(ctx, id))
	assert.Equal(t, []api.LessonAction{api.LessonStart}, s.Available())

	_, err := s.Apply(ctx, api.LessonStart)
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.Elapsed())
	clock.Advance(3 * time.Second)
	assert.Equal(t, int64(3), s.Elapsed())

	b.Advance(40 * time.Second)
	p, err := s.Apply(ctx, api.LessonPause)
	require.NoError(t, err)
	assert.True(t, p.IsPaused)
	assert.Equal(t, int64(40), s.Elapsed())
	clock.Advance(time.Minute)
	assert.Equal(t, int64(40), s.Elapsed(), "paused lessons stay frozen")

	_, err = s.Apply(ctx, api.LessonResume)
	require.NoError(t, err)
	b.Advance(30 * time.Second)
	require.NoError(t, s.Refresh(ctx))
	assert.Equal(t, int64(70), s.Elapsed())
	assert.True(t, s.Delayed())

	_, err = s.Apply(ctx, api.LessonFinish)
	require.NoError(t, err)
	_, err = s.Apply(ctx, api.LessonConfirm)
	require.NoError(t, err)
	assert.False(t, s.Done())

	before := b.RequestCount()
	_, err = s.Apply(ctx, api.LessonApprove)
	require.ErrorIs(t, err, ErrTrainerOnly)
	assert.Equal(t, before, b.RequestCount())

	tr := New(b.Client(), trainer)
	require.NoError(t, tr.Load(ctx, id))
	assert.Equal(t, []api.LessonAction{api.LessonApprove}, tr.Available())
	_, err = tr.Apply(ctx, api.LessonApprove)
	require.NoError(t, err)
	assert.True(t, tr.Done())
}

func TestActorRulesSendNothing(t *testing.T) {
	b := testkit.NewBackend(t)
	id := b.SeedLesson(3, student.ID, "Swaps", model.RoleTrainer, 30, model.LessonReleased)
	ctx := context.Background()

	s := New(b.Client(), student)
	require.NoError(t, s.Load(ctx, id))
	before := b.RequestCount()
	_, err := s.Apply(ctx, api.LessonStart)
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Equal(t, before, b.RequestCount())
	assert.Empty(t, s.Available())

	o := New(b.Client(), other)
	require.NoError(t, o.Load(ctx, id))
	before = b.RequestCount()
	_, err = o.Apply(ctx, api.LessonConfirm)
	require.Error(t, err)
	assert.Equal(t, before, b.RequestCount())

	tr := New(b.Client(), trainer)
	require.NoError(t, tr.Load(ctx, id))
	_, err = tr.Apply(ctx, api.LessonFinish)
	require.Error(t, err)
	_, err = tr.Apply(ctx, api.LessonStart)
	require.NoError(t, err)
	assert.ElementsMatch(t, []api.LessonAction{api.LessonPause, api.LessonFinish}, tr.Available())
}

func TestReleaseIsTrainerOnly(t *testing.T) {
	b := testkit.NewBackend(t)
	ctx := context.Background()

	s := New(b.Client(), student)
	_, err := s.Release(ctx, 9, student.ID)
	require.ErrorIs(t, err, ErrTrainerOnly)
	assert.Zero(t, b.RequestCount())

	tr := New(b.Client(), trainer)
	p, err := tr.Release(ctx, 9, student.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LessonReleased, p.Status)
	assert.Equal(t, student.ID, p.StudentID)
}

func TestApplyBeforeLoad(t *testing.T) {
	b := testkit.NewBackend(t)
	c := New(b.Client(), trainer)
	_, err := c.Apply(context.Background(), api.LessonStart)
	require.ErrorIs(t, err, ErrNotLoaded)
	require.ErrorIs(t, c.Refresh(context.Background()), ErrNotLoaded)
}

func TestPollingStopsWhenDone(t *testing.T) {
	b := testkit.NewBackend(t)
	id := b.SeedLesson(3, student.ID, "FX", model.RoleTrainer, 10, model.LessonReleased)
	ctx := context.Background()

	watcher := New(b.Client(), student)
	require.NoError(t, watcher.Load(ctx, id))
	task := watcher.StartPolling(ctx, 10*time.Millisecond)
	t.Cleanup(task.Stop)

	tr := New(b.Client(), trainer)
	require.NoError(t, tr.Load(ctx, id))
	_, err := tr.Apply(ctx, api.LessonStart)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return watcher.Progress().Status == model.LessonInProgress }, 2*time.Second, 5*time.Millisecond)

	_, err = tr.Apply(ctx, api.LessonFinish)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return watcher.Progress().Status == model.LessonCompleted }, 2*time.Second, 5*time.Millisecond)

	_, err = watcher.Apply(ctx, api.LessonConfirm)
	require.NoError(t, err)
	require.NoError(t, tr.Refresh(ctx))
	_, err = tr.Apply(ctx, api.LessonApprove)
	require.NoError(t, err)

	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("polling did not stop once the lesson was done")
	}
	assert.True(t, watcher.Done())
}

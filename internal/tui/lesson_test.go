package tui

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marceloligiero/tradehub/internal/lesson"
	"github.com/marceloligiero/tradehub/internal/model"
	"github.com/marceloligiero/tradehub/internal/testkit"
)

func TestLessonScreen(t *testing.T) {
	b := testkit.NewBackend(t)
	id := b.SeedLesson(3, 7, "Payments basics", model.RoleTrainer, 30, model.LessonReleased)
	trainer := model.User{ID: 50, Name: "Trainer", Role: model.RoleTrainer}
	ctrl := lesson.New(b.Client(), trainer)
	require.NoError(t, ctrl.Load(context.Background(), id))

	m := NewLessonModel(context.Background(), ctrl)
	m.Update(tea.WindowSizeMsg{Width: 80, Height: 20})
	view := m.View()
	assert.Contains(t, view, "Payments basics")
	assert.Contains(t, view, "s: start")
	assert.Contains(t, view, "Estimate 30 min")

	press(m, "s")
	require.Empty(t, m.errMsg)
	assert.Equal(t, "Lesson started.", m.status)
	view = m.View()
	assert.Contains(t, view, "IN_PROGRESS")
	assert.Contains(t, view, "p: pause")
	assert.NotContains(t, view, "s: start")

	before := b.RequestCount()
	press(m, "c")
	assert.Equal(t, before, b.RequestCount())
	assert.Equal(t, "Only the student can confirm the lesson.", m.errMsg)

	press(m, "p")
	require.Empty(t, m.errMsg)
	assert.Contains(t, m.View(), "Paused")
}

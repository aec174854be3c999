package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/marceloligiero/tradehub/internal/api"
	"github.com/marceloligiero/tradehub/internal/lesson"
	"github.com/marceloligiero/tradehub/internal/stats"
)

var lessonKeys = map[api.LessonAction]key.Binding{
	api.LessonStart:   key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "start")),
	api.LessonPause:   key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pause")),
	api.LessonResume:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "resume")),
	api.LessonFinish:  key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "finish")),
	api.LessonConfirm: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "confirm")),
	api.LessonApprove: key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "approve")),
}

var lessonQuit = key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "quit"))

// LessonModel shows a live lesson clock and the actions the user may take.
type LessonModel struct {
	ctx  context.Context
	ctrl *lesson.Controller

	width  int
	height int

	spinner spinner.Model
	working int
	outcome
}

// NewLessonModel wraps a loaded controller.
func NewLessonModel(ctx context.Context, ctrl *lesson.Controller) *LessonModel {
	return &LessonModel{
		ctx:     ctx,
		ctrl:    ctrl,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
}

// Err returns the error that ended the program, if any.
func (m *LessonModel) Err() error {
	return m.fatal
}

// Init implements tea.Model.
func (m *LessonModel) Init() tea.Cmd {
	return tick()
}

// Update implements tea.Model.
func (m *LessonModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tickMsg:
		return m, tick()
	case spinner.TickMsg:
		if m.working == 0 {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case actionMsg:
		m.working = max(0, m.working-1)
		return m, m.outcome.apply(msg)
	case tea.KeyMsg:
		if key.Matches(msg, lessonQuit) {
			return m, tea.Quit
		}
		for _, action := range lesson.Actions {
			if !key.Matches(msg, lessonKeys[action]) {
				continue
			}
			m.working++
			ctx := m.ctx
			return m, tea.Batch(func() tea.Msg {
				_, err := m.ctrl.Apply(ctx, action)
				return actionMsg{label: "Lesson " + actionPast(action) + ".", err: err}
			}, m.spinner.Tick)
		}
	}
	return m, nil
}

func actionPast(a api.LessonAction) string {
	switch a {
	case api.LessonStart:
		return "started"
	case api.LessonPause:
		return "paused"
	case api.LessonResume:
		return "resumed"
	case api.LessonFinish:
		return "finished"
	case api.LessonConfirm:
		return "confirmed"
	case api.LessonApprove:
		return "approved"
	}
	return string(a)
}

// View implements tea.Model.
func (m *LessonModel) View() string {
	p := m.ctrl.Progress()
	header := titleStyle.Render(p.LessonTitle) + "\n" + headerStyle.Render(string(p.Status))

	clock := clockStyle
	if m.ctrl.Delayed() {
		clock = delayedStyle
	}
	body := []string{cardStyle.Render(clock.Render(stats.FormatClock(m.ctrl.Elapsed())))}
	if p.EstimatedMinutes > 0 {
		body = append(body, mutedStyle.Render(fmt.Sprintf("Estimate %d min", p.EstimatedMinutes)))
	}
	if p.IsPaused {
		body = append(body, accentStyle.Render("Paused"))
	}
	var flags []string
	if p.StudentConfirmed {
		flags = append(flags, "confirmed by student")
	}
	if p.IsApproved {
		flags = append(flags, "approved")
	}
	if len(flags) > 0 {
		body = append(body, okStyle.Render(strings.Join(flags, ", ")))
	}

	var help []string
	for _, a := range m.ctrl.Available() {
		h := lessonKeys[a].Help()
		help = append(help, h.Key+": "+h.Desc)
	}
	help = append(help, "q: quit")
	line := m.outcome.render()
	if m.working > 0 {
		line = m.spinner.View() + " working"
	}
	footer := footerStyle.Render(strings.Join(help, "  ")) + "\n" + line
	return screen(m.width, m.height, header, strings.Join(body, "\n"), footer)
}

// Package tui provides the Bubble Tea screens of the training client.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/marceloligiero/tradehub/internal/execution"
	"github.com/marceloligiero/tradehub/internal/model"
	"github.com/marceloligiero/tradehub/internal/stats"
	"github.com/marceloligiero/tradehub/internal/timer"
)

const historyRows = 8

type executionKeys struct {
	Start  key.Binding
	Submit key.Binding
	Retry  key.Binding
	Reload key.Binding
	Quit   key.Binding
	Yes    key.Binding
	No     key.Binding
}

var defaultExecutionKeys = executionKeys{
	Start:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "start/finish")),
	Submit: key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "submit")),
	Retry:  key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "retry")),
	Reload: key.NewBinding(key.WithKeys("ctrl+l"), key.WithHelp("ctrl+l", "reload")),
	Quit:   key.NewBinding(key.WithKeys("ctrl+c", "esc"), key.WithHelp("esc", "quit")),
	Yes:    key.NewBinding(key.WithKeys("y", "Y")),
	No:     key.NewBinding(key.WithKeys("n", "N", "esc")),
}

// ExecutionModel is the student's screen for one challenge attempt.
type ExecutionModel struct {
	ctx   context.Context
	ctrl  *execution.Controller
	clock func() time.Time
	keys  executionKeys

	width  int
	height int

	input      textinput.Model
	spinner    spinner.Model
	working    int
	confirming bool
	outcome
}

// ExecutionOption configures an ExecutionModel.
type ExecutionOption func(*ExecutionModel)

// WithExecutionClock overrides the clock of the elapsed display.
func WithExecutionClock(now func() time.Time) ExecutionOption {
	return func(m *ExecutionModel) { m.clock = now }
}

// NewExecutionModel wraps a loaded controller.
func NewExecutionModel(ctx context.Context, ctrl *execution.Controller, opts ...ExecutionOption) *ExecutionModel {
	input := textinput.New()
	input.Prompt = "Reference: "
	input.Placeholder = "operation reference"
	input.CharLimit = 120
	input.Cursor.SetMode(cursor.CursorBlink)
	m := &ExecutionModel{
		ctx:     ctx,
		ctrl:    ctrl,
		clock:   time.Now,
		keys:    defaultExecutionKeys,
		input:   input,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.input.Focus()
	return m
}

// Err returns the error that ended the program, if any.
func (m *ExecutionModel) Err() error {
	return m.fatal
}

// Init implements tea.Model.
func (m *ExecutionModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tick())
}

// Update implements tea.Model.
func (m *ExecutionModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(10, msg.Width-len(m.input.Prompt)-2)
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
		if msg.err == nil {
			m.syncInput()
		}
		return m, m.outcome.apply(msg)
	case tea.KeyMsg:
		if m.confirming {
			return m.updateConfirm(msg)
		}
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Start):
			if _, open := m.ctrl.State().Open(); open {
				return m, m.do("Operation finished.", func(ctx context.Context) error {
					_, err := m.ctrl.FinishOperation(ctx)
					return err
				})
			}
			ref := m.input.Value()
			return m, m.do("Operation started.", func(ctx context.Context) error {
				_, err := m.ctrl.StartOperation(ctx, ref)
				return err
			})
		case key.Matches(msg, m.keys.Submit):
			if !m.ctrl.State().CanSubmit() {
				m.outcome.apply(actionMsg{err: execution.ErrNotReady})
				return m, nil
			}
			m.confirming = true
			return m, nil
		case key.Matches(msg, m.keys.Retry):
			return m, m.do("Retry started.", func(ctx context.Context) error {
				_, err := m.ctrl.StartRetry(ctx)
				return err
			})
		case key.Matches(msg, m.keys.Reload):
			return m, m.do("Reloaded.", m.ctrl.Refresh)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *ExecutionModel) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Yes):
		m.confirming = false
		return m, m.do("Submitted for review.", func(ctx context.Context) error {
			_, err := m.ctrl.SubmitForReview(ctx, func(string) bool { return true })
			return err
		})
	case key.Matches(msg, m.keys.No):
		m.confirming = false
		m.outcome.apply(actionMsg{err: execution.ErrNotConfirmed})
	}
	return m, nil
}

// do runs fn off the update loop and reports back with an actionMsg.
func (m *ExecutionModel) do(label string, fn func(context.Context) error) tea.Cmd {
	m.working++
	ctx := m.ctx
	return tea.Batch(func() tea.Msg {
		return actionMsg{label: label, err: fn(ctx)}
	}, m.spinner.Tick)
}

// syncInput clears the reference once an operation is running.
func (m *ExecutionModel) syncInput() {
	if _, open := m.ctrl.State().Open(); open {
		m.input.Reset()
		m.input.Blur()
		return
	}
	m.input.Focus()
}

// View implements tea.Model.
func (m *ExecutionModel) View() string {
	if m.confirming {
		st := m.ctrl.State()
		return renderModal(m.width, m.height, []string{
			titleStyle.Render("Submit for review?"),
			fmt.Sprintf("%d of %d operations completed.", st.Progress.Completed, st.Challenge.OperationsRequired),
			"You cannot add operations afterwards.",
			headerStyle.Render("y: submit  n: cancel"),
		})
	}
	return screen(m.width, m.height, m.renderHeader(), m.renderBody(), m.renderFooter())
}

func (m *ExecutionModel) renderHeader() string {
	st := m.ctrl.State()
	status := "not started"
	if st.Submission != nil {
		status = string(st.Submission.Status)
		if st.Submission.RetryCount > 0 {
			status += fmt.Sprintf(" (retry %d)", st.Submission.RetryCount)
		}
	}
	title := titleStyle.Render(st.Challenge.Title) + "  " + mutedStyle.Render(status)
	p := st.Progress
	progress := fmt.Sprintf("Operations %d/%d  %.0f%%  remaining %d", p.Completed, p.Required, p.Percent, p.Remaining)
	if st.Challenge.TimeLimitMinutes > 0 {
		progress += fmt.Sprintf("  limit %d min", st.Challenge.TimeLimitMinutes)
	}
	return title + "\n" + headerStyle.Render(progress)
}

func (m *ExecutionModel) renderBody() string {
	st := m.ctrl.State()
	now := m.clock()
	var lines []string
	if op, open := st.Open(); open {
		elapsed, _ := m.ctrl.Elapsed(now)
		current := fmt.Sprintf("Operation #%d  %s", op.Number, op.Reference)
		lines = append(lines,
			cardStyle.Render(accentStyle.Render(current)+"  "+clockStyle.Render(stats.FormatClock(elapsed))),
			mutedStyle.Render("enter to finish"),
		)
	} else if st.Submission != nil && st.Submission.Status != model.StatusInProgress {
		lines = append(lines, mutedStyle.Render("This attempt is "+strings.ToLower(string(st.Submission.Status))+"."))
	} else if p := st.Progress; !p.CanAddMore {
		lines = append(lines, okStyle.Render("All operations done. ctrl+s to submit."))
	} else {
		lines = append(lines, m.input.View())
	}

	ops := st.Operations
	if len(ops) > historyRows {
		ops = ops[len(ops)-historyRows:]
	}
	if len(ops) > 0 {
		lines = append(lines, "")
	}
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		row := fmt.Sprintf("%3d  %-24s %8s  %s",
			op.Number,
			truncateLine(op.Reference, 24),
			stats.FormatClock(timer.OperationElapsed(op, now)),
			stats.OperationLabel(op))
		lines = append(lines, truncateLine(row, m.width))
	}
	return strings.Join(lines, "\n")
}

func (m *ExecutionModel) renderFooter() string {
	help := "enter: start/finish  ctrl+s: submit  ctrl+r: retry  ctrl+l: reload  esc: quit"
	line := m.outcome.render()
	if m.working > 0 {
		line = m.spinner.View() + " working"
	}
	return footerStyle.Render(help) + "\n" + line
}

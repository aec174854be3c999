package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/marceloligiero/tradehub/internal/model"
	"github.com/marceloligiero/tradehub/internal/review"
	"github.com/marceloligiero/tradehub/internal/stats"
	"github.com/marceloligiero/tradehub/internal/timer"
)

type reviewMode int

const (
	modeBrowse reviewMode = iota
	modeClassify
	modeConfirm
	modeNotes
)

type reviewKeys struct {
	Correct    key.Binding
	Classify   key.Binding
	Approve    key.Binding
	Reject     key.Binding
	AllowRetry key.Binding
	Reload     key.Binding
	Quit       key.Binding
	NextType   key.Binding
	AddError   key.Binding
	DropError  key.Binding
	Send       key.Binding
	Cancel     key.Binding
	Yes        key.Binding
}

var defaultReviewKeys = reviewKeys{
	Correct:    key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "correct")),
	Classify:   key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "errors")),
	Approve:    key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "approve")),
	Reject:     key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reject")),
	AllowRetry: key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "allow retry")),
	Reload:     key.NewBinding(key.WithKeys("ctrl+l"), key.WithHelp("ctrl+l", "reload")),
	Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	NextType:   key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "type")),
	AddError:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "add")),
	DropError:  key.NewBinding(key.WithKeys("ctrl+d"), key.WithHelp("ctrl+d", "drop last")),
	Send:       key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "save")),
	Cancel:     key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
	Yes:        key.NewBinding(key.WithKeys("y", "Y")),
}

// ReviewModel is the trainer's screen for one submission. Polling runs in
// the controller; the screen re-reads its state on every tick.
type ReviewModel struct {
	ctx   context.Context
	ctrl  *review.Controller
	clock func() time.Time
	keys  reviewKeys

	width  int
	height int

	table   table.Model
	spinner spinner.Model
	working int
	mode    reviewMode

	classifyID int64
	errs       []model.OperationError
	typeIdx    int
	desc       textinput.Model

	approve bool
	notes   textinput.Model
	outcome
}

// NewReviewModel wraps a loaded controller.
func NewReviewModel(ctx context.Context, ctrl *review.Controller) *ReviewModel {
	desc := textinput.New()
	desc.Prompt = "Description: "
	notes := textinput.New()
	notes.Prompt = "Notes: "
	notes.Placeholder = "optional"
	m := &ReviewModel{
		ctx:     ctx,
		ctrl:    ctrl,
		clock:   time.Now,
		keys:    defaultReviewKeys,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		desc:    desc,
		notes:   notes,
		table: table.New(
			table.WithColumns(operationColumns()),
			table.WithFocused(true),
			table.WithHeight(10),
		),
	}
	m.table.SetStyles(tableStyles())
	m.syncTable()
	return m
}

// Err returns the error that ended the program, if any.
func (m *ReviewModel) Err() error {
	return m.fatal
}

// Init implements tea.Model.
func (m *ReviewModel) Init() tea.Cmd {
	return tick()
}

func operationColumns() []table.Column {
	return []table.Column{
		{Title: "#", Width: 4},
		{Title: "Reference", Width: 24},
		{Title: "Time", Width: 8},
		{Title: "State", Width: 8},
		{Title: "Errors", Width: 40},
	}
}

func (m *ReviewModel) syncTable() {
	st := m.ctrl.State()
	now := m.clock()
	rows := make([]table.Row, 0, len(st.Operations))
	for _, op := range st.Operations {
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", op.Number),
			op.Reference,
			stats.FormatClock(timer.OperationElapsed(op, now)),
			stats.OperationLabel(op),
			errorSummary(op.Errors),
		})
	}
	m.table.SetRows(rows)
}

func errorSummary(errs []model.OperationError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, string(e.Type)+": "+e.Description)
	}
	return strings.Join(parts, "; ")
}

func (m *ReviewModel) selected() (model.Operation, bool) {
	ops := m.ctrl.State().Operations
	i := m.table.Cursor()
	if i < 0 || i >= len(ops) {
		return model.Operation{}, false
	}
	return ops[i], true
}

// Update implements tea.Model.
func (m *ReviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(msg.Width)
		m.table.SetHeight(max(3, msg.Height-8))
		m.desc.Width = max(10, modalInnerWidth(msg.Width)-len(m.desc.Prompt))
		m.notes.Width = m.desc.Width
		return m, nil
	case tickMsg:
		m.syncTable()
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
		m.syncTable()
		return m, m.outcome.apply(msg)
	case tea.KeyMsg:
		switch m.mode {
		case modeClassify:
			return m.updateClassify(msg)
		case modeConfirm:
			return m.updateConfirm(msg)
		case modeNotes:
			return m.updateNotes(msg)
		}
		return m.updateBrowse(msg)
	}
	return m, nil
}

func (m *ReviewModel) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Correct):
		op, ok := m.selected()
		if !ok {
			return m, nil
		}
		return m, m.do(fmt.Sprintf("Operation %d marked correct.", op.Number), func(ctx context.Context) error {
			_, err := m.ctrl.MarkAsCorrect(ctx, op.ID)
			return err
		})
	case key.Matches(msg, m.keys.Classify):
		op, ok := m.selected()
		if !ok {
			return m, nil
		}
		m.mode = modeClassify
		m.classifyID = op.ID
		m.errs = append([]model.OperationError(nil), op.Errors...)
		m.typeIdx = 0
		m.desc.Reset()
		return m, m.desc.Focus()
	case key.Matches(msg, m.keys.Approve), key.Matches(msg, m.keys.Reject):
		return m.startDecision(key.Matches(msg, m.keys.Approve))
	case key.Matches(msg, m.keys.AllowRetry):
		return m, m.do("Retry allowed.", func(ctx context.Context) error {
			_, err := m.ctrl.AllowRetry(ctx)
			return err
		})
	case key.Matches(msg, m.keys.Reload):
		return m, m.do("Reloaded.", m.ctrl.Refresh)
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// startDecision opens the prompt matching the grading mode: notes for
// manual challenges, a confirmation for automatic ones.
func (m *ReviewModel) startDecision(approve bool) (tea.Model, tea.Cmd) {
	st := m.ctrl.State()
	m.approve = approve
	switch {
	case st.Actions.Manual:
		m.mode = modeNotes
		m.notes.Reset()
		return m, m.notes.Focus()
	case st.Actions.Finalize:
		m.mode = modeConfirm
		return m, nil
	case st.Submission.Status.Terminal():
		m.outcome.apply(actionMsg{err: review.ErrDecided})
	default:
		m.outcome.apply(actionMsg{err: review.ErrNotReady})
	}
	return m, nil
}

func (m *ReviewModel) updateClassify(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Cancel):
		m.mode = modeBrowse
		m.desc.Blur()
		return m, nil
	case key.Matches(msg, m.keys.NextType):
		m.typeIdx = (m.typeIdx + 1) % len(model.ErrorTypes)
		return m, nil
	case key.Matches(msg, m.keys.AddError):
		m.errs = append(m.errs, model.OperationError{
			Type:        model.ErrorTypes[m.typeIdx],
			Description: m.desc.Value(),
		})
		m.desc.Reset()
		return m, nil
	case key.Matches(msg, m.keys.DropError):
		if len(m.errs) > 0 {
			m.errs = m.errs[:len(m.errs)-1]
		}
		return m, nil
	case key.Matches(msg, m.keys.Send):
		m.mode = modeBrowse
		m.desc.Blur()
		id, errs := m.classifyID, append([]model.OperationError(nil), m.errs...)
		return m, m.do("Classification saved.", func(ctx context.Context) error {
			_, err := m.ctrl.ClassifyOperation(ctx, id, true, errs)
			return err
		})
	}
	var cmd tea.Cmd
	m.desc, cmd = m.desc.Update(msg)
	return m, cmd
}

func (m *ReviewModel) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.mode = modeBrowse
	if !key.Matches(msg, m.keys.Yes) {
		m.outcome.apply(actionMsg{err: review.ErrNotConfirmed})
		return m, nil
	}
	approve := m.approve
	return m, m.do(decisionLabel(approve), func(ctx context.Context) error {
		_, err := m.ctrl.FinalizeReview(ctx, approve, func(string) bool { return true })
		return err
	})
}

func (m *ReviewModel) updateNotes(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Cancel):
		m.mode = modeBrowse
		m.notes.Blur()
		return m, nil
	case msg.Type == tea.KeyEnter:
		m.mode = modeBrowse
		m.notes.Blur()
		approve, notes := m.approve, m.notes.Value()
		return m, m.do(decisionLabel(approve), func(ctx context.Context) error {
			_, err := m.ctrl.ManualFinalize(ctx, approve, notes)
			return err
		})
	}
	var cmd tea.Cmd
	m.notes, cmd = m.notes.Update(msg)
	return m, cmd
}

func decisionLabel(approve bool) string {
	if approve {
		return "Submission approved."
	}
	return "Submission rejected."
}

func (m *ReviewModel) do(label string, fn func(context.Context) error) tea.Cmd {
	m.working++
	ctx := m.ctx
	return tea.Batch(func() tea.Msg {
		return actionMsg{label: label, err: fn(ctx)}
	}, m.spinner.Tick)
}

// View implements tea.Model.
func (m *ReviewModel) View() string {
	switch m.mode {
	case modeClassify:
		return m.renderClassify()
	case modeConfirm:
		verb := "Reject"
		if m.approve {
			verb = "Approve"
		}
		return renderModal(m.width, m.height, []string{
			titleStyle.Render(verb + " this submission?"),
			"The decision is final.",
			headerStyle.Render("y: confirm  any other key: cancel"),
		})
	case modeNotes:
		verb := "Reject"
		if m.approve {
			verb = "Approve"
		}
		return renderModal(m.width, m.height, []string{
			titleStyle.Render(verb + " (manual grading)"),
			m.notes.View(),
			headerStyle.Render("enter: confirm  esc: cancel"),
		})
	}
	return screen(m.width, m.height, m.renderHeader(), m.table.View(), m.renderFooter())
}

func (m *ReviewModel) renderHeader() string {
	st := m.ctrl.State()
	sub := st.Submission
	title := fmt.Sprintf("%s  submission %d", st.Challenge.Title, sub.ID)
	if sub.StudentName != "" {
		title += "  " + sub.StudentName
	}
	metrics := stats.SubmissionMetrics(st.Operations, m.clock())
	gate := "not ready"
	if st.CanFinal {
		gate = "ready"
	}
	mode := "auto"
	if st.Challenge.Manual() {
		mode = "manual"
	}
	line := fmt.Sprintf("%s  %d/%d completed  %d unclassified  MPU %.2f  %s grading, %s",
		sub.Status, metrics.Completed, st.Challenge.OperationsRequired, metrics.Unclassified, metrics.MPU, mode, gate)
	return titleStyle.Render(truncateLine(title, m.width)) + "\n" + headerStyle.Render(truncateLine(line, m.width))
}

func (m *ReviewModel) renderFooter() string {
	a := m.ctrl.State().Actions
	parts := []string{"up/down: select"}
	if a.Classify {
		parts = append(parts, "m: correct", "c: errors")
	}
	if a.Finalize || a.Manual {
		parts = append(parts, "a: approve", "r: reject")
	}
	if a.AllowRetry {
		parts = append(parts, "t: allow retry")
	}
	parts = append(parts, "q: quit")
	line := m.outcome.render()
	if m.working > 0 {
		line = m.spinner.View() + " working"
	}
	return footerStyle.Render(strings.Join(parts, "  ")) + "\n" + line
}

func (m *ReviewModel) renderClassify() string {
	lines := []string{titleStyle.Render("Classify errors")}
	for i, e := range m.errs {
		lines = append(lines, fmt.Sprintf("%d. %s: %s", i+1, e.Type, truncateLine(e.Description, modalInnerWidth(m.width)-16)))
	}
	if len(m.errs) == 0 {
		lines = append(lines, mutedStyle.Render("No errors yet."))
	}
	lines = append(lines,
		"",
		"Type: "+accentStyle.Render(string(model.ErrorTypes[m.typeIdx])),
		m.desc.View(),
		headerStyle.Render("tab: type  enter: add  ctrl+d: drop last  ctrl+s: save  esc: cancel"),
	)
	if line := m.outcome.render(); line != "" {
		lines = append(lines, line)
	}
	return renderModal(m.width, m.height, lines)
}

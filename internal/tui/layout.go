package tui

import (
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/marceloligiero/tradehub/internal/apperr"
)

// tickMsg drives the once-per-second clock re-render.
type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// actionMsg reports the outcome of a request issued from a key press.
type actionMsg struct {
	label string
	err   error
}

// outcome is what every screen shows below its body: the last action
// result, or the error that stopped the program.
type outcome struct {
	status string
	errMsg string
	fatal  error
}

// apply records an action result. Session errors end the program.
func (o *outcome) apply(msg actionMsg) tea.Cmd {
	if msg.err == nil {
		o.status = msg.label
		o.errMsg = ""
		return nil
	}
	o.status = ""
	if apperr.IsSession(msg.err) {
		o.fatal = msg.err
		return tea.Quit
	}
	o.errMsg = apperr.UserMessage(msg.err)
	return nil
}

func (o outcome) render() string {
	switch {
	case o.errMsg != "":
		return errorStyle.Render(o.errMsg)
	case o.status != "":
		return okStyle.Render(o.status)
	}
	return ""
}

func padLine(line string, width int) string {
	lineWidth := lipgloss.Width(line)
	if lineWidth < width {
		return line + strings.Repeat(" ", width-lineWidth)
	}
	return line
}

func fitLines(s string, width, height int) string {
	if width <= 0 || height <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = padLine(line, width)
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}
	return strings.Join(lines, "\n")
}

func truncateLine(s string, width int) string {
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "...")
}

func modalWidth(width int) int {
	return max(40, min(width-4, 80))
}

func modalInnerWidth(width int) int {
	w := modalWidth(width)
	w -= 6 // 2 border + 4 padding
	if w < 10 {
		return 10
	}
	return w
}

func renderModal(width, height int, lines []string) string {
	box := modalStyle.Width(modalWidth(width)).Render(strings.Join(lines, "\n"))
	if width <= 0 || height <= 0 {
		return box
	}
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, box)
}

// screen joins header, body and footer into exactly height lines.
func screen(width, height int, header, body, footer string) string {
	if width <= 0 || height <= 0 {
		return strings.Join([]string{header, body, footer}, "\n")
	}
	headerHeight := lipgloss.Height(header)
	footerHeight := lipgloss.Height(footer)
	bodyHeight := max(1, height-headerHeight-footerHeight)
	return strings.Join([]string{
		fitLines(header, width, headerHeight),
		fitLines(body, width, bodyHeight),
		fitLines(footer, width, footerHeight),
	}, "\n")
}

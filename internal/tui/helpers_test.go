package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "ctrl+s":
		return tea.KeyMsg{Type: tea.KeyCtrlS}
	case "ctrl+r":
		return tea.KeyMsg{Type: tea.KeyCtrlR}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// send delivers a key and drops the returned command.
func send(m tea.Model, s string) tea.Model {
	next, _ := m.Update(keyMsg(s))
	return next
}

// press delivers a key, runs the returned command and feeds action results
// back into the model, the way the Bubble Tea runtime would.
func press(m tea.Model, s string) (tea.Model, tea.Cmd) {
	next, cmd := m.Update(keyMsg(s))
	var last tea.Cmd
	for _, msg := range collect(cmd) {
		if a, ok := msg.(actionMsg); ok {
			next, last = next.Update(a)
		}
	}
	return next, last
}

func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	batch, ok := msg.(tea.BatchMsg)
	if !ok {
		return []tea.Msg{msg}
	}
	var out []tea.Msg
	for _, c := range batch {
		out = append(out, collect(c)...)
	}
	return out
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

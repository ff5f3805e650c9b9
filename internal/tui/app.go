// Package tui is the terminal front end: one worksheet per tab, each with its
// own editor, result grid and status line.
package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"querydeck/internal/core"
	"querydeck/internal/lifecycle"
)

const maxGridRows = 1000

// Runner is the part of the query controller the UI drives.
type Runner interface {
	NewSession(id core.SessionID) error
	Submit(id core.SessionID, conn core.ConnectionDescriptor, text string) (lifecycle.TaskHandle, error)
	Cancel(id core.SessionID) bool
	CloseSession(id core.SessionID) bool
	PoolStats() lifecycle.PoolStats
}

// Connections lists saved connections and resolves them for execution.
type Connections interface {
	Joined() ([]core.JoinedConnection, error)
	Resolve(id int64) (core.ConnectionDescriptor, error)
}

type mode int

const (
	modeEditor mode = iota
	modePicker
	modeHistory
)

type tab struct {
	id      core.SessionID
	number  int
	editor  textarea.Model
	grid    table.Model
	conn    int // index into Model.joined, -1 when none
	running bool
	elapsed time.Duration
	status  string
	failed  bool
}

type Model struct {
	runner  Runner
	conns   Connections
	history core.HistoryRepository

	tabs    []*tab
	active  int
	opened  int
	joined  []core.JoinedConnection
	spinner spinner.Model

	mode     mode
	cursor   int
	entries  []core.HistoryEntry
	notice   string
	width    int
	height   int
	quitting bool
}

func New(runner Runner, conns Connections, history core.HistoryRepository) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot

	m := Model{
		runner:  runner,
		conns:   conns,
		history: history,
		spinner: s,
		width:   120,
		height:  30,
	}
	m.reloadConnections()
	m.openTab()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick)
}

func (m *Model) reloadConnections() {
	joined, err := m.conns.Joined()
	if err != nil {
		m.notice = "Error: " + err.Error()
		return
	}
	m.joined = joined
}

func (m *Model) openTab() {
	id := core.SessionID(uuid.NewString())
	if err := m.runner.NewSession(id); err != nil {
		m.notice = "Error: " + err.Error()
		return
	}
	m.opened++

	ed := textarea.New()
	ed.Placeholder = "SELECT ...;"
	ed.ShowLineNumbers = true
	ed.Focus()

	t := &tab{
		id:     id,
		number: m.opened,
		editor: ed,
		grid:   table.New(table.WithHeight(8)),
		conn:   -1,
	}
	if len(m.joined) > 0 {
		t.conn = 0
	}
	if cur := m.current(); cur != nil {
		cur.editor.Blur()
		t.conn = cur.conn
	}
	m.tabs = append(m.tabs, t)
	m.active = len(m.tabs) - 1
	m.resize()
}

func (m *Model) closeTab() {
	t := m.current()
	if t == nil {
		return
	}
	m.runner.CloseSession(t.id)
	m.tabs = append(m.tabs[:m.active], m.tabs[m.active+1:]...)
	if m.active >= len(m.tabs) {
		m.active = len(m.tabs) - 1
	}
	if cur := m.current(); cur != nil {
		cur.editor.Focus()
	}
}

func (m *Model) switchTab(delta int) {
	if len(m.tabs) < 2 {
		return
	}
	m.current().editor.Blur()
	m.active = (m.active + delta + len(m.tabs)) % len(m.tabs)
	m.current().editor.Focus()
}

func (m *Model) current() *tab {
	if m.active < 0 || m.active >= len(m.tabs) {
		return nil
	}
	return m.tabs[m.active]
}

func (m *Model) find(id core.SessionID) *tab {
	for _, t := range m.tabs {
		if t.id == id {
			return t
		}
	}
	return nil
}

func (m *Model) resize() {
	for _, t := range m.tabs {
		t.editor.SetWidth(m.width - 4)
		t.editor.SetHeight(max(3, m.height/3))
		t.grid.SetHeight(max(3, m.height-m.height/3-9))
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case PhaseMsg:
		if t := m.find(msg.ID); t != nil {
			t.running = msg.Phase == core.PhaseRunning
			if t.running {
				t.elapsed = 0
				t.failed = false
				t.status = runningLabel(0)
			}
		}
		return m, nil

	case ProgressMsg:
		if t := m.find(msg.ID); t != nil && t.running {
			t.elapsed = msg.Elapsed
			t.status = runningLabel(msg.Elapsed)
		}
		return m, nil

	case OutcomeMsg:
		if t := m.find(msg.ID); t != nil {
			t.showOutcome(msg.Outcome)
		}
		if m.mode == modeHistory {
			m.loadHistory()
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch m.mode {
		case modePicker:
			return m.updatePicker(msg)
		case modeHistory:
			return m.updateHistory(msg)
		default:
			return m.updateEditor(msg)
		}
	}
	return m, nil
}

func (m Model) updateEditor(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	t := m.current()
	switch msg.String() {
	case "ctrl+c", "ctrl+q":
		m.quitting = true
		return m, tea.Quit

	case "ctrl+r", "f5":
		m.run()
		return m, nil

	case "esc":
		if t != nil && t.running {
			m.runner.Cancel(t.id)
		}
		return m, nil

	case "ctrl+t":
		m.openTab()
		return m, nil

	case "ctrl+w":
		m.closeTab()
		if len(m.tabs) == 0 {
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case "ctrl+n":
		m.switchTab(1)
		return m, nil

	case "ctrl+p":
		m.switchTab(-1)
		return m, nil

	case "ctrl+o":
		m.reloadConnections()
		m.mode = modePicker
		m.cursor = 0
		if t != nil && t.conn >= 0 {
			m.cursor = t.conn
		}
		return m, nil

	case "ctrl+g":
		if t == nil || t.conn < 0 {
			m.notice = "Error: no connection selected"
			return m, nil
		}
		m.mode = modeHistory
		m.cursor = 0
		m.loadHistory()
		return m, nil

	case "pgup", "pgdown":
		if t != nil {
			var cmd tea.Cmd
			t.grid, cmd = t.grid.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	if t == nil {
		return m, nil
	}
	var cmd tea.Cmd
	t.editor, cmd = t.editor.Update(msg)
	return m, cmd
}

// run submits the editor text of the active tab.
func (m *Model) run() {
	t := m.current()
	if t == nil {
		return
	}
	m.notice = ""
	if t.conn < 0 || t.conn >= len(m.joined) {
		t.setError("Error: no connection selected")
		return
	}
	conn, err := m.conns.Resolve(m.joined[t.conn].Connection.ID)
	if err != nil {
		t.setError("Error: " + err.Error())
		return
	}
	_, err = m.runner.Submit(t.id, conn, t.editor.Value())
	var verr *core.ValidationError
	switch {
	case err == nil:
	case errors.As(err, &verr):
		t.setError("Error: " + verr.Reason)
	case errors.Is(err, core.ErrAlreadyRunning):
		m.notice = "A query is already running in this tab."
	default:
		t.setError("Error: " + err.Error())
	}
}

func (m Model) updatePicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "ctrl+o":
		m.mode = modeEditor
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.joined)-1 {
			m.cursor++
		}
	case "enter":
		if t := m.current(); t != nil && len(m.joined) > 0 {
			t.conn = m.cursor
		}
		m.mode = modeEditor
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) loadHistory() {
	t := m.current()
	if t == nil || t.conn < 0 || t.conn >= len(m.joined) {
		m.entries = nil
		return
	}
	entries, err := m.history.List(m.joined[t.conn].Connection.ID)
	if err != nil {
		m.notice = "Error: " + err.Error()
		return
	}
	m.entries = entries
	if m.cursor >= len(entries) {
		m.cursor = max(0, len(entries)-1)
	}
}

func (m Model) updateHistory(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "ctrl+g":
		m.mode = modeEditor
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.entries)-1 {
			m.cursor++
		}
	case "enter":
		if t := m.current(); t != nil && m.cursor < len(m.entries) {
			t.editor.SetValue(m.entries[m.cursor].Query)
		}
		m.mode = modeEditor
	case "d", "delete":
		if m.cursor < len(m.entries) {
			if err := m.history.Remove(m.entries[m.cursor].ID); err != nil {
				m.notice = "Error: " + err.Error()
			}
			m.loadHistory()
		}
	case "D":
		if t := m.current(); t != nil && t.conn >= 0 {
			if err := m.history.RemoveAll(m.joined[t.conn].Connection.ID); err != nil {
				m.notice = "Error: " + err.Error()
			}
			m.loadHistory()
		}
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

func (t *tab) setError(msg string) {
	t.status = msg
	t.failed = true
}

func (t *tab) showOutcome(o core.Outcome) {
	t.running = false
	t.status = o.Summary()
	t.failed = o.Kind != core.OutcomeSuccess
	if o.Kind != core.OutcomeSuccess || !o.IsSelect {
		return
	}

	cols := make([]table.Column, len(o.Columns))
	for i, c := range o.Columns {
		cols[i] = table.Column{Title: c, Width: max(6, min(30, len(c)+2))}
	}
	n := min(len(o.Rows), maxGridRows)
	rows := make([]table.Row, n)
	for i := 0; i < n; i++ {
		row := make(table.Row, len(cols))
		for j := range row {
			if j < len(o.Rows[i]) {
				row[j] = formatCell(o.Rows[i][j])
			}
			if w := len(row[j]) + 2; w > cols[j].Width && w <= 30 {
				cols[j].Width = w
			}
		}
		rows[i] = row
	}
	// Rows are cleared first so old rows never render against new columns.
	t.grid.SetRows(nil)
	t.grid.SetColumns(cols)
	t.grid.SetRows(rows)
	t.grid.GotoTop()
}

func formatCell(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case time.Time:
		return v.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(v)
	}
}

func runningLabel(elapsed time.Duration) string {
	return fmt.Sprintf("Running... %.1f sec", elapsed.Seconds())
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("QueryDeck") + m.renderTabs() + "\n")

	switch m.mode {
	case modePicker:
		b.WriteString(m.renderPicker())
	case modeHistory:
		b.WriteString(m.renderHistory())
	default:
		b.WriteString(m.renderWorksheet())
	}

	b.WriteString("\n" + m.renderStatusBar())
	return b.String()
}

func (m Model) renderTabs() string {
	parts := make([]string, len(m.tabs))
	for i, t := range m.tabs {
		label := fmt.Sprintf("Worksheet %d", t.number)
		if t.running {
			label += " *"
		}
		if i == m.active {
			parts[i] = activeTabStyle.Render(label)
		} else {
			parts[i] = tabStyle.Render(label)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m Model) renderWorksheet() string {
	t := m.current()
	if t == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(dimStyle.Render("Connection: "+m.connectionLabel(t)) + "\n")
	b.WriteString(editorStyle.Render(t.editor.View()) + "\n")

	switch {
	case t.running:
		b.WriteString(m.spinner.View() + " " + t.status + "\n")
	case t.failed:
		b.WriteString(errorStyle.Render(t.status) + "\n")
	case t.status != "":
		b.WriteString(successStyle.Render(t.status) + "\n")
	default:
		b.WriteString("\n")
	}
	if len(t.grid.Columns()) > 0 {
		b.WriteString(t.grid.View() + "\n")
	}
	return b.String()
}

func (m Model) renderPicker() string {
	var b strings.Builder
	b.WriteString(dimStyle.Render("Select a connection") + "\n")
	if len(m.joined) == 0 {
		b.WriteString(dimStyle.Render("  No saved connections. Add one with `querydeck conn add`.") + "\n")
	}
	for i, j := range m.joined {
		if i == m.cursor {
			b.WriteString(selectedStyle.Render(j.Label()) + "\n")
		} else {
			b.WriteString(normalStyle.Render(j.Label()) + "\n")
		}
	}
	return b.String()
}

func (m Model) renderHistory() string {
	var b strings.Builder
	b.WriteString(dimStyle.Render("History of "+m.connectionLabel(m.current())) + "\n")
	if len(m.entries) == 0 {
		b.WriteString(dimStyle.Render("  No history yet.") + "\n")
	}
	for i, e := range m.entries {
		line := fmt.Sprintf("%s  %-9s  %s", e.Timestamp.Format("2006-01-02 15:04:05"), e.Status, core.ShortQuery(e.Query))
		if i == m.cursor {
			b.WriteString(selectedStyle.Render(line) + "\n")
		} else {
			b.WriteString(normalStyle.Render(line) + "\n")
		}
	}
	if m.cursor < len(m.entries) {
		b.WriteString("\n" + dimStyle.Render(m.entries[m.cursor].Details()) + "\n")
	}
	return b.String()
}

func (m Model) connectionLabel(t *tab) string {
	if t == nil || t.conn < 0 || t.conn >= len(m.joined) {
		return "(none)"
	}
	return m.joined[t.conn].Label()
}

func (m Model) renderStatusBar() string {
	stats := m.runner.PoolStats()
	pool := fmt.Sprintf("Pool: %d active of %d", stats.Active, stats.Size)
	if stats.Queued > 0 {
		pool += fmt.Sprintf(", %d queued", stats.Queued)
	}

	var help string
	switch m.mode {
	case modePicker:
		help = "Enter: select  Esc: back"
	case modeHistory:
		help = "Enter: load  d: delete  D: clear all  Esc: back"
	default:
		help = "Ctrl+R: run  Esc: cancel  Ctrl+O: connection  Ctrl+G: history  Ctrl+T/W: tab  Ctrl+N/P: switch  Ctrl+Q: quit"
	}

	line := statusBarStyle.Render(pool)
	if m.notice != "" {
		line += " " + errorStyle.Render(m.notice)
	}
	return line + "\n" + helpStyle.Render("  "+help)
}

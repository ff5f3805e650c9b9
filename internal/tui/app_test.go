package tui

import (
	"errors"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querydeck/internal/core"
	"querydeck/internal/lifecycle"
)

type submission struct {
	id   core.SessionID
	conn core.ConnectionDescriptor
	text string
}

type fakeRunner struct {
	opened    []core.SessionID
	closed    []core.SessionID
	cancelled []core.SessionID
	submitted []submission
	submitErr error
	stats     lifecycle.PoolStats
}

func (f *fakeRunner) NewSession(id core.SessionID) error {
	f.opened = append(f.opened, id)
	return nil
}

func (f *fakeRunner) Submit(id core.SessionID, conn core.ConnectionDescriptor, text string) (lifecycle.TaskHandle, error) {
	if f.submitErr != nil {
		return lifecycle.TaskHandle{}, f.submitErr
	}
	if err := core.ValidateStatement(text); err != nil {
		return lifecycle.TaskHandle{}, err
	}
	f.submitted = append(f.submitted, submission{id, conn, text})
	return lifecycle.TaskHandle{SessionID: id, TaskID: uint64(len(f.submitted))}, nil
}

func (f *fakeRunner) Cancel(id core.SessionID) bool {
	f.cancelled = append(f.cancelled, id)
	return true
}

func (f *fakeRunner) CloseSession(id core.SessionID) bool {
	f.closed = append(f.closed, id)
	return true
}

func (f *fakeRunner) PoolStats() lifecycle.PoolStats { return f.stats }

type fakeConnections struct {
	joined []core.JoinedConnection
}

func (f *fakeConnections) Joined() ([]core.JoinedConnection, error) { return f.joined, nil }

func (f *fakeConnections) Resolve(id int64) (core.ConnectionDescriptor, error) {
	for _, j := range f.joined {
		if j.Connection.ID == id {
			c := j.Connection
			c.Password = "resolved"
			return c, nil
		}
	}
	return core.ConnectionDescriptor{}, core.ErrNotFound
}

type fakeHistory struct {
	core.HistoryRepository
	entries map[int64][]core.HistoryEntry
	removed []int64
}

func (f *fakeHistory) List(connectionID int64) ([]core.HistoryEntry, error) {
	return f.entries[connectionID], nil
}

func (f *fakeHistory) Remove(id int64) error {
	f.removed = append(f.removed, id)
	for cid, list := range f.entries {
		for i, e := range list {
			if e.ID == id {
				f.entries[cid] = append(list[:i], list[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

func newTestModel(t *testing.T) (Model, *fakeRunner, *fakeHistory) {
	t.Helper()
	runner := &fakeRunner{stats: lifecycle.PoolStats{Size: 4}}
	conns := &fakeConnections{joined: []core.JoinedConnection{
		{Category: "Local", Group: "Dev", Connection: core.ConnectionDescriptor{ID: 1, Name: "scratch", Driver: "sqlite"}},
		{Category: "Prod", Group: "EU", Connection: core.ConnectionDescriptor{ID: 2, Name: "orders", Driver: "postgres"}},
	}}
	history := &fakeHistory{entries: map[int64][]core.HistoryEntry{
		1: {
			{ID: 11, ConnectionID: 1, Query: "SELECT 2;", Status: core.StatusSuccess},
			{ID: 10, ConnectionID: 1, Query: "SELECT 1;", Status: core.StatusFailed},
		},
	}}
	m := New(runner, conns, history)
	require.Len(t, runner.opened, 1)
	return m, runner, history
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

func key(k tea.KeyType) tea.KeyMsg { return tea.KeyMsg{Type: k} }

func TestRunSubmitsEditorText(t *testing.T) {
	m, runner, _ := newTestModel(t)
	m.current().editor.SetValue("SELECT 1;")

	m = update(t, m, key(tea.KeyCtrlR))
	require.Len(t, runner.submitted, 1)
	sub := runner.submitted[0]
	assert.Equal(t, runner.opened[0], sub.id)
	assert.Equal(t, int64(1), sub.conn.ID)
	assert.Equal(t, "resolved", sub.conn.Password)
	assert.Equal(t, "SELECT 1;", sub.text)
}

func TestValidationErrorShownInStatus(t *testing.T) {
	m, runner, _ := newTestModel(t)
	m.current().editor.SetValue("SELECT 1")

	m = update(t, m, key(tea.KeyCtrlR))
	assert.Empty(t, runner.submitted)
	assert.True(t, m.current().failed)
	assert.Contains(t, m.View(), "Error: ")
}

func TestAlreadyRunningIsANotice(t *testing.T) {
	m, runner, _ := newTestModel(t)
	runner.submitErr = core.ErrAlreadyRunning
	m.current().editor.SetValue("SELECT 1;")

	m = update(t, m, key(tea.KeyCtrlR))
	assert.Contains(t, m.View(), "A query is already running in this tab.")
	assert.False(t, m.current().failed)

	runner.submitErr = errors.New("pool closed")
	m = update(t, m, key(tea.KeyCtrlR))
	assert.Equal(t, "Error: pool closed", m.current().status)
}

func TestProgressAndOutcome(t *testing.T) {
	m, _, _ := newTestModel(t)
	id := m.current().id

	m = update(t, m, PhaseMsg{ID: id, Phase: core.PhaseRunning})
	assert.Contains(t, m.View(), "Running... 0.0 sec")

	m = update(t, m, ProgressMsg{ID: id, Elapsed: 1500 * time.Millisecond})
	assert.Contains(t, m.View(), "Running... 1.5 sec")

	// Unknown sessions are ignored.
	m = update(t, m, ProgressMsg{ID: "other", Elapsed: time.Hour})
	assert.Equal(t, 1500*time.Millisecond, m.current().elapsed)

	m = update(t, m, PhaseMsg{ID: id, Phase: core.PhaseIdle})
	m = update(t, m, OutcomeMsg{ID: id, Outcome: core.SuccessOutcome(&core.Result{
		Columns:  []string{"id", "name"},
		Rows:     [][]any{{int64(1), "ada"}, {int64(2), nil}},
		RowCount: 2,
		IsSelect: true,
	}, 250*time.Millisecond)})

	tb := m.current()
	assert.False(t, tb.running)
	assert.Equal(t, "Query executed successfully | Total rows: 2 | Time: 0.25 sec", tb.status)
	require.Len(t, tb.grid.Rows(), 2)
	assert.Equal(t, []string{"2", "NULL"}, []string(tb.grid.Rows()[1]))

	// A narrower result replaces the grid cleanly.
	m = update(t, m, OutcomeMsg{ID: id, Outcome: core.SuccessOutcome(&core.Result{
		Columns: []string{"n"}, Rows: [][]any{{int64(7)}}, RowCount: 1, IsSelect: true,
	}, time.Millisecond)})
	require.Len(t, m.current().grid.Columns(), 1)
	assert.NotPanics(t, func() { _ = m.View() })
}

func TestTimeoutOutcomeSummary(t *testing.T) {
	m, _, _ := newTestModel(t)
	id := m.current().id
	m = update(t, m, PhaseMsg{ID: id, Phase: core.PhaseRunning})
	m = update(t, m, OutcomeMsg{ID: id, Outcome: core.TimedOutOutcome(60 * time.Second)})
	assert.Equal(t, "Error: Query timed out after 60 seconds.", m.current().status)
	assert.True(t, m.current().failed)
}

func TestEscCancelsRunningQuery(t *testing.T) {
	m, runner, _ := newTestModel(t)
	id := m.current().id

	m = update(t, m, key(tea.KeyEsc))
	assert.Empty(t, runner.cancelled)

	m = update(t, m, PhaseMsg{ID: id, Phase: core.PhaseRunning})
	update(t, m, key(tea.KeyEsc))
	assert.Equal(t, []core.SessionID{id}, runner.cancelled)
}

func TestTabsOpenSwitchAndClose(t *testing.T) {
	m, runner, _ := newTestModel(t)
	first := m.current().id

	m = update(t, m, key(tea.KeyCtrlT))
	require.Len(t, runner.opened, 2)
	second := m.current().id
	assert.NotEqual(t, first, second)
	assert.Contains(t, m.View(), "Worksheet 2")

	m = update(t, m, key(tea.KeyCtrlN))
	assert.Equal(t, first, m.current().id)

	// Events for a background tab update that tab only.
	m = update(t, m, PhaseMsg{ID: second, Phase: core.PhaseRunning})
	assert.False(t, m.current().running)
	assert.True(t, m.find(second).running)

	m = update(t, m, key(tea.KeyCtrlW))
	assert.Equal(t, []core.SessionID{first}, runner.closed)
	assert.Equal(t, second, m.current().id)

	next, cmd := m.Update(key(tea.KeyCtrlW))
	m = next.(Model)
	assert.Equal(t, []core.SessionID{first, second}, runner.closed)
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestConnectionPicker(t *testing.T) {
	m, runner, _ := newTestModel(t)
	assert.Contains(t, m.View(), "Local -> Dev -> scratch")

	m = update(t, m, key(tea.KeyCtrlO))
	assert.Contains(t, m.View(), "Prod -> EU -> orders")
	m = update(t, m, key(tea.KeyDown))
	m = update(t, m, key(tea.KeyEnter))

	m.current().editor.SetValue("SELECT 1;")
	update(t, m, key(tea.KeyCtrlR))
	require.Len(t, runner.submitted, 1)
	assert.Equal(t, int64(2), runner.submitted[0].conn.ID)
}

func TestHistoryLoadAndDelete(t *testing.T) {
	m, _, history := newTestModel(t)

	m = update(t, m, key(tea.KeyCtrlG))
	assert.Contains(t, m.View(), "SELECT 2;")
	assert.Contains(t, m.View(), "-- Query --")

	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	assert.Equal(t, []int64{11}, history.removed)
	require.Len(t, m.entries, 1)

	m = update(t, m, key(tea.KeyEnter))
	assert.Equal(t, "SELECT 1;", m.current().editor.Value())
	assert.Equal(t, modeEditor, m.mode)
}

func TestStatusBarShowsPool(t *testing.T) {
	m, runner, _ := newTestModel(t)
	runner.stats = lifecycle.PoolStats{Size: 4, Active: 1, Queued: 2}
	assert.Contains(t, m.View(), "Pool: 1 active of 4, 2 queued")
}

type captured struct {
	mu   sync.Mutex
	msgs []tea.Msg
}

func (c *captured) Send(msg tea.Msg) {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
}

func TestSinkForwardsEvents(t *testing.T) {
	out := &captured{}
	s := NewSink(out)
	s.OnPhaseChanged("a", core.PhaseRunning)
	s.OnProgress("a", time.Second)
	s.OnOutcome("a", core.CancelledOutcome())

	assert.Equal(t, []tea.Msg{
		PhaseMsg{ID: "a", Phase: core.PhaseRunning},
		ProgressMsg{ID: "a", Elapsed: time.Second},
		OutcomeMsg{ID: "a", Outcome: core.CancelledOutcome()},
	}, out.msgs)
}

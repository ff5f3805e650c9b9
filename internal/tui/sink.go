package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"querydeck/internal/core"
)

// PhaseMsg reports that a worksheet went idle or started running.
type PhaseMsg struct {
	ID    core.SessionID
	Phase core.Phase
}

// ProgressMsg carries the elapsed time of a running query.
type ProgressMsg struct {
	ID      core.SessionID
	Elapsed time.Duration
}

// OutcomeMsg carries the final outcome of a query.
type OutcomeMsg struct {
	ID      core.SessionID
	Outcome core.Outcome
}

// Sender is satisfied by *tea.Program.
type Sender interface {
	Send(msg tea.Msg)
}

// Sink turns controller events into program messages.
type Sink struct {
	out Sender
}

func NewSink(out Sender) *Sink {
	return &Sink{out: out}
}

func (s *Sink) OnPhaseChanged(id core.SessionID, phase core.Phase) {
	s.out.Send(PhaseMsg{ID: id, Phase: phase})
}

func (s *Sink) OnProgress(id core.SessionID, elapsed time.Duration) {
	s.out.Send(ProgressMsg{ID: id, Elapsed: elapsed})
}

func (s *Sink) OnOutcome(id core.SessionID, outcome core.Outcome) {
	s.out.Send(OutcomeMsg{ID: id, Outcome: outcome})
}

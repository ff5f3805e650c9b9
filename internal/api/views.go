package api

import (
	"time"

	"querydeck/internal/core"
	"querydeck/internal/lifecycle"
)

type outcomeView struct {
	Kind     string   `json:"kind"`
	Status   string   `json:"status"`
	Summary  string   `json:"summary"`
	Columns  []string `json:"columns,omitempty"`
	Rows     [][]any  `json:"rows,omitempty"`
	RowCount int      `json:"row_count"`
	IsSelect bool     `json:"is_select"`
	Seconds  float64  `json:"seconds"`
	Message  string   `json:"message,omitempty"`
}

func newOutcomeView(o core.Outcome) outcomeView {
	v := outcomeView{
		Kind:     o.Kind.String(),
		Status:   string(o.Status()),
		Summary:  o.Summary(),
		Columns:  o.Columns,
		Rows:     o.Rows,
		RowCount: o.RowCount,
		IsSelect: o.IsSelect,
		Seconds:  o.Elapsed.Seconds(),
		Message:  o.Message,
	}
	if o.Kind == core.OutcomeTimedOut {
		v.Seconds = o.LimitSeconds()
	}
	return v
}

type worksheetView struct {
	ID           core.SessionID `json:"id"`
	Phase        string         `json:"phase"`
	TaskID       uint64         `json:"task_id,omitempty"`
	ElapsedMS    int64          `json:"elapsed_ms"`
	ConnectionID int64          `json:"connection_id,omitempty"`
	Query        string         `json:"query,omitempty"`
	LastOutcome  *outcomeView   `json:"last_outcome,omitempty"`
}

func newWorksheetView(s lifecycle.Snapshot) worksheetView {
	v := worksheetView{
		ID:           s.ID,
		Phase:        s.PhaseName,
		TaskID:       s.TaskID,
		ElapsedMS:    s.Elapsed.Milliseconds(),
		ConnectionID: s.ConnectionID,
		Query:        s.Query,
	}
	if s.LastOutcome != nil {
		o := newOutcomeView(*s.LastOutcome)
		v.LastOutcome = &o
	}
	return v
}

type historyView struct {
	ID           int64     `json:"id"`
	ConnectionID int64     `json:"connection_id"`
	Preview      string    `json:"preview"`
	Query        string    `json:"query"`
	Status       string    `json:"status"`
	RowCount     int       `json:"row_count"`
	Seconds      float64   `json:"seconds"`
	Timestamp    time.Time `json:"timestamp"`
}

func newHistoryView(e core.HistoryEntry) historyView {
	return historyView{
		ID:           e.ID,
		ConnectionID: e.ConnectionID,
		Preview:      core.ShortQuery(e.Query),
		Query:        e.Query,
		Status:       string(e.Status),
		RowCount:     e.RowCount,
		Seconds:      e.Elapsed.Seconds(),
		Timestamp:    e.Timestamp,
	}
}

package core

import (
	"fmt"
	"time"
)

// ConnectionKind tells whether a connection points at a local file or a server.
type ConnectionKind string

const (
	KindFile ConnectionKind = "file"
	KindHost ConnectionKind = "host"
)

type Category struct {
	ID     int64   `json:"id"`
	Name   string  `json:"name"`
	Groups []Group `json:"groups,omitempty"`
}

type Group struct {
	ID          int64                  `json:"id"`
	CategoryID  int64                  `json:"category_id"`
	Name        string                 `json:"name"`
	Connections []ConnectionDescriptor `json:"connections,omitempty"`
}

// ConnectionDescriptor identifies a database and carries everything needed to
// open it. Treat it as immutable once built; it is passed around by value.
type ConnectionDescriptor struct {
	ID          int64             `json:"id"`
	GroupID     int64             `json:"group_id"`
	Name        string            `json:"name"`
	Kind        ConnectionKind    `json:"kind"`
	Driver      string            `json:"driver"`
	Path        string            `json:"path,omitempty"`
	Host        string            `json:"host,omitempty"`
	Port        int               `json:"port,omitempty"`
	Database    string            `json:"database,omitempty"`
	User        string            `json:"user,omitempty"`
	Password    string            `json:"-"`
	PasswordEnc string            `json:"-"` // Encrypted at rest
	Options     map[string]string `json:"options,omitempty"`
}

// JoinedConnection is a connection flattened with the names of its parents.
type JoinedConnection struct {
	Category   string               `json:"category"`
	Group      string               `json:"group"`
	Connection ConnectionDescriptor `json:"connection"`
}

func (j JoinedConnection) Label() string {
	return ConnectionLabel(j.Category, j.Group, j.Connection.Name)
}

// SessionID identifies a worksheet. It is opaque and never tied to a UI handle.
type SessionID string

type QueryRequest struct {
	SessionID   SessionID
	Connection  ConnectionDescriptor
	Text        string
	SubmittedAt time.Time
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Result is what an Executor hands back for one statement.
type Result struct {
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	RowCount int      `json:"row_count"`
	IsSelect bool     `json:"is_select"`
}

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeFailure
	OutcomeCancelled
	OutcomeTimedOut
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Outcome is the terminal classification of a submitted query. Which fields
// are meaningful depends on Kind.
type Outcome struct {
	Kind OutcomeKind `json:"kind"`

	// Success
	Columns  []string      `json:"columns,omitempty"`
	Rows     [][]any       `json:"rows,omitempty"`
	RowCount int           `json:"row_count"`
	Elapsed  time.Duration `json:"elapsed"`
	IsSelect bool          `json:"is_select"`

	// Failure
	Message string `json:"message,omitempty"`

	// TimedOut
	Limit time.Duration `json:"limit,omitempty"`
}

func SuccessOutcome(res *Result, elapsed time.Duration) Outcome {
	return Outcome{
		Kind:     OutcomeSuccess,
		Columns:  res.Columns,
		Rows:     res.Rows,
		RowCount: res.RowCount,
		IsSelect: res.IsSelect,
		Elapsed:  elapsed,
	}
}

func FailureOutcome(err error) Outcome {
	return Outcome{Kind: OutcomeFailure, Message: err.Error()}
}

func CancelledOutcome() Outcome {
	return Outcome{Kind: OutcomeCancelled}
}

func TimedOutOutcome(limit time.Duration) Outcome {
	return Outcome{Kind: OutcomeTimedOut, Limit: limit}
}

func (o Outcome) LimitSeconds() float64 {
	return o.Limit.Seconds()
}

// Status maps the outcome onto the status recorded in history.
func (o Outcome) Status() HistoryStatus {
	switch o.Kind {
	case OutcomeSuccess:
		return StatusSuccess
	case OutcomeCancelled:
		return StatusCancelled
	case OutcomeTimedOut:
		return StatusTimedOut
	default:
		return StatusFailed
	}
}

// Summary is the one-line text shown next to a worksheet.
func (o Outcome) Summary() string {
	switch o.Kind {
	case OutcomeSuccess:
		if o.IsSelect {
			return fmt.Sprintf("Query executed successfully | Total rows: %d | Time: %.2f sec", o.RowCount, o.Elapsed.Seconds())
		}
		return fmt.Sprintf("Command executed successfully | Rows affected: %d | Time: %.2f sec", o.RowCount, o.Elapsed.Seconds())
	case OutcomeCancelled:
		return "Query cancelled by user."
	case OutcomeTimedOut:
		return fmt.Sprintf("Error: Query timed out after %g seconds.", o.LimitSeconds())
	default:
		return "Error: " + o.Message
	}
}

type HistoryStatus string

const (
	StatusSuccess   HistoryStatus = "Success"
	StatusFailed    HistoryStatus = "Failed"
	StatusCancelled HistoryStatus = "Cancelled"
	StatusTimedOut  HistoryStatus = "Timed Out"
)

type HistoryEntry struct {
	ID           int64         `json:"id"`
	ConnectionID int64         `json:"connection_id"`
	Query        string        `json:"query"`
	Status       HistoryStatus `json:"status"`
	RowCount     int           `json:"row_count"`
	Elapsed      time.Duration `json:"elapsed"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Details renders the entry the way the history pane shows it.
func (e HistoryEntry) Details() string {
	return fmt.Sprintf("Timestamp: %s\nStatus: %s\nDuration: %.3f sec\nRows: %d\n\n-- Query --\n%s",
		e.Timestamp.Format("2006-01-02 15:04:05"), e.Status, e.Elapsed.Seconds(), e.RowCount, e.Query)
}

// Table is one entry of a schema listing.
type Table struct {
	Schema string `json:"schema,omitempty"`
	Name   string `json:"name"`
	Type   string `json:"type,omitempty"`
}

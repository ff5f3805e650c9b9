package core

import (
	"context"
	"time"
)

// ConnectionRepository defines storage operations for the connection hierarchy
type ConnectionRepository interface {
	CreateCategory(name string) (*Category, error)
	DeleteCategory(id int64) error
	CreateGroup(categoryID int64, name string) (*Group, error)
	DeleteGroup(id int64) error
	Create(conn *ConnectionDescriptor) error
	GetByID(id int64) (*ConnectionDescriptor, error)
	Update(conn *ConnectionDescriptor) error
	Delete(id int64) error
	Tree() ([]Category, error)
	Joined() ([]JoinedConnection, error)
}

// HistoryRepository defines storage operations for executed queries
type HistoryRepository interface {
	Append(entry *HistoryEntry) error
	List(connectionID int64) ([]HistoryEntry, error)
	Remove(id int64) error
	RemoveAll(connectionID int64) error
	PruneBefore(t time.Time) (int64, error)
}

// Executor runs one statement against a connection. It blocks until the
// statement finishes and must give up promptly once ctx is cancelled. It must
// not keep conn or text after returning.
type Executor interface {
	Execute(ctx context.Context, conn ConnectionDescriptor, text string) (*Result, error)
}

// EventSink receives lifecycle notifications for sessions. Calls arrive from a
// single delivery goroutine, in emission order.
type EventSink interface {
	OnPhaseChanged(id SessionID, phase Phase)
	OnProgress(id SessionID, elapsed time.Duration)
	OnOutcome(id SessionID, outcome Outcome)
}

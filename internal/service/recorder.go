package service

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"querydeck/internal/core"
)

// HistoryRecorder appends one history entry per finished query. Appends run
// on a single background goroutine, so Record never blocks the caller.
type HistoryRecorder struct {
	repo core.HistoryRepository
	log  logrus.FieldLogger
	now  func() time.Time

	mu      sync.Mutex
	pending []core.HistoryEntry
	closed  bool

	wake chan struct{}
	done chan struct{}
}

func NewHistoryRecorder(repo core.HistoryRepository, log logrus.FieldLogger) *HistoryRecorder {
	r := &HistoryRecorder{
		repo: repo,
		log:  log,
		now:  time.Now,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go r.run()
	return r
}

// Record queues an entry for the outcome. Row count and elapsed time are kept
// for successes; a timeout records the configured limit as its elapsed time.
func (r *HistoryRecorder) Record(connectionID int64, text string, outcome core.Outcome) {
	if connectionID == 0 {
		r.log.Debug("unsaved connection, history not kept")
		return
	}
	entry := core.HistoryEntry{
		ConnectionID: connectionID,
		Query:        text,
		Status:       outcome.Status(),
		Timestamp:    r.now(),
	}
	switch outcome.Kind {
	case core.OutcomeSuccess:
		entry.RowCount = outcome.RowCount
		entry.Elapsed = outcome.Elapsed
	case core.OutcomeTimedOut:
		entry.Elapsed = outcome.Limit
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.log.WithField("connection", connectionID).Warn("history recorder closed, entry dropped")
		return
	}
	r.pending = append(r.pending, entry)
	select {
	case r.wake <- struct{}{}:
	default:
	}
	r.mu.Unlock()
}

// Close writes whatever is still queued and stops the writer.
func (r *HistoryRecorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.wake)
	}
	r.mu.Unlock()
	<-r.done
}

func (r *HistoryRecorder) run() {
	defer close(r.done)
	for range r.wake {
		r.flush()
	}
	r.flush()
}

func (r *HistoryRecorder) flush() {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	for i := range batch {
		if err := r.repo.Append(&batch[i]); err != nil {
			serr := &core.StoreError{Op: "append history", Err: err}
			r.log.WithFields(logrus.Fields{
				"connection": batch[i].ConnectionID,
				"status":     batch[i].Status,
			}).WithError(serr).Error("failed to record query history")
		}
	}
}

package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querydeck/internal/core"
	"querydeck/internal/data"
)

func newHistoryRepo(t *testing.T) *data.HistoryRepo {
	t.Helper()
	db, err := data.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return data.NewHistoryRepo(db)
}

func TestRecorderMapsOutcomes(t *testing.T) {
	repo := newHistoryRepo(t)
	log, _ := test.NewNullLogger()
	rec := NewHistoryRecorder(repo, log)
	base := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	var tick time.Duration
	rec.now = func() time.Time { tick += time.Second; return base.Add(tick) }

	rec.Record(7, "SELECT 1;", core.SuccessOutcome(&core.Result{RowCount: 1, IsSelect: true}, 250*time.Millisecond))
	rec.Record(7, "SELECT nope;", core.FailureOutcome(errors.New("no such column")))
	rec.Record(7, "SELECT slow;", core.CancelledOutcome())
	rec.Record(7, "SELECT forever;", core.TimedOutOutcome(60*time.Second))
	rec.Record(0, "SELECT unsaved;", core.CancelledOutcome())
	rec.Close()

	entries, err := repo.List(7)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	// Newest first.
	assert.Equal(t, core.StatusTimedOut, entries[0].Status)
	assert.Equal(t, 60*time.Second, entries[0].Elapsed)
	assert.Zero(t, entries[0].RowCount)

	assert.Equal(t, core.StatusCancelled, entries[1].Status)
	assert.Zero(t, entries[1].Elapsed)

	assert.Equal(t, core.StatusFailed, entries[2].Status)
	assert.Zero(t, entries[2].Elapsed)

	assert.Equal(t, core.StatusSuccess, entries[3].Status)
	assert.Equal(t, 1, entries[3].RowCount)
	assert.Equal(t, 250*time.Millisecond, entries[3].Elapsed)
	assert.Equal(t, "SELECT 1;", entries[3].Query)

	// Closed recorders drop entries.
	rec.Record(7, "SELECT late;", core.CancelledOutcome())
	rec.Close()
	entries, err = repo.List(7)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

type failingHistory struct {
	core.HistoryRepository
	mu    sync.Mutex
	calls int
}

func (f *failingHistory) Append(*core.HistoryEntry) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return errors.New("disk I/O error")
}

func TestRecorderLogsStoreErrors(t *testing.T) {
	log, hook := test.NewNullLogger()
	repo := &failingHistory{}
	rec := NewHistoryRecorder(repo, log)

	rec.Record(1, "SELECT 1;", core.SuccessOutcome(&core.Result{RowCount: 1}, time.Millisecond))
	rec.Close()

	assert.Equal(t, 1, repo.calls)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	var serr *core.StoreError
	require.ErrorAs(t, entry.Data[logrus.ErrorKey].(error), &serr)
	assert.Equal(t, "append history", serr.Op)
}

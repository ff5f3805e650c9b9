package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querydeck/internal/core"
)

func TestRegistryCreateOnFirstUse(t *testing.T) {
	r := NewRegistry(nil)
	s, created := r.ensure("a")
	require.True(t, created)
	assert.Equal(t, core.PhaseIdle, s.phase)

	again, created := r.ensure("a")
	assert.False(t, created)
	assert.Same(t, s, again)
	assert.Equal(t, 1, r.Len())

	assert.False(t, r.update("missing", func(*sessionState) {}))
	assert.NotNil(t, r.remove("a"))
	assert.Nil(t, r.remove("a"))
	_, ok := r.Phase("a")
	assert.False(t, ok)
}

func TestRegistryElapsedOnlyWhileRunning(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	r := NewRegistry(func() time.Time { return now })
	r.ensure("a")
	assert.Zero(t, r.Elapsed("a"))

	task := &Task{id: 7}
	r.update("a", func(s *sessionState) {
		s.phase = core.PhaseRunning
		s.task = task
		s.startedAt = now.Add(-1500 * time.Millisecond)
		s.text = "SELECT 1;"
	})

	assert.Equal(t, 1500*time.Millisecond, r.Elapsed("a"))
	snap, ok := r.Snapshot("a")
	require.True(t, ok)
	assert.Equal(t, uint64(7), snap.TaskID)
	assert.Equal(t, "running", snap.PhaseName)
	assert.Equal(t, "SELECT 1;", snap.Query)
	assert.Zero(t, r.Elapsed("missing"))
}

// Readers on other goroutines see either the idle or the running state of a
// session, never a mix of the two.
func TestRegistryConcurrentReadsAreConsistent(t *testing.T) {
	r := NewRegistry(nil)
	r.ensure("a")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				snap, _ := r.Snapshot("a")
				if snap.Phase == core.PhaseRunning {
					assert.NotZero(t, snap.TaskID)
					assert.False(t, snap.StartedAt.IsZero())
				} else {
					assert.Zero(t, snap.TaskID)
					assert.True(t, snap.StartedAt.IsZero())
				}
				r.Elapsed("a")
			}
		}()
	}

	var id uint64
	for ctx.Err() == nil {
		id++
		task := &Task{id: id}
		r.update("a", func(s *sessionState) {
			s.phase = core.PhaseRunning
			s.task = task
			s.startedAt = time.Now()
		})
		r.update("a", func(s *sessionState) {
			s.phase = core.PhaseIdle
			s.task = nil
			s.startedAt = time.Time{}
		})
	}
	wg.Wait()
}

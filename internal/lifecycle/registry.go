package lifecycle

import (
	"sort"
	"sync"
	"time"

	"querydeck/internal/core"
)

// sessionState is owned by the controlling goroutine. The registry lock only
// guards readers on other goroutines against torn reads.
type sessionState struct {
	id        core.SessionID
	createdAt time.Time
	phase     core.Phase

	// Set only while phase == PhaseRunning.
	task         *Task
	startedAt    time.Time
	connectionID int64
	text         string
	ticker       *time.Ticker
	stopTicker   chan struct{}
	watchdog     *time.Timer

	last *core.Outcome
}

// Snapshot is a consistent copy of a session.
type Snapshot struct {
	ID           core.SessionID `json:"id"`
	Phase        core.Phase     `json:"-"`
	PhaseName    string         `json:"phase"`
	TaskID       uint64         `json:"task_id,omitempty"`
	StartedAt    time.Time      `json:"started_at,omitempty"`
	Elapsed      time.Duration  `json:"elapsed"`
	ConnectionID int64          `json:"connection_id,omitempty"`
	Query        string         `json:"query,omitempty"`
	LastOutcome  *core.Outcome  `json:"last_outcome,omitempty"`
}

// Registry maps session IDs to their state.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionState
	now      func() time.Time
}

func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		sessions: make(map[core.SessionID]*sessionState),
		now:      now,
	}
}

// ensure returns the session, creating it idle when absent.
func (r *Registry) ensure(id core.SessionID) (*sessionState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s, false
	}
	s := &sessionState{id: id, createdAt: r.now(), phase: core.PhaseIdle}
	r.sessions[id] = s
	return s, true
}

func (r *Registry) lookup(id core.SessionID) *sessionState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// update applies fn under the write lock. It reports false for unknown IDs.
func (r *Registry) update(id core.SessionID, fn func(s *sessionState)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	fn(s)
	return true
}

func (r *Registry) remove(id core.SessionID) *sessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[id]
	delete(r.sessions, id)
	return s
}

func (r *Registry) ids() []core.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]core.SessionID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) Snapshot(id core.SessionID) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return Snapshot{}, false
	}
	return r.snapshotLocked(s), true
}

// Snapshots lists every session in creation order.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	states := make([]*sessionState, 0, len(r.sessions))
	for _, s := range r.sessions {
		states = append(states, s)
	}
	sort.Slice(states, func(i, j int) bool {
		if states[i].createdAt.Equal(states[j].createdAt) {
			return states[i].id < states[j].id
		}
		return states[i].createdAt.Before(states[j].createdAt)
	})
	out := make([]Snapshot, len(states))
	for i, s := range states {
		out[i] = r.snapshotLocked(s)
	}
	r.mu.RUnlock()
	return out
}

func (r *Registry) snapshotLocked(s *sessionState) Snapshot {
	snap := Snapshot{
		ID:        s.id,
		Phase:     s.phase,
		PhaseName: s.phase.String(),
	}
	if s.phase == core.PhaseRunning {
		snap.TaskID = s.task.ID()
		snap.StartedAt = s.startedAt
		snap.Elapsed = r.now().Sub(s.startedAt)
		snap.ConnectionID = s.connectionID
		snap.Query = s.text
	}
	if s.last != nil {
		o := *s.last
		snap.LastOutcome = &o
	}
	return snap
}

func (r *Registry) Phase(id core.SessionID) (core.Phase, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return core.PhaseIdle, false
	}
	return s.phase, true
}

// Elapsed is the running time of the session's current query, zero when idle.
func (r *Registry) Elapsed(id core.SessionID) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok || s.phase != core.PhaseRunning {
		return 0
	}
	return r.now().Sub(s.startedAt)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

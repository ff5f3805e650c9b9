package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"querydeck/internal/core"
)

// execFunc adapts a function to core.Executor.
type execFunc func(ctx context.Context, conn core.ConnectionDescriptor, text string) (*core.Result, error)

func (f execFunc) Execute(ctx context.Context, conn core.ConnectionDescriptor, text string) (*core.Result, error) {
	return f(ctx, conn, text)
}

func selectOne(context.Context, core.ConnectionDescriptor, string) (*core.Result, error) {
	return &core.Result{Columns: []string{"1"}, Rows: [][]any{{int64(1)}}, RowCount: 1, IsSelect: true}, nil
}

// untilCancelled blocks until the executor is cancelled.
func untilCancelled(ctx context.Context, _ core.ConnectionDescriptor, _ string) (*core.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// stubborn ignores cancellation and returns only when release is closed.
func stubborn(release <-chan struct{}) execFunc {
	return func(context.Context, core.ConnectionDescriptor, string) (*core.Result, error) {
		<-release
		return &core.Result{RowCount: 7, IsSelect: true}, nil
	}
}

type sinkEvent struct {
	id      core.SessionID
	kind    eventKind
	phase   core.Phase
	elapsed time.Duration
	outcome core.Outcome
}

type recordingSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

func (s *recordingSink) OnPhaseChanged(id core.SessionID, phase core.Phase) {
	s.add(sinkEvent{id: id, kind: evPhase, phase: phase})
}

func (s *recordingSink) OnProgress(id core.SessionID, elapsed time.Duration) {
	s.add(sinkEvent{id: id, kind: evProgress, elapsed: elapsed})
}

func (s *recordingSink) OnOutcome(id core.SessionID, outcome core.Outcome) {
	s.add(sinkEvent{id: id, kind: evOutcome, outcome: outcome})
}

func (s *recordingSink) add(ev sinkEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) all() []sinkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sinkEvent(nil), s.events...)
}

func (s *recordingSink) filter(id core.SessionID, kind eventKind) []sinkEvent {
	var out []sinkEvent
	for _, ev := range s.all() {
		if ev.id == id && ev.kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (s *recordingSink) outcomes(id core.SessionID) []core.Outcome {
	var out []core.Outcome
	for _, ev := range s.filter(id, evOutcome) {
		out = append(out, ev.outcome)
	}
	return out
}

// waitOutcomes waits until the session has n outcomes and returns them.
func (s *recordingSink) waitOutcomes(t *testing.T, id core.SessionID, n int) []core.Outcome {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.outcomes(id)) >= n }, 3*time.Second, 5*time.Millisecond)
	return s.outcomes(id)
}

type record struct {
	connectionID int64
	text         string
	outcome      core.Outcome
}

type memRecorder struct {
	mu      sync.Mutex
	records []record
}

func (r *memRecorder) Record(connectionID int64, text string, outcome core.Outcome) {
	r.mu.Lock()
	r.records = append(r.records, record{connectionID, text, outcome})
	r.mu.Unlock()
}

func (r *memRecorder) all() []record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]record(nil), r.records...)
}

func testLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

type harness struct {
	ctrl     *Controller
	sink     *recordingSink
	recorder *memRecorder
}

func newHarness(t *testing.T, exec core.Executor, opts Options) *harness {
	t.Helper()
	h := &harness{sink: &recordingSink{}, recorder: &memRecorder{}}
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Workers == 0 {
		opts.Workers = 2
	}
	h.ctrl = New(exec, h.recorder, opts, testLogger(), h.sink)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		_ = h.ctrl.Shutdown(ctx)
	})
	return h
}

var testConn = core.ConnectionDescriptor{ID: 42, Name: "local", Kind: core.KindFile, Driver: "sqlite", Path: ":memory:"}

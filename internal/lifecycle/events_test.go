package lifecycle

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querydeck/internal/core"
)

// blockingSink holds delivery of its first event until unblocked.
type blockingSink struct {
	recordingSink
	once    sync.Once
	entered chan struct{}
	unblock chan struct{}
}

func (s *blockingSink) OnPhaseChanged(id core.SessionID, phase core.Phase) {
	s.once.Do(func() {
		close(s.entered)
		<-s.unblock
	})
	s.recordingSink.OnPhaseChanged(id, phase)
}

func TestDispatcherPreservesOrderAndCoalescesProgress(t *testing.T) {
	sink := &blockingSink{entered: make(chan struct{}), unblock: make(chan struct{})}
	d := NewDispatcher(testLogger(), sink)

	d.OnPhaseChanged("a", core.PhaseRunning)
	<-sink.entered

	// Queued while the sink is busy.
	for i := 1; i <= 5; i++ {
		d.OnProgress("a", time.Duration(i)*time.Millisecond)
	}
	d.OnProgress("b", time.Second)
	d.OnPhaseChanged("a", core.PhaseIdle)
	d.OnProgress("a", 9*time.Millisecond)
	d.OnOutcome("a", core.CancelledOutcome())

	close(sink.unblock)
	d.Close()

	events := sink.all()
	require.Len(t, events, 6)
	assert.Equal(t, evPhase, events[0].kind)
	assert.Equal(t, evProgress, events[1].kind)
	assert.Equal(t, 5*time.Millisecond, events[1].elapsed, "latest value wins")
	assert.Equal(t, core.SessionID("b"), events[2].id)
	assert.Equal(t, core.PhaseIdle, events[3].phase)
	assert.Equal(t, 9*time.Millisecond, events[4].elapsed, "not merged across a phase change")
	assert.Equal(t, evOutcome, events[5].kind)
}

type reentrantSink struct {
	recordingSink
	ctrl *Controller
}

func (s *reentrantSink) OnOutcome(id core.SessionID, o core.Outcome) {
	// Sinks may call back into the controller.
	s.ctrl.Cancel(id)
	_, _ = s.ctrl.Session(id)
	s.recordingSink.OnOutcome(id, o)
}

func TestSinkMayCallController(t *testing.T) {
	sink := &reentrantSink{}
	ctrl := New(execFunc(selectOne), nil, Options{Workers: 1}, testLogger())
	sink.ctrl = ctrl
	ctrl.AddSink(sink)
	t.Cleanup(func() { ctrl.Shutdown(t.Context()) })

	_, err := ctrl.Submit("tab-1", testConn, "SELECT 1;")
	require.NoError(t, err)
	sink.waitOutcomes(t, "tab-1", 1)
}

type panickySink struct{ recordingSink }

func (*panickySink) OnPhaseChanged(core.SessionID, core.Phase) { panic("ui bug") }

func TestDispatcherSurvivesPanickingSink(t *testing.T) {
	good := &recordingSink{}
	d := NewDispatcher(testLogger(), &panickySink{}, good)
	d.OnPhaseChanged("a", core.PhaseRunning)
	d.OnOutcome("a", core.CancelledOutcome())
	d.Close()
	d.Close()

	assert.Len(t, good.all(), 2)
	d.OnOutcome("a", core.CancelledOutcome())
	assert.Len(t, good.all(), 2, "closed dispatcher drops events")
}

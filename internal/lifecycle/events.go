package lifecycle

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"querydeck/internal/core"
)

type eventKind int

const (
	evPhase eventKind = iota
	evProgress
	evOutcome
)

type event struct {
	kind    eventKind
	id      core.SessionID
	phase   core.Phase
	elapsed time.Duration
	outcome core.Outcome
}

// Dispatcher delivers events to sinks from its own goroutine, in emission
// order. Emitting never blocks, so sinks may call back into the controller.
// A progress event still waiting in the queue is overwritten by a newer one
// for the same session.
type Dispatcher struct {
	log logrus.FieldLogger

	mu       sync.Mutex
	sinks    []core.EventSink
	queue    []*event
	progress map[core.SessionID]*event
	closed   bool

	wake chan struct{}
	done chan struct{}
}

func NewDispatcher(log logrus.FieldLogger, sinks ...core.EventSink) *Dispatcher {
	d := &Dispatcher{
		log:      log,
		sinks:    sinks,
		progress: make(map[core.SessionID]*event),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

// AddSink registers another receiver for subsequent events.
func (d *Dispatcher) AddSink(s core.EventSink) {
	d.mu.Lock()
	d.sinks = append(d.sinks, s)
	d.mu.Unlock()
}

func (d *Dispatcher) OnPhaseChanged(id core.SessionID, phase core.Phase) {
	d.push(&event{kind: evPhase, id: id, phase: phase})
}

func (d *Dispatcher) OnProgress(id core.SessionID, elapsed time.Duration) {
	d.mu.Lock()
	if ev, ok := d.progress[id]; ok {
		ev.elapsed = elapsed
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	d.push(&event{kind: evProgress, id: id, elapsed: elapsed})
}

func (d *Dispatcher) OnOutcome(id core.SessionID, outcome core.Outcome) {
	d.push(&event{kind: evOutcome, id: id, outcome: outcome})
}

func (d *Dispatcher) push(ev *event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, ev)
	if ev.kind == evProgress {
		d.progress[ev.id] = ev
	} else {
		// Progress queued after this event must not jump ahead of it.
		delete(d.progress, ev.id)
	}
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Close delivers what is already queued, then stops the delivery goroutine.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for range d.wake {
		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				closed := d.closed
				d.mu.Unlock()
				if closed {
					return
				}
				break
			}
			batch := d.queue
			d.queue = nil
			for _, ev := range batch {
				if d.progress[ev.id] == ev {
					delete(d.progress, ev.id)
				}
			}
			sinks := append([]core.EventSink(nil), d.sinks...)
			d.mu.Unlock()

			for _, ev := range batch {
				for _, s := range sinks {
					d.deliver(s, ev)
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(s core.EventSink, ev *event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithField("session", ev.id).Errorf("event sink panicked: %v", r)
		}
	}()
	switch ev.kind {
	case evPhase:
		s.OnPhaseChanged(ev.id, ev.phase)
	case evProgress:
		s.OnProgress(ev.id, ev.elapsed)
	case evOutcome:
		s.OnOutcome(ev.id, ev.outcome)
	}
}

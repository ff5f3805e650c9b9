// Package lifecycle runs queries for worksheet sessions: one query in flight
// per session, a shared bounded worker pool, a progress ticker and a timeout
// watchdog per running query, and exactly one outcome per accepted query.
//
// All session transitions happen on a single controlling goroutine. Worker
// results, ticker ticks and watchdog expiry are posted to it as messages.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"querydeck/internal/core"
)

const (
	DefaultTimeout          = 60 * time.Second
	DefaultProgressInterval = 100 * time.Millisecond
)

type Options struct {
	Timeout          time.Duration
	ProgressInterval time.Duration
	Workers          int // 0 means runtime.NumCPU()

	// Now is the clock used for start times and elapsed values.
	Now func() time.Time
}

func (o *Options) withDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = DefaultProgressInterval
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Recorder stores one history entry per finished query. It must not block.
type Recorder interface {
	Record(connectionID int64, text string, outcome core.Outcome)
}

// TaskHandle describes an accepted submission.
type TaskHandle struct {
	SessionID core.SessionID `json:"session_id"`
	TaskID    uint64         `json:"task_id"`
	StartedAt time.Time      `json:"started_at"`
}

type progressTick struct {
	id     core.SessionID
	taskID uint64
}

type Controller struct {
	exec     core.Executor
	recorder Recorder
	events   *Dispatcher
	pool     *Pool
	reg      *Registry
	opts     Options
	log      logrus.FieldLogger

	cmds  chan func()
	ticks chan progressTick

	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// New starts a controller. recorder may be nil.
func New(exec core.Executor, recorder Recorder, opts Options, log logrus.FieldLogger, sinks ...core.EventSink) *Controller {
	opts.withDefaults()
	c := &Controller{
		exec:     exec,
		recorder: recorder,
		events:   NewDispatcher(log, sinks...),
		pool:     NewPool(opts.Workers, log),
		reg:      NewRegistry(opts.Now),
		opts:     opts,
		log:      log,
		cmds:     make(chan func()),
		ticks:    make(chan progressTick, 64),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go c.loop()
	return c
}

func (c *Controller) loop() {
	defer close(c.stopped)
	for {
		select {
		case fn := <-c.cmds:
			fn()
		case tk := <-c.ticks:
			c.onProgressTick(tk)
		case <-c.quit:
			return
		}
	}
}

// do runs fn on the controlling goroutine and waits for it.
func (c *Controller) do(fn func()) error {
	done := make(chan struct{})
	select {
	case c.cmds <- func() { fn(); close(done) }:
	case <-c.quit:
		return core.ErrClosed
	}
	<-done
	return nil
}

// post hands fn to the controlling goroutine without waiting for it to run.
func (c *Controller) post(fn func()) {
	select {
	case c.cmds <- fn:
	case <-c.quit:
	}
}

// AddSink registers another event receiver.
func (c *Controller) AddSink(s core.EventSink) {
	c.events.AddSink(s)
}

func (c *Controller) Options() Options {
	return c.opts
}

// NewSession registers an idle session. Opening an existing one is a no-op.
func (c *Controller) NewSession(id core.SessionID) error {
	return c.do(func() {
		if _, created := c.reg.ensure(id); created {
			c.log.WithField("session", id).Debug("session opened")
		}
	})
}

// Submit starts text on conn for the session, creating the session if needed.
// Malformed text fails with *core.ValidationError and a busy session with
// core.ErrAlreadyRunning; everything else is reported through the sinks.
func (c *Controller) Submit(id core.SessionID, conn core.ConnectionDescriptor, text string) (TaskHandle, error) {
	if err := core.ValidateStatement(text); err != nil {
		return TaskHandle{}, err
	}
	req := core.QueryRequest{SessionID: id, Connection: conn, Text: text}

	var handle TaskHandle
	var err error
	if derr := c.do(func() { handle, err = c.submit(req) }); derr != nil {
		return TaskHandle{}, derr
	}
	return handle, err
}

func (c *Controller) submit(req core.QueryRequest) (TaskHandle, error) {
	s, _ := c.reg.ensure(req.SessionID)
	if s.phase == core.PhaseRunning {
		return TaskHandle{}, core.ErrAlreadyRunning
	}

	id, conn, text := req.SessionID, req.Connection, req.Text
	task, err := c.pool.Submit(
		func(ctx context.Context) (*core.Result, error) {
			return c.exec.Execute(ctx, conn, text)
		},
		func(taskID uint64, res *core.Result, err error) {
			c.post(func() { c.onExecutorSettled(id, taskID, res, err) })
		},
	)
	if err != nil {
		return TaskHandle{}, err
	}

	req.SubmittedAt = c.opts.Now()
	ticker, stop := c.startTicker(id, task.ID())
	watchdog := c.startWatchdog(id, task.ID())
	c.reg.update(id, func(s *sessionState) {
		s.phase = core.PhaseRunning
		s.task = task
		s.startedAt = req.SubmittedAt
		s.connectionID = conn.ID
		s.text = text
		s.ticker = ticker
		s.stopTicker = stop
		s.watchdog = watchdog
	})

	c.log.WithFields(logrus.Fields{
		"session":    id,
		"task":       task.ID(),
		"connection": conn.ID,
	}).Info("query started")
	c.events.OnPhaseChanged(id, core.PhaseRunning)

	return TaskHandle{SessionID: id, TaskID: task.ID(), StartedAt: req.SubmittedAt}, nil
}

func (c *Controller) startTicker(id core.SessionID, taskID uint64) (*time.Ticker, chan struct{}) {
	t := time.NewTicker(c.opts.ProgressInterval)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-t.C:
				// Ticks are dropped while the controller is busy.
				select {
				case c.ticks <- progressTick{id: id, taskID: taskID}:
				default:
				}
			case <-stop:
				return
			case <-c.quit:
				return
			}
		}
	}()
	return t, stop
}

func (c *Controller) startWatchdog(id core.SessionID, taskID uint64) *time.Timer {
	return time.AfterFunc(c.opts.Timeout, func() {
		c.post(func() { c.onTimeoutFired(id, taskID) })
	})
}

func (c *Controller) onProgressTick(tk progressTick) {
	s := c.reg.lookup(tk.id)
	if s == nil || s.phase != core.PhaseRunning || s.task.ID() != tk.taskID {
		return
	}
	c.events.OnProgress(tk.id, c.opts.Now().Sub(s.startedAt))
}

func (c *Controller) onExecutorSettled(id core.SessionID, taskID uint64, res *core.Result, err error) {
	s := c.reg.lookup(id)
	if s == nil || s.phase != core.PhaseRunning || s.task.ID() != taskID {
		c.log.WithFields(logrus.Fields{"session": id, "task": taskID}).Debug("discarding stale result")
		return
	}
	elapsed := c.opts.Now().Sub(s.startedAt)
	switch {
	case err != nil:
		c.finish(id, taskID, core.FailureOutcome(&core.ExecutionError{Err: err}))
	case res == nil:
		c.finish(id, taskID, core.SuccessOutcome(&core.Result{}, elapsed))
	default:
		c.finish(id, taskID, core.SuccessOutcome(res, elapsed))
	}
}

func (c *Controller) onTimeoutFired(id core.SessionID, taskID uint64) {
	if c.finish(id, taskID, core.TimedOutOutcome(c.opts.Timeout)) {
		c.log.WithFields(logrus.Fields{"session": id, "task": taskID}).
			Warn((&core.TimeoutExceeded{Limit: c.opts.Timeout}).Error())
	}
}

// Cancel signals the running query of the session. It reports false when the
// session is idle or unknown.
func (c *Controller) Cancel(id core.SessionID) bool {
	var cancelled bool
	_ = c.do(func() { cancelled = c.cancelRunning(id) })
	return cancelled
}

func (c *Controller) cancelRunning(id core.SessionID) bool {
	s := c.reg.lookup(id)
	if s == nil || s.phase != core.PhaseRunning {
		return false
	}
	return c.finish(id, s.task.ID(), core.CancelledOutcome())
}

// CloseSession cancels whatever the session is running, then forgets it.
// It reports whether the session existed.
func (c *Controller) CloseSession(id core.SessionID) bool {
	var existed bool
	_ = c.do(func() {
		c.cancelRunning(id)
		existed = c.reg.remove(id) != nil
		if existed {
			c.log.WithField("session", id).Debug("session closed")
		}
	})
	return existed
}

// finish is the single terminal transition. It applies only while the session
// is still running taskID; later callers for the same task are no-ops.
func (c *Controller) finish(id core.SessionID, taskID uint64, outcome core.Outcome) bool {
	s := c.reg.lookup(id)
	if s == nil || s.phase != core.PhaseRunning || s.task.ID() != taskID {
		return false
	}

	task := s.task
	s.ticker.Stop()
	close(s.stopTicker)
	s.watchdog.Stop()

	if outcome.Kind == core.OutcomeCancelled || outcome.Kind == core.OutcomeTimedOut {
		task.Abandon()
	}

	connectionID, text := s.connectionID, s.text
	c.reg.update(id, func(s *sessionState) {
		s.phase = core.PhaseIdle
		s.task = nil
		s.startedAt = time.Time{}
		s.connectionID = 0
		s.text = ""
		s.ticker = nil
		s.stopTicker = nil
		s.watchdog = nil
		s.last = &outcome
	})

	c.log.WithFields(logrus.Fields{
		"session":    id,
		"task":       taskID,
		"connection": connectionID,
		"outcome":    outcome.Kind,
	}).Info("query finished")

	if c.recorder != nil {
		c.recorder.Record(connectionID, text, outcome)
	}
	c.events.OnPhaseChanged(id, core.PhaseIdle)
	c.events.OnOutcome(id, outcome)
	return true
}

func (c *Controller) Phase(id core.SessionID) (core.Phase, bool) {
	return c.reg.Phase(id)
}

func (c *Controller) Elapsed(id core.SessionID) time.Duration {
	return c.reg.Elapsed(id)
}

func (c *Controller) Session(id core.SessionID) (Snapshot, bool) {
	return c.reg.Snapshot(id)
}

func (c *Controller) Sessions() []Snapshot {
	return c.reg.Snapshots()
}

func (c *Controller) PoolStats() PoolStats {
	return c.pool.Stats()
}

// Shutdown closes every session, stops the controlling goroutine and waits
// for the pool to drain. Tasks still running when ctx expires are abandoned.
// Queued events are delivered before Shutdown returns.
func (c *Controller) Shutdown(ctx context.Context) error {
	first := false
	c.stopOnce.Do(func() {
		first = true
		_ = c.do(func() {
			for _, id := range c.reg.ids() {
				c.cancelRunning(id)
				c.reg.remove(id)
			}
		})
		close(c.quit)
		<-c.stopped
	})
	if !first {
		return core.ErrClosed
	}

	err := c.pool.Shutdown(ctx)
	c.events.Close()
	if err != nil {
		return fmt.Errorf("drain worker pool: %w", err)
	}
	return nil
}

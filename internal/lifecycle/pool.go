package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"querydeck/internal/core"
)

var ErrPoolClosed = errors.New("worker pool is shut down")

type taskState int32

const (
	taskQueued taskState = iota
	taskRunning
	taskDone
	taskAbandoned
)

// RunFunc is the blocking work of a task. It must return once ctx is done.
type RunFunc func(ctx context.Context) (*core.Result, error)

// SettleFunc receives the result of a task that was not abandoned.
type SettleFunc func(taskID uint64, res *core.Result, err error)

// Task is a handle on one submitted unit of work.
type Task struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc
	run    RunFunc
	settle SettleFunc
	state  atomic.Int32
}

func (t *Task) ID() uint64 { return t.id }

// Abandon signals cancellation. Whatever the task returns afterwards is
// dropped; a task still in the queue never starts.
func (t *Task) Abandon() {
	for {
		s := taskState(t.state.Load())
		if s == taskDone || s == taskAbandoned {
			return
		}
		if t.state.CompareAndSwap(int32(s), int32(taskAbandoned)) {
			t.cancel()
			return
		}
	}
}

func (t *Task) abandoned() bool {
	return taskState(t.state.Load()) == taskAbandoned
}

type PoolStats struct {
	Size   int `json:"size"`
	Active int `json:"active"`
	Queued int `json:"queued"`
}

// Pool runs tasks on a fixed number of workers, first submitted first served.
type Pool struct {
	size int
	log  logrus.FieldLogger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*Task
	inflight map[uint64]*Task
	active   int
	closed   bool

	nextID atomic.Uint64
	wg     sync.WaitGroup
}

func NewPool(size int, log logrus.FieldLogger) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	p := &Pool{
		size:     size,
		log:      log,
		inflight: make(map[uint64]*Task),
	}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

// Submit queues run. settle is called from a worker goroutine unless the task
// is abandoned first.
func (p *Pool) Submit(run RunFunc, settle SettleFunc) (*Task, error) {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		id:     p.nextID.Add(1),
		ctx:    ctx,
		cancel: cancel,
		run:    run,
		settle: settle,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		cancel()
		return nil, ErrPoolClosed
	}
	p.queue = append(p.queue, t)
	p.inflight[t.id] = t
	p.cond.Signal()
	return t, nil
}

func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	queued := 0
	for _, t := range p.queue {
		if !t.abandoned() {
			queued++
		}
	}
	return PoolStats{Size: p.size, Active: p.active, Queued: queued}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		t := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		if !t.state.CompareAndSwap(int32(taskQueued), int32(taskRunning)) {
			delete(p.inflight, t.id)
			p.mu.Unlock()
			continue
		}
		p.active++
		p.mu.Unlock()

		res, err := p.execute(t)

		p.mu.Lock()
		p.active--
		delete(p.inflight, t.id)
		p.mu.Unlock()

		if t.state.CompareAndSwap(int32(taskRunning), int32(taskDone)) {
			t.settle(t.id, res, err)
		} else {
			p.log.WithField("task", t.id).Debug("dropping result of abandoned task")
		}
		t.cancel()
	}
}

func (p *Pool) execute(t *Task) (res *core.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithField("task", t.id).Errorf("task panicked: %v", r)
			res, err = nil, fmt.Errorf("query panicked: %v", r)
		}
	}()
	return t.run(t.ctx)
}

// Shutdown stops accepting tasks and waits for queued and running ones to
// finish. When ctx expires first, every outstanding task is abandoned and
// ctx's error is returned; workers stuck in an executor are not waited for.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	p.mu.Lock()
	abandoned := len(p.inflight)
	for _, t := range p.inflight {
		t.Abandon()
	}
	p.mu.Unlock()
	p.log.WithField("tasks", abandoned).Warn("worker pool did not drain in time, abandoning tasks")
	return ctx.Err()
}

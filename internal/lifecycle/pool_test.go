package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querydeck/internal/core"
)

type settled struct {
	taskID uint64
	res    *core.Result
	err    error
}

type settleLog struct {
	mu  sync.Mutex
	all []settled
}

func (l *settleLog) settle(taskID uint64, res *core.Result, err error) {
	l.mu.Lock()
	l.all = append(l.all, settled{taskID, res, err})
	l.mu.Unlock()
}

func (l *settleLog) list() []settled {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]settled(nil), l.all...)
}

func TestPoolRunsFIFO(t *testing.T) {
	p := NewPool(1, testLogger())
	defer p.Shutdown(context.Background())

	gate := make(chan struct{})
	var order []int
	var mu sync.Mutex
	log := &settleLog{}

	_, err := p.Submit(func(context.Context) (*core.Result, error) {
		<-gate
		return nil, nil
	}, log.settle)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		i := i
		_, err := p.Submit(func(context.Context) (*core.Result, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return &core.Result{RowCount: i}, nil
		}, log.settle)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return p.Stats() == PoolStats{Size: 1, Active: 1, Queued: 5} }, time.Second, time.Millisecond)

	close(gate)
	require.Eventually(t, func() bool { return len(log.list()) == 6 }, time.Second, time.Millisecond)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, order)
}

func TestPoolAbandonRunningDropsResult(t *testing.T) {
	p := NewPool(1, testLogger())
	defer p.Shutdown(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	log := &settleLog{}
	task, err := p.Submit(func(ctx context.Context) (*core.Result, error) {
		close(started)
		<-release
		return &core.Result{RowCount: 1}, nil
	}, log.settle)
	require.NoError(t, err)

	<-started
	task.Abandon()
	assert.Error(t, task.ctx.Err(), "executor sees cancellation")
	close(release)

	require.Eventually(t, func() bool { return p.Stats().Active == 0 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, log.list())
}

func TestPoolAbandonQueuedNeverRuns(t *testing.T) {
	p := NewPool(1, testLogger())
	defer p.Shutdown(context.Background())

	gate := make(chan struct{})
	log := &settleLog{}
	_, err := p.Submit(func(context.Context) (*core.Result, error) {
		<-gate
		return nil, nil
	}, log.settle)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return p.Stats().Active == 1 }, time.Second, time.Millisecond)

	ran := false
	queued, err := p.Submit(func(context.Context) (*core.Result, error) {
		ran = true
		return nil, nil
	}, log.settle)
	require.NoError(t, err)

	queued.Abandon()
	assert.Equal(t, 0, p.Stats().Queued)
	close(gate)

	require.Eventually(t, func() bool { return len(log.list()) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, p.Shutdown(context.Background()))
	assert.False(t, ran)
}

func TestPoolSettlesErrorsAndPanics(t *testing.T) {
	p := NewPool(2, testLogger())
	defer p.Shutdown(context.Background())

	log := &settleLog{}
	boom := errors.New("boom")
	t1, err := p.Submit(func(context.Context) (*core.Result, error) { return nil, boom }, log.settle)
	require.NoError(t, err)
	t2, err := p.Submit(func(context.Context) (*core.Result, error) { panic("driver bug") }, log.settle)
	require.NoError(t, err)
	assert.NotEqual(t, t1.ID(), t2.ID())

	require.Eventually(t, func() bool { return len(log.list()) == 2 }, time.Second, time.Millisecond)
	byID := map[uint64]error{}
	for _, s := range log.list() {
		byID[s.taskID] = s.err
	}
	assert.ErrorIs(t, byID[t1.ID()], boom)
	assert.ErrorContains(t, byID[t2.ID()], "driver bug")
}

func TestPoolShutdownDrainsQueue(t *testing.T) {
	p := NewPool(1, testLogger())
	log := &settleLog{}
	for i := 0; i < 3; i++ {
		_, err := p.Submit(func(context.Context) (*core.Result, error) {
			time.Sleep(5 * time.Millisecond)
			return &core.Result{}, nil
		}, log.settle)
		require.NoError(t, err)
	}

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Len(t, log.list(), 3)

	_, err := p.Submit(func(context.Context) (*core.Result, error) { return nil, nil }, log.settle)
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolShutdownDeadlineAbandons(t *testing.T) {
	p := NewPool(1, testLogger())
	release := make(chan struct{})
	defer close(release)
	log := &settleLog{}
	task, err := p.Submit(func(context.Context) (*core.Result, error) {
		<-release
		return nil, nil
	}, log.settle)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return p.Stats().Active == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = p.Shutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, task.abandoned())
}

func TestPoolDefaultSize(t *testing.T) {
	p := NewPool(0, testLogger())
	defer p.Shutdown(context.Background())
	assert.Greater(t, p.Stats().Size, 0)
}

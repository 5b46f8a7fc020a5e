package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/taskgrid/internal/graph"
	"github.com/vk/taskgrid/internal/registry"
	"github.com/vk/taskgrid/internal/task"
)

// orderRecorder collects task completion order across goroutines.
type orderRecorder struct {
	mu    sync.Mutex
	order []string
}

func (o *orderRecorder) work(label string) task.WorkItem {
	return task.NewFunc(label, func(ctx context.Context) (any, error) {
		o.mu.Lock()
		o.order = append(o.order, label)
		o.mu.Unlock()
		return label, nil
	})
}

func (o *orderRecorder) indexOf(label string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, l := range o.order {
		if l == label {
			return i
		}
	}
	return -1
}

func TestSingleDependency(t *testing.T) {
	rec := &orderRecorder{}
	r := New(Options{MaxConcurrency: 2})
	require.NoError(t, r.AddTask(rec.work("A"), "A"))
	require.NoError(t, r.AddTask(rec.work("B"), "B", "A"))

	_, err := r.Run(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, rec.order)
}

func TestMultipleDependencies(t *testing.T) {
	rec := &orderRecorder{}
	r := New(Options{MaxConcurrency: 3})
	require.NoError(t, r.AddTask(rec.work("A"), "A"))
	require.NoError(t, r.AddTask(rec.work("B"), "B"))
	require.NoError(t, r.AddTask(rec.work("C"), "C", "A", "B"))

	_, err := r.Run(context.Background(), true)
	require.NoError(t, err)

	c := rec.indexOf("C")
	require.GreaterOrEqual(t, c, 0)
	assert.Greater(t, c, rec.indexOf("A"))
	assert.Greater(t, c, rec.indexOf("B"))
}

func TestChainedDependencies(t *testing.T) {
	rec := &orderRecorder{}
	r := New(Options{})
	require.NoError(t, r.AddTask(rec.work("A"), "A"))
	require.NoError(t, r.AddTask(rec.work("B"), "B", "A"))
	require.NoError(t, r.AddTask(rec.work("C"), "C", "B"))

	_, err := r.Run(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, rec.order)
}

func TestFailedDependencySkipsDependent(t *testing.T) {
	var dependentRan atomic.Bool
	r := New(Options{})
	require.NoError(t, r.AddTask(failWork("fail_task", "fail"), "fail_task"))
	require.NoError(t, r.AddTask(task.NewFunc("dependent", func(ctx context.Context) (any, error) {
		dependentRan.Store(true)
		return nil, nil
	}), "dependent", "fail_task"))

	results, err := r.Run(context.Background(), false)
	require.NoError(t, err)

	assert.False(t, dependentRan.Load(), "dependent must never start when its dependency fails")
	assert.True(t, results["fail_task"].HasFailed)
	assert.Equal(t, registry.StatusFailed, results["fail_task"].Status)
	assert.Equal(t, registry.StatusTerminated, results["dependent"].Status)
	assert.Contains(t, results["dependent"].Error, "fail_task")
}

func TestSkipPropagatesAcrossChains(t *testing.T) {
	var ran atomic.Int32
	count := func(label string) task.WorkItem {
		return task.NewFunc(label, func(ctx context.Context) (any, error) {
			ran.Add(1)
			return nil, nil
		})
	}

	r := New(Options{MaxConcurrency: 4})
	require.NoError(t, r.AddTask(failWork("A", "root failure"), "A"))
	require.NoError(t, r.AddTask(count("B"), "B", "A"))
	require.NoError(t, r.AddTask(count("C"), "C", "B"))
	require.NoError(t, r.AddTask(count("D"), "D", "C"))

	results, err := r.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Zero(t, ran.Load())
	for _, label := range []string{"B", "C", "D"} {
		assert.Equal(t, registry.StatusTerminated, results[label].Status, label)
	}
}

func TestDirectCircularDependency(t *testing.T) {
	r := New(Options{})
	err := r.AddTask(sleepWork("A", 0), "A", "A")
	assert.ErrorIs(t, err, graph.ErrSelfDependency)
}

func TestForwardDependencyRejected(t *testing.T) {
	r := New(Options{})
	err := r.AddTask(sleepWork("A", 0), "A", "B")
	assert.ErrorIs(t, err, graph.ErrUnknownDependency)
}

func TestConcurrencyNeverExceedsLimit(t *testing.T) {
	const limit = 3
	var current, peak atomic.Int32

	r := New(Options{MaxConcurrency: limit})
	for i := 0; i < 8; i++ {
		require.NoError(t, r.AddTask(task.NewFunc("busy", func(ctx context.Context) (any, error) {
			cur := current.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(100 * time.Millisecond)
			current.Add(-1)
			return nil, nil
		}), ""))
	}

	_, err := r.Run(context.Background(), true)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(limit))
}

func TestSequentialExecutionWithCapOne(t *testing.T) {
	const taskTime = 300 * time.Millisecond

	r := New(Options{MaxConcurrency: 1})
	require.NoError(t, r.AddTask(sleepWork("A", taskTime), "A"))
	require.NoError(t, r.AddTask(sleepWork("B", taskTime), "B"))

	start := time.Now()
	_, err := r.Run(context.Background(), true)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 2*taskTime,
		"with a cap of one the tasks must run back to back")
}

func TestDependentStartsAfterDependencyFinishes(t *testing.T) {
	r := New(Options{MaxConcurrency: 2})
	require.NoError(t, r.AddTask(sleepWork("A", 150*time.Millisecond), "A"))
	require.NoError(t, r.AddTask(sleepWork("B", 0), "B", "A"))

	results, err := r.Run(context.Background(), true)
	require.NoError(t, err)

	a, b := results["A"], results["B"]
	assert.False(t, b.StartTime.Before(a.EndTime),
		"B started at %v before A finished at %v", b.StartTime, a.EndTime)
}

package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/taskgrid/internal/registry"
	"github.com/vk/taskgrid/internal/task"
)

func sleepWork(name string, d time.Duration) task.WorkItem {
	return task.NewFunc(name, func(ctx context.Context) (any, error) {
		time.Sleep(d)
		return name, nil
	})
}

func failWork(name, msg string) task.WorkItem {
	return task.NewFunc(name, func(ctx context.Context) (any, error) {
		return nil, errors.New(msg)
	})
}

func TestSuccessfulTaskExecution(t *testing.T) {
	r := New(Options{MaxConcurrency: 2})
	require.NoError(t, r.AddTask(task.NewFunc("answer", func(ctx context.Context) (any, error) {
		return 42, nil
	}), "answer"))

	results, err := r.Run(context.Background(), true)
	require.NoError(t, err)

	rec := results["answer"]
	assert.Equal(t, registry.StatusSuccessful, rec.Status)
	assert.Equal(t, 42, rec.Result)
	assert.False(t, rec.HasFailed)
	assert.Empty(t, rec.Error)
	assert.False(t, rec.StartTime.IsZero())
	assert.False(t, rec.EndTime.IsZero())
}

func TestTaskFailureHandling(t *testing.T) {
	r := New(Options{})
	require.NoError(t, r.AddTask(failWork("broken", "boom"), "broken"))

	results, err := r.Run(context.Background(), false)
	require.NoError(t, err)

	rec := results["broken"]
	assert.Equal(t, registry.StatusFailed, rec.Status)
	assert.True(t, rec.HasFailed)
	assert.Contains(t, rec.Error, "boom")
}

func TestEmptyErrorMessageIsRecordedAsFailure(t *testing.T) {
	r := New(Options{})
	require.NoError(t, r.AddTask(task.NewFunc("silent", func(ctx context.Context) (any, error) {
		return nil, errors.New("")
	}), "silent"))

	results, err := r.Run(context.Background(), false)
	require.NoError(t, err)

	rec := results["silent"]
	assert.Equal(t, registry.StatusFailed, rec.Status)
	assert.True(t, rec.HasFailed)
	assert.Error(t, r.Verify(), "a failure with an empty message must not verify clean")
}

func TestVerifyReturnsAggregateError(t *testing.T) {
	r := New(Options{})
	require.NoError(t, r.AddTask(failWork("a", "first failure"), "a"))
	require.NoError(t, r.AddTask(failWork("b", "second failure"), "b"))

	_, err := r.Run(context.Background(), true)
	require.Error(t, err)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Len(t, runErr.Failures, 2)
	assert.Contains(t, runErr.Error(), "first failure")
	assert.Contains(t, runErr.Error(), "second failure")
	assert.Contains(t, runErr.Error(), "STATUS")
}

func TestFastFail(t *testing.T) {
	r := New(Options{MaxConcurrency: 4, FastFail: true})
	require.NoError(t, r.AddTask(failWork("bad", "instant failure"), "bad"))
	for _, label := range []string{"s1", "s2", "s3"} {
		require.NoError(t, r.AddTask(sleepWork(label, 5*time.Second), label))
	}

	start := time.Now()
	results, err := r.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second, "fast-fail should not wait for the sleepers")

	assert.True(t, results["bad"].HasFailed)
	for _, label := range []string{"s1", "s2", "s3"} {
		rec := results[label]
		assert.NotEqual(t, registry.StatusSuccessful, rec.Status, label)
		assert.NotEqual(t, registry.StatusPending, rec.Status, label)
		assert.True(t, rec.HasFailed, label)
	}
}

func TestAbort(t *testing.T) {
	r := New(Options{MaxConcurrency: 2})
	require.NoError(t, r.AddTask(sleepWork("slow1", 5*time.Second), "slow1"))
	require.NoError(t, r.AddTask(sleepWork("slow2", 5*time.Second), "slow2"))

	require.NoError(t, r.ExecuteInBackground(context.Background()))
	time.Sleep(100 * time.Millisecond)

	results := r.Abort()
	assert.False(t, r.IsRunning())
	for _, label := range []string{"slow1", "slow2"} {
		rec := results[label]
		assert.Equal(t, registry.StatusTerminated, rec.Status, label)
		assert.True(t, rec.HasFailed, label)
	}
}

func TestBackgroundExecutionAndIdempotentResults(t *testing.T) {
	r := New(Options{MaxConcurrency: 2})
	require.NoError(t, r.AddTask(sleepWork("a", 50*time.Millisecond), "a"))
	require.NoError(t, r.AddTask(sleepWork("b", 50*time.Millisecond), "b"))

	require.NoError(t, r.ExecuteInBackground(context.Background()))

	first, err := r.Results(false)
	require.NoError(t, err)
	second, err := r.Results(false)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, registry.StatusSuccessful, first["a"].Status)
	assert.Equal(t, registry.StatusSuccessful, first["b"].Status)
}

func TestTimeoutTerminatesSlowTask(t *testing.T) {
	r := New(Options{MaxConcurrency: 2, Timeout: 300 * time.Millisecond})
	require.NoError(t, r.AddTask(sleepWork("slow", 5*time.Second), "slow"))
	require.NoError(t, r.AddTask(task.NewFunc("fast", func(ctx context.Context) (any, error) {
		return "real result", nil
	}), "fast"))

	results, err := r.Run(context.Background(), false)
	require.NoError(t, err)

	fast := results["fast"]
	assert.Equal(t, registry.StatusSuccessful, fast.Status)
	assert.Equal(t, "real result", fast.Result)

	slow := results["slow"]
	assert.Contains(t, []registry.Status{registry.StatusTerminated, registry.StatusFailed}, slow.Status)
	assert.True(t, slow.HasFailed)
}

func TestNoTasks(t *testing.T) {
	r := New(Options{})
	results, err := r.Run(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDuplicateLabels(t *testing.T) {
	r := New(Options{})
	require.NoError(t, r.AddTask(sleepWork("a", 0), "same"))
	err := r.AddTask(sleepWork("b", 0), "same")
	assert.ErrorIs(t, err, ErrDuplicateLabel)
}

func TestNilWorkRejected(t *testing.T) {
	r := New(Options{})
	assert.ErrorIs(t, r.AddTask(nil, "nothing"), ErrNilWork)
}

func TestLifecycleErrors(t *testing.T) {
	r := New(Options{})
	require.NoError(t, r.AddTask(sleepWork("a", 10*time.Millisecond), "a"))

	_, err := r.Results(false)
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, r.ExecuteInBackground(context.Background()))
	assert.ErrorIs(t, r.ExecuteInBackground(context.Background()), ErrAlreadyStarted)
	assert.ErrorIs(t, r.AddTask(sleepWork("late", 0), "late"), ErrAlreadyStarted)

	_, err = r.Results(false)
	require.NoError(t, err)
}

func TestAddTaskConcurrentWithStart(t *testing.T) {
	r := New(Options{MaxConcurrency: 4})
	require.NoError(t, r.AddTask(sleepWork("seed", 10*time.Millisecond), "seed"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			if err := r.AddTask(sleepWork("extra", 0), ""); err != nil {
				assert.ErrorIs(t, err, ErrAlreadyStarted)
				return
			}
		}
	}()

	require.NoError(t, r.ExecuteInBackground(context.Background()))
	<-done

	results, err := r.Results(false)
	require.NoError(t, err)

	// Every registration that succeeded must have been executed: nothing may
	// slip into the queue after the run has started and sit there Pending.
	assert.Len(t, results, r.Len())
	for label, rec := range results {
		assert.NotEqual(t, registry.StatusPending, rec.Status, label)
	}
}

func TestVerifyWhileRunning(t *testing.T) {
	r := New(Options{})
	require.NoError(t, r.AddTask(sleepWork("slow", 500*time.Millisecond), "slow"))
	require.NoError(t, r.ExecuteInBackground(context.Background()))

	assert.ErrorIs(t, r.Verify(), ErrStillRunning)

	_, err := r.Results(false)
	require.NoError(t, err)
	assert.NoError(t, r.Verify())
}

func TestAutoLabelsUseRegistrationIndex(t *testing.T) {
	r := New(Options{MaxConcurrency: 3})
	for i := 0; i < 3; i++ {
		require.NoError(t, r.AddTask(sleepWork("anon", 0), ""))
	}

	results, err := r.Run(context.Background(), true)
	require.NoError(t, err)
	for _, label := range []string{"0", "1", "2"} {
		rec, ok := results[label]
		require.True(t, ok, "expected auto label %q", label)
		assert.Equal(t, registry.StatusSuccessful, rec.Status)
	}
}

func TestLenAndActiveCount(t *testing.T) {
	r := New(Options{MaxConcurrency: 2})
	require.NoError(t, r.AddTask(sleepWork("a", 300*time.Millisecond), "a"))
	require.NoError(t, r.AddTask(sleepWork("b", 300*time.Millisecond), "b"))
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 0, r.ActiveCount())

	require.NoError(t, r.ExecuteInBackground(context.Background()))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, r.ActiveCount())

	_, err := r.Results(false)
	require.NoError(t, err)
	assert.Equal(t, 0, r.ActiveCount())
}

func TestMaxConcurrencyClampedToOne(t *testing.T) {
	r := New(Options{MaxConcurrency: -3})

	var current, max atomic.Int32
	work := func(ctx context.Context) (any, error) {
		cur := current.Add(1)
		if cur > max.Load() {
			max.Store(cur)
		}
		time.Sleep(50 * time.Millisecond)
		current.Add(-1)
		return nil, nil
	}
	require.NoError(t, r.AddTask(task.NewFunc("first", work), "first"))
	require.NoError(t, r.AddTask(task.NewFunc("second", work), "second"))

	_, err := r.Run(context.Background(), true)
	require.NoError(t, err)
	assert.LessOrEqual(t, max.Load(), int32(1))
}

func TestPanicIsRecordedAsFailure(t *testing.T) {
	r := New(Options{})
	require.NoError(t, r.AddTask(task.NewFunc("panicky", func(ctx context.Context) (any, error) {
		panic("kaboom")
	}), "panicky"))

	results, err := r.Run(context.Background(), false)
	require.NoError(t, err)

	rec := results["panicky"]
	assert.Equal(t, registry.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "kaboom")
	assert.NotEmpty(t, rec.Trace)
}

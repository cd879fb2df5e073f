package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aquasecurity/lookout/pkg/ext"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// ErrTimeout is returned for a task that did not complete within its
// timeout.
var ErrTimeout = errors.New("runner received timeout")

// Runnable is the interface that wraps the basic Run method.
//
// Run should be implemented by any task intended to be executed by the Runner.
type Runnable interface {
	Run(ctx context.Context) error
}

// The RunnableFunc type is an adapter to allow the use of ordinary functions as Runnable tasks.
// If f is a function with the appropriate signature, RunnableFunc(f) is a Runnable that calls f.
type RunnableFunc func(ctx context.Context) error

// Run calls f()
func (f RunnableFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Result of a single task. Results are reported in the order the tasks
// were submitted.
type Result struct {
	Err      error
	Duration time.Duration
}

// Runner is the interface that wraps the basic Run method.
//
// Run executes submitted Runnable tasks and blocks until every task has
// returned. A failing task never cancels its siblings.
type Runner interface {
	Run(ctx context.Context, tasks ...Runnable) []Result
}

// New constructs a Runner executing at most maxConcurrency tasks at a time.
// Each task gets its own context bounded by timeout. A timeout of zero
// means no per-task limit.
func New(maxConcurrency int, timeout time.Duration) Runner {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &runner{
		maxConcurrency: maxConcurrency,
		timeout:        timeout,
	}
}

type runner struct {
	maxConcurrency int
	timeout        time.Duration
}

func (r *runner) Run(ctx context.Context, tasks ...Runnable) []Result {
	results := make([]Result, len(tasks))

	if len(tasks) == 0 {
		return results
	}

	var g errgroup.Group
	g.SetLimit(ext.MinInt(r.maxConcurrency, len(tasks)))

	klog.V(3).Infof("Running %d tasks with max concurrency %d and timeout %v", len(tasks), r.maxConcurrency, r.timeout)
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			results[i] = r.runTask(ctx, i, task)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *runner) runTask(ctx context.Context, i int, task Runnable) Result {
	if err := ctx.Err(); err != nil {
		klog.V(3).Infof("Skipping task %d: %v", i, err)
		return Result{Err: err}
	}

	taskCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	err := task.Run(taskCtx)
	duration := time.Since(start)

	if err != nil && ctx.Err() == nil && errors.Is(taskCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		err = fmt.Errorf("%w after %v: %w", ErrTimeout, r.timeout, err)
	}
	klog.V(3).Infof("Task %d completed in %v with error: %v", i, duration, err)
	return Result{Err: err, Duration: duration}
}

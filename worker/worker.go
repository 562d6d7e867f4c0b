// Package worker is a reference dispatch-loop agent (spec §4.4.3) showing how a service
// executor is expected to drive the engine: open a transaction, select and claim runnable
// tasks, commit, then hand each claimed task to an executor callback running in its own
// goroutine. None of this is required by the dispatcher or lifecycle packages themselves —
// a deployment is free to drive them from whatever poll loop fits its own process model.
package worker

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/buildbeaver/workflow-engine/common/logger"
	"github.com/buildbeaver/workflow-engine/common/models"
	"github.com/buildbeaver/workflow-engine/common/util"
	"github.com/buildbeaver/workflow-engine/engine/services/dispatch"
	"github.com/buildbeaver/workflow-engine/engine/services/lifecycle"
)

const (
	DefaultPollInterval     = time.Second
	DefaultBatchSize        = 20
	defaultPollErrorBackoff = time.Second
	maxPollErrorBackoff     = time.Minute
)

// Executor runs a single claimed task to completion. A nil error with a non-nil payload marks
// the task done with that payload merged into its results; a non-nil error marks the task
// errored with code "executor_error" and the error's message, letting the lifecycle manager
// decide between retry and terminal failure.
type Executor func(ctx context.Context, task *models.JobTask) (results models.Payload, err error)

type Config struct {
	Service      string
	NodeName     string
	PollInterval time.Duration
	BatchSize    int
}

// Worker polls the dispatcher for runnable tasks belonging to Config.Service and runs each one
// through an Executor, reporting outcomes back through the lifecycle manager.
type Worker struct {
	*util.StatefulService
	config     Config
	dispatcher *dispatch.Dispatcher
	lifecycle  *lifecycle.Manager
	executor   Executor
	rng        *rand.Rand
	wg         sync.WaitGroup
	logger.Log
}

func NewWorker(
	config Config,
	dispatcher *dispatch.Dispatcher,
	lifecycleManager *lifecycle.Manager,
	executor Executor,
	logFactory logger.LogFactory,
) *Worker {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	w := &Worker{
		config:     config,
		dispatcher: dispatcher,
		lifecycle:  lifecycleManager,
		executor:   executor,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		Log:        logFactory("Worker[" + config.Service + "]"),
	}
	w.StatefulService = util.NewStatefulService(context.Background(), w.Log, w.loop)
	return w
}

func (w *Worker) loop() {
	w.Tracef("starting dispatch loop for service %q on node %q", w.config.Service, w.config.NodeName)
	failures := 0
	for {
		ctx := w.Ctx()
		select {
		case <-ctx.Done():
			w.Tracef("dispatch loop exiting; waiting for in-flight tasks to finish")
			w.wg.Wait()
			return
		default:
		}

		claimed, err := w.dispatcher.SelectAndClaim(ctx, nil, w.config.Service, w.config.NodeName, w.config.BatchSize, time.Now())
		if err != nil {
			failures++
			delay := pollErrorBackoff(failures, w.rng)
			w.Errorf("error selecting and claiming tasks: %s; retrying in %s", err.Error(), delay)
			sleep(ctx, delay)
			continue
		}
		failures = 0

		for _, task := range claimed {
			w.wg.Add(1)
			go w.runTask(task)
		}

		if len(claimed) == 0 {
			sleep(ctx, w.config.PollInterval)
		}
	}
}

func (w *Worker) runTask(task *models.JobTask) {
	defer w.wg.Done()
	ctx := context.Background()
	now := time.Now()

	if err := w.lifecycle.MarkRunning(ctx, nil, task.ID, now); err != nil {
		w.Errorf("error marking task %s running: %s", task.ID, err.Error())
		return
	}

	results, err := w.executor(ctx, task)
	now = time.Now()
	if err != nil {
		if markErr := w.lifecycle.MarkError(ctx, nil, task.ID, "executor_error", err.Error(), now); markErr != nil {
			w.Errorf("error marking task %s error: %s", task.ID, markErr.Error())
		}
		return
	}
	if markErr := w.lifecycle.MarkDone(ctx, nil, task.ID, results, now); markErr != nil {
		w.Errorf("error marking task %s done: %s", task.ID, markErr.Error())
	}
}

// sleep waits for d or until ctx is cancelled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// pollErrorBackoff computes exponential backoff (with jitter) for consecutive transaction
// failures in the dispatch loop itself, as distinct from lifecycle.BackoffConfig's per-task
// retry backoff.
func pollErrorBackoff(failures int, rng *rand.Rand) time.Duration {
	doublingCount := math.Min(float64(failures-1), 10)
	interval := float64(defaultPollErrorBackoff) * math.Pow(2, doublingCount)
	if interval > float64(maxPollErrorBackoff) {
		interval = float64(maxPollErrorBackoff)
	}
	jitter := (rng.Float64()*2 - 1) * 0.2 * interval
	return time.Duration(interval + jitter)
}

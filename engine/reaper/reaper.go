// Package reaper implements the liveness sweep described in spec §5: if a worker dies after
// claiming a task but before completing it, the task is stuck in starting or running forever
// unless something external notices and returns it to queued. The core dispatcher and
// lifecycle packages have no dependency on this package and perform no liveness detection of
// their own; they only expose the claimed_at column the reaper reads here. A deployment that
// never expects workers to die can simply not run it.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/buildbeaver/workflow-engine/common/logger"
	"github.com/buildbeaver/workflow-engine/common/models"
	"github.com/buildbeaver/workflow-engine/common/util"
	"github.com/buildbeaver/workflow-engine/engine/services/lifecycle"
	"github.com/buildbeaver/workflow-engine/engine/store"
	"github.com/buildbeaver/workflow-engine/engine/store/tasks"
)

const (
	defaultHeartbeatTimeout = 10 * time.Minute
	defaultPollInterval     = time.Minute
)

// sweepRequest is sent on sweepChan to ask the poll loop to run an out-of-schedule sweep, used
// by tests that don't want to wait out defaultPollInterval.
type sweepRequest struct {
	timeout   time.Duration
	replyChan chan int
}

// Reaper periodically scans for tasks claimed longer than a heartbeat timeout ago and returns
// them to queued, incrementing attempt, so the dispatcher can hand them to a different worker.
// A task whose attempts are already exhausted is instead driven to its terminal error state via
// the ordinary lifecycle.Manager, so skip propagation and job completion still fire correctly.
type Reaper struct {
	*util.StatefulService
	db               *store.DB
	taskStore        *tasks.Store
	lifecycleManager *lifecycle.Manager
	heartbeatTimeout time.Duration
	pollInterval     time.Duration
	sweepChan        chan *sweepRequest
	logger.Log
}

func NewReaper(
	db *store.DB,
	taskStore *tasks.Store,
	lifecycleManager *lifecycle.Manager,
	heartbeatTimeout time.Duration,
	logFactory logger.LogFactory,
) *Reaper {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = defaultHeartbeatTimeout
	}
	r := &Reaper{
		db:               db,
		taskStore:        taskStore,
		lifecycleManager: lifecycleManager,
		heartbeatTimeout: heartbeatTimeout,
		pollInterval:     defaultPollInterval,
		sweepChan:        make(chan *sweepRequest),
		Log:              logFactory("Reaper"),
	}
	r.StatefulService = util.NewStatefulService(context.Background(), r.Log, r.loop)
	return r
}

func (r *Reaper) loop() {
	r.Tracef("starting liveness sweep loop")
	for {
		select {
		case <-r.StatefulService.Ctx().Done():
			r.Tracef("liveness sweep loop exiting")
			return

		case req := <-r.sweepChan:
			count, err := r.Sweep(r.Ctx(), req.timeout, time.Now())
			if err != nil {
				r.Errorf("error sweeping stale tasks: %s", err.Error())
			}
			req.replyChan <- count

		case <-time.After(r.pollInterval):
			count, err := r.Sweep(r.Ctx(), r.heartbeatTimeout, time.Now())
			if err != nil {
				r.Errorf("error sweeping stale tasks: %s", err.Error())
			}
			if count > 0 {
				r.Infof("reaped %d stale task(s)", count)
			}
		}
	}
}

// SweepNow requests an out-of-schedule sweep using timeout and blocks until it completes,
// returning the number of tasks reaped. Intended for tests.
func (r *Reaper) SweepNow(timeout time.Duration) int {
	req := &sweepRequest{timeout: timeout, replyChan: make(chan int)}
	r.sweepChan <- req
	return <-req.replyChan
}

// Sweep finds every task claimed more than timeout ago and still in starting or running, and
// either requeues it (attempts remain) or fails it (attempts exhausted). Each task is handled in
// its own transaction so one failure doesn't block the rest of the sweep.
func (r *Reaper) Sweep(ctx context.Context, timeout time.Duration, now time.Time) (int, error) {
	deadline := now.Add(-timeout)
	var stale []*models.JobTask
	err := r.db.WithTx(ctx, nil, func(tx *store.Tx) error {
		var err error
		stale, err = r.taskStore.ListStale(ctx, tx, deadline)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("error listing stale tasks: %w", err)
	}

	reaped := 0
	for _, task := range stale {
		if err := r.reapOne(ctx, task.ID, now); err != nil {
			r.Errorf("error reaping task %s: %s", task.ID, err.Error())
			continue
		}
		reaped++
	}
	return reaped, nil
}

func (r *Reaper) reapOne(ctx context.Context, taskID models.JobTaskID, now time.Time) error {
	return r.db.WithTx(ctx, nil, func(tx *store.Tx) error {
		task, err := r.taskStore.ReadAndLockForUpdate(ctx, tx, taskID)
		if err != nil {
			return fmt.Errorf("error reading task: %w", err)
		}
		// Re-check status and claim age now that we hold the lock: the task may have
		// finished or been re-claimed between the list and here.
		if task.Status != models.TaskStatusStarting && task.Status != models.TaskStatusRunning {
			return nil
		}
		if task.ClaimedAt == nil {
			return nil
		}

		if task.Attempt+1 >= task.MaxAttempts {
			return r.lifecycleManager.MarkError(ctx, tx, taskID, "timeout",
				"task timed out: worker stopped heartbeating before completion", now)
		}

		nowModel := models.NewTime(now)
		task.Attempt++
		task.Status = models.TaskStatusQueued
		task.ClaimedBy = ""
		task.AssignedNode = ""
		task.ClaimedAt = nil
		task.StartedAt = nil
		task.NextAttemptAt = nil
		task.UpdatedAt = nowModel
		if err := r.taskStore.Update(ctx, tx, task); err != nil {
			return fmt.Errorf("error requeuing stale task: %w", err)
		}
		r.WithField("task_id", taskID.String()).Infof("requeued stale task after timeout, attempt %d", task.Attempt)
		return nil
	})
}

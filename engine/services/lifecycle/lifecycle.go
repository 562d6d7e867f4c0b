// Package lifecycle implements the JobTask state machine (spec §4.5): the transitions a
// worker drives a claimed task through (running, progress, done, error) and the propagation
// of terminal outcomes up to the owning Job and out to the task's dependents.
package lifecycle

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/buildbeaver/workflow-engine/common/gerror"
	"github.com/buildbeaver/workflow-engine/common/logger"
	"github.com/buildbeaver/workflow-engine/common/models"
	"github.com/buildbeaver/workflow-engine/engine/store"
	"github.com/buildbeaver/workflow-engine/engine/store/jobs"
	"github.com/buildbeaver/workflow-engine/engine/store/tasks"
	"github.com/buildbeaver/workflow-engine/engine/store/workflows"
)

// Manager drives JobTask transitions and the job-completion / skip-propagation side effects
// that follow from them. Every exported method wraps its work in a single transaction and
// takes the row lock (ReadAndLockForUpdate) before deciding anything, so concurrent
// transitions on the same task or job serialize rather than race.
type Manager struct {
	db            *store.DB
	taskStore     *tasks.Store
	jobStore      *jobs.Store
	workflowStore *workflows.Store
	backoff       BackoffConfig
	rngMu         sync.Mutex
	rng           *rand.Rand
	logger.Log
}

func NewManager(db *store.DB, taskStore *tasks.Store, jobStore *jobs.Store, workflowStore *workflows.Store, backoff BackoffConfig, logFactory logger.LogFactory) *Manager {
	return &Manager{
		db:            db,
		taskStore:     taskStore,
		jobStore:      jobStore,
		workflowStore: workflowStore,
		backoff:       backoff,
		rng:           rand.New(rand.NewSource(1)),
		Log:           logFactory("Lifecycle"),
	}
}

// nextAttemptDelay guards m.rng with a mutex: *rand.Rand is not safe for concurrent use, and
// MarkError is called from one goroutine per claimed task against a shared Manager.
func (m *Manager) nextAttemptDelay(attempt int) time.Duration {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return m.backoff.NextAttemptDelay(attempt, m.rng)
}

// MarkRunning transitions a claimed (starting) task to running, setting started_at the first
// time it is called. Calling it again on an already-running task is a no-op success: a worker
// that retries its "I've started" call after a network blip must not be punished for it.
func (m *Manager) MarkRunning(ctx context.Context, txOrNil *store.Tx, taskID models.JobTaskID, now time.Time) error {
	return m.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		task, err := m.taskStore.ReadAndLockForUpdate(ctx, tx, taskID)
		if err != nil {
			return fmt.Errorf("error reading task: %w", err)
		}
		if task.Status == models.TaskStatusRunning {
			return nil
		}
		if task.Status != models.TaskStatusStarting {
			return gerror.NewErrValidationFailed(fmt.Sprintf("cannot mark task %s running from status %q", taskID, task.Status))
		}
		task.Status = models.TaskStatusRunning
		nowModel := models.NewTime(now)
		if task.StartedAt == nil {
			task.StartedAt = &nowModel
		}
		task.UpdatedAt = nowModel
		return m.taskStore.Update(ctx, tx, task)
	})
}

// UpdateProgress records a worker's progress heartbeat. It is tolerant of out-of-order
// delivery: a progress update that arrives after the task has already reached a terminal
// state is a silent no-op rather than an error, since a slow heartbeat racing a done/error
// report is expected, not exceptional. A value lower than the recorded progress is ignored
// in the same way, so progress never decreases.
func (m *Manager) UpdateProgress(ctx context.Context, txOrNil *store.Tx, taskID models.JobTaskID, progress float64, now time.Time) error {
	if progress < 0 || progress > 1 {
		return gerror.NewErrValidationFailed("progress must be within [0,1]")
	}
	return m.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		task, err := m.taskStore.ReadAndLockForUpdate(ctx, tx, taskID)
		if err != nil {
			return fmt.Errorf("error reading task: %w", err)
		}
		if task.Status.IsTerminal() || progress < task.Progress {
			return nil
		}
		task.Progress = progress
		task.UpdatedAt = models.NewTime(now)
		return m.taskStore.Update(ctx, tx, task)
	})
}

// MarkDone transitions a task to done, merging results into the task's existing results
// rather than replacing them (a nil results leaves whatever is already recorded untouched),
// then evaluates whether the owning job has now finished.
func (m *Manager) MarkDone(ctx context.Context, txOrNil *store.Tx, taskID models.JobTaskID, results models.Payload, now time.Time) error {
	var jobID models.JobID
	err := m.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		task, err := m.taskStore.ReadAndLockForUpdate(ctx, tx, taskID)
		if err != nil {
			return fmt.Errorf("error reading task: %w", err)
		}
		if task.Status.IsTerminal() {
			return nil
		}
		nowModel := models.NewTime(now)
		task.Status = models.TaskStatusDone
		task.Progress = 1
		task.Results = models.MergePayload(task.Results, results)
		task.FinishedAt = &nowModel
		task.UpdatedAt = nowModel
		if err := m.taskStore.Update(ctx, tx, task); err != nil {
			return fmt.Errorf("error marking task done: %w", err)
		}
		jobID = task.JobID
		return nil
	})
	if err != nil {
		return err
	}
	if jobID.Valid() {
		return m.MaybeFinishJob(ctx, nil, jobID, now)
	}
	return nil
}

// MarkError records a failed attempt. If the task has attempts remaining it is requeued with
// an exponential back-off delay; otherwise it is terminated in the error state, which
// triggers skip propagation to its dependents and a job-completion check.
func (m *Manager) MarkError(ctx context.Context, txOrNil *store.Tx, taskID models.JobTaskID, code, message string, now time.Time) error {
	return m.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		task, err := m.taskStore.ReadAndLockForUpdate(ctx, tx, taskID)
		if err != nil {
			return fmt.Errorf("error reading task: %w", err)
		}
		if task.Status.IsTerminal() {
			return nil
		}
		nowModel := models.NewTime(now)
		errPayload := models.Payload{"error": models.Payload{"code": code, "message": message}}
		task.Results = models.MergePayload(task.Results, errPayload)
		task.Attempt++
		task.UpdatedAt = nowModel

		terminal := false
		if task.Attempt >= task.MaxAttempts {
			task.Status = models.TaskStatusError
			task.FinishedAt = &nowModel
			terminal = true
		} else {
			delay := m.nextAttemptDelay(task.Attempt - 1)
			next := models.NewTime(now.Add(delay))
			task.Status = models.TaskStatusQueued
			task.NextAttemptAt = &next
			task.ClaimedBy = ""
			task.AssignedNode = ""
			task.ClaimedAt = nil
		}
		if err := m.taskStore.Update(ctx, tx, task); err != nil {
			return fmt.Errorf("error marking task error: %w", err)
		}
		if terminal {
			if err := m.propagateSkip(ctx, tx, task.JobID, now); err != nil {
				return fmt.Errorf("error propagating skip: %w", err)
			}
		}
		return m.MaybeFinishJob(ctx, tx, task.JobID, now)
	})
}

// propagateSkip marks every task depending, directly or transitively, on a task that has just
// terminated in error as skipped, unless its workflow step opted out via ContinueOnSkip. Skips
// are recomputed as a fixed-point walk over the job's remaining non-terminal tasks each time a
// task terminates in error, so it is idempotent: a task already skipped or otherwise terminal
// is left alone.
func (m *Manager) propagateSkip(ctx context.Context, txOrNil *store.Tx, jobID models.JobID, now time.Time) error {
	return m.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		job, err := m.jobStore.Read(ctx, tx, jobID)
		if err != nil {
			return fmt.Errorf("error reading job: %w", err)
		}
		workflow, err := m.workflowStore.Read(ctx, tx, job.WorkflowID)
		if err != nil {
			return fmt.Errorf("error reading workflow: %w", err)
		}
		allTasks, err := m.taskStore.ListByJobID(ctx, tx, jobID)
		if err != nil {
			return fmt.Errorf("error listing job tasks: %w", err)
		}

		byKey := make(map[string]*models.JobTask, len(allTasks))
		for _, t := range allTasks {
			byKey[t.TaskKey] = t
		}

		skippedKeys := make(map[string]bool)
		for _, t := range allTasks {
			if t.Status == models.TaskStatusSkipped {
				skippedKeys[t.TaskKey] = true
			}
		}

		// fixed-point walk: a step is skipped if any of its dependencies is either failed
		// terminally or already skipped, and the step itself does not opt out.
		for {
			changed := false
			for _, t := range allTasks {
				if t.Status.IsTerminal() {
					continue
				}
				step, ok := workflow.Steps.ByKey(t.TaskKey)
				if !ok {
					continue
				}
				if step.ContinueOnSkip {
					continue
				}
				for _, dep := range t.DependsOn {
					depTask, ok := byKey[dep]
					if !ok {
						continue
					}
					if depTask.Status == models.TaskStatusError || skippedKeys[dep] {
						nowModel := models.NewTime(now)
						t.Status = models.TaskStatusSkipped
						t.FinishedAt = &nowModel
						t.UpdatedAt = nowModel
						if err := m.taskStore.Update(ctx, tx, t); err != nil {
							return fmt.Errorf("error skipping task %q: %w", t.TaskKey, err)
						}
						skippedKeys[t.TaskKey] = true
						changed = true
						break
					}
				}
			}
			if !changed {
				break
			}
		}
		return nil
	})
}

// MaybeFinishJob evaluates the job-completion predicate (spec §4.5): a job moves to done once
// every one of its tasks has reached done or skipped, or to error once at least one task has
// reached error and no task remains non-terminal. It is idempotent and safe to call whenever a
// task terminates, whether or not the job has actually finished yet.
func (m *Manager) MaybeFinishJob(ctx context.Context, txOrNil *store.Tx, jobID models.JobID, now time.Time) error {
	return m.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		job, err := m.jobStore.ReadAndLockForUpdate(ctx, tx, jobID)
		if err != nil {
			return fmt.Errorf("error reading job: %w", err)
		}
		if job.Status.IsTerminal() {
			return nil
		}
		allTasks, err := m.taskStore.ListByJobID(ctx, tx, jobID)
		if err != nil {
			return fmt.Errorf("error listing job tasks: %w", err)
		}
		if len(allTasks) == 0 {
			return nil
		}

		var anyError, anyNonTerminal bool
		var doneCount int
		for _, t := range allTasks {
			switch {
			case t.Status == models.TaskStatusError:
				anyError = true
			case t.Status == models.TaskStatusDone || t.Status == models.TaskStatusSkipped:
				doneCount++
			default:
				anyNonTerminal = true
			}
		}

		nowModel := models.NewTime(now)
		switch {
		case anyNonTerminal:
			return nil
		case anyError:
			job.Status = models.JobStatusError
		case doneCount == len(allTasks):
			job.Status = models.JobStatusDone
		default:
			return nil
		}
		job.Progress = 1
		job.UpdatedAt = nowModel
		if err := m.jobStore.Update(ctx, tx, job); err != nil {
			return fmt.Errorf("error finishing job: %w", err)
		}
		m.Infof("job %s finished with status %s", jobID, job.Status)
		return nil
	})
}

package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/buildbeaver/workflow-engine/common/logger"
	"github.com/buildbeaver/workflow-engine/common/models"
	"github.com/buildbeaver/workflow-engine/engine/services/lifecycle"
	"github.com/buildbeaver/workflow-engine/engine/store/jobs"
	"github.com/buildbeaver/workflow-engine/engine/store/storetest"
	"github.com/buildbeaver/workflow-engine/engine/store/tasks"
	"github.com/buildbeaver/workflow-engine/engine/store/workflows"
)

func testLogFactory() logger.LogFactory {
	registry, err := logger.NewLogRegistry("")
	if err != nil {
		panic(err)
	}
	return logger.MakeLogrusLogFactoryStdOut(registry)
}

func TestLifecycleSingleTaskJob(t *testing.T) {
	db, cleanup, err := storetest.Connect(testLogFactory())
	require.NoError(t, err)
	defer cleanup()

	wfStore := workflows.NewStore(db, testLogFactory())
	jobStore := jobs.NewStore(db, testLogFactory())
	taskStore := tasks.NewStore(db, testLogFactory())
	manager := lifecycle.NewManager(db, taskStore, jobStore, wfStore, lifecycle.DefaultBackoffConfig, testLogFactory())

	now := models.NewTime(time.Now())
	workflow := models.NewWorkflow("transcode", 1, models.NewWorkflowSteps(
		models.NewWorkflowStep("encode", "transcode"),
	), now)
	require.NoError(t, wfStore.Create(context.Background(), nil, workflow))

	seq, err := jobStore.NextOrderSeq(context.Background(), nil)
	require.NoError(t, err)
	job := models.NewJob(workflow.ID, seq, 0, now)
	require.NoError(t, jobStore.Create(context.Background(), nil, job))

	task := models.NewJobTask(job.ID, workflow.Steps[0], now)
	task.Status = models.TaskStatusStarting
	task.ClaimedBy = "node-a"
	task.AssignedNode = "node-a"
	task.ClaimedAt = &now
	require.NoError(t, taskStore.Create(context.Background(), nil, task))

	ctx := context.Background()
	require.NoError(t, manager.MarkRunning(ctx, nil, task.ID, time.Now()))

	running, err := taskStore.Read(ctx, nil, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusRunning, running.Status)
	require.NotNil(t, running.StartedAt)

	// a duplicate MarkRunning call must be a no-op, not an error
	require.NoError(t, manager.MarkRunning(ctx, nil, task.ID, time.Now()))

	require.NoError(t, manager.UpdateProgress(ctx, nil, task.ID, 0.5, time.Now()))
	require.NoError(t, manager.MarkDone(ctx, nil, task.ID, models.Payload{"output_url": "s3://bucket/key"}, time.Now()))

	done, err := taskStore.Read(ctx, nil, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusDone, done.Status)
	require.Equal(t, float64(1), done.Progress)
	require.Equal(t, "s3://bucket/key", done.Results["output_url"])
	require.NotNil(t, done.FinishedAt)

	finishedJob, err := jobStore.Read(ctx, nil, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusDone, finishedJob.Status)

	// a late progress update racing the already-terminal task must be a silent no-op
	require.NoError(t, manager.UpdateProgress(ctx, nil, task.ID, 0.9, time.Now()))
	unchanged, err := taskStore.Read(ctx, nil, task.ID)
	require.NoError(t, err)
	require.Equal(t, float64(1), unchanged.Progress)
}

func TestLifecycleTerminalErrorSkipsDependents(t *testing.T) {
	db, cleanup, err := storetest.Connect(testLogFactory())
	require.NoError(t, err)
	defer cleanup()

	wfStore := workflows.NewStore(db, testLogFactory())
	jobStore := jobs.NewStore(db, testLogFactory())
	taskStore := tasks.NewStore(db, testLogFactory())
	manager := lifecycle.NewManager(db, taskStore, jobStore, wfStore, lifecycle.BackoffConfig{
		Base: time.Millisecond, Max: time.Second, Jitter: 0,
	}, testLogFactory())

	now := models.NewTime(time.Now())
	upstream := models.NewWorkflowStep("fetch", "fetcher")
	upstream.DependsOn = nil
	downstream := models.NewWorkflowStep("process", "processor", "fetch")
	optedOut := models.NewWorkflowStep("notify", "notifier", "fetch")
	optedOut.ContinueOnSkip = true

	workflow := models.NewWorkflow("pipeline", 1, models.NewWorkflowSteps(upstream, downstream, optedOut), now)
	require.NoError(t, wfStore.Create(context.Background(), nil, workflow))

	seq, err := jobStore.NextOrderSeq(context.Background(), nil)
	require.NoError(t, err)
	job := models.NewJob(workflow.ID, seq, 0, now)
	require.NoError(t, jobStore.Create(context.Background(), nil, job))

	ctx := context.Background()
	fetchTask := models.NewJobTask(job.ID, upstream, now)
	fetchTask.MaxAttempts = 1
	fetchTask.Status = models.TaskStatusStarting
	fetchTask.ClaimedBy, fetchTask.AssignedNode, fetchTask.ClaimedAt = "node-a", "node-a", &now
	require.NoError(t, taskStore.Create(ctx, nil, fetchTask))

	processTask := models.NewJobTask(job.ID, downstream, now)
	require.NoError(t, taskStore.Create(ctx, nil, processTask))

	notifyTask := models.NewJobTask(job.ID, optedOut, now)
	require.NoError(t, taskStore.Create(ctx, nil, notifyTask))

	// max_attempts=1 means the very first failure is terminal, with no retry.
	require.NoError(t, manager.MarkError(ctx, nil, fetchTask.ID, "TIMEOUT", "upstream timed out", time.Now()))

	failed, err := taskStore.Read(ctx, nil, fetchTask.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusError, failed.Status)
	require.NotNil(t, failed.FinishedAt)

	skippedDownstream, err := taskStore.Read(ctx, nil, processTask.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusSkipped, skippedDownstream.Status)

	notRetried, err := taskStore.Read(ctx, nil, notifyTask.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusQueued, notRetried.Status, "step opted into ContinueOnSkip must not be skipped")

	// notify is still queued (non-terminal), so the job has not finished yet.
	unfinishedJob, err := jobStore.Read(ctx, nil, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusQueued, unfinishedJob.Status)
}

func TestLifecycleRetryRequeuesWithBackoff(t *testing.T) {
	db, cleanup, err := storetest.Connect(testLogFactory())
	require.NoError(t, err)
	defer cleanup()

	wfStore := workflows.NewStore(db, testLogFactory())
	jobStore := jobs.NewStore(db, testLogFactory())
	taskStore := tasks.NewStore(db, testLogFactory())
	manager := lifecycle.NewManager(db, taskStore, jobStore, wfStore, lifecycle.BackoffConfig{
		Base: time.Minute, Max: time.Hour, Jitter: 0,
	}, testLogFactory())

	now := models.NewTime(time.Now())
	step := models.NewWorkflowStep("encode", "transcode")
	workflow := models.NewWorkflow("retry-wf", 1, models.NewWorkflowSteps(step), now)
	require.NoError(t, wfStore.Create(context.Background(), nil, workflow))

	seq, err := jobStore.NextOrderSeq(context.Background(), nil)
	require.NoError(t, err)
	job := models.NewJob(workflow.ID, seq, 0, now)
	require.NoError(t, jobStore.Create(context.Background(), nil, job))

	ctx := context.Background()
	task := models.NewJobTask(job.ID, step, now)
	task.MaxAttempts = 3
	task.Status = models.TaskStatusStarting
	task.ClaimedBy, task.AssignedNode, task.ClaimedAt = "node-a", "node-a", &now
	require.NoError(t, taskStore.Create(ctx, nil, task))

	before := time.Now()
	require.NoError(t, manager.MarkError(ctx, nil, task.ID, "RETRYABLE", "transient failure", before))

	retried, err := taskStore.Read(ctx, nil, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusQueued, retried.Status)
	require.Equal(t, 1, retried.Attempt)
	require.NotNil(t, retried.NextAttemptAt)
	require.True(t, retried.NextAttemptAt.After(before))
	require.Empty(t, retried.ClaimedBy)

	stillRunningJob, err := jobStore.Read(ctx, nil, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusQueued, stillRunningJob.Status)
}

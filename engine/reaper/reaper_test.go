package reaper_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/buildbeaver/workflow-engine/common/logger"
	"github.com/buildbeaver/workflow-engine/common/models"
	"github.com/buildbeaver/workflow-engine/engine/reaper"
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

func TestReaperRequeuesStaleTaskWithAttemptsRemaining(t *testing.T) {
	db, cleanup, err := storetest.Connect(testLogFactory())
	require.NoError(t, err)
	defer cleanup()

	wfStore := workflows.NewStore(db, testLogFactory())
	jobStore := jobs.NewStore(db, testLogFactory())
	taskStore := tasks.NewStore(db, testLogFactory())
	lifecycleManager := lifecycle.NewManager(db, taskStore, jobStore, wfStore, lifecycle.DefaultBackoffConfig, testLogFactory())
	r := reaper.NewReaper(db, taskStore, lifecycleManager, time.Minute, testLogFactory())

	now := models.NewTime(time.Now())
	step := models.NewWorkflowStep("encode", "transcode")
	workflow := models.NewWorkflow("transcode-wf", 1, models.NewWorkflowSteps(step), now)
	require.NoError(t, wfStore.Create(context.Background(), nil, workflow))

	seq, err := jobStore.NextOrderSeq(context.Background(), nil)
	require.NoError(t, err)
	job := models.NewJob(workflow.ID, seq, 0, now)
	require.NoError(t, jobStore.Create(context.Background(), nil, job))

	ctx := context.Background()
	claimedAt := models.NewTime(time.Now().Add(-2 * time.Minute))
	task := models.NewJobTask(job.ID, step, now)
	task.MaxAttempts = 3
	task.Status = models.TaskStatusRunning
	task.ClaimedBy, task.AssignedNode, task.ClaimedAt = "node-a", "node-a", &claimedAt
	startedAt := claimedAt
	task.StartedAt = &startedAt
	require.NoError(t, taskStore.Create(ctx, nil, task))

	reaped, err := r.Sweep(ctx, time.Minute, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, reaped)

	requeued, err := taskStore.Read(ctx, nil, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusQueued, requeued.Status)
	require.Equal(t, 1, requeued.Attempt)
	require.Empty(t, requeued.ClaimedBy)
	require.Empty(t, requeued.AssignedNode)
	require.Nil(t, requeued.ClaimedAt)
	require.Nil(t, requeued.StartedAt)
}

func TestReaperFailsTaskWhoseAttemptsAreExhausted(t *testing.T) {
	db, cleanup, err := storetest.Connect(testLogFactory())
	require.NoError(t, err)
	defer cleanup()

	wfStore := workflows.NewStore(db, testLogFactory())
	jobStore := jobs.NewStore(db, testLogFactory())
	taskStore := tasks.NewStore(db, testLogFactory())
	lifecycleManager := lifecycle.NewManager(db, taskStore, jobStore, wfStore, lifecycle.DefaultBackoffConfig, testLogFactory())
	r := reaper.NewReaper(db, taskStore, lifecycleManager, time.Minute, testLogFactory())

	now := models.NewTime(time.Now())
	step := models.NewWorkflowStep("encode", "transcode")
	workflow := models.NewWorkflow("transcode-wf", 1, models.NewWorkflowSteps(step), now)
	require.NoError(t, wfStore.Create(context.Background(), nil, workflow))

	seq, err := jobStore.NextOrderSeq(context.Background(), nil)
	require.NoError(t, err)
	job := models.NewJob(workflow.ID, seq, 0, now)
	require.NoError(t, jobStore.Create(context.Background(), nil, job))

	ctx := context.Background()
	claimedAt := models.NewTime(time.Now().Add(-2 * time.Minute))
	task := models.NewJobTask(job.ID, step, now)
	task.MaxAttempts = 1
	task.Status = models.TaskStatusRunning
	task.ClaimedBy, task.AssignedNode, task.ClaimedAt = "node-a", "node-a", &claimedAt
	require.NoError(t, taskStore.Create(ctx, nil, task))

	reaped, err := r.Sweep(ctx, time.Minute, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, reaped)

	failed, err := taskStore.Read(ctx, nil, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusError, failed.Status)
	require.NotNil(t, failed.FinishedAt)

	failedJob, err := jobStore.Read(ctx, nil, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusError, failedJob.Status)
}

func TestReaperIgnoresTasksWithinHeartbeatWindow(t *testing.T) {
	db, cleanup, err := storetest.Connect(testLogFactory())
	require.NoError(t, err)
	defer cleanup()

	wfStore := workflows.NewStore(db, testLogFactory())
	jobStore := jobs.NewStore(db, testLogFactory())
	taskStore := tasks.NewStore(db, testLogFactory())
	lifecycleManager := lifecycle.NewManager(db, taskStore, jobStore, wfStore, lifecycle.DefaultBackoffConfig, testLogFactory())
	r := reaper.NewReaper(db, taskStore, lifecycleManager, time.Hour, testLogFactory())

	now := models.NewTime(time.Now())
	step := models.NewWorkflowStep("encode", "transcode")
	workflow := models.NewWorkflow("transcode-wf", 1, models.NewWorkflowSteps(step), now)
	require.NoError(t, wfStore.Create(context.Background(), nil, workflow))

	seq, err := jobStore.NextOrderSeq(context.Background(), nil)
	require.NoError(t, err)
	job := models.NewJob(workflow.ID, seq, 0, now)
	require.NoError(t, jobStore.Create(context.Background(), nil, job))

	ctx := context.Background()
	claimedAt := models.NewTime(time.Now().Add(-time.Minute))
	task := models.NewJobTask(job.ID, step, now)
	task.Status = models.TaskStatusRunning
	task.ClaimedBy, task.AssignedNode, task.ClaimedAt = "node-a", "node-a", &claimedAt
	require.NoError(t, taskStore.Create(ctx, nil, task))

	reaped, err := r.Sweep(ctx, time.Hour, time.Now())
	require.NoError(t, err)
	require.Equal(t, 0, reaped)

	unchanged, err := taskStore.Read(ctx, nil, task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusRunning, unchanged.Status)
}

package dispatch_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/buildbeaver/workflow-engine/common/logger"
	"github.com/buildbeaver/workflow-engine/common/models"
	"github.com/buildbeaver/workflow-engine/engine/services/dispatch"
	"github.com/buildbeaver/workflow-engine/engine/store/jobs"
	"github.com/buildbeaver/workflow-engine/engine/store/nodes"
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

func newJob(t *testing.T, ctx context.Context, wfStore *workflows.Store, jobStore *jobs.Store, steps models.WorkflowSteps, now models.Time) *models.Job {
	t.Helper()
	workflow := models.NewWorkflow("wf", 1, steps, now)
	require.NoError(t, wfStore.Create(ctx, nil, workflow))
	seq, err := jobStore.NextOrderSeq(ctx, nil)
	require.NoError(t, err)
	job := models.NewJob(workflow.ID, seq, 0, now)
	require.NoError(t, jobStore.Create(ctx, nil, job))
	return job
}

func TestSelectAndClaimRespectsFIFOOrderAcrossJobs(t *testing.T) {
	db, cleanup, err := storetest.Connect(testLogFactory())
	require.NoError(t, err)
	defer cleanup()

	wfStore := workflows.NewStore(db, testLogFactory())
	jobStore := jobs.NewStore(db, testLogFactory())
	taskStore := tasks.NewStore(db, testLogFactory())
	nodeStore := nodes.NewStore(db, testLogFactory())
	dispatcher := dispatch.NewDispatcher(db, taskStore, nodeStore, testLogFactory())

	ctx := context.Background()
	now := models.NewTime(time.Now())
	step := models.NewWorkflowStep("build", "builder")

	firstJob := newJob(t, ctx, wfStore, jobStore, models.NewWorkflowSteps(step), now)
	firstTask := models.NewJobTask(firstJob.ID, step, now)
	require.NoError(t, taskStore.Create(ctx, nil, firstTask))

	secondJob := newJob(t, ctx, wfStore, jobStore, models.NewWorkflowSteps(step), now)
	secondTask := models.NewJobTask(secondJob.ID, step, now)
	require.NoError(t, taskStore.Create(ctx, nil, secondTask))

	claimed, err := dispatcher.SelectAndClaim(ctx, nil, "builder", "node-a", 1, time.Now())
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, firstTask.ID, claimed[0].ID, "the earlier job's task must be claimed first")
	require.Equal(t, models.TaskStatusStarting, claimed[0].Status)
	require.Equal(t, "node-a", claimed[0].AssignedNode)
}

func TestSelectAndClaimSkipsTasksWithUnsatisfiedDependencies(t *testing.T) {
	db, cleanup, err := storetest.Connect(testLogFactory())
	require.NoError(t, err)
	defer cleanup()

	wfStore := workflows.NewStore(db, testLogFactory())
	jobStore := jobs.NewStore(db, testLogFactory())
	taskStore := tasks.NewStore(db, testLogFactory())
	nodeStore := nodes.NewStore(db, testLogFactory())
	dispatcher := dispatch.NewDispatcher(db, taskStore, nodeStore, testLogFactory())

	ctx := context.Background()
	now := models.NewTime(time.Now())
	fetch := models.NewWorkflowStep("fetch", "fetcher")
	process := models.NewWorkflowStep("process", "processor", "fetch")

	job := newJob(t, ctx, wfStore, jobStore, models.NewWorkflowSteps(fetch, process), now)
	fetchTask := models.NewJobTask(job.ID, fetch, now)
	require.NoError(t, taskStore.Create(ctx, nil, fetchTask))
	processTask := models.NewJobTask(job.ID, process, now)
	require.NoError(t, taskStore.Create(ctx, nil, processTask))

	claimed, err := dispatcher.SelectAndClaim(ctx, nil, "processor", "node-a", 5, time.Now())
	require.NoError(t, err)
	require.Empty(t, claimed, "process must not be claimed until fetch is done")
}

func TestSelectAndClaimHonorsDeclaredNodeConcurrencyCap(t *testing.T) {
	db, cleanup, err := storetest.Connect(testLogFactory())
	require.NoError(t, err)
	defer cleanup()

	wfStore := workflows.NewStore(db, testLogFactory())
	jobStore := jobs.NewStore(db, testLogFactory())
	taskStore := tasks.NewStore(db, testLogFactory())
	nodeStore := nodes.NewStore(db, testLogFactory())
	dispatcher := dispatch.NewDispatcher(db, taskStore, nodeStore, testLogFactory())

	ctx := context.Background()
	now := models.NewTime(time.Now())

	node := models.NewNode("node-a", now)
	node.MaxConcurrency["builder"] = 1
	require.NoError(t, nodeStore.Upsert(ctx, nil, node))

	step := models.NewWorkflowStep("build", "builder")
	for i := 0; i < 3; i++ {
		job := newJob(t, ctx, wfStore, jobStore, models.NewWorkflowSteps(step), now)
		task := models.NewJobTask(job.ID, step, now)
		require.NoError(t, taskStore.Create(ctx, nil, task))
	}

	claimed, err := dispatcher.SelectAndClaim(ctx, nil, "builder", "node-a", 10, time.Now())
	require.NoError(t, err)
	require.Len(t, claimed, 1, "declared max_concurrency of 1 must cap the batch even though limit was 10")
}

func TestSelectAndClaimIsUnboundedWithNoDeclaredConcurrency(t *testing.T) {
	db, cleanup, err := storetest.Connect(testLogFactory())
	require.NoError(t, err)
	defer cleanup()

	wfStore := workflows.NewStore(db, testLogFactory())
	jobStore := jobs.NewStore(db, testLogFactory())
	taskStore := tasks.NewStore(db, testLogFactory())
	nodeStore := nodes.NewStore(db, testLogFactory())
	dispatcher := dispatch.NewDispatcher(db, taskStore, nodeStore, testLogFactory())

	ctx := context.Background()
	now := models.NewTime(time.Now())
	step := models.NewWorkflowStep("build", "builder")
	for i := 0; i < 3; i++ {
		job := newJob(t, ctx, wfStore, jobStore, models.NewWorkflowSteps(step), now)
		task := models.NewJobTask(job.ID, step, now)
		require.NoError(t, taskStore.Create(ctx, nil, task))
	}

	claimed, err := dispatcher.SelectAndClaim(ctx, nil, "builder", "node-a", 10, time.Now())
	require.NoError(t, err)
	require.Len(t, claimed, 3, "with no node declaring max_concurrency, capacity must fall back to limit")
}

func TestSelectAndClaimSkipsBackedOffTasks(t *testing.T) {
	db, cleanup, err := storetest.Connect(testLogFactory())
	require.NoError(t, err)
	defer cleanup()

	wfStore := workflows.NewStore(db, testLogFactory())
	jobStore := jobs.NewStore(db, testLogFactory())
	taskStore := tasks.NewStore(db, testLogFactory())
	nodeStore := nodes.NewStore(db, testLogFactory())
	dispatcher := dispatch.NewDispatcher(db, taskStore, nodeStore, testLogFactory())

	ctx := context.Background()
	now := models.NewTime(time.Now())
	step := models.NewWorkflowStep("build", "builder")
	job := newJob(t, ctx, wfStore, jobStore, models.NewWorkflowSteps(step), now)
	task := models.NewJobTask(job.ID, step, now)
	future := models.NewTime(time.Now().Add(time.Hour))
	task.NextAttemptAt = &future
	require.NoError(t, taskStore.Create(ctx, nil, task))

	claimed, err := dispatcher.SelectAndClaim(ctx, nil, "builder", "node-a", 10, time.Now())
	require.NoError(t, err)
	require.Empty(t, claimed, "a task backed off into the future must not be claimed")
}

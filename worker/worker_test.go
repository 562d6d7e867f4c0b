package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/buildbeaver/workflow-engine/common/logger"
	"github.com/buildbeaver/workflow-engine/common/models"
	"github.com/buildbeaver/workflow-engine/engine/services/dispatch"
	"github.com/buildbeaver/workflow-engine/engine/services/lifecycle"
	"github.com/buildbeaver/workflow-engine/engine/store/jobs"
	"github.com/buildbeaver/workflow-engine/engine/store/nodes"
	"github.com/buildbeaver/workflow-engine/engine/store/storetest"
	"github.com/buildbeaver/workflow-engine/engine/store/tasks"
	"github.com/buildbeaver/workflow-engine/engine/store/workflows"
	"github.com/buildbeaver/workflow-engine/worker"
)

func testLogFactory() logger.LogFactory {
	registry, err := logger.NewLogRegistry("")
	if err != nil {
		panic(err)
	}
	return logger.MakeLogrusLogFactoryStdOut(registry)
}

func TestWorkerRunsClaimedTaskToCompletion(t *testing.T) {
	db, cleanup, err := storetest.Connect(testLogFactory())
	require.NoError(t, err)
	defer cleanup()

	wfStore := workflows.NewStore(db, testLogFactory())
	jobStore := jobs.NewStore(db, testLogFactory())
	taskStore := tasks.NewStore(db, testLogFactory())
	nodeStore := nodes.NewStore(db, testLogFactory())
	dispatcher := dispatch.NewDispatcher(db, taskStore, nodeStore, testLogFactory())
	lifecycleManager := lifecycle.NewManager(db, taskStore, jobStore, wfStore, lifecycle.DefaultBackoffConfig, testLogFactory())

	now := models.NewTime(time.Now())
	step := models.NewWorkflowStep("encode", "transcode")
	workflow := models.NewWorkflow("transcode-wf", 1, models.NewWorkflowSteps(step), now)
	require.NoError(t, wfStore.Create(context.Background(), nil, workflow))

	seq, err := jobStore.NextOrderSeq(context.Background(), nil)
	require.NoError(t, err)
	job := models.NewJob(workflow.ID, seq, 0, now)
	require.NoError(t, jobStore.Create(context.Background(), nil, job))

	task := models.NewJobTask(job.ID, step, now)
	require.NoError(t, taskStore.Create(context.Background(), nil, task))

	done := make(chan struct{})
	executor := func(ctx context.Context, t *models.JobTask) (models.Payload, error) {
		defer close(done)
		return models.Payload{"output_url": "s3://bucket/key"}, nil
	}

	w := worker.NewWorker(worker.Config{
		Service:      "transcode",
		NodeName:     "node-a",
		PollInterval: 10 * time.Millisecond,
		BatchSize:    5,
	}, dispatcher, lifecycleManager, executor, testLogFactory())

	w.Start()
	defer w.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("executor was never invoked")
	}

	// allow the MarkDone call, which races the executor's close(done), to land
	require.Eventually(t, func() bool {
		finished, err := taskStore.Read(context.Background(), nil, task.ID)
		require.NoError(t, err)
		return finished.Status == models.TaskStatusDone
	}, time.Second, 10*time.Millisecond)
}

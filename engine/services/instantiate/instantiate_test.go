package instantiate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/buildbeaver/workflow-engine/common/logger"
	"github.com/buildbeaver/workflow-engine/common/models"
	"github.com/buildbeaver/workflow-engine/engine/services/instantiate"
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

func TestInstantiateExpandsStepsAndTransitionsJobToRunning(t *testing.T) {
	db, cleanup, err := storetest.Connect(testLogFactory())
	require.NoError(t, err)
	defer cleanup()

	wfStore := workflows.NewStore(db, testLogFactory())
	jobStore := jobs.NewStore(db, testLogFactory())
	taskStore := tasks.NewStore(db, testLogFactory())
	instantiator := instantiate.NewInstantiator(db, jobStore, taskStore, wfStore, testLogFactory())

	now := models.NewTime(time.Now())
	fetch := models.NewWorkflowStep("fetch", "fetcher")
	process := models.NewWorkflowStep("process", "processor", "fetch")
	workflow := models.NewWorkflow("pipeline", 1, models.NewWorkflowSteps(fetch, process), now)
	require.NoError(t, wfStore.Create(context.Background(), nil, workflow))

	ctx := context.Background()
	seq, err := jobStore.NextOrderSeq(ctx, nil)
	require.NoError(t, err)
	job := models.NewJob(workflow.ID, seq, 0, now)
	require.NoError(t, jobStore.Create(ctx, nil, job))

	require.NoError(t, instantiator.Instantiate(ctx, nil, job.ID))

	tasksOut, err := taskStore.ListByJobID(ctx, nil, job.ID)
	require.NoError(t, err)
	require.Len(t, tasksOut, 2)

	runningJob, err := jobStore.Read(ctx, nil, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusRunning, runningJob.Status)
}

func TestInstantiateIsIdempotent(t *testing.T) {
	db, cleanup, err := storetest.Connect(testLogFactory())
	require.NoError(t, err)
	defer cleanup()

	wfStore := workflows.NewStore(db, testLogFactory())
	jobStore := jobs.NewStore(db, testLogFactory())
	taskStore := tasks.NewStore(db, testLogFactory())
	instantiator := instantiate.NewInstantiator(db, jobStore, taskStore, wfStore, testLogFactory())

	now := models.NewTime(time.Now())
	step := models.NewWorkflowStep("encode", "transcode")
	workflow := models.NewWorkflow("transcode-wf", 1, models.NewWorkflowSteps(step), now)
	require.NoError(t, wfStore.Create(context.Background(), nil, workflow))

	ctx := context.Background()
	seq, err := jobStore.NextOrderSeq(ctx, nil)
	require.NoError(t, err)
	job := models.NewJob(workflow.ID, seq, 0, now)
	require.NoError(t, jobStore.Create(ctx, nil, job))

	require.NoError(t, instantiator.Instantiate(ctx, nil, job.ID))
	require.NoError(t, instantiator.Instantiate(ctx, nil, job.ID))

	tasksOut, err := taskStore.ListByJobID(ctx, nil, job.ID)
	require.NoError(t, err)
	require.Len(t, tasksOut, 1, "a second instantiate call must not insert duplicate tasks")
}

func TestInstantiateMissingJobIsSilentNoOp(t *testing.T) {
	db, cleanup, err := storetest.Connect(testLogFactory())
	require.NoError(t, err)
	defer cleanup()

	jobStore := jobs.NewStore(db, testLogFactory())
	taskStore := tasks.NewStore(db, testLogFactory())
	wfStore := workflows.NewStore(db, testLogFactory())
	instantiator := instantiate.NewInstantiator(db, jobStore, taskStore, wfStore, testLogFactory())

	require.NoError(t, instantiator.Instantiate(context.Background(), nil, models.NewJobID()))
}

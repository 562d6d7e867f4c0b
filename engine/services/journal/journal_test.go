package journal_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/buildbeaver/workflow-engine/common/logger"
	"github.com/buildbeaver/workflow-engine/common/models"
	"github.com/buildbeaver/workflow-engine/engine/services/journal"
	"github.com/buildbeaver/workflow-engine/engine/store/artifacts"
	"github.com/buildbeaver/workflow-engine/engine/store/events"
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

func newTestJournal(t *testing.T) (*journal.Journal, *models.Job, *models.JobTask, func()) {
	t.Helper()
	db, cleanup, err := storetest.Connect(testLogFactory())
	require.NoError(t, err)

	wfStore := workflows.NewStore(db, testLogFactory())
	jobStore := jobs.NewStore(db, testLogFactory())
	taskStore := tasks.NewStore(db, testLogFactory())
	eventStore := events.NewStore(db, testLogFactory())
	artifactStore := artifacts.NewStore(db, testLogFactory())
	j := journal.NewJournal(db, eventStore, artifactStore, taskStore, testLogFactory())

	now := models.NewTime(time.Now())
	step := models.NewWorkflowStep("encode", "transcode")
	workflow := models.NewWorkflow("journal-wf", 1, models.NewWorkflowSteps(step), now)
	require.NoError(t, wfStore.Create(context.Background(), nil, workflow))

	seq, err := jobStore.NextOrderSeq(context.Background(), nil)
	require.NoError(t, err)
	job := models.NewJob(workflow.ID, seq, 0, now)
	require.NoError(t, jobStore.Create(context.Background(), nil, job))

	task := models.NewJobTask(job.ID, step, now)
	require.NoError(t, taskStore.Create(context.Background(), nil, task))

	return j, job, task, cleanup
}

func TestAppendEventRejectsInvalidLevel(t *testing.T) {
	j, job, _, cleanup := newTestJournal(t)
	defer cleanup()

	_, err := j.AppendEvent(context.Background(), nil, journal.AppendEventInput{
		JobID:   job.ID,
		Source:  "worker",
		Level:   "trace",
		Type:    models.EventTypeLog,
		Message: "hello",
	})
	require.Error(t, err)
}

func TestAppendEventRejectsMismatchedJobID(t *testing.T) {
	j, job, task, cleanup := newTestJournal(t)
	defer cleanup()

	otherJobID := models.NewJobID()
	require.NotEqual(t, job.ID, otherJobID)

	_, err := j.AppendEvent(context.Background(), nil, journal.AppendEventInput{
		JobID:     otherJobID,
		JobTaskID: &task.ID,
		Source:    "worker",
		Level:     models.EventLevelInfo,
		Type:      models.EventTypeLog,
		Message:   "hello",
	})
	require.Error(t, err)
}

func TestAppendEventFillsJobIDFromTask(t *testing.T) {
	j, job, task, cleanup := newTestJournal(t)
	defer cleanup()

	id, err := j.AppendEvent(context.Background(), nil, journal.AppendEventInput{
		JobTaskID: &task.ID,
		Source:    "worker",
		Level:     models.EventLevelInfo,
		Type:      models.EventTypeLog,
		Message:   "hello",
	})
	require.NoError(t, err)
	require.NotZero(t, id)
}

func TestRecordArtifactRequiresJobID(t *testing.T) {
	j, _, _, cleanup := newTestJournal(t)
	defer cleanup()

	_, err := j.RecordArtifact(context.Background(), nil, journal.RecordArtifactInput{
		Kind:   models.ArtifactKindOutput,
		Bucket: "bucket",
		Key:    "key",
	})
	require.Error(t, err)
}

func TestRecordArtifactSucceedsViaTask(t *testing.T) {
	j, job, task, cleanup := newTestJournal(t)
	defer cleanup()

	artifact, err := j.RecordArtifact(context.Background(), nil, journal.RecordArtifactInput{
		JobTaskID: &task.ID,
		Kind:      models.ArtifactKindOutput,
		Bucket:    "bucket",
		Key:       "outputs/encode/result.mp4",
	})
	require.NoError(t, err)
	require.Equal(t, job.ID, artifact.JobID)
}

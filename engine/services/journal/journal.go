// Package journal implements the append-only event and artifact journal (spec §4.6): the one
// place that decides whether a write is admissible before handing it to the events/artifacts
// stores, which themselves never reject or rewrite anything once validated.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/buildbeaver/workflow-engine/common/gerror"
	"github.com/buildbeaver/workflow-engine/common/logger"
	"github.com/buildbeaver/workflow-engine/common/models"
	"github.com/buildbeaver/workflow-engine/engine/store"
	"github.com/buildbeaver/workflow-engine/engine/store/artifacts"
	"github.com/buildbeaver/workflow-engine/engine/store/events"
	"github.com/buildbeaver/workflow-engine/engine/store/tasks"
)

// Journal is the validating front door to the event and artifact stores.
type Journal struct {
	db            *store.DB
	eventStore    *events.Store
	artifactStore *artifacts.Store
	taskStore     *tasks.Store
	logger.Log
}

func NewJournal(db *store.DB, eventStore *events.Store, artifactStore *artifacts.Store, taskStore *tasks.Store, logFactory logger.LogFactory) *Journal {
	return &Journal{
		db:            db,
		eventStore:    eventStore,
		artifactStore: artifactStore,
		taskStore:     taskStore,
		Log:           logFactory("Journal"),
	}
}

// AppendEventInput mirrors append_event's parameters (spec §4.6). JobID and JobTaskID are
// both optional on input: the resolved job_id filled in from the task is what actually gets
// written when JobID is left zero.
type AppendEventInput struct {
	JobID     models.JobID
	JobTaskID *models.JobTaskID
	Source    string
	Level     models.EventLevel
	Type      models.EventType
	Message   string
	Data      models.Payload
	Ts        *time.Time
}

// AppendEvent validates level/type against their closed enumerations, resolves and
// cross-checks job_id against job_task_id when both are given, and appends the event. No
// write happens if validation fails.
func (j *Journal) AppendEvent(ctx context.Context, txOrNil *store.Tx, in AppendEventInput) (models.TaskEventID, error) {
	if err := in.Level.Validate(); err != nil {
		return 0, gerror.NewErrValidationFailed(err.Error())
	}
	if err := in.Type.Validate(); err != nil {
		return 0, gerror.NewErrValidationFailed(err.Error())
	}

	var id models.TaskEventID
	err := j.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		jobID := in.JobID
		if in.JobTaskID != nil {
			task, err := j.taskStore.Read(ctx, tx, *in.JobTaskID)
			if err != nil {
				if gerror.IsNotFound(err) {
					return gerror.NewErrValidationFailed(fmt.Sprintf("job_task_id %s does not exist", *in.JobTaskID))
				}
				return fmt.Errorf("error reading task for event: %w", err)
			}
			if jobID.Valid() && jobID != task.JobID {
				return gerror.NewErrValidationFailed(fmt.Sprintf("job_id %s does not match job_task_id %s's job %s", jobID, *in.JobTaskID, task.JobID))
			}
			jobID = task.JobID
		}
		if !jobID.Valid() {
			return gerror.NewErrValidationFailed("job_id is required, directly or via job_task_id")
		}

		ts := models.Now()
		if in.Ts != nil {
			ts = models.NewTime(*in.Ts)
		}
		event := models.NewTaskEvent(jobID, in.JobTaskID, in.Source, in.Level, in.Type, in.Message, in.Data, ts)

		var err error
		id, err = j.eventStore.Append(ctx, tx, event)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// RecordArtifactInput mirrors record_artifact's parameters (spec §4.6).
type RecordArtifactInput struct {
	JobID       models.JobID
	JobTaskID   *models.JobTaskID
	Kind        models.ArtifactKind
	Bucket      string
	Key         string
	SizeBytes   *int64
	ContentType string
	Checksum    string
}

// RecordArtifact validates kind against its closed enumeration, cross-checks job_id against
// job_task_id exactly as AppendEvent does, and records the artifact reference.
func (j *Journal) RecordArtifact(ctx context.Context, txOrNil *store.Tx, in RecordArtifactInput) (*models.TaskArtifact, error) {
	if err := in.Kind.Validate(); err != nil {
		return nil, gerror.NewErrValidationFailed(err.Error())
	}
	if in.Bucket == "" || in.Key == "" {
		return nil, gerror.NewErrValidationFailed("bucket and key are required")
	}

	var artifact *models.TaskArtifact
	err := j.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		jobID := in.JobID
		if in.JobTaskID != nil {
			task, err := j.taskStore.Read(ctx, tx, *in.JobTaskID)
			if err != nil {
				if gerror.IsNotFound(err) {
					return gerror.NewErrValidationFailed(fmt.Sprintf("job_task_id %s does not exist", *in.JobTaskID))
				}
				return fmt.Errorf("error reading task for artifact: %w", err)
			}
			if jobID.Valid() && jobID != task.JobID {
				return gerror.NewErrValidationFailed(fmt.Sprintf("job_id %s does not match job_task_id %s's job %s", jobID, *in.JobTaskID, task.JobID))
			}
			jobID = task.JobID
		}
		if !jobID.Valid() {
			return gerror.NewErrValidationFailed("job_id is required, directly or via job_task_id")
		}

		a := models.NewTaskArtifact(jobID, in.JobTaskID, in.Kind, in.Bucket, in.Key, models.Now())
		a.SizeBytes = in.SizeBytes
		a.ContentType = in.ContentType
		a.Checksum = in.Checksum
		if err := j.artifactStore.Record(ctx, tx, a); err != nil {
			return err
		}
		artifact = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return artifact, nil
}

package models

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Job is a single execution of a Workflow. order_seq establishes the job's global FIFO
// priority against every other job competing for the same service capacity.
type Job struct {
	ID              JobID      `db:"id"`
	WorkflowID      WorkflowID `db:"workflow_id"`
	Status          JobStatus  `db:"status"`
	OrderSeq        int64      `db:"order_seq"`
	Priority        int        `db:"priority"`
	Options         Payload    `db:"options"`
	ScheduledAt     *Time      `db:"scheduled_at"`
	Progress        float64    `db:"progress"`
	CurrentTaskKey  string     `db:"current_task_key"`
	ErrorCode       string     `db:"error_code"`
	ErrorMessage    string     `db:"error_message"`
	CreatedAt       Time       `db:"created_at"`
	UpdatedAt       Time       `db:"updated_at"`
	ETag            ETag       `db:"etag"`
}

// NewJob creates a queued Job for the given workflow. orderSeq must be assigned by the
// caller from a monotonic source (e.g. a sequence or max(order_seq)+1 under lock).
func NewJob(workflowID WorkflowID, orderSeq int64, priority int, now Time) *Job {
	return &Job{
		ID:         NewJobID(),
		WorkflowID: workflowID,
		Status:     JobStatusQueued,
		OrderSeq:   orderSeq,
		Priority:   priority,
		Options:    NewPayload(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (j *Job) GetID() ResourceID { return j.ID.ResourceID }

func (j *Job) GetKind() ResourceKind { return JobResourceKind }

func (j *Job) GetCreatedAt() Time { return j.CreatedAt }

func (j *Job) GetETag() ETag { return j.ETag }

func (j *Job) SetETag(etag ETag) { j.ETag = etag }

func (j *Job) GetUpdatedAt() Time { return j.UpdatedAt }

func (j *Job) SetUpdatedAt(t Time) { j.UpdatedAt = t }

func (j *Job) Validate() error {
	var result *multierror.Error
	if !j.ID.Valid() {
		result = multierror.Append(result, errors.New("error job id must be set"))
	}
	if !j.WorkflowID.Valid() {
		result = multierror.Append(result, errors.New("error job workflow id must be set"))
	}
	if err := j.Status.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if j.Progress < 0 || j.Progress > 1 {
		result = multierror.Append(result, errors.New("error job progress must be within [0,1]"))
	}
	return result.ErrorOrNil()
}

package models

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

const DefaultMaxAttempts = 3

// JobTask is one materialized, schedulable unit of work derived from a WorkflowStep.
// (job_id, task_key) is unique: the instantiator relies on this to make expansion idempotent.
type JobTask struct {
	ID            JobTaskID  `db:"id"`
	JobID         JobID      `db:"job_id"`
	TaskKey       string     `db:"task_key"`
	ServiceName   string     `db:"service_name"`
	Status        TaskStatus `db:"status"`
	DependsOn     TaskKeySet `db:"depends_on"`
	Attempt       int        `db:"attempt"`
	MaxAttempts   int        `db:"max_attempts"`
	NextAttemptAt *Time      `db:"next_attempt_at"`
	Priority      int        `db:"priority"`
	Progress      float64    `db:"progress"`
	Params        Payload    `db:"params"`
	Results       Payload    `db:"results"`
	AssignedNode  string     `db:"assigned_node"`
	ClaimedBy     string     `db:"claimed_by"`
	ClaimedAt     *Time      `db:"claimed_at"`
	StartedAt     *Time      `db:"started_at"`
	FinishedAt    *Time      `db:"finished_at"`
	CreatedAt     Time       `db:"created_at"`
	UpdatedAt     Time       `db:"updated_at"`
	ETag          ETag       `db:"etag"`
}

// NewJobTask materializes a JobTask from a WorkflowStep for the given job. params is cloned
// so the new task never aliases the step's DefaultParams map.
func NewJobTask(jobID JobID, step WorkflowStep, now Time) *JobTask {
	return &JobTask{
		ID:          NewJobTaskID(),
		JobID:       jobID,
		TaskKey:     step.Key,
		ServiceName: step.Service,
		Status:      TaskStatusQueued,
		DependsOn:   NewTaskKeySet(step.DependsOn...),
		Attempt:     0,
		MaxAttempts: DefaultMaxAttempts,
		Params:      ClonePayload(step.DefaultParams),
		Results:     NewPayload(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (t *JobTask) GetID() ResourceID { return t.ID.ResourceID }

func (t *JobTask) GetKind() ResourceKind { return JobTaskResourceKind }

func (t *JobTask) GetCreatedAt() Time { return t.CreatedAt }

func (t *JobTask) GetETag() ETag { return t.ETag }

func (t *JobTask) SetETag(etag ETag) { t.ETag = etag }

func (t *JobTask) GetUpdatedAt() Time { return t.UpdatedAt }

func (t *JobTask) SetUpdatedAt(tm Time) { t.UpdatedAt = tm }

// DependenciesSatisfied reports whether, given the keys of its done siblings, this task is
// eligible to be selected: any dependency key missing from doneKeys prevents selection.
func (t *JobTask) DependenciesSatisfied(doneKeys map[string]bool) bool {
	for _, dep := range t.DependsOn {
		if !doneKeys[dep] {
			return false
		}
	}
	return true
}

func (t *JobTask) Validate() error {
	var result *multierror.Error
	if !t.ID.Valid() {
		result = multierror.Append(result, errors.New("error job task id must be set"))
	}
	if !t.JobID.Valid() {
		result = multierror.Append(result, errors.New("error job task's job id must be set"))
	}
	if t.TaskKey == "" {
		result = multierror.Append(result, errors.New("error job task key must be set"))
	}
	if t.ServiceName == "" {
		result = multierror.Append(result, errors.New("error job task service name must be set"))
	}
	if err := t.Status.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if t.Status.IsClaimed() && (t.ClaimedBy == "" || t.ClaimedAt == nil) {
		result = multierror.Append(result, errors.New("error claimed job task must have claimed_by and claimed_at set"))
	}
	if !t.Status.IsClaimed() && t.ClaimedBy != "" {
		result = multierror.Append(result, errors.New("error unclaimed job task must not have claimed_by set"))
	}
	if t.MaxAttempts <= 0 {
		result = multierror.Append(result, errors.New("error job task max_attempts must be positive"))
	}
	if t.Progress < 0 || t.Progress > 1 {
		result = multierror.Append(result, errors.New("error job task progress must be within [0,1]"))
	}
	return result.ErrorOrNil()
}

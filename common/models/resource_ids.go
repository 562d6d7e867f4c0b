package models

const (
	WorkflowResourceKind     ResourceKind = "workflow"
	JobResourceKind          ResourceKind = "job"
	JobTaskResourceKind      ResourceKind = "job-task"
	TaskArtifactResourceKind ResourceKind = "task-artifact"
)

// WorkflowID identifies a Workflow.
type WorkflowID struct {
	ResourceID
}

func NewWorkflowID() WorkflowID {
	return WorkflowID{NewResourceID(WorkflowResourceKind)}
}

func ParseWorkflowID(str string) (WorkflowID, error) {
	id, err := ParseResourceID(WorkflowResourceKind, str)
	if err != nil {
		return WorkflowID{}, err
	}
	return WorkflowID{id}, nil
}

func (id *WorkflowID) Scan(src interface{}) error { return id.ResourceID.Scan(WorkflowResourceKind, src) }

// JobID identifies a Job.
type JobID struct {
	ResourceID
}

func NewJobID() JobID {
	return JobID{NewResourceID(JobResourceKind)}
}

func ParseJobID(str string) (JobID, error) {
	id, err := ParseResourceID(JobResourceKind, str)
	if err != nil {
		return JobID{}, err
	}
	return JobID{id}, nil
}

func (id *JobID) Scan(src interface{}) error { return id.ResourceID.Scan(JobResourceKind, src) }

// JobTaskID identifies a JobTask.
type JobTaskID struct {
	ResourceID
}

func NewJobTaskID() JobTaskID {
	return JobTaskID{NewResourceID(JobTaskResourceKind)}
}

func ParseJobTaskID(str string) (JobTaskID, error) {
	id, err := ParseResourceID(JobTaskResourceKind, str)
	if err != nil {
		return JobTaskID{}, err
	}
	return JobTaskID{id}, nil
}

func (id *JobTaskID) Scan(src interface{}) error { return id.ResourceID.Scan(JobTaskResourceKind, src) }

// TaskArtifactID identifies a TaskArtifact.
type TaskArtifactID struct {
	ResourceID
}

func NewTaskArtifactID() TaskArtifactID {
	return TaskArtifactID{NewResourceID(TaskArtifactResourceKind)}
}

func ParseTaskArtifactID(str string) (TaskArtifactID, error) {
	id, err := ParseResourceID(TaskArtifactResourceKind, str)
	if err != nil {
		return TaskArtifactID{}, err
	}
	return TaskArtifactID{id}, nil
}

func (id *TaskArtifactID) Scan(src interface{}) error {
	return id.ResourceID.Scan(TaskArtifactResourceKind, src)
}

// TaskEventID is the monotone 64-bit identifier assigned by the datastore to each TaskEvent.
// Unlike the other identifiers it carries no kind prefix: it is generated by a database
// sequence, not by the engine, and is only ever compared within the task_events table.
type TaskEventID int64

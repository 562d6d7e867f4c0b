package models

// Resource is implemented by the persisted entities keyed by a ResourceID (Workflow, Job,
// JobTask, TaskArtifact); Node, keyed by name, and TaskEvent, keyed by an integer ID, are not.
type Resource interface {
	// GetKind returns the unique name/type of the resource, e.g. "job" or "job-task".
	GetKind() ResourceKind
	// GetCreatedAt returns the Time at which this resource was created.
	GetCreatedAt() Time
	// GetID returns the globally unique ResourceID of the resource.
	GetID() ResourceID
	// Validate checks required fields, enumerated values and lengths.
	Validate() error
}

// MutableResource is implemented by resources that are updated in place after creation
// (Job, JobTask) and therefore carry an optimistic-concurrency ETag.
type MutableResource interface {
	Resource
	GetETag() ETag
	SetETag(eTag ETag)
	GetUpdatedAt() Time
	SetUpdatedAt(t Time)
}

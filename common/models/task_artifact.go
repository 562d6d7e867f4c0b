package models

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ArtifactKind is the closed set of roles a TaskArtifact may play.
type ArtifactKind string

const (
	ArtifactKindInput  ArtifactKind = "input"
	ArtifactKindOutput ArtifactKind = "output"
	ArtifactKindLog    ArtifactKind = "log"
)

var validArtifactKinds = map[ArtifactKind]bool{
	ArtifactKindInput:  true,
	ArtifactKindOutput: true,
	ArtifactKindLog:    true,
}

func (k ArtifactKind) Valid() bool { return validArtifactKinds[k] }

func (k ArtifactKind) Validate() error {
	if !k.Valid() {
		return fmt.Errorf("error unknown artifact kind: %q", k)
	}
	return nil
}

// Scan rejects any value that does not satisfy Validate, so an unknown kind string read
// back from the datastore fails loudly rather than being silently normalized.
func (k *ArtifactKind) Scan(src interface{}) error {
	if src == nil {
		return fmt.Errorf("error cannot scan nil into artifact kind")
	}
	var str string
	switch v := src.(type) {
	case string:
		str = v
	case []byte:
		str = string(v)
	default:
		return fmt.Errorf("unsupported type: %[1]T (%[1]v)", src)
	}
	kind := ArtifactKind(str)
	if err := kind.Validate(); err != nil {
		return err
	}
	*k = kind
	return nil
}

// TaskArtifact is a reference to an object stored externally (see the object store
// collaborator); the engine never stores artifact bytes itself.
type TaskArtifact struct {
	ID          TaskArtifactID `db:"id"`
	JobID       JobID          `db:"job_id"`
	JobTaskID   *JobTaskID     `db:"job_task_id"`
	Kind        ArtifactKind   `db:"kind"`
	Bucket      string         `db:"bucket"`
	Key         string         `db:"key"`
	SizeBytes   *int64         `db:"size_bytes"`
	ContentType string         `db:"content_type"`
	Checksum    string         `db:"checksum"`
	CreatedAt   Time           `db:"created_at"`
}

func NewTaskArtifact(jobID JobID, jobTaskID *JobTaskID, kind ArtifactKind, bucket, key string, now Time) *TaskArtifact {
	return &TaskArtifact{
		ID:        NewTaskArtifactID(),
		JobID:     jobID,
		JobTaskID: jobTaskID,
		Kind:      kind,
		Bucket:    bucket,
		Key:       key,
		CreatedAt: now,
	}
}

func (a *TaskArtifact) GetID() ResourceID { return a.ID.ResourceID }

func (a *TaskArtifact) GetKind() ResourceKind { return TaskArtifactResourceKind }

func (a *TaskArtifact) GetCreatedAt() Time { return a.CreatedAt }

func (a *TaskArtifact) Validate() error {
	var result *multierror.Error
	if !a.ID.Valid() {
		result = multierror.Append(result, errors.New("error task artifact id must be set"))
	}
	if !a.JobID.Valid() {
		result = multierror.Append(result, errors.New("error task artifact job id must be set"))
	}
	if err := a.Kind.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if a.Bucket == "" {
		result = multierror.Append(result, errors.New("error task artifact bucket must be set"))
	}
	if a.Key == "" {
		result = multierror.Append(result, errors.New("error task artifact key must be set"))
	}
	return result.ErrorOrNil()
}

package models

import "fmt"

// Scan rejects any value that does not satisfy Validate, so an unknown status string read
// back from the datastore fails loudly rather than being silently normalized.
func (s *JobStatus) Scan(src interface{}) error {
	if src == nil {
		return fmt.Errorf("error cannot scan nil into job status")
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
	status := JobStatus(str)
	if err := status.Validate(); err != nil {
		return err
	}
	*s = status
	return nil
}

// JobStatus is the closed set of states a Job moves through. Unknown values read back from
// the datastore must fail loudly rather than be coerced to a default.
type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusError   JobStatus = "error"
)

var validJobStatuses = map[JobStatus]bool{
	JobStatusQueued:  true,
	JobStatusRunning: true,
	JobStatusDone:    true,
	JobStatusError:   true,
}

func (s JobStatus) Valid() bool {
	return validJobStatuses[s]
}

func (s JobStatus) Validate() error {
	if !s.Valid() {
		return fmt.Errorf("error unknown job status: %q", s)
	}
	return nil
}

// IsTerminal reports whether the status is one the job will never leave.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

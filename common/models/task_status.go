package models

import "fmt"

// Scan rejects any value that does not satisfy Validate, so a corrupted or hand-edited row
// fails loudly on read instead of silently carrying an unrecognized status through the
// typed field (IsTerminal and IsClaimed would otherwise just answer false for it).
func (s *TaskStatus) Scan(src interface{}) error {
	if src == nil {
		return fmt.Errorf("error cannot scan nil into task status")
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
	status := TaskStatus(str)
	if err := status.Validate(); err != nil {
		return err
	}
	*s = status
	return nil
}

// TaskStatus is the closed set of states a JobTask moves through.
type TaskStatus string

const (
	TaskStatusQueued   TaskStatus = "queued"
	TaskStatusStarting TaskStatus = "starting"
	TaskStatusRunning  TaskStatus = "running"
	TaskStatusDone     TaskStatus = "done"
	TaskStatusError    TaskStatus = "error"
	TaskStatusSkipped  TaskStatus = "skipped"
)

var validTaskStatuses = map[TaskStatus]bool{
	TaskStatusQueued:   true,
	TaskStatusStarting: true,
	TaskStatusRunning:  true,
	TaskStatusDone:     true,
	TaskStatusError:    true,
	TaskStatusSkipped:  true,
}

func (s TaskStatus) Valid() bool {
	return validTaskStatuses[s]
}

func (s TaskStatus) Validate() error {
	if !s.Valid() {
		return fmt.Errorf("error unknown task status: %q", s)
	}
	return nil
}

// IsTerminal reports whether the status is one the task will never leave except via
// explicit reaper intervention.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusDone || s == TaskStatusError || s == TaskStatusSkipped
}

// IsClaimed reports whether a task in this status must carry a non-null claimed_by/claimed_at.
func (s TaskStatus) IsClaimed() bool {
	switch s {
	case TaskStatusStarting, TaskStatusRunning, TaskStatusDone, TaskStatusError:
		return true
	default:
		return false
	}
}

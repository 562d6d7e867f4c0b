package models

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// EventLevel is the closed set of severities a TaskEvent may carry.
type EventLevel string

const (
	EventLevelDebug EventLevel = "debug"
	EventLevelInfo  EventLevel = "info"
	EventLevelWarn  EventLevel = "warn"
	EventLevelError EventLevel = "error"
)

var validEventLevels = map[EventLevel]bool{
	EventLevelDebug: true,
	EventLevelInfo:  true,
	EventLevelWarn:  true,
	EventLevelError: true,
}

func (l EventLevel) Valid() bool { return validEventLevels[l] }

func (l EventLevel) Validate() error {
	if !l.Valid() {
		return fmt.Errorf("error unknown event level: %q", l)
	}
	return nil
}

// Scan rejects any value that does not satisfy Validate, so an unknown level string read
// back from the datastore fails loudly rather than being silently normalized.
func (l *EventLevel) Scan(src interface{}) error {
	if src == nil {
		return fmt.Errorf("error cannot scan nil into event level")
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
	level := EventLevel(str)
	if err := level.Validate(); err != nil {
		return err
	}
	*l = level
	return nil
}

// EventType is the closed set of kinds a TaskEvent may represent.
type EventType string

const (
	EventTypeStatus    EventType = "status"
	EventTypeProgress  EventType = "progress"
	EventTypeLog       EventType = "log"
	EventTypeArtifact  EventType = "artifact"
	EventTypeHeartbeat EventType = "heartbeat"
	EventTypeRetry     EventType = "retry"
)

var validEventTypes = map[EventType]bool{
	EventTypeStatus:    true,
	EventTypeProgress:  true,
	EventTypeLog:       true,
	EventTypeArtifact:  true,
	EventTypeHeartbeat: true,
	EventTypeRetry:     true,
}

func (t EventType) Valid() bool { return validEventTypes[t] }

func (t EventType) Validate() error {
	if !t.Valid() {
		return fmt.Errorf("error unknown event type: %q", t)
	}
	return nil
}

// Scan rejects any value that does not satisfy Validate, so an unknown type string read
// back from the datastore fails loudly rather than being silently normalized.
func (t *EventType) Scan(src interface{}) error {
	if src == nil {
		return fmt.Errorf("error cannot scan nil into event type")
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
	typ := EventType(str)
	if err := typ.Validate(); err != nil {
		return err
	}
	*t = typ
	return nil
}

// TaskEvent is an append-only record of something that happened during a job's execution.
// No TaskEvent is ever updated or deleted by the engine.
type TaskEvent struct {
	ID        TaskEventID `db:"id" goqu:"skipinsert"`
	JobID     JobID       `db:"job_id"`
	JobTaskID *JobTaskID  `db:"job_task_id"`
	Ts        Time        `db:"ts"`
	Source    string      `db:"source"`
	Level     EventLevel  `db:"level"`
	Type      EventType   `db:"type"`
	Message   string      `db:"message"`
	Data      Payload     `db:"data"`
}

// NewTaskEvent constructs a TaskEvent ready for journaling. ID is left zero: the datastore
// assigns it on insert.
func NewTaskEvent(jobID JobID, jobTaskID *JobTaskID, source string, level EventLevel, typ EventType, message string, data Payload, ts Time) *TaskEvent {
	return &TaskEvent{
		JobID:     jobID,
		JobTaskID: jobTaskID,
		Ts:        ts,
		Source:    source,
		Level:     level,
		Type:      typ,
		Message:   message,
		Data:      ClonePayload(data),
	}
}

func (e *TaskEvent) Validate() error {
	var result *multierror.Error
	if !e.JobID.Valid() {
		result = multierror.Append(result, errors.New("error task event job id must be set"))
	}
	if err := e.Level.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := e.Type.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if e.Source == "" {
		result = multierror.Append(result, errors.New("error task event source must be set"))
	}
	return result.ErrorOrNil()
}

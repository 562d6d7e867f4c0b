package models

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ResourceKind identifies the type of entity a ResourceID refers to, e.g. "workflow" or "job-task".
// It is embedded in the string form of every ID so that an ID printed in a log line is
// self-describing and IDs of different kinds can never compare equal.
type ResourceKind string

// ResourceID is the common representation shared by every typed ID in the domain model
// (WorkflowID, JobID, JobTaskID, ...). It is never used on its own; each entity embeds it
// inside a kind-specific wrapper type so the compiler catches mismatched ID usage.
type ResourceID struct {
	kind ResourceKind
	id   uuid.UUID
}

// NewResourceID generates a new random ID of the given kind.
func NewResourceID(kind ResourceKind) ResourceID {
	return ResourceID{kind: kind, id: uuid.New()}
}

// ParseResourceID parses a string previously produced by String(), checking that its kind
// prefix matches the expected kind.
func ParseResourceID(kind ResourceKind, str string) (ResourceID, error) {
	prefix := string(kind) + ":"
	if !strings.HasPrefix(str, prefix) {
		return ResourceID{}, fmt.Errorf("error parsing %s id: missing %q prefix: %q", kind, prefix, str)
	}
	id, err := uuid.Parse(strings.TrimPrefix(str, prefix))
	if err != nil {
		return ResourceID{}, fmt.Errorf("error parsing %s id: %w", kind, err)
	}
	return ResourceID{kind: kind, id: id}, nil
}

func (r ResourceID) Kind() ResourceKind { return r.kind }

func (r ResourceID) String() string {
	return fmt.Sprintf("%s:%s", r.kind, r.id.String())
}

// Valid reports whether the ID has been populated (as opposed to the zero value).
func (r ResourceID) Valid() bool {
	return r.kind != "" && r.id != uuid.Nil
}

func (r ResourceID) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *ResourceID) UnmarshalText(text []byte) error {
	parsed, err := ParseResourceID(r.kind, string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Value implements driver.Valuer so a ResourceID can be written directly by database/sql.
func (r ResourceID) Value() (interface{}, error) {
	if !r.Valid() {
		return nil, nil
	}
	return r.String(), nil
}

// Scan implements sql.Scanner. Callers normally scan through the kind-specific wrapper type
// (e.g. JobID), which supplies the expected kind before delegating here.
func (r *ResourceID) Scan(kind ResourceKind, src interface{}) error {
	if src == nil {
		*r = ResourceID{}
		return nil
	}
	var str string
	switch v := src.(type) {
	case string:
		str = v
	case []byte:
		str = string(v)
	default:
		return fmt.Errorf("error scanning %s id: unsupported type %T", kind, src)
	}
	parsed, err := ParseResourceID(kind, str)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

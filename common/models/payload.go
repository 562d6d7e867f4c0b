package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Payload is an opaque, structured JSON document attached to a workflow step, job, or task
// (default_params, options, params, results, event data). The engine never inspects its
// contents; validation of payload shape is the owning worker service's responsibility.
//
// Every constructor returns a freshly allocated map so that two independently constructed
// Payloads never share a mutable backing map.
type Payload map[string]interface{}

// NewPayload returns an empty, independently allocated Payload.
func NewPayload() Payload {
	return Payload{}
}

// ClonePayload returns a shallow copy of src so the result shares no map alias with it.
// A nil src yields an empty Payload, never a nil map.
func ClonePayload(src Payload) Payload {
	out := make(Payload, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// MergePayload returns a new Payload containing base's entries overwritten by patch's
// entries. Neither input is mutated.
func MergePayload(base, patch Payload) Payload {
	out := ClonePayload(base)
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func (p *Payload) Scan(src interface{}) error {
	if src == nil {
		*p = NewPayload()
		return nil
	}
	var buf []byte
	switch v := src.(type) {
	case string:
		buf = []byte(v)
	case []byte:
		buf = v
	default:
		return fmt.Errorf("unsupported type: %[1]T (%[1]v)", src)
	}
	if len(buf) == 0 {
		*p = NewPayload()
		return nil
	}
	m := NewPayload()
	if err := json.Unmarshal(buf, &m); err != nil {
		return fmt.Errorf("error unmarshalling payload from JSON: %w", err)
	}
	*p = m
	return nil
}

func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}
	buf, err := json.Marshal(map[string]interface{}(p))
	if err != nil {
		return nil, fmt.Errorf("error marshalling payload to JSON: %w", err)
	}
	return string(buf), nil
}

// TaskKeySet is a set of WorkflowStep/JobTask keys, used for depends_on. It is stored as a
// JSON array and, like Payload, is always constructed as a fresh, independently owned slice.
type TaskKeySet []string

// NewTaskKeySet returns a fresh TaskKeySet containing a copy of keys.
func NewTaskKeySet(keys ...string) TaskKeySet {
	out := make(TaskKeySet, len(keys))
	copy(out, keys)
	return out
}

func (s TaskKeySet) Contains(key string) bool {
	for _, k := range s {
		if k == key {
			return true
		}
	}
	return false
}

func (s *TaskKeySet) Scan(src interface{}) error {
	if src == nil {
		*s = NewTaskKeySet()
		return nil
	}
	var buf []byte
	switch v := src.(type) {
	case string:
		buf = []byte(v)
	case []byte:
		buf = v
	default:
		return fmt.Errorf("unsupported type: %[1]T (%[1]v)", src)
	}
	if len(buf) == 0 {
		*s = NewTaskKeySet()
		return nil
	}
	var out []string
	if err := json.Unmarshal(buf, &out); err != nil {
		return fmt.Errorf("error unmarshalling task key set from JSON: %w", err)
	}
	*s = out
	return nil
}

func (s TaskKeySet) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	buf, err := json.Marshal([]string(s))
	if err != nil {
		return nil, fmt.Errorf("error marshalling task key set to JSON: %w", err)
	}
	return string(buf), nil
}

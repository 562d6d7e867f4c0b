package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Labels is a free-form set of strings attached to a Node, available to any node-selection
// policy layered on top of the dispatcher; capacity computation does not read them.
type Labels []string

func NewLabels(labels ...string) Labels {
	out := make(Labels, len(labels))
	copy(out, labels)
	return out
}

func (l Labels) Contains(label string) bool {
	for _, v := range l {
		if v == label {
			return true
		}
	}
	return false
}

func (l *Labels) Scan(src interface{}) error {
	if src == nil {
		*l = NewLabels()
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
		*l = NewLabels()
		return nil
	}
	var out []string
	if err := json.Unmarshal(buf, &out); err != nil {
		return fmt.Errorf("error unmarshalling labels from JSON: %w", err)
	}
	*l = out
	return nil
}

func (l Labels) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	buf, err := json.Marshal([]string(l))
	if err != nil {
		return nil, fmt.Errorf("error marshalling labels to JSON: %w", err)
	}
	return string(buf), nil
}

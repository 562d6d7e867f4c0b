package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// WorkflowStep describes one node of a Workflow's step DAG. It is never persisted on its own;
// a Workflow's Steps field is stored as a single structured column.
type WorkflowStep struct {
	Key string `json:"key"`
	// Service is the name of the service that executes this step, e.g. "transcode".
	Service string `json:"service"`
	// DependsOn is the set of sibling Keys that must reach done before this step is runnable.
	DependsOn TaskKeySet `json:"depends_on"`
	// ContinueOnSkip controls whether an error or skip of an upstream dependency propagates a
	// skip to this step (false, the default) or leaves it queued. The dispatcher still selects
	// a task only once every dependency is done, so a queued ContinueOnSkip step is not
	// dispatched while any of its dependencies is in error or skipped.
	ContinueOnSkip bool `json:"continue_on_skip"`
	// DefaultParams is copied into each JobTask instantiated for this step.
	DefaultParams Payload `json:"default_params"`
}

func NewWorkflowStep(key, service string, dependsOn ...string) WorkflowStep {
	return WorkflowStep{
		Key:           key,
		Service:       service,
		DependsOn:     NewTaskKeySet(dependsOn...),
		DefaultParams: NewPayload(),
	}
}

func (s WorkflowStep) Validate() error {
	var result *multierror.Error
	if s.Key == "" {
		result = multierror.Append(result, errors.New("error workflow step key must be set"))
	}
	if s.Service == "" {
		result = multierror.Append(result, errors.New("error workflow step service must be set"))
	}
	for _, dep := range s.DependsOn {
		if dep == s.Key {
			result = multierror.Append(result, fmt.Errorf("error workflow step %q cannot depend on itself", s.Key))
		}
	}
	return result.ErrorOrNil()
}

// WorkflowSteps is the JSON-serialized ordered sequence of WorkflowStep stored against a
// Workflow row.
type WorkflowSteps []WorkflowStep

func NewWorkflowSteps(steps ...WorkflowStep) WorkflowSteps {
	out := make(WorkflowSteps, len(steps))
	copy(out, steps)
	return out
}

// ByKey returns the step with the given key, or false if there is none.
func (s WorkflowSteps) ByKey(key string) (WorkflowStep, bool) {
	for _, step := range s {
		if step.Key == key {
			return step, true
		}
	}
	return WorkflowStep{}, false
}

// ValidateDAG checks that keys are unique, every depends_on reference resolves to a sibling
// step, and the dependency graph contains no cycle.
func (s WorkflowSteps) ValidateDAG() error {
	var result *multierror.Error
	seen := make(map[string]bool, len(s))
	for _, step := range s {
		if err := step.Validate(); err != nil {
			result = multierror.Append(result, err)
		}
		if seen[step.Key] {
			result = multierror.Append(result, fmt.Errorf("error duplicate workflow step key: %q", step.Key))
		}
		seen[step.Key] = true
	}
	for _, step := range s {
		for _, dep := range step.DependsOn {
			if !seen[dep] {
				result = multierror.Append(result, fmt.Errorf("error workflow step %q depends on unknown key %q", step.Key, dep))
			}
		}
	}
	if result.ErrorOrNil() != nil {
		return result.ErrorOrNil()
	}
	if cycle := findCycle(s); cycle != "" {
		result = multierror.Append(result, fmt.Errorf("error workflow steps contain a dependency cycle at %q", cycle))
	}
	return result.ErrorOrNil()
}

func findCycle(steps WorkflowSteps) string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(steps))
	byKey := make(map[string]WorkflowStep, len(steps))
	for _, step := range steps {
		byKey[step.Key] = step
	}
	var visit func(key string) string
	visit = func(key string) string {
		color[key] = gray
		for _, dep := range byKey[key].DependsOn {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if found := visit(dep); found != "" {
					return found
				}
			}
		}
		color[key] = black
		return ""
	}
	for _, step := range steps {
		if color[step.Key] == white {
			if found := visit(step.Key); found != "" {
				return found
			}
		}
	}
	return ""
}

func (s *WorkflowSteps) Scan(src interface{}) error {
	if src == nil {
		*s = NewWorkflowSteps()
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
	var out WorkflowSteps
	if err := json.Unmarshal(buf, &out); err != nil {
		return fmt.Errorf("error unmarshalling workflow steps from JSON: %w", err)
	}
	*s = out
	return nil
}

func (s WorkflowSteps) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	buf, err := json.Marshal([]WorkflowStep(s))
	if err != nil {
		return nil, fmt.Errorf("error marshalling workflow steps to JSON: %w", err)
	}
	return string(buf), nil
}

// Workflow is a named, versioned DAG of steps. Once referenced by a Job it is immutable.
type Workflow struct {
	ID        WorkflowID    `db:"id"`
	Name      string        `db:"name"`
	Version   int           `db:"version"`
	Steps     WorkflowSteps `db:"steps"`
	IsActive  bool          `db:"is_active"`
	CreatedAt Time          `db:"created_at"`
	UpdatedAt Time          `db:"updated_at"`
}

func NewWorkflow(name string, version int, steps WorkflowSteps, now Time) *Workflow {
	return &Workflow{
		ID:        NewWorkflowID(),
		Name:      name,
		Version:   version,
		Steps:     NewWorkflowSteps(steps...),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (w *Workflow) GetID() ResourceID { return w.ID.ResourceID }

func (w *Workflow) GetKind() ResourceKind { return WorkflowResourceKind }

func (w *Workflow) GetCreatedAt() Time { return w.CreatedAt }

func (w *Workflow) Validate() error {
	var result *multierror.Error
	if !w.ID.Valid() {
		result = multierror.Append(result, errors.New("error workflow id must be set"))
	}
	if w.Name == "" {
		result = multierror.Append(result, errors.New("error workflow name must be set"))
	}
	if w.Version <= 0 {
		result = multierror.Append(result, errors.New("error workflow version must be positive"))
	}
	if len(w.Steps) == 0 {
		result = multierror.Append(result, errors.New("error workflow must declare at least one step"))
	}
	if err := w.Steps.ValidateDAG(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

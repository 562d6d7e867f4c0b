package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// AwakeState is the closed set of power states a Node registration records, for an external
// node-wake collaborator; the dispatcher's capacity computation does not read it.
type AwakeState string

const (
	AwakeStateUnknown AwakeState = "unknown"
	AwakeStateAwake   AwakeState = "awake"
	AwakeStateSleep   AwakeState = "sleep"
)

var validAwakeStates = map[AwakeState]bool{
	AwakeStateUnknown: true,
	AwakeStateAwake:   true,
	AwakeStateSleep:   true,
}

func (s AwakeState) Valid() bool { return validAwakeStates[s] }

func (s AwakeState) Validate() error {
	if !s.Valid() {
		return fmt.Errorf("error unknown awake state: %q", s)
	}
	return nil
}

// ServiceConcurrency maps a service name to the maximum number of that service's tasks the
// node will run concurrently. It is instance-isolated like Payload: constructors always
// allocate a fresh map.
type ServiceConcurrency map[string]int

func NewServiceConcurrency() ServiceConcurrency {
	return ServiceConcurrency{}
}

func (c *ServiceConcurrency) Scan(src interface{}) error {
	if src == nil {
		*c = NewServiceConcurrency()
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
		*c = NewServiceConcurrency()
		return nil
	}
	m := NewServiceConcurrency()
	if err := json.Unmarshal(buf, &m); err != nil {
		return fmt.Errorf("error unmarshalling service concurrency from JSON: %w", err)
	}
	*c = m
	return nil
}

func (c ServiceConcurrency) Value() (driver.Value, error) {
	if c == nil {
		return "{}", nil
	}
	buf, err := json.Marshal(map[string]int(c))
	if err != nil {
		return nil, fmt.Errorf("error marshalling service concurrency to JSON: %w", err)
	}
	return string(buf), nil
}

// Node is a worker host known to the engine. It is keyed by Name rather than a ResourceID:
// nodes are registered by the worker agents themselves, not created by the core.
type Node struct {
	Name            string             `db:"name"`
	Labels          Labels             `db:"labels"`
	LastSeen        Time               `db:"last_seen"`
	AwakeState      AwakeState         `db:"awake_state"`
	WakeMethod      string             `db:"wake_method"`
	MAC             string             `db:"mac"`
	ProviderRef     string             `db:"provider_ref"`
	Script          string             `db:"script"`
	MaxConcurrency  ServiceConcurrency `db:"max_concurrency"`
}

func NewNode(name string, now Time) *Node {
	return &Node{
		Name:           name,
		Labels:         NewLabels(),
		LastSeen:       now,
		AwakeState:     AwakeStateUnknown,
		MaxConcurrency: NewServiceConcurrency(),
	}
}

func (n *Node) Validate() error {
	var result *multierror.Error
	if n.Name == "" {
		result = multierror.Append(result, errors.New("error node name must be set"))
	}
	if err := n.AwakeState.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Package nodewake defines the external node wake-up/power-management collaborator named by
// Node's wake_method/mac/provider_ref/script fields. Actually driving a given provider's wake
// mechanism (Wake-on-LAN, a cloud API, a provisioning script) is out of the engine's scope per
// spec.md §1; this package only fixes the contract a worker-side implementation plugs into.
package nodewake

import (
	"context"

	"github.com/buildbeaver/workflow-engine/common/models"
)

// Waker brings a sleeping Node back to an awake state. Implementations must be safe to call
// when the node is already awake (a no-op) since callers are not expected to check
// AwakeState themselves first.
type Waker interface {
	Wake(ctx context.Context, node *models.Node) error
}

// NoopWaker does nothing; the default for deployments with no sleeping nodes to manage.
type NoopWaker struct{}

func (NoopWaker) Wake(ctx context.Context, node *models.Node) error { return nil }

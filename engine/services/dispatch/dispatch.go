// Package dispatch implements the dispatcher (spec §4.4): selecting and claiming runnable
// tasks for a service within node concurrency limits, in a single transaction so the row
// locks taken during selection bracket the claim.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/buildbeaver/workflow-engine/common/logger"
	"github.com/buildbeaver/workflow-engine/common/models"
	"github.com/buildbeaver/workflow-engine/engine/store"
	"github.com/buildbeaver/workflow-engine/engine/store/nodes"
	"github.com/buildbeaver/workflow-engine/engine/store/tasks"
)

type Dispatcher struct {
	db        *store.DB
	taskStore *tasks.Store
	nodeStore *nodes.Store
	logger.Log
}

func NewDispatcher(db *store.DB, taskStore *tasks.Store, nodeStore *nodes.Store, logFactory logger.LogFactory) *Dispatcher {
	return &Dispatcher{
		db:        db,
		taskStore: taskStore,
		nodeStore: nodeStore,
		Log:       logFactory("Dispatcher"),
	}
}

// SelectAndClaim is the dispatcher's single public operation: it computes the effective
// capacity for service (§4.4.1), selects up to that many runnable tasks, and claims them for
// node, all within one transaction. It is safe to call concurrently from many dispatch loops
// against the same datastore: each call opens its own transaction (unless txOrNil is
// supplied), so the skip-locked selection in SelectRunnable is what actually arbitrates
// between them.
func (d *Dispatcher) SelectAndClaim(ctx context.Context, txOrNil *store.Tx, service, node string, limit int, now time.Time) ([]*models.JobTask, error) {
	var claimed []*models.JobTask
	err := d.db.WithTx(ctx, txOrNil, func(tx *store.Tx) error {
		capacity, err := d.effectiveCapacity(ctx, tx, service, limit)
		if err != nil {
			return fmt.Errorf("error computing dispatch capacity: %w", err)
		}
		if capacity <= 0 {
			return nil
		}

		runnable, err := d.taskStore.SelectRunnable(ctx, tx, service, capacity, now)
		if err != nil {
			return fmt.Errorf("error selecting runnable tasks: %w", err)
		}
		if len(runnable) == 0 {
			return nil
		}

		ids := make([]models.JobTaskID, len(runnable))
		for i, t := range runnable {
			ids[i] = t.ID
		}
		claimed, err = d.taskStore.Claim(ctx, tx, ids, node, now)
		if err != nil {
			return fmt.Errorf("error claiming tasks: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(claimed) > 0 {
		d.Infof("node %s claimed %d task(s) for service %q", node, len(claimed), service)
	}
	return claimed, nil
}

// effectiveCapacity implements spec §4.4.1's capacity computation: R running/starting tasks
// for service, M the sum of declared per-node max_concurrency for service (unbounded if no
// node declares one), cap = max(0, min(limit, M-R)) when M is bounded, else limit.
func (d *Dispatcher) effectiveCapacity(ctx context.Context, tx *store.Tx, service string, limit int) (int, error) {
	running, err := d.taskStore.CountActive(ctx, tx, service)
	if err != nil {
		return 0, err
	}
	total, anyDeclared, err := d.nodeStore.TotalMaxConcurrency(ctx, tx, service)
	if err != nil {
		return 0, err
	}
	if !anyDeclared {
		return limit, nil
	}
	remaining := total - int(running)
	if remaining <= 0 {
		return 0, nil
	}
	if remaining < limit {
		return remaining, nil
	}
	return limit, nil
}

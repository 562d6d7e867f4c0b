// Package workflows is the datastore access layer for the Workflow entity.
package workflows

import (
	"context"

	"github.com/doug-martin/goqu/v9"

	"github.com/buildbeaver/workflow-engine/common/logger"
	"github.com/buildbeaver/workflow-engine/common/models"
	"github.com/buildbeaver/workflow-engine/engine/store"
)

const tableName = "workflows"

type Store struct {
	db    *store.DB
	table *store.ResourceTable
}

func NewStore(db *store.DB, logFactory logger.LogFactory) *Store {
	return &Store{
		db:    db,
		table: store.NewResourceTable(db, logFactory, tableName, "id", ""),
	}
}

// Create inserts a new, immutable Workflow.
func (s *Store) Create(ctx context.Context, txOrNil *store.Tx, workflow *models.Workflow) error {
	return s.table.Create(ctx, txOrNil, workflow)
}

// Read looks up a Workflow by ID. Returns a gerror NotFound error if it does not exist.
func (s *Store) Read(ctx context.Context, txOrNil *store.Tx, id models.WorkflowID) (*models.Workflow, error) {
	workflow := &models.Workflow{}
	return workflow, s.table.ReadByID(ctx, txOrNil, id.ResourceID, workflow)
}

// ReadActiveByNameAndVersion looks up an active Workflow by its name and version.
func (s *Store) ReadActiveByNameAndVersion(ctx context.Context, txOrNil *store.Tx, name string, version int) (*models.Workflow, error) {
	workflow := &models.Workflow{}
	return workflow, s.table.ReadWhere(ctx, txOrNil, workflow,
		goqu.Ex{"name": name, "version": version, "is_active": true})
}

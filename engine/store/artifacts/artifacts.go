// Package artifacts is the datastore access layer for TaskArtifact references (spec §4.6.2).
// The engine only ever stores a pointer to externally-held object bytes, never the bytes
// themselves.
package artifacts

import (
	"context"

	"github.com/doug-martin/goqu/v9"

	"github.com/buildbeaver/workflow-engine/common/logger"
	"github.com/buildbeaver/workflow-engine/common/models"
	"github.com/buildbeaver/workflow-engine/engine/store"
)

const tableName = "task_artifacts"

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

// Record inserts a new TaskArtifact reference.
func (s *Store) Record(ctx context.Context, txOrNil *store.Tx, artifact *models.TaskArtifact) error {
	return s.table.Create(ctx, txOrNil, artifact)
}

// Read looks up a TaskArtifact by ID. Returns a gerror NotFound error if it does not exist.
func (s *Store) Read(ctx context.Context, txOrNil *store.Tx, id models.TaskArtifactID) (*models.TaskArtifact, error) {
	artifact := &models.TaskArtifact{}
	return artifact, s.table.ReadByID(ctx, txOrNil, id.ResourceID, artifact)
}

// ListByJobID returns every artifact recorded for a job, oldest first.
func (s *Store) ListByJobID(ctx context.Context, txOrNil *store.Tx, jobID models.JobID) ([]*models.TaskArtifact, error) {
	var artifactsOut []*models.TaskArtifact
	err := s.db.Read2(txOrNil, func(db store.Reader) error {
		ds := s.table.Dialect().From(tableName).
			Select(&models.TaskArtifact{}).
			Where(goqu.Ex{"job_id": jobID.String()}).
			Order(goqu.I("created_at").Asc())
		query, args, err := ds.ToSQL()
		if err != nil {
			return err
		}
		s.table.LogQuery(query, args)
		return db.ScanStructsContext(ctx, &artifactsOut, query, args...)
	})
	if err != nil {
		return nil, store.MakeStandardDBError(err)
	}
	return artifactsOut, nil
}

// ListByJobTaskID returns every artifact recorded for a single task, oldest first.
func (s *Store) ListByJobTaskID(ctx context.Context, txOrNil *store.Tx, jobTaskID models.JobTaskID) ([]*models.TaskArtifact, error) {
	var artifactsOut []*models.TaskArtifact
	err := s.db.Read2(txOrNil, func(db store.Reader) error {
		ds := s.table.Dialect().From(tableName).
			Select(&models.TaskArtifact{}).
			Where(goqu.Ex{"job_task_id": jobTaskID.String()}).
			Order(goqu.I("created_at").Asc())
		query, args, err := ds.ToSQL()
		if err != nil {
			return err
		}
		s.table.LogQuery(query, args)
		return db.ScanStructsContext(ctx, &artifactsOut, query, args...)
	})
	if err != nil {
		return nil, store.MakeStandardDBError(err)
	}
	return artifactsOut, nil
}

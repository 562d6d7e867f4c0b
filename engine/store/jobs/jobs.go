// Package jobs is the datastore access layer for the Job entity.
package jobs

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/buildbeaver/workflow-engine/common/logger"
	"github.com/buildbeaver/workflow-engine/common/models"
	"github.com/buildbeaver/workflow-engine/engine/store"
)

const tableName = "jobs"

type Store struct {
	db    *store.DB
	table *store.ResourceTable
}

func NewStore(db *store.DB, logFactory logger.LogFactory) *Store {
	return &Store{
		db:    db,
		table: store.NewResourceTable(db, logFactory, tableName, "id", "etag"),
	}
}

// Create inserts a new Job. Callers are expected to have assigned OrderSeq (see NextOrderSeq)
// within the same transaction so that FIFO precedence has no gaps a concurrent enqueue could
// jump ahead of.
func (s *Store) Create(ctx context.Context, txOrNil *store.Tx, job *models.Job) error {
	return s.table.Create(ctx, txOrNil, job)
}

// Read looks up a Job by ID. Returns a gerror NotFound error if it does not exist.
func (s *Store) Read(ctx context.Context, txOrNil *store.Tx, id models.JobID) (*models.Job, error) {
	job := &models.Job{}
	return job, s.table.ReadByID(ctx, txOrNil, id.ResourceID, job)
}

// ReadAndLockForUpdate reads a Job and takes an exclusive row lock on it, for callers (the
// lifecycle manager's maybe_finish_job) that read-then-conditionally-write within one
// transaction.
func (s *Store) ReadAndLockForUpdate(ctx context.Context, tx *store.Tx, id models.JobID) (*models.Job, error) {
	job := &models.Job{}
	return job, s.table.ReadAndLockRowForUpdateWhere(ctx, tx, job, goqu.Ex{"id": id.String()})
}

// Update overwrites an existing Job with optimistic locking via its ETag.
func (s *Store) Update(ctx context.Context, txOrNil *store.Tx, job *models.Job) error {
	return s.table.UpdateByID(ctx, txOrNil, job)
}

// NextOrderSeq returns the next value to assign to a new Job's OrderSeq, i.e. one greater
// than the current maximum. The maximum is read without a lock: on sqlite WithTx's mutex
// serializes concurrent callers, while on Postgres two concurrent transactions can read the
// same maximum and so be given the same sequence number.
func (s *Store) NextOrderSeq(ctx context.Context, tx *store.Tx) (int64, error) {
	var next int64
	err := s.db.Read2(tx, func(db store.Reader) error {
		ds := goqu.Dialect(s.db.DriverName()).From(tableName).Select(goqu.COALESCE(goqu.MAX("order_seq"), 0))
		query, args, err := ds.ToSQL()
		if err != nil {
			return fmt.Errorf("error generating next order_seq query: %w", err)
		}
		_, err = db.ScanValContext(ctx, &next, query, args...)
		return err
	})
	if err != nil {
		return 0, store.MakeStandardDBError(err)
	}
	return next + 1, nil
}

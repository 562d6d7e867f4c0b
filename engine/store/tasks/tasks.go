// Package tasks is the datastore access layer for the JobTask entity, including the
// dispatcher's core select_runnable/claim primitives (spec §4.4).
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/buildbeaver/workflow-engine/common/logger"
	"github.com/buildbeaver/workflow-engine/common/models"
	"github.com/buildbeaver/workflow-engine/engine/store"
)

const tableName = "job_tasks"

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

// Create inserts a new JobTask.
func (s *Store) Create(ctx context.Context, txOrNil *store.Tx, task *models.JobTask) error {
	return s.table.Create(ctx, txOrNil, task)
}

// Read looks up a JobTask by ID. Returns a gerror NotFound error if it does not exist.
func (s *Store) Read(ctx context.Context, txOrNil *store.Tx, id models.JobTaskID) (*models.JobTask, error) {
	task := &models.JobTask{}
	return task, s.table.ReadByID(ctx, txOrNil, id.ResourceID, task)
}

// ReadByJobAndKey looks up a JobTask by its (JobID, TaskKey) pair, which is unique. Used by
// the workflow instantiator to check whether a step's task row already exists.
func (s *Store) ReadByJobAndKey(ctx context.Context, txOrNil *store.Tx, jobID models.JobID, taskKey string) (*models.JobTask, error) {
	task := &models.JobTask{}
	return task, s.table.ReadWhere(ctx, txOrNil, task, goqu.Ex{"job_id": jobID.String(), "task_key": taskKey})
}

// ReadAndLockForUpdate reads a JobTask and takes an exclusive row lock on it, for lifecycle
// transitions (mark_running/update_progress/mark_done/mark_error/skip) that read-then-
// conditionally-write within one transaction.
func (s *Store) ReadAndLockForUpdate(ctx context.Context, tx *store.Tx, id models.JobTaskID) (*models.JobTask, error) {
	task := &models.JobTask{}
	return task, s.table.ReadAndLockRowForUpdateWhere(ctx, tx, task, goqu.Ex{"id": id.String()})
}

// Update overwrites an existing JobTask with optimistic locking via its ETag.
func (s *Store) Update(ctx context.Context, txOrNil *store.Tx, task *models.JobTask) error {
	return s.table.UpdateByID(ctx, txOrNil, task)
}

// ListByJobID returns every task belonging to a job, for the lifecycle manager's
// maybe_finish_job predicate and for dependency-satisfaction checks.
func (s *Store) ListByJobID(ctx context.Context, txOrNil *store.Tx, jobID models.JobID) ([]*models.JobTask, error) {
	var tasksOut []*models.JobTask
	err := s.db.Read2(txOrNil, func(db store.Reader) error {
		ds := s.table.Dialect().From(tableName).Select(&models.JobTask{}).Where(goqu.Ex{"job_id": jobID.String()})
		query, args, err := ds.ToSQL()
		if err != nil {
			return fmt.Errorf("error generating list query: %w", err)
		}
		s.table.LogQuery(query, args)
		return db.ScanStructsContext(ctx, &tasksOut, query, args...)
	})
	if err != nil {
		return nil, store.MakeStandardDBError(err)
	}
	return tasksOut, nil
}

// doneTaskKeys returns the set of task keys within jobID whose status is done, used to
// evaluate JobTask.DependenciesSatisfied.
func (s *Store) doneTaskKeys(ctx context.Context, tx *store.Tx, jobID models.JobID) (map[string]bool, error) {
	var keys []string
	err := s.db.Read2(tx, func(db store.Reader) error {
		ds := s.table.Dialect().From(tableName).
			Select("task_key").
			Where(goqu.Ex{"job_id": jobID.String(), "status": string(models.TaskStatusDone)})
		query, args, err := ds.ToSQL()
		if err != nil {
			return fmt.Errorf("error generating done-keys query: %w", err)
		}
		s.table.LogQuery(query, args)
		return db.ScanValsContext(ctx, &keys, query, args...)
	})
	if err != nil {
		return nil, store.MakeStandardDBError(err)
	}
	done := make(map[string]bool, len(keys))
	for _, k := range keys {
		done[k] = true
	}
	return done, nil
}

// CountActive returns the number of tasks for service currently occupying a dispatch slot
// (starting or running), for the dispatcher's capacity computation.
func (s *Store) CountActive(ctx context.Context, txOrNil *store.Tx, service string) (int64, error) {
	var count int64
	err := s.db.Read2(txOrNil, func(db store.Reader) error {
		ds := s.table.Dialect().From(tableName).
			Select(goqu.COUNT("*")).
			Where(goqu.Ex{
				"service_name": service,
				"status":       []string{string(models.TaskStatusStarting), string(models.TaskStatusRunning)},
			})
		query, args, err := ds.ToSQL()
		if err != nil {
			return fmt.Errorf("error generating count-active query: %w", err)
		}
		s.table.LogQuery(query, args)
		_, err = db.ScanValContext(ctx, &count, query, args...)
		return err
	})
	if err != nil {
		return 0, store.MakeStandardDBError(err)
	}
	return count, nil
}

// SelectRunnable finds up to limit queued tasks for service that are eligible to run right
// now: their back-off window (if any) has elapsed and every task they depend on has reached
// done. Candidate rows are locked FOR UPDATE SKIP LOCKED (on a database that supports it) so
// that two dispatcher instances polling concurrently never select the same task; the caller
// must run this inside a transaction and commit only after Claim has been called on the
// selection, or the locks are released with no task marked claimed.
//
// The dependency check can't be expressed portably as a single NOT EXISTS subquery against
// the JSON-encoded depends_on column across both sqlite and Postgres (the teacher's database
// superset has to run unmodified against both), so it is evaluated in two steps: the backed-
// off, service-filtered, FIFO-ordered candidates are locked and fetched first, then filtered
// in Go against each candidate's job's current done-task-key set.
func (s *Store) SelectRunnable(ctx context.Context, tx *store.Tx, service string, limit int, now time.Time) ([]*models.JobTask, error) {
	if limit <= 0 {
		return nil, nil
	}
	if tx == nil {
		return nil, fmt.Errorf("error selecting runnable tasks: no transaction specified")
	}

	candidates, err := s.selectCandidates(ctx, tx, service, now)
	if err != nil {
		return nil, err
	}

	doneKeysByJob := make(map[models.JobID]map[string]bool)
	runnable := make([]*models.JobTask, 0, limit)
	for _, candidate := range candidates {
		if len(runnable) >= limit {
			break
		}
		doneKeys, ok := doneKeysByJob[candidate.JobID]
		if !ok {
			doneKeys, err = s.doneTaskKeys(ctx, tx, candidate.JobID)
			if err != nil {
				return nil, err
			}
			doneKeysByJob[candidate.JobID] = doneKeys
		}
		if candidate.DependenciesSatisfied(doneKeys) {
			runnable = append(runnable, candidate)
		}
	}
	return runnable, nil
}

// selectCandidates locks and returns every queued, not-backed-off task for service, ordered
// by the job's FIFO order_seq then the task's own creation order, ignoring dependencies.
func (s *Store) selectCandidates(ctx context.Context, tx *store.Tx, service string, now time.Time) ([]*models.JobTask, error) {
	var candidates []*models.JobTask
	err := s.db.Read2(tx, func(db store.Reader) error {
		ds := s.table.Dialect().
			From(goqu.T(tableName).As("jt")).
			Select(goqu.T("jt").All()).
			Join(goqu.T("jobs").As("j"), goqu.On(goqu.I("j.id").Eq(goqu.I("jt.job_id")))).
			Where(
				goqu.I("jt.service_name").Eq(service),
				goqu.I("jt.status").Eq(string(models.TaskStatusQueued)),
				goqu.Or(
					goqu.I("jt.next_attempt_at").IsNull(),
					goqu.I("jt.next_attempt_at").Lte(now),
				),
			).
			Order(goqu.I("j.order_seq").Asc(), goqu.I("jt.created_at").Asc(), goqu.I("jt.id").Asc())

		if s.db.SupportsRowLevelLocking() {
			ds = ds.ForUpdate(exp.SkipLocked)
		}

		query, args, err := ds.ToSQL()
		if err != nil {
			return fmt.Errorf("error generating select_runnable query: %w", err)
		}
		s.table.LogQuery(query, args)
		return db.ScanStructsContext(ctx, &candidates, query, args...)
	})
	if err != nil {
		return nil, store.MakeStandardDBError(err)
	}
	return candidates, nil
}

// ListStale returns every task in starting or running whose claimed_at is older than deadline,
// for the reaper's liveness sweep (spec §5: the core exposes claimed_at but performs no
// liveness detection of its own).
func (s *Store) ListStale(ctx context.Context, txOrNil *store.Tx, deadline time.Time) ([]*models.JobTask, error) {
	var stale []*models.JobTask
	err := s.db.Read2(txOrNil, func(db store.Reader) error {
		ds := s.table.Dialect().From(tableName).Select(&models.JobTask{}).
			Where(
				goqu.I("status").In(string(models.TaskStatusStarting), string(models.TaskStatusRunning)),
				goqu.I("claimed_at").IsNotNull(),
				goqu.I("claimed_at").Lt(deadline),
			).
			Order(goqu.I("claimed_at").Asc())
		query, args, err := ds.ToSQL()
		if err != nil {
			return fmt.Errorf("error generating list-stale query: %w", err)
		}
		s.table.LogQuery(query, args)
		return db.ScanStructsContext(ctx, &stale, query, args...)
	})
	if err != nil {
		return nil, store.MakeStandardDBError(err)
	}
	return stale, nil
}

// Claim transitions the given tasks from queued to starting and records node as the claimant,
// in a single bulk statement, then reads back the rows that were actually updated. The caller
// must have locked these rows via SelectRunnable within the same transaction first. Returning
// the full claimed rows (rather than just a count) saves the dispatch loop a second round trip
// to fetch what it just claimed, while still letting the caller derive the count from len().
func (s *Store) Claim(ctx context.Context, tx *store.Tx, taskIDs []models.JobTaskID, node string, now time.Time) ([]*models.JobTask, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}
	if tx == nil {
		return nil, fmt.Errorf("error claiming tasks: no transaction specified")
	}
	ids := make([]string, len(taskIDs))
	for i, id := range taskIDs {
		ids[i] = id.String()
	}

	err := s.db.Write2(tx, func(db store.Writer) error {
		ds := db.Update(tableName).
			Set(goqu.Record{
				"status":        string(models.TaskStatusStarting),
				"claimed_by":    node,
				"assigned_node": node,
				"claimed_at":    now,
				"updated_at":    now,
			}).
			Where(goqu.Ex{
				"id":     ids,
				"status": string(models.TaskStatusQueued),
			})
		query, args, err := ds.ToSQL()
		if err != nil {
			return fmt.Errorf("error generating claim query: %w", err)
		}
		s.table.LogQuery(query, args)
		_, err = db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("error executing claim query: %w", store.MakeStandardDBError(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var claimed []*models.JobTask
	err = s.db.Read2(tx, func(db store.Reader) error {
		ds := s.table.Dialect().From(tableName).
			Select(&models.JobTask{}).
			Where(goqu.Ex{"id": ids, "claimed_by": node, "status": string(models.TaskStatusStarting)})
		query, args, err := ds.ToSQL()
		if err != nil {
			return fmt.Errorf("error generating post-claim read query: %w", err)
		}
		s.table.LogQuery(query, args)
		return db.ScanStructsContext(ctx, &claimed, query, args...)
	})
	if err != nil {
		return nil, store.MakeStandardDBError(err)
	}
	return claimed, nil
}

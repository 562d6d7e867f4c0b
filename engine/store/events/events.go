// Package events is the datastore access layer for the append-only TaskEvent journal
// (spec §4.6). No TaskEvent is ever updated or deleted.
package events

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/buildbeaver/workflow-engine/common/logger"
	"github.com/buildbeaver/workflow-engine/common/models"
	"github.com/buildbeaver/workflow-engine/engine/store"
)

const tableName = "task_events"

type Store struct {
	db  *store.DB
	log logger.Log
}

func NewStore(db *store.DB, logFactory logger.LogFactory) *Store {
	return &Store{db: db, log: logFactory("events_table")}
}

// Append validates and inserts event, returning the server-assigned TaskEventID.
func (s *Store) Append(ctx context.Context, txOrNil *store.Tx, event *models.TaskEvent) (models.TaskEventID, error) {
	if err := event.Validate(); err != nil {
		return 0, fmt.Errorf("error task event invalid: %w", err)
	}
	var id int64
	err := s.db.Write2(txOrNil, func(db store.Writer) error {
		ds := db.Insert(tableName).Rows(event).Returning("id")
		query, args, err := ds.ToSQL()
		if err != nil {
			return fmt.Errorf("error generating append event query: %w", err)
		}
		s.log.WithFields(logger.Fields{"query": query, "args": args}).Trace()
		found, err := db.ScanValContext(ctx, &id, query, args...)
		if err != nil {
			return fmt.Errorf("error executing append event query: %w", store.MakeStandardDBError(err))
		}
		if !found {
			return fmt.Errorf("error append event query returned no id")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return models.TaskEventID(id), nil
}

// ListByJobID returns every event recorded for jobID, ordered oldest first.
func (s *Store) ListByJobID(ctx context.Context, txOrNil *store.Tx, jobID models.JobID) ([]*models.TaskEvent, error) {
	var eventsOut []*models.TaskEvent
	err := s.db.Read2(txOrNil, func(db store.Reader) error {
		ds := goqu.Dialect(s.db.DriverName()).From(tableName).
			Select(&models.TaskEvent{}).
			Where(goqu.Ex{"job_id": jobID.String()}).
			Order(goqu.I("id").Asc())
		query, args, err := ds.ToSQL()
		if err != nil {
			return fmt.Errorf("error generating list events query: %w", err)
		}
		s.log.WithFields(logger.Fields{"query": query, "args": args}).Trace()
		return db.ScanStructsContext(ctx, &eventsOut, query, args...)
	})
	if err != nil {
		return nil, store.MakeStandardDBError(err)
	}
	return eventsOut, nil
}

// ListByJobTaskID returns every event recorded for a single task, ordered oldest first.
func (s *Store) ListByJobTaskID(ctx context.Context, txOrNil *store.Tx, jobTaskID models.JobTaskID) ([]*models.TaskEvent, error) {
	var eventsOut []*models.TaskEvent
	err := s.db.Read2(txOrNil, func(db store.Reader) error {
		ds := goqu.Dialect(s.db.DriverName()).From(tableName).
			Select(&models.TaskEvent{}).
			Where(goqu.Ex{"job_task_id": jobTaskID.String()}).
			Order(goqu.I("id").Asc())
		query, args, err := ds.ToSQL()
		if err != nil {
			return fmt.Errorf("error generating list events query: %w", err)
		}
		s.log.WithFields(logger.Fields{"query": query, "args": args}).Trace()
		return db.ScanStructsContext(ctx, &eventsOut, query, args...)
	})
	if err != nil {
		return nil, store.MakeStandardDBError(err)
	}
	return eventsOut, nil
}

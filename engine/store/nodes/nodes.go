// Package nodes is the datastore access layer for worker Node registrations (spec §4.7.1),
// and for the dispatcher's concurrency-cap computation.
package nodes

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/buildbeaver/workflow-engine/common/gerror"
	"github.com/buildbeaver/workflow-engine/common/logger"
	"github.com/buildbeaver/workflow-engine/common/models"
	"github.com/buildbeaver/workflow-engine/engine/store"
)

const tableName = "nodes"

// Store is not built on ResourceTable like the other per-entity stores: a Node is keyed by
// Name rather than a ResourceID, so it doesn't satisfy models.Resource.
type Store struct {
	db  *store.DB
	log logger.Log
}

func NewStore(db *store.DB, logFactory logger.LogFactory) *Store {
	return &Store{db: db, log: logFactory("nodes_table")}
}

func (s *Store) dialect() goqu.DialectWrapper { return goqu.Dialect(s.db.DriverName()) }

// Upsert registers node, or overwrites the existing registration of the same name, so
// registering the same node again never fails on a duplicate.
func (s *Store) Upsert(ctx context.Context, txOrNil *store.Tx, node *models.Node) error {
	if err := node.Validate(); err != nil {
		return fmt.Errorf("error node invalid: %w", err)
	}
	return s.db.Write2(txOrNil, func(db store.Writer) error {
		ds := db.Insert(tableName).Rows(node).OnConflict(goqu.DoUpdate("name", goqu.Record{
			"labels":          node.Labels,
			"last_seen":       node.LastSeen,
			"awake_state":     node.AwakeState,
			"wake_method":     node.WakeMethod,
			"mac":             node.MAC,
			"provider_ref":    node.ProviderRef,
			"script":          node.Script,
			"max_concurrency": node.MaxConcurrency,
		}))
		query, args, err := ds.ToSQL()
		if err != nil {
			return fmt.Errorf("error generating upsert node query: %w", err)
		}
		s.log.WithFields(logger.Fields{"query": query, "args": args}).Trace()
		_, err = db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("error executing upsert node query: %w", store.MakeStandardDBError(err))
		}
		return nil
	})
}

// Read looks up a Node by name. Returns a gerror NotFound error if it does not exist.
func (s *Store) Read(ctx context.Context, txOrNil *store.Tx, name string) (*models.Node, error) {
	node := &models.Node{}
	err := s.db.Read2(txOrNil, func(db store.Reader) error {
		ds := s.dialect().From(tableName).Select(node).Where(goqu.Ex{"name": name}).Limit(1)
		query, args, err := ds.ToSQL()
		if err != nil {
			return fmt.Errorf("error generating read node query: %w", err)
		}
		s.log.WithFields(logger.Fields{"query": query, "args": args}).Trace()
		found, err := db.ScanStructContext(ctx, node, query, args...)
		if err != nil {
			return store.MakeStandardDBError(err)
		}
		if !found {
			return gerror.NewErrNotFound(fmt.Sprintf("node %q not found", name))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// List returns every registered node.
func (s *Store) List(ctx context.Context, txOrNil *store.Tx) ([]*models.Node, error) {
	var nodesOut []*models.Node
	err := s.db.Read2(txOrNil, func(db store.Reader) error {
		ds := s.dialect().From(tableName).Select(&models.Node{})
		query, args, err := ds.ToSQL()
		if err != nil {
			return fmt.Errorf("error generating list nodes query: %w", err)
		}
		s.log.WithFields(logger.Fields{"query": query, "args": args}).Trace()
		return db.ScanStructsContext(ctx, &nodesOut, query, args...)
	})
	if err != nil {
		return nil, store.MakeStandardDBError(err)
	}
	return nodesOut, nil
}

// TotalMaxConcurrency sums max_concurrency[service] across every node that declares a limit
// for it, for the dispatcher's capacity computation. A node with no entry for service is
// excluded from the sum. anyDeclared is false when no node declares a limit for service;
// dispatch.Dispatcher treats that case as unbounded capacity.
func (s *Store) TotalMaxConcurrency(ctx context.Context, txOrNil *store.Tx, service string) (total int, anyDeclared bool, err error) {
	allNodes, err := s.List(ctx, txOrNil)
	if err != nil {
		return 0, false, err
	}
	for _, n := range allNodes {
		if limit, ok := n.MaxConcurrency[service]; ok {
			total += limit
			anyDeclared = true
		}
	}
	return total, anyDeclared, nil
}

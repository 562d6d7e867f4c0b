package store

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/mitchellh/hashstructure/v2"

	"github.com/buildbeaver/workflow-engine/common/gerror"
	"github.com/buildbeaver/workflow-engine/common/logger"
	"github.com/buildbeaver/workflow-engine/common/models"
)

// ResourceTable is a generic, optimistic-locking CRUD layer shared by every per-entity store
// (workflows, jobs, job_tasks, task_artifacts). Unlike the teacher's version, the table/column names
// are supplied explicitly rather than inferred by reflection from prefixed "db" tags, because
// this schema uses plain (non-prefixed) column names (see DESIGN.md).
type ResourceTable struct {
	logger.Log
	db          *DB
	tableName   string
	idColName   string
	etagColName string
}

func NewResourceTable(db *DB, logFactory logger.LogFactory, tableName, idColName, etagColName string) *ResourceTable {
	return &ResourceTable{
		db:          db,
		tableName:   tableName,
		idColName:   idColName,
		etagColName: etagColName,
		Log:         logFactory(fmt.Sprintf("%s_table", tableName)),
	}
}

func (d *ResourceTable) Dialect() goqu.DialectWrapper {
	return goqu.Dialect(d.db.DriverName())
}

func (d *ResourceTable) TableName() string { return d.tableName }

// ReadByID reads a resource by its ResourceID. Returns a gerror NotFound error if it's absent.
func (d *ResourceTable) ReadByID(ctx context.Context, txOrNil *Tx, id models.ResourceID, resource interface{}) error {
	ds := d.Dialect().From(d.tableName).Select(resource).Where(goqu.Ex{d.idColName: id.String()})
	return d.ReadIn(ctx, txOrNil, resource, ds)
}

// ReadWhere reads a resource located by the supplied where clauses.
func (d *ResourceTable) ReadWhere(ctx context.Context, txOrNil *Tx, resource interface{}, where ...goqu.Expression) error {
	ds := d.Dialect().From(d.tableName).Select(resource).Where(where...)
	return d.ReadIn(ctx, txOrNil, resource, ds)
}

// ReadAndLockRowForUpdateWhere reads a resource located by where, locking the row against
// concurrent selection until the enclosing transaction ends. On a database that doesn't
// support row-level locking (sqlite) this degrades to a plain read: WithTx's mutex already
// serializes writers in that case.
func (d *ResourceTable) ReadAndLockRowForUpdateWhere(ctx context.Context, tx *Tx, resource interface{}, where ...goqu.Expression) error {
	if tx == nil {
		return fmt.Errorf("error reading and locking database row for update: no transaction specified")
	}
	if !d.db.SupportsRowLevelLocking() {
		return d.ReadWhere(ctx, tx, resource, where...)
	}
	ds := d.Dialect().From(d.tableName).Select(resource).Where(where...).ForUpdate(exp.Wait).Limit(1)
	return d.ReadIn(ctx, tx, resource, ds)
}

// ReadIn reads a single resource from the supplied select dataset.
func (d *ResourceTable) ReadIn(ctx context.Context, txOrNil *Tx, resource interface{}, ds *goqu.SelectDataset) error {
	ds = ds.Limit(1)
	return d.db.Read2(txOrNil, func(db Reader) error {
		query, args, err := ds.ToSQL()
		if err != nil {
			return fmt.Errorf("error generating query: %w", err)
		}
		d.LogQuery(query, args)
		found, err := db.ScanStructContext(ctx, resource, query, args...)
		if err != nil {
			return MakeStandardDBError(err)
		}
		if !found {
			return gerror.NewErrNotFound(fmt.Sprintf("%s not found", d.tableName))
		}
		return nil
	})
}

// LockRowForUpdate takes out an exclusive, skip-locked row lock on the row with the given ID.
func (d *ResourceTable) LockRowForUpdate(ctx context.Context, tx *Tx, id models.ResourceID) error {
	return d.LockRowForUpdateWhere(ctx, tx, goqu.Ex{d.idColName: id.String()})
}

// LockRowForUpdateWhere takes out an exclusive, skip-locked row lock on the first matching row.
func (d *ResourceTable) LockRowForUpdateWhere(ctx context.Context, tx *Tx, where ...goqu.Expression) error {
	if tx == nil {
		return fmt.Errorf("error locking database row for update: no transaction specified")
	}
	if !d.db.SupportsRowLevelLocking() {
		return nil
	}
	return d.db.Read2(tx, func(db Reader) error {
		ds := d.Dialect().From(d.tableName).Select(goqu.C(d.idColName)).Where(where...).ForUpdate(exp.SkipLocked).Limit(1)
		query, args, err := ds.ToSQL()
		if err != nil {
			return fmt.Errorf("error generating query: %w", err)
		}
		d.LogQuery(query, args)
		var resultID string
		found, err := db.ScanValContext(ctx, &resultID, query, args...)
		if err != nil {
			return MakeStandardDBError(err)
		}
		if !found || resultID == "" {
			return gerror.NewErrNotFound(fmt.Sprintf("%s not found", d.tableName))
		}
		return nil
	})
}

// Create inserts a new resource row. If resource is a models.MutableResource, an ETag is
// computed from its content and set on the resource before insertion.
func (d *ResourceTable) Create(ctx context.Context, txOrNil *Tx, resource models.Resource) error {
	if err := resource.Validate(); err != nil {
		return fmt.Errorf("error resource invalid: %w", err)
	}
	if mutable, ok := resource.(models.MutableResource); ok {
		etag, err := computeETag(resource)
		if err != nil {
			return err
		}
		mutable.SetETag(etag)
	}
	return d.db.Write2(txOrNil, func(db Writer) error {
		query, args, err := db.Insert(d.tableName).Rows(resource).ToSQL()
		if err != nil {
			return fmt.Errorf("error generating insert query: %w", err)
		}
		d.LogQuery(query, args)
		_, err = db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("error executing create query: %w", MakeStandardDBError(err))
		}
		return nil
	})
}

// UpdateByID overwrites an existing resource's row, identified by its ID. If resource is a
// models.MutableResource, the write is conditioned on the ETag the caller read matching the
// stored value (optimistic locking): a mismatch returns a gerror OptimisticLockFailed error.
func (d *ResourceTable) UpdateByID(ctx context.Context, txOrNil *Tx, resource models.Resource) error {
	return d.updateWhere(ctx, txOrNil, resource, goqu.Ex{d.idColName: resource.GetID().String()})
}

func (d *ResourceTable) updateWhere(ctx context.Context, txOrNil *Tx, resource models.Resource, where ...goqu.Expression) (err error) {
	if err := resource.Validate(); err != nil {
		return fmt.Errorf("error resource invalid: %w", err)
	}
	mutable, ok := resource.(models.MutableResource)
	if ok {
		origETag := mutable.GetETag()
		newETag, err := computeETag(resource)
		if err != nil {
			return err
		}
		mutable.SetETag(newETag)
		if origETag != models.ETagAny && origETag != "" {
			where = append(where, goqu.Ex{d.etagColName: string(origETag)})
		}
		defer func() {
			if err != nil {
				mutable.SetETag(origETag)
			}
		}()
	}
	return d.db.Write2(txOrNil, func(db Writer) error {
		query, args, err := db.Update(d.tableName).Set(resource).Where(where...).ToSQL()
		if err != nil {
			return fmt.Errorf("error generating update query: %w", err)
		}
		d.LogQuery(query, args)
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("error executing update query: %w", MakeStandardDBError(err))
		}
		rowsAffected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("error reading rows affected: %w", err)
		}
		if rowsAffected == 0 {
			if mutable == nil {
				return gerror.NewErrNotFound(fmt.Sprintf("%s does not exist", resource.GetID()))
			}
			return gerror.NewErrOptimisticLockFailed("etag does not match")
		}
		return nil
	})
}

func computeETag(resource models.Resource) (models.ETag, error) {
	hash, err := hashstructure.Hash(resource, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("error calculating resource hash: %w", err)
	}
	return models.ETag(fmt.Sprintf("%x", hash)), nil
}

// LogQuery logs a SQL query and its args at trace level.
func (d *ResourceTable) LogQuery(query string, args []interface{}) {
	d.WithFields(logger.Fields{"query": query, "args": args}).Trace()
}

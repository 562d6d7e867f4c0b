package store

import (
	"errors"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/buildbeaver/workflow-engine/common/gerror"
)

// MakeStandardDBError translates a sqlite or Postgres driver error into the engine's classified
// gerror.Error: unique-constraint violations become AlreadyExists and every other driver error
// becomes Transient. An error that comes from neither driver is returned unchanged.
func MakeStandardDBError(err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.Code == sqlite3.ErrConstraint &&
			(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
			return gerror.NewErrAlreadyExists("resource already exists").Wrap(sqliteErr)
		}
		return gerror.NewErrTransient("sqlite error", sqliteErr)
	}

	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return gerror.NewErrAlreadyExists("resource already exists").Wrap(pgErr)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return gerror.NewErrTransient("transaction conflict, retry", pgErr)
		}
		return gerror.NewErrTransient("postgres error", pgErr)
	}

	return err
}

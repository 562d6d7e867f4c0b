package migrations

import (
	"fmt"

	"github.com/buildbeaver/workflow-engine/engine/store"
)

// DialectTemplate supplies the SQL syntax that differs between our supported databases.
// Migration SQL is a Go text/template executed against one of these before being applied.
type DialectTemplate struct {
	// IntegerPrimaryKey is the column type for an auto-incrementing integer primary key
	// (used by task_events, whose id is a monotone 64-bit sequence rather than a UUID).
	IntegerPrimaryKey string
	// JSONType is the column type used to store structured (Payload/TaskKeySet/Labels) values.
	JSONType string
	// TimestampType is the column type used to store a models.Time value.
	TimestampType string
	// ForUpdateSkipLocked is appended to a SELECT to lock and skip contended rows. sqlite
	// has no such clause; WithTx's mutex serializes it instead.
	ForUpdateSkipLocked string
}

func NewPostgresDialectTemplate() *DialectTemplate {
	return &DialectTemplate{
		IntegerPrimaryKey:   "BIGSERIAL PRIMARY KEY",
		JSONType:            "jsonb",
		TimestampType:       "timestamp with time zone",
		ForUpdateSkipLocked: "FOR UPDATE SKIP LOCKED",
	}
}

func NewSqliteDialectTemplate() *DialectTemplate {
	return &DialectTemplate{
		IntegerPrimaryKey:   "integer NOT NULL PRIMARY KEY AUTOINCREMENT",
		JSONType:            "text",
		TimestampType:       "timestamp without time zone",
		ForUpdateSkipLocked: "",
	}
}

func GetDialectForDriver(driver store.DBDriver) (*DialectTemplate, error) {
	switch driver {
	case store.Sqlite:
		return NewSqliteDialectTemplate(), nil
	case store.Postgres:
		return NewPostgresDialectTemplate(), nil
	}
	return nil, fmt.Errorf("error unsupported database driver: %s", driver)
}

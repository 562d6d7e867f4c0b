// Package config loads engine configuration from the environment via spf13/viper, the way the
// teacher's own bb CLI (bb/cmd/bb/commands/root.go) binds viper to environment variables. Each
// setting is bound to a pair of env var names exactly as spec.md §6 describes for the original
// Python service's Pydantic alias_choices: an engine-specific name plus a shared/conventional
// one so the engine can slot into an existing deployment's environment without renaming
// anything.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/buildbeaver/workflow-engine/engine/objectstore"
	"github.com/buildbeaver/workflow-engine/engine/services/lifecycle"
	"github.com/buildbeaver/workflow-engine/engine/store"
)

const (
	DefaultDispatchPollInterval = time.Second
	DefaultDispatchBatchSize    = 20
	DefaultHeartbeatTimeout     = 10 * time.Minute
)

// Config is the engine's complete runtime configuration, assembled from environment variables.
type Config struct {
	DatabaseConfig   store.DatabaseConfig
	ObjectStore      objectstore.S3Config
	BusURL           string
	ServiceURL       string
	Backoff          lifecycle.BackoffConfig
	HeartbeatTimeout time.Duration
}

// aliasPair binds a viper key to the two env var names it may be supplied under, with the
// engine-specific one taking precedence when both are set.
type aliasPair struct {
	key       string
	preferred string
	fallback  string
}

var aliasPairs = []aliasPair{
	{"db.dsn", "ENGINE_DB_DSN", "DATABASE_URL"},
	{"objectstore.endpoint", "ENGINE_OBJECT_STORE_ENDPOINT", "S3_ENDPOINT"},
	{"objectstore.access_key", "ENGINE_OBJECT_STORE_ACCESS_KEY", "S3_ACCESS_KEY_ID"},
	{"objectstore.secret_key", "ENGINE_OBJECT_STORE_SECRET_KEY", "S3_SECRET_ACCESS_KEY"},
	{"objectstore.secure", "ENGINE_OBJECT_STORE_SECURE", "S3_USE_SSL"},
	{"bus.url", "ENGINE_BUS_URL", ""},
	{"service.url", "ENGINE_SERVICE_URL", ""},
}

// Load reads configuration from the environment. A setting's preferred env var, if set, wins
// over its fallback; the explicit BindEnv calls below bind both names to each key and fix the
// precedence order between the pair.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("db.driver", string(store.Sqlite))
	v.SetDefault("objectstore.region", "")
	v.SetDefault("objectstore.secure", false)

	for _, pair := range aliasPairs {
		names := []string{pair.preferred}
		if pair.fallback != "" {
			names = append(names, pair.fallback)
		}
		if err := v.BindEnv(pair.key, names...); err != nil {
			return nil, fmt.Errorf("error binding %s: %w", pair.key, err)
		}
	}
	if err := v.BindEnv("db.driver", "ENGINE_DB_DRIVER"); err != nil {
		return nil, fmt.Errorf("error binding db.driver: %w", err)
	}

	dsn := v.GetString("db.dsn")
	if dsn == "" {
		return nil, fmt.Errorf("error no database DSN configured: set ENGINE_DB_DSN or DATABASE_URL")
	}

	cfg := &Config{
		DatabaseConfig: store.DatabaseConfig{
			ConnectionString:   store.DatabaseConnectionString(dsn),
			Driver:             store.DBDriver(v.GetString("db.driver")),
			MaxIdleConnections: store.DefaultMaxIdleConnections,
			MaxOpenConnections: store.DefaultMaxOpenConnections,
		},
		ObjectStore: objectstore.S3Config{
			Endpoint:        v.GetString("objectstore.endpoint"),
			Region:          v.GetString("objectstore.region"),
			AccessKeyID:     v.GetString("objectstore.access_key"),
			SecretAccessKey: v.GetString("objectstore.secret_key"),
			Secure:          parseBool(v.GetString("objectstore.secure")),
		},
		BusURL:           v.GetString("bus.url"),
		ServiceURL:       v.GetString("service.url"),
		Backoff:          lifecycle.DefaultBackoffConfig,
		HeartbeatTimeout: DefaultHeartbeatTimeout,
	}
	return cfg, nil
}

// parseBool parses the secure flag's raw string case-insensitively, ignoring surrounding
// whitespace: "1", "t", "true", "yes" and "y" are true, and any other value is false.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "yes", "y":
		return true
	default:
		return false
	}
}

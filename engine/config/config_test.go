package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildbeaver/workflow-engine/engine/config"
	"github.com/buildbeaver/workflow-engine/engine/store"
)

func TestLoadPrefersEngineSpecificEnvVar(t *testing.T) {
	t.Setenv("ENGINE_DB_DSN", "engine.db")
	t.Setenv("DATABASE_URL", "fallback.db")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, store.DatabaseConnectionString("engine.db"), cfg.DatabaseConfig.ConnectionString)
}

func TestLoadFallsBackToSharedEnvVar(t *testing.T) {
	t.Setenv("DATABASE_URL", "fallback.db")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, store.DatabaseConnectionString("fallback.db"), cfg.DatabaseConfig.ConnectionString)
}

func TestLoadRequiresADatabaseDSN(t *testing.T) {
	_, err := config.Load()
	require.Error(t, err)
}

func TestLoadParsesObjectStoreSecureFlagFromSharedEnvVar(t *testing.T) {
	t.Setenv("ENGINE_DB_DSN", "engine.db")
	t.Setenv("S3_USE_SSL", "true")
	t.Setenv("S3_ENDPOINT", "minio:9000")
	t.Setenv("S3_ACCESS_KEY_ID", "minioadmin")
	t.Setenv("S3_SECRET_ACCESS_KEY", "minioadmin")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.True(t, cfg.ObjectStore.Secure)
	require.Equal(t, "minio:9000", cfg.ObjectStore.Endpoint)
	require.Equal(t, "minioadmin", cfg.ObjectStore.AccessKeyID)
}

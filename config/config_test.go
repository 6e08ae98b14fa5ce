package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/lending-ledger-go/config"
)

func Test_PostgresDSN_FallsBackToLocalDefault(t *testing.T) {
	t.Setenv(config.EnvPostgresDSN, "")

	assert.Contains(t, config.PostgresDSN(), "localhost:5432/ledger")
}

func Test_PostgresDSN_ReadsEnvironment(t *testing.T) {
	t.Setenv(config.EnvPostgresDSN, "postgres://u:p@db:5432/other?sslmode=disable")
	t.Setenv(config.EnvPostgresReplicaDSN, "postgres://u:p@replica:5432/other?sslmode=disable")

	assert.Equal(t, "postgres://u:p@db:5432/other?sslmode=disable", config.PostgresDSN())
	assert.Equal(t, "postgres://u:p@replica:5432/other?sslmode=disable", config.PostgresReplicaDSN())
}

func Test_PostgresPGXPoolConfig_AppliesPoolLimits(t *testing.T) {
	poolConfig, err := config.PostgresPGXPoolConfig("postgres://u:p@db:5432/ledger?sslmode=disable")

	require.NoError(t, err)
	assert.Equal(t, int32(20), poolConfig.MaxConns)
	assert.Equal(t, 5*time.Second, poolConfig.ConnConfig.ConnectTimeout)
}

func Test_PostgresPGXPoolConfig_RejectsMalformedDSN(t *testing.T) {
	_, err := config.PostgresPGXPoolConfig("postgres://u:p@db:notaport/ledger")

	assert.Error(t, err)
}

func Test_PostgresSQLDB_OpensWithoutConnecting(t *testing.T) {
	db, err := config.PostgresSQLDB("postgres://u:p@db:5432/ledger?sslmode=disable")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	assert.Equal(t, 20, db.Stats().MaxOpenConnections)
}

func Test_PostgresSQLX_OpensWithoutConnecting(t *testing.T) {
	db, err := config.PostgresSQLX("postgres://u:p@db:5432/ledger?sslmode=disable")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	assert.Equal(t, "postgres", db.DriverName())
}

// Package config provides PostgreSQL connection configuration for the lending ledger.
//
// This package contains factory functions for creating database connections
// for the supported PostgreSQL adapters (pgx.Pool, sql.DB, sqlx.DB). DSNs are read
// from the environment with a local default, so the CLI and the integration tests
// can be pointed at any database without code changes.
//
// NewObservabilityProviders sets up the OpenTelemetry SDK providers for traces, metrics
// and logs, exporting over OTLP gRPC or to a writer.
package config

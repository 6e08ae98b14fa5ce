// Package adapters provide database adapter implementations for the PostgreSQL ledger store.
//
// This package implements the adapter pattern to support multiple PostgreSQL database libraries:
// pgx.Pool, sql.DB, and sqlx.DB. All adapters provide equivalent functionality through
// a common DBAdapter interface: plain reads, which may be routed to a replica when the
// context asks for eventual consistency, and transactions, which always run on the primary.
package adapters

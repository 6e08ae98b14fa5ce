// Package helper provides test doubles and fixtures shared by the ledger test suites:
// a slog handler spy, a metrics collector spy, a tracing collector spy, and Given... fixtures
// that arrange items, borrowers, and loans through the lending engine.
package helper

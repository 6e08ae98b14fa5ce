// Package memengine provides an in-process implementation of ledger.Store.
//
// It keeps the same guarantees as the PostgreSQL engine: one lock per item, held from the first
// read of the item (or of one of its loans) until the unit ends; writes staged per unit and
// applied atomically on commit; nothing applied when the unit function fails or panics.
// Lock waits honor the unit's context, so a unit timeout aborts a blocked unit.
//
// Data does not survive the process. Use it for tests, demos, and the BDD feature suite.
package memengine

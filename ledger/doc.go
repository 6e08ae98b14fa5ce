// Package ledger provides the core types and abstractions of the lending ledger:
// catalog items with their copy counters, borrowers, loans, and the store contracts
// that the lending engine runs its atomic units of work against.
//
// The package holds no storage code. Engines (memengine, postgresengine) implement
// Store and UnitOfWork; the engine package implements the use cases on top of them.
//
// Invariants kept by the lending engine:
//   - 0 <= Item.AvailableCopies <= Item.TotalCopies, at every externally visible point
//   - TotalCopies - AvailableCopies equals the number of open loans for the item,
//     except while a shrinking total is clamped (see Item.Rebaseline)
//   - a Loan goes from LoanOpen to LoanClosed exactly once and is never deleted
//
// Key types:
//   - Item: a catalog entry with N fungible copies
//   - Borrower: someone copies can be issued to
//   - Loan: one copy leaving circulation and (optionally) coming back
//   - LoanView: a loan joined with borrower name and item title
//   - UnitOfWork: the transactional surface of Catalog Store and Ledger Store
//
// Common usage pattern:
//
//	err := store.RunInUnitOfWork(ctx, func(ctx context.Context, uow ledger.UnitOfWork) error {
//		item, err := uow.LockItem(ctx, itemID)
//		if err != nil {
//			return err
//		}
//		// decide based on item, then write through uow
//		return nil
//	})
package ledger

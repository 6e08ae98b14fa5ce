package adapters

import (
	"context"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

// useReplica reports whether a read may go to the replica.
func useReplica(ctx context.Context, hasReplica bool) bool {
	return hasReplica && ledger.GetConsistencyLevel(ctx) == ledger.EventualConsistency
}

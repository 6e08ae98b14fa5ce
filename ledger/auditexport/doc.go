// Package auditexport writes the loan ledger as JSON lines to a file system directory or an S3 bucket.
//
// Each export is one object named loans/<UTC timestamp>.jsonl holding one ledger.LoanView per line,
// newest loan first. The export reads the ledger through the engine views, so it can run against
// a replica by passing a context built with ledger.WithEventualConsistency.
package auditexport

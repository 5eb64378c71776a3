// Package repositories implements SQLite persistence for job history and credentials.
//
// Key Implementations:
//   - [JobRepository] : Submitted jobs with their final outcome and counts
//   - [ResultRepository] : Reconciled result items in acceptance order, one row per record id and job
//   - [JobHistory] : Records poll progress through both repositories while a job runs
//   - [CredentialRepository] : Token pairs keyed by scope, used as the token gate's store
//
// Jobs support soft deletes via deleted_at timestamps and are excluded from queries once deleted.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories

// Package tasks drives backend jobs from submission to written table records.
//
// # Polling
//
// A [PollLoop] submits a [models.JobSpec] through a [TaskClient] and then fetches status at a fixed
// interval until the job is terminal, the timeout passes or the context is cancelled. Each fetched
// [models.StatusSnapshot] is folded into a [ReconciledSet] by the [Reconciler]: results are keyed by record
// id, the first arrival wins and the set never grows past the job's total count. Observers receive one
// [ProgressUpdate] per reconciling step carrying only the newly accepted items.
//
// A job that stops on insufficient quota is a soft stop: its partial results are returned with a nil error.
//
// # Write-back
//
// The [WriteBackEngine] resolves logical payload keys to table fields, creating missing fields once per
// table and label, then writes records in paced batches. A rejected batch is retried record by record so
// every input is reported as exactly one success, failure or skip.
//
// # Engine
//
// [Engine] ties both halves together, persists job history through an optional [JobRecorder] and runs
// independent jobs concurrently with [Engine.RunAll].
package tasks

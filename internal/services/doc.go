// Package services implements the HTTP clients collectx talks to.
//
// # Request primitive
//
// [APIService] performs raw requests against one base URL. It sets JSON headers, a request id and the
// bearer token, and returns the status, headers and body untouched. Classification happens one layer up,
// in the clients, through the {code, message, data} envelope shared by the task backend and the table store.
//
// # Task clients
//
// [CollectorService] and [TranscriptionService] submit jobs and poll their status. Both turn backend
// payloads into [models.StatusSnapshot] values whose items are keyed by record id and tagged with an
// [models.Outcome]. [TranscriptionService] also exposes the final result list used to backfill items the
// status stream missed.
//
// # Table store
//
// [BitableService] lists and creates fields and batch-creates or batch-updates records on a
// Bitable-style table.
//
// # Authorization
//
// Every client routes its token through an [Authorizer]. The auth package's Gate is the usual one: it
// refreshes single-flight and retries a call once after a 401. [StaticToken] is used for fixed
// credentials and in tests.
//
// # Error Handling
//
// Clients return errors wrapping the sentinels in the shared package:
//   - [shared.ErrUnauthorized] : HTTP 401 or business code 401002
//   - [shared.ErrJobNotFound] : HTTP 404 on a status call
//   - [shared.ErrSubmissionRejected] : non-zero business code on submit
//   - [shared.ErrTransient] : network failures and other non-2xx statuses
//   - [shared.ErrProtocol] : bodies that are not envelopes or lack required fields
//   - [shared.ErrFieldConflict] : a field with the same name already exists
//
// [APIError] carries the status, business code and message and unwraps to its sentinel.
package services

// Package models defines domain entities and persistence interfaces for collectx.
//
// The package contains two categories of types:
//
// 1. Task values exchanged between the backend clients and the polling engine
//   - [Job] : A submitted backend job (collection or transcription)
//   - [StatusSnapshot] : One polled status response
//   - [ResultItem] : One result keyed by its record id, tagged with an [Outcome]
//   - [SchemaField], [WriteReport] : Write-back schema and accounting
//
// 2. Persistent Entities: Database-backed models with full lifecycle management
//   - [JobRecord] : Job history with final outcome and counts
//
// Persistent entities implement the [Model] interface providing ID generation, timestamps and validation.
// The Repository[T] interface defines standard CRUD operations for database access.
package models

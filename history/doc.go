// Package history provides the per-track append-only event log.
//
// Reads are served from memory; an optional SQLite archive makes the
// retained window survive restarts. The only writers are the ingestion
// and status paths, readers never mutate, and each append is a single
// atomic insertion, so concurrent reads never observe a partially
// written entry.
package history

// Package ingest validates and records incoming position reports.
//
// The gateway assigns per-track sequence numbers under the track lock,
// appends to history, updates the registry and hands accepted events to
// the broadcaster. Retries are deduplicated by device nonce when the
// agent supplies one, falling back to identical coordinates and
// timestamp within a short window, so the report path is idempotent.
package ingest

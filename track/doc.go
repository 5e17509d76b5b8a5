// Package track holds the data model for tracked deliveries and the
// in-memory registry that owns their live state.
//
// This package handles:
// - Position and status events and their per-track sequence space
// - Track lifecycle (created on first report or first subscribe, closed
//   on a terminal status)
// - The single-writer-per-track locking discipline used by ingestion,
//   status changes and subscribe catch-up
// - Cumulative distance travelled per track
package track

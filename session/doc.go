// Package session owns subscriber connections and their subscriptions.
//
// A subscriber's connection is a capability: other components never
// hold it, they only reach the subscriber through this manager. On
// (re)subscribe the manager returns a snapshot and replays any history
// missed since the subscriber's last acknowledged sequence, under the
// same per-track lock used by ingestion, so the handover from catch-up
// to live delivery has no gap and no duplicate.
package session

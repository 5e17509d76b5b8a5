// Package broadcast fans recorded events out to live subscribers.
//
// Each subscriber has one bounded outbound queue. Publishing never
// blocks: a persistently slow subscriber loses its oldest undelivered
// events and is handed a resync marker instead, which forces it back to
// a full history read. Per subscriber, events for the same track are
// delivered in non-decreasing sequence order; no ordering is guaranteed
// across tracks.
package broadcast

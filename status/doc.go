// Package status applies delivery status transitions reported by the
// shipment registry and emits them through the same fan-out path as
// position events. On a terminal status the track is closed, every
// subscriber receives an explicit closed event, and the session manager
// unsubscribes them.
package status

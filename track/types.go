package track

import "time"

// Kind discriminates the event types carried on a subscriber stream.
type Kind string

const (
	KindPosition Kind = "position"
	KindStatus   Kind = "status"
	KindClosed   Kind = "closed"
	KindResync   Kind = "resync"
)

// Status is a delivery lifecycle status. The shipment registry is
// authoritative for which transitions are legal; this subsystem only
// enforces monotonic sequencing.
type Status string

const (
	StatusCreated        Status = "created"
	StatusPickedUp       Status = "picked_up"
	StatusInTransit      Status = "in_transit"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

// Terminal reports whether no further position ingestion is accepted
// once this status is applied.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Known reports whether s is one of the statuses this subsystem carries.
func (s Status) Known() bool {
	switch s {
	case StatusCreated, StatusPickedUp, StatusInTransit, StatusOutForDelivery, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// PositionEvent is one recorded position report. ObservedAt is the
// courier device clock, ReceivedAt the server clock at ingestion.
// Sequence is assigned by the ingestion gateway and is strictly
// increasing and gapless per track.
type PositionEvent struct {
	TrackingCode   string    `json:"trackingCode"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracyMeters"`
	SpeedKph       float64   `json:"speedKph"`
	HeadingDegrees float64   `json:"headingDegrees"`
	AltitudeMeters *float64  `json:"altitudeMeters,omitempty"`
	ObservedAt     time.Time `json:"observedAt"`
	ReceivedAt     time.Time `json:"receivedAt"`
	Sequence       uint64    `json:"sequence"`
	LowConfidence  bool      `json:"lowConfidence,omitempty"`
}

// StatusEvent is one status transition. It shares the per-track
// sequence space with PositionEvent so subscribers can interleave both
// in true arrival order.
type StatusEvent struct {
	TrackingCode string    `json:"trackingCode"`
	Status       Status    `json:"status"`
	ChangedAt    time.Time `json:"changedAt"`
	Sequence     uint64    `json:"sequence"`
}

// Event is the envelope stored in history and delivered on subscriber
// streams. Exactly one of Position or Status is set for the position
// and status kinds; closed and resync events carry neither.
type Event struct {
	Kind         Kind           `json:"type"`
	TrackingCode string         `json:"trackingCode"`
	Sequence     uint64         `json:"sequence"`
	Position     *PositionEvent `json:"position,omitempty"`
	Status       *StatusEvent   `json:"status,omitempty"`
	// NextSequence tells a subscriber where the live stream resumes
	// after a resync marker.
	NextSequence uint64 `json:"nextSequence,omitempty"`
}

// Envelope wraps p in a stream/history envelope.
func (p *PositionEvent) Envelope() Event {
	return Event{Kind: KindPosition, TrackingCode: p.TrackingCode, Sequence: p.Sequence, Position: p}
}

// Envelope wraps s in a stream/history envelope.
func (s *StatusEvent) Envelope() Event {
	return Event{Kind: KindStatus, TrackingCode: s.TrackingCode, Sequence: s.Sequence, Status: s}
}

package ingest

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/guetchou/bantudelice-tracking/broadcast"
	"github.com/guetchou/bantudelice-tracking/history"
	"github.com/guetchou/bantudelice-tracking/track"
)

// ErrInvalidReport marks validation failures at the report boundary.
// The report is dropped, never partially recorded.
var ErrInvalidReport = track.ErrInvalidReport

// Report is a position report as submitted by a courier device. The
// gateway supplies ReceivedAt and Sequence; the device supplies the
// measurement fields and its own clock.
type Report struct {
	TrackingCode   string    `json:"trackingCode" validate:"required"`
	Latitude       float64   `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude      float64   `json:"longitude" validate:"gte=-180,lte=180"`
	AccuracyMeters *float64  `json:"accuracyMeters" validate:"required,gte=0"`
	SpeedKph float64 `json:"speedKph" validate:"gte=0"`
	// HeadingDegrees is [0, 360); exactly 360 is accepted and
	// normalized to 0 because some devices report due north that way.
	HeadingDegrees float64 `json:"headingDegrees" validate:"gte=0,lt=360"`
	AltitudeMeters *float64  `json:"altitudeMeters,omitempty"`
	ObservedAt     time.Time `json:"observedAt" validate:"required"`
	// Nonce is an optional device-supplied idempotency key.
	Nonce string `json:"nonce,omitempty"`
}

// Ack answers a report. Duplicates are acknowledged with the sequence
// recorded for the original so device retries converge.
type Ack struct {
	Accepted      bool   `json:"accepted"`
	Sequence      uint64 `json:"sequence,omitempty"`
	LowConfidence bool   `json:"lowConfidence,omitempty"`
	Duplicate     bool   `json:"duplicate,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// Config tunes validation and dedup.
type Config struct {
	// AccuracyCeilingMeters: reports with worse accuracy are accepted
	// but flagged low confidence. 0 uses the default.
	AccuracyCeilingMeters float64
	// MaxClockSkew bounds how far ahead of server time ObservedAt may
	// be. 0 uses the default.
	MaxClockSkew time.Duration
	// DedupWindow is how long coordinate+timestamp retries are
	// remembered per track. 0 uses the default.
	DedupWindow time.Duration
}

const (
	defaultAccuracyCeiling = 200.0
	defaultMaxClockSkew    = 2 * time.Minute
	defaultDedupWindow     = 30 * time.Second
)

// Gateway is the ingestion path for position reports.
type Gateway struct {
	reg      *track.Registry
	store    *history.Store
	bc       *broadcast.Broadcaster
	cfg      Config
	validate *validator.Validate
	dedup    *dedupIndex

	// Now is the server clock, swappable in tests.
	Now func() time.Time
}

func NewGateway(reg *track.Registry, store *history.Store, bc *broadcast.Broadcaster, cfg Config) *Gateway {
	if cfg.AccuracyCeilingMeters <= 0 {
		cfg.AccuracyCeilingMeters = defaultAccuracyCeiling
	}
	if cfg.MaxClockSkew <= 0 {
		cfg.MaxClockSkew = defaultMaxClockSkew
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = defaultDedupWindow
	}
	return &Gateway{
		reg:      reg,
		store:    store,
		bc:       bc,
		cfg:      cfg,
		validate: validator.New(),
		dedup:    newDedupIndex(cfg.DedupWindow),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Report validates and records one position report. Validation failures
// yield ErrInvalidReport, reports for terminal tracks yield
// track.ErrClosed; in both cases nothing is recorded. A stale report
// (observed before the track's current position) is stored for audit
// but not broadcast and does not move the live position.
func (g *Gateway) Report(r Report) (Ack, error) {
	if r.TrackingCode == "" {
		return Ack{Reason: "trackingCode is required"}, fmt.Errorf("%w: trackingCode is required", ErrInvalidReport)
	}

	// Stateless validation happens before the track is touched so a
	// rejected report never creates or mutates track state. A closed
	// track still wins over a malformed payload, matching the rule
	// order at the boundary.
	now := g.Now()
	if r.HeadingDegrees == 360 {
		r.HeadingDegrees = 0
	}
	if err := g.validate.Struct(r); err != nil {
		if st, getErr := g.reg.Get(r.TrackingCode); getErr == nil && st.Closed() {
			return Ack{Reason: "track closed"}, track.ErrClosed
		}
		return Ack{Reason: err.Error()}, fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	if r.ObservedAt.After(now.Add(g.cfg.MaxClockSkew)) {
		if st, getErr := g.reg.Get(r.TrackingCode); getErr == nil && st.Closed() {
			return Ack{Reason: "track closed"}, track.ErrClosed
		}
		return Ack{Reason: "observedAt too far in the future"}, fmt.Errorf("%w: observedAt too far in the future", ErrInvalidReport)
	}

	var ack Ack
	err := g.reg.Locked(r.TrackingCode, true, func(st *track.State) error {
		if st.Closed() {
			ack.Reason = "track closed"
			return track.ErrClosed
		}

		if seq, ok := g.dedup.seen(r, now); ok {
			ack = Ack{Accepted: true, Sequence: seq, Duplicate: true}
			return nil
		}

		ev := &track.PositionEvent{
			TrackingCode:   r.TrackingCode,
			Latitude:       r.Latitude,
			Longitude:      r.Longitude,
			AccuracyMeters: *r.AccuracyMeters,
			SpeedKph:       r.SpeedKph,
			HeadingDegrees: r.HeadingDegrees,
			AltitudeMeters: r.AltitudeMeters,
			ObservedAt:     r.ObservedAt,
			ReceivedAt:     now,
			Sequence:       st.NextSequence(),
			LowConfidence:  *r.AccuracyMeters > g.cfg.AccuracyCeilingMeters,
		}

		g.store.Append(ev.Envelope())
		g.dedup.record(r, ev.Sequence, now)

		if st.AdvancePosition(ev) {
			g.bc.Publish(ev.Envelope())
		}
		ack = Ack{Accepted: true, Sequence: ev.Sequence, LowConfidence: ev.LowConfidence}
		return nil
	})
	if err != nil {
		return ack, err
	}
	return ack, nil
}

package status

import (
	"fmt"
	"log"
	"time"

	"github.com/guetchou/bantudelice-tracking/broadcast"
	"github.com/guetchou/bantudelice-tracking/history"
	"github.com/guetchou/bantudelice-tracking/session"
	"github.com/guetchou/bantudelice-tracking/track"
	"github.com/guetchou/bantudelice-tracking/utils"
)

// Coordinator sequences status transitions into the per-track event
// stream. It enforces monotonic sequencing only; the shipment registry
// is authoritative for which transitions are legal.
type Coordinator struct {
	reg      *track.Registry
	store    *history.Store
	bc       *broadcast.Broadcaster
	sessions *session.Manager
}

func NewCoordinator(reg *track.Registry, store *history.Store, bc *broadcast.Broadcaster, sessions *session.Manager) *Coordinator {
	return &Coordinator{reg: reg, store: store, bc: bc, sessions: sessions}
}

// SetStatus applies a status transition. Stale transitions (duplicate,
// out of order, or after close) yield track.ErrStaleTransition and are
// benign no-ops. Returns the sequence assigned to the transition.
func (c *Coordinator) SetStatus(code string, status track.Status, changedAt time.Time) (uint64, error) {
	if !status.Known() {
		return 0, fmt.Errorf("%w: unknown status %q", track.ErrInvalidReport, status)
	}
	if code == "" {
		return 0, fmt.Errorf("%w: trackingCode is required", track.ErrInvalidReport)
	}

	var (
		seq      uint64
		terminal bool
	)
	err := c.reg.Locked(code, true, func(st *track.State) error {
		if err := st.ApplyStatus(status, changedAt); err != nil {
			return err
		}
		seq = st.NextSequence()
		ev := &track.StatusEvent{
			TrackingCode: code,
			Status:       status,
			ChangedAt:    changedAt,
			Sequence:     seq,
		}
		c.store.Append(ev.Envelope())
		c.bc.Publish(ev.Envelope())
		if status.Terminal() {
			terminal = true
			// The closed event is a stream signal, not a history
			// entry; it rides the status transition's sequence.
			c.bc.Publish(track.Event{Kind: track.KindClosed, TrackingCode: code, Sequence: seq})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if terminal {
		log.Printf("track %s closed with status %s at %s", code, status, utils.Iso8601FromTime(changedAt))
		c.sessions.DropTrack(code)
	}
	return seq, nil
}

package bantutrack

import (
	"log"
	"time"

	"github.com/guetchou/bantudelice-tracking/broadcast"
	"github.com/guetchou/bantudelice-tracking/config"
	"github.com/guetchou/bantudelice-tracking/history"
	"github.com/guetchou/bantudelice-tracking/ingest"
	"github.com/guetchou/bantudelice-tracking/session"
	"github.com/guetchou/bantudelice-tracking/status"
	"github.com/guetchou/bantudelice-tracking/track"
)

// Service wires the tracking core: registry, history, fan-out,
// sessions, ingestion and status coordination.
type Service struct {
	Registry    *track.Registry
	Store       *history.Store
	Broadcaster *broadcast.Broadcaster
	Sessions    *session.Manager
	Gateway     *ingest.Gateway
	Status      *status.Coordinator
}

// NewService builds the tracking core from configuration.
func NewService(cfg config.AppConfig) (*Service, error) {
	reg := track.NewRegistry()

	store, err := history.NewStore(history.Config{
		MaxEventsPerTrack: cfg.History.MaxEventsPerTrack,
		MaxAge:            time.Duration(cfg.History.RetentionDays) * 24 * time.Hour,
		ArchivePath:       cfg.History.ArchivePath,
	})
	if err != nil {
		return nil, err
	}

	restoreRegistry(reg, store)

	bc := broadcast.New()
	bc.OnPublish = func(ev track.Event) { eventsBroadcastTotal.Inc() }
	bc.OnDrop = func(code, subscriberID string) {
		queueDropsTotal.Inc()
		log.Printf("dropped event for slow subscriber %s on track %s", subscriberID, code)
	}

	sessions := session.NewManager(reg, store, bc, session.Config{
		QueueCapacity: cfg.Tracking.QueueCapacity,
		CatchUpLimit:  cfg.Tracking.CatchUpLimit,
		AckGrace:      time.Duration(cfg.Tracking.AckGraceSec) * time.Second,
	})

	gateway := ingest.NewGateway(reg, store, bc, ingest.Config{
		AccuracyCeilingMeters: cfg.Tracking.AccuracyCeilingMeters,
		MaxClockSkew:          time.Duration(cfg.Tracking.MaxClockSkewSec) * time.Second,
		DedupWindow:           time.Duration(cfg.Tracking.DedupWindowSec) * time.Second,
	})

	coordinator := status.NewCoordinator(reg, store, bc, sessions)

	return &Service{
		Registry:    reg,
		Store:       store,
		Broadcaster: bc,
		Sessions:    sessions,
		Gateway:     gateway,
		Status:      coordinator,
	}, nil
}

// restoreRegistry replays the restored history log into a fresh
// registry so sequence assignment and track status continue across a
// restart instead of colliding with archived events.
func restoreRegistry(reg *track.Registry, store *history.Store) {
	for _, code := range store.Codes() {
		events := store.Read(code, 0, 0)
		_ = reg.Locked(code, true, func(st *track.State) error {
			for i := range events {
				ev := events[i]
				switch {
				case ev.Position != nil:
					st.AdvancePosition(ev.Position)
				case ev.Status != nil:
					_ = st.ApplyStatus(ev.Status.Status, ev.Status.ChangedAt)
				}
				if ev.Sequence > st.LastSequence {
					st.LastSequence = ev.Sequence
				}
			}
			return nil
		})
	}
}

// Close releases the service's resources (the history archive).
func (s *Service) Close() error {
	return s.Store.Close()
}

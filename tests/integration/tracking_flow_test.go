package integration

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	lib "github.com/guetchou/bantudelice-tracking"
	"github.com/guetchou/bantudelice-tracking/config"
	"github.com/guetchou/bantudelice-tracking/ingest"
	"github.com/guetchou/bantudelice-tracking/track"
)

type recordingSink struct {
	events chan track.Event
	once   sync.Once
	closed chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{events: make(chan track.Event, 256), closed: make(chan struct{})}
}

func (s *recordingSink) Send(ev track.Event) error {
	s.events <- ev
	return nil
}

func (s *recordingSink) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *recordingSink) next(t *testing.T) track.Event {
	t.Helper()
	select {
	case ev := <-s.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for an event")
		return track.Event{}
	}
}

func (s *recordingSink) quiet(t *testing.T) {
	t.Helper()
	select {
	case ev := <-s.events:
		t.Fatalf("expected no delivery, got %s seq %d", ev.Kind, ev.Sequence)
	case <-time.After(100 * time.Millisecond):
	}
}

func newService(t *testing.T, cfg config.AppConfig) *lib.Service {
	t.Helper()
	svc, err := lib.NewService(cfg)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func f64(v float64) *float64 { return &v }

func courierReport(code string, observed time.Time, lat, lon float64) ingest.Report {
	return ingest.Report{
		TrackingCode:   code,
		Latitude:       lat,
		Longitude:      lon,
		AccuracyMeters: f64(15),
		SpeedKph:       30,
		HeadingDegrees: 180,
		ObservedAt:     observed,
	}
}

// A courier reports five positions; an observer joins after the third
// and must see exactly the remaining live positions with no gap and no
// duplicate.
func TestObserverJoinsMidDelivery(t *testing.T) {
	svc := newService(t, config.AppConfig{})
	t0 := time.Now().UTC()

	for i := 0; i < 3; i++ {
		r := courierReport("BD-1001", t0.Add(time.Duration(i)*time.Second), -4.26+float64(i)*0.001, 15.24)
		if _, err := svc.Gateway.Report(r); err != nil {
			t.Fatalf("report %d: %v", i, err)
		}
	}

	sink := newRecordingSink()
	sub := svc.Sessions.Connect("", sink)
	snap, err := svc.Sessions.Subscribe(sub.ID, "BD-1001", 0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if snap.LastSequence != 3 || snap.LastPosition == nil || snap.LastPosition.Sequence != 3 {
		t.Fatalf("snapshot should show the third position, got %+v", snap)
	}

	for i := 3; i < 5; i++ {
		r := courierReport("BD-1001", t0.Add(time.Duration(i)*time.Second), -4.26+float64(i)*0.001, 15.24)
		if _, err := svc.Gateway.Report(r); err != nil {
			t.Fatalf("report %d: %v", i, err)
		}
	}

	for want := uint64(4); want <= 5; want++ {
		ev := sink.next(t)
		if ev.Kind != track.KindPosition || ev.Sequence != want {
			t.Fatalf("expected live position seq %d, got %s seq %d", want, ev.Kind, ev.Sequence)
		}
	}
	sink.quiet(t)

	history := svc.Store.Read("BD-1001", 0, 0)
	if len(history) != 5 {
		t.Fatalf("history should hold all five reports, got %d", len(history))
	}
	t.Logf("✓ snapshot at 3, live 4..5, history complete")
}

// A disconnected observer reconnects with its last acknowledged
// sequence and receives everything it missed before the live stream
// resumes.
func TestReconnectCatchUp(t *testing.T) {
	svc := newService(t, config.AppConfig{})
	t0 := time.Now().UTC()

	for i := 0; i < 7; i++ {
		r := courierReport("BD-2002", t0.Add(time.Duration(i)*time.Second), -4.26, 15.24+float64(i)*0.001)
		if _, err := svc.Gateway.Report(r); err != nil {
			t.Fatalf("report %d: %v", i, err)
		}
	}

	sink := newRecordingSink()
	sub := svc.Sessions.Connect("observer-7", sink)
	snap, err := svc.Sessions.Subscribe(sub.ID, "BD-2002", 2)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if len(snap.CatchUp) != 5 {
		t.Fatalf("expected catch-up 3..7, got %d events", len(snap.CatchUp))
	}
	for i, ev := range snap.CatchUp {
		if want := uint64(3 + i); ev.Sequence != want {
			t.Fatalf("catch-up %d: expected seq %d, got %d", i, want, ev.Sequence)
		}
	}

	r := courierReport("BD-2002", t0.Add(time.Minute), -4.27, 15.25)
	ack, err := svc.Gateway.Report(r)
	if err != nil {
		t.Fatalf("live report: %v", err)
	}
	ev := sink.next(t)
	if ev.Sequence != ack.Sequence {
		t.Fatalf("live stream should resume at seq %d, got %d", ack.Sequence, ev.Sequence)
	}
	t.Logf("✓ catch-up 3..7 then live %d", ack.Sequence)
}

// Status transitions interleave with positions in one ordered stream.
func TestStatusInterleavesWithPositions(t *testing.T) {
	svc := newService(t, config.AppConfig{})
	t0 := time.Now().UTC()

	sink := newRecordingSink()
	sub := svc.Sessions.Connect("", sink)
	if _, err := svc.Sessions.Subscribe(sub.ID, "BD-3003", 0); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if _, err := svc.Gateway.Report(courierReport("BD-3003", t0, -4.26, 15.24)); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Status.SetStatus("BD-3003", track.StatusInTransit, t0.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Gateway.Report(courierReport("BD-3003", t0.Add(2*time.Second), -4.27, 15.25)); err != nil {
		t.Fatal(err)
	}

	wantKinds := []track.Kind{track.KindPosition, track.KindStatus, track.KindPosition}
	for i, want := range wantKinds {
		ev := sink.next(t)
		if ev.Kind != want || ev.Sequence != uint64(i+1) {
			t.Fatalf("event %d: expected %s seq %d, got %s seq %d", i, want, i+1, ev.Kind, ev.Sequence)
		}
	}
	t.Logf("✓ positions and statuses share one gapless stream")
}

// A malformed report is rejected without leaving any trace.
func TestMalformedReportLeavesNoTrace(t *testing.T) {
	svc := newService(t, config.AppConfig{})

	bad := courierReport("BD-4004", time.Now().UTC(), 200, 15.24)
	if _, err := svc.Gateway.Report(bad); !errors.Is(err, ingest.ErrInvalidReport) {
		t.Fatalf("expected ErrInvalidReport, got %v", err)
	}
	if _, err := svc.Registry.Get("BD-4004"); !errors.Is(err, track.ErrNotFound) {
		t.Errorf("rejected report must not create the track")
	}
	if svc.Store.Len("BD-4004") != 0 {
		t.Errorf("rejected report must not reach history")
	}
}

// Delivery closes the track: observers see the final status then the
// closed signal, are force-unsubscribed, and further reports bounce.
func TestDeliveryClosesTrack(t *testing.T) {
	svc := newService(t, config.AppConfig{})
	t0 := time.Now().UTC()

	if _, err := svc.Gateway.Report(courierReport("BD-5005", t0, -4.26, 15.24)); err != nil {
		t.Fatal(err)
	}

	sink := newRecordingSink()
	sub := svc.Sessions.Connect("", sink)
	if _, err := svc.Sessions.Subscribe(sub.ID, "BD-5005", 0); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	seq, err := svc.Status.SetStatus("BD-5005", track.StatusDelivered, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	ev := sink.next(t)
	if ev.Kind != track.KindStatus || ev.Status.Status != track.StatusDelivered {
		t.Fatalf("expected delivered status, got %+v", ev)
	}
	ev = sink.next(t)
	if ev.Kind != track.KindClosed || ev.Sequence != seq {
		t.Fatalf("expected closed signal at seq %d, got %+v", seq, ev)
	}

	if _, err := svc.Gateway.Report(courierReport("BD-5005", t0.Add(2*time.Minute), -4.27, 15.25)); !errors.Is(err, track.ErrClosed) {
		t.Fatalf("expected ErrClosed after delivery, got %v", err)
	}

	// History stays readable after the close.
	if got := svc.Store.Read("BD-5005", 0, 0); len(got) != 2 {
		t.Fatalf("expected position + status in history, got %d events", len(got))
	}
	t.Logf("✓ delivered closes the track; history remains readable")
}

// A slow observer overflows its queue and is told where the live
// stream resumes instead of silently losing events.
func TestSlowObserverGetsResync(t *testing.T) {
	cfg := config.AppConfig{}
	cfg.Tracking.QueueCapacity = 2
	svc := newService(t, cfg)
	t0 := time.Now().UTC()

	sink := newBlockingSink()
	sub := svc.Sessions.Connect("", sink)
	if _, err := svc.Sessions.Subscribe(sub.ID, "BD-6006", 0); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	for i := 0; i < 6; i++ {
		r := courierReport("BD-6006", t0.Add(time.Duration(i)*time.Second), -4.26+float64(i)*0.001, 15.24)
		if _, err := svc.Gateway.Report(r); err != nil {
			t.Fatalf("report %d: %v", i, err)
		}
	}
	sink.release()

	seen := make(map[uint64]bool)
	var gotResync bool
	for !gotResync || len(seen) == 0 {
		ev := sink.next(t)
		switch ev.Kind {
		case track.KindResync:
			gotResync = true
			if ev.NextSequence != ev.Sequence+1 {
				t.Fatalf("resync should point at the resume sequence, got %+v", ev)
			}
		case track.KindPosition:
			if seen[ev.Sequence] {
				t.Fatalf("duplicate delivery of seq %d", ev.Sequence)
			}
			seen[ev.Sequence] = true
		}
	}
	t.Logf("✓ overflow surfaces as an explicit resync")
}

// blockingSink holds deliveries until released so a test can force
// queue overflow deterministically.
type blockingSink struct {
	recordingSink
	gate chan struct{}
}

func newBlockingSink() *blockingSink {
	return &blockingSink{
		recordingSink: recordingSink{events: make(chan track.Event, 256), closed: make(chan struct{})},
		gate:          make(chan struct{}),
	}
}

func (s *blockingSink) Send(ev track.Event) error {
	<-s.gate
	s.events <- ev
	return nil
}

func (s *blockingSink) release() { close(s.gate) }

// History written through the archive survives a full service restart.
func TestHistorySurvivesRestart(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "history.db")
	cfg := config.AppConfig{}
	cfg.History.ArchivePath = archive
	t0 := time.Now().UTC()

	svc1, err := lib.NewService(cfg)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	for i := 0; i < 4; i++ {
		r := courierReport("BD-7007", t0.Add(time.Duration(i)*time.Second), -4.26, 15.24+float64(i)*0.001)
		if _, err := svc1.Gateway.Report(r); err != nil {
			t.Fatalf("report %d: %v", i, err)
		}
	}
	if _, err := svc1.Status.SetStatus("BD-7007", track.StatusInTransit, t0.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := svc1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	svc2 := newService(t, cfg)
	got := svc2.Store.Read("BD-7007", 0, 0)
	if len(got) != 5 {
		t.Fatalf("expected 5 events after restart, got %d", len(got))
	}
	if got[4].Kind != track.KindStatus {
		t.Errorf("the status transition should be the newest archived event")
	}

	// A reconnecting observer can catch up from the restored log.
	sink := newRecordingSink()
	sub := svc2.Sessions.Connect("observer-1", sink)
	snap, err := svc2.Sessions.Subscribe(sub.ID, "BD-7007", 2)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if len(snap.CatchUp) != 3 {
		t.Fatalf("expected catch-up 3..5 from the restored log, got %d", len(snap.CatchUp))
	}
	if snap.Status != track.StatusInTransit || snap.LastSequence != 5 {
		t.Fatalf("restored track should resume as in_transit at seq 5, got %s seq %d", snap.Status, snap.LastSequence)
	}

	// Sequence assignment continues where the previous run stopped.
	ack, err := svc2.Gateway.Report(courierReport("BD-7007", t0.Add(90*time.Second), -4.28, 15.26))
	if err != nil {
		t.Fatalf("report after restart: %v", err)
	}
	if ack.Sequence != 6 {
		t.Fatalf("expected sequence 6 after restart, got %d", ack.Sequence)
	}
	t.Logf("✓ archive restores history and sequencing across restarts")
}

package main

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"

	"github.com/guetchou/bantudelice-tracking/config"
	"github.com/guetchou/bantudelice-tracking/ingest"
)

const defaultFeedSubject = "tracking.reports"

// feed consumes courier position reports from a NATS subject and hands
// them to the ingestion gateway. This is deployment-specific plumbing
// for fleets that report through a broker instead of HTTP, and is not
// part of the core library.
type feed struct {
	conn *nats.Conn
	sub  *nats.Subscription
}

func startFeed(cfg config.FeedConfig, gateway *ingest.Gateway) (*feed, error) {
	subject := cfg.Subject
	if subject == "" {
		subject = defaultFeedSubject
	}

	conn, err := nats.Connect(cfg.NATSURL, nats.Name("bantu-tracking"))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.NATSURL, err)
	}

	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		var report ingest.Report
		if err := json.Unmarshal(msg.Data, &report); err != nil {
			log.Printf("feed: bad report payload: %v", err)
			return
		}
		ack, err := gateway.Report(report)
		if err != nil {
			log.Printf("feed: report for %s rejected: %v", report.TrackingCode, err)
			return
		}
		if reply := msg.Reply; reply != "" {
			data, _ := json.Marshal(ack)
			_ = msg.Respond(data)
		}
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	log.Printf("consuming courier reports from %s on %s", subject, cfg.NATSURL)
	return &feed{conn: conn, sub: sub}, nil
}

func (f *feed) stop() {
	_ = f.sub.Unsubscribe()
	f.conn.Close()
}

package main

import (
	"flag"
	"log"

	lib "github.com/guetchou/bantudelice-tracking"
	"github.com/guetchou/bantudelice-tracking/config"
)

func main() {
	natsURL := flag.String("nats", "", "NATS URL for the courier report feed (overrides config)")
	natsSubject := flag.String("natsSubject", "", "NATS subject for the courier report feed (overrides config)")
	archive := flag.String("archive", "", "history archive SQLite path (overrides config)")
	flag.Parse()

	lib.InitLogging()
	if err := lib.LoadAppConfig(); err != nil {
		panic(err)
	}
	if *archive != "" {
		config.Config.History.ArchivePath = *archive
	}
	if *natsURL != "" {
		config.Config.Feed.NATSURL = *natsURL
	}
	if *natsSubject != "" {
		config.Config.Feed.Subject = *natsSubject
	}

	svc, err := lib.NewService(config.Config)
	if err != nil {
		log.Fatalf("service init failed: %v", err)
	}

	if config.Config.Feed.NATSURL != "" {
		feed, err := startFeed(config.Config.Feed, svc.Gateway)
		if err != nil {
			log.Fatalf("nats feed failed: %v", err)
		}
		defer feed.stop()
	}

	lib.StartServer(svc)
	lib.HandleGracefulShutdown()
}

package bantutrack

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guetchou/bantudelice-tracking/config"
)

var (
	server *http.Server
	core   *Service
)

func StartServer(svc *Service) {
	core = svc
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", instrumentHandler("health", handleHealth))
	mux.HandleFunc("/api/tracking/report", instrumentHandler("report", handleReport))
	mux.HandleFunc("/api/tracking/status", instrumentHandler("status", handleSetStatus))
	mux.HandleFunc("/api/tracking/current", instrumentHandler("current", handleCurrent))
	mux.HandleFunc("/api/tracking/history", instrumentHandler("history", handleHistory))
	mux.HandleFunc("/api/tracking/subscribe", handleSubscribe)
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", config.Config.Server.Port)
	server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Subscriber sockets outlive these; the websocket handler
		// manages its own deadlines.
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()
	log.Printf("server listening on %s", addr)
}

func HandleGracefulShutdown() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	log.Printf("shutdown signal received")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("server shutdown error: %v", err)
		} else {
			log.Printf("server shut down successfully")
		}
	}
	if core != nil {
		if err := core.Close(); err != nil {
			log.Printf("history archive close error: %v", err)
		}
	}
}

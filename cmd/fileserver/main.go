// Command fileserver runs the dispatch core as a standalone TCP service:
// load config, build the server and its observability side-channel,
// start, and shut down gracefully on SIGINT/SIGTERM. Control flow is
// ported unchanged from the teacher's cmd/proxy/main.go.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flag"

	"github.com/netshelf/filedispatch/internal/config"
	"github.com/netshelf/filedispatch/internal/dispatch"
	"github.com/netshelf/filedispatch/internal/logging"
	"github.com/netshelf/filedispatch/internal/metrics"
	"github.com/netshelf/filedispatch/internal/tracing"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	if err := config.LoadConfig(*configPath); err != nil {
		log.Fatal(err)
	}
	cfg := config.GetInstance()

	cleanup, err := tracing.Init(cfg.Tracing)
	if err != nil {
		log.Fatalf("Failed to initialise tracing: %v", err)
	}
	defer cleanup()

	logger := logging.NewLogger(cfg.Tracing.ServiceName)
	m := metrics.NewMetrics()

	if cfg.Tracing.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", m.Handler())
			if err := http.ListenAndServe(cfg.Tracing.MetricsAddr, mux); err != nil {
				log.Printf("metrics listener stopped: %v", err)
			}
		}()
	}

	server, err := dispatch.NewServer(cfg, logger, m)
	if err != nil {
		log.Fatalf("Failed to create dispatch server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting file dispatch server on %s", cfg.Server.Addr)
		if err := server.Start(ctx); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-sigChan
	log.Println("Received termination signal, shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("File dispatch server stopped")
}

// Command relay runs the session relay: a websocket endpoint that bridges
// authorized clients to interactive shells on target hosts, recording every
// byte as it flows.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/halcyon-sec/pamgate/internal/config"
	"github.com/halcyon-sec/pamgate/internal/relay"
	"github.com/halcyon-sec/pamgate/internal/vault"
)

func main() {
	addr := flag.String("addr", ":8081", "Relay listen address")
	configPath := flag.String("config", "", "Config file (YAML, optional)")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Println("pamgate relay starting...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := os.MkdirAll(cfg.RecordingsDir, 0700); err != nil {
		log.Fatalf("Failed to create recordings directory %s: %v", cfg.RecordingsDir, err)
	}

	vaultClient := vault.New(cfg.VaultAddr, cfg.VaultToken, cfg.VaultMount)
	relayServer := relay.NewServer(relay.Config{
		TokenSecret:   cfg.RelayTokenSecret,
		DataDir:       cfg.DataDir,
		RecordingsDir: cfg.RecordingsDir,
		ControlURL:    cfg.ControlPlaneURL,
		APIKey:        cfg.RelayAPIKey,
	}, vaultClient)

	httpServer := &http.Server{
		Addr:        *addr,
		Handler:     relayServer.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("Relay listening on %s", *addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Relay server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Shutdown complete")
}

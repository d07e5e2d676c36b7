// Command pamgate runs the control-plane API: authentication, asset and
// credential management, the JIT request lifecycle with its expiry sweeper,
// and session brokering.
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

	"github.com/halcyon-sec/pamgate/internal/api"
	"github.com/halcyon-sec/pamgate/internal/auth"
	"github.com/halcyon-sec/pamgate/internal/config"
	"github.com/halcyon-sec/pamgate/internal/jit"
	"github.com/halcyon-sec/pamgate/internal/relaytoken"
	"github.com/halcyon-sec/pamgate/internal/session"
	"github.com/halcyon-sec/pamgate/internal/store"
	"github.com/halcyon-sec/pamgate/internal/updates"
	"github.com/halcyon-sec/pamgate/internal/vault"
)

func main() {
	addr := flag.String("addr", ":8080", "API listen address")
	configPath := flag.String("config", "", "Config file (YAML, optional)")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Println("pamgate control plane starting...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		log.Fatalf("Failed to create data directory %s: %v", cfg.DataDir, err)
	}
	if err := os.MkdirAll(cfg.RecordingsDir, 0700); err != nil {
		log.Fatalf("Failed to create recordings directory %s: %v", cfg.RecordingsDir, err)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database %s: %v", cfg.DatabasePath, err)
	}
	defer st.Close()

	issuer := auth.NewTokenIssuer(
		cfg.JWTSecret, cfg.JWTRefreshSecret,
		time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute,
		time.Duration(cfg.RefreshTokenTTLDays)*24*time.Hour,
	)
	minter := relaytoken.NewMinter(cfg.RelayTokenSecret, time.Duration(cfg.RelayTokenTTLMinutes)*time.Minute)
	vaultClient := vault.New(cfg.VaultAddr, cfg.VaultToken, cfg.VaultMount)
	hub := updates.NewHub()
	defer hub.Close()

	engine := jit.NewEngine(st)
	manager := session.NewManager(st, minter, hub, cfg.RelayPublicWSURL, cfg.DataDir)

	handlers := api.NewHandlers(st, issuer, engine, manager, vaultClient, hub,
		cfg.RelayAPIKey, cfg.AllowAdminRegistration)
	server := api.NewServer(*addr, handlers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := jit.NewSweeper(st, time.Duration(cfg.SweepIntervalSeconds)*time.Second)
	go sweeper.Run(ctx)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Shutdown complete")
}

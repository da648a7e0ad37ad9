package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/savegress/medvault/internal/api"
	"github.com/savegress/medvault/internal/audit"
	"github.com/savegress/medvault/internal/config"
	"github.com/savegress/medvault/internal/privacy"
	"github.com/savegress/medvault/internal/retention"
	"github.com/savegress/medvault/internal/session"
	"github.com/savegress/medvault/internal/store"
)

func main() {
	log.Println("Starting MedVault...")

	cfg := loadConfig()

	if cfg.Server.JWTSecret == "" {
		// Sessions still work within this process lifetime, but tokens
		// do not survive a restart. Fine for development.
		cfg.Server.JWTSecret = randomSecret()
		log.Println("JWT_SECRET not set, generated an ephemeral one")
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open record store: %v", err)
	}
	defer st.Close()

	transform, err := privacy.NewTransform(cfg.Privacy.KeyPath)
	if err != nil {
		log.Fatalf("Failed to initialize privacy transform: %v", err)
	}

	auditLogger := audit.NewLogger(st)
	retentionEngine := retention.NewEngine(st)
	sessions := session.NewManager(st, auditLogger, cfg.Server.JWTSecret, cfg.Server.SessionTTL)

	server := api.NewServer(cfg, st, transform, retentionEngine, auditLogger, sessions)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("MedVault API listening on port %d", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down MedVault...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("MedVault stopped")
}

func loadConfig() *config.Config {
	configPath := os.Getenv("MEDVAULT_CONFIG")
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			log.Printf("Failed to load config from %s: %v, using defaults", configPath, err)
			return config.LoadFromEnv()
		}
		return cfg
	}
	return config.LoadFromEnv()
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		log.Fatalf("Failed to generate session secret: %v", err)
	}
	return hex.EncodeToString(b)
}

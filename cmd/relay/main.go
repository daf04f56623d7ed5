package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mt5-signal-relay/internal/config"
	"mt5-signal-relay/internal/database"
	"mt5-signal-relay/internal/logger"
	"mt5-signal-relay/internal/relay"
	"mt5-signal-relay/internal/store"
	"mt5-signal-relay/internal/telegram"

	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded",
		zap.String("environment", cfg.Environment),
		zap.Int("accounts", len(cfg.Accounts)),
	)

	// Initialize database
	db, err := database.NewDatabase(cfg.ActiveDSN())
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// One long-lived broker session per configured account
	sessions := relay.NewSessions(&cfg, log)
	if len(sessions) == 0 {
		log.Fatal("No broker accounts configured")
	}
	for _, sess := range sessions {
		if err := sess.Broker.Ping(); err != nil {
			log.Fatal("Failed to reach broker bridge",
				zap.Int64("account_id", sess.Account.ID),
				zap.Error(err),
			)
		}
	}
	log.Info("All broker bridges reachable.")

	tradeStore := store.NewGormStore(db, log)
	tgClient := telegram.NewClient(&cfg.Telegram, log)
	orchestrator := relay.NewOrchestrator(log, &cfg, tradeStore, tgClient, sessions)
	reconciler := relay.NewReconciler(log, tradeStore, sessions,
		time.Duration(cfg.Reconciler.Interval)*time.Second)

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Reconciliation runs independently of message intake.
	go reconciler.Run(ctx)

	// Blocks until the context is cancelled; reconnects on transport errors.
	tgClient.Run(ctx, orchestrator.HandleEvent)

	log.Info("Relay has been shut down.")
}

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/config"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/logger"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/nats"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/storage"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/types"
)

// NATSClient interface for testability
type NATSClient interface {
	SubscribeBeaconRaw(handler func(*types.BeaconMessage)) error
	Close()
}

// Writer persists raw log lines
type Writer interface {
	WriteMessage(message []byte) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log, closeLog, err := logger.Setup("logger", cfg.Log)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := runLogger(cfg, log); err != nil {
		log.Error("logger failed", "error", err)
		closeLog()
		os.Exit(1)
	}
}

// runLogger contains the main application logic
func runLogger(cfg *config.Config, log *slog.Logger) error {
	store := storage.New(cfg.OutputDir, log)
	if err := store.Start(); err != nil {
		return fmt.Errorf("failed to start storage: %w", err)
	}
	defer func() {
		if err := store.Stop(); err != nil {
			log.Error("failed to stop storage", "error", err)
		}
	}()

	client, err := nats.New(cfg.NATSURL, log)
	if err != nil {
		return fmt.Errorf("failed to create NATS client: %w", err)
	}
	defer client.Close()

	if err := subscribe(client, store, log); err != nil {
		return err
	}
	log.Info("logger started", "output_dir", cfg.OutputDir)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	return nil
}

// subscribe writes every raw beacon payload to w
func subscribe(client NATSClient, w Writer, log *slog.Logger) error {
	if err := client.SubscribeBeaconRaw(func(msg *types.BeaconMessage) {
		if err := w.WriteMessage(formatLine(msg)); err != nil {
			log.Error("failed to write payload", "source", msg.Source, "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to subscribe to beacon payloads: %w", err)
	}
	return nil
}

// formatLine renders a payload as a tab separated line:
// timestamp, source, session id, raw payload
func formatLine(msg *types.BeaconMessage) []byte {
	raw := strings.NewReplacer("\t", " ", "\r", "", "\n", " ").Replace(msg.Raw)
	return []byte(strings.Join([]string{
		msg.Timestamp.UTC().Format(time.RFC3339Nano),
		msg.Source,
		msg.SessionID,
		raw,
	}, "\t"))
}

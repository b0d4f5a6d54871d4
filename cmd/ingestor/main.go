package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/capture"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/config"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/logger"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/nats"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/parser"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/types"
)

// NATSClient interface for testability
type NATSClient interface {
	PublishBeaconMessage(msg *types.BeaconMessage) error
	PublishStatus(status *types.ConnectionStatus) error
	HandleCommands(handler func(nats.CommandRequest) error) error
	SubscribeControl(handler func(source string)) error
	Close()
}

// Link is the bridge side of the ingestor
type Link interface {
	Messages() <-chan capture.Message
	Statuses() <-chan types.ConnectionStatus
	Connect(ctx context.Context, source string) error
	Connected(source string) bool
	Send(source string, cmd parser.Command) error
	Sources() []string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.RequireSources(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log, closeLog, err := logger.Setup("ingestor", cfg.Log)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer closeLog()

	client, err := nats.New(cfg.NATSURL, log)
	if err != nil {
		log.Error("failed to create NATS client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	link := capture.New(cfg.Sources, log)
	if err := setupSubscriptions(ctx, client, link, log); err != nil {
		log.Error("failed to set up subscriptions", "error", err)
		os.Exit(1)
	}

	done := make(chan struct{})
	go func() {
		forward(ctx, link, client, log)
		close(done)
	}()

	if err := link.Start(); err != nil {
		log.Error("failed to start bridge links", "error", err)
		os.Exit(1)
	}
	log.Info("ingestor started", "sources", cfg.Sources)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	cancel()
	link.Stop()
	<-done
}

// setupSubscriptions serves command requests and reconnect requests
func setupSubscriptions(ctx context.Context, client NATSClient, link Link, log *slog.Logger) error {
	if err := client.HandleCommands(commandHandler(link, log)); err != nil {
		return fmt.Errorf("failed to serve commands: %w", err)
	}
	if err := client.SubscribeControl(controlHandler(ctx, link, log)); err != nil {
		return fmt.Errorf("failed to subscribe to control messages: %w", err)
	}
	return nil
}

// forward publishes payloads and link statuses until ctx is done or the link
// channels close
func forward(ctx context.Context, link Link, client NATSClient, log *slog.Logger) {
	messages := link.Messages()
	statuses := link.Statuses()
	for messages != nil || statuses != nil {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			msg := &types.BeaconMessage{
				Raw:       string(m.Data),
				Timestamp: m.Timestamp.UTC(),
				Source:    m.Source,
				SessionID: m.SessionID,
			}
			if err := client.PublishBeaconMessage(msg); err != nil {
				log.Error("failed to publish payload", "source", m.Source, "error", err)
			}
		case s, ok := <-statuses:
			if !ok {
				statuses = nil
				continue
			}
			if err := client.PublishStatus(&s); err != nil {
				log.Error("failed to publish status", "source", s.Source, "error", err)
			}
		}
	}
}

// commandHandler writes a requested command to the bridge. An empty source
// addresses every connected source.
func commandHandler(link Link, log *slog.Logger) func(nats.CommandRequest) error {
	return func(req nats.CommandRequest) error {
		cmd, err := parser.ParseCommand(req.Command)
		if err != nil {
			return err
		}

		targets := []string{req.Source}
		if req.Source == "" {
			targets = targets[:0]
			for _, s := range link.Sources() {
				if link.Connected(s) {
					targets = append(targets, s)
				}
			}
			if len(targets) == 0 {
				return fmt.Errorf("%w: no bridge is connected", types.ErrDeviceUnavailable)
			}
		}

		var errs []error
		for _, source := range targets {
			if err := link.Send(source, cmd); err != nil {
				errs = append(errs, err)
				continue
			}
			log.Info("command sent", "source", source, "command", string(cmd))
		}
		return errors.Join(errs...)
	}
}

// controlHandler connects the requested source, or every disconnected
// source when none is named
func controlHandler(ctx context.Context, link Link, log *slog.Logger) func(source string) {
	return func(source string) {
		targets := []string{source}
		if source == "" {
			targets = link.Sources()
		}
		for _, s := range targets {
			if link.Connected(s) {
				continue
			}
			go func(s string) {
				log.Info("connect requested", "source", s)
				if err := link.Connect(ctx, s); err != nil {
					log.Warn("connect failed", "source", s, "error", err)
				}
			}(s)
		}
	}
}

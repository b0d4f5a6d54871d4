package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/alert"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/config"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/coords"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/db"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/history"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/kv"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/live"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/logger"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/nats"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/parser"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/pipeline"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/redis"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/settings"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/stats"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/types"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/voice"
)

const (
	// RetentionSchedule runs the archive retention job daily at 03:00 UTC
	RetentionSchedule = "0 3 * * *"
	statsInterval     = 5 * time.Minute
)

// NATSClient interface for testability
type NATSClient interface {
	SubscribeBeaconRaw(handler func(*types.BeaconMessage)) error
	SubscribeStatus(handler func(*types.ConnectionStatus)) error
	SubscribeObserverLocation(handler func(*types.ObserverLocation)) error
	SendCommand(ctx context.Context, req nats.CommandRequest) error
	alert.Notifier
}

// LinkStatusReader returns the last link state mirrored by a previous run
type LinkStatusReader interface {
	GetLinkStatus(ctx context.Context, source string) (*types.ConnectionStatus, error)
}

// Retention applies the archive retention policy
type Retention interface {
	ApplyRetention(ctx context.Context) (int64, error)
}

// Submitter queues pipeline events
type Submitter interface {
	Submit(ctx context.Context, ev pipeline.Event) error
}

// natsCommander routes pipeline commands to the ingestor over NATS
type natsCommander struct {
	client  NATSClient
	timeout time.Duration
}

func (c natsCommander) SendCommand(ctx context.Context, source string, cmd parser.Command) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.SendCommand(ctx, nats.CommandRequest{Source: source, Command: string(cmd)})
}

// Tracker holds the wired tracker components
type Tracker struct {
	Coords   *coords.Store
	Ledger   *history.Ledger
	Settings *settings.Manager
	Hub      *live.Hub
	Guide    *voice.Guide
	Alerts   *alert.Manager
	Stats    *stats.Stats
	Pipeline *pipeline.Pipeline
}

// Deps are the external services the tracker runs against. Archive, Cache
// and Persister may be nil.
type Deps struct {
	Store     kv.Store
	NATS      NATSClient
	Archive   pipeline.Archiver
	Cache     pipeline.Cache
	Persister stats.Persister
}

// NewTracker wires the pipeline and the components it drives
func NewTracker(ctx context.Context, cfg *config.Config, deps Deps, log *slog.Logger) (*Tracker, error) {
	t := &Tracker{
		Coords:   coords.NewStore(),
		Settings: settings.NewManager(ctx, deps.Store, log),
		Hub:      live.NewHub(nil, log),
		Stats:    stats.New(),
	}
	t.Ledger = history.New(ctx, deps.Store, cfg.HistoryMax, log)
	t.Guide = voice.NewGuide(voice.Multi{t.Hub, voice.LogSynth{Logger: log}}, t.Settings, log)
	t.Coords.Subscribe(t.Hub.PublishPosition)

	channels := alert.Channels{Banner: t.Hub, Haptics: t.Hub, Speaker: t.Guide}
	if deps.NATS != nil {
		channels.Notifier = deps.NATS
	}
	t.Alerts = alert.NewManager(t.Settings, alert.NewProximity(alert.DefaultCooldown), channels, log)

	t.Stats.SetLogger(log)
	if deps.Persister != nil {
		t.Stats.SetPersister(deps.Persister)
	}

	pcfg := pipeline.Config{
		Coords: t.Coords,
		Ledger: t.Ledger,
		Alerts: t.Alerts,
		Guide:  t.Guide,
		Stats:  t.Stats,
		Logger: log,
	}
	if deps.Archive != nil {
		pcfg.Archive = deps.Archive
	}
	if deps.Cache != nil {
		pcfg.Cache = deps.Cache
	}
	if deps.NATS != nil {
		pcfg.Commander = natsCommander{client: deps.NATS, timeout: 5 * time.Second}
	}
	if cfg.Target != nil {
		pcfg.Target = &types.ObserverLocation{Latitude: cfg.Target.Latitude, Longitude: cfg.Target.Longitude}
	}

	p, err := pipeline.New(pcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	t.Pipeline = p
	return t, nil
}

// parseEnvironment loads the configuration
func parseEnvironment() (*config.Config, error) {
	return config.Load()
}

// createClients creates all the required clients for the application
func createClients(cfg *config.Config, log *slog.Logger) (*nats.Client, *db.Client, *redis.Client, error) {
	natsClient, err := nats.New(cfg.NATSURL, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create NATS client: %w", err)
	}

	dbClient, err := db.New(cfg.DBConnStr)
	if err != nil {
		natsClient.Close()
		return nil, nil, nil, fmt.Errorf("failed to create database client: %w", err)
	}

	redisClient, err := redis.New(cfg.RedisAddr)
	if err != nil {
		natsClient.Close()
		if closeErr := dbClient.Close(); closeErr != nil {
			log.Error("error closing database client", "error", closeErr)
		}
		return nil, nil, nil, fmt.Errorf("failed to create Redis client: %w", err)
	}

	return natsClient, dbClient, redisClient, nil
}

// openStore picks the key-value backend for settings and history. When the
// local database cannot be opened the session runs on an in-memory store.
func openStore(cfg *config.Config, redisClient *redis.Client, log *slog.Logger) (kv.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return kv.NewMemoryStore(), noop, nil
	case config.BackendRedis:
		if redisClient == nil {
			return nil, nil, fmt.Errorf("redis backend selected without a Redis client")
		}
		return redisClient, noop, nil
	default:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			log.Error("local storage unavailable, settings and history will not persist",
				"error", fmt.Errorf("%w: failed to create data directory: %v", types.ErrStorageUnavailable, err))
			return kv.NewMemoryStore(), noop, nil
		}
		store, err := kv.NewSQLiteStore(filepath.Join(cfg.DataDir, "mayak.db"))
		if err != nil {
			log.Error("local storage unavailable, settings and history will not persist",
				"error", fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err))
			return kv.NewMemoryStore(), noop, nil
		}
		return store, store.Close, nil
	}
}

// setupNATSSubscriptions feeds NATS traffic into the pipeline
func setupNATSSubscriptions(ctx context.Context, client NATSClient, p Submitter, log *slog.Logger) error {
	submit := func(ev pipeline.Event) {
		if err := p.Submit(ctx, ev); err != nil {
			log.Warn("failed to queue event", "error", err)
		}
	}

	if err := client.SubscribeBeaconRaw(func(msg *types.BeaconMessage) {
		submit(pipeline.PayloadEvent{Message: *msg})
	}); err != nil {
		return fmt.Errorf("failed to subscribe to beacon payloads: %w", err)
	}
	if err := client.SubscribeStatus(func(s *types.ConnectionStatus) {
		submit(pipeline.StatusEvent{Status: *s})
	}); err != nil {
		return fmt.Errorf("failed to subscribe to link status: %w", err)
	}
	if err := client.SubscribeObserverLocation(func(loc *types.ObserverLocation) {
		submit(pipeline.ObserverEvent{Location: *loc})
	}); err != nil {
		return fmt.Errorf("failed to subscribe to observer location: %w", err)
	}
	return nil
}

// restoreLinks replays link states mirrored before a restart
func restoreLinks(ctx context.Context, sources []string, reader LinkStatusReader, p Submitter, log *slog.Logger) {
	for _, source := range sources {
		status, err := reader.GetLinkStatus(ctx, source)
		if err != nil {
			log.Warn("failed to read link status", "source", source, "error", err)
			continue
		}
		if status == nil {
			continue
		}
		if err := p.Submit(ctx, pipeline.StatusEvent{Status: *status}); err != nil {
			log.Warn("failed to queue link status", "source", source, "error", err)
		}
	}
}

// scheduleRetention runs the archive retention job on spec
func scheduleRetention(r Retention, spec string, log *slog.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := r.ApplyRetention(ctx)
		if err != nil {
			log.Error("retention failed", "error", err)
			return
		}
		log.Info("retention applied", "rows_removed", n)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", spec, err)
	}
	return c, nil
}

func main() {
	cfg, err := parseEnvironment()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log, closeLog, err := logger.Setup("tracker", cfg.Log)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(cfg, log); err != nil {
		log.Error("tracker failed", "error", err)
		closeLog()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	natsClient, dbClient, redisClient, err := createClients(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		natsClient.Close()
		if err := dbClient.Close(); err != nil {
			log.Error("error closing database client", "error", err)
		}
		if err := redisClient.Close(); err != nil {
			log.Error("error closing Redis client", "error", err)
		}
	}()

	store, closeStore, err := openStore(cfg, redisClient, log)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracker, err := NewTracker(ctx, cfg, Deps{
		Store:     store,
		NATS:      natsClient,
		Archive:   dbClient,
		Cache:     redisClient,
		Persister: dbClient,
	}, log)
	if err != nil {
		return err
	}

	go tracker.Pipeline.Run(ctx)
	go tracker.Stats.StartPersistence(ctx, statsInterval)

	if err := setupNATSSubscriptions(ctx, natsClient, tracker.Pipeline, log); err != nil {
		return err
	}
	restoreLinks(ctx, cfg.Sources, redisClient, tracker.Pipeline, log)

	retention, err := scheduleRetention(dbClient, RetentionSchedule, log)
	if err != nil {
		return err
	}
	retention.Start()
	defer retention.Stop()

	server := live.NewServer(live.Config{
		Addr:       cfg.HTTPAddr,
		Hub:        tracker.Hub,
		Coords:     tracker.Coords,
		Ledger:     tracker.Ledger,
		Settings:   tracker.Settings,
		Guide:      tracker.Guide,
		Controller: tracker.Pipeline,
		Stats:      tracker.Stats,
		Archive:    dbClient,
		TimeLayout: cfg.TimeLayout,
		Location:   loc,
		Logger:     log,
	})
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start(ctx) }()

	log.Info("tracker started", "http_addr", cfg.HTTPAddr, "store", cfg.StoreBackend)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	log.Info("shutting down")
	cancel()
	return nil
}

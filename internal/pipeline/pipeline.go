// Package pipeline runs every beacon event through decoding, the coordinate
// store, the history ledger, the archive and alerting, one event at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/alert"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/coords"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/geo"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/history"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/parser"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/stats"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/types"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/voice"
)

const (
	// TestLatitude and TestLongitude anchor UseTestData
	TestLatitude  = 55.241867
	TestLongitude = 72.908588
	// TestJitter is the maximum offset in degrees applied to test data
	TestJitter = 0.005

	defaultQueueSize = 256
)

// ErrStopped is returned by Submit once the dispatch loop has exited
var ErrStopped = errors.New("pipeline stopped")

// Cache mirrors live state for other processes
type Cache interface {
	StorePosition(ctx context.Context, pos *types.Position) error
	StoreLinkStatus(ctx context.Context, status *types.ConnectionStatus) error
}

// Commander delivers a command to a bridge source
type Commander interface {
	SendCommand(ctx context.Context, source string, cmd parser.Command) error
}

// Config holds the pipeline dependencies. Coords, Ledger and Alerts are
// required; everything else is optional.
type Config struct {
	Decoder   parser.Decoder
	Coords    *coords.Store
	Ledger    *history.Ledger
	Alerts    *alert.Manager
	Guide     *voice.Guide
	Stats     *stats.Stats
	Archive   Archiver
	Breaker   BreakerConfig
	Cache     Cache
	Commander Commander
	// Target is a fixed observer position used until a live location arrives
	Target    *types.ObserverLocation
	QueueSize int
	// MalformedLogEvery bounds how often malformed payloads are logged
	MalformedLogEvery time.Duration
	Logger            *slog.Logger
}

// Pipeline is the single-consumer dispatch loop
type Pipeline struct {
	decoder   parser.Decoder
	coords    *coords.Store
	ledger    *history.Ledger
	alerts    *alert.Manager
	guide     *voice.Guide
	stats     *stats.Stats
	archive   Archiver
	cache     Cache
	commander Commander
	logger    *slog.Logger

	events    chan Event
	done      chan struct{}
	malformed *rate.Limiter
	now       func() time.Time

	mu         sync.RWMutex
	observer   *types.ObserverLocation
	links      map[string]bool
	lightOn    bool
	batteryLow bool
	near       bool
}

// New creates a pipeline. Call Run to start dispatching.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Coords == nil || cfg.Ledger == nil || cfg.Alerts == nil {
		return nil, errors.New("pipeline requires a coordinate store, a ledger and an alert manager")
	}
	if cfg.Decoder == nil {
		cfg.Decoder = parser.NewTextDecoder()
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.New()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.MalformedLogEvery <= 0 {
		cfg.MalformedLogEvery = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	p := &Pipeline{
		decoder:   cfg.Decoder,
		coords:    cfg.Coords,
		ledger:    cfg.Ledger,
		alerts:    cfg.Alerts,
		guide:     cfg.Guide,
		stats:     cfg.Stats,
		cache:     cfg.Cache,
		commander: cfg.Commander,
		logger:    cfg.Logger,
		events:    make(chan Event, cfg.QueueSize),
		done:      make(chan struct{}),
		malformed: rate.NewLimiter(rate.Every(cfg.MalformedLogEvery), 3),
		now:       time.Now,
		links:     make(map[string]bool),
	}
	if cfg.Archive != nil {
		p.archive = newBreakerArchiver(cfg.Archive, cfg.Breaker, cfg.Logger)
	}
	if cfg.Target != nil {
		target := *cfg.Target
		p.observer = &target
	}
	return p, nil
}

// Run dispatches events until ctx is cancelled
func (p *Pipeline) Run(ctx context.Context) error {
	defer close(p.done)
	p.logger.Info("pipeline started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopped")
			return ctx.Err()
		case ev := <-p.events:
			p.Process(ctx, ev)
		}
	}
}

// Submit queues an event, blocking while the queue is full
func (p *Pipeline) Submit(ctx context.Context, ev Event) error {
	select {
	case <-p.done:
		return ErrStopped
	default:
	}
	select {
	case p.events <- ev:
		return nil
	case <-p.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Process handles a single event to completion. Run calls it for every
// queued event; it must not be called concurrently with Run.
func (p *Pipeline) Process(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case PayloadEvent:
		p.handlePayload(ctx, e.Message)
	case ManualPositionEvent:
		p.handleManual(ctx, e)
	case ObserverEvent:
		p.handleObserver(ctx, e.Location)
	case StatusEvent:
		p.handleStatus(ctx, e.Status)
	default:
		p.logger.Warn("unknown pipeline event", "type", fmt.Sprintf("%T", ev))
	}
}

func (p *Pipeline) handlePayload(ctx context.Context, msg types.BeaconMessage) {
	start := time.Now()
	defer func() { p.stats.AddProcessingTime(time.Since(start)) }()

	p.stats.IncrementPayloads()
	p.stats.UpdateLastPayloadTime()

	raw := []byte(msg.Raw)
	if parser.Classify(raw) == parser.FrameAck {
		if ack, ok := parser.ParseAck(raw); ok {
			p.stats.IncrementAcks()
			p.mu.Lock()
			p.lightOn = ack.LightOn()
			p.mu.Unlock()
			p.logger.Info("command acknowledged", "source", msg.Source, "ack", string(ack))
			return
		}
	}

	receivedAt := msg.Timestamp
	if receivedAt.IsZero() {
		receivedAt = p.now()
	}
	reading, err := p.decoder.Decode(raw, receivedAt)
	if err != nil {
		p.stats.IncrementMalformed()
		if p.malformed.Allow() {
			p.logger.Warn("dropping malformed payload",
				"source", msg.Source,
				"raw", msg.Raw,
				"error", err)
		}
		return
	}
	reading.Source = msg.Source
	reading.SessionID = msg.SessionID
	p.stats.IncrementDecoded()

	pos := p.coords.Update(reading)
	p.ledger.Append(ctx, reading.Latitude, reading.Longitude, reading.ReceivedAt, "")
	p.stats.IncrementHistoryAppends()
	p.alerts.NewCoordinate(ctx, reading.Latitude, reading.Longitude)

	p.archiveReading(ctx, reading)
	p.mirror(ctx, pos)
	p.evaluate(ctx, pos)
	if reading.Battery != nil {
		p.checkBattery(ctx, *reading.Battery)
	}
}

func (p *Pipeline) handleManual(ctx context.Context, e ManualPositionEvent) {
	pos := p.coords.Set(e.Latitude, e.Longitude, e.Source, e.At)
	p.ledger.Append(ctx, e.Latitude, e.Longitude, e.At, "")
	p.stats.IncrementHistoryAppends()
	p.logger.Info("position set manually", "source", string(e.Source),
		"latitude", pos.Latitude, "longitude", pos.Longitude)
	p.mirror(ctx, pos)
	p.evaluate(ctx, pos)
}

func (p *Pipeline) handleObserver(ctx context.Context, loc types.ObserverLocation) {
	p.mu.Lock()
	p.observer = &loc
	p.mu.Unlock()

	if pos, ok := p.coords.Current(); ok {
		p.evaluate(ctx, pos)
	}
}

func (p *Pipeline) handleStatus(ctx context.Context, status types.ConnectionStatus) {
	p.mu.Lock()
	was := p.links[status.Source]
	p.links[status.Source] = status.Connected
	p.mu.Unlock()

	if p.cache != nil {
		if err := p.cache.StoreLinkStatus(ctx, &status); err != nil {
			p.logger.Warn("failed to mirror link status", "source", status.Source, "error", err)
		}
	}

	if status.Connected == was {
		return
	}
	if status.Connected {
		p.logger.Info("beacon connected", "source", status.Source, "session_id", status.SessionID)
	} else {
		p.logger.Warn("beacon disconnected", "source", status.Source, "error", status.Error)
		if p.guide != nil {
			p.guide.NotifySignalLost()
		}
	}
	if a := p.alerts.ConnectionNotice(ctx, status.Connected, status.DeviceName); a != nil {
		p.stats.IncrementAlerts()
	}
}

func (p *Pipeline) archiveReading(ctx context.Context, r *types.TelemetryReading) {
	if p.archive == nil {
		return
	}
	if err := p.archive.StoreReading(ctx, r); err != nil {
		p.stats.IncrementArchiveFailures()
		p.logger.Error("failed to archive reading", "source", r.Source, "error", err)
		return
	}
	p.stats.IncrementArchived()
}

func (p *Pipeline) mirror(ctx context.Context, pos types.Position) {
	if p.cache == nil {
		return
	}
	if err := p.cache.StorePosition(ctx, &pos); err != nil {
		p.logger.Warn("failed to mirror position", "error", err)
	}
}

// evaluate measures the distance from the observer to pos and drives the
// proximity alert and voice guidance
func (p *Pipeline) evaluate(ctx context.Context, pos types.Position) {
	p.mu.RLock()
	observer := p.observer
	p.mu.RUnlock()
	if observer == nil {
		return
	}

	distance := geo.Distance(observer.Latitude, observer.Longitude, pos.Latitude, pos.Longitude)

	// the approach announcement fires once per entry into the zone
	p.mu.Lock()
	near := distance < voice.ApproachingKm
	entered := near && !p.near
	p.near = near
	p.mu.Unlock()

	if a := p.alerts.CheckProximity(ctx, distance, p.now()); a != nil {
		p.stats.IncrementAlerts()
		return
	}

	if p.guide == nil {
		return
	}
	if entered && p.guide.NotifyApproaching(distance) {
		return
	}
	bearing := geo.Bearing(observer.Latitude, observer.Longitude, pos.Latitude, pos.Longitude)
	p.guide.GiveInstruction(distance, bearing, observer.Accuracy)
}

// checkBattery alerts once per crossing below the threshold
func (p *Pipeline) checkBattery(ctx context.Context, level int) {
	p.mu.Lock()
	low := level <= alert.BatteryThreshold
	crossed := low && !p.batteryLow
	p.batteryLow = low
	p.mu.Unlock()

	if !crossed {
		return
	}
	if a := p.alerts.BatteryAlert(ctx, level); a != nil {
		p.stats.IncrementAlerts()
	}
}

// UseTestData queues a position near the test anchor and returns it
func (p *Pipeline) UseTestData(ctx context.Context) (ManualPositionEvent, error) {
	ev := ManualPositionEvent{
		Latitude:  TestLatitude + (rand.Float64()-0.5)*2*TestJitter,
		Longitude: TestLongitude + (rand.Float64()-0.5)*2*TestJitter,
		Source:    types.SourceTest,
		At:        p.now(),
	}
	return ev, p.Submit(ctx, ev)
}

// UseHistoryEntry queues the position of a recorded history entry
func (p *Pipeline) UseHistoryEntry(ctx context.Context, id string) (history.Entry, error) {
	entry, ok := p.ledger.Get(id)
	if !ok {
		return history.Entry{}, fmt.Errorf("history entry %q not found", id)
	}
	ev := ManualPositionEvent{
		Latitude:  entry.Latitude,
		Longitude: entry.Longitude,
		Source:    types.SourceHistory,
		At:        p.now(),
	}
	return entry, p.Submit(ctx, ev)
}

// SendCommand forwards cmd to source. It is refused while the link is down.
// An empty source addresses every connected link and needs at least one.
func (p *Pipeline) SendCommand(ctx context.Context, source string, cmd parser.Command) error {
	if source == "" {
		if !p.anyConnected() {
			return fmt.Errorf("%w: no beacon is connected", types.ErrDeviceUnavailable)
		}
	} else if !p.Connected(source) {
		return fmt.Errorf("%w: %s is not connected", types.ErrDeviceUnavailable, source)
	}
	if p.commander == nil {
		return fmt.Errorf("%w: no command route configured", types.ErrDeviceUnavailable)
	}
	return p.commander.SendCommand(ctx, source, cmd)
}

// Connected reports the last known link state of source
func (p *Pipeline) Connected(source string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.links[source]
}

func (p *Pipeline) anyConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, up := range p.links {
		if up {
			return true
		}
	}
	return false
}

// LightOn reports the light state last acknowledged by the beacon
func (p *Pipeline) LightOn() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lightOn
}

// Observer returns the location distances are measured from
func (p *Pipeline) Observer() (types.ObserverLocation, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.observer == nil {
		return types.ObserverLocation{}, false
	}
	return *p.observer, true
}

// Stats returns the pipeline counters
func (p *Pipeline) Stats() *stats.Stats {
	return p.stats
}

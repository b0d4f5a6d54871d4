package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/types"
)

// Persister stores statistics snapshots
type Persister interface {
	StorePipelineStats(s *types.PipelineStats) error
}

// Stats tracks pipeline statistics
type Stats struct {
	Payloads        uint64
	Decoded         uint64
	Malformed       uint64
	Acks            uint64
	HistoryAppends  uint64
	Archived        uint64
	ArchiveFailures uint64
	Alerts          uint64

	startedAt      time.Time
	lastPayload    time.Time
	processingTime time.Duration

	persister Persister
	logger    *slog.Logger

	mu sync.RWMutex
}

// New creates a new Stats instance
func New() *Stats {
	return &Stats{startedAt: time.Now(), logger: slog.Default()}
}

// SetPersister sets where snapshots are stored
func (s *Stats) SetPersister(p Persister) {
	s.mu.Lock()
	s.persister = p
	s.mu.Unlock()
}

// SetLogger sets the logger used by the periodic loop
func (s *Stats) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
}

// Persist stores the current statistics
func (s *Stats) Persist() error {
	s.mu.RLock()
	p := s.persister
	s.mu.RUnlock()
	if p == nil {
		return errors.New("statistics persister not set")
	}
	return p.StorePipelineStats(s.Snapshot())
}

func (s *Stats) IncrementPayloads()        { atomic.AddUint64(&s.Payloads, 1) }
func (s *Stats) IncrementDecoded()         { atomic.AddUint64(&s.Decoded, 1) }
func (s *Stats) IncrementMalformed()       { atomic.AddUint64(&s.Malformed, 1) }
func (s *Stats) IncrementAcks()            { atomic.AddUint64(&s.Acks, 1) }
func (s *Stats) IncrementHistoryAppends()  { atomic.AddUint64(&s.HistoryAppends, 1) }
func (s *Stats) IncrementArchived()        { atomic.AddUint64(&s.Archived, 1) }
func (s *Stats) IncrementArchiveFailures() { atomic.AddUint64(&s.ArchiveFailures, 1) }
func (s *Stats) IncrementAlerts()          { atomic.AddUint64(&s.Alerts, 1) }

// UpdateLastPayloadTime records when the last payload arrived
func (s *Stats) UpdateLastPayloadTime() {
	s.mu.Lock()
	s.lastPayload = time.Now()
	s.mu.Unlock()
}

// AddProcessingTime adds to the total processing time
func (s *Stats) AddProcessingTime(duration time.Duration) {
	s.mu.Lock()
	s.processingTime += duration
	s.mu.Unlock()
}

// Snapshot returns a copy of the current statistics
func (s *Stats) Snapshot() *types.PipelineStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	return &types.PipelineStats{
		Time:            now,
		Payloads:        atomic.LoadUint64(&s.Payloads),
		Decoded:         atomic.LoadUint64(&s.Decoded),
		Malformed:       atomic.LoadUint64(&s.Malformed),
		Acks:            atomic.LoadUint64(&s.Acks),
		HistoryAppends:  atomic.LoadUint64(&s.HistoryAppends),
		Archived:        atomic.LoadUint64(&s.Archived),
		ArchiveFailures: atomic.LoadUint64(&s.ArchiveFailures),
		Alerts:          atomic.LoadUint64(&s.Alerts),
		LastPayloadAt:   s.lastPayload,
		ProcessingTime:  s.processingTime,
		Uptime:          now.Sub(s.startedAt),
	}
}

// String returns a string representation of the statistics
func (s *Stats) String() string {
	snap := s.Snapshot()
	return fmt.Sprintf(
		"Payloads: %d\n"+
			"Decoded: %d\n"+
			"Malformed: %d\n"+
			"Acks: %d\n"+
			"History Appends: %d\n"+
			"Archived: %d\n"+
			"Archive Failures: %d\n"+
			"Alerts: %d\n"+
			"Last Payload: %s\n"+
			"Processing Time: %s\n"+
			"Uptime: %s",
		snap.Payloads,
		snap.Decoded,
		snap.Malformed,
		snap.Acks,
		snap.HistoryAppends,
		snap.Archived,
		snap.ArchiveFailures,
		snap.Alerts,
		snap.LastPayloadAt.Format(time.RFC3339),
		snap.ProcessingTime,
		snap.Uptime.Round(time.Second),
	)
}

// LogValue implements slog.LogValuer
func (s *Stats) LogValue() slog.Value {
	snap := s.Snapshot()
	return slog.GroupValue(
		slog.Uint64("payloads", snap.Payloads),
		slog.Uint64("decoded", snap.Decoded),
		slog.Uint64("malformed", snap.Malformed),
		slog.Uint64("acks", snap.Acks),
		slog.Uint64("history_appends", snap.HistoryAppends),
		slog.Uint64("archived", snap.Archived),
		slog.Uint64("archive_failures", snap.ArchiveFailures),
		slog.Uint64("alerts", snap.Alerts),
	)
}

// StartPersistence persists and logs the statistics every interval until ctx
// is done, with a final persistence on shutdown.
func (s *Stats) StartPersistence(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.mu.RLock()
	logger := s.logger
	s.mu.RUnlock()

	for {
		select {
		case <-ctx.Done():
			if err := s.Persist(); err != nil {
				logger.Warn("failed to persist final statistics", "error", err)
			}
			return
		case <-ticker.C:
			logger.Info("pipeline statistics", "stats", s)
			if err := s.Persist(); err != nil {
				logger.Warn("failed to persist statistics", "error", err)
			}
		}
	}
}

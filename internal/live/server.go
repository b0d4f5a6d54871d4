package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/coords"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/history"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/parser"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/pipeline"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/settings"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/types"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/voice"
)

const (
	defaultHistoryLimit = 20
	defaultArchiveRange = 24 * time.Hour
)

// Controller is the part of the pipeline the API drives
type Controller interface {
	Submit(ctx context.Context, ev pipeline.Event) error
	UseTestData(ctx context.Context) (pipeline.ManualPositionEvent, error)
	UseHistoryEntry(ctx context.Context, id string) (history.Entry, error)
	SendCommand(ctx context.Context, source string, cmd parser.Command) error
	LightOn() bool
}

// StatsSource reports pipeline counters
type StatsSource interface {
	Snapshot() *types.PipelineStats
}

// ArchiveReader queries the long-term archive
type ArchiveReader interface {
	GetReadings(ctx context.Context, start, end time.Time) ([]*types.TelemetryReading, error)
	GetPipelineStats(start, end time.Time) ([]*types.PipelineStats, error)
}

// Config wires the API to the tracker components. Guide, Stats and Archive
// may be nil.
type Config struct {
	Addr       string
	Hub        *Hub
	Coords     *coords.Store
	Ledger     *history.Ledger
	Settings   *settings.Manager
	Guide      *voice.Guide
	Controller Controller
	Stats      StatsSource
	Archive    ArchiveReader
	TimeLayout string
	Location   *time.Location
	Logger     *slog.Logger
}

// Server is the tracker HTTP API and live feed
type Server struct {
	cfg       Config
	logger    *slog.Logger
	httpSrv   *http.Server
	boundAddr string
	ready     chan struct{}
}

// CommandRequest is the body of POST /api/command
type CommandRequest struct {
	Source  string `json:"source"`
	Command string `json:"command"`
}

// NewServer creates the API server
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Hub == nil {
		cfg.Hub = NewHub(nil, cfg.Logger)
	}
	return &Server{cfg: cfg, logger: cfg.Logger, ready: make(chan struct{})}
}

// Handler returns the routed API
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", s.cfg.Hub)

	mux.HandleFunc("GET /api/position", s.handlePosition)
	mux.HandleFunc("POST /api/position/test", s.handleTestPosition)
	mux.HandleFunc("POST /api/observer", s.handleObserver)

	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/history/export", s.handleExport)
	mux.HandleFunc("DELETE /api/history", s.handleClearHistory)
	mux.HandleFunc("DELETE /api/history/{id}", s.handleDeleteHistory)
	mux.HandleFunc("POST /api/history/{id}/use", s.handleUseHistory)

	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", s.handlePutSettings)
	mux.HandleFunc("POST /api/settings/reset", s.handleResetSettings)

	mux.HandleFunc("POST /api/command", s.handleCommand)
	mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/stats/history", s.handleStatsHistory)
	mux.HandleFunc("GET /api/readings", s.handleReadings)
	return mux
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("live listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()
	s.httpSrv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	close(s.ready)

	s.logger.Info("live server started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("live serve: %w", err)
	}
	return nil
}

// Ready is closed once the listener is bound
func (s *Server) Ready() <-chan struct{} { return s.ready }

// BoundAddr returns the listening address. Only valid after Ready.
func (s *Server) BoundAddr() string { return s.boundAddr }

// Stop closes live clients and shuts the HTTP server down
func (s *Server) Stop(ctx context.Context) error {
	s.cfg.Hub.Close()
	if s.httpSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) handlePosition(w http.ResponseWriter, _ *http.Request) {
	pos, ok := s.cfg.Coords.Current()
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no position yet"))
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) handleTestPosition(w http.ResponseWriter, r *http.Request) {
	ev, err := s.cfg.Controller.UseTestData(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.Position{
		Latitude:  ev.Latitude,
		Longitude: ev.Longitude,
		UpdatedAt: ev.At,
		Source:    ev.Source,
	})
}

func (s *Server) handleObserver(w http.ResponseWriter, r *http.Request) {
	var loc types.ObserverLocation
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if loc.Timestamp.IsZero() {
		loc.Timestamp = time.Now()
	}
	if err := s.cfg.Controller.Submit(r.Context(), pipeline.ObserverEvent{Location: loc}); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.cfg.Ledger.Recent(limit))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := history.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.Header().Set("Content-Type", history.ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", history.FileName(format)))
	opts := history.ExportOptions{TimeLayout: s.cfg.TimeLayout, Location: s.cfg.Location}
	if err := s.cfg.Ledger.Export(w, format, opts); err != nil {
		s.logger.Error("history export failed", "format", string(format), "error", err)
	}
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	s.cfg.Ledger.Clear(r.Context())
	if err := s.cfg.Ledger.LastPersistError(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	removed := s.cfg.Ledger.Delete(r.Context(), r.PathValue("id"))
	if err := s.cfg.Ledger.LastPersistError(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (s *Server) handleUseHistory(w http.ResponseWriter, r *http.Request) {
	entry, err := s.cfg.Controller.UseHistoryEntry(r.Context(), r.PathValue("id"))
	if err != nil {
		if entry.ID == "" {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusAccepted, entry)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Settings.Get())
}

// handlePutSettings merges the body into the current settings
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	current := s.cfg.Settings.Get()
	next := current
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// Toggling voice guidance goes through the guide so it is announced
	if g := s.cfg.Guide; g != nil && next.VoiceGuidance != current.VoiceGuidance {
		var err error
		if next.VoiceGuidance {
			err = g.Enable(ctx)
		} else {
			err = g.Disable(ctx)
		}
		if err != nil {
			writeSettingsError(w, err)
			return
		}
	}

	if err := s.cfg.Settings.Update(ctx, func(st *settings.Settings) { *st = next }); err != nil {
		writeSettingsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Settings.Get())
}

func (s *Server) handleResetSettings(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Settings.Reset(r.Context()); err != nil {
		writeSettingsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Settings.Get())
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cmd, err := parser.ParseCommand(req.Command)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.cfg.Controller.SendCommand(r.Context(), req.Source, cmd); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, types.ErrDeviceUnavailable) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleAlerts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Hub.ActiveAlerts())
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Stats == nil {
		writeError(w, http.StatusNotFound, errors.New("statistics disabled"))
		return
	}
	writeJSON(w, http.StatusOK, struct {
		*types.PipelineStats
		LiveClients int  `json:"live_clients"`
		LightOn     bool `json:"light_on"`
	}{s.cfg.Stats.Snapshot(), s.cfg.Hub.Clients(), s.cfg.Controller.LightOn()})
}

// handleReadings lists archived readings between from and to (RFC 3339),
// defaulting to the last day
func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	start, end, ok := s.archiveRange(w, r)
	if !ok {
		return
	}
	readings, err := s.cfg.Archive.GetReadings(r.Context(), start, end)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err))
		return
	}
	if readings == nil {
		readings = []*types.TelemetryReading{}
	}
	writeJSON(w, http.StatusOK, readings)
}

func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	start, end, ok := s.archiveRange(w, r)
	if !ok {
		return
	}
	snapshots, err := s.cfg.Archive.GetPipelineStats(start, end)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err))
		return
	}
	if snapshots == nil {
		snapshots = []*types.PipelineStats{}
	}
	writeJSON(w, http.StatusOK, snapshots)
}

// archiveRange parses the from/to query and writes the error response itself
func (s *Server) archiveRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	if s.cfg.Archive == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("%w: archive disabled", types.ErrStorageUnavailable))
		return time.Time{}, time.Time{}, false
	}
	q := r.URL.Query()
	end := time.Now()
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid to %q", v))
			return time.Time{}, time.Time{}, false
		}
		end = t
	}
	start := end.Add(-defaultArchiveRange)
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid from %q", v))
			return time.Time{}, time.Time{}, false
		}
		start = t
	}
	if start.After(end) {
		writeError(w, http.StatusBadRequest, errors.New("from is after to"))
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func writeSettingsError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, types.ErrStorageUnavailable) {
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, err)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Package settings manages persisted user preferences.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/geo"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/kv"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/types"
)

// Unit systems
const (
	UnitsMetric   = "metric"
	UnitsImperial = "imperial"
)

// Settings are the user preferences. Distances are in kilometers.
type Settings struct {
	Units              string  `json:"units"`
	Theme              string  `json:"theme"`
	VoiceGuidance      bool    `json:"voiceGuidance"`
	VoiceVolume        float64 `json:"voiceVolume"`
	Notifications      bool    `json:"notifications"`
	ProximityAlert     bool    `json:"proximityAlert"`
	ProximityDistance  float64 `json:"proximityDistance"`
	DefaultMap         string  `json:"defaultMap"`
	OfflineTiles       bool    `json:"offlineTiles"`
	CompassCalibration bool    `json:"compassCalibration"`
	HighAccuracy       bool    `json:"highAccuracy"`
}

// Defaults returns the factory settings
func Defaults() Settings {
	return Settings{
		Units:              UnitsMetric,
		Theme:              "auto",
		VoiceGuidance:      false,
		VoiceVolume:        0.8,
		Notifications:      true,
		ProximityAlert:     true,
		ProximityDistance:  0.1,
		DefaultMap:         "auto",
		OfflineTiles:       true,
		CompassCalibration: true,
		HighAccuracy:       true,
	}
}

// Distance is a distance converted for display
type Distance struct {
	Value float64
	Unit  string
	Text  string
}

// Manager owns the current settings and their persistence
type Manager struct {
	mu       sync.RWMutex
	settings Settings
	store    kv.Store
	logger   *slog.Logger
}

// NewManager loads settings from store. Stored values are decoded over the
// defaults so keys missing from older saves keep their default; unreadable
// data yields the defaults.
func NewManager(ctx context.Context, store kv.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{settings: Defaults(), store: store, logger: logger}
	if store == nil {
		return m
	}

	loaded := Defaults()
	found, err := store.Get(ctx, kv.KeySettings, &loaded)
	switch {
	case err != nil:
		logger.Warn("settings could not be loaded, using defaults",
			"error", fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err))
	case found:
		m.settings = loaded
	}
	return m
}

// Get returns a copy of the current settings
func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// Update applies fn to the settings and saves them
func (m *Manager) Update(ctx context.Context, fn func(*Settings)) error {
	m.mu.Lock()
	fn(&m.settings)
	m.mu.Unlock()
	return m.Save(ctx)
}

// Save persists the current settings
func (m *Manager) Save(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	current := m.Get()
	if err := m.store.Set(ctx, kv.KeySettings, current); err != nil {
		err = fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err)
		m.logger.Error("failed to save settings", "error", err)
		return err
	}
	return nil
}

// Reset restores the defaults and saves them
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	m.settings = Defaults()
	m.mu.Unlock()
	return m.Save(ctx)
}

// IsMetric reports whether distances are shown in kilometers
func (m *Manager) IsMetric() bool {
	return m.Get().Units != UnitsImperial
}

// ConvertDistance converts km into the configured unit system
func (m *Manager) ConvertDistance(km float64) Distance {
	if m.IsMetric() {
		return Distance{Value: km, Unit: "km", Text: fmt.Sprintf("%.1f km", km)}
	}
	miles := geo.KmToMiles(km)
	return Distance{Value: miles, Unit: "mi", Text: fmt.Sprintf("%.1f mi", miles)}
}

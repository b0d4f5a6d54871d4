package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/settings"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/types"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/voice"
)

// BatteryThreshold is the battery percentage at or below which an alert fires
const BatteryThreshold = 20

const proximityTag = "proximity-alert"

// Channels are the outputs an alert fans out to. Any of them may be nil.
type Channels struct {
	Banner   Banner
	Notifier Notifier
	Haptics  Haptics
	Speaker  Speaker
}

// Manager raises alerts according to the current settings
type Manager struct {
	settings  *settings.Manager
	proximity *Proximity
	channels  Channels
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager creates an alert manager
func NewManager(s *settings.Manager, proximity *Proximity, channels Channels, logger *slog.Logger) *Manager {
	if proximity == nil {
		proximity = NewProximity(DefaultCooldown)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		settings:  s,
		proximity: proximity,
		channels:  channels,
		logger:    logger,
		now:       time.Now,
	}
}

// CheckProximity evaluates a distance in km and, when the alert fires, fans
// it out to every available channel. The returned alert is nil when nothing
// fired.
func (m *Manager) CheckProximity(ctx context.Context, distanceKm float64, at time.Time) *types.Alert {
	if at.IsZero() {
		at = m.now()
	}
	cfg := m.settings.Get()
	if !m.proximity.Evaluate(cfg.ProximityAlert, distanceKm, cfg.ProximityDistance, at) {
		return nil
	}

	distance := m.settings.ConvertDistance(distanceKm).Text
	a := types.Alert{
		Kind:      types.AlertProximity,
		Title:     "Approaching the beacon!",
		Body:      "Distance: " + distance,
		Tag:       proximityTag,
		Sticky:    true,
		Timestamp: at,
	}

	if cfg.VoiceGuidance {
		m.speak("Attention! The beacon is close, "+distance, voice.PriorityHigh)
	}
	if cfg.Notifications {
		m.notify(ctx, a)
	}
	if h := m.channels.Haptics; h != nil && h.Available() {
		if err := h.Vibrate(VibrationPattern); err != nil {
			m.logger.Warn("vibration failed", "error", err)
		}
	}
	if m.channels.Banner != nil {
		m.channels.Banner.Show(a)
	}

	m.logger.Info("proximity alert", "distance_km", distanceKm)
	return &a
}

// ConnectionNotice announces a link state change
func (m *Manager) ConnectionNotice(ctx context.Context, connected bool, deviceName string) *types.Alert {
	if !m.settings.Get().Notifications {
		return nil
	}
	a := types.Alert{Kind: types.AlertConnection, Timestamp: m.now()}
	if connected {
		a.Title = "Connected to beacon"
		a.Body = "Device: " + deviceName
	} else {
		a.Title = "Disconnected from beacon"
		a.Body = "Connection lost"
	}
	m.notify(ctx, a)
	return &a
}

// BatteryAlert warns when level is at or below BatteryThreshold
func (m *Manager) BatteryAlert(ctx context.Context, level int) *types.Alert {
	if level > BatteryThreshold {
		return nil
	}
	cfg := m.settings.Get()
	a := types.Alert{
		Kind:      types.AlertBattery,
		Title:     "Low beacon battery",
		Body:      fmt.Sprintf("Battery level: %d%%", level),
		Timestamp: m.now(),
	}
	if cfg.Notifications {
		m.notify(ctx, a)
	}
	if cfg.VoiceGuidance {
		m.speak(fmt.Sprintf("Attention! Low battery, %d percent", level), voice.PriorityHigh)
	}
	return &a
}

// NewCoordinate announces a freshly received beacon position
func (m *Manager) NewCoordinate(ctx context.Context, latitude, longitude float64) *types.Alert {
	if !m.settings.Get().Notifications {
		return nil
	}
	a := types.Alert{
		Kind:      types.AlertNewCoordinate,
		Title:     "New coordinates received",
		Body:      fmt.Sprintf("Lat: %.6f, Lon: %.6f", latitude, longitude),
		Timestamp: m.now(),
	}
	m.notify(ctx, a)
	return &a
}

func (m *Manager) notify(ctx context.Context, a types.Alert) {
	n := m.channels.Notifier
	if n == nil {
		return
	}
	if !n.Permitted() {
		m.logger.Debug("notification skipped", "kind", a.Kind, "error", types.ErrPermissionDenied)
		return
	}
	if err := n.Notify(ctx, a); err != nil {
		m.logger.Warn("notification failed", "kind", a.Kind, "error", err)
	}
}

func (m *Manager) speak(text string, priority voice.Priority) {
	if m.channels.Speaker != nil {
		m.channels.Speaker.Speak(text, priority)
	}
}

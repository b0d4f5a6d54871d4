// Package voice produces spoken navigation guidance.
package voice

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/settings"
)

// Priority decides whether a repeated phrase is spoken again
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

const (
	speechRate  = 0.9
	speechPitch = 1.0

	// ApproachingKm is the distance below which NotifyApproaching speaks
	ApproachingKm = 0.2
	// LowAccuracyM is the observer accuracy above which a warning is appended
	LowAccuracyM = 50.0
)

// Utterance is one phrase handed to a synthesizer
type Utterance struct {
	Text     string   `json:"text"`
	Rate     float64  `json:"rate"`
	Pitch    float64  `json:"pitch"`
	Volume   float64  `json:"volume"`
	Priority Priority `json:"priority"`
}

// Synth is a text-to-speech output
type Synth interface {
	Speak(u Utterance) error
	Cancel()
}

// Guide turns navigation state into speech. It is enabled by the
// voiceGuidance setting.
type Guide struct {
	mu              sync.Mutex
	synth           Synth
	settings        *settings.Manager
	logger          *slog.Logger
	lastInstruction string
}

// NewGuide creates a guide speaking through synth
func NewGuide(synth Synth, s *settings.Manager, logger *slog.Logger) *Guide {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guide{synth: synth, settings: s, logger: logger}
}

// Enabled reports whether the guide will speak
func (g *Guide) Enabled() bool {
	return g.synth != nil && g.settings.Get().VoiceGuidance
}

// Enable turns guidance on, persists it and announces it
func (g *Guide) Enable(ctx context.Context) error {
	err := g.settings.Update(ctx, func(s *settings.Settings) { s.VoiceGuidance = true })
	g.Speak("Voice guidance enabled", PriorityHigh)
	return err
}

// Disable announces and turns guidance off
func (g *Guide) Disable(ctx context.Context) error {
	g.Speak("Voice guidance disabled", PriorityHigh)
	return g.settings.Update(ctx, func(s *settings.Settings) { s.VoiceGuidance = false })
}

// Speak says text, cancelling whatever is being said. A normal-priority
// phrase identical to the previous one is skipped. It reports whether
// anything was handed to the synthesizer.
func (g *Guide) Speak(text string, priority Priority) bool {
	if !g.Enabled() {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if priority != PriorityHigh && text == g.lastInstruction {
		return false
	}

	g.synth.Cancel()
	u := Utterance{
		Text:     text,
		Rate:     speechRate,
		Pitch:    speechPitch,
		Volume:   g.settings.Get().VoiceVolume,
		Priority: priority,
	}
	if err := g.synth.Speak(u); err != nil {
		g.logger.Warn("speech synthesis failed", "error", err)
		return false
	}
	g.lastInstruction = text
	return true
}

// GiveInstruction speaks the navigation instruction for the current geometry
func (g *Guide) GiveInstruction(distanceKm, bearingDeg, accuracyM float64) bool {
	if !g.Enabled() {
		return false
	}
	return g.Speak(Instruction(distanceKm, bearingDeg, accuracyM), PriorityNormal)
}

// NotifyApproaching warns when the beacon is closer than ApproachingKm
func (g *Guide) NotifyApproaching(distanceKm float64) bool {
	if distanceKm >= ApproachingKm {
		return false
	}
	return g.Speak("Attention! You are approaching the beacon", PriorityHigh)
}

// NotifyLowBattery warns about the beacon battery
func (g *Guide) NotifyLowBattery() bool {
	return g.Speak("Attention! Beacon battery is low", PriorityHigh)
}

// NotifySignalLost warns that the beacon link is gone
func (g *Guide) NotifySignalLost() bool {
	return g.Speak("Beacon signal lost. Check the connection", PriorityHigh)
}

// Instruction builds the spoken instruction for a distance in km, a bearing
// in degrees and the observer accuracy in meters.
func Instruction(distanceKm, bearingDeg, accuracyM float64) string {
	var text string
	switch {
	case distanceKm < 0.01:
		text = "You have arrived! The beacon is right in front of you"
	case distanceKm < 0.05:
		text = fmt.Sprintf("The beacon is very close, about %d meters", meters(distanceKm))
	case distanceKm < 0.1:
		text = fmt.Sprintf("Keep going, %d meters left", meters(distanceKm))
	default:
		text = fmt.Sprintf("Head %s, distance %.1f kilometers", DirectionText(bearingDeg), distanceKm)
	}
	if accuracyM > LowAccuracyM {
		text += ". Warning: low GPS accuracy"
	}
	return text
}

// DirectionText names the 45 degree sector a bearing falls in
func DirectionText(bearingDeg float64) string {
	b := math.Mod(bearingDeg, 360)
	if b < 0 {
		b += 360
	}
	switch {
	case b >= 337.5 || b < 22.5:
		return "straight ahead"
	case b < 67.5:
		return "ahead to the right"
	case b < 112.5:
		return "right"
	case b < 157.5:
		return "back to the right"
	case b < 202.5:
		return "back"
	case b < 247.5:
		return "back to the left"
	case b < 292.5:
		return "left"
	default:
		return "ahead to the left"
	}
}

func meters(km float64) int {
	return int(math.Round(km * 1000))
}

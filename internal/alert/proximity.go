// Package alert raises user-facing notifications about the beacon.
package alert

import (
	"sync"
	"time"
)

// DefaultCooldown is the minimum gap between two proximity alerts
const DefaultCooldown = 30 * time.Second

// Proximity decides when a proximity alert fires. It is idle until the first
// alert and then refuses to fire again until the cooldown has elapsed.
type Proximity struct {
	mu          sync.Mutex
	cooldown    time.Duration
	lastFiredAt time.Time
	fired       bool
}

// NewProximity creates the alert state. A non-positive cooldown uses the default.
func NewProximity(cooldown time.Duration) *Proximity {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Proximity{cooldown: cooldown}
}

// Evaluate reports whether an alert fires for distanceKm at now, and records
// the firing time when it does.
func (p *Proximity) Evaluate(enabled bool, distanceKm, thresholdKm float64, now time.Time) bool {
	if !enabled || !(distanceKm <= thresholdKm) {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fired && now.Sub(p.lastFiredAt) <= p.cooldown {
		return false
	}
	p.lastFiredAt = now
	p.fired = true
	return true
}

// CoolingDown reports whether an alert fired within the cooldown before now
func (p *Proximity) CoolingDown(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fired && now.Sub(p.lastFiredAt) <= p.cooldown
}

// LastFiredAt returns the time of the last alert and whether one fired
func (p *Proximity) LastFiredAt() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastFiredAt, p.fired
}

package alert

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/types"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/voice"
)

// BannerTTL is how long an in-app banner stays up
const BannerTTL = 5 * time.Second

// VibrationPattern is the on/off haptic pattern for proximity alerts
var VibrationPattern = []time.Duration{200 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond}

// Notifier delivers platform notifications when permission was granted
type Notifier interface {
	Permitted() bool
	Notify(ctx context.Context, a types.Alert) error
}

// Haptics vibrates the device when it has a vibration motor
type Haptics interface {
	Available() bool
	Vibrate(pattern []time.Duration) error
}

// Speaker says a phrase; voice.Guide implements it
type Speaker interface {
	Speak(text string, priority voice.Priority) bool
}

// Banner shows transient in-app banners
type Banner interface {
	Show(a types.Alert)
	Dismiss(tag string)
}

// BannerBoard keeps the banners currently on screen. Each banner is removed
// after its TTL or on Dismiss, whichever comes first.
type BannerBoard struct {
	mu     sync.Mutex
	ttl    time.Duration
	active map[string]*banner
	seq    int
}

type banner struct {
	alert types.Alert
	seq   int
	timer *time.Timer
}

// NewBannerBoard creates an empty board. A non-positive ttl uses BannerTTL.
func NewBannerBoard(ttl time.Duration) *BannerBoard {
	if ttl <= 0 {
		ttl = BannerTTL
	}
	return &BannerBoard{ttl: ttl, active: make(map[string]*banner)}
}

// Show displays a banner, replacing any banner with the same tag
func (b *BannerBoard) Show(a types.Alert) {
	key := a.Tag
	if key == "" {
		key = string(a.Kind)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.active[key]; ok {
		old.timer.Stop()
	}
	b.seq++
	entry := &banner{alert: a, seq: b.seq}
	entry.timer = time.AfterFunc(b.ttl, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if cur, ok := b.active[key]; ok && cur == entry {
			delete(b.active, key)
		}
	})
	b.active[key] = entry
}

// Dismiss removes a banner early
func (b *BannerBoard) Dismiss(tag string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if entry, ok := b.active[tag]; ok {
		entry.timer.Stop()
		delete(b.active, tag)
	}
}

// Active returns the banners on screen, oldest first
func (b *BannerBoard) Active() []types.Alert {
	b.mu.Lock()
	entries := make([]*banner, 0, len(b.active))
	for _, e := range b.active {
		entries = append(entries, e)
	}
	b.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]types.Alert, len(entries))
	for i, e := range entries {
		out[i] = e.alert
	}
	return out
}

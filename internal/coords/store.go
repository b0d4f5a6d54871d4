// Package coords holds the single current beacon position.
package coords

import (
	"sync"
	"time"

	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/types"
)

// Listener is called with every new position
type Listener func(types.Position)

// Store is a last-write-wins holder of the current beacon position.
// Listeners run synchronously, in subscription order, on the writer's
// goroutine and must not call back into Update or Set.
type Store struct {
	mu        sync.RWMutex
	current   types.Position
	set       bool
	listeners []subscription
	nextID    int
}

type subscription struct {
	id int
	fn Listener
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{}
}

// Update replaces the position with a decoded beacon reading
func (s *Store) Update(reading *types.TelemetryReading) types.Position {
	return s.Set(reading.Latitude, reading.Longitude, types.SourceBeacon, reading.ReceivedAt)
}

// Set replaces the position. A zero time means now.
func (s *Store) Set(latitude, longitude float64, source types.PositionSource, at time.Time) types.Position {
	if at.IsZero() {
		at = time.Now()
	}
	pos := types.Position{
		Latitude:  latitude,
		Longitude: longitude,
		UpdatedAt: at,
		Source:    source,
	}

	s.mu.Lock()
	s.current = pos
	s.set = true
	listeners := make([]subscription, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		l.fn(pos)
	}
	return pos
}

// Current returns the position and false when none has been set yet
func (s *Store) Current() (types.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.set
}

// Subscribe registers fn and returns a function that removes it
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

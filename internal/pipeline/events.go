package pipeline

import (
	"time"

	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/types"
)

// Event is a unit of work for the dispatch loop
type Event interface {
	event()
}

// PayloadEvent carries a raw beacon notification
type PayloadEvent struct {
	Message types.BeaconMessage
}

// ManualPositionEvent sets the current position without a beacon reading.
// Source is either types.SourceTest or types.SourceHistory.
type ManualPositionEvent struct {
	Latitude  float64
	Longitude float64
	Source    types.PositionSource
	At        time.Time
}

// ObserverEvent reports the live location of the observing device
type ObserverEvent struct {
	Location types.ObserverLocation
}

// StatusEvent reports a bridge link state change
type StatusEvent struct {
	Status types.ConnectionStatus
}

func (PayloadEvent) event()        {}
func (ManualPositionEvent) event() {}
func (ObserverEvent) event()       {}
func (StatusEvent) event()         {}

package types

import (
	"time"
)

// BeaconMessage represents a raw notification payload forwarded by a bridge
type BeaconMessage struct {
	Raw       string    `json:"raw"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	SessionID string    `json:"session_id"`
}

// TelemetryReading is one decoded beacon position
type TelemetryReading struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	RSSI       *int      `json:"rssi,omitempty"`
	Battery    *int      `json:"battery,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	Source     string    `json:"source,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
}

// PositionSource tells where the current position came from
type PositionSource string

const (
	SourceBeacon  PositionSource = "beacon"
	SourceTest    PositionSource = "test"
	SourceHistory PositionSource = "history"
)

// Position is the current best-known beacon position
type Position struct {
	Latitude  float64        `json:"latitude"`
	Longitude float64        `json:"longitude"`
	UpdatedAt time.Time      `json:"updated_at"`
	Source    PositionSource `json:"source"`
}

// ConnectionStatus is published by the bridge link on every state change
type ConnectionStatus struct {
	Source     string    `json:"source"`
	SessionID  string    `json:"session_id,omitempty"`
	Connected  bool      `json:"connected"`
	DeviceName string    `json:"device_name,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ObserverLocation is the live location of the device looking for the beacon
type ObserverLocation struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertKind classifies user-facing notifications
type AlertKind string

const (
	AlertProximity     AlertKind = "proximity"
	AlertConnection    AlertKind = "connection"
	AlertBattery       AlertKind = "battery"
	AlertNewCoordinate AlertKind = "new_coordinate"
)

// Alert is a user-facing notification
type Alert struct {
	Kind      AlertKind `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Tag       string    `json:"tag,omitempty"`
	Sticky    bool      `json:"sticky,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PipelineStats is a point-in-time snapshot of pipeline counters
type PipelineStats struct {
	Time            time.Time     `json:"time"`
	Payloads        uint64        `json:"payloads"`
	Decoded         uint64        `json:"decoded"`
	Malformed       uint64        `json:"malformed"`
	Acks            uint64        `json:"acks"`
	HistoryAppends  uint64        `json:"history_appends"`
	Archived        uint64        `json:"archived"`
	ArchiveFailures uint64        `json:"archive_failures"`
	Alerts          uint64        `json:"alerts"`
	LastPayloadAt   time.Time     `json:"last_payload_at"`
	ProcessingTime  time.Duration `json:"processing_time"`
	Uptime          time.Duration `json:"uptime"`
}

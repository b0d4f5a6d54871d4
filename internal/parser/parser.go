package parser

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/types"
)

// FrameKind represents the kind of a beacon notification payload
type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameTelemetry
	FrameAck
)

const (
	gpsPrefix  = "GPS:"
	rssiPrefix = "RSSI:"
	batPrefix  = "BAT:"
	ackPrefix  = "ACK:"
)

// Decoder turns a raw notification payload into a telemetry reading.
// Callers must not update any state when Decode returns an error.
type Decoder interface {
	Decode(data []byte, receivedAt time.Time) (*types.TelemetryReading, error)
}

// TextDecoder decodes the comma-delimited text payloads sent by the beacon
type TextDecoder struct{}

// NewTextDecoder creates a decoder for the text wire format
func NewTextDecoder() *TextDecoder {
	return &TextDecoder{}
}

// Decode implements Decoder
func (d *TextDecoder) Decode(data []byte, receivedAt time.Time) (*types.TelemetryReading, error) {
	return ParsePayload(data, receivedAt)
}

// Classify reports what kind of frame a payload carries without decoding it
func Classify(data []byte) FrameKind {
	text := clean(data)
	switch {
	case strings.HasPrefix(text, ackPrefix):
		return FrameAck
	case strings.HasPrefix(text, gpsPrefix):
		return FrameTelemetry
	case strings.Contains(text, ","):
		return FrameTelemetry
	default:
		return FrameUnknown
	}
}

// ParsePayload parses "<lat>,<lon>" or "GPS:<lat>,<lon>[,RSSI:<n>][,BAT:<n>]".
// Optional fields that are missing, unknown or unparseable are ignored; the
// coordinate pair must be present and finite or the whole payload is rejected.
func ParsePayload(data []byte, receivedAt time.Time) (*types.TelemetryReading, error) {
	text := strings.TrimPrefix(clean(data), gpsPrefix)
	if text == "" {
		return nil, fmt.Errorf("%w: empty payload", types.ErrMalformedPayload)
	}

	fields := strings.Split(text, ",")
	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: expected latitude and longitude, got %d field(s)", types.ErrMalformedPayload, len(fields))
	}

	lat, err := parseCoordinate(fields[0])
	if err != nil {
		return nil, fmt.Errorf("%w: latitude: %v", types.ErrMalformedPayload, err)
	}
	lon, err := parseCoordinate(fields[1])
	if err != nil {
		return nil, fmt.Errorf("%w: longitude: %v", types.ErrMalformedPayload, err)
	}

	reading := &types.TelemetryReading{
		Latitude:   lat,
		Longitude:  lon,
		ReceivedAt: receivedAt,
	}

	for _, field := range fields[2:] {
		field = strings.TrimSpace(field)
		switch {
		case strings.HasPrefix(field, rssiPrefix):
			if rssi, err := strconv.Atoi(strings.TrimPrefix(field, rssiPrefix)); err == nil {
				reading.RSSI = &rssi
			}
		case strings.HasPrefix(field, batPrefix):
			if level, ok := parseBatteryLevel(strings.TrimPrefix(field, batPrefix)); ok {
				reading.Battery = &level
			}
		}
	}

	return reading, nil
}

// parseCoordinate parses a decimal degree value and rejects NaN and infinities
func parseCoordinate(field string) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("non-finite value %q", field)
	}
	return value, nil
}

// parseBatteryLevel parses a battery percentage clamped to 0-100
func parseBatteryLevel(field string) (int, bool) {
	level, err := strconv.Atoi(strings.TrimSpace(field))
	if err != nil {
		return 0, false
	}
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	return level, true
}

// clean strips whitespace, line terminators and NUL padding some bridges add
func clean(data []byte) string {
	return strings.Trim(string(data), " \t\r\n\x00")
}

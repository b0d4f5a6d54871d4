package geo

import (
	"math"
	"testing"
)

func almostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

func TestDistance(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
		epsilon                float64
	}{
		{"same point", 55.241867, 72.908588, 55.241867, 72.908588, 0, 1e-9},
		{"one degree of latitude", 0, 0, 1, 0, 111.195, 0.01},
		{"one degree of longitude at equator", 0, 0, 0, 1, 111.195, 0.01},
		{"paris to london", 48.8566, 2.3522, 51.5074, -0.1278, 343.5, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if !almostEqual(got, tt.want, tt.epsilon) {
				t.Errorf("Distance() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBearing(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
	}{
		{"north", 0, 0, 1, 0, 0},
		{"east", 0, 0, 0, 1, 90},
		{"south", 1, 0, 0, 0, 180},
		{"west", 0, 1, 0, 0, 270},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Bearing(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if !almostEqual(got, tt.want, 0.01) {
				t.Errorf("Bearing() = %v, want %v", got, tt.want)
			}
			if got < 0 || got >= 360 {
				t.Errorf("Bearing() = %v, out of [0, 360)", got)
			}
		})
	}
}

func TestKmToMiles(t *testing.T) {
	if got := KmToMiles(10); !almostEqual(got, 6.21371, 1e-9) {
		t.Errorf("KmToMiles(10) = %v", got)
	}
}

package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
		tolerance              float64
	}{
		{
			name: "same point",
			lat1: 51.5074, lon1: -0.1278,
			lat2: 51.5074, lon2: -0.1278,
			want: 0, tolerance: 0.001,
		},
		{
			name: "london to manchester",
			lat1: 51.5074, lon1: -0.1278,
			lat2: 53.4808, lon2: -2.2426,
			want: 262000, tolerance: 2000,
		},
		{
			name: "short hop across a city block",
			lat1: 51.5074, lon1: -0.1278,
			lat2: 51.5080, lon2: -0.1278,
			want: 66.7, tolerance: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			assert.InDelta(t, tt.want, got, tt.tolerance)
		})
	}
}

func TestBearing(t *testing.T) {
	// Due north
	assert.InDelta(t, 0, Bearing(51.0, 0.0, 52.0, 0.0), 0.1)
	// Due south
	assert.InDelta(t, 180, Bearing(52.0, 0.0, 51.0, 0.0), 0.1)
	// Due east at the equator
	assert.InDelta(t, 90, Bearing(0.0, 0.0, 0.0, 1.0), 0.1)
}

func TestDestinationPointRoundTrip(t *testing.T) {
	startLat, startLon := 51.5074, -0.1278
	lat, lon := DestinationPoint(startLat, startLon, 45, 5000)

	assert.InDelta(t, 5000, Distance(startLat, startLon, lat, lon), 1)
	assert.InDelta(t, 45, Bearing(startLat, startLon, lat, lon), 0.5)
}

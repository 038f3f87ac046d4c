package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversine(t *testing.T) {
	// One degree of latitude is roughly 111km everywhere.
	d := Haversine(10, 20, 11, 20)
	assert.InDelta(t, 111_195, d, 100)

	assert.Equal(t, 0.0, Haversine(44.97, -93.26, 44.97, -93.26))
}

func TestHaversineCities(t *testing.T) {
	loc := map[string][2]float64{
		"nyc":    {40.7, -74.1},
		"philly": {40.0, -75.2},
		"sf":     {37.8, -122.5},
		"la":     {34.0, -118.5},
		"sto":    {59.3, 17.9},
		"lon":    {51.5, -0.2},
		"rey":    {64.1, -21.9},
	}

	for _, tc := range []struct {
		a, b string
		km   float64
	}{
		{"nyc", "philly", 121.438585},
		{"nyc", "sf", 4127.311071},
		{"nyc", "la", 3951.861367},
		{"nyc", "sto", 6318.636281},
		{"nyc", "lon", 5572.804939},
		{"nyc", "rey", 4209.275847},
		{"philly", "sf", 4052.204563},
		{"sf", "la", 555.165790},
		{"sf", "sto", 8619.312141},
		{"la", "rey", 6952.152842},
		{"sto", "lon", 1426.989197},
		{"lon", "rey", 1882.845837},
	} {
		a, b := loc[tc.a], loc[tc.b]
		assert.InDelta(t, tc.km*1000, Haversine(a[0], a[1], b[0], b[1]), 1, "%s-%s", tc.a, tc.b)
		assert.InDelta(t, tc.km*1000, Haversine(b[0], b[1], a[0], a[1]), 1, "%s-%s", tc.b, tc.a)
	}
}

func TestAzimuth(t *testing.T) {
	for _, tc := range []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		expected               float64
	}{
		{"north", 0, 0, 1, 0, 0},
		{"east", 0, 0, 0, 1, 90},
		{"south", 1, 0, 0, 0, 180},
		{"west", 0, 1, 0, 0, 270},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expected, Azimuth(tc.lat1, tc.lon1, tc.lat2, tc.lon2), 0.0001)
		})
	}
}

func TestAzimuthRange(t *testing.T) {
	a := Azimuth(59.33, 18.06, 59.32, 18.05)
	assert.True(t, a >= 0 && a < 360)
	assert.True(t, a > 180 && a < 270, "south-west expected, got %f", a)
}

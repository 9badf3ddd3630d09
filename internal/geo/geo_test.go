package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineKm(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
		delta                  float64
	}{
		{"same point", 10, 106, 10, 106, 0, 1e-9},
		{"one degree of latitude", 0, 0, 1, 0, 111.195, 0.01},
		{"paris to london", 48.8566, 2.3522, 51.5074, -0.1278, 343.5, 1.0},
		{"across antimeridian", 0, 179.5, 0, -179.5, 111.195, 0.01},
		{"antipodal", 0, 0, 0, 180, math.Pi * EarthRadiusKm, 1e-6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineKm(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			assert.InDelta(t, tt.want, got, tt.delta)
			assert.InDelta(t, got, HaversineKm(tt.lat2, tt.lon2, tt.lat1, tt.lon1), 1e-9, "symmetric")
		})
	}
}

func TestWithinInclusiveBoundary(t *testing.T) {
	d := HaversineKm(10, 106, 10.04, 106)
	assert.True(t, Within(10, 106, 10.04, 106, d))
	assert.False(t, Within(10, 106, 10.04, 106, d-1e-9))
}

func TestBoundingBoxesCoverCircle(t *testing.T) {
	centers := [][2]float64{{10, 106}, {0, 179.99}, {0, -179.99}, {89.99, 0}, {-89.99, 45}, {45, 0}}
	radii := []float64{0.5, 5, 50, 500}

	for _, c := range centers {
		for _, r := range radii {
			boxes := BoundingBoxes(c[0], c[1], r)
			// Sample points on and just inside the circle
			for bearing := 0.0; bearing < 360; bearing += 15 {
				lat, lon := destination(c[0], c[1], bearing, r)
				if HaversineKm(c[0], c[1], lat, lon) > r {
					continue
				}
				assert.True(t, anyContains(boxes, lat, lon), "center=%v r=%v bearing=%v point=(%v,%v)", c, r, bearing, lat, lon)
			}
		}
	}
}

func TestBoundingBoxesSplitAtAntimeridian(t *testing.T) {
	boxes := BoundingBoxes(0, 179.99, 50)
	assert.Len(t, boxes, 2)

	boxes = BoundingBoxes(10, 106, 5)
	assert.Len(t, boxes, 1)
	assert.False(t, boxes[0].Contains(11, 106))
}

func TestBoundingBoxesPoleAndHuge(t *testing.T) {
	boxes := BoundingBoxes(89.9, 0, 50)
	assert.Len(t, boxes, 1)
	assert.Equal(t, -180.0, boxes[0].MinLon)
	assert.Equal(t, 90.0, boxes[0].MaxLat)

	boxes = BoundingBoxes(0, 0, 30000)
	assert.Equal(t, []Box{{MinLat: -90, MaxLat: 90, MinLon: -180, MaxLon: 180}}, boxes)
}

func TestValidCoordinates(t *testing.T) {
	assert.True(t, ValidCoordinates(-90, 180))
	assert.False(t, ValidCoordinates(90.1, 0))
	assert.False(t, ValidCoordinates(0, -180.1))
	assert.False(t, ValidCoordinates(math.NaN(), 0))
}

func anyContains(boxes []Box, lat, lon float64) bool {
	for _, b := range boxes {
		if b.Contains(lat, lon) {
			return true
		}
	}
	return false
}

// destination returns the point distanceKm away from (lat, lon) along bearing
func destination(lat, lon, bearingDeg, distanceKm float64) (float64, float64) {
	phi := toRadians(lat)
	lambda := toRadians(lon)
	theta := toRadians(bearingDeg)
	delta := distanceKm / EarthRadiusKm

	phi2 := math.Asin(math.Sin(phi)*math.Cos(delta) + math.Cos(phi)*math.Sin(delta)*math.Cos(theta))
	lambda2 := lambda + math.Atan2(math.Sin(theta)*math.Sin(delta)*math.Cos(phi), math.Cos(delta)-math.Sin(phi)*math.Sin(phi2))
	lon2 := math.Mod(toDegrees(lambda2)+540, 360) - 180
	return toDegrees(phi2), lon2
}

// Package geo implements the great-circle math behind radius filtering.
package geo

import "math"

// EarthRadiusKm is the mean earth radius used for all distance computations
const EarthRadiusKm = 6371.0

// boxSlack widens bounding boxes so float rounding never drops a point that
// lies exactly on the radius.
const boxSlack = 1e-9

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }
func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }

// HaversineKm returns the great-circle distance between two WGS84 points in kilometers
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dPhi := toRadians(lat2 - lat1)
	dLambda := toRadians(lon2 - lon1)

	sinPhi := math.Sin(dPhi / 2)
	sinLambda := math.Sin(dLambda / 2)
	a := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda
	if a > 1 {
		a = 1
	}
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(a))
}

// Within reports whether (lat, lon) is at most radiusKm from the center. The boundary is inclusive.
func Within(centerLat, centerLon, lat, lon, radiusKm float64) bool {
	return HaversineKm(centerLat, centerLon, lat, lon) <= radiusKm
}

// Box is a latitude/longitude rectangle in degrees
type Box struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// Contains reports whether the point lies inside the box (edges included)
func (b Box) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// BoundingBoxes returns rectangles that together cover every point within
// radiusKm of the center. They are a cheap index prefilter only; callers
// must still apply HaversineKm. Two boxes are returned when the circle
// crosses the antimeridian.
func BoundingBoxes(lat, lon, radiusKm float64) []Box {
	r := radiusKm/EarthRadiusKm*(1+boxSlack) + boxSlack
	if r >= math.Pi {
		return []Box{{MinLat: -90, MaxLat: 90, MinLon: -180, MaxLon: 180}}
	}

	phi := toRadians(lat)
	lambda := toRadians(lon)
	minPhi := phi - r
	maxPhi := phi + r

	// A pole inside the circle means every longitude is reachable
	if minPhi <= -math.Pi/2 || maxPhi >= math.Pi/2 {
		return []Box{{
			MinLat: toDegrees(math.Max(minPhi, -math.Pi/2)),
			MaxLat: toDegrees(math.Min(maxPhi, math.Pi/2)),
			MinLon: -180,
			MaxLon: 180,
		}}
	}

	dLambda := math.Asin(math.Sin(r) / math.Cos(phi))
	minLambda := lambda - dLambda
	maxLambda := lambda + dLambda
	minLat, maxLat := toDegrees(minPhi), toDegrees(maxPhi)

	switch {
	case minLambda < -math.Pi:
		return []Box{
			{MinLat: minLat, MaxLat: maxLat, MinLon: toDegrees(minLambda + 2*math.Pi), MaxLon: 180},
			{MinLat: minLat, MaxLat: maxLat, MinLon: -180, MaxLon: toDegrees(maxLambda)},
		}
	case maxLambda > math.Pi:
		return []Box{
			{MinLat: minLat, MaxLat: maxLat, MinLon: toDegrees(minLambda), MaxLon: 180},
			{MinLat: minLat, MaxLat: maxLat, MinLon: -180, MaxLon: toDegrees(maxLambda - 2*math.Pi)},
		}
	}
	return []Box{{MinLat: minLat, MaxLat: maxLat, MinLon: toDegrees(minLambda), MaxLon: toDegrees(maxLambda)}}
}

// ValidCoordinates reports whether lat/lon are finite WGS84 degrees
func ValidCoordinates(lat, lon float64) bool {
	return !math.IsNaN(lat) && !math.IsNaN(lon) && lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Package geo provides great-circle distance computation used by the
// geometric pre-filter of donor ranking.
package geo

import (
	"math"

	"lifeconnect/pkg/domain"
)

// earthRadiusKm is the mean spherical earth radius. Haversine over a sphere is
// accurate to roughly 0.5% against the ellipsoid, which is sufficient for
// shortlisting donors before the travel-time refinement.
const earthRadiusKm = 6371

// Distance returns the great-circle distance between two points in
// kilometers, computed with the haversine formula.
//
// Pure and deterministic. Identical points return 0. Coordinates outside
// [-90, 90] latitude / [-180, 180] longitude are a caller contract violation;
// construct points via domain.NewGeoPoint at trust boundaries.
func Distance(a, b domain.GeoPoint) float64 {
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)

	h := sinLat*sinLat + math.Cos(radians(a.Lat))*math.Cos(radians(b.Lat))*sinLng*sinLng
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

package domain

import dErrors "lifeconnect/pkg/domain-errors"

// GeoPoint is a WGS84 latitude/longitude pair in degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// NewGeoPoint constructs a GeoPoint from external input.
//
// Errors: returns CodeInvalidInput when either coordinate is outside its
// valid range. Internal callers that already hold validated coordinates may
// build the struct directly.
func NewGeoPoint(lat, lng float64) (GeoPoint, error) {
	if lat < -90 || lat > 90 {
		return GeoPoint{}, dErrors.Newf(dErrors.CodeInvalidInput, "latitude %v out of range [-90, 90]", lat)
	}
	if lng < -180 || lng > 180 {
		return GeoPoint{}, dErrors.Newf(dErrors.CodeInvalidInput, "longitude %v out of range [-180, 180]", lng)
	}
	return GeoPoint{Lat: lat, Lng: lng}, nil
}

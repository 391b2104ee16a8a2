package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used for the spherical approximation.
const EarthRadiusMeters = 6371000.0

// ErrInvalidPoint is returned by Validate for coordinates outside WGS-84 bounds.
var ErrInvalidPoint = errors.New("invalid geo point")

// GeoPoint is a WGS-84 coordinate in decimal degrees.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate reports whether p lies within latitude [-90, 90] and longitude [-180, 180].
func (p GeoPoint) Validate() error {
	if math.IsNaN(p.Latitude) || math.IsInf(p.Latitude, 0) || p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidPoint, p.Latitude)
	}
	if math.IsNaN(p.Longitude) || math.IsInf(p.Longitude, 0) || p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidPoint, p.Longitude)
	}
	return nil
}

// DistanceMeters returns the great-circle distance between a and b using the
// haversine formula. Inputs are not validated or normalized.
func DistanceMeters(a, b GeoPoint) float64 {
	φ1 := a.Latitude * math.Pi / 180
	φ2 := b.Latitude * math.Pi / 180
	Δφ := (b.Latitude - a.Latitude) * math.Pi / 180
	Δλ := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(Δφ/2)*math.Sin(Δφ/2) +
		math.Cos(φ1)*math.Cos(φ2)*math.Sin(Δλ/2)*math.Sin(Δλ/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusMeters * c
}

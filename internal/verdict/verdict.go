// Package verdict classifies a device reading against a class geofence.
//
// A reading inside the tolerance-inflated radius is Verified. A reading outside
// it but within CampusThresholdMeters of the center is a ProxySuspect: the
// student is nearby but not in the room and the attempt goes to human review.
// Anything further is OutOfRange. A failed device capture is a DeviceError
// regardless of why it failed.
package verdict

import (
	"errors"
	"fmt"
	"math"

	"geoattend/internal/geo"
	"geoattend/internal/location"
	"geoattend/internal/session"
)

const (
	// CampusThresholdMeters is the fixed outer ring used to flag proxy attempts.
	CampusThresholdMeters = 100.0
	// DefaultTolerancePercent inflates the class radius when no tolerance is configured.
	DefaultTolerancePercent = 15.0
)

var (
	ErrSessionNotActive = errors.New("session not active")
	ErrInvalidInput     = errors.New("invalid verification input")
	ErrProxyUnreachable = errors.New("effective radius reaches the campus threshold")
)

// Status is the classification of one verification attempt.
type Status string

const (
	Verified     Status = "verified"
	ProxySuspect Status = "proxy_suspect"
	OutOfRange   Status = "out_of_range"
	DeviceError  Status = "device_error"
)

// ReferenceLocation is the "inside the room" zone of a class.
type ReferenceLocation struct {
	Point  geo.GeoPoint `json:"point"`
	Radius float64      `json:"radius"`
}

// Tolerance inflates the reference radius by Percent.
type Tolerance struct {
	Percent float64
}

// DefaultTolerance returns the 15% tolerance.
func DefaultTolerance() Tolerance { return Tolerance{Percent: DefaultTolerancePercent} }

// EffectiveRadius is radius * (1 + percent/100), expanded so that round
// inputs such as 50m at 15% give exactly 57.5.
func EffectiveRadius(radius, percent float64) float64 {
	return radius + radius*percent/100
}

// Outcome is the result of a verification attempt. DistanceMeters and Reading
// are nil for DeviceError; Reason is set only for DeviceError.
type Outcome struct {
	Status          Status               `json:"status"`
	DistanceMeters  *float64             `json:"distance_meters,omitempty"`
	EffectiveRadius float64              `json:"effective_radius"`
	Center          geo.GeoPoint         `json:"center"`
	Reading         *location.Reading    `json:"reading,omitempty"`
	Reason          location.ErrorReason `json:"reason,omitempty"`
}

// Verify classifies capture against ref for a session snapshot. It fails with
// ErrSessionNotActive unless the snapshot is active, and with ErrInvalidInput
// on malformed coordinates, radius or tolerance.
func Verify(snap session.Snapshot, capture location.Capture, ref ReferenceLocation, tol Tolerance) (Outcome, error) {
	if snap.Status != session.Active {
		return Outcome{}, fmt.Errorf("%w: status %s", ErrSessionNotActive, snap.Status)
	}
	if err := validateZone(ref, tol); err != nil {
		return Outcome{}, err
	}

	center := ref.Point
	if snap.TeacherLocation != nil {
		if err := snap.TeacherLocation.Validate(); err != nil {
			return Outcome{}, fmt.Errorf("%w: teacher location: %v", ErrInvalidInput, err)
		}
		center = *snap.TeacherLocation
	}
	out := Outcome{
		EffectiveRadius: EffectiveRadius(ref.Radius, tol.Percent),
		Center:          center,
	}

	if reason, failed := capture.Failed(); failed {
		out.Status = DeviceError
		out.Reason = reason
		return out, nil
	}
	reading, _ := capture.Reading()
	if err := reading.Point.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("%w: reading: %v", ErrInvalidInput, err)
	}

	distance := geo.DistanceMeters(reading.Point, center)
	out.DistanceMeters = &distance
	out.Reading = &reading
	out.Status = classify(distance, out.EffectiveRadius)
	return out, nil
}

func classify(distance, effectiveRadius float64) Status {
	switch {
	case distance <= effectiveRadius:
		return Verified
	case distance <= CampusThresholdMeters:
		return ProxySuspect
	default:
		return OutOfRange
	}
}

func validateZone(ref ReferenceLocation, tol Tolerance) error {
	if err := ref.Point.Validate(); err != nil {
		return fmt.Errorf("%w: reference: %v", ErrInvalidInput, err)
	}
	if math.IsNaN(ref.Radius) || math.IsInf(ref.Radius, 0) || ref.Radius < 0 {
		return fmt.Errorf("%w: radius %v", ErrInvalidInput, ref.Radius)
	}
	if math.IsNaN(tol.Percent) || tol.Percent < 0 || tol.Percent > 100 {
		return fmt.Errorf("%w: tolerance %v%% outside [0, 100]", ErrInvalidInput, tol.Percent)
	}
	return nil
}

// ValidateZone checks a class zone before it is stored: the inputs must be
// well formed and the effective radius must stay below the campus threshold,
// otherwise ProxySuspect could never be produced for that class.
func ValidateZone(ref ReferenceLocation, tol Tolerance) error {
	if err := validateZone(ref, tol); err != nil {
		return err
	}
	if ref.Radius == 0 {
		return fmt.Errorf("%w: radius must be positive", ErrInvalidInput)
	}
	if eff := EffectiveRadius(ref.Radius, tol.Percent); eff >= CampusThresholdMeters {
		return fmt.Errorf("%w: %.1fm >= %.0fm", ErrProxyUnreachable, eff, CampusThresholdMeters)
	}
	return nil
}

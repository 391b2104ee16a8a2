package location

import (
	"context"
	"errors"
	"time"

	"geoattend/internal/geo"
)

// Report is what a device submits after trying to read its position: either
// coordinates or an error reason.
type Report struct {
	Latitude   *float64   `json:"latitude" binding:"omitempty,latitude"`
	Longitude  *float64   `json:"longitude" binding:"omitempty,longitude"`
	Accuracy   float64    `json:"accuracy" binding:"gte=0"`
	CapturedAt *time.Time `json:"captured_at"`
	Error      string     `json:"error" binding:"omitempty,oneof=permission_denied position_unavailable timeout unsupported"`
}

// ErrIncompleteReport is returned when a report carries neither a full
// coordinate pair nor an error reason, or carries both.
var ErrIncompleteReport = errors.New("report needs either latitude and longitude or an error")

// Validate checks that exactly one of coordinates or error is present.
func (r Report) Validate() error {
	hasCoords := r.Latitude != nil && r.Longitude != nil
	if hasCoords == (r.Error != "") {
		return ErrIncompleteReport
	}
	return nil
}

// Acquirer replays the report through the regular acquisition path.
func (r Report) Acquirer() Acquirer {
	return AcquirerFunc(func(ctx context.Context) (Reading, error) {
		if r.Error != "" {
			reason, err := ParseErrorReason(r.Error)
			if err != nil {
				return Reading{}, err
			}
			return Reading{}, &DeviceError{Reason: reason}
		}
		if r.Latitude == nil || r.Longitude == nil {
			return Reading{}, &DeviceError{Reason: PositionUnavailable}
		}
		reading := Reading{
			Point:    geo.GeoPoint{Latitude: *r.Latitude, Longitude: *r.Longitude},
			Accuracy: r.Accuracy,
		}
		if r.CapturedAt != nil {
			reading.CapturedAt = r.CapturedAt.UTC()
		}
		return reading, nil
	})
}

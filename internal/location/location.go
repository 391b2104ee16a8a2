package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"geoattend/internal/geo"
)

// DefaultTimeout bounds a single device acquisition.
const DefaultTimeout = 10 * time.Second

// Reading is one device position fix.
type Reading struct {
	Point      geo.GeoPoint `json:"point"`
	Accuracy   float64      `json:"accuracy"`
	CapturedAt time.Time    `json:"captured_at"`
}

// ErrorReason says why a device could not produce a reading.
type ErrorReason string

const (
	PermissionDenied    ErrorReason = "permission_denied"
	PositionUnavailable ErrorReason = "position_unavailable"
	Timeout             ErrorReason = "timeout"
	Unsupported         ErrorReason = "unsupported"
)

// ParseErrorReason maps the wire form of a reason back to an ErrorReason.
func ParseErrorReason(s string) (ErrorReason, error) {
	switch r := ErrorReason(s); r {
	case PermissionDenied, PositionUnavailable, Timeout, Unsupported:
		return r, nil
	}
	return "", fmt.Errorf("unknown device error reason %q", s)
}

// Message is the user-facing text for the reason.
func (r ErrorReason) Message() string {
	switch r {
	case PermissionDenied:
		return "Location permission denied. Please enable location services."
	case PositionUnavailable:
		return "Location information is unavailable."
	case Timeout:
		return "The request to get your location timed out."
	case Unsupported:
		return "Geolocation is not supported by this device."
	}
	return "An unknown error occurred while trying to get your location."
}

// DeviceError is returned by an Acquirer when the platform reports a failure.
type DeviceError struct {
	Reason ErrorReason
}

func (e *DeviceError) Error() string { return "device location: " + string(e.Reason) }

// Capture holds either a Reading or the reason no reading was obtained.
type Capture struct {
	reading *Reading
	reason  ErrorReason
}

// Captured wraps a successful reading.
func Captured(r Reading) Capture { return Capture{reading: &r} }

// Failed wraps a device failure.
func Failed(reason ErrorReason) Capture { return Capture{reason: reason} }

// Reading returns the reading when the capture succeeded.
func (c Capture) Reading() (Reading, bool) {
	if c.reading == nil {
		return Reading{}, false
	}
	return *c.reading, true
}

// Failed returns the failure reason when the capture did not succeed.
// The zero Capture counts as Unsupported.
func (c Capture) Failed() (ErrorReason, bool) {
	if c.reading != nil {
		return "", false
	}
	if c.reason == "" {
		return Unsupported, true
	}
	return c.reason, true
}

// Acquirer produces a device reading.
type Acquirer interface {
	Acquire(ctx context.Context) (Reading, error)
}

// AcquirerFunc adapts a function to Acquirer.
type AcquirerFunc func(ctx context.Context) (Reading, error)

func (f AcquirerFunc) Acquire(ctx context.Context) (Reading, error) { return f(ctx) }

// Acquire runs acq under timeout and folds every failure into one of the
// four device error reasons.
func Acquire(ctx context.Context, acq Acquirer, timeout time.Duration) Capture {
	if acq == nil {
		return Failed(Unsupported)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		reading Reading
		err     error
	}
	done := make(chan result, 1)
	go func() {
		r, err := acq.Acquire(ctx)
		done <- result{reading: r, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return Failed(reasonFor(res.err))
		}
		if res.reading.CapturedAt.IsZero() {
			res.reading.CapturedAt = time.Now().UTC()
		}
		return Captured(res.reading)
	case <-ctx.Done():
		return Failed(reasonFor(ctx.Err()))
	}
}

func reasonFor(err error) ErrorReason {
	var devErr *DeviceError
	switch {
	case errors.As(err, &devErr):
		return devErr.Reason
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	default:
		return PositionUnavailable
	}
}

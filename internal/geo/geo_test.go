package geo

import (
	"errors"
	"math"
	"testing"
)

var samplePoints = []GeoPoint{
	{Latitude: 37.7749, Longitude: -122.4194},
	{Latitude: 40.7128, Longitude: -74.0060},
	{Latitude: -33.8688, Longitude: 151.2093},
	{Latitude: 51.5074, Longitude: -0.1278},
	{Latitude: 0, Longitude: 0},
	{Latitude: 89.9, Longitude: 179.9},
	{Latitude: -89.9, Longitude: -179.9},
	{Latitude: 37.7754, Longitude: -122.4194},
}

func TestDistanceMetersKnownValues(t *testing.T) {
	tests := []struct {
		name string
		a, b GeoPoint
		want float64
		tol  float64
	}{
		{
			name: "identical points",
			a:    GeoPoint{Latitude: 37.7749, Longitude: -122.4194},
			b:    GeoPoint{Latitude: 37.7749, Longitude: -122.4194},
			want: 0,
		},
		{
			name: "antipodal on equator",
			a:    GeoPoint{Latitude: 0, Longitude: 0},
			b:    GeoPoint{Latitude: 0, Longitude: 180},
			want: math.Pi * EarthRadiusMeters,
			tol:  1e-6,
		},
		{
			name: "pole to pole",
			a:    GeoPoint{Latitude: 90, Longitude: 0},
			b:    GeoPoint{Latitude: -90, Longitude: 0},
			want: math.Pi * EarthRadiusMeters,
			tol:  1e-6,
		},
		{
			name: "one degree of latitude",
			a:    GeoPoint{Latitude: 10, Longitude: 20},
			b:    GeoPoint{Latitude: 11, Longitude: 20},
			want: EarthRadiusMeters * math.Pi / 180,
			tol:  1e-6,
		},
		{
			name: "san francisco to new york",
			a:    GeoPoint{Latitude: 37.7749, Longitude: -122.4194},
			b:    GeoPoint{Latitude: 40.7128, Longitude: -74.0060},
			want: 4129086,
			tol:  1000,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceMeters(tt.a, tt.b)
			if math.Abs(got-tt.want) > tt.tol {
				t.Errorf("DistanceMeters() = %v, want %v (±%v)", got, tt.want, tt.tol)
			}
		})
	}
}

func TestDistanceMetersZeroIdentity(t *testing.T) {
	for _, p := range samplePoints {
		if got := DistanceMeters(p, p); got != 0 {
			t.Errorf("DistanceMeters(%v, %v) = %v, want 0", p, p, got)
		}
	}
}

func TestDistanceMetersSymmetry(t *testing.T) {
	for _, a := range samplePoints {
		for _, b := range samplePoints {
			ab, ba := DistanceMeters(a, b), DistanceMeters(b, a)
			if ab != ba {
				t.Errorf("DistanceMeters(%v, %v) = %v, reverse = %v", a, b, ab, ba)
			}
			if ab < 0 {
				t.Errorf("DistanceMeters(%v, %v) = %v, want non-negative", a, b, ab)
			}
		}
	}
}

func TestDistanceMetersTriangleInequality(t *testing.T) {
	const eps = 1e-6
	for _, a := range samplePoints {
		for _, b := range samplePoints {
			for _, c := range samplePoints {
				ac := DistanceMeters(a, c)
				via := DistanceMeters(a, b) + DistanceMeters(b, c)
				if ac > via+eps {
					t.Errorf("d(%v,%v)=%v exceeds d(a,b)+d(b,c)=%v via %v", a, c, ac, via, b)
				}
			}
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       GeoPoint
		wantErr bool
	}{
		{name: "origin", p: GeoPoint{}},
		{name: "bounds inclusive", p: GeoPoint{Latitude: -90, Longitude: 180}},
		{name: "latitude too high", p: GeoPoint{Latitude: 90.0001}, wantErr: true},
		{name: "latitude too low", p: GeoPoint{Latitude: -91}, wantErr: true},
		{name: "longitude too high", p: GeoPoint{Longitude: 180.5}, wantErr: true},
		{name: "longitude too low", p: GeoPoint{Longitude: -181}, wantErr: true},
		{name: "nan latitude", p: GeoPoint{Latitude: math.NaN()}, wantErr: true},
		{name: "infinite longitude", p: GeoPoint{Longitude: math.Inf(1)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPoint) {
				t.Errorf("Validate() error = %v, want wrapping ErrInvalidPoint", err)
			}
		})
	}
}

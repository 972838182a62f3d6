// Package geo holds coordinates and the distance metrics the route orderer is
// parameterised over.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// EarthRadiusKm matches the constant the store search has always used.
const EarthRadiusKm = 6378.0

var ErrInvalidCoordinates = errors.New("invalid coordinates")

// Coordinates is a latitude/longitude pair in degrees.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (c Coordinates) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", c.Latitude, c.Longitude)
}

// Valid reports whether both components are finite and within range.
func (c Coordinates) Valid() bool {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) {
		return false
	}
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// Validate returns ErrInvalidCoordinates wrapped with the offending value.
func (c Coordinates) Validate() error {
	if !c.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidCoordinates, c)
	}
	return nil
}

// Metric is a fixed, symmetric, non-negative distance function.
type Metric interface {
	Name() string
	Distance(a, b Coordinates) float64
}

type haversine struct{}

// Haversine is great-circle distance in kilometres.
var Haversine Metric = haversine{}

func (haversine) Name() string { return "haversine" }

func (haversine) Distance(a, b Coordinates) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := lat2 - lat1
	dLng := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// rounding can push h a hair past 1 for antipodal points
	h = math.Min(1, h)
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

type planar struct{}

// Planar treats the coordinates as points on a plane. Useful for tests and
// for deployments that store projected positions rather than lat/lng.
var Planar Metric = planar{}

func (planar) Name() string { return "planar" }

func (planar) Distance(a, b Coordinates) float64 {
	return math.Hypot(a.Latitude-b.Latitude, a.Longitude-b.Longitude)
}

// MetricByName resolves a configured metric name.
func MetricByName(name string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "haversine", "geodesic":
		return Haversine, nil
	case "planar", "euclidean":
		return Planar, nil
	default:
		return nil, fmt.Errorf("unknown distance metric %q", name)
	}
}

// Bounds is a latitude/longitude box. East may exceed 180 and West may fall
// below -180 when the box crosses the antimeridian.
type Bounds struct {
	EastLongitude float64
	WestLongitude float64
	NorthLatitude float64
	SouthLatitude float64
}

// Contains reports whether c falls inside the box, edges included.
func (b Bounds) Contains(c Coordinates) bool {
	if c.Latitude > b.NorthLatitude || c.Latitude < b.SouthLatitude {
		return false
	}
	for _, lng := range [...]float64{c.Longitude, c.Longitude - 360, c.Longitude + 360} {
		if lng >= b.WestLongitude && lng <= b.EastLongitude {
			return true
		}
	}
	return false
}

// BoundingBox returns the square around center whose half-side is radiusKm.
// It is a cheap pre-filter; Within does the exact check.
func BoundingBox(center Coordinates, radiusKm float64) (Bounds, error) {
	if err := center.Validate(); err != nil {
		return Bounds{}, err
	}
	latDelta := (radiusKm / EarthRadiusKm) * (180.0 / math.Pi)
	lngDelta := latDelta / math.Cos(toRadians(center.Latitude))

	b := Bounds{
		NorthLatitude: math.Min(90, center.Latitude+latDelta),
		SouthLatitude: math.Max(-90, center.Latitude-latDelta),
	}
	// a box reaching a pole spans every longitude
	if b.NorthLatitude >= 90 || b.SouthLatitude <= -90 || !(lngDelta < 180) {
		b.WestLongitude, b.EastLongitude = -180, 180
		return b, nil
	}
	b.WestLongitude = center.Longitude - lngDelta
	b.EastLongitude = center.Longitude + lngDelta
	return b, nil
}

// Within reports whether p lies within radiusKm of center (great-circle).
func Within(center, p Coordinates, radiusKm float64) bool {
	return Haversine.Distance(center, p) <= radiusKm
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

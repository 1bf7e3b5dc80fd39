package geo

import (
	"math"

	"github.com/example/driver-console/internal/models"
)

const earthRadiusMeters = 6371000.0

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// DistanceKm is the great-circle distance between two points in kilometres.
func DistanceKm(a, b models.Coordinates) float64 {
	return Haversine(a.Latitude, a.Longitude, b.Latitude, b.Longitude) / 1000
}

// Valid reports whether c lies inside the WGS84 coordinate range.
func Valid(c models.Coordinates) bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

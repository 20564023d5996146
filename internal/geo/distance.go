// Package geo holds the great-circle helpers shared by tracking, the
// synchronizer and the simulator.
package geo

import (
	"math"

	"github.com/Kwendataxi/kwenda-sub020/internal/models"
	"github.com/mmcloughlin/geohash"
)

const earthRadiusKm = 6371.0 // Earth's radius in kilometers

// Distance returns the haversine distance between two points in kilometres.
func Distance(loc1, loc2 models.Location) float64 {
	lat1 := degreesToRadians(loc1.Lat)
	lon1 := degreesToRadians(loc1.Lon)
	lat2 := degreesToRadians(loc2.Lat)
	lon2 := degreesToRadians(loc2.Lon)

	dlat := lat2 - lat1
	dlon := lon2 - lon1
	a := math.Pow(math.Sin(dlat/2), 2) + math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(dlon/2), 2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

func DistanceMeters(loc1, loc2 models.Location) float64 {
	return Distance(loc1, loc2) * 1000
}

// ETAMinutes converts a distance into whole minutes at a constant average
// speed.
func ETAMinutes(distanceKm, avgSpeedKmh float64) int {
	if distanceKm <= 0 || avgSpeedKmh <= 0 {
		return 0
	}
	return int(math.Round(distanceKm / avgSpeedKmh * 60))
}

// MoveTowards advances from towards to by at most stepKm along the straight
// line between them.
func MoveTowards(from, to models.Location, stepKm float64) models.Location {
	distance := Distance(from, to)
	if distance <= stepKm {
		return to
	}

	ratio := stepKm / distance
	return models.Location{
		Lat: from.Lat + (to.Lat-from.Lat)*ratio,
		Lon: from.Lon + (to.Lon-from.Lon)*ratio,
	}
}

// Offset moves a point by metres north and east.
func Offset(loc models.Location, northM, eastM float64) models.Location {
	dLat := northM / (earthRadiusKm * 1000) * 180 / math.Pi
	dLon := eastM / (earthRadiusKm * 1000 * math.Cos(degreesToRadians(loc.Lat))) * 180 / math.Pi
	return models.Location{Lat: loc.Lat + dLat, Lon: loc.Lon + dLon}
}

// Bearing returns the initial heading from one point to another in degrees.
func Bearing(from, to models.Location) float64 {
	lat1 := degreesToRadians(from.Lat)
	lat2 := degreesToRadians(to.Lat)
	dlon := degreesToRadians(to.Lon - from.Lon)
	y := math.Sin(dlon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dlon)
	return math.Mod(math.Atan2(y, x)*180/math.Pi+360, 360)
}

// Cell returns the geohash of a point at the given precision.
func Cell(loc models.Location, precision uint) string {
	return geohash.EncodeWithPrecision(loc.Lat, loc.Lon, precision)
}

func degreesToRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

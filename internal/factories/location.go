package factories

import (
	"math"
	"math/rand"

	"github.com/Kwendataxi/kwenda-sub020/internal/geo"
	"github.com/Kwendataxi/kwenda-sub020/internal/models"
)

// City is the area generated places fall in.
type City struct {
	Center   models.Location
	RadiusKm float64
}

func CityFromConfig(cfg models.SimulationConfig) City {
	return City{
		Center:   models.Location{Lat: cfg.CityLat, Lon: cfg.CityLon},
		RadiusKm: cfg.UrbanRadius,
	}
}

// randomLocation picks a point inside the city's bounding box, then pulls it
// back inside the radius.
func randomLocation(rng *rand.Rand, city City) models.Location {
	latRange := city.RadiusKm / 111.0 // Approx. conversion from km to degrees
	lonRange := latRange / math.Cos(city.Center.Lat*math.Pi/180.0)

	loc := models.Location{
		Lat: city.Center.Lat + (rng.Float64()*2-1)*latRange,
		Lon: city.Center.Lon + (rng.Float64()*2-1)*lonRange,
	}
	if d := geo.Distance(city.Center, loc); d > city.RadiusKm {
		loc = geo.MoveTowards(city.Center, loc, city.RadiusKm*rng.Float64())
	}
	return loc
}

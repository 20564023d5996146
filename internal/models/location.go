package models

import (
	"fmt"
	"math"
	"time"
)

// LocationStaleAfter is how old a subject's last ping may get before its
// position is no longer trusted.
const LocationStaleAfter = 30 * time.Second

type Location struct {
	Lat float64 `json:"lat" parquet:"name=lat,type=DOUBLE"`
	Lon float64 `json:"lon" parquet:"name=lon,type=DOUBLE"`
}

// Valid reports whether the coordinates are on the globe.
func (l Location) Valid() bool {
	return !math.IsNaN(l.Lat) && !math.IsNaN(l.Lon) &&
		l.Lat >= -90 && l.Lat <= 90 && l.Lon >= -180 && l.Lon <= 180
}

func (l Location) String() string {
	return fmt.Sprintf("%.6f,%.6f", l.Lat, l.Lon)
}

type Movement struct {
	Speed    float64 `json:"speed"`    // m/s
	Heading  float64 `json:"heading"`  // degrees from north
	Accuracy float64 `json:"accuracy"` // metres
}

// SubjectLocation is the last position reported by a tracked device.
type SubjectLocation struct {
	SubjectID string    `json:"subject_id"`
	Location  Location  `json:"location"`
	Movement  Movement  `json:"movement"`
	Online    bool      `json:"online"`
	Available bool      `json:"available"`
	LastPing  time.Time `json:"last_ping"`
}

func (sl *SubjectLocation) IsStale(now time.Time, staleAfter time.Duration) bool {
	return now.Sub(sl.LastPing) > staleAfter
}

// Sample is a single position fix read from a device.
type Sample struct {
	Location Location  `json:"location"`
	Movement Movement  `json:"movement"`
	Battery  float64   `json:"battery"` // 0..1, negative when unknown
	At       time.Time `json:"at"`
}

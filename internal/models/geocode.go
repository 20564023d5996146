package models

import (
	"fmt"
	"time"
)

// GeocodeCacheEntry is a resolved address keyed by coordinates rounded to six
// decimals.
type GeocodeCacheEntry struct {
	Key       string    `json:"key"`
	Address   string    `json:"address"`
	PlaceName string    `json:"place_name"`
	PlaceID   string    `json:"place_id"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (e *GeocodeCacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// GeocodeKey rounds coordinates to six decimals (about 11 cm).
func GeocodeKey(lat, lng float64) string {
	return fmt.Sprintf("%.6f,%.6f", lat, lng)
}

// GeocodeResult is what callers of the resolver receive.
type GeocodeResult struct {
	Address   string        `json:"address"`
	PlaceName string        `json:"place_name"`
	PlaceID   string        `json:"place_id"`
	Source    GeocodeSource `json:"source"`
	Accuracy  Accuracy      `json:"accuracy"`
}

type PlaceSuggestion struct {
	Name     string   `json:"name"`
	Address  string   `json:"address"`
	PlaceID  string   `json:"place_id"`
	Location Location `json:"location"`
}

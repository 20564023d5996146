// Package geocode turns coordinates into human-readable addresses with a TTL
// cache in front of an external provider and a deterministic local fallback
// behind it.
package geocode

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Kwendataxi/kwenda-sub020/internal/geo"
	"github.com/Kwendataxi/kwenda-sub020/internal/metrics"
	"github.com/Kwendataxi/kwenda-sub020/internal/models"
)

const (
	DefaultTTL     = 30 * time.Minute
	DefaultTimeout = 3 * time.Second

	fallbackCellPrecision = 7
)

type Config struct {
	TTL     time.Duration
	Timeout time.Duration
	Shared  SharedCache
	Logger  *slog.Logger
	Now     func() time.Time
}

// Resolver is safe for concurrent use; its cache is the only state shared
// across tracking sessions.
type Resolver struct {
	provider Provider
	zones    *ZoneIndex
	cache    *MemoryCache
	shared   SharedCache
	ttl      time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewResolver builds a resolver. provider may be nil, in which case every
// lookup that misses the cache falls back to the zones.
func NewResolver(provider Provider, zones *ZoneIndex, cfg Config) *Resolver {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Resolver{
		provider: provider,
		zones:    zones,
		cache:    NewMemoryCache(),
		shared:   cfg.Shared,
		ttl:      cfg.TTL,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger.With("component", "geocode"),
		now:      cfg.Now,
	}
}

// Resolve never fails: when the provider cannot answer, a zone based result
// with low accuracy is returned instead. Fallback results are not cached.
func (r *Resolver) Resolve(ctx context.Context, lat, lng float64) models.GeocodeResult {
	key := models.GeocodeKey(lat, lng)
	now := r.now()

	if e, ok := r.cache.Get(key, now); ok {
		return r.hit(e)
	}
	if e := r.sharedGet(ctx, key, now); e != nil {
		r.cache.Put(*e)
		return r.hit(*e)
	}

	if r.provider != nil {
		pctx, cancel := context.WithTimeout(ctx, r.timeout)
		res, err := r.provider.ReverseGeocode(pctx, lat, lng)
		cancel()
		if err == nil {
			entry := models.GeocodeCacheEntry{
				Key:       key,
				Address:   res.Address,
				PlaceName: res.PlaceName,
				PlaceID:   res.PlaceID,
				CachedAt:  now,
				ExpiresAt: now.Add(r.ttl),
			}
			r.cache.Put(entry)
			r.sharedSet(ctx, entry)
			metrics.GeocodeRequestsTotal.WithLabelValues(string(models.SourceProvider)).Inc()
			return models.GeocodeResult{
				Address:   res.Address,
				PlaceName: res.PlaceName,
				PlaceID:   res.PlaceID,
				Source:    models.SourceProvider,
				Accuracy:  models.AccuracyHigh,
			}
		}
		r.logger.Warn("reverse geocoding failed, using zone fallback", "key", key, "error", err)
	}

	metrics.GeocodeRequestsTotal.WithLabelValues(string(models.SourceFallback)).Inc()
	return r.fallback(models.Location{Lat: lat, Lon: lng})
}

// SearchPlaces forwards a free-text search to the provider with the same
// timeout as reverse lookups.
func (r *Resolver) SearchPlaces(ctx context.Context, query string, near *models.Location) ([]models.PlaceSuggestion, error) {
	if r.provider == nil {
		return nil, fmt.Errorf("%w: no provider configured", models.ErrProviderError)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	places, err := r.provider.SearchPlaces(ctx, query, near)
	if err != nil {
		return nil, fmt.Errorf("search places %q: %w", query, err)
	}
	return places, nil
}

func (r *Resolver) hit(e models.GeocodeCacheEntry) models.GeocodeResult {
	metrics.GeocodeRequestsTotal.WithLabelValues(string(models.SourceCache)).Inc()
	return models.GeocodeResult{
		Address:   e.Address,
		PlaceName: e.PlaceName,
		PlaceID:   e.PlaceID,
		Source:    models.SourceCache,
		Accuracy:  models.AccuracyHigh,
	}
}

func (r *Resolver) sharedGet(ctx context.Context, key string, now time.Time) *models.GeocodeCacheEntry {
	if r.shared == nil {
		return nil
	}
	e, err := r.shared.Get(ctx, key)
	if err != nil {
		r.logger.Warn("shared geocode cache read failed", "key", key, "error", err)
		return nil
	}
	if e == nil || e.Expired(now) {
		return nil
	}
	return e
}

func (r *Resolver) sharedSet(ctx context.Context, e models.GeocodeCacheEntry) {
	if r.shared == nil {
		return
	}
	if err := r.shared.Set(ctx, e); err != nil {
		r.logger.Warn("shared geocode cache write failed", "key", e.Key, "error", err)
	}
}

func (r *Resolver) fallback(loc models.Location) models.GeocodeResult {
	if d, ok := r.zones.Locate(loc); ok {
		return models.GeocodeResult{
			Address:   fmt.Sprintf("%s, %s", d.Name, d.City),
			PlaceName: d.Name,
			PlaceID:   "zone:" + d.ID,
			Source:    models.SourceFallback,
			Accuracy:  models.AccuracyLow,
		}
	}
	cell := geo.Cell(loc, fallbackCellPrecision)
	return models.GeocodeResult{
		Address:   fmt.Sprintf("%.5f, %.5f", loc.Lat, loc.Lon),
		PlaceName: "Unmapped area",
		PlaceID:   "geohash:" + cell,
		Source:    models.SourceFallback,
		Accuracy:  models.AccuracyLow,
	}
}

// CacheSize reports how many entries the local tier holds, expired ones
// included until they are next read.
func (r *Resolver) CacheSize() int {
	return r.cache.Len()
}

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Kwendataxi/kwenda-sub020/internal/geocode"
	"github.com/Kwendataxi/kwenda-sub020/internal/metrics"
	"github.com/Kwendataxi/kwenda-sub020/internal/models"
	"github.com/Kwendataxi/kwenda-sub020/internal/repositories"
	"github.com/Kwendataxi/kwenda-sub020/internal/repositories/memory"
	"github.com/Kwendataxi/kwenda-sub020/internal/repositories/postgres"
	"github.com/Kwendataxi/kwenda-sub020/internal/tracking"
)

const (
	connectAttempts = 10
	connectDelay    = 2 * time.Second
)

// openBackend returns the configured backend and a func releasing it.
func openBackend(ctx context.Context, cfg *models.Config) (repositories.Backend, func(), error) {
	switch cfg.Backend.Driver {
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.Backend.DatabaseURL, connectAttempts, connectDelay)
		if err != nil {
			return repositories.Backend{}, nil, err
		}
		return postgres.NewBackend(pool, cfg.Backend.NotifyChannel), pool.Close, nil
	default:
		logger.Warn("using the in-memory backend, nothing is shared with other processes")
		return memory.NewStore().Backend(), func() {}, nil
	}
}

// newResolver builds the geocode resolver, with the Redis tier when enabled.
// An unreachable Redis only costs the shared tier.
func newResolver(ctx context.Context, cfg *models.Config) (*geocode.Resolver, func(), error) {
	districts := geocode.KinshasaDistricts
	if path := cfg.Geocoding.ZonesFile; path != "" {
		loaded, err := geocode.LoadDistricts(path)
		if err != nil {
			return nil, nil, err
		}
		districts = loaded
	}
	zones, err := geocode.NewZoneIndex(districts)
	if err != nil {
		return nil, nil, err
	}

	var provider geocode.Provider
	if cfg.Geocoding.ProviderURL != "" {
		provider = geocode.NewHTTPProvider(cfg.Geocoding.ProviderURL, cfg.Geocoding.APIKey)
	}

	rc := geocode.Config{
		TTL:     cfg.Geocoding.CacheTTL,
		Timeout: cfg.Geocoding.Timeout,
		Logger:  logger,
	}
	cleanup := func() {}
	if cfg.Redis.Enabled {
		cache, err := geocode.NewRedisCache(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("shared geocode cache unavailable", "addr", cfg.Redis.Addr, "error", err)
		} else {
			rc.Shared = cache
			cleanup = func() { _ = cache.Close() }
		}
	}
	return geocode.NewResolver(provider, zones, rc), cleanup, nil
}

// newMirror returns the Kafka transmitter when Kafka is enabled, nil otherwise.
func newMirror(cfg *models.Config) (tracking.Transmitter, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	k, err := tracking.NewKafkaTransmitter(cfg.Kafka)
	if err != nil {
		return nil, nil, err
	}
	return k, func() {
		if err := k.Close(); err != nil {
			logger.Warn("failed to close kafka producer", "error", err)
		}
	}, nil
}

// newTransmitter writes to the backend and mirrors to Kafka when enabled.
func newTransmitter(cfg *models.Config, backend repositories.Backend) (tracking.Transmitter, func(), error) {
	primary := tracking.NewBackendTransmitter(backend.Locations)
	mirror, cleanup, err := newMirror(cfg)
	if err != nil {
		return nil, nil, err
	}
	if mirror == nil {
		return primary, cleanup, nil
	}
	return &tracking.TeeTransmitter{Primary: primary, Mirror: mirror, Logger: logger}, cleanup, nil
}

// serveOps runs the metrics and health server in the background until ctx
// ends. An empty address disables it.
func serveOps(ctx context.Context, addr string, health metrics.HealthFunc) {
	if addr == "" {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, addr, metrics.NewRouter(health)); err != nil {
			logger.Error("ops server failed", "addr", addr, "error", err)
		}
	}()
}

// parseLocation reads "lat,lon".
func parseLocation(s string) (models.Location, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return models.Location{}, fmt.Errorf("location %q: want lat,lon", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return models.Location{}, fmt.Errorf("location %q: %w", s, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return models.Location{}, fmt.Errorf("location %q: %w", s, err)
	}
	loc := models.Location{Lat: lat, Lon: lon}
	if !loc.Valid() {
		return models.Location{}, fmt.Errorf("location %q is off the globe", s)
	}
	return loc, nil
}

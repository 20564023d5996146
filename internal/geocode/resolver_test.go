package geocode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Kwendataxi/kwenda-sub020/internal/logging"
	"github.com/Kwendataxi/kwenda-sub020/internal/models"
)

type fakeProvider struct {
	mu    sync.Mutex
	calls int
	err   error
	delay time.Duration
}

func (p *fakeProvider) ReverseGeocode(ctx context.Context, lat, lng float64) (*models.GeocodeResult, error) {
	p.mu.Lock()
	p.calls++
	err, delay := p.err, p.delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", models.ErrProviderTimeout, ctx.Err())
		}
	}
	if err != nil {
		return nil, err
	}
	return &models.GeocodeResult{
		Address:   fmt.Sprintf("Avenue %.4f", lat),
		PlaceName: "Boulevard du 30 Juin",
		PlaceID:   "place-1",
	}, nil
}

func (p *fakeProvider) SearchPlaces(ctx context.Context, query string, near *models.Location) ([]models.PlaceSuggestion, error) {
	if p.err != nil {
		return nil, p.err
	}
	return []models.PlaceSuggestion{{Name: query}}, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestResolver(t *testing.T, p Provider, clk *clock, shared SharedCache) *Resolver {
	t.Helper()
	zones, err := NewZoneIndex(KinshasaDistricts)
	if err != nil {
		t.Fatal(err)
	}
	return NewResolver(p, zones, Config{
		TTL:     30 * time.Minute,
		Timeout: 50 * time.Millisecond,
		Shared:  shared,
		Logger:  logging.Discard(),
		Now:     clk.Now,
	})
}

func TestResolveCachesProviderResults(t *testing.T) {
	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	p := &fakeProvider{}
	r := newTestResolver(t, p, clk, nil)
	ctx := context.Background()

	first := r.Resolve(ctx, -4.3012345, 15.3109876)
	if first.Source != models.SourceProvider || first.Accuracy != models.AccuracyHigh {
		t.Fatalf("first = %+v", first)
	}

	// same key after rounding to six decimals
	second := r.Resolve(ctx, -4.30123449, 15.31098761)
	if second.Source != models.SourceCache || second.Address != first.Address {
		t.Fatalf("second = %+v", second)
	}
	if p.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1", p.callCount())
	}
}

func TestResolveReResolvesAfterTTL(t *testing.T) {
	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	p := &fakeProvider{}
	r := newTestResolver(t, p, clk, nil)
	ctx := context.Background()

	r.Resolve(ctx, -4.30, 15.31)
	clk.Advance(29 * time.Minute)
	if got := r.Resolve(ctx, -4.30, 15.31); got.Source != models.SourceCache {
		t.Fatalf("before expiry source = %s", got.Source)
	}

	clk.Advance(time.Minute)
	if got := r.Resolve(ctx, -4.30, 15.31); got.Source != models.SourceProvider {
		t.Fatalf("after expiry source = %s", got.Source)
	}
	if p.callCount() != 2 {
		t.Errorf("provider calls = %d, want 2", p.callCount())
	}
}

func TestExpiredEntryWithFailingProviderFallsBack(t *testing.T) {
	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	p := &fakeProvider{}
	r := newTestResolver(t, p, clk, nil)
	ctx := context.Background()

	r.Resolve(ctx, -4.30, 15.31)
	clk.Advance(31 * time.Minute)
	p.mu.Lock()
	p.err = models.ErrProviderError
	p.mu.Unlock()

	got := r.Resolve(ctx, -4.30, 15.31)
	if got.Source != models.SourceFallback {
		t.Fatalf("stale entry served: %+v", got)
	}
	if r.CacheSize() != 0 {
		t.Errorf("expired entry not evicted on read, cache size %d", r.CacheSize())
	}
}

func TestFallbackIsDeterministicAndNotCached(t *testing.T) {
	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	tests := []struct {
		name    string
		err     error
		delay   time.Duration
		lat     float64
		lng     float64
		placeID string
	}{
		{"provider error in Gombe", models.ErrProviderError, 0, -4.300, 15.310, "zone:gombe"},
		{"timeout in overlapping communes", nil, time.Second, -4.320, 15.310, "zone:kinshasa"},
		{"outside every district", models.ErrProviderError, 0, -11.66, 27.48, "geohash:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{err: tt.err, delay: tt.delay}
			r := newTestResolver(t, p, clk, nil)

			a := r.Resolve(context.Background(), tt.lat, tt.lng)
			b := r.Resolve(context.Background(), tt.lat, tt.lng)

			if a != b {
				t.Fatalf("fallback not deterministic: %+v vs %+v", a, b)
			}
			if a.Source != models.SourceFallback || a.Accuracy != models.AccuracyLow {
				t.Errorf("result = %+v", a)
			}
			if !strings.HasPrefix(a.PlaceID, tt.placeID) {
				t.Errorf("place id = %q, want prefix %q", a.PlaceID, tt.placeID)
			}
			if p.callCount() != 2 {
				t.Errorf("fallback was cached: provider calls = %d", p.callCount())
			}
		})
	}
}

func TestNilProviderUsesZones(t *testing.T) {
	clk := &clock{now: time.Now()}
	r := newTestResolver(t, nil, clk, nil)
	if got := r.Resolve(context.Background(), -4.300, 15.310); got.PlaceName != "Gombe" {
		t.Errorf("got %+v", got)
	}
	if _, err := r.SearchPlaces(context.Background(), "marché", nil); !errors.Is(err, models.ErrProviderError) {
		t.Errorf("search without provider err = %v", err)
	}
}

type mapShared struct {
	mu      sync.Mutex
	entries map[string]models.GeocodeCacheEntry
	sets    int
}

func (m *mapShared) Get(ctx context.Context, key string) (*models.GeocodeCacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *mapShared) Set(ctx context.Context, e models.GeocodeCacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Key] = e
	m.sets++
	return nil
}

func TestSharedTier(t *testing.T) {
	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	shared := &mapShared{entries: map[string]models.GeocodeCacheEntry{}}
	ctx := context.Background()

	writer := newTestResolver(t, &fakeProvider{}, clk, shared)
	writer.Resolve(ctx, -4.30, 15.31)
	if shared.sets != 1 {
		t.Fatalf("shared sets = %d", shared.sets)
	}

	p := &fakeProvider{}
	reader := newTestResolver(t, p, clk, shared)
	if got := reader.Resolve(ctx, -4.30, 15.31); got.Source != models.SourceCache {
		t.Fatalf("shared hit source = %s", got.Source)
	}
	if p.callCount() != 0 {
		t.Error("provider called despite shared hit")
	}

	clk.Advance(time.Hour)
	other := newTestResolver(t, p, clk, shared)
	if got := other.Resolve(ctx, -4.30, 15.31); got.Source != models.SourceProvider {
		t.Errorf("expired shared entry served: %s", got.Source)
	}

	p.err = models.ErrProviderError
	fresh := newTestResolver(t, p, clk, shared)
	fresh.Resolve(ctx, 10, 10)
	if _, ok := shared.entries[models.GeocodeKey(10, 10)]; ok {
		t.Error("fallback result written to the shared tier")
	}
}

func TestConcurrentResolve(t *testing.T) {
	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	r := newTestResolver(t, &fakeProvider{}, clk, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Resolve(context.Background(), -4.30+float64(j%5)*0.001, 15.31)
			}
		}(i)
	}
	wg.Wait()
	if r.CacheSize() != 5 {
		t.Errorf("cache size = %d, want 5", r.CacheSize())
	}
}

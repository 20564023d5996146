package simulator

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/Kwendataxi/kwenda-sub020/internal/geo"
	"github.com/Kwendataxi/kwenda-sub020/internal/models"
)

// Fix error per requested accuracy, in metres.
var accuracyNoise = map[models.Accuracy]float64{
	models.AccuracyHigh:     3,
	models.AccuracyBalanced: 15,
	models.AccuracyLow:      50,
}

type RouteConfig struct {
	SpeedKmh float64
	// Speedup multiplies the distance covered per unit of wall time.
	Speedup float64
	// Battery is the starting charge in [0,1]; negative means unknown.
	Battery float64
	// Drain is the charge lost per read.
	Drain            float64
	PermissionDenied bool
	Seed             int64
	Now              func() time.Time
}

// RouteSampler pretends to be a phone travelling along waypoints at a
// constant speed.
type RouteSampler struct {
	cfg RouteConfig
	rng *rand.Rand

	mu        sync.Mutex
	pos       models.Location
	waypoints []models.Location
	battery   float64
	last      time.Time
	opened    bool
	travelled float64
}

func NewRouteSampler(start models.Location, cfg RouteConfig) *RouteSampler {
	if cfg.SpeedKmh <= 0 {
		cfg.SpeedKmh = 25
	}
	if cfg.Speedup < 1 {
		cfg.Speedup = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RouteSampler{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		pos:     start,
		battery: cfg.Battery,
	}
}

func (r *RouteSampler) Open(ctx context.Context) error {
	if r.cfg.PermissionDenied {
		return fmt.Errorf("route sampler: %w", models.ErrPermissionDenied)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = true
	r.last = r.cfg.Now()
	return nil
}

// SetRoute replaces the remaining waypoints.
func (r *RouteSampler) SetRoute(waypoints ...models.Location) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advanceLocked()
	r.waypoints = append([]models.Location(nil), waypoints...)
}

func (r *RouteSampler) Read(ctx context.Context, accuracy models.Accuracy) (models.Sample, error) {
	if err := ctx.Err(); err != nil {
		return models.Sample{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.opened {
		return models.Sample{}, fmt.Errorf("route sampler is not open")
	}

	from := r.pos
	r.advanceLocked()

	var speed, heading float64
	if len(r.waypoints) > 0 {
		speed = r.cfg.SpeedKmh / 3.6
		heading = geo.Bearing(from, r.waypoints[0])
	}
	noise := accuracyNoise[accuracy]
	fix := geo.Offset(r.pos, r.rng.NormFloat64()*noise/2, r.rng.NormFloat64()*noise/2)

	if r.battery >= 0 {
		r.battery -= r.cfg.Drain
		if r.battery < 0 {
			r.battery = 0
		}
	}
	return models.Sample{
		Location: fix,
		Movement: models.Movement{Speed: speed, Heading: heading, Accuracy: noise},
		Battery:  r.battery,
		At:       r.last,
	}, nil
}

// advanceLocked moves along the route by the distance covered since the
// previous call.
func (r *RouteSampler) advanceLocked() {
	now := r.cfg.Now()
	if r.last.IsZero() {
		r.last = now
		return
	}
	budget := r.cfg.SpeedKmh * now.Sub(r.last).Hours() * r.cfg.Speedup
	r.last = now

	for budget > 0 && len(r.waypoints) > 0 {
		next := r.waypoints[0]
		d := geo.Distance(r.pos, next)
		if d > budget {
			r.pos = geo.MoveTowards(r.pos, next, budget)
			r.travelled += budget
			return
		}
		r.pos = next
		r.travelled += d
		budget -= d
		r.waypoints = r.waypoints[1:]
	}
}

func (r *RouteSampler) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = false
	return nil
}

// Arrived reports whether every waypoint has been reached.
func (r *RouteSampler) Arrived() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advanceLocked()
	return len(r.waypoints) == 0
}

// Position is the true position, without fix noise.
func (r *RouteSampler) Position() models.Location {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advanceLocked()
	return r.pos
}

// Travelled is the distance covered so far in kilometres.
func (r *RouteSampler) Travelled() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.travelled
}

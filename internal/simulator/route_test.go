package simulator

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/Kwendataxi/kwenda-sub020/internal/geo"
	"github.com/Kwendataxi/kwenda-sub020/internal/models"
)

var gombe = models.Location{Lat: -4.3087, Lon: 15.3032}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func openSampler(t *testing.T, cfg RouteConfig) (*RouteSampler, *clock) {
	t.Helper()
	clk := newClock()
	cfg.Now = clk.Now
	r := NewRouteSampler(gombe, cfg)
	if err := r.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return r, clk
}

func TestRouteSamplerPermissionDenied(t *testing.T) {
	r := NewRouteSampler(gombe, RouteConfig{PermissionDenied: true})
	if err := r.Open(context.Background()); !errors.Is(err, models.ErrPermissionDenied) {
		t.Fatalf("Open error = %v, want ErrPermissionDenied", err)
	}
	if _, err := r.Read(context.Background(), models.AccuracyHigh); err == nil {
		t.Fatal("Read on an unopened sampler succeeded")
	}
}

func TestRouteSamplerTravel(t *testing.T) {
	r, clk := openSampler(t, RouteConfig{SpeedKmh: 36, Battery: -1})
	target := geo.Offset(gombe, 1000, 0)
	want := geo.Distance(gombe, target)
	r.SetRoute(target)

	clk.Advance(50 * time.Second) // 500 m at 10 m/s
	if r.Arrived() {
		t.Fatal("arrived halfway")
	}
	if left := geo.Distance(r.Position(), target); math.Abs(left-want/2) > 0.01 {
		t.Errorf("remaining = %.3f km, want about %.3f", left, want/2)
	}

	s, err := r.Read(context.Background(), models.AccuracyHigh)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if math.Abs(s.Movement.Speed-10) > 1e-9 {
		t.Errorf("speed = %v m/s, want 10", s.Movement.Speed)
	}
	if s.Movement.Heading > 1 && s.Movement.Heading < 359 {
		t.Errorf("heading = %v, want north", s.Movement.Heading)
	}
	if !s.At.Equal(clk.Now()) {
		t.Errorf("At = %v, want %v", s.At, clk.Now())
	}

	clk.Advance(time.Minute)
	if !r.Arrived() {
		t.Fatal("not arrived after covering the whole route")
	}
	if r.Position() != target {
		t.Errorf("position = %v, want %v", r.Position(), target)
	}
	if math.Abs(r.Travelled()-want) > 1e-6 {
		t.Errorf("travelled = %.6f km, want %.6f", r.Travelled(), want)
	}

	s, _ = r.Read(context.Background(), models.AccuracyHigh)
	if s.Movement.Speed != 0 {
		t.Errorf("speed at rest = %v, want 0", s.Movement.Speed)
	}
}

func TestRouteSamplerSpeedup(t *testing.T) {
	r, clk := openSampler(t, RouteConfig{SpeedKmh: 36, Speedup: 10, Battery: -1})
	target := geo.Offset(gombe, 2000, 0)
	r.SetRoute(target)

	clk.Advance(10 * time.Second)
	if got := r.Travelled(); got != 0 {
		t.Fatalf("travelled before reading position = %v", got)
	}
	r.Position()
	if got := r.Travelled(); math.Abs(got-1) > 1e-6 {
		t.Errorf("travelled = %.6f km, want 1", got)
	}
}

func TestRouteSamplerMultipleWaypoints(t *testing.T) {
	r, clk := openSampler(t, RouteConfig{SpeedKmh: 36, Battery: -1})
	first := geo.Offset(gombe, 300, 0)
	second := geo.Offset(first, 0, 300)
	r.SetRoute(first, second)

	clk.Advance(45 * time.Second)
	if r.Arrived() {
		t.Fatal("arrived before the last waypoint")
	}
	if d := geo.DistanceMeters(r.Position(), second); math.Abs(d-150) > 2 {
		t.Errorf("distance to last waypoint = %.1f m, want about 150", d)
	}
	clk.Advance(20 * time.Second)
	if !r.Arrived() {
		t.Fatal("not arrived")
	}
}

func TestRouteSamplerNoise(t *testing.T) {
	tests := []struct {
		accuracy models.Accuracy
		want     float64
	}{
		{models.AccuracyHigh, 3},
		{models.AccuracyBalanced, 15},
		{models.AccuracyLow, 50},
	}
	for _, tt := range tests {
		t.Run(string(tt.accuracy), func(t *testing.T) {
			r, _ := openSampler(t, RouteConfig{Battery: -1, Seed: 7})
			for i := 0; i < 20; i++ {
				s, err := r.Read(context.Background(), tt.accuracy)
				if err != nil {
					t.Fatalf("Read: %v", err)
				}
				if s.Movement.Accuracy != tt.want {
					t.Errorf("accuracy = %v, want %v", s.Movement.Accuracy, tt.want)
				}
				if d := geo.DistanceMeters(s.Location, gombe); d > 10*tt.want {
					t.Errorf("fix %.1f m away from the true position", d)
				}
			}
		})
	}
}

func TestRouteSamplerBattery(t *testing.T) {
	tests := []struct {
		name    string
		battery float64
		drain   float64
		want    []float64
	}{
		{"drains to zero", 0.01, 0.004, []float64{0.006, 0.002, 0, 0}},
		{"unknown stays unknown", -1, 0.004, []float64{-1, -1}},
		{"no drain", 0.5, 0, []float64{0.5, 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := openSampler(t, RouteConfig{Battery: tt.battery, Drain: tt.drain})
			for i, want := range tt.want {
				s, err := r.Read(context.Background(), models.AccuracyLow)
				if err != nil {
					t.Fatalf("Read: %v", err)
				}
				if math.Abs(s.Battery-want) > 1e-9 {
					t.Errorf("read %d: battery = %v, want %v", i, s.Battery, want)
				}
			}
		})
	}
}

func TestRouteSamplerReadCancelled(t *testing.T) {
	r, _ := openSampler(t, RouteConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Read(ctx, models.AccuracyHigh); !errors.Is(err, context.Canceled) {
		t.Fatalf("Read error = %v, want context.Canceled", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := r.Read(context.Background(), models.AccuracyHigh); err == nil {
		t.Fatal("Read after Close succeeded")
	}
}

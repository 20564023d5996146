package geo

import (
	"math"
	"testing"

	"github.com/Kwendataxi/kwenda-sub020/internal/models"
)

func TestDistance(t *testing.T) {
	gombe := models.Location{Lat: -4.3087, Lon: 15.3032}
	tests := []struct {
		name string
		to   models.Location
		want float64
		tol  float64
	}{
		{"same point", gombe, 0, 1e-9},
		{"one degree of latitude", models.Location{Lat: gombe.Lat + 1, Lon: gombe.Lon}, 111.19, 0.01},
		{"ten km north", Offset(gombe, 10000, 0), 10, 1e-6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Distance(gombe, tt.to); math.Abs(got-tt.want) > tt.tol {
				t.Errorf("Distance = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestETAMinutes(t *testing.T) {
	tests := []struct {
		km, kmh float64
		want    int
	}{
		{0, 30, 0},
		{10, 30, 20},
		{1, 30, 2},
		{0.2, 30, 0},
		{5, 0, 0},
	}
	for _, tt := range tests {
		if got := ETAMinutes(tt.km, tt.kmh); got != tt.want {
			t.Errorf("ETAMinutes(%v, %v) = %d, want %d", tt.km, tt.kmh, got, tt.want)
		}
	}
}

func TestMoveTowards(t *testing.T) {
	from := models.Location{Lat: -4.3, Lon: 15.3}
	to := Offset(from, 1000, 0)

	step := MoveTowards(from, to, 0.25)
	if d := Distance(from, step); math.Abs(d-0.25) > 1e-3 {
		t.Errorf("moved %v km, want 0.25", d)
	}
	if got := MoveTowards(from, to, 5); got != to {
		t.Errorf("expected to reach destination, got %v", got)
	}
}

func TestBearing(t *testing.T) {
	from := models.Location{Lat: 0, Lon: 0}
	if b := Bearing(from, models.Location{Lat: 1, Lon: 0}); math.Abs(b) > 1e-9 {
		t.Errorf("north bearing = %v", b)
	}
	if b := Bearing(from, models.Location{Lat: 0, Lon: 1}); math.Abs(b-90) > 1e-9 {
		t.Errorf("east bearing = %v", b)
	}
}

func TestCell(t *testing.T) {
	a := Cell(models.Location{Lat: -4.3087, Lon: 15.3032}, 6)
	b := Cell(models.Location{Lat: -4.30871, Lon: 15.30321}, 6)
	if len(a) != 6 || a != b {
		t.Errorf("cells %q and %q should match", a, b)
	}
}

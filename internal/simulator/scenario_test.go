package simulator

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/Kwendataxi/kwenda-sub020/internal/archive"
	"github.com/Kwendataxi/kwenda-sub020/internal/logging"
	"github.com/Kwendataxi/kwenda-sub020/internal/models"
	"github.com/Kwendataxi/kwenda-sub020/internal/repositories/memory"
)

type recordingArchiver struct {
	mu      sync.Mutex
	records []archive.Record
}

func (a *recordingArchiver) Archive(ctx context.Context, rec archive.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

func (a *recordingArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

func scenarioConfig(t *testing.T) *models.Config {
	t.Helper()
	v := viper.New()
	v.Set("simulation.speedup", 600)
	v.Set("simulation.urban_radius", 1.0)
	v.Set("simulation.seed", 7)
	cfg, err := models.LoadConfigFrom(v, "")
	if err != nil {
		t.Fatalf("LoadConfigFrom: %v", err)
	}
	return cfg
}

func runScenario(t *testing.T, opts Options) *Result {
	t.Helper()
	opts.Logger = logging.Discard()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := NewScenario(scenarioConfig(t), opts).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func TestScenarioDeliversOrder(t *testing.T) {
	archiver := &recordingArchiver{}
	var progress bytes.Buffer
	res := runScenario(t, Options{Archiver: archiver, Progress: &progress})

	if res.Order == nil || res.Order.Status != models.OrderStatusDelivered {
		t.Fatalf("final order = %+v, want delivered", res.Order)
	}
	if !res.State.Terminal {
		t.Error("state is not terminal")
	}
	for _, status := range []models.OrderStatus{
		models.OrderStatusPending,
		models.OrderStatusConfirmed,
		models.OrderStatusDriverAssigned,
		models.OrderStatusPickedUp,
		models.OrderStatusInTransit,
		models.OrderStatusDelivered,
	} {
		if _, ok := res.Order.StatusTimes[status]; !ok {
			t.Errorf("no time recorded for %s", status)
		}
	}
	if res.Order.AssignedSubjectID == "" {
		t.Error("order was never assigned")
	}
	if len(res.State.Messages) < 2 {
		t.Errorf("messages = %d, want at least 2", len(res.State.Messages))
	}
	if res.Sync.Duplicates == 0 {
		t.Error("replayed message was not reported as a duplicate")
	}
	if res.Courier.Updates == 0 {
		t.Error("courier never transmitted a position")
	}
	if res.Pickup.Source != models.SourceFallback || res.Pickup.Address == "" {
		t.Errorf("pickup geocode = %+v, want a fallback address", res.Pickup)
	}
	if res.RouteKm <= 0 {
		t.Errorf("route = %v km", res.RouteKm)
	}
	if got := archiver.count(); got != 1 {
		t.Errorf("archived %d times, want 1", got)
	}
	if progress.Len() == 0 {
		t.Error("no progress written")
	}
}

func TestScenarioSurvivesOutage(t *testing.T) {
	store := memory.NewStore()
	res := runScenario(t, Options{Store: store, Outage: time.Minute})

	if res.Order.Status != models.OrderStatusDelivered {
		t.Fatalf("status = %s, want delivered", res.Order.Status)
	}
	if res.Sync.Reloads == 0 {
		t.Error("no reload after the backend came back")
	}
	if res.Courier.NetworkErrors == 0 {
		t.Error("courier saw no network errors during the outage")
	}

	loc, err := store.Backend().Locations.Get(context.Background(), res.Order.AssignedSubjectID)
	if err != nil {
		t.Fatalf("courier location: %v", err)
	}
	if !loc.Online {
		t.Error("courier location is not online")
	}
}

func TestScenarioCancelledBeforeAssignment(t *testing.T) {
	archiver := &recordingArchiver{}
	res := runScenario(t, Options{Archiver: archiver, CancelAfter: 20 * time.Second})

	if res.Order.Status != models.OrderStatusCancelled {
		t.Fatalf("status = %s, want cancelled", res.Order.Status)
	}
	if res.Order.AssignedSubjectID != "" {
		t.Errorf("cancelled order assigned to %s", res.Order.AssignedSubjectID)
	}
	if res.Courier.Updates != 0 {
		t.Errorf("courier updates = %d, want 0", res.Courier.Updates)
	}
	if got := archiver.count(); got != 1 {
		t.Errorf("archived %d times, want 1", got)
	}
}

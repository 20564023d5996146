package delivery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Kwendataxi/kwenda-sub020/internal/archive"
	"github.com/Kwendataxi/kwenda-sub020/internal/logging"
	"github.com/Kwendataxi/kwenda-sub020/internal/models"
	"github.com/Kwendataxi/kwenda-sub020/internal/repositories"
	"github.com/Kwendataxi/kwenda-sub020/internal/repositories/memory"
)

var (
	gombe    = models.Location{Lat: -4.3050, Lon: 15.3100}
	limete   = models.Location{Lat: -4.3500, Lon: 15.3500}
	kintambo = models.Location{Lat: -4.3200, Lon: 15.2600}
)

func testConfig() Config {
	return Config{
		PollInterval:   20 * time.Millisecond,
		StaleAfter:     30 * time.Second,
		RequestTimeout: time.Second,
		RetryInitial:   5 * time.Millisecond,
		RetryMax:       20 * time.Millisecond,
		Logger:         logging.Discard(),
	}
}

func seedOrder(t *testing.T, store *memory.Store, status models.OrderStatus, subjectID string) *models.DeliveryOrder {
	t.Helper()
	now := time.Now().UTC()
	o := &models.DeliveryOrder{
		ID:                "order-1",
		Status:            status,
		Pickup:            models.Place{Address: "Marché Central", Location: gombe},
		Dropoff:           models.Place{Address: "Boulevard Lumumba", Location: limete},
		RecipientID:       "recipient-1",
		AssignedSubjectID: subjectID,
		PriceEstimate:     4500,
		StatusTimes:       map[models.OrderStatus]time.Time{status: now},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := store.Backend().Orders.Create(context.Background(), o); err != nil {
		t.Fatal(err)
	}
	return o
}

func seedSubject(t *testing.T, store *memory.Store, id string, loc models.Location, lastPing time.Time) {
	t.Helper()
	b := store.Backend()
	ctx := context.Background()
	if err := b.Subjects.Create(ctx, &models.Subject{ID: id, Name: "Jean " + id, Role: models.RoleCourier, VehicleType: "moto"}); err != nil {
		t.Fatal(err)
	}
	if err := b.Locations.Upsert(ctx, &models.SubjectLocation{SubjectID: id, Location: loc, Online: true, LastPing: lastPing}); err != nil {
		t.Fatal(err)
	}
}

func startSync(t *testing.T, backend repositories.Backend, cfg Config) *Synchronizer {
	t.Helper()
	s := New("order-1", backend, cfg)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

// awaitState reads published states until cond holds.
func awaitState(t *testing.T, s *Synchronizer, cond func(State) bool) State {
	t.Helper()
	if st := s.Snapshot(); cond(st) {
		return st
	}
	timeout := time.After(2 * time.Second)
	for {
		select {
		case st, ok := <-s.Updates():
			if !ok {
				st = s.Snapshot()
				if cond(st) {
					return st
				}
				t.Fatalf("updates closed, last state %+v", st)
			}
			if cond(st) {
				return st
			}
		case <-timeout:
			t.Fatalf("condition not reached, last state %+v", s.Snapshot())
		}
	}
}

func connected(st State) bool { return st.Connection == models.ConnectionConnected }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitDone(t *testing.T, s *Synchronizer) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("synchronizer did not finish")
	}
}

// silentFeed accepts subscriptions but never delivers anything, like a
// push channel that silently stopped working.
type silentFeed struct{}

func (silentFeed) Subscribe(ctx context.Context, filter models.ChangeFilter) (repositories.Subscription, error) {
	ready := make(chan struct{})
	close(ready)
	return silentSubscription{ready: ready}, nil
}

type silentSubscription struct{ ready chan struct{} }

func (silentSubscription) Events() <-chan models.ChangeEvent { return nil }
func (s silentSubscription) Ready() <-chan struct{}          { return s.ready }
func (silentSubscription) Err() error                        { return nil }
func (silentSubscription) Close() error                      { return nil }

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

func (a *recordingArchiver) Records() []archive.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]archive.Record(nil), a.records...)
}

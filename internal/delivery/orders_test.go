package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Kwendataxi/kwenda-sub020/internal/models"
	"github.com/Kwendataxi/kwenda-sub020/internal/repositories/memory"
)

func frozen() func() time.Time {
	t := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func TestOrderServiceCreate(t *testing.T) {
	store := memory.NewStore()
	svc := NewOrderService(store.Backend().Orders, frozen())
	ctx := context.Background()

	o := &models.DeliveryOrder{Pickup: models.Place{Location: gombe}, Dropoff: models.Place{Location: limete}}
	if err := svc.Create(ctx, o); err != nil {
		t.Fatal(err)
	}
	if o.ID == "" || o.Status != models.OrderStatusPending {
		t.Errorf("order = %+v", o)
	}
	if _, ok := o.StatusTimes[models.OrderStatusPending]; !ok {
		t.Error("pending time missing")
	}

	tests := []struct {
		name  string
		order *models.DeliveryOrder
	}{
		{"non pending", &models.DeliveryOrder{Status: models.OrderStatusConfirmed, Pickup: models.Place{Location: gombe}, Dropoff: models.Place{Location: limete}}},
		{"bad dropoff", &models.DeliveryOrder{Pickup: models.Place{Location: gombe}, Dropoff: models.Place{Location: models.Location{Lat: 120}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := svc.Create(ctx, tt.order); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestOrderServiceLifecycle(t *testing.T) {
	store := memory.NewStore()
	svc := NewOrderService(store.Backend().Orders, frozen())
	ctx := context.Background()
	o := &models.DeliveryOrder{ID: "order-1", Pickup: models.Place{Location: gombe}, Dropoff: models.Place{Location: limete}}
	if err := svc.Create(ctx, o); err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		name    string
		run     func() (*models.DeliveryOrder, error)
		want    models.OrderStatus
		wantErr bool
	}{
		{"skip ahead", func() (*models.DeliveryOrder, error) { return svc.Transition(ctx, "order-1", models.OrderStatusPickedUp) }, "", true},
		{"confirm", func() (*models.DeliveryOrder, error) { return svc.Transition(ctx, "order-1", models.OrderStatusConfirmed) }, models.OrderStatusConfirmed, false},
		{"confirm again", func() (*models.DeliveryOrder, error) { return svc.Transition(ctx, "order-1", models.OrderStatusConfirmed) }, models.OrderStatusConfirmed, false},
		{"assigned without subject", func() (*models.DeliveryOrder, error) {
			return svc.Transition(ctx, "order-1", models.OrderStatusDriverAssigned)
		}, "", true},
		{"assign", func() (*models.DeliveryOrder, error) { return svc.Assign(ctx, "order-1", "courier-1") }, models.OrderStatusDriverAssigned, false},
		{"reassign", func() (*models.DeliveryOrder, error) { return svc.Assign(ctx, "order-1", "courier-2") }, models.OrderStatusDriverAssigned, false},
		{"pick up", func() (*models.DeliveryOrder, error) { return svc.Transition(ctx, "order-1", models.OrderStatusPickedUp) }, models.OrderStatusPickedUp, false},
		{"assign after pickup", func() (*models.DeliveryOrder, error) { return svc.Assign(ctx, "order-1", "courier-3") }, "", true},
		{"back to pending", func() (*models.DeliveryOrder, error) { return svc.Transition(ctx, "order-1", models.OrderStatusPending) }, "", true},
		{"cancel", func() (*models.DeliveryOrder, error) { return svc.Transition(ctx, "order-1", models.OrderStatusCancelled) }, models.OrderStatusCancelled, false},
		{"deliver cancelled", func() (*models.DeliveryOrder, error) { return svc.Transition(ctx, "order-1", models.OrderStatusDelivered) }, "", true},
	}

	var last time.Time
	for _, step := range steps {
		got, err := step.run()
		if step.wantErr {
			if !errors.Is(err, models.ErrIllegalTransition) {
				t.Fatalf("%s: err = %v, want illegal transition", step.name, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if got.Status != step.want {
			t.Fatalf("%s: status = %s, want %s", step.name, got.Status, step.want)
		}
		if got.UpdatedAt.Before(last) {
			t.Fatalf("%s: UpdatedAt went backwards", step.name)
		}
		last = got.UpdatedAt
	}

	final, err := store.Backend().Orders.Get(ctx, "order-1")
	if err != nil {
		t.Fatal(err)
	}
	if final.AssignedSubjectID != "courier-2" || len(final.StatusTimes) != 5 {
		t.Errorf("final = %+v", final)
	}
	if !final.UpdatedAt.After(final.CreatedAt) {
		t.Error("frozen clock did not yield increasing versions")
	}
}

func TestOrderServiceMissingOrder(t *testing.T) {
	svc := NewOrderService(memory.NewStore().Backend().Orders, nil)
	if _, err := svc.Transition(context.Background(), "nope", models.OrderStatusConfirmed); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

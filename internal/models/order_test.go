package models

import (
	"errors"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{"next step", OrderStatusPending, OrderStatusConfirmed, true},
		{"same status", OrderStatusInTransit, OrderStatusInTransit, true},
		{"skip forward", OrderStatusConfirmed, OrderStatusPickedUp, true},
		{"cancel pending", OrderStatusPending, OrderStatusCancelled, true},
		{"cancel in transit", OrderStatusInTransit, OrderStatusCancelled, true},
		{"backwards", OrderStatusInTransit, OrderStatusConfirmed, false},
		{"out of delivered", OrderStatusDelivered, OrderStatusPending, false},
		{"delivered to cancelled", OrderStatusDelivered, OrderStatusCancelled, false},
		{"out of cancelled", OrderStatusCancelled, OrderStatusConfirmed, false},
		{"unknown target", OrderStatusPending, OrderStatus("teleported"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestValidateTransitionRequiresAssignment(t *testing.T) {
	current := &DeliveryOrder{ID: "o1", Status: OrderStatusConfirmed}
	next := current.Clone()
	next.Status = OrderStatusPickedUp

	if err := current.ValidateTransition(next); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}

	next.AssignedSubjectID = "courier-1"
	if err := current.ValidateTransition(next); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStatusNextWalksTheDeliveryPath(t *testing.T) {
	var path []OrderStatus
	for s := OrderStatusPending; ; {
		path = append(path, s)
		n, ok := s.Next()
		if !ok {
			break
		}
		s = n
	}
	want := []OrderStatus{
		OrderStatusPending, OrderStatusConfirmed, OrderStatusDriverAssigned,
		OrderStatusPickedUp, OrderStatusInTransit, OrderStatusDelivered,
	}
	if len(path) != len(want) {
		t.Fatalf("path = %v, want %v", path, want)
	}
	for i := range want {
		if path[i] != want[i] {
			t.Fatalf("path[%d] = %s, want %s", i, path[i], want[i])
		}
	}
	if !path[len(path)-1].IsTerminal() {
		t.Error("delivered should be terminal")
	}
}

func TestStatusReached(t *testing.T) {
	tests := []struct {
		s, other OrderStatus
		want     bool
	}{
		{OrderStatusPickedUp, OrderStatusPickedUp, true},
		{OrderStatusDelivered, OrderStatusPickedUp, true},
		{OrderStatusDriverAssigned, OrderStatusPickedUp, false},
		{OrderStatusCancelled, OrderStatusPending, false},
	}
	for _, tt := range tests {
		if got := tt.s.Reached(tt.other); got != tt.want {
			t.Errorf("%s.Reached(%s) = %v, want %v", tt.s, tt.other, got, tt.want)
		}
	}
}

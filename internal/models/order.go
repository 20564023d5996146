package models

import (
	"fmt"
	"time"
)

type Place struct {
	Address  string   `json:"address"`
	Location Location `json:"location"`
}

// DeliveryOrder is the backend's record of a single delivery. The mirror kept
// on a device is never written back except through the order lifecycle.
type DeliveryOrder struct {
	ID                string                    `json:"id"`
	Status            OrderStatus               `json:"status"`
	Pickup            Place                     `json:"pickup"`
	Dropoff           Place                     `json:"dropoff"`
	RecipientID       string                    `json:"recipient_id"`
	AssignedSubjectID string                    `json:"assigned_subject_id,omitempty"`
	PriceEstimate     float64                   `json:"price_estimate"`
	PriceActual       float64                   `json:"price_actual,omitempty"`
	StatusTimes       map[OrderStatus]time.Time `json:"status_times,omitempty"`
	CreatedAt         time.Time                 `json:"created_at"`
	UpdatedAt         time.Time                 `json:"updated_at"`
}

func (o *DeliveryOrder) Clone() *DeliveryOrder {
	if o == nil {
		return nil
	}
	c := *o
	if o.StatusTimes != nil {
		c.StatusTimes = make(map[OrderStatus]time.Time, len(o.StatusTimes))
		for k, v := range o.StatusTimes {
			c.StatusTimes[k] = v
		}
	}
	return &c
}

// Equal compares the fields a mirror cares about.
func (o *DeliveryOrder) Equal(other *DeliveryOrder) bool {
	if o == nil || other == nil {
		return o == other
	}
	return o.ID == other.ID &&
		o.Status == other.Status &&
		o.Pickup == other.Pickup &&
		o.Dropoff == other.Dropoff &&
		o.RecipientID == other.RecipientID &&
		o.AssignedSubjectID == other.AssignedSubjectID &&
		o.PriceEstimate == other.PriceEstimate &&
		o.PriceActual == other.PriceActual &&
		o.UpdatedAt.Equal(other.UpdatedAt)
}

var statusRank = map[OrderStatus]int{
	OrderStatusPending:        0,
	OrderStatusConfirmed:      1,
	OrderStatusDriverAssigned: 2,
	OrderStatusPickedUp:       3,
	OrderStatusInTransit:      4,
	OrderStatusDelivered:      5,
}

var nextStatus = map[OrderStatus]OrderStatus{
	OrderStatusPending:        OrderStatusConfirmed,
	OrderStatusConfirmed:      OrderStatusDriverAssigned,
	OrderStatusDriverAssigned: OrderStatusPickedUp,
	OrderStatusPickedUp:       OrderStatusInTransit,
	OrderStatusInTransit:      OrderStatusDelivered,
}

func (s OrderStatus) Valid() bool {
	if s == OrderStatusCancelled {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Next returns the status that directly follows s on the delivery path.
func (s OrderStatus) Next() (OrderStatus, bool) {
	n, ok := nextStatus[s]
	return n, ok
}

// RequiresAssignment reports whether an order in status s must carry an
// assigned subject.
func (s OrderStatus) RequiresAssignment() bool {
	r, ok := statusRank[s]
	return ok && r >= statusRank[OrderStatusDriverAssigned]
}

// Reached reports whether s is other or a later step on the delivery path.
// A cancelled order has reached nothing.
func (s OrderStatus) Reached(other OrderStatus) bool {
	rs, ok := statusRank[s]
	ro, ok2 := statusRank[other]
	return ok && ok2 && rs >= ro
}

// CanTransition reports whether an order may move from one status to another.
// Forward moves may skip steps when a reload observes several changes at once;
// moves backwards or out of a terminal status never succeed.
func CanTransition(from, to OrderStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	if from.IsTerminal() {
		return false
	}
	if to == OrderStatusCancelled {
		return true
	}
	return statusRank[to] > statusRank[from]
}

// ValidateTransition checks that next is a legal successor of o.
func (o *DeliveryOrder) ValidateTransition(next *DeliveryOrder) error {
	if !CanTransition(o.Status, next.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.Status, next.Status)
	}
	if next.Status.RequiresAssignment() && next.AssignedSubjectID == "" {
		return fmt.Errorf("%w: %s without an assigned subject", ErrIllegalTransition, next.Status)
	}
	return nil
}

type Subject struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	Role        Role   `json:"role"`
	VehicleType string `json:"vehicle_type,omitempty"`
}

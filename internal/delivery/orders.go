package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/lucsky/cuid"

	"github.com/Kwendataxi/kwenda-sub020/internal/models"
	"github.com/Kwendataxi/kwenda-sub020/internal/repositories"
)

// OrderService is the writing side of the order lifecycle. Every change is
// checked against the status graph and stamped before it is stored.
type OrderService struct {
	orders repositories.OrderRepository
	now    func() time.Time
}

func NewOrderService(orders repositories.OrderRepository, now func() time.Time) *OrderService {
	if now == nil {
		now = time.Now
	}
	return &OrderService{orders: orders, now: now}
}

func (s *OrderService) Create(ctx context.Context, order *models.DeliveryOrder) error {
	if order.ID == "" {
		order.ID = cuid.New()
	}
	if order.Status == "" {
		order.Status = models.OrderStatusPending
	}
	if order.Status != models.OrderStatusPending {
		return fmt.Errorf("%w: new order in status %s", models.ErrIllegalTransition, order.Status)
	}
	if !order.Pickup.Location.Valid() || !order.Dropoff.Location.Valid() {
		return fmt.Errorf("order %s: invalid pickup or dropoff", order.ID)
	}

	now := s.now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now
	order.StatusTimes = map[models.OrderStatus]time.Time{models.OrderStatusPending: now}
	if err := s.orders.Create(ctx, order); err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

// Transition moves an order one step along the delivery path, or cancels
// it. Moving to the current status is a no-op.
func (s *OrderService) Transition(ctx context.Context, id string, to models.OrderStatus) (*models.DeliveryOrder, error) {
	cur, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status == to {
		return cur, nil
	}
	if next, ok := cur.Status.Next(); to != models.OrderStatusCancelled && (!ok || next != to) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrIllegalTransition, cur.Status, to)
	}

	next := cur.Clone()
	next.Status = to
	if err := s.write(ctx, cur, next); err != nil {
		return nil, err
	}
	return next, nil
}

// Assign gives the order to a subject. An order that is not yet picked up
// may be reassigned; assigning a confirmed order advances it to
// driver_assigned.
func (s *OrderService) Assign(ctx context.Context, id, subjectID string) (*models.DeliveryOrder, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("assign order %s: empty subject", id)
	}
	cur, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status.IsTerminal() || cur.Status.Reached(models.OrderStatusPickedUp) {
		return nil, fmt.Errorf("%w: cannot assign an order in status %s", models.ErrIllegalTransition, cur.Status)
	}

	next := cur.Clone()
	next.AssignedSubjectID = subjectID
	if cur.Status == models.OrderStatusConfirmed {
		next.Status = models.OrderStatusDriverAssigned
	}
	if err := s.write(ctx, cur, next); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *OrderService) write(ctx context.Context, cur, next *models.DeliveryOrder) error {
	if err := cur.ValidateTransition(next); err != nil {
		return err
	}

	// UpdatedAt orders versions of the row, so it must always move forward.
	now := s.now().UTC()
	if !now.After(cur.UpdatedAt) {
		now = cur.UpdatedAt.Add(time.Millisecond)
	}
	next.UpdatedAt = now
	if next.Status != cur.Status {
		if next.StatusTimes == nil {
			next.StatusTimes = make(map[models.OrderStatus]time.Time)
		}
		next.StatusTimes[next.Status] = now
	}
	if err := s.orders.Update(ctx, next); err != nil {
		return fmt.Errorf("update order %s: %w", next.ID, err)
	}
	return nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Kwendataxi/kwenda-sub020/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*models.DeliveryOrder, error) {
	query := `
        SELECT id, status,
            pickup_address, pickup_lat, pickup_lon,
            dropoff_address, dropoff_lat, dropoff_lon,
            recipient_id, COALESCE(assigned_subject_id, ''),
            price_estimate, COALESCE(price_actual, 0),
            status_times, created_at, updated_at
        FROM orders
        WHERE id = $1
    `

	var o models.DeliveryOrder
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&o.ID,
		&o.Status,
		&o.Pickup.Address,
		&o.Pickup.Location.Lat,
		&o.Pickup.Location.Lon,
		&o.Dropoff.Address,
		&o.Dropoff.Location.Lat,
		&o.Dropoff.Location.Lon,
		&o.RecipientID,
		&o.AssignedSubjectID,
		&o.PriceEstimate,
		&o.PriceActual,
		&o.StatusTimes,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return &o, nil
}

func (r *OrderRepository) Create(ctx context.Context, order *models.DeliveryOrder) error {
	query := `
        INSERT INTO orders (
            id, status,
            pickup_address, pickup_lat, pickup_lon,
            dropoff_address, dropoff_lat, dropoff_lon,
            recipient_id, assigned_subject_id,
            price_estimate, price_actual,
            status_times, created_at, updated_at
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9,
            NULLIF($10, ''), $11, NULLIF($12, 0), $13, $14, $15
        )
    `

	_, err := r.pool.Exec(ctx, query, orderArgs(order)...)
	if err != nil {
		return fmt.Errorf("create order %s: %w", order.ID, err)
	}
	return nil
}

func (r *OrderRepository) Update(ctx context.Context, order *models.DeliveryOrder) error {
	query := `
        UPDATE orders SET
            status = $2,
            pickup_address = $3, pickup_lat = $4, pickup_lon = $5,
            dropoff_address = $6, dropoff_lat = $7, dropoff_lon = $8,
            recipient_id = $9, assigned_subject_id = NULLIF($10, ''),
            price_estimate = $11, price_actual = NULLIF($12, 0),
            status_times = $13, created_at = $14, updated_at = $15
        WHERE id = $1
    `

	tag, err := r.pool.Exec(ctx, query, orderArgs(order)...)
	if err != nil {
		return fmt.Errorf("update order %s: %w", order.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", order.ID, models.ErrNotFound)
	}
	return nil
}

func orderArgs(o *models.DeliveryOrder) []any {
	statusTimes := o.StatusTimes
	if statusTimes == nil {
		statusTimes = map[models.OrderStatus]time.Time{}
	}
	return []any{
		o.ID,
		string(o.Status),
		o.Pickup.Address,
		o.Pickup.Location.Lat,
		o.Pickup.Location.Lon,
		o.Dropoff.Address,
		o.Dropoff.Location.Lat,
		o.Dropoff.Location.Lon,
		o.RecipientID,
		o.AssignedSubjectID,
		o.PriceEstimate,
		o.PriceActual,
		statusTimes,
		o.CreatedAt,
		o.UpdatedAt,
	}
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Kwendataxi/kwenda-sub020/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SubjectRepository struct {
	pool *pgxpool.Pool
}

func NewSubjectRepository(pool *pgxpool.Pool) *SubjectRepository {
	return &SubjectRepository{pool: pool}
}

func (r *SubjectRepository) Get(ctx context.Context, id string) (*models.Subject, error) {
	var s models.Subject
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, phone, role, COALESCE(vehicle_type, '') FROM subjects WHERE id = $1`, id,
	).Scan(&s.ID, &s.Name, &s.Phone, &s.Role, &s.VehicleType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("subject %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get subject %s: %w", id, err)
	}
	return &s, nil
}

func (r *SubjectRepository) Create(ctx context.Context, subject *models.Subject) error {
	query := `
        INSERT INTO subjects (id, name, phone, role, vehicle_type)
        VALUES ($1, $2, $3, $4, NULLIF($5, ''))
        ON CONFLICT (id) DO UPDATE SET
            name = EXCLUDED.name,
            phone = EXCLUDED.phone,
            role = EXCLUDED.role,
            vehicle_type = EXCLUDED.vehicle_type
    `
	_, err := r.pool.Exec(ctx, query,
		subject.ID, subject.Name, subject.Phone, string(subject.Role), subject.VehicleType)
	if err != nil {
		return fmt.Errorf("create subject %s: %w", subject.ID, err)
	}
	return nil
}

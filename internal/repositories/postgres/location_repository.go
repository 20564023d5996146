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

type LocationRepository struct {
	pool *pgxpool.Pool
}

func NewLocationRepository(pool *pgxpool.Pool) *LocationRepository {
	return &LocationRepository{pool: pool}
}

func (r *LocationRepository) Get(ctx context.Context, subjectID string) (*models.SubjectLocation, error) {
	query := `
        SELECT subject_id, lat, lon, speed, heading, accuracy, online, available, last_ping
        FROM subject_locations
        WHERE subject_id = $1
    `

	var l models.SubjectLocation
	err := r.pool.QueryRow(ctx, query, subjectID).Scan(
		&l.SubjectID,
		&l.Location.Lat,
		&l.Location.Lon,
		&l.Movement.Speed,
		&l.Movement.Heading,
		&l.Movement.Accuracy,
		&l.Online,
		&l.Available,
		&l.LastPing,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("location of %s: %w", subjectID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get location of %s: %w", subjectID, err)
	}
	return &l, nil
}

// Upsert writes a reported position. A report older than the stored one is
// ignored.
func (r *LocationRepository) Upsert(ctx context.Context, loc *models.SubjectLocation) error {
	query := `
        INSERT INTO subject_locations (
            subject_id, lat, lon, speed, heading, accuracy, online, available, last_ping
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (subject_id) DO UPDATE SET
            lat = EXCLUDED.lat,
            lon = EXCLUDED.lon,
            speed = EXCLUDED.speed,
            heading = EXCLUDED.heading,
            accuracy = EXCLUDED.accuracy,
            online = EXCLUDED.online,
            available = EXCLUDED.available,
            last_ping = EXCLUDED.last_ping
        WHERE subject_locations.last_ping <= EXCLUDED.last_ping
    `

	_, err := r.pool.Exec(ctx, query,
		loc.SubjectID,
		loc.Location.Lat,
		loc.Location.Lon,
		loc.Movement.Speed,
		loc.Movement.Heading,
		loc.Movement.Accuracy,
		loc.Online,
		loc.Available,
		loc.LastPing,
	)
	if err != nil {
		return fmt.Errorf("upsert location of %s: %w", loc.SubjectID, err)
	}
	return nil
}

func (r *LocationRepository) Touch(ctx context.Context, subjectID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
        UPDATE subject_locations
        SET last_ping = GREATEST(last_ping, $2), online = true
        WHERE subject_id = $1
    `, subjectID, at)
	if err != nil {
		return fmt.Errorf("touch location of %s: %w", subjectID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("location of %s: %w", subjectID, models.ErrNotFound)
	}
	return nil
}

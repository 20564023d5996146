package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Kwendataxi/kwenda-sub020/internal/repositories"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pool and waits until the database answers, retrying while
// it comes up.
func Connect(ctx context.Context, databaseURL string, attempts int, delay time.Duration) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	for i := 0; ; i++ {
		err = pool.Ping(ctx)
		if err == nil {
			slog.Info("connected to the database")
			return pool, nil
		}
		if i+1 >= attempts {
			break
		}
		slog.Warn("waiting for the database to be ready", "attempt", i+1, "error", err)
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	pool.Close()
	return nil, fmt.Errorf("error pinging database: %w", err)
}

// NewBackend wires the pgx repositories and the LISTEN based change feed.
func NewBackend(pool *pgxpool.Pool, channel string) repositories.Backend {
	orders := NewOrderRepository(pool)
	locations := NewLocationRepository(pool)
	chats := NewChatRepository(pool)
	return repositories.Backend{
		Orders:    orders,
		Subjects:  NewSubjectRepository(pool),
		Locations: locations,
		Chats:     chats,
		Feed:      NewFeed(pool, channel, orders, locations, chats),
	}
}

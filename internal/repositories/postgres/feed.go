package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Kwendataxi/kwenda-sub020/internal/models"
	"github.com/Kwendataxi/kwenda-sub020/internal/repositories"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// notification is the envelope the notify_change trigger publishes. It only
// names the row; the feed reads the row itself so payloads stay under the
// NOTIFY size limit.
type notification struct {
	Table string            `json:"table"`
	Op    models.ChangeOp   `json:"op"`
	RowID string            `json:"row_id"`
	Keys  map[string]string `json:"keys"`
	At    time.Time         `json:"at"`
}

// Feed turns LISTEN notifications into change events. Each subscription holds
// its own pooled connection for as long as it is open.
type Feed struct {
	pool      *pgxpool.Pool
	channel   string
	orders    *OrderRepository
	locations *LocationRepository
	chats     *ChatRepository
}

func NewFeed(pool *pgxpool.Pool, channel string, orders *OrderRepository, locations *LocationRepository, chats *ChatRepository) *Feed {
	return &Feed{
		pool:      pool,
		channel:   channel,
		orders:    orders,
		locations: locations,
		chats:     chats,
	}
}

func (f *Feed) Subscribe(ctx context.Context, filter models.ChangeFilter) (repositories.Subscription, error) {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w: %v", models.ErrNetworkUnavailable, err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{f.channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen on %s: %w: %v", f.channel, models.ErrNetworkUnavailable, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		events: make(chan models.ChangeEvent, 64),
		ready:  make(chan struct{}),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	close(sub.ready)

	go f.listen(subCtx, conn, filter, sub)
	return sub, nil
}

func (f *Feed) listen(ctx context.Context, conn *pgxpool.Conn, filter models.ChangeFilter, sub *subscription) {
	defer close(sub.done)
	defer close(sub.events)
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(cleanupCtx, "UNLISTEN *"); err != nil {
			// a connection in an unknown state must not go back to the pool
			conn.Hijack().Close(cleanupCtx)
			return
		}
		conn.Release()
	}()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				sub.setErr(fmt.Errorf("%w: %v", models.ErrNetworkUnavailable, err))
			}
			return
		}

		ev, err := parseNotification(n.Payload)
		if err != nil {
			slog.Warn("discarding malformed notification", "channel", n.Channel, "error", err)
			continue
		}
		if !filter.Matches(ev) {
			continue
		}

		row, err := f.load(ctx, ev)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			slog.Warn("failed to load changed row", "table", ev.Table, "row_id", ev.RowID, "error", err)
			continue
		}
		if ev.Payload, err = json.Marshal(row); err != nil {
			continue
		}

		select {
		case sub.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func parseNotification(payload string) (models.ChangeEvent, error) {
	var env notification
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return models.ChangeEvent{}, fmt.Errorf("%w: %v", models.ErrMalformed, err)
	}
	if env.Table == "" || env.RowID == "" {
		return models.ChangeEvent{}, fmt.Errorf("%w: notification without table or row", models.ErrMalformed)
	}
	return models.ChangeEvent{Table: env.Table, Op: env.Op, RowID: env.RowID, Keys: env.Keys, At: env.At}, nil
}

func (f *Feed) load(ctx context.Context, ev models.ChangeEvent) (any, error) {
	switch ev.Table {
	case models.TableOrders:
		return f.orders.Get(ctx, ev.RowID)
	case models.TableSubjectLocations:
		return f.locations.Get(ctx, ev.RowID)
	case models.TableChatMessages:
		return f.chats.get(ctx, ev.RowID)
	default:
		return nil, fmt.Errorf("unknown table %q", ev.Table)
	}
}

type subscription struct {
	events chan models.ChangeEvent
	ready  chan struct{}
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (s *subscription) Events() <-chan models.ChangeEvent { return s.events }
func (s *subscription) Ready() <-chan struct{}            { return s.ready }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *subscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}

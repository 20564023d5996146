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

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

const chatColumns = `id, order_id, sender_id, sender_role, text, sent_at, read_at`

func (r *ChatRepository) ListByOrder(ctx context.Context, orderID string) ([]models.ChatMessage, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+chatColumns+` FROM chat_messages WHERE order_id = $1 ORDER BY sent_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list chat of %s: %w", orderID, err)
	}
	defer rows.Close()

	var messages []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.OrderID, &m.SenderID, &m.SenderRole, &m.Text, &m.SentAt, &m.ReadAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *ChatRepository) get(ctx context.Context, id string) (*models.ChatMessage, error) {
	var m models.ChatMessage
	err := r.pool.QueryRow(ctx, `SELECT `+chatColumns+` FROM chat_messages WHERE id = $1`, id).
		Scan(&m.ID, &m.OrderID, &m.SenderID, &m.SenderRole, &m.Text, &m.SentAt, &m.ReadAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("chat message %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get chat message %s: %w", id, err)
	}
	return &m, nil
}

func (r *ChatRepository) Insert(ctx context.Context, msg *models.ChatMessage) error {
	_, err := r.pool.Exec(ctx, `
        INSERT INTO chat_messages (`+chatColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, msg.ID, msg.OrderID, msg.SenderID, string(msg.SenderRole), msg.Text, msg.SentAt, msg.ReadAt)
	if err != nil {
		return fmt.Errorf("insert chat message %s: %w", msg.ID, err)
	}
	return nil
}

// MarkRead sets read_at once; later calls keep the first timestamp.
func (r *ChatRepository) MarkRead(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE chat_messages SET read_at = COALESCE(read_at, $2) WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark chat message %s read: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chat message %s: %w", id, models.ErrNotFound)
	}
	return nil
}

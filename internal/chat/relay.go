// Package chat keeps the message thread of one delivery order in step with
// the backend.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lucsky/cuid"

	"github.com/Kwendataxi/kwenda-sub020/internal/metrics"
	"github.com/Kwendataxi/kwenda-sub020/internal/models"
	"github.com/Kwendataxi/kwenda-sub020/internal/repositories"
)

var ErrNoSender = errors.New("no chat sender in context")

type senderKey struct{}

// Sender identifies who is writing. It travels in the request context so a
// relay shared by several parties never guesses the author.
type Sender struct {
	ID   string
	Role models.Role
}

func WithSender(ctx context.Context, id string, role models.Role) context.Context {
	return context.WithValue(ctx, senderKey{}, Sender{ID: id, Role: role})
}

func SenderFrom(ctx context.Context) (Sender, bool) {
	s, ok := ctx.Value(senderKey{}).(Sender)
	return s, ok && s.ID != ""
}

type Config struct {
	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

// Relay holds the ordered thread of an order. Messages are append-only; the
// only field that may change afterwards is ReadAt.
type Relay struct {
	orderID string
	repo    repositories.ChatRepository
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string

	mu       sync.Mutex
	messages []models.ChatMessage
	ids      map[string]struct{}
	version  uint64
}

func NewRelay(orderID string, repo repositories.ChatRepository, cfg Config) *Relay {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = cuid.New
	}
	return &Relay{
		orderID: orderID,
		repo:    repo,
		logger:  cfg.Logger.With("component", "chat", "order_id", orderID),
		now:     cfg.Now,
		newID:   cfg.NewID,
		ids:     make(map[string]struct{}),
	}
}

// Send persists a message from the sender carried by ctx and appends it to
// the local thread.
func (r *Relay) Send(ctx context.Context, text string) (models.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.ChatMessage{}, models.ErrEmptyMessage
	}
	sender, ok := SenderFrom(ctx)
	if !ok {
		return models.ChatMessage{}, ErrNoSender
	}

	msg := models.ChatMessage{
		ID:         r.newID(),
		OrderID:    r.orderID,
		SenderID:   sender.ID,
		SenderRole: sender.Role,
		Text:       text,
		SentAt:     r.now().UTC(),
	}
	if err := r.repo.Insert(ctx, &msg); err != nil {
		return models.ChatMessage{}, fmt.Errorf("send chat message: %w", err)
	}
	metrics.ChatMessagesTotal.WithLabelValues("sent").Inc()
	r.add(msg)
	return msg, nil
}

// Receive appends msg unless a message with the same ID is already present.
// It reports whether the thread changed.
func (r *Relay) Receive(msg models.ChatMessage) bool {
	if msg.OrderID != r.orderID {
		r.logger.Warn("chat message for another order ignored", "message_id", msg.ID, "message_order_id", msg.OrderID)
		return false
	}
	if !r.add(msg) {
		return false
	}
	metrics.ChatMessagesTotal.WithLabelValues("received").Inc()
	return true
}

func (r *Relay) add(msg models.ChatMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[msg.ID]; ok {
		return false
	}

	i := sort.Search(len(r.messages), func(i int) bool {
		return before(msg, r.messages[i])
	})
	r.messages = append(r.messages, models.ChatMessage{})
	copy(r.messages[i+1:], r.messages[i:])
	r.messages[i] = msg
	r.ids[msg.ID] = struct{}{}
	r.version++
	return true
}

// ApplyUpdate merges an inbound row update. Only ReadAt is taken from it,
// and only when the local copy is still unread.
func (r *Relay) ApplyUpdate(msg models.ChatMessage) bool {
	if msg.ReadAt == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(msg.ID)
	if i < 0 || r.messages[i].ReadAt != nil {
		return false
	}
	at := *msg.ReadAt
	r.messages[i].ReadAt = &at
	r.version++
	return true
}

// MarkRead records that the local party has read message id.
func (r *Relay) MarkRead(ctx context.Context, id string) error {
	at := r.now().UTC()
	if err := r.repo.MarkRead(ctx, id, at); err != nil {
		return fmt.Errorf("mark chat message %s read: %w", id, err)
	}
	r.ApplyUpdate(models.ChatMessage{ID: id, ReadAt: &at})
	return nil
}

// Load merges a fetched history into the thread.
func (r *Relay) Load(msgs []models.ChatMessage) {
	for _, m := range msgs {
		if !r.Receive(m) {
			r.ApplyUpdate(m)
		}
	}
}

// Messages returns a copy of the thread in SentAt order.
func (r *Relay) Messages() []models.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ChatMessage, len(r.messages))
	copy(out, r.messages)
	return out
}

// Unread returns messages not yet read that were written by someone other
// than reader.
func (r *Relay) Unread(reader string) []models.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ChatMessage
	for _, m := range r.messages {
		if m.SenderID != reader && !m.IsRead() {
			out = append(out, m)
		}
	}
	return out
}

// Version increases on every change to the thread.
func (r *Relay) Version() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

func (r *Relay) indexOf(id string) int {
	if _, ok := r.ids[id]; !ok {
		return -1
	}
	for i := range r.messages {
		if r.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func before(a, b models.ChatMessage) bool {
	if a.SentAt.Equal(b.SentAt) {
		return a.ID < b.ID
	}
	return a.SentAt.Before(b.SentAt)
}

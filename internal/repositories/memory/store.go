// Package memory is an in-process backend. It keeps every table in maps and
// pushes row changes through a Feed the same way the database triggers do.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Kwendataxi/kwenda-sub020/internal/models"
	"github.com/Kwendataxi/kwenda-sub020/internal/repositories"
)

type Store struct {
	mu        sync.RWMutex
	orders    map[string]*models.DeliveryOrder
	subjects  map[string]*models.Subject
	locations map[string]*models.SubjectLocation
	chats     map[string]*models.ChatMessage

	feed    *Feed
	offline atomic.Bool
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{
		orders:    make(map[string]*models.DeliveryOrder),
		subjects:  make(map[string]*models.Subject),
		locations: make(map[string]*models.SubjectLocation),
		chats:     make(map[string]*models.ChatMessage),
		feed:      NewFeed(64),
		now:       time.Now,
	}
}

// Backend exposes the store through the repository contracts.
func (s *Store) Backend() repositories.Backend {
	return repositories.Backend{
		Orders:    &OrderRepository{s: s},
		Subjects:  &SubjectRepository{s: s},
		Locations: &LocationRepository{s: s},
		Chats:     &ChatRepository{s: s},
		Feed:      s,
	}
}

func (s *Store) Feed() *Feed { return s.feed }

// SetOffline makes every call fail with models.ErrNetworkUnavailable. Going
// offline also drops open subscriptions.
func (s *Store) SetOffline(offline bool) {
	s.offline.Store(offline)
	if offline {
		s.feed.Disconnect(models.ErrNetworkUnavailable)
	}
}

func (s *Store) Subscribe(ctx context.Context, filter models.ChangeFilter) (repositories.Subscription, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.feed.Subscribe(ctx, filter)
}

func (s *Store) check() error {
	if s.offline.Load() {
		return fmt.Errorf("memory backend: %w", models.ErrNetworkUnavailable)
	}
	return nil
}

func (s *Store) publish(table string, op models.ChangeOp, rowID string, keys map[string]string, row any) {
	payload, err := json.Marshal(row)
	if err != nil {
		return
	}
	s.feed.Publish(models.ChangeEvent{
		Table:   table,
		Op:      op,
		RowID:   rowID,
		Keys:    keys,
		Payload: payload,
		At:      s.now(),
	})
}

type OrderRepository struct{ s *Store }

func (r *OrderRepository) Get(ctx context.Context, id string) (*models.DeliveryOrder, error) {
	if err := r.s.check(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, models.ErrNotFound)
	}
	return o.Clone(), nil
}

func (r *OrderRepository) Create(ctx context.Context, order *models.DeliveryOrder) error {
	if err := r.s.check(); err != nil {
		return err
	}
	r.s.mu.Lock()
	if _, ok := r.s.orders[order.ID]; ok {
		r.s.mu.Unlock()
		return fmt.Errorf("order %s already exists", order.ID)
	}
	stored := order.Clone()
	r.s.orders[order.ID] = stored
	r.s.mu.Unlock()

	r.s.publish(models.TableOrders, models.ChangeInsert, order.ID, nil, stored)
	return nil
}

func (r *OrderRepository) Update(ctx context.Context, order *models.DeliveryOrder) error {
	if err := r.s.check(); err != nil {
		return err
	}
	r.s.mu.Lock()
	if _, ok := r.s.orders[order.ID]; !ok {
		r.s.mu.Unlock()
		return fmt.Errorf("order %s: %w", order.ID, models.ErrNotFound)
	}
	stored := order.Clone()
	r.s.orders[order.ID] = stored
	r.s.mu.Unlock()

	r.s.publish(models.TableOrders, models.ChangeUpdate, order.ID, nil, stored)
	return nil
}

type SubjectRepository struct{ s *Store }

func (r *SubjectRepository) Get(ctx context.Context, id string) (*models.Subject, error) {
	if err := r.s.check(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	subj, ok := r.s.subjects[id]
	if !ok {
		return nil, fmt.Errorf("subject %s: %w", id, models.ErrNotFound)
	}
	c := *subj
	return &c, nil
}

func (r *SubjectRepository) Create(ctx context.Context, subject *models.Subject) error {
	if err := r.s.check(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *subject
	r.s.subjects[subject.ID] = &c
	return nil
}

type LocationRepository struct{ s *Store }

func (r *LocationRepository) Get(ctx context.Context, subjectID string) (*models.SubjectLocation, error) {
	if err := r.s.check(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	loc, ok := r.s.locations[subjectID]
	if !ok {
		return nil, fmt.Errorf("location of %s: %w", subjectID, models.ErrNotFound)
	}
	c := *loc
	return &c, nil
}

func (r *LocationRepository) Upsert(ctx context.Context, loc *models.SubjectLocation) error {
	if err := r.s.check(); err != nil {
		return err
	}
	r.s.mu.Lock()
	op := models.ChangeUpdate
	if _, ok := r.s.locations[loc.SubjectID]; !ok {
		op = models.ChangeInsert
	}
	c := *loc
	r.s.locations[loc.SubjectID] = &c
	r.s.mu.Unlock()

	r.s.publish(models.TableSubjectLocations, op, loc.SubjectID,
		map[string]string{"subject_id": loc.SubjectID}, c)
	return nil
}

func (r *LocationRepository) Touch(ctx context.Context, subjectID string, at time.Time) error {
	if err := r.s.check(); err != nil {
		return err
	}
	r.s.mu.Lock()
	loc, ok := r.s.locations[subjectID]
	if !ok {
		r.s.mu.Unlock()
		return fmt.Errorf("location of %s: %w", subjectID, models.ErrNotFound)
	}
	if at.After(loc.LastPing) {
		loc.LastPing = at
	}
	loc.Online = true
	c := *loc
	r.s.mu.Unlock()

	r.s.publish(models.TableSubjectLocations, models.ChangeUpdate, subjectID,
		map[string]string{"subject_id": subjectID}, c)
	return nil
}

type ChatRepository struct{ s *Store }

func (r *ChatRepository) ListByOrder(ctx context.Context, orderID string) ([]models.ChatMessage, error) {
	if err := r.s.check(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []models.ChatMessage
	for _, m := range r.s.chats {
		if m.OrderID == orderID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SentAt.Before(out[j].SentAt)
	})
	return out, nil
}

func (r *ChatRepository) Insert(ctx context.Context, msg *models.ChatMessage) error {
	if err := r.s.check(); err != nil {
		return err
	}
	r.s.mu.Lock()
	if _, ok := r.s.chats[msg.ID]; ok {
		r.s.mu.Unlock()
		return fmt.Errorf("chat message %s already exists", msg.ID)
	}
	c := *msg
	r.s.chats[msg.ID] = &c
	r.s.mu.Unlock()

	r.s.publish(models.TableChatMessages, models.ChangeInsert, msg.ID,
		map[string]string{"order_id": msg.OrderID}, c)
	return nil
}

func (r *ChatRepository) MarkRead(ctx context.Context, id string, at time.Time) error {
	if err := r.s.check(); err != nil {
		return err
	}
	r.s.mu.Lock()
	m, ok := r.s.chats[id]
	if !ok {
		r.s.mu.Unlock()
		return fmt.Errorf("chat message %s: %w", id, models.ErrNotFound)
	}
	if m.ReadAt == nil {
		readAt := at
		m.ReadAt = &readAt
	}
	c := *m
	r.s.mu.Unlock()

	r.s.publish(models.TableChatMessages, models.ChangeUpdate, id,
		map[string]string{"order_id": c.OrderID}, c)
	return nil
}

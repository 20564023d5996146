package repositories

import (
	"context"
	"time"

	"github.com/Kwendataxi/kwenda-sub020/internal/models"
)

// Lookups of a missing row return an error wrapping models.ErrNotFound.

type OrderRepository interface {
	Get(ctx context.Context, id string) (*models.DeliveryOrder, error)
	Create(ctx context.Context, order *models.DeliveryOrder) error
	Update(ctx context.Context, order *models.DeliveryOrder) error
}

type SubjectRepository interface {
	Get(ctx context.Context, id string) (*models.Subject, error)
	Create(ctx context.Context, subject *models.Subject) error
}

type LocationRepository interface {
	Get(ctx context.Context, subjectID string) (*models.SubjectLocation, error)
	Upsert(ctx context.Context, loc *models.SubjectLocation) error
	// Touch refreshes last_ping without moving the subject.
	Touch(ctx context.Context, subjectID string, at time.Time) error
}

type ChatRepository interface {
	ListByOrder(ctx context.Context, orderID string) ([]models.ChatMessage, error)
	Insert(ctx context.Context, msg *models.ChatMessage) error
	MarkRead(ctx context.Context, id string, at time.Time) error
}

// Subscription delivers change events until closed. Ready is closed once the
// backend has confirmed the subscription; Events is closed when the
// subscription ends, after which Err reports why.
type Subscription interface {
	Events() <-chan models.ChangeEvent
	Ready() <-chan struct{}
	Err() error
	Close() error
}

type ChangeFeed interface {
	Subscribe(ctx context.Context, filter models.ChangeFilter) (Subscription, error)
}

// Backend bundles every collaborator the engine talks to.
type Backend struct {
	Orders    OrderRepository
	Subjects  SubjectRepository
	Locations LocationRepository
	Chats     ChatRepository
	Feed      ChangeFeed
}

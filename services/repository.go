package services

import (
	"context"
	"errors"
	"time"

	"booth-pos/lifecycle"
	"booth-pos/models"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrMenuItemNotFound    = errors.New("menu item not found")
	ErrDayCapacityExceeded = errors.New("daily order capacity exceeded")
	ErrInvalidTransition   = lifecycle.ErrInvalidTransition
)

// TransitionFunc mutates a locked order. nextQueue hands out the next queue
// number of the order's day inside the same transaction.
type TransitionFunc func(o *models.Order, nextQueue func() (int, error)) (changed bool, err error)

type OrderRepository interface {
	// Create assigns the day's next sequence and the DDMMXXX ID. When the
	// idempotency key was already used it returns that order and false.
	Create(ctx context.Context, draft *models.Order, idempotencyKey string) (*models.Order, bool, error)
	GetByID(ctx context.Context, id string) (*models.Order, error)
	// ListByStatus returns every order when no status is given.
	ListByStatus(ctx context.Context, statuses ...models.OrderStatus) ([]models.Order, error)
	Transition(ctx context.Context, id string, fn TransitionFunc) (*models.Order, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	Stats(ctx context.Context, dateKey int) (*models.SalesSummary, error)
	Ping(ctx context.Context) error
}

type MenuRepository interface {
	GetByID(ctx context.Context, id int) (*models.MenuItem, error)
	List(ctx context.Context, availableOnly bool) ([]models.MenuItem, error)
}

type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event models.OrderEvent, priority uint8) error
	PublishDelayedEvent(ctx context.Context, event models.OrderEvent, delay time.Duration) error
}

// NoopPublisher is used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishOrderEvent(context.Context, models.OrderEvent, uint8) error { return nil }

func (NoopPublisher) PublishDelayedEvent(context.Context, models.OrderEvent, time.Duration) error {
	return nil
}

// Package lifecycle holds the order state machine. It works on plain
// *models.Order values; persistence and locking belong to the caller.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"booth-pos/models"
)

var (
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrQueueNumberAssigned = errors.New("queue number already assigned")
	ErrNoQueueSource       = errors.New("no queue number source")
)

var edges = map[models.OrderStatus][]models.OrderStatus{
	models.StatusPendingPayment: {models.StatusPaid, models.StatusCancelled},
	models.StatusPaid:           {models.StatusReady, models.StatusCompleted},
	models.StatusReady:          {models.StatusCompleted},
}

func IsTerminal(s models.OrderStatus) bool {
	return s == models.StatusCompleted || s == models.StatusCancelled
}

func CanTransition(from, to models.OrderStatus) bool {
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Options carries what a transition may need. NextQueueNumber is called at
// most once, and only on PENDING_PAYMENT -> PAID.
type Options struct {
	Now             time.Time
	NextQueueNumber func() (int, error)
	PaymentMethod   *models.PaymentMethod
}

// Apply moves o into status to. A request for the state the order is already
// in returns changed=false and leaves the order untouched.
func Apply(o *models.Order, to models.OrderStatus, opts Options) (changed bool, err error) {
	if isNoop(o, to) {
		return false, nil
	}
	if !CanTransition(o.Status, to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	switch to {
	case models.StatusPaid:
		if o.QueueNumber != nil {
			return false, ErrQueueNumberAssigned
		}
		if opts.NextQueueNumber == nil {
			return false, ErrNoQueueSource
		}
		n, err := opts.NextQueueNumber()
		if err != nil {
			return false, fmt.Errorf("next queue number: %w", err)
		}
		o.QueueNumber = &n
		if o.PaidAt == nil {
			o.PaidAt = &now
		}
		if opts.PaymentMethod != nil && o.PaymentMethod == nil {
			m := *opts.PaymentMethod
			o.PaymentMethod = &m
		}
	case models.StatusCompleted:
		if o.CompletedAt == nil {
			o.CompletedAt = &now
		}
	}

	o.Status = to
	return true, nil
}

// isNoop covers retries: same state, or a mark-paid arriving after the order
// has already moved on to READY with its queue number.
func isNoop(o *models.Order, to models.OrderStatus) bool {
	if o.Status == to {
		return true
	}
	return to == models.StatusPaid && o.Status == models.StatusReady && o.QueueNumber != nil
}

// EventFor maps a target status to the event published after it.
func EventFor(to models.OrderStatus) models.EventType {
	switch to {
	case models.StatusPaid:
		return models.EventPaid
	case models.StatusReady:
		return models.EventReady
	case models.StatusCompleted:
		return models.EventCompleted
	case models.StatusCancelled:
		return models.EventCancelled
	}
	return models.EventCreated
}

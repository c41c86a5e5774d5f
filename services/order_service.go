package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"booth-pos/lifecycle"
	"booth-pos/models"
	"booth-pos/utils"
)

const operationTimeout = 5 * time.Second

type Options struct {
	Location       *time.Location
	PaymentTimeout time.Duration
	Limits         Limits
	Now            func() time.Time
	Logger         logrus.FieldLogger
}

type OrderService struct {
	orders         OrderRepository
	menu           MenuRepository
	events         EventPublisher
	log            logrus.FieldLogger
	loc            *time.Location
	now            func() time.Time
	paymentTimeout time.Duration
	limits         Limits
}

func NewOrderService(orders OrderRepository, menu MenuRepository, events EventPublisher, opts Options) *OrderService {
	if events == nil {
		events = NoopPublisher{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Limits == (Limits{}) {
		opts.Limits = DefaultLimits
	}
	if opts.PaymentTimeout <= 0 {
		opts.PaymentTimeout = 15 * time.Minute
	}
	return &OrderService{
		orders:         orders,
		menu:           menu,
		events:         events,
		log:            opts.Logger.WithField("component", "order_service"),
		loc:            opts.Location,
		now:            opts.Now,
		paymentTimeout: opts.PaymentTimeout,
		limits:         opts.Limits,
	}
}

func (s *OrderService) PaymentTimeout() time.Duration {
	return s.paymentTimeout
}

// TodayKey is the DDMM key of the current day in the booth's timezone.
func (s *OrderService) TodayKey() int {
	return utils.DateKey(s.now().In(s.loc))
}

// CreateOrder validates the request, checks every item against the menu and
// stores a PENDING_PAYMENT order. A repeated idempotency key returns the
// original order with created=false.
func (s *OrderService) CreateOrder(ctx context.Context, req *models.CreateOrderRequest, idempotencyKey string) (*models.Order, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	req.CustomerName = strings.TrimSpace(req.CustomerName)
	if req.Channel == "" {
		req.Channel = models.ChannelKiosk
	}
	if req.DateKey == 0 {
		req.DateKey = s.TodayKey()
	}
	if err := validateIdempotencyKey(idempotencyKey); err != nil {
		return nil, false, err
	}
	if err := ValidateRequest(*req, s.limits); err != nil {
		return nil, false, err
	}
	if err := s.verifyMenu(ctx, req.Items); err != nil {
		return nil, false, err
	}

	draft := &models.Order{
		CustomerName: req.CustomerName,
		Items:        req.Items,
		Status:       models.StatusPendingPayment,
		DateKey:      req.DateKey,
		Channel:      req.Channel,
		CreatedAt:    s.now(),
	}

	order, created, err := s.orders.Create(ctx, draft, idempotencyKey)
	if err != nil {
		return nil, false, fmt.Errorf("create order: %w", err)
	}

	log := s.log.WithFields(logrus.Fields{
		"order_id":      order.ID,
		"customer_name": order.CustomerName,
		"total_amount":  order.Total(),
	})
	if !created {
		log.Info("replayed order creation, returning existing order")
		return order, false, nil
	}
	log.Info("order created")

	s.publish(ctx, order, models.EventCreated)
	check := models.NewOrderEvent(order, models.EventPaymentCheck, s.now())
	if err := s.events.PublishDelayedEvent(ctx, check, s.paymentTimeout); err != nil {
		log.WithError(err).Warn("failed to publish delayed payment check")
	}
	return order, true, nil
}

// verifyMenu makes the menu the authority on price and availability.
func (s *OrderService) verifyMenu(ctx context.Context, items []models.OrderItem) error {
	for i, item := range items {
		menuItem, err := s.menu.GetByID(ctx, item.MenuItemID)
		if errors.Is(err, ErrMenuItemNotFound) {
			return invalid("items", "item %d: menu item not found", i+1)
		}
		if err != nil {
			return fmt.Errorf("look up menu item %d: %w", item.MenuItemID, err)
		}
		if !menuItem.Available {
			return invalid("items", "item %d: %s is not available", i+1, menuItem.Name)
		}
		if item.Price != menuItem.Price {
			return invalid("items", "item %d: price mismatch", i+1)
		}
	}
	return nil
}

func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	if utils.IsTempID(id) {
		return nil, ErrOrderNotFound
	}
	return s.orders.GetByID(ctx, id)
}

// GetQueue returns PAID orders sorted by queue number.
func (s *OrderService) GetQueue(ctx context.Context) ([]models.Order, error) {
	orders, err := s.list(ctx, models.StatusPaid)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return queueNumber(orders[i]) < queueNumber(orders[j])
	})
	return orders, nil
}

func (s *OrderService) GetPendingPayment(ctx context.Context) ([]models.Order, error) {
	return s.list(ctx, models.StatusPendingPayment)
}

func (s *OrderService) GetCompleted(ctx context.Context) ([]models.Order, error) {
	return s.list(ctx, models.StatusCompleted)
}

func (s *OrderService) ListAll(ctx context.Context) ([]models.Order, error) {
	return s.list(ctx)
}

func (s *OrderService) list(ctx context.Context, statuses ...models.OrderStatus) ([]models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	orders, err := s.orders.ListByStatus(ctx, statuses...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// VerifyPayment marks the order PAID and assigns its queue number. Repeating
// it on a paid order returns the order as it is.
func (s *OrderService) VerifyPayment(ctx context.Context, id string, method *models.PaymentMethod) (*models.Order, error) {
	if method != nil && !method.Valid() {
		return nil, invalid("payment_method", "payment method must be PROMPTPAY or CASH")
	}
	return s.transition(ctx, id, models.StatusPaid, method)
}

func (s *OrderService) MarkReady(ctx context.Context, id string) (*models.Order, error) {
	return s.transition(ctx, id, models.StatusReady, nil)
}

func (s *OrderService) CompleteOrder(ctx context.Context, id string) (*models.Order, error) {
	return s.transition(ctx, id, models.StatusCompleted, nil)
}

func (s *OrderService) CancelOrder(ctx context.Context, id string) (*models.Order, error) {
	return s.transition(ctx, id, models.StatusCancelled, nil)
}

func (s *OrderService) transition(ctx context.Context, id string, to models.OrderStatus, method *models.PaymentMethod) (*models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	var changed bool
	order, err := s.orders.Transition(ctx, id, func(o *models.Order, nextQueue func() (int, error)) (bool, error) {
		c, err := lifecycle.Apply(o, to, lifecycle.Options{
			Now:             s.now(),
			NextQueueNumber: nextQueue,
			PaymentMethod:   method,
		})
		changed = c
		return c, err
	})
	log := s.log.WithFields(logrus.Fields{"order_id": id, "to_status": to})
	if err != nil {
		log.WithError(err).Warn("transition rejected")
		return nil, err
	}
	if !changed {
		log.Info("transition already applied")
		return order, nil
	}

	log.WithField("queue_number", queueNumber(*order)).Info("order status changed")
	s.publish(ctx, order, lifecycle.EventFor(to))
	return order, nil
}

// ExpireOrder cancels one unpaid order once its payment window has passed.
// It reports whether the order was cancelled.
func (s *OrderService) ExpireOrder(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	now := s.now()
	var changed bool
	order, err := s.orders.Transition(ctx, id, func(o *models.Order, _ func() (int, error)) (bool, error) {
		if o.Status != models.StatusPendingPayment || now.Sub(o.CreatedAt) < s.paymentTimeout {
			return false, nil
		}
		c, err := lifecycle.Apply(o, models.StatusCancelled, lifecycle.Options{Now: now})
		changed = c
		return c, err
	})
	if err != nil {
		return false, err
	}
	if changed {
		s.log.WithField("order_id", id).Info("unpaid order expired")
		s.publish(ctx, order, models.EventCancelled)
	}
	return changed, nil
}

// ExpireStale sweeps every pending order older than the payment timeout.
func (s *OrderService) ExpireStale(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.paymentTimeout)
	ids, err := s.orders.ListPendingBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale orders: %w", err)
	}

	expired := 0
	for _, id := range ids {
		ok, err := s.ExpireOrder(ctx, id)
		if err != nil {
			s.log.WithError(err).WithField("order_id", id).Error("failed to expire order")
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (s *OrderService) Stats(ctx context.Context, dateKey int) (*models.SalesSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	if dateKey == 0 {
		dateKey = s.TodayKey()
	}
	if !utils.ValidDateKey(dateKey) {
		return nil, invalid("date_key", "date_key must be in DDMM format (101-3112)")
	}
	return s.orders.Stats(ctx, dateKey)
}

func (s *OrderService) Ping(ctx context.Context) error {
	return s.orders.Ping(ctx)
}

func (s *OrderService) ListMenu(ctx context.Context, availableOnly bool) ([]models.MenuItem, error) {
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()
	return s.menu.List(ctx, availableOnly)
}

func (s *OrderService) publish(ctx context.Context, o *models.Order, t models.EventType) {
	priority := uint8(5)
	switch {
	case t == models.EventCancelled:
		priority = 8
	case o.Total() > 500:
		priority = 9
	}
	if err := s.events.PublishOrderEvent(ctx, models.NewOrderEvent(o, t, s.now()), priority); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"order_id": o.ID, "event": t}).Warn("failed to publish order event")
	}
}

func queueNumber(o models.Order) int {
	if o.QueueNumber == nil {
		return 0
	}
	return *o.QueueNumber
}

package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"booth-pos/models"
	"booth-pos/services"
	"booth-pos/utils"
)

// MemoryStore keeps orders and menu in process. It backs STORE_DRIVER=memory
// and the service and controller tests.
type MemoryStore struct {
	mu          sync.Mutex
	orders      map[string]*models.Order
	byKey       map[string]string
	sequences   map[int]int
	queues      map[int]int
	menu        map[int]models.MenuItem
	transitions int
}

func NewMemoryStore(menu []models.MenuItem) *MemoryStore {
	s := &MemoryStore{
		orders:    map[string]*models.Order{},
		byKey:     map[string]string{},
		sequences: map[int]int{},
		queues:    map[int]int{},
		menu:      map[int]models.MenuItem{},
	}
	for _, item := range menu {
		s.menu[item.ID] = item
	}
	return s
}

// DefaultMenu mirrors the seed migration.
func DefaultMenu() []models.MenuItem {
	fries, drinks := "fries", "drinks"
	return []models.MenuItem{
		{ID: 1, Name: "Fries S", Price: 35, Category: &fries, Available: true},
		{ID: 2, Name: "Fries M", Price: 45, Category: &fries, Available: true},
		{ID: 3, Name: "Fries L", Price: 59, Category: &fries, Available: true},
		{ID: 4, Name: "Iced Tea", Price: 25, Category: &drinks, Available: true},
	}
}

func (s *MemoryStore) Create(_ context.Context, draft *models.Order, idempotencyKey string) (*models.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idempotencyKey != "" {
		if id, ok := s.byKey[idempotencyKey]; ok {
			return cloneOrder(s.orders[id]), false, nil
		}
	}

	seq := s.sequences[draft.DateKey] + 1
	if seq > utils.MaxDailySequence {
		return nil, false, services.ErrDayCapacityExceeded
	}
	id, err := utils.GenerateOrderIDForDateKey(draft.DateKey, seq)
	if err != nil {
		return nil, false, err
	}
	s.sequences[draft.DateKey] = seq

	order := cloneOrder(draft)
	order.ID = id
	s.orders[id] = order
	if idempotencyKey != "" {
		s.byKey[idempotencyKey] = id
	}
	return cloneOrder(order), true, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, services.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, statuses ...models.OrderStatus) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := map[models.OrderStatus]bool{}
	for _, st := range statuses {
		want[st] = true
	}
	orders := []models.Order{}
	for _, o := range s.orders {
		if len(want) == 0 || want[o.Status] {
			orders = append(orders, *cloneOrder(o))
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders, nil
}

// Transition holds the store lock for the whole read-modify-write, which
// gives the same isolation as the row lock in MySQL.
func (s *MemoryStore) Transition(_ context.Context, id string, fn services.TransitionFunc) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.orders[id]
	if !ok {
		return nil, services.ErrOrderNotFound
	}
	working := cloneOrder(stored)
	queues := s.queues[working.DateKey]
	nextQueue := func() (int, error) {
		queues++
		return queues, nil
	}

	changed, err := fn(working, nextQueue)
	if err != nil {
		return nil, err
	}
	if changed {
		s.queues[working.DateKey] = queues
		s.orders[id] = working
		s.transitions++
	}
	return cloneOrder(working), nil
}

func (s *MemoryStore) ListPendingBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, o := range s.orders {
		if o.Status == models.StatusPendingPayment && o.CreatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Stats(_ context.Context, dateKey int) (*models.SalesSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := newSummary(dateKey)
	for _, o := range s.orders {
		if o.DateKey != dateKey {
			continue
		}
		var method models.PaymentMethod
		if o.PaymentMethod != nil {
			method = *o.PaymentMethod
		}
		summary.add(o.Status, method, 1, o.Total())
	}
	return summary.SalesSummary, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Transitions counts applied status changes.
func (s *MemoryStore) Transitions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitions
}

// Menu returns a view of the store as a services.MenuRepository.
func (s *MemoryStore) Menu() *MemoryMenu {
	return &MemoryMenu{store: s}
}

// SetAvailable toggles a menu item.
func (s *MemoryStore) SetAvailable(id int, available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.menu[id]; ok {
		item.Available = available
		s.menu[id] = item
	}
}

type MemoryMenu struct {
	store *MemoryStore
}

func (m *MemoryMenu) GetByID(_ context.Context, id int) (*models.MenuItem, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	item, ok := m.store.menu[id]
	if !ok {
		return nil, services.ErrMenuItemNotFound
	}
	return &item, nil
}

func (m *MemoryMenu) List(_ context.Context, availableOnly bool) ([]models.MenuItem, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	items := []models.MenuItem{}
	for _, item := range m.store.menu {
		if availableOnly && !item.Available {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	c.Items = append([]models.OrderItem(nil), o.Items...)
	if o.QueueNumber != nil {
		n := *o.QueueNumber
		c.QueueNumber = &n
	}
	if o.PaymentMethod != nil {
		m := *o.PaymentMethod
		c.PaymentMethod = &m
	}
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

var (
	_ services.OrderRepository = (*MemoryStore)(nil)
	_ services.MenuRepository  = (*MemoryMenu)(nil)
)

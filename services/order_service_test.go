package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"booth-pos/database"
	"booth-pos/models"
	"booth-pos/services"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishOrderEvent(ctx context.Context, e models.OrderEvent, priority uint8) error {
	return m.Called(ctx, e, priority).Error(0)
}

func (m *mockPublisher) PublishDelayedEvent(ctx context.Context, e models.OrderEvent, d time.Duration) error {
	return m.Called(ctx, e, d).Error(0)
}

func (m *mockPublisher) types() []models.EventType {
	var out []models.EventType
	for _, c := range m.Calls {
		if c.Method == "PublishOrderEvent" {
			out = append(out, c.Arguments.Get(1).(models.OrderEvent).Type)
		}
	}
	return out
}

func eventOfType(t models.EventType) any {
	return mock.MatchedBy(func(e models.OrderEvent) bool { return e.Type == t })
}

type OrderServiceSuite struct {
	suite.Suite
	store  *database.MemoryStore
	events *mockPublisher
	now    time.Time
	svc    *services.OrderService
}

func (s *OrderServiceSuite) SetupTest() {
	s.store = database.NewMemoryStore(database.DefaultMenu())
	s.events = &mockPublisher{}
	s.events.On("PublishOrderEvent", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	s.events.On("PublishDelayedEvent", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	s.now = time.Date(2026, 1, 14, 3, 0, 0, 0, time.UTC)
	logger, _ := test.NewNullLogger()
	s.svc = services.NewOrderService(s.store, s.store.Menu(), s.events, services.Options{
		PaymentTimeout: 15 * time.Minute,
		Limits:         services.Limits{Kiosk: 10, POS: 30},
		Now:            func() time.Time { return s.now },
		Logger:         logger,
	})
}

func (s *OrderServiceSuite) create(name string) *models.Order {
	order, created, err := s.svc.CreateOrder(context.Background(), &models.CreateOrderRequest{
		CustomerName: name,
		Items: []models.OrderItem{
			{MenuItemID: 1, Name: "Fries S", Price: 35, Quantity: 2},
			{MenuItemID: 2, Name: "Fries M", Price: 45, Quantity: 1},
		},
	}, "")
	s.Require().NoError(err)
	s.Require().True(created)
	return order
}

func (s *OrderServiceSuite) TestCreateAssignsTodayAndPending() {
	order := s.create("  Somchai ")

	s.Equal("1401001", order.ID)
	s.Equal("Somchai", order.CustomerName)
	s.Equal(models.StatusPendingPayment, order.Status)
	s.Equal(1401, order.DateKey)
	s.Equal(models.ChannelKiosk, order.Channel)
	s.Equal(115.0, order.Total())
	s.Nil(order.QueueNumber)
	s.Equal([]models.EventType{models.EventCreated}, s.events.types())
	s.events.AssertCalled(s.T(), "PublishOrderEvent", mock.Anything, eventOfType(models.EventCreated), uint8(5))
	s.events.AssertCalled(s.T(), "PublishDelayedEvent", mock.Anything, eventOfType(models.EventPaymentCheck), 15*time.Minute)
	s.events.AssertNumberOfCalls(s.T(), "PublishDelayedEvent", 1)
}

func (s *OrderServiceSuite) TestCreateSurvivesBrokerFailure() {
	broken := &mockPublisher{}
	broken.On("PublishOrderEvent", mock.Anything, eventOfType(models.EventCreated), mock.Anything).
		Return(errors.New("channel closed")).Once()
	broken.On("PublishDelayedEvent", mock.Anything, eventOfType(models.EventPaymentCheck), 15*time.Minute).
		Return(errors.New("channel closed")).Once()
	logger, _ := test.NewNullLogger()
	svc := services.NewOrderService(s.store, s.store.Menu(), broken, services.Options{
		PaymentTimeout: 15 * time.Minute,
		Now:            func() time.Time { return s.now },
		Logger:         logger,
	})

	order, created, err := svc.CreateOrder(context.Background(), &models.CreateOrderRequest{
		CustomerName: "Somchai",
		Items:        []models.OrderItem{{MenuItemID: 4, Name: "Iced Tea", Price: 25, Quantity: 1}},
	}, "")
	s.Require().NoError(err)
	s.True(created)
	s.Equal("1401001", order.ID)
	broken.AssertExpectations(s.T())
}

func (s *OrderServiceSuite) TestCreateUsesBoothTimezone() {
	loc := time.FixedZone("ICT", 7*3600)
	s.now = time.Date(2026, 1, 14, 20, 0, 0, 0, time.UTC)
	svc := services.NewOrderService(s.store, s.store.Menu(), nil, services.Options{
		Location: loc,
		Now:      func() time.Time { return s.now },
	})
	s.Equal(1501, svc.TodayKey())
}

func (s *OrderServiceSuite) TestCreateIsIdempotentOnKey() {
	req := func() *models.CreateOrderRequest {
		return &models.CreateOrderRequest{
			CustomerName: "Somchai",
			Items:        []models.OrderItem{{MenuItemID: 1, Name: "Fries S", Price: 35, Quantity: 1}},
		}
	}
	first, created, err := s.svc.CreateOrder(context.Background(), req(), "TEMP-1700000000000-abc123")
	s.Require().NoError(err)
	s.True(created)

	again, created, err := s.svc.CreateOrder(context.Background(), req(), "TEMP-1700000000000-abc123")
	s.Require().NoError(err)
	s.False(created)
	s.Equal(first.ID, again.ID)
	s.Len(s.events.types(), 1)
}

func (s *OrderServiceSuite) TestCreateRejectsMenuMismatch() {
	cases := map[string]models.OrderItem{
		"unknown item": {MenuItemID: 99, Name: "Ghost", Price: 10, Quantity: 1},
		"wrong price":  {MenuItemID: 1, Name: "Fries S", Price: 1, Quantity: 1},
	}
	for name, item := range cases {
		s.Run(name, func() {
			_, _, err := s.svc.CreateOrder(context.Background(), &models.CreateOrderRequest{
				CustomerName: "Somchai",
				Items:        []models.OrderItem{item},
			}, "")
			var verr *services.ValidationError
			s.ErrorAs(err, &verr)
		})
	}

	s.store.SetAvailable(1, false)
	_, _, err := s.svc.CreateOrder(context.Background(), &models.CreateOrderRequest{
		CustomerName: "Somchai",
		Items:        []models.OrderItem{{MenuItemID: 1, Name: "Fries S", Price: 35, Quantity: 1}},
	}, "")
	s.ErrorContains(err, "not available")
}

func (s *OrderServiceSuite) TestPOSChannelAllowsLargerQuantity() {
	item := models.OrderItem{MenuItemID: 1, Name: "Fries S", Price: 35, Quantity: 20}

	_, _, err := s.svc.CreateOrder(context.Background(), &models.CreateOrderRequest{
		CustomerName: "Somchai", Items: []models.OrderItem{item},
	}, "")
	s.Error(err)

	_, _, err = s.svc.CreateOrder(context.Background(), &models.CreateOrderRequest{
		CustomerName: "Somchai", Items: []models.OrderItem{item}, Channel: models.ChannelPOS,
	}, "")
	s.NoError(err)
}

func (s *OrderServiceSuite) TestVerifyPaymentAssignsQueueNumbersInOrder() {
	a, b := s.create("Alice"), s.create("Bob")
	cash := models.PaymentCash

	paidB, err := s.svc.VerifyPayment(context.Background(), b.ID, &cash)
	s.Require().NoError(err)
	paidA, err := s.svc.VerifyPayment(context.Background(), a.ID, nil)
	s.Require().NoError(err)

	s.Equal(1, *paidB.QueueNumber)
	s.Equal(2, *paidA.QueueNumber)
	s.Equal(models.PaymentCash, *paidB.PaymentMethod)
	s.Nil(paidA.PaymentMethod)

	queue, err := s.svc.GetQueue(context.Background())
	s.Require().NoError(err)
	s.Require().Len(queue, 2)
	s.Equal(b.ID, queue[0].ID)
	s.Equal(a.ID, queue[1].ID)
}

func (s *OrderServiceSuite) TestVerifyPaymentTwiceIsNoop() {
	order := s.create("Alice")
	first, err := s.svc.VerifyPayment(context.Background(), order.ID, nil)
	s.Require().NoError(err)

	s.now = s.now.Add(time.Minute)
	promptpay := models.PaymentPromptPay
	second, err := s.svc.VerifyPayment(context.Background(), order.ID, &promptpay)
	s.Require().NoError(err)

	s.Equal(*first.QueueNumber, *second.QueueNumber)
	s.Equal(*first.PaidAt, *second.PaidAt)
	s.Nil(second.PaymentMethod)
	s.Equal(1, s.store.Transitions())
	s.Equal([]models.EventType{models.EventCreated, models.EventPaid}, s.events.types())
}

func (s *OrderServiceSuite) TestVerifyPaymentRejectsBadMethod() {
	order := s.create("Alice")
	bogus := models.PaymentMethod("BITCOIN")
	_, err := s.svc.VerifyPayment(context.Background(), order.ID, &bogus)
	var verr *services.ValidationError
	s.ErrorAs(err, &verr)
}

func (s *OrderServiceSuite) TestTerminalStatesReject() {
	order := s.create("Alice")
	_, err := s.svc.CancelOrder(context.Background(), order.ID)
	s.Require().NoError(err)

	_, err = s.svc.VerifyPayment(context.Background(), order.ID, nil)
	s.ErrorIs(err, services.ErrInvalidTransition)

	again, err := s.svc.CancelOrder(context.Background(), order.ID)
	s.NoError(err)
	s.Equal(models.StatusCancelled, again.Status)

	_, err = s.svc.CompleteOrder(context.Background(), order.ID)
	s.ErrorIs(err, services.ErrInvalidTransition)
}

func (s *OrderServiceSuite) TestFullFlowThroughReady() {
	order := s.create("Alice")
	_, err := s.svc.VerifyPayment(context.Background(), order.ID, nil)
	s.Require().NoError(err)
	ready, err := s.svc.MarkReady(context.Background(), order.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusReady, ready.Status)

	retried, err := s.svc.VerifyPayment(context.Background(), order.ID, nil)
	s.Require().NoError(err)
	s.Equal(models.StatusReady, retried.Status)

	done, err := s.svc.CompleteOrder(context.Background(), order.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, done.Status)
	s.NotNil(done.CompletedAt)
	s.Equal(1, *done.QueueNumber)

	completed, err := s.svc.GetCompleted(context.Background())
	s.Require().NoError(err)
	s.Len(completed, 1)
}

func (s *OrderServiceSuite) TestGetOrderRejectsTempIDs() {
	_, err := s.svc.GetOrder(context.Background(), "TEMP-1-abc")
	s.ErrorIs(err, services.ErrOrderNotFound)

	_, err = s.svc.GetOrder(context.Background(), "1401999")
	s.ErrorIs(err, services.ErrOrderNotFound)
}

func (s *OrderServiceSuite) TestExpireStale() {
	old := s.create("Alice")
	s.now = s.now.Add(10 * time.Minute)
	fresh := s.create("Bob")
	paid := s.create("Carol")
	_, err := s.svc.VerifyPayment(context.Background(), paid.ID, nil)
	s.Require().NoError(err)

	s.now = s.now.Add(6 * time.Minute)
	count, err := s.svc.ExpireStale(context.Background())
	s.Require().NoError(err)
	s.Equal(1, count)

	got, err := s.svc.GetOrder(context.Background(), old.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCancelled, got.Status)

	got, err = s.svc.GetOrder(context.Background(), fresh.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPendingPayment, got.Status)

	expired, err := s.svc.ExpireOrder(context.Background(), paid.ID)
	s.NoError(err)
	s.False(expired)
}

func (s *OrderServiceSuite) TestStats() {
	order := s.create("Alice")
	promptpay := models.PaymentPromptPay
	_, err := s.svc.VerifyPayment(context.Background(), order.ID, &promptpay)
	s.Require().NoError(err)

	summary, err := s.svc.Stats(context.Background(), 0)
	s.Require().NoError(err)
	s.Equal(1401, summary.DateKey)
	s.Equal(115.0, summary.PromptPayRevenue)

	_, err = s.svc.Stats(context.Background(), 1399)
	s.Error(err)
}

func TestOrderServiceSuite(t *testing.T) {
	suite.Run(t, new(OrderServiceSuite))
}

func TestConcurrentVerifyAssignsQueueOnce(t *testing.T) {
	store := database.NewMemoryStore(database.DefaultMenu())
	svc := services.NewOrderService(store, store.Menu(), nil, services.Options{Logger: logrus.New()})

	order, _, err := svc.CreateOrder(context.Background(), &models.CreateOrderRequest{
		CustomerName: "Somchai",
		Items:        []models.OrderItem{{MenuItemID: 1, Name: "Fries S", Price: 35, Quantity: 1}},
	}, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	numbers := make(chan int, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := svc.VerifyPayment(context.Background(), order.ID, nil)
			if assert.NoError(t, err) {
				numbers <- *o.QueueNumber
			}
		}()
	}
	wg.Wait()
	close(numbers)

	for n := range numbers {
		assert.Equal(t, 1, n)
	}
	assert.Equal(t, 1, store.Transitions())
}

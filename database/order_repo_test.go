package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"booth-pos/lifecycle"
	"booth-pos/models"
	"booth-pos/services"
)

func TestIsDuplicateEntry(t *testing.T) {
	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'TEMP-1' for key 'uq_orders_idempotency_key'"}

	assert.True(t, isDuplicateEntry(dup))
	assert.True(t, isDuplicateEntry(fmt.Errorf("failed to insert order: %w", dup)))
	assert.False(t, isDuplicateEntry(&mysql.MySQLError{Number: 1452, Message: "foreign key"}))
	assert.False(t, isDuplicateEntry(errors.New("Duplicate entry")))
	assert.False(t, isDuplicateEntry(nil))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
	assert.Equal(t, []any{"1401001", "1401002"}, toArgs([]string{"1401001", "1401002"}))
}

func TestSummaryCountsOnlyPaidRevenue(t *testing.T) {
	b := newSummary(1401)
	b.add(models.StatusPendingPayment, "", 2, 90)
	b.add(models.StatusCancelled, models.PaymentCash, 1, 35)
	b.add(models.StatusPaid, models.PaymentPromptPay, 1, 115)
	b.add(models.StatusCompleted, models.PaymentCash, 2, 70)

	assert.Equal(t, 1401, b.DateKey)
	assert.Equal(t, 185.0, b.TotalRevenue)
	assert.Equal(t, 115.0, b.PromptPayRevenue)
	assert.Equal(t, 70.0, b.CashRevenue)
	assert.Equal(t, 2, b.OrdersByStatus[models.StatusPendingPayment])
	assert.Equal(t, 1, b.OrdersByStatus[models.StatusCancelled])

	assert.False(t, nullTime(nil).Valid)
	now := time.Now()
	assert.Equal(t, sql.NullTime{Time: now, Valid: true}, nullTime(&now))
}

// OrderRepoSuite runs against a real MySQL, for example
// BOOTH_TEST_MYSQL_DSN='root:pw@tcp(localhost:3306)/booth_test?parseTime=true&loc=UTC&multiStatements=true'.
type OrderRepoSuite struct {
	suite.Suite
	db   *sql.DB
	repo *OrderRepo
}

func TestOrderRepoSuite(t *testing.T) {
	dsn := os.Getenv("BOOTH_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("BOOTH_TEST_MYSQL_DSN not set")
	}
	suite.Run(t, &OrderRepoSuite{})
}

func (s *OrderRepoSuite) SetupSuite() {
	dsn := os.Getenv("BOOTH_TEST_MYSQL_DSN")
	s.Require().NoError(Migrate(dsn))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	db, err := Open(ctx, dsn)
	s.Require().NoError(err)
	s.db = db
	s.repo = NewOrderRepo(db)
}

func (s *OrderRepoSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *OrderRepoSuite) SetupTest() {
	for _, table := range []string{"order_status_log", "order_items", "orders", "day_counters"} {
		_, err := s.db.Exec("DELETE FROM " + table)
		s.Require().NoError(err)
	}
}

func (s *OrderRepoSuite) statusLogRows(id string) int {
	var n int
	s.Require().NoError(s.db.QueryRow(`SELECT COUNT(*) FROM order_status_log WHERE order_id = ?`, id).Scan(&n))
	return n
}

func (s *OrderRepoSuite) TestCreateAssignsDailySequence() {
	ctx := context.Background()

	first, created, err := s.repo.Create(ctx, draftOrder(1401), "")
	s.Require().NoError(err)
	s.True(created)
	s.Equal("1401001", first.ID)

	second, _, err := s.repo.Create(ctx, draftOrder(1401), "")
	s.Require().NoError(err)
	s.Equal("1401002", second.ID)

	other, _, err := s.repo.Create(ctx, draftOrder(1501), "")
	s.Require().NoError(err)
	s.Equal("1501001", other.ID)

	got, err := s.repo.GetByID(ctx, first.ID)
	s.Require().NoError(err)
	s.Equal("Somchai", got.CustomerName)
	s.Require().Len(got.Items, 1)
	s.Equal(35.0, got.Total())

	_, err = s.repo.GetByID(ctx, "1401999")
	s.ErrorIs(err, services.ErrOrderNotFound)
}

func (s *OrderRepoSuite) TestConcurrentReplaysCreateOneOrder() {
	ctx := context.Background()
	const workers = 8
	// With the counter row present every replay queues on its row lock.
	_, err := s.db.Exec(`INSERT INTO day_counters (date_key) VALUES (1401)`)
	s.Require().NoError(err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[string]int{}
		created int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, isNew, err := s.repo.Create(ctx, draftOrder(1401), "TEMP-1768406100000-a1b2c3")
			if !s.NoError(err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[o.ID]++
			if isNew {
				created++
			}
		}()
	}
	wg.Wait()

	s.Equal(map[string]int{"1401001": workers}, ids)
	s.Equal(1, created)

	next, _, err := s.repo.Create(ctx, draftOrder(1401), "")
	s.Require().NoError(err)
	s.Equal("1401002", next.ID, "losing replays roll their sequence back")
}

func (s *OrderRepoSuite) TestTransitionAssignsQueueAndLogs() {
	ctx := context.Background()
	a, _, err := s.repo.Create(ctx, draftOrder(1401), "")
	s.Require().NoError(err)
	b, _, err := s.repo.Create(ctx, draftOrder(1401), "")
	s.Require().NoError(err)

	cash := models.PaymentCash
	pay := func(o *models.Order, next func() (int, error)) (bool, error) {
		return lifecycle.Apply(o, models.StatusPaid, lifecycle.Options{NextQueueNumber: next, PaymentMethod: &cash})
	}

	paidB, err := s.repo.Transition(ctx, b.ID, pay)
	s.Require().NoError(err)
	s.Require().NotNil(paidB.QueueNumber)
	s.Equal(1, *paidB.QueueNumber, "queue follows payment order")

	paidA, err := s.repo.Transition(ctx, a.ID, pay)
	s.Require().NoError(err)
	s.Equal(2, *paidA.QueueNumber)
	s.Equal(1, s.statusLogRows(a.ID))

	again, err := s.repo.Transition(ctx, a.ID, pay)
	s.Require().NoError(err)
	s.Equal(2, *again.QueueNumber)
	s.Equal(1, s.statusLogRows(a.ID), "no-op transitions write no log entry")

	stored, err := s.repo.GetByID(ctx, a.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPaid, stored.Status)
	s.Require().NotNil(stored.PaymentMethod)
	s.Equal(models.PaymentCash, *stored.PaymentMethod)

	queue, err := s.repo.ListByStatus(ctx, models.StatusPaid)
	s.Require().NoError(err)
	s.Len(queue, 2)

	_, err = s.repo.Transition(ctx, "1401999", pay)
	s.ErrorIs(err, services.ErrOrderNotFound)
}

func (s *OrderRepoSuite) TestConcurrentPaymentsGetDistinctQueueNumbers() {
	ctx := context.Background()
	const n = 6
	ids := make([]string, n)
	for i := range ids {
		o, _, err := s.repo.Create(ctx, draftOrder(1401), "")
		s.Require().NoError(err)
		ids[i] = o.ID
	}

	pay := func(o *models.Order, next func() (int, error)) (bool, error) {
		return lifecycle.Apply(o, models.StatusPaid, lifecycle.Options{NextQueueNumber: next})
	}
	var wg sync.WaitGroup
	queues := make(chan int, n)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			o, err := s.repo.Transition(ctx, id, pay)
			if s.NoError(err) {
				queues <- *o.QueueNumber
			}
		}(id)
	}
	wg.Wait()
	close(queues)

	seen := map[int]bool{}
	for q := range queues {
		seen[q] = true
	}
	s.Len(seen, n)
	for q := 1; q <= n; q++ {
		s.True(seen[q], "queue number %d", q)
	}
}

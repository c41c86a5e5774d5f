package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"booth-pos/models"
	"booth-pos/services"
	"booth-pos/utils"
)

type OrderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) *OrderRepo {
	return &OrderRepo{db: db}
}

const orderColumns = `id, customer_name, status, date_key, channel, queue_number, payment_method, created_at, paid_at, completed_at`

func (r *OrderRepo) Create(ctx context.Context, draft *models.Order, idempotencyKey string) (*models.Order, bool, error) {
	if idempotencyKey != "" {
		existing, err := r.getByIdempotencyKey(ctx, idempotencyKey)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, services.ErrOrderNotFound) {
			return nil, false, err
		}
	}

	order, err := r.insert(ctx, draft, idempotencyKey)
	if err != nil && idempotencyKey != "" && isDuplicateEntry(err) {
		// Lost a race with a concurrent replay of the same submission.
		existing, getErr := r.getByIdempotencyKey(ctx, idempotencyKey)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return order, true, nil
}

func (r *OrderRepo) insert(ctx context.Context, draft *models.Order, idempotencyKey string) (*models.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	seq, err := bumpCounter(ctx, tx, draft.DateKey, "last_sequence")
	if err != nil {
		return nil, err
	}
	if seq > utils.MaxDailySequence {
		return nil, services.ErrDayCapacityExceeded
	}
	id, err := utils.GenerateOrderIDForDateKey(draft.DateKey, seq)
	if err != nil {
		return nil, fmt.Errorf("failed to generate order ID: %w", err)
	}

	order := *draft
	order.ID = id
	order.Items = append([]models.OrderItem(nil), draft.Items...)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, customer_name, status, date_key, channel, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.CustomerName, order.Status, order.DateKey, order.Channel,
		sql.NullString{String: idempotencyKey, Valid: idempotencyKey != ""}, order.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}

	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, menu_item_id, name, price, quantity)
			VALUES (?, ?, ?, ?, ?)`,
			order.ID, item.MenuItemID, item.Name, item.Price, item.Quantity,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &order, nil
}

// bumpCounter increments one of the day's counters under a row lock and
// returns the new value.
func bumpCounter(ctx context.Context, tx *sql.Tx, dateKey int, column string) (int, error) {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO day_counters (date_key) VALUES (?) ON DUPLICATE KEY UPDATE date_key = date_key`, dateKey); err != nil {
		return 0, fmt.Errorf("failed to init day counter: %w", err)
	}

	var current int
	if err := tx.QueryRowContext(ctx,
		`SELECT `+column+` FROM day_counters WHERE date_key = ? FOR UPDATE`, dateKey).Scan(&current); err != nil {
		return 0, fmt.Errorf("failed to lock day counter: %w", err)
	}

	next := current + 1
	if _, err := tx.ExecContext(ctx,
		`UPDATE day_counters SET `+column+` = ? WHERE date_key = ?`, next, dateKey); err != nil {
		return 0, fmt.Errorf("failed to update day counter: %w", err)
	}
	return next, nil
}

func (r *OrderRepo) GetByID(ctx context.Context, id string) (*models.Order, error) {
	return getOrder(ctx, r.db, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
}

func (r *OrderRepo) getByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	return getOrder(ctx, r.db, `SELECT `+orderColumns+` FROM orders WHERE idempotency_key = ?`, key)
}

func getOrder(ctx context.Context, q queryer, query string, arg any) (*models.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	items, err := loadItems(ctx, q, []string{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]
	return order, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o           models.Order
		status      string
		channel     string
		queueNumber sql.NullInt64
		method      sql.NullString
		paidAt      sql.NullTime
		completedAt sql.NullTime
	)
	if err := row.Scan(&o.ID, &o.CustomerName, &status, &o.DateKey, &channel, &queueNumber,
		&method, &o.CreatedAt, &paidAt, &completedAt); err != nil {
		return nil, err
	}

	st, err := models.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	o.Status = st
	o.Channel = models.Channel(channel)
	if queueNumber.Valid {
		n := int(queueNumber.Int64)
		o.QueueNumber = &n
	}
	if method.Valid {
		m := models.PaymentMethod(method.String)
		o.PaymentMethod = &m
	}
	if paidAt.Valid {
		t := paidAt.Time
		o.PaidAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		o.CompletedAt = &t
	}
	return &o, nil
}

func loadItems(ctx context.Context, q queryer, orderIDs []string) (map[string][]models.OrderItem, error) {
	items := make(map[string][]models.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return items, nil
	}

	query := `SELECT order_id, menu_item_id, name, price, quantity FROM order_items
		WHERE order_id IN (` + placeholders(len(orderIDs)) + `) ORDER BY id ASC`
	rows, err := q.QueryContext(ctx, query, toArgs(orderIDs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var orderID string
		var item models.OrderItem
		if err := rows.Scan(&orderID, &item.MenuItemID, &item.Name, &item.Price, &item.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items[orderID] = append(items[orderID], item)
	}
	return items, rows.Err()
}

func (r *OrderRepo) ListByStatus(ctx context.Context, statuses ...models.OrderStatus) ([]models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + placeholders(len(statuses)) + `)`
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get orders by status: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	var ids []string
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items, err := loadItems(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

// Transition locks the order row, lets fn mutate it and writes it back with
// a status log entry. Nothing is written when fn reports no change.
func (r *OrderRepo) Transition(ctx context.Context, id string, fn services.TransitionFunc) (*models.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	order, err := getOrder(ctx, tx, `SELECT `+orderColumns+` FROM orders WHERE id = ? FOR UPDATE`, id)
	if err != nil {
		return nil, err
	}
	from := order.Status

	nextQueue := func() (int, error) {
		return bumpCounter(ctx, tx, order.DateKey, "last_queue")
	}
	changed, err := fn(order, nextQueue)
	if err != nil {
		return nil, err
	}
	if !changed {
		return order, tx.Commit()
	}

	var queueNumber sql.NullInt64
	if order.QueueNumber != nil {
		queueNumber = sql.NullInt64{Int64: int64(*order.QueueNumber), Valid: true}
	}
	var method sql.NullString
	if order.PaymentMethod != nil {
		method = sql.NullString{String: string(*order.PaymentMethod), Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, queue_number = ?, payment_method = ?, paid_at = ?, completed_at = ?
		WHERE id = ?`,
		order.Status, queueNumber, method, nullTime(order.PaidAt), nullTime(order.CompletedAt), order.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update order: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_status_log (order_id, from_status, to_status, changed_at)
		VALUES (?, ?, ?, ?)`, order.ID, from, order.Status, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to log status change: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return order, nil
}

func (r *OrderRepo) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM orders WHERE status = ? AND created_at < ? ORDER BY created_at ASC`,
		models.StatusPendingPayment, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale orders: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *OrderRepo) Stats(ctx context.Context, dateKey int) (*models.SalesSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT o.status, COALESCE(o.payment_method, ''), COUNT(DISTINCT o.id), COALESCE(SUM(oi.price * oi.quantity), 0)
		FROM orders o
		JOIN order_items oi ON oi.order_id = o.id
		WHERE o.date_key = ?
		GROUP BY o.status, o.payment_method`, dateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	defer rows.Close()

	summary := newSummary(dateKey)
	for rows.Next() {
		var (
			status, method string
			count          int
			revenue        float64
		)
		if err := rows.Scan(&status, &method, &count, &revenue); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		summary.add(models.OrderStatus(status), models.PaymentMethod(method), count, revenue)
	}
	return summary.SalesSummary, rows.Err()
}

func (r *OrderRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type summaryBuilder struct {
	*models.SalesSummary
}

func newSummary(dateKey int) summaryBuilder {
	return summaryBuilder{&models.SalesSummary{
		DateKey:        dateKey,
		OrdersByStatus: map[models.OrderStatus]int{},
	}}
}

// add counts revenue only for orders that were actually paid.
func (b summaryBuilder) add(status models.OrderStatus, method models.PaymentMethod, count int, revenue float64) {
	b.OrdersByStatus[status] += count
	switch status {
	case models.StatusPaid, models.StatusReady, models.StatusCompleted:
	default:
		return
	}
	b.TotalRevenue += revenue
	switch method {
	case models.PaymentPromptPay:
		b.PromptPayRevenue += revenue
	case models.PaymentCash:
		b.CashRevenue += revenue
	}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func toArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

var (
	_ services.OrderRepository = (*OrderRepo)(nil)
	_ services.MenuRepository  = (*MenuRepo)(nil)
)

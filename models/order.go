package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type OrderStatus string

const (
	StatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	StatusPaid           OrderStatus = "PAID"
	StatusReady          OrderStatus = "READY"
	StatusCompleted      OrderStatus = "COMPLETED"
	StatusCancelled      OrderStatus = "CANCELLED"
)

// ParseStatus rejects anything outside the five known states.
func ParseStatus(s string) (OrderStatus, error) {
	switch st := OrderStatus(s); st {
	case StatusPendingPayment, StatusPaid, StatusReady, StatusCompleted, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

type PaymentMethod string

const (
	PaymentPromptPay PaymentMethod = "PROMPTPAY"
	PaymentCash      PaymentMethod = "CASH"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentPromptPay || m == PaymentCash
}

// Channel is where the order was taken. It decides the per-item quantity cap.
type Channel string

const (
	ChannelKiosk Channel = "kiosk"
	ChannelPOS   Channel = "pos"
)

type Order struct {
	ID            string         `json:"id"`
	CustomerName  string         `json:"customer_name"`
	Items         []OrderItem    `json:"items"`
	Status        OrderStatus    `json:"status"`
	DateKey       int            `json:"date_key"`
	Channel       Channel        `json:"channel,omitempty"`
	QueueNumber   *int           `json:"queue_number,omitempty"`
	PaymentMethod *PaymentMethod `json:"payment_method,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	PaidAt        *time.Time     `json:"paid_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// Total is always derived from the items; there is no stored total to drift.
func (o Order) Total() float64 {
	return TotalOf(o.Items)
}

// MarshalJSON adds the derived total_amount. Decoding ignores it.
func (o Order) MarshalJSON() ([]byte, error) {
	type plain Order
	return json.Marshal(struct {
		plain
		TotalAmount float64 `json:"total_amount"`
	}{plain: plain(o), TotalAmount: o.Total()})
}

type OrderItem struct {
	MenuItemID int     `json:"menu_item_id"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	Quantity   int     `json:"quantity"`
}

func (i OrderItem) Subtotal() float64 {
	return i.Price * float64(i.Quantity)
}

func TotalOf(items []OrderItem) float64 {
	total := 0.0
	for _, item := range items {
		total += item.Subtotal()
	}
	return total
}

// CreateOrderRequest is the creation payload. DateKey 0 means "today".
type CreateOrderRequest struct {
	CustomerName string      `json:"customer_name"`
	Items        []OrderItem `json:"items"`
	DateKey      int         `json:"date_key,omitempty"`
	Channel      Channel     `json:"channel,omitempty"`
}

type EventType string

const (
	EventCreated      EventType = "created"
	EventPaid         EventType = "paid"
	EventReady        EventType = "ready"
	EventCompleted    EventType = "completed"
	EventCancelled    EventType = "cancelled"
	EventPaymentCheck EventType = "payment_check"
)

type OrderEvent struct {
	OrderID     string      `json:"order_id"`
	Type        EventType   `json:"type"`
	Status      OrderStatus `json:"status"`
	QueueNumber *int        `json:"queue_number,omitempty"`
	Total       float64     `json:"total"`
	Occurred    time.Time   `json:"occurred"`
}

func NewOrderEvent(o *Order, t EventType, now time.Time) OrderEvent {
	return OrderEvent{
		OrderID:     o.ID,
		Type:        t,
		Status:      o.Status,
		QueueNumber: o.QueueNumber,
		Total:       o.Total(),
		Occurred:    now,
	}
}

package services

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"booth-pos/models"
	"booth-pos/utils"
)

const (
	MinCustomerNameLen = 2
	MaxCustomerNameLen = 50
	MaxIdempotencyKey  = 100
)

// ValidationError is a client mistake. It is never retried and never sent
// to the offline path.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Limits caps quantity per item by channel. Staff POS gets a higher cap.
type Limits struct {
	Kiosk int
	POS   int
}

var DefaultLimits = Limits{Kiosk: 10, POS: 30}

func (l Limits) MaxQuantity(ch models.Channel) int {
	if ch == models.ChannelPOS {
		return l.POS
	}
	return l.Kiosk
}

// ValidateCustomerName counts runes, so "สมชาย" is five characters.
func ValidateCustomerName(name string) error {
	trimmed := strings.TrimSpace(name)
	n := utf8.RuneCountInString(trimmed)
	switch {
	case n == 0:
		return invalid("customer_name", "name is required")
	case n < MinCustomerNameLen:
		return invalid("customer_name", "name too short")
	case n > MaxCustomerNameLen:
		return invalid("customer_name", "name too long")
	}
	return nil
}

func ValidateItems(items []models.OrderItem, maxQuantity int) error {
	if len(items) == 0 {
		return invalid("items", "order must contain at least one item")
	}
	for i, item := range items {
		if item.MenuItemID <= 0 {
			return invalid("items", "item %d: menu item id is required", i+1)
		}
		if item.Quantity < 1 || item.Quantity > maxQuantity {
			return invalid("items", "item %d: quantity must be 1-%d, got %d", i+1, maxQuantity, item.Quantity)
		}
		if item.Price <= 0 {
			return invalid("items", "item %d: price must be positive", i+1)
		}
	}
	return nil
}

// ValidateRequest runs every check that needs no server state.
func ValidateRequest(req models.CreateOrderRequest, limits Limits) error {
	if err := ValidateCustomerName(req.CustomerName); err != nil {
		return err
	}
	if req.Channel != "" && req.Channel != models.ChannelKiosk && req.Channel != models.ChannelPOS {
		return invalid("channel", "unknown channel %q", req.Channel)
	}
	if req.DateKey != 0 && !utils.ValidDateKey(req.DateKey) {
		return invalid("date_key", "date_key must be in DDMM format (101-3112)")
	}
	return ValidateItems(req.Items, limits.MaxQuantity(req.Channel))
}

func validateIdempotencyKey(key string) error {
	if len(key) > MaxIdempotencyKey {
		return invalid("idempotency_key", "idempotency key longer than %d characters", MaxIdempotencyKey)
	}
	return nil
}

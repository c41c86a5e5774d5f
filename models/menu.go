package models

type MenuItem struct {
	ID        int     `json:"id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Category  *string `json:"category,omitempty"`
	Available bool    `json:"available"`
}

// SalesSummary is the admin view of one operating day.
type SalesSummary struct {
	DateKey          int                 `json:"date_key"`
	OrdersByStatus   map[OrderStatus]int `json:"orders_by_status"`
	TotalRevenue     float64             `json:"total_revenue"`
	PromptPayRevenue float64             `json:"promptpay_revenue"`
	CashRevenue      float64             `json:"cash_revenue"`
}

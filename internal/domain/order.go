package domain

import "time"

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

// Order statuses.
const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// CanComplete reports whether an order in status s may be completed.
func (s OrderStatus) CanComplete() bool {
	return s == OrderStatusPending
}

// CanCancel reports whether an order in status s may be cancelled.
func (s OrderStatus) CanCancel() bool {
	return s == OrderStatusPending || s == OrderStatusCompleted
}

// Order is a sale recorded at the till.
type Order struct {
	ID            int64       `json:"id"`
	ClientRef     string      `json:"client_ref"`
	ServerID      *int64      `json:"server_id"`
	CustomerName  string      `json:"customer_name"`
	TotalAmount   float64     `json:"total_amount"`
	PaymentMethod string      `json:"payment_method"`
	Status        OrderStatus `json:"status"`
	CashierID     string      `json:"cashier_id"`
	Items         []OrderItem `json:"items"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

type OrderItem struct {
	ID        int64   `json:"id"`
	OrderID   int64   `json:"order_id"`
	ProductID int64   `json:"product_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// Subtotal returns the line amount.
func (i OrderItem) Subtotal() float64 {
	return float64(i.Quantity) * i.UnitPrice
}

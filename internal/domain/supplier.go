package domain

import "time"

// Supplier is a vendor products are bought from. Like products, suppliers
// are created offline and addressed by ClientRef until the backend confirms them.
type Supplier struct {
	ID          int64     `json:"id"`
	ClientRef   string    `json:"client_ref"`
	ServerID    *int64    `json:"server_id"`
	Name        string    `json:"name"`
	ContactName string    `json:"contact_name"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	Address     string    `json:"address"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

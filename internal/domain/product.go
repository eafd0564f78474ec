package domain

import "time"

// Product is an item kept in the local catalog.
// ClientRef is assigned locally and never changes; ServerID is filled in
// once the remote backend confirms the record.
type Product struct {
	ID           int64     `json:"id"`
	ClientRef    string    `json:"client_ref"`
	ServerID     *int64    `json:"server_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	SKU          string    `json:"sku"`
	Category     string    `json:"category"`
	Price        float64   `json:"price"`
	Cost         float64   `json:"cost"`
	Quantity     int       `json:"quantity"`
	ReorderLevel int       `json:"reorder_level"`
	SupplierID   *int64    `json:"supplier_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NeedsReorder reports whether stock fell to or below the reorder level.
func (p *Product) NeedsReorder() bool {
	return p.Quantity <= p.ReorderLevel
}

// MovementType classifies a stock movement.
type MovementType string

// Movement types.
const (
	MovementSale       MovementType = "sale"
	MovementReturn     MovementType = "return"
	MovementRestock    MovementType = "restock"
	MovementAdjustment MovementType = "adjustment"
)

// IsValid checks if the movement type is known.
func (t MovementType) IsValid() bool {
	switch t {
	case MovementSale, MovementReturn, MovementRestock, MovementAdjustment:
		return true
	}
	return false
}

// StockMovement records a signed change of a product's quantity.
type StockMovement struct {
	ID           int64        `json:"id"`
	ProductID    int64        `json:"product_id"`
	Quantity     int          `json:"quantity"`
	MovementType MovementType `json:"movement_type"`
	Notes        string       `json:"notes"`
	CreatedAt    time.Time    `json:"created_at"`
}

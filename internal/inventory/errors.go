package inventory

import "errors"

// Inventory errors.
var (
	ErrProductNotFound   = errors.New("product not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrSupplierNotFound  = errors.New("supplier not found")
	ErrSupplierInUse     = errors.New("supplier is referenced by products")
	ErrDuplicateSKU      = errors.New("product with this sku already exists")
	ErrProductInUse      = errors.New("product is referenced by orders")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidMovement   = errors.New("invalid stock movement")
	ErrEmptyOrder        = errors.New("order must contain at least one item")
	ErrInvalidOrderState = errors.New("order status does not allow this transition")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrNegativeAmount    = errors.New("price and cost must not be negative")
)

package inventory

import (
	"context"

	"github.com/bissquit/shelfsync/internal/domain"
	"github.com/bissquit/shelfsync/internal/replication"
)

// Repository defines the interface for local inventory data.
// Every mutating method stores its replication entry in the same transaction
// as the local change, so either both are durable or neither is.
type Repository interface {
	ListProducts(ctx context.Context, filter ProductFilter) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	CreateProduct(ctx context.Context, product *domain.Product, entry *replication.Entry) error
	UpdateProduct(ctx context.Context, product *domain.Product, entry *replication.Entry) error
	DeleteProduct(ctx context.Context, id int64, entry *replication.Entry) error
	// AdjustStock applies movement.Quantity to the product and returns its new state.
	AdjustStock(ctx context.Context, movement *domain.StockMovement, entry *replication.Entry) (*domain.Product, error)
	// ListMovements returns the newest movements of a product first.
	ListMovements(ctx context.Context, productID int64, limit int) ([]domain.StockMovement, error)

	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	GetSupplier(ctx context.Context, id int64) (*domain.Supplier, error)
	CreateSupplier(ctx context.Context, supplier *domain.Supplier, entry *replication.Entry) error
	UpdateSupplier(ctx context.Context, supplier *domain.Supplier, entry *replication.Entry) error
	DeleteSupplier(ctx context.Context, id int64, entry *replication.Entry) error

	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	// ListRecentOrders returns the newest orders first.
	ListRecentOrders(ctx context.Context, limit int) ([]domain.Order, error)
	// CreateOrder stores the order with its items and takes the sold quantities out of stock.
	CreateOrder(ctx context.Context, order *domain.Order, entry *replication.Entry) error
	CompleteOrder(ctx context.Context, id int64, entry *replication.Entry) (*domain.Order, error)
	// CancelOrder returns the order items to stock.
	CancelOrder(ctx context.Context, id int64, entry *replication.Entry) (*domain.Order, error)

	ServerIDWriter
}

// ServerIDWriter records identifiers assigned by the remote backend.
type ServerIDWriter interface {
	SetProductServerID(ctx context.Context, clientRef string, serverID int64) error
	SetOrderServerID(ctx context.Context, clientRef string, serverID int64) error
	SetSupplierServerID(ctx context.Context, clientRef string, serverID int64) error
}

// ProductFilter represents filter criteria for listing products.
type ProductFilter struct {
	Category     string
	Search       string
	LowStockOnly bool
}

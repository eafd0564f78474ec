// Package inventory provides the local product catalog and point-of-sale
// commands. Every mutation is written locally and queued for replication.
package inventory

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/bissquit/shelfsync/internal/domain"
	"github.com/bissquit/shelfsync/internal/replication"
	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// List limits.
const (
	DefaultMovementLimit = 50
	DefaultOrderLimit    = 10
	MaxListLimit         = 100
)

// Service implements inventory business logic.
type Service struct {
	repo Repository
}

// NewService creates a new inventory service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// ProductInput holds data for creating or updating a product.
// Quantity is only used on creation; later changes go through AdjustStock.
type ProductInput struct {
	Name         string
	Description  string
	SKU          string
	Category     string
	Price        float64
	Cost         float64
	Quantity     int
	ReorderLevel int
	SupplierID   *int64
}

// StockInput holds data for a stock adjustment.
type StockInput struct {
	QuantityChange int
	MovementType   domain.MovementType
	Notes          string
}

// OrderInput holds data for creating an order.
type OrderInput struct {
	CustomerName  string
	PaymentMethod string
	Items         []OrderItemInput
}

// OrderItemInput is one requested order line.
type OrderItemInput struct {
	ProductID int64
	Quantity  int
}

// ListProducts returns products matching filter.
func (s *Service) ListProducts(ctx context.Context, filter ProductFilter) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, filter)
}

// GetProduct returns a product by ID.
func (s *Service) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// CreateProduct stores a new product and queues its replication.
func (s *Service) CreateProduct(ctx context.Context, input ProductInput, actor string) (*domain.Product, error) {
	if input.Price < 0 || input.Cost < 0 {
		return nil, ErrNegativeAmount
	}

	product := &domain.Product{
		ClientRef:    uuid.NewString(),
		Name:         strings.TrimSpace(input.Name),
		Description:  input.Description,
		SKU:          normalizeSKU(input.SKU),
		Category:     normalizeCategory(input.Category),
		Price:        input.Price,
		Cost:         input.Cost,
		Quantity:     input.Quantity,
		ReorderLevel: input.ReorderLevel,
		SupplierID:   input.SupplierID,
	}

	supplier, err := s.resolveSupplier(ctx, product.SupplierID)
	if err != nil {
		return nil, err
	}

	entry, err := replication.NewEntry(replication.ProductCreate{
		ClientRef:     product.ClientRef,
		ProductFields: productFields(product, supplier),
	}, actor)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateProduct(ctx, product, entry); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	return product, nil
}

// UpdateProduct changes the descriptive fields of a product.
func (s *Service) UpdateProduct(ctx context.Context, id int64, input ProductInput, actor string) (*domain.Product, error) {
	if input.Price < 0 || input.Cost < 0 {
		return nil, ErrNegativeAmount
	}

	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	product.Name = strings.TrimSpace(input.Name)
	product.Description = input.Description
	product.SKU = normalizeSKU(input.SKU)
	product.Category = normalizeCategory(input.Category)
	product.Price = input.Price
	product.Cost = input.Cost
	product.ReorderLevel = input.ReorderLevel
	product.SupplierID = input.SupplierID

	supplier, err := s.resolveSupplier(ctx, product.SupplierID)
	if err != nil {
		return nil, err
	}

	entry, err := replication.NewEntry(replication.ProductUpdate{
		Ref:           productRef(product),
		ProductFields: productFields(product, supplier),
	}, actor)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateProduct(ctx, product, entry); err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}
	return product, nil
}

// DeleteProduct removes a product.
func (s *Service) DeleteProduct(ctx context.Context, id int64, actor string) error {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return err
	}

	entry, err := replication.NewEntry(replication.ProductDelete{Ref: productRef(product)}, actor)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteProduct(ctx, id, entry); err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return nil
}

// AdjustStock applies a signed quantity change to a product.
func (s *Service) AdjustStock(ctx context.Context, id int64, input StockInput, actor string) (*domain.Product, error) {
	if input.QuantityChange == 0 || !input.MovementType.IsValid() {
		return nil, ErrInvalidMovement
	}

	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if product.Quantity+input.QuantityChange < 0 {
		return nil, ErrInsufficientStock
	}

	entry, err := replication.NewEntry(replication.StockUpdate{
		Ref:            productRef(product),
		QuantityChange: input.QuantityChange,
		MovementType:   string(input.MovementType),
		Notes:          input.Notes,
	}, actor)
	if err != nil {
		return nil, err
	}

	movement := &domain.StockMovement{
		ProductID:    id,
		Quantity:     input.QuantityChange,
		MovementType: input.MovementType,
		Notes:        input.Notes,
	}
	updated, err := s.repo.AdjustStock(ctx, movement, entry)
	if err != nil {
		return nil, fmt.Errorf("adjust stock: %w", err)
	}
	return updated, nil
}

// ListMovements returns the latest stock movements of a product, newest first.
func (s *Service) ListMovements(ctx context.Context, productID int64, limit int) ([]domain.StockMovement, error) {
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.repo.ListMovements(ctx, productID, clampLimit(limit, DefaultMovementLimit))
}

// ListRecentOrders returns the latest orders, newest first.
func (s *Service) ListRecentOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	return s.repo.ListRecentOrders(ctx, clampLimit(limit, DefaultOrderLimit))
}

// GetOrder returns an order with its items.
func (s *Service) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	return s.repo.GetOrder(ctx, id)
}

// CreateOrder records a sale at current product prices.
func (s *Service) CreateOrder(ctx context.Context, input OrderInput, actor string) (*domain.Order, error) {
	if len(input.Items) == 0 {
		return nil, ErrEmptyOrder
	}

	order := &domain.Order{
		ClientRef:     uuid.NewString(),
		CustomerName:  strings.TrimSpace(input.CustomerName),
		PaymentMethod: input.PaymentMethod,
		Status:        domain.OrderStatusPending,
		CashierID:     actor,
		Items:         make([]domain.OrderItem, 0, len(input.Items)),
	}
	lines := make([]replication.OrderLine, 0, len(input.Items))

	var total float64
	for _, item := range input.Items {
		if item.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		product, err := s.repo.GetProduct(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}

		orderItem := domain.OrderItem{
			ProductID: product.ID,
			Quantity:  item.Quantity,
			UnitPrice: product.Price,
		}
		total += orderItem.Subtotal()
		order.Items = append(order.Items, orderItem)
		lines = append(lines, replication.OrderLine{
			Product:     productRef(product),
			Quantity:    item.Quantity,
			PriceAtSale: product.Price,
		})
	}
	order.TotalAmount = roundCents(total)

	entry, err := replication.NewEntry(replication.OrderCreate{
		ClientRef:     order.ClientRef,
		CustomerName:  order.CustomerName,
		PaymentMethod: order.PaymentMethod,
		TotalAmount:   order.TotalAmount,
		Items:         lines,
	}, actor)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateOrder(ctx, order, entry); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return order, nil
}

// CompleteOrder marks a pending order as completed.
func (s *Service) CompleteOrder(ctx context.Context, id int64, actor string) (*domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanComplete() {
		return nil, ErrInvalidOrderState
	}

	entry, err := replication.NewEntry(replication.OrderComplete{Ref: orderRef(order)}, actor)
	if err != nil {
		return nil, err
	}

	completed, err := s.repo.CompleteOrder(ctx, id, entry)
	if err != nil {
		return nil, fmt.Errorf("complete order: %w", err)
	}
	return completed, nil
}

// CancelOrder cancels an order and returns its items to stock.
func (s *Service) CancelOrder(ctx context.Context, id int64, actor string) (*domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanCancel() {
		return nil, ErrInvalidOrderState
	}

	entry, err := replication.NewEntry(replication.OrderCancel{Ref: orderRef(order)}, actor)
	if err != nil {
		return nil, err
	}

	cancelled, err := s.repo.CancelOrder(ctx, id, entry)
	if err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}
	return cancelled, nil
}

// resolveSupplier resolves the replication address of a product's supplier.
func (s *Service) resolveSupplier(ctx context.Context, id *int64) (*replication.Ref, error) {
	if id == nil {
		return nil, nil
	}
	supplier, err := s.repo.GetSupplier(ctx, *id)
	if err != nil {
		return nil, err
	}
	ref := supplierRef(supplier)
	return &ref, nil
}

func productFields(p *domain.Product, supplier *replication.Ref) replication.ProductFields {
	return replication.ProductFields{
		Name:         p.Name,
		Description:  p.Description,
		SKU:          p.SKU,
		Category:     p.Category,
		Price:        p.Price,
		Cost:         p.Cost,
		Quantity:     p.Quantity,
		ReorderLevel: p.ReorderLevel,
		Supplier:     supplier,
	}
}

func productRef(p *domain.Product) replication.Ref {
	return replication.Ref{ClientRef: p.ClientRef, ServerID: p.ServerID}
}

func orderRef(o *domain.Order) replication.Ref {
	return replication.Ref{ClientRef: o.ClientRef, ServerID: o.ServerID}
}

// Casers keep state and must not be shared between goroutines.
func normalizeSKU(sku string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(sku))
}

func normalizeCategory(category string) string {
	return cases.Title(language.English).String(strings.TrimSpace(category))
}

func clampLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	return min(limit, MaxListLimit)
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

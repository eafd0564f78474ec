// Package postgres provides the PostgreSQL implementation of the inventory repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/shelfsync/internal/domain"
	"github.com/bissquit/shelfsync/internal/inventory"
	pkgpostgres "github.com/bissquit/shelfsync/internal/pkg/postgres"
	"github.com/bissquit/shelfsync/internal/replication"
	replicationpostgres "github.com/bissquit/shelfsync/internal/replication/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements inventory.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

var _ inventory.Repository = (*Repository)(nil)

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const productColumns = `id, client_ref, server_id, name, description, sku, category, price, cost,
	quantity, reorder_level, supplier_id, created_at, updated_at`

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(
		&p.ID,
		&p.ClientRef,
		&p.ServerID,
		&p.Name,
		&p.Description,
		&p.SKU,
		&p.Category,
		&p.Price,
		&p.Cost,
		&p.Quantity,
		&p.ReorderLevel,
		&p.SupplierID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProducts returns products matching filter ordered by name.
func (r *Repository) ListProducts(ctx context.Context, filter inventory.ProductFilter) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE 1=1`
	args := make([]any, 0, 2)

	if filter.Category != "" {
		args = append(args, filter.Category)
		query += fmt.Sprintf(` AND LOWER(category) = LOWER($%d)`, len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		query += fmt.Sprintf(` AND (name ILIKE $%d OR sku ILIKE $%d)`, len(args), len(args))
	}
	if filter.LowStockOnly {
		query += ` AND quantity <= reorder_level`
	}
	query += ` ORDER BY name ASC, id ASC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	return products, nil
}

// GetProduct returns a product by ID.
func (r *Repository) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return getProduct(ctx, r.db, id)
}

func getProduct(ctx context.Context, q replicationpostgres.Querier, id int64) (*domain.Product, error) {
	p, err := scanProduct(q.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, inventory.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// CreateProduct inserts a product and its replication entry.
func (r *Repository) CreateProduct(ctx context.Context, product *domain.Product, entry *replication.Entry) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		query := `
			INSERT INTO products (client_ref, name, description, sku, category, price, cost,
				quantity, reorder_level, supplier_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id, created_at, updated_at
		`
		err := tx.QueryRow(ctx, query,
			product.ClientRef,
			product.Name,
			product.Description,
			product.SKU,
			product.Category,
			product.Price,
			product.Cost,
			product.Quantity,
			product.ReorderLevel,
			product.SupplierID,
		).Scan(&product.ID, &product.CreatedAt, &product.UpdatedAt)
		if err != nil {
			switch {
			case pkgpostgres.IsUniqueViolation(err):
				return inventory.ErrDuplicateSKU
			case pkgpostgres.IsForeignKeyViolation(err):
				return inventory.ErrSupplierNotFound
			}
			return fmt.Errorf("insert product: %w", err)
		}

		return replicationpostgres.Enqueue(ctx, tx, entry)
	})
}

// UpdateProduct updates the descriptive fields of a product.
func (r *Repository) UpdateProduct(ctx context.Context, product *domain.Product, entry *replication.Entry) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		query := `
			UPDATE products
			SET name = $2, description = $3, sku = $4, category = $5, price = $6, cost = $7,
				reorder_level = $8, supplier_id = $9, updated_at = NOW()
			WHERE id = $1
			RETURNING updated_at
		`
		err := tx.QueryRow(ctx, query,
			product.ID,
			product.Name,
			product.Description,
			product.SKU,
			product.Category,
			product.Price,
			product.Cost,
			product.ReorderLevel,
			product.SupplierID,
		).Scan(&product.UpdatedAt)
		if err != nil {
			switch {
			case errors.Is(err, pgx.ErrNoRows):
				return inventory.ErrProductNotFound
			case pkgpostgres.IsUniqueViolation(err):
				return inventory.ErrDuplicateSKU
			case pkgpostgres.IsForeignKeyViolation(err):
				return inventory.ErrSupplierNotFound
			}
			return fmt.Errorf("update product: %w", err)
		}

		return replicationpostgres.Enqueue(ctx, tx, entry)
	})
}

// DeleteProduct deletes a product. Products sold in any order are kept.
func (r *Repository) DeleteProduct(ctx context.Context, id int64, entry *replication.Entry) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
		if err != nil {
			if pkgpostgres.IsForeignKeyViolation(err) {
				return inventory.ErrProductInUse
			}
			return fmt.Errorf("delete product: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return inventory.ErrProductNotFound
		}

		return replicationpostgres.Enqueue(ctx, tx, entry)
	})
}

// AdjustStock records a stock movement and applies it to the product.
func (r *Repository) AdjustStock(ctx context.Context, movement *domain.StockMovement, entry *replication.Entry) (*domain.Product, error) {
	var product *domain.Product
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if err := changeStock(ctx, tx, movement.ProductID, movement.Quantity); err != nil {
			return err
		}
		if err := insertMovement(ctx, tx, movement); err != nil {
			return err
		}
		if err := replicationpostgres.Enqueue(ctx, tx, entry); err != nil {
			return err
		}

		var err error
		product, err = getProduct(ctx, tx, movement.ProductID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

// changeStock adds delta to the product quantity, refusing to go below zero.
func changeStock(ctx context.Context, tx pgx.Tx, productID int64, delta int) error {
	tag, err := tx.Exec(ctx,
		`UPDATE products SET quantity = quantity + $2, updated_at = NOW() WHERE id = $1 AND quantity + $2 >= 0`,
		productID, delta,
	)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check product: %w", err)
	}
	if !exists {
		return inventory.ErrProductNotFound
	}
	return inventory.ErrInsufficientStock
}

func insertMovement(ctx context.Context, tx pgx.Tx, m *domain.StockMovement) error {
	err := tx.QueryRow(ctx,
		`INSERT INTO stock_movements (product_id, quantity, movement_type, notes) VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		m.ProductID, m.Quantity, string(m.MovementType), m.Notes,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert stock movement: %w", err)
	}
	return nil
}

// GetOrder returns an order with its items.
func (r *Repository) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	var order *domain.Order
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var err error
		order, err = getOrder(ctx, tx, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

const orderColumns = `id, client_ref, server_id, customer_name, total_amount, payment_method, status,
	cashier_id, created_at, updated_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o      domain.Order
		status string
	)
	err := row.Scan(
		&o.ID,
		&o.ClientRef,
		&o.ServerID,
		&o.CustomerName,
		&o.TotalAmount,
		&o.PaymentMethod,
		&status,
		&o.CashierID,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	o.Items = make([]domain.OrderItem, 0)
	return &o, nil
}

func getOrder(ctx context.Context, tx pgx.Tx, id int64, forUpdate bool) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	o, err := scanOrder(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, inventory.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if err := attachItems(ctx, tx, []*domain.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

type rowsQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// attachItems loads the items of all orders in one query.
func attachItems(ctx context.Context, q rowsQuerier, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[int64]*domain.Order, len(orders))
	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := q.Query(ctx,
		`SELECT id, order_id, product_id, quantity, unit_price FROM order_items WHERE order_id = ANY($1) ORDER BY id ASC`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		o := byID[item.OrderID]
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate order items: %w", err)
	}
	return nil
}

// CreateOrder stores an order, its items and the matching sale movements.
func (r *Repository) CreateOrder(ctx context.Context, order *domain.Order, entry *replication.Entry) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		query := `
			INSERT INTO orders (client_ref, customer_name, total_amount, payment_method, status, cashier_id)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, created_at, updated_at
		`
		err := tx.QueryRow(ctx, query,
			order.ClientRef,
			order.CustomerName,
			order.TotalAmount,
			order.PaymentMethod,
			string(order.Status),
			order.CashierID,
		).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for i := range order.Items {
			item := &order.Items[i]
			item.OrderID = order.ID
			err := tx.QueryRow(ctx,
				`INSERT INTO order_items (order_id, product_id, quantity, unit_price) VALUES ($1, $2, $3, $4) RETURNING id`,
				order.ID, item.ProductID, item.Quantity, item.UnitPrice,
			).Scan(&item.ID)
			if err != nil {
				if pkgpostgres.IsForeignKeyViolation(err) {
					return inventory.ErrProductNotFound
				}
				return fmt.Errorf("insert order item: %w", err)
			}

			if err := changeStock(ctx, tx, item.ProductID, -item.Quantity); err != nil {
				return err
			}
			sale := &domain.StockMovement{
				ProductID:    item.ProductID,
				Quantity:     -item.Quantity,
				MovementType: domain.MovementSale,
				Notes:        fmt.Sprintf("order %s", order.ClientRef),
			}
			if err := insertMovement(ctx, tx, sale); err != nil {
				return err
			}
		}

		return replicationpostgres.Enqueue(ctx, tx, entry)
	})
}

// CompleteOrder marks a pending order as completed.
func (r *Repository) CompleteOrder(ctx context.Context, id int64, entry *replication.Entry) (*domain.Order, error) {
	return r.transitionOrder(ctx, id, entry, domain.OrderStatusCompleted)
}

// CancelOrder cancels an order and returns its items to stock.
func (r *Repository) CancelOrder(ctx context.Context, id int64, entry *replication.Entry) (*domain.Order, error) {
	return r.transitionOrder(ctx, id, entry, domain.OrderStatusCancelled)
}

func (r *Repository) transitionOrder(ctx context.Context, id int64, entry *replication.Entry, to domain.OrderStatus) (*domain.Order, error) {
	var order *domain.Order
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		current, err := getOrder(ctx, tx, id, true)
		if err != nil {
			return err
		}

		cancel := to == domain.OrderStatusCancelled
		if (cancel && !current.Status.CanCancel()) || (!cancel && !current.Status.CanComplete()) {
			return inventory.ErrInvalidOrderState
		}

		err = tx.QueryRow(ctx,
			`UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1 RETURNING updated_at`,
			id, string(to),
		).Scan(&current.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}

		if cancel {
			for _, item := range current.Items {
				if err := changeStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
					return err
				}
				ret := &domain.StockMovement{
					ProductID:    item.ProductID,
					Quantity:     item.Quantity,
					MovementType: domain.MovementReturn,
					Notes:        fmt.Sprintf("order %s cancelled", current.ClientRef),
				}
				if err := insertMovement(ctx, tx, ret); err != nil {
					return err
				}
			}
		}

		if err := replicationpostgres.Enqueue(ctx, tx, entry); err != nil {
			return err
		}

		current.Status = to
		order = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// SetProductServerID records the backend id of a product.
func (r *Repository) SetProductServerID(ctx context.Context, clientRef string, serverID int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE products SET server_id = $2 WHERE client_ref = $1`, clientRef, serverID)
	if err != nil {
		return fmt.Errorf("set product server id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return inventory.ErrProductNotFound
	}
	return nil
}

// SetOrderServerID records the backend id of an order.
func (r *Repository) SetOrderServerID(ctx context.Context, clientRef string, serverID int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE orders SET server_id = $2 WHERE client_ref = $1`, clientRef, serverID)
	if err != nil {
		return fmt.Errorf("set order server id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return inventory.ErrOrderNotFound
	}
	return nil
}

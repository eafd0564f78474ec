// Package sqlite provides the SQLite implementation of the inventory repository.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bissquit/shelfsync/internal/domain"
	"github.com/bissquit/shelfsync/internal/inventory"
	pkgsqlite "github.com/bissquit/shelfsync/internal/pkg/sqlite"
	"github.com/bissquit/shelfsync/internal/replication"
	replicationsqlite "github.com/bissquit/shelfsync/internal/replication/sqlite"
)

// Repository implements inventory.Repository using SQLite.
type Repository struct {
	db *sql.DB
}

var _ inventory.Repository = (*Repository)(nil)

// NewRepository creates a new SQLite repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const productColumns = `id, client_ref, server_id, name, description, sku, category, price, cost,
	quantity, reorder_level, supplier_id, created_at, updated_at`

func scanProduct(row rowScanner) (*domain.Product, error) {
	var (
		p          domain.Product
		serverID   sql.NullInt64
		supplierID sql.NullInt64
	)
	err := row.Scan(
		&p.ID,
		&p.ClientRef,
		&serverID,
		&p.Name,
		&p.Description,
		&p.SKU,
		&p.Category,
		&p.Price,
		&p.Cost,
		&p.Quantity,
		&p.ReorderLevel,
		&supplierID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if serverID.Valid {
		p.ServerID = &serverID.Int64
	}
	if supplierID.Valid {
		p.SupplierID = &supplierID.Int64
	}
	return &p, nil
}

// ListProducts returns products matching filter ordered by name.
func (r *Repository) ListProducts(ctx context.Context, filter inventory.ProductFilter) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE 1=1`
	args := make([]any, 0, 3)

	if filter.Category != "" {
		query += ` AND category = ? COLLATE NOCASE`
		args = append(args, filter.Category)
	}
	if filter.Search != "" {
		query += ` AND (name LIKE ? OR sku LIKE ?)`
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern)
	}
	if filter.LowStockOnly {
		query += ` AND quantity <= reorder_level`
	}
	query += ` ORDER BY name ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
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

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getProduct(ctx context.Context, q queryRower, id int64) (*domain.Product, error) {
	row := q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// CreateProduct inserts a product and its replication entry.
func (r *Repository) CreateProduct(ctx context.Context, product *domain.Product, entry *replication.Entry) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		query := `
			INSERT INTO products (client_ref, name, description, sku, category, price, cost,
				quantity, reorder_level, supplier_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		res, err := tx.ExecContext(ctx, query,
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
			now,
			now,
		)
		if err != nil {
			if pkgsqlite.IsUniqueViolation(err) {
				return inventory.ErrDuplicateSKU
			}
			return fmt.Errorf("insert product: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("get product id: %w", err)
		}

		if err := replicationsqlite.Enqueue(ctx, tx, entry); err != nil {
			return err
		}

		product.ID = id
		product.CreatedAt = now
		product.UpdatedAt = now
		return nil
	})
}

// UpdateProduct updates the descriptive fields of a product.
func (r *Repository) UpdateProduct(ctx context.Context, product *domain.Product, entry *replication.Entry) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		query := `
			UPDATE products
			SET name = ?, description = ?, sku = ?, category = ?, price = ?, cost = ?,
				reorder_level = ?, supplier_id = ?, updated_at = ?
			WHERE id = ?
		`
		res, err := tx.ExecContext(ctx, query,
			product.Name,
			product.Description,
			product.SKU,
			product.Category,
			product.Price,
			product.Cost,
			product.ReorderLevel,
			product.SupplierID,
			now,
			product.ID,
		)
		if err != nil {
			if pkgsqlite.IsUniqueViolation(err) {
				return inventory.ErrDuplicateSKU
			}
			return fmt.Errorf("update product: %w", err)
		}
		if err := expectOneRow(res, inventory.ErrProductNotFound); err != nil {
			return err
		}

		if err := replicationsqlite.Enqueue(ctx, tx, entry); err != nil {
			return err
		}

		product.UpdatedAt = now
		return nil
	})
}

// DeleteProduct deletes a product. Products sold in any order are kept.
func (r *Repository) DeleteProduct(ctx context.Context, id int64, entry *replication.Entry) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
		if err != nil {
			if pkgsqlite.IsForeignKeyViolation(err) {
				return inventory.ErrProductInUse
			}
			return fmt.Errorf("delete product: %w", err)
		}
		if err := expectOneRow(res, inventory.ErrProductNotFound); err != nil {
			return err
		}

		return replicationsqlite.Enqueue(ctx, tx, entry)
	})
}

// AdjustStock records a stock movement and applies it to the product.
func (r *Repository) AdjustStock(ctx context.Context, movement *domain.StockMovement, entry *replication.Entry) (*domain.Product, error) {
	var product *domain.Product
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		if err := changeStock(ctx, tx, movement.ProductID, movement.Quantity, now); err != nil {
			return err
		}

		id, err := insertMovement(ctx, tx, movement.ProductID, movement.Quantity, movement.MovementType, movement.Notes, now)
		if err != nil {
			return err
		}

		if err := replicationsqlite.Enqueue(ctx, tx, entry); err != nil {
			return err
		}

		product, err = getProduct(ctx, tx, movement.ProductID)
		if err != nil {
			return err
		}
		movement.ID = id
		movement.CreatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

// changeStock adds delta to the product quantity, refusing to go below zero.
func changeStock(ctx context.Context, tx *sql.Tx, productID int64, delta int, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE products SET quantity = quantity + ?, updated_at = ? WHERE id = ? AND quantity + ? >= 0`,
		delta, now, productID, delta,
	)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get affected rows: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM products WHERE id = ?`, productID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.ErrProductNotFound
	}
	if err != nil {
		return fmt.Errorf("check product: %w", err)
	}
	return inventory.ErrInsufficientStock
}

func insertMovement(ctx context.Context, tx *sql.Tx, productID int64, quantity int, kind domain.MovementType, notes string, now time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO stock_movements (product_id, quantity, movement_type, notes, created_at) VALUES (?, ?, ?, ?, ?)`,
		productID, quantity, string(kind), notes, now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert stock movement: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get stock movement id: %w", err)
	}
	return id, nil
}

// GetOrder returns an order with its items.
func (r *Repository) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	var order *domain.Order
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		order, err = getOrder(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

const orderColumns = `id, client_ref, server_id, customer_name, total_amount, payment_method, status,
	cashier_id, created_at, updated_at`

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o        domain.Order
		status   string
		serverID sql.NullInt64
	)
	err := row.Scan(
		&o.ID,
		&o.ClientRef,
		&serverID,
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
	if serverID.Valid {
		o.ServerID = &serverID.Int64
	}
	return &o, nil
}

func getOrder(ctx context.Context, tx *sql.Tx, id int64) (*domain.Order, error) {
	o, err := scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if o.Items, err = orderItems(ctx, tx, id); err != nil {
		return nil, err
	}
	return o, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func orderItems(ctx context.Context, q queryer, orderID int64) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, order_id, product_id, quantity, unit_price FROM order_items WHERE order_id = ? ORDER BY id ASC`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

// CreateOrder stores an order, its items and the matching sale movements.
func (r *Repository) CreateOrder(ctx context.Context, order *domain.Order, entry *replication.Entry) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		query := `
			INSERT INTO orders (client_ref, customer_name, total_amount, payment_method, status, cashier_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`
		res, err := tx.ExecContext(ctx, query,
			order.ClientRef,
			order.CustomerName,
			order.TotalAmount,
			order.PaymentMethod,
			string(order.Status),
			order.CashierID,
			now,
			now,
		)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		orderID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("get order id: %w", err)
		}

		for i := range order.Items {
			item := &order.Items[i]
			res, err := tx.ExecContext(ctx,
				`INSERT INTO order_items (order_id, product_id, quantity, unit_price) VALUES (?, ?, ?, ?)`,
				orderID, item.ProductID, item.Quantity, item.UnitPrice,
			)
			if err != nil {
				if pkgsqlite.IsForeignKeyViolation(err) {
					return inventory.ErrProductNotFound
				}
				return fmt.Errorf("insert order item: %w", err)
			}
			if item.ID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("get order item id: %w", err)
			}
			item.OrderID = orderID

			if err := changeStock(ctx, tx, item.ProductID, -item.Quantity, now); err != nil {
				return err
			}
			notes := fmt.Sprintf("order %s", order.ClientRef)
			if _, err := insertMovement(ctx, tx, item.ProductID, -item.Quantity, domain.MovementSale, notes, now); err != nil {
				return err
			}
		}

		if err := replicationsqlite.Enqueue(ctx, tx, entry); err != nil {
			return err
		}

		order.ID = orderID
		order.CreatedAt = now
		order.UpdatedAt = now
		return nil
	})
}

// CompleteOrder marks a pending order as completed.
func (r *Repository) CompleteOrder(ctx context.Context, id int64, entry *replication.Entry) (*domain.Order, error) {
	return r.transitionOrder(ctx, id, entry, domain.OrderStatusCompleted, false)
}

// CancelOrder cancels an order and returns its items to stock.
func (r *Repository) CancelOrder(ctx context.Context, id int64, entry *replication.Entry) (*domain.Order, error) {
	return r.transitionOrder(ctx, id, entry, domain.OrderStatusCancelled, true)
}

func (r *Repository) transitionOrder(ctx context.Context, id int64, entry *replication.Entry, to domain.OrderStatus, restock bool) (*domain.Order, error) {
	var order *domain.Order
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		current, err := getOrder(ctx, tx, id)
		if err != nil {
			return err
		}

		allowed := current.Status.CanComplete()
		if to == domain.OrderStatusCancelled {
			allowed = current.Status.CanCancel()
		}
		if !allowed {
			return inventory.ErrInvalidOrderState
		}

		now := time.Now().UTC()
		_, err = tx.ExecContext(ctx, `UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`, string(to), now, id)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}

		if restock {
			notes := fmt.Sprintf("order %s cancelled", current.ClientRef)
			for _, item := range current.Items {
				if err := changeStock(ctx, tx, item.ProductID, item.Quantity, now); err != nil {
					return err
				}
				if _, err := insertMovement(ctx, tx, item.ProductID, item.Quantity, domain.MovementReturn, notes, now); err != nil {
					return err
				}
			}
		}

		if err := replicationsqlite.Enqueue(ctx, tx, entry); err != nil {
			return err
		}

		current.Status = to
		current.UpdatedAt = now
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
	return r.setServerID(ctx, "products", clientRef, serverID, inventory.ErrProductNotFound)
}

// SetOrderServerID records the backend id of an order.
func (r *Repository) SetOrderServerID(ctx context.Context, clientRef string, serverID int64) error {
	return r.setServerID(ctx, "orders", clientRef, serverID, inventory.ErrOrderNotFound)
}

func (r *Repository) setServerID(ctx context.Context, table, clientRef string, serverID int64, notFound error) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE `+table+` SET server_id = ? WHERE client_ref = ?`,
		serverID, clientRef,
	)
	if err != nil {
		return fmt.Errorf("set %s server id: %w", strings.TrimSuffix(table, "s"), err)
	}
	return expectOneRow(res, notFound)
}

func (r *Repository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

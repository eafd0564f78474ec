package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/shelfsync/internal/domain"
	"github.com/bissquit/shelfsync/internal/inventory"
	"github.com/bissquit/shelfsync/internal/replication"
	replicationsqlite "github.com/bissquit/shelfsync/internal/replication/sqlite"
)

const supplierColumns = `id, client_ref, server_id, name, contact_name, email, phone, address, created_at, updated_at`

func scanSupplier(row rowScanner) (*domain.Supplier, error) {
	var (
		s        domain.Supplier
		serverID sql.NullInt64
	)
	err := row.Scan(
		&s.ID,
		&s.ClientRef,
		&serverID,
		&s.Name,
		&s.ContactName,
		&s.Email,
		&s.Phone,
		&s.Address,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if serverID.Valid {
		s.ServerID = &serverID.Int64
	}
	return &s, nil
}

// ListSuppliers returns all suppliers ordered by name.
func (r *Repository) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+supplierColumns+` FROM suppliers ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list suppliers: %w", err)
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0)
	for rows.Next() {
		s, err := scanSupplier(rows)
		if err != nil {
			return nil, fmt.Errorf("scan supplier: %w", err)
		}
		suppliers = append(suppliers, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate suppliers: %w", err)
	}

	return suppliers, nil
}

// GetSupplier returns a supplier by ID.
func (r *Repository) GetSupplier(ctx context.Context, id int64) (*domain.Supplier, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id = ?`, id)
	s, err := scanSupplier(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrSupplierNotFound
		}
		return nil, fmt.Errorf("get supplier: %w", err)
	}
	return s, nil
}

// CreateSupplier inserts a supplier and its replication entry.
func (r *Repository) CreateSupplier(ctx context.Context, supplier *domain.Supplier, entry *replication.Entry) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		query := `
			INSERT INTO suppliers (client_ref, name, contact_name, email, phone, address, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`
		res, err := tx.ExecContext(ctx, query,
			supplier.ClientRef,
			supplier.Name,
			supplier.ContactName,
			supplier.Email,
			supplier.Phone,
			supplier.Address,
			now,
			now,
		)
		if err != nil {
			return fmt.Errorf("insert supplier: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("get supplier id: %w", err)
		}

		if err := replicationsqlite.Enqueue(ctx, tx, entry); err != nil {
			return err
		}

		supplier.ID = id
		supplier.CreatedAt = now
		supplier.UpdatedAt = now
		return nil
	})
}

// UpdateSupplier replaces the contact details of a supplier.
func (r *Repository) UpdateSupplier(ctx context.Context, supplier *domain.Supplier, entry *replication.Entry) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		query := `
			UPDATE suppliers
			SET name = ?, contact_name = ?, email = ?, phone = ?, address = ?, updated_at = ?
			WHERE id = ?
		`
		res, err := tx.ExecContext(ctx, query,
			supplier.Name,
			supplier.ContactName,
			supplier.Email,
			supplier.Phone,
			supplier.Address,
			now,
			supplier.ID,
		)
		if err != nil {
			return fmt.Errorf("update supplier: %w", err)
		}
		if err := expectOneRow(res, inventory.ErrSupplierNotFound); err != nil {
			return err
		}

		if err := replicationsqlite.Enqueue(ctx, tx, entry); err != nil {
			return err
		}

		supplier.UpdatedAt = now
		return nil
	})
}

// DeleteSupplier deletes a supplier no product refers to.
func (r *Repository) DeleteSupplier(ctx context.Context, id int64, entry *replication.Entry) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		var inUse bool
		err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE supplier_id = ?)`, id).Scan(&inUse)
		if err != nil {
			return fmt.Errorf("check supplier products: %w", err)
		}
		if inUse {
			return inventory.ErrSupplierInUse
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM suppliers WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete supplier: %w", err)
		}
		if err := expectOneRow(res, inventory.ErrSupplierNotFound); err != nil {
			return err
		}

		return replicationsqlite.Enqueue(ctx, tx, entry)
	})
}

// SetSupplierServerID records the backend id of a supplier.
func (r *Repository) SetSupplierServerID(ctx context.Context, clientRef string, serverID int64) error {
	return r.setServerID(ctx, "suppliers", clientRef, serverID, inventory.ErrSupplierNotFound)
}

// ListMovements returns the newest movements of a product first.
func (r *Repository) ListMovements(ctx context.Context, productID int64, limit int) ([]domain.StockMovement, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, quantity, movement_type, notes, created_at
		FROM stock_movements
		WHERE product_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("list stock movements: %w", err)
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0)
	for rows.Next() {
		var (
			m    domain.StockMovement
			kind string
		)
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Quantity, &kind, &m.Notes, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stock movement: %w", err)
		}
		m.MovementType = domain.MovementType(kind)
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock movements: %w", err)
	}

	return movements, nil
}

// ListRecentOrders returns the newest orders first.
func (r *Repository) ListRecentOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	rows.Close()

	// The pool holds a single connection, so items are read once the order rows are closed.
	for i := range orders {
		if orders[i].Items, err = orderItems(ctx, r.db, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

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
)

const supplierColumns = `id, client_ref, server_id, name, contact_name, email, phone, address, created_at, updated_at`

func scanSupplier(row pgx.Row) (*domain.Supplier, error) {
	var s domain.Supplier
	err := row.Scan(
		&s.ID,
		&s.ClientRef,
		&s.ServerID,
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
	return &s, nil
}

// ListSuppliers returns all suppliers ordered by name.
func (r *Repository) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := r.db.Query(ctx, `SELECT `+supplierColumns+` FROM suppliers ORDER BY name ASC, id ASC`)
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
	s, err := scanSupplier(r.db.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, inventory.ErrSupplierNotFound
		}
		return nil, fmt.Errorf("get supplier: %w", err)
	}
	return s, nil
}

// CreateSupplier inserts a supplier and its replication entry.
func (r *Repository) CreateSupplier(ctx context.Context, supplier *domain.Supplier, entry *replication.Entry) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		query := `
			INSERT INTO suppliers (client_ref, name, contact_name, email, phone, address)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, created_at, updated_at
		`
		err := tx.QueryRow(ctx, query,
			supplier.ClientRef,
			supplier.Name,
			supplier.ContactName,
			supplier.Email,
			supplier.Phone,
			supplier.Address,
		).Scan(&supplier.ID, &supplier.CreatedAt, &supplier.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert supplier: %w", err)
		}

		return replicationpostgres.Enqueue(ctx, tx, entry)
	})
}

// UpdateSupplier replaces the contact details of a supplier.
func (r *Repository) UpdateSupplier(ctx context.Context, supplier *domain.Supplier, entry *replication.Entry) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		query := `
			UPDATE suppliers
			SET name = $2, contact_name = $3, email = $4, phone = $5, address = $6, updated_at = NOW()
			WHERE id = $1
			RETURNING updated_at
		`
		err := tx.QueryRow(ctx, query,
			supplier.ID,
			supplier.Name,
			supplier.ContactName,
			supplier.Email,
			supplier.Phone,
			supplier.Address,
		).Scan(&supplier.UpdatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return inventory.ErrSupplierNotFound
			}
			return fmt.Errorf("update supplier: %w", err)
		}

		return replicationpostgres.Enqueue(ctx, tx, entry)
	})
}

// DeleteSupplier deletes a supplier no product refers to.
func (r *Repository) DeleteSupplier(ctx context.Context, id int64, entry *replication.Entry) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM suppliers WHERE id = $1`, id)
		if err != nil {
			if pkgpostgres.IsForeignKeyViolation(err) {
				return inventory.ErrSupplierInUse
			}
			return fmt.Errorf("delete supplier: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return inventory.ErrSupplierNotFound
		}

		return replicationpostgres.Enqueue(ctx, tx, entry)
	})
}

// SetSupplierServerID records the backend id of a supplier.
func (r *Repository) SetSupplierServerID(ctx context.Context, clientRef string, serverID int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE suppliers SET server_id = $2 WHERE client_ref = $1`, clientRef, serverID)
	if err != nil {
		return fmt.Errorf("set supplier server id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return inventory.ErrSupplierNotFound
	}
	return nil
}

// ListMovements returns the newest movements of a product first.
func (r *Repository) ListMovements(ctx context.Context, productID int64, limit int) ([]domain.StockMovement, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, product_id, quantity, movement_type, notes, created_at
		FROM stock_movements
		WHERE product_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
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
	rows, err := r.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	rows.Close()

	if err := attachItems(ctx, r.db, orders); err != nil {
		return nil, err
	}

	out := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, *o)
	}
	return out, nil
}

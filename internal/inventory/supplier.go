package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/bissquit/shelfsync/internal/domain"
	"github.com/bissquit/shelfsync/internal/replication"
	"github.com/google/uuid"
)

// SupplierInput holds data for creating or updating a supplier.
type SupplierInput struct {
	Name        string
	ContactName string
	Email       string
	Phone       string
	Address     string
}

// ListSuppliers returns all suppliers ordered by name.
func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

// GetSupplier returns a supplier by ID.
func (s *Service) GetSupplier(ctx context.Context, id int64) (*domain.Supplier, error) {
	return s.repo.GetSupplier(ctx, id)
}

// CreateSupplier stores a new supplier and queues its replication.
func (s *Service) CreateSupplier(ctx context.Context, input SupplierInput, actor string) (*domain.Supplier, error) {
	supplier := &domain.Supplier{ClientRef: uuid.NewString()}
	applySupplierInput(supplier, input)

	entry, err := replication.NewEntry(replication.SupplierCreate{
		ClientRef:      supplier.ClientRef,
		SupplierFields: supplierFields(supplier),
	}, actor)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateSupplier(ctx, supplier, entry); err != nil {
		return nil, fmt.Errorf("create supplier: %w", err)
	}
	return supplier, nil
}

// UpdateSupplier replaces the contact details of a supplier.
func (s *Service) UpdateSupplier(ctx context.Context, id int64, input SupplierInput, actor string) (*domain.Supplier, error) {
	supplier, err := s.repo.GetSupplier(ctx, id)
	if err != nil {
		return nil, err
	}
	applySupplierInput(supplier, input)

	entry, err := replication.NewEntry(replication.SupplierUpdate{
		Ref:            supplierRef(supplier),
		SupplierFields: supplierFields(supplier),
	}, actor)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateSupplier(ctx, supplier, entry); err != nil {
		return nil, fmt.Errorf("update supplier: %w", err)
	}
	return supplier, nil
}

// DeleteSupplier removes a supplier no product refers to.
func (s *Service) DeleteSupplier(ctx context.Context, id int64, actor string) error {
	supplier, err := s.repo.GetSupplier(ctx, id)
	if err != nil {
		return err
	}

	entry, err := replication.NewEntry(replication.SupplierDelete{Ref: supplierRef(supplier)}, actor)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteSupplier(ctx, id, entry); err != nil {
		return fmt.Errorf("delete supplier: %w", err)
	}
	return nil
}

func applySupplierInput(supplier *domain.Supplier, input SupplierInput) {
	supplier.Name = strings.TrimSpace(input.Name)
	supplier.ContactName = strings.TrimSpace(input.ContactName)
	supplier.Email = strings.ToLower(strings.TrimSpace(input.Email))
	supplier.Phone = strings.TrimSpace(input.Phone)
	supplier.Address = strings.TrimSpace(input.Address)
}

func supplierFields(s *domain.Supplier) replication.SupplierFields {
	return replication.SupplierFields{
		Name:        s.Name,
		ContactName: s.ContactName,
		Email:       s.Email,
		Phone:       s.Phone,
		Address:     s.Address,
	}
}

func supplierRef(s *domain.Supplier) replication.Ref {
	return replication.Ref{ClientRef: s.ClientRef, ServerID: s.ServerID}
}

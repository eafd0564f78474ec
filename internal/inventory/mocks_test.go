package inventory

import (
	"context"
	"sync"

	"github.com/bissquit/shelfsync/internal/domain"
	"github.com/bissquit/shelfsync/internal/replication"
)

// mockRepository implements Repository in memory and records queued entries.
type mockRepository struct {
	mu        sync.Mutex
	products  map[int64]*domain.Product
	orders    map[int64]*domain.Order
	suppliers map[int64]*domain.Supplier
	movements []domain.StockMovement
	entries   []*replication.Entry
	nextID    int64
	writeErr  error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		products:  make(map[int64]*domain.Product),
		orders:    make(map[int64]*domain.Order),
		suppliers: make(map[int64]*domain.Supplier),
	}
}

func (m *mockRepository) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *mockRepository) ListProducts(_ context.Context, _ ProductFilter) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, *p)
	}
	return out, nil
}

func (m *mockRepository) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepository) CreateProduct(_ context.Context, product *domain.Product, entry *replication.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	for _, p := range m.products {
		if p.SKU == product.SKU {
			return ErrDuplicateSKU
		}
	}
	product.ID = m.id()
	cp := *product
	m.products[product.ID] = &cp
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockRepository) UpdateProduct(_ context.Context, product *domain.Product, entry *replication.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	if _, ok := m.products[product.ID]; !ok {
		return ErrProductNotFound
	}
	cp := *product
	m.products[product.ID] = &cp
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockRepository) DeleteProduct(_ context.Context, id int64, entry *replication.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	if _, ok := m.products[id]; !ok {
		return ErrProductNotFound
	}
	delete(m.products, id)
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockRepository) AdjustStock(_ context.Context, movement *domain.StockMovement, entry *replication.Entry) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return nil, m.writeErr
	}
	p, ok := m.products[movement.ProductID]
	if !ok {
		return nil, ErrProductNotFound
	}
	if p.Quantity+movement.Quantity < 0 {
		return nil, ErrInsufficientStock
	}
	p.Quantity += movement.Quantity
	movement.ID = m.id()
	m.movements = append(m.movements, *movement)
	m.entries = append(m.entries, entry)
	cp := *p
	return &cp, nil
}

func (m *mockRepository) ListMovements(_ context.Context, productID int64, limit int) ([]domain.StockMovement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.StockMovement, 0)
	for i := len(m.movements) - 1; i >= 0 && len(out) < limit; i-- {
		if m.movements[i].ProductID == productID {
			out = append(out, m.movements[i])
		}
	}
	return out, nil
}

func (m *mockRepository) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Supplier, 0, len(m.suppliers))
	for _, s := range m.suppliers {
		out = append(out, *s)
	}
	return out, nil
}

func (m *mockRepository) GetSupplier(_ context.Context, id int64) (*domain.Supplier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.suppliers[id]
	if !ok {
		return nil, ErrSupplierNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockRepository) CreateSupplier(_ context.Context, supplier *domain.Supplier, entry *replication.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	supplier.ID = m.id()
	cp := *supplier
	m.suppliers[supplier.ID] = &cp
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockRepository) UpdateSupplier(_ context.Context, supplier *domain.Supplier, entry *replication.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	if _, ok := m.suppliers[supplier.ID]; !ok {
		return ErrSupplierNotFound
	}
	cp := *supplier
	m.suppliers[supplier.ID] = &cp
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockRepository) DeleteSupplier(_ context.Context, id int64, entry *replication.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	if _, ok := m.suppliers[id]; !ok {
		return ErrSupplierNotFound
	}
	for _, p := range m.products {
		if p.SupplierID != nil && *p.SupplierID == id {
			return ErrSupplierInUse
		}
	}
	delete(m.suppliers, id)
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockRepository) ListRecentOrders(_ context.Context, limit int) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Order, 0)
	for id := m.nextID; id > 0 && len(out) < limit; id-- {
		if o, ok := m.orders[id]; ok {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *mockRepository) GetOrder(_ context.Context, id int64) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockRepository) CreateOrder(_ context.Context, order *domain.Order, entry *replication.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	for _, item := range order.Items {
		p, ok := m.products[item.ProductID]
		if !ok {
			return ErrProductNotFound
		}
		if p.Quantity < item.Quantity {
			return ErrInsufficientStock
		}
	}
	for _, item := range order.Items {
		m.products[item.ProductID].Quantity -= item.Quantity
	}
	order.ID = m.id()
	cp := *order
	m.orders[order.ID] = &cp
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockRepository) CompleteOrder(_ context.Context, id int64, entry *replication.Entry) (*domain.Order, error) {
	return m.transition(id, entry, domain.OrderStatusCompleted)
}

func (m *mockRepository) CancelOrder(_ context.Context, id int64, entry *replication.Entry) (*domain.Order, error) {
	return m.transition(id, entry, domain.OrderStatusCancelled)
}

func (m *mockRepository) transition(id int64, entry *replication.Entry, to domain.OrderStatus) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return nil, m.writeErr
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if to == domain.OrderStatusCancelled {
		for _, item := range o.Items {
			if p, ok := m.products[item.ProductID]; ok {
				p.Quantity += item.Quantity
			}
		}
	}
	o.Status = to
	m.entries = append(m.entries, entry)
	cp := *o
	return &cp, nil
}

func (m *mockRepository) SetProductServerID(_ context.Context, clientRef string, serverID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.ClientRef == clientRef {
			p.ServerID = &serverID
			return nil
		}
	}
	return ErrProductNotFound
}

func (m *mockRepository) SetOrderServerID(_ context.Context, clientRef string, serverID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ClientRef == clientRef {
			o.ServerID = &serverID
			return nil
		}
	}
	return ErrOrderNotFound
}

func (m *mockRepository) SetSupplierServerID(_ context.Context, clientRef string, serverID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.suppliers {
		if s.ClientRef == clientRef {
			s.ServerID = &serverID
			return nil
		}
	}
	return ErrSupplierNotFound
}

func (m *mockRepository) lastEntry() *replication.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return nil
	}
	return m.entries[len(m.entries)-1]
}

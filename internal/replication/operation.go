package replication

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// OperationKind identifies a replicated business operation.
type OperationKind string

// Operation kinds.
const (
	KindProductCreate OperationKind = "product_create"
	KindProductUpdate OperationKind = "product_update"
	KindProductDelete OperationKind = "product_delete"
	KindStockUpdate   OperationKind = "stock_update"
	KindOrderCreate   OperationKind = "order_create"
	KindOrderComplete OperationKind = "order_complete"
	KindOrderCancel   OperationKind = "order_cancel"

	KindSupplierCreate OperationKind = "supplier_create"
	KindSupplierUpdate OperationKind = "supplier_update"
	KindSupplierDelete OperationKind = "supplier_delete"
)

// Kinds returns every operation kind the dispatcher can decode.
func Kinds() []OperationKind {
	return []OperationKind{
		KindProductCreate,
		KindProductUpdate,
		KindProductDelete,
		KindStockUpdate,
		KindOrderCreate,
		KindOrderComplete,
		KindOrderCancel,
		KindSupplierCreate,
		KindSupplierUpdate,
		KindSupplierDelete,
	}
}

// Operation is a typed payload of a queue entry.
type Operation interface {
	Kind() OperationKind
	Method() string
	Endpoint() string
}

// Ref addresses a record on the remote backend. Records the backend has not
// confirmed yet are addressed by their client reference.
type Ref struct {
	ClientRef string `json:"client_ref"`
	ServerID  *int64 `json:"server_id,omitempty"`
}

func (r Ref) path(collection string) string {
	if r.ServerID != nil {
		return fmt.Sprintf("/%s/%d", collection, *r.ServerID)
	}
	return fmt.Sprintf("/%s/ref/%s", collection, r.ClientRef)
}

// key names the record independently of whether the backend confirmed it.
func (r Ref) key(collection string) string {
	if r.ClientRef == "" && r.ServerID != nil {
		return fmt.Sprintf("%s#%d", collection, *r.ServerID)
	}
	return collection + "/" + r.ClientRef
}

// ProductFields is the replicated state of a product.
type ProductFields struct {
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	SKU          string  `json:"sku"`
	Category     string  `json:"category"`
	Price        float64 `json:"price"`
	Cost         float64 `json:"cost"`
	Quantity     int     `json:"quantity"`
	ReorderLevel int     `json:"reorder_level"`
	Supplier     *Ref    `json:"supplier,omitempty"`
}

// ProductCreate registers a product created offline.
type ProductCreate struct {
	ClientRef string `json:"client_ref"`
	ProductFields
}

// Kind returns KindProductCreate.
func (ProductCreate) Kind() OperationKind { return KindProductCreate }

// Method returns POST.
func (ProductCreate) Method() string { return http.MethodPost }

// Endpoint returns the product collection.
func (ProductCreate) Endpoint() string { return "/products" }

// ProductUpdate replaces the replicated state of a product.
type ProductUpdate struct {
	Ref
	ProductFields
}

// Kind returns KindProductUpdate.
func (ProductUpdate) Kind() OperationKind { return KindProductUpdate }

// Method returns PUT.
func (ProductUpdate) Method() string { return http.MethodPut }

// Endpoint addresses the product by server id or client reference.
func (o ProductUpdate) Endpoint() string { return o.path("products") }

// ProductDelete removes a product.
type ProductDelete struct {
	Ref
}

// Kind returns KindProductDelete.
func (ProductDelete) Kind() OperationKind { return KindProductDelete }

// Method returns DELETE.
func (ProductDelete) Method() string { return http.MethodDelete }

// Endpoint addresses the product by server id or client reference.
func (o ProductDelete) Endpoint() string { return o.path("products") }

// StockUpdate is a signed quantity change of a product.
type StockUpdate struct {
	Ref
	QuantityChange int    `json:"quantity_change"`
	MovementType   string `json:"movement_type"`
	Notes          string `json:"notes,omitempty"`
}

func (StockUpdate) Kind() OperationKind { return KindStockUpdate }
func (StockUpdate) Method() string { return http.MethodPost }
func (o StockUpdate) Endpoint() string { return o.path("products") + "/stock" }

// OrderLine is one item of a replicated order.
type OrderLine struct {
	Product     Ref     `json:"product"`
	Quantity    int     `json:"quantity"`
	PriceAtSale float64 `json:"price_at_sale"`
}

// OrderCreate registers a sale recorded offline.
type OrderCreate struct {
	ClientRef     string      `json:"client_ref"`
	CustomerName  string      `json:"customer_name,omitempty"`
	PaymentMethod string      `json:"payment_method"`
	TotalAmount   float64     `json:"total_amount"`
	Items         []OrderLine `json:"items"`
}

// Kind returns KindOrderCreate.
func (OrderCreate) Kind() OperationKind { return KindOrderCreate }

// Method returns POST.
func (OrderCreate) Method() string { return http.MethodPost }

// Endpoint returns the order collection.
func (OrderCreate) Endpoint() string { return "/orders" }

// OrderComplete marks a pending order completed.
type OrderComplete struct {
	Ref
}

// Kind returns KindOrderComplete.
func (OrderComplete) Kind() OperationKind { return KindOrderComplete }

// Method returns POST.
func (OrderComplete) Method() string { return http.MethodPost }

// Endpoint addresses the complete action of the order.
func (o OrderComplete) Endpoint() string { return o.path("orders") + "/complete" }

// OrderCancel cancels a pending order.
type OrderCancel struct {
	Ref
}

// Kind returns KindOrderCancel.
func (OrderCancel) Kind() OperationKind { return KindOrderCancel }

// Method returns POST.
func (OrderCancel) Method() string { return http.MethodPost }

// Endpoint addresses the cancel action of the order.
func (o OrderCancel) Endpoint() string { return o.path("orders") + "/cancel" }

// SupplierFields is the replicated state of a supplier.
type SupplierFields struct {
	Name        string `json:"name"`
	ContactName string `json:"contact_name,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Address     string `json:"address,omitempty"`
}

// SupplierCreate registers a supplier created offline.
type SupplierCreate struct {
	ClientRef string `json:"client_ref"`
	SupplierFields
}

// Kind returns KindSupplierCreate.
func (SupplierCreate) Kind() OperationKind { return KindSupplierCreate }

// Method returns POST.
func (SupplierCreate) Method() string { return http.MethodPost }

// Endpoint returns the supplier collection.
func (SupplierCreate) Endpoint() string { return "/suppliers" }

// SupplierUpdate replaces the replicated state of a supplier.
type SupplierUpdate struct {
	Ref
	SupplierFields
}

// Kind returns KindSupplierUpdate.
func (SupplierUpdate) Kind() OperationKind { return KindSupplierUpdate }

// Method returns PUT.
func (SupplierUpdate) Method() string { return http.MethodPut }

// Endpoint addresses the supplier by server id or client reference.
func (o SupplierUpdate) Endpoint() string { return o.path("suppliers") }

// SupplierDelete removes a supplier.
type SupplierDelete struct {
	Ref
}

// Kind returns KindSupplierDelete.
func (SupplierDelete) Kind() OperationKind { return KindSupplierDelete }

// Method returns DELETE.
func (SupplierDelete) Method() string { return http.MethodDelete }

// Endpoint addresses the supplier by server id or client reference.
func (o SupplierDelete) Endpoint() string { return o.path("suppliers") }

// UnknownOperation is a stored entry of a kind this build does not know.
// It is replayed verbatim and never reconciled.
type UnknownOperation struct {
	kind     OperationKind
	method   string
	endpoint string
	Raw      json.RawMessage
}

func (o UnknownOperation) Kind() OperationKind { return o.kind }
func (o UnknownOperation) Method() string { return o.method }
func (o UnknownOperation) Endpoint() string { return o.endpoint }

// MarshalJSON returns the stored payload unchanged.
func (o UnknownOperation) MarshalJSON() ([]byte, error) {
	if len(o.Raw) == 0 {
		return []byte("null"), nil
	}
	return o.Raw, nil
}

// DecodeOperation turns a stored entry back into its typed payload.
// Errors wrap ErrMalformedPayload: the entry can never be replayed.
func DecodeOperation(e Entry) (Operation, error) {
	if !supportedMethod(e.Method) {
		return nil, fmt.Errorf("%w: unsupported method %q", ErrMalformedPayload, e.Method)
	}

	var op Operation
	switch e.OperationType {
	case KindProductCreate:
		op = &ProductCreate{}
	case KindProductUpdate:
		op = &ProductUpdate{}
	case KindProductDelete:
		op = &ProductDelete{}
	case KindStockUpdate:
		op = &StockUpdate{}
	case KindOrderCreate:
		op = &OrderCreate{}
	case KindOrderComplete:
		op = &OrderComplete{}
	case KindOrderCancel:
		op = &OrderCancel{}
	case KindSupplierCreate:
		op = &SupplierCreate{}
	case KindSupplierUpdate:
		op = &SupplierUpdate{}
	case KindSupplierDelete:
		op = &SupplierDelete{}
	default:
		unknown := &UnknownOperation{kind: e.OperationType, method: e.Method, endpoint: e.Endpoint}
		if carriesBody(e.Method) {
			if !json.Valid([]byte(e.Payload)) {
				return nil, fmt.Errorf("%w: %s payload is not valid json", ErrMalformedPayload, e.OperationType)
			}
			unknown.Raw = json.RawMessage(e.Payload)
		}
		return unknown, nil
	}

	// Bodiless requests carry their address in the endpoint; the payload is
	// only needed for reconciliation and may be empty.
	if !carriesBody(e.Method) && strings.TrimSpace(e.Payload) == "" {
		return op, nil
	}

	if err := json.Unmarshal([]byte(e.Payload), op); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrMalformedPayload, e.OperationType, err)
	}
	return op, nil
}

// resources lists the backend records op touches. Operations sharing a
// resource must reach the backend in queue order. Unknown operations touch nothing.
func resources(op Operation) []string {
	switch o := op.(type) {
	case *ProductCreate:
		return productResources(Ref{ClientRef: o.ClientRef}, o.ProductFields)
	case *ProductUpdate:
		return productResources(o.Ref, o.ProductFields)
	case *ProductDelete:
		return []string{o.key("products")}
	case *StockUpdate:
		return []string{o.key("products")}
	case *OrderCreate:
		keys := make([]string, 0, len(o.Items)+1)
		keys = append(keys, Ref{ClientRef: o.ClientRef}.key("orders"))
		for _, line := range o.Items {
			keys = append(keys, line.Product.key("products"))
		}
		return keys
	case *OrderComplete:
		return []string{o.key("orders")}
	case *OrderCancel:
		return []string{o.key("orders")}
	case *SupplierCreate:
		return []string{Ref{ClientRef: o.ClientRef}.key("suppliers")}
	case *SupplierUpdate:
		return []string{o.key("suppliers")}
	case *SupplierDelete:
		return []string{o.key("suppliers")}
	}
	return nil
}

func productResources(product Ref, fields ProductFields) []string {
	keys := []string{product.key("products")}
	if fields.Supplier != nil {
		keys = append(keys, fields.Supplier.key("suppliers"))
	}
	return keys
}

// requestBody returns the JSON body to send for op, or nil when method has none.
func requestBody(op Operation, method string) ([]byte, error) {
	if !carriesBody(method) {
		return nil, nil
	}
	body, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %v", ErrMalformedPayload, op.Kind(), err)
	}
	return body, nil
}

func supportedMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func carriesBody(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

package inventory

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/bissquit/shelfsync/internal/domain"
	"github.com/bissquit/shelfsync/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrProductNotFound, Status: http.StatusNotFound},
	{Error: ErrOrderNotFound, Status: http.StatusNotFound},
	{Error: ErrSupplierNotFound, Status: http.StatusNotFound},
	{Error: ErrSupplierInUse, Status: http.StatusConflict},
	{Error: ErrDuplicateSKU, Status: http.StatusConflict},
	{Error: ErrProductInUse, Status: http.StatusConflict},
	{Error: ErrInvalidOrderState, Status: http.StatusConflict},
	{Error: ErrInsufficientStock, Status: http.StatusUnprocessableEntity},
	{Error: ErrInvalidMovement, Status: http.StatusBadRequest},
	{Error: ErrEmptyOrder, Status: http.StatusBadRequest},
	{Error: ErrInvalidQuantity, Status: http.StatusBadRequest},
	{Error: ErrNegativeAmount, Status: http.StatusBadRequest},
}

// Handler handles HTTP requests for the inventory module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new inventory handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers inventory and order routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.ListProducts)
		r.Post("/", h.CreateProduct)
		r.Get("/{id}", h.GetProduct)
		r.Put("/{id}", h.UpdateProduct)
		r.Delete("/{id}", h.DeleteProduct)
		r.Post("/{id}/stock", h.AdjustStock)
		r.Get("/{id}/movements", h.ListMovements)
	})

	r.Route("/suppliers", func(r chi.Router) {
		r.Get("/", h.ListSuppliers)
		r.Post("/", h.CreateSupplier)
		r.Get("/{id}", h.GetSupplier)
		r.Put("/{id}", h.UpdateSupplier)
		r.Delete("/{id}", h.DeleteSupplier)
	})

	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.ListOrders)
		r.Post("/", h.CreateOrder)
		r.Get("/{id}", h.GetOrder)
		r.Post("/{id}/complete", h.CompleteOrder)
		r.Post("/{id}/cancel", h.CancelOrder)
	})
}

// ProductRequest represents the request body for creating or updating a product.
type ProductRequest struct {
	Name         string  `json:"name" validate:"required,min=1,max=255"`
	Description  string  `json:"description" validate:"max=2000"`
	SKU          string  `json:"sku" validate:"required,min=1,max=64"`
	Category     string  `json:"category" validate:"max=100"`
	Price        float64 `json:"price" validate:"gte=0"`
	Cost         float64 `json:"cost" validate:"gte=0"`
	Quantity     int     `json:"quantity" validate:"gte=0"`
	ReorderLevel int     `json:"reorder_level" validate:"gte=0"`
	SupplierID   *int64  `json:"supplier_id"`
}

// ToInput converts the request to service input.
func (r *ProductRequest) ToInput() ProductInput {
	return ProductInput{
		Name:         r.Name,
		Description:  r.Description,
		SKU:          r.SKU,
		Category:     r.Category,
		Price:        r.Price,
		Cost:         r.Cost,
		Quantity:     r.Quantity,
		ReorderLevel: r.ReorderLevel,
		SupplierID:   r.SupplierID,
	}
}

// StockRequest represents the request body for a stock adjustment.
type StockRequest struct {
	QuantityChange int    `json:"quantity_change" validate:"required"`
	MovementType   string `json:"movement_type" validate:"required,oneof=sale return restock adjustment"`
	Notes          string `json:"notes" validate:"max=500"`
}

// SupplierRequest represents the request body for creating or updating a supplier.
type SupplierRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=255"`
	ContactName string `json:"contact_name" validate:"max=255"`
	Email       string `json:"email" validate:"omitempty,email,max=255"`
	Phone       string `json:"phone" validate:"max=50"`
	Address     string `json:"address" validate:"max=500"`
}

// ToInput converts the request to service input.
func (r *SupplierRequest) ToInput() SupplierInput {
	return SupplierInput{
		Name:        r.Name,
		ContactName: r.ContactName,
		Email:       r.Email,
		Phone:       r.Phone,
		Address:     r.Address,
	}
}

// OrderRequest represents the request body for creating an order.
type OrderRequest struct {
	CustomerName  string             `json:"customer_name" validate:"max=255"`
	PaymentMethod string             `json:"payment_method" validate:"required,oneof=cash card other"`
	Items         []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

// OrderItemRequest is one line of OrderRequest.
type OrderItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gt=0"`
}

// ListProducts handles GET /products.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := ProductFilter{
		Category: query.Get("category"),
		Search:   query.Get("search"),
	}
	if v := query.Get("low_stock"); v != "" {
		lowStock, err := strconv.ParseBool(v)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "low_stock must be a boolean")
			return
		}
		filter.LowStockOnly = lowStock
	}

	products, err := h.service.ListProducts(r.Context(), filter)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, products)
}

// GetProduct handles GET /products/{id}.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	product, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, product)
}

// CreateProduct handles POST /products.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if !h.decode(w, r, &req) {
		return
	}

	product, err := h.service.CreateProduct(r.Context(), req.ToInput(), httputil.GetUserID(r.Context()))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, product)
}

// UpdateProduct handles PUT /products/{id}.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req ProductRequest
	if !h.decode(w, r, &req) {
		return
	}

	product, err := h.service.UpdateProduct(r.Context(), id, req.ToInput(), httputil.GetUserID(r.Context()))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, product)
}

// DeleteProduct handles DELETE /products/{id}.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteProduct(r.Context(), id, httputil.GetUserID(r.Context())); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AdjustStock handles POST /products/{id}/stock.
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req StockRequest
	if !h.decode(w, r, &req) {
		return
	}

	input := StockInput{
		QuantityChange: req.QuantityChange,
		MovementType:   domain.MovementType(req.MovementType),
		Notes:          req.Notes,
	}
	product, err := h.service.AdjustStock(r.Context(), id, input, httputil.GetUserID(r.Context()))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, product)
}

// ListMovements handles GET /products/{id}/movements.
func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	movements, err := h.service.ListMovements(r.Context(), id, limit)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, movements)
}

// ListSuppliers handles GET /suppliers.
func (h *Handler) ListSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := h.service.ListSuppliers(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, suppliers)
}

// GetSupplier handles GET /suppliers/{id}.
func (h *Handler) GetSupplier(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	supplier, err := h.service.GetSupplier(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, supplier)
}

// CreateSupplier handles POST /suppliers.
func (h *Handler) CreateSupplier(w http.ResponseWriter, r *http.Request) {
	var req SupplierRequest
	if !h.decode(w, r, &req) {
		return
	}

	supplier, err := h.service.CreateSupplier(r.Context(), req.ToInput(), httputil.GetUserID(r.Context()))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, supplier)
}

// UpdateSupplier handles PUT /suppliers/{id}.
func (h *Handler) UpdateSupplier(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req SupplierRequest
	if !h.decode(w, r, &req) {
		return
	}

	supplier, err := h.service.UpdateSupplier(r.Context(), id, req.ToInput(), httputil.GetUserID(r.Context()))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, supplier)
}

// DeleteSupplier handles DELETE /suppliers/{id}.
func (h *Handler) DeleteSupplier(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteSupplier(r.Context(), id, httputil.GetUserID(r.Context())); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListOrders handles GET /orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	orders, err := h.service.ListRecentOrders(r.Context(), limit)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, orders)
}

// CreateOrder handles POST /orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	input := OrderInput{
		CustomerName:  req.CustomerName,
		PaymentMethod: req.PaymentMethod,
		Items:         make([]OrderItemInput, 0, len(req.Items)),
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, OrderItemInput{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	order, err := h.service.CreateOrder(r.Context(), input, httputil.GetUserID(r.Context()))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, order)
}

// GetOrder handles GET /orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, order)
}

// CompleteOrder handles POST /orders/{id}/complete.
func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	order, err := h.service.CompleteOrder(r.Context(), id, httputil.GetUserID(r.Context()))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, order)
}

// CancelOrder handles POST /orders/{id}/cancel.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	order, err := h.service.CancelOrder(r.Context(), id, httputil.GetUserID(r.Context()))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, order)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		httputil.ValidationError(w, err)
		return false
	}
	return true
}

// parseLimit reads the optional limit query parameter. Zero means the default.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit <= 0 {
		httputil.Error(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return limit, true
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httputil.Error(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

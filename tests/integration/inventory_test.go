//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/bissquit/shelfsync/internal/domain"
	"github.com/bissquit/shelfsync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducts_CRUD(t *testing.T) {
	resetSync(t)
	client := loginAs(t, managerEmail)

	product := createProduct(t, client, 4.5, 10)
	assert.NotEmpty(t, product.ClientRef)
	assert.Nil(t, product.ServerID)
	assert.Equal(t, "Hardware", product.Category)

	resp, err := client.PUT(idPath("/api/v1/products", product.ID), map[string]any{
		"name":     "Renamed",
		"sku":      product.SKU,
		"category": "hardware",
		"price":    5,
		"cost":     2,
		"quantity": 999,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := testutil.DecodeData[domain.Product](t, resp)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, 10, updated.Quantity, "update never touches stock")

	resp, err = client.GET("/api/v1/products?category=HARDWARE&search=renamed")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	found := testutil.DecodeData[[]domain.Product](t, resp)
	require.NotEmpty(t, found)
	assert.Equal(t, product.ID, found[0].ID)

	resp, err = client.DELETE(idPath("/api/v1/products", product.ID))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = client.GET(idPath("/api/v1/products", product.ID))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()

	var queued int
	require.NoError(t, testDB.QueryRow(t.Context(), `SELECT COUNT(*) FROM sync_queue`).Scan(&queued))
	assert.Equal(t, 3, queued)
}

func TestProducts_DuplicateSKU(t *testing.T) {
	client := loginAs(t, managerEmail)
	product := createProduct(t, client, 1, 1)

	resp, err := client.POST("/api/v1/products", map[string]any{
		"name": "Copy",
		"sku":  product.SKU,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestStock_Movements(t *testing.T) {
	client := loginAs(t, cashierEmail)
	product := createProduct(t, client, 2, 5)

	resp, err := client.POST(idPath("/api/v1/products", product.ID)+"/stock", map[string]any{
		"quantity_change": 7,
		"movement_type":   "restock",
		"notes":           "delivery",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 12, testutil.DecodeData[domain.Product](t, resp).Quantity)

	resp, err = client.POST(idPath("/api/v1/products", product.ID)+"/stock", map[string]any{
		"quantity_change": -20,
		"movement_type":   "adjustment",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	_ = resp.Body.Close()

	assert.Equal(t, 12, getProduct(t, client, product.ID).Quantity)

	var movements int
	require.NoError(t, testDB.QueryRow(t.Context(),
		`SELECT COUNT(*) FROM stock_movements WHERE product_id = $1`, product.ID).Scan(&movements))
	assert.Equal(t, 1, movements)
}

func TestOrders_Lifecycle(t *testing.T) {
	client := loginAs(t, cashierEmail)
	product := createProduct(t, client, 3.35, 10)

	order := createOrder(t, client, product.ID, 3)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.InDelta(t, 10.05, order.TotalAmount, 0.001)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 7, getProduct(t, client, product.ID).Quantity)

	resp, err := client.POST(idPath("/api/v1/orders", order.ID)+"/complete", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.OrderStatusCompleted, testutil.DecodeData[domain.Order](t, resp).Status)

	resp, err = client.POST(idPath("/api/v1/orders", order.ID)+"/complete", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = client.POST(idPath("/api/v1/orders", order.ID)+"/cancel", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.OrderStatusCancelled, testutil.DecodeData[domain.Order](t, resp).Status)
	assert.Equal(t, 10, getProduct(t, client, product.ID).Quantity, "cancel returns stock")

	resp, err = client.GET(idPath("/api/v1/orders", order.ID))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Walk-in", testutil.DecodeData[domain.Order](t, resp).CustomerName)
}

func TestOrders_InsufficientStockRollsBack(t *testing.T) {
	resetSync(t)
	client := loginAs(t, cashierEmail)
	product := createProduct(t, client, 1, 2)

	resp, err := client.POST("/api/v1/orders", map[string]any{
		"payment_method": "cash",
		"items": []map[string]any{
			{"product_id": product.ID, "quantity": 3},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	_ = resp.Body.Close()

	assert.Equal(t, 2, getProduct(t, client, product.ID).Quantity)

	var queued int
	require.NoError(t, testDB.QueryRow(t.Context(), `SELECT COUNT(*) FROM sync_queue`).Scan(&queued))
	assert.Equal(t, 1, queued, "only the product create is queued")
}

func TestSuppliers_CRUD(t *testing.T) {
	resetSync(t)
	client := loginAs(t, managerEmail)

	resp, err := client.POST("/api/v1/suppliers", map[string]any{
		"name":         "Acme Hardware",
		"contact_name": "Jo",
		"email":        "Sales@Acme.example",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	supplier := testutil.DecodeData[domain.Supplier](t, resp)
	assert.Equal(t, "sales@acme.example", supplier.Email)
	assert.NotEmpty(t, supplier.ClientRef)

	resp, err = client.POST("/api/v1/products", map[string]any{
		"name":        "Hinge",
		"sku":         randomSKU(),
		"supplier_id": supplier.ID,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	product := testutil.DecodeData[domain.Product](t, resp)
	require.NotNil(t, product.SupplierID)
	assert.Equal(t, supplier.ID, *product.SupplierID)

	resp, err = client.DELETE(idPath("/api/v1/suppliers", supplier.ID))
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = client.PUT(idPath("/api/v1/suppliers", supplier.ID), map[string]any{"name": "Acme Ltd"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Acme Ltd", testutil.DecodeData[domain.Supplier](t, resp).Name)

	resp, err = client.GET("/api/v1/suppliers")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, testutil.DecodeData[[]domain.Supplier](t, resp))

	resp, err = client.DELETE(idPath("/api/v1/products", product.ID))
	require.NoError(t, err)
	_ = resp.Body.Close()
	resp, err = client.DELETE(idPath("/api/v1/suppliers", supplier.ID))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = client.GET(idPath("/api/v1/suppliers", supplier.ID))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestHistory_MovementsAndRecentOrders(t *testing.T) {
	client := loginAs(t, cashierEmail)
	product := createProduct(t, client, 2, 10)

	resp, err := client.POST(idPath("/api/v1/products", product.ID)+"/stock", map[string]any{
		"quantity_change": 5,
		"movement_type":   "restock",
	})
	require.NoError(t, err)
	_ = resp.Body.Close()
	order := createOrder(t, client, product.ID, 2)

	resp, err = client.GET(idPath("/api/v1/products", product.ID) + "/movements")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	movements := testutil.DecodeData[[]domain.StockMovement](t, resp)
	require.Len(t, movements, 2)
	assert.Equal(t, domain.MovementSale, movements[0].MovementType)
	assert.Equal(t, -2, movements[0].Quantity)
	assert.Equal(t, domain.MovementRestock, movements[1].MovementType)

	resp, err = client.GET("/api/v1/orders?limit=1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	recent := testutil.DecodeData[[]domain.Order](t, resp)
	require.Len(t, recent, 1)
	assert.Equal(t, order.ID, recent[0].ID)
	require.Len(t, recent[0].Items, 1)
}

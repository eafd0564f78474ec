//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/bissquit/shelfsync/internal/domain"
	"github.com/bissquit/shelfsync/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// receivedRequest is one request replayed against the fake backend.
type receivedRequest struct {
	Method         string
	Path           string
	Authorization  string
	IdempotencyKey string
	Body           map[string]any
}

// backendReply overrides the fake backend's answer for one path.
type backendReply struct {
	Status int
	Body   string
}

// fakeBackend stands in for the authoritative server. Creates are answered
// with increasing ids; everything else with 200 unless a reply is overridden.
type fakeBackend struct {
	server *httptest.Server

	mu       sync.Mutex
	online   bool
	nextID   int64
	requests []receivedRequest
	replies  map[string]backendReply
}

func newFakeBackend() *fakeBackend {
	b := &fakeBackend{
		online:  true,
		nextID:  1000,
		replies: make(map[string]backendReply),
	}
	b.server = httptest.NewServer(http.HandlerFunc(b.serve))
	return b
}

func (b *fakeBackend) URL() string { return b.server.URL }

func (b *fakeBackend) Close() { b.server.Close() }

func (b *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r.URL.Path == "/health" {
		if !b.online {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	var body map[string]any
	raw, _ := io.ReadAll(r.Body)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &body)
	}
	b.requests = append(b.requests, receivedRequest{
		Method:         r.Method,
		Path:           r.URL.Path,
		Authorization:  r.Header.Get("Authorization"),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Body:           body,
	})

	w.Header().Set("Content-Type", "application/json")
	if reply, ok := b.replies[r.URL.Path]; ok {
		w.WriteHeader(reply.Status)
		_, _ = w.Write([]byte(reply.Body))
		return
	}

	if r.Method == http.MethodPost && (r.URL.Path == "/products" || r.URL.Path == "/orders" || r.URL.Path == "/suppliers") {
		b.nextID++
		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprintf(w, `{"id":%d}`, b.nextID)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{}`))
}

// reset forgets recorded requests and overrides and brings the backend online.
func (b *fakeBackend) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.online = true
	b.requests = nil
	b.replies = make(map[string]backendReply)
}

func (b *fakeBackend) setOnline(online bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.online = online
}

func (b *fakeBackend) reply(path string, status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replies[path] = backendReply{Status: status, Body: body}
}

func (b *fakeBackend) received() []receivedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]receivedRequest(nil), b.requests...)
}

// resetSync drops whatever earlier tests left in the queue and clears the
// fake backend, so a test sees only its own replays.
func resetSync(t *testing.T) {
	t.Helper()
	testBackend.reset()
	_, err := testDB.Exec(context.Background(), `DELETE FROM sync_queue`)
	require.NoError(t, err)
	_, err = testDB.Exec(context.Background(), `UPDATE sync_dead_letters SET resubmitted_at = NOW() WHERE resubmitted_at IS NULL`)
	require.NoError(t, err)
}

func drain(t *testing.T) {
	t.Helper()
	testApp.Dispatcher().Tick(context.Background())
}

func loginAs(t *testing.T, email string) *testutil.Client {
	t.Helper()
	client := newTestClient(t)
	client.LoginAs(t, email, testPassword)
	return client
}

func randomSKU() string {
	return "SKU-" + strings.ToUpper(uuid.NewString()[:8])
}

func idPath(prefix string, id int64) string {
	return prefix + "/" + strconv.FormatInt(id, 10)
}

// createProduct creates a product through the API and returns it.
func createProduct(t *testing.T, client *testutil.Client, price float64, quantity int) domain.Product {
	t.Helper()

	resp, err := client.POST("/api/v1/products", map[string]any{
		"name":          "Test product " + uuid.NewString()[:6],
		"sku":           randomSKU(),
		"category":      "hardware",
		"price":         price,
		"cost":          price / 2,
		"quantity":      quantity,
		"reorder_level": 2,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return testutil.DecodeData[domain.Product](t, resp)
}

func createOrder(t *testing.T, client *testutil.Client, productID int64, quantity int) domain.Order {
	t.Helper()

	resp, err := client.POST("/api/v1/orders", map[string]any{
		"customer_name":  "Walk-in",
		"payment_method": "card",
		"items": []map[string]any{
			{"product_id": productID, "quantity": quantity},
		},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return testutil.DecodeData[domain.Order](t, resp)
}

func getProduct(t *testing.T, client *testutil.Client, id int64) domain.Product {
	t.Helper()

	resp, err := client.GET(idPath("/api/v1/products", id))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return testutil.DecodeData[domain.Product](t, resp)
}

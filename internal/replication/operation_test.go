package replication

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

func TestKinds_AllDecodable(t *testing.T) {
	for _, kind := range Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			op, err := DecodeOperation(Entry{OperationType: kind, Method: http.MethodPost, Payload: `{}`})
			require.NoError(t, err)
			assert.Equal(t, kind, op.Kind())
		})
	}
}

func TestOperation_Endpoints(t *testing.T) {
	unconfirmed := Ref{ClientRef: "5f1c"}
	confirmed := Ref{ClientRef: "5f1c", ServerID: int64Ptr(42)}

	tests := []struct {
		name     string
		op       Operation
		method   string
		endpoint string
	}{
		{"product create", ProductCreate{ClientRef: "5f1c"}, http.MethodPost, "/products"},
		{"product update by ref", ProductUpdate{Ref: unconfirmed}, http.MethodPut, "/products/ref/5f1c"},
		{"product update by id", ProductUpdate{Ref: confirmed}, http.MethodPut, "/products/42"},
		{"product delete", ProductDelete{Ref: confirmed}, http.MethodDelete, "/products/42"},
		{"stock update", StockUpdate{Ref: unconfirmed}, http.MethodPost, "/products/ref/5f1c/stock"},
		{"order create", OrderCreate{ClientRef: "9a"}, http.MethodPost, "/orders"},
		{"order complete", OrderComplete{Ref: Ref{ClientRef: "9a"}}, http.MethodPost, "/orders/ref/9a/complete"},
		{"order cancel", OrderCancel{Ref: Ref{ClientRef: "9a", ServerID: int64Ptr(3)}}, http.MethodPost, "/orders/3/cancel"},
		{"supplier create", SupplierCreate{ClientRef: "s1"}, http.MethodPost, "/suppliers"},
		{"supplier update by ref", SupplierUpdate{Ref: Ref{ClientRef: "s1"}}, http.MethodPut, "/suppliers/ref/s1"},
		{"supplier delete by id", SupplierDelete{Ref: Ref{ClientRef: "s1", ServerID: int64Ptr(8)}}, http.MethodDelete, "/suppliers/8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.method, tt.op.Method())
			assert.Equal(t, tt.endpoint, tt.op.Endpoint())
		})
	}
}

func TestResources(t *testing.T) {
	supplier := &Ref{ClientRef: "s1"}

	tests := []struct {
		name string
		op   Operation
		want []string
	}{
		{
			name: "product create with supplier",
			op:   &ProductCreate{ClientRef: "p1", ProductFields: ProductFields{Supplier: supplier}},
			want: []string{"products/p1", "suppliers/s1"},
		},
		{
			name: "confirmed and unconfirmed refs share a key",
			op:   &ProductUpdate{Ref: Ref{ClientRef: "p1", ServerID: int64Ptr(4)}},
			want: []string{"products/p1"},
		},
		{
			name: "server id only",
			op:   &StockUpdate{Ref: Ref{ServerID: int64Ptr(4)}},
			want: []string{"products#4"},
		},
		{
			name: "order create touches its products",
			op: &OrderCreate{ClientRef: "o1", Items: []OrderLine{
				{Product: Ref{ClientRef: "p1"}},
				{Product: Ref{ClientRef: "p2"}},
			}},
			want: []string{"orders/o1", "products/p1", "products/p2"},
		},
		{name: "order cancel", op: &OrderCancel{Ref: Ref{ClientRef: "o1"}}, want: []string{"orders/o1"}},
		{name: "supplier delete", op: &SupplierDelete{Ref: Ref{ClientRef: "s1"}}, want: []string{"suppliers/s1"}},
		{name: "unknown", op: &UnknownOperation{kind: "customer_create"}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resources(tt.op))
		})
	}
}

func TestNewEntry(t *testing.T) {
	op := &StockUpdate{Ref: Ref{ClientRef: "abc"}, QuantityChange: -2, MovementType: "adjustment"}

	entry, err := NewEntry(op, "user-7")
	require.NoError(t, err)

	assert.Equal(t, KindStockUpdate, entry.OperationType)
	assert.Equal(t, http.MethodPost, entry.Method)
	assert.Equal(t, "/products/ref/abc/stock", entry.Endpoint)
	assert.Equal(t, "user-7", entry.Principal)
	assert.NotEmpty(t, entry.IdempotencyKey)
	assert.Zero(t, entry.ID)
	assert.JSONEq(t, `{"client_ref":"abc","quantity_change":-2,"movement_type":"adjustment"}`, entry.Payload)

	other, err := NewEntry(op, "user-7")
	require.NoError(t, err)
	assert.NotEqual(t, entry.IdempotencyKey, other.IdempotencyKey)
}

func TestDecodeOperation_RestoresTypedPayload(t *testing.T) {
	original := &OrderCreate{
		ClientRef:     "ord-1",
		PaymentMethod: "card",
		TotalAmount:   25,
		Items: []OrderLine{
			{Product: Ref{ClientRef: "p-1", ServerID: int64Ptr(10)}, Quantity: 2, PriceAtSale: 12.5},
		},
	}
	entry, err := NewEntry(original, "")
	require.NoError(t, err)

	op, err := DecodeOperation(*entry)
	require.NoError(t, err)

	decoded, ok := op.(*OrderCreate)
	require.True(t, ok)
	assert.Equal(t, original, decoded)
}

func TestDecodeOperation_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
	}{
		{
			name:  "truncated json",
			entry: Entry{OperationType: KindProductCreate, Method: http.MethodPost, Payload: `{"name":`},
		},
		{
			name:  "wrong field type",
			entry: Entry{OperationType: KindStockUpdate, Method: http.MethodPost, Payload: `{"quantity_change":"many"}`},
		},
		{
			name:  "unsupported method",
			entry: Entry{OperationType: KindProductCreate, Method: "BREW", Payload: `{}`},
		},
		{
			name:  "unknown kind with invalid body",
			entry: Entry{OperationType: "customer_create", Method: http.MethodPost, Payload: `not json`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeOperation(tt.entry)
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestDecodeOperation_BodilessEntryWithEmptyPayload(t *testing.T) {
	op, err := DecodeOperation(Entry{
		OperationType: KindProductDelete,
		Method:        http.MethodDelete,
		Endpoint:      "/products/ref/x",
	})
	require.NoError(t, err)
	assert.Equal(t, KindProductDelete, op.Kind())

	body, err := requestBody(op, http.MethodDelete)
	require.NoError(t, err)
	assert.Nil(t, body)
}

func TestDecodeOperation_UnknownKindKeepsRawPayload(t *testing.T) {
	op, err := DecodeOperation(Entry{
		OperationType: "customer_create",
		Method:        http.MethodPost,
		Endpoint:      "/customers",
		Payload:       `{"name":"Acme","phone":"555"}`,
	})
	require.NoError(t, err)

	unknown, ok := op.(*UnknownOperation)
	require.True(t, ok)
	assert.Equal(t, OperationKind("customer_create"), unknown.Kind())
	assert.Equal(t, "/customers", unknown.Endpoint())

	body, err := json.Marshal(unknown)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Acme","phone":"555"}`, string(body))
}

func TestDeadLetter_Requeue(t *testing.T) {
	dl := &DeadLetter{
		ID:             3,
		EntryID:        11,
		OperationType:  KindOrderCancel,
		Endpoint:       "/orders/ref/a/cancel",
		Method:         http.MethodPost,
		Payload:        `{"client_ref":"a"}`,
		Principal:      "user-1",
		IdempotencyKey: "old-key",
		Attempts:       5,
	}

	entry := dl.Requeue()
	assert.Zero(t, entry.ID)
	assert.Equal(t, dl.OperationType, entry.OperationType)
	assert.Equal(t, dl.Endpoint, entry.Endpoint)
	assert.Equal(t, dl.Payload, entry.Payload)
	assert.Equal(t, dl.Principal, entry.Principal)
	assert.NotEqual(t, "old-key", entry.IdempotencyKey)
	assert.Zero(t, entry.Retries)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(errConnectionRefused))
	assert.True(t, isRetryable(&classifiedError{retryable: true}))
	assert.False(t, isRetryable(&classifiedError{retryable: false}))

	wrapped := &classifiedError{msg: "http 400", retryable: false}
	assert.False(t, isRetryable(fmtWrap(wrapped)))
}

func fmtWrap(err error) error {
	return &wrapError{err: err}
}

type wrapError struct{ err error }

func (e *wrapError) Error() string { return "send: " + e.err.Error() }
func (e *wrapError) Unwrap() error { return e.err }

package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bissquit/shelfsync/internal/pkg/ctxlog"
	"github.com/bissquit/shelfsync/internal/replication"
)

// ErrMissingServerID is returned when a create response has no usable id.
var ErrMissingServerID = errors.New("response does not contain a server id")

// Reconciler merges confirmed backend responses into local inventory state.
type Reconciler struct {
	store ServerIDWriter
}

var _ replication.Reconciler = (*Reconciler)(nil)

// NewReconciler creates a new inventory reconciler.
func NewReconciler(store ServerIDWriter) *Reconciler {
	return &Reconciler{store: store}
}

type createdResponse struct {
	ID *int64 `json:"id"`
}

// Reconcile stores server-assigned identifiers of created records. Other
// operations need no merge: the local row already holds the confirmed state.
func (r *Reconciler) Reconcile(ctx context.Context, op replication.Operation, body []byte) error {
	log := ctxlog.FromContext(ctx)

	switch o := op.(type) {
	case *replication.ProductCreate:
		id, err := serverID(body)
		if err != nil {
			return err
		}
		if err := r.store.SetProductServerID(ctx, o.ClientRef, id); err != nil {
			return fmt.Errorf("set product server id: %w", err)
		}
		log.Debug("product confirmed", "client_ref", o.ClientRef, "server_id", id)
	case *replication.OrderCreate:
		id, err := serverID(body)
		if err != nil {
			return err
		}
		if err := r.store.SetOrderServerID(ctx, o.ClientRef, id); err != nil {
			return fmt.Errorf("set order server id: %w", err)
		}
		log.Debug("order confirmed", "client_ref", o.ClientRef, "server_id", id)
	case *replication.SupplierCreate:
		id, err := serverID(body)
		if err != nil {
			return err
		}
		if err := r.store.SetSupplierServerID(ctx, o.ClientRef, id); err != nil {
			return fmt.Errorf("set supplier server id: %w", err)
		}
		log.Debug("supplier confirmed", "client_ref", o.ClientRef, "server_id", id)
	case *replication.ProductUpdate, *replication.ProductDelete, *replication.StockUpdate,
		*replication.OrderComplete, *replication.OrderCancel,
		*replication.SupplierUpdate, *replication.SupplierDelete:
	default:
		log.Warn("no reconciliation for operation", "operation", op.Kind())
	}
	return nil
}

// serverID reads the id of a created record. The backend may answer with the
// record itself or wrapped in a {"data": ...} envelope.
func serverID(body []byte) (int64, error) {
	var resp struct {
		createdResponse
		Data *createdResponse `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode create response: %w", err)
	}

	switch {
	case resp.ID != nil:
		return *resp.ID, nil
	case resp.Data != nil && resp.Data.ID != nil:
		return *resp.Data.ID, nil
	}
	return 0, ErrMissingServerID
}

package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/bissquit/shelfsync/internal/pkg/ctxlog"
)

// ErrorMapping binds a sentinel error to the status it is reported with.
// An empty Message reports the error text itself.
type ErrorMapping struct {
	Error   error
	Status  int
	Message string
}

// HandleError writes the first mapping that matches err. Unmapped errors are
// logged and hidden behind a 500.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	for _, m := range mappings {
		if !errors.Is(err, m.Error) {
			continue
		}
		if m.Message != "" {
			Error(w, m.Status, m.Message)
		} else {
			Error(w, m.Status, err.Error())
		}
		return
	}

	ctxlog.FromContext(ctx).Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}

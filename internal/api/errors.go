package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/rxdesk/internal/sales"
	"github.com/kalambet/rxdesk/internal/storage"
	"github.com/kalambet/rxdesk/internal/tabs"
)

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// writeDomainError maps workspace, commit and storage errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tabs.ErrTabNotFound), errors.Is(err, tabs.ErrLineNotFound), errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, tabs.ErrTabBusy):
		httpError(w, http.StatusConflict, "conflict", "%v", err)
	case errors.Is(err, tabs.ErrInvalidQuantity), errors.Is(err, tabs.ErrInvalidPercent):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, sales.ErrEmptyTab), errors.Is(err, sales.ErrNoPaymentMethod),
		errors.Is(err, sales.ErrNoWarehouse), errors.Is(err, sales.ErrNoCustomer):
		httpError(w, http.StatusUnprocessableEntity, "validation_error", "%v", err)
	case errors.Is(err, storage.ErrInsufficientStock), errors.Is(err, sales.ErrAllLinesFailed):
		httpError(w, http.StatusConflict, "stock_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

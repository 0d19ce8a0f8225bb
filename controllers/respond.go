package controllers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"go-event-payments/gateway"
	"go-event-payments/inventory"
	"go-event-payments/payments"
	"go-event-payments/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, map[string]string{"message": message})
}

// writeError maps the error taxonomy to HTTP statuses: validation and
// inventory errors are client errors, missing documents are 404, gateway
// failures surface as a bad gateway while the payment stays pending.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		validationErr *payments.ValidationError
		inventoryErr  *inventory.InsufficientError
		gatewayErr    *gateway.Error
	)
	switch {
	case errors.As(err, &validationErr), errors.As(err, &inventoryErr):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.As(err, &gatewayErr):
		logger.Error("payment gateway failure", zap.Error(err))
		http.Error(w, "Payment processor unavailable", http.StatusBadGateway)
	default:
		logger.Error("internal error", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

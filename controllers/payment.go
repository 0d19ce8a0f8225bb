package controllers

import (
	"encoding/json"
	"net/http"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"go-event-payments/payments"
)

// PaymentController handles payment-related requests.
type PaymentController struct {
	Service *payments.Service
	Logger  *zap.Logger
}

// NewPaymentController creates a new PaymentController.
func NewPaymentController(service *payments.Service, logger *zap.Logger) *PaymentController {
	return &PaymentController{Service: service, Logger: logger}
}

// CreatePayment prices the order and either approves it directly or
// returns a pending payment with the processor's checkout URL.
func (pc *PaymentController) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req payments.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	payment, err := pc.Service.Create(r.Context(), req)
	if err != nil {
		writeError(w, pc.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

// PreviewPayment prices the order without creating anything.
func (pc *PaymentController) PreviewPayment(w http.ResponseWriter, r *http.Request) {
	var req payments.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	quote, err := pc.Service.Preview(r.Context(), req)
	if err != nil {
		writeError(w, pc.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// CreateApplicationFee creates the gating payment for a draft
// application.
func (pc *PaymentController) CreateApplicationFee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ApplicationID primitive.ObjectID `json:"application_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	payment, err := pc.Service.CreateApplicationFee(r.Context(), req.ApplicationID)
	if err != nil {
		writeError(w, pc.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

// GetPayments lists the payments of one application.
func (pc *PaymentController) GetPayments(w http.ResponseWriter, r *http.Request) {
	applicationID, err := primitive.ObjectIDFromHex(r.URL.Query().Get("application_id"))
	if err != nil {
		http.Error(w, "Invalid application ID", http.StatusBadRequest)
		return
	}

	list, err := pc.Service.ListPayments(r.Context(), applicationID)
	if err != nil {
		writeError(w, pc.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

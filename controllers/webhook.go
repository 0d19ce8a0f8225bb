package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"go-event-payments/idempotency"
	"go-event-payments/models"
	"go-event-payments/payments"
	"go-event-payments/records"
	"go-event-payments/store"
)

// WebhookController reconciles asynchronous processor notifications into
// payment state transitions. Delivery is at-least-once: every handler
// passes the idempotency gate before touching anything, and duplicate
// redelivery is answered with HTTP 200, never an error.
type WebhookController struct {
	Service *payments.Service
	Store   store.Store
	Cache   idempotency.Cache
	Records *records.Client
	Secret  string
	Logger  *zap.Logger
}

// NewWebhookController creates a new WebhookController.
func NewWebhookController(
	service *payments.Service,
	st store.Store,
	cache idempotency.Cache,
	recordsClient *records.Client,
	secret string,
	logger *zap.Logger,
) *WebhookController {
	return &WebhookController{
		Service: service,
		Store:   st,
		Cache:   cache,
		Records: recordsClient,
		Secret:  secret,
		Logger:  logger,
	}
}

// HandleProcessorEvent dispatches the processor's event envelope.
func (wc *WebhookController) HandleProcessorEvent(w http.ResponseWriter, r *http.Request) {
	var envelope models.WebhookEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}
	wc.Logger.Info("processor webhook received", zap.String("event_type", envelope.EventType))

	switch envelope.EventType {
	case models.EventPlanActivated:
		wc.handlePlanActivated(w, r, &envelope)
	case models.EventPlanCompleted:
		wc.handlePlanCompleted(w, r, &envelope)
	case models.EventPlanCancelled:
		wc.handlePlanCancelled(w, r, &envelope)
	case models.EventNewPayment, models.EventNewCardPayment:
		if envelope.Data.PaymentRequest == nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}
		if envelope.Data.PaymentRequest.InstallmentPlanID != "" {
			wc.handleInstallmentPayment(w, r, &envelope)
			return
		}
		wc.handleRegularPayment(w, r, &envelope)
	default:
		wc.Logger.Info("unhandled event type", zap.String("event_type", envelope.EventType))
		writeMessage(w, fmt.Sprintf("Event type %s not handled", envelope.EventType))
	}
}

// passGate records the fingerprint, answering the duplicate response
// itself when the delivery was already processed.
func (wc *WebhookController) passGate(w http.ResponseWriter, r *http.Request, fingerprint string) bool {
	added, err := wc.Cache.Add(r.Context(), fingerprint)
	if err != nil {
		wc.Logger.Error("idempotency cache failure", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return false
	}
	if !added {
		wc.Logger.Info("webhook already processed", zap.String("fingerprint", fingerprint))
		writeMessage(w, "Webhook already processed")
		return false
	}
	return true
}

func (wc *WebhookController) handleRegularPayment(w http.ResponseWriter, r *http.Request, envelope *models.WebhookEnvelope) {
	request := envelope.Data.PaymentRequest
	fingerprint := idempotency.Fingerprint("simplefi", request.ID, envelope.EventType)
	if !wc.passGate(w, r, fingerprint) {
		return
	}

	payment, err := wc.Service.GetPaymentByExternalID(r.Context(), request.ID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Payment not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, wc.Logger, err)
		return
	}

	if payment.Status == request.Status {
		writeMessage(w, "Payment status is the same as payment request status")
		return
	}

	currency, rate := settlementRate(envelope)
	if request.Status == models.PaymentApproved {
		err = wc.Service.Approve(r.Context(), payment, currency, rate)
	} else {
		err = wc.Service.UpdateStatus(r.Context(), payment, models.PaymentExpired)
	}
	if err != nil {
		writeError(w, wc.Logger, err)
		return
	}
	writeMessage(w, "Payment status updated successfully")
}

// settlementRate extracts the settlement coin and its rate from the
// notification. Card settlements report USD at par.
func settlementRate(envelope *models.WebhookEnvelope) (string, float64) {
	currency := "USD"
	rate := 1.0
	if envelope.Data.NewPayment != nil && envelope.Data.NewPayment.Coin != "" {
		currency = envelope.Data.NewPayment.Coin
		for _, t := range envelope.Data.PaymentRequest.Transactions {
			if t.Coin == currency {
				rate = t.PriceDetails.Rate
				break
			}
		}
	}
	return currency, rate
}

func (wc *WebhookController) handleInstallmentPayment(w http.ResponseWriter, r *http.Request, envelope *models.WebhookEnvelope) {
	request := envelope.Data.PaymentRequest
	planID := request.InstallmentPlanID

	// The per-installment payment-request id is the idempotency key; the
	// plan id repeats across every installment of the plan.
	fingerprint := fmt.Sprintf("simplefi:installment:%s:%s", planID, request.ID)
	if !wc.passGate(w, r, fingerprint) {
		return
	}

	payment, err := wc.Service.GetPaymentByExternalID(r.Context(), planID)
	if errors.Is(err, store.ErrNotFound) {
		wc.Logger.Info("payment not found for installment plan", zap.String("plan_id", planID))
		http.Error(w, "Payment not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, wc.Logger, err)
		return
	}

	amount := request.AmountPaid
	currency := "USD"
	paidAt := time.Now().UTC()
	if info := envelope.Data.NewPayment; info != nil {
		if info.Amount > 0 {
			amount = info.Amount
		}
		if info.Coin != "" {
			currency = info.Coin
		}
		if info.PaidAt != nil {
			paidAt = *info.PaidAt
		}
	}

	if err := wc.Service.RecordInstallment(r.Context(), payment, request.ID, amount, currency, paidAt); err != nil {
		writeError(w, wc.Logger, err)
		return
	}
	writeMessage(w, "Installment payment recorded")
}

// planFromEnvelope gates the delivery and resolves the plan's payment.
// It returns nil after writing the response when processing should stop.
func (wc *WebhookController) planFromEnvelope(w http.ResponseWriter, r *http.Request, envelope *models.WebhookEnvelope) *models.Payment {
	fingerprint := fmt.Sprintf("simplefi:installment:%s:%s", envelope.EntityID, envelope.EventType)
	if !wc.passGate(w, r, fingerprint) {
		return nil
	}
	if envelope.Data.InstallmentPlan == nil {
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return nil
	}

	payment, err := wc.Service.GetPaymentByExternalID(r.Context(), envelope.EntityID)
	if errors.Is(err, store.ErrNotFound) {
		wc.Logger.Info("payment not found for installment plan", zap.String("plan_id", envelope.EntityID))
		http.Error(w, "Payment not found", http.StatusNotFound)
		return nil
	}
	if err != nil {
		writeError(w, wc.Logger, err)
		return nil
	}
	return payment
}

func (wc *WebhookController) handlePlanActivated(w http.ResponseWriter, r *http.Request, envelope *models.WebhookEnvelope) {
	payment := wc.planFromEnvelope(w, r, envelope)
	if payment == nil {
		return
	}

	if err := wc.Service.ActivatePlan(r.Context(), payment, envelope.Data.InstallmentPlan.NumberOfInstallments); err != nil {
		writeError(w, wc.Logger, err)
		return
	}
	writeMessage(w, "Installment plan activated successfully")
}

func (wc *WebhookController) handlePlanCompleted(w http.ResponseWriter, r *http.Request, envelope *models.WebhookEnvelope) {
	payment := wc.planFromEnvelope(w, r, envelope)
	if payment == nil {
		return
	}
	if !payment.IsInstallmentPlan {
		wc.Logger.Warn("plan completion for a payment not marked as an installment plan",
			zap.String("payment_id", payment.ID.Hex()))
	}

	if err := wc.Service.CompletePlan(r.Context(), payment, envelope.Data.InstallmentPlan.PaidInstallmentsCount); err != nil {
		writeError(w, wc.Logger, err)
		return
	}
	writeMessage(w, "Installment plan completed")
}

func (wc *WebhookController) handlePlanCancelled(w http.ResponseWriter, r *http.Request, envelope *models.WebhookEnvelope) {
	payment := wc.planFromEnvelope(w, r, envelope)
	if payment == nil {
		return
	}
	if payment.Status == models.PaymentCancelled {
		writeMessage(w, "Payment already cancelled")
		return
	}

	if err := wc.Service.Cancel(r.Context(), payment); err != nil {
		writeError(w, wc.Logger, err)
		return
	}
	writeMessage(w, "Installment plan cancelled successfully")
}

// HandleStatusMirror receives change notifications from the records store
// and mirrors the recalculated application status back through an
// authenticated PATCH. The idempotency gate runs before the shared-secret
// check: redelivery is not an error and needs no re-authentication.
func (wc *WebhookController) HandleStatusMirror(w http.ResponseWriter, r *http.Request) {
	var payload models.MirrorPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	fingerprint := idempotency.Fingerprint("update_status", payload.Data.TableID, payload.ID)
	if !wc.passGate(w, r, fingerprint) {
		return
	}

	if r.Header.Get("Secret") != wc.Secret {
		http.Error(w, "Secret is not valid", http.StatusUnauthorized)
		return
	}
	if payload.Data.TableName != "applications" {
		http.Error(w, "Table name is not applications", http.StatusBadRequest)
		return
	}

	for _, row := range payload.Data.Rows {
		if err := wc.mirrorRow(r, payload.Data.TableID, row); err != nil {
			wc.Logger.Error("status mirror failed", zap.Error(err))
			http.Error(w, "Failed to update status", http.StatusInternalServerError)
			return
		}
	}
	writeMessage(w, "Status updated successfully")
}

func (wc *WebhookController) mirrorRow(r *http.Request, tableID string, row map[string]any) error {
	id, _ := row["id"].(string)
	applicationID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid application id %q", id)
	}

	application, err := wc.Store.GetApplication(r.Context(), applicationID)
	if err != nil {
		return err
	}

	reviewsStatus, _ := row["calculated_status"].(string)
	currentStatus, _ := row["status"].(string)

	// Group members skip review: they are accepted unless withdrawn.
	calculated := reviewsStatus
	if application.GroupID != nil {
		calculated = models.ApplicationAccepted
		if reviewsStatus == models.ApplicationWithdrawn {
			calculated = models.ApplicationWithdrawn
		}
	}
	if calculated == "" || calculated == currentStatus {
		return nil
	}

	record := map[string]any{
		"id":     id,
		"status": calculated,
	}
	if calculated == models.ApplicationAccepted && application.AcceptedAt == nil {
		record["accepted_at"] = time.Now().UTC().Format(time.RFC3339)
	}
	return wc.Records.PatchRecord(r.Context(), tableID, record)
}

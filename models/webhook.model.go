package models

import (
	"encoding/json"
	"time"
)

// Processor webhook event types.
const (
	EventNewPayment     = "new_payment"
	EventNewCardPayment = "new_card_payment"
	EventPlanActivated  = "installment_plan_activated"
	EventPlanCompleted  = "installment_plan_completed"
	EventPlanCancelled  = "installment_plan_cancelled"
)

// WebhookEnvelope is the discriminated event envelope delivered by the
// payment processor. Delivery is at-least-once; envelopes may arrive
// duplicated or out of order.
type WebhookEnvelope struct {
	ID         string      `json:"id"`
	EventType  string      `json:"event_type"`
	EntityType string      `json:"entity_type"`
	EntityID   string      `json:"entity_id"`
	Data       WebhookData `json:"data"`
}

// WebhookData carries the event payload. Only the fields used by the
// business logic are typed; everything else the provider sends is kept in
// the Extra maps of the nested structs.
type WebhookData struct {
	PaymentRequest  *PaymentRequest  `json:"payment_request,omitempty"`
	NewPayment      *PaymentInfo     `json:"new_payment,omitempty"`
	InstallmentPlan *InstallmentPlan `json:"installment_plan,omitempty"`
}

// PriceDetails holds the settlement rate for one transaction coin.
type PriceDetails struct {
	Currency    string  `json:"currency"`
	FinalAmount float64 `json:"final_amount"`
	Rate        float64 `json:"rate"`
}

// Transaction is one on-chain transaction attached to a payment request.
type Transaction struct {
	ID           string       `json:"id"`
	Coin         string       `json:"coin"`
	ChainID      int          `json:"chain_id"`
	Status       string       `json:"status"`
	PriceDetails PriceDetails `json:"price_details"`
}

// PaymentInfo describes the settlement that triggered a new_payment or
// new_card_payment event. Card payments carry Provider/Status, on-chain
// payments carry Hash/Amount/PaidAt.
type PaymentInfo struct {
	Coin     string     `json:"coin"`
	Hash     string     `json:"hash,omitempty"`
	Amount   float64    `json:"amount,omitempty"`
	PaidAt   *time.Time `json:"paid_at,omitempty"`
	Provider string     `json:"provider,omitempty"`
	Status   string     `json:"status,omitempty"`
}

// PaymentRequest is the processor's view of a payment request.
type PaymentRequest struct {
	ID                string        `json:"id"`
	OrderID           int           `json:"order_id,omitempty"`
	Amount            float64       `json:"amount"`
	AmountPaid        float64       `json:"amount_paid"`
	Currency          string        `json:"currency"`
	Status            string        `json:"status"`
	StatusDetail      string        `json:"status_detail,omitempty"`
	InstallmentPlanID string        `json:"installment_plan_id,omitempty"`
	Transactions      []Transaction `json:"transactions,omitempty"`

	// Extra retains provider fields we do not model.
	Extra map[string]any `json:"-"`
}

func (pr *PaymentRequest) UnmarshalJSON(b []byte) error {
	type alias PaymentRequest
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	a.Extra = extraFields(b,
		"id", "order_id", "amount", "amount_paid", "currency",
		"status", "status_detail", "installment_plan_id", "transactions")
	*pr = PaymentRequest(a)
	return nil
}

// InstallmentPlan is the processor's view of an installment plan.
type InstallmentPlan struct {
	ID                    string `json:"id"`
	Status                string `json:"status"`
	PaidInstallmentsCount int    `json:"paid_installments_count"`
	NumberOfInstallments  int    `json:"number_of_installments"`
	UserEmail             string `json:"user_email,omitempty"`
	PaymentMethod         string `json:"payment_method,omitempty"`

	Extra map[string]any `json:"-"`
}

func (ip *InstallmentPlan) UnmarshalJSON(b []byte) error {
	type alias InstallmentPlan
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	a.Extra = extraFields(b,
		"id", "status", "paid_installments_count",
		"number_of_installments", "user_email", "payment_method")
	*ip = InstallmentPlan(a)
	return nil
}

// extraFields decodes b into a map and drops the known keys, leaving the
// provider fields we pass through untouched.
func extraFields(b []byte, known ...string) map[string]any {
	var all map[string]any
	if err := json.Unmarshal(b, &all); err != nil {
		return nil
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil
	}
	return all
}

// MirrorPayload is the envelope sent by the low-code records store to the
// status-mirroring webhook. Rows are kept untyped: the store controls
// their shape.
type MirrorPayload struct {
	Type string     `json:"type"`
	ID   string     `json:"id"`
	Data MirrorData `json:"data"`
}

// MirrorData identifies the mirrored table and its changed rows.
type MirrorData struct {
	TableID   string           `json:"table_id"`
	TableName string           `json:"table_name"`
	Rows      []map[string]any `json:"rows"`
}

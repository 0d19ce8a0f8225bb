package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Payment statuses. A payment only moves forward: pending to approved,
// pending to expired or cancelled, approved to cancelled. Payments are
// never deleted.
const (
	PaymentPending   = "pending"
	PaymentApproved  = "approved"
	PaymentExpired   = "expired"
	PaymentCancelled = "cancelled"
)

// Payment sources.
const (
	SourceSimplefi = "simplefi"
	SourceStripe   = "stripe"
)

// ProductSnapshot is an immutable copy of a purchased line item taken at
// payment-creation time, so later catalog edits cannot alter a past
// invoice.
type ProductSnapshot struct {
	ProductID   primitive.ObjectID `bson:"product_id" json:"product_id"`
	AttendeeID  primitive.ObjectID `bson:"attendee_id" json:"attendee_id"`
	Quantity    int                `bson:"quantity" json:"quantity"`
	Name        string             `bson:"name" json:"name"`
	Description string             `bson:"description,omitempty" json:"description,omitempty"`
	Price       float64            `bson:"price" json:"price"`
	Category    Category           `bson:"category" json:"category"`
}

// Installment is one partial settlement against an installment plan.
// Rows are append-only.
type Installment struct {
	ExternalPaymentID string    `bson:"external_payment_id" json:"external_payment_id"`
	Number            int       `bson:"number" json:"number"`
	Amount            float64   `bson:"amount" json:"amount"`
	Currency          string    `bson:"currency" json:"currency"`
	PaidAt            time.Time `bson:"paid_at" json:"paid_at"`
}

// Payment is one purchase attempt, owned by its application.
type Payment struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	ApplicationID primitive.ObjectID `bson:"application_id" json:"application_id"`

	// ExternalID is the processor's payment-request id, or the
	// installment-plan id when IsInstallmentPlan is set.
	ExternalID  string  `bson:"external_id,omitempty" json:"external_id,omitempty"`
	Status      string  `bson:"status" json:"status"`
	Amount      float64 `bson:"amount" json:"amount"`
	Currency    string  `bson:"currency" json:"currency"`
	Rate        float64 `bson:"rate,omitempty" json:"rate,omitempty"`
	Source      string  `bson:"source,omitempty" json:"source,omitempty"`
	CheckoutURL string  `bson:"checkout_url,omitempty" json:"checkout_url,omitempty"`

	InstallmentsTotal int  `bson:"installments_total,omitempty" json:"installments_total,omitempty"`
	InstallmentsPaid  int  `bson:"installments_paid" json:"installments_paid"`
	IsInstallmentPlan bool `bson:"is_installment_plan" json:"is_installment_plan"`

	CouponCodeID  *primitive.ObjectID `bson:"coupon_code_id,omitempty" json:"coupon_code_id,omitempty"`
	CouponCode    string              `bson:"coupon_code,omitempty" json:"coupon_code,omitempty"`
	DiscountValue *float64            `bson:"discount_value,omitempty" json:"discount_value,omitempty"`

	// EditPasses means this payment replaces, not adds to, the
	// application's prior product selections.
	EditPasses bool `bson:"edit_passes" json:"edit_passes"`

	// IsApplicationFee marks the small gating payment that submits the
	// application instead of buying products.
	IsApplicationFee bool `bson:"is_application_fee" json:"is_application_fee"`

	GroupID *primitive.ObjectID `bson:"group_id,omitempty" json:"group_id,omitempty"`

	Products     []ProductSnapshot `bson:"products" json:"products"`
	Installments []Installment     `bson:"installments,omitempty" json:"installments,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

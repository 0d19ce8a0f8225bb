package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Application statuses.
const (
	ApplicationDraft     = "draft"
	ApplicationInReview  = "in review"
	ApplicationAccepted  = "accepted"
	ApplicationRejected  = "rejected"
	ApplicationWithdrawn = "withdrawn"
)

// AttendeeProduct is a product currently assigned to an attendee.
type AttendeeProduct struct {
	ProductID primitive.ObjectID `bson:"product_id" json:"product_id"`
	Category  Category           `bson:"category" json:"category"`
	Price     float64            `bson:"price" json:"price"`
	Quantity  int                `bson:"quantity" json:"quantity"`
}

// Attendee is a person covered by an application. Attendees and their
// assigned products are embedded in the application document.
type Attendee struct {
	ID       primitive.ObjectID `bson:"_id" json:"id"`
	Name     string             `bson:"name" json:"name"`
	Email    string             `bson:"email,omitempty" json:"email,omitempty"`
	Category string             `bson:"category" json:"category"` // main, spouse, kid
	Products []AttendeeProduct  `bson:"products" json:"products"`
}

// HasProduct reports whether the attendee already holds the given product.
func (a *Attendee) HasProduct(productID primitive.ObjectID) bool {
	for _, p := range a.Products {
		if p.ProductID == productID {
			return true
		}
	}
	return false
}

// HasPatreon reports whether the attendee holds a patreon-class product.
func (a *Attendee) HasPatreon() bool {
	for _, p := range a.Products {
		if p.Category == CategoryPatreon {
			return true
		}
	}
	return false
}

// Application is one registration for an event. It owns its payments and
// its attendees.
type Application struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	EventID   primitive.ObjectID `bson:"event_id" json:"event_id"`
	Email     string             `bson:"email" json:"email"`
	FirstName string             `bson:"first_name" json:"first_name"`
	LastName  string             `bson:"last_name" json:"last_name"`
	Status    string             `bson:"status" json:"status"`

	// DiscountAssigned is the application's own discount percentage; nil
	// means no discount was assigned, which is distinct from 0.
	DiscountAssigned *float64 `bson:"discount_assigned,omitempty" json:"discount_assigned,omitempty"`

	// Credit is a stored balance from overpayment or a pass edit, applied
	// against future charges.
	Credit float64 `bson:"credit" json:"credit"`

	GroupID *primitive.ObjectID `bson:"group_id,omitempty" json:"group_id,omitempty"`

	// Application-fee gating.
	RequiresFee bool    `bson:"requires_fee" json:"requires_fee"`
	FeeAmount   float64 `bson:"fee_amount,omitempty" json:"fee_amount,omitempty"`

	Attendees []Attendee `bson:"attendees" json:"attendees"`

	SubmittedAt *time.Time `bson:"submitted_at,omitempty" json:"submitted_at,omitempty"`
	AcceptedAt  *time.Time `bson:"accepted_at,omitempty" json:"accepted_at,omitempty"`
	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at" json:"updated_at"`
}

// Attendee returns the embedded attendee with the given id, or nil.
func (app *Application) Attendee(id primitive.ObjectID) *Attendee {
	for i := range app.Attendees {
		if app.Attendees[i].ID == id {
			return &app.Attendees[i]
		}
	}
	return nil
}

// HasPatreon reports whether any attendee holds a patreon-class product.
func (app *Application) HasPatreon() bool {
	for i := range app.Attendees {
		if app.Attendees[i].HasPatreon() {
			return true
		}
	}
	return false
}

// CouponCode is a discount code with a usage cap, consumed at
// payment-approval time.
type CouponCode struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	EventID       primitive.ObjectID `bson:"event_id" json:"event_id"`
	Code          string             `bson:"code" json:"code"`
	DiscountValue float64            `bson:"discount_value" json:"discount_value"`
	MaxUses       int                `bson:"max_uses" json:"max_uses"`
	CurrentUses   int                `bson:"current_uses" json:"current_uses"`
}

// Group is a referral/ambassador group created as a payment side effect.
// Members referred through the group check out with its discount.
type Group struct {
	ID                 primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	ApplicationID      primitive.ObjectID `bson:"application_id" json:"application_id"`
	EventID            primitive.ObjectID `bson:"event_id" json:"event_id"`
	Name               string             `bson:"name" json:"name"`
	Slug               string             `bson:"slug" json:"slug"`
	DiscountPercentage float64            `bson:"discount_percentage" json:"discount_percentage"`
	CreatedAt          time.Time          `bson:"created_at" json:"created_at"`
}

// ExpressCheckoutURL builds the referral checkout link included in
// confirmation emails.
func (g *Group) ExpressCheckoutURL(frontendURL string) string {
	return frontendURL + "/checkout?group=" + g.Slug
}

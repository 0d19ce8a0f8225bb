// Package pricing computes order amounts. It is pure computation: callers
// load the catalog, the application, and any coupon candidate, and the
// engine returns the cheapest quote.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"go-event-payments/models"
)

// MinimumDonation is the smallest accepted donation, in units of the
// order currency.
const MinimumDonation = 1.0

var (
	ErrDonationPriceRequired = errors.New("donation products require a custom price")
	ErrDonationBelowMinimum  = fmt.Errorf("minimum donation amount is %.0f", MinimumDonation)
)

// LineItem is one requested product for one attendee.
type LineItem struct {
	ProductID  primitive.ObjectID `json:"product_id"`
	AttendeeID primitive.ObjectID `json:"attendee_id"`
	Quantity   int                `json:"quantity"`

	// CustomPrice is only meaningful for donation products. nil is
	// "absent", which is distinct from an explicit zero.
	CustomPrice *float64 `json:"custom_price,omitempty"`
}

// Catalog maps product ids to their catalog entries.
type Catalog map[primitive.ObjectID]*models.Product

// Buckets aggregates line-item amounts by pricing rule across attendees.
type Buckets struct {
	Discountable    float64
	NonDiscountable float64
	Supporter       float64
	Patreon         float64
}

// Original is the pre-discount amount, for display.
func (b Buckets) Original() float64 {
	return b.Discountable + b.NonDiscountable + b.Supporter + b.Patreon
}

// PriceWith applies a discount percentage to the discountable bucket and
// subtracts credit.
func (b Buckets) PriceWith(discount, credit float64) float64 {
	discountable := b.Discountable
	if discountable > 0 {
		discountable = Discounted(discountable, discount)
	}
	return discountable + b.NonDiscountable + b.Supporter + b.Patreon - credit
}

// Discounted returns price reduced by a percentage, rounded to cents.
func Discounted(price, discount float64) float64 {
	return math.Round(price*(1-discount/100)*100) / 100
}

type bucketKind int

const (
	toDiscountable bucketKind = iota
	toNonDiscountable
	toSupporter
	toPatreon
)

// categoryRules maps each product category to the bucket its amount
// accrues to. Patreon and donation additionally have special handling in
// Categorize.
var categoryRules = map[models.Category]bucketKind{
	models.CategoryPass:      toDiscountable,
	models.CategoryDonation:  toNonDiscountable,
	models.CategorySupporter: toSupporter,
	models.CategoryLodging:   toNonDiscountable,
	models.CategoryPatreon:   toPatreon,
}

type attendeeTotals struct {
	amounts [4]float64
	patreon bool
}

// Categorize evaluates the rule table per attendee and aggregates the
// buckets. A patreon line zeroes out the attendee's other amounts and
// ends their evaluation; when the group already holds a patreon product
// the line contributes nothing (idempotent re-purchase guard). Lodging
// and the premium pass slug are never discounted.
func Categorize(items []LineItem, catalog Catalog, alreadyPatreon bool) Buckets {
	attendees := map[primitive.ObjectID]*attendeeTotals{}

	for _, item := range items {
		product, ok := catalog[item.ProductID]
		if !ok {
			continue
		}

		totals := attendees[item.AttendeeID]
		if totals == nil {
			totals = &attendeeTotals{}
			attendees[item.AttendeeID] = totals
		}
		if totals.patreon {
			continue
		}

		kind, ok := categoryRules[product.Category]
		if !ok {
			kind = toDiscountable
		}

		switch {
		case kind == toPatreon:
			totals.amounts = [4]float64{}
			if !alreadyPatreon {
				totals.amounts[toPatreon] = product.Price * float64(item.Quantity)
			}
			totals.patreon = true
		case product.Category == models.CategoryDonation:
			price := 0.0
			if item.CustomPrice != nil {
				price = *item.CustomPrice
			}
			totals.amounts[toNonDiscountable] += price * float64(item.Quantity)
		case product.Slug == models.SlugPremiumPass:
			totals.amounts[toNonDiscountable] += product.Price * float64(item.Quantity)
		default:
			totals.amounts[kind] += product.Price * float64(item.Quantity)
		}
	}

	var b Buckets
	for _, totals := range attendees {
		b.Discountable += totals.amounts[toDiscountable]
		b.NonDiscountable += totals.amounts[toNonDiscountable]
		b.Supporter += totals.amounts[toSupporter]
		b.Patreon += totals.amounts[toPatreon]
	}
	return b
}

// ValidateDonations checks that every donation line carries an explicit
// custom price of at least the minimum.
func ValidateDonations(items []LineItem, catalog Catalog) error {
	for _, item := range items {
		product, ok := catalog[item.ProductID]
		if !ok || product.Category != models.CategoryDonation {
			continue
		}
		if item.CustomPrice == nil {
			return ErrDonationPriceRequired
		}
		if *item.CustomPrice < MinimumDonation {
			return ErrDonationBelowMinimum
		}
	}
	return nil
}

// CreditFor returns the credit applied in an edit-passes re-pricing: the
// discounted value of the products the application's attendees currently
// hold (patreon holders excluded), plus any stored balance.
func CreditFor(app *models.Application, discount float64) float64 {
	total := 0.0
	for _, attendee := range app.Attendees {
		patreon := false
		subtotal := 0.0
		for _, p := range attendee.Products {
			if p.Category == models.CategoryPatreon {
				patreon = true
				subtotal = 0
			} else if !patreon {
				subtotal += p.Price * float64(p.Quantity)
			}
		}
		if !patreon {
			total += subtotal
		}
	}
	return Discounted(total, discount) + app.Credit
}

// Quote is the engine's output: the cheapest amount across the discount
// candidates and which candidate produced it.
type Quote struct {
	Amount         float64             `json:"amount"`
	OriginalAmount float64             `json:"original_amount"`
	DiscountValue  float64             `json:"discount_value"`
	GroupID        *primitive.ObjectID `json:"group_id,omitempty"`
	CouponCodeID   *primitive.ObjectID `json:"coupon_code_id,omitempty"`
	CouponCode     string              `json:"coupon_code,omitempty"`
	Currency       string              `json:"currency"`
}

// ComputeQuote prices the order under each eligible discount candidate,
// in order: the application's own assigned discount, the group's
// discount, a supplied coupon. The first candidate wins; a later one
// replaces it only when strictly cheaper. Coupon usage is not consumed
// here; that happens at approval time.
func ComputeQuote(
	items []LineItem,
	catalog Catalog,
	app *models.Application,
	group *models.Group,
	coupon *models.CouponCode,
	editPasses bool,
) Quote {
	alreadyPatreon := app.HasPatreon()
	buckets := Categorize(items, catalog, alreadyPatreon)

	price := func(discount float64) float64 {
		credit := 0.0
		if editPasses {
			credit = CreditFor(app, discount)
		}
		return buckets.PriceWith(discount, credit)
	}

	ownDiscount := 0.0
	if app.DiscountAssigned != nil {
		ownDiscount = *app.DiscountAssigned
	}

	quote := Quote{
		Amount:         price(ownDiscount),
		OriginalAmount: buckets.Original(),
		DiscountValue:  ownDiscount,
		Currency:       "USD",
	}

	if group != nil {
		if amount := price(group.DiscountPercentage); amount < quote.Amount {
			quote.Amount = amount
			quote.DiscountValue = group.DiscountPercentage
			quote.GroupID = &group.ID
		}
	}

	if coupon != nil {
		if amount := price(coupon.DiscountValue); amount < quote.Amount {
			quote.Amount = amount
			quote.DiscountValue = coupon.DiscountValue
			quote.CouponCodeID = &coupon.ID
			quote.CouponCode = coupon.Code
		}
	}

	return quote
}

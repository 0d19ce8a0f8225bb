// Package inventory tracks consumed-vs-max units per product.
package inventory

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"go-event-payments/models"
	"go-event-payments/pricing"
)

// ProductStore is the slice of storage the ledger needs.
type ProductStore interface {
	GetProduct(ctx context.Context, id primitive.ObjectID) (*models.Product, error)
	AddSold(ctx context.Context, id primitive.ObjectID, delta int) error
}

// InsufficientError reports that a requested quantity exceeds a product's
// remaining units. It is raised at order-validation time, before any
// payment row exists.
type InsufficientError struct {
	ProductName string
	Available   int
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("not enough inventory for %s, available: %d", e.ProductName, e.Available)
}

// Ledger adjusts consumed counts for finite-capacity products. Unlimited
// products are unaffected by either direction.
type Ledger struct {
	products ProductStore
}

func NewLedger(products ProductStore) *Ledger {
	return &Ledger{products: products}
}

// Decrement consumes qty units of a finite product.
func (l *Ledger) Decrement(ctx context.Context, productID primitive.ObjectID, qty int) error {
	product, err := l.products.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if product.Unlimited() {
		return nil
	}
	return l.products.AddSold(ctx, productID, qty)
}

// Increment returns qty units to a finite product. The consumed count is
// clamped at zero, so a double reversal cannot drive it negative.
func (l *Ledger) Increment(ctx context.Context, productID primitive.ObjectID, qty int) error {
	product, err := l.products.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if product.Unlimited() {
		return nil
	}
	return l.products.AddSold(ctx, productID, -qty)
}

// Validate checks that the aggregate requested quantity per product fits
// the remaining capacity.
func Validate(items []pricing.LineItem, catalog pricing.Catalog) error {
	requested := map[primitive.ObjectID]int{}
	for _, item := range items {
		requested[item.ProductID] += item.Quantity
	}

	for productID, qty := range requested {
		product, ok := catalog[productID]
		if !ok || product.Unlimited() {
			continue
		}
		if available := *product.MaxInventory - product.Sold; qty > available {
			return &InsufficientError{ProductName: product.Name, Available: available}
		}
	}
	return nil
}

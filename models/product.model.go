package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Category is the closed set of product categories. Pricing rules are
// selected by category once at categorization time.
type Category string

const (
	CategoryPass      Category = "pass"
	CategoryPatreon   Category = "patreon"
	CategorySupporter Category = "supporter"
	CategoryLodging   Category = "lodging"
	CategoryDonation  Category = "donation"
)

// SlugPremiumPass marks the one pass product that is charged at full price
// regardless of any discount, same as lodging.
const SlugPremiumPass = "premium-patron"

// Product represents a purchasable item in an event's catalog.
type Product struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	EventID     primitive.ObjectID `bson:"event_id" json:"event_id"`
	Name        string             `bson:"name" json:"name"`
	Slug        string             `bson:"slug" json:"slug"`
	Description string             `bson:"description,omitempty" json:"description,omitempty"`
	Category    Category           `bson:"category" json:"category"`
	Price       float64            `bson:"price" json:"price"`
	IsActive    bool               `bson:"is_active" json:"is_active"`

	// MaxInventory is nil for unlimited products. Sold counts consumed
	// units and never goes below zero.
	MaxInventory *int `bson:"max_inventory,omitempty" json:"max_inventory,omitempty"`
	Sold         int  `bson:"sold" json:"sold"`
}

// Unlimited reports whether the product has no inventory cap.
func (p *Product) Unlimited() bool {
	return p.MaxInventory == nil
}

// Available returns the remaining units for finite products.
func (p *Product) Available() int {
	if p.MaxInventory == nil {
		return 0
	}
	remaining := *p.MaxInventory - p.Sold
	if remaining < 0 {
		return 0
	}
	return remaining
}

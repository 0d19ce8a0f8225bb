// Package store defines durable storage for payments, applications,
// products, coupons, and groups, with a MongoDB implementation for
// production and an in-memory one for tests and local development.
package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"go-event-payments/models"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("not found")

// Store is the storage surface used by the payment state machine and the
// HTTP controllers. Implementations must make WithTransaction atomic:
// either every mutation performed by fn is visible afterwards, or none.
type Store interface {
	// WithTransaction runs fn as one atomic unit of work. Mutations made
	// through the ctx passed to fn are rolled back when fn returns an
	// error.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	InsertPayment(ctx context.Context, payment *models.Payment) error
	GetPayment(ctx context.Context, id primitive.ObjectID) (*models.Payment, error)
	GetPaymentByExternalID(ctx context.Context, externalID string) (*models.Payment, error)
	UpdatePayment(ctx context.Context, payment *models.Payment) error
	ListPaymentsByApplication(ctx context.Context, applicationID primitive.ObjectID) ([]models.Payment, error)

	GetApplication(ctx context.Context, id primitive.ObjectID) (*models.Application, error)
	UpdateApplication(ctx context.Context, application *models.Application) error

	InsertProduct(ctx context.Context, product *models.Product) error
	GetProduct(ctx context.Context, id primitive.ObjectID) (*models.Product, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	ListProductsByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Product, error)
	UpdateProduct(ctx context.Context, product *models.Product) error
	DeleteProduct(ctx context.Context, id primitive.ObjectID) error

	// AddSold adjusts a product's consumed-units counter by delta,
	// clamped at a zero floor.
	AddSold(ctx context.Context, id primitive.ObjectID, delta int) error

	GetCoupon(ctx context.Context, id primitive.ObjectID) (*models.CouponCode, error)
	GetCouponByCode(ctx context.Context, eventID primitive.ObjectID, code string) (*models.CouponCode, error)
	// UseCoupon increments a coupon's usage counter unless it is already
	// at its configured maximum.
	UseCoupon(ctx context.Context, id primitive.ObjectID) error

	InsertGroup(ctx context.Context, group *models.Group) error
	GetGroup(ctx context.Context, id primitive.ObjectID) (*models.Group, error)
	GetGroupByApplication(ctx context.Context, applicationID primitive.ObjectID) (*models.Group, error)
}

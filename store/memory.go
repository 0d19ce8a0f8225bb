package store

import (
	"context"
	"encoding/json"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"go-event-payments/models"
)

// Memory is an in-memory Store used by tests and local development. It
// returns copies of stored documents, so mutations only become visible
// through an explicit Update call, the same as with a real database.
type Memory struct {
	txMu         sync.Mutex
	mu           sync.Mutex
	payments     map[string]*models.Payment
	applications map[string]*models.Application
	products     map[string]*models.Product
	coupons      map[string]*models.CouponCode
	groups       map[string]*models.Group
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		payments:     map[string]*models.Payment{},
		applications: map[string]*models.Application{},
		products:     map[string]*models.Product{},
		coupons:      map[string]*models.CouponCode{},
		groups:       map[string]*models.Group{},
	}
}

func clone[T any](v *T) *T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic(err)
	}
	return out
}

func cloneMap[T any](m map[string]*T) map[string]*T {
	out := make(map[string]*T, len(m))
	for k, v := range m {
		out[k] = clone(v)
	}
	return out
}

// WithTransaction snapshots the whole store and restores it when fn
// fails, giving the same all-or-nothing behavior the mongo implementation
// gets from session transactions. Transactions are serialized: a rollback
// must not clobber the writes of a concurrent transaction.
func (s *Memory) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	payments := cloneMap(s.payments)
	applications := cloneMap(s.applications)
	products := cloneMap(s.products)
	coupons := cloneMap(s.coupons)
	groups := cloneMap(s.groups)
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.payments = payments
		s.applications = applications
		s.products = products
		s.coupons = coupons
		s.groups = groups
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Memory) InsertPayment(_ context.Context, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if payment.ID.IsZero() {
		payment.ID = primitive.NewObjectID()
	}
	s.payments[payment.ID.Hex()] = clone(payment)
	return nil
}

func (s *Memory) GetPayment(_ context.Context, id primitive.ObjectID) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payment, ok := s.payments[id.Hex()]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(payment), nil
}

func (s *Memory) GetPaymentByExternalID(_ context.Context, externalID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, payment := range s.payments {
		if payment.ExternalID == externalID {
			return clone(payment), nil
		}
	}
	return nil, ErrNotFound
}

func (s *Memory) UpdatePayment(_ context.Context, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[payment.ID.Hex()]; !ok {
		return ErrNotFound
	}
	s.payments[payment.ID.Hex()] = clone(payment)
	return nil
}

func (s *Memory) ListPaymentsByApplication(_ context.Context, applicationID primitive.ObjectID) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var payments []models.Payment
	for _, payment := range s.payments {
		if payment.ApplicationID == applicationID {
			payments = append(payments, *clone(payment))
		}
	}
	return payments, nil
}

func (s *Memory) GetApplication(_ context.Context, id primitive.ObjectID) (*models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	application, ok := s.applications[id.Hex()]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(application), nil
}

func (s *Memory) UpdateApplication(_ context.Context, application *models.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.applications[application.ID.Hex()]; !ok {
		return ErrNotFound
	}
	s.applications[application.ID.Hex()] = clone(application)
	return nil
}

// InsertApplication seeds an application; the registration workflow that
// normally creates these lives outside this service.
func (s *Memory) InsertApplication(application *models.Application) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if application.ID.IsZero() {
		application.ID = primitive.NewObjectID()
	}
	s.applications[application.ID.Hex()] = clone(application)
}

func (s *Memory) InsertProduct(_ context.Context, product *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if product.ID.IsZero() {
		product.ID = primitive.NewObjectID()
	}
	s.products[product.ID.Hex()] = clone(product)
	return nil
}

func (s *Memory) GetProduct(_ context.Context, id primitive.ObjectID) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[id.Hex()]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(product), nil
}

func (s *Memory) ListProducts(_ context.Context) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var products []models.Product
	for _, product := range s.products {
		products = append(products, *clone(product))
	}
	return products, nil
}

func (s *Memory) ListProductsByIDs(_ context.Context, ids []primitive.ObjectID) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var products []models.Product
	for _, id := range ids {
		if product, ok := s.products[id.Hex()]; ok {
			products = append(products, *clone(product))
		}
	}
	return products, nil
}

func (s *Memory) UpdateProduct(_ context.Context, product *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[product.ID.Hex()]; !ok {
		return ErrNotFound
	}
	s.products[product.ID.Hex()] = clone(product)
	return nil
}

func (s *Memory) DeleteProduct(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id.Hex()]; !ok {
		return ErrNotFound
	}
	delete(s.products, id.Hex())
	return nil
}

func (s *Memory) AddSold(_ context.Context, id primitive.ObjectID, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[id.Hex()]
	if !ok {
		return ErrNotFound
	}
	product.Sold += delta
	if product.Sold < 0 {
		product.Sold = 0
	}
	return nil
}

func (s *Memory) GetCoupon(_ context.Context, id primitive.ObjectID) (*models.CouponCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	coupon, ok := s.coupons[id.Hex()]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(coupon), nil
}

func (s *Memory) GetCouponByCode(_ context.Context, eventID primitive.ObjectID, code string) (*models.CouponCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, coupon := range s.coupons {
		if coupon.EventID == eventID && coupon.Code == code {
			return clone(coupon), nil
		}
	}
	return nil, ErrNotFound
}

func (s *Memory) UseCoupon(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coupon, ok := s.coupons[id.Hex()]
	if !ok {
		return ErrNotFound
	}
	if coupon.CurrentUses < coupon.MaxUses {
		coupon.CurrentUses++
	}
	return nil
}

// InsertCoupon seeds a coupon code.
func (s *Memory) InsertCoupon(coupon *models.CouponCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if coupon.ID.IsZero() {
		coupon.ID = primitive.NewObjectID()
	}
	s.coupons[coupon.ID.Hex()] = clone(coupon)
}

func (s *Memory) InsertGroup(_ context.Context, group *models.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if group.ID.IsZero() {
		group.ID = primitive.NewObjectID()
	}
	s.groups[group.ID.Hex()] = clone(group)
	return nil
}

func (s *Memory) GetGroup(_ context.Context, id primitive.ObjectID) (*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[id.Hex()]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(group), nil
}

func (s *Memory) GetGroupByApplication(_ context.Context, applicationID primitive.ObjectID) (*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, group := range s.groups {
		if group.ApplicationID == applicationID {
			return clone(group), nil
		}
	}
	return nil, ErrNotFound
}

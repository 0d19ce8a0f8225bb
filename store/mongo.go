package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"go-event-payments/models"
)

// Mongo implements Store on MongoDB. Approve/Cancel atomicity relies on
// multi-document transactions, which require a replica set.
type Mongo struct {
	client       *mongo.Client
	payments     *mongo.Collection
	applications *mongo.Collection
	products     *mongo.Collection
	coupons      *mongo.Collection
	groups       *mongo.Collection
}

// NewMongo wires the collections used by the service.
func NewMongo(client *mongo.Client, database string) *Mongo {
	db := client.Database(database)
	return &Mongo{
		client:       client,
		payments:     db.Collection("payments"),
		applications: db.Collection("applications"),
		products:     db.Collection("products"),
		coupons:      db.Collection("coupon_codes"),
		groups:       db.Collection("groups"),
	}
}

// WithTransaction runs fn inside a mongo session transaction. All store
// calls made with the session context participate; an error aborts every
// mutation.
func (s *Mongo) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func (s *Mongo) InsertPayment(ctx context.Context, payment *models.Payment) error {
	now := time.Now().UTC()
	payment.CreatedAt = now
	payment.UpdatedAt = now
	if payment.ID.IsZero() {
		payment.ID = primitive.NewObjectID()
	}
	_, err := s.payments.InsertOne(ctx, payment)
	return err
}

func (s *Mongo) GetPayment(ctx context.Context, id primitive.ObjectID) (*models.Payment, error) {
	var payment models.Payment
	err := s.payments.FindOne(ctx, bson.M{"_id": id}).Decode(&payment)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (s *Mongo) GetPaymentByExternalID(ctx context.Context, externalID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.payments.FindOne(ctx, bson.M{"external_id": externalID}).Decode(&payment)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (s *Mongo) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	payment.UpdatedAt = time.Now().UTC()
	result, err := s.payments.ReplaceOne(ctx, bson.M{"_id": payment.ID}, payment)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Mongo) ListPaymentsByApplication(ctx context.Context, applicationID primitive.ObjectID) ([]models.Payment, error) {
	cursor, err := s.payments.Find(ctx, bson.M{"application_id": applicationID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var payments []models.Payment
	if err := cursor.All(ctx, &payments); err != nil {
		return nil, err
	}
	return payments, nil
}

func (s *Mongo) GetApplication(ctx context.Context, id primitive.ObjectID) (*models.Application, error) {
	var application models.Application
	err := s.applications.FindOne(ctx, bson.M{"_id": id}).Decode(&application)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &application, nil
}

func (s *Mongo) UpdateApplication(ctx context.Context, application *models.Application) error {
	application.UpdatedAt = time.Now().UTC()
	result, err := s.applications.ReplaceOne(ctx, bson.M{"_id": application.ID}, application)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Mongo) InsertProduct(ctx context.Context, product *models.Product) error {
	if product.ID.IsZero() {
		product.ID = primitive.NewObjectID()
	}
	_, err := s.products.InsertOne(ctx, product)
	return err
}

func (s *Mongo) GetProduct(ctx context.Context, id primitive.ObjectID) (*models.Product, error) {
	var product models.Product
	err := s.products.FindOne(ctx, bson.M{"_id": id}).Decode(&product)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Mongo) ListProducts(ctx context.Context) ([]models.Product, error) {
	cursor, err := s.products.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var products []models.Product
	if err := cursor.All(ctx, &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Mongo) ListProductsByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Product, error) {
	cursor, err := s.products.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var products []models.Product
	if err := cursor.All(ctx, &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Mongo) UpdateProduct(ctx context.Context, product *models.Product) error {
	result, err := s.products.ReplaceOne(ctx, bson.M{"_id": product.ID}, product)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Mongo) DeleteProduct(ctx context.Context, id primitive.ObjectID) error {
	result, err := s.products.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// AddSold uses a pipeline update so the zero floor is applied atomically
// on the server.
func (s *Mongo) AddSold(ctx context.Context, id primitive.ObjectID, delta int) error {
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"sold": bson.M{"$max": bson.A{0, bson.M{"$add": bson.A{"$sold", delta}}}},
		}}},
	}
	result, err := s.products.UpdateOne(ctx, bson.M{"_id": id}, pipeline)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Mongo) GetCoupon(ctx context.Context, id primitive.ObjectID) (*models.CouponCode, error) {
	var coupon models.CouponCode
	err := s.coupons.FindOne(ctx, bson.M{"_id": id}).Decode(&coupon)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

func (s *Mongo) GetCouponByCode(ctx context.Context, eventID primitive.ObjectID, code string) (*models.CouponCode, error) {
	var coupon models.CouponCode
	err := s.coupons.FindOne(ctx, bson.M{"event_id": eventID, "code": code}).Decode(&coupon)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

// UseCoupon increments the usage counter unless the cap is reached. A
// coupon at its cap is left unchanged.
func (s *Mongo) UseCoupon(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.coupons.UpdateOne(ctx,
		bson.M{"_id": id, "$expr": bson.M{"$lt": bson.A{"$current_uses", "$max_uses"}}},
		bson.M{"$inc": bson.M{"current_uses": 1}},
	)
	return err
}

func (s *Mongo) InsertGroup(ctx context.Context, group *models.Group) error {
	if group.ID.IsZero() {
		group.ID = primitive.NewObjectID()
	}
	group.CreatedAt = time.Now().UTC()
	_, err := s.groups.InsertOne(ctx, group)
	return err
}

func (s *Mongo) GetGroup(ctx context.Context, id primitive.ObjectID) (*models.Group, error) {
	var group models.Group
	err := s.groups.FindOne(ctx, bson.M{"_id": id}).Decode(&group)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (s *Mongo) GetGroupByApplication(ctx context.Context, applicationID primitive.ObjectID) (*models.Group, error) {
	var group models.Group
	err := s.groups.FindOne(ctx, bson.M{"application_id": applicationID}).Decode(&group)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &group, nil
}

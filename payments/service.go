// Package payments implements the payment lifecycle: order validation,
// pricing, gateway hand-off, and the approval/cancellation state machine
// with its side effects.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"go-event-payments/gateway"
	"go-event-payments/inventory"
	"go-event-payments/mail"
	"go-event-payments/models"
	"go-event-payments/pricing"
	"go-event-payments/store"
)

// ValidationError marks a client error: unknown or inactive product,
// insufficient inventory, bad donation amount, application in the wrong
// status.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// Gateway creates remote payment requests. *gateway.Client satisfies it.
type Gateway interface {
	CreatePayment(ctx context.Context, amount float64, reference gateway.Reference, apiKey string, maxInstallments int) (*gateway.PaymentRequest, error)
}

// defaultGroupDiscount is the discount granted through a referral group's
// express checkout link.
const defaultGroupDiscount = 10.0

// Service orchestrates payment creation and status transitions.
type Service struct {
	store       store.Store
	ledger      *inventory.Ledger
	gateway     Gateway
	sender      mail.Sender
	apiKey      string
	frontendURL string
	logger      *zap.Logger
}

// NewService wires the state machine to its collaborators.
func NewService(st store.Store, gw Gateway, sender mail.Sender, apiKey, frontendURL string, logger *zap.Logger) *Service {
	return &Service{
		store:       st,
		ledger:      inventory.NewLedger(st),
		gateway:     gw,
		sender:      sender,
		apiKey:      apiKey,
		frontendURL: frontendURL,
		logger:      logger,
	}
}

// CreateRequest is the payment-creation input.
type CreateRequest struct {
	ApplicationID   primitive.ObjectID `json:"application_id"`
	Products        []pricing.LineItem `json:"products"`
	CouponCode      string             `json:"coupon_code,omitempty"`
	EditPasses      bool               `json:"edit_passes"`
	MaxInstallments int                `json:"max_installments,omitempty"`
}

type orderContext struct {
	quote       pricing.Quote
	application *models.Application
	catalog     pricing.Catalog
}

// prepare validates the order and prices it. No mutation happens here.
func (s *Service) prepare(ctx context.Context, req CreateRequest) (*orderContext, error) {
	application, err := s.store.GetApplication(ctx, req.ApplicationID)
	if err != nil {
		return nil, err
	}
	if application.Status != models.ApplicationAccepted {
		return nil, validationf("application is not accepted")
	}
	if len(req.Products) == 0 {
		return nil, validationf("no products requested")
	}

	catalog, err := s.loadCatalog(ctx, req.Products, application)
	if err != nil {
		return nil, err
	}

	for _, item := range req.Products {
		if application.Attendee(item.AttendeeID) == nil {
			return nil, validationf("invalid attendees")
		}
	}

	if err := pricing.ValidateDonations(req.Products, catalog); err != nil {
		return nil, &ValidationError{msg: err.Error()}
	}
	if err := inventory.Validate(req.Products, catalog); err != nil {
		return nil, err
	}

	buyingPatreon := false
	for _, item := range req.Products {
		if catalog[item.ProductID].Category == models.CategoryPatreon {
			buyingPatreon = true
		}
	}
	if req.EditPasses && buyingPatreon && !application.HasPatreon() {
		return nil, validationf("cannot edit passes for patreon products")
	}

	var group *models.Group
	if application.GroupID != nil {
		group, err = s.store.GetGroup(ctx, *application.GroupID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	var coupon *models.CouponCode
	if req.CouponCode != "" {
		coupon, err = s.store.GetCouponByCode(ctx, application.EventID, req.CouponCode)
		if errors.Is(err, store.ErrNotFound) {
			return nil, validationf("invalid coupon code")
		}
		if err != nil {
			return nil, err
		}
	}

	quote := pricing.ComputeQuote(req.Products, catalog, application, group, coupon, req.EditPasses)
	return &orderContext{quote: quote, application: application, catalog: catalog}, nil
}

// loadCatalog fetches the requested products, requiring each to exist, be
// active, and belong to the application's event.
func (s *Service) loadCatalog(ctx context.Context, items []pricing.LineItem, application *models.Application) (pricing.Catalog, error) {
	seen := map[primitive.ObjectID]bool{}
	var ids []primitive.ObjectID
	for _, item := range items {
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			ids = append(ids, item.ProductID)
		}
	}

	products, err := s.store.ListProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	catalog := pricing.Catalog{}
	for i := range products {
		p := &products[i]
		if p.IsActive && p.EventID == application.EventID {
			catalog[p.ID] = p
		}
	}
	if len(catalog) != len(ids) {
		return nil, validationf("some products are not available or inactive")
	}
	return catalog, nil
}

// Preview prices an order without creating a payment or consuming
// anything.
func (s *Service) Preview(ctx context.Context, req CreateRequest) (*pricing.Quote, error) {
	order, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return &order.quote, nil
}

// Create validates and prices the order, then either approves it directly
// (amount <= 0, any negative remainder becomes application credit) or
// obtains a checkout URL from the processor and leaves it pending.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Payment, error) {
	order, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	quote, application := order.quote, order.application

	payment := &models.Payment{
		ApplicationID:     application.ID,
		Status:            models.PaymentPending,
		Amount:            quote.Amount,
		Currency:          quote.Currency,
		Source:            models.SourceSimplefi,
		EditPasses:        req.EditPasses,
		GroupID:           quote.GroupID,
		CouponCodeID:      quote.CouponCodeID,
		CouponCode:        quote.CouponCode,
		IsInstallmentPlan: req.MaxInstallments > 1,
		Products:          buildSnapshots(req.Products, order.catalog),
	}
	if req.MaxInstallments > 1 {
		payment.InstallmentsTotal = req.MaxInstallments
	}
	if quote.DiscountValue > 0 {
		discount := quote.DiscountValue
		payment.DiscountValue = &discount
	}

	if quote.Amount <= 0 {
		payment.Status = models.PaymentApproved
		if quote.Amount < 0 {
			application.Credit = -quote.Amount
			payment.Amount = 0
		} else {
			application.Credit = 0
		}

		err := s.store.WithTransaction(ctx, func(ctx context.Context) error {
			if err := s.store.InsertPayment(ctx, payment); err != nil {
				return err
			}
			// An edit-passes order replaces the held products even when
			// nothing is charged.
			if req.EditPasses {
				if err := s.clearApplicationProducts(ctx, application); err != nil {
					return err
				}
			}
			if err := s.store.UpdateApplication(ctx, application); err != nil {
				return err
			}
			return s.applyApproval(ctx, payment)
		})
		if err != nil {
			return nil, err
		}
		s.logger.Info("payment approved without gateway call",
			zap.String("payment_id", payment.ID.Hex()),
			zap.Float64("credit", application.Credit))
		return payment, nil
	}

	request, err := s.gateway.CreatePayment(ctx, quote.Amount, buildReference(application, payment.Products), s.apiKey, req.MaxInstallments)
	if err != nil {
		return nil, err
	}
	payment.ExternalID = request.ID
	payment.CheckoutURL = request.CheckoutURL
	if request.Status != "" {
		payment.Status = request.Status
	}

	if err := s.store.InsertPayment(ctx, payment); err != nil {
		return nil, err
	}
	s.logger.Info("payment created",
		zap.String("payment_id", payment.ID.Hex()),
		zap.String("external_id", payment.ExternalID),
		zap.Float64("amount", payment.Amount))
	return payment, nil
}

// CreateApplicationFee creates the gating payment that must settle before
// a draft application can be submitted. Prior pending fee payments are
// cancelled so only one checkout link is live.
func (s *Service) CreateApplicationFee(ctx context.Context, applicationID primitive.ObjectID) (*models.Payment, error) {
	application, err := s.store.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if application.Status != models.ApplicationDraft {
		return nil, validationf("application is not in draft")
	}
	if !application.RequiresFee || application.FeeAmount <= 0 {
		return nil, validationf("no application fee configured")
	}

	existing, err := s.store.ListPaymentsByApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		p := &existing[i]
		if !p.IsApplicationFee {
			continue
		}
		if p.Status == models.PaymentApproved {
			return nil, validationf("application fee already paid")
		}
		if p.Status == models.PaymentPending {
			p.Status = models.PaymentCancelled
			if err := s.store.UpdatePayment(ctx, p); err != nil {
				return nil, err
			}
		}
	}

	request, err := s.gateway.CreatePayment(ctx, application.FeeAmount, gateway.Reference{
		Email:         application.Email,
		ApplicationID: application.ID.Hex(),
	}, s.apiKey, 0)
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		ApplicationID:    application.ID,
		Status:           models.PaymentPending,
		Amount:           application.FeeAmount,
		Currency:         "USD",
		Source:           models.SourceSimplefi,
		IsApplicationFee: true,
		ExternalID:       request.ID,
		CheckoutURL:      request.CheckoutURL,
	}
	if request.Status != "" {
		payment.Status = request.Status
	}
	if err := s.store.InsertPayment(ctx, payment); err != nil {
		return nil, err
	}
	s.logger.Info("application fee payment created",
		zap.String("payment_id", payment.ID.Hex()),
		zap.String("application_id", application.ID.Hex()))
	return payment, nil
}

// GetPayment loads one payment.
func (s *Service) GetPayment(ctx context.Context, id primitive.ObjectID) (*models.Payment, error) {
	return s.store.GetPayment(ctx, id)
}

// GetPaymentByExternalID resolves a processor reference (payment-request
// id or installment-plan id) to its payment.
func (s *Service) GetPaymentByExternalID(ctx context.Context, externalID string) (*models.Payment, error) {
	return s.store.GetPaymentByExternalID(ctx, externalID)
}

// ListPayments returns the payments owned by an application.
func (s *Service) ListPayments(ctx context.Context, applicationID primitive.ObjectID) ([]models.Payment, error) {
	return s.store.ListPaymentsByApplication(ctx, applicationID)
}

// buildSnapshots freezes the requested line items against the catalog.
// Donation lines carry the caller's custom price instead of the catalog
// price.
func buildSnapshots(items []pricing.LineItem, catalog pricing.Catalog) []models.ProductSnapshot {
	snapshots := make([]models.ProductSnapshot, 0, len(items))
	for _, item := range items {
		product := catalog[item.ProductID]
		price := product.Price
		if product.Category == models.CategoryDonation && item.CustomPrice != nil {
			price = *item.CustomPrice
		}
		snapshots = append(snapshots, models.ProductSnapshot{
			ProductID:   product.ID,
			AttendeeID:  item.AttendeeID,
			Quantity:    item.Quantity,
			Name:        product.Name,
			Description: product.Description,
			Price:       price,
			Category:    product.Category,
		})
	}
	return snapshots
}

func buildReference(application *models.Application, snapshots []models.ProductSnapshot) gateway.Reference {
	reference := gateway.Reference{
		Email:         application.Email,
		ApplicationID: application.ID.Hex(),
	}
	for _, snapshot := range snapshots {
		reference.Products = append(reference.Products, gateway.ReferenceProduct{
			ProductID:  snapshot.ProductID.Hex(),
			Name:       snapshot.Name,
			Quantity:   snapshot.Quantity,
			AttendeeID: snapshot.AttendeeID.Hex(),
		})
	}
	return reference
}

func slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	return strings.ReplaceAll(slug, " ", "-")
}

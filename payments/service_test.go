package payments

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"go-event-payments/gateway"
	"go-event-payments/inventory"
	"go-event-payments/mail"
	"go-event-payments/models"
	"go-event-payments/pricing"
	"go-event-payments/store"
)

type gatewayCall struct {
	amount          float64
	reference       gateway.Reference
	maxInstallments int
}

type fakeGateway struct {
	calls []gatewayCall
	err   error
}

func (g *fakeGateway) CreatePayment(_ context.Context, amount float64, reference gateway.Reference, _ string, maxInstallments int) (*gateway.PaymentRequest, error) {
	g.calls = append(g.calls, gatewayCall{amount: amount, reference: reference, maxInstallments: maxInstallments})
	if g.err != nil {
		return nil, g.err
	}
	id := fmt.Sprintf("pr_%d", len(g.calls))
	if maxInstallments > 1 {
		id = fmt.Sprintf("plan_%d", len(g.calls))
	}
	return &gateway.PaymentRequest{ID: id, Status: models.PaymentPending, CheckoutURL: "https://pay.test/" + id}, nil
}

type sentMail struct {
	recipient string
	event     string
	params    map[string]string
}

type fakeSender struct {
	sent []sentMail
}

func (s *fakeSender) Send(_ context.Context, recipient, event string, params map[string]string, _ []mail.Attachment) error {
	s.sent = append(s.sent, sentMail{recipient: recipient, event: event, params: params})
	return nil
}

func (s *fakeSender) countOf(event string) int {
	n := 0
	for _, m := range s.sent {
		if m.event == event {
			n++
		}
	}
	return n
}

type fixture struct {
	st       *store.Memory
	gw       *fakeGateway
	sender   *fakeSender
	svc      *Service
	eventID  primitive.ObjectID
	app      *models.Application
	attendee primitive.ObjectID
	pass     *models.Product
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	gw := &fakeGateway{}
	sender := &fakeSender{}
	svc := NewService(st, gw, sender, "api-key", "https://front.test", zap.NewNop())

	eventID := primitive.NewObjectID()
	pass := &models.Product{
		EventID:      eventID,
		Name:         "Main Pass",
		Slug:         "main-pass",
		Category:     models.CategoryPass,
		Price:        100,
		IsActive:     true,
		MaxInventory: intPtr(10),
	}
	require.NoError(t, st.InsertProduct(context.Background(), pass))

	attendee := primitive.NewObjectID()
	app := &models.Application{
		EventID:   eventID,
		Email:     "ana@example.com",
		FirstName: "Ana",
		LastName:  "Lema",
		Status:    models.ApplicationAccepted,
		Attendees: []models.Attendee{{ID: attendee, Name: "Ana Lema", Category: "main"}},
	}
	st.InsertApplication(app)

	return &fixture{st: st, gw: gw, sender: sender, svc: svc, eventID: eventID, app: app, attendee: attendee, pass: pass}
}

func (f *fixture) createRequest() CreateRequest {
	return CreateRequest{
		ApplicationID: f.app.ID,
		Products:      []pricing.LineItem{{ProductID: f.pass.ID, AttendeeID: f.attendee, Quantity: 1}},
	}
}

func (f *fixture) reloadPayment(t *testing.T, id primitive.ObjectID) *models.Payment {
	t.Helper()
	payment, err := f.st.GetPayment(context.Background(), id)
	require.NoError(t, err)
	return payment
}

func (f *fixture) soldCount(t *testing.T, id primitive.ObjectID) int {
	t.Helper()
	product, err := f.st.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return product.Sold
}

func TestCreateLeavesPaymentPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payment, err := f.svc.Create(ctx, f.createRequest())
	require.NoError(t, err)

	assert.Equal(t, models.PaymentPending, payment.Status)
	assert.Equal(t, "pr_1", payment.ExternalID)
	assert.Equal(t, "https://pay.test/pr_1", payment.CheckoutURL)
	assert.Equal(t, 100.0, payment.Amount)
	require.Len(t, payment.Products, 1)
	assert.Equal(t, "Main Pass", payment.Products[0].Name)

	// Nothing is consumed or assigned until the processor confirms.
	assert.Equal(t, 0, f.soldCount(t, f.pass.ID))
	app, err := f.st.GetApplication(ctx, f.app.ID)
	require.NoError(t, err)
	assert.Empty(t, app.Attendees[0].Products)
	assert.Empty(t, f.sender.sent)
}

func TestCreateZeroAmountApprovesDirectly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.app.DiscountAssigned = floatPtr(100)
	require.NoError(t, f.st.UpdateApplication(ctx, f.app))

	payment, err := f.svc.Create(ctx, f.createRequest())
	require.NoError(t, err)

	assert.Equal(t, models.PaymentApproved, payment.Status)
	assert.Empty(t, f.gw.calls)
	assert.Equal(t, 1, f.soldCount(t, f.pass.ID))

	app, err := f.st.GetApplication(ctx, f.app.ID)
	require.NoError(t, err)
	require.Len(t, app.Attendees[0].Products, 1)
	assert.Equal(t, f.pass.ID, app.Attendees[0].Products[0].ProductID)
	require.NotNil(t, app.GroupID)

	assert.Equal(t, 1, f.sender.countOf(mail.EventPaymentConfirmed))
}

func TestApproveIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payment, err := f.svc.Create(ctx, f.createRequest())
	require.NoError(t, err)

	require.NoError(t, f.svc.Approve(ctx, f.reloadPayment(t, payment.ID), "DAI", 0.999))
	require.NoError(t, f.svc.Approve(ctx, f.reloadPayment(t, payment.ID), "DAI", 0.999))

	assert.Equal(t, 1, f.soldCount(t, f.pass.ID))
	app, err := f.st.GetApplication(ctx, f.app.ID)
	require.NoError(t, err)
	assert.Len(t, app.Attendees[0].Products, 1)
	assert.Equal(t, 1, f.sender.countOf(mail.EventPaymentConfirmed))

	got := f.reloadPayment(t, payment.ID)
	assert.Equal(t, models.PaymentApproved, got.Status)
	assert.Equal(t, "DAI", got.Currency)
	assert.Equal(t, models.SourceSimplefi, got.Source)
}

func TestApproveUSDMarksStripeSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payment, err := f.svc.Create(ctx, f.createRequest())
	require.NoError(t, err)
	require.NoError(t, f.svc.Approve(ctx, f.reloadPayment(t, payment.ID), "USD", 1))

	got := f.reloadPayment(t, payment.ID)
	assert.Equal(t, models.SourceStripe, got.Source)
}

func TestApproveConsumesCouponOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	coupon := &models.CouponCode{EventID: f.eventID, Code: "SAVE50", DiscountValue: 50, MaxUses: 5}
	f.st.InsertCoupon(coupon)

	req := f.createRequest()
	req.CouponCode = "SAVE50"
	payment, err := f.svc.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 50.0, payment.Amount)
	require.NotNil(t, payment.CouponCodeID)

	require.NoError(t, f.svc.Approve(ctx, f.reloadPayment(t, payment.ID), "USD", 1))
	require.NoError(t, f.svc.Approve(ctx, f.reloadPayment(t, payment.ID), "USD", 1))

	got, err := f.st.GetCoupon(ctx, coupon.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentUses)
}

func TestCreateRejectsInvalidCoupon(t *testing.T) {
	f := newFixture(t)

	req := f.createRequest()
	req.CouponCode = "NOPE"
	_, err := f.svc.Create(context.Background(), req)

	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestCancelReversesApprovedPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payment, err := f.svc.Create(ctx, f.createRequest())
	require.NoError(t, err)
	require.NoError(t, f.svc.Approve(ctx, f.reloadPayment(t, payment.ID), "USD", 1))

	require.NoError(t, f.svc.Cancel(ctx, f.reloadPayment(t, payment.ID)))

	assert.Equal(t, 0, f.soldCount(t, f.pass.ID))
	app, err := f.st.GetApplication(ctx, f.app.ID)
	require.NoError(t, err)
	assert.Empty(t, app.Attendees[0].Products)
	assert.Equal(t, models.PaymentCancelled, f.reloadPayment(t, payment.ID).Status)

	// A second cancellation changes nothing.
	require.NoError(t, f.svc.Cancel(ctx, f.reloadPayment(t, payment.ID)))
	assert.Equal(t, 0, f.soldCount(t, f.pass.ID))
}

func TestCancelPendingSkipsReversal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payment, err := f.svc.Create(ctx, f.createRequest())
	require.NoError(t, err)
	require.NoError(t, f.svc.Cancel(ctx, f.reloadPayment(t, payment.ID)))

	assert.Equal(t, models.PaymentCancelled, f.reloadPayment(t, payment.ID).Status)
	assert.Equal(t, 0, f.soldCount(t, f.pass.ID))
}

func TestInstallmentPlanLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.createRequest()
	req.MaxInstallments = 3
	payment, err := f.svc.Create(ctx, req)
	require.NoError(t, err)

	require.Len(t, f.gw.calls, 1)
	assert.Equal(t, 3, f.gw.calls[0].maxInstallments)
	assert.True(t, payment.IsInstallmentPlan)
	assert.Equal(t, 3, payment.InstallmentsTotal)

	require.NoError(t, f.svc.ActivatePlan(ctx, f.reloadPayment(t, payment.ID), 2))
	assert.Equal(t, 2, f.reloadPayment(t, payment.ID).InstallmentsTotal)

	// First installment approves and assigns, but does not send the
	// confirmation yet.
	require.NoError(t, f.svc.RecordInstallment(ctx, f.reloadPayment(t, payment.ID), "pr_a", 50, "DAI", time.Now()))
	got := f.reloadPayment(t, payment.ID)
	assert.Equal(t, models.PaymentApproved, got.Status)
	assert.Equal(t, 1, got.InstallmentsPaid)
	assert.Equal(t, 1, f.soldCount(t, f.pass.ID))
	assert.Equal(t, 0, f.sender.countOf(mail.EventPaymentConfirmed))

	require.NoError(t, f.svc.RecordInstallment(ctx, f.reloadPayment(t, payment.ID), "pr_b", 50, "DAI", time.Now()))
	got = f.reloadPayment(t, payment.ID)
	assert.Equal(t, 2, got.InstallmentsPaid)
	require.Len(t, got.Installments, 2)
	assert.Equal(t, 2, got.Installments[1].Number)
	assert.Equal(t, 1, f.soldCount(t, f.pass.ID))

	require.NoError(t, f.svc.CompletePlan(ctx, f.reloadPayment(t, payment.ID), 2))
	got = f.reloadPayment(t, payment.ID)
	assert.Equal(t, 2, got.InstallmentsPaid)
	assert.Equal(t, 1, f.sender.countOf(mail.EventPaymentConfirmed))
	assert.Equal(t, 1, f.soldCount(t, f.pass.ID))
}

func TestCompletePlanBeforeAnyInstallmentApproves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.createRequest()
	req.MaxInstallments = 4
	payment, err := f.svc.Create(ctx, req)
	require.NoError(t, err)

	require.NoError(t, f.svc.CompletePlan(ctx, f.reloadPayment(t, payment.ID), 4))

	got := f.reloadPayment(t, payment.ID)
	assert.Equal(t, models.PaymentApproved, got.Status)
	assert.Equal(t, 4, got.InstallmentsPaid)
	assert.Equal(t, 1, f.soldCount(t, f.pass.ID))
	assert.Equal(t, 1, f.sender.countOf(mail.EventPaymentConfirmed))
}

func TestEditPassesApproveReplacesProducts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	newPass := &models.Product{
		EventID:      f.eventID,
		Name:         "Full Pass",
		Slug:         "full-pass",
		Category:     models.CategoryPass,
		Price:        200,
		IsActive:     true,
		MaxInventory: intPtr(10),
	}
	require.NoError(t, f.st.InsertProduct(ctx, newPass))

	// The attendee already holds the main pass, consumed from inventory.
	f.app.Attendees[0].Products = []models.AttendeeProduct{
		{ProductID: f.pass.ID, Category: models.CategoryPass, Price: 100, Quantity: 1},
	}
	require.NoError(t, f.st.UpdateApplication(ctx, f.app))
	require.NoError(t, f.st.AddSold(ctx, f.pass.ID, 1))

	req := CreateRequest{
		ApplicationID: f.app.ID,
		Products:      []pricing.LineItem{{ProductID: newPass.ID, AttendeeID: f.attendee, Quantity: 1}},
		EditPasses:    true,
	}
	payment, err := f.svc.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 100.0, payment.Amount) // 200 minus the held 100

	require.NoError(t, f.svc.Approve(ctx, f.reloadPayment(t, payment.ID), "USD", 1))

	app, err := f.st.GetApplication(ctx, f.app.ID)
	require.NoError(t, err)
	require.Len(t, app.Attendees[0].Products, 1)
	assert.Equal(t, newPass.ID, app.Attendees[0].Products[0].ProductID)
	assert.Equal(t, 0.0, app.Credit)

	// The old pass returned to inventory, the new one was consumed.
	assert.Equal(t, 0, f.soldCount(t, f.pass.ID))
	assert.Equal(t, 1, f.soldCount(t, newPass.ID))
	assert.Equal(t, 1, f.sender.countOf(mail.EventPaymentConfirmed))
}

func TestEditPassesZeroAmountSwapReplacesProducts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	newPass := &models.Product{
		EventID:      f.eventID,
		Name:         "Day Pass",
		Slug:         "day-pass",
		Category:     models.CategoryPass,
		Price:        100,
		IsActive:     true,
		MaxInventory: intPtr(10),
	}
	require.NoError(t, f.st.InsertProduct(ctx, newPass))

	f.app.Attendees[0].Products = []models.AttendeeProduct{
		{ProductID: f.pass.ID, Category: models.CategoryPass, Price: 100, Quantity: 1},
	}
	require.NoError(t, f.st.UpdateApplication(ctx, f.app))
	require.NoError(t, f.st.AddSold(ctx, f.pass.ID, 1))

	// Equal-value swap: the held pass fully credits the new one, so the
	// payment approves directly with no gateway call.
	req := CreateRequest{
		ApplicationID: f.app.ID,
		Products:      []pricing.LineItem{{ProductID: newPass.ID, AttendeeID: f.attendee, Quantity: 1}},
		EditPasses:    true,
	}
	payment, err := f.svc.Create(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, models.PaymentApproved, payment.Status)
	assert.Equal(t, 0.0, payment.Amount)
	assert.Empty(t, f.gw.calls)

	// The new pass replaces the old one rather than joining it.
	app, err := f.st.GetApplication(ctx, f.app.ID)
	require.NoError(t, err)
	require.Len(t, app.Attendees[0].Products, 1)
	assert.Equal(t, newPass.ID, app.Attendees[0].Products[0].ProductID)
	assert.Equal(t, 0.0, app.Credit)

	assert.Equal(t, 0, f.soldCount(t, f.pass.ID))
	assert.Equal(t, 1, f.soldCount(t, newPass.ID))
	assert.Equal(t, 1, f.sender.countOf(mail.EventEditPassesConfirmed))
}

func TestFullDiscountCouponApprovesDirectly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	coupon := &models.CouponCode{EventID: f.eventID, Code: "COMP", DiscountValue: 100, MaxUses: 3}
	f.st.InsertCoupon(coupon)

	req := f.createRequest()
	req.CouponCode = "COMP"
	payment, err := f.svc.Create(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, models.PaymentApproved, payment.Status)
	assert.Equal(t, 0.0, payment.Amount)
	assert.Empty(t, f.gw.calls)

	// Coupon consumption happens inside the direct-approve transaction.
	got, err := f.st.GetCoupon(ctx, coupon.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentUses)

	assert.Equal(t, 1, f.soldCount(t, f.pass.ID))
	app, err := f.st.GetApplication(ctx, f.app.ID)
	require.NoError(t, err)
	require.Len(t, app.Attendees[0].Products, 1)
	assert.Equal(t, 1, f.sender.countOf(mail.EventPaymentConfirmed))
}

func TestEditPassesRejectsPatreonPurchase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	patreon := &models.Product{
		EventID:  f.eventID,
		Name:     "Patron",
		Slug:     "patron",
		Category: models.CategoryPatreon,
		Price:    500,
		IsActive: true,
	}
	require.NoError(t, f.st.InsertProduct(ctx, patreon))

	req := CreateRequest{
		ApplicationID: f.app.ID,
		Products:      []pricing.LineItem{{ProductID: patreon.ID, AttendeeID: f.attendee, Quantity: 1}},
		EditPasses:    true,
	}
	_, err := f.svc.Create(ctx, req)

	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestApplicationFeeLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.app.Status = models.ApplicationDraft
	f.app.RequiresFee = true
	f.app.FeeAmount = 20
	require.NoError(t, f.st.UpdateApplication(ctx, f.app))

	first, err := f.svc.CreateApplicationFee(ctx, f.app.ID)
	require.NoError(t, err)
	assert.True(t, first.IsApplicationFee)
	assert.Equal(t, 20.0, first.Amount)

	// A second request cancels the first pending checkout link.
	second, err := f.svc.CreateApplicationFee(ctx, f.app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCancelled, f.reloadPayment(t, first.ID).Status)

	require.NoError(t, f.svc.Approve(ctx, f.reloadPayment(t, second.ID), "USD", 1))

	app, err := f.st.GetApplication(ctx, f.app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationInReview, app.Status)
	require.NotNil(t, app.SubmittedAt)
	assert.Equal(t, 1, f.sender.countOf(mail.EventApplicationReceived))

	// Paying again is rejected.
	_, err = f.svc.CreateApplicationFee(ctx, f.app.ID)
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestCreateRejectsOverCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pass.MaxInventory = intPtr(5)
	f.pass.Sold = 5
	require.NoError(t, f.st.UpdateProduct(ctx, f.pass))

	_, err := f.svc.Create(ctx, f.createRequest())

	var insufficient *inventory.InsufficientError
	require.ErrorAs(t, err, &insufficient)

	// The rejection happens before any payment row exists.
	list, err := f.st.ListPaymentsByApplication(ctx, f.app.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, f.gw.calls)
}

func TestCreateRejectsUnacceptedApplication(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.app.Status = models.ApplicationDraft
	require.NoError(t, f.st.UpdateApplication(ctx, f.app))

	_, err := f.svc.Create(ctx, f.createRequest())

	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestCreateRejectsUnknownAttendee(t *testing.T) {
	f := newFixture(t)

	req := f.createRequest()
	req.Products[0].AttendeeID = primitive.NewObjectID()
	_, err := f.svc.Create(context.Background(), req)

	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestCreateRejectsForeignEventProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	foreign := &models.Product{
		EventID:  primitive.NewObjectID(),
		Name:     "Other Event Pass",
		Category: models.CategoryPass,
		Price:    80,
		IsActive: true,
	}
	require.NoError(t, f.st.InsertProduct(ctx, foreign))

	req := f.createRequest()
	req.Products = []pricing.LineItem{{ProductID: foreign.ID, AttendeeID: f.attendee, Quantity: 1}}
	_, err := f.svc.Create(ctx, req)

	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestPreviewDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	quote, err := f.svc.Preview(ctx, f.createRequest())
	require.NoError(t, err)
	assert.Equal(t, 100.0, quote.Amount)

	list, err := f.st.ListPaymentsByApplication(ctx, f.app.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, 0, f.soldCount(t, f.pass.ID))
	assert.Empty(t, f.gw.calls)
}

func TestGatewayFailureLeavesNoPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gw.err = &gateway.Error{StatusCode: 502}

	_, err := f.svc.Create(ctx, f.createRequest())

	var gatewayErr *gateway.Error
	require.ErrorAs(t, err, &gatewayErr)

	list, err := f.st.ListPaymentsByApplication(ctx, f.app.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestApproveCreatesAmbassadorGroupOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, f.createRequest())
	require.NoError(t, err)
	require.NoError(t, f.svc.Approve(ctx, f.reloadPayment(t, first.ID), "USD", 1))

	app, err := f.st.GetApplication(ctx, f.app.ID)
	require.NoError(t, err)
	require.NotNil(t, app.GroupID)
	firstGroup := *app.GroupID

	group, err := f.st.GetGroup(ctx, firstGroup)
	require.NoError(t, err)
	assert.Equal(t, defaultGroupDiscount, group.DiscountPercentage)
	assert.Contains(t, group.Slug, "ana-lema-")

	second, err := f.svc.Create(ctx, f.createRequest())
	require.NoError(t, err)
	require.NoError(t, f.svc.Approve(ctx, f.reloadPayment(t, second.ID), "USD", 1))

	app, err = f.st.GetApplication(ctx, f.app.ID)
	require.NoError(t, err)
	assert.Equal(t, firstGroup, *app.GroupID)
}

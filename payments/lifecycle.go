package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"go-event-payments/mail"
	"go-event-payments/models"
	"go-event-payments/store"
)

// Approve moves a pending payment to approved and applies its side
// effects in one transaction. Calling it on an already-approved payment
// does nothing: that is the second idempotency line of defense behind the
// webhook fingerprint cache.
func (s *Service) Approve(ctx context.Context, payment *models.Payment, currency string, rate float64) error {
	if payment.Status == models.PaymentApproved {
		s.logger.Info("payment already approved", zap.String("payment_id", payment.ID.Hex()))
		return nil
	}

	return s.store.WithTransaction(ctx, func(ctx context.Context) error {
		return s.approve(ctx, payment, currency, rate)
	})
}

// approve runs inside an open transaction.
func (s *Service) approve(ctx context.Context, payment *models.Payment, currency string, rate float64) error {
	payment.Status = models.PaymentApproved
	if currency != "" {
		payment.Currency = currency
		payment.Rate = rate
		if currency == "USD" {
			payment.Source = models.SourceStripe
		} else {
			payment.Source = models.SourceSimplefi
		}
	}

	if payment.IsApplicationFee {
		if err := s.store.UpdatePayment(ctx, payment); err != nil {
			return err
		}
		s.logger.Info("application fee payment approved", zap.String("payment_id", payment.ID.Hex()))
		return s.submitApplication(ctx, payment)
	}

	if payment.EditPasses {
		application, err := s.store.GetApplication(ctx, payment.ApplicationID)
		if err != nil {
			return err
		}
		if err := s.clearApplicationProducts(ctx, application); err != nil {
			return err
		}
		application.Credit = 0
		if err := s.store.UpdateApplication(ctx, application); err != nil {
			return err
		}
	}

	if err := s.applyApproval(ctx, payment); err != nil {
		return err
	}
	s.logger.Info("payment approved", zap.String("payment_id", payment.ID.Hex()))
	return nil
}

// applyApproval performs the exactly-once business effects of a payment
// reaching approved: coupon consumption, inventory decrement, product
// assignment, group creation, confirmation mail. It assumes the status
// field is already set and an enclosing transaction is open.
func (s *Service) applyApproval(ctx context.Context, payment *models.Payment) error {
	application, err := s.store.GetApplication(ctx, payment.ApplicationID)
	if err != nil {
		return err
	}

	if payment.CouponCodeID != nil {
		if err := s.store.UseCoupon(ctx, *payment.CouponCodeID); err != nil {
			return err
		}
	}

	for _, snapshot := range payment.Products {
		if err := s.ledger.Decrement(ctx, snapshot.ProductID, snapshot.Quantity); err != nil {
			return err
		}
	}

	for _, snapshot := range payment.Products {
		attendee := application.Attendee(snapshot.AttendeeID)
		if attendee == nil || attendee.HasProduct(snapshot.ProductID) {
			continue
		}
		attendee.Products = append(attendee.Products, models.AttendeeProduct{
			ProductID: snapshot.ProductID,
			Category:  snapshot.Category,
			Price:     snapshot.Price,
			Quantity:  snapshot.Quantity,
		})
	}

	group, err := s.ensureAmbassadorGroup(ctx, application)
	if err != nil {
		return err
	}
	payment.GroupID = &group.ID

	if err := s.store.UpdateApplication(ctx, application); err != nil {
		return err
	}
	if err := s.store.UpdatePayment(ctx, payment); err != nil {
		return err
	}

	if !payment.IsInstallmentPlan {
		return s.sendConfirmation(ctx, payment, application, group)
	}
	return nil
}

// UpdateStatus patches the status field with no side effects, used for
// administrative transitions like marking a payment expired.
func (s *Service) UpdateStatus(ctx context.Context, payment *models.Payment, status string) error {
	payment.Status = status
	if err := s.store.UpdatePayment(ctx, payment); err != nil {
		return err
	}
	s.logger.Info("payment status updated",
		zap.String("payment_id", payment.ID.Hex()), zap.String("status", status))
	return nil
}

// Cancel reverses an approved payment's assignment and inventory effects
// and marks it cancelled. Already-cancelled payments are left alone.
func (s *Service) Cancel(ctx context.Context, payment *models.Payment) error {
	if payment.Status == models.PaymentCancelled {
		s.logger.Info("payment already cancelled", zap.String("payment_id", payment.ID.Hex()))
		return nil
	}

	return s.store.WithTransaction(ctx, func(ctx context.Context) error {
		if payment.Status == models.PaymentApproved {
			application, err := s.store.GetApplication(ctx, payment.ApplicationID)
			if err != nil {
				return err
			}
			s.removeAssignedProducts(application, payment)
			if err := s.store.UpdateApplication(ctx, application); err != nil {
				return err
			}
			for _, snapshot := range payment.Products {
				if err := s.ledger.Increment(ctx, snapshot.ProductID, snapshot.Quantity); err != nil {
					return err
				}
			}
		}

		payment.Status = models.PaymentCancelled
		if err := s.store.UpdatePayment(ctx, payment); err != nil {
			return err
		}
		s.logger.Info("payment cancelled", zap.String("payment_id", payment.ID.Hex()))
		return nil
	})
}

// removeAssignedProducts removes the attendee-product rows matching this
// payment's snapshot lines.
func (s *Service) removeAssignedProducts(application *models.Application, payment *models.Payment) {
	for _, snapshot := range payment.Products {
		attendee := application.Attendee(snapshot.AttendeeID)
		if attendee == nil {
			continue
		}
		for i, p := range attendee.Products {
			if p.ProductID == snapshot.ProductID && p.Quantity == snapshot.Quantity {
				attendee.Products = append(attendee.Products[:i], attendee.Products[i+1:]...)
				break
			}
		}
	}
}

// clearApplicationProducts revokes every non-patreon product currently
// assigned to the application's attendees, restoring finite inventory.
// Used by the edit-passes flow: the new payment supersedes the old
// selection.
func (s *Service) clearApplicationProducts(ctx context.Context, application *models.Application) error {
	for i := range application.Attendees {
		attendee := &application.Attendees[i]
		kept := attendee.Products[:0]
		for _, p := range attendee.Products {
			if p.Category == models.CategoryPatreon {
				kept = append(kept, p)
				continue
			}
			if err := s.ledger.Increment(ctx, p.ProductID, p.Quantity); err != nil {
				return err
			}
		}
		attendee.Products = kept
	}
	return nil
}

// ActivatePlan records the installment count the payer actually chose,
// which may differ from the default offered at checkout.
func (s *Service) ActivatePlan(ctx context.Context, payment *models.Payment, total int) error {
	payment.InstallmentsTotal = total
	if err := s.store.UpdatePayment(ctx, payment); err != nil {
		return err
	}
	s.logger.Info("installment plan activated",
		zap.String("payment_id", payment.ID.Hex()), zap.Int("installments_total", total))
	return nil
}

// RecordInstallment appends one partial settlement. The first installment
// approves the payment, which is when products are assigned; the plan
// completing later only reconciles counters.
func (s *Service) RecordInstallment(ctx context.Context, payment *models.Payment, externalPaymentID string, amount float64, currency string, paidAt time.Time) error {
	return s.store.WithTransaction(ctx, func(ctx context.Context) error {
		payment.Installments = append(payment.Installments, models.Installment{
			ExternalPaymentID: externalPaymentID,
			Number:            len(payment.Installments) + 1,
			Amount:            amount,
			Currency:          currency,
			PaidAt:            paidAt,
		})

		if payment.InstallmentsPaid == 0 && payment.Status != models.PaymentApproved {
			if err := s.approve(ctx, payment, currency, 1); err != nil {
				return err
			}
		}

		payment.InstallmentsPaid++
		if err := s.store.UpdatePayment(ctx, payment); err != nil {
			return err
		}
		s.logger.Info("installment recorded",
			zap.String("payment_id", payment.ID.Hex()),
			zap.Int("installments_paid", payment.InstallmentsPaid),
			zap.Int("installments_total", payment.InstallmentsTotal))
		return nil
	})
}

// CompletePlan reconciles the paid count to the processor's authoritative
// number and sends the confirmation. Out-of-order delivery (completed
// before any installment) approves first.
func (s *Service) CompletePlan(ctx context.Context, payment *models.Payment, paidCount int) error {
	return s.store.WithTransaction(ctx, func(ctx context.Context) error {
		if payment.Status != models.PaymentApproved {
			s.logger.Warn("installment plan completed before approval",
				zap.String("payment_id", payment.ID.Hex()))
			if err := s.approve(ctx, payment, "USD", 1); err != nil {
				return err
			}
		}

		payment.InstallmentsPaid = paidCount
		if err := s.store.UpdatePayment(ctx, payment); err != nil {
			return err
		}

		application, err := s.store.GetApplication(ctx, payment.ApplicationID)
		if err != nil {
			return err
		}
		group, err := s.ensureAmbassadorGroup(ctx, application)
		if err != nil {
			return err
		}
		if err := s.store.UpdateApplication(ctx, application); err != nil {
			return err
		}
		return s.sendConfirmation(ctx, payment, application, group)
	})
}

// submitApplication handles the side effect of an approved application
// fee: the application is stamped submitted and moved into review.
func (s *Service) submitApplication(ctx context.Context, payment *models.Payment) error {
	application, err := s.store.GetApplication(ctx, payment.ApplicationID)
	if err != nil {
		return err
	}
	if application.SubmittedAt == nil {
		now := time.Now().UTC()
		application.SubmittedAt = &now
	}
	application.Status = models.ApplicationInReview
	if err := s.store.UpdateApplication(ctx, application); err != nil {
		return err
	}

	params := map[string]string{"first_name": application.FirstName}
	return s.sender.Send(ctx, application.Email, mail.EventApplicationReceived, params, nil)
}

// ensureAmbassadorGroup creates or reuses the referral group granted on
// approval. The caller persists the application if it was linked here.
func (s *Service) ensureAmbassadorGroup(ctx context.Context, application *models.Application) (*models.Group, error) {
	if application.GroupID != nil {
		group, err := s.store.GetGroup(ctx, *application.GroupID)
		if err == nil {
			return group, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	group, err := s.store.GetGroupByApplication(ctx, application.ID)
	if err == nil {
		application.GroupID = &group.ID
		return group, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	name := strings.TrimSpace(application.FirstName + " " + application.LastName)
	group = &models.Group{
		ApplicationID:      application.ID,
		EventID:            application.EventID,
		Name:               name,
		Slug:               fmt.Sprintf("%s-%s", slugify(name), application.ID.Hex()[18:]),
		DiscountPercentage: defaultGroupDiscount,
	}
	if err := s.store.InsertGroup(ctx, group); err != nil {
		return nil, err
	}
	application.GroupID = &group.ID
	s.logger.Info("ambassador group created",
		zap.String("application_id", application.ID.Hex()), zap.String("slug", group.Slug))
	return group, nil
}

// sendConfirmation emails the itemized confirmation with an invoice
// attachment.
func (s *Service) sendConfirmation(ctx context.Context, payment *models.Payment, application *models.Application, group *models.Group) error {
	var tickets []string
	for _, snapshot := range payment.Products {
		name := snapshot.Name
		if attendee := application.Attendee(snapshot.AttendeeID); attendee != nil {
			name = fmt.Sprintf("%s (%s)", snapshot.Name, attendee.Name)
		}
		tickets = append(tickets, name)
	}

	params := map[string]string{
		"first_name":  application.FirstName,
		"ticket_list": strings.Join(tickets, ", "),
	}
	if group != nil {
		params["checkout_url"] = group.ExpressCheckoutURL(s.frontendURL)
	}

	event := mail.EventPaymentConfirmed
	if payment.EditPasses && payment.Amount == 0 {
		event = mail.EventEditPassesConfirmed
	}

	discount := 0.0
	if payment.DiscountValue != nil {
		discount = *payment.DiscountValue
	}
	clientName := strings.TrimSpace(application.FirstName + " " + application.LastName)
	invoice := mail.BuildInvoice(payment, clientName, discount)

	return s.sender.Send(ctx, application.Email, event, params, []mail.Attachment{invoice})
}

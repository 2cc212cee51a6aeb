package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/nestgold/nestgold/app/models"
	"github.com/nestgold/nestgold/internal/pkg/metrics"
	"github.com/nestgold/nestgold/internal/pkg/trays"
	"gorm.io/gorm"
)

const (
	sourceCallback = "callback"
	sourceAdmin    = "admin"
)

// ReconcilePayment applies a provider result to the payment with the same
// checkout request id. Unknown ids get a new payment linked to the
// subscription carrying that id. Redelivered results are harmless: only the
// first success extends the period and credits trays.
func (s *Service) ReconcilePayment(ctx context.Context, res PaymentResult) (*ReconcileOutcome, error) {
	res.CorrelationID = strings.TrimSpace(res.CorrelationID)
	if res.CorrelationID == "" {
		return nil, validationErrorf("checkout request id is required")
	}

	var out *ReconcileOutcome
	err := s.withConflictRetry("reconcile", func() error {
		out = nil
		return s.repo.Transaction(ctx, func(repo Repository) error {
			now := s.now()
			p, err := repo.FindPaymentByCheckoutID(res.CorrelationID)
			var sub *models.Subscription
			var plan *models.SubscriptionPlan

			switch {
			case err == nil:
				if sub, plan, err = loadLinked(repo, p); err != nil {
					return err
				}
			case errors.Is(err, gorm.ErrRecordNotFound):
				if sub, plan, err = s.subscriptionForCheckout(repo, res.CorrelationID); err != nil {
					return err
				}
				p = newCallbackPayment(res, sub, plan, s.newCode())
			default:
				return err
			}

			t := ApplyPaymentResult(p, sub, plan, res, s.classifier, now)
			if err := repo.SavePayment(p); err != nil {
				return err
			}
			if sub != nil {
				if err := repo.SaveSubscription(sub); err != nil {
					return err
				}
				sub.Plan = plan
			}
			out = &ReconcileOutcome{Payment: p, Subscription: sub, Transition: t}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.recordOutcome(sourceCallback, res, out)
	s.notifyPaid(ctx, out)
	return out, nil
}

func (s *Service) subscriptionForCheckout(repo Repository, checkoutID string) (*models.Subscription, *models.SubscriptionPlan, error) {
	sub, err := repo.FindSubscriptionByCheckoutID(checkoutID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("[Billing] payment result for unknown checkout %s stored without subscription", checkoutID)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	plan, err := repo.FindPlan(sub.PlanID)
	if err != nil {
		return nil, nil, err
	}
	return sub, plan, nil
}

func newCallbackPayment(res PaymentResult, sub *models.Subscription, plan *models.SubscriptionPlan, trackingCode string) *models.Payment {
	p := &models.Payment{
		Amount:             res.Amount,
		Status:             models.PaymentPending,
		PaymentStatus:      models.ManualPaymentPending,
		CheckoutRequestID:  models.StringPtr(res.CorrelationID),
		TrackingCode:       models.StringPtr(trackingCode),
		CustomerPhone:      res.PhoneNumber,
		InstructionChannel: models.InstructionChannelSTK,
		PaymentMethod:      models.PaymentMethodMpesa,
	}
	if sub != nil {
		id := sub.ID
		p.SubscriptionID = &id
		p.CustomerName = sub.Name
		if p.CustomerPhone == "" {
			p.CustomerPhone = sub.Phone
		}
		if plan != nil {
			p.Description = paymentDescription(plan, sub.Name)
			if p.Amount <= 0 {
				p.Amount = plan.PricePerMonth
			}
		}
	}
	return p
}

func (s *Service) recordOutcome(source string, res PaymentResult, out *ReconcileOutcome) {
	metrics.PaymentResultsTotal.WithLabelValues(source, string(out.Transition.PaymentStatus)).Inc()
	if out.Transition.Applied {
		metrics.TraysCreditedTotal.Add(float64(out.Transition.TraysCredited))
		log.Infof("[Billing] payment %d completed, %d trays credited", out.Payment.ID, out.Transition.TraysCredited)
		return
	}
	if res.Succeeded() {
		metrics.DuplicatePaymentResultsTotal.WithLabelValues(source).Inc()
		log.Infof("[Billing] payment %d already completed, result ignored", out.Payment.ID)
		return
	}
	log.Infof("[Billing] payment %d marked %s (code=%d desc=%q)", out.Payment.ID, out.Transition.PaymentStatus, res.ResultCode, res.ResultDesc)
}

// ConfirmPayment records an admin's manual confirmation and applies the same
// success transition as a provider callback.
func (s *Service) ConfirmPayment(ctx context.Context, paymentID uint, reference, notes string) (*ReconcileOutcome, error) {
	reference = strings.TrimSpace(reference)
	notes = strings.TrimSpace(notes)
	if len(reference) > 100 {
		return nil, validationErrorf("transaction reference must be at most 100 characters")
	}

	var out *ReconcileOutcome
	err := s.repo.Transaction(ctx, func(repo Repository) error {
		now := s.now()
		p, err := repo.FindPayment(paymentID)
		if err != nil {
			return notFound(err, "payment")
		}
		sub, plan, err := loadLinked(repo, p)
		if err != nil {
			return err
		}

		if !p.IsConfirmed() {
			p.PaymentStatus = models.ManualPaymentConfirmed
			p.ConfirmedAt = &now
		}
		if reference != "" {
			p.AdminTransactionReference = reference
		}
		if notes != "" {
			p.AdminNotes = notes
		}

		t := ApplyPaymentResult(p, sub, plan, PaymentResult{
			CorrelationID:    models.StringValue(p.CheckoutRequestID),
			ResultCode:       0,
			ResultDesc:       "Confirmed by admin",
			ReceiptReference: reference,
			Amount:           p.Amount,
		}, s.classifier, now)

		if err := repo.SavePayment(p); err != nil {
			return err
		}
		if sub != nil {
			if err := repo.SaveSubscription(sub); err != nil {
				return err
			}
			sub.Plan = plan
		}
		out = &ReconcileOutcome{Payment: p, Subscription: sub, Transition: t}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordOutcome(sourceAdmin, PaymentResult{ResultCode: 0}, out)
	s.notifyPaid(ctx, out)
	return out, nil
}

// DeletePaymentResult reports what deleting a payment did to its subscription.
type DeletePaymentResult struct {
	TraysReversed       int
	Subscription        *models.Subscription
	SubscriptionDeleted bool
}

// DeletePayment removes a payment. A settled payment, whether confirmed by an
// admin or completed by a provider callback, takes its month of trays with it. A Pending subscription left with no payments and no
// deliveries is removed; one left with no settled payment loses its
// entitlement and goes back to Pending.
func (s *Service) DeletePayment(ctx context.Context, paymentID uint) (*DeletePaymentResult, error) {
	out := &DeletePaymentResult{}
	err := s.repo.Transaction(ctx, func(repo Repository) error {
		*out = DeletePaymentResult{}
		now := s.now()
		p, err := repo.FindPayment(paymentID)
		if err != nil {
			return notFound(err, "payment")
		}
		sub, plan, err := loadLinked(repo, p)
		if err != nil {
			return err
		}
		wasSettled := p.IsSettled()

		if err := repo.DeletePayment(p); err != nil {
			return err
		}
		if sub == nil {
			return nil
		}

		changed := false
		if wasSettled {
			before := sub.TraysAllocatedTotal
			trays.Reverse(sub, plan)
			out.TraysReversed = before - sub.TraysAllocatedTotal
			changed = true
		}

		remaining, err := repo.ListPaymentsBySubscription(sub.ID)
		if err != nil {
			return err
		}
		deliveries, err := repo.CountDeliveries(sub.ID)
		if err != nil {
			return err
		}

		if len(remaining) == 0 && deliveries == 0 && sub.Status == models.SubscriptionPending {
			if err := repo.DeleteSubscription(sub); err != nil {
				return err
			}
			out.SubscriptionDeleted = true
			return nil
		}

		if wasSettled && !anySettled(remaining) {
			sub.ResetToPending(now)
			changed = true
		}
		if changed {
			if err := repo.SaveSubscription(sub); err != nil {
				return err
			}
		}
		out.Subscription = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Billing] payment %d deleted (trays reversed=%d, subscription deleted=%t)", paymentID, out.TraysReversed, out.SubscriptionDeleted)
	return out, nil
}

func anySettled(payments []models.Payment) bool {
	for i := range payments {
		if payments[i].IsSettled() {
			return true
		}
	}
	return false
}

// RecordPaymentEvent persists callback payloads idempotently.
func (s *Service) RecordPaymentEvent(ctx context.Context, in PaymentEventInput) (bool, *models.PaymentEvent, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.PaymentEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		Deliveries:      1,
	}
	return s.repo.CreatePaymentEventIfNotExists(event)
}

// MarkPaymentEventProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkPaymentEventProcessed(ctx context.Context, eventID uint, processingErr error) error {
	_ = ctx
	if eventID == 0 {
		return errors.New("payment_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkPaymentEventProcessed(eventID, errMsg)
}

// ProcessCallback stores a raw provider callback and reconciles it. Malformed
// payloads are stored unprocessed and the parse error is returned; the caller
// still acknowledges the provider.
func (s *Service) ProcessCallback(ctx context.Context, payload []byte) (*ReconcileOutcome, error) {
	res, parseErr := ParseSTKCallback(payload)

	eventID := ""
	eventType := "stk_callback"
	if parseErr == nil {
		eventID = res.CorrelationID
	} else {
		eventType = "stk_callback_malformed"
	}
	created, event, err := s.RecordPaymentEvent(ctx, PaymentEventInput{
		Provider:        models.PaymentProviderMpesa,
		ProviderEventID: eventID,
		EventType:       eventType,
		PayloadJSON:     string(payload),
	})
	if err != nil {
		log.Errorf("[Billing] failed to store payment callback: %v", err)
	} else if !created {
		log.Infof("[Billing] payment callback %s redelivered (%d deliveries)", event.ProviderEventID, event.Deliveries)
	}

	if parseErr != nil {
		// Left unprocessed for manual review.
		return nil, parseErr
	}

	out, recErr := s.ReconcilePayment(ctx, *res)
	if event != nil {
		if err := s.MarkPaymentEventProcessed(ctx, event.ID, recErr); err != nil {
			log.Errorf("[Billing] failed to mark payment event %d processed: %v", event.ID, err)
		}
	}
	return out, recErr
}

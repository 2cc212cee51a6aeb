package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/nestgold/nestgold/app/models"
	"github.com/nestgold/nestgold/internal/pkg/metrics"
	"github.com/nestgold/nestgold/internal/pkg/phone"
	"github.com/nestgold/nestgold/internal/pkg/schedule"
	"github.com/nestgold/nestgold/internal/pkg/trays"
	"gorm.io/gorm"
)

type signup struct {
	req   SubscribeRequest
	phone string
	day   string
	next  time.Time
	now   time.Time
}

// Subscribe creates or reuses the subscription for (plan, phone) and starts a
// payment for it. Repeated signups from the same number for the same plan
// update the existing row and keep its tray balance and history.
func (s *Service) Subscribe(ctx context.Context, req SubscribeRequest) (*SubscribeResult, error) {
	in, err := s.prepareSignup(req)
	if err != nil {
		metrics.SubscribeTotal.WithLabelValues(string(s.cfg.Mode), "invalid").Inc()
		return nil, err
	}

	var res *SubscribeResult
	switch s.cfg.Mode {
	case PaymentModeSTK:
		res, err = s.subscribeSTK(ctx, in)
	default:
		res, err = s.subscribeManual(ctx, in)
	}
	metrics.SubscribeTotal.WithLabelValues(string(s.cfg.Mode), metrics.Outcome(err)).Inc()
	return res, err
}

func (s *Service) prepareSignup(req SubscribeRequest) (*signup, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Location = strings.TrimSpace(req.Location)
	if err := validate.Struct(req); err != nil {
		return nil, validationFrom(err)
	}

	normalized := phone.Normalize(req.Phone)
	if !phone.IsCanonical(normalized) {
		return nil, validationErrorf("phone number %q is not a valid mobile number", req.Phone)
	}
	day, err := schedule.CanonicalDay(req.PreferredDeliveryDay)
	if err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	now := s.now()
	next := time.Time{}
	if req.NextDeliveryDate != nil && !req.NextDeliveryDate.IsZero() {
		next = *req.NextDeliveryDate
	} else if next, err = schedule.NextDeliveryDate(day, now); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	return &signup{req: req, phone: normalized, day: day, next: next, now: now}, nil
}

// activePlan loads the plan a signup refers to.
func activePlan(repo Repository, id uint) (*models.SubscriptionPlan, error) {
	plan, err := repo.FindPlan(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, validationErrorf("selected plan does not exist")
	}
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, validationErrorf("plan %q is not available", plan.Name)
	}
	return plan, nil
}

// upsertSubscription finds the row for (plan, phone) and overwrites the
// customer details, or builds a new Pending row. New rows are saved so they
// have an id.
func upsertSubscription(repo Repository, plan *models.SubscriptionPlan, in *signup) (*models.Subscription, bool, error) {
	sub, err := repo.FindSubscriptionByPlanPhone(plan.ID, in.phone)
	switch {
	case err == nil:
		sub.Name = in.req.Name
		sub.Phone = in.req.Phone
		sub.Location = in.req.Location
		sub.PreferredDeliveryDay = in.day
		sub.NextDeliveryDate = in.next
		return sub, true, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		sub = &models.Subscription{
			PlanID:               plan.ID,
			Name:                 in.req.Name,
			Phone:                in.req.Phone,
			PhoneNormalized:      in.phone,
			Location:             in.req.Location,
			PreferredDeliveryDay: in.day,
			StartDate:            in.now,
			NextDeliveryDate:     in.next,
			Status:               models.SubscriptionPending,
			CurrentPeriodEnd:     in.now,
			DeliveryStatus:       models.DeliveryPending,
		}
		if err := repo.SaveSubscription(sub); err != nil {
			return nil, false, err
		}
		return sub, false, nil
	default:
		return nil, false, err
	}
}

// nextReference builds NESTGOLD-{subID}-{unix}, stepping the timestamp if a
// reference from the same second already exists.
func nextReference(repo Repository, subID uint, now time.Time) (string, error) {
	ts := now.Unix()
	for i := int64(0); i < 10; i++ {
		ref := fmt.Sprintf("NESTGOLD-%d-%d", subID, ts+i)
		_, err := repo.FindPaymentByReference(ref)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ref, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", gorm.ErrDuplicatedKey
}

func paymentDescription(plan *models.SubscriptionPlan, name string) string {
	return fmt.Sprintf("%s subscription - %s", plan.Name, name)
}

func (s *Service) subscribeManual(ctx context.Context, in *signup) (*SubscribeResult, error) {
	var res *SubscribeResult
	err := s.withConflictRetry("subscribe", func() error {
		res = nil
		return s.repo.Transaction(ctx, func(repo Repository) error {
			plan, err := activePlan(repo, in.req.PlanID)
			if err != nil {
				return err
			}
			sub, reused, err := upsertSubscription(repo, plan, in)
			if err != nil {
				return err
			}
			ref, err := nextReference(repo, sub.ID, in.now)
			if err != nil {
				return err
			}

			subID := sub.ID
			payment := &models.Payment{
				SubscriptionID:     &subID,
				Amount:             plan.PricePerMonth,
				Status:             models.PaymentPending,
				PaymentStatus:      models.ManualPaymentPending,
				CheckoutRequestID:  models.StringPtr(ref),
				TrackingCode:       models.StringPtr(s.newCode()),
				ReferenceID:        models.StringPtr(ref),
				CustomerName:       sub.Name,
				CustomerPhone:      sub.Phone,
				Description:        paymentDescription(plan, sub.Name),
				InstructionChannel: models.InstructionChannelWeb,
				PaymentMethod:      models.PaymentMethodMpesa,
			}
			if err := repo.SavePayment(payment); err != nil {
				return err
			}

			sub.MarkPending(ref)
			if err := repo.SaveSubscription(sub); err != nil {
				return err
			}

			cfg, err := paymentConfig(repo)
			if err != nil {
				return err
			}
			instructions := cfg.Instructions(ref, plan.PricePerMonth, sub.Name)
			sub.Plan = plan
			res = &SubscribeResult{
				Subscription: sub,
				Payment:      payment,
				Instructions: &instructions,
				Mode:         PaymentModeManual,
				Reused:       reused,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	log.Infof("[Billing] payment request %s started for subscription %d", models.StringValue(res.Payment.ReferenceID), res.Subscription.ID)
	s.notifier.Notify(ctx, res.Subscription, NotifyAdminPaymentRequest, res.Payment)
	return res, nil
}

// subscribeSTK runs in two transactions around the provider call so no row
// lock is held while waiting on the network.
func (s *Service) subscribeSTK(ctx context.Context, in *signup) (*SubscribeResult, error) {
	if s.initiator == nil {
		return nil, ErrInitiationDisabled
	}

	var (
		sub    *models.Subscription
		plan   *models.SubscriptionPlan
		ref    string
		reused bool
	)
	err := s.withConflictRetry("subscribe", func() error {
		return s.repo.Transaction(ctx, func(repo Repository) error {
			var err error
			if plan, err = activePlan(repo, in.req.PlanID); err != nil {
				return err
			}
			if sub, reused, err = upsertSubscription(repo, plan, in); err != nil {
				return err
			}
			if ref, err = nextReference(repo, sub.ID, in.now); err != nil {
				return err
			}
			sub.MarkPending(ref)
			return repo.SaveSubscription(sub)
		})
	})
	if err != nil {
		return nil, err
	}

	ictx, cancel := context.WithTimeout(ctx, s.cfg.InitiateTimeout)
	started := time.Now()
	checkoutID, initErr := s.initiator.Initiate(ictx, in.phone, plan.PricePerMonth, ref, sub.Name, paymentDescription(plan, sub.Name))
	cancel()
	metrics.InitiationDuration.Observe(time.Since(started).Seconds())
	checkoutID = strings.TrimSpace(checkoutID)
	if initErr == nil && checkoutID == "" {
		initErr = errors.New("provider returned no checkout request id")
	}

	res := &SubscribeResult{Mode: PaymentModeSTK, Reused: reused}
	var settled *ReconcileOutcome
	err = s.withConflictRetry("subscribe_stk", func() error {
		settled = nil
		return s.repo.Transaction(ctx, func(repo Repository) error {
			current, err := repo.FindSubscription(sub.ID)
			if err != nil {
				return err
			}
			if initErr != nil {
				current.MarkPaymentFailed(providerCode(initErr), initErr.Error(), s.classifier)
				res.Subscription = current
				return repo.SaveSubscription(current)
			}

			payment, err := repo.FindPaymentByCheckoutID(checkoutID)
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				payment = &models.Payment{
					Amount:        plan.PricePerMonth,
					Status:        models.PaymentPending,
					PaymentStatus: models.ManualPaymentPending,
				}
			case err != nil:
				return err
			}

			subID := current.ID
			orphan := payment.SubscriptionID == nil
			payment.SubscriptionID = &subID
			payment.CheckoutRequestID = models.StringPtr(checkoutID)
			payment.ReferenceID = models.StringPtr(ref)
			if payment.TrackingCode == nil {
				payment.TrackingCode = models.StringPtr(s.newCode())
			}
			payment.CustomerName = current.Name
			payment.CustomerPhone = current.Phone
			payment.Description = paymentDescription(plan, current.Name)
			payment.InstructionChannel = models.InstructionChannelSTK
			payment.PaymentMethod = models.PaymentMethodMpesa

			current.MarkPending(checkoutID)
			if orphan && payment.ID != 0 {
				// The callback beat us here; replay its result onto the subscription.
				settled = replayOrphanResult(payment, current, plan, s.classifier, s.now())
			}

			if err := repo.SavePayment(payment); err != nil {
				return err
			}
			if err := repo.SaveSubscription(current); err != nil {
				return err
			}
			res.Subscription = current
			res.Payment = payment
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	res.Subscription.Plan = plan

	if initErr != nil {
		log.Warnf("[Billing] payment push for subscription %d failed: %v", sub.ID, initErr)
		return res, fmt.Errorf("%w: %v", ErrInitiationFailed, initErr)
	}
	if settled != nil {
		settled.Subscription = res.Subscription
		s.notifyPaid(ctx, settled)
	}
	log.Infof("[Billing] payment push %s sent for subscription %d", checkoutID, sub.ID)
	return res, nil
}

// replayOrphanResult applies an already-recorded result to the subscription a
// payment has just been linked to.
func replayOrphanResult(p *models.Payment, sub *models.Subscription, plan *models.SubscriptionPlan, c models.FailureClassifier, now time.Time) *ReconcileOutcome {
	switch p.Status {
	case models.PaymentCompleted:
		sub.ApplySuccessfulPayment(now)
		credited := trays.Credit(sub, plan)
		sub.DeliveryStatus = models.DeliveryPending
		return &ReconcileOutcome{
			Payment:      p,
			Subscription: sub,
			Transition: Transition{
				Applied:            true,
				PaymentStatus:      p.Status,
				SubscriptionStatus: sub.Status,
				TraysCredited:      credited,
			},
		}
	case models.PaymentCancelled:
		sub.MarkPaymentFailed(-1, "cancelled", c)
	case models.PaymentFailed:
		sub.MarkPaymentFailed(-1, "", c)
	}
	return nil
}

// providerCode extracts a result code from a provider error, or -1.
func providerCode(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return -1
}

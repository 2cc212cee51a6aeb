package billing

import (
	"context"
	"errors"
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

// RecordDelivery logs a delivery event. A Delivered event draws one tray;
// with an empty balance it fails with trays.ErrNoTraysRemaining and nothing
// is written.
func (s *Service) RecordDelivery(ctx context.Context, subscriptionID uint, in DeliveryInput) (*models.Delivery, *models.Subscription, error) {
	if err := validate.Struct(in); err != nil {
		return nil, nil, validationFrom(err)
	}
	if !in.Status.IsValid() {
		return nil, nil, validationErrorf("unknown delivery status %q", in.Status)
	}

	var (
		delivery *models.Delivery
		sub      *models.Subscription
	)
	err := s.repo.Transaction(ctx, func(repo Repository) error {
		now := s.now()
		var err error
		if sub, err = repo.FindSubscription(subscriptionID); err != nil {
			return notFound(err, "subscription")
		}

		scheduled := now
		if in.ScheduledDate != nil && !in.ScheduledDate.IsZero() {
			scheduled = *in.ScheduledDate
		}

		switch in.Status {
		case models.DeliveryDelivered:
			if sub.Status == models.SubscriptionCancelled {
				return validationErrorf("subscription %d is cancelled", sub.ID)
			}
			if err := trays.Debit(sub); err != nil {
				return err
			}
			sub.NextDeliveryDate = schedule.FollowingDelivery(scheduled)
		case models.DeliverySkipped:
			sub.NextDeliveryDate = schedule.FollowingDelivery(scheduled)
		case models.DeliveryScheduled:
			sub.NextDeliveryDate = scheduled
		}

		delivery = &models.Delivery{
			SubscriptionID: sub.ID,
			ScheduledDate:  scheduled,
			Status:         in.Status,
			Notes:          strings.TrimSpace(in.Notes),
		}
		if err := repo.CreateDelivery(delivery); err != nil {
			return err
		}
		return repo.SaveSubscription(sub)
	})
	if err != nil {
		if errors.Is(err, trays.ErrNoTraysRemaining) {
			log.Warnf("[Billing] delivery for subscription %d rejected: no trays remaining", subscriptionID)
		}
		return nil, nil, err
	}
	metrics.DeliveriesTotal.WithLabelValues(string(in.Status)).Inc()
	return delivery, sub, nil
}

// CancelSubscription revokes access immediately.
func (s *Service) CancelSubscription(ctx context.Context, subscriptionID uint) (*models.Subscription, error) {
	var sub *models.Subscription
	err := s.repo.Transaction(ctx, func(repo Repository) error {
		var err error
		if sub, err = repo.FindSubscription(subscriptionID); err != nil {
			return notFound(err, "subscription")
		}
		sub.Cancel(s.now())
		return repo.SaveSubscription(sub)
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Billing] subscription %d cancelled", subscriptionID)
	return sub, nil
}

// EditSubscription applies admin changes to customer and delivery details.
func (s *Service) EditSubscription(ctx context.Context, subscriptionID uint, in EditSubscriptionInput) (*models.Subscription, error) {
	if err := validate.Struct(in); err != nil {
		return nil, validationFrom(err)
	}

	var sub *models.Subscription
	err := s.repo.Transaction(ctx, func(repo Repository) error {
		var err error
		if sub, err = repo.FindSubscription(subscriptionID); err != nil {
			return notFound(err, "subscription")
		}

		if in.Name != nil {
			sub.Name = strings.TrimSpace(*in.Name)
		}
		if in.Location != nil {
			sub.Location = strings.TrimSpace(*in.Location)
		}
		if in.Phone != nil {
			normalized := phone.Normalize(*in.Phone)
			if !phone.IsCanonical(normalized) {
				return validationErrorf("phone number %q is not a valid mobile number", *in.Phone)
			}
			if normalized != sub.PhoneNormalized {
				other, err := repo.FindSubscriptionByPlanPhone(sub.PlanID, normalized)
				if err == nil && other.ID != sub.ID {
					return validationErrorf("subscription %d already uses this phone number for the same plan", other.ID)
				}
				if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
					return err
				}
			}
			sub.Phone = strings.TrimSpace(*in.Phone)
			sub.PhoneNormalized = normalized
		}
		if in.PreferredDeliveryDay != nil {
			day, err := schedule.CanonicalDay(*in.PreferredDeliveryDay)
			if err != nil {
				return &ValidationError{Message: err.Error()}
			}
			sub.PreferredDeliveryDay = day
		}
		if in.NextDeliveryDate != nil && !in.NextDeliveryDate.IsZero() {
			sub.NextDeliveryDate = *in.NextDeliveryDate
		}
		if in.DeliveryStatus != nil {
			ds := models.DeliveryStatus(*in.DeliveryStatus)
			if !ds.IsValid() {
				return validationErrorf("unknown delivery status %q", *in.DeliveryStatus)
			}
			sub.DeliveryStatus = ds
		}
		if sub.Name == "" || sub.Location == "" {
			return validationErrorf("name and location cannot be empty")
		}
		err = repo.SaveSubscription(sub)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return validationErrorf("another subscription for this plan already uses this phone number")
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// DeleteSubscription hard-deletes a subscription without payment or delivery
// history. Otherwise it cancels it and reports deleted=false.
func (s *Service) DeleteSubscription(ctx context.Context, subscriptionID uint) (bool, *models.Subscription, error) {
	deleted := false
	var sub *models.Subscription
	err := s.repo.Transaction(ctx, func(repo Repository) error {
		deleted = false
		var err error
		if sub, err = repo.FindSubscription(subscriptionID); err != nil {
			return notFound(err, "subscription")
		}
		payments, err := repo.ListPaymentsBySubscription(sub.ID)
		if err != nil {
			return err
		}
		deliveries, err := repo.CountDeliveries(sub.ID)
		if err != nil {
			return err
		}
		if len(payments) == 0 && deliveries == 0 {
			deleted = true
			return repo.DeleteSubscription(sub)
		}
		sub.Cancel(s.now())
		return repo.SaveSubscription(sub)
	})
	if err != nil {
		return false, nil, err
	}
	if deleted {
		log.Infof("[Billing] subscription %d deleted", subscriptionID)
		return true, nil, nil
	}
	log.Infof("[Billing] subscription %d has history, cancelled instead of deleted", subscriptionID)
	return false, sub, nil
}

// GetSubscription returns a subscription with its plan.
func (s *Service) GetSubscription(ctx context.Context, id uint) (*models.Subscription, error) {
	_ = ctx
	sub, err := s.repo.FindSubscription(id)
	if err != nil {
		return nil, notFound(err, "subscription")
	}
	if plan, err := s.repo.FindPlan(sub.PlanID); err == nil {
		sub.Plan = plan
	}
	return sub, nil
}

func (s *Service) ListSubscriptions(ctx context.Context, f SubscriptionFilter) ([]models.Subscription, error) {
	_ = ctx
	if f.Phone != "" {
		f.Phone = phone.Normalize(f.Phone)
	}
	return s.repo.ListSubscriptions(f)
}

func (s *Service) ListPayments(ctx context.Context, f PaymentFilter) ([]models.Payment, error) {
	_ = ctx
	return s.repo.ListPayments(f)
}

func (s *Service) ListDeliveries(ctx context.Context, subscriptionID uint) ([]models.Delivery, error) {
	_ = ctx
	return s.repo.ListDeliveries(subscriptionID)
}

func (s *Service) ListAuditLogs(ctx context.Context, table, rowPK string, limit int) ([]models.AuditLog, error) {
	_ = ctx
	return s.repo.ListAuditLogs(strings.TrimSpace(table), strings.TrimSpace(rowPK), limit)
}

// Now exposes the service clock so callers derive effective status against
// the same time source.
func (s *Service) Now() time.Time {
	return s.now()
}

// Dashboard aggregates subscription and payment figures.
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	_ = ctx
	subs, err := s.repo.AllSubscriptions()
	if err != nil {
		return nil, err
	}
	pending, revenue, err := s.repo.PaymentTotals()
	if err != nil {
		return nil, err
	}

	now := s.now()
	dueBy := now.Add(24 * time.Hour)
	d := &Dashboard{
		TotalSubscriptions:    len(subs),
		ByEffectiveStatus:     map[models.SubscriptionStatus]int{},
		PendingManualPayments: int(pending),
		ConfirmedRevenue:      revenue,
	}
	for i := range subs {
		sub := &subs[i]
		status := sub.EffectiveStatus(now)
		d.ByEffectiveStatus[status]++
		d.TraysRemaining += sub.TraysRemaining
		if status == models.SubscriptionActive && sub.TraysRemaining > 0 && !sub.NextDeliveryDate.After(dueBy) {
			d.DeliveriesDue++
		}
	}
	return d, nil
}

// TrackPayment resolves a tracking code, reference id or checkout request id.
func (s *Service) TrackPayment(ctx context.Context, token string) (*TrackResult, error) {
	_ = ctx
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, validationErrorf("tracking code or reference is required")
	}

	p, err := s.resolvePayment(token)
	if err != nil {
		return nil, err
	}

	out := &TrackResult{
		Payment:            p,
		ReceiptAvailable:   p.IsSettled(),
		PaymentStatusLabel: paymentLabel(p),
	}
	sub, plan, err := loadLinked(s.repo, p)
	if err != nil {
		return nil, err
	}
	if sub != nil {
		sub.Plan = plan
		out.Subscription = sub
		out.Plan = plan
		out.EffectiveStatus = sub.EffectiveStatus(s.now())
		if out.Deliveries, err = s.repo.ListDeliveries(sub.ID); err != nil {
			return nil, err
		}
	}
	if !p.IsSettled() {
		cfg, err := paymentConfig(s.repo)
		if err != nil {
			return nil, err
		}
		ref := models.StringValue(p.ReferenceID)
		if ref == "" {
			ref = models.StringValue(p.CheckoutRequestID)
		}
		instructions := cfg.Instructions(ref, p.Amount, p.CustomerName)
		out.Instructions = &instructions
	}
	return out, nil
}

func (s *Service) resolvePayment(token string) (*models.Payment, error) {
	lookups := []func() (*models.Payment, error){
		func() (*models.Payment, error) { return s.repo.FindPaymentByTrackingCode(strings.ToUpper(token)) },
		func() (*models.Payment, error) { return s.repo.FindPaymentByReference(strings.ToUpper(token)) },
		func() (*models.Payment, error) { return s.repo.FindPaymentByCheckoutID(token) },
	}
	for _, find := range lookups {
		p, err := find()
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func paymentLabel(p *models.Payment) string {
	switch {
	case p.IsConfirmed():
		return "Confirmed"
	case p.Status == models.PaymentCompleted:
		return "Paid"
	case p.Status == models.PaymentFailed:
		return "Failed"
	case p.Status == models.PaymentCancelled:
		return "Cancelled"
	}
	return "Awaiting payment"
}

// SyncSubscriptionStatuses writes Expired onto Active rows whose paid period
// has ended and reports how many rows changed. Candidates come from an
// unlocked scan; each one is re-read under lock before it is written, so a
// renewal that lands mid-sweep is never overwritten.
func (s *Service) SyncSubscriptionStatuses(ctx context.Context) (int, error) {
	subs, err := s.repo.AllSubscriptions()
	if err != nil {
		return 0, err
	}

	changed := 0
	for i := range subs {
		candidate := subs[i]
		before := candidate.Status
		candidate.SyncStatusFromPeriod(s.now())
		if candidate.Status == before {
			continue
		}

		wrote := false
		err := s.repo.Transaction(ctx, func(repo Repository) error {
			wrote = false
			sub, err := repo.FindSubscription(candidate.ID)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			current := sub.Status
			sub.SyncStatusFromPeriod(s.now())
			if sub.Status == current {
				return nil
			}
			wrote = true
			return repo.SaveSubscription(sub)
		})
		if err != nil {
			return changed, err
		}
		if wrote {
			changed++
		}
	}
	return changed, nil
}

package models

import "time"

// SubscriptionStatus is the stored lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionPending   SubscriptionStatus = "Pending"
	SubscriptionActive    SubscriptionStatus = "Active"
	SubscriptionFailed    SubscriptionStatus = "Failed"
	SubscriptionCancelled SubscriptionStatus = "Cancelled"
	SubscriptionExpired   SubscriptionStatus = "Expired"
)

func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionPending, SubscriptionActive, SubscriptionFailed, SubscriptionCancelled, SubscriptionExpired:
		return true
	}
	return false
}

// DeliveryStatus tracks delivery logistics for a subscription, independent of
// its entitlement period.
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "Pending"
	DeliveryInProgress DeliveryStatus = "In Progress"
	DeliveryCompleted  DeliveryStatus = "Completed"
	DeliveryCancelled  DeliveryStatus = "Cancelled"
)

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryPending, DeliveryInProgress, DeliveryCompleted, DeliveryCancelled:
		return true
	}
	return false
}

// PaidPeriodDays is the entitlement granted by every successful payment.
const PaidPeriodDays = 30

// Subscription is one customer's subscription to a plan. There is at most one
// row per (plan_id, phone_normalized); repeated signups reuse it.
type Subscription struct {
	ID                   uint               `gorm:"primaryKey" json:"id"`
	UserID               *uint              `gorm:"index" json:"user_id,omitempty"`
	PlanID               uint               `gorm:"not null;uniqueIndex:uq_subscriptions_plan_phone_normalized,priority:1" json:"plan_id"`
	Plan                 *SubscriptionPlan  `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
	Name                 string             `gorm:"type:varchar(100);not null" json:"name"`
	Phone                string             `gorm:"type:varchar(20);not null" json:"phone"`
	PhoneNormalized      string             `gorm:"type:varchar(20);not null;index;uniqueIndex:uq_subscriptions_plan_phone_normalized,priority:2" json:"phone_normalized"`
	Location             string             `gorm:"type:varchar(200);not null" json:"location"`
	PreferredDeliveryDay string             `gorm:"type:varchar(20);not null" json:"preferred_delivery_day"`
	StartDate            time.Time          `gorm:"type:timestamp;not null" json:"start_date"`
	NextDeliveryDate     time.Time          `gorm:"type:timestamp;not null" json:"next_delivery_date"`
	Status               SubscriptionStatus `gorm:"type:varchar(20);not null;default:'Pending';index" json:"status"`
	CurrentPeriodEnd     time.Time          `gorm:"type:timestamp;not null;index" json:"current_period_end"`
	DeliveryStatus       DeliveryStatus     `gorm:"type:varchar(30);not null;default:'Pending'" json:"delivery_status"`
	TraysAllocatedTotal  int                `gorm:"not null;default:0" json:"trays_allocated_total"`
	TraysRemaining       int                `gorm:"not null;default:0" json:"trays_remaining"`
	CheckoutRequestID    string             `gorm:"type:varchar(100);index" json:"checkout_request_id"`
	CreatedAt            time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Subscription) TableName() string { return "subscriptions" }

// AuditKey identifies the row in audit records.
func (s *Subscription) AuditKey() uint { return s.ID }

// IsAccessActive reports whether the paid period still covers now.
func (s *Subscription) IsAccessActive(now time.Time) bool {
	return !s.CurrentPeriodEnd.IsZero() && s.CurrentPeriodEnd.After(now)
}

// EffectiveStatus derives the observable status. A lapsed Active row reads as
// Expired without anything having to rewrite it.
func (s *Subscription) EffectiveStatus(now time.Time) SubscriptionStatus {
	if s.IsAccessActive(now) {
		return SubscriptionActive
	}
	switch s.Status {
	case SubscriptionPending, SubscriptionFailed, SubscriptionCancelled:
		return s.Status
	case SubscriptionActive, SubscriptionExpired:
		return SubscriptionExpired
	}
	return SubscriptionExpired
}

// ExtendPeriod stacks days on top of any remaining entitlement.
func (s *Subscription) ExtendPeriod(days int, now time.Time) {
	base := now
	if s.CurrentPeriodEnd.After(now) {
		base = s.CurrentPeriodEnd
	}
	s.CurrentPeriodEnd = base.AddDate(0, 0, days)
	s.Status = SubscriptionActive
}

// SyncStatusFromPeriod persists the derived Active/Expired state. Pending,
// Failed and Cancelled rows are left alone.
func (s *Subscription) SyncStatusFromPeriod(now time.Time) {
	switch s.Status {
	case SubscriptionPending, SubscriptionFailed, SubscriptionCancelled:
		return
	case SubscriptionActive, SubscriptionExpired:
		if s.IsAccessActive(now) {
			s.Status = SubscriptionActive
		} else {
			s.Status = SubscriptionExpired
		}
	}
}

// MarkPending records a new payment attempt. Tray balance and history stay.
func (s *Subscription) MarkPending(checkoutRequestID string) {
	s.Status = SubscriptionPending
	s.CheckoutRequestID = checkoutRequestID
}

// MarkPaymentFailed moves the subscription to Failed or Cancelled depending on
// how the classifier reads the result.
func (s *Subscription) MarkPaymentFailed(resultCode int, resultDesc string, c FailureClassifier) SubscriptionStatus {
	if c.IsCancellation(resultCode, resultDesc) {
		s.Status = SubscriptionCancelled
	} else {
		s.Status = SubscriptionFailed
	}
	return s.Status
}

// ApplySuccessfulPayment grants one paid period.
func (s *Subscription) ApplySuccessfulPayment(now time.Time) {
	s.ExtendPeriod(PaidPeriodDays, now)
}

// Cancel revokes access immediately and stops further deliveries.
func (s *Subscription) Cancel(now time.Time) {
	s.Status = SubscriptionCancelled
	s.CurrentPeriodEnd = now
	s.DeliveryStatus = DeliveryCancelled
}

// ResetToPending clears entitlement after the last confirmed payment is gone.
func (s *Subscription) ResetToPending(now time.Time) {
	s.Status = SubscriptionPending
	s.CurrentPeriodEnd = now
}

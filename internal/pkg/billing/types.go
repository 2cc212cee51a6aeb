package billing

import (
	"context"
	"strings"
	"time"

	"github.com/nestgold/nestgold/app/models"
	"github.com/nestgold/nestgold/internal/pkg/env"
)

// PaymentMode selects how Subscribe collects money.
type PaymentMode string

const (
	// PaymentModeManual issues paybill instructions and waits for an admin to
	// confirm receipt.
	PaymentModeManual PaymentMode = "manual"
	// PaymentModeSTK pushes a payment prompt to the customer's phone and waits
	// for the provider callback.
	PaymentModeSTK PaymentMode = "stk"
)

const (
	defaultInitiateTimeout = 15 * time.Second
	maxConflictAttempts    = 3
)

// Config holds the service tunables.
type Config struct {
	Mode            PaymentMode
	CancelCodes     []int
	InitiateTimeout time.Duration
}

// ConfigFromEnv reads PAYMENT_MODE, PAYMENT_CANCEL_CODES and
// PAYMENT_INITIATE_TIMEOUT.
func ConfigFromEnv() Config {
	mode := PaymentMode(strings.ToLower(strings.TrimSpace(env.GetEnv("PAYMENT_MODE", string(PaymentModeManual)))))
	if mode != PaymentModeSTK {
		mode = PaymentModeManual
	}
	return Config{
		Mode:            mode,
		CancelCodes:     env.GetEnvIntList("PAYMENT_CANCEL_CODES", models.DefaultCancellationCodes),
		InitiateTimeout: env.GetEnvDuration("PAYMENT_INITIATE_TIMEOUT", defaultInitiateTimeout),
	}
}

// PaymentResult is a provider-neutral payment outcome. CorrelationID is the
// checkout request id the payment was started with.
type PaymentResult struct {
	CorrelationID    string
	ResultCode       int
	ResultDesc       string
	ReceiptReference string
	Amount           float64
	PhoneNumber      string
	TransactionDate  *time.Time
}

// Succeeded is true for result code 0.
func (r PaymentResult) Succeeded() bool {
	return r.ResultCode == 0
}

// PaymentInitiator starts an automated payment and returns the provider's
// correlation id.
type PaymentInitiator interface {
	Initiate(ctx context.Context, phone string, amount float64, referenceID, customerName, description string) (string, error)
}

// NotificationKind names a customer or admin message.
type NotificationKind string

const (
	NotifyAdminNewSubscription NotificationKind = "admin_new_subscription"
	NotifyCustomerWelcome      NotificationKind = "customer_welcome"
	NotifyAdminPaymentRequest  NotificationKind = "admin_payment_request"
)

// Notifier delivers messages after a commit. Implementations must not block
// for long and must never fail the caller; payment may be nil.
type Notifier interface {
	Notify(ctx context.Context, sub *models.Subscription, kind NotificationKind, payment *models.Payment)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, *models.Subscription, NotificationKind, *models.Payment) {
}

// SubscribeRequest is the public signup payload.
type SubscribeRequest struct {
	PlanID               uint       `json:"plan_id" validate:"required"`
	Name                 string     `json:"name" validate:"required,min=2,max=100"`
	Phone                string     `json:"phone" validate:"required,min=9,max=20"`
	Location             string     `json:"location" validate:"required,min=2,max=200"`
	PreferredDeliveryDay string     `json:"preferred_delivery_day" validate:"required"`
	NextDeliveryDate     *time.Time `json:"next_delivery_date,omitempty"`
}

// SubscribeResult is what a signup produced.
type SubscribeResult struct {
	Subscription *models.Subscription        `json:"subscription"`
	Payment      *models.Payment             `json:"payment,omitempty"`
	Instructions *models.PaymentInstructions `json:"instructions,omitempty"`
	Mode         PaymentMode                 `json:"mode"`
	Reused       bool                        `json:"reused"`
}

// ReconcileOutcome reports the effect of one payment result.
type ReconcileOutcome struct {
	Payment      *models.Payment
	Subscription *models.Subscription
	Transition   Transition
}

// EditSubscriptionInput carries admin edits. Nil fields are left unchanged.
type EditSubscriptionInput struct {
	Name                 *string    `json:"name" validate:"omitempty,min=2,max=100"`
	Phone                *string    `json:"phone" validate:"omitempty,min=9,max=20"`
	Location             *string    `json:"location" validate:"omitempty,min=2,max=200"`
	PreferredDeliveryDay *string    `json:"preferred_delivery_day"`
	NextDeliveryDate     *time.Time `json:"next_delivery_date"`
	DeliveryStatus       *string    `json:"delivery_status"`
}

// DeliveryInput records one delivery event.
type DeliveryInput struct {
	Status        models.DeliveryRecordStatus `json:"status" validate:"required"`
	ScheduledDate *time.Time                  `json:"scheduled_date"`
	Notes         string                      `json:"notes" validate:"max=2000"`
}

// PlanInput is the admin plan payload.
type PlanInput struct {
	Name          string  `json:"name" validate:"required,min=2,max=100"`
	TraysPerWeek  int     `json:"trays_per_week" validate:"required,min=1,max=100"`
	PricePerMonth float64 `json:"price_per_month" validate:"required,gt=0"`
	Description   string  `json:"description" validate:"max=2000"`
	IsActive      *bool   `json:"is_active"`
	IsRecommended bool    `json:"is_recommended"`
	ButtonColor   string  `json:"button_color" validate:"omitempty,oneof=primary secondary success danger warning info light dark"`
}

// FeedbackInput is the public feedback payload.
type FeedbackInput struct {
	Name    string `json:"name" validate:"required,min=2,max=100"`
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"required,min=3,max=2000"`
}

// SubscriptionFilter narrows admin listings.
type SubscriptionFilter struct {
	Status string
	PlanID uint
	Phone  string
	Limit  int
	Offset int
}

// PaymentFilter narrows admin payment listings.
type PaymentFilter struct {
	Status         string
	PaymentStatus  string
	SubscriptionID uint
	Limit          int
	Offset         int
}

// TrackResult is the public view of a payment looked up by token.
type TrackResult struct {
	Payment            *models.Payment             `json:"payment"`
	Subscription       *models.Subscription        `json:"subscription,omitempty"`
	Plan               *models.SubscriptionPlan    `json:"plan,omitempty"`
	EffectiveStatus    models.SubscriptionStatus   `json:"effective_status,omitempty"`
	Deliveries         []models.Delivery           `json:"deliveries,omitempty"`
	Instructions       *models.PaymentInstructions `json:"instructions,omitempty"`
	ReceiptAvailable   bool                        `json:"receipt_available"`
	PaymentStatusLabel string                      `json:"payment_status_label"`
}

// Dashboard summarises subscriptions and payments for the admin home.
type Dashboard struct {
	TotalSubscriptions    int                               `json:"total_subscriptions"`
	ByEffectiveStatus     map[models.SubscriptionStatus]int `json:"by_effective_status"`
	PendingManualPayments int                               `json:"pending_manual_payments"`
	ConfirmedRevenue      float64                           `json:"confirmed_revenue"`
	TraysRemaining        int                               `json:"trays_remaining"`
	DeliveriesDue         int                               `json:"deliveries_due"`
}

// PaymentEventInput is the raw callback to persist.
type PaymentEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
}

// Package notify sends customer and admin SMS after billing events.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/nestgold/nestgold/app/models"
	"github.com/nestgold/nestgold/internal/pkg/billing"
	"github.com/nestgold/nestgold/internal/pkg/env"
	"github.com/nestgold/nestgold/internal/pkg/metrics"
	"github.com/nestgold/nestgold/internal/pkg/phone"
)

const sendTimeout = 20 * time.Second

// Enqueuer hands work to the background job queue.
type Enqueuer interface {
	EnqueueSMS(to, message, kind string) error
	EnqueueReceiptArchive(token string) error
}

// Notifier implements billing.Notifier. Messages go through the job queue
// when one is attached and fall back to a direct send in a goroutine.
type Notifier struct {
	sender     Sender
	queue      Enqueuer
	adminPhone string
	archive    bool
	spawn      func(func())
}

type Option func(*Notifier)

// WithQueue routes messages through the background job queue.
func WithQueue(q Enqueuer) Option {
	return func(n *Notifier) { n.queue = q }
}

// WithReceiptArchive queues a receipt upload for every newly paid payment.
func WithReceiptArchive(enabled bool) Option {
	return func(n *Notifier) { n.archive = enabled }
}

func NewNotifier(sender Sender, adminPhone string, opts ...Option) *Notifier {
	n := &Notifier{
		sender:     sender,
		adminPhone: phone.E164(adminPhone),
		spawn:      func(f func()) { go f() },
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NewNotifierFromEnv wires the Africa's Talking client and ADMIN_PHONE_NUMBER.
func NewNotifierFromEnv(opts ...Option) *Notifier {
	return NewNotifier(NewAfricasTalkingClientFromEnv(), env.GetEnv("ADMIN_PHONE_NUMBER", ""), opts...)
}

func (n *Notifier) Notify(ctx context.Context, sub *models.Subscription, kind billing.NotificationKind, payment *models.Payment) {
	if sub == nil {
		return
	}

	var to, message string
	switch kind {
	case billing.NotifyAdminNewSubscription:
		to, message = n.adminPhone, AdminNewSubscription(sub)
	case billing.NotifyCustomerWelcome:
		to, message = phone.E164(sub.Phone), CustomerWelcome(sub)
		if n.archive && payment != nil {
			n.queueArchive(payment)
		}
	case billing.NotifyAdminPaymentRequest:
		to, message = n.adminPhone, AdminPaymentRequest(sub, payment)
	default:
		log.Warnf("[Notify] Unknown notification kind %q", kind)
		return
	}

	if to == "" {
		log.Infof("[Notify] %s skipped: no recipient configured", kind)
		metrics.NotificationsTotal.WithLabelValues(string(kind), "skipped").Inc()
		return
	}

	if n.queue != nil {
		err := n.queue.EnqueueSMS(to, message, string(kind))
		if err == nil {
			return
		}
		log.Warnf("[Notify] Could not queue %s, sending directly: %v", kind, err)
	}
	n.spawn(func() {
		n.Deliver(context.Background(), to, message, string(kind))
	})
}

// Deliver sends one message now and records the outcome. Job workers call it
// too.
func (n *Notifier) Deliver(ctx context.Context, to, message, kind string) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	err := n.sender.Send(ctx, to, message)
	switch {
	case errors.Is(err, ErrSMSDisabled):
		log.Infof("[Notify] %s skipped: sms not configured", kind)
		metrics.NotificationsTotal.WithLabelValues(kind, "skipped").Inc()
		return nil
	case err != nil:
		log.Errorf("[Notify] %s to %s failed: %v", kind, to, err)
	default:
		log.Infof("[Notify] %s sent to %s", kind, to)
	}
	metrics.NotificationsTotal.WithLabelValues(kind, metrics.Outcome(err)).Inc()
	return err
}

func (n *Notifier) queueArchive(p *models.Payment) {
	if n.queue == nil {
		return
	}
	if err := n.queue.EnqueueReceiptArchive(p.Token()); err != nil {
		log.Warnf("[Notify] Could not queue receipt archive for payment %d: %v", p.ID, err)
	}
}

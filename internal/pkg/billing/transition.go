package billing

import (
	"time"

	"github.com/nestgold/nestgold/app/models"
	"github.com/nestgold/nestgold/internal/pkg/trays"
)

// Transition describes what ApplyPaymentResult changed.
type Transition struct {
	// Applied is true only for the first successful result on a payment.
	// Side effects such as notifications key off it.
	Applied            bool
	PaymentStatus      models.PaymentStatus
	SubscriptionStatus models.SubscriptionStatus
	TraysCredited      int
}

// ApplyPaymentResult is the only place a payment result mutates a payment and
// its subscription. p and sub must have been loaded inside the transaction
// that will persist them. sub and plan may be nil for orphan payments.
//
// A payment that is already Completed is never changed again: repeated
// successes are no-ops and late failures do not downgrade it.
func ApplyPaymentResult(p *models.Payment, sub *models.Subscription, plan *models.SubscriptionPlan, res PaymentResult, c models.FailureClassifier, now time.Time) Transition {
	t := Transition{PaymentStatus: p.Status}
	if sub != nil {
		t.SubscriptionStatus = sub.Status
	}

	if p.Status == models.PaymentCompleted {
		if res.Succeeded() && p.MpesaReceipt == "" && res.ReceiptReference != "" {
			p.MpesaReceipt = res.ReceiptReference
		}
		return t
	}

	if !res.Succeeded() {
		p.Status = c.PaymentStatusFor(res.ResultCode, res.ResultDesc)
		t.PaymentStatus = p.Status
		if sub != nil {
			t.SubscriptionStatus = sub.MarkPaymentFailed(res.ResultCode, res.ResultDesc, c)
		}
		return t
	}

	p.Status = models.PaymentCompleted
	if res.ReceiptReference != "" {
		p.MpesaReceipt = res.ReceiptReference
	}
	paidAt := now
	if res.TransactionDate != nil {
		paidAt = *res.TransactionDate
	}
	p.PaymentDate = &paidAt
	t.PaymentStatus = p.Status
	t.Applied = true

	if sub != nil {
		sub.ApplySuccessfulPayment(now)
		t.TraysCredited = trays.Credit(sub, plan)
		sub.DeliveryStatus = models.DeliveryPending
		t.SubscriptionStatus = sub.Status
	}
	return t
}

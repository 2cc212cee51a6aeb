package billing

import (
	"testing"
	"time"

	"github.com/nestgold/nestgold/app/models"
	"github.com/stretchr/testify/assert"
)

func pendingPair() (*models.Payment, *models.Subscription, *models.SubscriptionPlan) {
	plan := &models.SubscriptionPlan{ID: 1, Name: "Family Pack", TraysPerWeek: 3, PricePerMonth: 1800}
	sub := &models.Subscription{ID: 1, PlanID: 1, Status: models.SubscriptionPending, CurrentPeriodEnd: testNow}
	p := &models.Payment{ID: 1, Status: models.PaymentPending, PaymentStatus: models.ManualPaymentPending}
	return p, sub, plan
}

func TestApplyPaymentResultSuccess(t *testing.T) {
	p, sub, plan := pendingPair()
	c := models.NewFailureClassifier(models.DefaultCancellationCodes...)
	paidAt := time.Date(2026, 3, 4, 10, 15, 0, 0, nairobi)

	tr := ApplyPaymentResult(p, sub, plan, PaymentResult{ResultCode: 0, ReceiptReference: "RCPT1", TransactionDate: &paidAt}, c, testNow)

	assert.True(t, tr.Applied)
	assert.Equal(t, 12, tr.TraysCredited)
	assert.Equal(t, models.PaymentCompleted, tr.PaymentStatus)
	assert.Equal(t, models.SubscriptionActive, tr.SubscriptionStatus)
	assert.Equal(t, "RCPT1", p.MpesaReceipt)
	assert.True(t, p.PaymentDate.Equal(paidAt))
	assert.True(t, sub.CurrentPeriodEnd.Equal(testNow.AddDate(0, 0, 30)))
	assert.Equal(t, models.DeliveryPending, sub.DeliveryStatus)
}

func TestApplyPaymentResultStacksOnRemainingPeriod(t *testing.T) {
	p, sub, plan := pendingPair()
	sub.Status = models.SubscriptionActive
	sub.CurrentPeriodEnd = testNow.AddDate(0, 0, 10)
	sub.TraysAllocatedTotal, sub.TraysRemaining = 12, 4

	ApplyPaymentResult(p, sub, plan, PaymentResult{}, models.NewFailureClassifier(), testNow)

	assert.True(t, sub.CurrentPeriodEnd.Equal(testNow.AddDate(0, 0, 40)))
	assert.Equal(t, 24, sub.TraysAllocatedTotal)
	assert.Equal(t, 16, sub.TraysRemaining)
}

func TestApplyPaymentResultCompletedIsFinal(t *testing.T) {
	p, sub, plan := pendingPair()
	c := models.NewFailureClassifier(1032)
	ApplyPaymentResult(p, sub, plan, PaymentResult{}, c, testNow)
	end := sub.CurrentPeriodEnd

	again := ApplyPaymentResult(p, sub, plan, PaymentResult{ReceiptReference: "LATE"}, c, testNow.Add(time.Hour))
	assert.False(t, again.Applied)
	assert.Equal(t, "LATE", p.MpesaReceipt, "missing receipt is filled in")
	assert.True(t, sub.CurrentPeriodEnd.Equal(end))
	assert.Equal(t, 12, sub.TraysRemaining)

	failed := ApplyPaymentResult(p, sub, plan, PaymentResult{ResultCode: 1032, ResultDesc: "Request cancelled by user"}, c, testNow)
	assert.False(t, failed.Applied)
	assert.Equal(t, models.PaymentCompleted, p.Status)
	assert.Equal(t, models.SubscriptionActive, sub.Status)
	assert.Equal(t, "LATE", p.MpesaReceipt)
}

func TestApplyPaymentResultFailure(t *testing.T) {
	p, sub, plan := pendingPair()
	tr := ApplyPaymentResult(p, sub, plan, PaymentResult{ResultCode: 1, ResultDesc: "Insufficient funds"}, models.NewFailureClassifier(1032), testNow)

	assert.False(t, tr.Applied)
	assert.Equal(t, models.PaymentFailed, p.Status)
	assert.Equal(t, models.SubscriptionFailed, sub.Status)
	assert.Equal(t, 0, sub.TraysRemaining)
	assert.Nil(t, p.PaymentDate)
}

func TestApplyPaymentResultOrphan(t *testing.T) {
	p, _, _ := pendingPair()
	tr := ApplyPaymentResult(p, nil, nil, PaymentResult{ReceiptReference: "X1"}, models.NewFailureClassifier(), testNow)

	assert.True(t, tr.Applied)
	assert.Equal(t, 0, tr.TraysCredited)
	assert.Empty(t, tr.SubscriptionStatus)
	assert.Equal(t, models.PaymentCompleted, p.Status)
}

package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nestgold/nestgold/app/models"
	"github.com/nestgold/nestgold/internal/pkg/audit"
	"github.com/nestgold/nestgold/internal/pkg/trays"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestSubscribeManualCreatesPaymentRequest(t *testing.T) {
	h := newHarness(t, Config{})
	res := h.subscribe(t, "0712 345 678")

	sub := h.subscription(t, res.Subscription.ID)
	assert.Equal(t, PaymentModeManual, res.Mode)
	assert.False(t, res.Reused)
	assert.Equal(t, models.SubscriptionPending, sub.Status)
	assert.Equal(t, "254712345678", sub.PhoneNormalized)
	assert.Equal(t, "Saturday", sub.PreferredDeliveryDay)
	assert.True(t, sub.NextDeliveryDate.Equal(time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)))
	assert.True(t, sub.CurrentPeriodEnd.Equal(testNow))
	assert.Equal(t, 0, sub.TraysRemaining)

	p := h.payment(t, res.Payment.ID)
	ref := fmt.Sprintf("NESTGOLD-%d-%d", sub.ID, testNow.Unix())
	assert.Equal(t, ref, models.StringValue(p.ReferenceID))
	assert.Equal(t, ref, models.StringValue(p.CheckoutRequestID))
	assert.Equal(t, ref, sub.CheckoutRequestID)
	assert.Regexp(t, `^NG-[0-9A-F]{8}$`, models.StringValue(p.TrackingCode))
	assert.Equal(t, models.PaymentPending, p.Status)
	assert.Equal(t, models.ManualPaymentPending, p.PaymentStatus)
	assert.Equal(t, 1800.0, p.Amount)
	assert.Equal(t, models.InstructionChannelWeb, p.InstructionChannel)

	require.NotNil(t, res.Instructions)
	assert.Equal(t, models.DefaultMpesaPaybill, res.Instructions.Paybill)
	assert.Equal(t, ref, res.Instructions.AccountNumber)
	assert.Contains(t, res.Instructions.Text, "Amount: KES 1800.00")
	assert.Equal(t, 1, h.notes.count(NotifyAdminPaymentRequest))
}

func TestSubscribeValidation(t *testing.T) {
	h := newHarness(t, Config{})
	inactive := h.seedPlan(t, "Retired", 1, 500)
	inactive.IsActive = false
	require.NoError(t, h.repo.Transaction(context.Background(), func(r Repository) error {
		return r.SavePlan(&inactive)
	}))

	tests := []struct {
		name   string
		mutate func(r *SubscribeRequest)
	}{
		{name: "missing name", mutate: func(r *SubscribeRequest) { r.Name = " " }},
		{name: "bad phone", mutate: func(r *SubscribeRequest) { r.Phone = "99 1234 5678" }},
		{name: "unknown day", mutate: func(r *SubscribeRequest) { r.PreferredDeliveryDay = "Someday" }},
		{name: "unknown plan", mutate: func(r *SubscribeRequest) { r.PlanID = 999 }},
		{name: "inactive plan", mutate: func(r *SubscribeRequest) { r.PlanID = inactive.ID }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := h.request("0712345678")
			tt.mutate(&req)
			_, err := h.svc.Subscribe(context.Background(), req)
			require.Error(t, err)
			assert.True(t, IsValidationError(err), "expected validation error, got %v", err)
		})
	}
	assert.Empty(t, h.repo.committed().subs)
	assert.Empty(t, h.repo.committed().payments)
}

func TestSubscribeDeduplicatesByPlanAndPhone(t *testing.T) {
	h := newHarness(t, Config{})

	first := h.subscribe(t, "0712345678")
	for _, raw := range []string{"+254 712 345 678", "712345678", "254-712-345-678"} {
		res := h.subscribe(t, raw)
		assert.True(t, res.Reused, raw)
		assert.Equal(t, first.Subscription.ID, res.Subscription.ID, raw)
	}
	assert.Len(t, h.repo.committed().subs, 1)
	assert.Len(t, h.repo.committed().payments, 4)

	other := h.seedPlan(t, "Bulk Pack", 10, 5400)
	req := h.request("0712345678")
	req.PlanID = other.ID
	res, err := h.svc.Subscribe(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, first.Subscription.ID, res.Subscription.ID)
	assert.Len(t, h.repo.committed().subs, 2)
}

func TestSubscribeRetriesOnUniqueConflict(t *testing.T) {
	h := newHarness(t, Config{})
	var winner uint
	h.repo.hooks.conflictSubscriptionInserts = 1
	h.repo.hooks.afterConflict = func(st *memoryStore) {
		winner = st.id()
		st.subs[winner] = models.Subscription{
			ID:               winner,
			PlanID:           h.plan.ID,
			Name:             "Jane W",
			Phone:            "0712345678",
			PhoneNormalized:  "254712345678",
			Status:           models.SubscriptionPending,
			CurrentPeriodEnd: testNow,
			DeliveryStatus:   models.DeliveryPending,
		}
	}

	res := h.subscribe(t, "0712345678")

	assert.True(t, res.Reused)
	assert.Equal(t, winner, res.Subscription.ID)
	assert.Len(t, h.repo.committed().subs, 1)
	assert.Equal(t, "Jane Wanjiku", h.subscription(t, winner).Name)
}

func TestSubscribeGivesUpAfterRepeatedConflicts(t *testing.T) {
	h := newHarness(t, Config{})
	h.repo.hooks.conflictSubscriptionInserts = 10
	before := h.repo.hooks.transactions

	_, err := h.svc.Subscribe(context.Background(), h.request("0712345678"))
	require.Error(t, err)
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
	assert.Equal(t, maxConflictAttempts, h.repo.hooks.transactions-before)
	assert.Empty(t, h.repo.committed().subs)
}

func TestSubscribeThenConfirmActivates(t *testing.T) {
	h := newHarness(t, Config{})
	res := h.subscribe(t, "0712345678")

	out, err := h.svc.ConfirmPayment(context.Background(), res.Payment.ID, "QAB123XYZ", "paid at the shop")
	require.NoError(t, err)
	assert.True(t, out.Transition.Applied)
	assert.Equal(t, 12, out.Transition.TraysCredited)

	sub := h.subscription(t, res.Subscription.ID)
	assert.Equal(t, models.SubscriptionActive, sub.Status)
	assert.Equal(t, 12, sub.TraysAllocatedTotal)
	assert.Equal(t, 12, sub.TraysRemaining)
	assert.Equal(t, models.DeliveryPending, sub.DeliveryStatus)
	assert.True(t, sub.CurrentPeriodEnd.Equal(testNow.AddDate(0, 0, 30)))
	assert.Equal(t, models.SubscriptionActive, sub.EffectiveStatus(h.clock.Now()))

	p := h.payment(t, res.Payment.ID)
	assert.Equal(t, models.PaymentCompleted, p.Status)
	assert.Equal(t, models.ManualPaymentConfirmed, p.PaymentStatus)
	assert.Equal(t, "QAB123XYZ", p.AdminTransactionReference)
	assert.Equal(t, "QAB123XYZ", p.MpesaReceipt)
	assert.Equal(t, "paid at the shop", p.AdminNotes)
	require.NotNil(t, p.ConfirmedAt)

	assert.Equal(t, 1, h.notes.count(NotifyAdminNewSubscription))
	assert.Equal(t, 1, h.notes.count(NotifyCustomerWelcome))

	// Confirming again changes nothing.
	out, err = h.svc.ConfirmPayment(context.Background(), res.Payment.ID, "", "")
	require.NoError(t, err)
	assert.False(t, out.Transition.Applied)
	sub = h.subscription(t, res.Subscription.ID)
	assert.Equal(t, 12, sub.TraysRemaining)
	assert.True(t, sub.CurrentPeriodEnd.Equal(testNow.AddDate(0, 0, 30)))
	assert.Equal(t, 1, h.notes.count(NotifyCustomerWelcome))
}

func TestConfirmUnknownPayment(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.svc.ConfirmPayment(context.Background(), 42, "REF", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResubscribeReusesRowAndKeepsTrays(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	first := h.subscribe(t, "0712345678")
	_, err := h.svc.ConfirmPayment(ctx, first.Payment.ID, "QAB1", "")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, _, err := h.svc.RecordDelivery(ctx, first.Subscription.ID, DeliveryInput{Status: models.DeliveryDelivered})
		require.NoError(t, err)
	}

	h.clock.Advance(5 * 24 * time.Hour)
	req := h.request("+254712345678")
	req.Location = "Westlands, Nairobi"
	req.PreferredDeliveryDay = "tuesday"
	again, err := h.svc.Subscribe(ctx, req)
	require.NoError(t, err)

	assert.True(t, again.Reused)
	assert.Equal(t, first.Subscription.ID, again.Subscription.ID)
	sub := h.subscription(t, first.Subscription.ID)
	assert.Equal(t, 12, sub.TraysAllocatedTotal)
	assert.Equal(t, 10, sub.TraysRemaining)
	assert.Equal(t, "Westlands, Nairobi", sub.Location)
	assert.Equal(t, "Tuesday", sub.PreferredDeliveryDay)
	assert.Equal(t, models.SubscriptionPending, sub.Status)
	assert.Equal(t, models.SubscriptionActive, sub.EffectiveStatus(h.clock.Now()))
	assert.Equal(t, models.StringValue(again.Payment.ReferenceID), sub.CheckoutRequestID)

	deliveries, err := h.svc.ListDeliveries(ctx, sub.ID)
	require.NoError(t, err)
	assert.Len(t, deliveries, 2)
}

func TestDeleteConfirmedPaymentReversesTrays(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	res := h.subscribe(t, "0712345678")
	_, err := h.svc.ConfirmPayment(ctx, res.Payment.ID, "QAB1", "")
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	out, err := h.svc.DeletePayment(ctx, res.Payment.ID)
	require.NoError(t, err)

	assert.Equal(t, 12, out.TraysReversed)
	assert.False(t, out.SubscriptionDeleted)
	sub := h.subscription(t, res.Subscription.ID)
	assert.Equal(t, 0, sub.TraysAllocatedTotal)
	assert.Equal(t, 0, sub.TraysRemaining)
	assert.Equal(t, models.SubscriptionPending, sub.Status)
	assert.True(t, sub.CurrentPeriodEnd.Equal(h.clock.Now()))
	assert.Equal(t, models.SubscriptionPending, sub.EffectiveStatus(h.clock.Now()))
	assert.Empty(t, h.repo.committed().payments)
}

func TestDeleteConfirmedPaymentFloorsAtZero(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	res := h.subscribe(t, "0712345678")
	_, err := h.svc.ConfirmPayment(ctx, res.Payment.ID, "QAB1", "")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, _, err := h.svc.RecordDelivery(ctx, res.Subscription.ID, DeliveryInput{Status: models.DeliveryDelivered})
		require.NoError(t, err)
	}

	_, err = h.svc.DeletePayment(ctx, res.Payment.ID)
	require.NoError(t, err)
	sub := h.subscription(t, res.Subscription.ID)
	assert.Equal(t, 0, sub.TraysAllocatedTotal)
	assert.Equal(t, 0, sub.TraysRemaining)
}

func TestDeleteCallbackCompletedPaymentReversesTrays(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	res := h.subscribe(t, "0712345678")
	ref := models.StringValue(res.Payment.ReferenceID)
	require.NotEmpty(t, ref)

	out, err := h.svc.ProcessCallback(ctx, stkCallback(ref, 0, "The service request is processed successfully.", "NLJ7RT61SV"))
	require.NoError(t, err)
	require.True(t, out.Transition.Applied)
	p := h.payment(t, res.Payment.ID)
	require.Equal(t, models.PaymentCompleted, p.Status)
	require.False(t, p.IsConfirmed())
	require.Equal(t, 12, h.subscription(t, res.Subscription.ID).TraysRemaining)

	h.clock.Advance(time.Hour)
	del, err := h.svc.DeletePayment(ctx, res.Payment.ID)
	require.NoError(t, err)

	assert.Equal(t, 12, del.TraysReversed)
	assert.False(t, del.SubscriptionDeleted)
	sub := h.subscription(t, res.Subscription.ID)
	assert.Equal(t, 0, sub.TraysAllocatedTotal)
	assert.Equal(t, 0, sub.TraysRemaining)
	assert.Equal(t, models.SubscriptionPending, sub.Status)
	assert.Equal(t, models.SubscriptionPending, sub.EffectiveStatus(h.clock.Now()))
}

func TestDeletePaymentRemovesUnpaidSubscription(t *testing.T) {
	h := newHarness(t, Config{})
	res := h.subscribe(t, "0712345678")

	out, err := h.svc.DeletePayment(context.Background(), res.Payment.ID)
	require.NoError(t, err)
	assert.True(t, out.SubscriptionDeleted)
	assert.Empty(t, h.repo.committed().subs)
}

func TestDeletePendingPaymentKeepsPaidPeriod(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	first := h.subscribe(t, "0712345678")
	_, err := h.svc.ConfirmPayment(ctx, first.Payment.ID, "QAB1", "")
	require.NoError(t, err)
	second := h.subscribe(t, "0712345678")

	out, err := h.svc.DeletePayment(ctx, second.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, out.TraysReversed)
	assert.False(t, out.SubscriptionDeleted)

	sub := h.subscription(t, first.Subscription.ID)
	assert.Equal(t, 12, sub.TraysRemaining)
	assert.True(t, sub.CurrentPeriodEnd.Equal(testNow.AddDate(0, 0, 30)))
	assert.Equal(t, models.SubscriptionActive, sub.EffectiveStatus(h.clock.Now()))
}

func TestCallbackCancellationCode(t *testing.T) {
	h := newHarness(t, Config{Mode: PaymentModeSTK}, WithInitiator(&fakeInitiator{checkoutID: "ws_CO_1032"}))
	res := h.subscribe(t, "0712345678")
	require.NotNil(t, res.Payment)
	assert.Equal(t, "ws_CO_1032", res.Subscription.CheckoutRequestID)

	out, err := h.svc.ProcessCallback(context.Background(), stkCallback("ws_CO_1032", 1032, "Request cancelled by user", ""))
	require.NoError(t, err)
	assert.False(t, out.Transition.Applied)

	sub := h.subscription(t, res.Subscription.ID)
	assert.Equal(t, models.SubscriptionCancelled, sub.Status)
	assert.Equal(t, 0, sub.TraysRemaining)
	assert.Equal(t, models.PaymentCancelled, h.payment(t, res.Payment.ID).Status)
}

func TestCallbackFailureClassification(t *testing.T) {
	tests := []struct {
		code        int
		desc        string
		wantSub     models.SubscriptionStatus
		wantPayment models.PaymentStatus
	}{
		{code: 1, desc: "The balance is insufficient for the transaction.", wantSub: models.SubscriptionFailed, wantPayment: models.PaymentFailed},
		{code: 2001, desc: "The initiator information is invalid.", wantSub: models.SubscriptionFailed, wantPayment: models.PaymentFailed},
		{code: 1037, desc: "DS timeout user cannot be reached", wantSub: models.SubscriptionFailed, wantPayment: models.PaymentFailed},
		{code: 17, desc: "Transaction CANCELLED on handset", wantSub: models.SubscriptionCancelled, wantPayment: models.PaymentCancelled},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			h := newHarness(t, Config{Mode: PaymentModeSTK}, WithInitiator(&fakeInitiator{checkoutID: "ws_CO_x"}))
			res := h.subscribe(t, "0712345678")

			_, err := h.svc.ProcessCallback(context.Background(), stkCallback("ws_CO_x", tt.code, tt.desc, ""))
			require.NoError(t, err)
			assert.Equal(t, tt.wantSub, h.subscription(t, res.Subscription.ID).Status)
			assert.Equal(t, tt.wantPayment, h.payment(t, res.Payment.ID).Status)
		})
	}
}

func TestConfigurableCancellationCodes(t *testing.T) {
	h := newHarness(t, Config{Mode: PaymentModeSTK, CancelCodes: []int{1037}}, WithInitiator(&fakeInitiator{checkoutID: "ws_CO_y"}))
	res := h.subscribe(t, "0712345678")

	_, err := h.svc.ProcessCallback(context.Background(), stkCallback("ws_CO_y", 1037, "DS timeout", ""))
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionCancelled, h.subscription(t, res.Subscription.ID).Status)
}

func TestRepeatedSuccessCallbacksAreIdempotent(t *testing.T) {
	type snapshot struct {
		status    models.SubscriptionStatus
		periodEnd time.Time
		allocated int
		remaining int
		welcomes  int
		receipt   string
	}
	run := func(n int) snapshot {
		h := newHarness(t, Config{Mode: PaymentModeSTK}, WithInitiator(&fakeInitiator{checkoutID: "ws_CO_idem"}))
		res := h.subscribe(t, "0712345678")
		body := stkCallback("ws_CO_idem", 0, "The service request is processed successfully.", "NLJ7RT61SV")
		for i := 0; i < n; i++ {
			_, err := h.svc.ProcessCallback(context.Background(), body)
			require.NoError(t, err)
		}

		events := h.repo.committed().events
		require.Len(t, events, 1)
		for _, e := range events {
			assert.Equal(t, n, e.Deliveries)
			assert.NotNil(t, e.ProcessedAt)
			assert.Empty(t, e.ProcessingError)
		}

		sub := h.subscription(t, res.Subscription.ID)
		return snapshot{
			status:    sub.Status,
			periodEnd: sub.CurrentPeriodEnd,
			allocated: sub.TraysAllocatedTotal,
			remaining: sub.TraysRemaining,
			welcomes:  h.notes.count(NotifyCustomerWelcome),
			receipt:   h.payment(t, res.Payment.ID).MpesaReceipt,
		}
	}

	once := run(1)
	five := run(5)
	assert.Equal(t, once, five)
	assert.Equal(t, models.SubscriptionActive, once.status)
	assert.Equal(t, 12, once.remaining)
	assert.Equal(t, 1, once.welcomes)
	assert.Equal(t, "NLJ7RT61SV", once.receipt)
}

func TestLateFailureDoesNotDowngradeCompletedPayment(t *testing.T) {
	h := newHarness(t, Config{Mode: PaymentModeSTK}, WithInitiator(&fakeInitiator{checkoutID: "ws_CO_late"}))
	res := h.subscribe(t, "0712345678")
	ctx := context.Background()

	_, err := h.svc.ProcessCallback(ctx, stkCallback("ws_CO_late", 0, "ok", "RCPT1"))
	require.NoError(t, err)
	_, err = h.svc.ProcessCallback(ctx, stkCallback("ws_CO_late", 1032, "Request cancelled by user", ""))
	require.NoError(t, err)

	assert.Equal(t, models.PaymentCompleted, h.payment(t, res.Payment.ID).Status)
	assert.Equal(t, models.SubscriptionActive, h.subscription(t, res.Subscription.ID).Status)
}

func TestReconcileUnknownCheckoutLinksSubscription(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	sub := &models.Subscription{
		PlanID:            h.plan.ID,
		Name:              "Otieno",
		Phone:             "0722000111",
		PhoneNormalized:   "254722000111",
		Location:          "Karen",
		Status:            models.SubscriptionPending,
		CurrentPeriodEnd:  testNow,
		DeliveryStatus:    models.DeliveryPending,
		CheckoutRequestID: "ws_CO_legacy",
	}
	require.NoError(t, h.repo.Transaction(ctx, func(r Repository) error { return r.SaveSubscription(sub) }))

	out, err := h.svc.ReconcilePayment(ctx, PaymentResult{CorrelationID: "ws_CO_legacy", ResultCode: 0, ReceiptReference: "RCPT9"})
	require.NoError(t, err)
	require.NotNil(t, out.Payment.SubscriptionID)
	assert.Equal(t, sub.ID, *out.Payment.SubscriptionID)
	assert.Equal(t, 1800.0, out.Payment.Amount)
	assert.True(t, out.Transition.Applied)
	assert.Equal(t, 12, h.subscription(t, sub.ID).TraysRemaining)

	orphan, err := h.svc.ReconcilePayment(ctx, PaymentResult{CorrelationID: "ws_CO_nobody", ResultCode: 0, Amount: 50})
	require.NoError(t, err)
	assert.Nil(t, orphan.Payment.SubscriptionID)
	assert.Equal(t, models.PaymentCompleted, orphan.Payment.Status)
	assert.Equal(t, 1, h.notes.count(NotifyCustomerWelcome))
}

func TestReconcileRequiresCorrelationID(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.svc.ReconcilePayment(context.Background(), PaymentResult{CorrelationID: "  "})
	assert.True(t, IsValidationError(err))
}

func TestProcessCallbackStoresMalformedPayload(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.svc.ProcessCallback(context.Background(), []byte(`{"Body":`))
	require.Error(t, err)

	events := h.repo.committed().events
	require.Len(t, events, 1)
	for _, e := range events {
		assert.Equal(t, "stk_callback_malformed", e.EventType)
		assert.True(t, strings.HasPrefix(e.ProviderEventID, "hash:"))
		assert.Nil(t, e.ProcessedAt)
	}
}

func TestEntitlementLapse(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	pending := h.subscribe(t, "0712345678")
	paid := h.subscribe(t, "0733000222")
	_, err := h.svc.ConfirmPayment(ctx, paid.Payment.ID, "QAB2", "")
	require.NoError(t, err)

	h.clock.Advance(40 * 24 * time.Hour)
	now := h.clock.Now()
	ps := h.subscription(t, pending.Subscription.ID)
	assert.Equal(t, models.SubscriptionPending, ps.EffectiveStatus(now))
	pd := h.subscription(t, paid.Subscription.ID)
	assert.Equal(t, models.SubscriptionExpired, pd.EffectiveStatus(now))

	dash, err := h.svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, dash.TotalSubscriptions)
	assert.Equal(t, 1, dash.ByEffectiveStatus[models.SubscriptionPending])
	assert.Equal(t, 1, dash.ByEffectiveStatus[models.SubscriptionExpired])
	assert.Equal(t, 1, dash.PendingManualPayments)
	assert.Equal(t, 1800.0, dash.ConfirmedRevenue)
}

func TestSyncSubscriptionStatusesExpiresLapsedPeriods(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	pending := h.subscribe(t, "0712345678")
	paid := h.subscribe(t, "0733000222")
	_, err := h.svc.ConfirmPayment(ctx, paid.Payment.ID, "QAB3", "")
	require.NoError(t, err)

	n, err := h.svc.SyncSubscriptionStatuses(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "nothing has lapsed yet")

	h.clock.Advance(31 * 24 * time.Hour)
	n, err = h.svc.SyncSubscriptionStatuses(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.SubscriptionExpired, h.subscription(t, paid.Subscription.ID).Status)
	assert.Equal(t, models.SubscriptionPending, h.subscription(t, pending.Subscription.ID).Status)

	n, err = h.svc.SyncSubscriptionStatuses(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// interleavingRepo runs afterList once, right after the first subscription
// scan returns, so a write can land between the read and the sweep's update.
type interleavingRepo struct {
	Repository
	afterList func()
}

func (r *interleavingRepo) AllSubscriptions() ([]models.Subscription, error) {
	subs, err := r.Repository.AllSubscriptions()
	if hook := r.afterList; hook != nil {
		r.afterList = nil
		hook()
	}
	return subs, err
}

func TestSyncSubscriptionStatusesKeepsConcurrentRenewal(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	first := h.subscribe(t, "0733000222")
	_, err := h.svc.ConfirmPayment(ctx, first.Payment.ID, "QAB1", "")
	require.NoError(t, err)
	h.clock.Advance(31 * 24 * time.Hour)

	repo := &interleavingRepo{Repository: h.repo}
	repo.afterList = func() {
		renewal := h.subscribe(t, "0733000222")
		require.Equal(t, first.Subscription.ID, renewal.Subscription.ID)
		_, err := h.svc.ConfirmPayment(ctx, renewal.Payment.ID, "QAB2", "")
		require.NoError(t, err)
	}
	sweeper := NewService(repo, Config{}, WithClock(h.clock.Now))

	n, err := sweeper.SyncSubscriptionStatuses(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	sub := h.subscription(t, first.Subscription.ID)
	assert.Equal(t, models.SubscriptionActive, sub.Status)
	assert.True(t, sub.CurrentPeriodEnd.Equal(h.clock.Now().AddDate(0, 0, 30)))
	assert.Equal(t, 24, sub.TraysAllocatedTotal)
	assert.Equal(t, 24, sub.TraysRemaining)
}

func TestSyncSubscriptionStatusesSkipsDeletedRow(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	res := h.subscribe(t, "0733000222")
	_, err := h.svc.ConfirmPayment(ctx, res.Payment.ID, "QAB1", "")
	require.NoError(t, err)
	h.clock.Advance(31 * 24 * time.Hour)

	repo := &interleavingRepo{Repository: h.repo}
	repo.afterList = func() {
		require.NoError(t, h.repo.Transaction(ctx, func(r Repository) error {
			sub, err := r.FindSubscription(res.Subscription.ID)
			if err != nil {
				return err
			}
			return r.DeleteSubscription(sub)
		}))
	}
	sweeper := NewService(repo, Config{}, WithClock(h.clock.Now))

	n, err := sweeper.SyncSubscriptionStatuses(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, h.repo.committed().subs)
}

func TestRecordDeliveryNeverGoesBelowZero(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	res := h.subscribe(t, "0712345678")
	_, err := h.svc.ConfirmPayment(ctx, res.Payment.ID, "QAB1", "")
	require.NoError(t, err)

	_, sub, err := h.svc.RecordDelivery(ctx, res.Subscription.ID, DeliveryInput{Status: models.DeliveryDelivered, Notes: "left at gate"})
	require.NoError(t, err)
	assert.Equal(t, 11, sub.TraysRemaining)
	assert.Equal(t, models.DeliveryInProgress, sub.DeliveryStatus)

	for i := 0; i < 11; i++ {
		_, _, err := h.svc.RecordDelivery(ctx, res.Subscription.ID, DeliveryInput{Status: models.DeliveryDelivered})
		require.NoError(t, err)
	}
	stored := h.subscription(t, res.Subscription.ID)
	assert.Equal(t, 0, stored.TraysRemaining)
	assert.Equal(t, models.DeliveryCompleted, stored.DeliveryStatus)

	_, _, err = h.svc.RecordDelivery(ctx, res.Subscription.ID, DeliveryInput{Status: models.DeliveryDelivered})
	assert.ErrorIs(t, err, trays.ErrNoTraysRemaining)
	assert.Equal(t, 0, h.subscription(t, res.Subscription.ID).TraysRemaining)
	assert.Len(t, h.repo.committed().deliveries, 12)
}

func TestRecordDeliveryOnUnpaidSubscription(t *testing.T) {
	h := newHarness(t, Config{})
	res := h.subscribe(t, "0712345678")

	_, _, err := h.svc.RecordDelivery(context.Background(), res.Subscription.ID, DeliveryInput{Status: models.DeliveryDelivered})
	assert.ErrorIs(t, err, trays.ErrNoTraysRemaining)
	assert.Empty(t, h.repo.committed().deliveries)
}

func TestSkippedDeliveryKeepsTrays(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	res := h.subscribe(t, "0712345678")
	_, err := h.svc.ConfirmPayment(ctx, res.Payment.ID, "QAB1", "")
	require.NoError(t, err)

	scheduled := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)
	d, sub, err := h.svc.RecordDelivery(ctx, res.Subscription.ID, DeliveryInput{Status: models.DeliverySkipped, ScheduledDate: &scheduled})
	require.NoError(t, err)
	assert.Equal(t, models.DeliverySkipped, d.Status)
	assert.Equal(t, 12, sub.TraysRemaining)
	assert.True(t, sub.NextDeliveryDate.Equal(time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)))

	_, _, err = h.svc.RecordDelivery(ctx, res.Subscription.ID, DeliveryInput{Status: "Lost"})
	assert.True(t, IsValidationError(err))
}

func TestCancelSubscriptionRevokesAccess(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := audit.WithActor(context.Background(), audit.Actor{Type: models.ActorTypeAdmin, ID: "7", RequestID: "req-9"})
	res := h.subscribe(t, "0712345678")
	_, err := h.svc.ConfirmPayment(ctx, res.Payment.ID, "QAB1", "")
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	sub, err := h.svc.CancelSubscription(ctx, res.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionCancelled, sub.Status)
	assert.Equal(t, models.DeliveryCancelled, sub.DeliveryStatus)
	assert.True(t, sub.CurrentPeriodEnd.Equal(h.clock.Now()))
	assert.Equal(t, models.SubscriptionCancelled, sub.EffectiveStatus(h.clock.Now()))

	_, _, err = h.svc.RecordDelivery(ctx, res.Subscription.ID, DeliveryInput{Status: models.DeliveryDelivered})
	assert.True(t, IsValidationError(err))

	logs, err := h.svc.ListAuditLogs(ctx, "subscriptions", fmt.Sprint(res.Subscription.ID), 0)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	last := logs[len(logs)-1]
	assert.Equal(t, models.AuditActionUpdate, last.Action)
	assert.Equal(t, models.ActorTypeAdmin, last.ActorType)
	assert.Equal(t, "7", last.ActorID)
	assert.Equal(t, "req-9", last.RequestID)
	require.NotNil(t, last.BeforeJSON)
	assert.Contains(t, *last.BeforeJSON, `"status":"Active"`)
	assert.Contains(t, *last.AfterJSON, `"status":"Cancelled"`)
}

func TestDeleteSubscription(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	res := h.subscribe(t, "0712345678")

	deleted, sub, err := h.svc.DeleteSubscription(ctx, res.Subscription.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Equal(t, models.SubscriptionCancelled, sub.Status)
	assert.Len(t, h.repo.committed().subs, 1)

	bare := &models.Subscription{
		PlanID:           h.plan.ID,
		Name:             "No History",
		Phone:            "0799000000",
		PhoneNormalized:  "254799000000",
		Status:           models.SubscriptionPending,
		CurrentPeriodEnd: testNow,
	}
	require.NoError(t, h.repo.Transaction(ctx, func(r Repository) error { return r.SaveSubscription(bare) }))
	deleted, _, err = h.svc.DeleteSubscription(ctx, bare.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Len(t, h.repo.committed().subs, 1)

	_, _, err = h.svc.DeleteSubscription(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEditSubscription(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	a := h.subscribe(t, "0712345678")
	b := h.subscribe(t, "0733000222")

	name := "Jane W. Kamau"
	day := "fri"
	sub, err := h.svc.EditSubscription(ctx, a.Subscription.ID, EditSubscriptionInput{Name: &name, PreferredDeliveryDay: &day})
	require.NoError(t, err)
	assert.Equal(t, "Jane W. Kamau", sub.Name)
	assert.Equal(t, "Friday", sub.PreferredDeliveryDay)

	taken := "+254 733 000 222"
	_, err = h.svc.EditSubscription(ctx, a.Subscription.ID, EditSubscriptionInput{Phone: &taken})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Equal(t, "254712345678", h.subscription(t, a.Subscription.ID).PhoneNormalized)
	assert.Equal(t, "254733000222", h.subscription(t, b.Subscription.ID).PhoneNormalized)

	status := "Teleported"
	_, err = h.svc.EditSubscription(ctx, a.Subscription.ID, EditSubscriptionInput{DeliveryStatus: &status})
	assert.True(t, IsValidationError(err))
}

func TestSTKInitiationFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.SubscriptionStatus
	}{
		{name: "provider error", err: &ProviderError{Code: 1, Message: "Insufficient funds"}, want: models.SubscriptionFailed},
		{name: "cancel code", err: &ProviderError{Code: 1032, Message: "Request cancelled by user"}, want: models.SubscriptionCancelled},
		{name: "network", err: errors.New("dial tcp: connection refused"), want: models.SubscriptionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{Mode: PaymentModeSTK}, WithInitiator(&fakeInitiator{err: tt.err}))
			res, err := h.svc.Subscribe(context.Background(), h.request("0712345678"))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInitiationFailed)
			require.NotNil(t, res)
			assert.Equal(t, tt.want, h.subscription(t, res.Subscription.ID).Status)
			assert.Empty(t, h.repo.committed().payments)
		})
	}
}

func TestSTKInitiationTimeout(t *testing.T) {
	init := &fakeInitiator{block: true}
	h := newHarness(t, Config{Mode: PaymentModeSTK, InitiateTimeout: 20 * time.Millisecond}, WithInitiator(init))

	res, err := h.svc.Subscribe(context.Background(), h.request("0712345678"))
	assert.ErrorIs(t, err, ErrInitiationFailed)
	assert.Equal(t, models.SubscriptionFailed, h.subscription(t, res.Subscription.ID).Status)
	assert.Equal(t, 1, init.calls)
}

func TestSTKSubscribeSendsNormalizedPhone(t *testing.T) {
	init := &fakeInitiator{checkoutID: "ws_CO_ok"}
	h := newHarness(t, Config{Mode: PaymentModeSTK}, WithInitiator(init))
	res := h.subscribe(t, "0712 345 678")

	assert.Equal(t, "254712345678", init.lastPhone)
	assert.Equal(t, 1800.0, init.lastAmount)
	p := h.payment(t, res.Payment.ID)
	assert.Equal(t, models.InstructionChannelSTK, p.InstructionChannel)
	assert.Equal(t, "ws_CO_ok", models.StringValue(p.CheckoutRequestID))
	assert.True(t, strings.HasPrefix(models.StringValue(p.ReferenceID), "NESTGOLD-"))
}

// callbackFirstInitiator delivers the provider's success callback before
// Initiate returns, the way a fast phone confirmation races the HTTP reply.
type callbackFirstInitiator struct {
	svc        *Service
	clock      *testClock
	checkoutID string
	calls      int
}

func (i *callbackFirstInitiator) Initiate(ctx context.Context, phone string, amount float64, referenceID, customerName, description string) (string, error) {
	i.calls++
	if _, err := i.svc.ProcessCallback(ctx, stkCallback(i.checkoutID, 0, "The service request is processed successfully.", "NLJ7RT61SV")); err != nil {
		return "", err
	}
	i.clock.Advance(2 * time.Minute)
	return i.checkoutID, nil
}

func TestSTKCallbackBeforeInitiateReturns(t *testing.T) {
	init := &callbackFirstInitiator{checkoutID: "ws_CO_fast"}
	h := newHarness(t, Config{Mode: PaymentModeSTK}, WithInitiator(init))
	init.svc = h.svc
	init.clock = h.clock
	ctx := context.Background()

	res := h.subscribe(t, "0712345678")
	require.Equal(t, 1, init.calls)
	require.NotNil(t, res.Payment)

	p := h.payment(t, res.Payment.ID)
	assert.Equal(t, models.PaymentCompleted, p.Status)
	require.NotNil(t, p.SubscriptionID)
	assert.Equal(t, res.Subscription.ID, *p.SubscriptionID)
	assert.Equal(t, "ws_CO_fast", models.StringValue(p.CheckoutRequestID))
	assert.Equal(t, "NLJ7RT61SV", p.MpesaReceipt)
	assert.Len(t, h.repo.committed().payments, 1)

	sub := h.subscription(t, res.Subscription.ID)
	assert.Equal(t, models.SubscriptionActive, sub.Status)
	assert.Equal(t, 12, sub.TraysAllocatedTotal)
	assert.Equal(t, 12, sub.TraysRemaining)
	assert.Equal(t, models.DeliveryPending, sub.DeliveryStatus)
	// measured from when the payment was linked, not from when Subscribe began
	assert.True(t, sub.CurrentPeriodEnd.Equal(h.clock.Now().AddDate(0, 0, 30)))
	assert.Equal(t, 1, h.notes.count(NotifyAdminNewSubscription))
	assert.Equal(t, 1, h.notes.count(NotifyCustomerWelcome))

	again, err := h.svc.ProcessCallback(ctx, stkCallback("ws_CO_fast", 0, "The service request is processed successfully.", "NLJ7RT61SV"))
	require.NoError(t, err)
	assert.False(t, again.Transition.Applied)
	sub = h.subscription(t, res.Subscription.ID)
	assert.Equal(t, 12, sub.TraysAllocatedTotal)
	assert.Equal(t, 12, sub.TraysRemaining)
	assert.Equal(t, 1, h.notes.count(NotifyAdminNewSubscription))
	assert.Equal(t, 1, h.notes.count(NotifyCustomerWelcome))
}

func TestSTKWithoutInitiator(t *testing.T) {
	h := newHarness(t, Config{Mode: PaymentModeSTK})
	_, err := h.svc.Subscribe(context.Background(), h.request("0712345678"))
	assert.ErrorIs(t, err, ErrInitiationDisabled)
}

func TestTrackPayment(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	res := h.subscribe(t, "0712345678")
	code := models.StringValue(res.Payment.TrackingCode)
	ref := models.StringValue(res.Payment.ReferenceID)

	tr, err := h.svc.TrackPayment(ctx, strings.ToLower(code))
	require.NoError(t, err)
	assert.Equal(t, res.Payment.ID, tr.Payment.ID)
	assert.False(t, tr.ReceiptAvailable)
	assert.Equal(t, "Awaiting payment", tr.PaymentStatusLabel)
	require.NotNil(t, tr.Instructions)
	assert.Equal(t, ref, tr.Instructions.ReferenceID)
	assert.Equal(t, models.SubscriptionPending, tr.EffectiveStatus)

	tr, err = h.svc.TrackPayment(ctx, strings.ToLower(ref))
	require.NoError(t, err)
	assert.Equal(t, res.Payment.ID, tr.Payment.ID)

	_, err = h.svc.ConfirmPayment(ctx, res.Payment.ID, "QAB1", "")
	require.NoError(t, err)
	tr, err = h.svc.TrackPayment(ctx, code)
	require.NoError(t, err)
	assert.True(t, tr.ReceiptAvailable)
	assert.Nil(t, tr.Instructions)
	assert.Equal(t, "Confirmed", tr.PaymentStatusLabel)
	assert.Equal(t, models.SubscriptionActive, tr.EffectiveStatus)
	require.NotNil(t, tr.Plan)
	assert.Equal(t, "Family Pack", tr.Plan.Name)

	_, err = h.svc.TrackPayment(ctx, "NG-DOESNOTEXIST")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPlanAdministration(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	starter, err := h.svc.CreatePlan(ctx, PlanInput{Name: "Starter", TraysPerWeek: 1, PricePerMonth: 650, IsRecommended: true})
	require.NoError(t, err)
	assert.True(t, starter.IsActive)
	assert.Equal(t, "warning", starter.ButtonColor)

	_, err = h.svc.CreatePlan(ctx, PlanInput{Name: "starter", TraysPerWeek: 2, PricePerMonth: 1200})
	assert.True(t, IsValidationError(err))

	_, err = h.svc.CreatePlan(ctx, PlanInput{Name: "Broken", TraysPerWeek: 0, PricePerMonth: 10})
	assert.True(t, IsValidationError(err))

	family, err := h.svc.UpdatePlan(ctx, h.plan.ID, PlanInput{Name: "Family Pack", TraysPerWeek: 3, PricePerMonth: 1850, IsRecommended: true})
	require.NoError(t, err)
	assert.True(t, family.IsRecommended)
	stored, err := h.svc.GetPlan(ctx, starter.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsRecommended)

	assert.ErrorIs(t, h.svc.DeletePlan(ctx, family.ID), ErrPlanRecommended)
	require.NoError(t, h.svc.DeletePlan(ctx, starter.ID))
	_, err = h.svc.GetPlan(ctx, starter.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	h.subscribe(t, "0712345678")
	inactive := false
	_, err = h.svc.UpdatePlan(ctx, family.ID, PlanInput{Name: "Family Pack", TraysPerWeek: 3, PricePerMonth: 1850, IsActive: &inactive})
	require.NoError(t, err)
	err = h.svc.DeletePlan(ctx, family.ID)
	assert.True(t, IsValidationError(err))

	active, err := h.svc.ListPlans(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestPaymentConfigFeedsInstructions(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	cfg, err := h.svc.GetPaymentConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultMpesaPaybill, cfg.MpesaPaybill)

	_, err = h.svc.UpdatePaymentConfig(ctx, models.PaymentConfig{MpesaPaybill: " "})
	assert.True(t, IsValidationError(err))

	_, err = h.svc.UpdatePaymentConfig(ctx, models.PaymentConfig{
		MpesaPaybill:       "522533",
		MpesaAccountName:   "NestGold Ltd",
		BankName:           "KCB",
		BankAccountName:    "NestGold Ltd",
		BankAccountNumber:  "1100223344",
		InstructionsFooter: "Send the M-Pesa SMS to 0700 000 000.",
	})
	require.NoError(t, err)

	res := h.subscribe(t, "0712345678")
	assert.Equal(t, "522533", res.Instructions.Paybill)
	assert.Equal(t, "NestGold Ltd", res.Instructions.AccountName)
	assert.Contains(t, res.Instructions.Text, "Send the M-Pesa SMS")
}

func TestFeedback(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	_, err := h.svc.SubmitFeedback(ctx, FeedbackInput{Name: "Akinyi", Rating: 6, Comment: "Great eggs"})
	assert.True(t, IsValidationError(err))

	f, err := h.svc.SubmitFeedback(ctx, FeedbackInput{Name: " Akinyi ", Rating: 5, Comment: "Great eggs, always on time"})
	require.NoError(t, err)
	assert.Equal(t, "Akinyi", f.Name)

	list, err := h.svc.ListFeedback(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

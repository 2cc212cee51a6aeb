package billing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nestgold/nestgold/app/models"
	"github.com/stretchr/testify/require"
)

// Wednesday morning.
var testNow = time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []NotificationKind
}

func (n *recordingNotifier) Notify(_ context.Context, _ *models.Subscription, kind NotificationKind, _ *models.Payment) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, kind)
}

func (n *recordingNotifier) count(kind NotificationKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, k := range n.kinds {
		if k == kind {
			c++
		}
	}
	return c
}

type fakeInitiator struct {
	checkoutID string
	err        error
	block      bool
	calls      int
	lastPhone  string
	lastAmount float64
}

func (f *fakeInitiator) Initiate(ctx context.Context, phone string, amount float64, referenceID, customerName, description string) (string, error) {
	f.calls++
	f.lastPhone = phone
	f.lastAmount = amount
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.checkoutID, f.err
}

type harness struct {
	repo  *memoryRepo
	svc   *Service
	clock *testClock
	notes *recordingNotifier
	plan  models.SubscriptionPlan
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	clock := &testClock{t: testNow}
	repo := newMemoryRepo(clock.Now)
	notes := &recordingNotifier{}
	all := append([]Option{WithClock(clock.Now), WithNotifier(notes)}, opts...)
	h := &harness{
		repo:  repo,
		svc:   NewService(repo, cfg, all...),
		clock: clock,
		notes: notes,
	}
	h.plan = h.seedPlan(t, "Family Pack", 3, 1800)
	return h
}

func (h *harness) seedPlan(t *testing.T, name string, traysPerWeek int, price float64) models.SubscriptionPlan {
	t.Helper()
	p := &models.SubscriptionPlan{Name: name, TraysPerWeek: traysPerWeek, PricePerMonth: price, IsActive: true}
	require.NoError(t, h.repo.Transaction(context.Background(), func(r Repository) error {
		return r.SavePlan(p)
	}))
	return *p
}

func (h *harness) request(phone string) SubscribeRequest {
	return SubscribeRequest{
		PlanID:               h.plan.ID,
		Name:                 "Jane Wanjiku",
		Phone:                phone,
		Location:             "Kilimani, Nairobi",
		PreferredDeliveryDay: "Saturday",
	}
}

func (h *harness) subscribe(t *testing.T, phone string) *SubscribeResult {
	t.Helper()
	res, err := h.svc.Subscribe(context.Background(), h.request(phone))
	require.NoError(t, err)
	require.NotNil(t, res.Subscription)
	return res
}

func (h *harness) subscription(t *testing.T, id uint) models.Subscription {
	t.Helper()
	sub, ok := h.repo.committed().subs[id]
	require.True(t, ok, "subscription %d not found", id)
	return sub
}

func (h *harness) payment(t *testing.T, id uint) models.Payment {
	t.Helper()
	p, ok := h.repo.committed().payments[id]
	require.True(t, ok, "payment %d not found", id)
	return p
}

func stkCallback(checkoutID string, code int, desc, receipt string) []byte {
	meta := ""
	if code == 0 {
		meta = fmt.Sprintf(`,"CallbackMetadata":{"Item":[`+
			`{"Name":"Amount","Value":1800.00},`+
			`{"Name":"MpesaReceiptNumber","Value":%q},`+
			`{"Name":"Balance"},`+
			`{"Name":"TransactionDate","Value":20260304101500},`+
			`{"Name":"PhoneNumber","Value":254712345678}]}`, receipt)
	}
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{"MerchantRequestID":"29115-34620561-1",`+
		`"CheckoutRequestID":%q,"ResultCode":%d,"ResultDesc":%q%s}}}`, checkoutID, code, desc, meta))
}

// committed returns the current committed state.
func (r *memoryRepo) committed() *memoryStore {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.root.Load()
}

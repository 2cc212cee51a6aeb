package billing

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/nestgold/nestgold/app/models"
	"github.com/nestgold/nestgold/internal/pkg/audit"
	"gorm.io/gorm"
)

// memoryStore is an in-memory database. Rows are stored by value so callers
// only change state through Save*, like with a real DB.
type memoryStore struct {
	nextID     uint
	plans      map[uint]models.SubscriptionPlan
	subs       map[uint]models.Subscription
	payments   map[uint]models.Payment
	deliveries map[uint]models.Delivery
	feedback   map[uint]models.Feedback
	config     *models.PaymentConfig
	events     map[uint]models.PaymentEvent
	audits     []models.AuditLog
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		plans:      map[uint]models.SubscriptionPlan{},
		subs:       map[uint]models.Subscription{},
		payments:   map[uint]models.Payment{},
		deliveries: map[uint]models.Delivery{},
		feedback:   map[uint]models.Feedback{},
		events:     map[uint]models.PaymentEvent{},
	}
}

func (s *memoryStore) clone() *memoryStore {
	c := &memoryStore{
		nextID:     s.nextID,
		plans:      make(map[uint]models.SubscriptionPlan, len(s.plans)),
		subs:       make(map[uint]models.Subscription, len(s.subs)),
		payments:   make(map[uint]models.Payment, len(s.payments)),
		deliveries: make(map[uint]models.Delivery, len(s.deliveries)),
		feedback:   make(map[uint]models.Feedback, len(s.feedback)),
		events:     make(map[uint]models.PaymentEvent, len(s.events)),
		audits:     append([]models.AuditLog(nil), s.audits...),
	}
	for k, v := range s.plans {
		c.plans[k] = v
	}
	for k, v := range s.subs {
		c.subs[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.deliveries {
		c.deliveries[k] = v
	}
	for k, v := range s.feedback {
		c.feedback[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	if s.config != nil {
		cfg := *s.config
		c.config = &cfg
	}
	return c
}

func (s *memoryStore) id() uint {
	s.nextID++
	return s.nextID
}

// memoryHooks inject failures shared by every view of one store.
type memoryHooks struct {
	// conflictSubscriptionInserts makes the next N new-subscription saves fail
	// with a unique violation.
	conflictSubscriptionInserts int
	// afterConflict runs on the committed store once the failed transaction
	// has rolled back, e.g. to simulate a concurrent insert winning the race.
	afterConflict func(st *memoryStore)
	transactions  int
}

type memoryRepo struct {
	mu *sync.Mutex
	// root holds the committed store; commits swap it whole.
	root *atomic.Pointer[memoryStore]
	// st is the transaction copy; nil outside Transaction.
	st    *memoryStore
	hooks *memoryHooks
	actor audit.Actor
	now   func() time.Time
}

// NewMemoryRepository returns a Repository kept in process memory. It backs
// DB_DRIVER=memory for local runs and demos; nothing survives a restart.
func NewMemoryRepository() Repository {
	return newMemoryRepo(time.Now)
}

func newMemoryRepo(now func() time.Time) *memoryRepo {
	root := &atomic.Pointer[memoryStore]{}
	root.Store(newMemoryStore())
	return &memoryRepo{
		mu:    &sync.Mutex{},
		root:  root,
		hooks: &memoryHooks{},
		actor: audit.SystemActor,
		now:   now,
	}
}

func (r *memoryRepo) Transaction(ctx context.Context, fn func(repo Repository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks.transactions++

	work := r.root.Load().clone()
	tx := &memoryRepo{mu: r.mu, root: r.root, st: work, hooks: r.hooks, actor: audit.ActorFromContext(ctx), now: r.now}
	if err := fn(tx); err != nil {
		if r.hooks.afterConflict != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
			hook := r.hooks.afterConflict
			r.hooks.afterConflict = nil
			hook(r.root.Load())
		}
		return err
	}
	r.root.Store(work)
	return nil
}

// view is the store reads and writes go to: the transaction copy inside
// Transaction, the committed store otherwise.
func (r *memoryRepo) view() *memoryStore {
	if r.st != nil {
		return r.st
	}
	return r.root.Load()
}

func (r *memoryRepo) audit(row audit.Tracked, action string, before, after any) {
	entry, err := audit.NewEntry(row, action, before, after, r.actor, r.now())
	if err != nil {
		log.Errorf("[Billing] audit snapshot for %s failed: %v", action, err)
		return
	}
	st := r.view()
	entry.ID = st.id()
	st.audits = append(st.audits, *entry)
}

func (r *memoryRepo) ListPlans(activeOnly bool) ([]models.SubscriptionPlan, error) {
	var out []models.SubscriptionPlan
	for _, p := range r.view().plans {
		if activeOnly && !p.IsActive {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) FindPlan(id uint) (*models.SubscriptionPlan, error) {
	p, ok := r.view().plans[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &p, nil
}

func (r *memoryRepo) FindPlanByName(name string) (*models.SubscriptionPlan, error) {
	for _, p := range r.view().plans {
		if strings.EqualFold(p.Name, name) {
			p := p
			return &p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memoryRepo) SavePlan(plan *models.SubscriptionPlan) error {
	st := r.view()
	for id, p := range st.plans {
		if id != plan.ID && p.Name == plan.Name {
			return gorm.ErrDuplicatedKey
		}
	}
	before, existed := st.plans[plan.ID]
	if plan.ID == 0 {
		plan.ID = st.id()
	}
	st.plans[plan.ID] = *plan
	if existed {
		r.audit(plan, models.AuditActionUpdate, &before, plan)
	} else {
		r.audit(plan, models.AuditActionInsert, nil, plan)
	}
	return nil
}

func (r *memoryRepo) DeletePlan(plan *models.SubscriptionPlan) error {
	st := r.view()
	before := st.plans[plan.ID]
	delete(st.plans, plan.ID)
	r.audit(plan, models.AuditActionDelete, &before, nil)
	return nil
}

func (r *memoryRepo) CountSubscriptionsForPlan(planID uint) (int64, error) {
	var n int64
	for _, s := range r.view().subs {
		if s.PlanID == planID {
			n++
		}
	}
	return n, nil
}

func (r *memoryRepo) FindSubscription(id uint) (*models.Subscription, error) {
	s, ok := r.view().subs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &s, nil
}

func (r *memoryRepo) FindSubscriptionByPlanPhone(planID uint, phoneNormalized string) (*models.Subscription, error) {
	for _, s := range r.view().subs {
		if s.PlanID == planID && s.PhoneNormalized == phoneNormalized {
			s := s
			return &s, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memoryRepo) FindSubscriptionByCheckoutID(checkoutRequestID string) (*models.Subscription, error) {
	var found *models.Subscription
	for _, s := range r.view().subs {
		if s.CheckoutRequestID == checkoutRequestID && (found == nil || s.ID > found.ID) {
			s := s
			found = &s
		}
	}
	if found == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return found, nil
}

func (r *memoryRepo) ListSubscriptions(f SubscriptionFilter) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, s := range r.view().subs {
		if f.Status != "" && string(s.Status) != f.Status {
			continue
		}
		if f.PlanID != 0 && s.PlanID != f.PlanID {
			continue
		}
		if f.Phone != "" && s.PhoneNormalized != f.Phone {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) AllSubscriptions() ([]models.Subscription, error) {
	return r.ListSubscriptions(SubscriptionFilter{})
}

func (r *memoryRepo) SaveSubscription(sub *models.Subscription) error {
	st := r.view()
	if sub.ID == 0 && r.hooks.conflictSubscriptionInserts > 0 {
		r.hooks.conflictSubscriptionInserts--
		return gorm.ErrDuplicatedKey
	}
	for id, s := range st.subs {
		if id != sub.ID && s.PlanID == sub.PlanID && s.PhoneNormalized == sub.PhoneNormalized {
			return gorm.ErrDuplicatedKey
		}
	}
	row := *sub
	row.Plan = nil
	before, existed := st.subs[sub.ID]
	if sub.ID == 0 {
		sub.ID = st.id()
		row.ID = sub.ID
		row.CreatedAt = r.now()
	}
	row.UpdatedAt = r.now()
	st.subs[sub.ID] = row
	if existed {
		r.audit(sub, models.AuditActionUpdate, &before, &row)
	} else {
		r.audit(sub, models.AuditActionInsert, nil, &row)
	}
	return nil
}

func (r *memoryRepo) DeleteSubscription(sub *models.Subscription) error {
	st := r.view()
	before := st.subs[sub.ID]
	delete(st.subs, sub.ID)
	r.audit(sub, models.AuditActionDelete, &before, nil)
	return nil
}

func (r *memoryRepo) FindPayment(id uint) (*models.Payment, error) {
	p, ok := r.view().payments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &p, nil
}

func (r *memoryRepo) findPaymentBy(match func(p models.Payment) bool) (*models.Payment, error) {
	for _, p := range r.view().payments {
		if match(p) {
			p := p
			return &p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memoryRepo) FindPaymentByCheckoutID(checkoutRequestID string) (*models.Payment, error) {
	return r.findPaymentBy(func(p models.Payment) bool { return models.StringValue(p.CheckoutRequestID) == checkoutRequestID })
}

func (r *memoryRepo) FindPaymentByTrackingCode(code string) (*models.Payment, error) {
	return r.findPaymentBy(func(p models.Payment) bool { return models.StringValue(p.TrackingCode) == code })
}

func (r *memoryRepo) FindPaymentByReference(referenceID string) (*models.Payment, error) {
	return r.findPaymentBy(func(p models.Payment) bool { return models.StringValue(p.ReferenceID) == referenceID })
}

func (r *memoryRepo) ListPayments(f PaymentFilter) ([]models.Payment, error) {
	var out []models.Payment
	for _, p := range r.view().payments {
		if f.Status != "" && string(p.Status) != f.Status {
			continue
		}
		if f.PaymentStatus != "" && string(p.PaymentStatus) != f.PaymentStatus {
			continue
		}
		if f.SubscriptionID != 0 && (p.SubscriptionID == nil || *p.SubscriptionID != f.SubscriptionID) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) ListPaymentsBySubscription(subscriptionID uint) ([]models.Payment, error) {
	return r.ListPayments(PaymentFilter{SubscriptionID: subscriptionID})
}

func (r *memoryRepo) PaymentTotals() (int64, float64, error) {
	var pending int64
	var revenue float64
	for _, p := range r.view().payments {
		if p.PaymentStatus == models.ManualPaymentPending && p.Status == models.PaymentPending {
			pending++
		}
		if p.IsSettled() {
			revenue += p.Amount
		}
	}
	return pending, revenue, nil
}

func sameOptional(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

func (r *memoryRepo) SavePayment(p *models.Payment) error {
	st := r.view()
	for id, other := range st.payments {
		if id == p.ID {
			continue
		}
		if sameOptional(other.CheckoutRequestID, p.CheckoutRequestID) ||
			sameOptional(other.TrackingCode, p.TrackingCode) ||
			sameOptional(other.ReferenceID, p.ReferenceID) {
			return gorm.ErrDuplicatedKey
		}
	}
	row := *p
	row.Subscription = nil
	before, existed := st.payments[p.ID]
	if p.ID == 0 {
		p.ID = st.id()
		row.ID = p.ID
		row.CreatedAt = r.now()
	}
	st.payments[p.ID] = row
	if existed {
		r.audit(p, models.AuditActionUpdate, &before, &row)
	} else {
		r.audit(p, models.AuditActionInsert, nil, &row)
	}
	return nil
}

func (r *memoryRepo) DeletePayment(p *models.Payment) error {
	st := r.view()
	before := st.payments[p.ID]
	delete(st.payments, p.ID)
	r.audit(p, models.AuditActionDelete, &before, nil)
	return nil
}

func (r *memoryRepo) CreateDelivery(d *models.Delivery) error {
	st := r.view()
	d.ID = st.id()
	d.CreatedAt = r.now()
	st.deliveries[d.ID] = *d
	r.audit(d, models.AuditActionInsert, nil, d)
	return nil
}

func (r *memoryRepo) ListDeliveries(subscriptionID uint) ([]models.Delivery, error) {
	var out []models.Delivery
	for _, d := range r.view().deliveries {
		if d.SubscriptionID == subscriptionID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *memoryRepo) CountDeliveries(subscriptionID uint) (int64, error) {
	ds, _ := r.ListDeliveries(subscriptionID)
	return int64(len(ds)), nil
}

func (r *memoryRepo) CreateFeedback(f *models.Feedback) error {
	st := r.view()
	f.ID = st.id()
	st.feedback[f.ID] = *f
	r.audit(f, models.AuditActionInsert, nil, f)
	return nil
}

func (r *memoryRepo) ListFeedback(limit int) ([]models.Feedback, error) {
	var out []models.Feedback
	for _, f := range r.view().feedback {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) GetPaymentConfig() (*models.PaymentConfig, error) {
	st := r.view()
	if st.config == nil {
		return nil, gorm.ErrRecordNotFound
	}
	c := *st.config
	return &c, nil
}

func (r *memoryRepo) SavePaymentConfig(c *models.PaymentConfig) error {
	st := r.view()
	if c.ID == 0 {
		c.ID = st.id()
	}
	row := *c
	st.config = &row
	r.audit(c, models.AuditActionUpdate, nil, c)
	return nil
}

func (r *memoryRepo) CreatePaymentEventIfNotExists(event *models.PaymentEvent) (bool, *models.PaymentEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.root.Load()
	for id, e := range st.events {
		if e.Provider == event.Provider && e.ProviderEventID == event.ProviderEventID {
			e.Deliveries++
			st.events[id] = e
			return false, &e, nil
		}
	}
	event.ID = st.id()
	st.events[event.ID] = *event
	stored := *event
	return true, &stored, nil
}

func (r *memoryRepo) MarkPaymentEventProcessed(id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.root.Load()
	e, ok := st.events[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	now := r.now()
	e.ProcessedAt = &now
	e.ProcessingError = processingError
	st.events[id] = e
	return nil
}

func (r *memoryRepo) ListAuditLogs(table, rowPK string, limit int) ([]models.AuditLog, error) {
	var out []models.AuditLog
	for _, a := range r.view().audits {
		if table != "" && a.Table != table {
			continue
		}
		if rowPK != "" && a.RowPK != rowPK {
			continue
		}
		out = append(out, a)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

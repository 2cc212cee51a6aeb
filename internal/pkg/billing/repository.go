package billing

import (
	"context"
	"strings"
	"time"

	"github.com/nestgold/nestgold/app/models"
	"github.com/nestgold/nestgold/internal/pkg/audit"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service. Writes on
// tracked models are audited. Lookups done inside Transaction lock the rows
// they return.
type Repository interface {
	Transaction(ctx context.Context, fn func(repo Repository) error) error

	ListPlans(activeOnly bool) ([]models.SubscriptionPlan, error)
	FindPlan(id uint) (*models.SubscriptionPlan, error)
	FindPlanByName(name string) (*models.SubscriptionPlan, error)
	SavePlan(plan *models.SubscriptionPlan) error
	DeletePlan(plan *models.SubscriptionPlan) error
	CountSubscriptionsForPlan(planID uint) (int64, error)

	FindSubscription(id uint) (*models.Subscription, error)
	FindSubscriptionByPlanPhone(planID uint, phoneNormalized string) (*models.Subscription, error)
	FindSubscriptionByCheckoutID(checkoutRequestID string) (*models.Subscription, error)
	ListSubscriptions(f SubscriptionFilter) ([]models.Subscription, error)
	AllSubscriptions() ([]models.Subscription, error)
	SaveSubscription(sub *models.Subscription) error
	DeleteSubscription(sub *models.Subscription) error

	FindPayment(id uint) (*models.Payment, error)
	FindPaymentByCheckoutID(checkoutRequestID string) (*models.Payment, error)
	FindPaymentByTrackingCode(code string) (*models.Payment, error)
	FindPaymentByReference(referenceID string) (*models.Payment, error)
	ListPayments(f PaymentFilter) ([]models.Payment, error)
	ListPaymentsBySubscription(subscriptionID uint) ([]models.Payment, error)
	PaymentTotals() (pendingManual int64, confirmedRevenue float64, err error)
	SavePayment(p *models.Payment) error
	DeletePayment(p *models.Payment) error

	CreateDelivery(d *models.Delivery) error
	ListDeliveries(subscriptionID uint) ([]models.Delivery, error)
	CountDeliveries(subscriptionID uint) (int64, error)

	CreateFeedback(f *models.Feedback) error
	ListFeedback(limit int) ([]models.Feedback, error)

	GetPaymentConfig() (*models.PaymentConfig, error)
	SavePaymentConfig(c *models.PaymentConfig) error

	CreatePaymentEventIfNotExists(event *models.PaymentEvent) (bool, *models.PaymentEvent, error)
	MarkPaymentEventProcessed(id uint, processingError string) error

	ListAuditLogs(table, rowPK string, limit int) ([]models.AuditLog, error)
}

type gormRepository struct {
	db   *gorm.DB
	rec  *audit.Recorder
	inTx bool
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db, rec: audit.NewRecorder(db, audit.SystemActor)}
}

func (r *gormRepository) Transaction(ctx context.Context, fn func(repo Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{
			db:   tx,
			rec:  audit.NewRecorder(tx, audit.ActorFromContext(ctx)),
			inTx: true,
		})
	})
}

// locked adds FOR UPDATE when running inside a transaction.
func (r *gormRepository) locked() *gorm.DB {
	if r.inTx {
		return r.db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.db
}

func pageOf(db *gorm.DB, limit, offset int) *gorm.DB {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return db.Limit(limit).Offset(offset)
}

func (r *gormRepository) ListPlans(activeOnly bool) ([]models.SubscriptionPlan, error) {
	var plans []models.SubscriptionPlan
	q := r.db.Order("price_per_month ASC, id ASC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	err := q.Find(&plans).Error
	return plans, err
}

func (r *gormRepository) FindPlan(id uint) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	if err := r.db.First(&plan, id).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *gormRepository) FindPlanByName(name string) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	if err := r.db.Where("LOWER(name) = ?", strings.ToLower(name)).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *gormRepository) SavePlan(plan *models.SubscriptionPlan) error {
	return r.rec.Save(plan)
}

func (r *gormRepository) DeletePlan(plan *models.SubscriptionPlan) error {
	return r.rec.Delete(plan)
}

func (r *gormRepository) CountSubscriptionsForPlan(planID uint) (int64, error) {
	var n int64
	err := r.db.Model(&models.Subscription{}).Where("plan_id = ?", planID).Count(&n).Error
	return n, err
}

func (r *gormRepository) FindSubscription(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.locked().First(&sub, id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) FindSubscriptionByPlanPhone(planID uint, phoneNormalized string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.locked().
		Where("plan_id = ? AND phone_normalized = ?", planID, phoneNormalized).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) FindSubscriptionByCheckoutID(checkoutRequestID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.locked().
		Where("checkout_request_id = ?", checkoutRequestID).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) ListSubscriptions(f SubscriptionFilter) ([]models.Subscription, error) {
	var subs []models.Subscription
	q := r.db.Preload("Plan").Order("created_at DESC, id DESC")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.PlanID != 0 {
		q = q.Where("plan_id = ?", f.PlanID)
	}
	if f.Phone != "" {
		q = q.Where("phone_normalized = ?", f.Phone)
	}
	err := pageOf(q, f.Limit, f.Offset).Find(&subs).Error
	return subs, err
}

func (r *gormRepository) AllSubscriptions() ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Order("id ASC").Find(&subs).Error
	return subs, err
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	return r.rec.Save(sub)
}

func (r *gormRepository) DeleteSubscription(sub *models.Subscription) error {
	return r.rec.Delete(sub)
}

func (r *gormRepository) FindPayment(id uint) (*models.Payment, error) {
	var p models.Payment
	if err := r.locked().First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) findPaymentBy(column, value string) (*models.Payment, error) {
	var p models.Payment
	if err := r.locked().Where(column+" = ?", value).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) FindPaymentByCheckoutID(checkoutRequestID string) (*models.Payment, error) {
	return r.findPaymentBy("checkout_request_id", checkoutRequestID)
}

func (r *gormRepository) FindPaymentByTrackingCode(code string) (*models.Payment, error) {
	return r.findPaymentBy("tracking_code", code)
}

func (r *gormRepository) FindPaymentByReference(referenceID string) (*models.Payment, error) {
	return r.findPaymentBy("reference_id", referenceID)
}

func (r *gormRepository) ListPayments(f PaymentFilter) ([]models.Payment, error) {
	var payments []models.Payment
	q := r.db.Order("created_at DESC, id DESC")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.PaymentStatus != "" {
		q = q.Where("payment_status = ?", f.PaymentStatus)
	}
	if f.SubscriptionID != 0 {
		q = q.Where("subscription_id = ?", f.SubscriptionID)
	}
	err := pageOf(q, f.Limit, f.Offset).Find(&payments).Error
	return payments, err
}

func (r *gormRepository) ListPaymentsBySubscription(subscriptionID uint) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.Where("subscription_id = ?", subscriptionID).Order("id ASC").Find(&payments).Error
	return payments, err
}

func (r *gormRepository) PaymentTotals() (int64, float64, error) {
	var pending int64
	if err := r.db.Model(&models.Payment{}).
		Where("payment_status = ? AND status = ?", models.ManualPaymentPending, models.PaymentPending).
		Count(&pending).Error; err != nil {
		return 0, 0, err
	}
	var revenue struct{ Total float64 }
	if err := r.db.Model(&models.Payment{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("payment_status = ? OR status = ?", models.ManualPaymentConfirmed, models.PaymentCompleted).
		Scan(&revenue).Error; err != nil {
		return 0, 0, err
	}
	return pending, revenue.Total, nil
}

func (r *gormRepository) SavePayment(p *models.Payment) error {
	return r.rec.Save(p)
}

func (r *gormRepository) DeletePayment(p *models.Payment) error {
	return r.rec.Delete(p)
}

func (r *gormRepository) CreateDelivery(d *models.Delivery) error {
	return r.rec.Create(d)
}

func (r *gormRepository) ListDeliveries(subscriptionID uint) ([]models.Delivery, error) {
	var deliveries []models.Delivery
	err := r.db.Where("subscription_id = ?", subscriptionID).
		Order("scheduled_date DESC, id DESC").
		Find(&deliveries).Error
	return deliveries, err
}

func (r *gormRepository) CountDeliveries(subscriptionID uint) (int64, error) {
	var n int64
	err := r.db.Model(&models.Delivery{}).Where("subscription_id = ?", subscriptionID).Count(&n).Error
	return n, err
}

func (r *gormRepository) CreateFeedback(f *models.Feedback) error {
	return r.rec.Create(f)
}

func (r *gormRepository) ListFeedback(limit int) ([]models.Feedback, error) {
	var out []models.Feedback
	err := pageOf(r.db.Order("created_at DESC, id DESC"), limit, 0).Find(&out).Error
	return out, err
}

func (r *gormRepository) GetPaymentConfig() (*models.PaymentConfig, error) {
	var c models.PaymentConfig
	if err := r.db.Order("id ASC").First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) SavePaymentConfig(c *models.PaymentConfig) error {
	return r.rec.Save(c)
}

func (r *gormRepository) CreatePaymentEventIfNotExists(event *models.PaymentEvent) (bool, *models.PaymentEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	if !created {
		if err := r.db.Model(&models.PaymentEvent{}).
			Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
			UpdateColumn("deliveries", gorm.Expr("deliveries + 1")).Error; err != nil {
			return false, nil, err
		}
	}

	var stored models.PaymentEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkPaymentEventProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.PaymentEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) ListAuditLogs(table, rowPK string, limit int) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	q := r.db.Order("changed_at DESC, id DESC")
	if table != "" {
		q = q.Where("table_name = ?", table)
	}
	if rowPK != "" {
		q = q.Where("row_pk = ?", rowPK)
	}
	err := pageOf(q, limit, 0).Find(&logs).Error
	return logs, err
}

package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/nestgold/nestgold/app/models"
	"github.com/nestgold/nestgold/internal/pkg/metrics"
	"gorm.io/gorm"
)

var validate = validator.New()

// Service runs the subscription lifecycle and payment reconciliation. Every
// multi-step mutation happens inside one repository transaction.
type Service struct {
	repo       Repository
	cfg        Config
	classifier models.FailureClassifier
	initiator  PaymentInitiator
	notifier   Notifier
	now        func() time.Time
	newCode    func() string
}

type Option func(*Service)

// WithInitiator enables automated payment pushes.
func WithInitiator(i PaymentInitiator) Option {
	return func(s *Service) { s.initiator = i }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository, cfg Config, opts ...Option) *Service {
	if cfg.Mode == "" {
		cfg.Mode = PaymentModeManual
	}
	if cfg.InitiateTimeout <= 0 {
		cfg.InitiateTimeout = defaultInitiateTimeout
	}
	if len(cfg.CancelCodes) == 0 {
		cfg.CancelCodes = models.DefaultCancellationCodes
	}
	s := &Service{
		repo:       repo,
		cfg:        cfg,
		classifier: models.NewFailureClassifier(cfg.CancelCodes...),
		notifier:   noopNotifier{},
		now:        time.Now,
		newCode:    NewTrackingCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Mode() PaymentMode {
	return s.cfg.Mode
}

// NewTrackingCode returns a short customer-facing code such as NG-3F9A01BC.
func NewTrackingCode() string {
	return "NG-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// withConflictRetry reruns fn when it fails on a unique constraint. fn must
// be a complete read-modify-write transaction.
func (s *Service) withConflictRetry(op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxConflictAttempts; attempt++ {
		err = fn()
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
		metrics.ConflictRetriesTotal.WithLabelValues(op).Inc()
		log.Warnf("[Billing] %s hit a unique constraint (attempt %d/%d)", op, attempt, maxConflictAttempts)
	}
	return fmt.Errorf("%s: giving up after %d conflicting attempts: %w", op, maxConflictAttempts, err)
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

func validationFrom(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Message: err.Error()}
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min", "max", "gt", "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param()))
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return &ValidationError{Message: strings.Join(msgs, "; ")}
}

// loadLinked fetches the subscription and plan a payment belongs to. Both are
// nil for orphan payments.
func loadLinked(repo Repository, p *models.Payment) (*models.Subscription, *models.SubscriptionPlan, error) {
	if p.SubscriptionID == nil {
		return nil, nil, nil
	}
	sub, err := repo.FindSubscription(*p.SubscriptionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	plan, err := repo.FindPlan(sub.PlanID)
	if err != nil {
		return nil, nil, fmt.Errorf("load plan %d: %w", sub.PlanID, err)
	}
	return sub, plan, nil
}

// paymentConfig returns the stored config or the defaults.
func paymentConfig(repo Repository) (*models.PaymentConfig, error) {
	cfg, err := repo.GetPaymentConfig()
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.DefaultPaymentConfig(), nil
	}
	return cfg, err
}

func (s *Service) notifyPaid(ctx context.Context, out *ReconcileOutcome) {
	if out == nil || !out.Transition.Applied || out.Subscription == nil {
		return
	}
	s.notifier.Notify(ctx, out.Subscription, NotifyAdminNewSubscription, out.Payment)
	s.notifier.Notify(ctx, out.Subscription, NotifyCustomerWelcome, out.Payment)
}

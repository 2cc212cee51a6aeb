package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/nestgold/nestgold/app/models"
	"gorm.io/gorm"
)

func (s *Service) ListPlans(ctx context.Context, activeOnly bool) ([]models.SubscriptionPlan, error) {
	_ = ctx
	return s.repo.ListPlans(activeOnly)
}

func (s *Service) GetPlan(ctx context.Context, id uint) (*models.SubscriptionPlan, error) {
	_ = ctx
	plan, err := s.repo.FindPlan(id)
	if err != nil {
		return nil, notFound(err, "plan")
	}
	return plan, nil
}

// CreatePlan adds a plan. Names are unique ignoring case.
func (s *Service) CreatePlan(ctx context.Context, in PlanInput) (*models.SubscriptionPlan, error) {
	return s.savePlan(ctx, 0, in)
}

func (s *Service) UpdatePlan(ctx context.Context, id uint, in PlanInput) (*models.SubscriptionPlan, error) {
	return s.savePlan(ctx, id, in)
}

func (s *Service) savePlan(ctx context.Context, id uint, in PlanInput) (*models.SubscriptionPlan, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if err := validate.Struct(in); err != nil {
		return nil, validationFrom(err)
	}

	var plan *models.SubscriptionPlan
	err := s.repo.Transaction(ctx, func(repo Repository) error {
		if id == 0 {
			plan = &models.SubscriptionPlan{IsActive: true, ButtonColor: "warning"}
		} else {
			var err error
			if plan, err = repo.FindPlan(id); err != nil {
				return notFound(err, "plan")
			}
		}

		existing, err := repo.FindPlanByName(in.Name)
		if err == nil && existing.ID != plan.ID {
			return validationErrorf("a plan named %q already exists", in.Name)
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		plan.Name = in.Name
		plan.TraysPerWeek = in.TraysPerWeek
		plan.PricePerMonth = in.PricePerMonth
		plan.Description = in.Description
		plan.IsRecommended = in.IsRecommended
		if in.IsActive != nil {
			plan.IsActive = *in.IsActive
		}
		if in.ButtonColor != "" {
			plan.ButtonColor = in.ButtonColor
		}
		if err := plan.Validate(); err != nil {
			return validationFrom(err)
		}

		if err := repo.SavePlan(plan); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return validationErrorf("a plan named %q already exists", in.Name)
			}
			return err
		}
		if plan.IsRecommended {
			return clearOtherRecommended(repo, plan.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func clearOtherRecommended(repo Repository, keepID uint) error {
	plans, err := repo.ListPlans(false)
	if err != nil {
		return err
	}
	for i := range plans {
		p := &plans[i]
		if p.ID == keepID || !p.IsRecommended {
			continue
		}
		p.IsRecommended = false
		if err := repo.SavePlan(p); err != nil {
			return err
		}
	}
	return nil
}

// DeletePlan removes a plan that is neither recommended nor in use.
func (s *Service) DeletePlan(ctx context.Context, id uint) error {
	err := s.repo.Transaction(ctx, func(repo Repository) error {
		plan, err := repo.FindPlan(id)
		if err != nil {
			return notFound(err, "plan")
		}
		if plan.IsRecommended {
			return ErrPlanRecommended
		}
		n, err := repo.CountSubscriptionsForPlan(plan.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			return validationErrorf("plan %q has %d subscriptions; deactivate it instead", plan.Name, n)
		}
		return repo.DeletePlan(plan)
	})
	if err == nil {
		log.Infof("[Billing] plan %d deleted", id)
	}
	return err
}

func (s *Service) SubmitFeedback(ctx context.Context, in FeedbackInput) (*models.Feedback, error) {
	f := &models.Feedback{
		Name:    strings.TrimSpace(in.Name),
		Rating:  in.Rating,
		Comment: strings.TrimSpace(in.Comment),
	}
	if err := f.Validate(); err != nil {
		return nil, validationFrom(err)
	}
	err := s.repo.Transaction(ctx, func(repo Repository) error {
		return repo.CreateFeedback(f)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Service) ListFeedback(ctx context.Context, limit int) ([]models.Feedback, error) {
	_ = ctx
	return s.repo.ListFeedback(limit)
}

// GetPaymentConfig returns the stored manual payment details, or defaults.
func (s *Service) GetPaymentConfig(ctx context.Context) (*models.PaymentConfig, error) {
	_ = ctx
	return paymentConfig(s.repo)
}

// UpdatePaymentConfig writes the single payment config row.
func (s *Service) UpdatePaymentConfig(ctx context.Context, in models.PaymentConfig) (*models.PaymentConfig, error) {
	trim := func(v *string) { *v = strings.TrimSpace(*v) }
	for _, v := range []*string{
		&in.MpesaPaybill, &in.MpesaAccountName, &in.MpesaAccountNumber,
		&in.BankName, &in.BankAccountName, &in.BankAccountNumber, &in.InstructionsFooter,
	} {
		trim(v)
	}
	if err := validate.Struct(in); err != nil {
		return nil, validationFrom(err)
	}

	var cfg *models.PaymentConfig
	err := s.repo.Transaction(ctx, func(repo Repository) error {
		stored, err := repo.GetPaymentConfig()
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			stored = &models.PaymentConfig{}
		case err != nil:
			return err
		}
		in.ID = stored.ID
		cfg = &in
		return repo.SavePaymentConfig(cfg)
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

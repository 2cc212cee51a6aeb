package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// WeeksPerBillingCycle converts trays per week into a monthly allocation.
const WeeksPerBillingCycle = 4

type SubscriptionPlan struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Name          string    `gorm:"type:varchar(100);not null;uniqueIndex" json:"name" validate:"required,min=2,max=100"`
	TraysPerWeek  int       `gorm:"not null" json:"trays_per_week" validate:"required,min=1,max=100"`
	PricePerMonth float64   `gorm:"not null" json:"price_per_month" validate:"required,gt=0"`
	Description   string    `gorm:"type:text" json:"description" validate:"max=2000"`
	IsActive      bool      `gorm:"not null;default:true" json:"is_active"`
	IsRecommended bool      `gorm:"not null;default:false" json:"is_recommended"`
	ButtonColor   string    `gorm:"type:varchar(20);default:'warning'" json:"button_color" validate:"omitempty,oneof=primary secondary success danger warning info light dark"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SubscriptionPlan) TableName() string { return "subscription_plans" }

func (p *SubscriptionPlan) AuditKey() uint { return p.ID }

func (p *SubscriptionPlan) Validate() error {
	v := validator.New()
	return v.Struct(p)
}

// MonthlyTrays is the number of trays one paid period buys.
func (p *SubscriptionPlan) MonthlyTrays() int {
	if p == nil || p.TraysPerWeek < 0 {
		return 0
	}
	return p.TraysPerWeek * WeeksPerBillingCycle
}

package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

type Feedback struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name" validate:"required,min=2,max=100"`
	Rating    int       `gorm:"not null" json:"rating" validate:"required,min=1,max=5"`
	Comment   string    `gorm:"type:text;not null" json:"comment" validate:"required,min=3,max=2000"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Feedback) TableName() string { return "feedback" }

func (f *Feedback) AuditKey() uint { return f.ID }

func (f *Feedback) Validate() error {
	v := validator.New()
	return v.Struct(f)
}

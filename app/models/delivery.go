package models

import "time"

// DeliveryRecordStatus is the status of a single delivery log row.
type DeliveryRecordStatus string

const (
	DeliveryScheduled       DeliveryRecordStatus = "Scheduled"
	DeliveryDelivered       DeliveryRecordStatus = "Delivered"
	DeliverySkipped         DeliveryRecordStatus = "Skipped"
	DeliveryRecordCancelled DeliveryRecordStatus = "Cancelled"
)

func (s DeliveryRecordStatus) IsValid() bool {
	switch s {
	case DeliveryScheduled, DeliveryDelivered, DeliverySkipped, DeliveryRecordCancelled:
		return true
	}
	return false
}

// Delivery is an append-only log row per delivery event.
type Delivery struct {
	ID             uint                 `gorm:"primaryKey" json:"id"`
	SubscriptionID uint                 `gorm:"not null;index" json:"subscription_id"`
	ScheduledDate  time.Time            `gorm:"type:timestamp;not null" json:"scheduled_date"`
	Status         DeliveryRecordStatus `gorm:"type:varchar(50);not null;default:'Scheduled'" json:"status"`
	Notes          string               `gorm:"type:text" json:"notes"`
	CreatedAt      time.Time            `gorm:"autoCreateTime" json:"created_at"`
}

func (Delivery) TableName() string { return "deliveries" }

func (d *Delivery) AuditKey() uint { return d.ID }

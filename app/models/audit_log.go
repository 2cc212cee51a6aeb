package models

import "time"

const (
	AuditActionInsert = "insert"
	AuditActionUpdate = "update"
	AuditActionDelete = "delete"

	ActorTypeSystem   = "system"
	ActorTypeAdmin    = "admin"
	ActorTypeCustomer = "customer"
	ActorTypeGateway  = "gateway"
)

// AuditLog is an append-only before/after snapshot of a tracked row.
type AuditLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Table      string    `gorm:"column:table_name;type:varchar(100);not null;index" json:"table_name"`
	RowPK      string    `gorm:"column:row_pk;type:varchar(100);index" json:"row_pk"`
	Action     string    `gorm:"type:varchar(20);not null" json:"action"`
	ChangedAt  time.Time `gorm:"type:timestamp;not null;index" json:"changed_at"`
	ActorType  string    `gorm:"type:varchar(30);not null" json:"actor_type"`
	ActorID    string    `gorm:"type:varchar(100)" json:"actor_id"`
	RequestID  string    `gorm:"type:varchar(120)" json:"request_id"`
	BeforeJSON *string   `gorm:"type:text" json:"before_json,omitempty"`
	AfterJSON  *string   `gorm:"type:text" json:"after_json,omitempty"`
}

func (AuditLog) TableName() string { return "audit_logs" }

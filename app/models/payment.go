package models

import "time"

// PaymentStatus is the gateway-facing state of a payment attempt.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "Pending"
	PaymentCompleted PaymentStatus = "Completed"
	PaymentFailed    PaymentStatus = "Failed"
	PaymentCancelled PaymentStatus = "Cancelled"
)

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentCancelled:
		return true
	}
	return false
}

// ManualPaymentStatus is the admin-facing confirmation state. A payment can be
// gateway Completed and still wait for an admin to confirm receipt.
type ManualPaymentStatus string

const (
	ManualPaymentPending   ManualPaymentStatus = "Pending"
	ManualPaymentConfirmed ManualPaymentStatus = "Confirmed"
)

func (s ManualPaymentStatus) IsValid() bool {
	switch s {
	case ManualPaymentPending, ManualPaymentConfirmed:
		return true
	}
	return false
}

const (
	PaymentMethodMpesa = "M-Pesa"

	InstructionChannelWeb = "web"
	InstructionChannelSTK = "stk"
)

// Payment is one payment attempt, either a manual payment request or an
// automated push correlated by checkout_request_id.
type Payment struct {
	ID                        uint                `gorm:"primaryKey" json:"id"`
	SubscriptionID            *uint               `gorm:"index" json:"subscription_id,omitempty"`
	Subscription              *Subscription       `gorm:"foreignKey:SubscriptionID" json:"-"`
	Amount                    float64             `gorm:"not null" json:"amount"`
	MpesaReceipt              string              `gorm:"type:varchar(50)" json:"mpesa_receipt"`
	Status                    PaymentStatus       `gorm:"type:varchar(50);not null;default:'Pending'" json:"status"`
	PaymentStatus             ManualPaymentStatus `gorm:"column:payment_status;type:varchar(20);not null;default:'Pending';index" json:"payment_status"`
	PaymentDate               *time.Time          `gorm:"type:timestamp;default:null" json:"payment_date,omitempty"`
	CheckoutRequestID         *string             `gorm:"type:varchar(100);uniqueIndex:uq_payments_checkout_request_id" json:"checkout_request_id,omitempty"`
	TrackingCode              *string             `gorm:"type:varchar(40);uniqueIndex" json:"tracking_code,omitempty"`
	ReferenceID               *string             `gorm:"type:varchar(80);uniqueIndex" json:"reference_id,omitempty"`
	CustomerName              string              `gorm:"type:varchar(100)" json:"customer_name"`
	CustomerPhone             string              `gorm:"type:varchar(20)" json:"customer_phone"`
	Description               string              `gorm:"type:text" json:"description"`
	InstructionChannel        string              `gorm:"type:varchar(20)" json:"instruction_channel"`
	PaymentMethod             string              `gorm:"type:varchar(30);not null;default:'M-Pesa'" json:"payment_method"`
	AdminTransactionReference string              `gorm:"type:varchar(100)" json:"admin_transaction_reference"`
	AdminNotes                string              `gorm:"type:text" json:"admin_notes"`
	ConfirmedAt               *time.Time          `gorm:"type:timestamp;default:null" json:"confirmed_at,omitempty"`
	CreatedAt                 time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                 time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

func (p *Payment) AuditKey() uint { return p.ID }

// IsConfirmed reports whether an admin confirmed receipt of the money.
func (p *Payment) IsConfirmed() bool {
	return p.PaymentStatus == ManualPaymentConfirmed
}

// IsSettled is true once the payment has been applied or confirmed; receipts
// are only issued for settled payments.
func (p *Payment) IsSettled() bool {
	return p.Status == PaymentCompleted || p.IsConfirmed()
}

// Token returns the best customer-facing lookup token for the payment.
func (p *Payment) Token() string {
	switch {
	case p.TrackingCode != nil && *p.TrackingCode != "":
		return *p.TrackingCode
	case p.ReferenceID != nil && *p.ReferenceID != "":
		return *p.ReferenceID
	case p.CheckoutRequestID != nil:
		return *p.CheckoutRequestID
	}
	return ""
}

// StringPtr returns nil for empty strings so optional unique columns stay NULL.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringValue dereferences an optional string column.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

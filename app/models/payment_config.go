package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultMpesaPaybill      = "174379"
	DefaultMpesaAccountName  = "NestGold Provisions"
	DefaultBankName          = "NestGold Bank"
	DefaultBankAccountName   = "NestGold Provisions"
	DefaultBankAccountNumber = "1234567890"
	DefaultInstructionFooter = "After payment, keep your receipt and share it with admin via WhatsApp/SMS/email."
)

// PaymentConfig holds the admin-editable manual payment details. There is a
// single row.
type PaymentConfig struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	MpesaPaybill       string    `gorm:"type:varchar(40);not null" json:"mpesa_paybill" validate:"required,max=40"`
	MpesaAccountName   string    `gorm:"type:varchar(100)" json:"mpesa_account_name" validate:"max=100"`
	MpesaAccountNumber string    `gorm:"type:varchar(80)" json:"mpesa_account_number" validate:"max=80"`
	BankName           string    `gorm:"type:varchar(100);not null" json:"bank_name" validate:"required,max=100"`
	BankAccountName    string    `gorm:"type:varchar(100);not null" json:"bank_account_name" validate:"required,max=100"`
	BankAccountNumber  string    `gorm:"type:varchar(80);not null" json:"bank_account_number" validate:"required,max=80"`
	InstructionsFooter string    `gorm:"type:text" json:"instructions_footer" validate:"max=2000"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PaymentConfig) TableName() string { return "payment_configs" }

func (c *PaymentConfig) AuditKey() uint { return c.ID }

// DefaultPaymentConfig is used until an admin saves a config row.
func DefaultPaymentConfig() *PaymentConfig {
	return &PaymentConfig{
		MpesaPaybill:       DefaultMpesaPaybill,
		MpesaAccountName:   DefaultMpesaAccountName,
		BankName:           DefaultBankName,
		BankAccountName:    DefaultBankAccountName,
		BankAccountNumber:  DefaultBankAccountNumber,
		InstructionsFooter: DefaultInstructionFooter,
	}
}

// PaymentInstructions are the paybill details shown to a customer for one
// payment request.
type PaymentInstructions struct {
	Amount        float64 `json:"amount"`
	ReferenceID   string  `json:"reference_id"`
	Paybill       string  `json:"paybill"`
	AccountName   string  `json:"account_name"`
	AccountNumber string  `json:"account_number"`
	Footer        string  `json:"footer"`
	Text          string  `json:"text"`
}

// Instructions builds the manual payment instructions. The account number
// falls back to the reference id so each payment can be matched.
func (c *PaymentConfig) Instructions(referenceID string, amount float64, customerName string) PaymentInstructions {
	if c == nil {
		c = DefaultPaymentConfig()
	}
	in := PaymentInstructions{
		Amount:        amount,
		ReferenceID:   referenceID,
		Paybill:       firstNonEmpty(c.MpesaPaybill, DefaultMpesaPaybill),
		AccountName:   firstNonEmpty(c.MpesaAccountName, DefaultMpesaAccountName),
		AccountNumber: firstNonEmpty(c.MpesaAccountNumber, referenceID),
		Footer:        firstNonEmpty(c.InstructionsFooter, DefaultInstructionFooter),
	}

	namePart := ""
	if strings.TrimSpace(customerName) != "" {
		namePart = " for " + strings.TrimSpace(customerName)
	}
	in.Text = fmt.Sprintf("Please complete your payment%s.\n"+
		"Amount: KES %.2f\n"+
		"Reference ID: %s\n\n"+
		"M-Pesa Paybill Details\n"+
		"Business Number: %s\n"+
		"Account Name: %s\n"+
		"Account Number: %s\n"+
		"Use Reference ID in your payment note: %s\n\n"+
		"%s",
		namePart, amount, referenceID, in.Paybill, in.AccountName, in.AccountNumber, referenceID, in.Footer)
	return in
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

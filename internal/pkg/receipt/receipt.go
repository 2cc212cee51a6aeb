// Package receipt renders payment receipts and payment slips as PDF.
package receipt

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/nestgold/nestgold/app/models"
	"github.com/nestgold/nestgold/internal/pkg/billing"
)

// Kind tells a receipt from a payment slip.
type Kind string

const (
	KindReceipt Kind = "receipt"
	KindSlip    Kind = "payment_slip"
)

var (
	colorPrimary   = [3]int{191, 131, 0}
	colorTextDark  = [3]int{44, 62, 80}
	colorTextMuted = [3]int{127, 140, 141}
	colorRule      = [3]int{220, 220, 220}
)

// Document is the content of one PDF.
type Document struct {
	Kind     Kind
	Title    string
	Filename string
	Lines    []Line
	Footer   string
}

// Line is one label/value row. Empty labels render as a blank spacer.
type Line struct {
	Label string
	Value string
}

// Build lays out a receipt for settled payments and a payment slip with the
// paybill details for everything else.
func Build(tr *billing.TrackResult, now time.Time) Document {
	p := tr.Payment
	ref := firstNonEmpty(p.AdminTransactionReference, models.StringValue(p.ReferenceID), models.StringValue(p.CheckoutRequestID), "-")
	customer, phone := p.CustomerName, p.CustomerPhone
	if tr.Subscription != nil {
		customer = firstNonEmpty(customer, tr.Subscription.Name)
		phone = firstNonEmpty(phone, tr.Subscription.Phone)
	}

	common := []Line{
		{Label: "Payment ID", Value: fmt.Sprint(p.ID)},
		{Label: "Reference", Value: ref},
		{Label: "Tracking ID", Value: firstNonEmpty(p.Token(), "-")},
		{Label: "Customer", Value: firstNonEmpty(customer, "-")},
		{Label: "Phone", Value: firstNonEmpty(phone, "-")},
		{Label: "Amount (KES)", Value: fmt.Sprintf("%.2f", p.Amount)},
		{Label: "Payment Status", Value: tr.PaymentStatusLabel},
	}

	if tr.ReceiptAvailable {
		paidAt := "-"
		switch {
		case p.ConfirmedAt != nil:
			paidAt = p.ConfirmedAt.Format("2006-01-02 15:04:05")
		case p.PaymentDate != nil:
			paidAt = p.PaymentDate.Format("2006-01-02 15:04:05")
		}
		lines := append([]Line{{Label: "Receipt Date", Value: now.Format("2006-01-02 15:04:05")}}, common...)
		lines = append(lines, Line{Label: "Confirmed At", Value: paidAt})
		if p.MpesaReceipt != "" {
			lines = append(lines, Line{Label: "M-Pesa Receipt", Value: p.MpesaReceipt})
		}
		planName, remaining := "-", 0
		if tr.Plan != nil {
			planName = tr.Plan.Name
		}
		if tr.Subscription != nil {
			remaining = tr.Subscription.TraysRemaining
		}
		lines = append(lines,
			Line{Label: "Plan", Value: planName},
			Line{Label: "Trays Remaining", Value: fmt.Sprint(remaining)},
		)
		return Document{
			Kind:     KindReceipt,
			Title:    "NESTGOLD PROVISIONS - RECEIPT",
			Filename: fmt.Sprintf("receipt_%d.pdf", p.ID),
			Lines:    lines,
			Footer:   "Thank you for choosing NestGold Provisions.",
		}
	}

	lines := append([]Line{{Label: "Generated", Value: now.Format("2006-01-02 15:04:05")}}, common...)
	if in := tr.Instructions; in != nil {
		lines = append(lines,
			Line{},
			Line{Label: "M-Pesa Paybill", Value: in.Paybill},
			Line{Label: "Account Name", Value: in.AccountName},
			Line{Label: "Account Number", Value: in.AccountNumber},
			Line{Label: "Payment Note Reference", Value: in.ReferenceID},
		)
	}
	return Document{
		Kind:     KindSlip,
		Title:    "NESTGOLD PROVISIONS - PAYMENT SLIP",
		Filename: fmt.Sprintf("payment_slip_%d.pdf", p.ID),
		Lines:    lines,
		Footer:   "Keep this slip to recover your tracking details any time.",
	}
}

// Render writes the document as a single A5 page.
func Render(doc Document) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A5", "")
	pdf.SetMargins(12, 14, 12)
	pdf.SetAutoPageBreak(true, 14)
	pdf.AddPage()

	pageWidth, _ := pdf.GetPageSize()
	pdf.SetFillColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.Rect(0, 0, pageWidth, 6, "F")

	pdf.SetY(14)
	pdf.SetFont("Arial", "B", 14)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 9, doc.Title, "", 1, "L", false, 0, "")

	pdf.SetDrawColor(colorRule[0], colorRule[1], colorRule[2])
	pdf.Line(12, pdf.GetY()+1, pageWidth-12, pdf.GetY()+1)
	pdf.Ln(5)

	for _, l := range doc.Lines {
		if l.Label == "" {
			pdf.Ln(4)
			continue
		}
		pdf.SetFont("Arial", "", 9)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.CellFormat(48, 6, l.Label, "", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "B", 10)
		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
		pdf.CellFormat(0, 6, l.Value, "", 1, "L", false, 0, "")
	}

	if doc.Footer != "" {
		pdf.Ln(6)
		pdf.SetFont("Arial", "I", 9)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.MultiCell(0, 5, doc.Footer, "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("PDF output error: %w", err)
	}
	return buf.Bytes(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

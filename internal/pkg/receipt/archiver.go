package receipt

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/nestgold/nestgold/internal/pkg/billing"
)

// Tracker looks up a payment by its public token.
type Tracker interface {
	TrackPayment(ctx context.Context, token string) (*billing.TrackResult, error)
}

// Uploader stores a rendered document and returns its object key.
type Uploader interface {
	Upload(ctx context.Context, fileName string, body []byte, contentType string) (string, error)
}

// Archiver renders receipts for settled payments and stores them.
type Archiver struct {
	tracker  Tracker
	uploader Uploader
	now      func() time.Time
}

func NewArchiver(tracker Tracker, uploader Uploader) *Archiver {
	return &Archiver{tracker: tracker, uploader: uploader, now: time.Now}
}

// ArchiveReceipt uploads the receipt for token. Unsettled payments are skipped
// and report an empty key.
func (a *Archiver) ArchiveReceipt(ctx context.Context, token string) (string, error) {
	tr, err := a.tracker.TrackPayment(ctx, token)
	if err != nil {
		return "", fmt.Errorf("lookup payment %s: %w", token, err)
	}
	if !tr.ReceiptAvailable {
		log.Infof("[Receipt] Payment %d is not settled, nothing to archive", tr.Payment.ID)
		return "", nil
	}

	doc := Build(tr, a.now().UTC())
	body, err := Render(doc)
	if err != nil {
		return "", err
	}
	return a.uploader.Upload(ctx, doc.Filename, body, "application/pdf")
}

package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// SMSDeliverer sends one text message synchronously.
type SMSDeliverer interface {
	Deliver(ctx context.Context, to, message, kind string) error
}

// ReceiptArchiver renders and stores the receipt of a settled payment.
type ReceiptArchiver interface {
	ArchiveReceipt(ctx context.Context, token string) (string, error)
}

// Processors holds the handlers the workers dispatch to. A nil handler
// fails jobs of its type so they can be retried once it is configured.
type Processors struct {
	SMS      SMSDeliverer
	Receipts ReceiptArchiver
}

const jobTimeout = 2 * time.Minute

// Configure installs the job handlers. Call before Start.
func (q *Queue) Configure(p Processors) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processors = p
}

func (q *Queue) dispatch(ctx context.Context, job *Job) error {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	q.mu.Lock()
	p := q.processors
	q.mu.Unlock()

	switch job.Type {
	case JobTypeSendSMS:
		return processSendSMSJob(ctx, p.SMS, job)
	case JobTypeArchiveReceipt:
		return processArchiveReceiptJob(ctx, p.Receipts, job)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

func processSendSMSJob(ctx context.Context, sms SMSDeliverer, job *Job) error {
	if sms == nil {
		return errors.New("no SMS processor configured")
	}
	payload, err := SendSMSJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if strings.TrimSpace(payload.To) == "" || strings.TrimSpace(payload.Message) == "" {
		return errors.New("sms job needs a recipient and a message")
	}
	return sms.Deliver(ctx, payload.To, payload.Message, payload.Kind)
}

func processArchiveReceiptJob(ctx context.Context, archiver ReceiptArchiver, job *Job) error {
	if archiver == nil {
		return errors.New("no receipt archiver configured")
	}
	payload, err := ArchiveReceiptJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if strings.TrimSpace(payload.Token) == "" {
		return errors.New("archive job needs a payment token")
	}
	key, err := archiver.ArchiveReceipt(ctx, payload.Token)
	if err != nil {
		return err
	}
	if key == "" {
		log.Infof("[JobQueue] Receipt for %s not archived: payment not settled", payload.Token)
		return nil
	}
	log.Infof("[JobQueue] Receipt for %s archived at %s", payload.Token, key)
	return nil
}

// EnqueueSMS queues an outbound text message.
func (q *Queue) EnqueueSMS(to, message, kind string) error {
	if !q.IsRunning() {
		return ErrQueueNotRunning
	}
	_, err := q.EnqueueJob(JobTypeSendSMS, SendSMSJobPayload{To: to, Message: message, Kind: kind}.ToMap())
	return err
}

// EnqueueReceiptArchive queues receipt archival for a payment token.
func (q *Queue) EnqueueReceiptArchive(token string) error {
	if !q.IsRunning() {
		return ErrQueueNotRunning
	}
	_, err := q.EnqueueJob(JobTypeArchiveReceipt, ArchiveReceiptJobPayload{Token: token}.ToMap())
	return err
}

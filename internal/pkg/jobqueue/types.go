package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType selects the processor a job is dispatched to.
type JobType string

const (
	JobTypeSendSMS        JobType = "send_sms"
	JobTypeArchiveReceipt JobType = "archive_receipt"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job is the JSON body stored under JobKeyPrefix+ID.
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// SendSMSJobPayload is one outbound text message.
type SendSMSJobPayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
	Kind    string `json:"kind"` // notification kind, for logs and metrics
}

func (p SendSMSJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"to":      p.To,
		"message": p.Message,
		"kind":    p.Kind,
	}
}

func SendSMSJobPayloadFromMap(data map[string]interface{}) (*SendSMSJobPayload, error) {
	return decodePayload[SendSMSJobPayload](data)
}

// ArchiveReceiptJobPayload names the payment whose receipt should be stored.
type ArchiveReceiptJobPayload struct {
	Token string `json:"token"` // tracking code, reference id or checkout id
}

func (p ArchiveReceiptJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"token": p.Token,
	}
}

func ArchiveReceiptJobPayloadFromMap(data map[string]interface{}) (*ArchiveReceiptJobPayload, error) {
	return decodePayload[ArchiveReceiptJobPayload](data)
}

// decodePayload round-trips the generic payload map through JSON, which is
// how it was stored in Redis in the first place.
func decodePayload[T any](data map[string]interface{}) (*T, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var payload T
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed records the error and counts the attempt.
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}

package jobqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobType(t *testing.T) {
	tests := []struct {
		name     string
		jobType  JobType
		expected string
	}{
		{"Send SMS", JobTypeSendSMS, "send_sms"},
		{"Archive Receipt", JobTypeArchiveReceipt, "archive_receipt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.jobType))
		})
	}
}

func TestJobStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   JobStatus
		expected string
	}{
		{"Pending", JobStatusPending, "pending"},
		{"Processing", JobStatusProcessing, "processing"},
		{"Completed", JobStatusCompleted, "completed"},
		{"Failed", JobStatusFailed, "failed"},
		{"Retrying", JobStatusRetrying, "retrying"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.status))
		})
	}
}

func TestJob_IsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		job       *Job
		retryable bool
	}{
		{
			name:      "Failed job with retries remaining",
			job:       &Job{Status: JobStatusFailed, RetryCount: 1, MaxRetries: 3},
			retryable: true,
		},
		{
			name:      "Failed job with no retries remaining",
			job:       &Job{Status: JobStatusFailed, RetryCount: 3, MaxRetries: 3},
			retryable: false,
		},
		{
			name:      "Completed job",
			job:       &Job{Status: JobStatusCompleted, RetryCount: 1, MaxRetries: 3},
			retryable: false,
		},
		{
			name:      "Pending job",
			job:       &Job{Status: JobStatusPending, MaxRetries: 3},
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.job.IsRetryable())
		})
	}
}

func TestJob_StatusTransitions(t *testing.T) {
	job := &Job{Status: JobStatusPending, MaxRetries: 3}

	beforeTime := time.Now()
	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	require.NotNil(t, job.ProcessedAt)
	assert.False(t, job.ProcessedAt.Before(beforeTime))

	job.MarkAsFailed("gateway timeout")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "gateway timeout", job.ErrorMsg)
	assert.Equal(t, 1, job.RetryCount)
	assert.True(t, job.IsRetryable())

	job.MarkAsRetrying()
	assert.Equal(t, JobStatusRetrying, job.Status)

	job.MarkAsCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)
	assert.Empty(t, job.ErrorMsg)
	assert.False(t, job.UpdatedAt.Before(beforeTime))
}

func TestSendSMSJobPayloadFromMap(t *testing.T) {
	data := SendSMSJobPayload{To: "+254712345678", Message: "Welcome", Kind: "customer_welcome"}.ToMap()

	payload, err := SendSMSJobPayloadFromMap(data)
	require.NoError(t, err)
	assert.Equal(t, "+254712345678", payload.To)
	assert.Equal(t, "Welcome", payload.Message)
	assert.Equal(t, "customer_welcome", payload.Kind)
}

func TestArchiveReceiptJobPayloadFromMap(t *testing.T) {
	payload, err := ArchiveReceiptJobPayloadFromMap(map[string]interface{}{"token": "NG-0A1B2C3D"})
	require.NoError(t, err)
	assert.Equal(t, "NG-0A1B2C3D", payload.Token)
}

func TestPayloadFromMapErrors(t *testing.T) {
	invalidData := map[string]interface{}{
		"to": make(chan int), // channels can't be marshaled to JSON
	}

	sms, err := SendSMSJobPayloadFromMap(invalidData)
	assert.Error(t, err)
	assert.Nil(t, sms)

	archive, err := ArchiveReceiptJobPayloadFromMap(map[string]interface{}{"token": 42})
	assert.Error(t, err)
	assert.Nil(t, archive)
}

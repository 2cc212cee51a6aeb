package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nestgold/nestgold/internal/pkg/env"
)

const (
	defaultATBaseURL = "https://api.africastalking.com"
	sandboxATBaseURL = "https://api.sandbox.africastalking.com"
)

// ErrSMSDisabled is returned when no SMS credentials are configured.
var ErrSMSDisabled = errors.New("sms is not configured")

// Sender delivers one text message.
type Sender interface {
	Send(ctx context.Context, to, message string) error
}

// AfricasTalkingClient sends SMS through the Africa's Talking messaging API.
type AfricasTalkingClient struct {
	Username string
	APIKey   string
	SenderID string
	BaseURL  string

	HTTPClient *http.Client
}

type atRecipient struct {
	StatusCode int    `json:"statusCode"`
	Number     string `json:"number"`
	Status     string `json:"status"`
	Cost       string `json:"cost"`
	MessageID  string `json:"messageId"`
}

type atResponse struct {
	SMSMessageData struct {
		Message    string        `json:"Message"`
		Recipients []atRecipient `json:"Recipients"`
	} `json:"SMSMessageData"`
}

func NewAfricasTalkingClientFromEnv() *AfricasTalkingClient {
	username := strings.TrimSpace(env.GetEnv("AT_USERNAME", ""))
	base := defaultATBaseURL
	if username == "sandbox" {
		base = sandboxATBaseURL
	}
	return &AfricasTalkingClient{
		Username: username,
		APIKey:   strings.TrimSpace(env.GetEnv("AT_API_KEY", "")),
		SenderID: strings.TrimSpace(env.GetEnv("AT_SENDER_ID", "")),
		BaseURL:  strings.TrimRight(env.GetEnv("AT_BASE_URL", base), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *AfricasTalkingClient) Configured() bool {
	return c.Username != "" && c.APIKey != ""
}

// Send posts one message. Recipient status codes 100-102 count as accepted.
func (c *AfricasTalkingClient) Send(ctx context.Context, to, message string) error {
	if !c.Configured() {
		return ErrSMSDisabled
	}

	form := url.Values{}
	form.Set("username", c.Username)
	form.Set("to", to)
	form.Set("message", message)
	if c.SenderID != "" {
		form.Set("from", c.SenderID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/version1/messaging", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("apiKey", c.APIKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("africastalking request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out atResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("decode africastalking response: %w", err)
	}
	if len(out.SMSMessageData.Recipients) == 0 {
		return fmt.Errorf("africastalking accepted no recipients: %s", out.SMSMessageData.Message)
	}
	for _, r := range out.SMSMessageData.Recipients {
		if r.StatusCode < 100 || r.StatusCode > 102 {
			return fmt.Errorf("sms to %s rejected: %s (%d)", r.Number, r.Status, r.StatusCode)
		}
	}
	return nil
}

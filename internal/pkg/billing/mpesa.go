package billing

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nestgold/nestgold/internal/pkg/env"
)

const defaultDarajaBaseURL = "https://sandbox.safaricom.co.ke"

// ProviderError is a rejection reported by the payment provider.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider rejected request (code %d): %s", e.Code, e.Message)
}

// DarajaClient starts M-Pesa STK pushes through Safaricom's Daraja API.
type DarajaClient struct {
	ConsumerKey    string
	ConsumerSecret string
	Passkey        string
	ShortCode      string
	CallbackURL    string
	BaseURL        string

	HTTPClient *http.Client

	now func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

type darajaTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

func NewDarajaClientFromEnv() *DarajaClient {
	return &DarajaClient{
		ConsumerKey:    strings.TrimSpace(env.GetEnv("MPESA_CONSUMER_KEY", "")),
		ConsumerSecret: strings.TrimSpace(env.GetEnv("MPESA_CONSUMER_SECRET", "")),
		Passkey:        strings.TrimSpace(env.GetEnv("MPESA_PASSKEY", "")),
		ShortCode:      strings.TrimSpace(env.GetEnv("MPESA_SHORTCODE", "174379")),
		CallbackURL:    strings.TrimSpace(env.GetEnv("MPESA_CALLBACK_URL", "")),
		BaseURL:        strings.TrimRight(strings.TrimSpace(env.GetEnv("MPESA_BASE_URL", defaultDarajaBaseURL)), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Configured reports whether every credential needed for a push is present.
func (c *DarajaClient) Configured() bool {
	return c.ConsumerKey != "" && c.ConsumerSecret != "" && c.Passkey != "" &&
		c.ShortCode != "" && c.CallbackURL != ""
}

func (c *DarajaClient) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// Password is base64(shortcode + passkey + timestamp).
func (c *DarajaClient) Password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.ShortCode + c.Passkey + timestamp))
}

func (c *DarajaClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.clock().Before(c.tokenExpiry) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.ConsumerKey, c.ConsumerSecret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("daraja token request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out darajaTokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return "", errors.New("daraja token response returned empty access_token")
	}
	ttl, err := strconv.Atoi(strings.TrimSpace(out.ExpiresIn))
	if err != nil || ttl <= 0 {
		ttl = 3599
	}
	c.token = out.AccessToken
	// Refresh a minute early.
	c.tokenExpiry = c.clock().Add(time.Duration(ttl)*time.Second - time.Minute)
	return c.token, nil
}

// Initiate sends an STK push and returns the CheckoutRequestID.
func (c *DarajaClient) Initiate(ctx context.Context, phone string, amount float64, referenceID, customerName, description string) (string, error) {
	if !c.Configured() {
		return "", ErrInitiationDisabled
	}
	token, err := c.accessToken(ctx)
	if err != nil {
		return "", err
	}

	timestamp := c.clock().In(nairobi).Format("20060102150405")
	if strings.TrimSpace(description) == "" {
		description = "NestGold subscription - " + customerName
	}
	if len(description) > 100 {
		description = description[:100]
	}
	payload := stkPushRequest{
		BusinessShortCode: c.ShortCode,
		Password:          c.Password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            int64(math.Ceil(amount)),
		PartyA:            phone,
		PartyB:            c.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.CallbackURL,
		AccountReference:  referenceID,
		TransactionDesc:   description,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/mpesa/stkpush/v1/processrequest", strings.NewReader(string(raw)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var out stkPushResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("daraja stk push failed: status=%d body=%s", resp.StatusCode, string(body))
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 && out.ResponseCode == "0" && out.CheckoutRequestID != "" {
		return out.CheckoutRequestID, nil
	}

	msg := firstNonBlank(out.ErrorMessage, out.ResponseDescription, "STK push failed")
	code, convErr := strconv.Atoi(strings.TrimSpace(out.ResponseCode))
	if convErr != nil {
		code = -1
	}
	return "", &ProviderError{Code: code, Message: msg}
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

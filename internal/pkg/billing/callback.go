package billing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var nairobi = time.FixedZone("EAT", 3*60*60)

type stkCallbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

type stkCallbackPayload struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string      `json:"MerchantRequestID"`
			CheckoutRequestID string      `json:"CheckoutRequestID"`
			ResultCode        json.Number `json:"ResultCode"`
			ResultDesc        string      `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []stkCallbackItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseSTKCallback turns an M-Pesa STK push callback body into a PaymentResult.
func ParseSTKCallback(payload []byte) (*PaymentResult, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, errors.New("empty callback payload")
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var raw stkCallbackPayload
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode stk callback: %w", err)
	}
	cb := raw.Body.StkCallback

	out := &PaymentResult{
		CorrelationID: strings.TrimSpace(cb.CheckoutRequestID),
		ResultDesc:    strings.TrimSpace(cb.ResultDesc),
	}
	if out.CorrelationID == "" {
		return nil, errors.New("stk callback missing CheckoutRequestID")
	}
	codeText := strings.TrimSpace(cb.ResultCode.String())
	if codeText == "" {
		return nil, errors.New("stk callback missing ResultCode")
	}
	code, err := strconv.Atoi(codeText)
	if err != nil {
		return nil, fmt.Errorf("stk callback has invalid ResultCode %q", codeText)
	}
	out.ResultCode = code

	if cb.CallbackMetadata == nil {
		return out, nil
	}
	for _, item := range cb.CallbackMetadata.Item {
		value := itemString(item.Value)
		switch item.Name {
		case "Amount":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				out.Amount = f
			}
		case "MpesaReceiptNumber":
			out.ReceiptReference = value
		case "PhoneNumber":
			out.PhoneNumber = value
		case "TransactionDate":
			if t, err := time.ParseInLocation("20060102150405", value, nairobi); err == nil {
				out.TransactionDate = &t
			}
		}
	}
	return out, nil
}

// itemString renders a metadata value that may be a JSON string or number.
func itemString(v json.RawMessage) string {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(v))
}

package models

import "strings"

// DefaultCancellationCodes are provider result codes that mean the customer
// backed out rather than the payment failing. 1032 is M-Pesa's "request
// cancelled by user".
var DefaultCancellationCodes = []int{1032}

// FailureClassifier decides whether a failed payment result is a cancellation.
type FailureClassifier struct {
	cancelCodes map[int]struct{}
}

func NewFailureClassifier(cancelCodes ...int) FailureClassifier {
	codes := make(map[int]struct{}, len(cancelCodes))
	for _, c := range cancelCodes {
		codes[c] = struct{}{}
	}
	return FailureClassifier{cancelCodes: codes}
}

// IsCancellation is true when the code is a known cancellation code or the
// description mentions "cancel" in any case.
func (c FailureClassifier) IsCancellation(resultCode int, resultDesc string) bool {
	if _, ok := c.cancelCodes[resultCode]; ok {
		return true
	}
	return strings.Contains(strings.ToLower(resultDesc), "cancel")
}

// PaymentStatusFor maps a failed result onto the payment's gateway status.
func (c FailureClassifier) PaymentStatusFor(resultCode int, resultDesc string) PaymentStatus {
	if c.IsCancellation(resultCode, resultDesc) {
		return PaymentCancelled
	}
	return PaymentFailed
}

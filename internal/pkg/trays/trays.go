// Package trays keeps a subscription's prepaid tray balance. Confirmed
// payments credit a month of trays, deliveries debit one, and deleting a
// confirmed payment reverses its credit.
package trays

import (
	"errors"

	"github.com/nestgold/nestgold/app/models"
)

// ErrNoTraysRemaining is returned when a delivery is recorded against an empty
// balance. Callers surface it as a warning; nothing has been changed.
var ErrNoTraysRemaining = errors.New("no trays remaining for this subscription")

// Credit adds one billing cycle of trays to both counters and returns the
// amount credited.
func Credit(sub *models.Subscription, plan *models.SubscriptionPlan) int {
	n := plan.MonthlyTrays()
	sub.TraysAllocatedTotal += n
	sub.TraysRemaining += n
	return n
}

// Debit takes one tray for a completed delivery.
func Debit(sub *models.Subscription) error {
	if sub.TraysRemaining <= 0 {
		return ErrNoTraysRemaining
	}
	sub.TraysRemaining--
	if sub.TraysRemaining == 0 {
		sub.DeliveryStatus = models.DeliveryCompleted
	} else {
		sub.DeliveryStatus = models.DeliveryInProgress
	}
	return nil
}

// Reverse removes one billing cycle of trays, never going below zero.
func Reverse(sub *models.Subscription, plan *models.SubscriptionPlan) {
	n := plan.MonthlyTrays()
	sub.TraysAllocatedTotal = floor(sub.TraysAllocatedTotal - n)
	sub.TraysRemaining = floor(sub.TraysRemaining - n)
	if sub.TraysRemaining > sub.TraysAllocatedTotal {
		sub.TraysRemaining = sub.TraysAllocatedTotal
	}
}

func floor(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

package notify

import (
	"fmt"

	"github.com/nestgold/nestgold/app/models"
)

func planName(sub *models.Subscription) string {
	if sub.Plan == nil {
		return "-"
	}
	return sub.Plan.Name
}

// AdminNewSubscription announces a paid subscription to the admin.
func AdminNewSubscription(sub *models.Subscription) string {
	trays := 0
	if sub.Plan != nil {
		trays = sub.Plan.TraysPerWeek
	}
	return fmt.Sprintf("NestGold Provisions: New Paid Subscription!\n"+
		"Customer: %s\n"+
		"Plan: %s\n"+
		"Trays/week: %d\n"+
		"Location: %s\n"+
		"Phone: %s",
		sub.Name, planName(sub), trays, sub.Location, sub.Phone)
}

// CustomerWelcome confirms an active plan to the customer.
func CustomerWelcome(sub *models.Subscription) string {
	return fmt.Sprintf("Welcome to NestGold Provisions!\n"+
		"Your %s plan is active.\n"+
		"First delivery: %s\n"+
		"Weekly on %ss.\n"+
		"Questions? WhatsApp us!",
		planName(sub), sub.NextDeliveryDate.Format("Monday, 02 Jan"), sub.PreferredDeliveryDay)
}

// AdminPaymentRequest tells the admin a customer has been given payment details.
func AdminPaymentRequest(sub *models.Subscription, p *models.Payment) string {
	amount, ref, tracking := 0.0, "-", "-"
	if p != nil {
		amount = p.Amount
		if r := models.StringValue(p.ReferenceID); r != "" {
			ref = r
		} else if r := models.StringValue(p.CheckoutRequestID); r != "" {
			ref = r
		}
		if c := models.StringValue(p.TrackingCode); c != "" {
			tracking = c
		}
	}
	return fmt.Sprintf("NestGold: New payment request started.\n"+
		"Customer: %s\n"+
		"Phone: %s\n"+
		"Plan: %s\n"+
		"Amount: KES %.2f\n"+
		"Reference: %s\n"+
		"Tracking: %s",
		sub.Name, sub.Phone, planName(sub), amount, ref, tracking)
}

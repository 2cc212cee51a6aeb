package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/nestgold/nestgold/internal/pkg/billing"
)

// SubscriptionController serves the public signup and status endpoints.
type SubscriptionController struct {
	svc *billing.Service
}

func NewSubscriptionController(svc *billing.Service) *SubscriptionController {
	return &SubscriptionController{svc: svc}
}

// HandleListPlans returns the plans customers can pick from.
func (sc *SubscriptionController) HandleListPlans(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	plans, err := sc.svc.ListPlans(ctx, true)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"plans": plans})
}

// HandleSubscribe creates or renews a subscription and starts payment.
func (sc *SubscriptionController) HandleSubscribe(c *fiber.Ctx) error {
	var req billing.SubscribeRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := sc.svc.Subscribe(ctx, req)
	if errors.Is(err, billing.ErrInitiationFailed) && res != nil {
		// The subscription row exists and carries the failure; the customer
		// can retry with the same details.
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":        "payment_failed",
			"message":      "We could not start the M-Pesa payment. Please try again.",
			"subscription": res.Subscription,
		})
	}
	if err != nil {
		return respondError(c, err)
	}

	status := fiber.StatusCreated
	if res.Reused {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(res)
}

// HandleSubscriptionStatus reports the state of a payment attempt by its
// checkout request id, for clients polling after an STK push.
func (sc *SubscriptionController) HandleSubscriptionStatus(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	tr, err := sc.svc.TrackPayment(ctx, c.Params("checkoutID"))
	if err != nil {
		return respondError(c, err)
	}

	out := fiber.Map{
		"checkout_request_id": tr.Payment.CheckoutRequestID,
		"payment_status":      tr.Payment.Status,
		"payment_label":       tr.PaymentStatusLabel,
	}
	if tr.Subscription != nil {
		out["subscription_id"] = tr.Subscription.ID
		out["subscription_status"] = tr.EffectiveStatus
		out["trays_remaining"] = tr.Subscription.TraysRemaining
		out["current_period_end"] = tr.Subscription.CurrentPeriodEnd
	}
	return c.JSON(out)
}

// HandleFeedback stores a public rating.
func (sc *SubscriptionController) HandleFeedback(c *fiber.Ctx) error {
	var in billing.FeedbackInput
	if err := bindJSON(c, &in); err != nil {
		return respondError(c, err)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	fb, err := sc.svc.SubmitFeedback(ctx, in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"feedback": fb, "message": "Thank you for your feedback!"})
}

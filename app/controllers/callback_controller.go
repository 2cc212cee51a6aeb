package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/nestgold/nestgold/internal/pkg/billing"
)

// CallbackController receives M-Pesa STK results.
type CallbackController struct {
	svc    *billing.Service
	token  string
	secret string
}

// NewCallbackController creates the controller. An empty token accepts every
// caller; an empty secret skips the signature check.
func NewCallbackController(svc *billing.Service, token, secret string) *CallbackController {
	return &CallbackController{svc: svc, token: token, secret: secret}
}

// HandleCallback stores and reconciles a provider callback. Authenticated
// callers are always acknowledged so the provider stops redelivering;
// processing errors are logged and the raw event stays in payment_events.
func (cc *CallbackController) HandleCallback(c *fiber.Ctx) error {
	provided := c.Query("token")
	if provided == "" {
		provided = c.Get("X-Callback-Token")
	}
	if !billing.VerifyCallbackToken(provided, cc.token) {
		log.Warnf("[Billing] rejected callback from %s: bad token", c.IP())
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "invalid callback token"})
	}

	// The request body is reused by fasthttp after the handler returns.
	payload := append([]byte(nil), c.Body()...)

	if cc.secret != "" && !billing.VerifyCallbackSignature(payload, c.Get("X-Signature"), cc.secret) {
		log.Warnf("[Billing] rejected callback from %s: bad signature", c.IP())
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "invalid callback signature"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	out, err := cc.svc.ProcessCallback(ctx, payload)
	switch {
	case err != nil:
		log.Errorf("[Billing] callback processing failed: %v", err)
	case out != nil && out.Payment != nil:
		log.Infof("[Billing] callback processed: payment %d -> %s (applied=%t)", out.Payment.ID, out.Payment.Status, out.Transition.Applied)
	}

	return c.JSON(fiber.Map{"ResultCode": 0, "ResultDesc": "Accepted"})
}
